// Package dataability manages data abilities: provider abilities that are
// acquired by URI, shared by many clients and kept loaded while any
// client holds them.
package dataability

import (
	"fmt"
	"time"

	"github.com/GriffinCanCode/AgentOS/framework/internal/domain/ability"
	"github.com/GriffinCanCode/AgentOS/framework/internal/ipc"
)

// ClientInfo is one acquisition. The same client may appear many times;
// each release removes one entry.
type ClientInfo struct {
	Client   ipc.RemoteObject
	TryBind  bool
	IsSystem bool
}

// Record is a data ability as seen by the Manager. All fields are guarded
// by the Manager's mutex.
type Record struct {
	request   *ability.Request
	token     *ability.Token
	state     ability.State
	scheduler ability.Scheduler
	clients   []ClientInfo
	loadedAt  time.Time
}

func newRecord(req *ability.Request) *Record {
	return &Record{request: req, state: ability.Initial}
}

func (r *Record) key() string {
	return r.request.AbilityInfo.BundleName + "." + r.request.AbilityInfo.Name
}

// Token returns the underlying ability token.
func (r *Record) Token() *ability.Token { return r.token }

// Scheduler returns the data ability's scheduler once loaded.
func (r *Record) Scheduler() ability.Scheduler { return r.scheduler }

// ClientCount is the number of acquisitions held.
func (r *Record) ClientCount() int { return len(r.clients) }

func (r *Record) isLoaded() bool {
	return r.state == ability.Active && r.scheduler != nil
}

// addClient appends an entry and reports whether it was the first one.
func (r *Record) addClient(c ClientInfo) bool {
	first := len(r.clients) == 0
	r.clients = append(r.clients, c)
	return first
}

// removeClient drops one entry matching client and isSystem and reports
// whether one was found and whether the list is now empty.
func (r *Record) removeClient(client ipc.RemoteObject, isSystem bool) (found, empty bool) {
	for i, c := range r.clients {
		if c.IsSystem == isSystem && sameObject(c.Client, client) {
			r.clients = append(r.clients[:i], r.clients[i+1:]...)
			return true, len(r.clients) == 0
		}
	}
	return false, len(r.clients) == 0
}

// removeClients drops every entry matching match and reports how many
// went and whether the list is now empty.
func (r *Record) removeClients(match func(ClientInfo) bool) (removed int, empty bool) {
	kept := r.clients[:0]
	for _, c := range r.clients {
		if match(c) {
			removed++
			continue
		}
		kept = append(kept, c)
	}
	r.clients = kept
	return removed, len(r.clients) == 0
}

func sameObject(a, b ipc.RemoteObject) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID() == b.ID()
}

func (r *Record) dump(info *[]string) {
	*info = append(*info,
		fmt.Sprintf("    DataAbilityRecord [%s]", r.key()),
		fmt.Sprintf("      uri [%s]", r.request.AbilityInfo.URI),
		fmt.Sprintf("      state #%s  loaded time [%d]", r.state, r.loadedAt.UnixMilli()),
		fmt.Sprintf("      clients [%d]", len(r.clients)))
	for _, c := range r.clients {
		clientID := ""
		if c.Client != nil {
			clientID = c.Client.ID().String()
		}
		*info = append(*info, fmt.Sprintf("        client [%s]  try bind #%t  system #%t", clientID, c.TryBind, c.IsSystem))
	}
}

package ipc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/id"
)

// ErrDeadObject is returned by requests sent to a dead remote object.
var ErrDeadObject = errors.New("remote object is dead")

// RemoteObject is the sending side of a stub.
type RemoteObject interface {
	ID() id.ObjectID
	SendRequest(ctx context.Context, code uint32, data *Parcel) (*Parcel, error)
	// AddDeathRecipient returns false if the object is already dead.
	AddDeathRecipient(r *DeathRecipient) bool
	RemoveDeathRecipient(r *DeathRecipient) bool
	IsDead() bool
}

// Handler serves requests arriving at a stub.
type Handler interface {
	OnRemoteRequest(ctx context.Context, code uint32, data *Parcel) (*Parcel, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, code uint32, data *Parcel) (*Parcel, error)

func (f HandlerFunc) OnRemoteRequest(ctx context.Context, code uint32, data *Parcel) (*Parcel, error) {
	return f(ctx, code, data)
}

// Resolver maps an object identity back to a callable object.
type Resolver interface {
	Resolve(oid id.ObjectID) (RemoteObject, bool)
}

// DeathRecipient is notified once when the object it watches dies.
// Recipients are compared by pointer.
type DeathRecipient struct {
	fn func(RemoteObject)
}

// NewDeathRecipient wraps fn.
func NewDeathRecipient(fn func(RemoteObject)) *DeathRecipient {
	return &DeathRecipient{fn: fn}
}

// OnRemoteDied invokes the callback.
func (d *DeathRecipient) OnRemoteDied(obj RemoteObject) {
	if d != nil && d.fn != nil {
		d.fn(obj)
	}
}

// deathList tracks recipients and fires them once.
type deathList struct {
	mu         sync.Mutex
	dead       bool
	recipients []*DeathRecipient
}

func (l *deathList) add(r *DeathRecipient) bool {
	if r == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dead {
		return false
	}
	for _, existing := range l.recipients {
		if existing == r {
			return true
		}
	}
	l.recipients = append(l.recipients, r)
	return true
}

func (l *deathList) remove(r *DeathRecipient) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, existing := range l.recipients {
		if existing == r {
			l.recipients = append(l.recipients[:i], l.recipients[i+1:]...)
			return true
		}
	}
	return false
}

func (l *deathList) isDead() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dead
}

// fire marks the object dead and notifies recipients outside the lock.
func (l *deathList) fire(obj RemoteObject) {
	l.mu.Lock()
	if l.dead {
		l.mu.Unlock()
		return
	}
	l.dead = true
	recipients := l.recipients
	l.recipients = nil
	l.mu.Unlock()

	for _, r := range recipients {
		r.OnRemoteDied(obj)
	}
}

// LocalObject is an in-process stub. Requests are round-tripped through
// the wire encoding so the handler never shares the caller's parcel.
type LocalObject struct {
	oid     id.ObjectID
	handler Handler
	deaths  deathList
}

// NewLocalObject creates a stub with a fresh identity.
func NewLocalObject(prefix string, h Handler) *LocalObject {
	return NewLocalObjectWithID(id.NewObjectID(prefix), h)
}

// NewLocalObjectWithID creates a stub with a fixed identity.
func NewLocalObjectWithID(oid id.ObjectID, h Handler) *LocalObject {
	return &LocalObject{oid: oid, handler: h}
}

func (o *LocalObject) ID() id.ObjectID { return o.oid }

func (o *LocalObject) SendRequest(ctx context.Context, code uint32, data *Parcel) (*Parcel, error) {
	if o.deaths.isDead() {
		return nil, ErrDeadObject
	}
	if data == nil {
		data = NewParcel()
	}
	in, err := roundTrip(data)
	if err != nil {
		return nil, err
	}
	reply, err := o.handler.OnRemoteRequest(ctx, code, in)
	if err != nil {
		return nil, err
	}
	if reply == nil {
		return NewParcel(), nil
	}
	return roundTrip(reply)
}

func (o *LocalObject) AddDeathRecipient(r *DeathRecipient) bool    { return o.deaths.add(r) }
func (o *LocalObject) RemoveDeathRecipient(r *DeathRecipient) bool { return o.deaths.remove(r) }
func (o *LocalObject) IsDead() bool                                { return o.deaths.isDead() }

// Kill marks the object dead and notifies its recipients.
func (o *LocalObject) Kill() {
	o.deaths.fire(o)
}

func roundTrip(p *Parcel) (*Parcel, error) {
	b, err := p.Marshal()
	if err != nil {
		return nil, fmt.Errorf("encode parcel: %w", err)
	}
	return Unmarshal(b)
}

// Registry resolves in-process objects by identity.
type Registry struct {
	mu      sync.RWMutex
	objects map[id.ObjectID]RemoteObject
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{objects: make(map[id.ObjectID]RemoteObject)}
}

// Register adds obj, replacing any object with the same identity.
func (r *Registry) Register(obj RemoteObject) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects[obj.ID()] = obj
}

// Unregister removes an identity.
func (r *Registry) Unregister(oid id.ObjectID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.objects, oid)
}

func (r *Registry) Resolve(oid id.ObjectID) (RemoteObject, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	obj, ok := r.objects[oid]
	return obj, ok
}

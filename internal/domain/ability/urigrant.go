package ability

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/types"
)

// URIGrants is an in-memory URI permission table: uri -> bundle -> flags.
type URIGrants struct {
	logger *zap.Logger

	mu     sync.RWMutex
	grants map[string]map[string]int
}

// NewURIGrants creates an empty table.
func NewURIGrants(logger *zap.Logger) *URIGrants {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &URIGrants{logger: logger, grants: make(map[string]map[string]int)}
}

// GrantURIPermission adds flags for the want's URI to targetBundle.
func (g *URIGrants) GrantURIPermission(want *types.Want, flags int, targetBundle string) {
	if want == nil || want.URI == "" || targetBundle == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	byBundle, ok := g.grants[want.URI]
	if !ok {
		byBundle = make(map[string]int)
		g.grants[want.URI] = byBundle
	}
	byBundle[targetBundle] |= flags
	g.logger.Debug("uri permission granted",
		zap.String("uri", want.URI), zap.String("bundle", targetBundle), zap.Int("flags", flags))
}

// Check reports whether bundle holds every bit of flags on uri.
func (g *URIGrants) Check(uri, bundle string, flags int) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.grants[uri][bundle]&flags == flags
}

// RevokeBundle drops every grant held by bundle.
func (g *URIGrants) RevokeBundle(bundle string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for uri, byBundle := range g.grants {
		delete(byBundle, bundle)
		if len(byBundle) == 0 {
			delete(g.grants, uri)
		}
	}
}

// URIs lists granted URIs in order.
func (g *URIGrants) URIs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.grants))
	for uri := range g.grants {
		out = append(out, uri)
	}
	sort.Strings(out)
	return out
}

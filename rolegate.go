package storefront

import "sync"

// Query declares a cached read: its key, the role allowed to run it and how
// to fetch it. An empty RequiredRole lets any session, anonymous included,
// run the query.
type Query struct {
	Key          Key
	RequiredRole Role
	Fetch        Fetcher
}

// IsEnabled reports whether a query requiring role may run for s.
// It is false for role-restricted queries until the session carries a role.
func IsEnabled(required Role, s Session) bool {
	if required == "" {
		return true
	}
	return s.Role != "" && s.Role == required
}

// Gated is anything whose fetching can be switched on and off
type Gated interface {
	SetEnabled(bool)
}

// RoleGate keeps bound targets enabled exactly while the session's role
// satisfies their required role
type RoleGate struct {
	session *SessionState
	stop    func()

	mu       sync.Mutex
	bindings map[Gated]Role
}

// NewRoleGate creates a gate that re-evaluates on every session change
func NewRoleGate(session *SessionState) *RoleGate {
	g := &RoleGate{
		session:  session,
		bindings: make(map[Gated]Role),
	}
	g.stop = session.Watch(g.evaluate)
	return g
}

// Enabled evaluates required against the current session
func (g *RoleGate) Enabled(required Role) bool {
	return IsEnabled(required, g.session.Current())
}

// Bind applies the gate to target now and on every later session change
func (g *RoleGate) Bind(target Gated, required Role) (unbind func()) {
	g.mu.Lock()
	g.bindings[target] = required
	g.mu.Unlock()

	target.SetEnabled(g.Enabled(required))

	return func() {
		g.mu.Lock()
		delete(g.bindings, target)
		g.mu.Unlock()
	}
}

// Observe subscribes to q with the gate deciding whether it may fetch.
// Closing the returned subscription does not unbind it; use the unbind func.
func (g *RoleGate) Observe(cache *QueryCache, q Query, listener Listener) (*Subscription, func()) {
	sub := cache.Observe(q.Key, q.Fetch, g.Enabled(q.RequiredRole), listener)
	unbind := g.Bind(sub, q.RequiredRole)
	return sub, func() {
		unbind()
		sub.Close()
	}
}

// Close stops reacting to session changes
func (g *RoleGate) Close() {
	g.stop()
}

func (g *RoleGate) evaluate(s Session) {
	g.mu.Lock()
	targets := make(map[Gated]Role, len(g.bindings))
	for t, r := range g.bindings {
		targets[t] = r
	}
	g.mu.Unlock()

	for t, r := range targets {
		t.SetEnabled(IsEnabled(r, s))
	}
}

package survey

import "sync"

// Registry tracks the one live flow per browser session. The flow for a
// session is created on first visit to the survey page and removed on
// sign-out or when the participant leaves the completed summary.
type Registry struct {
	mu    sync.Mutex
	flows map[string]*Flow
}

func NewRegistry() *Registry {
	return &Registry{flows: make(map[string]*Flow)}
}

// Lookup returns the flow for a session token, or nil.
func (r *Registry) Lookup(token string) *Flow {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flows[token]
}

// GetOrCreate returns the flow for the token, creating it with create when
// absent. The boolean reports whether a new flow was created.
func (r *Registry) GetOrCreate(token string, create func() *Flow) (*Flow, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.flows[token]; ok {
		return f, false
	}
	f := create()
	r.flows[token] = f
	return f, true
}

// Remove closes and forgets the flow for a session token.
func (r *Registry) Remove(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.flows[token]; ok {
		f.Close()
		delete(r.flows, token)
	}
}

package session

import (
	"fmt"
	"sync"

	"github.com/wesm/inboxsweep/internal/gateway"
	"github.com/wesm/inboxsweep/internal/mail"
)

// Registry holds at most one Controller per mode. Controllers are created on
// first use and disposed when the mode is left.
type Registry struct {
	provider Provider
	opts     []Option

	mu       sync.Mutex
	sessions map[mail.Mode]*Controller
}

// NewRegistry creates a registry whose controllers share provider and opts.
func NewRegistry(provider Provider, opts ...Option) *Registry {
	return &Registry{
		provider: provider,
		opts:     opts,
		sessions: make(map[mail.Mode]*Controller),
	}
}

// Get returns the controller for mode, creating it if needed. The caller is
// responsible for calling Initialize.
func (r *Registry) Get(mode mail.Mode) (*Controller, error) {
	if _, err := mail.ParseMode(string(mode)); err != nil {
		return nil, fmt.Errorf("%w: %q", gateway.ErrUnknownMode, mode)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.sessions[mode]; ok {
		return c, nil
	}
	c := New(mode, r.provider, r.opts...)
	r.sessions[mode] = c
	return c, nil
}

// Lookup returns the existing controller for mode.
func (r *Registry) Lookup(mode mail.Mode) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.sessions[mode]
	return c, ok
}

// Dispose closes and forgets the controller for mode. It reports whether one
// existed.
func (r *Registry) Dispose(mode mail.Mode) bool {
	r.mu.Lock()
	c, ok := r.sessions[mode]
	delete(r.sessions, mode)
	r.mu.Unlock()
	if ok {
		c.Close()
	}
	return ok
}

// Close disposes every controller.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[mail.Mode]*Controller)
	r.mu.Unlock()
	for _, c := range sessions {
		c.Close()
	}
}

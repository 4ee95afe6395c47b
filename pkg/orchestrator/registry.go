package orchestrator

import (
	"context"
	"errors"
	"sync"
)

// ErrShuttingDown rejects new attachments once Stop has begun.
var ErrShuttingDown = errors.New("server is shutting down")

// Registry tracks the live agent and connection cancel handle per session.
// A session has at most one attached connection; a newer attachment cancels
// and replaces the previous one so a reconnect always wins.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
	wg      sync.WaitGroup
	stopped bool
}

type registryEntry struct {
	agent  Agent
	cancel context.CancelFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*registryEntry)}
}

// Attach registers the session's agent together with the cancel func of its
// connection context. Every successful Attach must be paired with exactly one
// Detach; Stop waits on that pairing to drain.
func (r *Registry) Attach(sessionID string, agent Agent, cancel context.CancelFunc) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ErrShuttingDown
	}
	prev := r.entries[sessionID]
	r.entries[sessionID] = &registryEntry{agent: agent, cancel: cancel}
	r.wg.Add(1)
	r.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}
	return nil
}

// Detach releases an attachment. The map entry is removed only while it still
// belongs to the caller, so the teardown of a replaced connection does not
// clobber the replacing one.
func (r *Registry) Detach(sessionID string, agent Agent) {
	r.mu.Lock()
	if e, ok := r.entries[sessionID]; ok && e.agent == agent {
		delete(r.entries, sessionID)
	}
	r.mu.Unlock()
	r.wg.Done()
}

// Get returns the attached agent for the session, if any.
func (r *Registry) Get(sessionID string) (Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[sessionID]
	if !ok {
		return nil, false
	}
	return e.agent, true
}

// Len returns the number of attached sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Stop rejects new attachments, cancels every attached connection, and waits
// for their detach calls. Safe to call more than once.
func (r *Registry) Stop() {
	r.mu.Lock()
	r.stopped = true
	for _, e := range r.entries {
		e.cancel()
	}
	r.mu.Unlock()

	r.wg.Wait()
}

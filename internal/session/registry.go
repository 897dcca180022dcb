// Package session tracks live client sessions and their backend media
// pipeline handles. The Registry is the single shared structure between
// the signaling handlers and the broadcast path.
package session

import (
	"context"
	"sync"
)

// Sender pushes one raw message to a client's transport. Implementations
// must be safe for concurrent use and must not block indefinitely.
type Sender interface {
	Send(msg []byte) error
}

// Pipeline is the registry's view of a backend media pipeline: the only
// thing teardown needs is the ability to release it.
type Pipeline interface {
	Release(ctx context.Context) error
}

// Session is one connected client. Transport is set at connect time and
// never changes; Pipeline is nil until media negotiation succeeds.
type Session struct {
	ID        string
	Transport Sender
	Pipeline  Pipeline
}

type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]Session),
	}
}

// Put inserts or replaces the entry for s.ID. Last write wins.
func (r *Registry) Put(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

func (r *Registry) Get(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove deletes the entry and returns it. The caller owns releasing any
// pipeline still attached to the returned session.
func (r *Registry) Remove(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return s, ok
}

// AttachPipeline sets the pipeline for an existing session and returns
// whatever pipeline it displaced, so the caller can release it. ok is
// false when the session is no longer registered; the caller then still
// owns p.
func (r *Registry) AttachPipeline(id string, p Pipeline) (displaced Pipeline, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, found := r.sessions[id]
	if !found {
		return nil, false
	}
	displaced = s.Pipeline
	s.Pipeline = p
	r.sessions[id] = s
	return displaced, true
}

// DetachPipeline clears the session's pipeline and returns it. Returns
// nil when the session is absent or has no pipeline, making repeated
// stops no-ops.
func (r *Registry) DetachPipeline(id string) Pipeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, found := r.sessions[id]
	if !found || s.Pipeline == nil {
		return nil
	}
	p := s.Pipeline
	s.Pipeline = nil
	r.sessions[id] = s
	return p
}

// ForEach calls fn for every session in a snapshot taken under the read
// lock. fn runs without any registry lock held, so it may block (e.g. on
// a transport send) without stalling concurrent Put/Remove.
func (r *Registry) ForEach(fn func(Session)) {
	r.mu.RLock()
	snapshot := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.RUnlock()

	for _, s := range snapshot {
		fn(s)
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ActivePipelines counts sessions currently holding a pipeline.
func (r *Registry) ActivePipelines() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, s := range r.sessions {
		if s.Pipeline != nil {
			count++
		}
	}
	return count
}

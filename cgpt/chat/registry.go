package chat

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/metrics"
)

var (
	ErrSessionNotFound = errors.New("chat: session not found")
	ErrTooManySessions = errors.New("chat: session limit reached")
)

// Registry owns the live sessions, keyed by uuid.
type Registry struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	maxSessions int
}

// NewRegistry creates a registry. maxSessions <= 0 means unbounded.
func NewRegistry(maxSessions int) *Registry {
	return &Registry{
		sessions:    make(map[string]*Session),
		maxSessions: maxSessions,
	}
}

// Create starts a new session with a fresh id.
func (r *Registry) Create() (*Session, error) {
	s := NewSession(uuid.NewString())

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
		return nil, fmt.Errorf("%w (%d)", ErrTooManySessions, r.maxSessions)
	}
	r.sessions[s.ID()] = s
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	return s, nil
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Delete discards a session. It reports whether the session existed.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// IDs returns the live session ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ReapIdle removes sessions inactive for longer than maxIdle and returns how
// many were removed.
func (r *Registry) ReapIdle(now time.Time, maxIdle time.Duration) int {
	if maxIdle <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.sessions {
		if now.Sub(s.LastActive()) > maxIdle {
			delete(r.sessions, id)
			n++
		}
	}
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	return n
}

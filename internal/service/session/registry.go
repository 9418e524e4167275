package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/zhouzirui/z-recorder/backend/internal/metrics"
	"github.com/zhouzirui/z-recorder/backend/internal/model/recording"
)

var (
	ErrConnectionRequired = errors.New("connection id is required")
	ErrConnectionBound    = errors.New("connection already has a session")
)

// DirectoryAllocator creates the exclusive storage location for a new session.
type DirectoryAllocator interface {
	CreateSession(sessionID string) (string, error)
}

// Registry maps live connections to their sessions. One Registry is owned by the
// component that accepts connections.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	dirs     DirectoryAllocator
	clock    clockwork.Clock
	newID    func() string
}

// Option customises a Registry.
type Option func(*Registry)

// WithClock overrides the clock used for CreatedAt.
func WithClock(clock clockwork.Clock) Option {
	return func(r *Registry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(fn func() string) Option {
	return func(r *Registry) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// NewRegistry builds a registry that allocates session directories through dirs.
func NewRegistry(dirs DirectoryAllocator, opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		dirs:     dirs,
		clock:    clockwork.NewRealClock(),
		newID:    newSessionID,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// newSessionID prefers time-ordered UUIDv7 so ids sort by creation.
func newSessionID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// Open allocates a fresh session bound to connectionID.
func (r *Registry) Open(_ context.Context, connectionID string) (*Session, error) {
	if connectionID == "" {
		return nil, ErrConnectionRequired
	}

	r.mu.RLock()
	_, bound := r.sessions[connectionID]
	r.mu.RUnlock()
	if bound {
		return nil, ErrConnectionBound
	}

	id := r.newID()
	dir, err := r.dirs.CreateSession(id)
	if err != nil {
		return nil, fmt.Errorf("allocate session %s: %w", id, err)
	}

	sess := newSession(id, connectionID, dir, r.clock.Now().UTC())

	r.mu.Lock()
	if _, exists := r.sessions[connectionID]; exists {
		r.mu.Unlock()
		return nil, ErrConnectionBound
	}
	r.sessions[connectionID] = sess
	r.mu.Unlock()

	metrics.SessionsOpenedTotal.Inc()
	metrics.SessionsActive.Inc()
	return sess, nil
}

// Lookup returns the session bound to connectionID.
func (r *Registry) Lookup(connectionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[connectionID]
	return sess, ok
}

// Release drops the connection binding. The session object stays valid for any merge
// still running against it.
func (r *Registry) Release(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[connectionID]; ok {
		delete(r.sessions, connectionID)
		metrics.SessionsActive.Dec()
	}
}

// Active returns the number of bound connections.
func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot lists live sessions, oldest first.
func (r *Registry) Snapshot() []recording.SessionInfo {
	r.mu.RLock()
	infos := make([]recording.SessionInfo, 0, len(r.sessions))
	for _, sess := range r.sessions {
		infos = append(infos, sess.Info())
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

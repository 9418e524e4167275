package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/zhouzirui/z-recorder/backend/internal/model/recording"
)

// Session is the live state of one recording attempt. Its state field doubles as the
// guard that lets exactly one caller move it out of open.
type Session struct {
	ID           string
	ConnectionID string
	Dir          string
	CreatedAt    time.Time

	state     atomic.Int32
	fragments atomic.Int64
	nextSeq   int

	mu      sync.Mutex
	lastErr error
}

func newSession(id, connectionID, dir string, createdAt time.Time) *Session {
	s := &Session{ID: id, ConnectionID: connectionID, Dir: dir, CreatedAt: createdAt}
	s.state.Store(int32(recording.StateOpen))
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() recording.State {
	return recording.State(s.state.Load())
}

// Accepting reports whether binary frames may still be persisted.
func (s *Session) Accepting() bool {
	return s.State() == recording.StateOpen
}

// PendingSequence is the sequence number the next stored fragment will get. It only
// advances through FragmentStored, so a failed write leaves no gap. Only the
// connection's own goroutine calls these two.
func (s *Session) PendingSequence() int {
	return s.nextSeq
}

// FragmentStored commits the pending sequence number once its fragment reached the store.
func (s *Session) FragmentStored() {
	s.nextSeq++
	s.fragments.Add(1)
}

// FragmentCount is the number of fragments persisted so far.
func (s *Session) FragmentCount() int64 {
	return s.fragments.Load()
}

// BeginFinalize moves open to finalizing. Only the first caller gets true.
func (s *Session) BeginFinalize() bool {
	return s.state.CompareAndSwap(int32(recording.StateOpen), int32(recording.StateFinalizing))
}

// Finish ends finalization as merged (err == nil) or failed.
func (s *Session) Finish(err error) {
	next := recording.StateMerged
	if err != nil {
		next = recording.StateFailed
		s.setErr(err)
	}
	s.state.CompareAndSwap(int32(recording.StateFinalizing), int32(next))
}

// Fail moves an open session straight to failed; used when nothing was captured.
func (s *Session) Fail(err error) bool {
	if !s.state.CompareAndSwap(int32(recording.StateOpen), int32(recording.StateFailed)) {
		return false
	}
	s.setErr(err)
	return true
}

// Err returns the error that failed the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// Info snapshots the session for listing.
func (s *Session) Info() recording.SessionInfo {
	info := recording.SessionInfo{
		ID:            s.ID,
		ConnectionID:  s.ConnectionID,
		State:         s.State(),
		FragmentCount: s.FragmentCount(),
		Directory:     s.Dir,
		CreatedAt:     s.CreatedAt,
	}
	if err := s.Err(); err != nil {
		info.LastError = err.Error()
	}
	return info
}

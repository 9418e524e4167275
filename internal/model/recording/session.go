package recording

import "time"

// State is the lifecycle position of a recording session.
type State int32

const (
	StateOpen State = iota
	StateFinalizing
	StateMerged
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateFinalizing:
		return "finalizing"
	case StateMerged:
		return "merged"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateMerged || s == StateFailed
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SessionInfo is a point-in-time view of a live session.
type SessionInfo struct {
	ID            string    `json:"id"`
	ConnectionID  string    `json:"connectionId"`
	State         State     `json:"state"`
	FragmentCount int64     `json:"fragmentCount"`
	Directory     string    `json:"-"`
	LastError     string    `json:"lastError,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

package recording

// Fragment references one persisted, immutable unit of captured data.
type Fragment struct {
	SessionID string `json:"sessionId"`
	Sequence  int    `json:"sequence"`
	Path      string `json:"path"`
	Size      int64  `json:"size"`
}

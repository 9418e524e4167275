package recording

import "time"

// Artifact is the merged output of one session.
type Artifact struct {
	SessionID     string    `json:"sessionId"`
	Name          string    `json:"name"`
	Path          string    `json:"-"`
	Size          int64     `json:"size"`
	FragmentCount int       `json:"fragmentCount"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ArtifactName returns the file name used for a session's merged output.
func ArtifactName(sessionID, ext string) string {
	return "recording_" + sessionID + ext
}

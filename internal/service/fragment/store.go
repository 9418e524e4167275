package fragment

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gofrs/flock"

	"github.com/zhouzirui/z-recorder/backend/internal/model/recording"
)

var (
	// ErrWrite wraps any failure to persist a fragment.
	ErrWrite = errors.New("fragment write failed")
	// ErrLocked is returned when another process owns the store root.
	ErrLocked = errors.New("fragment store is locked by another process")
	// ErrInvalidSession rejects identifiers that could escape the store root.
	ErrInvalidSession = errors.New("invalid session id")
)

const (
	filePrefix = "chunk_"
	lockName   = ".store.lock"
	// sequenceWidth keeps names lexicographically sortable up to 999999 fragments;
	// ordering never depends on that, since sequences are parsed back.
	sequenceWidth = 6
)

// Store persists fragments under root/<sessionID>/chunk_<seq><ext>.
type Store struct {
	root string
	ext  string
	lock *flock.Flock
}

// Open prepares the root directory and takes an exclusive lock on it.
func Open(root, ext string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("fragment store root is required")
	}
	if ext == "" {
		ext = ".webm"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create fragment root: %w", err)
	}

	lock := flock.New(filepath.Join(root, lockName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire fragment store lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	return &Store{root: root, ext: ext, lock: lock}, nil
}

// OpenReadOnly opens the store for inspection without taking the lock, so it can be
// used while a server owns the root. Callers must not write through it.
func OpenReadOnly(root, ext string) *Store {
	if ext == "" {
		ext = ".webm"
	}
	return &Store{root: root, ext: ext}
}

// Close releases the root lock.
func (s *Store) Close() error {
	if s == nil || s.lock == nil {
		return nil
	}
	return s.lock.Unlock()
}

// Root returns the directory holding session sub-directories.
func (s *Store) Root() string {
	return s.root
}

// SessionDir returns the exclusive directory for a session.
func (s *Store) SessionDir(sessionID string) string {
	return filepath.Join(s.root, sessionID)
}

// CreateSession makes the session directory. It fails if the directory already exists.
func (s *Store) CreateSession(sessionID string) (string, error) {
	if err := validateSessionID(sessionID); err != nil {
		return "", err
	}
	dir := s.SessionDir(sessionID)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", fmt.Errorf("create session directory: %w", err)
	}
	return dir, nil
}

// FileName returns the deterministic, zero-padded fragment name for a sequence number.
func (s *Store) FileName(sequence int) string {
	return fmt.Sprintf("%s%0*d%s", filePrefix, sequenceWidth, sequence, s.ext)
}

// Append writes a fragment durably. The payload is written to a temporary file,
// synced, then renamed into place so readers never observe partial fragments.
func (s *Store) Append(sessionID string, sequence int, payload []byte) (recording.Fragment, error) {
	if err := validateSessionID(sessionID); err != nil {
		return recording.Fragment{}, err
	}
	if sequence < 0 {
		return recording.Fragment{}, fmt.Errorf("%w: negative sequence %d", ErrWrite, sequence)
	}

	dir := s.SessionDir(sessionID)
	final := filepath.Join(dir, s.FileName(sequence))

	tmp, err := os.CreateTemp(dir, ".incoming-*")
	if err != nil {
		return recording.Fragment{}, fmt.Errorf("%w: %v", ErrWrite, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return recording.Fragment{}, fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return recording.Fragment{}, fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return recording.Fragment{}, fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if err := os.Rename(tmpPath, final); err != nil {
		os.Remove(tmpPath)
		return recording.Fragment{}, fmt.Errorf("%w: %v", ErrWrite, err)
	}

	return recording.Fragment{
		SessionID: sessionID,
		Sequence:  sequence,
		Path:      final,
		Size:      int64(len(payload)),
	}, nil
}

// ListOrdered returns the session's fragments sorted by sequence number. A session with
// no directory or no fragments yields an empty slice.
func (s *Store) ListOrdered(sessionID string) ([]recording.Fragment, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.SessionDir(sessionID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []recording.Fragment{}, nil
		}
		return nil, fmt.Errorf("list fragments: %w", err)
	}

	fragments := make([]recording.Fragment, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		seq, ok := s.parseSequence(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat fragment %s: %w", entry.Name(), err)
		}
		fragments = append(fragments, recording.Fragment{
			SessionID: sessionID,
			Sequence:  seq,
			Path:      filepath.Join(s.SessionDir(sessionID), entry.Name()),
			Size:      info.Size(),
		})
	}

	sort.Slice(fragments, func(i, j int) bool {
		return fragments[i].Sequence < fragments[j].Sequence
	})
	return fragments, nil
}

// Sessions lists session directories still present under the root.
func (s *Store) Sessions() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() && validateSessionID(entry.Name()) == nil {
			ids = append(ids, entry.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Remove deletes a session's fragments. Only call once the session is terminal.
func (s *Store) Remove(sessionID string) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	return os.RemoveAll(s.SessionDir(sessionID))
}

func (s *Store) parseSequence(name string) (int, bool) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, s.ext) {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), s.ext)
	if digits == "" {
		return 0, false
	}
	seq, err := strconv.Atoi(digits)
	if err != nil || seq < 0 {
		return 0, false
	}
	return seq, true
}

func validateSessionID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidSession, id)
	}
	return nil
}

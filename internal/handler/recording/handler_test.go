package recording

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-recorder/backend/internal/model/recording"
	"github.com/zhouzirui/z-recorder/backend/internal/service/catalog"
	"github.com/zhouzirui/z-recorder/backend/internal/service/fragment"
	"github.com/zhouzirui/z-recorder/backend/internal/service/session"
)

type fakeCatalog struct {
	artifacts []recording.Artifact
	listErr   error
}

func (c *fakeCatalog) List(context.Context) ([]recording.Artifact, error) {
	return c.artifacts, c.listErr
}

func (c *fakeCatalog) Open(_ context.Context, name string) (*os.File, recording.Artifact, error) {
	for _, a := range c.artifacts {
		if a.Name == name {
			f, err := os.Open(a.Path)
			if err != nil {
				return nil, recording.Artifact{}, catalog.ErrNotFound
			}
			return f, a, nil
		}
	}
	return nil, recording.Artifact{}, catalog.ErrNotFound
}

type fakeSessions []recording.SessionInfo

func (s fakeSessions) Snapshot() []recording.SessionInfo { return s }

func setupRouter(cat ArtifactCatalog, sessions SessionLister) *chi.Mux {
	h := New(cat, sessions, nil)
	r := chi.NewRouter()
	r.Route("/api", h.RegisterRoutes)
	h.RegisterFileRoutes(r)
	return r
}

func TestListRecordings(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	cat := &fakeCatalog{artifacts: []recording.Artifact{
		{SessionID: "b", Name: "recording_b.webm", CreatedAt: created.Add(time.Minute)},
		{SessionID: "a", Name: "recording_a.webm", CreatedAt: created},
	}}
	r := setupRouter(cat, fakeSessions(nil))

	req := httptest.NewRequest(http.MethodGet, "/api/recordings", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var entries []recordingEntry
	if err := json.Unmarshal(resp.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Name != "recording_b.webm" || entries[0].URL != "/recordings/recording_b.webm" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if !entries[1].CreatedAt.Equal(created) {
		t.Fatalf("expected createdAt %v, got %v", created, entries[1].CreatedAt)
	}
}

func TestListRecordingsCatalogError(t *testing.T) {
	r := setupRouter(&fakeCatalog{listErr: errors.New("db gone")}, fakeSessions(nil))

	req := httptest.NewRequest(http.MethodGet, "/api/recordings", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
}

func TestListSessionsNeverNull(t *testing.T) {
	store, err := fragment.Open(t.TempDir(), ".webm")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	r := setupRouter(&fakeCatalog{}, session.NewRegistry(store))

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if got := resp.Body.String(); got != "[]\n" {
		t.Fatalf("expected empty array, got %q", got)
	}
}

func TestServeRecordingSupportsRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recording_a.webm")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}
	cat := &fakeCatalog{artifacts: []recording.Artifact{{SessionID: "a", Name: "recording_a.webm", Path: path}}}
	r := setupRouter(cat, fakeSessions(nil))

	req := httptest.NewRequest(http.MethodGet, "/recordings/recording_a.webm", nil)
	req.Header.Set("Range", "bytes=2-4")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", resp.Code)
	}
	if resp.Body.String() != "234" {
		t.Fatalf("unexpected body %q", resp.Body.String())
	}
}

func TestServeRecordingNotFound(t *testing.T) {
	r := setupRouter(&fakeCatalog{}, fakeSessions(nil))

	req := httptest.NewRequest(http.MethodGet, "/recordings/recording_nope.webm", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

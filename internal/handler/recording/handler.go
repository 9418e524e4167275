package recording

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-recorder/backend/internal/logging"
	"github.com/zhouzirui/z-recorder/backend/internal/model/recording"
	"github.com/zhouzirui/z-recorder/backend/internal/service/catalog"
	"github.com/zhouzirui/z-recorder/backend/pkg/utils"
)

// ArtifactCatalog is the read side of the artifact catalog.
type ArtifactCatalog interface {
	List(ctx context.Context) ([]recording.Artifact, error)
	Open(ctx context.Context, name string) (*os.File, recording.Artifact, error)
}

// SessionLister exposes live sessions. Snapshot returns an empty, non-nil slice when
// nothing is live so the listing encodes as [].
type SessionLister interface {
	Snapshot() []recording.SessionInfo
}

// Handler 录音列表与下载的HTTP处理器
type Handler struct {
	catalog  ArtifactCatalog
	sessions SessionLister
	logger   *slog.Logger
}

// New 创建录音处理器
func New(catalog ArtifactCatalog, sessions SessionLister, logger *slog.Logger) *Handler {
	return &Handler{
		catalog:  catalog,
		sessions: sessions,
		logger:   logging.Component(logger, "http"),
	}
}

// RegisterRoutes 注册 /api 下的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/recordings", h.handleListRecordings)
	r.Get("/sessions", h.handleListSessions)
}

// RegisterFileRoutes 注册录音文件下载路由
func (h *Handler) RegisterFileRoutes(r chi.Router) {
	r.Get("/recordings/{name}", h.handleServeRecording)
}

// RecordingURL is the download path for an artifact name.
func RecordingURL(name string) string {
	return "/recordings/" + url.PathEscape(name)
}

type recordingEntry struct {
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
}

func (h *Handler) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	artifacts, err := h.catalog.List(r.Context())
	if err != nil {
		h.logger.Error("list recordings failed", slog.Any("error", err))
		utils.RespondError(w, http.StatusInternalServerError, "failed to list recordings")
		return
	}

	entries := make([]recordingEntry, 0, len(artifacts))
	for _, a := range artifacts {
		entries = append(entries, recordingEntry{
			Name:      a.Name,
			URL:       RecordingURL(a.Name),
			CreatedAt: a.CreatedAt,
		})
	}
	utils.RespondJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.sessions.Snapshot())
}

// handleServeRecording only serves names the catalog knows, so partial merge output is
// never reachable.
func (h *Handler) handleServeRecording(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	file, artifact, err := h.catalog.Open(r.Context(), name)
	if errors.Is(err, catalog.ErrNotFound) {
		utils.RespondError(w, http.StatusNotFound, "recording not found")
		return
	}
	if err != nil {
		h.logger.Error("open recording failed", slog.String("name", name), slog.Any("error", err))
		utils.RespondError(w, http.StatusInternalServerError, "failed to open recording")
		return
	}
	defer file.Close()

	http.ServeContent(w, r, artifact.Name, artifact.CreatedAt, file)
}

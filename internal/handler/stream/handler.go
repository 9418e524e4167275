package stream

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-recorder/backend/internal/logging"
	"github.com/zhouzirui/z-recorder/backend/internal/service/ingest"
	"github.com/zhouzirui/z-recorder/backend/pkg/utils"
)

const defaultHeartbeat = 15 * time.Second

// Subscriber is the event source a stream listens on.
type Subscriber interface {
	Subscribe() (<-chan ingest.Event, func())
}

// Handler streams session lifecycle events via Server-Sent Events
type Handler struct {
	events    Subscriber
	heartbeat time.Duration
	logger    *slog.Logger
}

// New creates a new stream handler
func New(events Subscriber, heartbeat time.Duration, logger *slog.Logger) *Handler {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &Handler{events: events, heartbeat: heartbeat, logger: logging.Component(logger, "sse")}
}

// RegisterRoutes 注册事件流路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/events", h.handleEvents)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, cancel := h.events.Subscribe()
	defer cancel()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	if err := utils.SendSSEComment(w, flusher, "stream established"); err != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, e.Type, e); err != nil {
				h.logger.Debug("sse write failed", slog.Any("error", err))
				return
			}
		}
	}
}

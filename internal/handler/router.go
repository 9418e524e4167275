package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhouzirui/z-recorder/backend/internal/handler/recording"
	"github.com/zhouzirui/z-recorder/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/z-recorder/backend/internal/middleware"
	"github.com/zhouzirui/z-recorder/backend/internal/service/events"
	"github.com/zhouzirui/z-recorder/backend/internal/service/ingest"
	"github.com/zhouzirui/z-recorder/backend/internal/service/merge"
	"github.com/zhouzirui/z-recorder/backend/internal/service/session"
	"github.com/zhouzirui/z-recorder/backend/pkg/utils"
)

// ToolReporter reports the merge backend's availability.
type ToolReporter interface {
	ToolStatus() merge.ToolStatus
}

// Merger is what the router needs from the merge orchestrator.
type Merger interface {
	ingest.Merger
	ToolReporter
}

// Deps are the services the HTTP surface is built on.
type Deps struct {
	Registry  *session.Registry
	Fragments ingest.FragmentWriter
	Merger    Merger
	Catalog   recording.ArtifactCatalog
	Events    *events.Hub
	WebSocket recording.WebSocketOptions
	Limiter   *middlewarePkg.ConnectionRateLimiter
	Logger    *slog.Logger

	// Connections tracks live recording sockets so shutdown can close and drain them.
	Connections *recording.Connections
}

// NewRouter wires HTTP and websocket routes to the recording services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.WebSocket.AllowedOrigins))

	recordingHandler := recording.New(deps.Catalog, deps.Registry, deps.Logger)
	var publisher recording.EventPublisher
	if deps.Events != nil {
		publisher = deps.Events
	}
	wsHandler := recording.NewWebSocketHandler(deps.Registry, deps.Fragments, deps.Merger, publisher, deps.Connections, deps.WebSocket, deps.Logger)

	// Websocket upgrades are rate limited per client IP; plain HTTP routes are not.
	r.Group(func(ws chi.Router) {
		if deps.Limiter != nil {
			ws.Use(deps.Limiter.Middleware)
		}
		wsHandler.RegisterWebSocketRoutes(ws)
	})

	r.Route("/api", func(api chi.Router) {
		api.Get("/status", statusHandler(deps.Merger, deps.Registry))
		recordingHandler.RegisterRoutes(api)

		// Live session events for dashboards
		if deps.Events != nil {
			stream.New(deps.Events, 0, deps.Logger).RegisterRoutes(api)
		}
	})

	recordingHandler.RegisterFileRoutes(r)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

type statusResponse struct {
	Status         string           `json:"status"`
	MergeTool      merge.ToolStatus `json:"mergeTool"`
	ActiveSessions int              `json:"activeSessions"`
}

func statusHandler(tools ToolReporter, registry *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, statusResponse{
			Status:         "Server is running",
			MergeTool:      tools.ToolStatus(),
			ActiveSessions: registry.Active(),
		})
	}
}

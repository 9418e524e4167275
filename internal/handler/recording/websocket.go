package recording

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-recorder/backend/internal/logging"
	"github.com/zhouzirui/z-recorder/backend/internal/metrics"
	middlewarePkg "github.com/zhouzirui/z-recorder/backend/internal/middleware"
	"github.com/zhouzirui/z-recorder/backend/internal/service/ingest"
	"github.com/zhouzirui/z-recorder/backend/internal/service/session"
	"github.com/zhouzirui/z-recorder/backend/pkg/utils"
)

const writeTimeout = 10 * time.Second

// WebSocketOptions tunes the ingestion transport.
type WebSocketOptions struct {
	MaxFrameBytes  int64
	ReadTimeout    time.Duration
	AllowedOrigins []string
}

// EventPublisher receives a copy of every session event.
type EventPublisher interface {
	Publish(ingest.Event)
}

// WebSocketHandler WebSocket录音接收处理器
type WebSocketHandler struct {
	registry *session.Registry
	store    ingest.FragmentWriter
	merger   ingest.Merger
	events   EventPublisher
	conns    *Connections
	opts     WebSocketOptions
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(registry *session.Registry, store ingest.FragmentWriter, merger ingest.Merger, events EventPublisher, conns *Connections, opts WebSocketOptions, logger *slog.Logger) *WebSocketHandler {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 60 * time.Second
	}
	if conns == nil {
		conns = NewConnections()
	}
	origins := opts.AllowedOrigins
	return &WebSocketHandler{
		registry: registry,
		store:    store,
		merger:   merger,
		events:   events,
		conns:    conns,
		opts:     opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if middlewarePkg.OriginAllowed(origins, r.Header.Get("Origin")) {
					return true
				}
				metrics.WebSocketRejectionsTotal.WithLabelValues("origin").Inc()
				return false
			},
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 1024,
		},
		logger: logging.Component(logger, "websocket"),
	}
}

// RegisterWebSocketRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/", h.handleWebSocket)
	r.Get("/ws", h.handleWebSocket)
}

type outgoingMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// wsSender serializes writes; merge callbacks and the ping loop share the socket.
type wsSender struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	logger *slog.Logger
}

func (s *wsSender) sendJSON(v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(v); err != nil {
		s.logger.Debug("write message failed", slog.Any("error", err))
	}
}

func (s *wsSender) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

func (s *wsSender) notify(e ingest.Event) {
	msg := outgoingMessage{
		Type:      e.Type,
		SessionID: e.SessionID,
		Timestamp: time.Now().Unix(),
	}
	switch {
	case e.Artifact != nil:
		msg.Data = recordingEntry{
			Name:      e.Artifact.Name,
			URL:       RecordingURL(e.Artifact.Name),
			CreatedAt: e.Artifact.CreatedAt,
		}
	case e.Reason != "":
		msg.Data = map[string]string{"reason": e.Reason}
	}
	s.sendJSON(msg)
}

// handleWebSocket 处理录音WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	connID := middleware.GetReqID(r.Context())
	if connID == "" {
		connID = uuid.NewString()
	}

	if h.conns.Closed() {
		metrics.WebSocketRejectionsTotal.WithLabelValues("shutdown").Inc()
		utils.RespondError(w, http.StatusServiceUnavailable, "server shutting down")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	if !h.conns.add(conn) {
		metrics.WebSocketRejectionsTotal.WithLabelValues("shutdown").Inc()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeTimeout))
		return
	}
	defer h.conns.done(conn)

	sess, err := h.registry.Open(r.Context(), connID)
	if err != nil {
		metrics.WebSocketRejectionsTotal.WithLabelValues("session").Inc()
		h.logger.Error("open session failed", slog.String("connection_id", connID), slog.Any("error", err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "session unavailable"),
			time.Now().Add(writeTimeout))
		return
	}
	defer h.registry.Release(connID)

	logger := h.logger.With(slog.String("connection_id", connID), slog.String("session_id", sess.ID))
	logger.Info("recording connection opened", slog.String("remote", r.RemoteAddr))

	sender := &wsSender{conn: conn, logger: logger}
	notify := sender.notify
	if h.events != nil {
		notify = func(e ingest.Event) {
			sender.notify(e)
			h.events.Publish(e)
		}
	}
	in := ingest.New(sess, h.store, h.merger, notify, h.logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if h.opts.MaxFrameBytes > 0 {
		conn.SetReadLimit(h.opts.MaxFrameBytes)
	}
	_ = conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	go h.pingLoop(ctx, sender)

	in.Announce()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				logger.Warn("read error", slog.Any("error", err))
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))

		switch msgType {
		case websocket.BinaryMessage:
			_ = in.OnBinaryFrame(data)
		case websocket.TextMessage:
			_ = in.OnControlMessage(data)
		}
	}

	in.OnDisconnect()
	logger.Info("recording connection closed",
		slog.String("state", sess.State().String()),
		slog.Int64("fragment_count", sess.FragmentCount()),
	)
}

// pingLoop 定期发送ping消息
func (h *WebSocketHandler) pingLoop(ctx context.Context, sender *wsSender) {
	ticker := time.NewTicker(h.opts.ReadTimeout * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sender.ping(); err != nil {
				return
			}
		}
	}
}

package gateway

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/auth"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/logging"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Message types sent on a progress stream
const (
	EventProgress = "progress"
	EventEnd      = "end"
	EventError    = "error"
)

// StreamMessage is the envelope written to websocket clients.
type StreamMessage struct {
	EventType string `json:"event_type"`
	Data      any    `json:"data"`
}

// StreamHandler serves generation progress over websockets.
type StreamHandler struct {
	service  GenerationService
	hub      *ProgressHub
	logger   *logging.Logger
	tracer   trace.Tracer
	upgrader websocket.Upgrader
}

// NewStreamHandler creates a stream handler. allowedOrigins empty allows any
// origin.
func NewStreamHandler(service GenerationService, hub *ProgressHub, logger *logging.Logger, allowedOrigins ...string) *StreamHandler {
	if logger == nil {
		logger = logging.NewNop()
	}
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	return &StreamHandler{
		service: service,
		hub:     hub,
		logger:  logger,
		tracer:  otel.Tracer("progress-stream"),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(origins) == 0 || origin == "" || origins[origin]
			},
		},
	}
}

// StreamGeneration handles WebSocket /api/ws/generations/:id
// @Summary Stream generation progress
// @Description WebSocket endpoint replaying and then streaming the progress events of a generation
// @Tags generations
// @Param id path string true "Generation ID"
// @Param token query string false "JWT, for clients that cannot set headers"
// @Success 101 "Switching Protocols"
// @Failure 401 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /ws/generations/{id} [get]
func (s *StreamHandler) StreamGeneration(c *gin.Context) {
	ctx, span := s.tracer.Start(c.Request.Context(), "progress_stream.stream_generation")
	defer span.End()

	userID, ok := auth.UserID(c)
	if !ok {
		respond(c, http.StatusUnauthorized, models.ErrCodeUnauthorized, "User not authenticated")
		return
	}
	generationID := c.Param("id")
	span.SetAttributes(
		attribute.String("generation.id", generationID),
		attribute.String("user.id", userID),
	)
	ctx = logging.WithGenerationID(ctx, generationID)

	g, err := s.service.GetGeneration(ctx, generationID, userID)
	if err != nil {
		span.RecordError(err)
		writeError(c, s.logger, "Failed to get generation", err)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.RecordError(err)
		s.logger.Warn(ctx, "Failed to upgrade connection", zap.Error(err))
		return
	}
	defer conn.Close()

	// A finished generation whose stream did not end in the hub gets only
	// its stored final status.
	if (g.Status == models.GenerationCompleted || g.Status == models.GenerationFailed) && !s.hub.Ended(generationID) {
		s.writeEnd(conn, g)
		return
	}

	replay, events, cancel := s.hub.Subscribe(generationID)
	defer cancel()

	closed := make(chan struct{})
	go s.readPump(conn, closed)

	for _, e := range replay {
		if err := s.write(conn, StreamMessage{EventType: EventProgress, Data: e}); err != nil {
			return
		}
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	sent := len(replay)
	for {
		select {
		case e, ok := <-events:
			if !ok {
				s.finish(conn, generationID, sent)
				return
			}
			sent++
			if err := s.write(conn, StreamMessage{EventType: EventProgress, Data: e}); err != nil {
				s.logger.Debug(ctx, "Client write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-closed:
			s.logger.Debug(ctx, "Client disconnected", zap.Int("events_sent", sent))
			return
		}
	}
}

// finish closes the stream. The hub closes a subscription early when the
// client falls behind, which is reported as an error.
func (s *StreamHandler) finish(conn *websocket.Conn, generationID string, sent int) {
	if !s.hub.Ended(generationID) {
		_ = s.write(conn, StreamMessage{EventType: EventError, Data: map[string]any{
			"error":       "stream closed: client too slow",
			"events_sent": sent,
		}})
		return
	}
	_ = s.write(conn, StreamMessage{EventType: EventEnd, Data: map[string]any{"events_sent": sent}})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "generation finished"),
		time.Now().Add(writeWait))
}

func (s *StreamHandler) writeEnd(conn *websocket.Conn, g *models.Generation) {
	data := map[string]any{"status": g.Status}
	if g.Result != nil {
		data["result"] = g.Result
	}
	if g.Error != nil {
		data["error"] = *g.Error
	}
	_ = s.write(conn, StreamMessage{EventType: EventEnd, Data: data})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "generation finished"),
		time.Now().Add(writeWait))
}

func (s *StreamHandler) write(conn *websocket.Conn, msg StreamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

// readPump discards client messages and signals when the client goes away.
func (s *StreamHandler) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

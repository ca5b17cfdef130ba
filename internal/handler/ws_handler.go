package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/middleware"
	"github.com/stemsi/exstem-grader/internal/service"
	ws "github.com/stemsi/exstem-grader/internal/websocket"
)

// wsOpTimeout bounds one save or submit issued over the socket.
const wsOpTimeout = 15 * time.Second

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams saves and submission of one attempt over a WebSocket.
type WSHandler struct {
	attemptService *service.AttemptService
	saveLimiter    *middleware.RateLimiter
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler. saveLimiter is shared with the HTTP
// save endpoint so both paths draw from one budget per attempt.
func NewWSHandler(attemptService *service.AttemptService, saveLimiter *middleware.RateLimiter, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attemptService: attemptService,
		saveLimiter:    saveLimiter,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// AttemptWebSocketStream godoc
// WS /ws/v1/attempts/:attempt_id/stream?token=
// Accepts save_answer, submit and ping actions for the attempt in the token.
func (h *WSHandler) AttemptWebSocketStream(c *gin.Context) {
	attemptID, ok := paramUUID(c, "attempt_id")
	if !ok {
		return
	}

	// Fail before upgrading if the attempt is unknown.
	if _, err := h.attemptService.Attempt(c.Request.Context(), attemptID); err != nil {
		respondError(c, h.log, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().Str("attempt_id", attemptID.String()).Logger()
	wsLog.Info().Msg("Candidate connected")

	for {
		action, raw, err := ws.ReadMessage(conn)
		if err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				ws.WriteError(conn, "INVALID_PAYLOAD", "malformed message")
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch action {
		case ws.ActionSaveAnswer:
			if closed := h.handleSave(conn, wsLog, attemptID, raw); closed {
				return
			}
		case ws.ActionSubmit:
			h.handleSubmit(conn, wsLog, attemptID, ws.EventSubmitted)
			return
		case ws.ActionPing:
			ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(action)).Msg("Unknown action")
			ws.WriteError(conn, "UNKNOWN_ACTION", "unknown action: "+string(action))
		}
	}
}

// handleSave saves one answer. It reports true when the attempt closed
// because its deadline passed, after telling the client.
func (h *WSHandler) handleSave(conn *websocket.Conn, wsLog zerolog.Logger, attemptID uuid.UUID, raw []byte) bool {
	var msg ws.SaveAnswerRequest
	if err := json.Unmarshal(raw, &msg); err != nil {
		ws.WriteError(conn, "INVALID_PAYLOAD", "invalid save_answer payload")
		return false
	}
	questionID, err := uuid.Parse(msg.QID)
	if err != nil {
		ws.WriteError(conn, "INVALID_ID", "invalid q_id format")
		return false
	}
	if h.saveLimiter != nil && !h.saveLimiter.Allow(attemptID.String()) {
		ws.WriteError(conn, "RATE_LIMIT_EXCEEDED", "too many saves")
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), wsOpTimeout)
	defer cancel()

	ans, err := h.attemptService.SaveAnswer(ctx, attemptID, questionID, msg.Value)
	if err != nil {
		if errors.Is(err, service.ErrExpired) {
			h.handleSubmit(conn, wsLog, attemptID, ws.EventExpired)
			return true
		}
		_, code := errorStatus(err)
		if code == "INTERNAL_ERROR" {
			wsLog.Error().Err(err).Msg("Save answer failed")
		}
		ws.WriteError(conn, string(code), "save failed")
		return false
	}

	ws.WriteTyped(conn, ws.SavedResponse{Event: ws.EventSaved, QID: msg.QID, SavedAt: ans.UpdatedAt})
	return false
}

// handleSubmit closes the attempt (a no-op if already closed) and sends the
// visible result.
func (h *WSHandler) handleSubmit(conn *websocket.Conn, wsLog zerolog.Logger, attemptID uuid.UUID, event ws.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), wsOpTimeout)
	defer cancel()

	attempt, err := h.attemptService.Submit(ctx, attemptID)
	if err != nil {
		wsLog.Error().Err(err).Msg("Submit failed")
		_, code := errorStatus(err)
		ws.WriteError(conn, string(code), "submit failed")
		return
	}

	view, err := h.attemptService.Result(ctx, attemptID)
	if err != nil {
		wsLog.Warn().Err(err).Msg("Result after submit failed")
	}

	wsLog.Info().Str("state", string(attempt.State)).Msg("Attempt closed over WebSocket")
	ws.WriteTyped(conn, ws.SubmittedResponse{Event: event, State: attempt.State, Result: view})
}

package handler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/config"
	"github.com/stemsi/exstem-grader/internal/service"
)

const (
	refreshInterval   = 5 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// MonitorHandler streams live attempt events of one exam to graders.
type MonitorHandler struct {
	rdb            *redis.Client
	attemptService *service.AttemptService
	monitorService *service.MonitorService
	log            zerolog.Logger
}

func NewMonitorHandler(
	rdb *redis.Client,
	attemptService *service.AttemptService,
	monitorService *service.MonitorService,
	log zerolog.Logger,
) *MonitorHandler {
	return &MonitorHandler{
		rdb:            rdb,
		attemptService: attemptService,
		monitorService: monitorService,
		log:            log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorExamSSE godoc
// GET /api/v1/admin/exams/:exam_id/monitor
// Sends a progress snapshot, then forwards every attempt event and a fresh
// progress count after each burst of events.
func (h *MonitorHandler) MonitorExamSSE(c *gin.Context) {
	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}

	exam, err := h.attemptService.ResolveExam(c.Request.Context(), examID.String())
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	reqCtx := c.Request.Context()

	// 1. Initial snapshot, fetched before the stream opens so failures get a JSON error
	progress, err := h.fetchProgress(reqCtx, exam.ID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	// 2. SSE headers
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.SSEvent("message", map[string]interface{}{
		"type": "snapshot",
		"exam": map[string]string{"id": exam.ID.String(), "title": exam.Title},
		"data": progress,
	})
	c.Writer.Flush()

	// 3. Subscribe to Redis Pub/Sub
	pubsub := h.rdb.Subscribe(reqCtx, config.CacheKey.ExamMonitorChannel(examID.String()))
	defer pubsub.Close()
	ch := pubsub.Channel()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	// Only recount after something happened
	dirty := false

	h.log.Info().Str("exam_id", examID.String()).Msg("Grader attached to live monitor SSE")

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("exam_id", examID.String()).Msg("Grader disconnected from live monitor SSE")
			return

		case msg, open := <-ch:
			if !open {
				return
			}
			// Events are published as JSON already
			writeSSEData(c, []byte(msg.Payload))
			dirty = true

		case <-refreshTicker.C:
			if !dirty {
				continue
			}
			dirty = false
			h.sendRefresh(c, reqCtx, exam.ID)

		case <-keepAliveTicker.C:
			writeSSEData(c, pingPayload)
		}
	}
}

func (h *MonitorHandler) fetchProgress(parent context.Context, examID uuid.UUID) (*service.ExamProgress, error) {
	ctx, cancel := context.WithTimeout(parent, refreshTimeout)
	defer cancel()
	return h.monitorService.Progress(ctx, examID)
}

// sendRefresh recounts progress and writes a compact refresh event.
func (h *MonitorHandler) sendRefresh(c *gin.Context, ctx context.Context, examID uuid.UUID) {
	progress, err := h.fetchProgress(ctx, examID)
	if err != nil {
		h.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to fetch exam progress for refresh")
		return
	}
	c.SSEvent("message", map[string]interface{}{
		"type": "refresh",
		"data": progress,
	})
	c.Writer.Flush()
}

func writeSSEData(c *gin.Context, data []byte) {
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(data)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}

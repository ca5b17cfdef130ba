package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/response"
)

const healthTimeout = 2 * time.Second

// SystemHandler reports liveness, dependency health and runtime stats.
// Request and grading metrics live on /metrics.
type SystemHandler struct {
	pool      *pgxpool.Pool
	rdb       *redis.Client
	startTime time.Time
	log       zerolog.Logger
}

func NewSystemHandler(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		pool:      pool,
		rdb:       rdb,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type healthStatus struct {
	Status  string            `json:"status"`
	Uptime  string            `json:"uptime"`
	Checks  map[string]string `json:"checks"`
	Runtime runtimeStats      `json:"runtime"`
	DBConns int32             `json:"db_conns"`
}

type runtimeStats struct {
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	NumGC      uint32 `json:"num_gc"`
	GoVersion  string `json:"go_version"`
}

// Health godoc
// GET /health
// Returns 503 when Postgres or Redis cannot be reached.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	st := healthStatus{
		Status: "ok",
		Uptime: time.Since(h.startTime).Truncate(time.Second).String(),
		Checks: map[string]string{"postgres": "ok", "redis": "ok"},
	}

	if err := h.pool.Ping(ctx); err != nil {
		h.log.Warn().Err(err).Msg("Postgres health check failed")
		st.Checks["postgres"] = "down"
		st.Status = "degraded"
	}
	if err := h.rdb.Ping(ctx).Err(); err != nil {
		h.log.Warn().Err(err).Msg("Redis health check failed")
		st.Checks["redis"] = "down"
		st.Status = "degraded"
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	st.Runtime = runtimeStats{
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  ms.HeapAlloc,
		NumGC:      ms.NumGC,
		GoVersion:  runtime.Version(),
	}
	st.DBConns = h.pool.Stat().TotalConns()

	code := http.StatusOK
	if st.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	response.Success(c, code, st)
}

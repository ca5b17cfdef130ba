package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/config"
	"github.com/stemsi/exstem-grader/internal/model"
)

// ExamCatalog is an ExamStore that caches exam versions in Redis.
// Versions never change once written, so cached payloads have no expiry.
// Exam configuration is mutable and always read through.
type ExamCatalog struct {
	store ExamStore
	rdb   *redis.Client
	log   zerolog.Logger
}

// NewExamCatalog wraps store with a Redis version cache. A nil rdb disables caching.
func NewExamCatalog(store ExamStore, rdb *redis.Client, log zerolog.Logger) *ExamCatalog {
	return &ExamCatalog{
		store: store,
		rdb:   rdb,
		log:   log.With().Str("component", "exam_catalog").Logger(),
	}
}

func (c *ExamCatalog) GetExam(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	return c.store.GetExam(ctx, id)
}

func (c *ExamCatalog) GetExamBySlug(ctx context.Context, slug string) (*model.Exam, error) {
	return c.store.GetExamBySlug(ctx, slug)
}

func (c *ExamCatalog) ListPublishedExams(ctx context.Context) ([]model.Exam, error) {
	return c.store.ListPublishedExams(ctx)
}

// GetVersion serves a version from Redis, falling back to the store and
// filling the cache on a miss. Cache failures only cost a store read.
func (c *ExamCatalog) GetVersion(ctx context.Context, id uuid.UUID) (*model.ExamVersion, error) {
	if c.rdb == nil {
		return c.store.GetVersion(ctx, id)
	}

	key := config.CacheKey.ExamVersionKey(id.String())
	data, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var v model.ExamVersion
		if jsonErr := json.Unmarshal(data, &v); jsonErr == nil {
			return &v, nil
		}
		c.log.Warn().Str("version_id", id.String()).Msg("Corrupt cached version, reloading")
	case !errors.Is(err, redis.Nil):
		c.log.Warn().Err(err).Str("version_id", id.String()).Msg("Version cache read failed")
	}

	v, err := c.store.GetVersion(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache(ctx, v)
	return v, nil
}

func (c *ExamCatalog) cache(ctx context.Context, v *model.ExamVersion) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.log.Error().Err(err).Str("version_id", v.ID.String()).Msg("Failed to marshal version")
		return
	}
	if err := c.rdb.Set(ctx, config.CacheKey.ExamVersionKey(v.ID.String()), payload, 0).Err(); err != nil {
		c.log.Warn().Err(err).Str("version_id", v.ID.String()).Msg("Failed to cache version")
	}
}

// Prewarm loads the current version of every published exam into Redis on
// startup so the first wave of attempt starts does not stampede PostgreSQL.
func (c *ExamCatalog) Prewarm(ctx context.Context) error {
	if c.rdb == nil {
		return nil
	}

	exams, err := c.store.ListPublishedExams(ctx)
	if err != nil {
		return fmt.Errorf("list published exams: %w", err)
	}

	if len(exams) == 0 {
		c.log.Info().Msg("No published exams to prewarm")
		return nil
	}

	c.log.Info().Int("count", len(exams)).Msg("Prewarming published exam versions...")

	warmed := 0
	for i := range exams {
		if exams[i].CurrentVersionID == nil {
			continue
		}
		v, err := c.store.GetVersion(ctx, *exams[i].CurrentVersionID)
		if err != nil {
			c.log.Warn().
				Err(err).
				Str("exam_id", exams[i].ID.String()).
				Msg("Failed to load version, skipping")
			continue
		}
		c.cache(ctx, v)
		warmed++
	}

	c.log.Info().
		Int("warmed", warmed).
		Int("total", len(exams)).
		Msg("Prewarming complete")
	return nil
}

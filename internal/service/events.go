package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/config"
	"github.com/stemsi/exstem-grader/internal/model"
)

// AttemptEventType names a lifecycle transition.
type AttemptEventType string

const (
	EventAttemptStarted   AttemptEventType = "attempt.started"
	EventAnswerSaved      AttemptEventType = "attempt.answer_saved"
	EventAttemptSubmitted AttemptEventType = "attempt.submitted"
	EventAttemptExpired   AttemptEventType = "attempt.expired"
	EventAttemptGraded    AttemptEventType = "attempt.graded"
)

// AttemptEvent is published on the exam's monitor channel.
type AttemptEvent struct {
	Type          AttemptEventType   `json:"type"`
	AttemptID     uuid.UUID          `json:"attempt_id"`
	ExamID        uuid.UUID          `json:"exam_id"`
	AttemptNumber int                `json:"attempt_number"`
	State         model.AttemptState `json:"state"`
	Score         *float64           `json:"score,omitempty"`
	Percentage    *float64           `json:"percentage,omitempty"`
	At            time.Time          `json:"at"`
}

func newAttemptEvent(t AttemptEventType, a *model.ExamAttempt, at time.Time) AttemptEvent {
	return AttemptEvent{
		Type:          t,
		AttemptID:     a.ID,
		ExamID:        a.ExamID,
		AttemptNumber: a.AttemptNumber,
		State:         a.State,
		Score:         a.Score,
		Percentage:    a.Percentage,
		At:            at,
	}
}

// EventPublisher delivers attempt events. Delivery is best effort and never
// fails the operation that produced the event.
type EventPublisher interface {
	Publish(ctx context.Context, ev AttemptEvent)
}

// RedisEventPublisher publishes events on config.CacheKey.ExamMonitorChannel.
type RedisEventPublisher struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewRedisEventPublisher creates a RedisEventPublisher.
func NewRedisEventPublisher(rdb *redis.Client, log zerolog.Logger) *RedisEventPublisher {
	return &RedisEventPublisher{rdb: rdb, log: log.With().Str("component", "event_publisher").Logger()}
}

func (p *RedisEventPublisher) Publish(ctx context.Context, ev AttemptEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.log.Error().Err(err).Msg("Failed to marshal attempt event")
		return
	}
	channel := config.CacheKey.ExamMonitorChannel(ev.ExamID.String())
	if err := p.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		p.log.Warn().Err(err).
			Str("type", string(ev.Type)).
			Str("attempt_id", ev.AttemptID.String()).
			Msg("Failed to publish attempt event")
	}
}

// NopEventPublisher drops every event.
type NopEventPublisher struct{}

func (NopEventPublisher) Publish(context.Context, AttemptEvent) {}

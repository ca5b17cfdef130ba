package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-grader/internal/model"
)

// MonitorService builds the live progress view of an exam for graders.
type MonitorService struct {
	attempts AttemptStore
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(attempts AttemptStore) *MonitorService {
	return &MonitorService{attempts: attempts}
}

// ExamProgress counts attempts per state and answers waiting for a human.
type ExamProgress struct {
	ExamID         uuid.UUID                  `json:"exam_id"`
	ByState        map[model.AttemptState]int `json:"by_state"`
	PendingManual  int                        `json:"pending_manual"`
	TotalAttempts  int                        `json:"total_attempts"`
	PendingPartial bool                       `json:"pending_partial,omitempty"`
}

// Progress returns attempt counts and the manual grading backlog concurrently.
func (s *MonitorService) Progress(ctx context.Context, examID uuid.UUID) (*ExamProgress, error) {
	progress := &ExamProgress{
		ExamID:  examID,
		ByState: make(map[model.AttemptState]int),
	}

	var (
		byState    map[model.AttemptState]int
		pending    int
		stateErr   error
		pendingErr error
		wg         sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		byState, stateErr = s.attempts.CountAttemptsByState(ctx, examID)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		pending, pendingErr = s.attempts.CountPendingManual(ctx, examID)
	}()

	wg.Wait()

	// State counts are critical; the backlog count is best-effort
	if stateErr != nil {
		return nil, stateErr
	}

	for st, n := range byState {
		progress.ByState[st] = n
		progress.TotalAttempts += n
	}

	if pendingErr == nil {
		progress.PendingManual = pending
	} else {
		progress.PendingPartial = true
	}

	return progress, nil
}

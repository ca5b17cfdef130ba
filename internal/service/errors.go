package service

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Domain errors returned by the attempt services. Handlers map them to
// response codes with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidState      = errors.New("invalid attempt state")
	ErrForbidden         = errors.New("forbidden")
	ErrOutOfRange        = errors.New("points out of range")
	ErrExpired           = errors.New("attempt expired")
	ErrCandidateRequired = errors.New("candidate identity required")
	ErrLockTimeout       = errors.New("timed out waiting for lock")
)

// AdmissionError carries the reason an attempt start was refused.
type AdmissionError struct {
	Reason AdmissionReason
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("attempt not allowed: %s", e.Reason)
}

// Unwrap lets callers match admission denials with errors.Is(err, ErrForbidden).
func (e *AdmissionError) Unwrap() error {
	return ErrForbidden
}

// notFound converts a missing row into ErrNotFound and wraps anything else.
func notFound(what string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("get %s: %w", what, err)
}

package service

import "time"

// Clock supplies the current time. Every deadline and timestamp in the
// attempt lifecycle reads it, so tests can pin time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

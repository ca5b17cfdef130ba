package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ExamVersionKey returns the cache key for an immutable exam version payload
func (r *CacheKeyStruct) ExamVersionKey(versionID string) string {
	return fmt.Sprintf("exam_version:%s:payload", versionID)
}

// AttemptLockKey returns the lock key serializing writes to one attempt
func (r *CacheKeyStruct) AttemptLockKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:lock", attemptID)
}

// CandidateStartLockKey returns the lock key serializing attempt starts for one candidate
func (r *CacheKeyStruct) CandidateStartLockKey(examID, candidateKey string) string {
	return fmt.Sprintf("exam:%s:candidate:%s:start_lock", examID, candidateKey)
}

// ExamMonitorChannel returns the Redis PubSub channel name for an exam monitor
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

var CacheKey = NewCacheKeyStruct()

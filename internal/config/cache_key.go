package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ExamDefinitionKey returns the cache key for a published exam definition
func (r *CacheKeyStruct) ExamDefinitionKey(examID string) string {
	return fmt.Sprintf("exam:%s:definition", examID)
}

// SessionEventRateKey returns the rate limiter bucket for a session's event reports
func (r *CacheKeyStruct) SessionEventRateKey(sessionID string) string {
	return fmt.Sprintf("session:%s:event_rate", sessionID)
}

// ExamMonitorChannel returns the Redis PubSub channel name for an exam monitor
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

var CacheKey = NewCacheKeyStruct()

package domain

import "time"

const (
	EventSessionStarted  = "session.started"
	EventTurnCompleted   = "turn.completed"
	EventTurnRateLimited = "turn.rate_limited"
	EventSessionClosed   = "session.closed"
	EventCacheInvalidate = "cache.invalidate"
)

type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	SessionID string                 `json:"session_id,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Package storage defines the event log shared by the SQL backends.
package storage

import "time"

// DefaultQueryLimit and MaxQueryLimit bound Query.
const (
	DefaultQueryLimit = 200
	MaxQueryLimit     = 10000
)

// EventRow represents an event stored in the event log.
type EventRow struct {
	EventID      int64                  `json:"event_id"`
	Timestamp    time.Time              `json:"ts"`
	Level        string                 `json:"level"`
	Event        string                 `json:"event"`
	Message      *string                `json:"msg,omitempty"`
	Fields       map[string]interface{} `json:"fields,omitempty"`
	SimulationID string                 `json:"simulation_id"`
	SessionID    *string                `json:"session_id,omitempty"`
}

// Store persists emitted events and reads them back newest first.
type Store interface {
	Append(ts time.Time, level, event, msg string, fields map[string]interface{}, sessionID string) error
	Query(limit int) ([]EventRow, error)
	Close() error
}

// ClampLimit normalises a Query limit.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}

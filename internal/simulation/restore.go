package simulation

import (
	"github.com/AaronLay10/SmokersTable/internal/events"
	"github.com/AaronLay10/SmokersTable/internal/storage"
)

// DefaultRestoreLimit is the default number of events to load for restore.
const DefaultRestoreLimit = 1000

// EventSource is the read side of the event log.
type EventSource interface {
	Query(limit int) ([]storage.EventRow, error)
}

// RestoreCounts rebuilds smoked counts from the event log. smoker.finished
// and smoker.restored carry the running total, so the newest one per smoker
// wins. It returns nil and 0 when src is nil.
func RestoreCounts(src EventSource, limit int) (map[string]int64, int, error) {
	if src == nil {
		return nil, 0, nil
	}
	if limit <= 0 {
		limit = DefaultRestoreLimit
	}

	rows, err := src.Query(limit)
	if err != nil {
		return nil, 0, err
	}

	counts := make(map[string]int64)
	// Rows arrive newest first.
	for _, row := range rows {
		if row.Event != "smoker.finished" && row.Event != "smoker.restored" {
			continue
		}
		id, ok := row.Fields["smoker_id"].(string)
		if !ok || id == "" {
			continue
		}
		if _, done := counts[id]; done {
			continue
		}
		if n, ok := asInt64(row.Fields["smoked"]); ok {
			counts[id] = n
		}
	}

	return counts, len(rows), nil
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}

// ApplyRestoredCounts seeds smoker counters. It does not touch the table.
// Unknown smoker ids are ignored.
func (s *Simulation) ApplyRestoredCounts(counts map[string]int64) int {
	applied := 0
	for _, sm := range s.smokers {
		n, ok := counts[sm.ID()]
		if !ok {
			continue
		}
		sm.RestoreSmoked(n)
		applied++
		events.Emit("info", "smoker.restored", "", map[string]interface{}{
			"smoker_id": sm.ID(),
			"smoked":    n,
		})
	}
	return applied
}

// EmitStartupRestore emits the system.startup_restore event.
func EmitStartupRestore(restored int, simulationID string) {
	events.Emit("info", "system.startup_restore", "", map[string]interface{}{
		"restored":      restored,
		"simulation_id": simulationID,
	})
}

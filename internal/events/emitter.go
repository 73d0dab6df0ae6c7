package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AaronLay10/SmokersTable/internal/storage"
)

var buffer = NewRingBuffer(256)

var totalEmitted atomic.Int64

var (
	store         storage.Store
	sessionID     string
	storeMu       sync.RWMutex
	storeErrorLog bool
)

// SetStore sets the event log used for persistence. nil disables it.
func SetStore(s storage.Store) {
	storeMu.Lock()
	store = s
	storeErrorLog = false
	storeMu.Unlock()
}

// GetStore returns the current event log (for API queries and restore).
func GetStore() storage.Store {
	storeMu.RLock()
	defer storeMu.RUnlock()
	return store
}

// SetSessionID sets the run identifier stamped on persisted events.
func SetSessionID(id string) {
	storeMu.Lock()
	sessionID = id
	storeMu.Unlock()
}

// SessionID returns the run identifier.
func SessionID() string {
	storeMu.RLock()
	defer storeMu.RUnlock()
	return sessionID
}

type Event struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Name      string                 `json:"event"`
	Message   string                 `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Emit records an event in the ring buffer, broadcasts it to subscribers and
// appends it to the event log when one is set. It returns the JSON encoding.
func Emit(level, name, msg string, fields map[string]interface{}) ([]byte, error) {
	if err := Validate(name); err != nil {
		return nil, err
	}

	ts := time.Now().UTC()
	e := Event{
		Timestamp: ts.Format(time.RFC3339Nano),
		Level:     level,
		Name:      name,
		Message:   msg,
		Fields:    fields,
	}

	buffer.Add(e)
	totalEmitted.Add(1)
	broadcaster.Publish(e)

	storeMu.RLock()
	s := store
	sid := sessionID
	errorLogged := storeErrorLog
	storeMu.RUnlock()

	if s != nil {
		if err := s.Append(ts, level, name, msg, fields, sid); err != nil && !errorLogged {
			storeMu.Lock()
			first := !storeErrorLog
			storeErrorLog = true
			storeMu.Unlock()
			if first {
				// Added straight to the buffer: going through Emit would
				// recurse while the store keeps failing.
				buffer.Add(Event{
					Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
					Level:     "error",
					Name:      "system.error",
					Message:   "event log append failed",
					Fields: map[string]interface{}{
						"error": err.Error(),
					},
				})
			}
		}
	}

	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return b, nil
}

func Snapshot() []Event {
	return buffer.Snapshot()
}

// TotalCount returns the number of events emitted since startup.
func TotalCount() int64 {
	return totalEmitted.Load()
}

// Clear resets the event buffer. Used for testing.
func Clear() {
	buffer.Clear()
}

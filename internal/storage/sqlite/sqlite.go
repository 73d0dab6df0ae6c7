// Package sqlite stores the smoker event log in a local SQLite file.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver

	"github.com/AaronLay10/SmokersTable/internal/storage"
)

const busyTimeout = 5 * time.Second

// Client is a storage.Store backed by SQLite.
type Client struct {
	db           *sql.DB
	simulationID string
}

// Open creates or opens the database at path and applies the schema.
func Open(path, simulationID string) (*Client, error) {
	// modernc.org/sqlite applies _pragma entries to every pooled connection.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		path, busyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}

	// Single writer avoids SQLITE_BUSY from concurrent emitters.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}

	c := &Client{db: db, simulationID: simulationID}
	if err := c.createTable(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}
	return c, nil
}

func (c *Client) createTable() error {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS smoker_events (
			event_id      INTEGER PRIMARY KEY AUTOINCREMENT,
			ts            TEXT NOT NULL,
			level         TEXT NOT NULL,
			event         TEXT NOT NULL,
			msg           TEXT,
			fields        TEXT,
			simulation_id TEXT NOT NULL,
			session_id    TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_smoker_events_simulation_id ON smoker_events(simulation_id, event_id);
	`)
	return err
}

// Append inserts an event.
func (c *Client) Append(ts time.Time, level, event, msg string, fields map[string]interface{}, sessionID string) error {
	var fieldsJSON sql.NullString
	if fields != nil {
		b, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("failed to marshal fields: %w", err)
		}
		fieldsJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err := c.db.Exec(`
		INSERT INTO smoker_events (ts, level, event, msg, fields, simulation_id, session_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ts.UTC().Format(time.RFC3339Nano), level, event,
		sql.NullString{String: msg, Valid: msg != ""},
		fieldsJSON, c.simulationID,
		sql.NullString{String: sessionID, Valid: sessionID != ""},
	)
	return err
}

// Query returns the last N events of this simulation, newest first.
// Insertion order is authoritative: event_id is monotonic.
func (c *Client) Query(limit int) ([]storage.EventRow, error) {
	rows, err := c.db.Query(`
		SELECT event_id, ts, level, event, msg, fields, simulation_id, session_id
		FROM smoker_events
		WHERE simulation_id = ?
		ORDER BY event_id DESC
		LIMIT ?`, c.simulationID, storage.ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.EventRow
	for rows.Next() {
		var (
			e                      storage.EventRow
			ts                     string
			msg, fields, sessionID sql.NullString
		)
		if err := rows.Scan(&e.EventID, &ts, &e.Level, &e.Event, &msg, &fields, &e.SimulationID, &sessionID); err != nil {
			return nil, err
		}
		e.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("event %d: bad timestamp %q: %w", e.EventID, ts, err)
		}
		if msg.Valid {
			e.Message = &msg.String
		}
		if sessionID.Valid {
			e.SessionID = &sessionID.String
		}
		if fields.Valid && fields.String != "" {
			if err := json.Unmarshal([]byte(fields.String), &e.Fields); err != nil {
				return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Package postgres stores the smoker event log in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/AaronLay10/SmokersTable/internal/config"
	"github.com/AaronLay10/SmokersTable/internal/storage"
)

const (
	connectTimeout = 5 * time.Second
	queryTimeout   = 10 * time.Second
)

const schema = `
	CREATE TABLE IF NOT EXISTS smoker_events (
		event_id      BIGSERIAL PRIMARY KEY,
		ts            TIMESTAMPTZ NOT NULL,
		level         TEXT NOT NULL,
		event         TEXT NOT NULL,
		msg           TEXT,
		fields        JSONB,
		simulation_id TEXT NOT NULL,
		session_id    TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_smoker_events_sim_ts ON smoker_events(simulation_id, ts DESC);
`

// Config locates the database. Zero fields fall back to the libpq defaults.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
}

// ConfigFromEnv reads the standard PG* variables. PGPASSWORD may be supplied
// through PGPASSWORD_FILE.
func ConfigFromEnv() (Config, error) {
	password, err := config.ResolveSecret("PGPASSWORD")
	if err != nil {
		return Config{}, err
	}
	return Config{
		Host:     getEnv("PGHOST", "127.0.0.1"),
		Port:     getEnv("PGPORT", "5432"),
		User:     getEnv("PGUSER", "smokers"),
		Password: password,
		Database: getEnv("PGDATABASE", "smokers"),
		SSLMode:  getEnv("PGSSLMODE", "disable"),
	}, nil
}

// DSN renders cfg as a postgres:// URL with credentials escaped.
func (cfg Config) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(cfg.Host, cfg.Port),
		Path:   "/" + cfg.Database,
	}
	switch {
	case cfg.User != "" && cfg.Password != "":
		u.User = url.UserPassword(cfg.User, cfg.Password)
	case cfg.User != "":
		u.User = url.User(cfg.User)
	}
	q := url.Values{}
	if cfg.SSLMode != "" {
		q.Set("sslmode", cfg.SSLMode)
	}
	q.Set("connect_timeout", fmt.Sprint(int(connectTimeout.Seconds())))
	u.RawQuery = q.Encode()
	return u.String()
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// Client is a storage.Store backed by PostgreSQL.
type Client struct {
	db           *sql.DB
	insert       *sql.Stmt
	simulationID string
}

// New connects using ConfigFromEnv.
func New(simulationID string) (*Client, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return Open(cfg, simulationID)
}

// Open connects, applies the schema and prepares the insert statement.
func Open(cfg Config, simulationID string) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("postgres: open failed: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping %s failed: %w", net.JoinHostPort(cfg.Host, cfg.Port), err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: create schema: %w", err)
	}
	insert, err := db.PrepareContext(ctx, `
		INSERT INTO smoker_events (ts, level, event, msg, fields, simulation_id, session_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: prepare insert: %w", err)
	}

	return &Client{db: db, insert: insert, simulationID: simulationID}, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Append inserts an event.
func (c *Client) Append(ts time.Time, level, event, msg string, fields map[string]interface{}, sessionID string) error {
	var fieldsJSON []byte
	if fields != nil {
		b, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("postgres: marshal fields: %w", err)
		}
		fieldsJSON = b
	}

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	_, err := c.insert.ExecContext(ctx, ts, level, event, nullable(msg), fieldsJSON, c.simulationID, nullable(sessionID))
	return err
}

// Query returns up to limit events of this simulation, newest first.
func (c *Client) Query(limit int) ([]storage.EventRow, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	rows, err := c.db.QueryContext(ctx, `
		SELECT event_id, ts, level, event, msg, fields, simulation_id, session_id
		FROM smoker_events
		WHERE simulation_id = $1
		ORDER BY ts DESC, event_id DESC
		LIMIT $2`, c.simulationID, storage.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("postgres: query events: %w", err)
	}
	defer rows.Close()

	var out []storage.EventRow
	for rows.Next() {
		var (
			row        storage.EventRow
			fieldsJSON []byte
			msg, sid   sql.NullString
		)
		if err := rows.Scan(&row.EventID, &row.Timestamp, &row.Level, &row.Event, &msg, &fieldsJSON, &row.SimulationID, &sid); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		if msg.Valid {
			row.Message = &msg.String
		}
		if sid.Valid {
			row.SessionID = &sid.String
		}
		if len(fieldsJSON) > 0 {
			if err := json.Unmarshal(fieldsJSON, &row.Fields); err != nil {
				return nil, fmt.Errorf("postgres: decode fields of event %d: %w", row.EventID, err)
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}
	if c.insert != nil {
		_ = c.insert.Close()
	}
	return c.db.Close()
}

package postgres

import (
	"path/filepath"
	"testing"

	"github.com/AaronLay10/SmokersTable/internal/storage"
)

var _ storage.Store = (*Client)(nil)

func TestGetEnv(t *testing.T) {
	t.Setenv("SMOKERS_TEST_PG", "")
	if got := getEnv("SMOKERS_TEST_PG", "fallback"); got != "fallback" {
		t.Errorf("getEnv unset = %q", got)
	}
	t.Setenv("SMOKERS_TEST_PG", "set")
	if got := getEnv("SMOKERS_TEST_PG", "fallback"); got != "set" {
		t.Errorf("getEnv set = %q", got)
	}
}

func TestNewFailsWithUnreadablePasswordFile(t *testing.T) {
	t.Setenv("PGPASSWORD_FILE", filepath.Join(t.TempDir(), "missing"))
	if _, err := New("classic"); err == nil {
		t.Fatal("expected error for missing PGPASSWORD_FILE")
	}
}

func TestNewFailsWhenUnreachable(t *testing.T) {
	t.Setenv("PGPASSWORD_FILE", "")
	t.Setenv("PGHOST", "127.0.0.1")
	t.Setenv("PGPORT", "1")
	if _, err := New("classic"); err == nil {
		t.Fatal("expected ping failure on a closed port")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("PGPASSWORD_FILE", "")
	t.Setenv("PGPASSWORD", "")
	t.Setenv("PGHOST", "db.internal")
	t.Setenv("PGPORT", "")
	t.Setenv("PGUSER", "")
	t.Setenv("PGDATABASE", "events")
	t.Setenv("PGSSLMODE", "require")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	want := Config{Host: "db.internal", Port: "5432", User: "smokers", Database: "events", SSLMode: "require"}
	if cfg != want {
		t.Errorf("ConfigFromEnv = %+v, want %+v", cfg, want)
	}
}

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "no password",
			cfg:  Config{Host: "127.0.0.1", Port: "5432", User: "smokers", Database: "smokers", SSLMode: "disable"},
			want: "postgres://smokers@127.0.0.1:5432/smokers?connect_timeout=5&sslmode=disable",
		},
		{
			name: "password is escaped",
			cfg:  Config{Host: "db", Port: "6543", User: "ops", Password: "p@ss word", Database: "log"},
			want: "postgres://ops:p%40ss%20word@db:6543/log?connect_timeout=5",
		},
		{
			name: "ipv6 host",
			cfg:  Config{Host: "::1", Port: "5432", Database: "smokers"},
			want: "postgres://[::1]:5432/smokers?connect_timeout=5",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.DSN(); got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

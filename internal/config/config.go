package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Wake modes for smoker loops.
const (
	WakeNotify = "notify"
	WakePoll   = "poll"
)

// Storage drivers.
const (
	DriverNone     = ""
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type IngredientConfig struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label"`
}

type SmokerConfig struct {
	ID         string `yaml:"id"`
	Ingredient string `yaml:"ingredient"`
}

type TimingConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	SmokeMin       time.Duration `yaml:"smoke_min"`
	SmokeMax       time.Duration `yaml:"smoke_max"`
	SmokeStep      time.Duration `yaml:"smoke_step"`
	SupplyInterval time.Duration `yaml:"supply_interval"`
	WakeMode       string        `yaml:"wake_mode"`
}

type StorageConfig struct {
	Driver       string `yaml:"driver"`
	SQLitePath   string `yaml:"sqlite_path"`
	RestoreLimit int    `yaml:"restore_limit"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	URL         string `yaml:"url"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// SimConfig is the top-level smokers.yaml document.
type SimConfig struct {
	Version    int `yaml:"version"`
	Simulation struct {
		ID          string `yaml:"id"`
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
	} `yaml:"simulation"`
	Ingredients []IngredientConfig `yaml:"ingredients"`
	Smokers     []SmokerConfig     `yaml:"smokers"`
	Timing      TimingConfig       `yaml:"timing"`
	Supplier    struct {
		Enabled *bool `yaml:"enabled"`
	} `yaml:"supplier"`
	Network struct {
		HTTPPort int `yaml:"http_port"`
	} `yaml:"network"`
	Storage StorageConfig `yaml:"storage"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Log     struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Default returns the classic three smoker table: one smoker per ingredient,
// 500ms polling and 2-7 second cigarettes.
func Default() *SimConfig {
	cfg := &SimConfig{Version: 1}
	cfg.Simulation.ID = "classic"
	cfg.Simulation.Name = "Cigarette smokers"
	cfg.Ingredients = []IngredientConfig{
		{ID: "tobacco", Label: "Tobacco"},
		{ID: "paper", Label: "Paper"},
		{ID: "matches", Label: "Matches"},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *SimConfig) applyDefaults() {
	if c.Simulation.ID == "" {
		c.Simulation.ID = "classic"
	}
	if len(c.Smokers) == 0 {
		for _, ing := range c.Ingredients {
			c.Smokers = append(c.Smokers, SmokerConfig{ID: ing.ID, Ingredient: ing.ID})
		}
	}
	for i := range c.Smokers {
		if c.Smokers[i].ID == "" {
			c.Smokers[i].ID = c.Smokers[i].Ingredient
		}
	}
	t := &c.Timing
	if t.PollInterval == 0 {
		t.PollInterval = 500 * time.Millisecond
	}
	if t.SmokeMin == 0 && t.SmokeMax == 0 {
		t.SmokeMin = 2 * time.Second
		t.SmokeMax = 7 * time.Second
	}
	if t.SmokeStep == 0 {
		t.SmokeStep = time.Second
	}
	if t.SupplyInterval == 0 {
		t.SupplyInterval = time.Second
	}
	if t.WakeMode == "" {
		t.WakeMode = WakeNotify
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "smokers.db"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "smokers"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "smokers-" + c.Simulation.ID
	}
}

// HTTPPort returns the configured HTTP port, defaulting to 8080 if not set.
func (c *SimConfig) HTTPPort() int {
	if c.Network.HTTPPort == 0 {
		return 8080
	}
	return c.Network.HTTPPort
}

// SupplierEnabled reports whether the built-in supplier should run. It is on
// unless the file sets supplier.enabled: false.
func (c *SimConfig) SupplierEnabled() bool {
	return c.Supplier.Enabled == nil || *c.Supplier.Enabled
}

// Validate reports every problem found in the configuration.
func (c *SimConfig) Validate() error {
	var errs []error

	if len(c.Ingredients) < 3 {
		errs = append(errs, fmt.Errorf("need at least 3 ingredients, got %d", len(c.Ingredients)))
	}
	known := make(map[string]struct{}, len(c.Ingredients))
	for _, ing := range c.Ingredients {
		if ing.ID == "" {
			errs = append(errs, errors.New("ingredient with empty id"))
			continue
		}
		if _, dup := known[ing.ID]; dup {
			errs = append(errs, fmt.Errorf("duplicate ingredient %q", ing.ID))
		}
		known[ing.ID] = struct{}{}
	}

	if len(c.Smokers) == 0 {
		errs = append(errs, errors.New("no smokers configured"))
	}
	ids := make(map[string]struct{}, len(c.Smokers))
	for _, s := range c.Smokers {
		if _, ok := known[s.Ingredient]; !ok {
			errs = append(errs, fmt.Errorf("smoker %q: unknown ingredient %q", s.ID, s.Ingredient))
		}
		if _, dup := ids[s.ID]; dup {
			errs = append(errs, fmt.Errorf("duplicate smoker id %q", s.ID))
		}
		ids[s.ID] = struct{}{}
	}

	t := c.Timing
	if t.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("timing.poll_interval must be positive, got %s", t.PollInterval))
	}
	if t.SmokeMin <= 0 || t.SmokeMax < t.SmokeMin {
		errs = append(errs, fmt.Errorf("timing.smoke_min/smoke_max invalid: %s..%s", t.SmokeMin, t.SmokeMax))
	}
	if t.SmokeStep <= 0 {
		errs = append(errs, fmt.Errorf("timing.smoke_step must be positive, got %s", t.SmokeStep))
	}
	if t.SupplyInterval < 0 {
		errs = append(errs, fmt.Errorf("timing.supply_interval must not be negative, got %s", t.SupplyInterval))
	}
	if t.WakeMode != WakeNotify && t.WakeMode != WakePoll {
		errs = append(errs, fmt.Errorf("timing.wake_mode must be %q or %q, got %q", WakeNotify, WakePoll, t.WakeMode))
	}

	switch c.Storage.Driver {
	case DriverNone, DriverPostgres, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("unsupported storage.driver %q", c.Storage.Driver))
	}

	return errors.Join(errs...)
}

// Parse decodes and validates a smokers.yaml document.
func Parse(b []byte) (*SimConfig, error) {
	var cfg SimConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}

	if cfg.Version != 1 {
		return nil, fmt.Errorf("unsupported smokers.yaml version: %d", cfg.Version)
	}

	if len(cfg.Ingredients) == 0 {
		cfg.Ingredients = Default().Ingredients
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid smokers.yaml: %w", err)
	}
	return &cfg, nil
}

// LoadSimConfig reads the configuration file at path. An empty path yields
// Default().
func LoadSimConfig(path string) (*SimConfig, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

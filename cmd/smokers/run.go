package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AaronLay10/SmokersTable/internal/api"
	"github.com/AaronLay10/SmokersTable/internal/config"
	"github.com/AaronLay10/SmokersTable/internal/events"
	"github.com/AaronLay10/SmokersTable/internal/log"
	"github.com/AaronLay10/SmokersTable/internal/mqtt"
	"github.com/AaronLay10/SmokersTable/internal/simulation"
	"github.com/AaronLay10/SmokersTable/internal/storage"
	"github.com/AaronLay10/SmokersTable/internal/storage/postgres"
	"github.com/AaronLay10/SmokersTable/internal/storage/sqlite"
)

type runOptions struct {
	Port     int
	Duration time.Duration
	NoHTTP   bool
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the simulation until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if opts.Duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, opts.Duration)
				defer cancel()
			}
			return run(ctx, root, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Port, "port", "p", 0, "HTTP port, overrides network.http_port")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	cmd.Flags().BoolVar(&opts.NoHTTP, "no-http", false, "do not start the HTTP API")

	return cmd
}

func run(ctx context.Context, root *rootOptions, opts *runOptions) error {
	cfg, err := config.LoadSimConfig(root.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.Port != 0 {
		cfg.Network.HTTPPort = opts.Port
	}

	level := root.LogLevel
	if level == "" {
		level = cfg.Log.Level
	}
	log.Configure(log.Config{Level: level})
	logger := log.WithComponent("main").With().Str("simulation_id", cfg.Simulation.ID).Logger()

	sessionID := uuid.NewString()
	events.SetSessionID(sessionID)

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	if store != nil {
		defer func() {
			events.SetStore(nil)
			if err := store.Close(); err != nil {
				logger.Warn().Err(err).Msg("close event log")
			}
		}()
		events.SetStore(store)
	}

	sim, err := simulation.New(cfg)
	if err != nil {
		return fmt.Errorf("build simulation: %w", err)
	}

	if store != nil {
		restore(logger, sim, store, cfg.Storage.RestoreLimit)
	}

	metrics := api.NewMetrics(sim)
	auth, err := api.LoadAuth()
	if err != nil {
		return err
	}

	var bridge *mqtt.Bridge
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.NewClient(mqtt.Options{
			URL:       cfg.MQTT.URL,
			ClientID:  cfg.MQTT.ClientID,
			WillTopic: mqtt.AvailabilityTopic(cfg.MQTT.TopicPrefix),
		})
		if err != nil {
			return err
		}
		bridge = mqtt.NewBridge(mqttClient, sim, cfg.MQTT.TopicPrefix)
		mqttClient.SetOnConnect(func() {
			if err := bridge.OnConnect(); err != nil {
				logger.Error().Err(err).Msg("mqtt subscribe failed")
			}
		})
		if err := mqttClient.Connect(); err != nil {
			// The client keeps retrying in the background.
			logger.Warn().Err(err).Str("broker", mqtt.BrokerURL(cfg.MQTT.URL)).Msg("mqtt not connected yet")
		}
		defer mqttClient.Disconnect()
	}

	hostname, _ := os.Hostname()
	events.Emit("info", "system.startup", "smokers starting", map[string]interface{}{
		"service":       "smokers",
		"hostname":      hostname,
		"pid":           os.Getpid(),
		"simulation_id": sim.ID(),
		"session_id":    sessionID,
		"smokers":       len(sim.Smokers()),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sim.Run(gctx) })
	if bridge != nil {
		g.Go(func() error { return bridge.Run(gctx) })
	}
	if !opts.NoHTTP {
		if !auth.Enabled() {
			logger.Warn().Msg("HTTP auth disabled: SMOKERS_ADMIN_USER/PASS not set")
		}
		srvOpts := api.Options{
			Port:    cfg.HTTPPort(),
			Auth:    auth,
			TLS:     api.TLSFromEnv(),
			Metrics: metrics,
		}
		if mqttClient != nil {
			srvOpts.MQTTConnected = mqttClient.IsConnected
		}
		server := api.NewServer(sim, srvOpts)
		g.Go(func() error { return server.ListenAndServe(gctx) })
	}

	err = g.Wait()

	var total int64
	for _, sm := range sim.Smokers() {
		total += sm.Smoked()
	}
	events.Emit("info", "system.shutdown", "smokers stopped", map[string]interface{}{
		"simulation_id": sim.ID(),
		"smoked":        total,
	})
	events.CloseAllSubscribers()
	logger.Info().Int64("smoked", total).Msg("shutdown complete")
	return err
}

func openStore(cfg *config.SimConfig) (storage.Store, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		c, err := postgres.New(cfg.Simulation.ID)
		if err != nil {
			return nil, fmt.Errorf("open postgres event log: %w", err)
		}
		return c, nil
	case config.DriverSQLite:
		c, err := sqlite.Open(cfg.Storage.SQLitePath, cfg.Simulation.ID)
		if err != nil {
			return nil, fmt.Errorf("open sqlite event log: %w", err)
		}
		return c, nil
	default:
		return nil, nil
	}
}

// restore seeds smoked counts from the event log. Failures are logged and the
// simulation starts from zero.
func restore(logger zerolog.Logger, sim *simulation.Simulation, src simulation.EventSource, limit int) {
	counts, scanned, err := simulation.RestoreCounts(src, limit)
	if err != nil {
		logger.Error().Err(err).Msg("restore from event log failed")
		events.Emit("error", "system.error", "restore failed", map[string]interface{}{"error": err.Error()})
		return
	}
	applied := sim.ApplyRestoredCounts(counts)
	simulation.EmitStartupRestore(applied, sim.ID())
	logger.Info().Int("events", scanned).Int("smokers", applied).Msg("restored counts")
}

package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/AaronLay10/SmokersTable/internal/config"
)

func newValidateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a simulation file and print a summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadSimConfig(opts.ConfigPath)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), cfg)
			return nil
		},
	}
}

func printSummary(w io.Writer, cfg *config.SimConfig) {
	fmt.Fprintf(w, "simulation: %s", cfg.Simulation.ID)
	if cfg.Simulation.Name != "" {
		fmt.Fprintf(w, " (%s)", cfg.Simulation.Name)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "ingredients: %d\n", len(cfg.Ingredients))
	for _, ing := range cfg.Ingredients {
		fmt.Fprintf(w, "  - %s\n", ing.ID)
	}
	fmt.Fprintf(w, "smokers: %d\n", len(cfg.Smokers))
	for _, s := range cfg.Smokers {
		fmt.Fprintf(w, "  - %s owns %s\n", s.ID, s.Ingredient)
	}

	t := cfg.Timing
	fmt.Fprintf(w, "smoking: %s to %s step %s\n", t.SmokeMin, t.SmokeMax, t.SmokeStep)
	fmt.Fprintf(w, "wake: %s, poll every %s\n", t.WakeMode, t.PollInterval)
	if cfg.SupplierEnabled() {
		fmt.Fprintf(w, "supplier: every %s\n", t.SupplyInterval)
	} else {
		fmt.Fprintln(w, "supplier: disabled")
	}

	driver := cfg.Storage.Driver
	if driver == config.DriverNone {
		driver = "none"
	}
	fmt.Fprintf(w, "storage: %s\n", driver)
	if cfg.MQTT.Enabled {
		fmt.Fprintf(w, "mqtt: %s prefix %s\n", cfg.MQTT.URL, cfg.MQTT.TopicPrefix)
	} else {
		fmt.Fprintln(w, "mqtt: disabled")
	}
	fmt.Fprintf(w, "http: :%d\n", cfg.HTTPPort())
}

// Command smokers runs the cigarette smokers table as a service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AaronLay10/SmokersTable/internal/version"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	ConfigPath string
	LogLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "smokers",
		Short:         "Cigarette smokers table",
		Long:          "Runs smokers around a shared two-slot table and serves their status over HTTP and MQTT.",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "simulation YAML file (default: classic three smokers)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level, overrides the config file and LOG_LEVEL")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newValidateCommand(opts))

	return cmd
}

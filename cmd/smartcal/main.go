package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"smartcal/internal/config"
	appLog "smartcal/internal/log"
)

var version = "0.1.0-dev"

const defaultConfigPath = "/etc/smartcal/config.yaml"

// rootFlags holds persistent flag values shared by all subcommands.
type rootFlags struct {
	configPath string
	listen     string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "smartcal",
		Short:         "Smart calendar assistant: text-to-event extraction and reminders",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				appLog.Warn("failed to load .env", "err", err)
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", envOr("SMARTCAL_CONFIG", defaultConfigPath), "Path to config file")
	pf.StringVar(&flags.listen, "listen", "", "HTTP listen address (overrides config if set)")
	pf.StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error (overrides config if set)")

	root.AddCommand(
		newServeCmd(flags),
		newExtractCmd(flags),
		newExportCmd(flags),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "smartcal", version)
		},
	}
}

// loadConfig reads the config file and applies flag overrides. A config file
// that could not be written on first run is not fatal: defaults are used.
func loadConfig(flags *rootFlags) (*config.Config, *time.Location, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		if cfg == nil {
			return nil, nil, fmt.Errorf("load config %s: %w", flags.configPath, err)
		}
		appLog.Warn("could not write default config; continuing with defaults", "config_path", flags.configPath, "err", err)
	}

	if flags.listen != "" {
		cfg.Listen = flags.listen
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))

	loc, err := cfg.Location()
	if err != nil {
		appLog.Warn("unknown timezone; using local zone", "timezone", cfg.Timezone, "err", err)
	}
	return cfg, loc, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

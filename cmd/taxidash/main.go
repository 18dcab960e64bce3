// Package main implements the taxidash binary: the dashboard API server
// plus one-shot commands for querying, generating and publishing monthly
// trip files.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/taxidash/taxidash/internal/config"
	"github.com/taxidash/taxidash/internal/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	configFile string
	dataDir    string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "taxidash",
	Short:         "NYC taxi trip dashboard",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "taxidash version %s (commit: %s)\n", version, commit)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "path to configuration file (YAML or JSON)")
	flags.StringVar(&dataDir, "data-dir", "", "directory holding data/<category>/")
	flags.StringVar(&logLevel, "log-level", "", "log level (DEBUG, INFO, WARN, ERROR)")

	rootCmd.AddCommand(serveCmd, queryCmd, generateCmd, publishCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig layers the config file, the environment and the persistent
// flags, in that order.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	if dataDir != "" {
		cfg.DataDir = dataDir
		cfg.Source.Path = ""
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	cfg.Resolve()
	return cfg, nil
}

// setup loads the configuration and installs the process logger.
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, logging.Init(cfg.Log), nil
}

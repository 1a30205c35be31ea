package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/browserctl/browserctl-go/internal/config"
	"github.com/browserctl/browserctl-go/pkg/version"
)

// Exit codes: 0 success, 1 runtime failure, 2 validation/configuration failure.
const (
	exitOK      = 0
	exitFailure = 1
	exitConfig  = 2
)

// errConfig marks validation/configuration failures so main can exit 2.
var errConfig = errors.New("configuration error")

var (
	flagConfig string
	flagServer string
)

var rootCmd = &cobra.Command{
	Use:     "browserctl",
	Short:   "Browser automation tool server",
	Long:    "browserctl runs a pool of managed browsers and exposes automation tools over HTTP and MCP.",
	Version: version.Full(),
	// Subcommands print their own errors through zerolog.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().StringVarP(&flagServer, "server", "s", "", "server address for client commands (default from config)")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(setupCmd)
}

// loadConfig loads and validates configuration for any subcommand.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: load: %v", errConfig, err)
	}
	setupLogging(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", errConfig, err)
	}
	return cfg, nil
}

// serverAddr resolves the base URL client commands talk to.
func serverAddr(cfg *config.Config) string {
	if flagServer != "" {
		return flagServer
	}
	host := cfg.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, cfg.Port)
}

// setupLogging configures zerolog based on the log level.
func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	})
	zerolog.SetGlobalLevel(parseLevel(level))
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

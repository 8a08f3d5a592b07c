package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/iammorganparry/wagate/internal/config"
)

var rootCmdConfigPath string

var rootCmd = &cobra.Command{
	Use:   "wagated",
	Short: "Multi-tenant messaging session gateway",
	Long: "wagated keeps many tenants' paired messaging sessions connected.\n" +
		"It pairs new sessions, persists their credentials, reconnects after failures\n" +
		"and restores every live session after a restart.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&rootCmdConfigPath,
		"config",
		"",
		"path to a YAML or TOML config file (or env var WAGATE_CONFIG)",
	)
}

func loadConfig() (*config.Config, error) {
	return config.Load(rootCmdConfigPath)
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/gavel/internal/config"
)

func main() {
	cfg := config.Load()

	var root = &cobra.Command{
		Use:           "gavel",
		Short:         "Hearing transport client for the small-claims backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(cfg.LogLevel)
		},
	}
	root.PersistentFlags().StringVar(&cfg.APIURL, "api-url", cfg.APIURL, "backend base URL")
	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")

	root.AddCommand(serveCMD(&cfg), hearingCMD(&cfg), sessionCMD(&cfg))
	if err := root.Execute(); err != nil {
		slog.Error("gavel failed", "error", err)
		os.Exit(1)
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}

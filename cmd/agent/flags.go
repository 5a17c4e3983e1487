package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/chriscow/livekit-voice-agent/internal/config"
)

// applyFlags overrides c with every flag set on the command line.
func applyFlags(cmd *cobra.Command, c config.Config) config.Config {
	flags := cmd.Flags()
	str := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	str("entrypoint", &c.Entrypoint)
	str("url", &c.URL)
	str("api-key", &c.APIKey)
	str("api-secret", &c.APISecret)
	str("agent-name", &c.AgentName)
	str("health-addr", &c.HealthAddr)
	str("model-path", &c.ModelPath)
	if flags.Changed("max-jobs") {
		c.MaxJobs, _ = flags.GetInt("max-jobs")
	}
	return c
}

// setupLogger installs the process logger. format "console" selects text
// output, anything else JSON.
func setupLogger(format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if format == "console" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

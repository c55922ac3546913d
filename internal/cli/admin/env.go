package admin

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/cloo-solutions/ragchat/internal/config"
	"github.com/cloo-solutions/ragchat/internal/logging"
	"github.com/cloo-solutions/ragchat/internal/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// env is the configuration and ambient services shared by admin commands.
type env struct {
	cfg      *config.Config
	logger   *zap.Logger
	shutdown func()
}

func loadEnv(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel, _ = cmd.Flags().GetString("log-level")
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	// Default to 10% sampling in production, 100% in development
	sampleRate := 0.1
	if cfg.Environment == "development" {
		sampleRate = 1.0
	}
	shutdownTelemetry, err := telemetry.Init(telemetry.Config{
		DSN:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		Release:          "ragchat@" + cmd.Root().Version,
		TracesSampleRate: sampleRate,
		Debug:            cfg.Debug,
	}, logger)
	if err != nil {
		logger.Warn("telemetry init failed, continuing without tracing", zap.Error(err))
		shutdownTelemetry = func() {}
	}

	return &env{
		cfg:    cfg,
		logger: logger,
		shutdown: func() {
			shutdownTelemetry()
			_ = logger.Sync()
		},
	}, nil
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

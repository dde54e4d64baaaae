package main

import (
	"go.uber.org/zap"

	"github.com/septivank/fleet-telemetry-ingest/internal/config"
	"github.com/septivank/fleet-telemetry-ingest/internal/logging"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName)
}

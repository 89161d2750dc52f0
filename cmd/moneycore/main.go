// Command moneycore runs the money and trust core: the HTTP API, the
// webhook ingestion consumer, and the recovery/kill-switch background
// loops, all sharing one process lifecycle.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/hustlexp/moneycore/internal/bootstrap"
)

func main() {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		log.Fatalf("moneycore: load config: %v", err)
	}

	system, err := bootstrap.Init(cfg)
	if err != nil {
		log.Fatalf("moneycore: init: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := system.Telemetry.Start(ctx); err != nil {
		system.Logger.Error("moneycore: telemetry did not start, continuing without it", "error", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := system.Telemetry.Shutdown(shutdownCtx); err != nil {
				system.Logger.Warn("moneycore: telemetry shutdown failed", "error", err)
			}
		}()
	}

	defer func() { _ = system.Logger.Sync() }()

	drainTimeout := time.Duration(cfg.DrainTimeoutSeconds) * time.Second

	system.Launcher.Run(ctx, drainTimeout)
}

// Command manager runs the aegis weight/health manager: the probe loop,
// record ingestion, and the /weights, /record, /metrics, /healthz HTTP
// surface (spec.md §4.2, §6).
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"aegis/internal/config"
	"aegis/internal/httpclient"
	"aegis/internal/manager"
	"aegis/internal/telemetry"
)

func main() {
	cfg, err := config.NewManagerConfig()
	if err != nil {
		// Configuration fatal: process exits non-zero at startup (spec.md §7).
		log.Fatalf("config error: %v", err)
	}

	logger, err := telemetry.NewLogger("aegis-manager", cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer logger.Sync()

	metrics := telemetry.NewManagerMetrics(prometheus.DefaultRegisterer)
	client := httpclient.New(cfg.ProbeTimeout)
	mgr := manager.New(cfg, client, metrics, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go mgr.RunProbeLoop(ctx)

	handler := telemetry.Chain(telemetry.WithRequestID, telemetry.WithAccessLog(logger))(mgr.Router())
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: handler}

	go func() {
		logger.Info("manager listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}

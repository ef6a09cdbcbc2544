// Command router runs the aegis request router: weighted backend
// selection, forwarding, and the /predict, /metrics, /healthz HTTP
// surface (spec.md §4.3, §6).
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
	"aegis/internal/router"
	"aegis/internal/telemetry"
)

func main() {
	cfg, err := config.NewRouterConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := telemetry.NewLogger("aegis-router", cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer logger.Sync()

	metrics := telemetry.NewRouterMetrics(prometheus.DefaultRegisterer)
	client := httpclient.New(cfg.ForwardTimeout)
	rt := router.New(cfg, client, metrics, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go rt.WeightCache().Run(ctx)

	handler := telemetry.Chain(telemetry.WithRequestID, telemetry.WithAccessLog(logger))(rt.HTTPRouter())
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: handler}

	go func() {
		logger.Info("router listening", zap.String("addr", cfg.ListenAddr))
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

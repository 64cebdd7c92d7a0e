package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/technosupport/ts-analytics/internal/bus"
	"github.com/technosupport/ts-analytics/internal/capture"
	"github.com/technosupport/ts-analytics/internal/config"
	"github.com/technosupport/ts-analytics/internal/gateway"
	"github.com/technosupport/ts-analytics/internal/metrics"
)

func main() {
	cfg := config.Load()
	if err := cfg.RequireGateway(); err != nil {
		log.Fatalf("[ERROR] Ingestor: %v", err)
	}

	log.Printf("Ingestor: starting - API: %s, broker: %s, refresh: %s",
		cfg.APIGatewayURL, cfg.RabbitURL, cfg.CameraRefreshInterval)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := bus.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("[ERROR] Ingestor: %v", err)
	}
	defer conn.Close()

	go func() {
		log.Printf("Ingestor: metrics on %s", cfg.MetricsAddr)
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			log.Printf("[ERROR] Ingestor: metrics server: %v", err)
		}
	}()

	client := gateway.NewClient(cfg.APIGatewayURL)
	supervisor := capture.NewSupervisor(client, capture.OpenFFmpeg, conn, cfg.CameraRefreshInterval)
	supervisor.Run(ctx)

	log.Printf("Ingestor: shutting down")
}

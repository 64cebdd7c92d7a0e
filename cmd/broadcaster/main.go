package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/technosupport/ts-analytics/internal/bus"
	"github.com/technosupport/ts-analytics/internal/config"
	"github.com/technosupport/ts-analytics/internal/metrics"
	"github.com/technosupport/ts-analytics/internal/tokens"
	"github.com/technosupport/ts-analytics/internal/ws"
)

func main() {
	cfg := config.Load()
	if cfg.JWTSecret == "" {
		log.Fatalf("[ERROR] Broadcaster: JWT_SECRET is required")
	}

	log.Printf("Broadcaster: starting - listen: %s, broker: %s, redis: %s",
		cfg.ListenAddr, cfg.RabbitURL, cfg.RedisAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := bus.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("[ERROR] Broadcaster: %v", err)
	}
	defer conn.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	var cache *ws.LatestCache
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("[WARN] Broadcaster: redis unavailable, snapshot replay disabled: %v", err)
	} else {
		cache = ws.NewLatestCache(rdb, 0)
	}

	hub := ws.NewHub(cache)
	handler := ws.NewHandler(hub, tokens.NewManager(cfg.JWTSecret))

	go func() {
		log.Printf("Broadcaster: metrics on %s", cfg.MetricsAddr)
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			log.Printf("[ERROR] Broadcaster: metrics server: %v", err)
		}
	}()

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: handler.Router()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[ERROR] Broadcaster: %v", err)
		}
	}()

	conn.ConsumeWsEvents(ctx, func(body []byte) {
		hub.Broadcast(ctx, body)
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	log.Printf("Broadcaster: shutting down")
}

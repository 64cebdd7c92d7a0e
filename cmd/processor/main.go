package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/technosupport/ts-analytics/internal/bus"
	"github.com/technosupport/ts-analytics/internal/config"
	"github.com/technosupport/ts-analytics/internal/events"
	"github.com/technosupport/ts-analytics/internal/gateway"
	"github.com/technosupport/ts-analytics/internal/metrics"
	"github.com/technosupport/ts-analytics/internal/models"
	"github.com/technosupport/ts-analytics/internal/nodes"
	"github.com/technosupport/ts-analytics/internal/pipeline"
)

// identityAdapter lets face-matcher nodes reach the CRUD API's vector
// search.
type identityAdapter struct {
	client *gateway.Client
}

func (a identityAdapter) MatchIdentity(ctx context.Context, embedding []float64) (*nodes.IdentityResult, error) {
	m, err := a.client.MatchIdentity(ctx, embedding)
	if err != nil {
		return nil, err
	}
	return &nodes.IdentityResult{Match: m.Match, Name: m.Name, Similarity: m.Similarity}, nil
}

func main() {
	cfg := config.Load()
	if err := cfg.RequireGateway(); err != nil {
		log.Fatalf("[ERROR] Processor: %v", err)
	}

	log.Printf("Processor: starting - API: %s, broker: %s, models: %s, GPU: %t",
		cfg.APIGatewayURL, cfg.RabbitURL, cfg.ModelsPath, cfg.UseGPU)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := bus.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("[ERROR] Processor: %v", err)
	}
	defer conn.Close()

	registry := models.NewRegistry(cfg.ModelsPath, cfg.UseGPU, nil)
	registry.StartWatcher(ctx)

	var recorder nodes.EventRecorder
	if cfg.EventsDBURL != "" {
		db, err := events.Open(cfg.EventsDBURL)
		if err != nil {
			log.Fatalf("[ERROR] Processor: %v", err)
		}
		defer db.Close()
		recorder = events.NewStore(db, cfg.MediaPath, conn)
	} else {
		log.Printf("[WARN] Processor: EVENTS_DB_URL unset, events will not be persisted")
	}

	client := gateway.NewClient(cfg.APIGatewayURL)
	cache := pipeline.NewCache(client, 1024, cfg.PipelineCacheTTL)
	executor := pipeline.NewExecutor(pipeline.ExecutorConfig{
		Models:            registry,
		Recorder:          recorder,
		Notifier:          conn,
		Identity:          identityAdapter{client: client},
		MaxProcessingTime: cfg.MaxProcessingTime,
	})
	stats := metrics.NewWorkerStats(cfg.PerformanceLogInterval)

	// Camera name to pipeline id, for targeted executor invalidation.
	var cameraPipelines sync.Map

	go func() {
		log.Printf("Processor: metrics on %s", cfg.MetricsAddr)
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			log.Printf("[ERROR] Processor: metrics server: %v", err)
		}
	}()

	go conn.ConsumeConfigUpdates(ctx, func(cameraName string) {
		log.Printf("Processor: pipeline update for camera %q", cameraName)
		cache.Invalidate(cameraName)
		if id, ok := cameraPipelines.Load(cameraName); ok {
			executor.Invalidate(id.(int))
		}
	})

	conn.ConsumeFrames(ctx, func(ctx context.Context, m bus.FrameMessage) {
		p := cache.Get(ctx, m.CameraName)
		if p == nil {
			return
		}
		cameraPipelines.Store(m.CameraName, p.ID)

		frame, err := m.DecodeFrame()
		if err != nil {
			log.Printf("[ERROR] Processor: %v", err)
			metrics.RecordFrame(m.CameraName, 0, true)
			return
		}

		start := time.Now()
		err = executor.Process(ctx, frame, p)
		elapsed := time.Since(start)
		if err != nil {
			log.Printf("[ERROR] Processor: pipeline %d: %v", p.ID, err)
		}
		metrics.RecordFrame(m.CameraName, float64(elapsed.Milliseconds()), err != nil)
		stats.Observe(elapsed, err != nil)
	})

	log.Printf("Processor: shutting down")
}

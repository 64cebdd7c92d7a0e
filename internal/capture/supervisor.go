package capture

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/technosupport/ts-analytics/internal/gateway"
	"github.com/technosupport/ts-analytics/internal/metrics"
)

const defaultReconcileInterval = 30 * time.Second

// CameraLister provides the current camera inventory.
type CameraLister interface {
	ListCameras(ctx context.Context) ([]gateway.Camera, error)
}

// Supervisor keeps one capture worker per active camera, reconciling
// the worker set against the API on an interval. A failed fetch keeps
// the current set running.
type Supervisor struct {
	lister    CameraLister
	opener    Opener
	publisher FramePublisher
	interval  time.Duration

	mu      sync.Mutex
	workers map[string]*worker
}

func NewSupervisor(lister CameraLister, opener Opener, publisher FramePublisher, interval time.Duration) *Supervisor {
	if interval <= 0 {
		interval = defaultReconcileInterval
	}
	return &Supervisor{
		lister:    lister,
		opener:    opener,
		publisher: publisher,
		interval:  interval,
		workers:   make(map[string]*worker),
	}
}

// Run reconciles immediately, then on every tick, until the context is
// cancelled. All workers are stopped and joined before returning.
func (s *Supervisor) Run(ctx context.Context) {
	s.Reconcile(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.stopAll()
			return
		case <-ticker.C:
			s.Reconcile(ctx)
		}
	}
}

// Reconcile aligns the running workers with the active camera set.
func (s *Supervisor) Reconcile(ctx context.Context) {
	cameras, err := s.lister.ListCameras(ctx)
	if err != nil {
		log.Printf("[ERROR] Capture: listing cameras, keeping current worker set: %v", err)
		return
	}

	active := make(map[string]gateway.Camera)
	for _, cam := range cameras {
		if cam.IsActive && cam.RTSPURL != "" {
			active[cam.Name] = cam
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for name, w := range s.workers {
		if _, keep := active[name]; !keep {
			w.stop()
			delete(s.workers, name)
		}
	}

	for name, cam := range active {
		if _, running := s.workers[name]; running {
			continue
		}
		w := newWorker(cam, s.opener, s.publisher)
		s.workers[name] = w
		go w.run()
	}

	metrics.CaptureWorkersActive.Set(float64(len(s.workers)))
}

// ActiveCameras lists the cameras currently being captured.
func (s *Supervisor) ActiveCameras() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.workers))
	for name := range s.workers {
		names = append(names, name)
	}
	return names
}

func (s *Supervisor) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, w := range s.workers {
		w.stop()
		delete(s.workers, name)
	}
	metrics.CaptureWorkersActive.Set(0)
}

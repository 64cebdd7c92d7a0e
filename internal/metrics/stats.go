package metrics

import (
	"log"
	"sync"
	"time"
)

// WorkerStats is a rolling per-process counter logged on an interval,
// complementing the scrape endpoint with something greppable.
type WorkerStats struct {
	logEvery int

	mu        sync.Mutex
	processed int
	failed    int
	busy      time.Duration
	window    time.Time
}

func NewWorkerStats(logEvery int) *WorkerStats {
	if logEvery <= 0 {
		logEvery = 100
	}
	return &WorkerStats{logEvery: logEvery, window: time.Now()}
}

// Observe records one frame's outcome and logs a summary once per
// window of logEvery frames.
func (s *WorkerStats) Observe(elapsed time.Duration, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.processed++
	s.busy += elapsed
	if failed {
		s.failed++
	}

	if s.processed%s.logEvery != 0 {
		return
	}

	wall := time.Since(s.window)
	avg := s.busy / time.Duration(s.logEvery)
	fps := float64(s.logEvery) / wall.Seconds()
	log.Printf("Worker: %d frames (%d failed), avg %v/frame, %.1f fps", s.processed, s.failed, avg.Round(time.Millisecond), fps)
	s.busy = 0
	s.window = time.Now()
}

// Snapshot returns the totals so far.
func (s *WorkerStats) Snapshot() (processed, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed, s.failed
}

package capture

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"log"
	"time"

	"github.com/technosupport/ts-analytics/internal/bus"
	"github.com/technosupport/ts-analytics/internal/gateway"
)

const (
	defaultRetryDelay = 5 * time.Second
	// defaultPublishInterval caps the per-camera publish rate at 10 Hz
	// to bound bus pressure.
	defaultPublishInterval = 100 * time.Millisecond
)

// FrameSource is one opened camera stream.
type FrameSource interface {
	ReadFrame() (image.Image, error)
	Release()
}

// Opener connects to a camera's stream URL.
type Opener func(rtspURL string) (FrameSource, error)

// FramePublisher puts captured frames on the bus.
type FramePublisher interface {
	PublishFrame(ctx context.Context, m bus.FrameMessage) error
}

// worker captures one camera. It reopens the source after read or
// connect failures and always releases it on the way out.
type worker struct {
	camera    gateway.Camera
	opener    Opener
	publisher FramePublisher

	retryDelay      time.Duration
	publishInterval time.Duration

	stopChan chan struct{}
	done     chan struct{}
}

func newWorker(camera gateway.Camera, opener Opener, publisher FramePublisher) *worker {
	return &worker{
		camera:          camera,
		opener:          opener,
		publisher:       publisher,
		retryDelay:      defaultRetryDelay,
		publishInterval: defaultPublishInterval,
		stopChan:        make(chan struct{}),
		done:            make(chan struct{}),
	}
}

func (w *worker) run() {
	defer close(w.done)
	log.Printf("Capture: worker started for camera %q", w.camera.Name)

	for {
		select {
		case <-w.stopChan:
			return
		default:
		}

		src, err := w.opener(w.camera.RTSPURL)
		if err != nil {
			log.Printf("[ERROR] Capture: opening stream for %q: %v", w.camera.Name, err)
			if !w.sleep(w.retryDelay) {
				return
			}
			continue
		}

		w.captureFrom(src)
	}
}

// captureFrom reads frames until the stream breaks or the worker is
// stopped. The source is released on every exit path.
func (w *worker) captureFrom(src FrameSource) {
	defer src.Release()

	for {
		select {
		case <-w.stopChan:
			return
		default:
		}

		img, err := src.ReadFrame()
		if err != nil {
			log.Printf("[WARN] Capture: reading frame from %q: %v", w.camera.Name, err)
			w.sleep(w.retryDelay)
			return
		}

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, nil); err != nil {
			log.Printf("[ERROR] Capture: encoding frame from %q: %v", w.camera.Name, err)
			continue
		}

		m := bus.NewFrameMessage(w.camera.Name, time.Now(), buf.Bytes())
		if err := w.publisher.PublishFrame(context.Background(), m); err != nil {
			log.Printf("[ERROR] Capture: publishing frame from %q: %v", w.camera.Name, err)
		}

		if !w.sleep(w.publishInterval) {
			return
		}
	}
}

func (w *worker) stop() {
	close(w.stopChan)
	<-w.done
	log.Printf("Capture: worker stopped for camera %q", w.camera.Name)
}

// sleep waits for d unless the worker is stopped first.
func (w *worker) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-w.stopChan:
		return false
	case <-t.C:
		return true
	}
}

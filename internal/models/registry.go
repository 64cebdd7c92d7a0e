package models

import (
	"image"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/technosupport/ts-analytics/internal/vision"
)

// DefaultModel is used when a pipeline names no model of its own.
const DefaultModel = "yolov8n.pt"

// Detector runs object detection over one decoded frame.
type Detector interface {
	Detect(img image.Image) ([]vision.Detection, error)
}

// LoaderFunc builds a Detector from a model file on disk.
type LoaderFunc func(path string, useGPU bool) (Detector, error)

// Registry is a process-wide cache of loaded models keyed by filename.
// Loads happen once per key under a construction lock; every later
// access is a lock-free read.
type Registry struct {
	dir    string
	useGPU bool
	loader LoaderFunc

	loaded   sync.Map // filename -> Detector
	buildMu  sync.Mutex
	exported map[string]bool
}

func NewRegistry(dir string, useGPU bool, loader LoaderFunc) *Registry {
	if loader == nil {
		loader = LoadONNX
	}
	return &Registry{
		dir:      dir,
		useGPU:   useGPU,
		loader:   loader,
		exported: make(map[string]bool),
	}
}

// Get returns the detector for filename, loading it on first use.
// Loading never fails outward; a broken model degrades to the default
// small detector so detection always runs.
func (r *Registry) Get(filename string) Detector {
	if filename == "" {
		filename = DefaultModel
	}
	if d, ok := r.loaded.Load(filename); ok {
		return d.(Detector)
	}

	r.buildMu.Lock()
	defer r.buildMu.Unlock()
	if d, ok := r.loaded.Load(filename); ok {
		return d.(Detector)
	}

	d := r.load(filename)
	r.loaded.Store(filename, d)
	return d
}

// Preload warms the cache for a set of model filenames.
func (r *Registry) Preload(filenames ...string) {
	for _, f := range filenames {
		r.Get(f)
	}
}

// Invalidate drops a cached model so the next Get reloads it. Used
// when an optimised build appears on disk after the portable load.
func (r *Registry) Invalidate(filename string) {
	r.loaded.Delete(filename)
}

func (r *Registry) load(filename string) Detector {
	portable := filepath.Join(r.dir, filename)
	optimized := optimizedPath(portable)

	if _, err := os.Stat(optimized); err == nil {
		if d, err := r.loader(optimized, r.useGPU); err == nil {
			log.Printf("Models: loaded optimized build %s", filepath.Base(optimized))
			return d
		} else {
			log.Printf("[WARN] Models: optimized build %s failed to load: %v", filepath.Base(optimized), err)
		}
	}

	d, err := r.loader(portable, r.useGPU)
	if err != nil {
		log.Printf("[ERROR] Models: loading %s failed, using default small model: %v", filename, err)
		return newMockDetector(filename)
	}
	log.Printf("Models: loaded %s", filename)

	if !r.exported[filename] {
		r.exported[filename] = true
		if err := exportOptimized(portable, r.useGPU); err != nil {
			log.Printf("[WARN] Models: optimized export of %s failed: %v", filename, err)
		}
	}
	return d
}

func optimizedPath(portable string) string {
	ext := filepath.Ext(portable)
	return strings.TrimSuffix(portable, ext) + ".engine"
}

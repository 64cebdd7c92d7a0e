package models

import (
	"context"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// StartWatcher monitors the models directory for optimized builds
// appearing or changing on disk. When an .engine file lands next to a
// loaded model, the cache entry is dropped so the next access picks up
// the optimized build.
func (r *Registry) StartWatcher(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("[WARN] Models Watcher: fsnotify unavailable (%v), hot reload disabled", err)
		return
	}
	if err := watcher.Add(r.dir); err != nil {
		log.Printf("[WARN] Models Watcher: cannot watch %s (%v), hot reload disabled", r.dir, err)
		watcher.Close()
		return
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if filepath.Ext(event.Name) != ".engine" {
					continue
				}
				// Writers may still be flushing the build.
				time.Sleep(100 * time.Millisecond)
				r.invalidateForEngine(event.Name)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[WARN] Models Watcher: %v", err)
			}
		}
	}()
}

func (r *Registry) invalidateForEngine(enginePath string) {
	stem := strings.TrimSuffix(filepath.Base(enginePath), ".engine")
	r.loaded.Range(func(key, _ any) bool {
		filename := key.(string)
		if strings.TrimSuffix(filename, filepath.Ext(filename)) == stem {
			log.Printf("Models Watcher: optimized build for %s changed, reloading", filename)
			r.Invalidate(filename)
		}
		return true
	})
}

package models

import (
	"hash/fnv"
	"image"
	"math/rand"

	"github.com/technosupport/ts-analytics/internal/vision"
)

// mockDetector is the default small model used when a real model
// cannot be loaded. It produces plausible, seeded detections so the
// rest of the pipeline keeps exercising.
type mockDetector struct {
	rng *rand.Rand
}

func newMockDetector(seedName string) *mockDetector {
	h := fnv.New64a()
	h.Write([]byte(seedName))
	return &mockDetector{rng: rand.New(rand.NewSource(int64(h.Sum64())))}
}

func (m *mockDetector) Detect(img image.Image) ([]vision.Detection, error) {
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())

	var dets []vision.Detection
	n := 1 + m.rng.Intn(3)
	for i := 0; i < n; i++ {
		x := m.rng.Float64() * 0.7 * w
		y := m.rng.Float64() * 0.7 * h
		bw := (0.1 + m.rng.Float64()*0.2) * w
		bh := (0.15 + m.rng.Float64()*0.25) * h
		dets = append(dets, vision.Detection{
			Box:        vision.Rect{X1: x, Y1: y, X2: min(x+bw, w), Y2: min(y+bh, h)},
			Confidence: 0.7 + m.rng.Float64()*0.25,
			ClassName:  "person",
			ClassID:    0,
		})
	}

	if m.rng.Float64() < 0.4 {
		x := m.rng.Float64() * 0.6 * w
		y := m.rng.Float64() * 0.6 * h
		dets = append(dets, vision.Detection{
			Box:        vision.Rect{X1: x, Y1: y, X2: min(x+0.3*w, w), Y2: min(y+0.2*h, h)},
			Confidence: 0.65 + m.rng.Float64()*0.3,
			ClassName:  "car",
			ClassID:    2,
		})
	}
	return dets, nil
}

package tracker

import (
	"image"
	"math"

	"golang.org/x/image/draw"

	"github.com/technosupport/ts-analytics/internal/vision"
)

const featureDim = 128

// FeatureFunc produces one appearance embedding per detection. The
// vectors must be L2-normalised; a zero vector marks an unusable crop.
type FeatureFunc func(frame *vision.Frame, dets []vision.Detection) ([][]float32, error)

// ExtractFeatures is the default appearance embedder. Each detection is
// cropped, resized to 64x128 and summarised into a 128-d vector built
// from per-channel intensity histograms and a spatial grid of gradient
// orientation histograms. Deterministic, so the same crop always maps
// to the same point in feature space.
func ExtractFeatures(frame *vision.Frame, dets []vision.Detection) ([][]float32, error) {
	out := make([][]float32, len(dets))
	for i, det := range dets {
		out[i] = embedCrop(frame.Image, det.Box)
	}
	return out, nil
}

func embedCrop(img image.Image, box vision.Rect) []float32 {
	vec := make([]float32, featureDim)
	if img == nil || box.Area() <= 0 {
		return vec
	}

	crop := vision.Crop(img, box)
	resized := image.NewGray(image.Rect(0, 0, 64, 128))
	draw.ApproxBiLinear.Scale(resized, resized.Bounds(), crop, crop.Bounds(), draw.Src, nil)

	rgba := image.NewRGBA(image.Rect(0, 0, 64, 128))
	draw.ApproxBiLinear.Scale(rgba, rgba.Bounds(), crop, crop.Bounds(), draw.Src, nil)

	// 48 dims: 16-bin histogram per colour channel.
	for y := 0; y < 128; y++ {
		for x := 0; x < 64; x++ {
			off := rgba.PixOffset(x, y)
			vec[rgba.Pix[off]>>4]++
			vec[16+(rgba.Pix[off+1]>>4)]++
			vec[32+(rgba.Pix[off+2]>>4)]++
		}
	}

	// 80 dims: 8-bin gradient orientation histogram over a 2x5 grid.
	cellW, cellH := 32, 25
	for y := 1; y < 127; y++ {
		for x := 1; x < 63; x++ {
			gx := float64(resized.GrayAt(x+1, y).Y) - float64(resized.GrayAt(x-1, y).Y)
			gy := float64(resized.GrayAt(x, y+1).Y) - float64(resized.GrayAt(x, y-1).Y)
			mag := math.Hypot(gx, gy)
			if mag < 1e-6 {
				continue
			}
			angle := math.Atan2(gy, gx) + math.Pi
			bin := int(angle / (2 * math.Pi) * 8)
			if bin > 7 {
				bin = 7
			}
			cell := (y/cellH)*2 + x/cellW
			if cell > 9 {
				cell = 9
			}
			vec[48+cell*8+bin] += float32(mag)
		}
	}

	return normalize(vec)
}

func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

// meanFeature averages a feature history into one matching vector.
func meanFeature(features [][]float32) []float32 {
	if len(features) == 0 {
		return nil
	}
	mean := make([]float32, len(features[0]))
	for _, f := range features {
		for i := range f {
			mean[i] += f[i]
		}
	}
	n := float32(len(features))
	for i := range mean {
		mean[i] /= n
	}
	return mean
}

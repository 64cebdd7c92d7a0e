package nodes

import (
	"context"
	"fmt"
	"image"
	"log"
	"math"

	"golang.org/x/image/draw"

	"github.com/technosupport/ts-analytics/internal/vision"
)

// faceEmbeddingDim matches the identity store's vector width.
const faceEmbeddingDim = 512

// faceDetectorNode localises faces with a dedicated detection model.
type faceDetectorNode struct {
	id    string
	model string
}

func newFaceDetectorNode(id string, config map[string]any) Node {
	return &faceDetectorNode{
		id:    id,
		model: cfgString(config, "model", "retinaface.onnx"),
	}
}

func (n *faceDetectorNode) Execute(ctx context.Context, frame *vision.Frame, input *Output, tools *Tools) (*Output, error) {
	detector := tools.Models.Get(n.model)
	raw, err := detector.Detect(frame.Image)
	if err != nil {
		log.Printf("[WARN] Face Detector %s: no faces detected: %v", n.id, err)
		return &Output{Faces: []Face{}}, nil
	}

	faces := make([]Face, 0, len(raw))
	for _, d := range raw {
		faces = append(faces, Face{Box: d.Box, Confidence: d.Confidence})
	}
	return &Output{Faces: faces}, nil
}

// faceEmbeddingNode derives a fixed-width appearance vector from each
// face crop.
type faceEmbeddingNode struct {
	id string
}

func newFaceEmbeddingNode(id string, config map[string]any) Node {
	return &faceEmbeddingNode{id: id}
}

func (n *faceEmbeddingNode) Execute(ctx context.Context, frame *vision.Frame, input *Output, tools *Tools) (*Output, error) {
	if input == nil || len(input.Faces) == 0 {
		return &Output{Embeddings: []Face{}}, nil
	}

	embeddings := make([]Face, 0, len(input.Faces))
	for _, face := range input.Faces {
		crop := vision.Crop(frame.Image, face.Box)
		emb, err := FaceEmbedding(crop)
		if err != nil {
			log.Printf("[WARN] Face Embedding %s: could not embed face: %v", n.id, err)
			continue
		}
		face.Embedding = emb
		embeddings = append(embeddings, face)
	}
	return &Output{Embeddings: embeddings}, nil
}

// faceMatcherNode resolves embeddings against the identity store. The
// vector search itself lives behind the API, keeping this node thin.
type faceMatcherNode struct {
	id string
}

func newFaceMatcherNode(id string, config map[string]any) Node {
	return &faceMatcherNode{id: id}
}

func (n *faceMatcherNode) Execute(ctx context.Context, frame *vision.Frame, input *Output, tools *Tools) (*Output, error) {
	if input == nil {
		return &Output{Faces: []Face{}}, nil
	}
	faces := input.Embeddings
	if len(faces) == 0 {
		faces = input.Faces
	}
	if len(faces) == 0 || tools.Identity == nil {
		return &Output{Faces: faces}, nil
	}

	out := make([]Face, len(faces))
	copy(out, faces)
	for i := range out {
		if len(out[i].Embedding) == 0 {
			continue
		}
		result, err := tools.Identity.MatchIdentity(ctx, out[i].Embedding)
		if err != nil {
			log.Printf("[ERROR] Face Matcher %s: identity lookup failed: %v", n.id, err)
			out[i].Identity = &Identity{Error: "identity lookup failed"}
			continue
		}
		if result != nil && result.Match {
			out[i].Matched = true
			out[i].Identity = &Identity{
				Name:       result.Name,
				Similarity: math.Round(result.Similarity*100) / 100,
			}
		} else {
			out[i].Identity = nil
		}
	}
	return &Output{Faces: out}, nil
}

// FaceEmbedding computes a deterministic 512-float appearance vector
// for a face crop: 16-bin per-channel colour histograms over a 4x4
// grid of a 112x112 resample, plus gradient orientation bins, L2
// normalised.
func FaceEmbedding(crop image.Image) ([]float64, error) {
	b := crop.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("empty face crop")
	}

	const side = 112
	resized := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.ApproxBiLinear.Scale(resized, resized.Bounds(), crop, b, draw.Src, nil)

	// 4x4 grid, 28x28 cells, 32 bins per cell: 16 luminance bins plus
	// 16 gradient-orientation bins.
	const (
		grid     = 4
		cell     = side / grid
		cellBins = 32
	)
	emb := make([]float64, faceEmbeddingDim)

	lum := func(x, y int) float64 {
		r, g, bl, _ := resized.At(x, y).RGBA()
		return (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(bl)) / 65535
	}

	for gy := 0; gy < grid; gy++ {
		for gx := 0; gx < grid; gx++ {
			base := (gy*grid + gx) * cellBins
			for y := gy * cell; y < (gy+1)*cell; y++ {
				for x := gx * cell; x < (gx+1)*cell; x++ {
					v := lum(x, y)
					bin := int(v * 16)
					if bin > 15 {
						bin = 15
					}
					emb[base+bin]++

					if x+1 < side && y+1 < side {
						dx := lum(x+1, y) - v
						dy := lum(x, y+1) - v
						if math.Hypot(dx, dy) > 0.02 {
							angle := math.Atan2(dy, dx) + math.Pi
							obin := int(angle / (2 * math.Pi) * 16)
							if obin > 15 {
								obin = 15
							}
							emb[base+16+obin]++
						}
					}
				}
			}
		}
	}

	var norm float64
	for _, v := range emb {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range emb {
			emb[i] /= norm
		}
	}
	return emb, nil
}

package models

import (
	"fmt"
	"image"
	"os"
	"sort"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/image/draw"

	"github.com/technosupport/ts-analytics/internal/vision"
)

const (
	inputSize     = 640
	confFloor     = 0.25
	nmsIoU        = 0.45
	maxDetections = 100
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

func initRuntime() error {
	ortInitOnce.Do(func() {
		if p := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"); p != "" {
			ort.SetSharedLibraryPath(p)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// onnxDetector runs a YOLO-family model through ONNX Runtime. The
// model is expected to take [1,3,640,640] float input and produce a
// [1, 4+classes, boxes] output.
type onnxDetector struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
}

// LoadONNX is the default model loader. Non-ONNX files and an
// unavailable runtime return an error so the registry can degrade.
func LoadONNX(path string, useGPU bool) (Detector, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}
	if err := initRuntime(); err != nil {
		return nil, fmt.Errorf("onnxruntime unavailable: %w", err)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer opts.Destroy()
	if useGPU {
		cuda, err := ort.NewCUDAProviderOptions()
		if err == nil {
			defer cuda.Destroy()
			if err := cuda.Update(map[string]string{"device_id": "0"}); err == nil {
				// GPU is best effort; CPU execution remains the fallback.
				_ = opts.AppendExecutionProviderCUDA(cuda)
			}
		}
	}

	session, err := ort.NewDynamicAdvancedSession(path,
		[]string{"images"}, []string{"output0"}, opts)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return &onnxDetector{session: session}, nil
}

// exportOptimized would build a hardware-specific engine from the
// portable model. The runtime has no exporter, so this only verifies
// the portable file and reports the capability gap.
func exportOptimized(portable string, useGPU bool) error {
	if _, err := os.Stat(portable); err != nil {
		return err
	}
	return fmt.Errorf("no optimized-build exporter available on this runtime")
}

func (d *onnxDetector) Detect(img image.Image) ([]vision.Detection, error) {
	input, scaleX, scaleY := preprocess(img)

	inputTensor, err := ort.NewTensor(ort.NewShape(1, 3, inputSize, inputSize), input)
	if err != nil {
		return nil, err
	}
	defer inputTensor.Destroy()

	outputs := []ort.Value{nil}
	d.mu.Lock()
	err = d.session.Run([]ort.Value{inputTensor}, outputs)
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type")
	}
	shape := out.GetShape()
	if len(shape) != 3 {
		return nil, fmt.Errorf("unexpected output shape %v", shape)
	}
	return decode(out.GetData(), int(shape[1]), int(shape[2]), scaleX, scaleY), nil
}

// preprocess letterbox-free resizes to the model input and converts to
// CHW float in [0,1].
func preprocess(img image.Image) ([]float32, float64, float64) {
	rgba := image.NewRGBA(image.Rect(0, 0, inputSize, inputSize))
	draw.ApproxBiLinear.Scale(rgba, rgba.Bounds(), img, img.Bounds(), draw.Src, nil)

	data := make([]float32, 3*inputSize*inputSize)
	plane := inputSize * inputSize
	for y := 0; y < inputSize; y++ {
		for x := 0; x < inputSize; x++ {
			off := rgba.PixOffset(x, y)
			i := y*inputSize + x
			data[i] = float32(rgba.Pix[off]) / 255
			data[plane+i] = float32(rgba.Pix[off+1]) / 255
			data[2*plane+i] = float32(rgba.Pix[off+2]) / 255
		}
	}

	b := img.Bounds()
	return data, float64(b.Dx()) / inputSize, float64(b.Dy()) / inputSize
}

// decode parses a [4+classes, n] prediction block, takes the best
// class per box and suppresses overlaps.
func decode(data []float32, rows, cols int, scaleX, scaleY float64) []vision.Detection {
	classes := rows - 4
	if classes <= 0 {
		return nil
	}
	var dets []vision.Detection
	for i := 0; i < cols; i++ {
		bestClass, bestScore := 0, float32(0)
		for c := 0; c < classes; c++ {
			if s := data[(4+c)*cols+i]; s > bestScore {
				bestClass, bestScore = c, s
			}
		}
		if bestScore < confFloor {
			continue
		}
		cx := float64(data[i])
		cy := float64(data[cols+i])
		w := float64(data[2*cols+i])
		h := float64(data[3*cols+i])
		dets = append(dets, vision.Detection{
			Box: vision.Rect{
				X1: (cx - w/2) * scaleX,
				Y1: (cy - h/2) * scaleY,
				X2: (cx + w/2) * scaleX,
				Y2: (cy + h/2) * scaleY,
			},
			Confidence: float64(bestScore),
			ClassName:  CocoClassName(bestClass),
			ClassID:    bestClass,
		})
	}
	return nonMaxSuppress(dets)
}

func nonMaxSuppress(dets []vision.Detection) []vision.Detection {
	sort.Slice(dets, func(i, j int) bool { return dets[i].Confidence > dets[j].Confidence })
	var kept []vision.Detection
	for _, d := range dets {
		ok := true
		for _, k := range kept {
			if d.ClassID == k.ClassID && vision.IoU(d.Box, k.Box) > nmsIoU {
				ok = false
				break
			}
		}
		if ok {
			kept = append(kept, d)
			if len(kept) >= maxDetections {
				break
			}
		}
	}
	return kept
}

var cocoClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train",
	"truck", "boat", "traffic light", "fire hydrant", "stop sign",
	"parking meter", "bench", "bird", "cat", "dog", "horse", "sheep",
	"cow", "elephant", "bear", "zebra", "giraffe", "backpack", "umbrella",
	"handbag", "tie", "suitcase", "frisbee", "skis", "snowboard",
	"sports ball", "kite", "baseball bat", "baseball glove", "skateboard",
	"surfboard", "tennis racket", "bottle", "wine glass", "cup", "fork",
	"knife", "spoon", "bowl", "banana", "apple", "sandwich", "orange",
	"broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv",
	"laptop", "mouse", "remote", "keyboard", "cell phone", "microwave",
	"oven", "toaster", "sink", "refrigerator", "book", "clock", "vase",
	"scissors", "teddy bear", "hair drier", "toothbrush",
}

// CocoClassName maps a class index to its label.
func CocoClassName(id int) string {
	if id >= 0 && id < len(cocoClasses) {
		return cocoClasses[id]
	}
	return fmt.Sprintf("class_%d", id)
}

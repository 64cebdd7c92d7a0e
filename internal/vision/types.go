package vision

import (
	"image"
	"time"
)

// Frame is one decoded still image plus its source metadata.
type Frame struct {
	Image      image.Image
	JPEG       []byte
	CameraName string
	Timestamp  time.Time
}

// Detection is one object found in a frame.
type Detection struct {
	Box        Rect    `json:"box"`
	Confidence float64 `json:"confidence"`
	ClassName  string  `json:"class_name"`
	ClassID    int     `json:"class_id"`
}

// Crop returns the sub-image of img covered by r, clipped to img bounds.
func Crop(img image.Image, r Rect) image.Image {
	type subImager interface {
		SubImage(image.Rectangle) image.Image
	}
	bounds := img.Bounds()
	clip := image.Rect(int(r.X1), int(r.Y1), int(r.X2), int(r.Y2)).Intersect(bounds)
	if clip.Empty() {
		return image.NewRGBA(image.Rect(0, 0, 1, 1))
	}
	if si, ok := img.(subImager); ok {
		return si.SubImage(clip)
	}
	out := image.NewRGBA(image.Rect(0, 0, clip.Dx(), clip.Dy()))
	for y := 0; y < clip.Dy(); y++ {
		for x := 0; x < clip.Dx(); x++ {
			out.Set(x, y, img.At(clip.Min.X+x, clip.Min.Y+y))
		}
	}
	return out
}

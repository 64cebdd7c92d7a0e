package bus

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"math"
	"time"

	"github.com/technosupport/ts-analytics/internal/vision"
)

// FrameMessage is the wire form of one captured frame. The JPEG bytes
// travel hex-encoded inside JSON and the timestamp is epoch seconds.
type FrameMessage struct {
	CameraName string  `json:"camera_name"`
	Timestamp  float64 `json:"timestamp"`
	Frame      string  `json:"frame"`
}

// NewFrameMessage wraps encoded JPEG bytes for publishing.
func NewFrameMessage(cameraName string, ts time.Time, jpegBytes []byte) FrameMessage {
	return FrameMessage{
		CameraName: cameraName,
		Timestamp:  float64(ts.UnixNano()) / 1e9,
		Frame:      hex.EncodeToString(jpegBytes),
	}
}

// Time converts the epoch-seconds timestamp back to wall time.
func (m FrameMessage) Time() time.Time {
	sec, frac := math.Modf(m.Timestamp)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// JPEG returns the raw image bytes.
func (m FrameMessage) JPEG() ([]byte, error) {
	b, err := hex.DecodeString(m.Frame)
	if err != nil {
		return nil, fmt.Errorf("decoding frame payload: %w", err)
	}
	return b, nil
}

// Marshal serialises the message for the bus.
func (m FrameMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalFrameMessage parses a bus payload.
func UnmarshalFrameMessage(body []byte) (FrameMessage, error) {
	var m FrameMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return FrameMessage{}, fmt.Errorf("parsing frame message: %w", err)
	}
	return m, nil
}

// DecodeFrame materialises the message into a processable frame.
func (m FrameMessage) DecodeFrame() (*vision.Frame, error) {
	raw, err := m.JPEG()
	if err != nil {
		return nil, err
	}
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decoding JPEG for camera %q: %w", m.CameraName, err)
	}
	return &vision.Frame{
		Image:      img,
		JPEG:       raw,
		CameraName: m.CameraName,
		Timestamp:  m.Time(),
	}, nil
}

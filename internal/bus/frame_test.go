package bus

import (
	"bytes"
	"encoding/json"
	"image"
	"image/jpeg"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameMessageRoundTrip(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))

	ts := time.Date(2026, 2, 1, 12, 30, 45, 500_000_000, time.UTC)
	m := NewFrameMessage("cam-A", ts, buf.Bytes())

	body, err := m.Marshal()
	require.NoError(t, err)

	parsed, err := UnmarshalFrameMessage(body)
	require.NoError(t, err)
	assert.Equal(t, "cam-A", parsed.CameraName)
	assert.InDelta(t, float64(ts.UnixNano())/1e9, parsed.Timestamp, 1e-6)

	frame, err := parsed.DecodeFrame()
	require.NoError(t, err)
	assert.Equal(t, "cam-A", frame.CameraName)
	assert.Equal(t, 32, frame.Image.Bounds().Dx())
	assert.WithinDuration(t, ts, frame.Timestamp, time.Millisecond)
	assert.Equal(t, buf.Bytes(), frame.JPEG)
}

func TestFrameMessageTimestampIsEpochFloat(t *testing.T) {
	m := NewFrameMessage("cam-A", time.Unix(1767225600, 250_000_000), []byte{0xff})
	body, err := m.Marshal()
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(body, &raw))
	assert.InDelta(t, 1767225600.25, raw["timestamp"].(float64), 1e-6)
	assert.Equal(t, "ff", raw["frame"])
}

func TestUnmarshalFrameMessageRejectsGarbage(t *testing.T) {
	_, err := UnmarshalFrameMessage([]byte("not json"))
	assert.Error(t, err)

	m := FrameMessage{CameraName: "cam-A", Frame: "zz-not-hex"}
	_, err = m.JPEG()
	assert.Error(t, err)

	m = FrameMessage{CameraName: "cam-A", Frame: "deadbeef"}
	_, err = m.DecodeFrame()
	assert.Error(t, err)
}

package capture

import (
	"bufio"
	"bytes"
	"image"
	"image/jpeg"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodedJPEG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8)), nil))
	return buf.Bytes()
}

func TestReadJPEGExtractsConsecutiveFrames(t *testing.T) {
	frame := encodedJPEG(t)
	stream := bytes.NewBuffer(nil)
	stream.Write(frame)
	stream.Write(frame)

	br := bufio.NewReader(stream)
	first, err := readJPEG(br)
	require.NoError(t, err)
	assert.Equal(t, frame, first)

	second, err := readJPEG(br)
	require.NoError(t, err)
	assert.Equal(t, frame, second)

	_, err = readJPEG(br)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadJPEGSkipsInterFrameNoise(t *testing.T) {
	frame := encodedJPEG(t)
	stream := bytes.NewBuffer([]byte{0x00, 0xFF, 0x01, 0x42})
	stream.Write(frame)

	got, err := readJPEG(bufio.NewReader(stream))
	require.NoError(t, err)
	assert.Equal(t, frame, got)

	img, err := jpeg.Decode(bytes.NewReader(got))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 8), img.Bounds())
}

func TestReadJPEGTruncatedStream(t *testing.T) {
	frame := encodedJPEG(t)
	_, err := readJPEG(bufio.NewReader(bytes.NewReader(frame[:len(frame)-2])))
	assert.Error(t, err)
}

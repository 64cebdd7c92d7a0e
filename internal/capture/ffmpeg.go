package capture

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"os/exec"
)

// maxJPEGFrame bounds a single streamed frame; anything larger means
// the marker scan lost sync.
const maxJPEGFrame = 16 << 20

// OpenFFmpeg connects to an RTSP stream through an ffmpeg child
// process emitting MJPEG on stdout. TCP transport is forced for
// reliability with cameras behind NAT.
func OpenFFmpeg(rtspURL string) (FrameSource, error) {
	args := []string{
		"-nostdin",
		"-loglevel", "error",
		"-rtsp_transport", "tcp",
		"-i", rtspURL,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"-",
	}

	cmd := exec.Command("ffmpeg", args...)
	cmd.Stderr = os.Stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting ffmpeg: %w", err)
	}

	return &ffmpegSource{cmd: cmd, stdout: stdout, br: bufio.NewReaderSize(stdout, 64<<10)}, nil
}

type ffmpegSource struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	br     *bufio.Reader
}

func (s *ffmpegSource) ReadFrame() (image.Image, error) {
	raw, err := readJPEG(s.br)
	if err != nil {
		return nil, err
	}
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decoding streamed frame: %w", err)
	}
	return img, nil
}

func (s *ffmpegSource) Release() {
	s.stdout.Close()
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.cmd.Wait()
}

// readJPEG extracts the next complete JPEG from the MJPEG stream by
// scanning for the SOI and EOI markers.
func readJPEG(br *bufio.Reader) ([]byte, error) {
	// Seek the start-of-image marker, discarding any inter-frame noise.
	for {
		b, err := br.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != 0xFF {
			continue
		}
		next, err := br.ReadByte()
		if err != nil {
			return nil, err
		}
		if next == 0xD8 {
			break
		}
		if err := br.UnreadByte(); err != nil {
			return nil, err
		}
	}

	frame := []byte{0xFF, 0xD8}
	for {
		b, err := br.ReadByte()
		if err != nil {
			return nil, err
		}
		frame = append(frame, b)
		if len(frame) > maxJPEGFrame {
			return nil, fmt.Errorf("frame exceeds %d bytes, stream out of sync", maxJPEGFrame)
		}
		if b != 0xFF {
			continue
		}
		next, err := br.ReadByte()
		if err != nil {
			return nil, err
		}
		frame = append(frame, next)
		if next == 0xD9 {
			return frame, nil
		}
	}
}

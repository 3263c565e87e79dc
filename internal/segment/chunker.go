package segment

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JunioDutra/rtsp-to-wyoming/pkg/audio"
)

// Chunker emits fixed-duration windows of audio regardless of speech. It is
// used when voice activity detection is disabled.
//
// Not safe for concurrent use.
type Chunker struct {
	format    audio.Format
	frameSize int
	window    int // frames per emitted chunk
	onEnd     EndFunc

	buffer []byte
	frames int
}

// NewChunker returns a Chunker that emits every window of audio. The window is
// rounded up to a whole number of frames.
func NewChunker(sampleRate int, frameDuration, window time.Duration, onEnd EndFunc) (*Chunker, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("segment: sample rate must be positive, got %d", sampleRate)
	}
	if !audio.ValidFrameDuration(frameDuration) {
		return nil, fmt.Errorf("segment: frame duration must be 10, 20 or 30 ms, got %v", frameDuration)
	}
	if window <= 0 {
		return nil, errors.New("segment: chunk window must be positive")
	}
	frames := int((window + frameDuration - 1) / frameDuration)
	return &Chunker{
		format:    audio.Mono16(sampleRate),
		frameSize: audio.FrameSize(sampleRate, frameDuration),
		window:    frames,
		onEnd:     onEnd,
	}, nil
}

// FrameSize returns the exact frame length in bytes that AddFrame accepts.
func (c *Chunker) FrameSize() int { return c.frameSize }

// AddFrame buffers frame and returns the accumulated audio once the window is
// full.
func (c *Chunker) AddFrame(frame []byte) ([]byte, error) {
	if len(frame) != c.frameSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrFrameSize, len(frame), c.frameSize)
	}
	c.buffer = append(c.buffer, frame...)
	c.frames++
	if c.frames < c.window {
		return nil, nil
	}

	out := c.buffer
	frames := c.frames
	d := c.format.Duration(len(out))
	slog.Debug("segment: accumulated audio window", "duration", d, "bytes", len(out))
	c.Reset()
	if c.onEnd != nil {
		c.onEnd(CauseWindow, frames, d)
	}
	return out, nil
}

// Reset discards the partial window.
func (c *Chunker) Reset() {
	c.buffer = nil
	c.frames = 0
}

var _ Utterer = (*Chunker)(nil)

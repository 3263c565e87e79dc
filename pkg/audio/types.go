package audio

import (
	"fmt"
	"time"
)

// SampleWidth is the number of bytes per sample for the signed 16-bit
// little-endian PCM used throughout the pipeline.
const SampleWidth = 2

// Format describes the layout of a raw PCM stream.
type Format struct {
	// SampleRate in Hz (e.g., 16000).
	SampleRate int

	// SampleWidth is the number of bytes per sample. 2 for s16le.
	SampleWidth int

	// Channels: 1 for mono.
	Channels int
}

// Mono16 returns the mono s16le format at the given sample rate.
func Mono16(sampleRate int) Format {
	return Format{SampleRate: sampleRate, SampleWidth: SampleWidth, Channels: 1}
}

// BytesPerSecond returns the number of PCM bytes that make up one second of
// audio in this format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.SampleWidth * f.Channels
}

// Duration returns the playback duration of n bytes of PCM in this format.
// Returns 0 for a degenerate format.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// String returns a compact description such as "16000Hz/16bit/mono".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz/%dbit/%s", f.SampleRate, f.SampleWidth*8, ch)
}

// ValidFrameDuration reports whether d is one of the frame durations accepted
// by voice activity detectors (10, 20 or 30 ms).
func ValidFrameDuration(d time.Duration) bool {
	switch d {
	case 10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond:
		return true
	}
	return false
}

// FrameSize returns the size in bytes of one mono s16le frame of duration d
// at sampleRate. For 16 kHz and 30 ms this is 960.
func FrameSize(sampleRate int, d time.Duration) int {
	samples := int(int64(sampleRate) * int64(d) / int64(time.Second))
	return samples * SampleWidth
}

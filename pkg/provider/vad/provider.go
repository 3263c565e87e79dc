// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector (e.g., WebRTC VAD or a plain
// energy detector) and surfaces it as a per-stream session. Each session keeps
// its own detector instance so that a restarted audio stream never inherits
// state from the previous one.
//
// VAD is synchronous by design: ProcessFrame returns immediately with a detection
// result, making it suitable for the segmentation stage that gates STT input.
//
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

import (
	"fmt"
	"time"
)

// MaxAggressiveness is the most aggressive filtering mode supported by the
// WebRTC detector. It minimises false positives from background noise.
const MaxAggressiveness = 3

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the PCM
	// frames passed to ProcessFrame. Common values: 8000, 16000, 32000, 48000.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds. Only 10,
	// 20 and 30 ms frames are valid detector inputs.
	FrameSizeMs int

	// Aggressiveness selects the detector's filtering mode in the range
	// [0, MaxAggressiveness]. Ignored by detectors without modes.
	Aggressiveness int

	// SpeechThreshold is the probability at or above which a frame is classified
	// as speech. Range: [0.0, 1.0]. Ignored by binary detectors.
	SpeechThreshold float64
}

// FrameDuration returns FrameSizeMs as a [time.Duration].
func (c Config) FrameDuration() time.Duration {
	return time.Duration(c.FrameSizeMs) * time.Millisecond
}

// Validate checks the fields shared by every engine.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("vad: sample rate must be positive, got %d", c.SampleRate)
	}
	switch c.FrameSizeMs {
	case 10, 20, 30:
	default:
		return fmt.Errorf("vad: frame size must be 10, 20 or 30 ms, got %d", c.FrameSizeMs)
	}
	if c.Aggressiveness < 0 || c.Aggressiveness > MaxAggressiveness {
		return fmt.Errorf("vad: aggressiveness must be in [0, %d], got %d", MaxAggressiveness, c.Aggressiveness)
	}
	if c.SpeechThreshold < 0 || c.SpeechThreshold > 1 {
		return fmt.Errorf("vad: speech threshold must be in [0, 1], got %.2f", c.SpeechThreshold)
	}
	return nil
}

// SessionHandle represents an active VAD session for a single audio stream. It is
// an interface so that test code can supply mock implementations without a live
// engine.
type SessionHandle interface {
	// ProcessFrame analyses a single audio frame and returns the detection result.
	// The frame must be raw little-endian PCM at the SampleRate and FrameSizeMs
	// configured when the session was created. Returns an error if the frame size
	// is wrong or if the engine encounters an internal failure.
	//
	// This method is called synchronously in the audio pipeline loop; it must
	// not block.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset clears all accumulated detection state without closing the session.
	Reset()

	// Close releases all resources associated with the session. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration. The session
	// is immediately ready to accept audio frames.
	//
	// Returns an error if the configuration is invalid (e.g., unsupported sample
	// rate, frame size, or threshold out of range) or if the engine cannot allocate
	// resources for the session.
	NewSession(cfg Config) (SessionHandle, error)
}

// Package segment turns a continuous stream of fixed-size PCM frames into
// discrete utterances.
//
// [Segmenter] is the VAD-driven endpointing state machine: a frame classified
// as speech (and loud enough to pass the energy gate) opens an utterance,
// following frames are buffered, and the utterance is finalized after a run
// of non-speech frames or when the recording cap is hit. [Chunker] is the
// fixed-window alternative used when VAD is disabled.
//
// Neither type performs network I/O or spawns goroutines; both must be driven
// from a single goroutine, one frame at a time, in arrival order.
package segment

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JunioDutra/rtsp-to-wyoming/pkg/audio"
	"github.com/JunioDutra/rtsp-to-wyoming/pkg/provider/vad"
)

// ErrFrameSize is returned when a frame's length differs from the configured
// frame size. The frame is ignored and the segmenter state is unchanged.
var ErrFrameSize = errors.New("segment: frame size mismatch")

// Default tuning values. They were hand-tuned for a 16 kHz camera microphone
// with 30 ms frames and are exposed through [Config].
const (
	DefaultMinEnergy          = 500.0
	DefaultMaxSilenceFrames   = 30
	DefaultMaxRecordingFrames = 1000
)

// EndCause says why an utterance was finalized.
type EndCause string

const (
	// CauseSilence means the trailing silence run reached MaxSilenceFrames.
	CauseSilence EndCause = "silence"

	// CauseMaxDuration means the speech frame count reached MaxRecordingFrames.
	CauseMaxDuration EndCause = "max_duration"

	// CauseWindow means a fixed-duration window filled up (see [Chunker]).
	CauseWindow EndCause = "window"
)

// Utterer is the contract shared by [Segmenter] and [Chunker].
type Utterer interface {
	// AddFrame consumes one frame and returns a complete utterance, or nil
	// when none is ready yet.
	AddFrame(frame []byte) ([]byte, error)

	// Reset discards any partially buffered utterance.
	Reset()
}

// EndFunc is notified whenever an utterance is finalized.
type EndFunc func(cause EndCause, frames int, duration time.Duration)

// Config holds the segmentation parameters.
type Config struct {
	// SampleRate of the incoming mono s16le frames in Hz.
	SampleRate int

	// FrameDuration is the duration of one frame (10, 20 or 30 ms).
	FrameDuration time.Duration

	// MinEnergy is the RMS level below which a VAD "speech" verdict is
	// overridden to non-speech. Zero disables the gate.
	MinEnergy float64

	// MaxSilenceFrames is the number of consecutive non-speech frames that
	// ends an utterance. Default: 30.
	MaxSilenceFrames int

	// MaxRecordingFrames is the number of speech frames after which an
	// utterance is cut off without waiting for silence. Default: 1000.
	MaxRecordingFrames int

	// OnEnd, if set, is called for every finalized utterance.
	OnEnd EndFunc
}

// Segmenter is the VAD-driven endpointing state machine. It owns its VAD
// session; call Close when done.
//
// Not safe for concurrent use.
type Segmenter struct {
	vad       vad.SessionHandle
	format    audio.Format
	frameSize int

	minEnergy    float64
	maxSilence   int
	maxRecording int
	onEnd        EndFunc

	buffer     []byte
	speaking   bool
	silenceRun int
	speechRun  int
}

// New creates a Segmenter that classifies frames with sess.
func New(sess vad.SessionHandle, cfg Config) (*Segmenter, error) {
	if sess == nil {
		return nil, errors.New("segment: vad session is nil")
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("segment: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if !audio.ValidFrameDuration(cfg.FrameDuration) {
		return nil, fmt.Errorf("segment: frame duration must be 10, 20 or 30 ms, got %v", cfg.FrameDuration)
	}
	if cfg.MaxSilenceFrames <= 0 {
		cfg.MaxSilenceFrames = DefaultMaxSilenceFrames
	}
	if cfg.MaxRecordingFrames <= 0 {
		cfg.MaxRecordingFrames = DefaultMaxRecordingFrames
	}
	return &Segmenter{
		vad:          sess,
		format:       audio.Mono16(cfg.SampleRate),
		frameSize:    audio.FrameSize(cfg.SampleRate, cfg.FrameDuration),
		minEnergy:    cfg.MinEnergy,
		maxSilence:   cfg.MaxSilenceFrames,
		maxRecording: cfg.MaxRecordingFrames,
		onEnd:        cfg.OnEnd,
	}, nil
}

// FrameSize returns the exact frame length in bytes that AddFrame accepts.
func (s *Segmenter) FrameSize() int { return s.frameSize }

// Speaking reports whether an utterance is currently being recorded.
func (s *Segmenter) Speaking() bool { return s.speaking }

// AddFrame consumes one frame. It returns the finalized utterance when speech
// end is detected or the recording cap is reached, and nil otherwise.
func (s *Segmenter) AddFrame(frame []byte) ([]byte, error) {
	if len(frame) != s.frameSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrFrameSize, len(frame), s.frameSize)
	}

	if !s.isSpeech(frame) {
		if !s.speaking {
			return nil, nil
		}
		s.silenceRun++
		s.buffer = append(s.buffer, frame...)
		if s.silenceRun == 1 {
			slog.Debug("segment: silence started", "frames", len(s.buffer)/s.frameSize)
		}
		if s.silenceRun >= s.maxSilence {
			return s.finalize(CauseSilence), nil
		}
		return nil, nil
	}

	if !s.speaking {
		slog.Info("segment: voice activity detected, recording started")
		s.speaking = true
		s.speechRun = 0
	}
	s.silenceRun = 0
	s.buffer = append(s.buffer, frame...)
	s.speechRun++

	if s.speechRun >= s.maxRecording {
		return s.finalize(CauseMaxDuration), nil
	}
	if s.speechRun%50 == 0 {
		slog.Debug("segment: recording",
			"speech_frames", s.speechRun,
			"max_frames", s.maxRecording,
		)
	}
	return nil, nil
}

// isSpeech combines the VAD verdict with the energy gate.
func (s *Segmenter) isSpeech(frame []byte) bool {
	if !classify(s.vad, frame) {
		return false
	}
	if s.minEnergy > 0 {
		if energy := audio.RMS(frame); energy < s.minEnergy {
			slog.Debug("segment: low energy frame rejected",
				"rms", energy,
				"min_energy", s.minEnergy,
			)
			return false
		}
	}
	return true
}

// classify runs the detector on frame. Detector failures count as speech so
// that audio is never silently dropped because of a VAD problem.
func classify(sess vad.SessionHandle, frame []byte) bool {
	ev, err := sess.ProcessFrame(frame)
	if err != nil {
		slog.Debug("segment: vad failed, treating frame as speech", "err", err)
		return true
	}
	return ev.IsSpeech()
}

// finalize hands the buffered audio to the caller and resets the state
// machine. The returned slice is no longer referenced by the segmenter.
func (s *Segmenter) finalize(cause EndCause) []byte {
	out := s.buffer
	frames := len(out) / s.frameSize
	d := s.format.Duration(len(out))

	switch cause {
	case CauseMaxDuration:
		slog.Warn("segment: max recording duration reached, forcing stop",
			"duration", d,
			"bytes", len(out),
		)
	default:
		slog.Info("segment: recording complete",
			"duration", d,
			"bytes", len(out),
			"silence_frames", s.silenceRun,
		)
	}

	s.Reset()
	if s.onEnd != nil {
		s.onEnd(cause, frames, d)
	}
	return out
}

// Reset clears the buffer and both counters.
func (s *Segmenter) Reset() {
	s.buffer = nil
	s.speaking = false
	s.silenceRun = 0
	s.speechRun = 0
}

// Close resets the segmenter and closes its VAD session.
func (s *Segmenter) Close() error {
	s.Reset()
	return s.vad.Close()
}

var _ Utterer = (*Segmenter)(nil)

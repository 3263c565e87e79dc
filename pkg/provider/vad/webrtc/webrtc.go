// Package webrtc provides a VAD engine backed by the WebRTC voice activity
// detector (github.com/maxhawkins/go-webrtcvad).
//
// The WebRTC detector is a binary, frame-level classifier: each 10, 20 or 30 ms
// frame of 16-bit mono PCM at 8, 16, 32 or 48 kHz is classified as speech or
// non-speech. Its aggressiveness mode (0–3) trades recall for robustness
// against background noise; mode 3 is the most aggressive.
//
// Usage:
//
//	eng := webrtc.New()
//	sess, err := eng.NewSession(vad.Config{SampleRate: 16000, FrameSizeMs: 30, Aggressiveness: 3})
//	ev, err := sess.ProcessFrame(frame)
package webrtc

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"github.com/JunioDutra/rtsp-to-wyoming/pkg/audio"
	"github.com/JunioDutra/rtsp-to-wyoming/pkg/provider/vad"
)

// Compile-time assertions.
var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*session)(nil)
)

// errClosed is returned by ProcessFrame after Close.
var errClosed = errors.New("webrtc vad: session is closed")

// supportedRates lists the sample rates accepted by the WebRTC detector.
var supportedRates = map[int]bool{8000: true, 16000: true, 32000: true, 48000: true}

// Engine creates WebRTC VAD sessions. It holds no state and is safe for
// concurrent use.
type Engine struct{}

// New returns a WebRTC VAD engine.
func New() *Engine { return &Engine{} }

// NewSession creates a detector configured with cfg.Aggressiveness.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !supportedRates[cfg.SampleRate] {
		return nil, fmt.Errorf("webrtc vad: unsupported sample rate %d", cfg.SampleRate)
	}

	det, err := newDetector(cfg.Aggressiveness)
	if err != nil {
		return nil, err
	}

	return &session{
		det:       det,
		cfg:       cfg,
		frameSize: audio.FrameSize(cfg.SampleRate, cfg.FrameDuration()),
	}, nil
}

func newDetector(mode int) (*webrtcvad.VAD, error) {
	det, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("webrtc vad: create detector: %w", err)
	}
	if err := det.SetMode(mode); err != nil {
		return nil, fmt.Errorf("webrtc vad: set mode %d: %w", mode, err)
	}
	return det, nil
}

// session wraps one detector instance.
type session struct {
	mu        sync.Mutex
	det       *webrtcvad.VAD
	cfg       vad.Config
	frameSize int
	closed    bool
}

// ProcessFrame classifies one frame. A frame whose length does not match the
// configured frame size is rejected before it reaches the detector.
func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return vad.Silence, errClosed
	}
	if len(frame) != s.frameSize {
		return vad.Silence, fmt.Errorf("webrtc vad: frame is %d bytes, want %d", len(frame), s.frameSize)
	}
	if !s.det.ValidRateAndFrameLength(s.cfg.SampleRate, len(frame)/audio.SampleWidth) {
		return vad.Silence, fmt.Errorf("webrtc vad: invalid rate/frame combination %d Hz, %d samples", s.cfg.SampleRate, len(frame)/audio.SampleWidth)
	}

	active, err := s.det.Process(s.cfg.SampleRate, frame)
	if err != nil {
		return vad.Silence, fmt.Errorf("webrtc vad: process: %w", err)
	}
	if active {
		return vad.Speech, nil
	}
	return vad.Silence, nil
}

// Reset re-creates the detector so no adaptive noise estimate survives. It is
// best effort: if a fresh detector cannot be built, the failure is logged and
// the current detector stays in use.
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	det, err := newDetector(s.cfg.Aggressiveness)
	if err != nil {
		slog.Warn("webrtc vad: reset failed, keeping current detector", "err", err)
		return
	}
	s.det = det
}

// Close marks the session closed. The detector memory is released by the
// garbage collector.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.det = nil
	return nil
}

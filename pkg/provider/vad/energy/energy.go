// Package energy provides a pure-Go VAD engine that classifies frames by
// their RMS amplitude.
//
// It has no adaptive noise model, so it is mainly useful where cgo is not
// available or as a predictable detector in tests. The frame RMS is mapped to
// a pseudo-probability by dividing by [FullScaleRMS] and clamping to 1; a
// frame is speech when that value reaches Config.SpeechThreshold.
package energy

import (
	"fmt"
	"math"
	"sync"

	"github.com/JunioDutra/rtsp-to-wyoming/pkg/audio"
	"github.com/JunioDutra/rtsp-to-wyoming/pkg/provider/vad"
)

// FullScaleRMS is the RMS level mapped to probability 1.0. Roughly 10% of
// 16-bit full scale, which close-talking speech reaches comfortably.
const FullScaleRMS = 3276.8

// defaultThreshold is used when Config.SpeechThreshold is zero.
const defaultThreshold = 0.5

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*session)(nil)
)

// Engine creates energy VAD sessions. Safe for concurrent use.
type Engine struct{}

// New returns an energy VAD engine.
func New() *Engine { return &Engine{} }

// NewSession validates cfg and returns a session.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	threshold := cfg.SpeechThreshold
	if threshold == 0 {
		threshold = defaultThreshold
	}
	return &session{
		threshold: threshold,
		frameSize: audio.FrameSize(cfg.SampleRate, cfg.FrameDuration()),
	}, nil
}

type session struct {
	mu        sync.Mutex
	threshold float64
	frameSize int
	closed    bool
}

// ProcessFrame implements [vad.SessionHandle].
func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.Silence, fmt.Errorf("energy vad: session is closed")
	}
	if len(frame) != s.frameSize {
		return vad.Silence, fmt.Errorf("energy vad: frame is %d bytes, want %d", len(frame), s.frameSize)
	}
	p := Probability(audio.RMS(frame))
	if p >= s.threshold {
		return vad.VADEvent{Type: vad.VADSpeechContinue, Probability: p}, nil
	}
	return vad.VADEvent{Type: vad.VADSilence, Probability: p}, nil
}

// Reset is a no-op; the detector is stateless.
func (s *session) Reset() {}

// Close implements [vad.SessionHandle].
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Probability maps an RMS level to [0, 1].
func Probability(rms float64) float64 {
	return math.Min(1, rms/FullScaleRMS)
}

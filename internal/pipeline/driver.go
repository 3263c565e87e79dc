// Package pipeline drives one camera: it keeps an audio stream open, cuts it
// into utterances and hands each utterance to a single transcription worker
// that matches the transcript against the configured commands and dispatches
// the resulting Home Assistant actions.
//
// The driver cycles through the states Idle, Streaming and BackingOff until
// its context is cancelled, after which it is Stopped for good:
//
//	Idle → Streaming → BackingOff → Streaming → … → Stopped
//
// Any stream failure (open error, decoder exit, missing audio track) is
// followed by a fixed reconnect delay and a fresh Open. Retries are unbounded.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JunioDutra/rtsp-to-wyoming/internal/command"
	"github.com/JunioDutra/rtsp-to-wyoming/internal/homeassistant"
	"github.com/JunioDutra/rtsp-to-wyoming/internal/observe"
	"github.com/JunioDutra/rtsp-to-wyoming/internal/segment"
	"github.com/JunioDutra/rtsp-to-wyoming/pkg/audio"
	"github.com/JunioDutra/rtsp-to-wyoming/pkg/provider/stt"
	"github.com/JunioDutra/rtsp-to-wyoming/pkg/provider/vad"
)

// DefaultReconnectDelay is the pause between a stream failure and the next
// Open.
const DefaultReconnectDelay = 5 * time.Second

// ErrAlreadyStarted is returned by [Driver.Run] when called more than once.
var ErrAlreadyStarted = errors.New("pipeline: driver already started")

// State is the lifecycle state of a [Driver].
type State int32

const (
	StateIdle State = iota
	StateStreaming
	StateBackingOff
	StateStopped
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateBackingOff:
		return "backing_off"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Dispatcher executes one home-automation action.
type Dispatcher interface {
	Dispatch(ctx context.Context, a command.Action) (homeassistant.Result, error)
}

// Recorder persists utterances for offline inspection.
type Recorder interface {
	Record(pcm []byte, format audio.Format, cause string) (string, error)
}

// Config holds the audio and segmentation parameters of a [Driver].
type Config struct {
	// SampleRate of the mono s16le frames delivered by the source.
	SampleRate int

	// FrameDuration is the duration of one source frame.
	FrameDuration time.Duration

	// VAD, when non-nil, selects speech-driven segmentation; a fresh session
	// is created for every stream. When nil, fixed windows of ChunkWindow are
	// emitted instead.
	VAD vad.Engine

	// VADConfig is passed to VAD.NewSession.
	VADConfig vad.Config

	// MinEnergy, MaxSilenceFrames and MaxRecordingFrames tune the segmenter.
	MinEnergy          float64
	MaxSilenceFrames   int
	MaxRecordingFrames int

	// ChunkWindow is the window length used when VAD is nil.
	ChunkWindow time.Duration
}

// Option is a functional option for configuring a [Driver].
type Option func(*Driver)

// WithReconnectDelay overrides [DefaultReconnectDelay].
func WithReconnectDelay(d time.Duration) Option {
	return func(dr *Driver) {
		if d > 0 {
			dr.reconnectDelay = d
		}
	}
}

// WithMetrics records pipeline metrics into m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(dr *Driver) {
		if m != nil {
			dr.metrics = m
		}
	}
}

// WithRecorder writes every utterance to r before it is transcribed.
func WithRecorder(r Recorder) Option {
	return func(dr *Driver) { dr.recorder = r }
}

// utterance is one unit of work for the transcription worker.
type utterance struct {
	pcm      []byte
	cause    segment.EndCause
	duration time.Duration
}

// Driver runs the capture loop and the transcription worker for one audio
// source. Run may be called once; State, SetMatcher and Matcher are safe for
// concurrent use.
type Driver struct {
	source      audio.Source
	transcriber stt.Transcriber
	dispatcher  Dispatcher
	cfg         Config
	format      audio.Format

	reconnectDelay time.Duration
	metrics        *observe.Metrics
	recorder       Recorder

	matcher atomic.Pointer[command.Matcher]
	state   atomic.Int32
	started atomic.Bool
}

// New creates a [Driver]. A nil matcher matches nothing until [Driver.SetMatcher]
// is called.
func New(src audio.Source, tr stt.Transcriber, disp Dispatcher, m *command.Matcher, cfg Config, opts ...Option) (*Driver, error) {
	if src == nil {
		return nil, errors.New("pipeline: audio source is nil")
	}
	if tr == nil {
		return nil, errors.New("pipeline: transcriber is nil")
	}
	if disp == nil {
		return nil, errors.New("pipeline: dispatcher is nil")
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("pipeline: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if !audio.ValidFrameDuration(cfg.FrameDuration) {
		return nil, fmt.Errorf("pipeline: frame duration must be 10, 20 or 30 ms, got %v", cfg.FrameDuration)
	}
	if cfg.VAD == nil && cfg.ChunkWindow <= 0 {
		return nil, errors.New("pipeline: chunk window must be positive when vad is disabled")
	}

	d := &Driver{
		source:         src,
		transcriber:    tr,
		dispatcher:     disp,
		cfg:            cfg,
		format:         audio.Mono16(cfg.SampleRate),
		reconnectDelay: DefaultReconnectDelay,
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	if m == nil {
		m = command.NewMatcher(nil)
	}
	d.matcher.Store(m)
	return d, nil
}

// State returns the current lifecycle state.
func (d *Driver) State() State { return State(d.state.Load()) }

// SetMatcher replaces the command set. The next transcript uses m.
func (d *Driver) SetMatcher(m *command.Matcher) {
	if m == nil {
		m = command.NewMatcher(nil)
	}
	d.matcher.Store(m)
}

// Matcher returns the command set currently in use.
func (d *Driver) Matcher() *command.Matcher { return d.matcher.Load() }

func (d *Driver) setState(s State) { d.state.Store(int32(s)) }

// Run captures audio until ctx is cancelled. It returns nil after a
// cancellation and [ErrAlreadyStarted] on a second call. On return the
// worker has finished and the transcriber is closed.
func (d *Driver) Run(ctx context.Context) error {
	if !d.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	queue := make(chan utterance, 1)
	var wg sync.WaitGroup
	wg.Go(func() { d.work(ctx, queue) })

	defer func() {
		close(queue)
		wg.Wait()
		if err := d.transcriber.Close(); err != nil {
			slog.Warn("pipeline: close transcriber", "err", err)
		}
		d.setState(StateStopped)
		slog.Info("pipeline: stopped")
	}()

	for attempt := 1; ; attempt++ {
		err := d.stream(ctx, queue)
		if ctx.Err() != nil {
			return nil
		}

		reason := "stream_error"
		if errors.Is(err, audio.ErrNoAudioTrack) {
			reason = "no_audio_track"
		}
		d.metrics.RecordReconnect(ctx, reason)
		slog.Warn("pipeline: audio stream ended, reconnecting",
			"reason", reason,
			"attempt", attempt,
			"delay", d.reconnectDelay,
			"err", err,
		)

		d.setState(StateBackingOff)
		timer := time.NewTimer(d.reconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// stream runs one subscription to the source until it ends. The returned
// error says why the stream ended.
func (d *Driver) stream(ctx context.Context, queue chan<- utterance) error {
	s, err := d.source.Open(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: open source: %w", err)
	}
	defer s.Close()

	var cause segment.EndCause
	onEnd := func(c segment.EndCause, _ int, length time.Duration) {
		cause = c
		d.metrics.RecordUtterance(ctx, string(c), length)
	}
	utterer, release, err := d.newUtterer(onEnd)
	if err != nil {
		return err
	}
	defer release()

	d.setState(StateStreaming)
	d.metrics.StreamActive.Add(ctx, 1)
	defer d.metrics.StreamActive.Add(context.WithoutCancel(ctx), -1)
	slog.Info("pipeline: audio stream open", "format", d.format, "frame_duration", d.cfg.FrameDuration)

	frames := s.Frames()
	for {
		var (
			frame []byte
			ok    bool
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok = <-frames:
		}
		if !ok {
			if err := s.Err(); err != nil {
				return fmt.Errorf("pipeline: stream: %w", err)
			}
			return errors.New("pipeline: stream ended")
		}

		d.metrics.Frames.Add(ctx, 1)
		pcm, err := utterer.AddFrame(frame)
		if err != nil {
			slog.Debug("pipeline: skipping frame", "bytes", len(frame), "err", err)
			continue
		}
		if pcm != nil {
			d.enqueue(ctx, queue, utterance{pcm: pcm, cause: cause, duration: d.format.Duration(len(pcm))})
		}
	}
}

// newUtterer builds the per-stream segmentation state. release frees it.
func (d *Driver) newUtterer(onEnd segment.EndFunc) (segment.Utterer, func(), error) {
	if d.cfg.VAD == nil {
		c, err := segment.NewChunker(d.cfg.SampleRate, d.cfg.FrameDuration, d.cfg.ChunkWindow, onEnd)
		if err != nil {
			return nil, nil, fmt.Errorf("pipeline: %w", err)
		}
		return c, func() {}, nil
	}

	sess, err := d.cfg.VAD.NewSession(d.cfg.VADConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: create vad session: %w", err)
	}
	seg, err := segment.New(sess, segment.Config{
		SampleRate:         d.cfg.SampleRate,
		FrameDuration:      d.cfg.FrameDuration,
		MinEnergy:          d.cfg.MinEnergy,
		MaxSilenceFrames:   d.cfg.MaxSilenceFrames,
		MaxRecordingFrames: d.cfg.MaxRecordingFrames,
		OnEnd:              onEnd,
	})
	if err != nil {
		_ = sess.Close()
		return nil, nil, fmt.Errorf("pipeline: %w", err)
	}
	return seg, func() {
		if err := seg.Close(); err != nil {
			slog.Warn("pipeline: close segmenter", "err", err)
		}
	}, nil
}

// enqueue hands u to the worker without blocking. When the worker is busy and
// an utterance is already waiting, u is dropped.
func (d *Driver) enqueue(ctx context.Context, queue chan<- utterance, u utterance) {
	select {
	case queue <- u:
	default:
		d.metrics.UtterancesDropped.Add(ctx, 1)
		slog.Warn("pipeline: transcription busy, dropping utterance",
			"cause", u.cause,
			"bytes", len(u.pcm),
			"duration", u.duration,
		)
	}
}

package app

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/JunioDutra/rtsp-to-wyoming/internal/config"
	"github.com/JunioDutra/rtsp-to-wyoming/internal/homeassistant"
	"github.com/JunioDutra/rtsp-to-wyoming/internal/pipeline"
	"github.com/JunioDutra/rtsp-to-wyoming/internal/resilience"
	"github.com/JunioDutra/rtsp-to-wyoming/internal/source"
	"github.com/JunioDutra/rtsp-to-wyoming/pkg/audio"
	"github.com/JunioDutra/rtsp-to-wyoming/pkg/provider/stt"
	"github.com/JunioDutra/rtsp-to-wyoming/pkg/provider/stt/wyoming"
	"github.com/JunioDutra/rtsp-to-wyoming/pkg/provider/vad"
)

// StdinURL is the rtsp_url value that reads raw PCM from standard input.
const StdinURL = "-"

// Providers holds the external collaborators of the pipeline. New requires
// Source, STT and Dispatcher; VAD is required only when vad_enabled is set.
type Providers struct {
	Source     audio.Source
	STT        stt.Transcriber
	Dispatcher pipeline.Dispatcher
	VAD        vad.Engine
}

// BuildProviders creates the real implementations selected by cfg. VAD
// engines are looked up in reg.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	ps := &Providers{}
	format := audio.Mono16(cfg.SampleRate)

	if cfg.RTSPURL == StdinURL {
		ps.Source = source.NewReader(os.Stdin, audio.FrameSize(cfg.SampleRate, cfg.FrameDuration()))
		slog.Info("provider created", "kind", "source", "name", "stdin")
	} else {
		src, err := source.NewFFmpeg(cfg.RTSPURL, format, cfg.FrameDuration(),
			source.WithBinary(cfg.FFmpegPath),
		)
		if err != nil {
			return nil, fmt.Errorf("create audio source: %w", err)
		}
		ps.Source = src
		slog.Info("provider created", "kind", "source", "name", "ffmpeg", "url", source.RedactURL(cfg.RTSPURL))
	}

	tr, err := wyoming.New(cfg.WyomingAddr(),
		wyoming.WithChunkSamples(cfg.ChunkSamples),
		wyoming.WithTimeoutBounds(cfg.TranscribeTimeoutMin, cfg.TranscribeTimeoutMax),
		wyoming.WithLanguage(cfg.Language),
	)
	if err != nil {
		return nil, fmt.Errorf("create wyoming client: %w", err)
	}
	ps.STT = tr
	slog.Info("provider created", "kind", "stt", "name", "wyoming", "addr", cfg.WyomingAddr())

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name: "homeassistant",
	})
	ha, err := homeassistant.New(cfg.HomeAssistantURL,
		homeassistant.WithTimeout(cfg.ActionTimeout),
		homeassistant.WithBreaker(breaker),
	)
	if err != nil {
		return nil, fmt.Errorf("create home assistant client: %w", err)
	}
	ps.Dispatcher = ha
	slog.Info("provider created", "kind", "dispatcher", "name", "homeassistant", "url", cfg.HomeAssistantURL)

	if cfg.VADEnabled {
		eng, err := reg.CreateVAD(cfg)
		if err != nil {
			return nil, fmt.Errorf("create vad engine %q: %w", cfg.VADEngine, err)
		}
		ps.VAD = eng
		slog.Info("provider created", "kind", "vad", "name", cfg.VADEngine)
	}

	return ps, nil
}

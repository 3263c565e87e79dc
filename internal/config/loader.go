package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"

	"github.com/JunioDutra/rtsp-to-wyoming/internal/command"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the Home Assistant supervisor places add-on options.
const DefaultPath = "/data/options.json"

// ValidVADEngines lists the accepted vad_engine values.
var ValidVADEngines = []string{VADEngineWebRTC, VADEngineEnergy}

// webrtcSampleRates lists the rates the webrtc detector supports.
var webrtcSampleRates = []int{8000, 16000, 32000, 48000}

// Load reads the configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML (or JSON) config from r on top of [Default]
// and validates the result. Unknown top-level keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every fatal problem found.
//
// Invalid commands and actions are not fatal: each is logged and removed from
// cfg.Commands, so Validate may modify cfg.
func Validate(cfg *Config) error {
	var errs []error

	if strings.TrimSpace(cfg.RTSPURL) == "" {
		errs = append(errs, errors.New("rtsp_url is required"))
	}
	if strings.TrimSpace(cfg.WyomingHost) == "" {
		errs = append(errs, errors.New("wyoming_host is required"))
	}
	if cfg.WyomingPort < 1 || cfg.WyomingPort > 65535 {
		errs = append(errs, fmt.Errorf("wyoming_port %d is out of range [1, 65535]", cfg.WyomingPort))
	}
	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	// Audio and segmentation
	if cfg.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate must be positive, got %d", cfg.SampleRate))
	}
	switch cfg.FrameDurationMs {
	case 10, 20, 30:
	default:
		errs = append(errs, fmt.Errorf("frame_duration_ms %d is invalid; valid values: 10, 20, 30", cfg.FrameDurationMs))
	}
	if !slices.Contains(ValidVADEngines, cfg.VADEngine) {
		errs = append(errs, fmt.Errorf("vad_engine %q is invalid; valid values: %s", cfg.VADEngine, strings.Join(ValidVADEngines, ", ")))
	}
	if cfg.VADEnabled && cfg.VADEngine == VADEngineWebRTC && !slices.Contains(webrtcSampleRates, cfg.SampleRate) {
		errs = append(errs, fmt.Errorf("sample_rate %d is not supported by the webrtc VAD; valid values: 8000, 16000, 32000, 48000", cfg.SampleRate))
	}
	if cfg.VADMode < 0 || cfg.VADMode > 3 {
		errs = append(errs, fmt.Errorf("vad_mode %d is out of range [0, 3]", cfg.VADMode))
	}
	if cfg.VADThreshold < 0 || cfg.VADThreshold > 1 {
		errs = append(errs, fmt.Errorf("vad_threshold %.2f is out of range [0, 1]", cfg.VADThreshold))
	}
	if !cfg.VADEnabled && cfg.ChunkDuration <= 0 {
		errs = append(errs, fmt.Errorf("chunk_duration must be positive when vad_enabled is false, got %v", cfg.ChunkDuration))
	}
	if cfg.MinEnergy < 0 {
		errs = append(errs, fmt.Errorf("min_energy must not be negative, got %v", cfg.MinEnergy))
	}
	if cfg.MaxSilenceFrames <= 0 {
		errs = append(errs, fmt.Errorf("max_silence_frames must be positive, got %d", cfg.MaxSilenceFrames))
	}
	if cfg.MaxRecordingFrames <= 0 {
		errs = append(errs, fmt.Errorf("max_recording_frames must be positive, got %d", cfg.MaxRecordingFrames))
	}

	// Transcription
	if cfg.ChunkSamples <= 0 {
		errs = append(errs, fmt.Errorf("chunk_samples must be positive, got %d", cfg.ChunkSamples))
	}
	if cfg.TranscribeTimeoutMin <= 0 || cfg.TranscribeTimeoutMax < cfg.TranscribeTimeoutMin {
		errs = append(errs, fmt.Errorf("transcribe timeout bounds [%v, %v] are invalid", cfg.TranscribeTimeoutMin, cfg.TranscribeTimeoutMax))
	}
	if cfg.ReconnectDelay <= 0 {
		errs = append(errs, fmt.Errorf("reconnect_delay must be positive, got %v", cfg.ReconnectDelay))
	}

	// Home Assistant
	if u, err := url.Parse(cfg.HomeAssistantURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("homeassistant_url %q is not an absolute URL", cfg.HomeAssistantURL))
	}
	if cfg.ActionTimeout <= 0 {
		errs = append(errs, fmt.Errorf("action_timeout must be positive, got %v", cfg.ActionTimeout))
	}

	cfg.Commands = validCommands(cfg.Commands)
	if len(cfg.Commands) == 0 {
		slog.Warn("no usable voice commands configured; transcripts will only be logged")
	}

	return errors.Join(errs...)
}

// validCommands returns the commands that can be executed. Commands without a
// pattern or without any valid action are dropped, as are individual invalid
// actions; every drop is logged.
func validCommands(cmds []CommandConfig) []CommandConfig {
	out := make([]CommandConfig, 0, len(cmds))
	for i, cmd := range cmds {
		prefix := fmt.Sprintf("commands[%d]", i)
		if len(command.Normalize(cmd.Pattern)) == 0 {
			slog.Warn("skipping command without pattern", "command", prefix)
			continue
		}
		if len(cmd.Actions) == 0 {
			slog.Warn("skipping command without action or actions", "command", prefix, "pattern", cmd.Pattern)
			continue
		}

		actions := make([]ActionConfig, 0, len(cmd.Actions))
		for j, a := range cmd.Actions {
			if err := validateAction(a); err != nil {
				slog.Warn("skipping invalid action",
					"command", prefix,
					"pattern", cmd.Pattern,
					"action_index", j,
					"err", err,
				)
				continue
			}
			actions = append(actions, a)
		}
		if len(actions) == 0 {
			slog.Warn("skipping command whose actions are all invalid", "command", prefix, "pattern", cmd.Pattern)
			continue
		}
		cmd.Actions = actions
		out = append(out, cmd)
	}
	return out
}

func validateAction(a ActionConfig) error {
	if a.serviceDataErr != nil {
		return a.serviceDataErr
	}
	if a.Action == "" {
		return errors.New("action is required")
	}
	domain, service, ok := strings.Cut(a.Action, ".")
	if !ok || domain == "" || service == "" {
		return fmt.Errorf("action %q is not in domain.service form", a.Action)
	}
	return nil
}

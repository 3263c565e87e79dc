// Package config provides the configuration schema, loader, and VAD engine
// registry for the rtsp-to-wyoming voice assistant.
//
// The configuration document is the Home Assistant add-on's options file
// (/data/options.json). JSON is a subset of YAML, so the same loader accepts
// hand-written YAML files for local development.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/JunioDutra/rtsp-to-wyoming/internal/command"
	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// VAD engine names accepted by vad_engine.
const (
	VADEngineWebRTC = "webrtc"
	VADEngineEnergy = "energy"
)

// Config is the root configuration structure. It is typically loaded with
// [Load] or [LoadFromReader], which start from [Default] so that every key is
// optional except the stream and server coordinates.
type Config struct {
	// RTSPURL is the camera's RTSP stream URL. "-" reads raw s16le PCM from
	// standard input instead.
	RTSPURL string `yaml:"rtsp_url"`

	// WyomingHost and WyomingPort address the Wyoming ASR server.
	WyomingHost string `yaml:"wyoming_host"`
	WyomingPort int    `yaml:"wyoming_port"`

	// SampleRate is the PCM rate the stream is resampled to. Default: 16000.
	SampleRate int `yaml:"sample_rate"`

	// VADEnabled selects VAD segmentation (true, the default) or fixed-window
	// chunking every ChunkDuration seconds.
	VADEnabled bool `yaml:"vad_enabled"`

	// VADThreshold is the speech probability threshold for probabilistic
	// engines. The webrtc engine is binary and ignores it. Default: 0.5.
	VADThreshold float64 `yaml:"vad_threshold"`

	// ChunkDuration is the window length in seconds when VAD is disabled.
	// Default: 2.
	ChunkDuration float64 `yaml:"chunk_duration"`

	// LogLevel controls verbosity. Reloaded at runtime.
	LogLevel LogLevel `yaml:"log_level"`

	// Commands are the voice commands, in match priority order.
	Commands []CommandConfig `yaml:"commands"`

	// FrameDurationMs is the VAD frame length: 10, 20 or 30. Default: 30.
	FrameDurationMs int `yaml:"frame_duration_ms"`

	// VADMode is the webrtc aggressiveness, 0–3. Default: 3.
	VADMode int `yaml:"vad_mode"`

	// VADEngine selects the detector: "webrtc" (default) or "energy".
	VADEngine string `yaml:"vad_engine"`

	// MinEnergy is the RMS gate applied after VAD. 0 disables. Default: 500.
	MinEnergy float64 `yaml:"min_energy"`

	// MaxSilenceFrames ends an utterance after this many non-speech frames.
	// Default: 30.
	MaxSilenceFrames int `yaml:"max_silence_frames"`

	// MaxRecordingFrames cuts an utterance off after this many speech frames.
	// Default: 1000.
	MaxRecordingFrames int `yaml:"max_recording_frames"`

	// ChunkSamples is the number of samples per Wyoming audio-chunk event.
	// Default: 1024.
	ChunkSamples int `yaml:"chunk_samples"`

	// Language, when set, is sent to the ASR server with every utterance.
	Language string `yaml:"language"`

	// TranscribeTimeoutMin and TranscribeTimeoutMax bound the transcript
	// wait. Defaults: 30s and 60s.
	TranscribeTimeoutMin time.Duration `yaml:"transcribe_timeout_min"`
	TranscribeTimeoutMax time.Duration `yaml:"transcribe_timeout_max"`

	// ReconnectDelay is the pause before reopening a failed stream.
	// Default: 5s.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`

	// FFmpegPath is the ffmpeg executable. Default: "ffmpeg".
	FFmpegPath string `yaml:"ffmpeg_path"`

	// HomeAssistantURL is the base URL of the Home Assistant core API.
	// Default: "http://supervisor/core".
	HomeAssistantURL string `yaml:"homeassistant_url"`

	// ActionTimeout bounds each Home Assistant service call. Default: 10s.
	ActionTimeout time.Duration `yaml:"action_timeout"`

	// HTTPAddr is the listen address for /metrics, /healthz and /readyz.
	// Empty disables the HTTP server.
	HTTPAddr string `yaml:"http_addr"`

	// DebugDir, when set, receives a WAV file for every utterance.
	DebugDir string `yaml:"debug_dir"`
}

// Default returns a Config populated with every default value.
func Default() *Config {
	return &Config{
		SampleRate:           16000,
		VADEnabled:           true,
		VADThreshold:         0.5,
		ChunkDuration:        2,
		LogLevel:             LogInfo,
		FrameDurationMs:      30,
		VADMode:              3,
		VADEngine:            VADEngineWebRTC,
		MinEnergy:            500,
		MaxSilenceFrames:     30,
		MaxRecordingFrames:   1000,
		ChunkSamples:         1024,
		TranscribeTimeoutMin: 30 * time.Second,
		TranscribeTimeoutMax: 60 * time.Second,
		ReconnectDelay:       5 * time.Second,
		FFmpegPath:           "ffmpeg",
		HomeAssistantURL:     "http://supervisor/core",
		ActionTimeout:        10 * time.Second,
	}
}

// WyomingAddr returns the "host:port" address of the ASR server.
func (c *Config) WyomingAddr() string {
	return net.JoinHostPort(c.WyomingHost, strconv.Itoa(c.WyomingPort))
}

// FrameDuration returns FrameDurationMs as a [time.Duration].
func (c *Config) FrameDuration() time.Duration {
	return time.Duration(c.FrameDurationMs) * time.Millisecond
}

// ChunkWindow returns ChunkDuration as a [time.Duration].
func (c *Config) ChunkWindow() time.Duration {
	return time.Duration(c.ChunkDuration * float64(time.Second))
}

// Rules converts Commands into matcher rules, preserving order.
func (c *Config) Rules() []command.Rule {
	rules := make([]command.Rule, 0, len(c.Commands))
	for _, cmd := range c.Commands {
		r := command.Rule{Pattern: cmd.Pattern, Actions: make([]command.Action, 0, len(cmd.Actions))}
		for _, a := range cmd.Actions {
			r.Actions = append(r.Actions, command.Action{
				Name:        a.Action,
				EntityID:    a.EntityID,
				ServiceData: a.ServiceData,
			})
		}
		rules = append(rules, r)
	}
	return rules
}

// CommandConfig is one voice command. Two shapes are accepted and both are
// normalized into Actions while decoding:
//
//	{pattern: "...", action: "light.turn_on", entity_id: "...", service_data: {...}}
//	{pattern: "...", actions: [{action: ..., entity_id: ..., service_data: ...}, ...]}
//
// When both shapes are present, actions wins.
type CommandConfig struct {
	Pattern string
	Actions []ActionConfig
}

// ActionConfig is one Home Assistant service call.
type ActionConfig struct {
	// Action is the "domain.service" name, e.g. "light.turn_on".
	Action string `yaml:"action"`

	// EntityID is the target entity. Optional.
	EntityID string `yaml:"entity_id"`

	// ServiceData holds extra service parameters. It may be given as a
	// mapping or as a JSON object encoded in a string.
	ServiceData map[string]any `yaml:"service_data"`

	// serviceDataErr records a service_data string that is not a JSON
	// object. [Validate] drops such actions.
	serviceDataErr error
}

// UnmarshalYAML implements [yaml.Unmarshaler].
func (c *CommandConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Pattern     string    `yaml:"pattern"`
		Action      string    `yaml:"action"`
		EntityID    string    `yaml:"entity_id"`
		ServiceData yaml.Node `yaml:"service_data"`
		Actions     yaml.Node `yaml:"actions"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.Pattern = raw.Pattern
	c.Actions = nil

	switch raw.Actions.Kind {
	case yaml.SequenceNode:
		if err := raw.Actions.Decode(&c.Actions); err != nil {
			return err
		}
		return nil
	case yaml.MappingNode:
		var one ActionConfig
		if err := raw.Actions.Decode(&one); err != nil {
			return err
		}
		c.Actions = []ActionConfig{one}
		return nil
	}

	if raw.Action != "" {
		a := ActionConfig{Action: raw.Action, EntityID: raw.EntityID}
		a.ServiceData, a.serviceDataErr = decodeServiceData(&raw.ServiceData)
		c.Actions = []ActionConfig{a}
	}
	return nil
}

// UnmarshalYAML implements [yaml.Unmarshaler].
func (a *ActionConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Action      string    `yaml:"action"`
		EntityID    string    `yaml:"entity_id"`
		ServiceData yaml.Node `yaml:"service_data"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	a.Action = raw.Action
	a.EntityID = raw.EntityID
	a.ServiceData, a.serviceDataErr = decodeServiceData(&raw.ServiceData)
	return nil
}

// decodeServiceData accepts a mapping, a JSON object string, or nothing.
func decodeServiceData(n *yaml.Node) (map[string]any, error) {
	switch n.Kind {
	case 0:
		return nil, nil
	case yaml.MappingNode:
		var m map[string]any
		if err := n.Decode(&m); err != nil {
			return nil, err
		}
		return m, nil
	case yaml.ScalarNode:
		if n.Tag == "!!null" || n.Value == "" {
			return nil, nil
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(n.Value), &m); err != nil {
			return nil, fmt.Errorf("service_data is not a JSON object: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("service_data must be a mapping or a JSON string")
	}
}

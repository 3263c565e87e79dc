package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/JunioDutra/rtsp-to-wyoming/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by CreateVAD when no factory has been
// registered under the requested engine name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps VAD engine names to their constructor functions. It is safe
// for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	vad map[string]func(*Config) (vad.Engine, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		vad: make(map[string]func(*Config) (vad.Engine, error)),
	}
}

// RegisterVAD registers a VAD engine factory under name. Subsequent calls
// with the same name overwrite the previous registration.
func (r *Registry) RegisterVAD(name string, factory func(*Config) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// CreateVAD instantiates the VAD engine selected by cfg.VADEngine.
func (r *Registry) CreateVAD(cfg *Config) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[cfg.VADEngine]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad %q", ErrProviderNotRegistered, cfg.VADEngine)
	}
	return factory(cfg)
}

// VADNames returns the registered engine names in sorted order.
func (r *Registry) VADNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.vad))
	for name := range r.vad {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// VADConfig derives the session configuration for the selected engine.
func (c *Config) VADConfig() vad.Config {
	return vad.Config{
		SampleRate:      c.SampleRate,
		FrameSizeMs:     c.FrameDurationMs,
		Aggressiveness:  c.VADMode,
		SpeechThreshold: c.VADThreshold,
	}
}

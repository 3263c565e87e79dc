package config_test

import (
	"slices"
	"testing"

	"github.com/JunioDutra/rtsp-to-wyoming/internal/config"
)

func baseConfig() *config.Config {
	cfg := config.Default()
	cfg.RTSPURL = "rtsp://cam"
	cfg.WyomingHost = "localhost"
	cfg.WyomingPort = 10300
	cfg.Commands = []config.CommandConfig{{
		Pattern: "luz",
		Actions: []config.ActionConfig{{Action: "light.toggle", EntityID: "light.a"}},
	}}
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()

	d := config.Diff(baseConfig(), baseConfig())
	if d.LogLevelChanged || d.CommandsChanged || len(d.RestartRequired) != 0 {
		t.Errorf("expected empty diff, got %+v", d)
	}
	if !d.HotReloadable() {
		t.Error("empty diff should be hot-reloadable")
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()

	old, new := baseConfig(), baseConfig()
	new.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("diff = %+v", d)
	}
	if !d.HotReloadable() {
		t.Error("log level change should be hot-reloadable")
	}
}

func TestDiff_CommandsChanged(t *testing.T) {
	t.Parallel()

	old, new := baseConfig(), baseConfig()
	new.Commands[0].Actions[0].EntityID = "light.b"

	d := config.Diff(old, new)
	if !d.CommandsChanged {
		t.Error("expected CommandsChanged")
	}
	if !d.HotReloadable() {
		t.Errorf("command change should be hot-reloadable, restart: %v", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	old, new := baseConfig(), baseConfig()
	new.RTSPURL = "rtsp://other"
	new.SampleRate = 8000
	new.VADEnabled = false

	d := config.Diff(old, new)
	want := []string{"rtsp_url", "sample_rate", "vad_enabled"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
	if d.HotReloadable() {
		t.Error("expected restart to be required")
	}
}

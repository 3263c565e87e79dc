package config

import (
	"reflect"
	"strings"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	// LogLevelChanged is true when log_level differs. It is applied live.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// CommandsChanged is true when the command list differs in any way. The
	// new rule set is swapped in atomically.
	CommandsChanged bool

	// RestartRequired lists the yaml keys of every other changed field. Those
	// take effect only after a restart.
	RestartRequired []string
}

// HotReloadable reports whether every change in d can be applied without a
// restart.
func (d ConfigDiff) HotReloadable() bool { return len(d.RestartRequired) == 0 }

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}
	if !reflect.DeepEqual(old.Commands, new.Commands) {
		d.CommandsChanged = true
	}

	ov := reflect.ValueOf(old).Elem()
	nv := reflect.ValueOf(new).Elem()
	t := ov.Type()
	for i := range t.NumField() {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "" || name == "log_level" || name == "commands" {
			continue
		}
		if !reflect.DeepEqual(ov.Field(i).Interface(), nv.Field(i).Interface()) {
			d.RestartRequired = append(d.RestartRequired, name)
		}
	}
	return d
}

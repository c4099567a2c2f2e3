package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Capture and audio settings apply to sessions started after the change;
// the audio format, provider, bus, and listener changes need a process
// restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// CaptureChanged is true if any engine tuning value changed.
	CaptureChanged bool

	// AudioChanged is true if the recognition language or keyword hints
	// changed.
	AudioChanged bool

	// RestartRequired lists top-level fields whose changes cannot be
	// applied to a running process (e.g., "providers", "bus").
	RestartRequired []string
}

// Empty reports whether d records no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.CaptureChanged && !d.AudioChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.CaptureChanged = !reflect.DeepEqual(old.Capture, new.Capture)
	d.AudioChanged = !audioEqual(old.Audio, new.Audio)

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		!reflect.DeepEqual(old.Server.TLS, new.Server.TLS) ||
		!slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Audio.SampleRate != new.Audio.SampleRate || old.Audio.Channels != new.Audio.Channels {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Bus != new.Bus {
		d.RestartRequired = append(d.RestartRequired, "bus")
	}

	return d
}

func audioEqual(a, b AudioConfig) bool {
	return a.Language == b.Language &&
		slices.Equal(a.Keywords, b.Keywords)
}

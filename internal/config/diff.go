package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. Only the log level
// and the sink policy are applied at runtime; every other changed section is
// listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	SinkChanged bool
	NewSink     SinkConfig

	// RestartRequired names the top-level sections that changed but only
	// take effect after a restart (e.g. "audio", "backend").
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.SinkChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !sinkEqual(old.Sink, new.Sink) {
		d.SinkChanged = true
		d.NewSink = new.Sink
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	sections := []struct {
		name     string
		old, new any
	}{
		{"audio", old.Audio, new.Audio},
		{"vad", old.VAD, new.VAD},
		{"segmenter", old.Segmenter, new.Segmenter},
		{"backend", old.Backend, new.Backend},
		{"outputs", old.Outputs, new.Outputs},
		{"store", old.Store, new.Store},
		{"telemetry", old.Telemetry, new.Telemetry},
	}
	for _, s := range sections {
		// Backend carries an Options map, so plain == is not enough.
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}

	return d
}

func sinkEqual(a, b SinkConfig) bool {
	return a.MinLength == b.MinLength &&
		a.Similarity == b.Similarity &&
		slices.Equal(a.Vocabulary, b.Vocabulary)
}

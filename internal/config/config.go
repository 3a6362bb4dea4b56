// Package config provides the configuration schema, loader, hot-reload watcher
// and backend registry for earshot.
package config

import (
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
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

// StoreDriver selects the transcript history backend.
type StoreDriver string

const (
	// StoreNone disables transcript history.
	StoreNone     StoreDriver = ""
	StoreSQLite   StoreDriver = "sqlite"
	StorePostgres StoreDriver = "postgres"
)

// IsValid reports whether d is a recognised store driver.
func (d StoreDriver) IsValid() bool {
	switch d {
	case StoreNone, StoreSQLite, StorePostgres:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	VAD       VADConfig       `yaml:"vad"`
	Segmenter SegmenterConfig `yaml:"segmenter"`
	Backend   BackendConfig   `yaml:"backend"`
	Sink      SinkConfig      `yaml:"sink"`
	Outputs   OutputsConfig   `yaml:"outputs"`
	Store     StoreConfig     `yaml:"store"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds logging and HTTP settings.
type ServerConfig struct {
	// ListenAddr is the TCP address for health, metrics, the transcript API
	// and the websocket stream (e.g. ":9090"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig describes the capture format and the frame queue.
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	FrameMs    int `yaml:"frame_ms"`

	// DeviceIndex selects an input device by PortAudio index. -1 picks the
	// first device with at least one input channel.
	DeviceIndex int `yaml:"device_index"`

	// QueueCapacity bounds the frame queue. 0 means unbounded.
	QueueCapacity  int                  `yaml:"queue_capacity"`
	OverflowPolicy audio.OverflowPolicy `yaml:"overflow_policy"`

	// PollTimeoutMs is how long the worker waits for a frame before checking
	// for termination.
	PollTimeoutMs int `yaml:"poll_timeout_ms"`
}

// Format returns the capture format described by c.
func (c AudioConfig) Format() audio.Format {
	return audio.Format{
		SampleRate:    c.SampleRate,
		FrameDuration: time.Duration(c.FrameMs) * time.Millisecond,
	}
}

// PollTimeout returns PollTimeoutMs as a duration.
func (c AudioConfig) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutMs) * time.Millisecond
}

// VADConfig selects and tunes the voice activity detector.
type VADConfig struct {
	// Name selects the registered engine ("webrtc" or "energy").
	Name string `yaml:"name"`

	// Mode is the WebRTC aggressiveness, 0 to 3.
	Mode int `yaml:"mode"`

	// EnergyThreshold is the RMS level used by the energy engine.
	EnergyThreshold float64 `yaml:"energy_threshold"`
}

// SegmenterConfig holds the hysteresis thresholds in milliseconds.
type SegmenterConfig struct {
	MinSpeechMs  int `yaml:"min_speech_ms"`
	MinSilenceMs int `yaml:"min_silence_ms"`

	// MaxUtteranceMs caps an utterance. 0 means unlimited.
	MaxUtteranceMs int `yaml:"max_utterance_ms"`
}

// ProviderEntry is the configuration block shared by every recognition
// backend. Name is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered backend (e.g. "whisper-native", "openai").
	Name string `yaml:"name"`

	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default endpoint. For "whisper" it is
	// the whisper-server address.
	BaseURL string `yaml:"base_url"`

	// Model selects a model. For "whisper-native" and "exec" it is the path
	// to the model file.
	Model string `yaml:"model"`

	// Options holds backend-specific values not covered above (e.g.
	// "language", "command", "prompt").
	Options map[string]any `yaml:"options"`
}

// StringOption returns Options[key] when it is a string, or "".
func (e ProviderEntry) StringOption(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// DurationOption parses Options[key] as a Go duration string (e.g. "45s").
// It returns 0 when the key is absent or malformed.
func (e ProviderEntry) DurationOption(key string) time.Duration {
	d, err := time.ParseDuration(e.StringOption(key))
	if err != nil {
		return 0
	}
	return d
}

// BackendConfig configures the primary recognition backend and its
// fallbacks.
type BackendConfig struct {
	ProviderEntry `yaml:",inline"`

	// InitTimeout bounds backend initialisation. Zero means no limit.
	InitTimeout time.Duration `yaml:"init_timeout"`

	// Fallbacks are tried in order when the primary fails or its circuit
	// breaker is open. Each fallback is a second attempt at the same
	// utterance, so leave this empty to keep one transcription attempt per
	// utterance. Empty by default.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig tunes the per-backend circuit breaker. Zero values
// select the breaker's defaults.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// SinkConfig is the transcript sink policy. It can be changed at runtime by
// the [Watcher].
type SinkConfig struct {
	// MinLength is the minimum transcript length in characters. 0 disables
	// the check.
	MinLength int `yaml:"min_length"`

	// Similarity is the Jaro-Winkler threshold above which a transcript is
	// treated as a repeat of the previous one. 0 means exact equality only.
	Similarity float64 `yaml:"similarity"`

	// Vocabulary lists proper nouns that near-miss words are corrected to.
	Vocabulary []string `yaml:"vocabulary"`
}

// OutputsConfig configures transcript fan-out beyond stdout.
type OutputsConfig struct {
	NATS      NATSConfig      `yaml:"nats"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

// NATSConfig enables publishing to a NATS subject when URL is set.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	Token   string `yaml:"token"`
}

// WebSocketConfig enables the live transcript stream on the HTTP server.
type WebSocketConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// StoreConfig selects the transcript history store. For sqlite, DSN is a
// file path.
type StoreConfig struct {
	Driver StoreDriver `yaml:"driver"`
	DSN    string      `yaml:"dsn"`
}

// TelemetryConfig configures metrics and tracing.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`
}

// Default returns a Config with every documented default applied. Decoding a
// file on top of it leaves unset keys at these values.
func Default() Config {
	return Config{
		Server: ServerConfig{
			LogLevel: LogInfo,
		},
		Audio: AudioConfig{
			SampleRate:     audio.DefaultSampleRate,
			FrameMs:        int(audio.DefaultFrameDuration / time.Millisecond),
			DeviceIndex:    -1,
			OverflowPolicy: audio.DropOldest,
			PollTimeoutMs:  int(audio.DefaultPollTimeout / time.Millisecond),
		},
		VAD: VADConfig{
			Name:            "webrtc",
			Mode:            3,
			EnergyThreshold: 300,
		},
		Segmenter: SegmenterConfig{
			MinSpeechMs:    400,
			MinSilenceMs:   600,
			MaxUtteranceMs: 30000,
		},
		Sink: SinkConfig{
			MinLength: 3,
		},
		Outputs: OutputsConfig{
			NATS:      NATSConfig{Subject: "earshot.transcripts"},
			WebSocket: WebSocketConfig{Path: "/ws"},
		},
		Telemetry: TelemetryConfig{
			ServiceName: "earshot",
		},
	}
}

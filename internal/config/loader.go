package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidBackendNames lists the recognition backends that ship with earshot.
// Used by [Validate] to warn about unrecognised names.
var ValidBackendNames = []string{"whisper-native", "whisper", "openai", "exec"}

// ValidVADNames lists the voice activity detectors that ship with earshot.
var ValidVADNames = []string{"webrtc", "energy"}

// webrtcFrameMs are the only frame lengths libfvad accepts.
var webrtcFrameMs = []int{10, 20, 30}

// Load reads the YAML configuration file at path and returns a validated [Config].
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

// LoadFromReader decodes a YAML config from r on top of [Default], applies
// EARSHOT_* environment overrides and validates the result. An empty
// document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyEnvOverrides(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides lets deployments override secrets and endpoints without
// editing the file. Unparseable numeric values are ignored.
func applyEnvOverrides(cfg *Config) {
	overrideString((*string)(&cfg.Server.LogLevel), "EARSHOT_LOG_LEVEL")
	overrideString(&cfg.Server.ListenAddr, "EARSHOT_LISTEN_ADDR")
	overrideInt(&cfg.Audio.DeviceIndex, "EARSHOT_AUDIO_DEVICE_INDEX")
	overrideInt(&cfg.Audio.SampleRate, "EARSHOT_AUDIO_SAMPLE_RATE")
	overrideString(&cfg.VAD.Name, "EARSHOT_VAD_NAME")
	overrideString(&cfg.Backend.Name, "EARSHOT_BACKEND_NAME")
	overrideString(&cfg.Backend.APIKey, "EARSHOT_BACKEND_API_KEY")
	overrideString(&cfg.Backend.BaseURL, "EARSHOT_BACKEND_BASE_URL")
	overrideString(&cfg.Backend.Model, "EARSHOT_BACKEND_MODEL")
	overrideInt(&cfg.Sink.MinLength, "EARSHOT_SINK_MIN_LENGTH")
	overrideString(&cfg.Outputs.NATS.URL, "EARSHOT_NATS_URL")
	overrideString(&cfg.Outputs.NATS.Token, "EARSHOT_NATS_TOKEN")
	overrideBool(&cfg.Outputs.WebSocket.Enabled, "EARSHOT_WEBSOCKET_ENABLED")
	overrideString((*string)(&cfg.Store.Driver), "EARSHOT_STORE_DRIVER")
	overrideString(&cfg.Store.DSN, "EARSHOT_STORE_DSN")
	overrideString(&cfg.Telemetry.ServiceName, "EARSHOT_SERVICE_NAME")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			*target = parsed
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	a := cfg.Audio
	if a.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", a.SampleRate))
	}
	if a.FrameMs <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_ms must be positive, got %d", a.FrameMs))
	}
	if a.DeviceIndex < -1 {
		errs = append(errs, fmt.Errorf("audio.device_index must be -1 or a device index, got %d", a.DeviceIndex))
	}
	if a.QueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("audio.queue_capacity must be >= 0, got %d", a.QueueCapacity))
	}
	if !a.OverflowPolicy.IsValid() {
		errs = append(errs, fmt.Errorf("audio.overflow_policy %q is invalid; valid values: drop_oldest, drop_newest", a.OverflowPolicy))
	}
	if a.PollTimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("audio.poll_timeout_ms must be positive, got %d", a.PollTimeoutMs))
	}

	// VAD
	if cfg.VAD.Name == "" {
		errs = append(errs, errors.New("vad.name is required"))
	} else {
		validateName("vad", cfg.VAD.Name, ValidVADNames)
	}
	if cfg.VAD.Mode < 0 || cfg.VAD.Mode > 3 {
		errs = append(errs, fmt.Errorf("vad.mode %d is out of range [0, 3]", cfg.VAD.Mode))
	}
	if cfg.VAD.EnergyThreshold < 0 {
		errs = append(errs, fmt.Errorf("vad.energy_threshold must be >= 0, got %.1f", cfg.VAD.EnergyThreshold))
	}
	if cfg.VAD.Name == "webrtc" && !slices.Contains(webrtcFrameMs, a.FrameMs) {
		errs = append(errs, fmt.Errorf("vad: webrtc requires audio.frame_ms of 10, 20 or 30, got %d", a.FrameMs))
	}

	// Segmenter
	s := cfg.Segmenter
	if a.FrameMs > 0 {
		if s.MinSpeechMs < a.FrameMs {
			errs = append(errs, fmt.Errorf("segmenter.min_speech_ms %d is shorter than one %d ms frame", s.MinSpeechMs, a.FrameMs))
		}
		if s.MinSilenceMs < a.FrameMs {
			errs = append(errs, fmt.Errorf("segmenter.min_silence_ms %d is shorter than one %d ms frame", s.MinSilenceMs, a.FrameMs))
		}
	}
	if s.MaxUtteranceMs < 0 {
		errs = append(errs, fmt.Errorf("segmenter.max_utterance_ms must be >= 0, got %d", s.MaxUtteranceMs))
	} else if s.MaxUtteranceMs > 0 && s.MaxUtteranceMs < s.MinSpeechMs+s.MinSilenceMs {
		errs = append(errs, fmt.Errorf("segmenter.max_utterance_ms %d is shorter than min_speech_ms plus min_silence_ms", s.MaxUtteranceMs))
	}

	// Backend
	errs = append(errs, validateEntry("backend", cfg.Backend.ProviderEntry)...)
	for i, fb := range cfg.Backend.Fallbacks {
		prefix := fmt.Sprintf("backend.fallbacks[%d]", i)
		errs = append(errs, validateEntry(prefix, fb)...)
		if fb.Name != "" && fb.Name == cfg.Backend.Name {
			errs = append(errs, fmt.Errorf("%s.name %q duplicates the primary backend", prefix, fb.Name))
		}
	}
	if cfg.Backend.InitTimeout < 0 {
		errs = append(errs, fmt.Errorf("backend.init_timeout must be >= 0, got %v", cfg.Backend.InitTimeout))
	}
	cb := cfg.Backend.CircuitBreaker
	if cb.MaxFailures < 0 || cb.ResetTimeout < 0 || cb.HalfOpenMax < 0 {
		errs = append(errs, errors.New("backend.circuit_breaker values must be >= 0"))
	}

	// Sink
	if cfg.Sink.MinLength < 0 {
		errs = append(errs, fmt.Errorf("sink.min_length must be >= 0, got %d", cfg.Sink.MinLength))
	}
	if cfg.Sink.Similarity < 0 || cfg.Sink.Similarity > 1 {
		errs = append(errs, fmt.Errorf("sink.similarity %.2f is out of range [0, 1]", cfg.Sink.Similarity))
	}

	// Outputs
	if cfg.Outputs.NATS.URL != "" && cfg.Outputs.NATS.Subject == "" {
		errs = append(errs, errors.New("outputs.nats.subject is required when outputs.nats.url is set"))
	}
	if ws := cfg.Outputs.WebSocket; ws.Enabled {
		if !strings.HasPrefix(ws.Path, "/") {
			errs = append(errs, fmt.Errorf("outputs.websocket.path %q must start with /", ws.Path))
		}
		if cfg.Server.ListenAddr == "" {
			errs = append(errs, errors.New("outputs.websocket requires server.listen_addr"))
		}
	}

	// Store
	if !cfg.Store.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("store.driver %q is invalid; valid values: sqlite, postgres or empty", cfg.Store.Driver))
	} else if cfg.Store.Driver != StoreNone && cfg.Store.DSN == "" {
		errs = append(errs, fmt.Errorf("store.dsn is required when store.driver is %q", cfg.Store.Driver))
	}

	return errors.Join(errs...)
}

// validateEntry checks the fields every backend needs.
func validateEntry(prefix string, e ProviderEntry) []error {
	if e.Name == "" {
		return []error{fmt.Errorf("%s.name is required", prefix)}
	}
	validateName(prefix, e.Name, ValidBackendNames)

	var errs []error
	switch e.Name {
	case "whisper-native":
		if e.Model == "" && e.StringOption("model_path") == "" {
			errs = append(errs, fmt.Errorf("%s: whisper-native requires model (path to the ggml model file)", prefix))
		}
	case "whisper":
		if e.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s: whisper requires base_url (whisper-server address)", prefix))
		}
	case "exec":
		if e.StringOption("command") == "" {
			errs = append(errs, fmt.Errorf("%s: exec requires options.command", prefix))
		}
	}
	return errs
}

// validateName logs a warning if name is not found in known.
func validateName(kind, name string, known []string) {
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or a custom registration",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

// Command earshot captures audio from a local input device and prints one
// line per recognised utterance to stdout. Logs go to stderr.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/earshot/internal/app"
	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/audio/portaudio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/stt/exec"
	"github.com/MrWong99/earshot/pkg/provider/stt/openai"
	"github.com/MrWong99/earshot/pkg/provider/stt/whisper"
	"github.com/MrWong99/earshot/pkg/provider/vad"
	"github.com/MrWong99/earshot/pkg/provider/vad/energy"
	"github.com/MrWong99/earshot/pkg/provider/vad/webrtc"
)

// shutdownGrace bounds the time spent releasing the device, backend and
// outputs after a signal.
const shutdownGrace = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "earshot.yaml", "path to the YAML configuration file")
	listDevices := flag.Bool("list-devices", false, "print the available input devices and exit")
	dumpDir := flag.String("dump-dir", "", "write every utterance as a WAV file into this directory")
	flag.Parse()

	if *listDevices {
		return printDevices()
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// Installed before the config is read so load warnings are formatted
	// consistently; the level is adjusted once the config is known.
	var level slog.LevelVar
	slog.SetDefault(newLogger(&level))

	// ── Load configuration ────────────────────────────────────────────────────
	var application *app.App
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if application != nil {
			application.ApplyConfig(d)
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "earshot: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "earshot: %v\n", err)
		}
		return app.ExitStartup
	}
	cfg := watcher.Current()
	level.Set(slogLevel(cfg.Server.LogLevel))

	slog.Info("earshot starting",
		"config", *configPath,
		"backend", cfg.Backend.Name,
		"vad", cfg.VAD.Name,
		"listen_addr", cfg.Server.ListenAddr,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return app.ExitStartup
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(tctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg, cfg.Audio.SampleRate)
	registerBuiltinVAD(reg)

	providers, err := app.BuildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return app.ExitStartup
	}

	var opts []app.Option
	if *dumpDir != "" {
		opts = append(opts, app.WithDumpDir(*dumpDir))
	}
	application, err = app.New(ctx, cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		_ = providers.Backend.Close()
		return app.ExitCode(err)
	}

	go func() {
		if err := watcher.Run(ctx); err != nil {
			slog.Warn("config watcher stopped", "err", err)
		}
	}()

	runErr := application.Run(ctx)
	if runErr != nil {
		slog.Error("pipeline stopped", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown error", "err", err)
	}
	return app.ExitCode(runErr)
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinBackends wires every built-in recognition backend into reg.
// sampleRate is the capture rate every backend receives audio at.
func registerBuiltinBackends(reg *config.Registry, sampleRate int) {
	reg.RegisterBackend("whisper-native", func(entry config.ProviderEntry) (stt.Backend, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.StringOption("model_path")
		}
		opts := []whisper.NativeOption{whisper.WithNativeSampleRate(sampleRate)}
		if lang := entry.StringOption("language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if warm, ok := entry.Options["warm_up"].(bool); ok {
			opts = append(opts, whisper.WithNativeWarmUp(warm))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterBackend("whisper", func(entry config.ProviderEntry) (stt.Backend, error) {
		opts := []whisper.Option{whisper.WithSampleRate(sampleRate)}
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.StringOption("language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterBackend("openai", func(entry config.ProviderEntry) (stt.Backend, error) {
		opts := []openai.Option{openai.WithSampleRate(sampleRate)}
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if lang := entry.StringOption("language"); lang != "" {
			opts = append(opts, openai.WithLanguage(lang))
		}
		if prompt := entry.StringOption("prompt"); prompt != "" {
			opts = append(opts, openai.WithPrompt(prompt))
		}
		if d := entry.DurationOption("timeout"); d > 0 {
			opts = append(opts, openai.WithTimeout(d))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterBackend("exec", func(entry config.ProviderEntry) (stt.Backend, error) {
		opts := []exec.Option{exec.WithSampleRate(sampleRate)}
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.StringOption("model_path")
		}
		if modelPath != "" {
			opts = append(opts, exec.WithModelPath(modelPath))
		}
		if lang := entry.StringOption("language"); lang != "" {
			opts = append(opts, exec.WithLanguage(lang))
		}
		if dir := entry.StringOption("temp_dir"); dir != "" {
			opts = append(opts, exec.WithTempDir(dir))
		}
		return exec.New(entry.StringOption("command"), opts...)
	})

	for _, name := range reg.BackendNames() {
		slog.Debug("registered backend", "name", name)
	}
}

// registerBuiltinVAD wires the built-in VAD engines into reg.
func registerBuiltinVAD(reg *config.Registry) {
	reg.RegisterVAD("webrtc", func(config.VADConfig) (vad.Engine, error) { return webrtc.New(), nil })
	reg.RegisterVAD("energy", func(config.VADConfig) (vad.Engine, error) { return energy.New(), nil })
}

// ── Devices ───────────────────────────────────────────────────────────────────

func printDevices() int {
	devices, err := portaudio.ListInputDevices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "earshot: %v\n", err)
		return app.ExitStartup
	}
	if len(devices) == 0 {
		fmt.Fprintln(os.Stderr, "earshot: no input devices found")
		return app.ExitNoDevice
	}
	for _, d := range devices {
		fmt.Printf("%3d  %-40s  %d ch  %.0f Hz\n", d.Index, d.Name, d.InputChannels, d.DefaultRate)
	}
	return app.ExitOK
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

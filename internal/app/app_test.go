package app_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/earshot/internal/app"
	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/audio"
	audiomock "github.com/MrWong99/earshot/pkg/audio/mock"
	memorymock "github.com/MrWong99/earshot/pkg/memory/mock"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	sttmock "github.com/MrWong99/earshot/pkg/provider/stt/mock"
	"github.com/MrWong99/earshot/pkg/provider/vad/energy"
)

const (
	samplesPerFrame = 480 // 30 ms at 16 kHz
	loud            = 1000
	quiet           = 0
)

// syncBuffer is a bytes.Buffer safe for the worker to write while the test
// reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// testConfig returns a config with 300 ms speech and silence thresholds
// (10 frames each), the energy VAD and a short poll timeout.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.VAD.Name = "energy"
	cfg.Audio.PollTimeoutMs = 20
	cfg.Segmenter = config.SegmenterConfig{MinSpeechMs: 300, MinSilenceMs: 300}
	cfg.Backend.Name = "mock"
	return &cfg
}

// pattern builds frames from (amplitude, count) pairs.
func pattern(runs ...int) []audio.Frame {
	var amps []int16
	for i := 0; i+1 < len(runs); i += 2 {
		for range runs[i+1] {
			amps = append(amps, int16(runs[i]))
		}
	}
	return audiomock.Frames(samplesPerFrame, amps...)
}

func newApp(t *testing.T, cfg *config.Config, src audio.Source, backend stt.Backend, opts ...app.Option) *app.App {
	t.Helper()
	a, err := app.New(context.Background(), cfg, &app.Providers{
		Source:  src,
		VAD:     energy.New(),
		Backend: backend,
	}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

// startApp runs a in the background and returns a stop function that
// cancels it and returns Run's result.
func startApp(t *testing.T, a *app.App) (stop func() error, done <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan error, 1)
	go func() { ch <- a.Run(ctx) }()
	t.Cleanup(cancel)
	return func() error {
		cancel()
		select {
		case err := <-ch:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("Run did not return after cancel")
			return nil
		}
	}, ch
}

// delivered reports whether src has delivered every scripted frame.
func delivered(src *audiomock.Source) bool {
	ch := src.Done()
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestApp_QueuesWhileLoadingThenTranscribesInOrder(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	backend := &sttmock.Backend{InitGate: gate, Texts: []string{"first words", "second words"}}
	src := &audiomock.Source{Frames: pattern(loud, 12, quiet, 12, loud, 12, quiet, 12)}
	out := &syncBuffer{}
	a := newApp(t, testConfig(), src, backend, app.WithOutput(out))

	stop, _ := startApp(t, a)

	waitFor(t, "two pending utterances", func() bool { return a.PendingUtterances() == 2 })
	if got := a.Readiness().State(); got != stt.Loading {
		t.Fatalf("readiness = %v, want loading", got)
	}
	if n := len(backend.Calls()); n != 0 {
		t.Fatalf("Transcribe called %d times while loading", n)
	}
	if out.String() != "" {
		t.Fatalf("output while loading = %q", out.String())
	}

	close(gate)
	waitFor(t, "both transcripts", func() bool {
		return strings.Count(out.String(), "\n") == 2
	})

	if got, want := out.String(), "first words\nsecond words\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
	calls := backend.Calls()
	if len(calls) != 2 {
		t.Fatalf("Transcribe calls = %d, want 2", len(calls))
	}
	// 12 speech frames plus the 10 silence frames that closed the utterance.
	for i, c := range calls {
		if got, want := len(c.Samples), 22*samplesPerFrame; got != want {
			t.Errorf("call %d: %d samples, want %d", i, got, want)
		}
	}
	if a.PendingUtterances() != 0 {
		t.Errorf("PendingUtterances = %d after drain", a.PendingUtterances())
	}

	if err := stop(); err != nil {
		t.Errorf("Run = %v, want nil", err)
	}
}

func TestApp_TerminationMidUtteranceDiscards(t *testing.T) {
	t.Parallel()

	backend := &sttmock.Backend{Texts: []string{"never"}}
	src := &audiomock.Source{Frames: pattern(loud, 15)}
	out := &syncBuffer{}
	a := newApp(t, testConfig(), src, backend, app.WithOutput(out))

	stop, _ := startApp(t, a)
	waitFor(t, "source to deliver", func() bool { return delivered(src) })
	waitFor(t, "backend ready", func() bool { return a.Readiness().State() == stt.Ready })
	// Let the worker consume the queued frames.
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	if err := stop(); err != nil {
		t.Errorf("Run = %v, want nil", err)
	}
	if took := time.Since(start); took > time.Second {
		t.Errorf("Run took %v to return after cancel", took)
	}
	if out.String() != "" {
		t.Errorf("output = %q, want nothing", out.String())
	}
	if n := len(backend.Calls()); n != 0 {
		t.Errorf("Transcribe called %d times, want 0", n)
	}
}

func TestApp_BackendInitFailure(t *testing.T) {
	t.Parallel()

	cause := errors.New("model corrupt")
	backend := &sttmock.Backend{InitErr: cause}
	src := &audiomock.Source{Frames: pattern(loud, 12, quiet, 12), Interval: 5 * time.Millisecond}
	a := newApp(t, testConfig(), src, backend, app.WithOutput(&syncBuffer{}))

	var err error
	select {
	case err = <-runAsync(a):
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after backend failure")
	}

	var initErr *stt.InitError
	if !errors.As(err, &initErr) {
		t.Fatalf("Run = %v, want *stt.InitError", err)
	}
	if initErr.Backend != "mock" || !errors.Is(err, cause) {
		t.Errorf("InitError = %+v", initErr)
	}
	if got := app.ExitCode(err); got != app.ExitBackendInit {
		t.Errorf("ExitCode = %d, want %d", got, app.ExitBackendInit)
	}
	if a.Readiness().State() != stt.Failed {
		t.Errorf("readiness = %v, want failed", a.Readiness().State())
	}
}

func TestApp_InitTimeout(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Backend.InitTimeout = 30 * time.Millisecond
	backend := &sttmock.Backend{InitGate: make(chan struct{})}
	a := newApp(t, cfg, &audiomock.Source{}, backend, app.WithOutput(&syncBuffer{}))

	var err error
	select {
	case err = <-runAsync(a):
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after init timeout")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run = %v, want wrapped DeadlineExceeded", err)
	}
	if got := app.ExitCode(err); got != app.ExitBackendInit {
		t.Errorf("ExitCode = %d, want %d", got, app.ExitBackendInit)
	}
}

func runAsync(a *app.App) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- a.Run(context.Background()) }()
	return ch
}

func TestApp_NoInputDevice(t *testing.T) {
	t.Parallel()

	backend := &sttmock.Backend{}
	src := &audiomock.Source{StartErr: audio.ErrNoInputDevice}
	a := newApp(t, testConfig(), src, backend)

	err := a.Run(context.Background())
	if !errors.Is(err, audio.ErrNoInputDevice) {
		t.Fatalf("Run = %v, want ErrNoInputDevice", err)
	}
	var se *app.StartupError
	if !errors.As(err, &se) || se.Stage != "audio" {
		t.Errorf("Run = %v, want StartupError at stage audio", err)
	}
	if got := app.ExitCode(err); got != app.ExitNoDevice {
		t.Errorf("ExitCode = %d, want %d", got, app.ExitNoDevice)
	}
	if backend.InitializeCallCount != 0 {
		t.Errorf("Initialize called %d times before the device opened", backend.InitializeCallCount)
	}
}

func TestApp_NoInputDeviceOpensNoOutputs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := testConfig()
	cfg.Store = config.StoreConfig{Driver: config.StoreSQLite, DSN: filepath.Join(dir, "data", "history.db")}
	dumps := filepath.Join(dir, "dumps")
	src := &audiomock.Source{StartErr: audio.ErrNoInputDevice}
	a := newApp(t, cfg, src, &sttmock.Backend{}, app.WithDumpDir(dumps))

	if err := a.Run(context.Background()); app.ExitCode(err) != app.ExitNoDevice {
		t.Fatalf("Run = %v, want a no-device error", err)
	}
	for _, p := range []string{filepath.Join(dir, "data"), dumps} {
		if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("%s created before the input device opened (stat err = %v)", p, err)
		}
	}
}

func TestApp_OutputFailureStopsCapture(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.Store = config.StoreConfig{Driver: config.StoreSQLite, DSN: filepath.Join(blocker, "history.db")}
	backend := &sttmock.Backend{}
	src := &audiomock.Source{}
	a := newApp(t, cfg, src, backend)

	err := a.Run(context.Background())
	var se *app.StartupError
	if !errors.As(err, &se) || se.Stage != "store" {
		t.Fatalf("Run = %v, want StartupError at stage store", err)
	}
	if app.ExitCode(err) != app.ExitStartup {
		t.Errorf("ExitCode = %d, want %d", app.ExitCode(err), app.ExitStartup)
	}
	if src.CallCountStart != 1 || src.CallCountStop != 1 {
		t.Errorf("source start/stop = %d/%d, want 1/1", src.CallCountStart, src.CallCountStop)
	}
	if backend.InitializeCount() != 0 {
		t.Errorf("backend initialised despite the output failure")
	}
}

func TestApp_MissingAsset(t *testing.T) {
	t.Parallel()

	missing := filepath.Join(t.TempDir(), "ggml-base.en.bin")
	backend := &sttmock.Backend{Assets: []string{missing}}
	src := &audiomock.Source{}
	a := newApp(t, testConfig(), src, backend)

	err := a.Run(context.Background())
	if !errors.Is(err, app.ErrMissingAsset) {
		t.Fatalf("Run = %v, want ErrMissingAsset", err)
	}
	if !strings.Contains(err.Error(), missing) {
		t.Errorf("error %q does not name the path", err)
	}
	if got := app.ExitCode(err); got != app.ExitStartup {
		t.Errorf("ExitCode = %d, want %d", got, app.ExitStartup)
	}
	if src.CallCountStart != 0 {
		t.Errorf("source started %d times despite missing asset", src.CallCountStart)
	}
}

func TestApp_PresentAssetPasses(t *testing.T) {
	t.Parallel()

	model := filepath.Join(t.TempDir(), "model.bin")
	if err := os.WriteFile(model, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	backend := &sttmock.Backend{Assets: []string{model}}
	a := newApp(t, testConfig(), &audiomock.Source{}, backend)

	stop, _ := startApp(t, a)
	waitFor(t, "backend ready", func() bool { return a.Readiness().State() == stt.Ready })
	if err := stop(); err != nil {
		t.Errorf("Run = %v", err)
	}
}

func TestApp_TranscriptionErrorDropsUtterance(t *testing.T) {
	t.Parallel()

	var n int
	var mu sync.Mutex
	backend := &sttmock.Backend{TranscribeFunc: func(context.Context, []float32) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		if n == 1 {
			return "", errors.New("server returned 500")
		}
		return "recovered", nil
	}}
	src := &audiomock.Source{Frames: pattern(loud, 12, quiet, 12, loud, 12, quiet, 12)}
	out := &syncBuffer{}
	a := newApp(t, testConfig(), src, backend, app.WithOutput(out))

	stop, _ := startApp(t, a)
	waitFor(t, "second transcript", func() bool { return out.String() != "" })
	if got := out.String(); got != "recovered\n" {
		t.Errorf("output = %q, want only the second utterance", got)
	}
	if err := stop(); err != nil {
		t.Errorf("Run = %v", err)
	}
}

func TestApp_DumpDirAndHistory(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "dumps")
	store := &memorymock.SessionStore{}
	backend := &sttmock.Backend{Texts: []string{"open the gate"}}
	src := &audiomock.Source{Frames: pattern(loud, 12, quiet, 12)}
	out := &syncBuffer{}
	a := newApp(t, testConfig(), src, backend,
		app.WithOutput(out),
		app.WithDumpDir(dir),
		app.WithStore(store),
		app.WithSessionID("s-test"),
	)

	stop, _ := startApp(t, a)
	waitFor(t, "history entry", func() bool { return len(store.Entries()) == 1 })
	if err := stop(); err != nil {
		t.Errorf("Run = %v", err)
	}

	e := store.Entries()[0]
	if e.SessionID != "s-test" || e.Text != "open the gate" || e.Backend != "mock" {
		t.Errorf("entry = %+v", e)
	}
	if e.Duration != 22*30*time.Millisecond {
		t.Errorf("entry duration = %v", e.Duration)
	}
	info, err := os.Stat(filepath.Join(dir, "utterance-000000.wav"))
	if err != nil {
		t.Fatalf("dumped utterance: %v", err)
	}
	// 44-byte header plus 16-bit samples.
	if want := int64(44 + 22*samplesPerFrame*2); info.Size() != want {
		t.Errorf("dump size = %d, want %d", info.Size(), want)
	}
}

func TestApp_ApplySink(t *testing.T) {
	t.Parallel()

	backend := &sttmock.Backend{Texts: []string{"too short", "this one is long enough"}}
	src := &audiomock.Source{Frames: pattern(loud, 12, quiet, 12, loud, 12, quiet, 12)}
	out := &syncBuffer{}
	a := newApp(t, testConfig(), src, backend, app.WithOutput(out))

	a.ApplyConfig(config.ConfigDiff{SinkChanged: true, NewSink: config.SinkConfig{MinLength: 15}})

	stop, _ := startApp(t, a)
	waitFor(t, "long transcript", func() bool { return out.String() != "" })
	if got := out.String(); got != "this one is long enough\n" {
		t.Errorf("output = %q", got)
	}
	if err := stop(); err != nil {
		t.Errorf("Run = %v", err)
	}
}

func TestApp_Metrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	backend := &sttmock.Backend{Texts: []string{"hello there"}}
	src := &audiomock.Source{Frames: pattern(loud, 12, quiet, 12)}
	out := &syncBuffer{}
	a := newApp(t, testConfig(), src, backend, app.WithOutput(out), app.WithMetrics(m))

	stop, _ := startApp(t, a)
	waitFor(t, "transcript", func() bool { return out.String() != "" && delivered(src) })
	if err := stop(); err != nil {
		t.Errorf("Run = %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, mm := range sm.Metrics {
			if s, ok := mm.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range s.DataPoints {
					sums[mm.Name] += dp.Value
				}
			}
		}
	}
	if got := sums["earshot.frames.captured"]; got != 24 {
		t.Errorf("frames captured = %d, want 24", got)
	}
	if got := sums["earshot.transcripts"]; got != 1 {
		t.Errorf("transcripts = %d, want 1", got)
	}
	if got := sums["earshot.provider.requests"]; got != 1 {
		t.Errorf("provider requests = %d, want 1", got)
	}
}

func TestApp_ShutdownClosesBackendOnce(t *testing.T) {
	t.Parallel()

	backend := &sttmock.Backend{}
	a := newApp(t, testConfig(), &audiomock.Source{}, backend)

	stop, _ := startApp(t, a)
	waitFor(t, "backend ready", func() bool { return a.Readiness().State() == stt.Ready })
	if err := stop(); err != nil {
		t.Errorf("Run = %v", err)
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown = %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown = %v", err)
	}
	if backend.CloseCallCount != 1 {
		t.Errorf("Close called %d times, want 1", backend.CloseCallCount)
	}
}

func TestApp_ShutdownDeadlineWhileInitialising(t *testing.T) {
	t.Parallel()

	backend := &sttmock.Backend{InitGate: make(chan struct{})}
	a := newApp(t, testConfig(), &audiomock.Source{}, backend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Initialize blocks on the gate until ctx is cancelled; Run's ctx stays
	// alive so Initialize is still running at Shutdown.
	go func() { _ = a.Run(ctx) }()
	waitFor(t, "Initialize to start", func() bool { return backend.InitializeCount() > 0 })

	sctx, scancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer scancel()
	if err := a.Shutdown(sctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown = %v, want DeadlineExceeded", err)
	}
	if backend.CloseCallCount != 0 {
		t.Error("backend closed while Initialize was still running")
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	if _, err := app.New(context.Background(), testConfig(), nil); err == nil {
		t.Error("New(nil providers) succeeded")
	}

	cfg := testConfig()
	cfg.Segmenter.MinSpeechMs = 5
	_, err := app.New(context.Background(), cfg, &app.Providers{
		Source:  &audiomock.Source{},
		VAD:     energy.New(),
		Backend: &sttmock.Backend{},
	})
	var se *app.StartupError
	if !errors.As(err, &se) || se.Stage != "segmenter" {
		t.Fatalf("New = %v, want segmenter StartupError", err)
	}
	if app.ExitCode(err) != app.ExitStartup {
		t.Errorf("ExitCode = %d", app.ExitCode(err))
	}
}

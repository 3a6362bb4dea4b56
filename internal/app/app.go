// Package app wires the earshot pipeline into a running application.
//
// The App struct owns the full lifecycle: New creates and connects every
// subsystem, Run starts capture, backend initialisation and the segmentation
// worker and blocks until the context ends or the pipeline fails, and
// Shutdown tears everything down in order.
//
// For testing, inject mock implementations via [Providers] and the
// functional options (WithStore, WithOutput, WithMetrics, ...). When an
// option is not provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/health"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/publish"
	"github.com/MrWong99/earshot/internal/segment"
	"github.com/MrWong99/earshot/internal/server"
	"github.com/MrWong99/earshot/internal/transcript"
	"github.com/MrWong99/earshot/internal/transcript/phonetic"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/memory"
	"github.com/MrWong99/earshot/pkg/memory/postgres"
	"github.com/MrWong99/earshot/pkg/memory/sqlite"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/vad"
	"golang.org/x/sync/errgroup"
)

// Values recorded on [observe.Metrics.BackendState].
const (
	backendLoading int64 = iota
	backendReady
	backendFailed
)

// App owns all subsystem lifetimes and runs the capture to transcript
// pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Options.
	out       io.Writer
	metrics   *observe.Metrics
	store     memory.SessionStore
	dumpDir   string
	sessionID string
	extra     []transcript.Publisher

	// Subsystems, initialised in New and torn down in Shutdown.
	format  audio.Format
	queue   *audio.FrameQueue
	ready   *stt.Readiness
	vad     vad.SessionHandle
	seg     *segment.Segmenter
	sink    *transcript.Sink
	nats    *publish.NATS
	hub     *publish.Hub
	server  *server.Server
	pollFor time.Duration

	capturing atomic.Bool
	pending   atomic.Int64

	// initDone is closed when the backend initialisation goroutine returns.
	// Nil until Run starts it.
	initDone chan struct{}

	// mu guards closers and server, which Run extends after capture starts.
	mu sync.Mutex

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a transcript history store instead of opening the one
// named in the config. An injected store is not closed by Shutdown.
func WithStore(s memory.SessionStore) Option {
	return func(a *App) { a.store = s }
}

// WithOutput sets the primary transcript output. Defaults to os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = w }
}

// WithMetrics sets the metric instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithDumpDir writes every flushed utterance as a WAV file into dir.
func WithDumpDir(dir string) Option {
	return func(a *App) { a.dumpDir = dir }
}

// WithSessionID sets the session ID recorded with history entries.
// Defaults to one derived from the start time.
func WithSessionID(id string) Option {
	return func(a *App) { a.sessionID = id }
}

// WithPublishers adds publishers that receive every emitted transcript in
// addition to those built from the config.
func WithPublishers(p ...transcript.Publisher) Option {
	return func(a *App) { a.extra = append(a.extra, p...) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// New does not touch the audio device, the backend or any external output.
// Run opens the device first so that a missing device is reported before
// the history store, NATS or the HTTP server are started. Errors from New
// are configuration errors.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Source == nil || providers.VAD == nil || providers.Backend == nil {
		return nil, errors.New("app: source, vad and backend providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		out:       os.Stdout,
		format:    cfg.Audio.Format(),
		pollFor:   cfg.Audio.PollTimeout(),
		ready:     stt.NewReadiness(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.sessionID == "" {
		a.sessionID = "session-" + time.Now().UTC().Format("20060102T150405Z")
	}
	if a.pollFor <= 0 {
		a.pollFor = audio.DefaultPollTimeout
	}

	ok := false
	defer func() {
		if !ok {
			_ = a.runClosers(context.Background())
		}
	}()

	// ── 1. Frame queue ───────────────────────────────────────────────────
	a.queue = audio.NewFrameQueue(
		audio.WithCapacity(cfg.Audio.QueueCapacity),
		audio.WithOverflowPolicy(cfg.Audio.OverflowPolicy),
	)

	// ── 2. VAD + segmenter ───────────────────────────────────────────────
	if err := a.initSegmentation(); err != nil {
		return nil, err
	}

	// ── 3. Sink ──────────────────────────────────────────────────────────
	// Publishers backed by external services are attached in Run.
	a.initSink()

	ok = true
	return a, nil
}

// startOutputs opens the history store, NATS and the dump directory, attaches
// them to the sink and builds the HTTP server. Run calls it once capture is
// running.
func (a *App) startOutputs(ctx context.Context) error {
	if err := a.initStore(ctx); err != nil {
		return err
	}
	if err := a.initOutputs(); err != nil {
		return err
	}
	if a.dumpDir != "" {
		if err := os.MkdirAll(a.dumpDir, 0o755); err != nil {
			return &StartupError{Stage: "dump", Resource: a.dumpDir, Err: err}
		}
	}

	var pubs []transcript.Publisher
	if a.store != nil {
		pubs = append(pubs, publish.NewHistory(a.store, a.sessionID))
	}
	if a.nats != nil {
		pubs = append(pubs, a.nats)
	}
	if a.hub != nil {
		pubs = append(pubs, a.hub)
	}
	a.sink.AddPublishers(pubs...)

	a.initServer()
	return nil
}

func (a *App) addCloser(fn func() error) {
	a.mu.Lock()
	a.closers = append(a.closers, fn)
	a.mu.Unlock()
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initSegmentation() error {
	sess, err := a.providers.VAD.NewSession(vad.Config{
		SampleRate:      a.cfg.Audio.SampleRate,
		FrameSizeMs:     a.cfg.Audio.FrameMs,
		Mode:            a.cfg.VAD.Mode,
		EnergyThreshold: a.cfg.VAD.EnergyThreshold,
	})
	if err != nil {
		return &StartupError{Stage: "vad", Resource: a.cfg.VAD.Name, Err: err}
	}
	a.vad = sess
	a.closers = append(a.closers, sess.Close)

	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	seg, err := segment.New(segment.Config{
		FrameDuration: a.format.FrameDuration,
		MinSpeech:     ms(a.cfg.Segmenter.MinSpeechMs),
		MinSilence:    ms(a.cfg.Segmenter.MinSilenceMs),
		MaxUtterance:  ms(a.cfg.Segmenter.MaxUtteranceMs),
	}, segment.WithDiscardHook(func(reason segment.DiscardReason, frames int) {
		slog.Debug("utterance discarded", "reason", reason, "frames", frames)
		a.metrics.RecordUtterance(context.Background(), string(reason))
	}))
	if err != nil {
		return &StartupError{Stage: "segmenter", Err: err}
	}
	a.seg = seg
	return nil
}

// initStore opens the history store named in the config unless one was
// injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	sc := a.cfg.Store
	switch sc.Driver {
	case config.StoreNone:
		return nil
	case config.StoreSQLite:
		s, err := sqlite.Open(ctx, sc.DSN)
		if err != nil {
			return &StartupError{Stage: "store", Resource: sc.DSN, Err: err}
		}
		a.store = s
		a.addCloser(s.Close)
	case config.StorePostgres:
		s, err := postgres.NewStore(ctx, sc.DSN)
		if err != nil {
			// The DSN may carry credentials.
			return &StartupError{Stage: "store", Resource: string(sc.Driver), Err: err}
		}
		a.store = s
		a.addCloser(s.Close)
	default:
		return &StartupError{Stage: "store", Resource: string(sc.Driver), Err: errors.New("unknown driver")}
	}
	slog.Info("transcript history enabled", "driver", sc.Driver, "session", a.sessionID)
	return nil
}

func (a *App) initOutputs() error {
	oc := a.cfg.Outputs
	if oc.NATS.URL != "" {
		n, err := publish.DialNATS(oc.NATS.URL,
			publish.WithSubject(oc.NATS.Subject),
			publish.WithClientName(a.cfg.Telemetry.ServiceName),
			publish.WithToken(oc.NATS.Token),
		)
		if err != nil {
			return &StartupError{Stage: "nats", Resource: oc.NATS.URL, Err: err}
		}
		a.nats = n
		a.addCloser(n.Close)
		slog.Info("publishing transcripts to NATS", "subject", n.Subject())
	}
	if oc.WebSocket.Enabled {
		a.hub = publish.NewHub()
		a.addCloser(a.hub.Close)
	}
	return nil
}

func (a *App) initSink() {
	sc := a.cfg.Sink
	opts := []transcript.SinkOption{
		transcript.WithMinLength(sc.MinLength),
		transcript.WithSimilarity(sc.Similarity),
		transcript.WithPublishers(a.extra...),
		transcript.WithSuppressHook(func(r transcript.SuppressReason) {
			a.metrics.RecordTranscript(context.Background(), string(r))
		}),
		transcript.WithEmitHook(func(transcript.Transcript) {
			a.metrics.RecordTranscript(context.Background(), "emitted")
		}),
		transcript.WithErrorHook(func(error) {
			a.metrics.RecordTranscript(context.Background(), "error")
		}),
	}
	if len(sc.Vocabulary) > 0 {
		opts = append(opts, transcript.WithCorrector(phonetic.New(sc.Vocabulary)))
	}
	a.sink = transcript.NewSink(a.out, opts...)
}

func (a *App) initServer() {
	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		return
	}
	opts := []server.Option{
		server.WithHealth(health.New(
			health.Backend(a.providers.Backend.Name(), a.ready),
			health.Func("capture", a.capturing.Load),
		)),
		server.WithMetrics(a.metrics),
	}
	if a.store != nil {
		opts = append(opts, server.WithHistory(a.store))
	}
	if a.hub != nil {
		opts = append(opts, server.WithWebSocket(a.cfg.Outputs.WebSocket.Path, a.hub))
	}
	srv := server.New(addr, opts...)
	a.mu.Lock()
	a.server = srv
	a.mu.Unlock()
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run validates backend assets, starts capture, launches backend
// initialisation in the background and runs the segmentation worker until
// ctx is done.
//
// Run returns nil after a cancellation. It returns a [*StartupError] when
// an asset is missing or the device cannot be opened, and the backend's
// [*stt.InitError] when initialisation fails. Use [ExitCode] to map the
// result to a process exit code.
func (a *App) Run(ctx context.Context) error {
	// ── 1. Assets ────────────────────────────────────────────────────────
	if err := a.checkAssets(); err != nil {
		return err
	}

	// ── 2. Capture ───────────────────────────────────────────────────────
	if err := a.providers.Source.Start(a.deliver); err != nil {
		return &StartupError{Stage: "audio", Resource: "input device", Err: err}
	}
	a.capturing.Store(true)
	slog.Info("audio capture started",
		"sample_rate", a.format.SampleRate,
		"frame", a.format.FrameDuration,
	)

	// ── 3. Outputs ───────────────────────────────────────────────────────
	if err := a.startOutputs(ctx); err != nil {
		a.stopCapture()
		return err
	}

	// ── 4. HTTP ──────────────────────────────────────────────────────────
	srv := a.httpServer()
	if srv != nil {
		if err := srv.Listen(); err != nil {
			a.stopCapture()
			return &StartupError{Stage: "http", Resource: a.cfg.Server.ListenAddr, Err: err}
		}
	}

	// ── 5. Backend initialisation ────────────────────────────────────────
	// Runs outside the errgroup: a model load that ignores ctx must not
	// keep Run from returning.
	a.initDone = make(chan struct{})
	go a.initBackend(ctx)

	// ── 6. Worker ────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.work(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		a.stopCapture()
		return nil
	})
	if srv != nil {
		g.Go(func() error { return srv.Serve(gctx) })
	}

	slog.Info("pipeline running", "backend", a.providers.Backend.Name())
	return g.Wait()
}

// checkAssets stats every path the backend declares.
func (a *App) checkAssets() error {
	ac, ok := a.providers.Backend.(stt.AssetChecker)
	if !ok {
		return nil
	}
	for _, p := range ac.AssetPaths() {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				err = ErrMissingAsset
			}
			return &StartupError{Stage: "assets", Resource: p, Err: err}
		}
	}
	return nil
}

// deliver is the capture callback. It must not block.
func (a *App) deliver(f audio.Frame) {
	a.metrics.FramesCaptured.Add(context.Background(), 1)
	if err := a.queue.Push(f); err != nil {
		if errors.Is(err, audio.ErrQueueOverflow) {
			a.metrics.FramesDropped.Add(context.Background(), 1)
		}
	}
}

func (a *App) stopCapture() {
	if a.capturing.Swap(false) {
		if err := a.providers.Source.Stop(); err != nil {
			slog.Warn("audio stop error", "err", err)
		}
	}
	a.queue.Close()
	if n := a.queue.Dropped(); n > 0 {
		slog.Warn("frames dropped on queue overflow", "count", n)
	}
}

// initBackend runs Initialize and settles the readiness exactly once.
func (a *App) initBackend(ctx context.Context) {
	defer close(a.initDone)

	b := a.providers.Backend
	runCtx := ctx
	if d := a.cfg.Backend.InitTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	a.metrics.BackendState.Record(ctx, backendLoading)

	start := time.Now()
	slog.Info("initialising backend", "backend", b.Name())
	if err := b.Initialize(ctx); err != nil {
		a.ready.MarkFailed(&stt.InitError{Backend: b.Name(), Err: err})
		a.metrics.BackendState.Record(context.WithoutCancel(ctx), backendFailed)
		a.metrics.RecordProviderError(context.WithoutCancel(ctx), b.Name(), "init")
		if runCtx.Err() == nil {
			slog.Error("backend initialisation failed", "backend", b.Name(), "err", err)
		}
		return
	}
	a.ready.MarkReady()
	a.metrics.BackendState.Record(ctx, backendReady)
	slog.Info("backend ready", "backend", b.Name(), "took", time.Since(start))
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Readiness returns the backend readiness published by Run.
func (a *App) Readiness() *stt.Readiness { return a.ready }

// PendingUtterances returns the number of utterances waiting for the
// backend.
func (a *App) PendingUtterances() int { return int(a.pending.Load()) }

// ServerAddr returns the HTTP server's bound address, or "" when the server
// is disabled.
func (a *App) ServerAddr() string {
	srv := a.httpServer()
	if srv == nil {
		return ""
	}
	return srv.Addr()
}

func (a *App) httpServer() *server.Server {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server
}

// ApplySink hot-applies sink policy changes.
func (a *App) ApplySink(sc config.SinkConfig) {
	a.sink.SetMinLength(sc.MinLength)
	a.sink.SetSimilarity(sc.Similarity)
	if len(sc.Vocabulary) > 0 {
		a.sink.SetCorrector(phonetic.New(sc.Vocabulary))
	} else {
		a.sink.SetCorrector(nil)
	}
	slog.Info("sink settings applied", "min_length", sc.MinLength, "similarity", sc.Similarity, "vocabulary", len(sc.Vocabulary))
}

// ApplyConfig hot-applies the parts of d that do not need a restart and logs
// the rest.
func (a *App) ApplyConfig(d config.ConfigDiff) {
	if d.SinkChanged {
		a.ApplySink(d.NewSink)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "fields", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases every subsystem. It waits for a running backend
// initialisation to return before closing the backend; if ctx ends first
// the backend is left open and ctx.Err() is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")
		a.stopCapture()

		backendIdle := true
		if a.initDone != nil {
			select {
			case <-a.initDone:
			case <-ctx.Done():
				slog.Warn("backend still initialising at shutdown deadline", "backend", a.providers.Backend.Name())
				errs = append(errs, ctx.Err())
				backendIdle = false
			}
		}
		if backendIdle {
			if err := a.providers.Backend.Close(); err != nil {
				errs = append(errs, fmt.Errorf("app: close backend: %w", err))
			}
		}

		if err := a.runClosers(ctx); err != nil {
			errs = append(errs, err)
		}
		slog.Info("shutdown complete")
	})
	return errors.Join(errs...)
}

// runClosers calls the closers in order and stops early when ctx is done.
func (a *App) runClosers(ctx context.Context) error {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	for i, closer := range closers {
		select {
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded", "remaining", len(closers)-i)
			return ctx.Err()
		default:
		}
		if err := closer(); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	return nil
}

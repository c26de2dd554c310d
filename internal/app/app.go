// Package app wires all voxscribe subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the local HTTP API and supervises the helper event
// loop, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithEngine, WithTransportFactory, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxscribe/internal/config"
	"github.com/MrWong99/voxscribe/internal/dictation"
	"github.com/MrWong99/voxscribe/internal/format"
	"github.com/MrWong99/voxscribe/internal/health"
	"github.com/MrWong99/voxscribe/internal/helper"
	"github.com/MrWong99/voxscribe/internal/history"
	historypg "github.com/MrWong99/voxscribe/internal/history/postgres"
	"github.com/MrWong99/voxscribe/internal/observe"
	"github.com/MrWong99/voxscribe/internal/vocab"
	"github.com/MrWong99/voxscribe/pkg/provider/stt"
	"github.com/MrWong99/voxscribe/pkg/provider/stt/buffered"
	sttopenai "github.com/MrWong99/voxscribe/pkg/provider/stt/openai"
	"github.com/MrWong99/voxscribe/pkg/provider/stt/whisper"
	"github.com/MrWong99/voxscribe/pkg/provider/vad"
)

// App owns all subsystem lifetimes and serves the local dictation API.
type App struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *observe.Metrics

	// Subsystems — initialised in New, torn down in Shutdown.
	engine       stt.Engine
	orchestrator *dictation.Orchestrator
	bridge       *helper.Bridge
	permissions  *helper.PermissionCache
	store        history.Store
	server       *http.Server

	// factory overrides the helper transport, injected for tests.
	factory helper.TransportFactory

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithEngine injects a speech engine instead of creating one from config.
func WithEngine(e stt.Engine) Option {
	return func(a *App) { a.engine = e }
}

// WithTransportFactory injects a helper transport factory instead of
// spawning the configured helper command.
func WithTransportFactory(f helper.TransportFactory) Option {
	return func(a *App) { a.factory = f }
}

// WithHistoryStore injects a history store instead of creating one from
// config.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects a metrics set instead of using the global meter
// provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger overrides the logger. Default: slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(a *App) { a.log = log }
}

// New creates an App by wiring all subsystems together: speech engine,
// buffering provider, VAD, helper bridge, history store, formatter, and the
// dictation orchestrator, plus the HTTP server for the local API.
//
// New performs all initialisation synchronously; nothing runs until Run.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initEngine(); err != nil {
		return nil, fmt.Errorf("app: init engine: %w", err)
	}
	if err := a.initHelper(ctx); err != nil {
		return nil, fmt.Errorf("app: init helper: %w", err)
	}
	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}
	if err := a.initOrchestrator(); err != nil {
		return nil, fmt.Errorf("app: init orchestrator: %w", err)
	}

	a.server = &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: a.buildHandler(),
	}

	return a, nil
}

// initEngine constructs the speech engine selected by config, unless one was
// injected.
func (a *App) initEngine() error {
	if a.engine != nil {
		return nil
	}

	eng := a.cfg.Engine
	lang := a.cfg.Dictation.Language

	switch eng.Name {
	case config.EngineWhisperNative:
		modelPath := eng.ModelPath
		if modelPath == "" {
			located, err := whisper.LocateModel(eng.ModelDir)
			if err != nil {
				return err
			}
			modelPath = located
		}
		native, err := whisper.NewNative(modelPath, whisper.WithNativeLanguage(lang))
		if err != nil {
			return err
		}
		a.closers = append(a.closers, native.Close)
		a.engine = native
		a.log.Info("loaded native whisper model", "path", modelPath)

	case config.EngineWhisperServer:
		srv, err := whisper.NewServer(eng.ServerURL,
			whisper.WithModel(eng.Model),
			whisper.WithLanguage(lang),
		)
		if err != nil {
			return err
		}
		a.engine = srv

	case config.EngineOpenAI:
		var sttOpts []sttopenai.Option
		if eng.BaseURL != "" {
			sttOpts = append(sttOpts, sttopenai.WithBaseURL(eng.BaseURL))
		}
		if eng.Model != "" {
			sttOpts = append(sttOpts, sttopenai.WithTranscriptionModel(eng.Model))
		}
		cloud, err := sttopenai.New(eng.APIKey, sttOpts...)
		if err != nil {
			return err
		}
		a.engine = cloud

	default:
		return fmt.Errorf("unknown engine %q", eng.Name)
	}

	return nil
}

// initHelper starts the native helper bridge when a command (or an injected
// transport factory) is configured. Without either, the app runs headless:
// no accessibility snapshots, no text insertion.
func (a *App) initHelper(ctx context.Context) error {
	if a.factory == nil {
		if a.cfg.Helper.Command == "" {
			a.log.Warn("no helper configured, cursor context and text insertion disabled")
			return nil
		}
		a.factory = helper.Command(a.cfg.Helper.Command, a.cfg.Helper.Args...)
	}

	bridge := helper.NewBridge(a.factory,
		helper.WithCallTimeout(a.cfg.Helper.CallTimeout()),
		helper.WithRestartPolicy(a.cfg.Helper.MaxRestarts, a.cfg.Helper.RestartDelay(), a.cfg.Helper.StabilityWindow()),
		helper.WithLogger(a.log),
		helper.WithTimeoutHook(func() {
			a.metrics.HelperTimeouts.Add(context.Background(), 1)
		}),
	)
	if err := bridge.Start(ctx); err != nil {
		return err
	}
	a.bridge = bridge
	a.closers = append(a.closers, bridge.Stop)

	a.permissions = helper.NewPermissionCache(bridge, helper.PermissionAccessibility, a.cfg.Helper.PermissionTTL())
	return nil
}

// initHistory sets up the transcription history store: Postgres when a DSN
// is configured, in-memory otherwise.
func (a *App) initHistory(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	if dsn := a.cfg.History.PostgresDSN; dsn != "" {
		store, err := historypg.NewStore(ctx, dsn)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
		a.store = store
		return nil
	}

	a.store = history.NewMemoryStore(a.cfg.History.MaxEntries)
	return nil
}

// initOrchestrator assembles the dictation pipeline: buffering provider over
// the engine, VAD detector, and the orchestrator with its collaborators.
func (a *App) initOrchestrator() error {
	engineName := string(a.cfg.Engine.Name)
	provider, err := buffered.New(a.engine, buffered.Config{
		SilenceProbability: a.cfg.Buffer.SilenceProbability,
		SilenceFlush:       a.cfg.Buffer.SilenceFlush(),
		MaxBuffer:          a.cfg.Buffer.MaxBuffer(),
		SkipSilent:         a.cfg.Buffer.SkipSilent,
		OnFlush: func(reason string) {
			a.metrics.RecordFlush(context.Background(), reason)
		},
		OnRecognize: func(elapsed time.Duration) {
			a.metrics.RecordTranscription(context.Background(), engineName, elapsed.Seconds())
		},
	})
	if err != nil {
		return err
	}

	detector, err := vad.New(vad.Config{
		SpeechThreshold:  a.cfg.VAD.SpeechThreshold,
		ActivationFrames: a.cfg.VAD.ActivationFrames,
		RedemptionFrames: a.cfg.VAD.RedemptionFrames,
	})
	if err != nil {
		return err
	}

	replacements := make([]vocab.Replacement, 0, len(a.cfg.Dictation.Replacements))
	for _, r := range a.cfg.Dictation.Replacements {
		replacements = append(replacements, vocab.Replacement{From: r.From, To: r.To})
	}
	settings := dictation.StaticSettings(a.cfg.Dictation.Language, a.cfg.Dictation.Vocabulary, replacements)

	orchOpts := []dictation.Option{
		dictation.WithSettings(settings),
		dictation.WithHistory(a.store),
		dictation.WithMetrics(a.metrics),
		dictation.WithLogger(a.log),
	}
	if a.bridge != nil {
		orchOpts = append(orchOpts, dictation.WithContextSource(a.bridge))
	}
	if a.cfg.Dictation.PhoneticCorrection {
		orchOpts = append(orchOpts, dictation.WithPhoneticMatcher(vocab.NewMatcher()))
	}
	if a.cfg.Formatter.Enabled {
		var fmtOpts []format.Option
		if a.cfg.Formatter.BaseURL != "" {
			fmtOpts = append(fmtOpts, format.WithBaseURL(a.cfg.Formatter.BaseURL))
		}
		if a.cfg.Formatter.MaxTokens > 0 {
			fmtOpts = append(fmtOpts, format.WithMaxTokens(a.cfg.Formatter.MaxTokens))
		}
		formatter, err := format.New(a.cfg.Formatter.APIKey, a.cfg.Formatter.Model, fmtOpts...)
		if err != nil {
			return err
		}
		orchOpts = append(orchOpts, dictation.WithFormatter(formatter))
	}

	orch, err := dictation.New(provider, detector, orchOpts...)
	if err != nil {
		return err
	}
	a.orchestrator = orch
	return nil
}

// buildHandler assembles the HTTP mux: dictation API, health endpoints, and
// the Prometheus scrape handler, all wrapped in the telemetry middleware.
func (a *App) buildHandler() http.Handler {
	mux := http.NewServeMux()

	api := &api{
		orchestrator: a.orchestrator,
		bridge:       a.bridge,
		permissions:  a.permissions,
		store:        a.store,
		log:          a.log,
	}
	api.register(mux)

	var checkers []health.Checker
	if a.bridge != nil {
		checkers = append(checkers, health.Checker{
			Name: "helper",
			Check: func(ctx context.Context) error {
				st := a.bridge.State()
				if st.Failed {
					return fmt.Errorf("helper process not available")
				}
				return nil
			},
		})
	}
	health.New(a.status, checkers...).Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(a.metrics)(mux)
}

// status builds the /statusz snapshot.
func (a *App) status() health.Status {
	s := health.Status{
		Engine:         string(a.cfg.Engine.Name),
		ActiveSessions: a.orchestrator.ActiveSessions(),
	}
	if a.bridge != nil {
		st := a.bridge.State()
		s.Helper = health.HelperStatus{
			Running:  st.Running,
			Failed:   st.Failed,
			Restarts: st.Restarts,
			Timeouts: st.Timeouts,
		}
		if !st.LastExit.Normal() {
			s.Helper.LastExit = st.LastExit.String()
		}
	}
	return s
}

// Handler returns the app's HTTP handler. Exposed for tests that drive the
// API without binding a listener.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Run serves the local API and supervises the helper event loop until ctx is
// cancelled.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		return a.server.Shutdown(context.Background())
	})

	if a.bridge != nil {
		g.Go(func() error {
			a.eventLoop(ctx)
			return nil
		})
	}

	return g.Wait()
}

// eventLoop drains helper push events: permission changes invalidate the
// cache, crashes feed the restart metric, and permanent failure is surfaced
// in the log (and via /readyz).
func (a *App) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-a.bridge.Events():
			if !ok {
				return
			}
			switch ev := ev.(type) {
			case helper.PermissionEvent:
				a.permissions.Invalidate()
				a.log.Info("helper permission changed", "permission", ev.Permission, "granted", ev.Granted)
			case helper.CrashEvent:
				a.metrics.HelperRestarts.Add(ctx, 1)
				a.log.Warn("helper crashed", "exit", ev.Exit.String())
			case helper.FailureEvent:
				a.log.Error("helper permanently failed", "restarts", ev.Restarts)
			case helper.StatusEvent:
				a.log.Debug("helper status", "status", ev.Status)
			}
		}
	}
}

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

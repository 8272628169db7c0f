// Package app wires all phonofix subsystems into a running application.
//
// The App struct owns the full lifecycle: New loads the knowledge base,
// builds the correction engine and starts the file watchers, Run serves the
// HTTP API (or RunMCP the MCP stdio server), and Shutdown tears everything
// down in order.
//
// Reloads never interrupt requests: a changed knowledge file or config
// builds a new [engine.Snapshot] off to the side and swaps it in atomically.
// A reload that fails leaves the previous snapshot serving.
//
// For testing, inject the term list and metrics via functional options
// (WithEntries, WithMetrics). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/phonofix/internal/config"
	"github.com/MrWong99/phonofix/internal/engine"
	"github.com/MrWong99/phonofix/internal/health"
	"github.com/MrWong99/phonofix/internal/knowledge"
	"github.com/MrWong99/phonofix/internal/knowledge/postgres"
	"github.com/MrWong99/phonofix/internal/mcp"
	"github.com/MrWong99/phonofix/internal/observe"
	"github.com/MrWong99/phonofix/internal/server"
	"github.com/MrWong99/phonofix/internal/transcript"
	"github.com/MrWong99/phonofix/pkg/phonetic"
	"github.com/MrWong99/phonofix/pkg/provider/g2p"
)

const (
	defaultListenAddr      = ":8080"
	defaultShutdownTimeout = 15 * time.Second
)

// App owns all subsystem lifetimes.
type App struct {
	registry   *config.Registry
	metrics    *observe.Metrics
	engine     *engine.Engine
	version    string
	configPath string
	level      *slog.LevelVar

	// mu serialises rebuilds triggered by the watchers and guards the
	// fields below.
	mu          sync.Mutex
	cfg         *config.Config
	entries     []transcript.Entry
	injected    bool
	transcriber phonetic.Transcriber
	cache       *phonetic.CachedTranscriber

	// Subsystems, initialised in New and torn down in Shutdown.
	store      *postgres.Store
	kbWatcher  *knowledge.Watcher
	cfgWatcher *config.Watcher
	mcpServer  *mcpsdk.Server
	http       *server.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithEntries injects the knowledge base instead of loading it from
// cfg.Knowledge. Knowledge watching is disabled.
func WithEntries(entries []transcript.Entry) Option {
	return func(a *App) {
		a.entries = entries
		a.injected = true
	}
}

// WithMetrics injects the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithConfigWatch watches the config file at path and applies hot-reloadable
// changes (log level, engine tuning, transcriber, knowledge source).
func WithConfigWatch(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithLevelVar lets the app change the log level on config reload.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithVersion sets the version reported by /healthz and the MCP server.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The registry comes
// from main.go and resolves cfg.Transcriber to a [phonetic.Transcriber].
//
// New performs all initialisation synchronously: knowledge loading (file or
// PostgreSQL), engine construction, and watcher start-up.
func New(ctx context.Context, cfg *config.Config, registry *config.Registry, opts ...Option) (_ *App, err error) {
	if registry == nil {
		return nil, errors.New("app: transcriber registry is required")
	}
	a := &App{
		cfg:      cfg,
		registry: registry,
		engine:   engine.New(),
		version:  "dev",
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	defer func() {
		if err != nil {
			a.runClosers()
		}
	}()

	// ── 1. Knowledge base ────────────────────────────────────────────────
	if err := a.initKnowledge(ctx); err != nil {
		return nil, fmt.Errorf("app: init knowledge: %w", err)
	}

	// ── 2. Engine ────────────────────────────────────────────────────────
	a.mu.Lock()
	err = a.rebuildLocked(ctx, cfg, true)
	a.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("app: init engine: %w", err)
	}

	// ── 3. Watchers ──────────────────────────────────────────────────────
	if err := a.initWatchers(); err != nil {
		return nil, fmt.Errorf("app: init watchers: %w", err)
	}

	// ── 4. Transports ────────────────────────────────────────────────────
	a.mcpServer = mcp.NewServer(a.engine, mcp.WithVersion(a.version), mcp.WithMetrics(a.metrics))
	a.http = server.New(a.engine, a.serverOptions()...)

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initKnowledge loads the term list from the configured file or PostgreSQL.
func (a *App) initKnowledge(ctx context.Context) error {
	if a.injected {
		slog.Info("using injected knowledge base", "terms", len(a.entries))
		return nil
	}
	k := a.cfg.Knowledge
	switch {
	case k.Path != "":
		entries, err := a.loadFile(k)
		if err != nil {
			return err
		}
		a.entries = entries
		slog.Info("loaded knowledge base", "path", k.Path, "terms", len(entries))

	case k.PostgresDSN != "":
		dims := k.Dimensions
		if dims == 0 {
			dims = len(g2p.DefaultInventory().FeatureNames())
		}
		store, err := postgres.NewStore(ctx, k.PostgresDSN, dims)
		if err != nil {
			return err
		}
		a.store = store
		a.closers = append(a.closers, func() error { store.Close(); return nil })

		entries, err := a.loadStore(ctx)
		if err != nil {
			return err
		}
		a.entries = entries
		slog.Info("loaded knowledge base from postgres", "terms", len(entries))
	}
	return nil
}

func (a *App) loadFile(k config.KnowledgeConfig) ([]transcript.Entry, error) {
	format, err := knowledge.ParseFormat(k.Format)
	if err != nil {
		return nil, err
	}
	return knowledge.LoadFor(k.Path, format, a.cfg.Transcriber.ID())
}

// loadStore reads every term from PostgreSQL. Stored representations are
// dropped: the store does not record which transcriber produced them, so
// they are recomputed with the active one.
func (a *App) loadStore(ctx context.Context) ([]transcript.Entry, error) {
	entries, err := a.store.All(ctx)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Rep = nil
	}
	return entries, nil
}

// initWatchers starts the knowledge and config file watchers when enabled.
func (a *App) initWatchers() error {
	k := a.cfg.Knowledge
	if k.Watch && k.Path != "" && !a.injected {
		format, err := knowledge.ParseFormat(k.Format)
		if err != nil {
			return err
		}
		opts := []knowledge.WatcherOption{
			knowledge.WithFormat(format),
			knowledge.WithTranscriber(a.cfg.Transcriber.ID()),
			knowledge.WithErrorHandler(func(err error) {
				slog.Warn("knowledge reload failed, keeping previous terms", "path", k.Path, "err", err)
				a.metrics.RecordKnowledgeReload(context.Background(), 0, err)
			}),
		}
		if k.PollInterval > 0 {
			opts = append(opts, knowledge.WithPollInterval(k.PollInterval))
		}
		w, err := knowledge.NewWatcher(k.Path, a.onKnowledgeChange, opts...)
		if err != nil {
			return err
		}
		a.kbWatcher = w
		a.closers = append(a.closers, func() error { w.Stop(); return nil })
		slog.Info("watching knowledge file", "path", k.Path)
	}

	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.onConfigChange,
			config.WithErrorHandler(func(err error) {
				slog.Warn("config reload failed, keeping previous config", "path", a.configPath, "err", err)
			}),
		)
		if err != nil {
			return err
		}
		a.cfgWatcher = w
		a.closers = append(a.closers, func() error { w.Stop(); return nil })
		slog.Info("watching config file", "path", a.configPath)
	}
	return nil
}

func (a *App) serverOptions() []server.Option {
	opts := []server.Option{
		server.WithMetrics(a.metrics),
		server.WithVersion(a.version),
		server.WithMCPHandler(mcp.HTTPHandler(a.mcpServer)),
	}
	if a.cfg.Server.Metrics {
		opts = append(opts, server.WithMetricsEndpoint())
	}
	if tls := a.cfg.Server.TLS; tls != nil {
		opts = append(opts, server.WithTLS(tls.CertFile, tls.KeyFile))
	}
	if a.store != nil {
		opts = append(opts, server.WithHealthCheckers(health.Checker{Name: "term_store", Check: a.store.Ping}))
	}
	return opts
}

// ─── Engine builds ───────────────────────────────────────────────────────────

// rebuildLocked builds and publishes a snapshot for cfg and the current
// entries. newTranscriber forces a fresh transcriber (and cache); otherwise
// the previous one is reused so its cache stays warm. a.mu must be held.
func (a *App) rebuildLocked(ctx context.Context, cfg *config.Config, newTranscriber bool) error {
	dcfg, err := cfg.Engine.DistanceConfig()
	if err != nil {
		return err
	}

	tr := a.transcriber
	cache := a.cache
	if newTranscriber || tr == nil {
		inner, err := a.registry.CreateTranscriber(cfg.Transcriber)
		if err != nil {
			return err
		}
		tr, cache = inner, nil
		if cfg.Engine.CacheSize >= 0 {
			cache, err = phonetic.NewCachedTranscriber(inner, cfg.Engine.CacheSize,
				phonetic.WithLookupHook(a.recordCacheLookup))
			if err != nil {
				return err
			}
			tr = cache
		}
		slog.Info("transcriber created", "name", cfg.Transcriber.ID(), "cache", cache != nil)
	}

	params := engine.Params{
		TranscriberName: cfg.Transcriber.ID(),
		Transcriber:     tr,
		Distance:        dcfg,
		Entries:         a.entries,
		CorrectorOptions: append(cfg.Engine.CorrectorOptions(),
			transcript.WithMetrics(a.metrics),
		),
	}
	if th := cfg.Engine.LowConfidence; th > 0 {
		params.PipelineOptions = append(params.PipelineOptions, transcript.WithLowConfidenceOnly(th))
	}

	start := time.Now()
	snap, err := a.engine.Rebuild(ctx, params)
	if err != nil {
		return err
	}
	a.transcriber, a.cache, a.cfg = tr, cache, cfg
	slog.Info("engine built",
		"generation", snap.Generation,
		"terms", snap.Corrector.Len(),
		"duration", time.Since(start),
	)
	return nil
}

func (a *App) recordCacheLookup(ctx context.Context, hit bool) {
	if hit {
		a.metrics.RecordCacheLookups(ctx, 1, 0)
	} else {
		a.metrics.RecordCacheLookups(ctx, 0, 1)
	}
}

// onKnowledgeChange is the knowledge watcher callback.
func (a *App) onKnowledgeChange(entries []transcript.Entry) {
	ctx := context.Background()
	a.mu.Lock()
	defer a.mu.Unlock()

	prev := a.entries
	a.entries = entries
	err := a.rebuildLocked(ctx, a.cfg, false)
	if err != nil {
		a.entries = prev
		slog.Error("engine rebuild after knowledge change failed", "err", err)
	}
	a.metrics.RecordKnowledgeReload(ctx, len(entries), err)
}

// onConfigChange is the config watcher callback.
func (a *App) onConfigChange(old, new *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	for _, field := range d.RestartRequired {
		slog.Warn("config change requires a restart to take effect", "field", field)
	}
	if !d.NeedsRebuild() {
		return
	}

	ctx := context.Background()
	a.mu.Lock()
	defer a.mu.Unlock()

	prevEntries := a.entries
	if d.KnowledgeChanged && !a.injected {
		if err := a.reloadKnowledgeLocked(ctx, new); err != nil {
			slog.Error("knowledge reload after config change failed, keeping previous config", "err", err)
			a.metrics.RecordKnowledgeReload(ctx, 0, err)
			return
		}
	} else if d.TranscriberChanged && !a.injected && new.Knowledge.Path != "" {
		// Snapshot representations are only valid for the transcriber that
		// compiled them.
		entries, err := a.loadFile(new.Knowledge)
		if err != nil {
			slog.Error("knowledge reload after transcriber change failed, keeping previous config", "err", err)
			return
		}
		a.entries = entries
	}

	if err := a.rebuildLocked(ctx, new, d.TranscriberChanged || d.EngineChanged); err != nil {
		a.entries = prevEntries
		slog.Error("engine rebuild after config change failed, keeping previous engine", "err", err)
		return
	}
	if a.kbWatcher != nil && d.TranscriberChanged {
		a.kbWatcher.SetTranscriber(new.Transcriber.ID())
	}
	if d.KnowledgeChanged {
		a.metrics.RecordKnowledgeReload(ctx, len(a.entries), nil)
		if a.kbWatcher != nil && new.Knowledge.Path != old.Knowledge.Path {
			slog.Warn("knowledge watcher keeps watching the previous path until restart", "path", old.Knowledge.Path)
		}
	}
	slog.Info("configuration applied",
		"engine_changed", d.EngineChanged,
		"transcriber_changed", d.TranscriberChanged,
		"knowledge_changed", d.KnowledgeChanged,
	)
}

// reloadKnowledgeLocked loads the knowledge source named by cfg into
// a.entries. Moving to a different PostgreSQL database requires a restart;
// a file source is read directly. a.mu must be held.
func (a *App) reloadKnowledgeLocked(ctx context.Context, cfg *config.Config) error {
	k := cfg.Knowledge
	switch {
	case k.Path != "":
		entries, err := knowledge.LoadFor(k.Path, mustFormat(k.Format), cfg.Transcriber.ID())
		if err != nil {
			return err
		}
		a.entries = entries
	case k.PostgresDSN != "" && a.store != nil && k.PostgresDSN == a.cfg.Knowledge.PostgresDSN:
		entries, err := a.loadStore(ctx)
		if err != nil {
			return err
		}
		a.entries = entries
	case k.PostgresDSN != "":
		return errors.New("switching knowledge.postgres_dsn requires a restart")
	default:
		a.entries = nil
	}
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Engine returns the live engine.
func (a *App) Engine() *engine.Engine { return a.engine }

// Handler returns the HTTP handler, for embedding or tests.
func (a *App) Handler() *server.Server { return a.http }

// ErrNoConfigWatch is returned by [App.ReloadConfig] when the app was built
// without [WithConfigWatch].
var ErrNoConfigWatch = errors.New("app: config watch not enabled")

// ReloadConfig re-reads the watched config file immediately and applies any
// change. It reports whether the effective config changed.
func (a *App) ReloadConfig() (bool, error) {
	if a.cfgWatcher == nil {
		return false, ErrNoConfigWatch
	}
	changed, err := a.cfgWatcher.Reload()
	if err != nil {
		return false, fmt.Errorf("app: reload config: %w", err)
	}
	return changed, nil
}

// Run serves the HTTP API on cfg.Server.ListenAddr until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = defaultListenAddr
	}
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout == 0 {
		timeout = defaultShutdownTimeout
	}
	return a.http.ListenAndServe(ctx, addr, timeout)
}

// RunMCP serves the MCP tools over stdio until ctx is cancelled or the client
// disconnects.
func (a *App) RunMCP(ctx context.Context) error {
	return mcp.Serve(ctx, a.mcpServer, mcp.TransportStdio)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) runClosers() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// mustFormat parses a format name that [config.Validate] already accepted.
func mustFormat(name string) knowledge.Format {
	f, _ := knowledge.ParseFormat(name)
	return f
}

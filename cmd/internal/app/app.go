// Package app wires the chat server runtime: config, logging, storage, HTTP routes,
// the live feed and the inactivity reaper.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"batepapo/cmd/internal/chat"
	"batepapo/cmd/internal/docstore"
	"batepapo/cmd/internal/httpapi"
	"batepapo/cmd/internal/metrics"
	"batepapo/cmd/internal/realtime"
)

// closeFunc releases a backend connection owned by the app.
type closeFunc func(ctx context.Context) error

// App is the chat server runtime: it owns the store connection, the HTTP
// server wiring and the reaper goroutine.
type App struct {
	cfg Config
	log Logger

	store     chat.Store
	closeDB   closeFunc
	dbEnabled bool

	metrics *metrics.Metrics
	hub     *realtime.Hub
	ws      *realtime.WSGateway
	api     *httpapi.Handler
	reaper  *chat.Reaper
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, closeDB, err := newStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	a, err := wire(cfg, log, st)
	if err != nil {
		_ = closeDB(context.Background())
		return nil, err
	}
	a.closeDB = closeDB
	a.dbEnabled = cfg.Store != StoreMemory
	return a, nil
}

// wire builds the domain services and transports over st.
func wire(cfg Config, log Logger, st chat.Store) (*App, error) {
	var m *metrics.Metrics
	var hub *realtime.Hub
	opts := []chat.Option{chat.WithLogger(log)}
	if cfg.ReaperInterval > 0 {
		opts = append(opts, chat.WithInterval(cfg.ReaperInterval))
	}
	if cfg.InactivityTimeout > 0 {
		opts = append(opts, chat.WithInactivityTimeout(cfg.InactivityTimeout))
	}
	if cfg.MetricsEnabled {
		m = metrics.New()
		hub = realtime.NewHub(log, m)
		opts = append(opts, chat.WithSweepObserver(m))
	} else {
		hub = realtime.NewHub(log, nil)
	}
	opts = append(opts, chat.WithNotifier(hub))

	registry, err := chat.NewRegistry(st, opts...)
	if err != nil {
		return nil, err
	}
	ledger, err := chat.NewLedger(st, st, opts...)
	if err != nil {
		return nil, err
	}
	reaper, err := chat.NewReaper(st, st, opts...)
	if err != nil {
		return nil, err
	}
	api, err := httpapi.NewHandler(log, registry, ledger, httpapi.WithMaxBodyBytes(cfg.MaxBodyBytes))
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:     cfg,
		log:     log,
		store:   st,
		closeDB: func(context.Context) error { return nil },
		metrics: m,
		hub:     hub,
		ws:      realtime.NewWSGateway(log, hub, registry, cfg.GatewayConfig()),
		api:     api,
		reaper:  reaper,
	}, nil
}

// Handler returns the routed HTTP handler with the full middleware chain.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.store, a.metrics, a.ws, a.api)

	// Innermost first.
	var h http.Handler = withRoutePattern(mux)
	h = WithRecover(h, a.log)
	h = WithRateLimit(h, a.cfg, a.log)
	h = WithCORS(h, a.cfg, a.log)
	h = WithSecurityHeaders(h)
	h = WithMetrics(h, a.metrics)
	h = WithRequestLogging(h, a.log)
	return WithRequestID(h)
}

// Run starts the reaper and the HTTP server and blocks until context
// cancellation or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	reaperCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	reaperDone := make(chan struct{})
	go func() {
		defer close(reaperDone)
		_ = a.reaper.Run(reaperCtx)
	}()

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"url", base,
		"live_url", wsBaseURL(base)+"/ws",
		"store", a.cfg.Store,
		"db_enabled", a.dbEnabled,
		"metrics", a.metrics != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		runErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if runErr == nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			runErr = err
		}
	}

	stopReaper()
	<-reaperDone

	// The store goes last: handlers and the reaper are done with it.
	if err := a.closeDB(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return runErr
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newStore opens the configured backend.
//
// Ownership model:
// - app owns the pool/client lifecycle (closeFunc)
// - the docstore types never close what they are given
func newStore(ctx context.Context, cfg Config, log Logger) (chat.Store, closeFunc, error) {
	noop := func(context.Context) error { return nil }

	switch cfg.Store {
	case StoreMemory:
		log.Info("store.memory")
		return docstore.NewMemoryStore(), noop, nil

	case StoreMongo:
		client, err := NewMongoClient(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("mongo connect: %w", err)
		}
		closeDB := func(ctx context.Context) error { return client.Disconnect(ctx) }

		st, err := docstore.NewMongoStore(client.Database(cfg.MongoDB))
		if err == nil {
			err = withTimeout(ctx, 10*time.Second, st.EnsureIndexes)
		}
		if err != nil {
			_ = closeDB(ctx)
			return nil, nil, fmt.Errorf("mongo store: %w", err)
		}
		log.Info("store.mongo", "db", cfg.MongoDB)
		return st, closeDB, nil

	case StorePostgres:
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres connect: %w", err)
		}
		closeDB := func(context.Context) error { pool.Close(); return nil }

		st, err := docstore.NewPostgresStore(pool, docstore.WithSchema(cfg.DBSchema))
		if err == nil {
			err = withTimeout(ctx, 10*time.Second, st.EnsureSchema)
		}
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres store: %w", err)
		}
		log.Info("store.postgres", "schema", cfg.DBSchema)
		return st, closeDB, nil

	default:
		return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

func withTimeout(parent context.Context, d time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, d)
	defer cancel()
	return fn(ctx)
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}

package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/capture"
	"github.com/loqalabs/loqa-dictate/internal/chunk"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/engine"
	"github.com/loqalabs/loqa-dictate/internal/eventstore"
	"github.com/loqalabs/loqa-dictate/internal/natsserver"
	"github.com/loqalabs/loqa-dictate/internal/session"
)

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	telemetry  *telemetry
	nats       *natsserver.EmbeddedServer
	bus        *bus.Client
	store      *eventstore.Store
	engine     *engine.Handle
	controller *session.Controller
	hub        *hub
	httpServer *http.Server

	newEngine func(config.EngineConfig, *slog.Logger) (*engine.Handle, error)

	started chan struct{}
	addr    string
	wg      sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		cfg:       cfg,
		logger:    logger,
		newEngine: engine.New,
		started:   make(chan struct{}),
	}
}

// Started is closed once the HTTP API is accepting connections.
func (r *Runtime) Started() <-chan struct{} {
	return r.started
}

// Addr returns the bound HTTP address. Valid after Started is closed.
func (r *Runtime) Addr() string {
	return r.addr
}

// Controller returns the session controller. Valid after Started is closed.
func (r *Runtime) Controller() *session.Controller {
	return r.controller
}

// Start wires every component, serves the HTTP API and blocks until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	// cancel before teardown, which waits on the engine load
	defer r.teardown()
	defer cancel()

	if err := r.build(ctx); err != nil {
		return err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.engine.Load(ctx); err != nil {
			r.logger.Error("transcriber failed to load", slog.String("error", err.Error()))
		}
	}()

	a := &api{
		ctrl:    r.controller,
		engine:  r.engine,
		hub:     r.hub,
		metrics: r.telemetry.metrics,
		log:     r.logger.With(slog.String("component", "http")),
	}
	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	r.addr = ln.Addr().String()
	r.httpServer = &http.Server{
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
			cancel()
		}
	}()

	r.logger.Info("runtime started",
		slog.String("addr", r.addr),
		slog.String("policy", string(r.controller.Policy())),
		slog.String("engine", r.cfg.Engine.Mode),
		slog.String("capture", r.cfg.Capture.Mode))
	close(r.started)

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	return nil
}

func (r *Runtime) build(ctx context.Context) error {
	tel, err := setupTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetry = tel

	if r.cfg.Bus.Enabled {
		busCfg := r.cfg.Bus
		if busCfg.Embedded {
			r.nats, err = natsserver.Start(busCfg, r.logger)
			if err != nil {
				return err
			}
			busCfg.Servers = []string{r.nats.ClientURL()}
		}
		r.bus, err = bus.Connect(ctx, busCfg, r.logger.With(slog.String("component", "bus")))
		if err != nil {
			return err
		}
	}

	r.store, err = eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}

	r.engine, err = r.newEngine(r.cfg.Engine, r.logger)
	if err != nil {
		return fmt.Errorf("configure engine: %w", err)
	}

	device, err := capture.New(r.cfg.Capture, r.bus, r.logger)
	if err != nil {
		return fmt.Errorf("configure capture: %w", err)
	}

	r.controller, err = session.New(r.engine, device, SessionConfig(r.cfg), r.logger)
	if err != nil {
		return fmt.Errorf("configure session: %w", err)
	}

	r.hub = newHub(r.controller.Snapshot, r.logger)
	r.controller.Subscribe(r.hub.observe)
	if r.bus != nil {
		r.controller.Subscribe(newBusPublisher(r.bus, r.logger).observe)
	}
	if r.store.Enabled() {
		r.controller.Subscribe(newTimeline(r.store, r.logger).observe)
	}
	return nil
}

// SessionConfig derives the controller configuration from cfg.
func SessionConfig(cfg config.Config) session.Config {
	return session.Config{
		Policy:   session.Policy(cfg.Session.Policy),
		Interval: time.Duration(cfg.Session.IntervalMS) * time.Millisecond,
		Format: chunk.Format{
			SampleRate: cfg.Capture.SampleRate,
			Channels:   cfg.Capture.Channels,
			BitDepth:   16,
		},
	}
}

// teardown releases components in reverse dependency order. Components that were never
// built are skipped.
func (r *Runtime) teardown() {
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if r.httpServer != nil {
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	if r.hub != nil {
		r.hub.close()
	}
	if r.controller != nil {
		if err := r.controller.Close(); err != nil {
			r.logger.Warn("session close error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()
	if r.engine != nil {
		if err := r.engine.Close(); err != nil {
			r.logger.Warn("engine close error", slog.String("error", err.Error()))
		}
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn("event store close error", slog.String("error", err.Error()))
		}
	}
	if r.bus != nil {
		r.bus.Close()
	}
	r.nats.Shutdown()
	if r.telemetry != nil {
		if err := r.telemetry.shutdown(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

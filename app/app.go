package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/itsneelabh/bloxgate/admin"
	"github.com/itsneelabh/bloxgate/core"
	"github.com/itsneelabh/bloxgate/registry"
	"github.com/itsneelabh/bloxgate/resilience"
	"github.com/itsneelabh/bloxgate/telemetry"
	"github.com/itsneelabh/bloxgate/tools"
	"github.com/itsneelabh/bloxgate/transport"
	"github.com/itsneelabh/bloxgate/upstream"
)

// App owns every component and their lifecycles: upstream client, resilience
// pipeline, tool registry, both HTTP listeners, and telemetry.
type App struct {
	cfg    *core.Config
	logger core.Logger

	registry  *registry.Registry
	sessions  *transport.SessionManager
	collector *telemetry.Collector
	tracer    *telemetry.TracerProvider
	cache     resilience.Cache

	rpcServer   *http.Server
	adminServer *http.Server
}

// New constructs and wires all components. Nothing starts listening until
// Run.
func New(cfg *core.Config, logger core.Logger) (*App, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	collector := telemetry.NewCollector()

	tracer, err := telemetry.NewTracerProvider(cfg.Telemetry, cfg.ServiceName, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	cache, err := buildCache(cfg.Cache, logger)
	if err != nil {
		return nil, fmt.Errorf("cache init: %w", err)
	}

	breakers := resilience.NewBreakerGroup(cfg.Resilience.BreakerThreshold, cfg.Resilience.BreakerReset, logger)
	breakers.OnStateChange(collector.BreakerListener())

	client := upstream.NewClient(cfg.Upstream, logger)
	client.SetObserver(func(method, path string, status int, duration time.Duration) {
		collector.ObserveUpstream(upstream.ServiceForPath(path), path, status, duration)
	})

	pipeline := resilience.NewPipeline(
		breakers,
		cache,
		resilience.RetryConfig{
			MaxAttempts: cfg.Resilience.RetryMaxAttempts,
			BaseDelay:   cfg.Resilience.RetryBaseDelay,
			MaxDelay:    cfg.Resilience.RetryMaxDelay,
		},
		cfg.Resilience.CallTimeout,
		logger,
		collector,
	)

	reg := registry.NewRegistry(logger)
	if err := tools.RegisterAll(reg, &tools.Deps{
		Client:     client,
		Pipeline:   pipeline,
		DefaultTTL: cfg.Cache.TTL,
		Logger:     logger,
	}); err != nil {
		return nil, fmt.Errorf("tool registration: %w", err)
	}

	sessions := transport.NewSessionManager(cfg.Session.OutboundQueue, cfg.Session.IdleTimeout, logger)
	collector.RegisterGaugeFunc("active_sessions", nil, func() float64 {
		return float64(sessions.Count())
	})

	rpc := transport.NewServer(reg, sessions, logger)
	rpc.SetObserver(collector.ObserveRPC)

	health := telemetry.NewHealthEvaluator(collector, breakers, cache.Stats, 0)
	refresh := func(c *telemetry.Collector) {
		stats := cache.Stats()
		c.SetGauge("cache_entries", nil, float64(stats.Entries))
		if lookups := stats.Hits + stats.Misses; lookups > 0 {
			c.SetGauge("cache_hit_rate", nil, float64(stats.Hits)/float64(lookups))
		}
	}
	adm := admin.NewServer(collector, health, refresh, logger)

	app := &App{
		cfg:       cfg,
		logger:    logger,
		registry:  reg,
		sessions:  sessions,
		collector: collector,
		tracer:    tracer,
		cache:     cache,
		rpcServer: &http.Server{
			Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.RPCPort),
			Handler:     rpc.Routes(),
			ReadTimeout: cfg.Server.ReadTimeout,
			// WriteTimeout stays zero; SSE streams outlive any fixed limit.
		},
		adminServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.AdminPort),
			Handler:      adm.Routes(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
	return app, nil
}

func buildCache(cfg core.CacheConfig, logger core.Logger) (resilience.Cache, error) {
	if !cfg.Enabled {
		return resilience.NoOpCache{}, nil
	}
	if cfg.RedisURL != "" {
		cache, err := resilience.NewRedisCache(cfg.RedisURL, cfg.RedisKeyPrefix, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("cache_backend_selected", map[string]interface{}{"backend": "redis"})
		return cache, nil
	}
	logger.Info("cache_backend_selected", map[string]interface{}{"backend": "memory"})
	return resilience.NewMemoryCache(cfg.MaxEntries), nil
}

// Registry exposes the tool catalog, mainly for tests.
func (a *App) Registry() *registry.Registry { return a.registry }

// Run starts both listeners and blocks until the context is cancelled or a
// listener fails to bind. Shutdown drains in-flight requests within the
// configured grace period.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		a.logger.Info("rpc_listener_started", map[string]interface{}{
			"addr": a.rpcServer.Addr,
		})
		if err := a.rpcServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("rpc listener: %w", err)
		}
	}()
	go func() {
		a.logger.Info("admin_listener_started", map[string]interface{}{
			"addr": a.adminServer.Addr,
		})
		if err := a.adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("admin listener: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	a.shutdown()
	return runErr
}

func (a *App) shutdown() {
	a.logger.Info("shutdown_started", map[string]interface{}{
		"grace": a.cfg.Server.ShutdownTimeout.String(),
	})
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stop accepting new sessions first, then cancel the live ones so
	// in-flight upstream calls unwind inside the grace window.
	_ = a.rpcServer.Shutdown(ctx)
	a.sessions.CloseAll()
	_ = a.adminServer.Shutdown(ctx)

	if err := a.tracer.Shutdown(ctx); err != nil {
		a.logger.Warn("trace_flush_failed", map[string]interface{}{"error": err.Error()})
	}
	if closer, ok := a.cache.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	a.logger.Info("shutdown_complete", nil)
}

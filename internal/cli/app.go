package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ppiankov/placemaster/internal/cache"
	"github.com/ppiankov/placemaster/internal/geocode"
	"github.com/ppiankov/placemaster/internal/llm"
	"github.com/ppiankov/placemaster/internal/logging"
	"github.com/ppiankov/placemaster/internal/mention"
	"github.com/ppiankov/placemaster/internal/model"
	"github.com/ppiankov/placemaster/internal/observability"
	"github.com/ppiankov/placemaster/internal/oracle"
	"github.com/ppiankov/placemaster/internal/resolve"
	"github.com/ppiankov/placemaster/internal/store"
	"github.com/ppiankov/placemaster/internal/worker"
)

// Rate limiter keys
const (
	geocodeKey  = "geocode"
	validateKey = "validate"
)

// app holds the wired components shared by the commands
type app struct {
	cfg       model.Config
	log       *logging.Logger
	store     *store.Store
	validator oracle.Validator // nil when validation is disabled
	geocoder  oracle.Geocoder  // nil when geocoding is disabled
	resolver  *resolve.Resolver
	recorder  *mention.Recorder
	metrics   *observability.Metrics
	registry  *prometheus.Registry

	closers []func(context.Context) error
}

// newApp loads configuration and wires store, oracles, caches and the resolver
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}

	if err := a.wire(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	if cfg.Tracing.Enabled {
		shutdown, err := observability.InitTracing(ctx, a.log, observability.TracingConfig{
			ServiceName: cfg.Tracing.ServiceName,
			Version:     Version,
		})
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		a.closers = append(a.closers, shutdown)
	}

	a.registry = prometheus.NewRegistry()
	metrics, err := observability.NewMetrics(a.registry)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	a.metrics = metrics

	st, err := store.Open(cfg.Database, a.log)
	if err != nil {
		return err
	}
	a.store = st
	a.closers = append(a.closers, func(context.Context) error { return st.Close() })

	limiter := worker.NewLimiter(cfg.RateLimiting.GeocodeRPS, cfg.RateLimiting.GeocodeBurst)
	limiter.SetKeyRate(validateKey, cfg.RateLimiting.ValidateRPS, cfg.RateLimiting.ValidateBurst)

	if cfg.Resolver.ValidationEnabled {
		v, err := llm.NewPlaceValidator(llm.ConfigFromModel(cfg.LLM, cfg.Proxy), a.responseCache(), a.log)
		if err != nil {
			return err
		}
		if v.IsEnabled() {
			a.validator = oracle.RateLimitedValidator(v, limiter, validateKey)
			a.log.Info("validation oracle enabled", "provider", v.ProviderName())
		} else {
			a.log.Info("validation oracle disabled: no llm provider configured")
		}
	}

	if cfg.Resolver.GeocodingEnabled {
		g, err := geocode.New(cfg.Geocoding, cfg.Proxy, a.log)
		if err != nil {
			return err
		}
		if g != nil {
			a.geocoder = oracle.RateLimitedGeocoder(g, limiter, geocodeKey)
		}
	}

	keyCache, err := a.keyCache(ctx)
	if err != nil {
		return err
	}

	a.resolver = resolve.New(st, resolve.Options{
		Validator:       a.validator,
		Geocoder:        a.geocoder,
		Cache:           keyCache,
		CacheTTL:        seconds(cfg.Cache.TTL),
		RejectThreshold: cfg.Resolver.RejectThreshold,
		AcceptThreshold: cfg.Resolver.AcceptThreshold,
		FailOpen:        cfg.Resolver.FailOpen,
		Logger:          a.log,
		Metrics:         metrics,
	})
	a.recorder = mention.NewRecorder(st, a.log, metrics)
	return nil
}

// keyCache builds the key->master cache: redis when configured, memory otherwise
func (a *app) keyCache(ctx context.Context) (cache.Cache, error) {
	cfg := a.cfg.Cache
	if !cfg.Enabled {
		return nil, nil
	}
	ttl := seconds(cfg.TTL)
	if cfg.RedisAddr == "" {
		return cache.NewMemoryCache(ttl, 10*time.Minute), nil
	}

	rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		TTL:      ttl,
		Prefix:   "placemaster:key:",
	})
	if err != nil {
		return nil, fmt.Errorf("connect key cache: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return rc.Close() })
	// Memory in front of redis keeps hot keys local
	return cache.NewLayeredCache(cache.NewMemoryCache(ttl, 10*time.Minute), rc), nil
}

// responseCache caches validation answers, on disk when a cache dir is configured
func (a *app) responseCache() cache.Cache {
	ttl := seconds(a.cfg.LLM.CacheTTL)
	if a.cfg.LLM.CacheDir == "" {
		return cache.NewMemoryCache(ttl, 10*time.Minute)
	}
	return cache.NewMemoryDiskCache(time.Hour, a.cfg.LLM.CacheDir, ttl)
}

// serveMetrics exposes the metrics registry on addr until ctx is done
func (a *app) serveMetrics(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.log.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server failed", "error", err)
		}
	}()
	a.closers = append(a.closers, func(ctx context.Context) error { return srv.Shutdown(ctx) })
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

// Close releases resources in reverse order of acquisition
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.log != nil {
		a.log.Sync()
	}
	return errors.Join(errs...)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

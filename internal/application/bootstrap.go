package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/spac3man-G/amsf001-project-tracker-sub004/infrastructure/middleware"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/infrastructure/notify"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/infrastructure/store"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/domain"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/ports"
)

// RuntimeOptions tune Bootstrap. Every field is optional.
type RuntimeOptions struct {
	Logger     *slog.Logger
	Registerer prometheus.Registerer
	Clock      func() time.Time

	// ClientName identifies the process to NATS.
	ClientName string
}

// Runtime is an Engine wired to the backends named by its configuration.
type Runtime struct {
	Engine  *Engine
	Store   ports.Store
	Metrics *middleware.PrometheusMetrics

	closers []func(context.Context) error
}

// Bootstrap builds the store, notifier and metrics selected by cfg and
// assembles an Engine over them. The catalog and directory belong to
// external collaborators and are passed in. Close releases everything
// Bootstrap opened.
func Bootstrap(
	ctx context.Context,
	cfg EngineConfig,
	catalog ports.Catalog,
	directory ports.Directory,
	opts RuntimeOptions,
) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := normalize(&cfg); err != nil {
		return nil, err
	}
	v, err := NewValidator()
	if err != nil {
		return nil, err
	}
	if err := v.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidConfiguration, err)
	}

	rt := &Runtime{Metrics: middleware.NewPrometheusMetrics(opts.Registerer)}
	switch cfg.Store.Driver {
	case DriverMySQL:
		s, err := store.NewMySQLStore(ctx, store.DefaultMySQLConfig(cfg.Store.MySQLDSN), logger)
		if err != nil {
			return nil, err
		}
		rt.Store = s
		rt.closers = append(rt.closers, func(context.Context) error { return s.Close() })
	default:
		rt.Store = store.NewMemoryStore()
	}

	var notifier ports.Notifier = notify.NewLogNotifier(logger)
	if cfg.Notify.URL != "" {
		name := opts.ClientName
		if name == "" {
			name = "scoring-engine"
		}
		nc, err := notify.Connect(cfg.Notify.URL, name)
		if err != nil {
			_ = rt.Close(ctx)
			return nil, ports.NewNotifyError(cfg.Notify.URL, err)
		}
		nn, err := notify.NewNATSNotifier(nc, cfg.Notify, logger)
		if err != nil {
			nc.Close()
			_ = rt.Close(ctx)
			return nil, err
		}
		rt.closers = append(rt.closers, func(ctx context.Context) error {
			defer nc.Close()
			return nn.Close(ctx)
		})
		notifier = notify.Fanout{notifier, nn}
	}

	engine, err := NewEngine(cfg, Dependencies{
		Store:     rt.Store,
		Catalog:   catalog,
		Directory: directory,
		Notifier:  notifier,
		Metrics:   rt.Metrics,
		Logger:    logger,
		Clock:     opts.Clock,
	})
	if err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	rt.Engine = engine
	logger.Info("scoring engine ready", "store", cfg.Store.Driver, "nats", cfg.Notify.URL != "")
	return rt, nil
}

// Close releases the resources in reverse order of acquisition.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	if len(errs) > 0 {
		return fmt.Errorf("close runtime: %w", errors.Join(errs...))
	}
	return nil
}

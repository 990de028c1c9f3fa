package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/librescoot/metalfsm/internal/api"
	"github.com/librescoot/metalfsm/internal/conductor"
	"github.com/librescoot/metalfsm/internal/config"
	"github.com/librescoot/metalfsm/internal/driver"
	"github.com/librescoot/metalfsm/internal/driver/amt"
	"github.com/librescoot/metalfsm/internal/driver/fake"
	"github.com/librescoot/metalfsm/internal/driver/pxe"
	"github.com/librescoot/metalfsm/internal/fabric"
	"github.com/librescoot/metalfsm/internal/logger"
	"github.com/librescoot/metalfsm/internal/node"
)

// Store kinds
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// ServeOptions are the command line overrides of the serve command.
type ServeOptions struct {
	EnvFiles []string
	Addr     string
	// TFTPServer and BootFile are handed to nodes through DHCP when a
	// fabric is configured.
	TFTPServer string
	BootFile   string
}

// Serve runs the API server until interrupted.
func Serve(ctx context.Context, opts ServeOptions) error {
	if err := config.LoadEnv(opts.EnvFiles...); err != nil {
		return err
	}
	var cfg config.Config
	if err := config.Load(&cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if opts.Addr != "" {
		cfg.HTTPAddr = opts.Addr
	}

	log := logger.New(
		logger.WithLevel(logger.ParseLevel(cfg.LogLevel)),
		logger.WithFormat(logger.ParseFormat(cfg.LogFormat)),
		logger.WithAttr(slog.String("service", "metalfsm"), slog.String("env", cfg.Env)),
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, ready, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	registry := Drivers(cfg, log)
	log.Info("drivers loaded", "drivers", registry.Names())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := conductor.NewMetrics()
	if err := metrics.Register(reg); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	condOpts := []conductor.Option{
		conductor.WithLogger(log.With("component", "conductor")),
		conductor.WithMetrics(metrics),
		conductor.WithCallbackTimeout(cfg.Conductor.DeployCallbackTimeout),
		conductor.WithWorkers(cfg.Conductor.Workers),
	}
	if cfg.Fabric.URL != "" {
		fc, err := fabric.NewClient(cfg.Fabric.URL,
			fabric.WithToken(cfg.Fabric.Token),
			fabric.WithTimeout(cfg.Fabric.Timeout),
			fabric.WithLogger(log.With("component", "fabric")),
		)
		if err != nil {
			return err
		}
		condOpts = append(condOpts, conductor.WithPortUpdater(fc, fabric.PXEOptions(opts.TFTPServer, opts.BootFile)))
	}

	cond, err := conductor.New(store, registry, condOpts...)
	if err != nil {
		return err
	}
	defer cond.Close()
	if err := cond.RecoverTimers(ctx); err != nil {
		return fmt.Errorf("failed to recover callback timers: %w", err)
	}

	apiOpts := []api.Option{api.WithLogger(log.With("component", "api"))}
	if ready != nil {
		apiOpts = append(apiOpts, api.WithReadinessCheck(ready))
	}
	router := api.NewHandler(cond, apiOpts...).Router()
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	return api.NewServer(cfg.HTTPAddr, api.WithServerLogger(log)).Run(ctx, router)
}

func openStore(ctx context.Context, cfg config.Config) (node.Store, func(context.Context) error, func(), error) {
	switch cfg.Store {
	case StoreMemory, "":
		return node.NewMemoryStore(), nil, func() {}, nil
	case StoreRedis:
		client, err := node.Connect(ctx, node.RedisConfig{
			ConnectionURL:  cfg.Redis.ConnectionURL,
			RetryAttempts:  cfg.Redis.RetryAttempts,
			RetryInterval:  cfg.Redis.RetryInterval,
			ConnectTimeout: cfg.Redis.ConnectTimeout,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		s := node.NewRedisStore(client, cfg.Redis.KeyPrefix)
		return s, s.Healthcheck, func() { _ = client.Close() }, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown store %q (want %s or %s)", cfg.Store, StoreMemory, StoreRedis)
}

// Drivers builds the driver registry. The fake driver is always present;
// pxe_amt is added when the amttool binary can be found.
func Drivers(cfg config.Config, log *slog.Logger) *driver.Registry {
	registry := driver.NewRegistry(fake.New().Driver())

	a, err := amt.New(cfg.AMT.ToolPath, amt.WithLogger(log.With("driver", "amt")))
	if err != nil {
		log.Warn("amt driver not loaded", logger.Error(err))
		return registry
	}
	registry.Register(pxe.Driver("pxe_amt", a, a))
	return registry
}

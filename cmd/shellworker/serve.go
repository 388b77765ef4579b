package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hhsbooking/shellworker/internal/api"
	"github.com/hhsbooking/shellworker/internal/cachestore"
	"github.com/hhsbooking/shellworker/internal/clients"
	"github.com/hhsbooking/shellworker/internal/conf"
	"github.com/hhsbooking/shellworker/internal/datastore"
	"github.com/hhsbooking/shellworker/internal/ingest"
	"github.com/hhsbooking/shellworker/internal/intercept"
	"github.com/hhsbooking/shellworker/internal/metrics"
	"github.com/hhsbooking/shellworker/internal/notify"
	"github.com/hhsbooking/shellworker/internal/shell"
	"github.com/hhsbooking/shellworker/internal/worker"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := conf.Load(configPath)
		if err != nil {
			return err
		}
		return serve(cfg)
	},
}

// skipWaiterFunc adapts a closure to the shell manager's SkipWaiter.
type skipWaiterFunc func()

func (f skipWaiterFunc) SkipWaiting() { f() }

func serve(cfg *conf.Config) error {
	log, err := newLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	reportPanic := func(any) {}
	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:     cfg.Sentry.DSN,
			Release: versionString(),
		}); err != nil {
			return fmt.Errorf("init sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
		reportPanic = func(v any) { sentry.CurrentHub().Recover(v) }
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ns, err := store.Open(cfg.CacheName())
	if err != nil {
		return fmt.Errorf("open cache namespace %s: %w", cfg.CacheName(), err)
	}

	interceptor, err := intercept.New(intercept.Options{
		Namespace:    ns,
		Origin:       cfg.Server.Origin,
		FetchTimeout: cfg.Cache.FetchTimeout.Std(),
		Metrics:      m,
		Log:          log.Named("intercept"),
	})
	if err != nil {
		return err
	}

	pushState := notify.NewPushState(log.Named("push"))
	registry := notify.NewRegistry(cfg.Notify.DisplayTTL.Std())

	surface, err := newSurface(cfg, log)
	if err != nil {
		return err
	}

	var opener notify.Opener
	if cfg.Notify.OpenerURL != "" {
		opener = notify.NewWebhookOpener(cfg.Notify.OpenerURL, nil)
	}

	var history notify.HistoryRecorder
	var historyRepo datastore.NotificationRepository
	if cfg.History.Path != "" {
		db, err := datastore.Open(cfg.History.Path)
		if err != nil {
			return err
		}
		historyRepo = datastore.NewNotificationRepository(db)
		history = datastore.NewRecorder(historyRepo)

		cleanup := datastore.NewCleanup(historyRepo, log.Named("history"))
		cleanup.Start(cfg.History.RetentionDays)
		defer cleanup.Stop()
	}

	renderer := notify.NewRenderer(surface, pushState, registry, history, m, log.Named("notify"))

	// The worker, hub and shell manager reference each other; the closures
	// below resolve w lazily, after worker.New has run.
	var w *worker.Worker

	hub := clients.NewHub(clients.Hooks{
		SkipWaiting: func() {
			_ = w.Dispatch(context.Background(), worker.KindMessage,
				clients.Frame{Type: clients.FrameSkipWaiting})
		},
		PushConfig: func(config map[string]any) {
			_ = w.Dispatch(context.Background(), worker.KindMessage,
				clients.Frame{Type: clients.FrameFirebaseConfig, Config: config})
		},
	}, log.Named("clients"))

	router := notify.NewClickRouter(registry, surface, hub, opener,
		cfg.Server.Origin, history, m, log.Named("notify"))

	mgr := shell.NewManager(shell.Options{
		Store:        store,
		Origin:       cfg.Server.Origin,
		Prefix:       cfg.Cache.Prefix,
		Version:      cfg.Cache.Version,
		Manifest:     cfg.Cache.Manifest,
		FetchTimeout: cfg.Cache.FetchTimeout.Std(),
		SkipWaiter:   skipWaiterFunc(func() { w.SkipWaiting() }),
		Claimer:      hub,
		Log:          log.Named("shell"),
	})

	table := map[worker.Kind]worker.Handler{
		worker.KindInstall: func(ctx context.Context, _ *worker.Event) error {
			return mgr.Install(ctx)
		},
		worker.KindActivate: func(ctx context.Context, _ *worker.Event) error {
			return mgr.Activate(ctx)
		},
		worker.KindFetch: api.FetchHandler(interceptor),
		worker.KindPush: func(ctx context.Context, ev *worker.Event) error {
			d, ok := ev.Payload.(worker.Delivery)
			if !ok {
				return fmt.Errorf("bad push payload %T", ev.Payload)
			}
			renderer.HandlePayload(ctx, d.Body)
			return nil
		},
		worker.KindNotificationClick: func(ctx context.Context, ev *worker.Event) error {
			click, ok := ev.Payload.(notify.Click)
			if !ok {
				return fmt.Errorf("bad click payload %T", ev.Payload)
			}
			return router.Route(ctx, click)
		},
		worker.KindMessage: func(_ context.Context, ev *worker.Event) error {
			frame, ok := ev.Payload.(clients.Frame)
			if !ok {
				return fmt.Errorf("bad message payload %T", ev.Payload)
			}
			switch frame.Type {
			case clients.FrameSkipWaiting:
				w.SkipWaiting()
			case clients.FrameFirebaseConfig:
				pushState.Configure(frame.Config)
			}
			return nil
		},
	}
	w = worker.New(table, log.Named("worker"), reportPanic)

	bus := worker.NewPushBus()
	defer bus.Stop()
	bus.Subscribe(func(d worker.Delivery) {
		if err := w.Dispatch(context.Background(), worker.KindPush, d); err != nil {
			log.Warn("push dispatch failed", zap.Error(err))
		}
	})

	var mqttSource *ingest.MQTTSource
	if cfg.Push.MQTT.Enabled {
		mqttSource = ingest.NewMQTTSource(cfg.Push.MQTT.Broker, cfg.Push.MQTT.Topic,
			cfg.Push.MQTT.ClientID, bus, log.Named("mqtt"))
		if err := mqttSource.Start(); err != nil {
			return err
		}
		defer mqttSource.Stop()
	}

	server := api.NewServer(api.Options{
		Worker:      w,
		Interceptor: interceptor,
		Hub:         hub,
		Bus:         bus,
		PushState:   pushState,
		Registry:    registry,
		Shell:       mgr,
		History:     historyRepo,
		Gatherer:    reg,
		Log:         log.Named("api"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Install warms the shell; a partial failure is tolerated, later
	// fetches fill the gaps lazily.
	if err := w.Dispatch(ctx, worker.KindInstall, nil); err != nil {
		log.Warn("shell install incomplete", zap.Error(err))
	}
	if err := w.Dispatch(ctx, worker.KindActivate, nil); err != nil {
		log.Error("activation failed", zap.Error(err))
	}
	log.Info("shellworker up",
		zap.String("listen", cfg.Server.Listen),
		zap.String("origin", cfg.Server.Origin),
		zap.String("cache", cfg.CacheName()),
		zap.String("state", string(w.State())))

	e := server.Echo()
	go func() {
		if err := e.Start(cfg.Server.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func openStore(cfg *conf.Config, log *zap.Logger) (cachestore.Store, error) {
	if cfg.Cache.Path == "" {
		log.Warn("cache.path not set, using in-memory store (cache is lost on restart)")
		return cachestore.NewMemoryStore(), nil
	}
	store, err := cachestore.OpenLevelStore(cfg.Cache.Path)
	if err != nil {
		return nil, fmt.Errorf("open cache store at %s: %w", cfg.Cache.Path, err)
	}
	return store, nil
}

func newSurface(cfg *conf.Config, log *zap.Logger) (notify.Surface, error) {
	switch cfg.Notify.Surface {
	case "shoutrrr":
		return notify.NewShoutrrrSurface(cfg.Notify.ShoutrrrURLs, log.Named("surface"))
	default:
		return notify.NewLogSurface(log.Named("surface")), nil
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log.level %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

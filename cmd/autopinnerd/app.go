package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"autopinner/internal/automation"
	"autopinner/internal/config"
	"autopinner/internal/content"
	"autopinner/internal/core"
	"autopinner/internal/integrations/pinterest"
	"autopinner/internal/integrations/wordpress"
	"autopinner/internal/logging"
	"autopinner/internal/metrics"
	"autopinner/internal/notify"
	"autopinner/internal/store"

	"github.com/spf13/cobra"
)

// app is the wired daemon shared by every subcommand.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	logCloser  io.Closer
	settings   *config.Settings
	store      *store.Store
	metrics    *metrics.Metrics
	dispatcher *notify.Dispatcher
	redis      *notify.RedisSink
	tasks      *automation.Tasks
	generator  *content.Generator
	pinterest  *pinterest.Client
	worker     *core.Worker
}

// loadConfig parses flags and env and opens the logger. logOut overrides stdout.
func loadConfig(cmd *cobra.Command, logOut io.Writer) (*config.Config, *slog.Logger, io.Closer, error) {
	cfg, err := config.Parse(cmd.Flags())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parse config: %w", err)
	}
	logger, closer, err := logging.Open(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
		Output: logOut,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, closer, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger, onCleanup func(float64)) (*store.Store, error) {
	st := store.New(store.Options{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		StateDir:        cfg.StateDir,
		PoolSize:        cfg.Database.PoolSize,
		MaxOverflow:     cfg.Database.MaxOverflow,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		CleanupInterval: cfg.Database.CleanupInterval,
		MemoryThreshold: cfg.Database.MemoryThreshold,
		RunRetention:    cfg.Database.RunRetention,
		OnCleanup:       onCleanup,
	}, logger)
	if err := st.Init(ctx, nil); err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	return st, nil
}

// newApp wires settings, storage, integrations, tasks and the worker.
func newApp(ctx context.Context, cmd *cobra.Command, logOut io.Writer) (*app, error) {
	cfg, logger, logCloser, err := loadConfig(cmd, logOut)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, logCloser: logCloser}

	a.settings = config.LoadSettings(cfg.SettingsPath, logger)
	a.metrics = metrics.New()
	a.store, err = openStore(ctx, cfg, logger, a.metrics.ObserveCleanup)
	if err != nil {
		logCloser.Close()
		return nil, err
	}

	a.dispatcher = notify.NewDispatcher(logger, 0, a.sinks(ctx)...)

	cs := a.settings.ContentGeneration()
	a.generator = content.New(content.Config{
		APIKey:       cs.APIKey,
		APIURL:       cs.APIURL,
		Model:        cs.Model,
		MaxImages:    cs.MaxImages,
		ImageBaseURL: cs.ImageBaseURL,
	}, logger)

	deps := automation.Deps{
		Settings:   a.settings,
		Store:      a.store,
		Generator:  a.generator,
		Publishers: wordpressPublishers(logger),
		Events:     a.dispatcher,
		Counter:    a.metrics,
		Logger:     logger,
	}
	ps := a.settings.Pinterest()
	if ps.AccessToken != "" {
		a.pinterest, err = pinterest.New(pinterest.Config{
			APIURL:            ps.APIURL,
			AccessToken:       ps.AccessToken,
			RequestsPerMinute: ps.RequestsPerMinute,
		}, logger)
		if err != nil {
			logger.Warn("pinterest disabled", "err", err)
		} else {
			deps.Sharer = a.pinterest
		}
	}
	a.tasks = automation.New(deps)

	registry := core.NewRegistry(cfg.TaskConfigPath, logger)
	for _, def := range a.tasks.Definitions() {
		if err := registry.Register(def); err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("register %s: %w", def.Name, err)
		}
	}
	if err := registry.Load(); err != nil {
		logger.Warn("task configs not loaded, using defaults", "path", cfg.TaskConfigPath, "err", err)
	}

	a.worker = core.NewWorker(registry, logger, core.WorkerOptions{
		TickInterval: cfg.Worker.TickInterval,
		RetryDelay:   cfg.Worker.RetryDelay,
		Location:     cfg.Location(),
		Recorder:     a.store,
		Events:       a.dispatcher,
		Closers:      []io.Closer{a.tasks, a.generator},
	})
	if a.pinterest != nil {
		a.worker.AddCloser(a.pinterest)
	}
	return a, nil
}

func (a *app) sinks(ctx context.Context) []notify.Sink {
	sinks := []notify.Sink{notify.NewLogSink(a.logger), a.metrics}

	var alerts []notify.Notifier
	bark := a.cfg.Notification.Bark
	if bark.Enabled && bark.URL != "" {
		notifier, err := notify.NewBarkNotifier(bark.URL)
		if err != nil {
			a.logger.Warn("bark disabled", "err", err)
		} else {
			alerts = append(alerts, notifier)
		}
	}
	sinks = append(sinks, notify.NewAlertSink(notify.Alerts(alerts...)))

	if url := a.cfg.Notification.Redis.URL; url != "" {
		sink, err := notify.NewRedisSink(url, a.cfg.Notification.Redis.Channel)
		if err != nil {
			a.logger.Warn("redis events disabled", "err", err)
			return sinks
		}
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := sink.Ping(pingCtx); err != nil {
			a.logger.Warn("redis not reachable yet", "err", err)
		}
		a.redis = sink
		sinks = append(sinks, sink)
	}
	return sinks
}

func wordpressPublishers(logger *slog.Logger) automation.PublisherFactory {
	return func(site config.WordPressSite) (automation.Publisher, error) {
		client, err := wordpress.New(wordpress.Config{
			URL:      site.URL,
			Username: site.Username,
			Password: site.Password,
			Category: site.Category,
		}, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// close stops the worker and releases everything newApp opened.
func (a *app) close(ctx context.Context) {
	if a.worker != nil {
		if err := a.worker.Stop(ctx); err != nil {
			a.logger.Warn("worker stop timed out", "err", err)
		}
	}
	if err := a.dispatcher.Close(ctx); err != nil {
		a.logger.Warn("event delivery cut short", "err", err)
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis", "err", err)
		}
	}
	errs := []error{a.tasks.Close(), a.generator.Close()}
	if a.pinterest != nil {
		errs = append(errs, a.pinterest.Close())
	}
	errs = append(errs, a.store.Close())
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("release resources", "err", err)
	}
	a.logCloser.Close()
}

package cli

import (
	"context"
	"fmt"
	"time"

	"dripline/automation"
	"dripline/config"
	"dripline/mailer"
	"dripline/store"
	"dripline/worker"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// app wires the service's components from the loaded configuration.
type app struct {
	cfg       config.Config
	log       *logrus.Logger
	store     *store.Store
	service   *automation.Service
	scheduler *automation.Scheduler
	sequences *worker.SequenceWorker
	replies   *worker.ReplyWorker
}

func bootstrap() (*app, error) {
	log := logrus.StandardLogger()
	log.SetFormatter(&logrus.JSONFormatter{})

	if err := config.LoadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg := config.AppConfig
	if !cfg.IsProduction() {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		log.SetLevel(logrus.DebugLevel)
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Environment,
		}); err != nil {
			return nil, fmt.Errorf("failed to initialize sentry: %w", err)
		}
	}

	if err := config.ConnectDB(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	st := store.New(config.DB)

	smtpMailer, err := mailer.NewSMTPMailer(mailer.Config{
		Directory:       st,
		EncryptionKey:   cfg.EncryptionKey,
		MessageIDDomain: cfg.Worker.MessageIDDomain,
		Logger:          log,
	})
	if err != nil {
		return nil, err
	}

	scheduler, err := automation.NewScheduler(automation.SchedulerConfig{
		Store:       st,
		Executor:    automation.NewExecutor(smtpMailer, loc),
		Logger:      log,
		BatchSize:   cfg.Worker.BatchSize,
		Concurrency: cfg.Worker.Concurrency,
	})
	if err != nil {
		return nil, err
	}

	service, err := automation.NewService(automation.ServiceConfig{
		Store:    st,
		Location: loc,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:       cfg,
		log:       log,
		store:     st,
		service:   service,
		scheduler: scheduler,
		sequences: worker.NewSequenceWorker(scheduler, cfg.Worker.Schedule, loc, log),
		replies:   worker.NewReplyWorker(st, service, nil, cfg.EncryptionKey, cfg.Worker.ReplyInterval, log),
	}, nil
}

// runWorkers blocks until ctx is done or the sequence worker fails to start.
func (a *app) runWorkers(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.sequences.Start(ctx)
	})
	g.Go(func() error {
		a.replies.Start(ctx)
		return nil
	})
	return g.Wait()
}

func (a *app) close() {
	sentry.Flush(2 * time.Second)
	if config.DB == nil {
		return
	}
	if sqlDB, err := config.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

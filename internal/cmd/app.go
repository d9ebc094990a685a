package cmd

import (
	"context"
	"errors"

	"github.com/fulmenhq/gofulmen/foundry"
	"go.uber.org/zap"

	"github.com/3leaps/demuxmgr/internal/config"
	"github.com/3leaps/demuxmgr/internal/observability"
	"github.com/3leaps/demuxmgr/pkg/labdb"
	"github.com/3leaps/demuxmgr/pkg/manager"
	"github.com/3leaps/demuxmgr/pkg/notify"
	"github.com/3leaps/demuxmgr/pkg/pipeline"
	"github.com/3leaps/demuxmgr/pkg/registry"
	"github.com/3leaps/demuxmgr/pkg/reportstore"
)

// app is the wired set of collaborators a processing pass needs.
type app struct {
	cfg       *config.Config
	registry  *registry.Store
	labdb     *labdb.DB
	metrics   *observability.Metrics
	processor *pipeline.Processor
}

func openRegistry(ctx context.Context, cfg *config.Config) (*registry.Store, error) {
	store, err := registry.Open(ctx, cfg.RegistryConfig(), observability.CLILogger.Named("registry"))
	if err != nil {
		return nil, exitError(foundry.ExitExternalServiceUnavailable, "Cannot open run registry", err)
	}
	return store, nil
}

func newSender(cfg *config.Config) (notify.Sender, error) {
	logger := observability.CLILogger.Named("notify")
	if cfg.SMTP.Host == "" {
		logger.Warn("No SMTP host configured; notifications are logged, not sent")
		return &notify.LogSender{Logger: logger}, nil
	}
	return notify.NewSMTPSender(cfg.SMTPSenderConfig(), logger)
}

// openApp connects every collaborator. The caller owns close.
func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	var err error
	if a.registry, err = openRegistry(ctx, cfg); err != nil {
		return nil, err
	}
	if a.labdb, err = labdb.Open(ctx, cfg.LabDB.Driver, cfg.LabDB.DSN); err != nil {
		a.close()
		return nil, exitError(foundry.ExitExternalServiceUnavailable, "Cannot connect to lab database", err)
	}
	if a.metrics, err = observability.InitMetrics(); err != nil {
		a.close()
		return nil, exitError(foundry.ExitFailure, "Cannot initialize metrics", err)
	}

	sender, err := newSender(cfg)
	if err != nil {
		a.close()
		return nil, exitError(foundry.ExitConfigInvalid, "Invalid SMTP configuration", err)
	}
	notifier := &notify.Notifier{Sender: sender, Recipients: cfg.NotifyRecipients(), From: cfg.SMTP.From}

	opts := []pipeline.Option{
		pipeline.WithLogger(observability.CLILogger.Named("pipeline")),
		pipeline.WithJobRecorder(a.metrics),
	}
	if cfg.Repository.ReportsRoot != "" {
		store, err := reportstore.Open(ctx, cfg.Repository.ReportsRoot, cfg.ReportStoreOptions())
		if err != nil {
			a.close()
			return nil, exitError(foundry.ExitConfigInvalid, "Cannot open report store", err)
		}
		opts = append(opts, pipeline.WithReportStore(store))
	}
	a.processor = pipeline.New(cfg.PipelineConfig(), a.labdb, notifier, opts...)
	return a, nil
}

func (a *app) manager() *manager.Manager {
	return &manager.Manager{
		Roots:       a.cfg.Roots,
		Store:       a.registry,
		Processor:   a.processor,
		Logger:      observability.CLILogger.Named("manager"),
		Transitions: a.metrics,
		Discoveries: a.metrics,
	}
}

func (a *app) close() {
	var errs []error
	if a.labdb != nil {
		errs = append(errs, a.labdb.Close())
	}
	if a.registry != nil {
		errs = append(errs, a.registry.Close())
	}
	if err := errors.Join(errs...); err != nil {
		observability.CLILogger.Warn("Error closing connections", zap.Error(err))
	}
}

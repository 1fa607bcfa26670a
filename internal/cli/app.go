package cli

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/bardusco/clawtrace/internal/audit"
	"github.com/bardusco/clawtrace/internal/config"
	"github.com/bardusco/clawtrace/internal/correlator"
	"github.com/bardusco/clawtrace/internal/fanout"
	"github.com/bardusco/clawtrace/internal/identity"
	"github.com/bardusco/clawtrace/internal/logging"
	"github.com/bardusco/clawtrace/internal/metrics"
	"github.com/bardusco/clawtrace/internal/pipeline"
	"github.com/bardusco/clawtrace/internal/redact"
)

// app is the wired pipeline shared by serve, ingest, note and mcp.
type app struct {
	cfg         *config.Config
	log         *logrus.Logger
	ledger      *audit.Ledger
	broadcaster *fanout.Broadcaster
	metrics     *metrics.Metrics
	store       *identity.Store
	refresher   *identity.Refresher
	pipeline    *pipeline.Pipeline
}

func newApp(cfg *config.Config, log *logrus.Logger) (*app, error) {
	sanitizer, err := redact.Build(cfg.Redact.MaxStringLength, cfg.Redact.SensitiveKeyPattern, cfg.Redact.ExtraConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to build sanitizer: %w", err)
	}

	store := identity.NewStore(identity.Paths{
		IdentityFile:    cfg.Identity.IdentityFile,
		SessionsFile:    cfg.Identity.SessionsFile,
		SessionMetaFile: cfg.Identity.SessionMetaFile,
		CronJobsFile:    cfg.Identity.CronJobsFile,
	}, cfg.Identity.DisplayName)
	resolver := identity.NewResolver(store, 0, logging.Component(log, "identity"))
	refresher := identity.NewRefresher(store, identity.RefreshOptions{
		Interval:      cfg.Identity.RefreshInterval,
		RetryInterval: cfg.Identity.StartupRetryInterval,
		RetryWindow:   cfg.Identity.StartupRetryWindow,
		Watch:         cfg.Identity.Watch,
	}, logging.Component(log, "identity"))

	corr := correlator.New(correlator.Options{
		Capacity: cfg.Correlator.Capacity,
		Window:   cfg.Correlator.Window,
		MaxKeys:  cfg.Correlator.MaxKeys,
	})

	m := metrics.New()
	m.RegisterPending(func() float64 { return float64(corr.Stats().Pending) })

	ledger := audit.Open(cfg.Ledger.Path)
	bc := fanout.New(0)

	p := pipeline.New(pipeline.Deps{
		Sanitizer:  sanitizer,
		Correlator: corr,
		Resolver:   resolver,
		Ledger:     ledger,
		Publisher:  bc,
		Metrics:    m,
		Logger:     logging.Component(log, "pipeline"),
	}, pipeline.Options{
		AgentID:      cfg.Agent.ID,
		DisplayName:  cfg.Identity.DisplayName,
		NotesEnabled: cfg.Notes.Enabled,
		MatchWindow:  cfg.Correlator.Window,
		DedupWindow:  cfg.Correlator.DedupWindow,
	})

	return &app{
		cfg:         cfg,
		log:         log,
		ledger:      ledger,
		broadcaster: bc,
		metrics:     m,
		store:       store,
		refresher:   refresher,
		pipeline:    p,
	}, nil
}

// start loads the identity maps and schedules their refresh.
func (a *app) start(ctx context.Context) error {
	return a.refresher.Start(ctx)
}

func (a *app) close() {
	if err := a.refresher.Stop(); err != nil {
		a.log.WithError(err).Debug("stop identity refresher")
	}
	if err := a.ledger.Close(); err != nil {
		a.log.WithError(err).Debug("close ledger")
	}
}

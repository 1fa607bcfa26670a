package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
)

// RefreshOptions controls background reloads.
type RefreshOptions struct {
	Interval      time.Duration // periodic reload of every map, default 15s
	RetryInterval time.Duration // fast meta retry while meta is empty, default 1s
	RetryWindow   time.Duration // how long the fast retry runs, default 15s
	Watch         bool          // reload on file change
}

func (o *RefreshOptions) applyDefaults() {
	if o.Interval <= 0 {
		o.Interval = 15 * time.Second
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = time.Second
	}
	if o.RetryWindow <= 0 {
		o.RetryWindow = 15 * time.Second
	}
}

// Refresher owns the scheduled reload jobs and the optional file watcher.
// Everything it starts is cancelled by Stop.
type Refresher struct {
	store *Store
	opts  RefreshOptions
	log   *logrus.Entry

	mu        sync.Mutex
	scheduler gocron.Scheduler
	retryJob  gocron.Job
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewRefresher creates a Refresher for store.
func NewRefresher(store *Store, opts RefreshOptions, log *logrus.Entry) *Refresher {
	opts.applyDefaults()
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Refresher{store: store, opts: opts, log: log}
}

// Start performs an initial load and schedules the periodic jobs. It does not
// block; reload failures are logged and the previous snapshots kept.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.scheduler != nil {
		return errors.New("identity: refresher already started")
	}

	r.reloadAll()

	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return fmt.Errorf("identity: create scheduler: %w", err)
	}

	if _, err := s.NewJob(
		gocron.DurationJob(r.opts.Interval),
		gocron.NewTask(r.reloadAll),
		gocron.WithName("identity-refresh"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("identity: schedule refresh: %w", err)
	}

	if len(r.store.Meta()) == 0 && r.store.Paths().SessionMetaFile != "" {
		runs := uint(r.opts.RetryWindow / r.opts.RetryInterval)
		if runs == 0 {
			runs = 1
		}
		job, err := s.NewJob(
			gocron.DurationJob(r.opts.RetryInterval),
			gocron.NewTask(r.retryMeta),
			gocron.WithName("identity-startup-retry"),
			gocron.WithLimitedRuns(runs),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = s.Shutdown()
			return fmt.Errorf("identity: schedule startup retry: %w", err)
		}
		r.retryJob = job
	}

	s.Start()
	r.scheduler = s

	if r.opts.Watch {
		w, err := NewWatcher(r.store, r.log)
		if err != nil {
			r.log.WithError(err).Warn("identity file watching disabled")
		} else {
			wctx, cancel := context.WithCancel(ctx)
			r.cancel = cancel
			r.done = make(chan struct{})
			go func() {
				defer close(r.done)
				_ = w.Run(wctx)
			}()
		}
	}
	return nil
}

// Stop shuts down the scheduler and the watcher.
func (r *Refresher) Stop() error {
	r.mu.Lock()
	s, cancel, done := r.scheduler, r.cancel, r.done
	r.scheduler, r.retryJob, r.cancel, r.done = nil, nil, nil, nil
	r.mu.Unlock()

	// Shutdown waits for running jobs, which may take r.mu.
	var err error
	if s != nil {
		err = s.Shutdown()
	}
	if cancel != nil {
		cancel()
		<-done
	}
	return err
}

// RetryActive reports whether the startup retry job is still scheduled.
func (r *Refresher) RetryActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retryJob != nil
}

func (r *Refresher) reloadAll() {
	if err := r.store.ReloadAll(); err != nil {
		r.log.WithError(err).Debug("identity refresh incomplete, keeping previous snapshots")
	}
}

func (r *Refresher) retryMeta() {
	if err := r.store.ReloadMeta(); err != nil {
		r.log.WithError(err).Debug("session meta not available yet")
		return
	}
	if len(r.store.Meta()) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scheduler != nil && r.retryJob != nil {
		if err := r.scheduler.RemoveJob(r.retryJob.ID()); err != nil {
			r.log.WithError(err).Debug("remove startup retry job")
		}
		r.retryJob = nil
	}
}

// Package jobs runs periodic maintenance: snapshot flushes and stale match expiry.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/alsseok01/babsang/internal/metrics"
	"github.com/alsseok01/babsang/internal/models"
	"github.com/alsseok01/babsang/internal/notify"
	"github.com/alsseok01/babsang/internal/store"
)

const (
	SnapshotSpec = "@every 1m"
	ExpirySpec   = "@hourly"

	flushTimeout = 30 * time.Second
)

type Notifier interface {
	Notify(n models.Notification) models.Notification
}

type Runner struct {
	store    *store.Store
	persist  store.Persister
	notifier Notifier
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
	cron     *cron.Cron
}

func New(st *store.Store, p store.Persister, n Notifier, log logrus.FieldLogger, m *metrics.Metrics) *Runner {
	// panics and overlapping runs are reported through our logger
	cl := cron.PrintfLogger(log)
	return &Runner{
		store:    st,
		persist:  p,
		notifier: n,
		log:      log,
		metrics:  m,
		cron:     cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
	}
}

// Start schedules the jobs and starts the cron loop.
func (r *Runner) Start() error {
	if _, err := r.cron.AddFunc(SnapshotSpec, func() { _ = r.Snapshot(context.Background()) }); err != nil {
		return err
	}
	if _, err := r.cron.AddFunc(ExpirySpec, func() { r.ExpireMatches() }); err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop waits for running jobs to return.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
}

// Snapshot saves the store when it changed since the last save.
func (r *Runner) Snapshot(ctx context.Context) error {
	if r.persist == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()
	saved, err := r.store.Flush(ctx, r.persist)
	r.metrics.JobRun("snapshot", err == nil)
	if err != nil {
		r.log.WithError(err).Error("snapshot failed")
		return err
	}
	if saved {
		r.log.Debug("snapshot saved")
	}
	return nil
}

// ExpireMatches rejects pending requests for past schedules and tells the requesters.
func (r *Runner) ExpireMatches() int {
	expired := r.store.ExpireStaleMatches()
	r.metrics.JobRun("expire_matches", true)
	if r.notifier != nil {
		for _, m := range expired {
			r.notifier.Notify(notify.MatchRejected(m))
		}
	}
	if len(expired) > 0 {
		r.log.WithField("count", len(expired)).Info("expired stale match requests")
	}
	return len(expired)
}

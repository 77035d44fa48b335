// Package janitor runs scheduled cleanup of expired token state: used or
// expired refresh records in the token store and lapsed entries in the
// revocation registry. Sweeps are idempotent and advisory; request-path
// correctness never depends on them having run.
package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/drivelinehq/driveline/pkg/observability"
	"github.com/drivelinehq/driveline/pkg/revocation"
	"github.com/drivelinehq/driveline/pkg/tokenstore"
)

// Janitor owns the cleanup schedule.
type Janitor struct {
	store    tokenstore.Store
	registry revocation.Registry
	logger   *observability.Logger
	metrics  *observability.Metrics

	schedule  string
	retention time.Duration
	timeout   time.Duration

	cron *cron.Cron
}

// Option configures a Janitor.
type Option func(*Janitor)

func WithMetrics(m *observability.Metrics) Option {
	return func(j *Janitor) { j.metrics = m }
}

// WithSweepTimeout bounds each sweep run.
func WithSweepTimeout(d time.Duration) Option {
	return func(j *Janitor) { j.timeout = d }
}

// New builds a Janitor. schedule is a cron expression; retention is how
// long used refresh records are kept before deletion.
func New(store tokenstore.Store, registry revocation.Registry, logger *observability.Logger, schedule string, retention time.Duration, opts ...Option) *Janitor {
	j := &Janitor{
		store:     store,
		registry:  registry,
		logger:    logger,
		metrics:   observability.NewNopMetrics(),
		schedule:  schedule,
		retention: retention,
		timeout:   time.Minute,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Start validates the schedule and begins running sweeps.
func (j *Janitor) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(j.schedule, j.runOnce); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", j.schedule, err)
	}
	j.cron = c
	c.Start()
	j.logger.WithField("schedule", j.schedule).Info("janitor started")
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (j *Janitor) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
	j.logger.Info("janitor stopped")
}

func (j *Janitor) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	j.Sweep(ctx)
}

// Sweep runs one cleanup pass. Failures of one target do not stop the
// other; each is reported independently.
func (j *Janitor) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-j.retention)
	deleted, err := j.store.DeleteExpiredOrUsed(ctx, cutoff)
	if err != nil {
		j.metrics.SweepFailuresTotal.WithLabelValues("refresh_records").Inc()
		j.logger.WithError(err).Error("refresh-record sweep failed")
	} else if deleted > 0 {
		j.metrics.SweepDeletionsTotal.WithLabelValues("refresh_records").Add(float64(deleted))
		j.logger.WithField("deleted", deleted).Debug("swept refresh records")
	}

	removed, err := j.registry.Sweep(ctx)
	if err != nil {
		j.metrics.SweepFailuresTotal.WithLabelValues("blacklist").Inc()
		j.logger.WithError(err).Error("blacklist sweep failed")
	} else if removed > 0 {
		j.metrics.SweepDeletionsTotal.WithLabelValues("blacklist").Add(float64(removed))
		j.logger.WithField("removed", removed).Debug("swept blacklist entries")
	}
}

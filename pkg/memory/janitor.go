package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Janitor periodically removes stale session-scoped entries.
type Janitor struct {
	purger Purger
	ttl    time.Duration
	logger zerolog.Logger
	cron   *cron.Cron
}

// NewJanitor schedules purges of purger on the cron expression spec
// (standard five fields or descriptors such as "@hourly").
func NewJanitor(purger Purger, spec string, ttl time.Duration, logger zerolog.Logger) (*Janitor, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("janitor ttl must be positive")
	}

	j := &Janitor{
		purger: purger,
		ttl:    ttl,
		logger: logger,
		cron:   cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor))),
	}
	if _, err := j.cron.AddFunc(spec, func() {
		if _, err := j.RunOnce(context.Background()); err != nil {
			j.logger.Error().Err(err).Msg("Memory purge failed")
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule: %w", err)
	}
	return j, nil
}

// Start begins the schedule.
func (j *Janitor) Start() {
	j.cron.Start()
	j.logger.Info().Dur("ttl", j.ttl).Msg("Memory janitor started")
}

// Stop halts the schedule and waits for a running purge.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// RunOnce purges entries older than the ttl.
func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	n, err := j.purger.PurgeShortTerm(ctx, time.Now().Add(-j.ttl))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		j.logger.Debug().Int64("purged", n).Msg("Purged stale session entries")
	}
	return n, nil
}

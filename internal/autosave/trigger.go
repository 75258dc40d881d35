// Package autosave saves the active session on a fixed interval.
package autosave

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ryanmoran/worldsync/internal/log"
)

// DefaultInterval is used when no interval is configured.
const DefaultInterval = 300 * time.Second

// Saver is the operation invoked on every tick. It is expected to be a
// no-op when there is nothing to save.
type Saver interface {
	Autosave(ctx context.Context) error
}

// Trigger calls a Saver every interval. Failures are logged and retried on
// the next tick; a tick that arrives while the previous save is still
// running is skipped.
type Trigger struct {
	saver    Saver
	interval time.Duration
	cron     *cron.Cron

	mu  sync.Mutex
	ctx context.Context
}

// New returns a Trigger for saver. The interval must be at least a second.
func New(saver Saver, interval time.Duration) (*Trigger, error) {
	if interval < time.Second {
		return nil, fmt.Errorf("invalid autosave interval %s: must be at least 1s", interval)
	}

	logger := log.Logger()
	cronLogger := cron.PrintfLogger(&logger)

	t := &Trigger{
		saver:    saver,
		interval: interval,
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		ctx: context.Background(),
	}

	if _, err := t.cron.AddFunc(fmt.Sprintf("@every %s", interval), t.tick); err != nil {
		return nil, fmt.Errorf("failed to schedule autosave: %w", err)
	}

	return t, nil
}

// Interval returns the configured interval.
func (t *Trigger) Interval() time.Duration {
	return t.interval
}

// Start begins ticking in the background. ctx is passed to every save.
func (t *Trigger) Start(ctx context.Context) {
	t.mu.Lock()
	t.ctx = ctx
	t.mu.Unlock()

	log.Info().Dur("interval", t.interval).Msg("autosave scheduled")
	t.cron.Start()
}

// Stop halts the schedule and waits for a running save to finish.
func (t *Trigger) Stop() {
	<-t.cron.Stop().Done()
}

func (t *Trigger) tick() {
	t.mu.Lock()
	ctx := t.ctx
	t.mu.Unlock()

	if ctx.Err() != nil {
		return
	}

	if err := t.saver.Autosave(ctx); err != nil {
		log.Warn().Err(err).Msg("autosave failed, retrying next interval")
		return
	}
	log.Debug().Msg("autosave tick complete")
}

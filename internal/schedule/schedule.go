// Package schedule runs the daily scan sweep. A cron entry enqueues one scan
// task per active linked account; an account whose scan failed is simply
// picked up again at the next tick.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/nestwatch/nestwatch/internal/models"
	"github.com/nestwatch/nestwatch/internal/store"
	"github.com/nestwatch/nestwatch/pkg/audit"
)

// Enqueuer queues one scan per linked account. *scan.Client implements it.
type Enqueuer interface {
	EnqueueScan(ctx context.Context, accountID int64) (string, error)
}

// Scheduler owns the cron entry for the scan sweep.
type Scheduler struct {
	store *store.Store
	scans Enqueuer
	spec  string
	cron  *cron.Cron
}

func New(st *store.Store, scans Enqueuer, spec string) *Scheduler {
	return &Scheduler{
		store: st,
		scans: scans,
		spec:  spec,
		// A tick that outlasts the schedule interval skips the next firing
		// instead of stacking sweeps.
		cron: cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{}))),
	}
}

// Run registers the sweep entry, starts the cron loop, and blocks until ctx
// is cancelled. In-flight ticks drain before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	id, err := s.cron.AddFunc(s.spec, func() {
		if err := s.Tick(ctx); err != nil {
			log.Error().Err(err).Msg("Scan sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("register scan schedule %q: %w", s.spec, err)
	}
	log.Info().Str("schedule", s.spec).Int("entry_id", int(id)).Msg("Scan scheduler started")

	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	log.Info().Msg("Scan scheduler stopped")
	return nil
}

// Tick runs one sweep. One account failing to enqueue does not stop the
// rest; the tick reports the shortfall and the next tick retries.
func (s *Scheduler) Tick(ctx context.Context) error {
	started := time.Now()
	accounts, err := s.store.ListActiveLinkedAccounts(ctx)
	if err != nil {
		return fmt.Errorf("list active accounts: %w", err)
	}

	enqueued := 0
	for _, account := range accounts {
		taskID, err := s.scans.EnqueueScan(ctx, account.ID)
		if err != nil {
			log.Error().Err(err).Int64("account_id", account.ID).Msg("Could not enqueue scheduled scan")
			continue
		}
		log.Debug().Int64("account_id", account.ID).Str("task_id", taskID).Msg("Scheduled scan queued")
		enqueued++
	}

	audit.Record(ctx, audit.Entry{
		Action:       string(models.AuditScanTriggered),
		ResourceType: "scan_sweep",
		Details: map[string]any{
			"accounts_active":   len(accounts),
			"accounts_enqueued": enqueued,
		},
	})
	log.Info().Int("accounts", len(accounts)).Int("enqueued", enqueued).
		Dur("elapsed", time.Since(started)).Msg("Scan sweep completed")

	if enqueued < len(accounts) {
		return fmt.Errorf("scan sweep enqueued %d of %d accounts", enqueued, len(accounts))
	}
	return nil
}

// cronLogger routes the cron library's own logging through zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	log.Debug().Fields(kv).Msg(msg)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	log.Error().Err(err).Fields(kv).Msg(msg)
}

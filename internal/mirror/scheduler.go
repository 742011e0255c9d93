package mirror

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// ReloadFunc is called after a sync changed the local files.
type ReloadFunc func(ctx context.Context) error

type Scheduler struct {
	syncer   *Syncer
	reload   ReloadFunc
	interval time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
}

func NewScheduler(syncer *Syncer, reload ReloadFunc, interval time.Duration, clock clockwork.Clock, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		syncer:   syncer,
		reload:   reload,
		interval: interval,
		clock:    clock,
		logger:   logger,
	}
}

// Run syncs immediately and then every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.syncOnce(ctx)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("mirror scheduler: shutting down")
			return
		case <-ticker.Chan():
			s.syncOnce(ctx)
		}
	}
}

func (s *Scheduler) syncOnce(ctx context.Context) {
	res, err := s.syncer.Sync(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("mirror sync failed", "error", err)
		}
		// Files fetched before the failure are still worth loading.
		if !res.Changed() {
			return
		}
	}
	if !res.Changed() || s.reload == nil {
		return
	}
	if err := s.reload(ctx); err != nil {
		s.logger.Error("dataset reload after sync failed, keeping previous catalog", "error", err)
		return
	}
	s.logger.Info("datasets reloaded", "files", len(res.Downloaded))
}

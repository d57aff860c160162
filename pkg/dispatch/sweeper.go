package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tablescout/tablescout/pkg/config"
	"github.com/tablescout/tablescout/pkg/models"
	"github.com/tablescout/tablescout/pkg/store"
)

// Sweeper periodically scans for PENDING/RUNNING jobs whose heartbeat went
// quiet and terminates them. Every instance runs it independently; the
// terminal write is idempotent so overlapping sweeps are harmless.
type Sweeper struct {
	log      *slog.Logger
	jobs     *store.JobStore
	interval time.Duration
	maxAge   time.Duration
	now      func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu        sync.Mutex
	lastSweep time.Time
	reclaimed int
}

// NewSweeper creates a sweeper from the dispatch and dedup settings.
func NewSweeper(log *slog.Logger, cfg *config.Config, jobs *store.JobStore) *Sweeper {
	return &Sweeper{
		log:      log,
		jobs:     jobs,
		interval: cfg.Dispatch.SweepInterval,
		maxAge:   cfg.Dedup.RunningMaxAge,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the background sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				if err := s.Sweep(ctx); err != nil {
					s.log.Error("stale job sweep failed", "error", err)
				}
			}
		}
	}()
}

// Stop signals the loop to exit and waits for it.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Sweep runs one scan and reclaims every stale job it finds.
func (s *Sweeper) Sweep(ctx context.Context) error {
	cutoff := s.now().UTC().Add(-s.maxAge)
	ids, err := s.jobs.ScanStale(ctx, cutoff)
	if err != nil {
		return err
	}

	reclaimed := 0
	for _, id := range ids {
		// Re-check under the current record: the scan snapshot races with
		// pipelines finishing or heartbeating.
		record, err := s.jobs.GetJob(ctx, id)
		if err != nil {
			continue
		}
		if record.Status != models.StatusPending && record.Status != models.StatusRunning {
			continue
		}
		if !record.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := reclaimStale(ctx, s.jobs, id); err != nil {
			s.log.Error("failed to reclaim stale job", "request_id", id, "error", err)
			continue
		}
		reclaimed++
	}

	s.mu.Lock()
	s.lastSweep = s.now().UTC()
	s.reclaimed += reclaimed
	s.mu.Unlock()

	if reclaimed > 0 {
		s.log.Warn("stale jobs reclaimed", "count", reclaimed)
	}
	return nil
}

// Stats reports the last sweep time and the total reclaimed count.
func (s *Sweeper) Stats() (lastSweep time.Time, reclaimed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSweep, s.reclaimed
}

// Package gc schedules garbage collection of expired attachment drafts.
package gc

import (
	"context"
	"sync"
	"time"

	"github.com/debemdeboas/forum-attachments/internal/attachment"
	"github.com/debemdeboas/forum-attachments/internal/metrics"
	"github.com/debemdeboas/forum-attachments/internal/repository/draft"
	"github.com/rs/zerolog"
)

var gcLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	gcLogger = l
}

// Purger collects one batch of expired drafts.
type Purger interface {
	PurgeExpired(ctx context.Context, limit int, after draft.Cursor) (attachment.SweepStats, error)
}

// Sweeper runs Purger on a fixed interval in a single goroutine it owns.
type Sweeper struct {
	purger   Purger
	interval time.Duration
	batch    int

	// Serializes sweeps and guards cursor.
	sweepMu sync.Mutex
	cursor  draft.Cursor

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSweeper(purger Purger, interval time.Duration, batch int) *Sweeper {
	if batch <= 0 {
		batch = 100
	}
	return &Sweeper{
		purger:   purger,
		interval: interval,
		batch:    batch,
	}
}

// Start launches the sweep loop. Calling Start on a running sweeper does
// nothing.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)

	gcLogger.Info().Dur("interval", s.interval).Int("batch", s.batch).Msg("Draft sweeper started")
}

// Stop cancels the loop and waits for an in-flight sweep. Safe to call more
// than once.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	gcLogger.Info().Msg("Draft sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				gcLogger.Error().Err(err).Msg("Draft sweep failed")
			}
		}
	}
}

// RunOnce sweeps one batch, continuing where the previous batch stopped and
// wrapping around once the scan reaches the newest expired draft.
func (s *Sweeper) RunOnce(ctx context.Context) (attachment.SweepStats, error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	start := time.Now()
	stats, err := s.purger.PurgeExpired(ctx, s.batch, s.cursor)
	if err != nil {
		return stats, err
	}
	s.cursor = stats.Next

	metrics.RecordSweep(time.Since(start), stats.Purged, stats.SkippedReferenced, stats.Failed)
	event := gcLogger.Debug()
	if stats.Purged > 0 || stats.Failed > 0 {
		event = gcLogger.Info()
	}
	event.
		Int("scanned", stats.Scanned).
		Int("purged", stats.Purged).
		Int("skipped_referenced", stats.SkippedReferenced).
		Int("failed", stats.Failed).
		Dur("duration", time.Since(start)).
		Msg("Draft sweep finished")
	return stats, nil
}

// RunAll sweeps batches until the scan wraps around.
func (s *Sweeper) RunAll(ctx context.Context) (attachment.SweepStats, error) {
	var total attachment.SweepStats
	for {
		stats, err := s.RunOnce(ctx)
		total.Scanned += stats.Scanned
		total.Purged += stats.Purged
		total.SkippedReferenced += stats.SkippedReferenced
		total.Failed += stats.Failed
		if err != nil || stats.Next.IsZero() {
			return total, err
		}
	}
}

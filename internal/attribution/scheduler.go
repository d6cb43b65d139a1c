package attribution

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	defaultBatchSize      = 1000
	maxConsecutiveBatches = 100
)

// CandidateQueue hands out pending candidates in batches.
type CandidateQueue interface {
	// Next returns up to limit pending candidates; none pending is an empty slice.
	Next(ctx context.Context, limit int) ([]Candidate, error)

	// Ack records the results of the batch last returned by Next.
	Ack(ctx context.Context, results []Result) error
}

// Scheduler drains a CandidateQueue through an Evaluator on a periodic interval.
type Scheduler struct {
	interval  time.Duration
	batchSize int
	queue     CandidateQueue
	evaluator *Evaluator
	flags     Flags
}

// NewScheduler creates a scheduler. flags is the snapshot every batch runs under.
func NewScheduler(interval time.Duration, batchSize int, queue CandidateQueue, evaluator *Evaluator, flags Flags) *Scheduler {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Scheduler{
		interval:  interval,
		batchSize: batchSize,
		queue:     queue,
		evaluator: evaluator,
		flags:     flags,
	}
}

// Start drains on every tick until ctx is cancelled, then runs a final drain.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("[Scheduler] Starting attribution scheduler",
		"interval", s.interval,
		"batch_size", s.batchSize,
	)

	s.drainBacklog(ctx)

	for {
		select {
		case <-ticker.C:
			s.drainBacklog(ctx)
		case <-ctx.Done():
			slog.Info("[Scheduler] Stopping (context cancelled)")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			slog.Info("[Scheduler] Running final drain before shutdown...")
			s.drainBacklog(shutdownCtx)
			slog.Info("[Scheduler] Final drain complete")
			return nil
		}
	}
}

// Drain evaluates batches until the queue is empty or the batch limit is hit and
// returns how many candidates were evaluated.
func (s *Scheduler) Drain(ctx context.Context) (int, error) {
	total := 0
	for batch := 0; batch < maxConsecutiveBatches; batch++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, err := s.runBatch(ctx)
		total += n
		if err != nil {
			return total, fmt.Errorf("batch %d: %w", batch+1, err)
		}
		if n < s.batchSize {
			return total, nil
		}

		slog.Info("[Scheduler] Backlog detected, continuing to drain", "batches_so_far", batch+1)
	}

	slog.Warn("[Scheduler] Max consecutive batches reached, pausing drain",
		"max_batches", maxConsecutiveBatches,
		"note", "Will resume on next tick",
	)
	return total, nil
}

func (s *Scheduler) drainBacklog(ctx context.Context) {
	n, err := s.Drain(ctx)
	if err != nil {
		slog.Error("[Scheduler] Attribution drain failed", "error", err, "evaluated", n)
		return
	}
	if n > 0 {
		slog.Info("[Scheduler] Backlog drained", "evaluated", n)
	}
}

func (s *Scheduler) runBatch(ctx context.Context) (int, error) {
	candidates, err := s.queue.Next(ctx, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch candidates: %w", err)
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	results, err := s.evaluator.Evaluate(ctx, s.flags, candidates)
	if err != nil {
		return 0, err
	}
	if err := s.queue.Ack(ctx, results); err != nil {
		return 0, fmt.Errorf("ack results: %w", err)
	}
	return len(candidates), nil
}

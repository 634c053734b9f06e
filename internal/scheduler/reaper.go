package scheduler

import (
	"context"
	"log"
	"time"
)

const (
	// DefaultReapInterval is how often we scan for stuck tasks.
	DefaultReapInterval = 2 * time.Minute

	// DefaultLease is how long a task may stay processing before we
	// consider its worker dead.
	DefaultLease = 15 * time.Minute

	reapBatch = 100
)

// Reaper reclaims tasks whose processor died mid-attempt. Each reclaimed
// task is charged one failed attempt and follows the normal retry rule, so
// a task that keeps crashing its worker still ends up failed.
type Reaper struct {
	queue    *Queue
	interval time.Duration
	lease    time.Duration
}

// NewReaper creates a reaper. Non-positive durations take the defaults.
func NewReaper(q *Queue, interval, lease time.Duration) *Reaper {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	if lease <= 0 {
		lease = DefaultLease
	}
	return &Reaper{queue: q, interval: interval, lease: lease}
}

// Start runs the reap loop. It blocks until ctx is cancelled.
func (r *Reaper) Start(ctx context.Context) {
	log.Printf("[TaskReaper] Starting (interval=%s, lease=%s)", r.interval, r.lease)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[TaskReaper] Stopping")
			return
		case <-ticker.C:
			if n, err := r.Reap(ctx); err != nil {
				log.Printf("[TaskReaper] reap error: %v", err)
			} else if n > 0 {
				log.Printf("[TaskReaper] reclaimed %d stuck tasks", n)
			}
		}
	}
}

// Reap charges every expired claim with a failed attempt and returns how
// many tasks were reclaimed.
func (r *Reaper) Reap(ctx context.Context) (int, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cutoff := r.queue.now().Add(-r.lease)
	stale, err := r.queue.repo.ListStale(queryCtx, cutoff, reapBatch)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range stale {
		t := &stale[i]
		if _, err := r.queue.fail(queryCtx, t, ErrLeaseExpired, t.ClaimedBy, cutoff); err != nil {
			// The worker finished or renewed its claim after ListStale.
			log.Printf("[TaskReaper] task %s not reclaimed: %v", t.ID, err)
			continue
		}
		n++
	}
	return n, nil
}

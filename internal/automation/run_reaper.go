package automation

import (
	"context"
	"log"
	"time"
)

const (
	// DefaultStaleRunAge is how long a run may stay processing before we
	// treat its process as dead.
	DefaultStaleRunAge = time.Hour

	// RunAbandonedError is written to execution_log.error of a reaped run.
	RunAbandonedError = "run abandoned"
)

// StaleRunFailer fails every run still processing that started before the
// cutoff and returns how many it failed.
type StaleRunFailer interface {
	FailStaleRuns(ctx context.Context, startedBefore time.Time, reason string) (int64, error)
}

// RunReaper fails runs whose FinishRun never landed, either because the
// process died mid-run or because the final write kept failing. The task
// that drove such a run is retried and creates a new run of its own.
type RunReaper struct {
	runs     StaleRunFailer
	interval time.Duration
	maxAge   time.Duration
	now      func() time.Time
}

// NewRunReaper creates a reaper. Non-positive durations take the defaults.
func NewRunReaper(runs StaleRunFailer, interval, maxAge time.Duration) *RunReaper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if maxAge <= 0 {
		maxAge = DefaultStaleRunAge
	}
	return &RunReaper{runs: runs, interval: interval, maxAge: maxAge, now: time.Now}
}

// Start runs the reap loop. It blocks until ctx is cancelled.
func (r *RunReaper) Start(ctx context.Context) {
	log.Printf("[RunReaper] Starting (interval=%s, max_age=%s)", r.interval, r.maxAge)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[RunReaper] Stopping")
			return
		case <-ticker.C:
			if n, err := r.Reap(ctx); err != nil {
				log.Printf("[RunReaper] reap error: %v", err)
			} else if n > 0 {
				log.Printf("[RunReaper] failed %d abandoned runs", n)
			}
		}
	}
}

// Reap fails every run processing for longer than the max age.
func (r *RunReaper) Reap(ctx context.Context) (int64, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return r.runs.FailStaleRuns(queryCtx, r.now().Add(-r.maxAge), RunAbandonedError)
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

const (
	retentionBatchSize    = 10000
	retentionQueryTimeout = 60 * time.Second
)

// RetentionPolicy says how long terminal rows are kept. A zero duration
// keeps the rows forever.
type RetentionPolicy struct {
	CompletedTasks time.Duration
	LedgerEntries  time.Duration
}

// Retention purges completed scheduled tasks and old ledger entries in
// bounded batches. Failed tasks are never purged.
type Retention struct {
	db       *sql.DB
	policy   RetentionPolicy
	interval time.Duration
	pause    time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRetention creates a retention worker.
func NewRetention(db *sql.DB, policy RetentionPolicy, interval time.Duration) *Retention {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &Retention{db: db, policy: policy, interval: interval, pause: 100 * time.Millisecond}
}

// Start runs a purge immediately and then on every tick.
func (r *Retention) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.running = true

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		log.Printf("[Retention] Started (interval: %v)", r.interval)
		r.runOnce(ctx)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Println("[Retention] Stopped")
				return
			case <-ticker.C:
				r.runOnce(ctx)
			}
		}
	}()
}

// Stop halts the worker and waits for an in-flight purge.
func (r *Retention) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Retention) runOnce(ctx context.Context) {
	counts, err := r.Purge(ctx, time.Now().UTC())
	if err != nil {
		log.Printf("[Retention] Purge error: %v", err)
	}
	for table, n := range counts {
		if n > 0 {
			log.Printf("[Retention] Deleted %d rows from %s", n, table)
		}
	}
}

// Purge deletes every row past its retention at now and returns the number
// of rows removed per table. A missing table is skipped.
func (r *Retention) Purge(ctx context.Context, now time.Time) (map[string]int64, error) {
	counts := make(map[string]int64)
	if r.policy.CompletedTasks > 0 {
		n, err := r.batchDelete(ctx, "scheduled_tasks", `
			DELETE FROM scheduled_tasks WHERE id IN (
				SELECT id FROM scheduled_tasks
				WHERE status = 'completed' AND completed_at < $1
				LIMIT $2
			)`, now.Add(-r.policy.CompletedTasks))
		counts["scheduled_tasks"] = n
		if err != nil {
			return counts, err
		}
	}
	if r.policy.LedgerEntries > 0 {
		n, err := r.batchDelete(ctx, "ledger_entries", `
			DELETE FROM ledger_entries WHERE id IN (
				SELECT id FROM ledger_entries
				WHERE recorded_at < $1
				LIMIT $2
			)`, now.Add(-r.policy.LedgerEntries))
		counts["ledger_entries"] = n
		if err != nil {
			return counts, err
		}
	}
	return counts, nil
}

func (r *Retention) batchDelete(ctx context.Context, table, query string, cutoff time.Time) (int64, error) {
	var total int64
	for {
		if ctx.Err() != nil {
			return total, nil
		}
		queryCtx, cancel := context.WithTimeout(ctx, retentionQueryTimeout)
		res, err := r.db.ExecContext(queryCtx, query, cutoff, retentionBatchSize)
		cancel()
		if err != nil {
			if isUndefinedTable(err) {
				return total, nil
			}
			return total, fmt.Errorf("purge %s: %w", table, err)
		}
		affected, _ := res.RowsAffected()
		total += affected
		if affected < retentionBatchSize {
			return total, nil
		}
		if r.pause > 0 {
			time.Sleep(r.pause)
		}
	}
}

func isUndefinedTable(err error) bool {
	return strings.Contains(err.Error(), "does not exist")
}

package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultProcessInterval is how often the processor polls for due tasks.
const DefaultProcessInterval = time.Minute

// maxDrainRounds bounds back-to-back batches within one tick when every
// batch comes back full.
const maxDrainRounds = 10

// Processor is the periodic trigger that calls ProcessDue on a fixed
// cadence.
type Processor struct {
	queue      *Queue
	interval   time.Duration
	batchLimit int

	// Stats
	batches   int64
	processed int64
	errors    int64

	// Control
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
	lastRunAt time.Time
	mu        sync.RWMutex
}

// NewProcessor creates a processor. Non-positive values take the defaults.
func NewProcessor(q *Queue, interval time.Duration, batchLimit int) *Processor {
	if interval <= 0 {
		interval = DefaultProcessInterval
	}
	if batchLimit <= 0 {
		batchLimit = DefaultBatchLimit
	}
	return &Processor{queue: q, interval: interval, batchLimit: batchLimit}
}

// Start begins the polling loop.
func (p *Processor) Start() error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("task processor already running")
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.mu.Unlock()

	log.Printf("[TaskProcessor] Starting worker=%s interval=%v batch=%d", p.queue.WorkerID(), p.interval, p.batchLimit)

	p.wg.Add(1)
	go p.loop()
	return nil
}

// Stop cancels the loop and waits for the in-flight batch to finish.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	log.Printf("[TaskProcessor] Stopped (batches=%d processed=%d errors=%d)",
		atomic.LoadInt64(&p.batches), atomic.LoadInt64(&p.processed), atomic.LoadInt64(&p.errors))
}

// IsRunning reports whether the loop is active.
func (p *Processor) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// LastRunAt returns when the last tick finished.
func (p *Processor) LastRunAt() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastRunAt
}

// IsHealthy reports whether the loop is running and ticked recently.
func (p *Processor) IsHealthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running && (p.lastRunAt.IsZero() || time.Since(p.lastRunAt) < 3*p.interval)
}

// Stats returns counters since start.
func (p *Processor) Stats() map[string]int64 {
	return map[string]int64{
		"batches":   atomic.LoadInt64(&p.batches),
		"processed": atomic.LoadInt64(&p.processed),
		"errors":    atomic.LoadInt64(&p.errors),
	}
}

func (p *Processor) loop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.tick()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *Processor) tick() {
	for round := 0; round < maxDrainRounds; round++ {
		res, err := p.queue.ProcessDueBatch(p.ctx, p.batchLimit)
		atomic.AddInt64(&p.batches, 1)
		if err != nil {
			atomic.AddInt64(&p.errors, 1)
			if p.ctx.Err() == nil {
				log.Printf("[TaskProcessor] batch error: %v", err)
			}
			break
		}
		atomic.AddInt64(&p.processed, int64(res.Claimed-res.Released))
		if res.Claimed < p.batchLimit {
			break
		}
	}
	p.mu.Lock()
	p.lastRunAt = time.Now()
	p.mu.Unlock()
}

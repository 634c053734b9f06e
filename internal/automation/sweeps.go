package automation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/leadflow/internal/scheduler"
)

// SweepScheduler enqueues one recompute_segments task per organization per
// interval slot. The slot-based dedupe key lets every worker run it.
type SweepScheduler struct {
	tasks    TaskEnqueuer
	orgs     []uuid.UUID
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewSweepScheduler creates a scheduler for the given organizations.
func NewSweepScheduler(tasks TaskEnqueuer, orgs []uuid.UUID, interval time.Duration) *SweepScheduler {
	return &SweepScheduler{tasks: tasks, orgs: orgs, interval: interval, now: time.Now}
}

// ParseOrganizations parses configured organization ids.
func ParseOrganizations(raw []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid organization id %q: %w", s, err)
		}
		out = append(out, id)
	}
	return out, nil
}

// Enqueue schedules the sweep for the slot containing now. It returns how
// many tasks were new.
func (s *SweepScheduler) Enqueue(ctx context.Context, now time.Time) (int, error) {
	slot := now.Truncate(s.interval)
	n := 0
	for _, org := range s.orgs {
		task := scheduler.NewTask(org, TaskRecomputeSegments, map[string]any{"organization_id": org.String()})
		task.ScheduledFor = now
		task.MaxRetries = 1
		task.DedupeKey = fmt.Sprintf("segments:%s:%d", org, slot.Unix())
		if _, err := s.tasks.Enqueue(ctx, task); err != nil {
			if errors.Is(err, scheduler.ErrDuplicateTask) {
				continue
			}
			return n, fmt.Errorf("enqueue sweep for %s: %w", org, err)
		}
		n++
	}
	return n, nil
}

// Start enqueues immediately, then once per interval.
func (s *SweepScheduler) Start() error {
	if s.interval <= 0 || len(s.orgs) == 0 {
		return fmt.Errorf("segment sweeps need an interval and at least one organization")
	}
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("sweep scheduler already running")
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	log.Printf("[SegmentSweep] Starting (interval=%s, orgs=%d)", s.interval, len(s.orgs))
	s.wg.Add(1)
	go s.loop()
	return nil
}

// Stop cancels the loop and waits for it to exit.
func (s *SweepScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
	log.Println("[SegmentSweep] Stopped")
}

func (s *SweepScheduler) loop() {
	defer s.wg.Done()
	s.tick()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *SweepScheduler) tick() {
	n, err := s.Enqueue(s.ctx, s.now())
	if err != nil {
		log.Printf("[SegmentSweep] enqueue error: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[SegmentSweep] scheduled %d organization sweeps", n)
	}
}

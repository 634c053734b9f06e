package automation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ignite/leadflow/internal/domain"
	"github.com/ignite/leadflow/internal/pkg/distlock"
	"github.com/ignite/leadflow/internal/scheduler"
	"github.com/robfig/cron/v3"
)

const (
	// DefaultPlanInterval is how often the planner looks for due schedules.
	DefaultPlanInterval = time.Minute

	// maxOccurrencesPerPlan caps catch-up after a long outage.
	maxOccurrencesPerPlan = 60

	plannerLockKey = "automation:planner"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a five-field cron expression (or @hourly style
// descriptor) evaluated in the given IANA timezone. An empty timezone is UTC.
func ParseSchedule(expr, timezone string) (cron.Schedule, *time.Location, error) {
	loc := time.UTC
	if timezone != "" {
		var err error
		if loc, err = time.LoadLocation(timezone); err != nil {
			return nil, nil, fmt.Errorf("invalid timezone %q: %w", timezone, err)
		}
	}
	if expr == "" {
		return nil, nil, errors.New("cron expression is required")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return sched, loc, nil
}

// PlanResult summarizes one planning pass.
type PlanResult struct {
	Automations int  `json:"automations"`
	Enqueued    int  `json:"enqueued"`
	Duplicates  int  `json:"duplicates"`
	Invalid     int  `json:"invalid"`
	Skipped     bool `json:"skipped,omitempty"`
}

// Planner enqueues run_automation tasks for time_based automations. Each
// schedule occurrence becomes one task whose dedupe key makes concurrent
// planners harmless.
type Planner struct {
	automations AutomationRepository
	tasks       TaskEnqueuer
	locks       distlock.Provider
	interval    time.Duration
	now         func() time.Time

	mu   sync.Mutex
	last time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
	lastRunAt time.Time
}

// NewPlanner creates a planner. locks may be nil.
func NewPlanner(automations AutomationRepository, tasks TaskEnqueuer, locks distlock.Provider, interval time.Duration) *Planner {
	if interval <= 0 {
		interval = DefaultPlanInterval
	}
	return &Planner{automations: automations, tasks: tasks, locks: locks, interval: interval, now: time.Now}
}

// Plan enqueues every occurrence in (previous plan, now]. The first pass
// looks back one interval.
func (p *Planner) Plan(ctx context.Context, now time.Time) (*PlanResult, error) {
	if p.locks != nil {
		lock := p.locks.Lock(plannerLockKey, p.interval)
		ok, err := lock.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire planner lock: %w", err)
		}
		if !ok {
			return &PlanResult{Skipped: true}, nil
		}
		defer lock.Release(context.WithoutCancel(ctx))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	from := p.last
	if from.IsZero() || !from.Before(now) {
		from = now.Add(-p.interval)
	}

	autos, err := p.automations.ListTimeBased(ctx)
	if err != nil {
		return nil, fmt.Errorf("list time-based automations: %w", err)
	}
	res := &PlanResult{}
	for i := range autos {
		a := &autos[i]
		if !a.Active || a.TriggerType != domain.TriggerTimeBased {
			continue
		}
		res.Automations++
		if err := p.planOne(ctx, a, from, now, res); err != nil {
			return res, err
		}
	}
	p.last = now
	return res, nil
}

func (p *Planner) planOne(ctx context.Context, a *domain.Automation, from, now time.Time, res *PlanResult) error {
	cfg, err := DecodeTriggerConfig(a.TriggerConfig)
	if err == nil {
		var sched cron.Schedule
		var loc *time.Location
		if sched, loc, err = ParseSchedule(cfg.Cron, cfg.Timezone); err == nil {
			return p.enqueueOccurrences(ctx, a, cfg, sched, from.In(loc), now, res)
		}
	}
	res.Invalid++
	log.Printf("[Planner] automation %s has an invalid schedule: %v", a.ID, err)
	return nil
}

func (p *Planner) enqueueOccurrences(ctx context.Context, a *domain.Automation, cfg TriggerConfig, sched cron.Schedule, from, now time.Time, res *PlanResult) error {
	n := 0
	for at := sched.Next(from); !at.After(now) && n < maxOccurrencesPerPlan; at = sched.Next(at) {
		n++
		data := NewRunTaskData(a.ID, nil, map[string]any{"scheduled_at": at.UTC().Format(time.RFC3339)})
		task := scheduler.NewTask(a.OrganizationID, TaskRunAutomation, data)
		task.ScheduledFor = at.UTC()
		task.Priority = cfg.Priority
		task.DedupeKey = fmt.Sprintf("automation:%s:%d", a.ID, at.Unix())

		if _, err := p.tasks.Enqueue(ctx, task); err != nil {
			if errors.Is(err, scheduler.ErrDuplicateTask) {
				res.Duplicates++
				continue
			}
			return fmt.Errorf("enqueue automation %s: %w", a.ID, err)
		}
		res.Enqueued++
	}
	return nil
}

// Start begins the planning loop.
func (p *Planner) Start() error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("planner already running")
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.mu.Unlock()

	log.Printf("[Planner] Starting (interval=%s)", p.interval)
	p.wg.Add(1)
	go p.loop()
	return nil
}

// Stop cancels the loop and waits for it to exit.
func (p *Planner) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()
	p.wg.Wait()
	log.Println("[Planner] Stopped")
}

// LastRunAt returns when the last pass finished.
func (p *Planner) LastRunAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRunAt
}

func (p *Planner) loop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			res, err := p.Plan(p.ctx, p.now())
			if err != nil {
				log.Printf("[Planner] plan error: %v", err)
			} else if res.Enqueued > 0 {
				log.Printf("[Planner] enqueued %d runs for %d automations", res.Enqueued, res.Automations)
			}
			p.mu.Lock()
			p.lastRunAt = time.Now()
			p.mu.Unlock()
		}
	}
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/leadflow/internal/domain"
	"github.com/ignite/leadflow/internal/ledger"
	"github.com/ignite/leadflow/internal/pkg/logger"
)

// DefaultBatchLimit caps a ProcessDue call when the caller passes no limit.
const DefaultBatchLimit = 100

// Handler performs one task. Returning an error counts as a failed attempt;
// wrap it with Permanent to skip the remaining retries.
type Handler func(ctx context.Context, task *domain.ScheduledTask) error

// BatchResult summarizes one ProcessDue pass.
type BatchResult struct {
	Claimed   int `json:"claimed"`
	Completed int `json:"completed"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
	Released  int `json:"released"`
}

// Queue enqueues tasks and drives claimed tasks through their handlers.
type Queue struct {
	repo     Repository
	backoff  Backoff
	ledger   ledger.Recorder
	workerID string
	now      func() time.Time

	lease     time.Duration
	heartbeat time.Duration

	mu       sync.RWMutex
	handlers map[string]Handler
}

// Option configures a Queue.
type Option func(*Queue)

// WithBackoff sets the retry delay policy.
func WithBackoff(b Backoff) Option { return func(q *Queue) { q.backoff = b } }

// WithLedger records every attempt outcome.
func WithLedger(r ledger.Recorder) Option { return func(q *Queue) { q.ledger = r } }

// WithWorkerID sets the identity written into claims.
func WithWorkerID(id string) Option { return func(q *Queue) { q.workerID = id } }

// WithLease sets how long a claim stays valid without renewal. It should
// match the reaper's lease.
func WithLease(d time.Duration) Option { return func(q *Queue) { q.lease = d } }

// WithHeartbeat sets how often a running task renews its claim. The
// default is a third of the lease.
func WithHeartbeat(d time.Duration) Option { return func(q *Queue) { q.heartbeat = d } }

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(q *Queue) { q.now = now } }

// NewQueue creates a queue backed by repo.
func NewQueue(repo Repository, opts ...Option) *Queue {
	host, _ := os.Hostname()
	q := &Queue{
		repo:     repo,
		backoff:  FixedBackoff(DefaultRetryBackoff),
		ledger:   ledger.Nop{},
		workerID: fmt.Sprintf("tasks-%s-%s", host, uuid.NewString()[:8]),
		now:      time.Now,
		handlers: make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.lease <= 0 {
		q.lease = DefaultLease
	}
	if q.heartbeat <= 0 || q.heartbeat >= q.lease {
		q.heartbeat = q.lease / 3
	}
	return q
}

// WorkerID returns the identity this queue claims tasks under.
func (q *Queue) WorkerID() string { return q.workerID }

// Register binds a handler to a task type, replacing any previous one.
func (q *Queue) Register(taskType string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[taskType] = h
}

func (q *Queue) handler(taskType string) Handler {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.handlers[taskType]
}

// NewTask builds a pending task with the default retry budget, due now.
func NewTask(orgID uuid.UUID, taskType string, data map[string]any) *domain.ScheduledTask {
	return &domain.ScheduledTask{
		OrganizationID: orgID,
		TaskType:       taskType,
		TaskData:       data,
		MaxRetries:     domain.DefaultMaxRetries,
	}
}

// Enqueue validates and stores a task in pending status. A zero
// ScheduledFor means now.
func (q *Queue) Enqueue(ctx context.Context, t *domain.ScheduledTask) (uuid.UUID, error) {
	if t.TaskType == "" {
		return uuid.Nil, fmt.Errorf("task_type is required")
	}
	if t.MaxRetries < 0 {
		return uuid.Nil, fmt.Errorf("max_retries must not be negative")
	}
	now := q.now()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.ScheduledFor.IsZero() {
		t.ScheduledFor = now
	}
	if t.TaskData == nil {
		t.TaskData = map[string]any{}
	}
	t.Status = domain.TaskPending
	t.RetryCount = 0
	t.Attempts = 0
	t.CreatedAt, t.UpdatedAt = now, now

	id, err := q.repo.Insert(ctx, t)
	if err != nil {
		if errors.Is(err, ErrDuplicateTask) {
			return uuid.Nil, err
		}
		return uuid.Nil, fmt.Errorf("enqueue %s task: %w", t.TaskType, err)
	}
	return id, nil
}

// Get returns a task by id.
func (q *Queue) Get(ctx context.Context, id uuid.UUID) (*domain.ScheduledTask, error) {
	return q.repo.Get(ctx, id)
}

// List returns tasks matching the filter.
func (q *Queue) List(ctx context.Context, f ListFilter) ([]domain.ScheduledTask, error) {
	return q.repo.List(ctx, f)
}

// ProcessDue claims and runs up to limit due tasks and returns how many
// were claimed and driven to their next state.
func (q *Queue) ProcessDue(ctx context.Context, limit int) (int, error) {
	res, err := q.ProcessDueBatch(ctx, limit)
	if res == nil {
		return 0, err
	}
	return res.Claimed - res.Released, err
}

// ProcessDueBatch is ProcessDue with per-outcome counts. Tasks run one at a
// time. If ctx is cancelled mid-batch the unstarted claims are released.
func (q *Queue) ProcessDueBatch(ctx context.Context, limit int) (*BatchResult, error) {
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	claimed, err := q.repo.ClaimDue(ctx, q.now(), limit, q.workerID)
	if err != nil {
		return nil, fmt.Errorf("claim due tasks: %w", err)
	}
	res := &BatchResult{Claimed: len(claimed)}

	for i := range claimed {
		if ctx.Err() != nil {
			q.release(claimed[i:], res)
			return res, ctx.Err()
		}
		q.process(ctx, &claimed[i], res)
	}
	if res.Claimed > 0 {
		logger.Info("task batch processed", "component", "scheduler", "worker_id", q.workerID,
			"claimed", res.Claimed, "completed", res.Completed, "retried", res.Retried, "failed", res.Failed)
	}
	return res, nil
}

func (q *Queue) release(tasks []domain.ScheduledTask, res *BatchResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, t := range tasks {
		if err := q.repo.Release(ctx, t.ID, q.workerID); err != nil {
			logger.Error("task release failed", "component", "scheduler", "task_id", t.ID.String(), "error", err)
			continue
		}
		res.Released++
	}
}

func (q *Queue) process(ctx context.Context, t *domain.ScheduledTask, res *BatchResult) {
	var err error
	if h := q.handler(t.TaskType); h == nil {
		err = Permanent(fmt.Errorf("%w: %q", ErrUnknownTaskType, t.TaskType))
	} else {
		hctx, stop := q.keepAlive(ctx, t)
		err = invoke(hctx, h, t)
		switch lost := stop(); {
		case errors.Is(lost, ErrClaimLost):
			// Another worker owns the task now; its outcome is theirs to write.
			logger.Warn("task claim lost while running", "component", "scheduler",
				"task_id", t.ID.String(), "task_type", t.TaskType, "handler_error", err)
			return
		case lost != nil && err != nil:
			err = fmt.Errorf("%w: %v", lost, err)
		}
	}

	if err == nil {
		at := q.now()
		if cerr := q.repo.Complete(ctx, t.ID, q.workerID, at); cerr != nil {
			logger.Error("task completion not recorded", "component", "scheduler",
				"task_id", t.ID.String(), "error", cerr)
			return
		}
		t.Status = domain.TaskCompleted
		t.CompletedAt = &at
		res.Completed++
		q.record(ctx, t, domain.TaskCompleted, nil, at)
		return
	}

	status, ferr := q.fail(ctx, t, err, q.workerID, time.Time{})
	if ferr != nil {
		logger.Error("task failure not recorded", "component", "scheduler",
			"task_id", t.ID.String(), "error", ferr, "cause", err)
		return
	}
	if status == domain.TaskFailed {
		res.Failed++
	} else {
		res.Retried++
	}
}

// keepAlive renews t's claim every heartbeat while the handler runs. The
// returned context is cancelled with ErrClaimLost when another worker has
// taken the task, or with ErrLeaseExpired when renewals have failed for a
// whole lease, so the handler stops before the reaper can hand the task
// out again. stop ends the renewals and reports which of the two happened.
func (q *Queue) keepAlive(ctx context.Context, t *domain.ScheduledTask) (context.Context, func() error) {
	hctx, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})
	finished := make(chan struct{})
	renewed := q.now()

	go func() {
		defer close(finished)
		ticker := time.NewTicker(q.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-hctx.Done():
				return
			case <-ticker.C:
			}
			at := q.now()
			rctx, rcancel := context.WithTimeout(hctx, q.heartbeat)
			err := q.repo.Heartbeat(rctx, t.ID, q.workerID, at)
			rcancel()
			switch {
			case err == nil:
				renewed = at
			case errors.Is(err, ErrClaimLost):
				cancel(ErrClaimLost)
				return
			default:
				logger.Warn("task heartbeat failed", "component", "scheduler", "task_id", t.ID.String(), "error", err)
				if at.Sub(renewed)+q.heartbeat >= q.lease {
					cancel(ErrLeaseExpired)
					return
				}
			}
		}
	}()

	return hctx, func() error {
		close(done)
		<-finished
		cause := context.Cause(hctx)
		cancel(nil)
		if errors.Is(cause, ErrClaimLost) || errors.Is(cause, ErrLeaseExpired) {
			return cause
		}
		return nil
	}
}

// invoke runs the handler, turning a panic into an ordinary failure.
func invoke(ctx context.Context, h Handler, t *domain.ScheduledTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("task handler panicked", "component", "scheduler",
				"task_id", t.ID.String(), "task_type", t.TaskType, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, t)
}

// fail applies the retry rule to a claimed task owned by owner: with
// retries left the task is rescheduled after the backoff, otherwise (or for
// a permanent error) it fails for good. A non-zero claimedBefore also
// requires the claim not to have been renewed since.
func (q *Queue) fail(ctx context.Context, t *domain.ScheduledTask, cause error, owner string, claimedBefore time.Time) (domain.TaskStatus, error) {
	now := q.now()
	u := FailureUpdate{
		ID:            t.ID,
		WorkerID:      owner,
		Status:        domain.TaskFailed,
		RetryCount:    t.RetryCount,
		ScheduledFor:  t.ScheduledFor,
		LastError:     cause.Error(),
		At:            now,
		ClaimedBefore: claimedBefore,
	}
	if !IsPermanent(cause) && t.RetriesLeft() {
		u.Status = domain.TaskRetryScheduled
		u.RetryCount = t.RetryCount + 1
		u.ScheduledFor = now.Add(q.backoff.Next(u.RetryCount))
	}
	if err := q.repo.Fail(ctx, u); err != nil {
		return "", err
	}

	t.Status, t.RetryCount, t.ScheduledFor, t.LastError = u.Status, u.RetryCount, u.ScheduledFor, u.LastError
	logger.Warn("task attempt failed", "component", "scheduler", "task_id", t.ID.String(),
		"task_type", t.TaskType, "attempt", t.Attempts, "status", string(u.Status), "error", cause)
	q.record(ctx, t, u.Status, cause, now)
	return u.Status, nil
}

func (q *Queue) record(ctx context.Context, t *domain.ScheduledTask, status domain.TaskStatus, cause error, at time.Time) {
	if err := q.ledger.Record(ctx, ledger.TaskAttemptEntry(t, status, cause, at)); err != nil {
		logger.Warn("task ledger write failed", "component", "scheduler", "task_id", t.ID.String(), "error", err)
	}
}

package segmentation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/leadflow/internal/domain"
	"github.com/ignite/leadflow/internal/pkg/distlock"
	"github.com/ignite/leadflow/internal/pkg/logger"
)

// DefaultLockTTL bounds how long one recomputation may hold its segment lock.
const DefaultLockTTL = 5 * time.Minute

// Engine computes segment membership from rules and persists the diff.
type Engine struct {
	repo    Repository
	leads   CandidateLoader
	locks   distlock.Provider
	lockTTL time.Duration
	sink    TransitionSink
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocks sets the lock provider used to serialize recomputation per segment.
func WithLocks(p distlock.Provider, ttl time.Duration) Option {
	return func(e *Engine) {
		e.locks = p
		if ttl > 0 {
			e.lockTTL = ttl
		}
	}
}

// WithTransitionSink registers a receiver for committed membership changes.
func WithTransitionSink(s TransitionSink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a membership engine. Without WithLocks it serializes
// recomputation within this process only.
func NewEngine(repo Repository, leads CandidateLoader, opts ...Option) *Engine {
	e := &Engine{
		repo:    repo,
		leads:   leads,
		locks:   distlock.NewLocalProvider(),
		lockTTL: DefaultLockTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetTransitionSink wires the sink after construction. The dispatcher that
// implements it usually depends on the engine, so it is created second.
func (e *Engine) SetTransitionSink(s TransitionSink) { e.sink = s }

// EvaluateSegment runs the segment's rules against its organization's leads
// without touching stored membership.
func (e *Engine) EvaluateSegment(ctx context.Context, segmentID uuid.UUID) (*EvaluationResult, error) {
	seg, err := e.repo.GetSegment(ctx, segmentID)
	if err != nil {
		return nil, err
	}
	return e.evaluate(ctx, seg)
}

func (e *Engine) evaluate(ctx context.Context, seg *domain.Segment) (*EvaluationResult, error) {
	start := time.Now()

	candidates, err := e.leads.LoadCandidates(ctx, seg.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("load candidates for segment %s: %w", seg.ID, err)
	}

	m := Compile(seg.Rules, seg.MatchAll)
	res := &EvaluationResult{
		SegmentID:      seg.ID,
		MatchingIDs:    m.MatchingIDs(candidates),
		CandidateCount: len(candidates),
		Warnings:       m.Warnings(),
		EvaluatedAt:    e.now(),
	}
	res.EvalTimeMs = float64(time.Since(start).Microseconds()) / 1000

	for _, w := range res.Warnings {
		logger.Warn("malformed segment rule", "component", "segmentation",
			"segment_id", seg.ID.String(), "rule", w.String())
	}
	return res, nil
}

// UpdateMemberships recomputes a dynamic segment and applies the minimal
// membership diff. Static segments are left alone and report a zero diff.
// A second concurrent call for the same segment gets ErrRecomputeInProgress.
func (e *Engine) UpdateMemberships(ctx context.Context, segmentID uuid.UUID) (*UpdateResult, error) {
	seg, err := e.repo.GetSegment(ctx, segmentID)
	if err != nil {
		return nil, err
	}
	result := &UpdateResult{SegmentID: seg.ID}
	if !seg.Dynamic {
		return result, nil
	}

	lock := e.locks.Lock("segment:recompute:"+seg.ID.String(), e.lockTTL)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("lock segment %s: %w", seg.ID, err)
	}
	if !acquired {
		return nil, ErrRecomputeInProgress
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("segment lock release failed", "component", "segmentation",
				"segment_id", seg.ID.String(), "error", err)
		}
	}()

	eval, err := e.evaluate(ctx, seg)
	if err != nil {
		return nil, err
	}
	result.Warnings = eval.Warnings

	current, err := e.repo.ListActiveMemberships(ctx, seg.ID)
	if err != nil {
		return nil, fmt.Errorf("load memberships for segment %s: %w", seg.ID, err)
	}

	diff := computeDiff(eval.MatchingIDs, current)
	if diff.IsEmpty() {
		return result, nil
	}
	diff.At = e.now()

	// Evaluation may outlive the lock TTL; renew before writing so a
	// recomputation that lost its lock never applies a diff.
	if ext, ok := lock.(distlock.Extender); ok {
		if err := ext.Extend(ctx, e.lockTTL); err != nil {
			if errors.Is(err, distlock.ErrNotOwner) {
				return nil, fmt.Errorf("segment %s: %w", seg.ID, ErrLockLost)
			}
			return nil, fmt.Errorf("renew lock for segment %s: %w", seg.ID, err)
		}
	}

	applied, err := e.repo.ApplyMembershipDiff(ctx, seg.ID, diff)
	if err != nil {
		return nil, fmt.Errorf("apply membership diff for segment %s: %w", seg.ID, err)
	}
	result.Added = len(applied.Added)
	result.Removed = len(applied.Removed)

	logger.Info("segment memberships updated", "component", "segmentation",
		"segment_id", seg.ID.String(), "added", result.Added, "removed", result.Removed,
		"eval_ms", eval.EvalTimeMs)

	e.notify(ctx, seg, applied, diff.At)
	return result, nil
}

// computeDiff returns desired − current as Add and current − desired as
// Remove. Add keeps the evaluator's order.
func computeDiff(desired []uuid.UUID, current []domain.Membership) MembershipDiff {
	want := make(map[uuid.UUID]struct{}, len(desired))
	for _, id := range desired {
		want[id] = struct{}{}
	}
	have := make(map[uuid.UUID]struct{}, len(current))
	var diff MembershipDiff
	for _, m := range current {
		have[m.LeadID] = struct{}{}
		if _, ok := want[m.LeadID]; !ok {
			diff.Remove = append(diff.Remove, m.LeadID)
		}
	}
	for _, id := range desired {
		if _, ok := have[id]; !ok {
			diff.Add = append(diff.Add, id)
		}
	}
	return diff
}

// AddLeadsToSegment creates or reactivates memberships. Leads that are
// already active members are skipped. Returns how many memberships changed.
func (e *Engine) AddLeadsToSegment(ctx context.Context, segmentID uuid.UUID, leadIDs []uuid.UUID) (int, error) {
	return e.applyExplicit(ctx, segmentID, MembershipDiff{Add: dedupe(leadIDs)})
}

// RemoveLeadsFromSegment deactivates memberships. Leads that are not active
// members are skipped. Returns how many memberships changed.
func (e *Engine) RemoveLeadsFromSegment(ctx context.Context, segmentID uuid.UUID, leadIDs []uuid.UUID) (int, error) {
	return e.applyExplicit(ctx, segmentID, MembershipDiff{Remove: dedupe(leadIDs)})
}

func (e *Engine) applyExplicit(ctx context.Context, segmentID uuid.UUID, diff MembershipDiff) (int, error) {
	seg, err := e.repo.GetSegment(ctx, segmentID)
	if err != nil {
		return 0, err
	}
	if diff.IsEmpty() {
		return 0, nil
	}
	diff.At = e.now()
	applied, err := e.repo.ApplyMembershipDiff(ctx, seg.ID, diff)
	if err != nil {
		return 0, fmt.Errorf("update memberships for segment %s: %w", seg.ID, err)
	}
	e.notify(ctx, seg, applied, diff.At)
	return len(applied.Added) + len(applied.Removed), nil
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == uuid.Nil {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (e *Engine) notify(ctx context.Context, seg *domain.Segment, applied *AppliedDiff, at time.Time) {
	if e.sink == nil || (len(applied.Added) == 0 && len(applied.Removed) == 0) {
		return
	}
	transitions := make([]Transition, 0, len(applied.Added)+len(applied.Removed))
	for _, id := range applied.Added {
		transitions = append(transitions, Transition{
			OrganizationID: seg.OrganizationID, SegmentID: seg.ID, LeadID: id, Kind: Entered, At: at,
		})
	}
	for _, id := range applied.Removed {
		transitions = append(transitions, Transition{
			OrganizationID: seg.OrganizationID, SegmentID: seg.ID, LeadID: id, Kind: Exited, At: at,
		})
	}
	// The diff is already committed; a sink failure must not undo it.
	if err := e.sink.HandleTransitions(ctx, transitions); err != nil {
		logger.Error("segment transition handling failed", "component", "segmentation",
			"segment_id", seg.ID.String(), "transitions", len(transitions), "error", err)
	}
}

// SegmentLeads returns the segment's members: evaluated live for dynamic
// segments, read from stored membership for static ones.
func (e *Engine) SegmentLeads(ctx context.Context, segmentID uuid.UUID) ([]uuid.UUID, error) {
	seg, err := e.repo.GetSegment(ctx, segmentID)
	if err != nil {
		return nil, err
	}
	if seg.Dynamic {
		res, err := e.evaluate(ctx, seg)
		if err != nil {
			return nil, err
		}
		return res.MatchingIDs, nil
	}
	members, err := e.repo.ListActiveMemberships(ctx, seg.ID)
	if err != nil {
		return nil, fmt.Errorf("load memberships for segment %s: %w", seg.ID, err)
	}
	ids := make([]uuid.UUID, len(members))
	for i, m := range members {
		ids[i] = m.LeadID
	}
	return ids, nil
}

// LeadSegments returns the segments the lead currently belongs to.
func (e *Engine) LeadSegments(ctx context.Context, leadID uuid.UUID) ([]domain.Segment, error) {
	return e.repo.ListLeadSegments(ctx, leadID)
}

// RecomputeAll updates every active dynamic segment of an organization.
// One segment failing does not stop the sweep; its error is recorded.
func (e *Engine) RecomputeAll(ctx context.Context, orgID uuid.UUID) (*SweepResult, error) {
	segs, err := e.repo.ListSegments(ctx, orgID, ListFilter{ActiveOnly: true, DynamicOnly: true})
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	sweep := &SweepResult{}
	for _, s := range segs {
		if err := ctx.Err(); err != nil {
			return sweep, err
		}
		res, err := e.UpdateMemberships(ctx, s.ID)
		if err != nil {
			if sweep.Errors == nil {
				sweep.Errors = make(map[uuid.UUID]string)
			}
			sweep.Errors[s.ID] = err.Error()
			if !errors.Is(err, ErrRecomputeInProgress) {
				logger.Error("segment recompute failed", "component", "segmentation",
					"segment_id", s.ID.String(), "error", err)
			}
			continue
		}
		sweep.Segments++
		sweep.Added += res.Added
		sweep.Removed += res.Removed
	}
	return sweep, nil
}

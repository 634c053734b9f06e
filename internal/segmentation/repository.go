package segmentation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/leadflow/internal/domain"
)

// Repository defines the data access contract for segments and memberships.
// Implementations must be safe for concurrent use.
type Repository interface {
	// GetSegment returns a segment with all of its rules. Returns
	// ErrSegmentNotFound if it doesn't exist.
	GetSegment(ctx context.Context, id uuid.UUID) (*domain.Segment, error)

	// ListSegments returns the organization's segments matching the filter.
	ListSegments(ctx context.Context, orgID uuid.UUID, f ListFilter) ([]domain.Segment, error)

	// ListActiveMemberships returns the segment's current members.
	ListActiveMemberships(ctx context.Context, segmentID uuid.UUID) ([]domain.Membership, error)

	// ApplyMembershipDiff adds (creating or reactivating) and removes
	// (deactivating) memberships in one transaction. Rows already in the
	// requested state are left untouched and are not reported.
	ApplyMembershipDiff(ctx context.Context, segmentID uuid.UUID, diff MembershipDiff) (*AppliedDiff, error)

	// ListLeadSegments returns the segments the lead is an active member of.
	ListLeadSegments(ctx context.Context, leadID uuid.UUID) ([]domain.Segment, error)
}

// CandidateLoader is the read side of the record store used for evaluation.
type CandidateLoader interface {
	// LoadCandidates returns every lead of the organization.
	LoadCandidates(ctx context.Context, orgID uuid.UUID) ([]domain.Lead, error)
}

// TransitionSink receives committed membership changes. The automation
// dispatcher implements it to raise segment_entered/segment_exited triggers.
type TransitionSink interface {
	HandleTransitions(ctx context.Context, transitions []Transition) error
}

// ListFilter narrows ListSegments.
type ListFilter struct {
	ActiveOnly  bool
	DynamicOnly bool
}

// MembershipDiff is the reconciliation to apply to one segment.
type MembershipDiff struct {
	Add    []uuid.UUID
	Remove []uuid.UUID
	At     time.Time
}

// IsEmpty reports whether the diff has nothing to do.
func (d MembershipDiff) IsEmpty() bool { return len(d.Add) == 0 && len(d.Remove) == 0 }

// AppliedDiff lists the leads whose membership actually changed.
type AppliedDiff struct {
	Added   []uuid.UUID
	Removed []uuid.UUID
}

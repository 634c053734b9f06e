package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/ignite/leadflow/internal/domain"
	"github.com/ignite/leadflow/internal/segmentation"
	"github.com/lib/pq"
)

const segmentColumns = `s.id, s.organization_id, s.name, COALESCE(s.slug,''), COALESCE(s.description,''),
	s.is_active, s.is_dynamic, s.match_all, s.created_at, s.updated_at`

// SegmentRepo implements segmentation.Repository against PostgreSQL.
// Memberships live in lead_segments and are never deleted.
type SegmentRepo struct{ db *sql.DB }

// NewSegmentRepo creates a Postgres-backed segment repository.
func NewSegmentRepo(db *sql.DB) *SegmentRepo { return &SegmentRepo{db: db} }

func scanSegment(s rowScanner) (*domain.Segment, error) {
	var seg domain.Segment
	err := s.Scan(&seg.ID, &seg.OrganizationID, &seg.Name, &seg.Slug, &seg.Description,
		&seg.Active, &seg.Dynamic, &seg.MatchAll, &seg.CreatedAt, &seg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &seg, nil
}

func (r *SegmentRepo) GetSegment(ctx context.Context, id uuid.UUID) (*domain.Segment, error) {
	seg, err := scanSegment(r.db.QueryRowContext(ctx,
		`SELECT `+segmentColumns+` FROM segments s WHERE s.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, segmentation.ErrSegmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get segment: %w", err)
	}

	rules, err := r.rules(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	seg.Rules = rules[id]
	return seg, nil
}

func (r *SegmentRepo) ListSegments(ctx context.Context, orgID uuid.UUID, f segmentation.ListFilter) ([]domain.Segment, error) {
	q := `SELECT ` + segmentColumns + ` FROM segments s WHERE s.organization_id = $1`
	if f.ActiveOnly {
		q += ` AND s.is_active = true`
	}
	if f.DynamicOnly {
		q += ` AND s.is_dynamic = true`
	}
	q += ` ORDER BY s.name, s.id`

	segs, err := r.querySegments(ctx, q, orgID)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	if len(segs) == 0 {
		return segs, nil
	}

	ids := make([]uuid.UUID, len(segs))
	for i := range segs {
		ids[i] = segs[i].ID
	}
	rules, err := r.rules(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range segs {
		segs[i].Rules = rules[segs[i].ID]
	}
	return segs, nil
}

func (r *SegmentRepo) querySegments(ctx context.Context, q string, args ...any) ([]domain.Segment, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Segment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		out = append(out, *seg)
	}
	return out, rows.Err()
}

// rules loads every rule of the given segments, inactive ones included.
func (r *SegmentRepo) rules(ctx context.Context, segmentIDs []uuid.UUID) (map[uuid.UUID][]domain.Rule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, segment_id, field, operator, COALESCE(value,''), is_active, rule_order
		FROM segment_rules
		WHERE segment_id = ANY($1::uuid[])
		ORDER BY segment_id, rule_order, id
	`, pq.Array(uuidStrings(segmentIDs)))
	if err != nil {
		return nil, fmt.Errorf("load segment rules: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]domain.Rule)
	for rows.Next() {
		var rule domain.Rule
		if err := rows.Scan(&rule.ID, &rule.SegmentID, &rule.Field, &rule.Operator, &rule.Value,
			&rule.Active, &rule.Order); err != nil {
			return nil, fmt.Errorf("scan segment rule: %w", err)
		}
		out[rule.SegmentID] = append(out[rule.SegmentID], rule)
	}
	return out, rows.Err()
}

func (r *SegmentRepo) ListActiveMemberships(ctx context.Context, segmentID uuid.UUID) ([]domain.Membership, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT lead_id, segment_id, is_active, added_at, updated_at
		FROM lead_segments
		WHERE segment_id = $1 AND is_active = true
	`, segmentID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	var out []domain.Membership
	for rows.Next() {
		var m domain.Membership
		if err := rows.Scan(&m.LeadID, &m.SegmentID, &m.Active, &m.AddedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ApplyMembershipDiff inserts or reactivates the adds and deactivates the
// removes in one transaction. Reactivation keeps the original added_at.
func (r *SegmentRepo) ApplyMembershipDiff(ctx context.Context, segmentID uuid.UUID, diff segmentation.MembershipDiff) (*segmentation.AppliedDiff, error) {
	applied := &segmentation.AppliedDiff{}
	if diff.IsEmpty() {
		return applied, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin membership tx: %w", err)
	}
	defer tx.Rollback()

	if len(diff.Add) > 0 {
		applied.Added, err = returningIDs(tx.QueryContext(ctx, `
			INSERT INTO lead_segments (lead_id, segment_id, is_active, added_at, updated_at)
			SELECT unnest($2::uuid[]), $1, true, $3, $3
			ON CONFLICT (lead_id, segment_id) DO UPDATE
				SET is_active = true, updated_at = EXCLUDED.updated_at
				WHERE lead_segments.is_active = false
			RETURNING lead_id
		`, segmentID, pq.Array(uuidStrings(diff.Add)), diff.At))
		if err != nil {
			return nil, fmt.Errorf("add memberships: %w", err)
		}
	}

	if len(diff.Remove) > 0 {
		applied.Removed, err = returningIDs(tx.QueryContext(ctx, `
			UPDATE lead_segments SET is_active = false, updated_at = $3
			WHERE segment_id = $1 AND lead_id = ANY($2::uuid[]) AND is_active = true
			RETURNING lead_id
		`, segmentID, pq.Array(uuidStrings(diff.Remove)), diff.At))
		if err != nil {
			return nil, fmt.Errorf("remove memberships: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit memberships: %w", err)
	}
	return applied, nil
}

func returningIDs(rows *sql.Rows, err error) ([]uuid.UUID, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *SegmentRepo) ListLeadSegments(ctx context.Context, leadID uuid.UUID) ([]domain.Segment, error) {
	segs, err := r.querySegments(ctx, `
		SELECT `+segmentColumns+`
		FROM segments s
		JOIN lead_segments ls ON ls.segment_id = s.id
		WHERE ls.lead_id = $1 AND ls.is_active = true
		ORDER BY s.name, s.id
	`, leadID)
	if err != nil {
		return nil, fmt.Errorf("list lead segments: %w", err)
	}
	return segs, nil
}

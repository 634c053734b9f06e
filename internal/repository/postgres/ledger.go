package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/ignite/leadflow/internal/ledger"
)

// LedgerRepo stores ledger entries in ledger_entries. It implements
// ledger.Recorder.
type LedgerRepo struct{ db *sql.DB }

// NewLedgerRepo creates a Postgres-backed ledger.
func NewLedgerRepo(db *sql.DB) *LedgerRepo { return &LedgerRepo{db: db} }

// Record inserts an entry. Re-recording the same entry id is a no-op.
func (r *LedgerRepo) Record(ctx context.Context, e ledger.Entry) error {
	detail, err := marshalJSON(e.Detail)
	if err != nil {
		return fmt.Errorf("encode ledger detail: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, kind, organization_id, subject_id, parent_id, lead_id,
			status, attempt, error, detail, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`, e.ID, string(e.Kind), e.OrganizationID, e.SubjectID, nullUUID(e.ParentID), nullUUID(e.LeadID),
		e.Status, e.Attempt, nullString(e.Error), detail, e.RecordedAt)
	if err != nil {
		return fmt.Errorf("record ledger entry: %w", err)
	}
	return nil
}

// ListBySubject returns the entries of one run or task, oldest first.
func (r *LedgerRepo) ListBySubject(ctx context.Context, subjectID uuid.UUID, limit int) ([]ledger.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, kind, organization_id, subject_id, parent_id, lead_id, status, attempt,
		       COALESCE(error,''), detail, recorded_at
		FROM ledger_entries
		WHERE subject_id = $1
		ORDER BY recorded_at, id
		LIMIT $2
	`, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var parent, lead uuid.NullUUID
		var detail []byte
		if err := rows.Scan(&e.ID, &e.Kind, &e.OrganizationID, &e.SubjectID, &parent, &lead, &e.Status,
			&e.Attempt, &e.Error, &detail, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.ParentID, e.LeadID = uuidPtr(parent), uuidPtr(lead)
		if e.Detail, err = unmarshalMap(detail); err != nil {
			return nil, fmt.Errorf("decode ledger detail: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

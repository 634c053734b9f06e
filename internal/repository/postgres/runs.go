package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/leadflow/internal/automation"
	"github.com/ignite/leadflow/internal/domain"
)

const runColumns = `id, automation_id, organization_id, lead_id, status, trigger_data, execution_log,
	started_at, completed_at`

// RunRepo implements automation.RunRepository. trigger_data and
// execution_log are jsonb.
type RunRepo struct{ db *sql.DB }

// NewRunRepo creates a Postgres-backed run repository.
func NewRunRepo(db *sql.DB) *RunRepo { return &RunRepo{db: db} }

func scanRun(s rowScanner) (*domain.AutomationRun, error) {
	var run domain.AutomationRun
	var lead uuid.NullUUID
	var data, execLog []byte
	var completed sql.NullTime
	err := s.Scan(&run.ID, &run.AutomationID, &run.OrganizationID, &lead, &run.Status, &data, &execLog,
		&run.StartedAt, &completed)
	if err != nil {
		return nil, err
	}
	run.LeadID = uuidPtr(lead)
	run.CompletedAt = timePtr(completed)
	if run.TriggerData, err = unmarshalMap(data); err != nil {
		return nil, fmt.Errorf("decode trigger_data: %w", err)
	}
	if len(execLog) > 0 {
		if err := json.Unmarshal(execLog, &run.ExecutionLog); err != nil {
			return nil, fmt.Errorf("decode execution_log: %w", err)
		}
	}
	return &run, nil
}

func (r *RunRepo) CreateRun(ctx context.Context, run *domain.AutomationRun) error {
	data, err := marshalJSON(run.TriggerData)
	if err != nil {
		return fmt.Errorf("encode trigger_data: %w", err)
	}
	execLog, err := json.Marshal(run.ExecutionLog)
	if err != nil {
		return fmt.Errorf("encode execution_log: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO automation_runs (id, automation_id, organization_id, lead_id, status, trigger_data, execution_log, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, run.ID, run.AutomationID, run.OrganizationID, nullUUID(run.LeadID), string(run.Status), data, execLog, run.StartedAt)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// AppendRunLog appends to execution_log.actions while the run is processing.
func (r *RunRepo) AppendRunLog(ctx context.Context, runID uuid.UUID, entry domain.ActionLogEntry) error {
	b, err := json.Marshal([]domain.ActionLogEntry{entry})
	if err != nil {
		return fmt.Errorf("encode log entry: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE automation_runs
		SET execution_log = jsonb_set(execution_log, '{actions}',
			COALESCE(execution_log->'actions', '[]'::jsonb) || $2::jsonb)
		WHERE id = $1 AND status = 'processing'
	`, runID, b)
	if err != nil {
		return fmt.Errorf("append run log: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return automation.ErrRunNotFound
	}
	return nil
}

// FinishRun writes the terminal status. It only applies to a processing run.
func (r *RunRepo) FinishRun(ctx context.Context, run *domain.AutomationRun) error {
	execLog, err := json.Marshal(run.ExecutionLog)
	if err != nil {
		return fmt.Errorf("encode execution_log: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE automation_runs SET status = $2, execution_log = $3, completed_at = $4
		WHERE id = $1 AND status = 'processing'
	`, run.ID, string(run.Status), execLog, run.CompletedAt)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return automation.ErrRunNotFound
	}
	return nil
}

// FailStaleRuns fails runs still processing that started before
// startedBefore, keeping the action log written so far.
func (r *RunRepo) FailStaleRuns(ctx context.Context, startedBefore time.Time, reason string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE automation_runs
		SET status = 'failed', completed_at = NOW(),
			execution_log = jsonb_set(COALESCE(execution_log, '{}'::jsonb), '{error}', to_jsonb($2::text))
		WHERE status = 'processing' AND started_at < $1
	`, startedBefore, reason)
	if err != nil {
		return 0, fmt.Errorf("fail stale runs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *RunRepo) GetRun(ctx context.Context, id uuid.UUID) (*domain.AutomationRun, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM automation_runs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, automation.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

func (r *RunRepo) ListRuns(ctx context.Context, f automation.RunFilter) ([]domain.AutomationRun, error) {
	f.Normalize()
	q := `SELECT ` + runColumns + ` FROM automation_runs WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.OrganizationID != uuid.Nil {
		q += ` AND organization_id = ` + arg(f.OrganizationID)
	}
	if f.AutomationID != nil {
		q += ` AND automation_id = ` + arg(*f.AutomationID)
	}
	if f.LeadID != nil {
		q += ` AND lead_id = ` + arg(*f.LeadID)
	}
	if f.Status != "" {
		q += ` AND status = ` + arg(string(f.Status))
	}
	q += ` ORDER BY started_at DESC, id LIMIT ` + arg(f.Limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []domain.AutomationRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

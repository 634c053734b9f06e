package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ignite/leadflow/internal/automation"
	"github.com/ignite/leadflow/internal/domain"
	"github.com/lib/pq"
)

const leadColumns = `id, organization_id, email, COALESCE(first_name,''), COALESCE(last_name,''),
	COALESCE(phone,''), COALESCE(source,''), status, priority, assignee_id,
	COALESCE(value_estimate,0), COALESCE(insurance_type,''), COALESCE(city,''), COALESCE(state,''),
	COALESCE(tags,'{}'), created_at, updated_at`

// LeadRepo is the record store adapter: candidate loading for segmentation
// and single-lead reads and patches for automation actions.
type LeadRepo struct{ db *sql.DB }

// NewLeadRepo creates a Postgres-backed lead repository.
func NewLeadRepo(db *sql.DB) *LeadRepo { return &LeadRepo{db: db} }

func scanLead(s rowScanner) (*domain.Lead, error) {
	var l domain.Lead
	var assignee uuid.NullUUID
	err := s.Scan(&l.ID, &l.OrganizationID, &l.Email, &l.FirstName, &l.LastName,
		&l.Phone, &l.Source, &l.Status, &l.Priority, &assignee,
		&l.ValueEstimate, &l.InsuranceType, &l.City, &l.State,
		pq.Array(&l.Tags), &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	l.AssigneeID = uuidPtr(assignee)
	return &l, nil
}

// LoadCandidates returns every lead of the organization.
func (r *LeadRepo) LoadCandidates(ctx context.Context, orgID uuid.UUID) ([]domain.Lead, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE organization_id = $1 ORDER BY created_at, id`, orgID)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}
	defer rows.Close()

	var out []domain.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (r *LeadRepo) GetLead(ctx context.Context, id uuid.UUID) (*domain.Lead, error) {
	l, err := scanLead(r.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, automation.ErrLeadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lead: %w", err)
	}
	return l, nil
}

// UpdateLead applies the non-nil fields of the patch in one statement.
func (r *LeadRepo) UpdateLead(ctx context.Context, id uuid.UUID, p domain.LeadPatch) (*domain.Lead, error) {
	if p.IsEmpty() {
		return r.GetLead(ctx, id)
	}

	var sets []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if p.Status != nil {
		add("status", string(*p.Status))
	}
	if p.Priority != nil {
		add("priority", string(*p.Priority))
	}
	if p.AssigneeID != nil {
		add("assignee_id", *p.AssigneeID)
	}
	if p.Tags != nil {
		add("tags", pq.Array(*p.Tags))
	}
	args = append(args, id)

	q := fmt.Sprintf(`UPDATE leads SET %s, updated_at = NOW() WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), leadColumns)
	l, err := scanLead(r.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, automation.ErrLeadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update lead: %w", err)
	}
	return l, nil
}

// CreateLeadTask stores a follow-up task created by an automation.
func (r *LeadRepo) CreateLeadTask(ctx context.Context, t *domain.LeadTask) (uuid.UUID, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO lead_tasks (id, organization_id, lead_id, assignee_id, task_type, title, description, due_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, t.ID, t.OrganizationID, nullUUID(t.LeadID), nullUUID(t.AssigneeID), t.TaskType, t.Title,
		t.Description, t.DueAt, t.CreatedAt)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create lead task: %w", err)
	}
	return t.ID, nil
}

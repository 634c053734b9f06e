package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/ignite/leadflow/internal/automation"
	"github.com/ignite/leadflow/internal/domain"
)

// TemplateRepo reads e-mail templates for the mailer.
type TemplateRepo struct{ db *sql.DB }

// NewTemplateRepo creates a Postgres-backed template repository.
func NewTemplateRepo(db *sql.DB) *TemplateRepo { return &TemplateRepo{db: db} }

// GetTemplate returns automation.ErrTemplateNotFound if it doesn't exist.
func (r *TemplateRepo) GetTemplate(ctx context.Context, id uuid.UUID) (*domain.EmailTemplate, error) {
	var t domain.EmailTemplate
	err := r.db.QueryRowContext(ctx, `
		SELECT id, organization_id, name, COALESCE(slug,''), subject,
		       COALESCE(body_html,''), COALESCE(body_text,''), COALESCE(template_type,''),
		       is_active, created_at, updated_at
		FROM email_templates
		WHERE id = $1
	`, id).Scan(&t.ID, &t.OrganizationID, &t.Name, &t.Slug, &t.Subject,
		&t.BodyHTML, &t.BodyText, &t.TemplateType, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, automation.ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return &t, nil
}

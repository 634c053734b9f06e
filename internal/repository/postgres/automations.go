package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/ignite/leadflow/internal/automation"
	"github.com/ignite/leadflow/internal/domain"
	"github.com/lib/pq"
)

const automationColumns = `id, organization_id, campaign_id, name, COALESCE(slug,''), COALESCE(description,''),
	trigger_type, trigger_config, is_active, run_immediately, created_at, updated_at`

// AutomationRepo implements automation.AutomationRepository.
type AutomationRepo struct{ db *sql.DB }

// NewAutomationRepo creates a Postgres-backed automation repository.
func NewAutomationRepo(db *sql.DB) *AutomationRepo { return &AutomationRepo{db: db} }

func scanAutomation(s rowScanner) (*domain.Automation, error) {
	var a domain.Automation
	var campaign uuid.NullUUID
	var cfg []byte
	err := s.Scan(&a.ID, &a.OrganizationID, &campaign, &a.Name, &a.Slug, &a.Description,
		&a.TriggerType, &cfg, &a.Active, &a.RunImmediately, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.CampaignID = uuidPtr(campaign)
	if a.TriggerConfig, err = unmarshalMap(cfg); err != nil {
		return nil, fmt.Errorf("decode trigger_config: %w", err)
	}
	return &a, nil
}

func (r *AutomationRepo) GetAutomation(ctx context.Context, id uuid.UUID) (*domain.Automation, error) {
	a, err := scanAutomation(r.db.QueryRowContext(ctx,
		`SELECT `+automationColumns+` FROM automations WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, automation.ErrAutomationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get automation: %w", err)
	}
	autos := []domain.Automation{*a}
	if err := r.attachActions(ctx, autos); err != nil {
		return nil, err
	}
	return &autos[0], nil
}

func (r *AutomationRepo) ListByTrigger(ctx context.Context, orgID uuid.UUID, trigger domain.TriggerType) ([]domain.Automation, error) {
	return r.list(ctx, `
		SELECT `+automationColumns+` FROM automations
		WHERE organization_id = $1 AND trigger_type = $2 AND is_active = true
		ORDER BY created_at, id
	`, orgID, string(trigger))
}

func (r *AutomationRepo) ListTimeBased(ctx context.Context) ([]domain.Automation, error) {
	return r.list(ctx, `
		SELECT `+automationColumns+` FROM automations
		WHERE trigger_type = $1 AND is_active = true
		ORDER BY created_at, id
	`, string(domain.TriggerTimeBased))
}

func (r *AutomationRepo) list(ctx context.Context, q string, args ...any) ([]domain.Automation, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list automations: %w", err)
	}
	defer rows.Close()

	var out []domain.Automation
	for rows.Next() {
		a, err := scanAutomation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan automation: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.attachActions(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *AutomationRepo) attachActions(ctx context.Context, autos []domain.Automation) error {
	if len(autos) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(autos))
	index := make(map[uuid.UUID]int, len(autos))
	for i, a := range autos {
		ids[i] = a.ID
		index[a.ID] = i
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, automation_id, action_type, action_order, is_active, config
		FROM automation_actions
		WHERE automation_id = ANY($1::uuid[])
		ORDER BY automation_id, action_order, id
	`, pq.Array(uuidStrings(ids)))
	if err != nil {
		return fmt.Errorf("load automation actions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var act domain.AutomationAction
		var cfg []byte
		if err := rows.Scan(&act.ID, &act.AutomationID, &act.ActionType, &act.Order, &act.Active, &cfg); err != nil {
			return fmt.Errorf("scan automation action: %w", err)
		}
		if act.Config, err = unmarshalMap(cfg); err != nil {
			return fmt.Errorf("decode action %s config: %w", act.ID, err)
		}
		i := index[act.AutomationID]
		autos[i].Actions = append(autos[i].Actions, act)
	}
	return rows.Err()
}

//go:build ignore
// +build ignore

// Seeds one organization with leads, a dynamic segment, a welcome template
// and two automations so the engine has something to chew on locally.
//
// Usage:
//
//	DATABASE_URL=postgres://... go run scripts/seed_demo.go
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const welcomeHTML = `<p>Hi {{ recipient.name | default: "there" }},</p>
<p>Thanks for your interest in {{ insurance_type | titlecase }} coverage in {{ state }}.
An agent will reach out shortly.</p>`

type lead struct {
	email, first, status, priority, insurance, state string
	value                                            float64
	tags                                             []string
}

var leads = []lead{
	{"ana@example.com", "Ana", "qualified", "high", "auto", "CA", 4200, []string{"web", "returning"}},
	{"ben@example.com", "Ben", "qualified", "medium", "home", "NY", 1800, []string{"referral"}},
	{"cho@example.com", "Cho", "new", "low", "auto", "CA", 900, nil},
	{"dev@example.com", "Dev", "contacted", "urgent", "life", "TX", 12500, []string{"web"}},
}

func main() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer tx.Rollback()

	org := uuid.New()
	for _, l := range leads {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO leads (id, organization_id, email, first_name, status, priority, insurance_type,
				state, value_estimate, tags, source)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'seed')
		`, uuid.New(), org, l.email, l.first, l.status, l.priority, l.insurance, l.state, l.value,
			pq.Array(l.tags)); err != nil {
			log.Fatalf("insert lead %s: %v", l.email, err)
		}
	}

	segment := uuid.New()
	must(tx.ExecContext(ctx, `
		INSERT INTO segments (id, organization_id, name, slug, is_dynamic, match_all)
		VALUES ($1, $2, 'Qualified California', $3, true, true)
	`, segment, org, "qualified-ca-"+org.String()[:8]))
	must(tx.ExecContext(ctx, `
		INSERT INTO segment_rules (segment_id, field, operator, value, rule_order) VALUES
			($1, 'status', 'equals', 'qualified', 1),
			($1, 'state', 'equals', 'CA', 2)
	`, segment))

	template := uuid.New()
	must(tx.ExecContext(ctx, `
		INSERT INTO email_templates (id, organization_id, name, subject, body_html, body_text)
		VALUES ($1, $2, 'Welcome', 'Welcome, {{ recipient.name | default: "friend" }}', $3,
			'Thanks for your interest. An agent will reach out shortly.')
	`, template, org, welcomeHTML))

	entered := uuid.New()
	must(tx.ExecContext(ctx, `
		INSERT INTO automations (id, organization_id, name, slug, trigger_type, trigger_config, run_immediately)
		VALUES ($1, $2, 'Welcome qualified CA', $3, 'segment_entered', $4, true)
	`, entered, org, "welcome-qualified-ca-"+org.String()[:8], fmt.Sprintf(`{"segment_id":"%s"}`, segment)))
	must(tx.ExecContext(ctx, `
		INSERT INTO automation_actions (automation_id, action_type, action_order, config) VALUES
			($1, 'send_email', 1, $2),
			($1, 'add_tag', 2, '{"tag":"welcomed"}'),
			($1, 'update_lead_priority', 3, '{"priority":"high"}')
	`, entered, fmt.Sprintf(`{"template_id":"%s"}`, template)))

	daily := uuid.New()
	must(tx.ExecContext(ctx, `
		INSERT INTO automations (id, organization_id, name, slug, trigger_type, trigger_config, run_immediately)
		VALUES ($1, $2, 'Weekday recompute nudge', $3, 'time_based', '{"cron":"0 9 * * 1-5","timezone":"America/Los_Angeles"}', false)
	`, daily, org, "weekday-nudge-"+org.String()[:8]))
	must(tx.ExecContext(ctx, `
		INSERT INTO automation_actions (automation_id, action_type, action_order, config)
		VALUES ($1, 'create_task', 1, '{"title":"Review new qualified leads","task_type":"review"}')
	`, daily))

	if err := tx.Commit(); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("organization %s\nsegment      %s\ntemplate     %s\nautomations  %s %s\n", org, segment, template, entered, daily)
}

func must(_ sql.Result, err error) {
	if err != nil {
		log.Fatal(err)
	}
}

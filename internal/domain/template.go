package domain

import (
	"time"

	"github.com/google/uuid"
)

// EmailTemplate is static content referenced by send_email actions.
type EmailTemplate struct {
	ID             uuid.UUID `json:"id" db:"id"`
	OrganizationID uuid.UUID `json:"organization_id" db:"organization_id"`
	Name           string    `json:"name" db:"name"`
	Slug           string    `json:"slug" db:"slug"`
	Subject        string    `json:"subject" db:"subject"`
	BodyHTML       string    `json:"body_html" db:"body_html"`
	BodyText       string    `json:"body_text" db:"body_text"`
	TemplateType   string    `json:"template_type" db:"template_type"`
	Active         bool      `json:"is_active" db:"is_active"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

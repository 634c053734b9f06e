package mailing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/leadflow/internal/automation"
	"github.com/ignite/leadflow/internal/domain"
	"github.com/ignite/leadflow/internal/pkg/logger"
)

// ErrTemplateInactive is returned for templates switched off by an operator.
var ErrTemplateInactive = errors.New("email template is inactive")

// TemplateStore reads e-mail templates.
type TemplateStore interface {
	GetTemplate(ctx context.Context, id uuid.UUID) (*domain.EmailTemplate, error)
}

// From is the sender identity stamped on every message.
type From struct {
	Email   string
	Name    string
	ReplyTo string
}

// Mailer implements automation.EmailSender: it loads the template, renders
// subject and bodies with the lead data and delivers through the transport.
type Mailer struct {
	templates TemplateStore
	renderer  *Renderer
	transport Transport
	from      From
	now       func() time.Time
}

// NewMailer creates a mailer. A nil transport logs instead of sending.
func NewMailer(templates TemplateStore, renderer *Renderer, transport Transport, from From) *Mailer {
	if renderer == nil {
		renderer = NewRenderer()
	}
	if transport == nil {
		transport = LogTransport{}
	}
	return &Mailer{templates: templates, renderer: renderer, transport: transport, from: from, now: time.Now}
}

func (m *Mailer) Send(ctx context.Context, templateID uuid.UUID, to automation.Recipient, data map[string]any) (*automation.DeliveryReceipt, error) {
	tpl, err := m.templates.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if !tpl.Active {
		return nil, ErrTemplateInactive
	}

	msg, err := m.compose(tpl, to, data)
	if err != nil {
		return nil, err
	}

	id, err := m.transport.Deliver(ctx, msg)
	if err != nil {
		logger.Warn("email delivery failed",
			"component", "mailing", "template_id", templateID.String(), "recipient", to.Email, "error", err)
		return nil, err
	}
	logger.Info("email sent",
		"component", "mailing", "template_id", templateID.String(), "recipient", to.Email,
		"provider", m.transport.Name(), "message_id", id)

	return &automation.DeliveryReceipt{MessageID: id, Provider: m.transport.Name(), AcceptedAt: m.now()}, nil
}

func (m *Mailer) compose(tpl *domain.EmailTemplate, to automation.Recipient, data map[string]any) (*Message, error) {
	bindings := make(map[string]any, len(data)+1)
	for k, v := range data {
		bindings[k] = v
	}
	bindings["recipient"] = map[string]any{"email": to.Email, "name": to.Name}

	// The cache key includes the template version so edits are picked up.
	key := fmt.Sprintf("%s:%d", tpl.ID, tpl.UpdatedAt.UnixNano())
	subject, err := m.renderer.Render(key+":subject", tpl.Subject, bindings)
	if err != nil {
		return nil, fmt.Errorf("subject: %w", err)
	}
	if subject == "" {
		return nil, errors.New("template renders an empty subject")
	}
	html, err := m.renderer.Render(key+":html", tpl.BodyHTML, bindings)
	if err != nil {
		return nil, fmt.Errorf("html body: %w", err)
	}
	text, err := m.renderer.Render(key+":text", tpl.BodyText, bindings)
	if err != nil {
		return nil, fmt.Errorf("text body: %w", err)
	}
	if html == "" && text == "" {
		return nil, errors.New("template has no body")
	}

	msg := &Message{
		To:        to.Email,
		ToName:    to.Name,
		FromEmail: m.from.Email,
		FromName:  m.from.Name,
		ReplyTo:   m.from.ReplyTo,
		Subject:   subject,
		HTML:      html,
		Text:      text,
		Tags:      map[string]string{"template_id": tpl.ID.String()},
	}
	if to.LeadID != nil {
		msg.Tags["lead_id"] = to.LeadID.String()
	}
	return msg, nil
}

package automation

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/ignite/leadflow/internal/domain"
)

// ActionConfig is the typed configuration of one action type, decoded from
// the stored JSON object before the action runs.
type ActionConfig interface {
	validate() error
}

// SendEmailConfig configures send_email. To overrides the lead's address.
type SendEmailConfig struct {
	TemplateID uuid.UUID `json:"template_id"`
	To         string    `json:"to,omitempty"`
}

func (c *SendEmailConfig) validate() error {
	if c.TemplateID == uuid.Nil {
		return fmt.Errorf("template_id is required")
	}
	return nil
}

// UpdateStatusConfig configures update_lead_status.
type UpdateStatusConfig struct {
	Status domain.LeadStatus `json:"status"`
}

func (c *UpdateStatusConfig) validate() error {
	if c.Status == "" {
		return fmt.Errorf("status is required")
	}
	if !c.Status.Valid() {
		return fmt.Errorf("unknown status %q", c.Status)
	}
	return nil
}

// UpdatePriorityConfig configures update_lead_priority.
type UpdatePriorityConfig struct {
	Priority domain.LeadPriority `json:"priority"`
}

func (c *UpdatePriorityConfig) validate() error {
	if c.Priority == "" {
		return fmt.Errorf("priority is required")
	}
	if !c.Priority.Valid() {
		return fmt.Errorf("unknown priority %q", c.Priority)
	}
	return nil
}

// AssignLeadConfig configures assign_lead.
type AssignLeadConfig struct {
	AgentID uuid.UUID `json:"agent_id"`
}

func (c *AssignLeadConfig) validate() error {
	if c.AgentID == uuid.Nil {
		return fmt.Errorf("agent_id is required")
	}
	return nil
}

// TagConfig configures add_tag and remove_tag.
type TagConfig struct {
	Tag string `json:"tag"`
}

func (c *TagConfig) validate() error {
	c.Tag = strings.TrimSpace(c.Tag)
	if c.Tag == "" {
		return fmt.Errorf("tag is required")
	}
	return nil
}

// CreateTaskConfig configures create_task.
type CreateTaskConfig struct {
	TaskType    string     `json:"task_type"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	AssigneeID  *uuid.UUID `json:"assignee_id,omitempty"`
	DueInHours  float64    `json:"due_in_hours,omitempty"`
}

func (c *CreateTaskConfig) validate() error {
	if c.TaskType == "" {
		c.TaskType = "follow_up"
	}
	if c.Title == "" {
		c.Title = "Automated Task"
	}
	if c.Description == "" {
		c.Description = "Task created by automation"
	}
	if c.DueInHours < 0 {
		return fmt.Errorf("due_in_hours must not be negative")
	}
	return nil
}

// NotificationConfig configures send_notification. Without RecipientID the
// lead's assignee is notified.
type NotificationConfig struct {
	NotificationType string         `json:"notification_type"`
	Title            string         `json:"title"`
	Message          string         `json:"message"`
	RecipientID      *uuid.UUID     `json:"recipient_id,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

func (c *NotificationConfig) validate() error {
	if c.NotificationType == "" {
		c.NotificationType = "info"
	}
	if c.Message == "" {
		c.Message = "Automated notification"
	}
	if c.Title == "" {
		c.Title = c.Message
	}
	return nil
}

// WebhookConfig configures send_webhook. The body is a JSON document with
// the run context and, when a lead is attached, the lead.
type WebhookConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

func (c *WebhookConfig) validate() error {
	u, err := url.Parse(c.URL)
	if err != nil || c.URL == "" {
		return fmt.Errorf("url is required")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url must be http or https")
	}
	c.Method = strings.ToUpper(c.Method)
	switch c.Method {
	case "":
		c.Method = http.MethodPost
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return fmt.Errorf("unsupported method %q", c.Method)
	}
	return nil
}

// DecodeConfig converts a stored action config into its typed form and
// validates it. Defaults are applied during validation.
func DecodeConfig(actionType domain.ActionType, raw map[string]any) (ActionConfig, error) {
	spec, ok := actionSpecs[actionType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownActionType, actionType)
	}
	return decode(spec, raw)
}

func decode(spec actionSpec, raw map[string]any) (ActionConfig, error) {
	cfg := spec.newConfig()
	if len(raw) > 0 {
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		if err := json.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

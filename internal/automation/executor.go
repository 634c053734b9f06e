package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/leadflow/internal/domain"
	"github.com/ignite/leadflow/internal/pkg/httpretry"
	"github.com/ignite/leadflow/internal/pkg/logger"
)

// Invocation is the context one action runs in.
type Invocation struct {
	OrganizationID uuid.UUID
	AutomationID   uuid.UUID
	RunID          uuid.UUID
	LeadID         *uuid.UUID
	TriggerData    map[string]any
}

// Outcome is the reported result of one action. A failed action is a value,
// never an error returned to the pipeline.
type Outcome struct {
	Success bool           `json:"success"`
	Detail  map[string]any `json:"detail,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func failure(format string, args ...any) Outcome {
	return Outcome{Error: fmt.Sprintf(format, args...)}
}

type handlerFunc func(e *Executor, ctx context.Context, cfg ActionConfig, inv Invocation) (map[string]any, error)

type actionSpec struct {
	newConfig func() ActionConfig
	run       handlerFunc
}

// actionSpecs is the closed set of supported actions.
var actionSpecs = map[domain.ActionType]actionSpec{
	domain.ActionSendEmail:          {func() ActionConfig { return &SendEmailConfig{} }, (*Executor).sendEmail},
	domain.ActionUpdateLeadStatus:   {func() ActionConfig { return &UpdateStatusConfig{} }, (*Executor).updateStatus},
	domain.ActionUpdateLeadPriority: {func() ActionConfig { return &UpdatePriorityConfig{} }, (*Executor).updatePriority},
	domain.ActionAssignLead:         {func() ActionConfig { return &AssignLeadConfig{} }, (*Executor).assignLead},
	domain.ActionAddTag:             {func() ActionConfig { return &TagConfig{} }, (*Executor).addTag},
	domain.ActionRemoveTag:          {func() ActionConfig { return &TagConfig{} }, (*Executor).removeTag},
	domain.ActionCreateTask:         {func() ActionConfig { return &CreateTaskConfig{} }, (*Executor).createTask},
	domain.ActionSendNotification:   {func() ActionConfig { return &NotificationConfig{} }, (*Executor).sendNotification},
	domain.ActionSendWebhook:        {func() ActionConfig { return &WebhookConfig{} }, (*Executor).sendWebhook},
}

// SupportedActions lists the action types the executor can run.
func SupportedActions() []domain.ActionType {
	return []domain.ActionType{
		domain.ActionSendEmail, domain.ActionUpdateLeadStatus, domain.ActionUpdateLeadPriority,
		domain.ActionAssignLead, domain.ActionAddTag, domain.ActionRemoveTag,
		domain.ActionCreateTask, domain.ActionSendNotification, domain.ActionSendWebhook,
	}
}

// Executor performs single automation actions.
type Executor struct {
	leads    LeadStore
	email    EmailSender
	notifier NotificationSender
	tasks    TaskCreator
	webhooks httpretry.HTTPDoer
	now      func() time.Time
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

func WithEmailSender(s EmailSender) ExecutorOption     { return func(e *Executor) { e.email = s } }
func WithNotifier(n NotificationSender) ExecutorOption { return func(e *Executor) { e.notifier = n } }
func WithTaskCreator(t TaskCreator) ExecutorOption     { return func(e *Executor) { e.tasks = t } }
func WithWebhookClient(c httpretry.HTTPDoer) ExecutorOption {
	return func(e *Executor) { e.webhooks = c }
}
func WithExecutorClock(now func() time.Time) ExecutorOption { return func(e *Executor) { e.now = now } }

// NewExecutor creates an executor over the lead store. Collaborators that
// are not configured make their actions fail with a descriptive error.
func NewExecutor(leads LeadStore, opts ...ExecutorOption) *Executor {
	e := &Executor{leads: leads, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one action. It never panics and never returns an error: every
// problem is reported in the Outcome.
func (e *Executor) Execute(ctx context.Context, action domain.AutomationAction, inv Invocation) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("action panicked", "component", "automation", "action_type", string(action.ActionType),
				"action_id", action.ID.String(), "panic", r)
			out = failure("action panicked: %v", r)
		}
	}()

	spec, ok := actionSpecs[action.ActionType]
	if !ok {
		return failure("%v: %q", ErrUnknownActionType, action.ActionType)
	}
	cfg, err := decode(spec, action.Config)
	if err != nil {
		return Outcome{Error: err.Error(), Detail: map[string]any{"action": string(action.ActionType)}}
	}

	detail, err := spec.run(e, ctx, cfg, inv)
	if detail == nil {
		detail = map[string]any{}
	}
	detail["action"] = string(action.ActionType)
	if inv.LeadID != nil {
		detail["lead_id"] = inv.LeadID.String()
	}
	if err != nil {
		return Outcome{Error: err.Error(), Detail: detail}
	}
	return Outcome{Success: true, Detail: detail}
}

// lead loads the invocation's lead, which mutating actions require.
func (e *Executor) lead(ctx context.Context, inv Invocation) (*domain.Lead, error) {
	if inv.LeadID == nil {
		return nil, errors.New("no lead specified")
	}
	if e.leads == nil {
		return nil, errors.New("lead store not configured")
	}
	l, err := e.leads.GetLead(ctx, *inv.LeadID)
	if err != nil {
		if errors.Is(err, ErrLeadNotFound) {
			return nil, fmt.Errorf("lead %s not found", inv.LeadID)
		}
		return nil, fmt.Errorf("load lead: %w", err)
	}
	return l, nil
}

func (e *Executor) patch(ctx context.Context, id uuid.UUID, p domain.LeadPatch) error {
	if _, err := e.leads.UpdateLead(ctx, id, p); err != nil {
		return fmt.Errorf("update lead: %w", err)
	}
	return nil
}

func (e *Executor) sendEmail(ctx context.Context, c ActionConfig, inv Invocation) (map[string]any, error) {
	cfg := c.(*SendEmailConfig)
	detail := map[string]any{"template_id": cfg.TemplateID.String()}
	if e.email == nil {
		return detail, errors.New("email sender not configured")
	}

	to := Recipient{Email: cfg.To, LeadID: inv.LeadID}
	data := map[string]any{"trigger": inv.TriggerData}
	if inv.LeadID != nil {
		l, err := e.lead(ctx, inv)
		if err != nil {
			return detail, err
		}
		if to.Email == "" {
			to.Email = l.Email
		}
		to.Name = l.FullName()
		data["lead"] = leadData(l)
	}
	if to.Email == "" {
		return detail, errors.New("no recipient address")
	}

	receipt, err := e.email.Send(ctx, cfg.TemplateID, to, data)
	if err != nil {
		return detail, fmt.Errorf("send email: %w", err)
	}
	detail["message_id"] = receipt.MessageID
	detail["provider"] = receipt.Provider
	return detail, nil
}

func (e *Executor) updateStatus(ctx context.Context, c ActionConfig, inv Invocation) (map[string]any, error) {
	cfg := c.(*UpdateStatusConfig)
	l, err := e.lead(ctx, inv)
	if err != nil {
		return nil, err
	}
	detail := map[string]any{"old_status": string(l.Status), "new_status": string(cfg.Status), "changed": false}
	if l.Status == cfg.Status {
		return detail, nil
	}
	if err := e.patch(ctx, l.ID, domain.LeadPatch{Status: &cfg.Status}); err != nil {
		return detail, err
	}
	detail["changed"] = true
	return detail, nil
}

func (e *Executor) updatePriority(ctx context.Context, c ActionConfig, inv Invocation) (map[string]any, error) {
	cfg := c.(*UpdatePriorityConfig)
	l, err := e.lead(ctx, inv)
	if err != nil {
		return nil, err
	}
	detail := map[string]any{"old_priority": string(l.Priority), "new_priority": string(cfg.Priority), "changed": false}
	if l.Priority == cfg.Priority {
		return detail, nil
	}
	if err := e.patch(ctx, l.ID, domain.LeadPatch{Priority: &cfg.Priority}); err != nil {
		return detail, err
	}
	detail["changed"] = true
	return detail, nil
}

func (e *Executor) assignLead(ctx context.Context, c ActionConfig, inv Invocation) (map[string]any, error) {
	cfg := c.(*AssignLeadConfig)
	l, err := e.lead(ctx, inv)
	if err != nil {
		return nil, err
	}
	detail := map[string]any{"agent_id": cfg.AgentID.String(), "changed": false}
	if l.AssigneeID != nil {
		detail["old_agent_id"] = l.AssigneeID.String()
		if *l.AssigneeID == cfg.AgentID {
			return detail, nil
		}
	}
	if err := e.patch(ctx, l.ID, domain.LeadPatch{AssigneeID: &cfg.AgentID}); err != nil {
		return detail, err
	}
	detail["changed"] = true
	return detail, nil
}

func (e *Executor) addTag(ctx context.Context, c ActionConfig, inv Invocation) (map[string]any, error) {
	cfg := c.(*TagConfig)
	l, err := e.lead(ctx, inv)
	if err != nil {
		return nil, err
	}
	detail := map[string]any{"tag": cfg.Tag, "changed": false, "current_tags": l.Tags}
	if l.HasTag(cfg.Tag) {
		return detail, nil
	}
	tags := append(append([]string(nil), l.Tags...), cfg.Tag)
	if err := e.patch(ctx, l.ID, domain.LeadPatch{Tags: &tags}); err != nil {
		return detail, err
	}
	detail["changed"] = true
	detail["current_tags"] = tags
	return detail, nil
}

func (e *Executor) removeTag(ctx context.Context, c ActionConfig, inv Invocation) (map[string]any, error) {
	cfg := c.(*TagConfig)
	l, err := e.lead(ctx, inv)
	if err != nil {
		return nil, err
	}
	detail := map[string]any{"tag": cfg.Tag, "changed": false, "current_tags": l.Tags}
	if !l.HasTag(cfg.Tag) {
		return detail, nil
	}
	tags := make([]string, 0, len(l.Tags))
	for _, t := range l.Tags {
		if t != cfg.Tag {
			tags = append(tags, t)
		}
	}
	if err := e.patch(ctx, l.ID, domain.LeadPatch{Tags: &tags}); err != nil {
		return detail, err
	}
	detail["changed"] = true
	detail["current_tags"] = tags
	return detail, nil
}

func (e *Executor) createTask(ctx context.Context, c ActionConfig, inv Invocation) (map[string]any, error) {
	cfg := c.(*CreateTaskConfig)
	detail := map[string]any{"task_type": cfg.TaskType, "task_title": cfg.Title}
	if e.tasks == nil {
		return detail, errors.New("task creator not configured")
	}
	assignee, err := e.assignee(ctx, cfg.AssigneeID, inv)
	if err != nil {
		return detail, err
	}

	now := e.now()
	t := &domain.LeadTask{
		OrganizationID: inv.OrganizationID,
		LeadID:         inv.LeadID,
		AssigneeID:     assignee,
		TaskType:       cfg.TaskType,
		Title:          cfg.Title,
		Description:    cfg.Description,
		CreatedAt:      now,
	}
	if cfg.DueInHours > 0 {
		due := now.Add(time.Duration(cfg.DueInHours * float64(time.Hour)))
		t.DueAt = &due
	}
	id, err := e.tasks.CreateLeadTask(ctx, t)
	if err != nil {
		return detail, fmt.Errorf("create task: %w", err)
	}
	detail["task_id"] = id.String()
	return detail, nil
}

func (e *Executor) sendNotification(ctx context.Context, c ActionConfig, inv Invocation) (map[string]any, error) {
	cfg := c.(*NotificationConfig)
	detail := map[string]any{"notification_type": cfg.NotificationType}
	if e.notifier == nil {
		return detail, errors.New("notification sender not configured")
	}
	recipient, err := e.assignee(ctx, cfg.RecipientID, inv)
	if err != nil {
		return detail, err
	}
	if recipient == nil {
		return detail, errors.New("no notification recipient")
	}

	meta := map[string]any{"automation_id": inv.AutomationID.String(), "run_id": inv.RunID.String()}
	for k, v := range cfg.Metadata {
		meta[k] = v
	}
	if inv.LeadID != nil {
		meta["lead_id"] = inv.LeadID.String()
	}
	n := Notification{
		OrganizationID: inv.OrganizationID,
		UserID:         *recipient,
		Type:           cfg.NotificationType,
		Title:          cfg.Title,
		Message:        cfg.Message,
		Metadata:       meta,
		CreatedAt:      e.now(),
	}
	if err := e.notifier.Notify(ctx, n); err != nil {
		return detail, fmt.Errorf("notify: %w", err)
	}
	detail["recipient_id"] = recipient.String()
	return detail, nil
}

// webhookPayload is the JSON body of send_webhook.
type webhookPayload struct {
	Event          string         `json:"event"`
	OrganizationID string         `json:"organization_id"`
	AutomationID   string         `json:"automation_id"`
	RunID          string         `json:"run_id"`
	TriggerData    map[string]any `json:"trigger_data,omitempty"`
	Lead           map[string]any `json:"lead,omitempty"`
	SentAt         time.Time      `json:"sent_at"`
}

func (e *Executor) sendWebhook(ctx context.Context, c ActionConfig, inv Invocation) (map[string]any, error) {
	cfg := c.(*WebhookConfig)
	detail := map[string]any{"url": cfg.URL, "method": cfg.Method}
	if e.webhooks == nil {
		return detail, errors.New("webhook client not configured")
	}

	payload := webhookPayload{
		Event:          "automation.action",
		OrganizationID: inv.OrganizationID.String(),
		AutomationID:   inv.AutomationID.String(),
		RunID:          inv.RunID.String(),
		TriggerData:    inv.TriggerData,
		SentAt:         e.now().UTC(),
	}
	if inv.LeadID != nil {
		l, err := e.lead(ctx, inv)
		if err != nil {
			return detail, err
		}
		payload.Lead = leadData(l)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return detail, fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, cfg.Method, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return detail, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Leadflow-Run", inv.RunID.String())
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.webhooks.Do(req)
	if err != nil {
		return detail, fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	detail["status_code"] = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return detail, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return detail, nil
}

// assignee returns explicit when set, otherwise the lead's assignee (nil if
// there is no lead or it is unassigned).
func (e *Executor) assignee(ctx context.Context, explicit *uuid.UUID, inv Invocation) (*uuid.UUID, error) {
	if explicit != nil {
		return explicit, nil
	}
	if inv.LeadID == nil {
		return nil, nil
	}
	l, err := e.lead(ctx, inv)
	if err != nil {
		return nil, err
	}
	return l.AssigneeID, nil
}

// leadData is the view of a lead exposed to e-mail templates.
func leadData(l *domain.Lead) map[string]any {
	return map[string]any{
		"id":             l.ID.String(),
		"email":          l.Email,
		"first_name":     l.FirstName,
		"last_name":      l.LastName,
		"full_name":      l.FullName(),
		"phone":          l.Phone,
		"source":         l.Source,
		"status":         string(l.Status),
		"priority":       string(l.Priority),
		"value_estimate": l.ValueEstimate,
		"insurance_type": l.InsuranceType,
		"city":           l.City,
		"state":          l.State,
		"tags":           l.Tags,
	}
}

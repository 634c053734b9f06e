package automation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/leadflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func invocationFor(l domain.Lead) Invocation {
	id := l.ID
	return Invocation{OrganizationID: l.OrganizationID, AutomationID: uuid.New(), RunID: uuid.New(), LeadID: &id}
}

func TestExecutor_SendEmailMissingTemplateIsAFailedOutcome(t *testing.T) {
	lead := testLead(uuid.New())
	email := &fakeEmail{}
	e := NewExecutor(newMemLeads(lead), WithEmailSender(email))

	var out Outcome
	require.NotPanics(t, func() {
		out = e.Execute(context.Background(), action(1, domain.ActionSendEmail, map[string]any{}), invocationFor(lead))
	})
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "template_id is required")
	assert.Empty(t, email.sent)
}

func TestExecutor_SendEmail(t *testing.T) {
	lead := testLead(uuid.New())
	email := &fakeEmail{}
	e := NewExecutor(newMemLeads(lead), WithEmailSender(email))
	tpl := uuid.New()
	inv := invocationFor(lead)
	inv.TriggerData = map[string]any{"segment_id": "s-1"}

	out := e.Execute(context.Background(), action(1, domain.ActionSendEmail, map[string]any{"template_id": tpl.String()}), inv)
	require.True(t, out.Success, out.Error)
	assert.Equal(t, "msg-1", out.Detail["message_id"])

	require.Len(t, email.sent, 1)
	sent := email.sent[0]
	assert.Equal(t, tpl, sent.templateID)
	assert.Equal(t, "pat@example.com", sent.to.Email)
	assert.Equal(t, "Pat Lee", sent.to.Name)
	assert.Equal(t, "Pat", sent.data["lead"].(map[string]any)["first_name"])
	assert.Equal(t, inv.TriggerData, sent.data["trigger"])

	t.Run("sender error", func(t *testing.T) {
		email.err = errors.New("throttled")
		out := e.Execute(context.Background(), action(1, domain.ActionSendEmail, map[string]any{"template_id": tpl.String()}), inv)
		assert.False(t, out.Success)
		assert.Contains(t, out.Error, "throttled")
	})

	t.Run("not configured", func(t *testing.T) {
		out := NewExecutor(newMemLeads(lead)).Execute(context.Background(),
			action(1, domain.ActionSendEmail, map[string]any{"template_id": tpl.String()}), inv)
		assert.False(t, out.Success)
		assert.Contains(t, out.Error, "not configured")
	})

	t.Run("malformed template id", func(t *testing.T) {
		out := e.Execute(context.Background(), action(1, domain.ActionSendEmail, map[string]any{"template_id": "nope"}), inv)
		assert.False(t, out.Success)
		assert.Contains(t, out.Error, "invalid action config")
	})
}

func TestExecutor_UnknownActionType(t *testing.T) {
	lead := testLead(uuid.New())
	out := NewExecutor(newMemLeads(lead)).Execute(context.Background(), action(1, "launch_rocket", nil), invocationFor(lead))
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "unknown action type")
}

func TestExecutor_UpdateStatusIsIdempotent(t *testing.T) {
	lead := testLead(uuid.New())
	leads := newMemLeads(lead)
	e := NewExecutor(leads)
	act := action(1, domain.ActionUpdateLeadStatus, map[string]any{"status": "qualified"})

	out := e.Execute(context.Background(), act, invocationFor(lead))
	require.True(t, out.Success, out.Error)
	assert.Equal(t, "new", out.Detail["old_status"])
	assert.Equal(t, "qualified", out.Detail["new_status"])
	assert.Equal(t, true, out.Detail["changed"])

	out = e.Execute(context.Background(), act, invocationFor(lead))
	require.True(t, out.Success)
	assert.Equal(t, false, out.Detail["changed"])
	assert.Equal(t, 1, leads.updates)
	assert.Equal(t, domain.LeadQualified, leads.get(lead.ID).Status)
}

func TestExecutor_ConfigValidation(t *testing.T) {
	lead := testLead(uuid.New())
	e := NewExecutor(newMemLeads(lead))

	tests := []struct {
		name   string
		action domain.AutomationAction
		errMsg string
	}{
		{"status missing", action(1, domain.ActionUpdateLeadStatus, nil), "status is required"},
		{"status unknown", action(1, domain.ActionUpdateLeadStatus, map[string]any{"status": "zombie"}), "unknown status"},
		{"priority unknown", action(1, domain.ActionUpdateLeadPriority, map[string]any{"priority": "p0"}), "unknown priority"},
		{"agent missing", action(1, domain.ActionAssignLead, map[string]any{}), "agent_id is required"},
		{"tag blank", action(1, domain.ActionAddTag, map[string]any{"tag": "  "}), "tag is required"},
		{"negative due", action(1, domain.ActionCreateTask, map[string]any{"due_in_hours": -1}), "must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := e.Execute(context.Background(), tt.action, invocationFor(lead))
			assert.False(t, out.Success)
			assert.Contains(t, out.Error, tt.errMsg)
		})
	}
}

func TestExecutor_MutationsRequireALead(t *testing.T) {
	e := NewExecutor(newMemLeads())
	out := e.Execute(context.Background(), action(1, domain.ActionAddTag, map[string]any{"tag": "vip"}), Invocation{})
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "no lead specified")

	missing := uuid.New()
	out = e.Execute(context.Background(), action(1, domain.ActionAddTag, map[string]any{"tag": "vip"}), Invocation{LeadID: &missing})
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "not found")
}

func TestExecutor_Tags(t *testing.T) {
	lead := testLead(uuid.New())
	leads := newMemLeads(lead)
	e := NewExecutor(leads)
	inv := invocationFor(lead)

	out := e.Execute(context.Background(), action(1, domain.ActionAddTag, map[string]any{"tag": "vip"}), inv)
	require.True(t, out.Success)
	assert.Equal(t, []string{"webinar", "vip"}, leads.get(lead.ID).Tags)

	out = e.Execute(context.Background(), action(1, domain.ActionAddTag, map[string]any{"tag": "vip"}), inv)
	require.True(t, out.Success)
	assert.Equal(t, false, out.Detail["changed"])
	assert.Equal(t, []string{"webinar", "vip"}, leads.get(lead.ID).Tags)

	out = e.Execute(context.Background(), action(1, domain.ActionRemoveTag, map[string]any{"tag": "webinar"}), inv)
	require.True(t, out.Success)
	assert.Equal(t, []string{"vip"}, leads.get(lead.ID).Tags)

	out = e.Execute(context.Background(), action(1, domain.ActionRemoveTag, map[string]any{"tag": "webinar"}), inv)
	require.True(t, out.Success)
	assert.Equal(t, false, out.Detail["changed"])
	assert.Equal(t, 2, leads.updates)
}

func TestExecutor_AssignLead(t *testing.T) {
	lead := testLead(uuid.New())
	leads := newMemLeads(lead)
	agent := uuid.New()
	e := NewExecutor(leads)

	out := e.Execute(context.Background(), action(1, domain.ActionAssignLead, map[string]any{"agent_id": agent.String()}), invocationFor(lead))
	require.True(t, out.Success, out.Error)
	require.NotNil(t, leads.get(lead.ID).AssigneeID)
	assert.Equal(t, agent, *leads.get(lead.ID).AssigneeID)

	out = e.Execute(context.Background(), action(1, domain.ActionAssignLead, map[string]any{"agent_id": agent.String()}), invocationFor(lead))
	assert.Equal(t, false, out.Detail["changed"])
	assert.Equal(t, agent.String(), out.Detail["old_agent_id"])
}

func TestExecutor_CreateTask(t *testing.T) {
	lead := testLead(uuid.New())
	agent := uuid.New()
	lead.AssigneeID = &agent
	tasks := &fakeTaskCreator{}
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	e := NewExecutor(newMemLeads(lead), WithTaskCreator(tasks), WithExecutorClock(func() time.Time { return now }))

	out := e.Execute(context.Background(), action(1, domain.ActionCreateTask, map[string]any{"due_in_hours": 24}), invocationFor(lead))
	require.True(t, out.Success, out.Error)
	require.Len(t, tasks.created, 1)

	task := tasks.created[0]
	assert.Equal(t, "follow_up", task.TaskType)
	assert.Equal(t, "Automated Task", task.Title)
	assert.Equal(t, agent, *task.AssigneeID)
	assert.Equal(t, now.Add(24*time.Hour), *task.DueAt)
	assert.Equal(t, task.ID.String(), out.Detail["task_id"])
}

func TestExecutor_SendNotification(t *testing.T) {
	lead := testLead(uuid.New())
	notifier := &fakeNotifier{}
	e := NewExecutor(newMemLeads(lead), WithNotifier(notifier))

	out := e.Execute(context.Background(), action(1, domain.ActionSendNotification, nil), invocationFor(lead))
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "no notification recipient")

	agent := uuid.New()
	lead.AssigneeID = &agent
	e = NewExecutor(newMemLeads(lead), WithNotifier(notifier))
	out = e.Execute(context.Background(), action(1, domain.ActionSendNotification, map[string]any{
		"title":    "Hot lead",
		"metadata": map[string]any{"source": "web"},
	}), invocationFor(lead))
	require.True(t, out.Success, out.Error)
	require.Len(t, notifier.sent, 1)

	n := notifier.sent[0]
	assert.Equal(t, agent, n.UserID)
	assert.Equal(t, "info", n.Type)
	assert.Equal(t, "Hot lead", n.Title)
	assert.Equal(t, "Automated notification", n.Message)
	assert.Equal(t, "web", n.Metadata["source"])
	assert.Equal(t, lead.ID.String(), n.Metadata["lead_id"])
}

func TestExecutor_SendWebhook(t *testing.T) {
	lead := testLead(uuid.New())
	type received struct {
		header  http.Header
		payload webhookPayload
	}
	hits := make(chan received, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var rcv received
		rcv.header = r.Header.Clone()
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&rcv.payload))
		hits <- rcv
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	e := NewExecutor(newMemLeads(lead), WithWebhookClient(srv.Client()), WithExecutorClock(func() time.Time { return now }))
	inv := invocationFor(lead)
	inv.TriggerData = map[string]any{"segment_id": "s-1"}

	out := e.Execute(context.Background(), action(1, domain.ActionSendWebhook, map[string]any{
		"url":     srv.URL + "/hooks/leads",
		"headers": map[string]any{"X-Api-Key": "k-1"},
	}), inv)
	require.True(t, out.Success, out.Error)
	assert.Equal(t, http.StatusAccepted, out.Detail["status_code"])
	assert.Equal(t, "POST", out.Detail["method"])

	rcv := <-hits
	header, got := rcv.header, rcv.payload
	assert.Equal(t, "k-1", header.Get("X-Api-Key"))
	assert.Equal(t, inv.RunID.String(), header.Get("X-Leadflow-Run"))
	assert.Equal(t, "automation.action", got.Event)
	assert.Equal(t, inv.AutomationID.String(), got.AutomationID)
	assert.Equal(t, "s-1", got.TriggerData["segment_id"])
	assert.Equal(t, "pat@example.com", got.Lead["email"])
	assert.True(t, now.Equal(got.SentAt))
}

func TestExecutor_SendWebhookFailures(t *testing.T) {
	lead := testLead(uuid.New())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()
	cfg := map[string]any{"url": srv.URL}

	out := NewExecutor(newMemLeads(lead), WithWebhookClient(srv.Client())).
		Execute(context.Background(), action(1, domain.ActionSendWebhook, cfg), invocationFor(lead))
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "status 422")

	out = NewExecutor(newMemLeads(lead)).
		Execute(context.Background(), action(1, domain.ActionSendWebhook, cfg), invocationFor(lead))
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "webhook client not configured")

	for _, bad := range []map[string]any{{}, {"url": "ftp://x"}, {"url": srv.URL, "method": "DELETE"}} {
		_, err := DecodeConfig(domain.ActionSendWebhook, bad)
		assert.ErrorIs(t, err, ErrInvalidConfig, bad)
	}
}

func TestExecutor_RecoversFromPanics(t *testing.T) {
	lead := testLead(uuid.New())
	leads := newMemLeads(lead)
	leads.panics = true

	out := NewExecutor(leads).Execute(context.Background(),
		action(1, domain.ActionUpdateLeadStatus, map[string]any{"status": "won"}), invocationFor(lead))
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "lead store exploded")
}

func TestDecodeConfig(t *testing.T) {
	cfg, err := DecodeConfig(domain.ActionSendNotification, nil)
	require.NoError(t, err)
	n := cfg.(*NotificationConfig)
	assert.Equal(t, "info", n.NotificationType)
	assert.Equal(t, "Automated notification", n.Message)

	_, err = DecodeConfig("bogus", nil)
	assert.ErrorIs(t, err, ErrUnknownActionType)

	_, err = DecodeConfig(domain.ActionSendEmail, map[string]any{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	for _, at := range SupportedActions() {
		_, ok := actionSpecs[at]
		assert.True(t, ok, "no handler for %s", at)
	}
}

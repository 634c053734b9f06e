package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// TriggerType names the lifecycle event or schedule that starts an automation.
type TriggerType string

const (
	TriggerLeadCreated         TriggerType = "lead_created"
	TriggerLeadStatusChanged   TriggerType = "lead_status_changed"
	TriggerLeadPriorityChanged TriggerType = "lead_priority_changed"
	TriggerLeadAssigned        TriggerType = "lead_assigned"
	TriggerLeadValueChanged    TriggerType = "lead_value_changed"
	TriggerTimeBased           TriggerType = "time_based"
	TriggerSegmentEntered      TriggerType = "segment_entered"
	TriggerSegmentExited       TriggerType = "segment_exited"
)

// TriggerTypes lists every supported trigger type.
var TriggerTypes = []TriggerType{
	TriggerLeadCreated, TriggerLeadStatusChanged, TriggerLeadPriorityChanged, TriggerLeadAssigned,
	TriggerLeadValueChanged, TriggerTimeBased, TriggerSegmentEntered, TriggerSegmentExited,
}

// Valid reports whether t is a known trigger type.
func (t TriggerType) Valid() bool {
	for _, v := range TriggerTypes {
		if v == t {
			return true
		}
	}
	return false
}

// ActionType names one step an automation can perform.
type ActionType string

const (
	ActionSendEmail          ActionType = "send_email"
	ActionUpdateLeadStatus   ActionType = "update_lead_status"
	ActionUpdateLeadPriority ActionType = "update_lead_priority"
	ActionAssignLead         ActionType = "assign_lead"
	ActionAddTag             ActionType = "add_tag"
	ActionRemoveTag          ActionType = "remove_tag"
	ActionCreateTask         ActionType = "create_task"
	ActionSendNotification   ActionType = "send_notification"
	ActionSendWebhook        ActionType = "send_webhook"
)

// Automation binds a trigger to an ordered chain of actions.
type Automation struct {
	ID             uuid.UUID          `json:"id" db:"id"`
	OrganizationID uuid.UUID          `json:"organization_id" db:"organization_id"`
	CampaignID     *uuid.UUID         `json:"campaign_id" db:"campaign_id"`
	Name           string             `json:"name" db:"name"`
	Slug           string             `json:"slug" db:"slug"`
	Description    string             `json:"description" db:"description"`
	TriggerType    TriggerType        `json:"trigger_type" db:"trigger_type"`
	TriggerConfig  map[string]any     `json:"trigger_config" db:"trigger_config"`
	Active         bool               `json:"is_active" db:"is_active"`
	RunImmediately bool               `json:"run_immediately" db:"run_immediately"`
	Actions        []AutomationAction `json:"actions,omitempty"`
	CreatedAt      time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at" db:"updated_at"`
}

// OrderedActions returns all actions sorted by Order. Inactive actions are
// included so they keep their slot.
func (a *Automation) OrderedActions() []AutomationAction {
	out := append([]AutomationAction(nil), a.Actions...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// AutomationAction is one step of an automation. Config is the raw stored
// shape; it is decoded into a typed config before execution.
type AutomationAction struct {
	ID           uuid.UUID      `json:"id" db:"id"`
	AutomationID uuid.UUID      `json:"automation_id" db:"automation_id"`
	ActionType   ActionType     `json:"action_type" db:"action_type"`
	Order        int            `json:"order" db:"action_order"`
	Active       bool           `json:"is_active" db:"is_active"`
	Config       map[string]any `json:"config" db:"config"`
}

// RunStatus is the lifecycle state of an AutomationRun.
type RunStatus string

const (
	RunPending    RunStatus = "pending"
	RunProcessing RunStatus = "processing"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
)

// IsTerminal returns true once the run can no longer change status.
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed
}

// AutomationRun is the durable record of one automation invocation.
type AutomationRun struct {
	ID             uuid.UUID      `json:"id" db:"id"`
	AutomationID   uuid.UUID      `json:"automation_id" db:"automation_id"`
	OrganizationID uuid.UUID      `json:"organization_id" db:"organization_id"`
	LeadID         *uuid.UUID     `json:"lead_id" db:"lead_id"`
	Status         RunStatus      `json:"status" db:"status"`
	TriggerData    map[string]any `json:"trigger_data" db:"trigger_data"`
	ExecutionLog   ExecutionLog   `json:"execution_log" db:"execution_log"`
	StartedAt      time.Time      `json:"started_at" db:"started_at"`
	CompletedAt    *time.Time     `json:"completed_at" db:"completed_at"`
}

// ExecutionLog is the append-only account of a run's actions.
type ExecutionLog struct {
	Actions []ActionLogEntry `json:"actions"`
	Error   string           `json:"error,omitempty"`
}

// Failed returns how many logged actions reported failure.
func (l ExecutionLog) Failed() int {
	n := 0
	for _, a := range l.Actions {
		if !a.Success {
			n++
		}
	}
	return n
}

// ActionLogEntry records the outcome of one executed action.
type ActionLogEntry struct {
	Order      int            `json:"order"`
	ActionType ActionType     `json:"action_type"`
	Success    bool           `json:"success"`
	Detail     map[string]any `json:"detail,omitempty"`
	Error      string         `json:"error,omitempty"`
	At         time.Time      `json:"at"`
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// LeadStatus enumerates the sales pipeline stage of a lead.
type LeadStatus string

const (
	LeadNew         LeadStatus = "new"
	LeadContacted   LeadStatus = "contacted"
	LeadQualified   LeadStatus = "qualified"
	LeadProposal    LeadStatus = "proposal"
	LeadNegotiation LeadStatus = "negotiation"
	LeadWon         LeadStatus = "won"
	LeadLost        LeadStatus = "lost"
)

// LeadStatuses lists every valid LeadStatus in pipeline order.
var LeadStatuses = []LeadStatus{
	LeadNew, LeadContacted, LeadQualified, LeadProposal, LeadNegotiation, LeadWon, LeadLost,
}

// Valid reports whether s is a known status.
func (s LeadStatus) Valid() bool {
	for _, v := range LeadStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// LeadPriority enumerates how urgently a lead should be worked.
type LeadPriority string

const (
	PriorityLow    LeadPriority = "low"
	PriorityMedium LeadPriority = "medium"
	PriorityHigh   LeadPriority = "high"
	PriorityUrgent LeadPriority = "urgent"
)

// LeadPriorities lists every valid LeadPriority, lowest first.
var LeadPriorities = []LeadPriority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}

// Valid reports whether p is a known priority.
func (p LeadPriority) Valid() bool {
	for _, v := range LeadPriorities {
		if v == p {
			return true
		}
	}
	return false
}

// Lead is the record segmented and acted upon by automations.
type Lead struct {
	ID             uuid.UUID    `json:"id" db:"id"`
	OrganizationID uuid.UUID    `json:"organization_id" db:"organization_id"`
	Email          string       `json:"email" db:"email"`
	FirstName      string       `json:"first_name" db:"first_name"`
	LastName       string       `json:"last_name" db:"last_name"`
	Phone          string       `json:"phone" db:"phone"`
	Source         string       `json:"source" db:"source"`
	Status         LeadStatus   `json:"status" db:"status"`
	Priority       LeadPriority `json:"priority" db:"priority"`
	AssigneeID     *uuid.UUID   `json:"assignee_id" db:"assignee_id"`
	ValueEstimate  float64      `json:"value_estimate" db:"value_estimate"`
	InsuranceType  string       `json:"insurance_type" db:"insurance_type"`
	City           string       `json:"city" db:"city"`
	State          string       `json:"state" db:"state"`
	Tags           []string     `json:"tags" db:"tags"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at" db:"updated_at"`
}

// FullName joins first and last name, skipping empty parts.
func (l *Lead) FullName() string {
	switch {
	case l.FirstName == "":
		return l.LastName
	case l.LastName == "":
		return l.FirstName
	}
	return l.FirstName + " " + l.LastName
}

// HasTag reports whether the lead carries tag (exact match).
func (l *Lead) HasTag(tag string) bool {
	for _, t := range l.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// LeadPatch is a partial update to a lead. Nil fields are left unchanged.
type LeadPatch struct {
	Status     *LeadStatus
	Priority   *LeadPriority
	AssigneeID *uuid.UUID
	Tags       *[]string
}

// IsEmpty reports whether the patch changes nothing.
func (p LeadPatch) IsEmpty() bool {
	return p.Status == nil && p.Priority == nil && p.AssigneeID == nil && p.Tags == nil
}

// Apply returns a copy of l with the patch applied.
func (p LeadPatch) Apply(l Lead) Lead {
	if p.Status != nil {
		l.Status = *p.Status
	}
	if p.Priority != nil {
		l.Priority = *p.Priority
	}
	if p.AssigneeID != nil {
		id := *p.AssigneeID
		l.AssigneeID = &id
	}
	if p.Tags != nil {
		l.Tags = append([]string(nil), (*p.Tags)...)
	}
	return l
}

// LeadTask is a follow-up work item for an agent, created by automations.
type LeadTask struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	OrganizationID uuid.UUID  `json:"organization_id" db:"organization_id"`
	LeadID         *uuid.UUID `json:"lead_id" db:"lead_id"`
	AssigneeID     *uuid.UUID `json:"assignee_id" db:"assignee_id"`
	TaskType       string     `json:"task_type" db:"task_type"`
	Title          string     `json:"title" db:"title"`
	Description    string     `json:"description" db:"description"`
	DueAt          *time.Time `json:"due_at" db:"due_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

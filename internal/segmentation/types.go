package segmentation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ==========================================
// OPERATORS
// ==========================================

// Operator represents a comparison operator
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
)

// ==========================================
// FIELD TYPES
// ==========================================

// FieldType represents the data type of a lead field
type FieldType string

const (
	FieldString FieldType = "string"
	FieldEnum   FieldType = "enum"
	FieldNumber FieldType = "number"
	FieldDate   FieldType = "date"
	FieldTags   FieldType = "tags"
)

// OperatorMetadata contains info about an operator
type OperatorMetadata struct {
	Operator        Operator    `json:"operator"`
	Label           string      `json:"label"`
	Description     string      `json:"description"`
	ApplicableTypes []FieldType `json:"applicable_types"`
	RequiresList    bool        `json:"requires_list"`
}

// GetOperatorMetadata returns metadata for all operators. It is also the
// table that decides which operators a field type accepts.
func GetOperatorMetadata() []OperatorMetadata {
	return []OperatorMetadata{
		{OpEquals, "Equals", "Exact match (dates compare by calendar day)", []FieldType{FieldString, FieldEnum, FieldNumber, FieldDate, FieldTags}, false},
		{OpNotEquals, "Does not equal", "Not an exact match", []FieldType{FieldString, FieldEnum, FieldNumber, FieldTags}, false},
		{OpContains, "Contains", "Contains the text, or carries the tag", []FieldType{FieldString, FieldTags}, false},
		{OpNotContains, "Does not contain", "Does not contain the text, or lacks the tag", []FieldType{FieldString, FieldTags}, false},
		{OpStartsWith, "Starts with", "Begins with the text", []FieldType{FieldString}, false},
		{OpEndsWith, "Ends with", "Ends with the text", []FieldType{FieldString}, false},
		{OpIn, "Is one of", "Matches any comma-separated value", []FieldType{FieldString, FieldEnum}, true},
		{OpNotIn, "Is not one of", "Matches none of the comma-separated values", []FieldType{FieldString, FieldEnum}, true},
		{OpGreaterThan, "Greater than", "Numerically larger, or later in time", []FieldType{FieldNumber, FieldDate}, false},
		{OpLessThan, "Less than", "Numerically smaller, or earlier in time", []FieldType{FieldNumber, FieldDate}, false},
	}
}

var operatorIndex = func() map[Operator]OperatorMetadata {
	m := make(map[Operator]OperatorMetadata)
	for _, meta := range GetOperatorMetadata() {
		m[meta.Operator] = meta
	}
	return m
}()

func getOperatorMeta(op Operator) *OperatorMetadata {
	if meta, ok := operatorIndex[op]; ok {
		return &meta
	}
	return nil
}

// GetAvailableOperators returns the operators legal for a field type.
func GetAvailableOperators(fieldType FieldType) []OperatorMetadata {
	var out []OperatorMetadata
	for _, meta := range GetOperatorMetadata() {
		if meta.appliesTo(fieldType) {
			out = append(out, meta)
		}
	}
	return out
}

func (m OperatorMetadata) appliesTo(ft FieldType) bool {
	for _, t := range m.ApplicableTypes {
		if t == ft {
			return true
		}
	}
	return false
}

// ==========================================
// RESULTS
// ==========================================

// RuleWarning explains why a rule was treated as malformed. A malformed rule
// counts as false under AND and is left out under OR.
type RuleWarning struct {
	RuleID   uuid.UUID `json:"rule_id"`
	Field    string    `json:"field"`
	Operator string    `json:"operator"`
	Value    string    `json:"value"`
	Reason   string    `json:"reason"`
}

func (w RuleWarning) String() string {
	return fmt.Sprintf("rule %s (%s %s %q): %s", w.RuleID, w.Field, w.Operator, w.Value, w.Reason)
}

// EvaluationResult is the outcome of evaluating one segment's rules against
// its organization's leads.
type EvaluationResult struct {
	SegmentID      uuid.UUID     `json:"segment_id"`
	MatchingIDs    []uuid.UUID   `json:"matching_ids"`
	CandidateCount int           `json:"candidate_count"`
	Warnings       []RuleWarning `json:"warnings,omitempty"`
	EvaluatedAt    time.Time     `json:"evaluated_at"`
	EvalTimeMs     float64       `json:"eval_time_ms"`
}

// UpdateResult is the membership diff applied by UpdateMemberships.
type UpdateResult struct {
	SegmentID uuid.UUID     `json:"segment_id"`
	Added     int           `json:"added"`
	Removed   int           `json:"removed"`
	Warnings  []RuleWarning `json:"warnings,omitempty"`
}

// SweepResult aggregates a RecomputeAll pass.
type SweepResult struct {
	Segments int                  `json:"segments"`
	Added    int                  `json:"added"`
	Removed  int                  `json:"removed"`
	Errors   map[uuid.UUID]string `json:"errors,omitempty"`
}

// TransitionKind says whether a lead entered or left a segment.
type TransitionKind string

const (
	Entered TransitionKind = "entered"
	Exited  TransitionKind = "exited"
)

// Transition is reported for every membership change the engine commits.
type Transition struct {
	OrganizationID uuid.UUID
	SegmentID      uuid.UUID
	LeadID         uuid.UUID
	Kind           TransitionKind
	At             time.Time
}

// splitList splits a comma-separated rule value, trimming each element and
// dropping empties.
func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

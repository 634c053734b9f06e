package segmentation

import (
	"sort"
	"time"

	"github.com/ignite/leadflow/internal/domain"
)

// Field describes one lead attribute that rules may reference. Exactly one
// accessor is set, matching Type.
type Field struct {
	ID     string    `json:"id"`
	Label  string    `json:"label"`
	Type   FieldType `json:"type"`
	Values []string  `json:"values,omitempty"` // closed enum domain; nil means open

	text  func(*domain.Lead) string
	num   func(*domain.Lead) float64
	at    func(*domain.Lead) time.Time
	items func(*domain.Lead) []string
}

// Operators lists the operators legal for this field.
func (f Field) Operators() []OperatorMetadata {
	return GetAvailableOperators(f.Type)
}

func (f Field) allows(op Operator) bool {
	meta := getOperatorMeta(op)
	return meta != nil && meta.appliesTo(f.Type)
}

func (f Field) inDomain(v string) bool {
	if f.Values == nil {
		return true
	}
	for _, allowed := range f.Values {
		if allowed == v {
			return true
		}
	}
	return false
}

func statusValues() []string {
	out := make([]string, len(domain.LeadStatuses))
	for i, s := range domain.LeadStatuses {
		out[i] = string(s)
	}
	return out
}

func priorityValues() []string {
	out := make([]string, len(domain.LeadPriorities))
	for i, p := range domain.LeadPriorities {
		out[i] = string(p)
	}
	return out
}

var fieldCatalog = map[string]Field{
	"status": {ID: "status", Label: "Status", Type: FieldEnum, Values: statusValues(),
		text: func(l *domain.Lead) string { return string(l.Status) }},
	"priority": {ID: "priority", Label: "Priority", Type: FieldEnum, Values: priorityValues(),
		text: func(l *domain.Lead) string { return string(l.Priority) }},
	"source": {ID: "source", Label: "Source", Type: FieldEnum,
		text: func(l *domain.Lead) string { return l.Source }},
	"insurance_type": {ID: "insurance_type", Label: "Insurance type", Type: FieldString,
		text: func(l *domain.Lead) string { return l.InsuranceType }},
	"state": {ID: "state", Label: "State", Type: FieldString,
		text: func(l *domain.Lead) string { return l.State }},
	"city": {ID: "city", Label: "City", Type: FieldString,
		text: func(l *domain.Lead) string { return l.City }},
	"value_estimate": {ID: "value_estimate", Label: "Estimated value", Type: FieldNumber,
		num: func(l *domain.Lead) float64 { return l.ValueEstimate }},
	"created_at": {ID: "created_at", Label: "Created", Type: FieldDate,
		at: func(l *domain.Lead) time.Time { return l.CreatedAt }},
	"updated_at": {ID: "updated_at", Label: "Last updated", Type: FieldDate,
		at: func(l *domain.Lead) time.Time { return l.UpdatedAt }},
	"tags": {ID: "tags", Label: "Tags", Type: FieldTags,
		items: func(l *domain.Lead) []string { return l.Tags }},
}

// LookupField returns the catalogue entry for a field id.
func LookupField(id string) (Field, bool) {
	f, ok := fieldCatalog[id]
	return f, ok
}

// Fields returns the whole catalogue ordered by id.
func Fields() []Field {
	out := make([]Field, 0, len(fieldCatalog))
	for _, f := range fieldCatalog {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

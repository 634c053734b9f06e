package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Segment is a named, organization-scoped group of leads. Dynamic segments
// derive membership from their rules; static segments hold an explicit list.
type Segment struct {
	ID             uuid.UUID `json:"id" db:"id"`
	OrganizationID uuid.UUID `json:"organization_id" db:"organization_id"`
	Name           string    `json:"name" db:"name"`
	Slug           string    `json:"slug" db:"slug"`
	Description    string    `json:"description" db:"description"`
	Active         bool      `json:"is_active" db:"is_active"`
	Dynamic        bool      `json:"is_dynamic" db:"is_dynamic"`
	MatchAll       bool      `json:"match_all" db:"match_all"`
	Rules          []Rule    `json:"rules,omitempty"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// ActiveRules returns the segment's active rules in evaluation order.
func (s *Segment) ActiveRules() []Rule {
	out := make([]Rule, 0, len(s.Rules))
	for _, r := range s.Rules {
		if r.Active {
			out = append(out, r)
		}
	}
	SortRules(out)
	return out
}

// Rule is a single user-authored predicate on a lead field.
type Rule struct {
	ID        uuid.UUID `json:"id" db:"id"`
	SegmentID uuid.UUID `json:"segment_id" db:"segment_id"`
	Field     string    `json:"field" db:"field"`
	Operator  string    `json:"operator" db:"operator"`
	Value     string    `json:"value" db:"value"`
	Active    bool      `json:"is_active" db:"is_active"`
	Order     int       `json:"order" db:"rule_order"`
}

// SortRules orders rules by Order, keeping insertion order for ties.
func SortRules(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Order < rules[j].Order })
}

// Membership records whether a lead currently belongs to a segment. Rows are
// never deleted; removal flips Active to false.
type Membership struct {
	LeadID    uuid.UUID `json:"lead_id" db:"lead_id"`
	SegmentID uuid.UUID `json:"segment_id" db:"segment_id"`
	Active    bool      `json:"is_active" db:"is_active"`
	AddedAt   time.Time `json:"added_at" db:"added_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

package segmentation_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/leadflow/internal/domain"
	"github.com/ignite/leadflow/internal/segmentation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rule(field, op, value string) domain.Rule {
	return domain.Rule{ID: uuid.New(), Field: field, Operator: op, Value: value, Active: true}
}

func sampleLead() domain.Lead {
	return domain.Lead{
		ID:            uuid.New(),
		Status:        domain.LeadQualified,
		Priority:      domain.PriorityHigh,
		Source:        "web",
		InsuranceType: "auto",
		State:         "CA",
		City:          "San Diego",
		ValueEstimate: 1500,
		Tags:          []string{"vip", "renewal"},
		CreatedAt:     time.Date(2026, 3, 10, 18, 30, 0, 0, time.UTC),
		UpdatedAt:     time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestEvaluate_Operators(t *testing.T) {
	tests := []struct {
		name string
		rule domain.Rule
		want bool
	}{
		{"enum equals", rule("status", "equals", "qualified"), true},
		{"enum not_equals", rule("status", "not_equals", "qualified"), false},
		{"enum in trims elements", rule("priority", "in", " low , high "), true},
		{"enum not_in", rule("priority", "not_in", "low,medium"), true},
		{"open enum source", rule("source", "in", "referral, web"), true},
		{"string equals is exact", rule("state", "equals", "ca"), false},
		{"string equals trims value", rule("state", "equals", " CA "), true},
		{"string starts_with trims value", rule("city", "starts_with", " San"), true},
		{"string contains", rule("city", "contains", "Dieg"), true},
		{"string not_contains", rule("city", "not_contains", "Francisco"), true},
		{"string starts_with", rule("city", "starts_with", "San"), true},
		{"string ends_with", rule("insurance_type", "ends_with", "to"), true},
		{"string in", rule("state", "in", "NY, CA"), true},
		{"string not_in", rule("state", "not_in", "NY,TX"), true},
		{"number equals", rule("value_estimate", "equals", "1500"), true},
		{"number not_equals", rule("value_estimate", "not_equals", "1500.0"), false},
		{"number greater_than", rule("value_estimate", "greater_than", "1000"), true},
		{"number less_than", rule("value_estimate", "less_than", " 1000 "), false},
		{"date equals truncates to day", rule("created_at", "equals", "2026-03-10"), true},
		{"date equals with timestamp", rule("created_at", "equals", "2026-03-10T01:00:00Z"), true},
		{"date greater_than", rule("created_at", "greater_than", "2026-03-10T12:00:00"), true},
		{"date less_than", rule("updated_at", "less_than", "2026-04-01"), false},
		{"tags contains", rule("tags", "contains", "vip"), true},
		{"tags not_contains", rule("tags", "not_contains", "cold"), true},
		{"tags equals is order insensitive", rule("tags", "equals", "renewal, vip"), true},
		{"tags not_equals", rule("tags", "not_equals", "vip"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, warnings := segmentation.Evaluate([]domain.Rule{tt.rule}, true, sampleLead())
			assert.Empty(t, warnings)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_MalformedRules(t *testing.T) {
	malformed := []domain.Rule{
		rule("value_estimate", "greater_than", "lots"),
		rule("status", "equals", "hot"),
		rule("status", "contains", "qual"),
		rule("created_at", "less_than", "yesterday"),
		rule("favorite_color", "equals", "blue"),
		rule("state", "in", " , "),
		rule("tags", "starts_with", "v"),
	}
	for _, bad := range malformed {
		t.Run(bad.Field+"_"+bad.Operator, func(t *testing.T) {
			good := rule("state", "equals", "CA")

			matched, warnings := segmentation.Evaluate([]domain.Rule{good, bad}, true, sampleLead())
			assert.False(t, matched, "malformed rule contributes false under AND")
			require.Len(t, warnings, 1)
			assert.Equal(t, bad.ID, warnings[0].RuleID)
			assert.NotEmpty(t, warnings[0].Reason)

			matched, warnings = segmentation.Evaluate([]domain.Rule{good, bad}, false, sampleLead())
			assert.True(t, matched, "malformed rule is omitted under OR")
			assert.Len(t, warnings, 1)

			matched, _ = segmentation.Evaluate([]domain.Rule{bad}, false, sampleLead())
			assert.False(t, matched)
		})
	}
}

func TestEvaluate_EmptyRuleSet(t *testing.T) {
	inactive := rule("state", "equals", "NY")
	inactive.Active = false

	for _, rules := range [][]domain.Rule{nil, {inactive}} {
		got, _ := segmentation.Evaluate(rules, true, sampleLead())
		assert.True(t, got)
		assert.Equal(t, segmentation.EmptyRuleSetMatches(true), got)

		got, _ = segmentation.Evaluate(rules, false, sampleLead())
		assert.False(t, got)
	}
}

func TestEvaluate_Combination(t *testing.T) {
	match := rule("state", "equals", "CA")
	miss := rule("status", "equals", "lost")

	all, _ := segmentation.Evaluate([]domain.Rule{match, miss}, true, sampleLead())
	either, _ := segmentation.Evaluate([]domain.Rule{match, miss}, false, sampleLead())
	assert.False(t, all)
	assert.True(t, either)

	none, _ := segmentation.Evaluate([]domain.Rule{miss}, false, sampleLead())
	assert.False(t, none)
}

func TestMatchingIDs_QualifiedInCalifornia(t *testing.T) {
	rules := []domain.Rule{rule("status", "equals", "qualified"), rule("state", "equals", "CA")}
	leads := []domain.Lead{
		{ID: uuid.New(), Status: domain.LeadQualified, State: "CA"},
		{ID: uuid.New(), Status: domain.LeadQualified, State: "NY"},
		{ID: uuid.New(), Status: domain.LeadNew, State: "CA"},
	}

	ids, warnings := segmentation.MatchingIDs(rules, true, leads)
	assert.Empty(t, warnings)
	assert.Equal(t, []uuid.UUID{leads[0].ID}, ids)
}

func TestCompile_WarningsFollowRuleOrder(t *testing.T) {
	first := rule("value_estimate", "equals", "x")
	first.Order = 2
	second := rule("status", "equals", "nope")
	second.Order = 1

	m := segmentation.Compile([]domain.Rule{first, second}, true)
	warnings := m.Warnings()
	require.Len(t, warnings, 2)
	assert.Equal(t, second.ID, warnings[0].RuleID)
	assert.Equal(t, first.ID, warnings[1].RuleID)
}

func TestGetAvailableOperators(t *testing.T) {
	ops := func(ft segmentation.FieldType) []segmentation.Operator {
		var out []segmentation.Operator
		for _, m := range segmentation.GetAvailableOperators(ft) {
			out = append(out, m.Operator)
		}
		return out
	}
	assert.ElementsMatch(t, []segmentation.Operator{
		segmentation.OpEquals, segmentation.OpNotEquals, segmentation.OpContains, segmentation.OpNotContains,
		segmentation.OpStartsWith, segmentation.OpEndsWith, segmentation.OpIn, segmentation.OpNotIn,
	}, ops(segmentation.FieldString))
	assert.ElementsMatch(t, []segmentation.Operator{
		segmentation.OpEquals, segmentation.OpNotEquals, segmentation.OpGreaterThan, segmentation.OpLessThan,
	}, ops(segmentation.FieldNumber))
	assert.ElementsMatch(t, []segmentation.Operator{
		segmentation.OpEquals, segmentation.OpGreaterThan, segmentation.OpLessThan,
	}, ops(segmentation.FieldDate))
	assert.ElementsMatch(t, []segmentation.Operator{
		segmentation.OpEquals, segmentation.OpNotEquals, segmentation.OpContains, segmentation.OpNotContains,
	}, ops(segmentation.FieldTags))
	assert.ElementsMatch(t, []segmentation.Operator{
		segmentation.OpEquals, segmentation.OpNotEquals, segmentation.OpIn, segmentation.OpNotIn,
	}, ops(segmentation.FieldEnum))

	f, ok := segmentation.LookupField("status")
	require.True(t, ok)
	assert.Contains(t, f.Values, "qualified")
	assert.Len(t, segmentation.Fields(), 10)
}

package segmentation

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/leadflow/internal/domain"
)

// EmptyRuleSetMatches is the result for a rule set with no active rules:
// an empty AND matches every lead, an empty OR matches none.
func EmptyRuleSetMatches(matchAll bool) bool { return matchAll }

type predicate func(*domain.Lead) bool

// builder turns a validated (field, operator, value) triple into a predicate.
type builder func(f Field, op Operator, value string) (predicate, error)

var builders = map[FieldType]builder{
	FieldString: buildString,
	FieldEnum:   buildEnum,
	FieldNumber: buildNumber,
	FieldDate:   buildDate,
	FieldTags:   buildTags,
}

// Matcher is a compiled rule set. It is immutable after Compile and safe for
// concurrent use.
type Matcher struct {
	matchAll  bool
	active    int
	preds     []predicate
	malformed int
	warnings  []RuleWarning
}

// Compile validates and compiles the active rules of a rule set. Malformed
// rules never cause an error; they are reported through Warnings.
func Compile(rules []domain.Rule, matchAll bool) *Matcher {
	active := make([]domain.Rule, 0, len(rules))
	for _, r := range rules {
		if r.Active {
			active = append(active, r)
		}
	}
	domain.SortRules(active)

	m := &Matcher{matchAll: matchAll, active: len(active)}
	for _, r := range active {
		p, err := compileRule(r)
		if err != nil {
			m.malformed++
			m.warnings = append(m.warnings, RuleWarning{
				RuleID: r.ID, Field: r.Field, Operator: r.Operator, Value: r.Value, Reason: err.Error(),
			})
			continue
		}
		m.preds = append(m.preds, p)
	}
	return m
}

func compileRule(r domain.Rule) (predicate, error) {
	f, ok := LookupField(r.Field)
	if !ok {
		return nil, fmt.Errorf("unknown field %q", r.Field)
	}
	op := Operator(r.Operator)
	if !f.allows(op) {
		return nil, fmt.Errorf("operator %q is not supported for %s field %q", r.Operator, f.Type, f.ID)
	}
	return builders[f.Type](f, op, r.Value)
}

// Match reports whether the lead satisfies the rule set.
func (m *Matcher) Match(l *domain.Lead) bool {
	if m.active == 0 {
		return EmptyRuleSetMatches(m.matchAll)
	}
	if m.matchAll {
		if m.malformed > 0 {
			return false
		}
		for _, p := range m.preds {
			if !p(l) {
				return false
			}
		}
		return true
	}
	for _, p := range m.preds {
		if p(l) {
			return true
		}
	}
	return false
}

// MatchingIDs returns the ids of the candidates that match, in input order.
func (m *Matcher) MatchingIDs(candidates []domain.Lead) []uuid.UUID {
	out := make([]uuid.UUID, 0)
	for i := range candidates {
		if m.Match(&candidates[i]) {
			out = append(out, candidates[i].ID)
		}
	}
	return out
}

// Warnings returns one entry per malformed active rule.
func (m *Matcher) Warnings() []RuleWarning {
	return append([]RuleWarning(nil), m.warnings...)
}

// Evaluate checks a single lead against a rule set.
func Evaluate(rules []domain.Rule, matchAll bool, lead domain.Lead) (bool, []RuleWarning) {
	m := Compile(rules, matchAll)
	return m.Match(&lead), m.Warnings()
}

// MatchingIDs is the bulk form of Evaluate.
func MatchingIDs(rules []domain.Rule, matchAll bool, candidates []domain.Lead) ([]uuid.UUID, []RuleWarning) {
	m := Compile(rules, matchAll)
	return m.MatchingIDs(candidates), m.Warnings()
}

// ==========================================
// BUILDERS
// ==========================================

func buildString(f Field, op Operator, value string) (predicate, error) {
	get := f.text
	value = strings.TrimSpace(value)
	switch op {
	case OpEquals:
		return func(l *domain.Lead) bool { return get(l) == value }, nil
	case OpNotEquals:
		return func(l *domain.Lead) bool { return get(l) != value }, nil
	case OpContains:
		return func(l *domain.Lead) bool { return strings.Contains(get(l), value) }, nil
	case OpNotContains:
		return func(l *domain.Lead) bool { return !strings.Contains(get(l), value) }, nil
	case OpStartsWith:
		return func(l *domain.Lead) bool { return strings.HasPrefix(get(l), value) }, nil
	case OpEndsWith:
		return func(l *domain.Lead) bool { return strings.HasSuffix(get(l), value) }, nil
	case OpIn, OpNotIn:
		return buildSetMembership(f, op, value)
	}
	return nil, fmt.Errorf("operator %q not handled for strings", op)
}

func buildEnum(f Field, op Operator, value string) (predicate, error) {
	switch op {
	case OpEquals, OpNotEquals:
		v := strings.TrimSpace(value)
		if !f.inDomain(v) {
			return nil, fmt.Errorf("%q is not a valid %s", v, f.ID)
		}
		get := f.text
		if op == OpEquals {
			return func(l *domain.Lead) bool { return get(l) == v }, nil
		}
		return func(l *domain.Lead) bool { return get(l) != v }, nil
	case OpIn, OpNotIn:
		return buildSetMembership(f, op, value)
	}
	return nil, fmt.Errorf("operator %q not handled for enums", op)
}

func buildSetMembership(f Field, op Operator, value string) (predicate, error) {
	items := splitList(value)
	if len(items) == 0 {
		return nil, fmt.Errorf("empty value list")
	}
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		if !f.inDomain(it) {
			return nil, fmt.Errorf("%q is not a valid %s", it, f.ID)
		}
		set[it] = struct{}{}
	}
	get := f.text
	want := op == OpIn
	return func(l *domain.Lead) bool {
		_, ok := set[get(l)]
		return ok == want
	}, nil
}

func buildNumber(f Field, op Operator, value string) (predicate, error) {
	n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return nil, fmt.Errorf("%q is not a number", value)
	}
	get := f.num
	switch op {
	case OpEquals:
		return func(l *domain.Lead) bool { return get(l) == n }, nil
	case OpNotEquals:
		return func(l *domain.Lead) bool { return get(l) != n }, nil
	case OpGreaterThan:
		return func(l *domain.Lead) bool { return get(l) > n }, nil
	case OpLessThan:
		return func(l *domain.Lead) bool { return get(l) < n }, nil
	}
	return nil, fmt.Errorf("operator %q not handled for numbers", op)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTime accepts ISO-8601 timestamps and bare dates. Values without a
// zone are read as UTC.
func parseTime(value string) (time.Time, error) {
	v := strings.TrimSpace(value)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not an ISO-8601 date or timestamp", value)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func buildDate(f Field, op Operator, value string) (predicate, error) {
	t, err := parseTime(value)
	if err != nil {
		return nil, err
	}
	get := f.at
	switch op {
	case OpEquals:
		return func(l *domain.Lead) bool { return sameDay(get(l), t) }, nil
	case OpGreaterThan:
		return func(l *domain.Lead) bool { return get(l).After(t) }, nil
	case OpLessThan:
		return func(l *domain.Lead) bool { return get(l).Before(t) }, nil
	}
	return nil, fmt.Errorf("operator %q not handled for dates", op)
}

func buildTags(f Field, op Operator, value string) (predicate, error) {
	get := f.items
	switch op {
	case OpContains, OpNotContains:
		tag := strings.TrimSpace(value)
		if tag == "" {
			return nil, fmt.Errorf("empty tag")
		}
		want := op == OpContains
		return func(l *domain.Lead) bool {
			for _, t := range get(l) {
				if t == tag {
					return want
				}
			}
			return !want
		}, nil
	case OpEquals, OpNotEquals:
		expected := toSet(splitList(value))
		want := op == OpEquals
		return func(l *domain.Lead) bool {
			return sameSet(toSet(get(l)), expected) == want
		}, nil
	}
	return nil, fmt.Errorf("operator %q not handled for tags", op)
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			set[it] = struct{}{}
		}
	}
	return set
}

func sameSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

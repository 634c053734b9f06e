package automation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/leadflow/internal/domain"
	"github.com/ignite/leadflow/internal/scheduler"
)

type memAutomations struct {
	mu    sync.Mutex
	autos map[uuid.UUID]domain.Automation
	lists int
}

func newMemAutomations(autos ...domain.Automation) *memAutomations {
	m := &memAutomations{autos: make(map[uuid.UUID]domain.Automation)}
	for _, a := range autos {
		m.autos[a.ID] = a
	}
	return m
}

func (m *memAutomations) GetAutomation(_ context.Context, id uuid.UUID) (*domain.Automation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.autos[id]
	if !ok {
		return nil, ErrAutomationNotFound
	}
	return &a, nil
}

func (m *memAutomations) ListByTrigger(_ context.Context, orgID uuid.UUID, t domain.TriggerType) ([]domain.Automation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists++
	var out []domain.Automation
	for _, a := range m.autos {
		if a.OrganizationID == orgID && a.TriggerType == t && a.Active {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memAutomations) ListTimeBased(_ context.Context) ([]domain.Automation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Automation
	for _, a := range m.autos {
		if a.TriggerType == domain.TriggerTimeBased && a.Active {
			out = append(out, a)
		}
	}
	return out, nil
}

type memRuns struct {
	mu          sync.Mutex
	runs        map[uuid.UUID]*domain.AutomationRun
	appended    map[uuid.UUID]int
	createErr   error
	finishFails int
}

func newMemRuns() *memRuns {
	return &memRuns{runs: make(map[uuid.UUID]*domain.AutomationRun), appended: make(map[uuid.UUID]int)}
}

func (m *memRuns) CreateRun(_ context.Context, run *domain.AutomationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *memRuns) AppendRunLog(_ context.Context, id uuid.UUID, _ domain.ActionLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appended[id]++
	return nil
}

func (m *memRuns) FinishRun(_ context.Context, run *domain.AutomationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finishFails > 0 {
		m.finishFails--
		return errors.New("connection reset")
	}
	stored, ok := m.runs[run.ID]
	if !ok || stored.Status != domain.RunProcessing {
		return ErrRunNotFound
	}
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *memRuns) FailStaleRuns(_ context.Context, startedBefore time.Time, reason string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.runs {
		if r.Status == domain.RunProcessing && r.StartedAt.Before(startedBefore) {
			r.Status = domain.RunFailed
			r.ExecutionLog.Error = reason
			n++
		}
	}
	return n, nil
}

func (m *memRuns) GetRun(_ context.Context, id uuid.UUID) (*domain.AutomationRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRuns) ListRuns(_ context.Context, f RunFilter) ([]domain.AutomationRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AutomationRun
	for _, r := range m.runs {
		if f.AutomationID != nil && r.AutomationID != *f.AutomationID {
			continue
		}
		out = append(out, *r)
	}
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memRuns) only() *domain.AutomationRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		return r
	}
	return nil
}

type memLeads struct {
	mu      sync.Mutex
	leads   map[uuid.UUID]domain.Lead
	updates int
	panics  bool
}

func newMemLeads(leads ...domain.Lead) *memLeads {
	m := &memLeads{leads: make(map[uuid.UUID]domain.Lead)}
	for _, l := range leads {
		m.leads[l.ID] = l
	}
	return m
}

func (m *memLeads) GetLead(_ context.Context, id uuid.UUID) (*domain.Lead, error) {
	if m.panics {
		panic("lead store exploded")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[id]
	if !ok {
		return nil, ErrLeadNotFound
	}
	return &l, nil
}

func (m *memLeads) UpdateLead(_ context.Context, id uuid.UUID, p domain.LeadPatch) (*domain.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[id]
	if !ok {
		return nil, ErrLeadNotFound
	}
	l = p.Apply(l)
	m.leads[id] = l
	m.updates++
	return &l, nil
}

func (m *memLeads) get(id uuid.UUID) domain.Lead {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leads[id]
}

type sentEmail struct {
	templateID uuid.UUID
	to         Recipient
	data       map[string]any
}

type fakeEmail struct {
	sent []sentEmail
	err  error
}

func (f *fakeEmail) Send(_ context.Context, templateID uuid.UUID, to Recipient, data map[string]any) (*DeliveryReceipt, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, sentEmail{templateID, to, data})
	return &DeliveryReceipt{MessageID: "msg-1", Provider: "test", AcceptedAt: time.Now()}, nil
}

type fakeNotifier struct{ sent []Notification }

func (f *fakeNotifier) Notify(_ context.Context, n Notification) error {
	f.sent = append(f.sent, n)
	return nil
}

type fakeTaskCreator struct{ created []domain.LeadTask }

func (f *fakeTaskCreator) CreateLeadTask(_ context.Context, t *domain.LeadTask) (uuid.UUID, error) {
	t.ID = uuid.New()
	f.created = append(f.created, *t)
	return t.ID, nil
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []domain.ScheduledTask
	keys  map[string]bool
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, t *domain.ScheduledTask) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys == nil {
		f.keys = make(map[string]bool)
	}
	if t.DedupeKey != "" {
		if f.keys[t.DedupeKey] {
			return uuid.Nil, scheduler.ErrDuplicateTask
		}
		f.keys[t.DedupeKey] = true
	}
	t.ID = uuid.New()
	f.tasks = append(f.tasks, *t)
	return t.ID, nil
}

// scriptedRunner replays canned outcomes keyed by action order.
type scriptedRunner struct {
	outcomes map[int]Outcome
	calls    []domain.AutomationAction
	panicAt  int
}

func (r *scriptedRunner) Execute(_ context.Context, a domain.AutomationAction, _ Invocation) Outcome {
	r.calls = append(r.calls, a)
	if r.panicAt != 0 && a.Order == r.panicAt {
		panic("runner bug")
	}
	if out, ok := r.outcomes[a.Order]; ok {
		return out
	}
	return Outcome{Success: true}
}

func testLead(org uuid.UUID) domain.Lead {
	return domain.Lead{
		ID:             uuid.New(),
		OrganizationID: org,
		Email:          "pat@example.com",
		FirstName:      "Pat",
		LastName:       "Lee",
		Status:         domain.LeadNew,
		Priority:       domain.PriorityMedium,
		Tags:           []string{"webinar"},
	}
}

func testAutomation(org uuid.UUID, trigger domain.TriggerType, actions ...domain.AutomationAction) domain.Automation {
	id := uuid.New()
	for i := range actions {
		actions[i].ID = uuid.New()
		actions[i].AutomationID = id
	}
	return domain.Automation{
		ID:             id,
		OrganizationID: org,
		Name:           "automation " + string(trigger),
		TriggerType:    trigger,
		TriggerConfig:  map[string]any{},
		Active:         true,
		RunImmediately: true,
		Actions:        actions,
	}
}

func action(order int, t domain.ActionType, cfg map[string]any) domain.AutomationAction {
	return domain.AutomationAction{ActionType: t, Order: order, Active: true, Config: cfg}
}

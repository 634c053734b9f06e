package automation

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/ignite/leadflow/internal/domain"
)

// TriggerConfig is the typed form of an automation's trigger_config. Absent
// criteria match anything.
type TriggerConfig struct {
	SegmentID    *uuid.UUID          `json:"segment_id,omitempty"`
	FromStatus   domain.LeadStatus   `json:"from_status,omitempty"`
	ToStatus     domain.LeadStatus   `json:"to_status,omitempty"`
	FromPriority domain.LeadPriority `json:"from_priority,omitempty"`
	ToPriority   domain.LeadPriority `json:"to_priority,omitempty"`
	AgentID      *uuid.UUID          `json:"agent_id,omitempty"`
	MinValue     *float64            `json:"min_value,omitempty"`
	MaxValue     *float64            `json:"max_value,omitempty"`
	Source       string              `json:"source,omitempty"`

	// time_based only.
	Cron     string `json:"cron,omitempty"`
	Timezone string `json:"timezone,omitempty"`

	// Deferred execution when run_immediately is false.
	DelayMinutes int `json:"delay_minutes,omitempty"`
	Priority     int `json:"priority,omitempty"`
}

// DecodeTriggerConfig converts a stored trigger_config.
func DecodeTriggerConfig(raw map[string]any) (TriggerConfig, error) {
	var cfg TriggerConfig
	if len(raw) == 0 {
		return cfg, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return cfg, fmt.Errorf("encode trigger config: %w", err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("decode trigger config: %w", err)
	}
	if cfg.DelayMinutes < 0 {
		return cfg, fmt.Errorf("delay_minutes must not be negative")
	}
	return cfg, nil
}

type triggerMatcher func(cfg TriggerConfig, data map[string]any) bool

var triggerMatchers = map[domain.TriggerType]triggerMatcher{
	domain.TriggerLeadCreated: func(cfg TriggerConfig, data map[string]any) bool {
		return cfg.Source == "" || dataString(data, "source") == cfg.Source
	},
	domain.TriggerLeadStatusChanged: func(cfg TriggerConfig, data map[string]any) bool {
		return (cfg.FromStatus == "" || dataString(data, "old_status") == string(cfg.FromStatus)) &&
			(cfg.ToStatus == "" || dataString(data, "new_status") == string(cfg.ToStatus))
	},
	domain.TriggerLeadPriorityChanged: func(cfg TriggerConfig, data map[string]any) bool {
		return (cfg.FromPriority == "" || dataString(data, "old_priority") == string(cfg.FromPriority)) &&
			(cfg.ToPriority == "" || dataString(data, "new_priority") == string(cfg.ToPriority))
	},
	domain.TriggerLeadAssigned: func(cfg TriggerConfig, data map[string]any) bool {
		return cfg.AgentID == nil || dataString(data, "agent_id") == cfg.AgentID.String()
	},
	domain.TriggerLeadValueChanged: func(cfg TriggerConfig, data map[string]any) bool {
		if cfg.MinValue == nil && cfg.MaxValue == nil {
			return true
		}
		v, ok := dataNumber(data, "new_value")
		if !ok {
			return false
		}
		return (cfg.MinValue == nil || v >= *cfg.MinValue) && (cfg.MaxValue == nil || v <= *cfg.MaxValue)
	},
	domain.TriggerTimeBased:      func(TriggerConfig, map[string]any) bool { return true },
	domain.TriggerSegmentEntered: matchSegment,
	domain.TriggerSegmentExited:  matchSegment,
}

func matchSegment(cfg TriggerConfig, data map[string]any) bool {
	return cfg.SegmentID == nil || dataString(data, "segment_id") == cfg.SegmentID.String()
}

// Matches reports whether event data satisfies the config for a trigger type.
func (cfg TriggerConfig) Matches(t domain.TriggerType, data map[string]any) bool {
	m, ok := triggerMatchers[t]
	return ok && m(cfg, data)
}

func dataString(data map[string]any, key string) string {
	v, ok := data[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	}
	return fmt.Sprint(v)
}

func dataNumber(data map[string]any, key string) (float64, bool) {
	switch n := data[key].(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

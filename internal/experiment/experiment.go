package experiment

import (
	"time"

	"github.com/rotisserie/eris"
)

// Variant is one alternative within an experiment. Weight is a percentage
// share of participating traffic; weights across an experiment's variants
// are expected to sum to 100.
type Variant struct {
	ID     string `json:"id"`
	Weight int    `json:"weight"`
}

// Experiment is a named, immutable experiment configuration. Experiments
// are created once and never mutated while running; assignment stability
// depends on that.
type Experiment struct {
	ID                string     `json:"id"`
	Variants          []Variant  `json:"variants"`
	Goals             []string   `json:"goals,omitempty"`
	TrafficAllocation int        `json:"traffic_allocation"`
	StartsAt          *time.Time `json:"starts_at,omitempty"`
	EndsAt            *time.Time `json:"ends_at,omitempty"`
	Active            bool       `json:"active"`
}

// Validate enforces configuration rules at creation time. Evaluation never
// validates: a malformed experiment degrades deterministically instead of
// failing (see Choose).
func (e Experiment) Validate() error {
	if e.ID == "" {
		return eris.New("experiment: id is required")
	}
	if len(e.Variants) < 2 {
		return eris.Errorf("experiment %s: need at least 2 variants", e.ID)
	}
	total := 0
	seen := make(map[string]bool, len(e.Variants))
	for _, v := range e.Variants {
		if v.ID == "" {
			return eris.Errorf("experiment %s: variant id is required", e.ID)
		}
		if seen[v.ID] {
			return eris.Errorf("experiment %s: duplicate variant %q", e.ID, v.ID)
		}
		seen[v.ID] = true
		if v.Weight < 0 || v.Weight > 100 {
			return eris.Errorf("experiment %s: variant %q weight %d out of range", e.ID, v.ID, v.Weight)
		}
		total += v.Weight
	}
	if total != 100 {
		return eris.Errorf("experiment %s: variant weights sum to %d, want 100", e.ID, total)
	}
	if e.TrafficAllocation < 0 || e.TrafficAllocation > 100 {
		return eris.Errorf("experiment %s: traffic allocation %d out of range", e.ID, e.TrafficAllocation)
	}
	if e.StartsAt != nil && e.EndsAt != nil && e.EndsAt.Before(*e.StartsAt) {
		return eris.Errorf("experiment %s: active window ends before it starts", e.ID)
	}
	return nil
}

// HasGoal reports whether name is one of the experiment's recognized
// conversion goals. An empty goal list recognizes every event name.
func (e Experiment) HasGoal(name string) bool {
	if len(e.Goals) == 0 {
		return true
	}
	for _, g := range e.Goals {
		if g == name {
			return true
		}
	}
	return false
}

// Decision is the outcome of evaluating an experiment for one user.
type Decision struct {
	ExperimentID  string `json:"experiment_id"`
	UserID        string `json:"user_id"`
	Participating bool   `json:"participating"`
	VariantID     string `json:"variant_id,omitempty"`
	Sticky        bool   `json:"sticky"`
}

// Assignment is a persisted decision. Written once on first evaluation and
// never mutated; "not participating" gate outcomes are stored too so the
// gate stays stable per user.
type Assignment struct {
	ExperimentID  string
	UserID        string
	Participating bool
	VariantID     string
	AssignedAt    time.Time
}

// ConversionEvent records one tracked action attributed to an assignment.
// Events are append-only and never deduplicated.
type ConversionEvent struct {
	ID           string
	ExperimentID string
	VariantID    string
	UserID       string
	Event        string
	Metadata     map[string]any
	CreatedAt    time.Time
}

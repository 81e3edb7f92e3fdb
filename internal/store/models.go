package store

import (
	"time"

	"github.com/splitpulse/splitpulse/internal/experiment"
)

// ExperimentState tracks an experiment's lifecycle.
type ExperimentState string

const (
	StateRunning   ExperimentState = "running"
	StateCompleted ExperimentState = "completed"
)

// ExperimentRecord is an experiment configuration plus its stored
// lifecycle state.
type ExperimentRecord struct {
	experiment.Experiment
	State         ExperimentState `json:"state"`
	WinnerVariant string          `json:"winner_variant,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// VariantStats counts distinct users per variant: exposures are users
// with a participating assignment, conversions are users with at least
// one conversion event.
type VariantStats struct {
	VariantID   string `json:"variant_id"`
	Exposures   int    `json:"exposures"`
	Conversions int    `json:"conversions"`
}

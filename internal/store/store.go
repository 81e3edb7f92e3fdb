package store

import (
	"context"

	"github.com/splitpulse/splitpulse/internal/experiment"
	"github.com/splitpulse/splitpulse/internal/vitals"
)

// Store defines the persistence operations used across the application.
type Store interface {
	// Experiment operations
	CreateExperiment(ctx context.Context, exp experiment.Experiment) (*ExperimentRecord, error)
	GetExperiment(ctx context.Context, id string) (*ExperimentRecord, error)
	ListExperiments(ctx context.Context) ([]*ExperimentRecord, error)
	CompleteExperiment(ctx context.Context, id, winnerVariant string) error

	// Assignment and conversion operations
	GetAssignment(ctx context.Context, experimentID, userID string) (*experiment.Assignment, error)
	PutAssignment(ctx context.Context, a experiment.Assignment) error
	AppendConversion(ctx context.Context, ev experiment.ConversionEvent) error
	ListConversions(ctx context.Context, experimentID string) ([]*experiment.ConversionEvent, error)
	VariantStats(ctx context.Context, experimentID string) ([]VariantStats, error)

	// Vitals operations (bounded appends)
	AppendSample(ctx context.Context, s vitals.Sample, limit int) error
	AppendAlert(ctx context.Context, a vitals.Alert, limit int) error
	ListSamples(ctx context.Context) ([]vitals.Sample, error)
	ListAlerts(ctx context.Context) ([]vitals.Alert, error)

	// Lifecycle
	Close() error
}

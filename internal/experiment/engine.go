package experiment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Store is the slice of persistence the engine needs. GetAssignment returns
// (nil, nil) when no assignment exists for the pair.
type Store interface {
	GetAssignment(ctx context.Context, experimentID, userID string) (*Assignment, error)
	PutAssignment(ctx context.Context, a Assignment) error
	AppendConversion(ctx context.Context, ev ConversionEvent) error
}

// Sink receives recorded conversions for forwarding to external analytics.
// Implementations are best-effort and must not block on failures.
type Sink interface {
	ConversionRecorded(ctx context.Context, ev ConversionEvent)
}

// Engine evaluates experiments with sticky assignments and records
// conversions attributed to them.
type Engine struct {
	store Store
	sink  Sink
	now   func() time.Time
}

// NewEngine creates an engine. sink may be nil when no analytics endpoint
// is configured.
func NewEngine(store Store, sink Sink) *Engine {
	return &Engine{store: store, sink: sink, now: time.Now}
}

// Evaluate decides whether userID participates in exp and with which
// variant. The result is sticky: once an assignment is stored, later calls
// return it unchanged even if the experiment's weights change. Evaluate is
// total; storage failures degrade to "not participating" and are logged,
// never surfaced.
func (e *Engine) Evaluate(ctx context.Context, exp Experiment, userID string) Decision {
	stored, err := e.store.GetAssignment(ctx, exp.ID, userID)
	if err != nil {
		zap.L().Warn("experiment: assignment lookup failed",
			zap.String("experiment", exp.ID),
			zap.Error(err),
		)
		return Decision{ExperimentID: exp.ID, UserID: userID}
	}
	if stored != nil {
		return Decision{
			ExperimentID:  exp.ID,
			UserID:        userID,
			Participating: stored.Participating,
			VariantID:     stored.VariantID,
			Sticky:        true,
		}
	}

	d := Choose(exp, userID, e.now())
	a := Assignment{
		ExperimentID:  exp.ID,
		UserID:        userID,
		Participating: d.Participating,
		VariantID:     d.VariantID,
		AssignedAt:    e.now().UTC(),
	}
	if err := e.store.PutAssignment(ctx, a); err != nil {
		zap.L().Warn("experiment: assignment persist failed",
			zap.String("experiment", exp.ID),
			zap.Error(err),
		)
		return Decision{ExperimentID: exp.ID, UserID: userID}
	}
	return d
}

// RecordConversion appends a conversion event for the user's stored
// assignment and forwards it to the sink. A user with no participating
// assignment is a no-op, not an error: conversions are only attributable
// to participating users. Returns whether an event was recorded.
func (e *Engine) RecordConversion(ctx context.Context, experimentID, userID, event string, metadata map[string]any) (bool, error) {
	a, err := e.store.GetAssignment(ctx, experimentID, userID)
	if err != nil {
		return false, eris.Wrapf(err, "experiment: lookup assignment %s/%s", experimentID, userID)
	}
	if a == nil || !a.Participating {
		return false, nil
	}

	ev := ConversionEvent{
		ID:           uuid.New().String(),
		ExperimentID: experimentID,
		VariantID:    a.VariantID,
		UserID:       userID,
		Event:        event,
		Metadata:     metadata,
		CreatedAt:    e.now().UTC(),
	}
	if err := e.store.AppendConversion(ctx, ev); err != nil {
		return false, eris.Wrap(err, "experiment: append conversion")
	}
	if e.sink != nil {
		e.sink.ConversionRecorded(ctx, ev)
	}
	return true, nil
}

package experiment

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	assignments map[string]Assignment
	conversions []ConversionEvent

	getErr error
	putErr error
	appErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{assignments: make(map[string]Assignment)}
}

func (f *fakeStore) key(experimentID, userID string) string {
	return experimentID + "/" + userID
}

func (f *fakeStore) GetAssignment(ctx context.Context, experimentID, userID string) (*Assignment, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	a, ok := f.assignments[f.key(experimentID, userID)]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (f *fakeStore) PutAssignment(ctx context.Context, a Assignment) error {
	if f.putErr != nil {
		return f.putErr
	}
	k := f.key(a.ExperimentID, a.UserID)
	if _, ok := f.assignments[k]; !ok {
		f.assignments[k] = a
	}
	return nil
}

func (f *fakeStore) AppendConversion(ctx context.Context, ev ConversionEvent) error {
	if f.appErr != nil {
		return f.appErr
	}
	f.conversions = append(f.conversions, ev)
	return nil
}

type fakeSink struct {
	events []ConversionEvent
}

func (f *fakeSink) ConversionRecorded(ctx context.Context, ev ConversionEvent) {
	f.events = append(f.events, ev)
}

func TestEvaluateSticky(t *testing.T) {
	st := newFakeStore()
	e := NewEngine(st, nil)
	exp := heroExperiment()
	ctx := context.Background()

	first := e.Evaluate(ctx, exp, "user_123")
	require.True(t, first.Participating)
	assert.False(t, first.Sticky)

	second := e.Evaluate(ctx, exp, "user_123")
	assert.True(t, second.Sticky)
	assert.Equal(t, first.VariantID, second.VariantID)

	// Reweighting the experiment must not move stored assignments.
	exp.Variants = []Variant{
		{ID: "control", Weight: 1},
		{ID: "variant-a", Weight: 1},
		{ID: "variant-b", Weight: 98},
	}
	third := e.Evaluate(ctx, exp, "user_123")
	assert.Equal(t, first.VariantID, third.VariantID)
	assert.True(t, third.Sticky)
}

func TestEvaluateStickyNotParticipating(t *testing.T) {
	st := newFakeStore()
	e := NewEngine(st, nil)
	exp := heroExperiment()
	exp.TrafficAllocation = 20 // user_123's gate bucket is 21
	ctx := context.Background()

	first := e.Evaluate(ctx, exp, "user_123")
	require.False(t, first.Participating)

	// Widening the gate later must not flip the stored outcome.
	exp.TrafficAllocation = 100
	second := e.Evaluate(ctx, exp, "user_123")
	assert.False(t, second.Participating)
	assert.True(t, second.Sticky)
}

func TestEvaluateDegradesOnLookupFailure(t *testing.T) {
	st := newFakeStore()
	st.getErr = eris.New("disk on fire")
	e := NewEngine(st, nil)

	d := e.Evaluate(context.Background(), heroExperiment(), "user_123")
	assert.False(t, d.Participating)
	assert.Empty(t, d.VariantID)
}

func TestEvaluateDegradesOnPersistFailure(t *testing.T) {
	st := newFakeStore()
	st.putErr = eris.New("disk on fire")
	e := NewEngine(st, nil)

	d := e.Evaluate(context.Background(), heroExperiment(), "user_123")
	assert.False(t, d.Participating)
}

func TestRecordConversion(t *testing.T) {
	st := newFakeStore()
	sink := &fakeSink{}
	e := NewEngine(st, sink)
	exp := heroExperiment()
	ctx := context.Background()

	d := e.Evaluate(ctx, exp, "user_123")
	require.True(t, d.Participating)

	tracked, err := e.RecordConversion(ctx, exp.ID, "user_123", "cta-click", map[string]any{"page": "/pricing"})
	require.NoError(t, err)
	assert.True(t, tracked)

	require.Len(t, st.conversions, 1)
	ev := st.conversions[0]
	assert.Equal(t, d.VariantID, ev.VariantID)
	assert.Equal(t, "cta-click", ev.Event)
	assert.NotEmpty(t, ev.ID)

	require.Len(t, sink.events, 1)
	assert.Equal(t, ev.ID, sink.events[0].ID)
}

func TestRecordConversionNoAssignment(t *testing.T) {
	st := newFakeStore()
	e := NewEngine(st, nil)

	tracked, err := e.RecordConversion(context.Background(), "hero-test", "stranger", "cta-click", nil)
	require.NoError(t, err)
	assert.False(t, tracked)
	assert.Empty(t, st.conversions)
}

func TestRecordConversionNotParticipating(t *testing.T) {
	st := newFakeStore()
	e := NewEngine(st, nil)
	exp := heroExperiment()
	exp.TrafficAllocation = 20
	ctx := context.Background()

	d := e.Evaluate(ctx, exp, "user_123")
	require.False(t, d.Participating)

	tracked, err := e.RecordConversion(ctx, exp.ID, "user_123", "cta-click", nil)
	require.NoError(t, err)
	assert.False(t, tracked)
	assert.Empty(t, st.conversions)
}

func TestRecordConversionNoDedup(t *testing.T) {
	st := newFakeStore()
	e := NewEngine(st, nil)
	exp := heroExperiment()
	ctx := context.Background()

	e.Evaluate(ctx, exp, "user_123")
	for i := 0; i < 3; i++ {
		tracked, err := e.RecordConversion(ctx, exp.ID, "user_123", "cta-click", nil)
		require.NoError(t, err)
		assert.True(t, tracked)
	}
	assert.Len(t, st.conversions, 3)
}

func TestRecordConversionSurfacesStorageErrors(t *testing.T) {
	st := newFakeStore()
	e := NewEngine(st, nil)
	exp := heroExperiment()
	ctx := context.Background()

	e.Evaluate(ctx, exp, "user_123")
	st.appErr = eris.New("disk on fire")

	tracked, err := e.RecordConversion(ctx, exp.ID, "user_123", "cta-click", nil)
	assert.Error(t, err)
	assert.False(t, tracked)
}

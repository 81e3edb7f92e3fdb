package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splitpulse/splitpulse/internal/experiment"
	"github.com/splitpulse/splitpulse/internal/vitals"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testExperiment() experiment.Experiment {
	starts := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	return experiment.Experiment{
		ID: "hero-test",
		Variants: []experiment.Variant{
			{ID: "control", Weight: 50},
			{ID: "treatment", Weight: 50},
		},
		Goals:             []string{"cta-click"},
		TrafficAllocation: 80,
		StartsAt:          &starts,
		Active:            true,
	}
}

func TestExperimentRoundtrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.CreateExperiment(ctx, testExperiment())
	require.NoError(t, err)
	assert.Equal(t, StateRunning, created.State)

	got, err := s.GetExperiment(ctx, "hero-test")
	require.NoError(t, err)
	assert.Equal(t, "hero-test", got.ID)
	assert.Equal(t, testExperiment().Variants, got.Variants)
	assert.Equal(t, []string{"cta-click"}, got.Goals)
	assert.Equal(t, 80, got.TrafficAllocation)
	require.NotNil(t, got.StartsAt)
	assert.Equal(t, testExperiment().StartsAt.Unix(), got.StartsAt.Unix())
	assert.Nil(t, got.EndsAt)
	assert.True(t, got.Active)
}

func TestGetExperimentNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetExperiment(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateExperimentDuplicate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.CreateExperiment(ctx, testExperiment())
	require.NoError(t, err)
	_, err = s.CreateExperiment(ctx, testExperiment())
	assert.Error(t, err)
}

func TestListExperiments(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	recs, err := s.ListExperiments(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)

	exp := testExperiment()
	_, err = s.CreateExperiment(ctx, exp)
	require.NoError(t, err)
	exp.ID = "other-test"
	_, err = s.CreateExperiment(ctx, exp)
	require.NoError(t, err)

	recs, err = s.ListExperiments(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestCompleteExperiment(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.CreateExperiment(ctx, testExperiment())
	require.NoError(t, err)

	require.NoError(t, s.CompleteExperiment(ctx, "hero-test", "treatment"))

	got, err := s.GetExperiment(ctx, "hero-test")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, got.State)
	assert.Equal(t, "treatment", got.WinnerVariant)
	assert.False(t, got.Active)

	assert.ErrorIs(t, s.CompleteExperiment(ctx, "missing", "x"), ErrNotFound)
}

func TestAssignmentFirstWriteWins(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	got, err := s.GetAssignment(ctx, "hero-test", "user_123")
	require.NoError(t, err)
	assert.Nil(t, got)

	a := experiment.Assignment{
		ExperimentID:  "hero-test",
		UserID:        "user_123",
		Participating: true,
		VariantID:     "control",
		AssignedAt:    time.Now(),
	}
	require.NoError(t, s.PutAssignment(ctx, a))

	a.VariantID = "treatment"
	require.NoError(t, s.PutAssignment(ctx, a))

	got, err = s.GetAssignment(ctx, "hero-test", "user_123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "control", got.VariantID)
	assert.True(t, got.Participating)
}

func TestAssignmentNotParticipating(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutAssignment(ctx, experiment.Assignment{
		ExperimentID: "hero-test",
		UserID:       "gated_user",
		AssignedAt:   time.Now(),
	}))

	got, err := s.GetAssignment(ctx, "hero-test", "gated_user")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.Participating)
	assert.Empty(t, got.VariantID)
}

func TestConversionsAppendOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendConversion(ctx, experiment.ConversionEvent{
			ID:           fmt.Sprintf("ev-%d", i),
			ExperimentID: "hero-test",
			VariantID:    "control",
			UserID:       "user_123",
			Event:        "cta-click",
			Metadata:     map[string]any{"page": "/pricing"},
			CreatedAt:    time.Now(),
		}))
	}

	events, err := s.ListConversions(ctx, "hero-test")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "/pricing", events[0].Metadata["page"])
}

func TestVariantStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	put := func(user, variant string, participating bool) {
		require.NoError(t, s.PutAssignment(ctx, experiment.Assignment{
			ExperimentID:  "hero-test",
			UserID:        user,
			Participating: participating,
			VariantID:     variant,
			AssignedAt:    now,
		}))
	}
	put("u1", "control", true)
	put("u2", "control", true)
	put("u3", "treatment", true)
	put("u4", "", false) // gated out, must not count

	convert := func(id, user, variant string) {
		require.NoError(t, s.AppendConversion(ctx, experiment.ConversionEvent{
			ID:           id,
			ExperimentID: "hero-test",
			VariantID:    variant,
			UserID:       user,
			Event:        "cta-click",
			CreatedAt:    now,
		}))
	}
	convert("ev-1", "u1", "control")
	convert("ev-2", "u1", "control") // repeat by same user counts once
	convert("ev-3", "u3", "treatment")

	stats, err := s.VariantStats(ctx, "hero-test")
	require.NoError(t, err)
	require.Len(t, stats, 2)

	byID := make(map[string]VariantStats)
	for _, vs := range stats {
		byID[vs.VariantID] = vs
	}
	assert.Equal(t, 2, byID["control"].Exposures)
	assert.Equal(t, 1, byID["control"].Conversions)
	assert.Equal(t, 1, byID["treatment"].Exposures)
	assert.Equal(t, 1, byID["treatment"].Conversions)
}

func TestSamplesBoundedAppend(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		require.NoError(t, s.AppendSample(ctx, vitals.Sample{
			Metric:     vitals.LCP,
			Value:      float64(i),
			Rating:     vitals.RatingGood,
			ObservedAt: time.Now(),
		}, 5))
	}
	// Another metric must not be evicted by LCP inserts
	require.NoError(t, s.AppendSample(ctx, vitals.Sample{
		Metric:     vitals.FID,
		Value:      42,
		Rating:     vitals.RatingGood,
		ObservedAt: time.Now(),
	}, 5))

	samples, err := s.ListSamples(ctx)
	require.NoError(t, err)
	require.Len(t, samples, 6)

	var lcp []vitals.Sample
	for _, sm := range samples {
		if sm.Metric == vitals.LCP {
			lcp = append(lcp, sm)
		}
	}
	require.Len(t, lcp, 5)
	assert.Equal(t, 3.0, lcp[0].Value)
	assert.Equal(t, 7.0, lcp[len(lcp)-1].Value)
}

func TestAlertsBoundedAppend(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		require.NoError(t, s.AppendAlert(ctx, vitals.Alert{
			Metric:     vitals.CLS,
			Severity:   vitals.SeverityWarning,
			Message:    fmt.Sprintf("alert %d", i),
			Value:      0.5,
			Threshold:  0.25,
			ObservedAt: time.Now(),
		}, 4))
	}

	alerts, err := s.ListAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 4)
	assert.Equal(t, "alert 2", alerts[0].Message)
	assert.Equal(t, "alert 5", alerts[len(alerts)-1].Message)
}

func TestSampleRoundtripContext(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	observed := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.AppendSample(ctx, vitals.Sample{
		Metric: vitals.TTFB,
		Value:  950,
		Rating: vitals.RatingNeedsImprovement,
		Context: vitals.SampleContext{
			Device:     "mobile",
			Connection: "4g",
			Page:       "/pricing",
		},
		ObservedAt: observed,
	}, 100))

	samples, err := s.ListSamples(ctx)
	require.NoError(t, err)
	require.Len(t, samples, 1)

	sm := samples[0]
	assert.Equal(t, vitals.TTFB, sm.Metric)
	assert.Equal(t, 950.0, sm.Value)
	assert.Equal(t, vitals.RatingNeedsImprovement, sm.Rating)
	assert.Equal(t, "mobile", sm.Context.Device)
	assert.Equal(t, "4g", sm.Context.Connection)
	assert.Equal(t, "/pricing", sm.Context.Page)
	assert.Equal(t, observed.Unix(), sm.ObservedAt.Unix())
}

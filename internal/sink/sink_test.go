package sink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splitpulse/splitpulse/internal/experiment"
)

func TestSend(t *testing.T) {
	var received Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	require.True(t, c.Enabled())

	c.Send(context.Background(), Event{Name: "cta-click", UserID: "user_123"})
	assert.Equal(t, "cta-click", received.Name)
	assert.Equal(t, "user_123", received.UserID)
}

func TestSendDisabled(t *testing.T) {
	c := New("", 0)
	assert.False(t, c.Enabled())

	// Must be a silent no-op
	c.Send(context.Background(), Event{Name: "cta-click"})
}

func TestSendSwallowsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	c := New(srv.URL, time.Second)
	c.Send(context.Background(), Event{Name: "cta-click"})

	srv.Close()
	// Endpoint gone entirely: still no panic, no error surfaced
	c.Send(context.Background(), Event{Name: "cta-click"})
}

func TestConversionRecordedLiftsMetadata(t *testing.T) {
	var received Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	c.ConversionRecorded(context.Background(), experiment.ConversionEvent{
		ID:           "ev-1",
		ExperimentID: "hero-test",
		VariantID:    "control",
		UserID:       "user_123",
		Event:        "purchase",
		Metadata: map[string]any{
			"page":     "/checkout",
			"value":    49.99,
			"currency": "USD",
		},
		CreatedAt: time.Now(),
	})

	assert.Equal(t, "purchase", received.Name)
	assert.Equal(t, "hero-test", received.ExperimentID)
	assert.Equal(t, "control", received.VariantID)
	assert.Equal(t, "/checkout", received.Page)
	assert.Equal(t, 49.99, received.Value)
	assert.Equal(t, "USD", received.Currency)
}

// Package sink delivers analytics events to an external HTTP endpoint.
// Delivery is best-effort: failures are logged and dropped, never retried
// and never surfaced to callers.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/splitpulse/splitpulse/internal/experiment"
)

// Event is the JSON payload posted to the sink endpoint.
type Event struct {
	Name         string         `json:"name"`
	Timestamp    time.Time      `json:"timestamp"`
	Page         string         `json:"page,omitempty"`
	Referrer     string         `json:"referrer,omitempty"`
	UserID       string         `json:"user_id,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	ExperimentID string         `json:"experiment_id,omitempty"`
	VariantID    string         `json:"variant_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Value        float64        `json:"value,omitempty"`
	Currency     string         `json:"currency,omitempty"`
}

// Client posts events to a configured endpoint.
type Client struct {
	url    string
	client *http.Client
}

// New creates a client. An empty url disables the client: every Send
// becomes a no-op.
func New(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether an endpoint is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.url != ""
}

// Send posts one event. Failures are logged and dropped; there is no
// retry and no error return.
func (c *Client) Send(ctx context.Context, ev Event) {
	if !c.Enabled() {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		zap.L().Error("sink: marshal event", zap.String("event", ev.Name), zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		zap.L().Error("sink: create request", zap.String("event", ev.Name), zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		zap.L().Warn("sink: send event", zap.String("event", ev.Name), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		zap.L().Warn("sink: event rejected",
			zap.String("event", ev.Name),
			zap.Int("status", resp.StatusCode),
		)
	}
}

// ConversionRecorded implements the experiment engine's sink hook. Known
// metadata keys (page, referrer, session_id, value, currency) are lifted
// into top-level payload fields.
func (c *Client) ConversionRecorded(ctx context.Context, ev experiment.ConversionEvent) {
	out := Event{
		Name:         ev.Event,
		Timestamp:    ev.CreatedAt,
		UserID:       ev.UserID,
		ExperimentID: ev.ExperimentID,
		VariantID:    ev.VariantID,
		Metadata:     ev.Metadata,
	}
	if v, ok := ev.Metadata["page"].(string); ok {
		out.Page = v
	}
	if v, ok := ev.Metadata["referrer"].(string); ok {
		out.Referrer = v
	}
	if v, ok := ev.Metadata["session_id"].(string); ok {
		out.SessionID = v
	}
	if v, ok := ev.Metadata["value"].(float64); ok {
		out.Value = v
	}
	if v, ok := ev.Metadata["currency"].(string); ok {
		out.Currency = v
	}
	c.Send(ctx, out)
}

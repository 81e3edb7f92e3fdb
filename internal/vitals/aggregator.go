package vitals

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	// HistoryCap bounds the per-metric sample history (FIFO eviction).
	HistoryCap = 100
	// AlertCap bounds the retained alert list.
	AlertCap = 50

	criticalMultiplier = 1.5
	trendThresholdPct  = 5.0
)

// ErrInsufficientData is returned by Trend when fewer than two samples
// fall inside the requested window.
var ErrInsufficientData = eris.New("vitals: insufficient data")

// SampleContext carries the browser-side circumstances of a measurement.
type SampleContext struct {
	Device     string `json:"device,omitempty"`
	Connection string `json:"connection,omitempty"`
	Page       string `json:"page,omitempty"`
}

// Sample is one classified measurement.
type Sample struct {
	Metric     MetricName    `json:"metric"`
	Value      float64       `json:"value"`
	Rating     Rating        `json:"rating"`
	Context    SampleContext `json:"context"`
	ObservedAt time.Time     `json:"observed_at"`
}

// Severity grades an alert. Critical means the value passed 1.5x the
// needs-improvement threshold.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is raised once, at ingest time, when a sample rates poor.
type Alert struct {
	Metric     MetricName `json:"metric"`
	Severity   Severity   `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	Threshold  float64    `json:"threshold"`
	ObservedAt time.Time  `json:"observed_at"`
}

// TrendDirection classifies how a metric moved across a window.
type TrendDirection string

const (
	TrendImproving TrendDirection = "improving"
	TrendDegrading TrendDirection = "degrading"
	TrendStable    TrendDirection = "stable"
)

// Trend summarizes the change between the first and last sample in a
// window.
type Trend struct {
	Metric    MetricName     `json:"metric"`
	Direction TrendDirection `json:"direction"`
	ChangePct float64        `json:"change_pct"`
	Samples   int            `json:"samples"`
}

// SampleStore persists history so a process restart does not lose it.
// Implementations evict the oldest rows past the given limit.
type SampleStore interface {
	AppendSample(ctx context.Context, s Sample, limit int) error
	AppendAlert(ctx context.Context, a Alert, limit int) error
	ListSamples(ctx context.Context) ([]Sample, error)
	ListAlerts(ctx context.Context) ([]Alert, error)
}

// Aggregator ingests measurements, maintains bounded in-memory history,
// and fans alerts out to subscribers. All methods are safe for concurrent
// use. Construct explicitly with NewAggregator; there is no package-level
// instance.
type Aggregator struct {
	mu      sync.Mutex
	history map[MetricName][]Sample
	alerts  []Alert
	subs    []func(Alert)

	store SampleStore
	now   func() time.Time
}

// NewAggregator creates an aggregator. store may be nil for an in-memory
// aggregator with no durable history.
func NewAggregator(store SampleStore) *Aggregator {
	return &Aggregator{
		history: make(map[MetricName][]Sample),
		store:   store,
		now:     time.Now,
	}
}

// Subscribe registers a callback invoked synchronously, exactly once, for
// each alert raised at ingest time. Multiple subscribers compose.
func (a *Aggregator) Subscribe(fn func(Alert)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subs = append(a.subs, fn)
}

// Restore reloads persisted samples and alerts into memory.
func (a *Aggregator) Restore(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	samples, err := a.store.ListSamples(ctx)
	if err != nil {
		return eris.Wrap(err, "vitals: restore samples")
	}
	alerts, err := a.store.ListAlerts(ctx)
	if err != nil {
		return eris.Wrap(err, "vitals: restore alerts")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = make(map[MetricName][]Sample)
	for _, s := range samples {
		a.history[s.Metric] = append(a.history[s.Metric], s)
	}
	for m, hs := range a.history {
		if len(hs) > HistoryCap {
			a.history[m] = hs[len(hs)-HistoryCap:]
		}
	}
	if len(alerts) > AlertCap {
		alerts = alerts[len(alerts)-AlertCap:]
	}
	a.alerts = alerts
	return nil
}

// Ingest classifies one measurement, appends it to the bounded history,
// persists it best-effort, and raises an alert when the value exceeds the
// needs-improvement threshold. Persistence failures are logged and
// swallowed; telemetry must never fail the caller.
func (a *Aggregator) Ingest(ctx context.Context, m MetricName, value float64, sc SampleContext) Sample {
	s := Sample{
		Metric:     m,
		Value:      value,
		Rating:     Rate(m, value),
		Context:    sc,
		ObservedAt: a.now().UTC(),
	}

	a.mu.Lock()
	a.history[m] = append(a.history[m], s)
	if len(a.history[m]) > HistoryCap {
		a.history[m] = a.history[m][len(a.history[m])-HistoryCap:]
	}

	var alert *Alert
	if t := ThresholdsFor(m); value > t.NeedsImprovement {
		al := newAlert(m, value, t, s.ObservedAt)
		a.alerts = append(a.alerts, al)
		if len(a.alerts) > AlertCap {
			a.alerts = a.alerts[len(a.alerts)-AlertCap:]
		}
		alert = &al
	}
	subs := append([]func(Alert){}, a.subs...)
	a.mu.Unlock()

	if alert != nil {
		for _, fn := range subs {
			fn(*alert)
		}
	}

	a.persist(ctx, s, alert)
	return s
}

func newAlert(m MetricName, value float64, t Thresholds, at time.Time) Alert {
	sev := SeverityWarning
	if value > t.NeedsImprovement*criticalMultiplier {
		sev = SeverityCritical
	}
	return Alert{
		Metric:     m,
		Severity:   sev,
		Message:    fmt.Sprintf("%s %g exceeds needs-improvement threshold %g", m, value, t.NeedsImprovement),
		Value:      value,
		Threshold:  t.NeedsImprovement,
		ObservedAt: at,
	}
}

func (a *Aggregator) persist(ctx context.Context, s Sample, alert *Alert) {
	if a.store == nil {
		return
	}
	if err := a.store.AppendSample(ctx, s, HistoryCap); err != nil {
		zap.L().Warn("vitals: persist sample failed",
			zap.String("metric", s.Metric.String()),
			zap.Error(err),
		)
	}
	if alert == nil {
		return
	}
	if err := a.store.AppendAlert(ctx, *alert, AlertCap); err != nil {
		zap.L().Warn("vitals: persist alert failed",
			zap.String("metric", alert.Metric.String()),
			zap.Error(err),
		)
	}
}

// Latest returns the most recent sample for m, if any.
func (a *Aggregator) Latest(m MetricName) (Sample, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	hs := a.history[m]
	if len(hs) == 0 {
		return Sample{}, false
	}
	return hs[len(hs)-1], true
}

// LatestAll returns the most recent sample per measured metric.
func (a *Aggregator) LatestAll() map[MetricName]Sample {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[MetricName]Sample, len(a.history))
	for m, hs := range a.history {
		if len(hs) > 0 {
			out[m] = hs[len(hs)-1]
		}
	}
	return out
}

// History returns a copy of the retained samples for m, oldest first.
func (a *Aggregator) History(m MetricName) []Sample {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Sample(nil), a.history[m]...)
}

// Alerts returns a copy of the retained alerts, oldest first. Reading
// never re-emits alerts to subscribers.
func (a *Aggregator) Alerts() []Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Alert(nil), a.alerts...)
}

// Trend computes the percent change between the first and last sample of
// m within [now-window, now]. Needs at least two samples in the window.
// Lower is better for every supported metric, so a drop of more than 5%
// counts as improving and a rise of more than 5% as degrading; a change of
// exactly 5% is still stable.
func (a *Aggregator) Trend(m MetricName, window time.Duration) (*Trend, error) {
	cutoff := a.now().UTC().Add(-window)

	a.mu.Lock()
	var pts []Sample
	for _, s := range a.history[m] {
		if !s.ObservedAt.Before(cutoff) {
			pts = append(pts, s)
		}
	}
	a.mu.Unlock()

	if len(pts) < 2 {
		return nil, ErrInsufficientData
	}

	first, last := pts[0].Value, pts[len(pts)-1].Value
	var change float64
	if first != 0 {
		change = (last - first) / first * 100
	}

	dir := TrendStable
	switch {
	case change < -trendThresholdPct:
		dir = TrendImproving
	case change > trendThresholdPct:
		dir = TrendDegrading
	}

	return &Trend{
		Metric:    m,
		Direction: dir,
		ChangePct: change,
		Samples:   len(pts),
	}, nil
}

// OverallScore averages the latest rating's point value (good=100,
// needs-improvement=75, poor=50) across metrics with at least one sample.
// Returns 0 when nothing has been measured.
func (a *Aggregator) OverallScore() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	var total float64
	n := 0
	for _, m := range Names() {
		hs := a.history[m]
		if len(hs) == 0 {
			continue
		}
		total += hs[len(hs)-1].Rating.Score()
		n++
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

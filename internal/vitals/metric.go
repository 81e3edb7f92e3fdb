// Package vitals ingests Core Web Vitals measurements reported by browser
// beacons, classifies them against fixed thresholds, keeps a bounded
// history per metric, and raises alerts on threshold breaches.
package vitals

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// MetricName identifies one of the supported Core Web Vitals signals.
type MetricName uint8

const (
	LCP  MetricName = iota // Largest Contentful Paint (ms)
	FID                    // First Input Delay (ms)
	CLS                    // Cumulative Layout Shift (unitless score)
	FCP                    // First Contentful Paint (ms)
	TTFB                   // Time To First Byte (ms)
)

// Names returns the supported metrics in a stable order.
func Names() []MetricName {
	return []MetricName{LCP, FID, CLS, FCP, TTFB}
}

func (m MetricName) String() string {
	switch m {
	case LCP:
		return "LCP"
	case FID:
		return "FID"
	case CLS:
		return "CLS"
	case FCP:
		return "FCP"
	case TTFB:
		return "TTFB"
	}
	return "unknown"
}

// Parse maps a wire name to a MetricName, case-insensitively.
func Parse(name string) (MetricName, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "LCP":
		return LCP, nil
	case "FID":
		return FID, nil
	case "CLS":
		return CLS, nil
	case "FCP":
		return FCP, nil
	case "TTFB":
		return TTFB, nil
	}
	return 0, eris.Errorf("vitals: unknown metric %q", name)
}

func (m MetricName) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *MetricName) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return eris.Wrap(err, "vitals: unmarshal metric name")
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Rating classifies a measurement against its metric's thresholds.
type Rating string

const (
	RatingGood             Rating = "good"
	RatingNeedsImprovement Rating = "needs-improvement"
	RatingPoor             Rating = "poor"
)

// Score maps a rating to the fixed point value used by OverallScore.
func (r Rating) Score() float64 {
	switch r {
	case RatingGood:
		return 100
	case RatingNeedsImprovement:
		return 75
	case RatingPoor:
		return 50
	}
	return 0
}

// Thresholds are the fixed good / needs-improvement boundaries for one
// metric. Values above NeedsImprovement rate as poor.
type Thresholds struct {
	Good             float64
	NeedsImprovement float64
}

// ThresholdsFor returns the industry-standard boundaries for m. Lower is
// better for every supported metric.
func ThresholdsFor(m MetricName) Thresholds {
	switch m {
	case LCP:
		return Thresholds{Good: 2500, NeedsImprovement: 4000}
	case FID:
		return Thresholds{Good: 100, NeedsImprovement: 300}
	case CLS:
		return Thresholds{Good: 0.1, NeedsImprovement: 0.25}
	case FCP:
		return Thresholds{Good: 1800, NeedsImprovement: 3000}
	case TTFB:
		return Thresholds{Good: 800, NeedsImprovement: 1800}
	}
	return Thresholds{}
}

// Rate classifies value for metric m.
func Rate(m MetricName, value float64) Rating {
	t := ThresholdsFor(m)
	switch {
	case value <= t.Good:
		return RatingGood
	case value <= t.NeedsImprovement:
		return RatingNeedsImprovement
	default:
		return RatingPoor
	}
}

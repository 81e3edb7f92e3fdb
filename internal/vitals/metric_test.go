package vitals

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	for _, m := range Names() {
		got, err := Parse(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}

	got, err := Parse(" lcp ")
	require.NoError(t, err)
	assert.Equal(t, LCP, got)

	_, err = Parse("INP")
	assert.Error(t, err)
}

func TestMetricJSON(t *testing.T) {
	data, err := json.Marshal(CLS)
	require.NoError(t, err)
	assert.Equal(t, `"CLS"`, string(data))

	var m MetricName
	require.NoError(t, json.Unmarshal([]byte(`"ttfb"`), &m))
	assert.Equal(t, TTFB, m)

	assert.Error(t, json.Unmarshal([]byte(`"bogus"`), &m))
}

func TestRate(t *testing.T) {
	cases := []struct {
		metric MetricName
		value  float64
		want   Rating
	}{
		{LCP, 2000, RatingGood},
		{LCP, 2500, RatingGood},
		{LCP, 2600, RatingNeedsImprovement},
		{LCP, 4000, RatingNeedsImprovement},
		{LCP, 4200, RatingPoor},
		{FID, 50, RatingGood},
		{FID, 300, RatingNeedsImprovement},
		{FID, 301, RatingPoor},
		{CLS, 0.05, RatingGood},
		{CLS, 0.2, RatingNeedsImprovement},
		{CLS, 0.3, RatingPoor},
		{FCP, 1800, RatingGood},
		{FCP, 3001, RatingPoor},
		{TTFB, 800, RatingGood},
		{TTFB, 1200, RatingNeedsImprovement},
		{TTFB, 2000, RatingPoor},
	}

	for _, tc := range cases {
		assert.Equalf(t, tc.want, Rate(tc.metric, tc.value), "%s %g", tc.metric, tc.value)
	}
}

func TestRatingScore(t *testing.T) {
	assert.Equal(t, 100.0, RatingGood.Score())
	assert.Equal(t, 75.0, RatingNeedsImprovement.Score())
	assert.Equal(t, 50.0, RatingPoor.Score())
}

// Package stats implements the statistical analysis used to read
// experiment results: Wilson confidence intervals per variant and a
// two-proportion z-test between the leading variant and the control.
package stats

import (
	"math"

	"github.com/splitpulse/splitpulse/internal/experiment"
	"github.com/splitpulse/splitpulse/internal/store"
)

// Result represents statistical analysis of an experiment.
type Result struct {
	Variants        []VariantResult
	Confident       bool    // >= 95% confidence
	ConfidenceLevel float64 // 0-1
	LeadingID       string
}

// VariantResult contains statistics for a single variant.
type VariantResult struct {
	ID          string
	Exposures   int
	Conversions int
	Rate        float64
	CILower     float64
	CIUpper     float64
}

// SignificanceTest performs a two-proportion z-test.
// Returns confidence level (0-1) that variant A beats variant B.
func SignificanceTest(aConv, aExposures, bConv, bExposures int) float64 {
	// Need data from both variants
	if aExposures == 0 || bExposures == 0 {
		return 0.5
	}

	pA := float64(aConv) / float64(aExposures)
	pB := float64(bConv) / float64(bExposures)

	// Pooled proportion under null hypothesis (pA = pB)
	pooledP := float64(aConv+bConv) / float64(aExposures+bExposures)

	// Standard error of the difference
	se := math.Sqrt(pooledP * (1 - pooledP) * (1/float64(aExposures) + 1/float64(bExposures)))

	if se == 0 {
		if pA > pB {
			return 1.0
		} else if pA < pB {
			return 0.0
		}
		return 0.5
	}

	z := (pA - pB) / se

	// P(Z < z) gives us confidence that A > B
	return normalCDF(z)
}

// normalCDF approximates the cumulative distribution function of the
// standard normal distribution using Abramowitz and Stegun 7.1.26.
func normalCDF(x float64) float64 {
	a1 := 0.254829592
	a2 := -0.284496736
	a3 := 1.421413741
	a4 := -1.453152027
	a5 := 1.061405429
	p := 0.3275911

	sign := 1.0
	if x < 0 {
		sign = -1.0
	}
	x = math.Abs(x) / math.Sqrt(2)

	t := 1.0 / (1.0 + p*x)
	y := 1.0 - (((((a5*t+a4)*t)+a3)*t+a2)*t+a1)*t*math.Exp(-x*x)

	return 0.5 * (1.0 + sign*y)
}

// Analyze calculates full statistics for an experiment. The first
// declared variant is treated as the control.
func Analyze(exp *experiment.Experiment, variantStats []store.VariantStats) *Result {
	statsMap := make(map[string]store.VariantStats)
	for _, s := range variantStats {
		statsMap[s.VariantID] = s
	}

	variants := make([]VariantResult, len(exp.Variants))
	maxRate := 0.0
	leading := 0

	for i, v := range exp.Variants {
		stat := statsMap[v.ID] // zero-valued when the variant has no traffic yet

		rate := 0.0
		if stat.Exposures > 0 {
			rate = float64(stat.Conversions) / float64(stat.Exposures)
		}

		ciLower, ciUpper := WilsonInterval(stat.Conversions, stat.Exposures, 0.95)

		variants[i] = VariantResult{
			ID:          v.ID,
			Exposures:   stat.Exposures,
			Conversions: stat.Conversions,
			Rate:        rate,
			CILower:     ciLower,
			CIUpper:     ciUpper,
		}

		if rate > maxRate {
			maxRate = rate
			leading = i
		}
	}

	// Significance between the leading variant and the control. When the
	// control itself leads, compare it against the best challenger.
	var confidenceLevel float64
	if len(variants) >= 2 {
		if leading == 0 {
			challenger := 1
			bestRate := 0.0
			for i := 1; i < len(variants); i++ {
				if variants[i].Rate > bestRate {
					bestRate = variants[i].Rate
					challenger = i
				}
			}
			confidenceLevel = SignificanceTest(
				variants[0].Conversions, variants[0].Exposures,
				variants[challenger].Conversions, variants[challenger].Exposures,
			)
		} else {
			confidenceLevel = SignificanceTest(
				variants[leading].Conversions, variants[leading].Exposures,
				variants[0].Conversions, variants[0].Exposures,
			)
		}
	}

	leadingID := ""
	if len(variants) > 0 {
		leadingID = variants[leading].ID
	}

	return &Result{
		Variants:        variants,
		Confident:       confidenceLevel >= 0.95,
		ConfidenceLevel: confidenceLevel,
		LeadingID:       leadingID,
	}
}

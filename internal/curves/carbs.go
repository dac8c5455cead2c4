package curves

import (
	"fmt"
	"math"
)

// Two-component absorption shaping. Fat and protein delay both components'
// time-to-peak, shift weight toward the slow component, and extend the
// total absorption window; fiber stretches the whole profile (lower rate,
// same mass). Coefficients are in minutes per gram of macro content.
const (
	fastPeakBaseFraction = 0.18
	slowPeakBaseFraction = 0.24

	fastPeakFatShift     = 0.60
	fastPeakProteinShift = 0.35
	slowPeakFatShift     = 0.90
	slowPeakProteinShift = 0.50

	fastFractionBase    = 0.85
	fastFractionMin     = 0.25
	fatFractionDrop     = 0.0050
	proteinFractionDrop = 0.0025

	fatDurationExtend     = 2.5
	proteinDurationExtend = 1.5

	fiberStretchPerGram = 0.025
)

// CarbCurve is a precomputed per-minute absorption profile for a single meal.
// Rate values are grams per minute and sum to the meal's total grams.
type CarbCurve struct {
	grams    float64
	fastPeak float64
	slowPeak float64
	fastFrac float64
	duration int

	rates []float64 // grams/min per minute since the meal
	cumg  []float64 // running absorbed grams
}

// NewCarbCurve builds the absorption profile for a meal. absorptionMinutes is
// the total duration of the profile for a plain-carbohydrate meal; macro
// content reshapes and extends the curve continuously rather than selecting
// among fixed named profiles. Both gamma components are truncated at the
// profile duration and re-normalized, conserving carbohydrate mass.
func NewCarbCurve(grams, fatG, proteinG, fiberG, absorptionMinutes float64) (*CarbCurve, error) {
	if grams < 0 {
		return nil, fmt.Errorf("curves: grams must be non-negative, got %g", grams)
	}
	if fatG < 0 || proteinG < 0 || fiberG < 0 {
		return nil, fmt.Errorf("curves: macro grams must be non-negative")
	}
	if absorptionMinutes <= 0 {
		return nil, fmt.Errorf("curves: carb_absorption_minutes must be positive, got %g", absorptionMinutes)
	}

	fiberStretch := 1 + fiberStretchPerGram*fiberG
	fastPeak := (fastPeakBaseFraction*absorptionMinutes + fastPeakFatShift*fatG + fastPeakProteinShift*proteinG) * fiberStretch
	slowPeak := (slowPeakBaseFraction*absorptionMinutes + slowPeakFatShift*fatG + slowPeakProteinShift*proteinG) * fiberStretch

	fastFrac := fastFractionBase - fatFractionDrop*fatG - proteinFractionDrop*proteinG
	if fastFrac < fastFractionMin {
		fastFrac = fastFractionMin
	}

	duration := int(math.Ceil((absorptionMinutes + fatDurationExtend*fatG + proteinDurationExtend*proteinG) * fiberStretch))
	if duration < 1 {
		duration = 1
	}

	curve := &CarbCurve{
		grams:    grams,
		fastPeak: fastPeak,
		slowPeak: slowPeak,
		fastFrac: fastFrac,
		duration: duration,
		rates:    make([]float64, duration+1),
		cumg:     make([]float64, duration+1),
	}

	if grams == 0 {
		return curve, nil
	}

	fast := gammaComponent(fastPeak, duration)
	slow := gammaComponent(slowPeak, duration)

	var running float64
	for i := 0; i <= duration; i++ {
		curve.rates[i] = grams * (fastFrac*fast[i] + (1-fastFrac)*slow[i])
		running += curve.rates[i]
		curve.cumg[i] = running
	}
	return curve, nil
}

// Rate returns grams absorbed per minute at the given elapsed time since the
// meal. Zero before the meal and after absorption completes.
func (c *CarbCurve) Rate(elapsedMinutes float64) float64 {
	if elapsedMinutes < 0 || elapsedMinutes >= float64(len(c.rates)) {
		return 0
	}
	return c.rates[int(elapsedMinutes)]
}

// GramsRemaining returns carbs still unabsorbed (the COB contribution).
func (c *CarbCurve) GramsRemaining(elapsedMinutes float64) float64 {
	if elapsedMinutes < 0 {
		return c.grams
	}
	idx := int(elapsedMinutes)
	if idx >= len(c.cumg) {
		return 0
	}
	remaining := c.grams - c.cumg[idx]
	if remaining < 0 {
		return 0
	}
	return remaining
}

// PeakMinutes reports the minute of maximum absorption rate.
func (c *CarbCurve) PeakMinutes() float64 {
	best, bestRate := 0, 0.0
	for i, r := range c.rates {
		if r > bestRate {
			best, bestRate = i, r
		}
	}
	return float64(best)
}

// DurationMinutes reports the minute at which absorption is complete.
func (c *CarbCurve) DurationMinutes() int { return c.duration }

// gammaComponent samples a gamma-shaped rate curve (t/tau^2)e^(-t/tau) with
// peak at tau, truncated at the component duration and normalized to unit
// mass over the truncated window.
func gammaComponent(tau float64, duration int) []float64 {
	out := make([]float64, duration+1)
	var total float64
	for t := 0; t <= duration; t++ {
		ft := float64(t)
		out[t] = (ft / (tau * tau)) * math.Exp(-ft/tau)
		total += out[t]
	}
	if total <= 0 {
		return out
	}
	for t := range out {
		out[t] /= total
	}
	return out
}

// Package curves contains the physiological curve models used by the
// simulation engine: insulin glucose-infusion-rate activity and two-component
// carbohydrate absorption. Curve shapes are embedded as constant rate tables
// sampled over normalized time and evaluated by linear interpolation; all
// functions are pure and allocation happens once per curve instance.
package curves

import (
	"fmt"
	"math"
)

// Model identifies the insulin activity profile to simulate.
type Model string

const (
	// ModelRapidActing covers rapid analogs such as lispro and aspart.
	ModelRapidActing Model = "rapid-acting"
	// ModelUltraRapid covers ultra-rapid analogs such as faster aspart.
	ModelUltraRapid Model = "ultra-rapid"
)

// Minimum effective DIA enforced per model for simulation purposes. Empirical
// infusion-rate tails are long; configured DIAs below these floors understate
// late activity and produce optimistic trajectories.
const (
	minEffectiveDIARapid      = 330.0
	minEffectiveDIAUltraRapid = 300.0
)

// Normalized glucose-infusion-rate tables, sampled at 21 evenly spaced points
// over [0, effective DIA]. Values are relative rates (peak = 1.0); absolute
// scale is irrelevant because each curve instance is re-normalized so its
// activity integrates to 1 over the effective DIA. Shapes follow published
// euglycemic clamp GIR data: smooth onset ramp, broad peak, long decaying
// tail that never re-increases.
var girTables = map[Model]girTable{
	ModelRapidActing: {
		peakFraction: 0.20,
		values: []float64{
			0, 0.555, 0.850, 0.977, 1.000, 0.955, 0.878, 0.785, 0.687,
			0.592, 0.504, 0.424, 0.355, 0.294, 0.243, 0.199, 0.163,
			0.132, 0.107, 0.087, 0.070,
		},
	},
	ModelUltraRapid: {
		peakFraction: 0.15,
		values: []float64{
			0, 0.649, 0.931, 1.000, 0.955, 0.856, 0.736, 0.615, 0.504,
			0.406, 0.322, 0.253, 0.199, 0.155, 0.119, 0.092, 0.070,
			0.053, 0.040, 0.031, 0.023,
		},
	},
}

type girTable struct {
	peakFraction float64 // position of the table's native peak in [0,1]
	values       []float64
}

// InsulinCurve is a precomputed per-minute insulin activity profile for one
// model/DIA/peak combination. Rate values integrate to 1 over the effective
// DIA, so multiplying by dosed units and ISF yields mg/dL per minute.
type InsulinCurve struct {
	model        Model
	effectiveDIA float64
	peakMinutes  float64
	overridden   bool

	rates  []float64 // index = minute since dose, normalized to sum 1
	cumact []float64 // running sum of rates (fraction of action used)
}

// EffectiveDIA applies the per-model minimum DIA floor. The boolean reports
// whether the configured value was overridden.
func EffectiveDIA(model Model, diaMinutes float64) (float64, bool) {
	floor := minEffectiveDIARapid
	if model == ModelUltraRapid {
		floor = minEffectiveDIAUltraRapid
	}
	if diaMinutes < floor {
		return floor, true
	}
	return diaMinutes, false
}

// NewInsulinCurve builds the activity profile for the given model. The table's
// native peak is warped onto peakMinutes with a piecewise-linear time map so
// callers can tune time-to-peak without changing the curve family.
func NewInsulinCurve(model Model, diaMinutes, peakMinutes float64) (*InsulinCurve, error) {
	table, ok := girTables[model]
	if !ok {
		return nil, fmt.Errorf("curves: unknown insulin model %q", model)
	}
	if diaMinutes <= 0 {
		return nil, fmt.Errorf("curves: dia_minutes must be positive, got %g", diaMinutes)
	}

	effDIA, overridden := EffectiveDIA(model, diaMinutes)

	nativePeak := table.peakFraction * effDIA
	peak := peakMinutes
	if peak <= 0 || peak >= effDIA {
		peak = nativePeak
	}

	n := int(math.Ceil(effDIA)) + 1
	rates := make([]float64, n)
	var total float64
	for minute := 0; minute < n; minute++ {
		u := warpMinute(float64(minute), peak, effDIA, table.peakFraction)
		rates[minute] = interpolate(table.values, u)
		total += rates[minute]
	}
	if total <= 0 {
		return nil, fmt.Errorf("curves: degenerate insulin curve for model %q", model)
	}

	cumact := make([]float64, n)
	var running float64
	for i := range rates {
		rates[i] /= total
		running += rates[i]
		cumact[i] = running
	}

	return &InsulinCurve{
		model:        model,
		effectiveDIA: effDIA,
		peakMinutes:  peak,
		overridden:   overridden,
		rates:        rates,
		cumact:       cumact,
	}, nil
}

// Activity returns the instantaneous activity fraction per minute at the given
// elapsed time since the dose. Zero before the dose and past the effective DIA.
func (c *InsulinCurve) Activity(elapsedMinutes float64) float64 {
	if elapsedMinutes < 0 || elapsedMinutes >= float64(len(c.rates)) {
		return 0
	}
	return c.rates[int(elapsedMinutes)]
}

// FractionRemaining returns the fraction of the dose still active (the IOB
// fraction) after the given elapsed time.
func (c *InsulinCurve) FractionRemaining(elapsedMinutes float64) float64 {
	if elapsedMinutes < 0 {
		return 1
	}
	idx := int(elapsedMinutes)
	if idx >= len(c.cumact) {
		return 0
	}
	remaining := 1 - c.cumact[idx]
	if remaining < 0 {
		return 0
	}
	return remaining
}

// EffectiveDIAMinutes reports the DIA actually used by the curve.
func (c *InsulinCurve) EffectiveDIAMinutes() float64 { return c.effectiveDIA }

// Overridden reports whether the configured DIA was raised to the model floor.
func (c *InsulinCurve) Overridden() bool { return c.overridden }

// PeakMinutes reports the time-to-peak used by the curve.
func (c *InsulinCurve) PeakMinutes() float64 { return c.peakMinutes }

// warpMinute maps a simulation minute onto the table's normalized time axis,
// sending the configured peak minute to the table's native peak position.
func warpMinute(minute, peak, dia, peakFraction float64) float64 {
	if minute <= peak {
		return (minute / peak) * peakFraction
	}
	return peakFraction + (minute-peak)/(dia-peak)*(1-peakFraction)
}

// interpolate evaluates a uniformly sampled table at normalized position u.
func interpolate(values []float64, u float64) float64 {
	if u <= 0 {
		return values[0]
	}
	if u >= 1 {
		return values[len(values)-1]
	}
	pos := u * float64(len(values)-1)
	lo := int(pos)
	frac := pos - float64(lo)
	return values[lo] + frac*(values[lo+1]-values[lo])
}

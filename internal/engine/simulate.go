package engine

import (
	"math"

	"glucose-forecast/internal/curves"
)

// Momentum models short-term trend persistence: the observed slope decays
// exponentially and is cut off entirely after the window, so a transient
// trend is never extrapolated across the whole horizon.
const (
	momentumDecayTau      = 25.0
	momentumWindowMinutes = 90
)

// Run executes a full simulation: main trajectory, no-new-action baseline,
// optional adjustment strategy, and result assembly. It is safe for
// concurrent use; every call owns its inputs and allocates fresh outputs.
func Run(req Request, adjuster Adjuster) (*Result, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	params := req.Params
	if params.SensitivityMultiplier == 0 {
		params.SensitivityMultiplier = 1
	}
	req.Params = params

	insulinCurve, err := curves.NewInsulinCurve(params.InsulinModel, params.DIAMinutes, params.InsulinPeakMinutes)
	if err != nil {
		return nil, err
	}

	tl, err := buildTimeline(req, insulinCurve)
	if err != nil {
		return nil, err
	}

	series, components := integrate(req, tl)
	baseline, _ := integrate(req, tl.withoutNearTermEvents())

	meta := Meta{
		DIAOverridden:       insulinCurve.Overridden(),
		EffectiveDIAMinutes: insulinCurve.EffectiveDIAMinutes(),
	}

	if adjuster != nil {
		series, meta.Pattern = adjuster.Apply(series)
	}

	return &Result{
		Series:         series,
		BaselineSeries: baseline,
		Components:     components,
		Summary:        summarize(series),
		Meta:           meta,
	}, nil
}

// integrate runs the per-minute state machine over t = 0..horizon. Each step
// adds carb absorption, subtracts insulin activity, applies basal drift and
// decaying momentum, then hard-clamps to the physiological bounds.
func integrate(req Request, tl timeline) ([]Point, []Component) {
	horizon := req.HorizonMinutes
	adjISF := req.Params.ISF * req.Params.SensitivityMultiplier
	csf := adjISF / req.Params.ICR

	driftPerMinute := 0.0
	if req.Params.BasalDailyUnits > 0 && req.Params.NeededBasalDailyUnits > 0 {
		driftPerMinute = (req.Params.NeededBasalDailyUnits - req.Params.BasalDailyUnits) / 1440 * adjISF
	}

	slopePerMinute := req.InitialSlope / 5

	series := make([]Point, horizon+1)
	components := make([]Component, horizon+1)
	series[0] = Point{TMinutes: 0, BG: clampBG(req.StartBG)}
	components[0] = Component{TMinutes: 0}

	bg := series[0].BG
	var carbImpact, insulinImpact float64

	for t := 1; t <= horizon; t++ {
		minute := float64(t)

		insulinRate := 0.0
		for _, b := range tl.boluses {
			insulinRate += bolusActivityAt(b, minute)
		}
		insulinEffect := insulinRate * adjISF

		carbRate := 0.0
		for _, c := range tl.carbs {
			carbRate += c.curve.Rate(minute - c.startMinutes)
		}
		carbEffect := carbRate * csf

		momentum := 0.0
		if t <= momentumWindowMinutes {
			momentum = slopePerMinute * math.Exp(-minute/momentumDecayTau)
		}

		bg = clampBG(bg + carbEffect - insulinEffect + driftPerMinute + momentum)

		carbImpact += carbEffect
		insulinImpact -= insulinEffect

		series[t] = Point{TMinutes: t, BG: bg}
		components[t] = Component{TMinutes: t, CarbImpact: carbImpact, InsulinImpact: insulinImpact}
	}

	return series, components
}

// bolusActivityAt returns units of insulin acting at the given minute.
// Extended deliveries are spread as per-minute micro-doses, each following
// the full activity curve from its own delivery minute.
func bolusActivityAt(b timedBolus, minute float64) float64 {
	if b.durationMinutes <= 1 {
		return b.units * b.curve.Activity(minute-b.startMinutes)
	}
	perMinute := b.units / b.durationMinutes
	total := 0.0
	for d := 0.0; d < b.durationMinutes; d++ {
		total += perMinute * b.curve.Activity(minute - b.startMinutes - d)
	}
	return total
}

func clampBG(v float64) float64 {
	if v < MinBG {
		return MinBG
	}
	if v > MaxBG {
		return MaxBG
	}
	return v
}

// IOB returns insulin still active from the request's boluses at minute 0,
// using the same onset and curve semantics as the simulation.
func IOB(params Params, boluses []Bolus) (float64, error) {
	curve, err := curves.NewInsulinCurve(params.InsulinModel, params.DIAMinutes, params.InsulinPeakMinutes)
	if err != nil {
		return 0, err
	}
	var iob float64
	for _, b := range boluses {
		if b.OffsetMinutes > 0 {
			continue
		}
		iob += b.Units * curve.FractionRemaining(-float64(b.OffsetMinutes))
	}
	return iob, nil
}

// COB returns carbohydrate grams still unabsorbed from the request's carb
// events at minute 0.
func COB(params Params, carbs []Carb) (float64, error) {
	absorption := params.CarbAbsorptionMinutes
	if absorption <= 0 {
		absorption = 180
	}
	var cob float64
	for _, c := range carbs {
		if c.OffsetMinutes > 0 {
			continue
		}
		curve, err := curves.NewCarbCurve(c.Grams, c.FatG, c.ProteinG, c.FiberG, absorption)
		if err != nil {
			return 0, err
		}
		cob += curve.GramsRemaining(-float64(c.OffsetMinutes))
	}
	return cob, nil
}

package engine

import (
	"errors"
	"fmt"

	"glucose-forecast/internal/curves"
)

// Events with offsets at or after this threshold are removed when computing
// the no-new-action baseline.
const baselineExclusionOffset = -5

var (
	ErrInvalidISF     = errors.New("engine: isf must be positive")
	ErrInvalidICR     = errors.New("engine: icr must be positive")
	ErrInvalidDIA     = errors.New("engine: dia_minutes must be positive")
	ErrInvalidHorizon = errors.New("engine: horizon_minutes must be positive")
)

// timedBolus is a normalized insulin event: startMinutes already includes the
// onset delay where it applies, durationMinutes is at least 1.
type timedBolus struct {
	startMinutes    float64
	units           float64
	durationMinutes float64
	rawOffset       int
	curve           *curves.InsulinCurve
}

// timedCarb is a normalized carbohydrate event with its absorption curve.
type timedCarb struct {
	startMinutes float64
	rawOffset    int
	curve        *curves.CarbCurve
}

type timeline struct {
	boluses []timedBolus
	carbs   []timedCarb
}

func validateRequest(req Request) error {
	if req.Params.ISF <= 0 {
		return ErrInvalidISF
	}
	if req.Params.ICR <= 0 {
		return ErrInvalidICR
	}
	if req.Params.DIAMinutes <= 0 {
		return ErrInvalidDIA
	}
	if req.HorizonMinutes <= 0 {
		return ErrInvalidHorizon
	}
	if req.HorizonMinutes > MaxHorizonMinutes {
		return fmt.Errorf("engine: horizon_minutes %d exceeds maximum %d", req.HorizonMinutes, MaxHorizonMinutes)
	}
	if req.Params.SensitivityMultiplier < 0 {
		return fmt.Errorf("engine: insulin_sensitivity_multiplier cannot be negative")
	}
	for i, b := range req.Events.Boluses {
		if b.Units <= 0 {
			return fmt.Errorf("engine: bolus %d: units must be positive, got %g", i, b.Units)
		}
		if b.DurationMinutes < 0 {
			return fmt.Errorf("engine: bolus %d: duration_minutes cannot be negative", i)
		}
	}
	for i, c := range req.Events.Carbs {
		if c.Grams < 0 {
			return fmt.Errorf("engine: carb %d: grams cannot be negative, got %g", i, c.Grams)
		}
		if c.FatG < 0 || c.ProteinG < 0 || c.FiberG < 0 {
			return fmt.Errorf("engine: carb %d: macro grams cannot be negative", i)
		}
	}
	return nil
}

// buildTimeline normalizes raw events into curve-backed timed events. The
// onset delay applies only to planned insulin (offset > 0); the physiological
// clock of an already administered dose starts immediately, which keeps early
// carb absorption from artificially winning the race against insulin the user
// has already registered.
func buildTimeline(req Request, insulinCurve *curves.InsulinCurve) (timeline, error) {
	var tl timeline

	for _, b := range req.Events.Boluses {
		start := float64(b.OffsetMinutes)
		if b.OffsetMinutes > 0 {
			start += req.Params.InsulinOnsetMinutes
		}
		duration := float64(b.DurationMinutes)
		if duration < 1 {
			duration = 1
		}
		tl.boluses = append(tl.boluses, timedBolus{
			startMinutes:    start,
			units:           b.Units,
			durationMinutes: duration,
			rawOffset:       b.OffsetMinutes,
			curve:           insulinCurve,
		})
	}

	absorption := req.Params.CarbAbsorptionMinutes
	if absorption <= 0 {
		absorption = 180
	}
	for _, c := range req.Events.Carbs {
		curve, err := curves.NewCarbCurve(c.Grams, c.FatG, c.ProteinG, c.FiberG, absorption)
		if err != nil {
			return timeline{}, err
		}
		tl.carbs = append(tl.carbs, timedCarb{
			startMinutes: float64(c.OffsetMinutes),
			rawOffset:    c.OffsetMinutes,
			curve:        curve,
		})
	}

	return tl, nil
}

// withoutNearTermEvents filters out anything that just happened or is about
// to happen, leaving only events older than the exclusion threshold.
func (tl timeline) withoutNearTermEvents() timeline {
	var filtered timeline
	for _, b := range tl.boluses {
		if b.rawOffset < baselineExclusionOffset {
			filtered.boluses = append(filtered.boluses, b)
		}
	}
	for _, c := range tl.carbs {
		if c.rawOffset < baselineExclusionOffset {
			filtered.carbs = append(filtered.carbs, c)
		}
	}
	return filtered
}

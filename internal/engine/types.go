// Package engine implements the deterministic glucose forecasting core: a
// per-minute integrator over insulin and carbohydrate curve contributions,
// basal drift, and decaying momentum, producing a planned trajectory and a
// no-new-action baseline. The engine performs no I/O and reads no clocks;
// every run is a pure function of its request.
package engine

import (
	"glucose-forecast/internal/curves"
)

// Hard physiological clamp applied to every trajectory point.
const (
	MinBG = 20.0
	MaxBG = 600.0
)

// MaxHorizonMinutes bounds the loop's work; callers wanting predictable
// latency should stay at or below 360.
const MaxHorizonMinutes = 720

// Bolus is a timed insulin delivery. Offsets are minutes relative to "now":
// negative values are historical, zero is happening now, positive values are
// planned. DurationMinutes > 0 marks an extended delivery spread evenly over
// the window.
type Bolus struct {
	OffsetMinutes   int     `json:"time_offset_min"`
	Units           float64 `json:"units"`
	DurationMinutes int     `json:"duration_minutes,omitempty"`
}

// Carb is a timed carbohydrate intake with optional macro content. Fat and
// protein reshape the absorption curve without adding glucose-equivalent
// mass; fiber slows absorption. Dessert is informational only.
type Carb struct {
	OffsetMinutes int     `json:"time_offset_min"`
	Grams         float64 `json:"grams"`
	FatG          float64 `json:"fat_g,omitempty"`
	ProteinG      float64 `json:"protein_g,omitempty"`
	FiberG        float64 `json:"fiber_g,omitempty"`
	Dessert       bool    `json:"is_dessert,omitempty"`
}

// Params are the immutable per-call simulation parameters.
type Params struct {
	ISF                   float64      `json:"isf"`
	ICR                   float64      `json:"icr"`
	DIAMinutes            float64      `json:"dia_minutes"`
	InsulinModel          curves.Model `json:"insulin_model"`
	InsulinPeakMinutes    float64      `json:"insulin_peak_minutes"`
	InsulinOnsetMinutes   float64      `json:"insulin_onset_minutes"`
	CarbAbsorptionMinutes float64      `json:"carb_absorption_minutes"`
	SensitivityMultiplier float64      `json:"insulin_sensitivity_multiplier"`
	TargetBG              float64      `json:"target_bg,omitempty"`
	BasalDailyUnits       float64      `json:"basal_daily_units,omitempty"`
	NeededBasalDailyUnits float64      `json:"needed_basal_daily_units,omitempty"`
}

// Events groups the timed inputs of a request.
type Events struct {
	Boluses []Bolus `json:"boluses"`
	Carbs   []Carb  `json:"carbs"`
}

// Request is the full input contract of a simulation run.
type Request struct {
	StartBG        float64 `json:"start_bg"`
	HorizonMinutes int     `json:"horizon_minutes"`
	// InitialSlope is the observed glucose trend in mg/dL per 5 minutes,
	// carried forward as decaying momentum over the first ~90 minutes.
	InitialSlope float64 `json:"initial_slope,omitempty"`
	Params       Params  `json:"params"`
	Events       Events  `json:"events"`
}

// Point is one minute of the projected trajectory.
type Point struct {
	TMinutes int     `json:"t_min"`
	BG       float64 `json:"bg"`
}

// Component is the per-minute contribution breakdown relative to StartBG.
type Component struct {
	TMinutes      int     `json:"t_min"`
	CarbImpact    float64 `json:"carb_impact"`
	InsulinImpact float64 `json:"insulin_impact"`
}

// Summary holds trajectory statistics; ties on the minimum break toward the
// earliest occurrence.
type Summary struct {
	MinBG            float64 `json:"min_bg"`
	MaxBG            float64 `json:"max_bg"`
	EndingBG         float64 `json:"ending_bg"`
	TimeToMinMinutes int     `json:"time_to_min"`
}

// PatternMeta reports the night-pattern blender's decision for this run.
// ReasonNotApplied names the first failing gate; an unapplied pattern is a
// normal outcome, never an error.
type PatternMeta struct {
	Enabled          bool    `json:"enabled"`
	Applied          bool    `json:"applied"`
	Window           string  `json:"window,omitempty"`
	ReasonNotApplied string  `json:"reason_not_applied,omitempty"`
	Weight           float64 `json:"weight,omitempty"`
	CapMgdl          float64 `json:"cap_mgdl,omitempty"`
	SampleDays       int     `json:"sample_days,omitempty"`
	SamplePoints     int     `json:"sample_points,omitempty"`
}

// Meta carries diagnostic flags collected during the run.
type Meta struct {
	DIAOverridden       bool        `json:"dia_overridden"`
	EffectiveDIAMinutes float64     `json:"effective_dia_minutes"`
	Pattern             PatternMeta `json:"pattern"`
}

// Result is the output contract of a simulation run. All slices are freshly
// allocated per call; nothing is shared between invocations.
type Result struct {
	Series         []Point     `json:"series"`
	BaselineSeries []Point     `json:"baseline_series"`
	Components     []Component `json:"components,omitempty"`
	Summary        Summary     `json:"summary"`
	Meta           Meta        `json:"meta"`
}

// Adjuster is the pluggable post-simulation trajectory adjustment strategy.
// Implementations must be pure with respect to the series they receive and
// report their decision through PatternMeta.
type Adjuster interface {
	Apply(series []Point) ([]Point, PatternMeta)
}

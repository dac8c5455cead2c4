package nightpattern

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"glucose-forecast/internal/engine"
)

// Gate failure reasons surfaced in meta.pattern.reason_not_applied. The
// first failing gate wins.
const (
	ReasonDisabled       = "disabled"
	ReasonNoProfile      = "no_profile"
	ReasonOutsideWindow  = "outside_window"
	ReasonAfterCutoff    = "after_cutoff"
	ReasonIOBUnavailable = "iob_unavailable"
	ReasonIOBHigh        = "iob_high"
	ReasonCOBUnavailable = "cob_unavailable"
	ReasonCOBHigh        = "cob_high"
	ReasonRecentMeal     = "recent_meal"
	ReasonRecentBolus    = "recent_bolus"
	ReasonRising         = "rising"
	ReasonSlowDigestion  = "slow_digestion"
)

// Window tier labels.
const (
	WindowTierA = "A"
	WindowTierB = "B"
)

// Config holds the blender's gating parameters. Clock boundaries are minutes
// of local day; windows may wrap past midnight. Tier A is the early, more
// permissive window; tier B runs from the end of A to the hard cutoff and
// additionally requires all slow-digestion signals to be absent.
type Config struct {
	Enabled bool

	WindowAStart int
	WindowAEnd   int
	HardCutoff   int // end of tier B; the blender never applies at or past this
	NightEnd     int // end of the overnight region for cutoff reporting

	WeightA float64
	WeightB float64
	CapMgdl float64

	IOBCeilingUnits float64
	COBCeilingGrams float64

	MealLookbackMinutes  float64
	BolusLookbackMinutes float64

	RisingSlopeMgdlPer5Min float64

	SlowMealLookbackMinutes float64
	SlowMealFatProteinGrams float64
	SustainedRiseMgdl       float64
}

// Snapshot carries the externally observed state the gates need. Nil pointer
// fields mean "unavailable", which fails the corresponding gate.
type Snapshot struct {
	IOBUnits          *float64
	COBGrams          *float64
	MinutesSinceMeal  *float64
	MinutesSinceBolus *float64
	LastMealFatG      float64
	LastMealProteinG  float64
	Slope5Min         float64
	// Rise30to60 is the sustained glucose rise observed over the trailing
	// 30-60 minute window, one of the slow-digestion signals.
	Rise30to60 float64
}

// Blender applies the bounded overnight correction. It implements
// engine.Adjuster and is constructed per run with an explicit local time so
// the core stays deterministic.
type Blender struct {
	cfg       Config
	profile   *Profile
	localTime time.Time
	snap      Snapshot
	logger    zerolog.Logger
}

// New constructs a blender for one simulation run.
func New(cfg Config, profile *Profile, localTime time.Time, snap Snapshot, logger zerolog.Logger) *Blender {
	return &Blender{
		cfg:       cfg,
		profile:   profile,
		localTime: localTime,
		snap:      snap,
		logger:    logger.With().Str("component", "night_pattern").Logger(),
	}
}

// Apply blends the pattern delta into the series when every gate passes,
// otherwise returns the series untouched with the first failing reason.
func (b *Blender) Apply(series []engine.Point) ([]engine.Point, engine.PatternMeta) {
	meta := engine.PatternMeta{Enabled: b.cfg.Enabled}

	tier, reason := b.evaluate()
	if reason != "" {
		meta.ReasonNotApplied = reason
		b.logger.Debug().Str("reason", reason).Msg("night pattern skipped")
		return series, meta
	}

	weight := b.cfg.WeightA
	if tier == WindowTierB {
		weight = b.cfg.WeightB
	}

	minuteOfDay := b.localTime.Hour()*60 + b.localTime.Minute()
	base := b.profile.DeltaAt(minuteOfDay)

	adjusted := make([]engine.Point, len(series))
	for i, p := range series {
		delta := weight * (b.profile.DeltaAt(minuteOfDay+p.TMinutes) - base)
		if delta > b.cfg.CapMgdl {
			delta = b.cfg.CapMgdl
		} else if delta < -b.cfg.CapMgdl {
			delta = -b.cfg.CapMgdl
		}
		bg := p.BG + delta
		if bg < engine.MinBG {
			bg = engine.MinBG
		} else if bg > engine.MaxBG {
			bg = engine.MaxBG
		}
		adjusted[i] = engine.Point{TMinutes: p.TMinutes, BG: bg}
	}

	meta.Applied = true
	meta.Window = tier
	meta.Weight = weight
	meta.CapMgdl = b.cfg.CapMgdl
	meta.SampleDays = b.profile.SampleDays
	meta.SamplePoints = b.profile.SamplePoints

	b.logger.Debug().Str("window", tier).Float64("weight", weight).Msg("night pattern applied")
	return adjusted, meta
}

// evaluate runs the gate chain and returns the window tier on success or the
// first failing reason otherwise.
func (b *Blender) evaluate() (tier, reason string) {
	if !b.cfg.Enabled {
		return "", ReasonDisabled
	}
	if b.profile.Empty() {
		return "", ReasonNoProfile
	}

	minuteOfDay := b.localTime.Hour()*60 + b.localTime.Minute()
	switch {
	case inWindow(minuteOfDay, b.cfg.WindowAStart, b.cfg.WindowAEnd):
		tier = WindowTierA
	case inWindow(minuteOfDay, b.cfg.WindowAEnd, b.cfg.HardCutoff):
		tier = WindowTierB
	case inWindow(minuteOfDay, b.cfg.HardCutoff, b.cfg.NightEnd):
		return "", ReasonAfterCutoff
	default:
		return "", ReasonOutsideWindow
	}

	if b.snap.IOBUnits == nil {
		return "", ReasonIOBUnavailable
	}
	if *b.snap.IOBUnits > b.cfg.IOBCeilingUnits {
		return "", ReasonIOBHigh
	}
	if b.snap.COBGrams == nil {
		return "", ReasonCOBUnavailable
	}
	if *b.snap.COBGrams > b.cfg.COBCeilingGrams {
		return "", ReasonCOBHigh
	}
	if b.snap.MinutesSinceMeal != nil && *b.snap.MinutesSinceMeal < b.cfg.MealLookbackMinutes {
		return "", ReasonRecentMeal
	}
	if b.snap.MinutesSinceBolus != nil && *b.snap.MinutesSinceBolus < b.cfg.BolusLookbackMinutes {
		return "", ReasonRecentBolus
	}
	if b.snap.Slope5Min > b.cfg.RisingSlopeMgdlPer5Min {
		return "", ReasonRising
	}

	if tier == WindowTierB {
		if b.snap.MinutesSinceMeal != nil && *b.snap.MinutesSinceMeal < b.cfg.SlowMealLookbackMinutes {
			return "", ReasonSlowDigestion
		}
		if b.snap.LastMealFatG+b.snap.LastMealProteinG >= b.cfg.SlowMealFatProteinGrams {
			return "", ReasonSlowDigestion
		}
		if *b.snap.COBGrams > 0 {
			return "", ReasonSlowDigestion
		}
		if b.snap.Rise30to60 >= b.cfg.SustainedRiseMgdl {
			return "", ReasonSlowDigestion
		}
	}

	return tier, ""
}

// inWindow reports whether minute m of the day lies in [start, end), with
// wrap-around across midnight.
func inWindow(m, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return m >= start && m < end
	}
	return m >= start || m < end
}

// ParseClock converts an "HH:MM" string into minutes of day.
func ParseClock(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("nightpattern: invalid clock value %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("nightpattern: invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("nightpattern: invalid minute in %q", s)
	}
	return h*60 + m, nil
}

var _ engine.Adjuster = (*Blender)(nil)

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"glucose-forecast/internal/engine"
	"glucose-forecast/internal/nightpattern"
)

// Forecast runs a single simulation from a JSON request file and writes the
// result as JSON. Unset request parameters fall back to configured defaults.
func (a *App) Forecast(ctx context.Context, opts ForecastOptions) error {
	if opts.RequestPath == "" {
		return errors.New("--request is required")
	}

	raw, err := os.ReadFile(opts.RequestPath)
	if err != nil {
		return fmt.Errorf("read request file: %w", err)
	}

	var req engine.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("parse request file: %w", err)
	}
	a.applyParamDefaults(&req)

	adjuster, err := a.buildFileAdjuster(req, opts)
	if err != nil {
		return err
	}

	result, err := engine.Run(req, adjuster)
	if err != nil {
		return err
	}

	var out []byte
	if opts.Pretty {
		out, err = json.MarshalIndent(result, "", "  ")
	} else {
		out, err = json.Marshal(result)
	}
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	if opts.OutputPath != "" {
		if err := ensureDir(opts.OutputPath); err != nil {
			return err
		}
		return os.WriteFile(opts.OutputPath, append(out, '\n'), 0o644)
	}

	_, err = os.Stdout.Write(append(out, '\n'))
	return err
}

func (a *App) applyParamDefaults(req *engine.Request) {
	defaults := a.Config.EngineParams()
	p := &req.Params

	if p.ISF == 0 {
		p.ISF = defaults.ISF
	}
	if p.ICR == 0 {
		p.ICR = defaults.ICR
	}
	if p.DIAMinutes == 0 {
		p.DIAMinutes = defaults.DIAMinutes
	}
	if p.InsulinModel == "" {
		p.InsulinModel = defaults.InsulinModel
	}
	if p.InsulinPeakMinutes == 0 {
		p.InsulinPeakMinutes = defaults.InsulinPeakMinutes
	}
	if p.InsulinOnsetMinutes == 0 {
		p.InsulinOnsetMinutes = defaults.InsulinOnsetMinutes
	}
	if p.CarbAbsorptionMinutes == 0 {
		p.CarbAbsorptionMinutes = defaults.CarbAbsorptionMinutes
	}
	if p.SensitivityMultiplier == 0 {
		p.SensitivityMultiplier = defaults.SensitivityMultiplier
	}
	if p.TargetBG == 0 {
		p.TargetBG = defaults.TargetBG
	}
	if req.HorizonMinutes == 0 {
		req.HorizonMinutes = a.Config.Engine.HorizonMinutes
	}
}

// buildFileAdjuster wires the night-pattern blender from a profile file when
// one is supplied. The snapshot is derived purely from the request so the
// one-shot path stays deterministic.
func (a *App) buildFileAdjuster(req engine.Request, opts ForecastOptions) (engine.Adjuster, error) {
	if opts.ProfilePath == "" {
		return nil, nil
	}

	raw, err := os.ReadFile(opts.ProfilePath)
	if err != nil {
		return nil, fmt.Errorf("read profile file: %w", err)
	}
	var profile nightpattern.Profile
	if err := json.Unmarshal(raw, &profile); err != nil {
		return nil, fmt.Errorf("parse profile file: %w", err)
	}

	localTime, err := a.resolveLocalTime(opts.LocalTime)
	if err != nil {
		return nil, err
	}

	patternCfg, err := a.Config.Pattern.Build()
	if err != nil {
		return nil, err
	}
	patternCfg.Enabled = true

	snap, err := snapshotFromRequest(req)
	if err != nil {
		return nil, err
	}

	return nightpattern.New(patternCfg, &profile, localTime, snap, a.Logger), nil
}

func (a *App) resolveLocalTime(value string) (time.Time, error) {
	loc, err := a.Config.Location()
	if err != nil {
		return time.Time{}, err
	}
	if value == "" {
		return time.Now().In(loc), nil
	}
	if at, err := time.ParseInLocation(time.RFC3339, value, loc); err == nil {
		return at, nil
	}
	minuteOfDay, err := nightpattern.ParseClock(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--local-time must be RFC3339 or HH:MM: %w", err)
	}
	now := time.Now().In(loc)
	return time.Date(now.Year(), now.Month(), now.Day(), minuteOfDay/60, minuteOfDay%60, 0, 0, loc), nil
}

// snapshotFromRequest derives the gate inputs from the request's own events.
func snapshotFromRequest(req engine.Request) (nightpattern.Snapshot, error) {
	iob, err := engine.IOB(req.Params, req.Events.Boluses)
	if err != nil {
		return nightpattern.Snapshot{}, err
	}
	cob, err := engine.COB(req.Params, req.Events.Carbs)
	if err != nil {
		return nightpattern.Snapshot{}, err
	}

	snap := nightpattern.Snapshot{
		IOBUnits:  &iob,
		COBGrams:  &cob,
		Slope5Min: req.InitialSlope,
	}

	sinceMeal := math.MaxFloat64
	for _, c := range req.Events.Carbs {
		if c.OffsetMinutes > 0 {
			continue
		}
		age := -float64(c.OffsetMinutes)
		if age < sinceMeal {
			sinceMeal = age
			snap.LastMealFatG = c.FatG
			snap.LastMealProteinG = c.ProteinG
		}
	}
	if sinceMeal < math.MaxFloat64 {
		snap.MinutesSinceMeal = &sinceMeal
	} else {
		far := float64(engine.MaxHorizonMinutes)
		snap.MinutesSinceMeal = &far
	}

	sinceBolus := math.MaxFloat64
	for _, b := range req.Events.Boluses {
		if b.OffsetMinutes > 0 {
			continue
		}
		if age := -float64(b.OffsetMinutes); age < sinceBolus {
			sinceBolus = age
		}
	}
	if sinceBolus < math.MaxFloat64 {
		snap.MinutesSinceBolus = &sinceBolus
	} else {
		far := float64(engine.MaxHorizonMinutes)
		snap.MinutesSinceBolus = &far
	}

	return snap, nil
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"glucose-forecast/internal/alerting"
	"glucose-forecast/internal/config"
	"glucose-forecast/internal/dose"
	"glucose-forecast/internal/engine"
	"glucose-forecast/internal/fetcher"
	"glucose-forecast/internal/nightpattern"
	"glucose-forecast/internal/scheduler"
	"glucose-forecast/internal/storage"
)

// defaultProfileName keys the single overnight profile kept per deployment.
const defaultProfileName = "default"

// Service orchestrates fetching, simulation, persistence, and alerting.
type Service struct {
	scheduler  *scheduler.Scheduler
	glucose    fetcher.GlucoseFetcher
	treatments fetcher.TreatmentFetcher
	runStore   storage.ForecastRunStore
	alertStore storage.AlertStore
	profiles   storage.PatternProfileStore
	notifier   alerting.Notifier
	logger     zerolog.Logger

	params     engine.Params
	horizon    int
	patternCfg nightpattern.Config
	location   *time.Location
	staleAfter time.Duration

	threshold decimal.Decimal
	maxBolus  decimal.Decimal
	cooldown  time.Duration
	channels  []string
	alertsOn  bool
	locker    storage.AdvisoryLocker
	lockKey   int64
}

// New constructs the forecasting service.
func New(cfg *config.Config, sched *scheduler.Scheduler, glucose fetcher.GlucoseFetcher, treatments fetcher.TreatmentFetcher, runStore storage.ForecastRunStore, alertStore storage.AlertStore, profiles storage.PatternProfileStore, notifier alerting.Notifier, logger zerolog.Logger) (*Service, error) {
	threshold := decimal.Zero
	if cfg.Alerting.Enabled && cfg.Alerting.LowThresholdMgdl > 0 {
		threshold = decimal.NewFromFloat(cfg.Alerting.LowThresholdMgdl)
	}

	patternCfg, err := cfg.Pattern.Build()
	if err != nil {
		return nil, err
	}

	location, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	var locker storage.AdvisoryLocker
	if l, ok := runStore.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:  sched,
		glucose:    glucose,
		treatments: treatments,
		runStore:   runStore,
		alertStore: alertStore,
		profiles:   profiles,
		notifier:   notifier,
		logger:     logger.With().Str("component", "service").Logger(),
		params:     cfg.EngineParams(),
		horizon:    cfg.Engine.HorizonMinutes,
		patternCfg: patternCfg,
		location:   location,
		staleAfter: cfg.Nightscout.StaleAfter,
		threshold:  threshold,
		maxBolus:   decimal.NewFromFloat(cfg.Alerting.MaxBolusUnits),
		cooldown:   cfg.Alerting.Cooldown,
		channels:   cfg.Alerting.Channels,
		alertsOn:   cfg.Alerting.Enabled,
		locker:     locker,
		lockKey:    cfg.Scheduler.AdvisoryLockKey,
	}, nil
}

// Run begins the aligned forecasting loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessBucket)
}

// ProcessBucket executes one forecast cycle for a scheduler bucket.
func (s *Service) ProcessBucket(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeBucket(ctx, bucket)
}

func (s *Service) executeBucket(ctx context.Context, bucket time.Time) error {
	now := time.Now().UTC()

	reading, err := s.glucose.FetchGlucose(ctx)
	if err != nil {
		s.markErrored(ctx, bucket, fmt.Sprintf("fetch glucose: %v", err))
		return fmt.Errorf("fetch glucose: %w", err)
	}

	if s.staleAfter > 0 && now.Sub(reading.ReadAt) > s.staleAfter {
		err := fmt.Errorf("latest reading is stale: %s old", now.Sub(reading.ReadAt).Round(time.Minute))
		s.markErrored(ctx, bucket, err.Error())
		return err
	}

	events, obs, err := s.collectEvents(ctx, now)
	if err != nil {
		s.markErrored(ctx, bucket, err.Error())
		return err
	}

	req := engine.Request{
		StartBG:        reading.BG,
		HorizonMinutes: s.horizon,
		InitialSlope:   reading.Slope5Min,
		Params:         s.params,
		Events:         events,
	}

	adjuster := s.buildAdjuster(ctx, now, reading, events, obs)

	result, err := engine.Run(req, adjuster)
	if err != nil {
		s.markErrored(ctx, bucket, fmt.Sprintf("simulate: %v", err))
		return fmt.Errorf("simulate: %w", err)
	}

	iob := 0.0
	if obs.iob != nil {
		iob = *obs.iob
	}
	suggestion := dose.Correction(result.Summary.EndingBG, s.params.TargetBG, s.params.ISF, iob, s.maxBolus)

	if err := s.persistRun(ctx, bucket, reading, result, suggestion); err != nil {
		s.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to persist run")
	}

	s.logger.Info().Time("bucket", bucket).
		Float64("start_bg", reading.BG).
		Float64("min_bg", result.Summary.MinBG).
		Float64("ending_bg", result.Summary.EndingBG).
		Bool("pattern_applied", result.Meta.Pattern.Applied).
		Msg("forecast recorded")

	s.maybeAlert(ctx, bucket, reading, result, suggestion)
	return nil
}

// observations carries the derived state the night-pattern gates need.
// Nil fields propagate as "unavailable".
type observations struct {
	iob               *float64
	cob               *float64
	minutesSinceMeal  *float64
	minutesSinceBolus *float64
	lastMealFatG      float64
	lastMealProteinG  float64
}

// collectEvents fetches recent treatments and converts them to engine events
// with offsets in minutes relative to now.
func (s *Service) collectEvents(ctx context.Context, now time.Time) (engine.Events, observations, error) {
	lookback := time.Duration(s.params.DIAMinutes+s.params.CarbAbsorptionMinutes) * time.Minute
	since := now.Add(-lookback)

	treatments, err := s.treatments.FetchTreatments(ctx, since)
	if err != nil {
		return engine.Events{}, observations{}, fmt.Errorf("fetch treatments: %w", err)
	}

	var events engine.Events
	var obs observations

	for _, t := range treatments {
		offset := int(math.Round(t.At.Sub(now).Minutes()))
		if offset > 0 {
			// Future-dated entries are ignored in service mode; planned
			// events only enter through the one-shot forecast path.
			continue
		}
		age := -float64(offset)

		if t.InsulinUnits > 0 {
			events.Boluses = append(events.Boluses, engine.Bolus{
				OffsetMinutes:   offset,
				Units:           t.InsulinUnits,
				DurationMinutes: t.DurationMin,
			})
			if obs.minutesSinceBolus == nil || age < *obs.minutesSinceBolus {
				v := age
				obs.minutesSinceBolus = &v
			}
		}
		if t.CarbGrams > 0 {
			events.Carbs = append(events.Carbs, engine.Carb{
				OffsetMinutes: offset,
				Grams:         t.CarbGrams,
				FatG:          t.FatG,
				ProteinG:      t.ProteinG,
				FiberG:        t.FiberG,
			})
			if obs.minutesSinceMeal == nil || age < *obs.minutesSinceMeal {
				v := age
				obs.minutesSinceMeal = &v
				obs.lastMealFatG = t.FatG
				obs.lastMealProteinG = t.ProteinG
			}
		}
	}

	if iob, err := engine.IOB(s.params, events.Boluses); err == nil {
		obs.iob = &iob
	}
	if cob, err := engine.COB(s.params, events.Carbs); err == nil {
		obs.cob = &cob
	}

	// No treatments in the lookback window means zero activity, not
	// unavailable data.
	if obs.minutesSinceMeal == nil && obs.cob != nil && *obs.cob == 0 {
		v := lookback.Minutes()
		obs.minutesSinceMeal = &v
	}
	if obs.minutesSinceBolus == nil && obs.iob != nil && *obs.iob == 0 {
		v := lookback.Minutes()
		obs.minutesSinceBolus = &v
	}

	return events, obs, nil
}

// buildAdjuster loads the overnight profile and wires the blender. A nil
// return disables adjustment for this run.
func (s *Service) buildAdjuster(ctx context.Context, now time.Time, reading fetcher.Reading, events engine.Events, obs observations) engine.Adjuster {
	if !s.patternCfg.Enabled || s.profiles == nil {
		return nil
	}

	rec, found, err := s.profiles.GetPatternProfile(ctx, defaultProfileName)
	var profile *nightpattern.Profile
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load pattern profile")
	} else if found {
		var p nightpattern.Profile
		if err := json.Unmarshal(rec.Profile, &p); err != nil {
			s.logger.Error().Err(err).Msg("failed to decode pattern profile")
		} else {
			profile = &p
		}
	}

	snap := nightpattern.Snapshot{
		IOBUnits:          obs.iob,
		COBGrams:          obs.cob,
		MinutesSinceMeal:  obs.minutesSinceMeal,
		MinutesSinceBolus: obs.minutesSinceBolus,
		LastMealFatG:      obs.lastMealFatG,
		LastMealProteinG:  obs.lastMealProteinG,
		Slope5Min:         reading.Slope5Min,
	}

	return nightpattern.New(s.patternCfg, profile, now.In(s.location), snap, s.logger)
}

func (s *Service) persistRun(ctx context.Context, bucket time.Time, reading fetcher.Reading, result *engine.Result, suggestion dose.Suggestion) error {
	if s.runStore == nil {
		return nil
	}

	series, err := json.Marshal(struct {
		Series   []engine.Point `json:"series"`
		Baseline []engine.Point `json:"baseline_series"`
	}{result.Series, result.BaselineSeries})
	if err != nil {
		return fmt.Errorf("marshal series: %w", err)
	}

	meta, err := json.Marshal(result.Meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}

	run := storage.ForecastRun{
		Bucket:         bucket,
		StartBG:        decimal.NewFromFloat(reading.BG),
		MinBG:          decimal.NewFromFloat(result.Summary.MinBG),
		MaxBG:          decimal.NewFromFloat(result.Summary.MaxBG),
		EndingBG:       decimal.NewFromFloat(result.Summary.EndingBG),
		TimeToMin:      result.Summary.TimeToMinMinutes,
		DIAOverridden:  result.Meta.DIAOverridden,
		PatternApplied: result.Meta.Pattern.Applied,
		SuggestedDose:  suggestion.Units,
		Series:         series,
		Meta:           meta,
		Status:         "complete",
		CreatedAt:      time.Now().UTC(),
	}
	return s.runStore.UpsertForecastRun(ctx, run)
}

func (s *Service) maybeAlert(ctx context.Context, bucket time.Time, reading fetcher.Reading, result *engine.Result, suggestion dose.Suggestion) {
	if !s.alertsOn || s.notifier == nil || s.threshold.IsZero() {
		return
	}

	predictedMin := decimal.NewFromFloat(result.Summary.MinBG)
	if predictedMin.GreaterThanOrEqual(s.threshold) {
		return
	}

	if s.cooldown > 0 && s.alertStore != nil {
		last, found, err := s.alertStore.LatestAlertAt(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to check alert cooldown")
		} else if found && time.Since(last) < s.cooldown {
			s.logger.Debug().Time("last_alert", last).Msg("alert suppressed by cooldown")
			return
		}
	}

	note := alerting.Notification{
		RunAt:          bucket,
		CurrentBG:      decimal.NewFromFloat(reading.BG),
		PredictedMinBG: predictedMin,
		MinutesToMin:   result.Summary.TimeToMinMinutes,
		EndingBG:       decimal.NewFromFloat(result.Summary.EndingBG),
		ThresholdBG:    s.threshold,
		SuggestedDose:  suggestion.Units,
		PatternApplied: result.Meta.Pattern.Applied,
		Channels:       s.channels,
	}

	if s.alertStore != nil {
		record := storage.AlertRecord{
			RunBucket:     bucket,
			PredictedMin:  predictedMin,
			Threshold:     s.threshold,
			MinutesToMin:  result.Summary.TimeToMinMinutes,
			SuggestedDose: suggestion.Units,
			Channels:      s.channels,
		}
		if _, err := s.alertStore.InsertAlert(ctx, record); err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to persist alert record")
		}
	}

	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to dispatch alert")
	}
}

func (s *Service) markErrored(ctx context.Context, bucket time.Time, msg string) {
	if s.runStore == nil {
		return
	}
	if err := s.runStore.MarkRunErrored(ctx, bucket, msg); err != nil {
		s.logger.Debug().Err(err).Time("bucket", bucket).Msg("could not mark run errored")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"glucose-forecast/internal/alerting"
	"glucose-forecast/internal/config"
	"glucose-forecast/internal/curves"
	"glucose-forecast/internal/fetcher"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.App.Timezone = "Local"
	cfg.Engine = config.EngineConfig{
		ISF:                   50,
		ICR:                   10,
		DIAMinutes:            300,
		InsulinModel:          string(curves.ModelRapidActing),
		InsulinPeakMinutes:    75,
		InsulinOnsetMinutes:   10,
		CarbAbsorptionMinutes: 180,
		SensitivityMultiplier: 1,
		TargetBG:              110,
		HorizonMinutes:        240,
	}
	cfg.Pattern = config.PatternConfig{
		WindowAStart: "21:00",
		WindowAEnd:   "23:30",
		HardCutoff:   "01:30",
		NightEnd:     "06:00",
	}
	cfg.Alerting = config.AlertingConfig{
		Enabled:          true,
		LowThresholdMgdl: 70,
		Channels:         []string{"telegram"},
		MaxBolusUnits:    10,
	}
	cfg.Scheduler.Interval = 5 * time.Minute
	return cfg
}

type fixedFetcher struct {
	bg         float64
	slope      float64
	treatments []fetcher.Treatment
}

func (f *fixedFetcher) FetchGlucose(ctx context.Context) (fetcher.Reading, error) {
	return fetcher.Reading{BG: f.bg, Slope5Min: f.slope, ReadAt: time.Now().UTC()}, nil
}

func (f *fixedFetcher) FetchTreatments(ctx context.Context, since time.Time) ([]fetcher.Treatment, error) {
	return f.treatments, nil
}

type captureNotifier struct {
	notes []alerting.Notification
}

func (c *captureNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	c.notes = append(c.notes, note)
	return nil
}

func TestProcessBucketAlertsOnPredictedLow(t *testing.T) {
	src := &fixedFetcher{bg: 80, slope: -5}
	notifier := &captureNotifier{}

	svc, err := New(testConfig(), nil, src, src, nil, nil, nil, notifier, zerolog.Nop())
	if err != nil {
		t.Fatalf("service construction failed: %v", err)
	}

	bucket := time.Now().UTC().Truncate(5 * time.Minute)
	if err := svc.ProcessBucket(context.Background(), bucket); err != nil {
		t.Fatalf("process bucket failed: %v", err)
	}

	if len(notifier.notes) != 1 {
		t.Fatalf("falling trend from 80 should trigger one alert, got %d", len(notifier.notes))
	}
	note := notifier.notes[0]
	if !note.PredictedMinBG.LessThan(note.ThresholdBG) {
		t.Fatalf("alert should carry a sub-threshold minimum: %s >= %s", note.PredictedMinBG, note.ThresholdBG)
	}
	if !note.RunAt.Equal(bucket) {
		t.Fatalf("alert should reference the run bucket, got %s", note.RunAt)
	}
}

func TestProcessBucketQuietWhenSteady(t *testing.T) {
	src := &fixedFetcher{bg: 120, slope: 0}
	notifier := &captureNotifier{}

	svc, err := New(testConfig(), nil, src, src, nil, nil, nil, notifier, zerolog.Nop())
	if err != nil {
		t.Fatalf("service construction failed: %v", err)
	}

	if err := svc.ProcessBucket(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("process bucket failed: %v", err)
	}
	if len(notifier.notes) != 0 {
		t.Fatalf("steady glucose should not alert, got %d notifications", len(notifier.notes))
	}
}

func TestProcessBucketCoversWithTreatments(t *testing.T) {
	now := time.Now().UTC()
	src := &fixedFetcher{
		bg:    140,
		slope: 0,
		treatments: []fetcher.Treatment{
			{At: now.Add(-20 * time.Minute), CarbGrams: 45, FatG: 10},
			{At: now.Add(-15 * time.Minute), InsulinUnits: 4},
		},
	}
	notifier := &captureNotifier{}

	svc, err := New(testConfig(), nil, src, src, nil, nil, nil, notifier, zerolog.Nop())
	if err != nil {
		t.Fatalf("service construction failed: %v", err)
	}

	if err := svc.ProcessBucket(context.Background(), now.Truncate(5*time.Minute)); err != nil {
		t.Fatalf("process bucket failed: %v", err)
	}
	// 45g at ICR 10 against 4U at ISF 50: roughly covered, nowhere near 70.
	if len(notifier.notes) != 0 {
		t.Fatalf("covered meal should not alert, got %d notifications", len(notifier.notes))
	}
}

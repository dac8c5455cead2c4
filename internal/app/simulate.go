package app

import (
	"context"
	"errors"
	"time"

	"glucose-forecast/internal/fetcher"
	"glucose-forecast/internal/service"
)

// SimulateAlert drives one forecast cycle with a fixed glucose reading and
// no treatments, exercising the full alert path without touching Nightscout.
func (a *App) SimulateAlert(ctx context.Context, startBG, slope float64) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is not enabled")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no alert channel configured")
	}

	static := &staticFetcher{bg: startBG, slope: slope}

	svc, err := service.New(a.Config, nil, static, static, nil, nil, nil, notifier, a.Logger)
	if err != nil {
		return err
	}

	bucket := time.Now().UTC().Truncate(a.Config.Scheduler.Interval)
	return svc.ProcessBucket(ctx, bucket)
}

type staticFetcher struct {
	bg    float64
	slope float64
}

func (s *staticFetcher) FetchGlucose(ctx context.Context) (fetcher.Reading, error) {
	return fetcher.Reading{BG: s.bg, Slope5Min: s.slope, ReadAt: time.Now().UTC()}, nil
}

func (s *staticFetcher) FetchTreatments(ctx context.Context, since time.Time) ([]fetcher.Treatment, error) {
	return nil, nil
}

var _ fetcher.GlucoseFetcher = (*staticFetcher)(nil)
var _ fetcher.TreatmentFetcher = (*staticFetcher)(nil)

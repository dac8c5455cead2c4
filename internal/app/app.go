package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"glucose-forecast/internal/alerting"
	"glucose-forecast/internal/config"
	"glucose-forecast/internal/fetcher"
	"glucose-forecast/internal/scheduler"
	"glucose-forecast/internal/service"
	"glucose-forecast/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newFetcher() *fetcher.Nightscout {
	return fetcher.NewNightscout(fetcher.NightscoutOptions{
		BaseURL:   a.Config.Nightscout.BaseURL,
		APISecret: a.Config.Nightscout.APISecret,
		APIToken:  a.Config.Nightscout.APIToken,
		UseToken:  a.Config.Nightscout.UseToken,
		Timeout:   a.Config.Nightscout.RequestTimeout,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running forecasting service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	ns := a.newFetcher()
	notifier := a.newNotifier()

	var runStore storage.ForecastRunStore
	var alertStore storage.AlertStore
	var profileStore storage.PatternProfileStore
	if store != nil {
		runStore = store
		alertStore = store
		profileStore = store
	}

	svc, err := service.New(a.Config, sched, ns, ns, runStore, alertStore, profileStore, notifier, a.Logger)
	if err != nil {
		return err
	}

	a.Logger.Info().Msg("starting forecasting service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("forecasting service stopped")
	return nil
}

// ForecastOptions configure the one-shot forecast command.
type ForecastOptions struct {
	RequestPath string
	ProfilePath string
	LocalTime   string
	OutputPath  string
	Pretty      bool
}

// ExportOptions hold parameters for exporting a stored run.
type ExportOptions struct {
	Bucket    *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// ImportProfileOptions configure the pattern profile import.
type ImportProfileOptions struct {
	Path string
	Name string
}

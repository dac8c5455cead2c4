package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"glucose-forecast/internal/curves"
	"glucose-forecast/internal/engine"
	"glucose-forecast/internal/logging"
	"glucose-forecast/internal/nightpattern"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Nightscout NightscoutConfig `mapstructure:"nightscout"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Pattern    PatternConfig    `mapstructure:"pattern"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	// Timezone is the user's local timezone, used for night-pattern window
	// checks. The simulation core itself never reads a clock.
	Timezone string `mapstructure:"timezone"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs forecasting cadence in service mode.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// NightscoutConfig covers CGM and treatment data access.
type NightscoutConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APISecret      string        `mapstructure:"api_secret"`
	APIToken       string        `mapstructure:"api_token"`
	UseToken       bool          `mapstructure:"use_token"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	StaleAfter     time.Duration `mapstructure:"stale_after"`
}

// EngineConfig carries default simulation parameters; request-level inputs
// override them at the engine boundary.
type EngineConfig struct {
	ISF                   float64 `mapstructure:"isf"`
	ICR                   float64 `mapstructure:"icr"`
	DIAMinutes            float64 `mapstructure:"dia_minutes"`
	InsulinModel          string  `mapstructure:"insulin_model"`
	InsulinPeakMinutes    float64 `mapstructure:"insulin_peak_minutes"`
	InsulinOnsetMinutes   float64 `mapstructure:"insulin_onset_minutes"`
	CarbAbsorptionMinutes float64 `mapstructure:"carb_absorption_minutes"`
	SensitivityMultiplier float64 `mapstructure:"sensitivity_multiplier"`
	TargetBG              float64 `mapstructure:"target_bg"`
	BasalDailyUnits       float64 `mapstructure:"basal_daily_units"`
	HorizonMinutes        int     `mapstructure:"horizon_minutes"`
}

// PatternConfig tunes the night-pattern blender gates. Clock fields use
// "HH:MM" local time.
type PatternConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	WindowAStart string  `mapstructure:"window_a_start"`
	WindowAEnd   string  `mapstructure:"window_a_end"`
	HardCutoff   string  `mapstructure:"hard_cutoff"`
	NightEnd     string  `mapstructure:"night_end"`
	WeightA      float64 `mapstructure:"weight_a"`
	WeightB      float64 `mapstructure:"weight_b"`
	CapMgdl      float64 `mapstructure:"cap_mgdl"`

	IOBCeilingUnits float64 `mapstructure:"iob_ceiling_units"`
	COBCeilingGrams float64 `mapstructure:"cob_ceiling_grams"`

	MealLookbackMinutes  float64 `mapstructure:"meal_lookback_minutes"`
	BolusLookbackMinutes float64 `mapstructure:"bolus_lookback_minutes"`

	RisingSlopeMgdlPer5Min float64 `mapstructure:"rising_slope_mgdl_per_5min"`

	SlowMealLookbackMinutes float64 `mapstructure:"slow_meal_lookback_minutes"`
	SlowMealFatProteinGrams float64 `mapstructure:"slow_meal_fat_protein_grams"`
	SustainedRiseMgdl       float64 `mapstructure:"sustained_rise_mgdl"`
}

// AlertingConfig defines predicted-low alert thresholds and routing.
type AlertingConfig struct {
	Enabled          bool           `mapstructure:"enabled"`
	LowThresholdMgdl float64        `mapstructure:"low_threshold_mgdl"`
	Cooldown         time.Duration  `mapstructure:"cooldown"`
	Channels         []string       `mapstructure:"channels"`
	MaxBolusUnits    float64        `mapstructure:"max_bolus_units"`
	Telegram         TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram alert channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GLUCOWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "glucowatch")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.timezone", "Local")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x676c7563))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("nightscout.request_timeout", "10s")
	v.SetDefault("nightscout.stale_after", "15m")

	v.SetDefault("engine.isf", 50.0)
	v.SetDefault("engine.icr", 10.0)
	v.SetDefault("engine.dia_minutes", 300.0)
	v.SetDefault("engine.insulin_model", string(curves.ModelRapidActing))
	v.SetDefault("engine.insulin_peak_minutes", 75.0)
	v.SetDefault("engine.insulin_onset_minutes", 10.0)
	v.SetDefault("engine.carb_absorption_minutes", 180.0)
	v.SetDefault("engine.sensitivity_multiplier", 1.0)
	v.SetDefault("engine.target_bg", 110.0)
	v.SetDefault("engine.horizon_minutes", 240)

	v.SetDefault("pattern.enabled", false)
	v.SetDefault("pattern.window_a_start", "21:00")
	v.SetDefault("pattern.window_a_end", "23:30")
	v.SetDefault("pattern.hard_cutoff", "01:30")
	v.SetDefault("pattern.night_end", "06:00")
	v.SetDefault("pattern.weight_a", 0.8)
	v.SetDefault("pattern.weight_b", 0.5)
	v.SetDefault("pattern.cap_mgdl", 25.0)
	v.SetDefault("pattern.iob_ceiling_units", 0.5)
	v.SetDefault("pattern.cob_ceiling_grams", 5.0)
	v.SetDefault("pattern.meal_lookback_minutes", 180.0)
	v.SetDefault("pattern.bolus_lookback_minutes", 120.0)
	v.SetDefault("pattern.rising_slope_mgdl_per_5min", 5.0)
	v.SetDefault("pattern.slow_meal_lookback_minutes", 360.0)
	v.SetDefault("pattern.slow_meal_fat_protein_grams", 40.0)
	v.SetDefault("pattern.sustained_rise_mgdl", 15.0)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.low_threshold_mgdl", 70.0)
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.max_bolus_units", 10.0)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Engine.ISF <= 0 {
		return fmt.Errorf("engine.isf must be greater than zero")
	}
	if c.Engine.ICR <= 0 {
		return fmt.Errorf("engine.icr must be greater than zero")
	}
	if c.Engine.DIAMinutes <= 0 {
		return fmt.Errorf("engine.dia_minutes must be greater than zero")
	}
	if c.Engine.HorizonMinutes <= 0 || c.Engine.HorizonMinutes > engine.MaxHorizonMinutes {
		return fmt.Errorf("engine.horizon_minutes must be in (0, %d]", engine.MaxHorizonMinutes)
	}
	switch curves.Model(c.Engine.InsulinModel) {
	case curves.ModelRapidActing, curves.ModelUltraRapid:
	default:
		return fmt.Errorf("engine.insulin_model %q is not supported", c.Engine.InsulinModel)
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.LowThresholdMgdl < 0 {
		return fmt.Errorf("alerting.low_threshold_mgdl cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token must be configured")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id must be configured")
		}
	}
	if _, err := c.Pattern.Build(); err != nil {
		return err
	}
	return nil
}

// EngineParams converts the configured defaults into engine parameters.
func (c *Config) EngineParams() engine.Params {
	return engine.Params{
		ISF:                   c.Engine.ISF,
		ICR:                   c.Engine.ICR,
		DIAMinutes:            c.Engine.DIAMinutes,
		InsulinModel:          curves.Model(c.Engine.InsulinModel),
		InsulinPeakMinutes:    c.Engine.InsulinPeakMinutes,
		InsulinOnsetMinutes:   c.Engine.InsulinOnsetMinutes,
		CarbAbsorptionMinutes: c.Engine.CarbAbsorptionMinutes,
		SensitivityMultiplier: c.Engine.SensitivityMultiplier,
		TargetBG:              c.Engine.TargetBG,
		BasalDailyUnits:       c.Engine.BasalDailyUnits,
	}
}

// Build parses the clock boundaries into a blender configuration.
func (p PatternConfig) Build() (nightpattern.Config, error) {
	out := nightpattern.Config{
		Enabled:                 p.Enabled,
		WeightA:                 p.WeightA,
		WeightB:                 p.WeightB,
		CapMgdl:                 p.CapMgdl,
		IOBCeilingUnits:         p.IOBCeilingUnits,
		COBCeilingGrams:         p.COBCeilingGrams,
		MealLookbackMinutes:     p.MealLookbackMinutes,
		BolusLookbackMinutes:    p.BolusLookbackMinutes,
		RisingSlopeMgdlPer5Min:  p.RisingSlopeMgdlPer5Min,
		SlowMealLookbackMinutes: p.SlowMealLookbackMinutes,
		SlowMealFatProteinGrams: p.SlowMealFatProteinGrams,
		SustainedRiseMgdl:       p.SustainedRiseMgdl,
	}

	var err error
	if out.WindowAStart, err = nightpattern.ParseClock(p.WindowAStart); err != nil {
		return out, fmt.Errorf("pattern.window_a_start: %w", err)
	}
	if out.WindowAEnd, err = nightpattern.ParseClock(p.WindowAEnd); err != nil {
		return out, fmt.Errorf("pattern.window_a_end: %w", err)
	}
	if out.HardCutoff, err = nightpattern.ParseClock(p.HardCutoff); err != nil {
		return out, fmt.Errorf("pattern.hard_cutoff: %w", err)
	}
	if out.NightEnd, err = nightpattern.ParseClock(p.NightEnd); err != nil {
		return out, fmt.Errorf("pattern.night_end: %w", err)
	}
	return out, nil
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.App.Timezone == "" || strings.EqualFold(c.App.Timezone, "Local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.App.Timezone, err)
	}
	return loc, nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

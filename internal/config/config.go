package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rewired-gh/skywatch/internal/arbiter"
	"github.com/rewired-gh/skywatch/internal/detector"
	"github.com/rewired-gh/skywatch/internal/logger"
	"github.com/rewired-gh/skywatch/internal/models"
	"github.com/rewired-gh/skywatch/internal/telemetry"
)

// Config represents the complete application configuration
type Config struct {
	Engine      EngineConfig              `mapstructure:"engine"`
	Detectors   map[string]DetectorConfig `mapstructure:"detectors"`
	Calibration CalibrationConfig         `mapstructure:"calibration"`
	Storage     StorageConfig             `mapstructure:"storage"`
	HTTP        HTTPConfig                `mapstructure:"http"`
	Telegram    TelegramConfig            `mapstructure:"telegram"`
	OpenWeather OpenWeatherConfig         `mapstructure:"openweather"`
	Telemetry   telemetry.Config          `mapstructure:"telemetry"`
	Logging     LoggingConfig             `mapstructure:"logging"`
}

// EngineConfig holds the window and confidence settings
type EngineConfig struct {
	WindowCapacity     int           `mapstructure:"window_capacity"`
	Retention          time.Duration `mapstructure:"retention"`
	PredictionInterval time.Duration `mapstructure:"prediction_interval"`
	HistorySize        int           `mapstructure:"history_size"`
	// Location is an IANA time zone name; empty disables time-of-day shaping.
	Location       string `mapstructure:"location"`
	arbiter.Config `mapstructure:",squash"`
}

// DetectorConfig overrides one detector's catalog defaults. Unset fields keep
// the default.
type DetectorConfig struct {
	Lookback  time.Duration          `mapstructure:"lookback"`
	Weight    *float64               `mapstructure:"weight"`
	WeightMin *float64               `mapstructure:"weight_min"`
	WeightMax *float64               `mapstructure:"weight_max"`
	Params    map[string]ParamConfig `mapstructure:"params"`
}

// ParamConfig overrides one detector parameter and its clamp.
type ParamConfig struct {
	Value *float64 `mapstructure:"value"`
	Min   *float64 `mapstructure:"min"`
	Max   *float64 `mapstructure:"max"`
}

// CalibrationConfig holds feedback calibration settings
type CalibrationConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Interval     time.Duration `mapstructure:"interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	LearningRate float64       `mapstructure:"learning_rate"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	DBPath              string        `mapstructure:"db_path"`
	ReadingRetention    time.Duration `mapstructure:"reading_retention"`
	PredictionRetention time.Duration `mapstructure:"prediction_retention"`
	PruneAt             string        `mapstructure:"prune_at"`
}

// HTTPConfig holds the API server configuration
type HTTPConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Listen       string        `mapstructure:"listen"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken           string        `mapstructure:"bot_token"`
	ChatID             string        `mapstructure:"chat_id"`
	Enabled            bool          `mapstructure:"enabled"`
	AlertMinConfidence float64       `mapstructure:"alert_min_confidence"`
	Cooldown           time.Duration `mapstructure:"cooldown"`
	MaxRetries         int           `mapstructure:"max_retries"`
	RetryDelayBase     time.Duration `mapstructure:"retry_delay_base"`
}

// OpenWeatherConfig holds the official-weather comparison settings
type OpenWeatherConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	APIKey   string        `mapstructure:"api_key"`
	BaseURL  string        `mapstructure:"base_url"`
	Lat      float64       `mapstructure:"lat"`
	Lon      float64       `mapstructure:"lon"`
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables. An empty
// path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Enable environment variable override, e.g. SKYWATCH_TELEGRAM_BOT_TOKEN
	v.SetEnvPrefix("SKYWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	arb := arbiter.DefaultConfig()

	// Engine defaults
	v.SetDefault("engine.window_capacity", 20160)
	v.SetDefault("engine.retention", "168h")
	v.SetDefault("engine.prediction_interval", "30s")
	v.SetDefault("engine.history_size", 2880)
	v.SetDefault("engine.location", "")
	v.SetDefault("engine.confidence_floor", arb.Floor)
	v.SetDefault("engine.insufficient_cap", arb.InsufficientCap)
	v.SetDefault("engine.agreement_bonus", arb.AgreementBonus)
	v.SetDefault("engine.contradiction_penalty", arb.ContradictionPenalty)

	// Calibration defaults
	v.SetDefault("calibration.enabled", true)
	v.SetDefault("calibration.interval", "1h")
	v.SetDefault("calibration.batch_size", 5)
	v.SetDefault("calibration.learning_rate", 0.2)

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/skywatch.db")
	v.SetDefault("storage.reading_retention", "720h")
	v.SetDefault("storage.prediction_retention", "720h")
	v.SetDefault("storage.prune_at", "03:30")

	// HTTP defaults
	v.SetDefault("http.enabled", true)
	v.SetDefault("http.listen", ":8080")
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "10s")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.alert_min_confidence", 0.6)
	v.SetDefault("telegram.cooldown", "1h")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// OpenWeather defaults
	v.SetDefault("openweather.enabled", false)
	v.SetDefault("openweather.api_key", "")
	v.SetDefault("openweather.lat", 0.0)
	v.SetDefault("openweather.lon", 0.0)
	v.SetDefault("openweather.base_url", "https://api.openweathermap.org/data/3.0/onecall")
	v.SetDefault("openweather.timeout", "10s")
	v.SetDefault("openweather.cache_ttl", "5m")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "skywatch")
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.insecure", false)
	v.SetDefault("telemetry.interval", "30s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", models.ErrConfigInvalid, fmt.Sprintf(format, args...))
}

func checkRange[T int | float64 | time.Duration](name string, v, lo, hi T) error {
	if v < lo || v > hi {
		return invalid("%s must be between %v and %v, got %v", name, lo, hi, v)
	}
	return nil
}

// Validate checks that all configuration values are valid. Every error wraps
// models.ErrConfigInvalid; nothing is clamped silently.
func (c *Config) Validate() error {
	// Validate Engine config
	e := c.Engine
	checks := []error{
		checkRange("engine.window_capacity", e.WindowCapacity, 10, 1_000_000),
		checkRange("engine.retention", e.Retention, time.Hour, 720*time.Hour),
		checkRange("engine.prediction_interval", e.PredictionInterval, 5*time.Second, time.Hour),
		checkRange("engine.history_size", e.HistorySize, 1, 100_000),
		checkRange("engine.confidence_floor", e.Floor, 0, 0.5),
		checkRange("engine.insufficient_cap", e.InsufficientCap, 0.1, 0.9),
		checkRange("engine.agreement_bonus", e.AgreementBonus, 0, 0.5),
		checkRange("engine.contradiction_penalty", e.ContradictionPenalty, 0, 0.5),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	if _, err := c.Engine.TimeLocation(); err != nil {
		return err
	}

	// Validate detector overrides against the catalog
	if _, err := c.Tunings(); err != nil {
		return err
	}

	// Validate Calibration config; a zero interval disables the periodic job
	if c.Calibration.Enabled && c.Calibration.Interval != 0 {
		if err := checkRange("calibration.interval", c.Calibration.Interval, time.Minute, 24*time.Hour); err != nil {
			return err
		}
	}
	if err := checkRange("calibration.batch_size", c.Calibration.BatchSize, 1, 1000); err != nil {
		return err
	}
	if err := checkRange("calibration.learning_rate", c.Calibration.LearningRate, 0.01, 1); err != nil {
		return err
	}

	// Validate Storage config
	if c.Storage.DBPath == "" {
		return invalid("storage.db_path is required")
	}
	if c.Storage.ReadingRetention < c.Engine.Retention {
		return invalid("storage.reading_retention must be at least engine.retention")
	}
	if c.Storage.PredictionRetention < time.Hour {
		return invalid("storage.prediction_retention must be at least 1h")
	}
	if _, err := time.Parse("15:04", c.Storage.PruneAt); err != nil {
		return invalid("storage.prune_at must be HH:MM, got %q", c.Storage.PruneAt)
	}

	// Validate HTTP config
	if c.HTTP.Enabled && c.HTTP.Listen == "" {
		return invalid("http.listen is required when http is enabled")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return invalid("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return invalid("telegram.chat_id is required when telegram is enabled")
		}
	}
	if err := checkRange("telegram.alert_min_confidence", c.Telegram.AlertMinConfidence, 0, 1); err != nil {
		return err
	}
	if c.Telegram.Cooldown < 0 {
		return invalid("telegram.cooldown must not be negative")
	}

	// Validate OpenWeather config
	if c.OpenWeather.Enabled {
		if c.OpenWeather.APIKey == "" {
			return invalid("openweather.api_key is required when openweather is enabled")
		}
		if err := checkRange("openweather.lat", c.OpenWeather.Lat, -90, 90); err != nil {
			return err
		}
		if err := checkRange("openweather.lon", c.OpenWeather.Lon, -180, 180); err != nil {
			return err
		}
	}

	// Validate Logging config
	if !slices.Contains(logger.Levels, c.Logging.Level) {
		return invalid("logging.level must be one of: %s", strings.Join(logger.Levels, ", "))
	}
	if !slices.Contains(logger.Formats, c.Logging.Format) {
		return invalid("logging.format must be one of: %s", strings.Join(logger.Formats, ", "))
	}

	return nil
}

// TimeLocation resolves the configured station time zone. Nil when unset.
func (e EngineConfig) TimeLocation() (*time.Location, error) {
	if e.Location == "" {
		return nil, nil
	}
	loc, err := time.LoadLocation(e.Location)
	if err != nil {
		return nil, invalid("engine.location %q: %v", e.Location, err)
	}
	return loc, nil
}

// Tunings merges the detector overrides onto the catalog defaults and checks
// the result.
func (c *Config) Tunings() (map[string]detector.Tuning, error) {
	tunings := detector.DefaultTunings()
	for name, dc := range c.Detectors {
		t, ok := tunings[name]
		if !ok {
			return nil, invalid("detectors.%s: unknown detector (known: %s)", name, strings.Join(detector.Names(detector.Catalog()), ", "))
		}
		if dc.Lookback != 0 {
			t.Lookback = dc.Lookback
		}
		setIf(&t.Weight, dc.Weight)
		setIf(&t.WeightMin, dc.WeightMin)
		setIf(&t.WeightMax, dc.WeightMax)

		params := make(map[string]detector.ParamTuning, len(t.Params))
		for k, v := range t.Params {
			params[k] = v
		}
		for pname, pc := range dc.Params {
			pt, ok := params[pname]
			if !ok {
				return nil, invalid("detectors.%s.params.%s: unknown parameter", name, pname)
			}
			setIf(&pt.Value, pc.Value)
			setIf(&pt.Min, pc.Min)
			setIf(&pt.Max, pc.Max)
			params[pname] = pt
		}
		t.Params = params
		tunings[name] = t
	}

	if _, _, _, err := detector.Build(tunings); err != nil {
		return nil, err
	}
	for _, name := range detector.Names(detector.Catalog()) {
		if lb := tunings[name].Lookback; c.Engine.Retention > 0 && lb > c.Engine.Retention {
			return nil, invalid("detectors.%s.lookback %s exceeds engine.retention %s", name, lb, c.Engine.Retention)
		}
	}
	return tunings, nil
}

func setIf(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

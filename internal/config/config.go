package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Bounds is the geographic box the WAQI map/bounds query covers.
type Bounds struct {
	MinLat float64 `yaml:"minLat" env:"WAQI_MIN_LAT"`
	MinLon float64 `yaml:"minLon" env:"WAQI_MIN_LON"`
	MaxLat float64 `yaml:"maxLat" env:"WAQI_MAX_LAT"`
	MaxLon float64 `yaml:"maxLon" env:"WAQI_MAX_LON"`
}

// WAQIConfig configures the WAQI source adapter.
type WAQIConfig struct {
	Enabled bool   `yaml:"enabled" env:"WAQI_ENABLED"`
	Token   string `yaml:"token" env:"WAQI_API_TOKEN"`
	BaseURL string `yaml:"baseUrl" env:"WAQI_BASE_URL"`
	Bounds  Bounds `yaml:"bounds"`
}

// OpenAQConfig configures the OpenAQ source adapter.
type OpenAQConfig struct {
	Enabled      bool    `yaml:"enabled" env:"OPENAQ_ENABLED"`
	APIKey       string  `yaml:"apiKey" env:"OPENAQ_API_KEY"`
	BaseURL      string  `yaml:"baseUrl" env:"OPENAQ_BASE_URL"`
	CenterLat    float64 `yaml:"centerLat" env:"OPENAQ_CENTER_LAT"`
	CenterLon    float64 `yaml:"centerLon" env:"OPENAQ_CENTER_LON"`
	RadiusMeters int     `yaml:"radiusMeters" env:"OPENAQ_RADIUS_METERS"`
}

// Config defines the air quality service configuration.
type Config struct {
	HTTP struct {
		Port string `yaml:"port" env:"HTTP_PORT"`
	} `yaml:"http"`
	Database struct {
		DSN string `yaml:"dsn" env:"DATABASE_URL"`
	} `yaml:"database"`
	Redis struct {
		Addr       string `yaml:"addr" env:"REDIS_ADDR"`
		Password   string `yaml:"password" env:"REDIS_PASSWORD"`
		TTLSeconds int    `yaml:"ttlSeconds" env:"REDIS_TTL"`
	} `yaml:"redis"`
	Scheduler struct {
		IntervalMinutes   int `yaml:"intervalMinutes" env:"SCHEDULER_INTERVAL_MINUTES"`
		RunTimeoutSeconds int `yaml:"runTimeoutSeconds" env:"SCHEDULER_RUN_TIMEOUT"`
		HistorySize       int `yaml:"historySize" env:"SCHEDULER_HISTORY_SIZE"`
	} `yaml:"scheduler"`
	Sources struct {
		Region              string       `yaml:"region" env:"SOURCES_REGION"`
		FetchTimeoutSeconds int          `yaml:"fetchTimeoutSeconds" env:"SOURCES_FETCH_TIMEOUT"`
		WAQI                WAQIConfig   `yaml:"waqi"`
		OpenAQ              OpenAQConfig `yaml:"openaq"`
	} `yaml:"sources"`
}

// Load reads configuration from CONFIG_FILE (optional) and environment.
func Load() (*Config, error) {
	cfg := defaults()

	if err := load(cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return nil, errors.New("config: database dsn required")
	}
	if cfg.Sources.WAQI.Enabled && strings.TrimSpace(cfg.Sources.WAQI.Token) == "" {
		return nil, errors.New("config: waqi token required when waqi source enabled")
	}
	if !cfg.Sources.WAQI.Enabled && !cfg.Sources.OpenAQ.Enabled {
		return nil, errors.New("config: at least one source must be enabled")
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.HTTP.Port = "8080"
	cfg.Redis.TTLSeconds = 300
	cfg.Scheduler.IntervalMinutes = 60
	cfg.Scheduler.RunTimeoutSeconds = 300
	cfg.Scheduler.HistorySize = 20
	cfg.Sources.Region = "Berlin"
	cfg.Sources.FetchTimeoutSeconds = 10
	cfg.Sources.WAQI.Enabled = true
	cfg.Sources.WAQI.BaseURL = "https://api.waqi.info"
	// Extended Berlin bounding box, roughly 25x25 km around the city.
	cfg.Sources.WAQI.Bounds = Bounds{MinLat: 52.35, MinLon: 13.10, MaxLat: 52.65, MaxLon: 13.70}
	cfg.Sources.OpenAQ.BaseURL = "https://api.openaq.org"
	cfg.Sources.OpenAQ.CenterLat = 52.52
	cfg.Sources.OpenAQ.CenterLon = 13.405
	cfg.Sources.OpenAQ.RadiusMeters = 25000
	return cfg
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// Interval returns the scheduler tick interval.
func (c *Config) Interval() time.Duration {
	if c.Scheduler.IntervalMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(c.Scheduler.IntervalMinutes) * time.Minute
}

// RunTimeout returns the overall per-run deadline.
func (c *Config) RunTimeout() time.Duration {
	if c.Scheduler.RunTimeoutSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Scheduler.RunTimeoutSeconds) * time.Second
}

// FetchTimeout returns the per-adapter fetch deadline.
func (c *Config) FetchTimeout() time.Duration {
	if c.Sources.FetchTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Sources.FetchTimeoutSeconds) * time.Second
}

// CacheTTL returns how long cached station listings stay valid.
func (c *Config) CacheTTL() time.Duration {
	if c.Redis.TTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Redis.TTLSeconds) * time.Second
}

package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/datadavev/mnstatus/internal/checker"
	"github.com/datadavev/mnstatus/internal/daterange"
	"github.com/datadavev/mnstatus/internal/timeutil"
)

// Duration is a time.Duration that unmarshals from a YAML string like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// RegistryConfig locates the coordinating node and the node list cache.
type RegistryConfig struct {
	BaseURL   string   `yaml:"base_url"`
	CachePath string   `yaml:"cache_path"`
	CacheTTL  Duration `yaml:"cache_ttl"`
}

// IndexConfig locates the search index. A relative URL is resolved against
// the registry's v2 API.
type IndexConfig struct {
	URL string `yaml:"url"`
}

// HTTPConfig holds per-request timeouts.
type HTTPConfig struct {
	Timeout     Duration `yaml:"timeout"`
	PingTimeout Duration `yaml:"ping_timeout"`
}

// ConcurrencyConfig holds the global and per-category ceilings.
type ConcurrencyConfig struct {
	MaxGlobal  int            `yaml:"max_global"`
	Categories map[string]int `yaml:"categories"`
}

// DateRangeConfig tunes the date range search.
type DateRangeConfig struct {
	EpochYear         int     `yaml:"epoch_year"`
	FloorYear         int     `yaml:"floor_year"`
	EarliestStepDays  int     `yaml:"earliest_step_days"`
	LatestInitialDays int     `yaml:"latest_initial_days"`
	LatestFactor      float64 `yaml:"latest_factor"`
	LatestMaxDays     int     `yaml:"latest_max_days"`
	PageSize          int     `yaml:"page_size"`
	RefineDepth       int     `yaml:"refine_depth"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Config is the root application configuration.
type Config struct {
	Registry    RegistryConfig    `yaml:"registry"`
	Index       IndexConfig       `yaml:"index"`
	HTTP        HTTPConfig        `yaml:"http"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	DateRange   DateRangeConfig   `yaml:"date_range"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Registry: RegistryConfig{
			BaseURL:  "https://cn.dataone.org/cn",
			CacheTTL: Duration{time.Hour},
		},
		Index: IndexConfig{URL: "query/solr/"},
		HTTP: HTTPConfig{
			Timeout:     Duration{20 * time.Second},
			PingTimeout: Duration{5 * time.Second},
		},
		Concurrency: ConcurrencyConfig{
			MaxGlobal: 12,
			Categories: map[string]int{
				string(checker.Ping):  12,
				string(checker.MN):    12,
				string(checker.CN):    3,
				string(checker.Index): 5,
			},
		},
		DateRange: DateRangeConfig{
			EpochYear:         2012,
			FloorYear:         2012,
			EarliestStepDays:  180,
			LatestInitialDays: 2,
			LatestFactor:      2,
			LatestMaxDays:     365,
			PageSize:          1000,
		},
		Server: ServerConfig{Address: ":8080"},
		Log:    LogConfig{Level: "info"},
	}
}

// Load reads, parses, and validates the config file at path. Settings the
// file leaves out keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Unmarshal into a raw intermediate to detect YAML parse errors vs duration errors.
	type rawRegistry struct {
		BaseURL   string `yaml:"base_url"`
		CachePath string `yaml:"cache_path"`
		CacheTTL  string `yaml:"cache_ttl"`
	}
	type rawHTTP struct {
		Timeout     string `yaml:"timeout"`
		PingTimeout string `yaml:"ping_timeout"`
	}
	type rawConfig struct {
		Registry    rawRegistry       `yaml:"registry"`
		Index       IndexConfig       `yaml:"index"`
		HTTP        rawHTTP           `yaml:"http"`
		Concurrency ConcurrencyConfig `yaml:"concurrency"`
		DateRange   DateRangeConfig   `yaml:"date_range"`
		Server      ServerConfig      `yaml:"server"`
		Log         LogConfig         `yaml:"log"`
	}

	cfg := Default()
	raw := rawConfig{
		Registry:    rawRegistry{BaseURL: cfg.Registry.BaseURL},
		Index:       cfg.Index,
		Concurrency: cfg.Concurrency,
		DateRange:   cfg.DateRange,
		Server:      cfg.Server,
		Log:         cfg.Log,
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.Registry.BaseURL = raw.Registry.BaseURL
	cfg.Registry.CachePath = raw.Registry.CachePath
	cfg.Index = raw.Index
	cfg.Concurrency = raw.Concurrency
	cfg.DateRange = raw.DateRange
	cfg.Server = raw.Server
	cfg.Log = raw.Log

	for _, d := range []struct {
		name  string
		value string
		dst   *Duration
	}{
		{"registry.cache_ttl", raw.Registry.CacheTTL, &cfg.Registry.CacheTTL},
		{"http.timeout", raw.HTTP.Timeout, &cfg.HTTP.Timeout},
		{"http.ping_timeout", raw.HTTP.PingTimeout, &cfg.HTTP.PingTimeout},
	} {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid duration %q: %w", d.name, d.value, err)
		}
		d.dst.Duration = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and names.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Registry.BaseURL) == "" {
		return fmt.Errorf("registry.base_url is required")
	}
	if c.Registry.CacheTTL.Duration < 0 {
		return fmt.Errorf("registry.cache_ttl must not be negative")
	}
	if c.HTTP.Timeout.Duration <= 0 {
		return fmt.Errorf("http.timeout must be positive")
	}
	if c.HTTP.PingTimeout.Duration <= 0 {
		return fmt.Errorf("http.ping_timeout must be positive")
	}
	if c.Concurrency.MaxGlobal < 1 {
		return fmt.Errorf("concurrency.max_global must be at least 1, got %d", c.Concurrency.MaxGlobal)
	}
	for name, n := range c.Concurrency.Categories {
		if _, err := checker.ParseCategory(name); err != nil {
			return fmt.Errorf("concurrency.categories: %w", err)
		}
		if n < 1 {
			return fmt.Errorf("concurrency.categories.%s must be at least 1, got %d", name, n)
		}
	}

	dr := c.DateRange
	year := time.Now().UTC().Year()
	if dr.EpochYear < 1970 || dr.EpochYear > year {
		return fmt.Errorf("date_range.epoch_year %d out of range", dr.EpochYear)
	}
	if dr.FloorYear < 1970 || dr.FloorYear > year {
		return fmt.Errorf("date_range.floor_year %d out of range", dr.FloorYear)
	}
	if dr.EarliestStepDays < 1 || dr.LatestInitialDays < 1 || dr.LatestMaxDays < 1 {
		return fmt.Errorf("date_range day counts must be at least 1")
	}
	if dr.LatestInitialDays > dr.LatestMaxDays {
		return fmt.Errorf("date_range.latest_initial_days exceeds latest_max_days")
	}
	if dr.LatestFactor <= 1 {
		return fmt.Errorf("date_range.latest_factor must be greater than 1, got %g", dr.LatestFactor)
	}
	if dr.PageSize < 1 {
		return fmt.Errorf("date_range.page_size must be at least 1")
	}
	if dr.RefineDepth < 0 {
		return fmt.Errorf("date_range.refine_depth must not be negative")
	}
	return nil
}

// Limits returns the per-category admission ceilings.
func (c *Config) Limits() map[checker.Category]int {
	out := make(map[checker.Category]int, len(c.Concurrency.Categories))
	for name, n := range c.Concurrency.Categories {
		out[checker.Category(strings.ToLower(name))] = n
	}
	return out
}

// DateRangeOptions converts the date_range section.
func (c *Config) DateRangeOptions() daterange.Options {
	dr := c.DateRange
	return daterange.Options{
		Epoch:         time.Date(dr.EpochYear, 1, 1, 0, 0, 0, 0, time.UTC),
		Floor:         time.Date(dr.FloorYear, 1, 1, 0, 0, 0, 0, time.UTC),
		EarliestStep:  timeutil.Days(dr.EarliestStepDays),
		LatestInitial: timeutil.Days(dr.LatestInitialDays),
		LatestFactor:  dr.LatestFactor,
		LatestMax:     timeutil.Days(dr.LatestMaxDays),
		RefineDepth:   dr.RefineDepth,
	}
}

// CheckerConfig builds the shared check settings.
func (c *Config) CheckerConfig() checker.Config {
	return checker.Config{
		RegistryURL: c.Registry.BaseURL,
		IndexURL:    c.Index.URL,
		Timeout:     c.HTTP.Timeout.Duration,
		PingTimeout: c.HTTP.PingTimeout.Duration,
		DateRange:   c.DateRangeOptions(),
		PageSize:    c.DateRange.PageSize,
	}
}

// LogLevel maps a level name to a slog level. Unknown names map to Info.
func LogLevel(name string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR", "FATAL", "CRITICAL":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

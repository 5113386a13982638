// Package config loads and validates scraper configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Year override bounds accepted on the command line.
const (
	MinOverrideYear = 2000
	MaxOverrideYear = 2020
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging  LoggingConfig            `mapstructure:"logging"`
	HTTP     HTTPConfig               `mapstructure:"http"`
	Scrape   ScrapeConfig             `mapstructure:"scrape"`
	Trackers map[string]TrackerConfig `mapstructure:"trackers"`
	Server   ServerConfig             `mapstructure:"server"`
	Archive  ArchiveConfig            `mapstructure:"archive"`
	Notify   NotifyConfig             `mapstructure:"notify"`
	Database DatabaseConfig           `mapstructure:"database"`
}

// LoggingConfig toggles zap development features and the debug file.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Verbose     bool   `mapstructure:"verbose"`
	DebugFile   string `mapstructure:"debug_file"`
}

// HTTPConfig configures requests to the tracker.
type HTTPConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	MaxBodyBytes      int           `mapstructure:"max_body_bytes"`
}

// ScrapeConfig holds sweep defaults that CLI flags may override.
type ScrapeConfig struct {
	SaveDir         string `mapstructure:"save_dir"`
	ChunkSize       int    `mapstructure:"chunk_size"`
	InitID          int    `mapstructure:"init_id"`
	FinID           int    `mapstructure:"fin_id"`
	CheckpointEvery int    `mapstructure:"checkpoint_every"`
}

// BugsDir returns the directory partitions live in.
func (s ScrapeConfig) BugsDir() string {
	return filepath.Join(s.SaveDir, "bugs")
}

// TrackerConfig describes one known tracker.
type TrackerConfig struct {
	BaseURL string    `mapstructure:"base_url"`
	Years   YearRange `mapstructure:"years"`
}

// YearRange is a half-open range of creation years [Start, End).
type YearRange struct {
	Start int `mapstructure:"start"`
	End   int `mapstructure:"end"`
}

// IsZero reports whether the range is unset.
func (r YearRange) IsZero() bool {
	return r.Start == 0 && r.End == 0
}

// Years lists every year in the range.
func (r YearRange) Years() []int {
	var years []int
	for y := r.Start; y < r.End; y++ {
		years = append(years, y)
	}
	return years
}

// Validate checks the range is well formed.
func (r YearRange) Validate() error {
	if r.Start <= 0 || r.End <= r.Start {
		return fmt.Errorf("year range [%d,%d) is empty or invalid", r.Start, r.End)
	}
	return nil
}

// ServerConfig controls the status server. An empty Addr disables it.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// ArchiveConfig selects where partitions are uploaded.
type ArchiveConfig struct {
	Provider string `mapstructure:"provider"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	Dir      string `mapstructure:"dir"`
}

// NotifyConfig selects where sweep summaries are published.
type NotifyConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// DatabaseConfig controls sweep run history. An empty DSN disables it.
type DatabaseConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BUGSCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.verbose", false)
	v.SetDefault("logging.debug_file", "")
	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.user_agent", "bugscraper/0.1")
	v.SetDefault("http.requests_per_second", 0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("http.max_body_bytes", 0)
	v.SetDefault("scrape.save_dir", ".")
	v.SetDefault("scrape.chunk_size", 1000)
	v.SetDefault("scrape.init_id", 1)
	v.SetDefault("scrape.fin_id", 200000)
	v.SetDefault("scrape.checkpoint_every", 10)
	v.SetDefault("trackers.kernel.years.start", 2002)
	v.SetDefault("trackers.kernel.years.end", 2019)
	v.SetDefault("server.addr", "")
	v.SetDefault("archive.provider", "none")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "bugs")
	v.SetDefault("archive.dir", "")
	v.SetDefault("notify.provider", "none")
	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.topic", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.table", "sweep_runs")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.HTTP.Timeout <= 0 {
		return errors.New("http.timeout must be > 0")
	}
	if c.HTTP.RequestsPerSecond < 0 {
		return errors.New("http.requests_per_second must be >= 0")
	}
	if c.Scrape.SaveDir == "" {
		return errors.New("scrape.save_dir must be set")
	}
	if c.Scrape.ChunkSize <= 0 {
		return errors.New("scrape.chunk_size must be > 0")
	}
	if c.Scrape.CheckpointEvery <= 0 {
		return errors.New("scrape.checkpoint_every must be > 0")
	}
	if c.Scrape.InitID < 0 || c.Scrape.FinID < c.Scrape.InitID {
		return fmt.Errorf("scrape id range [%d,%d) is invalid", c.Scrape.InitID, c.Scrape.FinID)
	}
	for name, t := range c.Trackers {
		if t.Years.IsZero() {
			continue
		}
		if err := t.Years.Validate(); err != nil {
			return fmt.Errorf("trackers.%s.years: %w", name, err)
		}
	}
	switch c.Archive.Provider {
	case "", "none":
	case "local":
		if c.Archive.Dir == "" {
			return errors.New("archive.dir must be set when archive.provider is local")
		}
	case "gcs":
		if c.Archive.Bucket == "" {
			return errors.New("archive.bucket must be set when archive.provider is gcs")
		}
	default:
		return fmt.Errorf("unknown archive.provider %q", c.Archive.Provider)
	}
	switch c.Notify.Provider {
	case "", "none":
	case "pubsub":
		if c.Notify.ProjectID == "" || c.Notify.Topic == "" {
			return errors.New("notify.project_id and notify.topic must be set when notify.provider is pubsub")
		}
	default:
		return fmt.Errorf("unknown notify.provider %q", c.Notify.Provider)
	}
	if c.Database.DSN != "" && !tableNamePattern.MatchString(c.Database.Table) {
		return fmt.Errorf("database.table %q is not a valid identifier", c.Database.Table)
	}
	return nil
}

// Overrides returns the configured base URLs keyed by tracker name.
func (c Config) Overrides() map[string]string {
	out := make(map[string]string)
	for name, t := range c.Trackers {
		if t.BaseURL != "" {
			out[name] = t.BaseURL
		}
	}
	return out
}

// YearsFor returns the configured year range of tracker, if any.
func (c Config) YearsFor(tracker string) (YearRange, bool) {
	t, ok := c.Trackers[strings.ToLower(tracker)]
	if !ok || t.Years.IsZero() {
		return YearRange{}, false
	}
	return t.Years, true
}

// OverrideYears validates a --syo/--eyo pair and returns it as a range.
func OverrideYears(start, end int) (YearRange, error) {
	for _, y := range []int{start, end} {
		if y < MinOverrideYear || y > MaxOverrideYear {
			return YearRange{}, fmt.Errorf("year %d outside %d..%d", y, MinOverrideYear, MaxOverrideYear)
		}
	}
	r := YearRange{Start: start, End: end}
	if err := r.Validate(); err != nil {
		return YearRange{}, err
	}
	return r, nil
}

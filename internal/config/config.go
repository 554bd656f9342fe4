// Package config loads and validates boardscrape configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"golang.org/x/text/encoding/htmlindex"
)

// EnvPrefix prefixes every environment override, e.g. BOARDSCRAPE_BOARD_NAME.
const EnvPrefix = "BOARDSCRAPE"

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Board    BoardConfig    `mapstructure:"board"`
	Scrape   ScrapeConfig   `mapstructure:"scrape"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Store    StoreConfig    `mapstructure:"store"`
	Index    IndexConfig    `mapstructure:"index"`
	Progress ProgressConfig `mapstructure:"progress"`
	Watch    WatchConfig    `mapstructure:"watch"`
	API      APIConfig      `mapstructure:"api"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// BoardConfig identifies the remote board.
type BoardConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Name    string `mapstructure:"name"`
	// Charset is the board's transport encoding. Empty trusts the server.
	Charset string `mapstructure:"charset"`
	// Timezone is the IANA zone the markup view prints post times in.
	Timezone  string `mapstructure:"timezone"`
	UserAgent string `mapstructure:"user_agent"`
}

// ScrapeConfig governs extraction and the worker pool.
type ScrapeConfig struct {
	Format               string `mapstructure:"format"`
	VerifyTrips          bool   `mapstructure:"verify_trips"`
	FilterDeleted        bool   `mapstructure:"filter_deleted"`
	Workers              int    `mapstructure:"workers"`
	DryRun               bool   `mapstructure:"dry_run"`
	StrictCrossReference bool   `mapstructure:"strict_cross_reference"`
}

// HTTPConfig configures board requests.
type HTTPConfig struct {
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// StoreConfig selects the watermark store.
type StoreConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// IndexConfig enables the full-text index when Dir is set.
type IndexConfig struct {
	Dir string `mapstructure:"dir"`
}

// ProgressConfig selects the console report style.
type ProgressConfig struct {
	Mode string `mapstructure:"mode"`
}

// WatchConfig controls scheduled runs.
type WatchConfig struct {
	Schedule string `mapstructure:"schedule"`
}

// APIConfig controls the status API served in watch mode.
type APIConfig struct {
	Listen string `mapstructure:"listen"`
}

// LoggingConfig toggles zap development features and sets the threshold.
// An empty Level keeps the mode's default.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from an optional .env file, an optional config file,
// the environment, and whatever flags the caller bound onto v. A nil v uses
// a fresh instance.
func Load(v *viper.Viper, path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if v == nil {
		v = viper.New()
	}
	v.SetEnvPrefix(EnvPrefix)
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
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("board.base_url", "http://dis.4chan.org")
	v.SetDefault("board.name", "prog")
	v.SetDefault("board.charset", "utf-8")
	v.SetDefault("board.timezone", "UTC")
	v.SetDefault("board.user_agent", "boardscrape/1.0")
	v.SetDefault("scrape.format", "json")
	v.SetDefault("scrape.verify_trips", true)
	v.SetDefault("scrape.filter_deleted", true)
	v.SetDefault("scrape.workers", 0)
	v.SetDefault("scrape.dry_run", false)
	v.SetDefault("scrape.strict_cross_reference", true)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.requests_per_second", 0)
	v.SetDefault("http.burst", 4)
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.path", "")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("index.dir", "")
	v.SetDefault("progress.mode", "bar")
	v.SetDefault("watch.schedule", "@every 15m")
	v.SetDefault("api.listen", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
}

func (c *Config) normalize() {
	c.Scrape.Format = strings.ToLower(strings.TrimSpace(c.Scrape.Format))
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	c.Progress.Mode = strings.ToLower(strings.TrimSpace(c.Progress.Mode))
	if c.Store.Driver == DriverSQLite && c.Store.Path == "" {
		c.Store.Path = c.DefaultStorePath()
	}
}

// DefaultStorePath names the SQLite file after the board, e.g. "prog.db".
func (c Config) DefaultStorePath() string {
	name := strings.Trim(strings.TrimSpace(c.Board.Name), "/")
	if name == "" {
		name = "board"
	}
	return filepath.Base(name) + ".db"
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Board.BaseURL) == "" {
		return errors.New("board.base_url is required")
	}
	if strings.Trim(strings.TrimSpace(c.Board.Name), "/") == "" {
		return errors.New("board.name is required")
	}
	if c.Board.Charset != "" {
		if _, err := htmlindex.Get(c.Board.Charset); err != nil {
			return fmt.Errorf("board.charset %q is not a known encoding", c.Board.Charset)
		}
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	switch c.Scrape.Format {
	case "json", "html":
	default:
		return fmt.Errorf("scrape.format must be json or html, got %q", c.Scrape.Format)
	}
	if c.Scrape.Workers < 0 {
		return errors.New("scrape.workers must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return errors.New("http.timeout_seconds must be > 0")
	}
	if c.HTTP.RequestsPerSecond < 0 {
		return errors.New("http.requests_per_second must be >= 0")
	}
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.Path == "" {
			return errors.New("store.path is required for sqlite")
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("store.driver must be sqlite or postgres, got %q", c.Store.Driver)
	}
	switch c.Progress.Mode {
	case "bar", "log", "none":
	default:
		return fmt.Errorf("progress.mode must be bar, log, or none, got %q", c.Progress.Mode)
	}
	return nil
}

// Location resolves board.timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Board.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Board.Timezone)
	if err != nil {
		return nil, fmt.Errorf("board.timezone: %w", err)
	}
	return loc, nil
}

// Timeout returns the per-request timeout as a duration.
func (c HTTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

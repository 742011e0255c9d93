package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lox/daasclimate/internal/grid"
)

// Config holds all service settings. File values come from YAML, secrets
// from the environment (optionally via a .env file).
type Config struct {
	DataDir           string   `yaml:"data_dir"`
	DBPath            string   `yaml:"db_path"`
	DBEngineURL       string   `yaml:"db_engine_url"`
	TableNames        []string `yaml:"table_names"`
	DistanceFromEvent float64  `yaml:"distance_from_event"`
	MaxEvents         int      `yaml:"max_events"`
	SystemRole        string   `yaml:"system_role"`
	Seasons           []string `yaml:"seasons"`
	Region            grid.Box `yaml:"region"`
	Files             Files    `yaml:"files"`

	LLM     LLM     `yaml:"llm"`
	Geocode Geocode `yaml:"geocode"`
	Soil    Soil    `yaml:"soil"`
	Mirror  Mirror  `yaml:"mirror"`

	HTTPAddr        string        `yaml:"http_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	OtelEndpoint    string        `yaml:"otel_endpoint"`
}

// Files are glob patterns relative to DataDir.
type Files struct {
	Historical string `yaml:"historical"`
	Projection string `yaml:"projection"`
	Forecast   string `yaml:"forecast"`
	Hindcast   string `yaml:"hindcast"`
}

type LLM struct {
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	APIKey      string  `yaml:"-"`
}

type Geocode struct {
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	CacheSize int           `yaml:"cache_size"`
	APIKey    string        `yaml:"-"`
}

type Soil struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Mirror configures the FTP source of the dataset files. An empty Addr
// disables syncing.
type Mirror struct {
	Addr      string        `yaml:"addr"`
	User      string        `yaml:"user"`
	Password  string        `yaml:"password"`
	RemoteDir string        `yaml:"remote_dir"`
	Interval  time.Duration `yaml:"interval"`
}

// Default returns the settings used when the file leaves a key unset.
func Default() *Config {
	return &Config{
		DBPath:            "data/daasclimate.db",
		TableNames:        []string{"hazard_events"},
		DistanceFromEvent: 50,
		MaxEvents:         10,
		Seasons:           []string{"Mar Apr May", "Oct Nov Dec"},
		Region:            grid.Box{North: 5.5, West: 33, South: -5.5, East: 43},
		Files: Files{
			Historical: "*CanESM2_historical*.nc",
			Projection: "*CanESM2_rcp45*.nc",
			Forecast:   "seasonal/*forecast*.nc",
			Hindcast:   "seasonal/*hindcast*.nc",
		},
		LLM: LLM{
			BaseURL: "http://localhost:11434/v1",
			Model:   "llama3",
		},
		Geocode: Geocode{
			BaseURL:   "https://api.geoapify.com",
			Timeout:   10 * time.Second,
			CacheSize: 1000,
		},
		Soil: Soil{
			BaseURL: "https://rest.isric.org",
			Timeout: 3 * time.Second,
		},
		Mirror: Mirror{
			User:     "anonymous",
			Interval: 24 * time.Hour,
		},
		HTTPAddr:        ":8080",
		ShutdownTimeout: 10 * time.Second,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// Load reads the YAML file at path on top of the defaults, loads envFiles
// (or .env from the working directory if present), applies environment
// overrides and validates the result. Variables already set in the process
// environment win over the files.
func Load(path string, envFiles ...string) (*Config, error) {
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Geocode.APIKey = os.Getenv("GEOCODE_API")
	c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("MIRROR_PASSWORD"); v != "" {
		c.Mirror.Password = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" && c.OtelEndpoint == "" {
		c.OtelEndpoint = v
	}
}

var months = map[string]bool{
	"Jan": true, "Feb": true, "Mar": true, "Apr": true, "May": true, "Jun": true,
	"Jul": true, "Aug": true, "Sep": true, "Oct": true, "Nov": true, "Dec": true,
}

func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if strings.TrimSpace(c.SystemRole) == "" {
		return errors.New("system_role is required")
	}
	if err := c.Region.Validate(); err != nil {
		return fmt.Errorf("region: %w", err)
	}
	if len(c.Seasons) == 0 {
		return errors.New("seasons must list at least one season")
	}
	for _, s := range c.Seasons {
		parts := strings.Fields(s)
		if len(parts) != 3 || len(s) != 11 {
			return fmt.Errorf("season %q: want three month abbreviations like \"Mar Apr May\"", s)
		}
		for _, p := range parts {
			if !months[p] {
				return fmt.Errorf("season %q: unknown month %q", s, p)
			}
		}
	}
	if c.DistanceFromEvent < 0 {
		return errors.New("distance_from_event must not be negative")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format %q: want text or json", c.LogFormat)
	}
	if c.Geocode.Timeout <= 0 || c.Soil.Timeout <= 0 {
		return errors.New("geocode and soil timeouts must be positive")
	}
	if c.Geocode.CacheSize <= 0 {
		c.Geocode.CacheSize = 1000
	}
	if c.Mirror.Addr != "" && c.Mirror.Interval <= 0 {
		return errors.New("mirror.interval must be positive")
	}
	return nil
}

// Path resolves a file pattern against DataDir.
func (c *Config) Path(pattern string) string {
	if filepath.IsAbs(pattern) {
		return pattern
	}
	return filepath.Join(c.DataDir, pattern)
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return l, fmt.Errorf("log_level %q: %w", s, err)
	}
	return l, nil
}

// NewLogger builds the process logger from LogLevel and LogFormat.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

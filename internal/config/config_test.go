package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/daasclimate/internal/grid"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const minimal = `
data_dir: /srv/climate
system_role: You are an agricultural climate advisor.
`

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimal))
	require.NoError(t, err)

	assert.Equal(t, "/srv/climate", cfg.DataDir)
	assert.Equal(t, grid.Box{North: 5.5, West: 33, South: -5.5, East: 43}, cfg.Region)
	assert.Equal(t, []string{"Mar Apr May", "Oct Nov Dec"}, cfg.Seasons)
	assert.Equal(t, "*CanESM2_historical*.nc", cfg.Files.Historical)
	assert.Equal(t, "seasonal/*hindcast*.nc", cfg.Files.Hindcast)
	assert.Equal(t, "llama3", cfg.LLM.Model)
	assert.Equal(t, "http://localhost:11434/v1", cfg.LLM.BaseURL)
	assert.Zero(t, cfg.LLM.Temperature)
	assert.Equal(t, 3*time.Second, cfg.Soil.Timeout)
	assert.Equal(t, 10*time.Second, cfg.Geocode.Timeout)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 50.0, cfg.DistanceFromEvent)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
data_dir: ./data
distance_from_event: 25
table_names: [floods, droughts]
system_role: |
  You are a consultant.
seasons: ["Jun Jul Aug"]
region: {north: 10, west: -20, south: 0, east: 20}
files:
  historical: "hist/*.nc"
llm:
  base_url: https://api.openai.com/v1
  model: gpt-4o-mini
  temperature: 0.2
soil:
  timeout: 1500ms
mirror:
  addr: ftp.example.org:21
  interval: 6h
log_format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 25.0, cfg.DistanceFromEvent)
	assert.Equal(t, []string{"floods", "droughts"}, cfg.TableNames)
	assert.Equal(t, "You are a consultant.\n", cfg.SystemRole)
	assert.Equal(t, []string{"Jun Jul Aug"}, cfg.Seasons)
	assert.Equal(t, grid.Box{North: 10, West: -20, South: 0, East: 20}, cfg.Region)
	assert.Equal(t, "hist/*.nc", cfg.Files.Historical)
	assert.Equal(t, "*CanESM2_rcp45*.nc", cfg.Files.Projection, "unset keys keep defaults")
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.InDelta(t, 0.2, cfg.LLM.Temperature, 1e-9)
	assert.Equal(t, 1500*time.Millisecond, cfg.Soil.Timeout)
	assert.Equal(t, 6*time.Hour, cfg.Mirror.Interval)
	assert.Equal(t, "anonymous", cfg.Mirror.User)
	assert.Equal(t, filepath.Join("data", "hist/*.nc"), cfg.Path(cfg.Files.Historical))
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GEOCODE_API", "geo-key")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_BASE_URL", "https://llm.internal/v1")
	t.Setenv("MIRROR_PASSWORD", "secret")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, minimal))
	require.NoError(t, err)

	assert.Equal(t, "geo-key", cfg.Geocode.APIKey)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "https://llm.internal/v1", cfg.LLM.BaseURL)
	assert.Equal(t, "secret", cfg.Mirror.Password)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing data dir", "system_role: x", "data_dir"},
		{"missing system role", "data_dir: /d", "system_role"},
		{"inverted region", minimal + "region: {north: -5, west: 33, south: 5, east: 43}", "region"},
		{"bad season", minimal + `seasons: ["March April"]`, "season"},
		{"unknown month", minimal + `seasons: ["Mar Apr Mai"]`, "unknown month"},
		{"bad log level", minimal + "log_level: loud", "log_level"},
		{"bad log format", minimal + "log_format: xml", "log_format"},
		{"negative distance", minimal + "distance_from_event: -1", "distance_from_event"},
		{"bad yaml", "data_dir: [", "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	cfg := Default()
	cfg.LogFormat = "json"
	cfg.LogLevel = "warn"

	var buf bytes.Buffer
	logger := cfg.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", 1)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.HasPrefix(out, "{"), "json output expected: %s", out)
	assert.Contains(t, out, `"k":1`)
}

// unsetEnv clears keys for the test and restores them afterwards, so that
// values loaded from env files do not leak between tests.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		require.NoError(t, os.Unsetenv(k))
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			} else {
				os.Unsetenv(k)
			}
		})
	}
}

func TestLoad_EnvFile(t *testing.T) {
	unsetEnv(t, "GEOCODE_API", "OPENAI_API_KEY", "MIRROR_PASSWORD")
	envPath := filepath.Join(t.TempDir(), "prod.env")
	require.NoError(t, os.WriteFile(envPath, []byte("GEOCODE_API=secret-key\nOPENAI_API_KEY=sk-prod\nMIRROR_PASSWORD=ftp-pass\n"), 0o600))

	cfg, err := Load(writeConfig(t, minimal), envPath)
	require.NoError(t, err)
	assert.Equal(t, "secret-key", cfg.Geocode.APIKey)
	assert.Equal(t, "sk-prod", cfg.LLM.APIKey)
	assert.Equal(t, "ftp-pass", cfg.Mirror.Password)
}

func TestLoad_EnvFileProcessWins(t *testing.T) {
	unsetEnv(t, "OPENAI_API_KEY")
	t.Setenv("GEOCODE_API", "from-process")
	envPath := filepath.Join(t.TempDir(), "prod.env")
	require.NoError(t, os.WriteFile(envPath, []byte("GEOCODE_API=from-file\n"), 0o600))

	cfg, err := Load(writeConfig(t, minimal), envPath)
	require.NoError(t, err)
	assert.Equal(t, "from-process", cfg.Geocode.APIKey)
}

func TestLoad_MissingEnvFile(t *testing.T) {
	_, err := Load(writeConfig(t, minimal), filepath.Join(t.TempDir(), "absent.env"))
	assert.ErrorContains(t, err, "load env file")
}

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/daasclimate/internal/config"
)

func TestEnvFileFlagDeliversSecrets(t *testing.T) {
	for _, k := range []string{"GEOCODE_API", "OPENAI_API_KEY"} {
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

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "c.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("data_dir: ./data\nsystem_role: advisor\n"), 0o644))
	envPath := filepath.Join(dir, "prod.env")
	require.NoError(t, os.WriteFile(envPath, []byte("GEOCODE_API=secret-key\nOPENAI_API_KEY=sk-prod\n"), 0o600))

	var cli CLI
	parser, err := kong.New(&cli, kong.Name("daasclimate"))
	require.NoError(t, err)
	_, err = parser.Parse([]string{"-c", cfgPath, "--env-file", envPath, "migrate"})
	require.NoError(t, err)

	cfg, err := config.Load(cli.Config, envFiles(cli)...)
	require.NoError(t, err)
	assert.Equal(t, "secret-key", cfg.Geocode.APIKey)
	assert.Equal(t, "sk-prod", cfg.LLM.APIKey)
}

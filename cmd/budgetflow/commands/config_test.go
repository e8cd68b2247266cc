package commands

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/budgetflow/budgetflow/internal/app"
)

// parsedCommand runs the root command with args and returns the command the
// action received, so its flags can be fed into loadConfig.
func parsedCommand(t *testing.T, args ...string) *cli.Command {
	t.Helper()

	var captured *cli.Command
	root := newRootCommand()
	root.Commands = nil
	root.Action = func(ctx context.Context, cmd *cli.Command) error {
		captured = cmd
		return nil
	}
	require.NoError(t, root.Run(context.Background(), append([]string{"budgetflow"}, args...)))
	require.NotNil(t, captured)
	return captured
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// isolateConfigDir points the user config directory at a temporary directory
// and returns it.
func isolateConfigDir(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	dir, err := os.UserConfigDir()
	require.NoError(t, err)
	return dir
}

func environ(vars ...string) func() []string {
	return func() []string { return vars }
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig("", nil, environ())
	require.NoError(t, err)

	assert.Equal(t, app.DefaultConfigAPIBaseURL, cfg.API.BaseURL)
	assert.Equal(t, app.DefaultConfigAPITimeout, cfg.API.Timeout)
	assert.Equal(t, app.TokenStorageTypeFile, cfg.Auth.Storage)
	assert.Equal(t, app.AuthenticationMethodRefresh, cfg.Auth.Method)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoadConfig_Precedence(t *testing.T) {
	authFile := filepath.Join(t.TempDir(), "auth.json")
	cfgFile := writeConfigFile(t, `
log_level = "warn"
log_format = "json"

[api]
base_url = "https://file.example.com"
timeout = "10s"

[auth]
storage = "file"
file = "`+authFile+`"

[gateway]
port = 4200
`)

	t.Run("file only", func(t *testing.T) {
		cfg, err := loadConfig(cfgFile, nil, environ())
		require.NoError(t, err)

		assert.Equal(t, "https://file.example.com", cfg.API.BaseURL)
		assert.Equal(t, 10*time.Second, cfg.API.Timeout)
		assert.Equal(t, app.LogFormatJSON, cfg.LogFormat)
		assert.Equal(t, slog.LevelWarn, cfg.LogLevel)
		assert.Equal(t, authFile, cfg.Auth.File)
		assert.Equal(t, uint16(4200), cfg.Gateway.Port)
	})

	t.Run("env overrides file", func(t *testing.T) {
		cfg, err := loadConfig(cfgFile, nil, environ(
			"BUDGETFLOW_API__BASE_URL=https://env.example.com",
			"BUDGETFLOW_LOG_LEVEL=debug",
			"UNRELATED_API__BASE_URL=https://ignored.example.com",
		))
		require.NoError(t, err)

		assert.Equal(t, "https://env.example.com", cfg.API.BaseURL)
		assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
		assert.Equal(t, app.LogFormatJSON, cfg.LogFormat, "untouched keys keep the file value")
	})

	t.Run("flags override env", func(t *testing.T) {
		cmd := parsedCommand(t, "--api--base-url", "https://flag.example.com", "--auth--method", "static")
		cfg, err := loadConfig(cfgFile, cmd, environ("BUDGETFLOW_API__BASE_URL=https://env.example.com"))
		require.NoError(t, err)

		assert.Equal(t, "https://flag.example.com", cfg.API.BaseURL)
		assert.Equal(t, app.AuthenticationMethodStatic, cfg.Auth.Method)
	})

	t.Run("unset flags keep earlier sources", func(t *testing.T) {
		cmd := parsedCommand(t)
		cfg, err := loadConfig(cfgFile, cmd, environ())
		require.NoError(t, err)

		assert.Equal(t, "https://file.example.com", cfg.API.BaseURL)
		assert.Equal(t, app.LogFormatJSON, cfg.LogFormat)
	})
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		environ []string
	}{
		{
			name: "missing file",
			path: filepath.Join(t.TempDir(), "absent.toml"),
		},
		{
			name: "malformed toml",
			path: writeConfigFile(t, "[api\nbase_url ="),
		},
		{
			name:    "refresh with env storage",
			environ: []string{"BUDGETFLOW_AUTH__STORAGE=env"},
		},
		{
			name:    "unknown exporter",
			environ: []string{"BUDGETFLOW_TELEMETRY__EXPORTER=zipkin"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(tt.path, nil, environ(tt.environ...))
			require.Error(t, err)
		})
	}
}

func TestFlagValues(t *testing.T) {
	cmd := parsedCommand(t, "--log-level", "debug", "--api--timeout", "5s", "--auth--passphrase-env", "BF_PASS")

	values := flagValues(cmd)
	assert.Equal(t, map[string]any{
		"log_level":           "debug",
		"api.timeout":         5 * time.Second,
		"auth.passphrase_env": "BF_PASS",
	}, values)
}

func TestEnvKey(t *testing.T) {
	key, value := envKey("BUDGETFLOW_AUTH__REFRESH_TIMEOUT", "45s")
	assert.Equal(t, "auth.refresh_timeout", key)
	assert.Equal(t, "45s", value)
}

func TestConfigPath(t *testing.T) {
	t.Run("explicit flag", func(t *testing.T) {
		cmd := parsedCommand(t, "--config", "/etc/budgetflow.toml")
		path, err := configPath(cmd)
		require.NoError(t, err)
		assert.Equal(t, "/etc/budgetflow.toml", path)
	})

	t.Run("user config file", func(t *testing.T) {
		want := filepath.Join(isolateConfigDir(t), "budgetflow", configFileName)
		require.NoError(t, os.MkdirAll(filepath.Dir(want), 0o700))
		require.NoError(t, os.WriteFile(want, []byte("log_format = \"json\"\n"), 0o600))

		path, err := configPath(parsedCommand(t))
		require.NoError(t, err)
		assert.Equal(t, want, path)
	})

	t.Run("no user config file", func(t *testing.T) {
		isolateConfigDir(t)
		path, err := configPath(parsedCommand(t))
		require.NoError(t, err)
		assert.Empty(t, path)
	})
}

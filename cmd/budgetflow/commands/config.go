package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v3"

	"github.com/budgetflow/budgetflow/internal/app"
)

// envPrefix marks configuration variables: BUDGETFLOW_API__BASE_URL → api.base_url.
const envPrefix = "BUDGETFLOW_"

// configFileName is looked up in the user config directory when --config is not given.
const configFileName = "config.toml"

// configFlags lists the flags that map onto app.Config. Command flags such as
// --name or --id-token stay out of the config tree.
var configFlags = map[string]bool{
	"log-level":             true,
	"log-format":            true,
	"telemetry--exporter":   true,
	"api--base-url":         true,
	"api--timeout":          true,
	"auth--storage":         true,
	"auth--file":            true,
	"auth--passphrase-env":  true,
	"auth--keyring-user":    true,
	"auth--env-prefix":      true,
	"auth--method":          true,
	"auth--refresh-timeout": true,
	"gateway--host":         true,
	"gateway--port":         true,
	"shutdown--timeout":     true,
}

// loadConfig merges, lowest precedence first: config file, BUDGETFLOW_
// environment variables, explicitly set CLI flags. Defaults fill what is left.
func loadConfig(path string, cmd *cli.Command, environFunc func() []string) (*app.Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	envProvider := env.Provider(".", env.Opt{
		Prefix:        envPrefix,
		TransformFunc: envKey,
		EnvironFunc:   environFunc,
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	if cmd != nil {
		if err := k.Load(confmap.Provider(flagValues(cmd), "."), nil); err != nil {
			return nil, fmt.Errorf("loading CLI flags: %w", err)
		}
	}

	cfg := &app.Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// envKey maps BUDGETFLOW_AUTH__REFRESH_TIMEOUT to auth.refresh_timeout.
func envKey(key, value string) (string, any) {
	key = strings.TrimPrefix(key, envPrefix)
	return strings.ToLower(strings.ReplaceAll(key, "__", ".")), value
}

// flagValues collects the explicitly set config flags of cmd and its parents,
// keyed like the config file: --api--base-url → api.base_url.
func flagValues(cmd *cli.Command) map[string]any {
	values := make(map[string]any)
	for _, name := range cmd.FlagNames() {
		if !configFlags[name] || !cmd.IsSet(name) {
			continue
		}
		if value := cmd.Value(name); value != nil {
			key := strings.ReplaceAll(name, "--", ".")
			values[strings.ReplaceAll(key, "-", "_")] = value
		}
	}
	return values
}

// configPath returns --config, or the per-user config file when it exists.
func configPath(cmd *cli.Command) (string, error) {
	if path := cmd.String("config"); path != "" {
		return path, nil
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		return "", nil
	}
	path := filepath.Join(dir, "budgetflow", configFileName)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("checking config file: %w", err)
	}
	return path, nil
}

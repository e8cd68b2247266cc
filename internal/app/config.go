package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/budgetflow/budgetflow/internal/observability"
	"github.com/budgetflow/budgetflow/internal/tokenstore"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// TokenStorageType represents the different storage types supported for stored tokens.
type TokenStorageType string

const (
	TokenStorageTypeFile    TokenStorageType = "file"
	TokenStorageTypeEnv     TokenStorageType = "env"
	TokenStorageTypeKeyring TokenStorageType = "keyring"
)

// AuthenticationMethod controls what happens when the API rejects the access token.
type AuthenticationMethod string

const (
	// AuthenticationMethodRefresh exchanges the refresh token and retries once.
	AuthenticationMethodRefresh AuthenticationMethod = "refresh"
	// AuthenticationMethodStatic treats every rejection as terminal.
	AuthenticationMethodStatic AuthenticationMethod = "static"
)

// KeyringService is the keyring service name credentials are stored under.
const KeyringService = "budgetflow"

// Default configuration values
const (
	DefaultConfigLogFormat         = LogFormatText
	DefaultConfigTelemetryExporter = observability.ExporterNone
	DefaultConfigAPIBaseURL        = "https://api.budgetflow.app"
	DefaultConfigAPITimeout        = 30 * time.Second
	DefaultConfigAuthStorage       = TokenStorageTypeFile
	DefaultConfigAuthMethod        = AuthenticationMethodRefresh
	DefaultConfigAuthEnvPrefix     = "BUDGETFLOW_TOKEN_"
	DefaultConfigRefreshTimeout    = 30 * time.Second
	DefaultConfigGatewayHost       = "127.0.0.1"
	DefaultConfigGatewayPort       = 4100
	DefaultConfigShutdownTimeout   = 5 * time.Second
)

// TelemetryConfig selects the log pipeline.
type TelemetryConfig struct {
	Exporter observability.Exporter `json:"exporter" validate:"oneof=none stdout otlp-http otlp-grpc"`
}

// APIConfig holds BudgetFlow API configuration.
type APIConfig struct {
	BaseURL string        `json:"base_url" validate:"required,url"`
	Timeout time.Duration `json:"timeout" validate:"gt=0"`
}

// AuthConfig describes how credentials are stored and renewed.
type AuthConfig struct {
	// Storage configuration - where the credential pair lives
	Storage TokenStorageType `json:"storage" validate:"required,oneof=file env keyring"`

	// Storage-specific settings (mutually exclusive based on Storage type)
	File          string `json:"file,omitempty"`           // For file storage: path to token file
	PassphraseEnv string `json:"passphrase_env,omitempty"` // For file storage: variable holding the encryption passphrase
	KeyringUser   string `json:"keyring_user,omitempty"`   // For keyring storage: user identifier
	EnvPrefix     string `json:"env_prefix,omitempty"`     // For env storage: variable prefix

	Method         AuthenticationMethod `json:"method" validate:"required,oneof=refresh static"`
	RefreshTimeout time.Duration        `json:"refresh_timeout" validate:"gt=0"`
}

// NewTokenStore creates the credential store from the authentication configuration.
func (a *AuthConfig) NewTokenStore() (*tokenstore.KVStore, error) {
	var (
		kv  tokenstore.KV
		err error
	)

	switch a.Storage {
	case TokenStorageTypeFile:
		var opts []tokenstore.FileOption
		if a.PassphraseEnv != "" {
			passphrase := os.Getenv(a.PassphraseEnv)
			if passphrase == "" {
				return nil, fmt.Errorf("passphrase variable %s is empty", a.PassphraseEnv)
			}
			opts = append(opts, tokenstore.WithPassphrase(passphrase))
		}
		kv, err = tokenstore.NewFileKV(a.File, opts...)
	case TokenStorageTypeEnv:
		kv, err = tokenstore.NewEnvKV(a.EnvPrefix)
	case TokenStorageTypeKeyring:
		kv, err = tokenstore.NewKeyringKV(KeyringService, a.KeyringUser)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", a.Storage)
	}
	if err != nil {
		return nil, err
	}

	return tokenstore.NewKVStore(kv)
}

// ServerConfig holds the local gateway listener configuration.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel  slog.Level      `json:"log_level"`
	LogFormat LogFormat       `json:"log_format" validate:"oneof=text json"`
	Telemetry TelemetryConfig `json:"telemetry"`
	API       APIConfig       `json:"api"`
	Auth      AuthConfig      `json:"auth"`
	Gateway   ServerConfig    `json:"gateway"`
	Shutdown  ShutdownConfig  `json:"shutdown"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Telemetry.Exporter == "" {
		c.Telemetry.Exporter = DefaultConfigTelemetryExporter
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultConfigAPIBaseURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultConfigAPITimeout
	}
	if c.Auth.Storage == "" {
		c.Auth.Storage = DefaultConfigAuthStorage
	}
	if c.Auth.Method == "" {
		c.Auth.Method = DefaultConfigAuthMethod
	}
	if c.Auth.RefreshTimeout == 0 {
		c.Auth.RefreshTimeout = DefaultConfigRefreshTimeout
	}
	if c.Gateway.Host == "" {
		c.Gateway.Host = DefaultConfigGatewayHost
	}
	if c.Gateway.Port == 0 {
		c.Gateway.Port = DefaultConfigGatewayPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}

	// Dynamic defaults based on storage type
	switch c.Auth.Storage {
	case TokenStorageTypeFile:
		if c.Auth.File == "" {
			configDir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("auth.file required (auto-detect failed: %w)", err)
			}
			c.Auth.File = filepath.Join(configDir, "budgetflow", "auth.json")
		}
	case TokenStorageTypeKeyring:
		if c.Auth.KeyringUser == "" {
			currentUser, err := user.Current()
			if err != nil {
				return fmt.Errorf("auth.keyring_user required (auto-detect failed: %w)", err)
			}
			c.Auth.KeyringUser = currentUser.Username
		}
	case TokenStorageTypeEnv:
		if c.Auth.EnvPrefix == "" {
			c.Auth.EnvPrefix = DefaultConfigAuthEnvPrefix
		}
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	// Refreshing writes the renewed pair back (env is read-only)
	if c.Auth.Method == AuthenticationMethodRefresh && c.Auth.Storage == TokenStorageTypeEnv {
		return errors.New("refresh authentication requires writable storage, env is read-only")
	}

	switch c.Auth.Storage {
	case TokenStorageTypeFile:
		if c.Auth.File == "" {
			return errors.New("file path required for file storage")
		}
	case TokenStorageTypeEnv:
		if c.Auth.EnvPrefix == "" {
			return errors.New("env_prefix required for env storage")
		}
	case TokenStorageTypeKeyring:
		if c.Auth.KeyringUser == "" {
			return errors.New("keyring_user required for keyring storage")
		}
	}

	return nil
}

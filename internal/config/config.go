package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all runtime configuration knobs for the dispatcher.
type Config struct {
	HTTP struct {
		Addr         string        `mapstructure:"addr"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
		// APIToken, when set, must be presented in the API-TOKEN header on /api/notify.
		APIToken string `mapstructure:"api_token"`
	} `mapstructure:"http"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Storage struct {
		Driver string `mapstructure:"driver"`
		Path   string `mapstructure:"path"`
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"storage"`
	Credential struct {
		Source         string        `mapstructure:"source"`
		File           string        `mapstructure:"file"`
		KeyringAccount string        `mapstructure:"keyring_account"`
		TokenURL       string        `mapstructure:"token_url"`
		Scope          string        `mapstructure:"scope"`
		SafetyMargin   time.Duration `mapstructure:"safety_margin"`
		RequestTimeout time.Duration `mapstructure:"request_timeout"`
	} `mapstructure:"credential"`
	Gateway struct {
		BaseURL     string        `mapstructure:"base_url"`
		ProjectID   string        `mapstructure:"project_id"`
		SendTimeout time.Duration `mapstructure:"send_timeout"`
		Icon        string        `mapstructure:"icon"`
		Badge       string        `mapstructure:"badge"`
		LinkBase    string        `mapstructure:"link_base"`
	} `mapstructure:"gateway"`
	Dispatch struct {
		Workers            int           `mapstructure:"workers"`
		PrefetchCredential bool          `mapstructure:"prefetch_credential"`
		ReconcileTimeout   time.Duration `mapstructure:"reconcile_timeout"`
		AuditTimeout       time.Duration `mapstructure:"audit_timeout"`
	} `mapstructure:"dispatch"`
	Auth struct {
		Enabled  bool   `mapstructure:"enabled"`
		Username string `mapstructure:"username"`
		// Password is either plaintext or a bcrypt hash from -hash-password.
		Password  string `mapstructure:"password"`
		JWTSecret string `mapstructure:"jwt_secret"`
		// Role selects the scopes granted at login: admin or viewer.
		Role string `mapstructure:"role"`
	} `mapstructure:"auth"`
}

const (
	DriverBolt     = "bolt"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	SourceFile    = "file"
	SourceKeyring = "keyring"
)

// Load reads the configuration from disk/environment using Viper. A .env file
// in the working directory is applied to the environment first.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("pushdispatch")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// missing file is fine, env-only config
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the dispatcher cannot start with.
func (c *Config) Validate() error {
	if c.Dispatch.Workers <= 0 {
		return fmt.Errorf("dispatch.workers must be positive, got %d", c.Dispatch.Workers)
	}
	switch strings.ToLower(c.Storage.Driver) {
	case DriverBolt:
		if c.Storage.Path == "" {
			return errors.New("storage.path is required for the bolt driver")
		}
	case DriverPostgres, DriverSQLite:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the %s driver", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	switch strings.ToLower(c.Credential.Source) {
	case SourceFile, SourceKeyring:
	default:
		return fmt.Errorf("unknown credential.source %q", c.Credential.Source)
	}
	if c.Gateway.SendTimeout <= 0 {
		return errors.New("gateway.send_timeout must be positive")
	}
	if base := strings.TrimSpace(c.Gateway.LinkBase); base != "" {
		u, err := url.Parse(base)
		if err != nil || u.Scheme != "https" || u.Host == "" {
			return fmt.Errorf("gateway.link_base must be an absolute https URL, got %q", base)
		}
	}
	return c.ValidateAuth()
}

// MinJWTSecretLen is the shortest auth.jwt_secret accepted for HS256 signing.
const MinJWTSecretLen = 32

// Well-known placeholder credentials that must never guard a live deployment.
var (
	insecurePasswords = []string{"admin", "admin123", "password", "changeme"}
	insecureSecrets   = []string{"change-me-secret", "pushdispatch-default-secret", "secret"}
)

// ValidateAuth checks the admin console settings. It accepts anything when
// auth is disabled.
func (c *Config) ValidateAuth() error {
	if !c.Auth.Enabled {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(c.Auth.Role)) {
	case "", "admin", "viewer":
	default:
		return fmt.Errorf("unknown auth.role %q", c.Auth.Role)
	}
	if strings.TrimSpace(c.Auth.Username) == "" {
		return errors.New("auth.username is required when auth is enabled")
	}
	password := strings.TrimSpace(c.Auth.Password)
	if password == "" {
		return errors.New("auth.password is required when auth is enabled")
	}
	if slices.Contains(insecurePasswords, strings.ToLower(password)) {
		return errors.New("auth.password is a known default; set a real password or a bcrypt hash")
	}
	secret := strings.TrimSpace(c.Auth.JWTSecret)
	if slices.Contains(insecureSecrets, secret) {
		return errors.New("auth.jwt_secret is a known default")
	}
	if len(secret) < MinJWTSecretLen {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinJWTSecretLen)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8090")
	v.SetDefault("http.read_timeout", "15s")
	v.SetDefault("http.write_timeout", "60s")
	v.SetDefault("http.api_token", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("storage.driver", DriverBolt)
	v.SetDefault("storage.path", "./data/pushdispatch.db")
	v.SetDefault("storage.dsn", "")

	v.SetDefault("credential.source", SourceFile)
	v.SetDefault("credential.file", "./service-account.json")
	v.SetDefault("credential.keyring_account", "default")
	v.SetDefault("credential.token_url", "")
	v.SetDefault("credential.scope", "https://www.googleapis.com/auth/firebase.messaging")
	v.SetDefault("credential.safety_margin", "60s")
	v.SetDefault("credential.request_timeout", "10s")

	v.SetDefault("gateway.base_url", "https://fcm.googleapis.com")
	v.SetDefault("gateway.project_id", "")
	v.SetDefault("gateway.send_timeout", "10s")
	v.SetDefault("gateway.icon", "/icons/icon-192x192.png")
	v.SetDefault("gateway.badge", "/icons/badge-72x72.png")
	v.SetDefault("gateway.link_base", "")

	v.SetDefault("dispatch.workers", 16)
	v.SetDefault("dispatch.prefetch_credential", false)
	v.SetDefault("dispatch.reconcile_timeout", "10s")
	v.SetDefault("dispatch.audit_timeout", "5s")

	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.username", "admin")
	v.SetDefault("auth.password", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.role", "admin")
}

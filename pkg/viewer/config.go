// Package viewer holds the server configuration: file loading, environment
// overrides, defaults and validation.
package viewer

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the complete viewer configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Auth    AuthConfig    `yaml:"auth"`
	GCS     GCSConfig     `yaml:"gcs"`
	Session SessionConfig `yaml:"session"`
	Slides  SlidesConfig  `yaml:"slides"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// AuthConfig configures HTTP Basic auth for the privileged routes.
type AuthConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// PasswordHash is a bcrypt hash of the SHA-256 hex digest of the
	// password; when set it takes precedence over Password.
	PasswordHash string `yaml:"password_hash"`
}

// GCSConfig configures Google Cloud Storage access.
type GCSConfig struct {
	CredentialsPath string `yaml:"credentials_path"`
	Bucket          string `yaml:"bucket"`
}

// SessionConfig configures session lifetimes.
type SessionConfig struct {
	TTLMinutes           int `yaml:"ttl_minutes"`
	SweepIntervalMinutes int `yaml:"sweep_interval_minutes"`
}

// SlidesConfig configures slide serving.
type SlidesConfig struct {
	UploadsDir    string `yaml:"uploads_dir"`
	MaxRangeBytes int64  `yaml:"max_range_bytes"`
}

// LoadConfig reads a YAML config file, expands ${VAR} environment
// references, applies environment overrides and defaults, and validates.
// An empty path skips the file and builds the config from environment and
// defaults alone.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		// #nosec G304 -- path is from CLI args, controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		data = []byte(expandEnvVars(string(data)))
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// applyEnvOverrides layers environment variables over the file values.
// Environment wins over file, flags win over both. The auth and GCS
// variables keep their historical names (AUTH_ENABLED, AUTH_USERNAME,
// AUTH_PASSWORD, GCS_SERVICE_ACCOUNT_PATH, GCS_BUCKET_NAME); the
// server-specific knobs use the SLIDEVIEW_ prefix.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SLIDEVIEW_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("AUTH_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Auth.Enabled = enabled
		}
	}
	if v := os.Getenv("AUTH_USERNAME"); v != "" {
		cfg.Auth.Username = v
	}
	if v := os.Getenv("AUTH_PASSWORD"); v != "" {
		cfg.Auth.Password = v
	}
	if v := os.Getenv("AUTH_PASSWORD_HASH"); v != "" {
		cfg.Auth.PasswordHash = v
	}
	if v := os.Getenv("GCS_SERVICE_ACCOUNT_PATH"); v != "" {
		cfg.GCS.CredentialsPath = v
	}
	if v := os.Getenv("GCS_BUCKET_NAME"); v != "" {
		cfg.GCS.Bucket = v
	}
	if v := os.Getenv("SLIDEVIEW_SESSION_TTL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Session.TTLMinutes = n
		}
	}
	if v := os.Getenv("SLIDEVIEW_UPLOADS_DIR"); v != "" {
		cfg.Slides.UploadsDir = v
	}
	if v := os.Getenv("SLIDEVIEW_MAX_RANGE_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Slides.MaxRangeBytes = n
		}
	}
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}
	if cfg.Session.TTLMinutes == 0 {
		cfg.Session.TTLMinutes = 60
	}
	if cfg.Session.SweepIntervalMinutes == 0 {
		cfg.Session.SweepIntervalMinutes = 5
	}
	if cfg.Slides.UploadsDir == "" {
		cfg.Slides.UploadsDir = os.TempDir() + "/slideview-uploads"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Auth.Enabled {
		if c.Auth.Username == "" {
			errs = append(errs, "auth.username is required when auth is enabled")
		}
		if c.Auth.Password == "" && c.Auth.PasswordHash == "" {
			errs = append(errs, "auth.password or auth.password_hash is required when auth is enabled")
		}
	}
	if c.Session.TTLMinutes < 0 {
		errs = append(errs, "session.ttl_minutes must not be negative")
	}
	if c.Slides.MaxRangeBytes < 0 {
		errs = append(errs, "slides.max_range_bytes must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

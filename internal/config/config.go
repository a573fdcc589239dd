// Package config provides application configuration loaded from the environment.
//
// All settings come from environment variables (the process runs in a
// container behind a reverse proxy; there is no config file). Required values
// are validated at startup and the process fails fast if any is missing —
// configuration problems are never surfaced as per-request errors.
//
// Error Handling:
//   - Uses sentinel errors for Go-idiomatic error checking with errors.Is()
//   - Wrap with context using fmt.Errorf("%w: details", ErrXxx)
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrMissingAPIKey indicates GEMINI_API_KEY is not set.
	ErrMissingAPIKey = errors.New("missing Gemini API key")

	// ErrMissingBucket indicates the storage bucket name is not set.
	ErrMissingBucket = errors.New("missing storage bucket")

	// ErrMissingSignerEmail indicates the signing service-account email is not set.
	ErrMissingSignerEmail = errors.New("missing signer service account email")

	// ErrInvalidSignerEmail indicates the signing identity is not an email address.
	ErrInvalidSignerEmail = errors.New("invalid signer service account email")

	// ErrInvalidTTL indicates the signed URL TTL is out of range.
	ErrInvalidTTL = errors.New("invalid signed URL TTL")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")
)

// Signed URL TTL bounds in seconds. GCS V4 signatures cap expiry at 7 days.
const (
	DefaultSignedURLTTLSeconds = 600
	MinSignedURLTTLSeconds     = 1
	MaxSignedURLTTLSeconds     = 7 * 24 * 3600
)

// DefaultModel is the Gemini model used for lesson generation.
const DefaultModel = "gemini-2.5-flash"

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (API keys, tokens), update MarshalJSON.
type Config struct {
	// Gemini provider
	GeminiAPIKey string `mapstructure:"gemini_api_key" json:"gemini_api_key"`
	Model        string `mapstructure:"model" json:"model"`

	// Object storage
	Bucket              string `mapstructure:"gcs_bucket" json:"gcs_bucket"`
	SignerEmail         string `mapstructure:"signer_email" json:"signer_email"`
	SignedURLTTLSeconds int    `mapstructure:"signed_url_ttl_seconds" json:"signed_url_ttl_seconds"`

	// HTTP server
	Addr        string   `mapstructure:"addr" json:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"`
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`

	// Dev relaxes transport policy for local plain-HTTP development
	// (disables HSTS). Never set in production.
	Dev bool `mapstructure:"dev" json:"dev"`

	// Observability
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	LogLevel     string `mapstructure:"log_level" json:"log_level"`
	LogJSON      bool   `mapstructure:"log_json" json:"log_json"`
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)
	bindEnvVariables(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// CORS origins arrive as a comma-separated string.
	if raw := v.GetString("cors_origins"); raw != "" {
		cfg.CORSOrigins = splitOrigins(raw)
	}

	// CRITICAL: Validate immediately (fail-fast)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("model", DefaultModel)
	v.SetDefault("signed_url_ttl_seconds", DefaultSignedURLTTLSeconds)
	v.SetDefault("addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", true)
}

// bindEnvVariables binds environment variables to configuration keys.
// GEMINI_API_KEY keeps its conventional name; everything else is TALKY_*.
func bindEnvVariables(v *viper.Viper) {
	_ = v.BindEnv("gemini_api_key", "GEMINI_API_KEY")
	_ = v.BindEnv("model", "TALKY_MODEL")
	_ = v.BindEnv("gcs_bucket", "TALKY_GCS_BUCKET")
	_ = v.BindEnv("signer_email", "TALKY_SIGNER_EMAIL")
	_ = v.BindEnv("signed_url_ttl_seconds", "TALKY_SIGNED_URL_TTL_SECONDS")
	_ = v.BindEnv("addr", "TALKY_ADDR")
	_ = v.BindEnv("cors_origins", "TALKY_CORS_ORIGINS")
	_ = v.BindEnv("trust_proxy", "TALKY_TRUST_PROXY")
	_ = v.BindEnv("rate_burst", "TALKY_RATE_BURST")
	_ = v.BindEnv("dev", "TALKY_DEV")
	_ = v.BindEnv("otlp_endpoint", "TALKY_OTLP_ENDPOINT")
	_ = v.BindEnv("log_level", "TALKY_LOG_LEVEL")
	_ = v.BindEnv("log_json", "TALKY_LOG_JSON")
}

// splitOrigins parses a comma-separated origin list, trimming whitespace and
// dropping empty entries.
func splitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if o := strings.TrimSpace(p); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// Validate checks that all required values are present and in range.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.GeminiAPIKey) == "" {
		return fmt.Errorf("%w: set GEMINI_API_KEY", ErrMissingAPIKey)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: model name is empty", ErrInvalidModelName)
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return fmt.Errorf("%w: set TALKY_GCS_BUCKET", ErrMissingBucket)
	}
	if strings.TrimSpace(c.SignerEmail) == "" {
		return fmt.Errorf("%w: set TALKY_SIGNER_EMAIL", ErrMissingSignerEmail)
	}
	if !strings.Contains(c.SignerEmail, "@") {
		return fmt.Errorf("%w: %q", ErrInvalidSignerEmail, c.SignerEmail)
	}
	if c.SignedURLTTLSeconds < MinSignedURLTTLSeconds || c.SignedURLTTLSeconds > MaxSignedURLTTLSeconds {
		return fmt.Errorf("%w: %d seconds (allowed %d-%d)",
			ErrInvalidTTL, c.SignedURLTTLSeconds, MinSignedURLTTLSeconds, MaxSignedURLTTLSeconds)
	}
	return nil
}

// SignedURLTTL returns the signed URL lifetime as a duration.
func (c *Config) SignedURLTTL() time.Duration {
	return time.Duration(c.SignedURLTTLSeconds) * time.Second
}

// MarshalJSON masks sensitive fields when the configuration is logged or
// exported.
func (c *Config) MarshalJSON() ([]byte, error) {
	type alias Config // avoid recursion
	masked := alias(*c)
	if masked.GeminiAPIKey != "" {
		masked.GeminiAPIKey = "***"
	}
	return json.Marshal(masked)
}

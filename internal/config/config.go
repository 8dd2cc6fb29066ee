// Package config loads the storefront server configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/theory-cloud/storefront/pkg/checkout"
	"github.com/theory-cloud/storefront/pkg/notify"
	"github.com/theory-cloud/storefront/pkg/protection"
	"github.com/theory-cloud/storefront/pkg/session"
	"github.com/theory-cloud/storefront/pkg/store"
)

// Modes
const (
	// ModeLocal keeps every backend in process and logs SMS codes instead of sending them
	ModeLocal = "local"
	// ModeAWS uses DynamoDB, S3 and SNS
	ModeAWS = "aws"
)

// localTokenSecret signs tokens in local mode when no secret is configured
const localTokenSecret = "storefront-local-development-secret"

// Config is the full server configuration. EnsureTables creates missing DynamoDB tables at
// startup.
type Config struct {
	Email    notify.Config             `yaml:"email"`
	Auth     AuthConfig                `yaml:"auth"`
	OTP      OTPConfig                 `yaml:"otp"`
	Log      LogConfig                 `yaml:"log"`
	Images   ImagesConfig              `yaml:"images"`
	Events   EventsConfig              `yaml:"events"`
	Server   ServerConfig              `yaml:"server"`
	Checkout checkout.Config           `yaml:"checkout"`
	Mode     string                    `yaml:"mode"`
	Tables   string                    `yaml:"table_prefix"`
	AWS      session.Config            `yaml:"aws"`
	Limits   protection.ResourceLimits `yaml:"limits"`

	EnsureTables bool `yaml:"ensure_tables"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	PublicURL       string        `yaml:"public_url"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig selects the log level and format ("json" or "text")
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AuthConfig configures session tokens and checkout sessions
type AuthConfig struct {
	TokenSecret string        `yaml:"token_secret"`
	TokenIssuer string        `yaml:"token_issuer"`
	TokenTTL    time.Duration `yaml:"token_ttl"`
	SessionTTL  time.Duration `yaml:"session_ttl"`
}

// OTPConfig configures phone verification
type OTPConfig struct {
	SMSSenderID       string        `yaml:"sms_sender_id"`
	SMSMaxPrice       string        `yaml:"sms_max_price"`
	RecaptchaSecret   string        `yaml:"recaptcha_secret"`
	Lifetime          time.Duration `yaml:"lifetime"`
	RecaptchaMinScore float64       `yaml:"recaptcha_min_score"`
	SendsPerMinute    float64       `yaml:"sends_per_minute"`
	CodeLength        int           `yaml:"code_length"`
	SendBurst         int           `yaml:"send_burst"`
	MaxAttempts       int           `yaml:"max_attempts"`
}

// ImagesConfig locates the product image bucket
type ImagesConfig struct {
	Bucket        string `yaml:"bucket"`
	PublicBaseURL string `yaml:"public_base_url"`
}

// EventsConfig routes post-commit side effects through an SNS topic. With no topic they run in
// the API process. LambdaWait bounds how long the API Lambda waits for in-process side effects
// after the response is ready.
type EventsConfig struct {
	TopicARN   string        `yaml:"topic_arn"`
	LambdaWait time.Duration `yaml:"lambda_wait"`
}

// DefaultConfig returns a configuration that runs locally with no external services
func DefaultConfig() *Config {
	return &Config{
		Mode:   ModeLocal,
		Tables: "storefront",
		Server: ServerConfig{
			Addr:            ":8080",
			AllowedOrigins:  []string{"http://localhost:3000", "http://localhost:5173"},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Auth: AuthConfig{
			TokenIssuer: "storefront",
			TokenTTL:    7 * 24 * time.Hour,
			SessionTTL:  24 * time.Hour,
		},
		OTP: OTPConfig{
			CodeLength:        6,
			SendsPerMinute:    1,
			SendBurst:         3,
			MaxAttempts:       5,
			Lifetime:          5 * time.Minute,
			RecaptchaMinScore: 0.5,
		},
		Events: EventsConfig{LambdaWait: 2 * time.Second},
		AWS:    *session.DefaultConfig(),
		Limits: protection.DefaultResourceLimits(),
	}
}

// Load reads path (optional) over the defaults, applies environment overrides and validates
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("STOREFRONT_MODE", &c.Mode)
	str("STOREFRONT_ADDR", &c.Server.Addr)
	str("STOREFRONT_PUBLIC_URL", &c.Server.PublicURL)
	str("STOREFRONT_TABLE_PREFIX", &c.Tables)
	str("STOREFRONT_LOG_LEVEL", &c.Log.Level)
	str("STOREFRONT_LOG_FORMAT", &c.Log.Format)
	str("STOREFRONT_TOKEN_SECRET", &c.Auth.TokenSecret)
	str("STOREFRONT_RECAPTCHA_SECRET", &c.OTP.RecaptchaSecret)
	str("STOREFRONT_SMS_SENDER_ID", &c.OTP.SMSSenderID)
	str("STOREFRONT_EMAILJS_SERVICE_ID", &c.Email.ServiceID)
	str("STOREFRONT_EMAILJS_TEMPLATE_ID", &c.Email.TemplateID)
	str("STOREFRONT_EMAILJS_PUBLIC_KEY", &c.Email.PublicKey)
	str("STOREFRONT_IMAGE_BUCKET", &c.Images.Bucket)
	str("STOREFRONT_IMAGE_BASE_URL", &c.Images.PublicBaseURL)
	str("STOREFRONT_EVENTS_TOPIC_ARN", &c.Events.TopicARN)
	str("STOREFRONT_ROLE_ARN", &c.AWS.RoleARN)
	str("AWS_REGION", &c.AWS.Region)
	str("AWS_ENDPOINT_URL", &c.AWS.Endpoint)

	if v, ok := lookup("STOREFRONT_ALLOWED_ORIGINS"); ok && v != "" {
		c.Server.AllowedOrigins = splitList(v)
	}
	for key, dst := range map[string]*bool{
		"STOREFRONT_ATOMIC_STOCK":  &c.Checkout.AtomicStock,
		"STOREFRONT_ENSURE_TABLES": &c.EnsureTables,
	} {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the configuration and fills local-mode defaults
func (c *Config) Validate() error {
	var errs []error
	switch c.Mode {
	case ModeLocal:
		if c.Auth.TokenSecret == "" {
			c.Auth.TokenSecret = localTokenSecret
		}
	case ModeAWS:
		if len(c.Auth.TokenSecret) < 32 {
			errs = append(errs, errors.New("auth.token_secret must be at least 32 bytes in aws mode"))
		}
		if c.Images.Bucket == "" {
			errs = append(errs, errors.New("images.bucket is required in aws mode"))
		}
		if c.AWS.Region == "" {
			errs = append(errs, errors.New("aws.region is required in aws mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("mode must be %q or %q, got %q", ModeLocal, ModeAWS, c.Mode))
	}
	if c.Tables == "" {
		errs = append(errs, errors.New("table_prefix is required"))
	} else if err := store.DefaultTables(c.Tables).Validate(); err != nil {
		errs = append(errs, fmt.Errorf("table_prefix: %w", err))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}
	if c.OTP.CodeLength < 4 || c.OTP.CodeLength > 10 {
		errs = append(errs, fmt.Errorf("otp.code_length must be between 4 and 10, got %d", c.OTP.CodeLength))
	}
	if c.Events.LambdaWait < 0 {
		errs = append(errs, errors.New("events.lambda_wait must not be negative"))
	}
	if c.OTP.MaxAttempts <= 0 {
		errs = append(errs, errors.New("otp.max_attempts must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ModeLocal, cfg.Mode)
	assert.Equal(t, localTokenSecret, cfg.Auth.TokenSecret)
	assert.False(t, cfg.Checkout.AtomicStock)
	assert.Equal(t, 5*time.Minute, cfg.OTP.Lifetime)
}

func TestLoadYAML(t *testing.T) {
	for _, key := range []string{"STOREFRONT_MODE", "STOREFRONT_TABLE_PREFIX", "STOREFRONT_ADDR", "AWS_REGION", "STOREFRONT_ALLOWED_ORIGINS"} {
		t.Setenv(key, "")
	}
	path := filepath.Join(t.TempDir(), "storefront.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode: aws
table_prefix: shop-prod
server:
  addr: ":9000"
  allowed_origins: ["https://shop.example.com"]
auth:
  token_secret: "0123456789abcdef0123456789abcdef"
  token_ttl: 48h
otp:
  lifetime: 10m
  recaptcha_secret: rc
images:
  bucket: shop-images
aws:
  region: eu-west-1
checkout:
  atomic_stock: true
  policy_version: "2026-03"
email:
  service_id: svc
  template_id: tpl
  public_key: pk
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ModeAWS, cfg.Mode)
	assert.Equal(t, "shop-prod", cfg.Tables)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, []string{"https://shop.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 48*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 10*time.Minute, cfg.OTP.Lifetime)
	assert.Equal(t, 6, cfg.OTP.CodeLength)
	assert.Equal(t, "eu-west-1", cfg.AWS.Region)
	assert.Equal(t, 3, cfg.AWS.MaxRetries)
	assert.True(t, cfg.Checkout.AtomicStock)
	assert.Equal(t, "2026-03", cfg.Checkout.PolicyVersion)
	assert.Equal(t, "pk", cfg.Email.PublicKey)
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_MODE":             "aws",
		"STOREFRONT_TOKEN_SECRET":     "0123456789abcdef0123456789abcdef",
		"STOREFRONT_IMAGE_BUCKET":     "bucket",
		"STOREFRONT_ALLOWED_ORIGINS":  "https://a.example.com, https://b.example.com,",
		"STOREFRONT_ATOMIC_STOCK":     "true",
		"AWS_ENDPOINT_URL":            "http://localhost:4566",
		"STOREFRONT_EVENTS_TOPIC_ARN": "arn:aws:sns:us-east-1:123456789012:orders",
	}
	cfg := DefaultConfig()
	require.NoError(t, cfg.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ModeAWS, cfg.Mode)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.AllowedOrigins)
	assert.True(t, cfg.Checkout.AtomicStock)
	assert.Equal(t, "http://localhost:4566", cfg.AWS.Endpoint)
	assert.Equal(t, "arn:aws:sns:us-east-1:123456789012:orders", cfg.Events.TopicARN)
	assert.Equal(t, 2*time.Second, cfg.Events.LambdaWait)
}

func TestEnvBadBool(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.applyEnv(func(k string) (string, bool) {
		if k == "STOREFRONT_ENSURE_TABLES" {
			return "maybe", true
		}
		return "", false
	})
	assert.ErrorContains(t, err, "STOREFRONT_ENSURE_TABLES")
}

func TestValidate(t *testing.T) {
	t.Run("aws mode needs secrets and bucket", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Mode = ModeAWS
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "token_secret")
		assert.Contains(t, err.Error(), "images.bucket")
	})

	t.Run("unknown mode", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Mode = "cloud"
		assert.ErrorContains(t, cfg.Validate(), "mode must be")
	})

	t.Run("bad log format", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Log.Format = "xml"
		assert.ErrorContains(t, cfg.Validate(), "log.format")
	})

	t.Run("table prefix with spaces", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Tables = "my shop"
		assert.ErrorContains(t, cfg.Validate(), "table_prefix")
	})

	t.Run("code length", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.OTP.CodeLength = 2
		assert.ErrorContains(t, cfg.Validate(), "otp.code_length")
	})
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")
}

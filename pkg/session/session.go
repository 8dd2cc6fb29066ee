// Package session provides AWS configuration and the DynamoDB, S3 and SNS clients built from it
package session

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// configLoadFunc is a variable to allow mocking config.LoadDefaultConfig in tests
var configLoadFunc = config.LoadDefaultConfig

// Config holds the AWS settings shared by every storefront client. Endpoint overrides every
// service endpoint (LocalStack, DynamoDB Local). When RoleARN is set it is assumed through STS
// before any client is built.
type Config struct {
	CredentialsProvider aws.CredentialsProvider           `yaml:"-"`
	Region              string                            `yaml:"region"`
	Endpoint            string                            `yaml:"endpoint"`
	RoleARN             string                            `yaml:"role_arn"`
	ExternalID          string                            `yaml:"external_id"`
	AccessKeyID         string                            `yaml:"access_key_id"`
	SecretAccessKey     string                            `yaml:"secret_access_key"`
	AWSConfigOptions    []func(*config.LoadOptions) error `yaml:"-"`
	DynamoDBOptions     []func(*dynamodb.Options)         `yaml:"-"`
	SessionDuration     time.Duration                     `yaml:"session_duration"`
	HTTPTimeout         time.Duration                     `yaml:"http_timeout"`
	MaxRetries          int                               `yaml:"max_retries"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Region:          "us-east-1",
		MaxRetries:      3,
		HTTPTimeout:     30 * time.Second,
		SessionDuration: time.Hour,
	}
}

// IsLambdaEnvironment detects if running in AWS Lambda
func IsLambdaEnvironment() bool {
	return os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""
}

// Session holds the loaded AWS config and the clients built from it
type Session struct {
	config    *Config
	dynamo    *dynamodb.Client
	s3        *s3.Client
	sns       *sns.Client
	awsConfig aws.Config
}

// NewSession loads AWS configuration and builds the clients
func NewSession(ctx context.Context, cfg *Config) (*Session, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	maxAttempts := cfg.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retryMode := aws.RetryModeStandard
	if IsLambdaEnvironment() {
		timeout = min(timeout, 5*time.Second)
		retryMode = aws.RetryModeAdaptive
	}
	httpClient := &http.Client{Timeout: timeout}

	options := make([]func(*config.LoadOptions) error, 0, len(cfg.AWSConfigOptions)+5)
	if cfg.Region != "" {
		options = append(options, config.WithRegion(cfg.Region))
	}
	switch {
	case cfg.CredentialsProvider != nil:
		options = append(options, config.WithCredentialsProvider(cfg.CredentialsProvider))
	case cfg.AccessKeyID != "":
		options = append(options, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	options = append(options,
		config.WithRetryMode(retryMode),
		config.WithRetryMaxAttempts(maxAttempts),
		config.WithHTTPClient(httpClient),
	)
	options = append(options, cfg.AWSConfigOptions...)

	awsConfig, err := configLoadFunc(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if awsConfig.Retryer == nil {
		awsConfig.Retryer = func() aws.Retryer {
			return retry.NewStandard(func(o *retry.StandardOptions) {
				o.MaxAttempts = maxAttempts
			})
		}
	}

	if cfg.RoleARN != "" {
		awsConfig.Credentials = aws.NewCredentialsCache(assumeRoleProvider(awsConfig, cfg))
	}

	dynamoOptions := make([]func(*dynamodb.Options), 0, 1+len(cfg.DynamoDBOptions))
	dynamoOptions = append(dynamoOptions, func(o *dynamodb.Options) {
		o.Region = awsConfig.Region
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if o.HTTPClient == nil {
			o.HTTPClient = httpClient
		}
	})
	dynamoOptions = append(dynamoOptions, cfg.DynamoDBOptions...)

	return &Session{
		config:    cfg,
		awsConfig: awsConfig,
		dynamo:    dynamodb.NewFromConfig(awsConfig, dynamoOptions...),
		s3: s3.NewFromConfig(awsConfig, func(o *s3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
				o.UsePathStyle = true
			}
		}),
		sns: sns.NewFromConfig(awsConfig, func(o *sns.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
		}),
	}, nil
}

func assumeRoleProvider(base aws.Config, cfg *Config) *stscreds.AssumeRoleProvider {
	duration := cfg.SessionDuration
	if duration <= 0 {
		duration = time.Hour
	}
	stsClient := sts.NewFromConfig(base, func(o *sts.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return stscreds.NewAssumeRoleProvider(stsClient, cfg.RoleARN, func(o *stscreds.AssumeRoleOptions) {
		if cfg.ExternalID != "" {
			o.ExternalID = aws.String(cfg.ExternalID)
		}
		o.RoleSessionName = "storefront"
		o.Duration = duration
	})
}

// DynamoDB returns the DynamoDB client
func (s *Session) DynamoDB() *dynamodb.Client {
	return s.dynamo
}

// S3 returns the S3 client
func (s *Session) S3() *s3.Client {
	return s.s3
}

// SNS returns the SNS client
func (s *Session) SNS() *sns.Client {
	return s.sns
}

// Config returns the session configuration
func (s *Session) Config() *Config {
	return s.config
}

// AWSConfig returns the AWS configuration
func (s *Session) AWSConfig() aws.Config {
	return s.awsConfig
}

// Package challenge stores pending one-time-code challenges in DynamoDB.
//
// A challenge is single use: Consume deletes it conditionally, so two concurrent confirmations
// of the same code cannot both succeed. Expired challenges are treated as missing even before
// DynamoDB TTL removes them.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/theory-cloud/storefront/pkg/model"
)

type DynamoDBChallengeAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

type Manager struct {
	client DynamoDBChallengeAPI

	tableName string

	now         func() time.Time
	id          func() string
	lifetime    time.Duration
	ttlBuffer   time.Duration
	maxAttempts int
}

type Option func(*Manager)

const (
	DefaultLifetime    = 5 * time.Minute
	DefaultTTLBuffer   = time.Hour
	DefaultMaxAttempts = 5
)

func WithNow(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithIDGenerator(id func() string) Option {
	return func(m *Manager) {
		if id != nil {
			m.id = id
		}
	}
}

func WithLifetime(lifetime time.Duration) Option {
	return func(m *Manager) {
		if lifetime > 0 {
			m.lifetime = lifetime
		}
	}
}

func WithTTLBuffer(buffer time.Duration) Option {
	return func(m *Manager) {
		m.ttlBuffer = buffer
	}
}

func WithMaxAttempts(attempts int) Option {
	return func(m *Manager) {
		if attempts > 0 {
			m.maxAttempts = attempts
		}
	}
}

func NewManager(client DynamoDBChallengeAPI, tableName string, opts ...Option) (*Manager, error) {
	if client == nil {
		return nil, fmt.Errorf("challenge manager: client is required")
	}
	if tableName == "" {
		return nil, fmt.Errorf("challenge manager: tableName is required")
	}

	m := &Manager{
		client:    client,
		tableName: tableName,

		now:         time.Now,
		id:          uuid.NewString,
		lifetime:    DefaultLifetime,
		ttlBuffer:   DefaultTTLBuffer,
		maxAttempts: DefaultMaxAttempts,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	return m, nil
}

// Issue stores a new challenge for phone holding the bcrypt hash of its code
func (m *Manager) Issue(ctx context.Context, phone, codeHash string) (*model.Challenge, error) {
	if phone == "" || codeHash == "" {
		return nil, fmt.Errorf("challenge manager: phone and code hash are required")
	}

	now := m.now()
	expiresAt := now.Add(m.lifetime)
	ch := &model.Challenge{
		ID:        m.id(),
		Phone:     phone,
		CodeHash:  codeHash,
		ExpiresAt: expiresAt.UTC(),
		TTL:       expiresAt.Add(m.ttlBuffer).Unix(),
	}

	item, err := attributevalue.MarshalMap(ch)
	if err != nil {
		return nil, fmt.Errorf("challenge manager: encode: %w", err)
	}

	_, err = m.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(m.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{
			"#id": "id",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("challenge manager: issue failed: %w", err)
	}
	return ch, nil
}

// Get returns a live challenge. Missing and expired challenges yield NotFoundError.
func (m *Manager) Get(ctx context.Context, id string) (*model.Challenge, error) {
	if id == "" {
		return nil, &NotFoundError{ID: id}
	}

	resp, err := m.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(m.tableName),
		Key:            key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("challenge manager: get failed: %w", err)
	}
	if len(resp.Item) == 0 {
		return nil, &NotFoundError{ID: id}
	}

	var ch model.Challenge
	if err := attributevalue.UnmarshalMap(resp.Item, &ch); err != nil {
		return nil, fmt.Errorf("challenge manager: decode: %w", err)
	}
	if !m.now().Before(ch.ExpiresAt) {
		return nil, &NotFoundError{ID: id}
	}
	return &ch, nil
}

// RecordFailure counts a wrong code against the challenge and returns the new attempt count.
// Once the cap is reached the challenge is deleted and AttemptsExhaustedError is returned.
func (m *Manager) RecordFailure(ctx context.Context, id string) (int, error) {
	resp, err := m.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(m.tableName),
		Key:                 key(id),
		UpdateExpression:    aws.String("ADD #attempts :one"),
		ConditionExpression: aws.String("attribute_exists(#id) AND #attempts < :max"),
		ExpressionAttributeNames: map[string]string{
			"#id":       "id",
			"#attempts": "attempts",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
			":max": &types.AttributeValueMemberN{Value: strconv.Itoa(m.maxAttempts)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			m.Revoke(ctx, id)
			return m.maxAttempts, &AttemptsExhaustedError{ID: id}
		}
		return 0, fmt.Errorf("challenge manager: record failure failed: %w", err)
	}

	attempts := 0
	if av, ok := resp.Attributes["attempts"].(*types.AttributeValueMemberN); ok {
		attempts, _ = strconv.Atoi(av.Value)
	}
	if attempts >= m.maxAttempts {
		m.Revoke(ctx, id)
		return attempts, &AttemptsExhaustedError{ID: id}
	}
	return attempts, nil
}

// Consume deletes a challenge after a successful confirmation. Only one caller wins.
func (m *Manager) Consume(ctx context.Context, id string) error {
	_, err := m.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(m.tableName),
		Key:                 key(id),
		ConditionExpression: aws.String("attribute_exists(#id)"),
		ExpressionAttributeNames: map[string]string{
			"#id": "id",
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return &NotFoundError{ID: id}
		}
		return fmt.Errorf("challenge manager: consume failed: %w", err)
	}
	return nil
}

// Revoke deletes a challenge if it still exists. Failures are ignored; TTL reclaims leftovers.
func (m *Manager) Revoke(ctx context.Context, id string) {
	if id == "" {
		return
	}
	_, _ = m.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(m.tableName),
		Key:       key(id),
	})
}

func key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	}
}

func isConditionalCheckFailed(err error) bool {
	var cfe *types.ConditionalCheckFailedException
	return errors.As(err, &cfe)
}

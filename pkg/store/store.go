// Package store persists storefront documents in DynamoDB.
//
// Every method maps SDK failures onto serrors.PersistenceError so callers can branch on
// ErrNotFound, ErrConditionFailed, ErrAccessDenied and ErrThrottled without importing the SDK.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	serrors "github.com/theory-cloud/storefront/pkg/errors"
	"github.com/theory-cloud/storefront/pkg/interfaces"
	"github.com/theory-cloud/storefront/pkg/validation"
)

// Index names
const (
	OrdersByUserIndex    = "user-index"
	ProfilesByPhoneIndex = "phone-index"
	ProfilesByEmailIndex = "email-index"
)

// Tables names the DynamoDB table backing each collection
type Tables struct {
	Orders     string
	Products   string
	Categories string
	Settings   string
	Profiles   string
	Sessions   string
	Challenges string
}

// DefaultTables returns the table names for prefix, e.g. "storefront-orders"
func DefaultTables(prefix string) Tables {
	name := func(collection string) string {
		if prefix == "" {
			return collection
		}
		return prefix + "-" + collection
	}
	return Tables{
		Orders:     name("orders"),
		Products:   name("products"),
		Categories: name("categories"),
		Settings:   name("settings"),
		Profiles:   name("profiles"),
		Sessions:   name("checkout_sessions"),
		Challenges: name("phone_challenges"),
	}
}

// Validate checks every table and index name against the DynamoDB naming rules
func (t Tables) Validate() error {
	var errs []error
	for _, name := range []string{t.Orders, t.Products, t.Categories, t.Settings, t.Profiles, t.Sessions, t.Challenges} {
		if err := validation.TableName(name); err != nil {
			errs = append(errs, err)
		}
	}
	for _, name := range []string{OrdersByUserIndex, ProfilesByPhoneIndex, ProfilesByEmailIndex} {
		if err := validation.IndexName(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DB is the DynamoDB-backed document store
type DB struct {
	client interfaces.DynamoDBAPI
	now    func() time.Time
	tables Tables
}

// Option configures a DB
type Option func(*DB)

// WithNow overrides the clock used for updated_at stamps
func WithNow(now func() time.Time) Option {
	return func(db *DB) {
		if now != nil {
			db.now = now
		}
	}
}

// New creates a DB over client
func New(client interfaces.DynamoDBAPI, tables Tables, opts ...Option) *DB {
	db := &DB{client: client, tables: tables, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(db)
		}
	}
	return db
}

// Tables returns the configured table names
func (db *DB) Tables() Tables {
	return db.tables
}

// Client returns the underlying DynamoDB client
func (db *DB) Client() interfaces.DynamoDBAPI {
	return db.client
}

func (db *DB) getItem(ctx context.Context, op, table string, key map[string]types.AttributeValue, out any) error {
	resp, err := db.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(table),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return wrapError(op, table, err)
	}
	if len(resp.Item) == 0 {
		return serrors.NewPersistenceError(op, table, serrors.ErrNotFound)
	}
	if err := attributevalue.UnmarshalMap(resp.Item, out); err != nil {
		return serrors.NewPersistenceError(op, table, fmt.Errorf("decode item: %w", err))
	}
	return nil
}

func (db *DB) putItem(ctx context.Context, op, table string, doc any, condition string) error {
	item, err := attributevalue.MarshalMap(doc)
	if err != nil {
		return serrors.NewPersistenceError(op, table, fmt.Errorf("encode item: %w", err))
	}
	input := &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item:      item,
	}
	if condition != "" {
		input.ConditionExpression = aws.String(condition)
	}
	if _, err := db.client.PutItem(ctx, input); err != nil {
		return wrapError(op, table, err)
	}
	return nil
}

func scanAll[T any](ctx context.Context, db *DB, op string, input *dynamodb.ScanInput) ([]T, error) {
	table := aws.ToString(input.TableName)
	var out []T
	paginator := dynamodb.NewScanPaginator(db.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, wrapError(op, table, err)
		}
		var batch []T
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, serrors.NewPersistenceError(op, table, fmt.Errorf("decode items: %w", err))
		}
		out = append(out, batch...)
	}
	return out, nil
}

func queryAll[T any](ctx context.Context, db *DB, op string, input *dynamodb.QueryInput) ([]T, error) {
	table := aws.ToString(input.TableName)
	var out []T
	paginator := dynamodb.NewQueryPaginator(db.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, wrapError(op, table, err)
		}
		var batch []T
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, serrors.NewPersistenceError(op, table, fmt.Errorf("decode items: %w", err))
		}
		out = append(out, batch...)
	}
	return out, nil
}

func stringKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	}
}

// wrapError classifies an SDK error and wraps it in a PersistenceError
func wrapError(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	if isConditionalCheckFailed(err) {
		return serrors.NewPersistenceError(op, collection, fmt.Errorf("%w: %w", serrors.ErrConditionFailed, err))
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDeniedException", "UnrecognizedClientException", "MissingAuthenticationTokenException":
			return serrors.NewPersistenceError(op, collection, fmt.Errorf("%w: %w", serrors.ErrAccessDenied, err))
		case "ProvisionedThroughputExceededException", "ThrottlingException", "RequestLimitExceeded":
			return serrors.NewPersistenceError(op, collection, fmt.Errorf("%w: %w", serrors.ErrThrottled, err))
		case "ResourceNotFoundException":
			return serrors.NewPersistenceError(op, collection, fmt.Errorf("table missing: %w", err))
		}
	}
	return serrors.NewPersistenceError(op, collection, err)
}

func isConditionalCheckFailed(err error) bool {
	var cfe *types.ConditionalCheckFailedException
	if errors.As(err, &cfe) {
		return true
	}
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		for _, reason := range tce.CancellationReasons {
			if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
				return true
			}
		}
	}
	return false
}

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const ttlAttribute = "ttl"

type tableSpec struct {
	name    string
	indexes []types.GlobalSecondaryIndex
	attrs   []types.AttributeDefinition
	ttl     bool
}

func stringAttr(name string) types.AttributeDefinition {
	return types.AttributeDefinition{AttributeName: aws.String(name), AttributeType: types.ScalarAttributeTypeS}
}

func gsi(name, hash, rng string) types.GlobalSecondaryIndex {
	schema := []types.KeySchemaElement{{AttributeName: aws.String(hash), KeyType: types.KeyTypeHash}}
	if rng != "" {
		schema = append(schema, types.KeySchemaElement{AttributeName: aws.String(rng), KeyType: types.KeyTypeRange})
	}
	return types.GlobalSecondaryIndex{
		IndexName:  aws.String(name),
		KeySchema:  schema,
		Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
	}
}

func (db *DB) tableSpecs() []tableSpec {
	t := db.tables
	return []tableSpec{
		{
			name:    t.Orders,
			attrs:   []types.AttributeDefinition{stringAttr("user_id"), stringAttr("created_at")},
			indexes: []types.GlobalSecondaryIndex{gsi(OrdersByUserIndex, "user_id", "created_at")},
		},
		{name: t.Products},
		{name: t.Categories},
		{name: t.Settings},
		{
			name:  t.Profiles,
			attrs: []types.AttributeDefinition{stringAttr("phone"), stringAttr("email")},
			indexes: []types.GlobalSecondaryIndex{
				gsi(ProfilesByPhoneIndex, "phone", ""),
				gsi(ProfilesByEmailIndex, "email", ""),
			},
		},
		{name: t.Sessions, ttl: true},
		{name: t.Challenges, ttl: true},
	}
}

// EnsureTables creates any missing table with on-demand billing and enables TTL on the
// session and challenge tables. Intended for local development against DynamoDB Local.
func (db *DB) EnsureTables(ctx context.Context) error {
	if err := db.tables.Validate(); err != nil {
		return err
	}
	for _, spec := range db.tableSpecs() {
		input := &dynamodb.CreateTableInput{
			TableName:            aws.String(spec.name),
			BillingMode:          types.BillingModePayPerRequest,
			AttributeDefinitions: append([]types.AttributeDefinition{stringAttr("id")}, spec.attrs...),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("id"), KeyType: types.KeyTypeHash},
			},
		}
		if len(spec.indexes) > 0 {
			input.GlobalSecondaryIndexes = spec.indexes
		}

		if _, err := db.client.CreateTable(ctx, input); err != nil {
			if isTableExistsError(err) {
				continue
			}
			return fmt.Errorf("failed to create table %s: %w", spec.name, err)
		}

		if spec.ttl {
			_, err := db.client.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
				TableName: aws.String(spec.name),
				TimeToLiveSpecification: &types.TimeToLiveSpecification{
					AttributeName: aws.String(ttlAttribute),
					Enabled:       aws.Bool(true),
				},
			})
			if err != nil {
				return fmt.Errorf("failed to enable ttl on %s: %w", spec.name, err)
			}
		}
	}
	return nil
}

// isTableExistsError checks if the error is due to table already existing
func isTableExistsError(err error) bool {
	var inUse *types.ResourceInUseException
	return errors.As(err, &inUse)
}

package store

import (
	"context"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/theory-cloud/storefront/pkg/model"
)

// GetProduct reads one product
func (db *DB) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	var product model.Product
	if err := db.getItem(ctx, "GetProduct", db.tables.Products, stringKey(id), &product); err != nil {
		return nil, err
	}
	return &product, nil
}

// ListProducts returns the catalog sorted by creation time, newest first.
// A non-empty categoryID restricts the listing to that category.
func (db *DB) ListProducts(ctx context.Context, categoryID string) ([]model.Product, error) {
	input := &dynamodb.ScanInput{
		TableName: aws.String(db.tables.Products),
	}
	if categoryID != "" {
		input.FilterExpression = aws.String("#category_id = :category_id")
		input.ExpressionAttributeNames = map[string]string{"#category_id": "category_id"}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":category_id": &types.AttributeValueMemberS{Value: categoryID},
		}
	}
	products, err := scanAll[model.Product](ctx, db, "ListProducts", input)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(products, func(i, j int) bool {
		return products[i].CreatedAt.After(products[j].CreatedAt)
	})
	return products, nil
}

// PutProduct creates or replaces a product. CreatedAt is kept when already set.
func (db *DB) PutProduct(ctx context.Context, product *model.Product) error {
	now := db.now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now
	if product.Images == nil {
		product.Images = []string{}
	}
	return db.putItem(ctx, "PutProduct", db.tables.Products, product, "")
}

// AddProductImage appends an image URL to an existing product
func (db *DB) AddProductImage(ctx context.Context, id, url string) error {
	_, err := db.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(db.tables.Products),
		Key:                 stringKey(id),
		UpdateExpression:    aws.String("SET #images = list_append(if_not_exists(#images, :empty), :url), #updated_at = :now"),
		ConditionExpression: aws.String("attribute_exists(id)"),
		ExpressionAttributeNames: map[string]string{
			"#images":     "images",
			"#updated_at": "updated_at",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":url":   &types.AttributeValueMemberL{Value: []types.AttributeValue{&types.AttributeValueMemberS{Value: url}}},
			":empty": &types.AttributeValueMemberL{Value: []types.AttributeValue{}},
			":now":   &types.AttributeValueMemberS{Value: db.now().UTC().Format(timeLayout)},
		},
	})
	return wrapError("AddProductImage", db.tables.Products, err)
}

// AdjustStock atomically adds delta to a product's stock counter. The counter is not floored
// at zero: concurrent orders may oversell.
func (db *DB) AdjustStock(ctx context.Context, productID string, delta int) error {
	_, err := db.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(db.tables.Products),
		Key:                 stringKey(productID),
		UpdateExpression:    aws.String("ADD #stock :delta"),
		ConditionExpression: aws.String("attribute_exists(id)"),
		ExpressionAttributeNames: map[string]string{
			"#stock": "stock",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":delta": &types.AttributeValueMemberN{Value: strconv.Itoa(delta)},
		},
	})
	return wrapError("AdjustStock", db.tables.Products, err)
}

// ListCategories returns every category sorted by id
func (db *DB) ListCategories(ctx context.Context) ([]model.Category, error) {
	categories, err := scanAll[model.Category](ctx, db, "ListCategories", &dynamodb.ScanInput{
		TableName: aws.String(db.tables.Categories),
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i].ID < categories[j].ID })
	return categories, nil
}

// PutCategory creates or replaces a category
func (db *DB) PutCategory(ctx context.Context, category *model.Category) error {
	return db.putItem(ctx, "PutCategory", db.tables.Categories, category, "")
}

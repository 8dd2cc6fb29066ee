package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	serrors "github.com/theory-cloud/storefront/pkg/errors"
	"github.com/theory-cloud/storefront/pkg/model"
)

// CreateOrder writes a new order. An order with the same id is never overwritten.
func (db *DB) CreateOrder(ctx context.Context, order *model.Order) error {
	return db.putItem(ctx, "CreateOrder", db.tables.Orders, order, "attribute_not_exists(id)")
}

// CreateOrderWithStock writes the order and decrements stock for every line in a single
// transaction. Lines for the same product are combined first since a transaction may touch
// each item only once.
func (db *DB) CreateOrderWithStock(ctx context.Context, order *model.Order) error {
	item, err := attributevalue.MarshalMap(order)
	if err != nil {
		return serrors.NewPersistenceError("CreateOrderWithStock", db.tables.Orders, fmt.Errorf("encode item: %w", err))
	}

	items := []types.TransactWriteItem{{
		Put: &types.Put{
			TableName:           aws.String(db.tables.Orders),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(id)"),
		},
	}}

	for _, delta := range StockDeltas(order.Items) {
		items = append(items, types.TransactWriteItem{
			Update: &types.Update{
				TableName:           aws.String(db.tables.Products),
				Key:                 stringKey(delta.ProductID),
				UpdateExpression:    aws.String("ADD #stock :delta"),
				ConditionExpression: aws.String("attribute_exists(id)"),
				ExpressionAttributeNames: map[string]string{
					"#stock": "stock",
				},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":delta": &types.AttributeValueMemberN{Value: strconv.Itoa(-delta.Quantity)},
				},
			},
		})
	}

	_, err = db.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems:      items,
		ClientRequestToken: aws.String(order.ID),
	})
	if err != nil {
		return wrapError("CreateOrderWithStock", db.tables.Orders, err)
	}
	return nil
}

// StockDelta is the number of units of one product taken by an order
type StockDelta struct {
	ProductID string
	Quantity  int
}

// StockDeltas totals order lines per product, in first-seen order
func StockDeltas(items []model.OrderItem) []StockDelta {
	var deltas []StockDelta
	index := make(map[string]int)
	for _, item := range items {
		if i, ok := index[item.ProductID]; ok {
			deltas[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(deltas)
		deltas = append(deltas, StockDelta{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return deltas
}

// GetOrder reads one order
func (db *DB) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	var order model.Order
	if err := db.getItem(ctx, "GetOrder", db.tables.Orders, stringKey(id), &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrdersByUser returns a user's orders, newest first
func (db *DB) ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	return queryAll[model.Order](ctx, db, "ListOrdersByUser", &dynamodb.QueryInput{
		TableName:              aws.String(db.tables.Orders),
		IndexName:              aws.String(OrdersByUserIndex),
		KeyConditionExpression: aws.String("#user_id = :user_id"),
		ExpressionAttributeNames: map[string]string{
			"#user_id": "user_id",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":user_id": &types.AttributeValueMemberS{Value: userID},
		},
		ScanIndexForward: aws.Bool(false),
	})
}

// ListOrders returns every order, newest first
func (db *DB) ListOrders(ctx context.Context) ([]model.Order, error) {
	orders, err := scanAll[model.Order](ctx, db, "ListOrders", &dynamodb.ScanInput{
		TableName: aws.String(db.tables.Orders),
	})
	if err != nil {
		return nil, err
	}
	SortOrdersNewestFirst(orders)
	return orders, nil
}

// SortOrdersNewestFirst sorts orders by creation time, newest first
func SortOrdersNewestFirst(orders []model.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
}

// UpdateOrderStatus moves an order from one status to another. The write is conditioned on
// the order still being in from, so concurrent administrators cannot skip a step.
func (db *DB) UpdateOrderStatus(ctx context.Context, id string, from, to model.OrderStatus) error {
	_, err := db.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(db.tables.Orders),
		Key:                 stringKey(id),
		UpdateExpression:    aws.String("SET #status = :to"),
		ConditionExpression: aws.String("attribute_exists(id) AND #status = :from"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":from": &types.AttributeValueMemberS{Value: string(from)},
			":to":   &types.AttributeValueMemberS{Value: string(to)},
		},
	})
	return wrapError("UpdateOrderStatus", db.tables.Orders, err)
}

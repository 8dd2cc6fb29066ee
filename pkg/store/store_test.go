package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	serrors "github.com/theory-cloud/storefront/pkg/errors"
	"github.com/theory-cloud/storefront/pkg/mocks"
	"github.com/theory-cloud/storefront/pkg/model"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestDB(client *mocks.MockDynamoDBClient) *DB {
	return New(client, DefaultTables("test"), WithNow(func() time.Time { return fixedNow }))
}

func sampleOrder() *model.Order {
	return &model.Order{
		ID:            "o-1",
		UserID:        model.GuestUserID,
		Status:        model.OrderStatusPending,
		PaymentMethod: model.PaymentMethodCashOnDelivery,
		CreatedAt:     fixedNow,
		Customer:      model.CustomerInfo{Name: "Mona", Phone: "+15551234567", Region: "Texas", Address: "1 Main St"},
		Items: []model.OrderItem{
			{ProductID: "p1", Name: "Abaya", Price: 45, Quantity: 2},
			{ProductID: "p2", Name: "Scarf", Price: 10, Quantity: 1},
			{ProductID: "p1", Name: "Abaya", Color: "Black", Price: 45, Quantity: 1},
		},
		TotalPrice:  150,
		ShippingFee: 15,
	}
}

func TestDefaultTables(t *testing.T) {
	tables := DefaultTables("shop")
	assert.Equal(t, "shop-orders", tables.Orders)
	assert.Equal(t, "shop-checkout_sessions", tables.Sessions)
	assert.Equal(t, "profiles", DefaultTables("").Profiles)
	assert.NoError(t, tables.Validate())
}

func TestTablesValidate(t *testing.T) {
	tables := DefaultTables("shop prod")
	err := tables.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shop prod-orders")
}

func TestCreateOrder(t *testing.T) {
	client := new(mocks.MockDynamoDBClient)
	db := newTestDB(client)

	client.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		if aws.ToString(in.TableName) != "test-orders" || aws.ToString(in.ConditionExpression) != "attribute_not_exists(id)" {
			return false
		}
		var decoded model.Order
		if err := attributevalue.UnmarshalMap(in.Item, &decoded); err != nil {
			return false
		}
		return decoded.ID == "o-1" && decoded.Status == model.OrderStatusPending && len(decoded.Items) == 3
	}), mock.Anything).Return(&dynamodb.PutItemOutput{}, nil).Once()

	require.NoError(t, db.CreateOrder(context.Background(), sampleOrder()))
	client.AssertExpectations(t)
}

func TestCreateOrderMapsErrors(t *testing.T) {
	tests := []struct {
		err      error
		sentinel error
		name     string
	}{
		{name: "duplicate id", err: mocks.NewConditionalCheckFailed(), sentinel: serrors.ErrConditionFailed},
		{name: "access denied", err: &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "no"}, sentinel: serrors.ErrAccessDenied},
		{name: "throttled", err: &types.ProvisionedThroughputExceededException{Message: aws.String("slow down")}, sentinel: serrors.ErrThrottled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := new(mocks.MockDynamoDBClient)
			db := newTestDB(client)
			client.On("PutItem", mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.err)

			err := db.CreateOrder(context.Background(), sampleOrder())

			pe, ok := serrors.AsPersistence(err)
			require.True(t, ok)
			assert.Equal(t, "CreateOrder", pe.Op)
			assert.Equal(t, "test-orders", pe.Collection)
			assert.True(t, errors.Is(err, tt.sentinel))
		})
	}

	t.Run("unclassified", func(t *testing.T) {
		client := new(mocks.MockDynamoDBClient)
		db := newTestDB(client)
		client.On("PutItem", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("dial tcp: timeout"))

		err := db.CreateOrder(context.Background(), sampleOrder())
		assert.True(t, serrors.IsPersistence(err))
		assert.False(t, serrors.IsConditionFailed(err))
	})
}

func TestCreateOrderWithStockCombinesLines(t *testing.T) {
	client := new(mocks.MockDynamoDBClient)
	db := newTestDB(client)

	var captured *dynamodb.TransactWriteItemsInput
	client.On("TransactWriteItems", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			captured = args.Get(1).(*dynamodb.TransactWriteItemsInput)
		}).
		Return(&dynamodb.TransactWriteItemsOutput{}, nil)

	require.NoError(t, db.CreateOrderWithStock(context.Background(), sampleOrder()))
	require.NotNil(t, captured)
	require.Len(t, captured.TransactItems, 3)
	assert.NotNil(t, captured.TransactItems[0].Put)

	p1 := captured.TransactItems[1].Update
	require.NotNil(t, p1)
	assert.Equal(t, "test-products", aws.ToString(p1.TableName))
	assert.Equal(t, &types.AttributeValueMemberN{Value: "-3"}, p1.ExpressionAttributeValues[":delta"])
	assert.Equal(t, &types.AttributeValueMemberS{Value: "p1"}, p1.Key["id"])

	p2 := captured.TransactItems[2].Update
	assert.Equal(t, &types.AttributeValueMemberN{Value: "-1"}, p2.ExpressionAttributeValues[":delta"])
}

func TestCreateOrderWithStockCancelled(t *testing.T) {
	client := new(mocks.MockDynamoDBClient)
	db := newTestDB(client)

	client.On("TransactWriteItems", mock.Anything, mock.Anything, mock.Anything).Return(nil, &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{{Code: aws.String("None")}, {Code: aws.String("ConditionalCheckFailed")}},
	})

	err := db.CreateOrderWithStock(context.Background(), sampleOrder())
	assert.True(t, serrors.IsConditionFailed(err))
}

func TestGetOrderNotFound(t *testing.T) {
	client := new(mocks.MockDynamoDBClient)
	db := newTestDB(client)
	client.On("GetItem", mock.Anything, mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil)

	_, err := db.GetOrder(context.Background(), "missing")
	assert.True(t, serrors.IsNotFound(err))
}

func TestGetOrder(t *testing.T) {
	client := new(mocks.MockDynamoDBClient)
	db := newTestDB(client)

	item, err := attributevalue.MarshalMap(sampleOrder())
	require.NoError(t, err)
	client.On("GetItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.GetItemInput) bool {
		return aws.ToBool(in.ConsistentRead) && in.Key["id"].(*types.AttributeValueMemberS).Value == "o-1"
	}), mock.Anything).Return(&dynamodb.GetItemOutput{Item: item}, nil)

	order, err := db.GetOrder(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Equal(t, "Mona", order.Customer.Name)
	assert.True(t, order.CreatedAt.Equal(fixedNow))
}

func TestListOrdersByUserQueriesIndex(t *testing.T) {
	client := new(mocks.MockDynamoDBClient)
	db := newTestDB(client)

	first := sampleOrder()
	first.UserID = "u-1"
	item, err := attributevalue.MarshalMap(first)
	require.NoError(t, err)

	client.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return aws.ToString(in.IndexName) == OrdersByUserIndex && !aws.ToBool(in.ScanIndexForward)
	}), mock.Anything).Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{item}}, nil)

	orders, err := db.ListOrdersByUser(context.Background(), "u-1")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "u-1", orders[0].UserID)
}

func TestListOrdersPaginatesAndSorts(t *testing.T) {
	client := new(mocks.MockDynamoDBClient)
	db := newTestDB(client)

	older := sampleOrder()
	older.ID = "old"
	older.CreatedAt = fixedNow.Add(-time.Hour)
	newer := sampleOrder()
	newer.ID = "new"

	olderItem, _ := attributevalue.MarshalMap(older)
	newerItem, _ := attributevalue.MarshalMap(newer)
	lastKey := map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: "old"}}

	client.On("Scan", mock.Anything, mock.MatchedBy(func(in *dynamodb.ScanInput) bool {
		return in.ExclusiveStartKey == nil
	}), mock.Anything).Return(&dynamodb.ScanOutput{Items: []map[string]types.AttributeValue{olderItem}, LastEvaluatedKey: lastKey}, nil).Once()
	client.On("Scan", mock.Anything, mock.MatchedBy(func(in *dynamodb.ScanInput) bool {
		return in.ExclusiveStartKey != nil
	}), mock.Anything).Return(&dynamodb.ScanOutput{Items: []map[string]types.AttributeValue{newerItem}}, nil).Once()

	orders, err := db.ListOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "new", orders[0].ID)
	assert.Equal(t, "old", orders[1].ID)
	client.AssertExpectations(t)
}

func TestUpdateOrderStatusIsConditional(t *testing.T) {
	client := new(mocks.MockDynamoDBClient)
	db := newTestDB(client)

	client.On("UpdateItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
		from := in.ExpressionAttributeValues[":from"].(*types.AttributeValueMemberS).Value
		to := in.ExpressionAttributeValues[":to"].(*types.AttributeValueMemberS).Value
		return from == "pending" && to == "processing"
	}), mock.Anything).Return(nil, mocks.NewConditionalCheckFailed())

	err := db.UpdateOrderStatus(context.Background(), "o-1", model.OrderStatusPending, model.OrderStatusProcessing)
	assert.True(t, serrors.IsConditionFailed(err))
}

func TestAdjustStock(t *testing.T) {
	client := new(mocks.MockDynamoDBClient)
	db := newTestDB(client)

	client.On("UpdateItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
		return aws.ToString(in.UpdateExpression) == "ADD #stock :delta" &&
			in.ExpressionAttributeValues[":delta"].(*types.AttributeValueMemberN).Value == "-2"
	}), mock.Anything).Return(&dynamodb.UpdateItemOutput{}, nil)

	require.NoError(t, db.AdjustStock(context.Background(), "p1", -2))
	client.AssertExpectations(t)
}

func TestPutProductStampsTimes(t *testing.T) {
	client := new(mocks.MockDynamoDBClient)
	db := newTestDB(client)
	client.On("PutItem", mock.Anything, mock.Anything, mock.Anything).Return(&dynamodb.PutItemOutput{}, nil)

	p := &model.Product{ID: "p1", Price: 10}
	require.NoError(t, db.PutProduct(context.Background(), p))

	assert.True(t, p.CreatedAt.Equal(fixedNow))
	assert.True(t, p.UpdatedAt.Equal(fixedNow))
	assert.NotNil(t, p.Images)
}

func TestShippingRatesRoundTrip(t *testing.T) {
	client := new(mocks.MockDynamoDBClient)
	db := newTestDB(client)

	var stored map[string]types.AttributeValue
	client.On("PutItem", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			stored = args.Get(1).(*dynamodb.PutItemInput).Item
		}).
		Return(&dynamodb.PutItemOutput{}, nil)

	require.NoError(t, db.PutShippingRates(context.Background(), model.ShippingRateTable{"Texas": 15}))
	assert.Equal(t, &types.AttributeValueMemberS{Value: model.ShippingSettingsID}, stored["id"])

	client.On("GetItem", mock.Anything, mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{Item: stored}, nil)
	table, err := db.GetShippingRates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 15.0, table["Texas"])
}

func TestFindVerifiedProfileByPhoneFilters(t *testing.T) {
	client := new(mocks.MockDynamoDBClient)
	db := newTestDB(client)

	client.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		verified, ok := in.ExpressionAttributeValues[":verified"].(*types.AttributeValueMemberBOOL)
		return aws.ToString(in.IndexName) == ProfilesByPhoneIndex &&
			aws.ToString(in.FilterExpression) == "#verified = :verified" &&
			in.ExpressionAttributeNames["#verified"] == "phone_verified" &&
			ok && verified.Value
	}), mock.Anything).Return(&dynamodb.QueryOutput{}, nil)

	_, err := db.FindVerifiedProfileByPhone(context.Background(), "+15551234567")
	assert.True(t, serrors.IsNotFound(err))
	client.AssertExpectations(t)
}

func TestFindProfileByEmailLowercases(t *testing.T) {
	client := new(mocks.MockDynamoDBClient)
	db := newTestDB(client)

	client.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return aws.ToString(in.IndexName) == ProfilesByEmailIndex &&
			in.ExpressionAttributeValues[":value"].(*types.AttributeValueMemberS).Value == "mona@example.com"
	}), mock.Anything).Return(&dynamodb.QueryOutput{}, nil)

	_, err := db.FindProfileByEmail(context.Background(), "Mona@Example.com")
	assert.True(t, serrors.IsNotFound(err))
}

func TestGetGateTreatsExpiredAsMissing(t *testing.T) {
	client := new(mocks.MockDynamoDBClient)
	db := newTestDB(client)

	item, err := attributevalue.MarshalMap(&model.GateSnapshot{ID: "s-1", State: model.GateVerified, TTL: fixedNow.Add(-time.Minute).Unix()})
	require.NoError(t, err)
	client.On("GetItem", mock.Anything, mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{Item: item}, nil)

	_, err = db.GetGate(context.Background(), "s-1")
	assert.True(t, serrors.IsNotFound(err))
}

func TestEnsureTables(t *testing.T) {
	client := new(mocks.MockDynamoDBClient)
	db := newTestDB(client)

	client.On("CreateTable", mock.Anything, mock.MatchedBy(func(in *dynamodb.CreateTableInput) bool {
		return aws.ToString(in.TableName) == "test-products"
	}), mock.Anything).Return(nil, &types.ResourceInUseException{Message: aws.String("exists")})
	client.On("CreateTable", mock.Anything, mock.Anything, mock.Anything).
		Return(mocks.NewMockCreateTableOutput("any"), nil)
	client.On("UpdateTimeToLive", mock.Anything, mock.Anything, mock.Anything).
		Return(&dynamodb.UpdateTimeToLiveOutput{}, nil)

	require.NoError(t, db.EnsureTables(context.Background()))
	client.AssertNumberOfCalls(t, "CreateTable", 7)
	client.AssertNumberOfCalls(t, "UpdateTimeToLive", 2)
}

func TestStockDeltas(t *testing.T) {
	deltas := StockDeltas(sampleOrder().Items)
	assert.Equal(t, []StockDelta{{ProductID: "p1", Quantity: 3}, {ProductID: "p2", Quantity: 1}}, deltas)
}

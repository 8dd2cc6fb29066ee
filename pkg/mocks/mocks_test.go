package mocks_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/theory-cloud/storefront/pkg/interfaces"
	"github.com/theory-cloud/storefront/pkg/mocks"
)

var (
	_ interfaces.DynamoDBAPI = (*mocks.MockDynamoDBClient)(nil)
	_ interfaces.S3API       = (*mocks.MockS3Client)(nil)
	_ interfaces.SNSAPI      = (*mocks.MockSNSClient)(nil)
)

func TestMockDynamoDBClientCreateTable(t *testing.T) {
	mockClient := new(mocks.MockDynamoDBClient)
	ctx := context.Background()

	input := &dynamodb.CreateTableInput{TableName: aws.String("orders")}
	mockClient.On("CreateTable", ctx, input, mock.Anything).Return(mocks.NewMockCreateTableOutput("orders"), nil)

	result, err := mockClient.CreateTable(ctx, input)

	require.NoError(t, err)
	assert.Equal(t, "orders", *result.TableDescription.TableName)
	assert.Equal(t, types.TableStatusCreating, result.TableDescription.TableStatus)
	mockClient.AssertExpectations(t)
}

func TestMockDynamoDBClientNilOutput(t *testing.T) {
	mockClient := new(mocks.MockDynamoDBClient)
	mockClient.On("PutItem", mock.Anything, mock.Anything, mock.Anything).Return(nil, mocks.NewConditionalCheckFailed())

	result, err := mockClient.PutItem(context.Background(), &dynamodb.PutItemInput{})

	assert.Nil(t, result)
	var ccf *types.ConditionalCheckFailedException
	assert.True(t, errors.As(err, &ccf))
}

func TestMockDynamoDBClientWrongTypePanics(t *testing.T) {
	mockClient := new(mocks.MockDynamoDBClient)
	mockClient.On("GetItem", mock.Anything, mock.Anything, mock.Anything).Return(&dynamodb.PutItemOutput{}, nil)

	assert.Panics(t, func() {
		_, _ = mockClient.GetItem(context.Background(), &dynamodb.GetItemInput{})
	})
}

func TestMockSNSClientPublish(t *testing.T) {
	snsMock := new(mocks.MockSNSClient)
	snsMock.On("Publish", mock.Anything, mock.Anything, mock.Anything).
		Return(&sns.PublishOutput{MessageId: aws.String("m-1")}, nil)

	out, err := snsMock.Publish(context.Background(), &sns.PublishInput{PhoneNumber: aws.String("+15551234567")})

	require.NoError(t, err)
	assert.Equal(t, "m-1", aws.ToString(out.MessageId))
	snsMock.AssertExpectations(t)
}

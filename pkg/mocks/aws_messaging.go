package mocks

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/mock"
)

// MockS3Client provides a mock implementation of interfaces.S3API.
type MockS3Client struct {
	mock.Mock
}

// PutObject mocks the S3 PutObject operation
func (m *MockS3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, params, optFns)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	output, ok := args.Get(0).(*s3.PutObjectOutput)
	if !ok {
		panic("unexpected type: expected *s3.PutObjectOutput")
	}
	return output, args.Error(1)
}

// MockSNSClient provides a mock implementation of interfaces.SNSAPI.
//
// Example usage:
//
//	snsMock := new(mocks.MockSNSClient)
//	snsMock.On("Publish", mock.Anything, mock.Anything, mock.Anything).
//	  Return(&sns.PublishOutput{MessageId: aws.String("m-1")}, nil)
type MockSNSClient struct {
	mock.Mock
}

// Publish mocks the SNS Publish operation
func (m *MockSNSClient) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	args := m.Called(ctx, params, optFns)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	output, ok := args.Get(0).(*sns.PublishOutput)
	if !ok {
		panic("unexpected type: expected *sns.PublishOutput")
	}
	return output, args.Error(1)
}

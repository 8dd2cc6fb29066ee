package sms

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	serrors "github.com/theory-cloud/storefront/pkg/errors"
	"github.com/theory-cloud/storefront/pkg/mocks"
)

func TestSNSSenderPublishesTransactional(t *testing.T) {
	client := new(mocks.MockSNSClient)
	sender := NewSNSSender(client, Config{SenderID: "BOUTIQUE"})

	client.On("Publish", mock.Anything, mock.MatchedBy(func(in *sns.PublishInput) bool {
		return aws.ToString(in.PhoneNumber) == "+15551234567" &&
			aws.ToString(in.MessageAttributes["AWS.SNS.SMS.SMSType"].StringValue) == "Transactional" &&
			aws.ToString(in.MessageAttributes["AWS.SNS.SMS.SenderID"].StringValue) == "BOUTIQUE"
	}), mock.Anything).Return(&sns.PublishOutput{MessageId: aws.String("m-1")}, nil)

	require.NoError(t, sender.Send(context.Background(), "+15551234567", "code 123456"))
	client.AssertExpectations(t)
}

func TestSNSSenderClassifiesErrors(t *testing.T) {
	tests := []struct {
		err      error
		sentinel error
		name     string
	}{
		{name: "throttled", err: &snstypes.ThrottledException{Message: aws.String("slow")}, sentinel: serrors.ErrTooManyRequests},
		{name: "bad number", err: &snstypes.InvalidParameterException{Message: aws.String("bad")}, sentinel: serrors.ErrInvalidPhoneNumber},
		{name: "other", err: errors.New("network"), sentinel: serrors.ErrVerificationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := new(mocks.MockSNSClient)
			client.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.err)

			err := NewSNSSender(client, Config{}).Send(context.Background(), "+15551234567", "hi")
			assert.True(t, errors.Is(err, tt.sentinel))
		})
	}
}

func TestLogSender(t *testing.T) {
	sender := NewLogSender(nil)

	require.NoError(t, sender.Send(context.Background(), "+1", "first"))
	require.NoError(t, sender.Send(context.Background(), "+2", "other"))
	require.NoError(t, sender.Send(context.Background(), "+1", "second"))

	last, ok := sender.Last("+1")
	require.True(t, ok)
	assert.Equal(t, "second", last.Body)
	assert.Len(t, sender.Messages(), 3)

	_, ok = sender.Last("+3")
	assert.False(t, ok)
}

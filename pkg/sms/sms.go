// Package sms delivers one-time codes by text message
package sms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/smithy-go"

	serrors "github.com/theory-cloud/storefront/pkg/errors"
	"github.com/theory-cloud/storefront/pkg/interfaces"
)

// Sender delivers a text message to an E.164 phone number
type Sender interface {
	Send(ctx context.Context, phone, message string) error
}

// Config holds SNS delivery settings
type Config struct {
	SenderID  string // alphanumeric sender id where supported
	MaxPrice  string // USD per message, e.g. "0.50"
	OriginNum string // dedicated origination number
}

// SNSSender publishes transactional SMS through Amazon SNS
type SNSSender struct {
	client interfaces.SNSAPI
	config Config
}

// NewSNSSender creates a new SNS-backed sender
func NewSNSSender(client interfaces.SNSAPI, config Config) *SNSSender {
	return &SNSSender{client: client, config: config}
}

func stringAttr(v string) snstypes.MessageAttributeValue {
	return snstypes.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
}

// Send publishes message to phone. Provider throttling maps to ErrTooManyRequests and a
// rejected number to ErrInvalidPhoneNumber.
func (s *SNSSender) Send(ctx context.Context, phone, message string) error {
	attrs := map[string]snstypes.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": stringAttr("Transactional"),
	}
	if s.config.SenderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = stringAttr(s.config.SenderID)
	}
	if s.config.MaxPrice != "" {
		attrs["AWS.SNS.SMS.MaxPrice"] = snstypes.MessageAttributeValue{DataType: aws.String("Number"), StringValue: aws.String(s.config.MaxPrice)}
	}
	if s.config.OriginNum != "" {
		attrs["AWS.MM.SMS.OriginationNumber"] = stringAttr(s.config.OriginNum)
	}

	_, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(phone),
		Message:           aws.String(message),
		MessageAttributes: attrs,
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

func classify(err error) error {
	var throttled *snstypes.ThrottledException
	if errors.As(err, &throttled) {
		return fmt.Errorf("%w: %w", serrors.ErrTooManyRequests, err)
	}
	var invalid *snstypes.InvalidParameterException
	if errors.As(err, &invalid) {
		return fmt.Errorf("%w: %w", serrors.ErrInvalidPhoneNumber, err)
	}
	var invalidValue *snstypes.InvalidParameterValueException
	var optedOut *snstypes.OptedOutException
	if errors.As(err, &invalidValue) || errors.As(err, &optedOut) {
		return fmt.Errorf("%w: %w", serrors.ErrInvalidPhoneNumber, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ThrottlingException" {
		return fmt.Errorf("%w: %w", serrors.ErrTooManyRequests, err)
	}
	return fmt.Errorf("%w: sms: %w", serrors.ErrVerificationFailed, err)
}

// LogSender records messages instead of sending them. Used in local mode and tests.
type LogSender struct {
	logger   *slog.Logger
	messages []Message
	mu       sync.Mutex
}

// Message is a text captured by LogSender
type Message struct {
	Phone string
	Body  string
}

// NewLogSender creates a LogSender; logger may be nil
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the message and keeps it for inspection
func (s *LogSender) Send(ctx context.Context, phone, message string) error {
	s.mu.Lock()
	s.messages = append(s.messages, Message{Phone: phone, Body: message})
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.InfoContext(ctx, "TEST MODE - sms", slog.String("phone", phone), slog.String("body", message))
	}
	return nil
}

// Messages returns every message sent so far
func (s *LogSender) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Last returns the most recent message to phone
func (s *LogSender) Last(phone string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Phone == phone {
			return s.messages[i], true
		}
	}
	return Message{}, false
}

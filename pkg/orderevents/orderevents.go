// Package orderevents moves the post-commit work of a placed order off the request path. The
// API publishes an order.placed event to an SNS topic and a subscribed consumer runs the stock
// decrements and the confirmation email.
package orderevents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/theory-cloud/storefront/pkg/interfaces"
	"github.com/theory-cloud/storefront/pkg/model"
)

// EventOrderPlaced is published once per committed order
const EventOrderPlaced = "order.placed"

// Envelope is the SNS message body
type Envelope struct {
	Order *model.Order `json:"order"`
	Type  string       `json:"type"`
}

// Publisher sends order events to an SNS topic
type Publisher struct {
	client   interfaces.SNSAPI
	topicARN string
}

// NewPublisher creates a Publisher for topicARN
func NewPublisher(client interfaces.SNSAPI, topicARN string) *Publisher {
	return &Publisher{client: client, topicARN: topicARN}
}

// PublishOrderPlaced publishes an order.placed event for order
func (p *Publisher) PublishOrderPlaced(ctx context.Context, order *model.Order) error {
	body, err := json.Marshal(Envelope{Type: EventOrderPlaced, Order: order})
	if err != nil {
		return fmt.Errorf("failed to encode order event: %w", err)
	}
	_, err = p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(EventOrderPlaced)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish order event %s: %w", order.ID, err)
	}
	return nil
}

// Processor runs the side effects of a placed order
type Processor interface {
	ProcessOrderPlaced(ctx context.Context, order *model.Order)
}

// Waiter blocks until the processor's side effects have finished
type Waiter interface {
	Wait()
}

// Consumer handles SNS deliveries of order events
type Consumer struct {
	processor Processor
	waiter    Waiter
	logger    *slog.Logger
}

// NewConsumer creates a Consumer. waiter may be nil when the processor runs synchronously.
func NewConsumer(processor Processor, waiter Waiter, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{processor: processor, waiter: waiter, logger: logger}
}

// Handle processes every record and always returns nil. A retried delivery would decrement
// stock twice, so malformed or unknown records are logged and dropped.
func (c *Consumer) Handle(ctx context.Context, event events.SNSEvent) error {
	for _, record := range event.Records {
		var env Envelope
		if err := json.Unmarshal([]byte(record.SNS.Message), &env); err != nil {
			c.logger.WarnContext(ctx, "dropping malformed order event",
				slog.String("message_id", record.SNS.MessageID),
				slog.Any("error", err))
			continue
		}
		if env.Type != EventOrderPlaced || env.Order == nil {
			c.logger.WarnContext(ctx, "dropping unknown order event",
				slog.String("message_id", record.SNS.MessageID),
				slog.String("type", env.Type))
			continue
		}
		c.processor.ProcessOrderPlaced(ctx, env.Order)
	}
	if c.waiter != nil {
		c.waiter.Wait()
	}
	return nil
}

package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/mattjoyce/spanlink/internal/config"
)

// SQSAPI is the subset of the SQS client the transport uses.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, opts ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, opts ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, opts ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, opts ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// NewSQSClient builds a client from the default AWS credential chain.
func NewSQSClient(ctx context.Context, region string) (*sqs.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return sqs.NewFromConfig(cfg), nil
}

// SQS is one SQS queue. Redelivery and dead-lettering are owned by the
// queue's own visibility timeout and redrive policy.
type SQS struct {
	client      SQSAPI
	url         string
	wait        time.Duration
	visibility  time.Duration
	maxMessages int32
	maxAttempts int
	logger      *slog.Logger
}

var (
	_ Transport = (*SQS)(nil)
	_ Sender    = (*SQS)(nil)
)

func NewSQS(client SQSAPI, url string, cfg config.QueueConfig, logger *slog.Logger) *SQS {
	if logger == nil {
		logger = slog.Default()
	}
	maxMessages := cfg.MaxMessages
	if maxMessages <= 0 {
		maxMessages = 1
	}
	if maxMessages > 10 {
		maxMessages = 10
	}
	return &SQS{
		client:      client,
		url:         url,
		wait:        cfg.WaitTime,
		visibility:  cfg.VisibilityTimeout,
		maxMessages: maxMessages,
		maxAttempts: cfg.MaxAttempts,
		logger:      logger.With("component", "queue", "queue_url", url),
	}
}

// Receive long-polls for messages.
func (q *SQS) Receive(ctx context.Context) ([]Delivery, error) {
	in := &sqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(q.url),
		MaxNumberOfMessages:         q.maxMessages,
		WaitTimeSeconds:             int32(q.wait / time.Second),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameApproximateReceiveCount},
	}
	if q.visibility > 0 {
		in.VisibilityTimeout = int32(q.visibility / time.Second)
	}
	out, err := q.client.ReceiveMessage(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("receive from sqs: %w", err)
	}

	deliveries := make([]Delivery, 0, len(out.Messages))
	for _, m := range out.Messages {
		attempt := 1
		if v, ok := m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
			if n, err := strconv.Atoi(v); err == nil {
				attempt = n
			}
		}
		deliveries = append(deliveries, Delivery{
			ID:      aws.ToString(m.MessageId),
			Body:    []byte(aws.ToString(m.Body)),
			Attempt: attempt,
			Final:   q.maxAttempts > 0 && attempt >= q.maxAttempts,
			Receipt: aws.ToString(m.ReceiptHandle),
		})
	}
	return deliveries, nil
}

// Ack deletes the message from the queue.
func (q *SQS) Ack(ctx context.Context, d Delivery) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.url),
		ReceiptHandle: aws.String(d.Receipt),
	})
	if err != nil {
		return fmt.Errorf("delete sqs message %s: %w", d.ID, err)
	}
	return nil
}

// Nack makes the message visible again immediately.
func (q *SQS) Nack(ctx context.Context, d Delivery, reason error) error {
	q.logger.Debug("returning message to queue", "message_id", d.ID, "attempt", d.Attempt, "error", reason)
	_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.url),
		ReceiptHandle:     aws.String(d.Receipt),
		VisibilityTimeout: 0,
	})
	if err != nil {
		return fmt.Errorf("reset sqs visibility for %s: %w", d.ID, err)
	}
	return nil
}

func (q *SQS) Send(ctx context.Context, body []byte) error {
	_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.url),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("send sqs message: %w", err)
	}
	return nil
}

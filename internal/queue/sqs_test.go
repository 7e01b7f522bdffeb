package queue

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/spanlink/internal/config"
)

type fakeSQS struct {
	received  *sqs.ReceiveMessageInput
	messages  []types.Message
	deleted   []string
	reset     []*sqs.ChangeMessageVisibilityInput
	sent      []string
	sentQueue []string
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.received = in
	return &sqs.ReceiveMessageOutput{Messages: f.messages}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) ChangeMessageVisibility(_ context.Context, in *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	f.reset = append(f.reset, in)
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, aws.ToString(in.MessageBody))
	f.sentQueue = append(f.sentQueue, aws.ToString(in.QueueUrl))
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func TestSQSReceiveMapsMessages(t *testing.T) {
	fake := &fakeSQS{messages: []types.Message{{
		MessageId:     aws.String("m-1"),
		ReceiptHandle: aws.String("rh-1"),
		Body:          aws.String(`{"x":1}`),
		Attributes:    map[string]string{"ApproximateReceiveCount": "3"},
	}}}
	q := NewSQS(fake, "https://sqs.example/batches", config.QueueConfig{
		WaitTime:          20 * time.Second,
		VisibilityTimeout: 5 * time.Minute,
		MaxMessages:       50,
		MaxAttempts:       3,
	}, nil)

	got, err := q.Receive(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, Delivery{ID: "m-1", Body: []byte(`{"x":1}`), Attempt: 3, Final: true, Receipt: "rh-1"}, got[0])

	assert.Equal(t, int32(10), fake.received.MaxNumberOfMessages, "sqs caps a receive at ten")
	assert.Equal(t, int32(20), fake.received.WaitTimeSeconds)
	assert.Equal(t, int32(300), fake.received.VisibilityTimeout)
	assert.Equal(t, "https://sqs.example/batches", aws.ToString(fake.received.QueueUrl))
}

func TestSQSReceiveWithoutReceiveCount(t *testing.T) {
	fake := &fakeSQS{messages: []types.Message{{MessageId: aws.String("m-1"), Body: aws.String("{}")}}}
	q := NewSQS(fake, "url", config.QueueConfig{}, nil)

	got, err := q.Receive(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Attempt)
	assert.False(t, got[0].Final, "no attempt limit configured")
}

func TestSQSAckDeletesAndNackResetsVisibility(t *testing.T) {
	fake := &fakeSQS{}
	q := NewSQS(fake, "url", config.QueueConfig{}, nil)
	d := Delivery{ID: "m-1", Receipt: "rh-1"}

	require.NoError(t, q.Ack(context.Background(), d))
	assert.Equal(t, []string{"rh-1"}, fake.deleted)

	require.NoError(t, q.Nack(context.Background(), d, nil))
	require.Len(t, fake.reset, 1)
	assert.Equal(t, int32(0), fake.reset[0].VisibilityTimeout)
	assert.Equal(t, "rh-1", aws.ToString(fake.reset[0].ReceiptHandle))
}

func TestSQSPublisher(t *testing.T) {
	fake := &fakeSQS{}
	p := NewPublisher(NewSQS(fake, "in", config.QueueConfig{}, nil), NewSQS(fake, "out", config.QueueConfig{}, nil))

	require.NoError(t, p.PublishCompletion(context.Background(), CompletionEvent{TextID: "A", SegmentIDs: []string{"s1"}, TotalSegments: 1}))
	assert.Equal(t, []string{"out"}, fake.sentQueue)
	assert.JSONEq(t, `{"text_id":"A","segment_ids":["s1"],"total_segments":1,"source_environment":"","destination_environment":""}`, fake.sent[0])
}

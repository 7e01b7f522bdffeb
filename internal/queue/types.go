package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

const (
	// BatchQueue carries inbound batches of segments to resolve.
	BatchQueue = "batches"
	// CompletedQueue carries one event per root job that reached COMPLETED.
	CompletedQueue = "completed"
)

var ErrInvalidMessage = errors.New("invalid message")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Span is a half-open range on the wire.
type Span struct {
	Start int `json:"start" validate:"gte=0"`
	End   int `json:"end" validate:"gtfield=Start"`
}

type Segment struct {
	SegmentID string `json:"segment_id" validate:"required"`
	Span      Span   `json:"span"`
}

// BatchMessage is one inbound unit of work: a slice of one text's segments
// belonging to one root job.
type BatchMessage struct {
	RootJobID     string    `json:"root_job_id" validate:"required"`
	TextID        string    `json:"text_id" validate:"required"`
	BatchNumber   int       `json:"batch_number" validate:"gte=0"`
	TotalSegments int       `json:"total_segments" validate:"gte=1"`
	Segments      []Segment `json:"segments" validate:"min=1,dive"`
}

// CompletionEvent is published once when a root job reaches COMPLETED.
type CompletionEvent struct {
	TextID                 string   `json:"text_id"`
	SegmentIDs             []string `json:"segment_ids"`
	TotalSegments          int      `json:"total_segments"`
	SourceEnvironment      string   `json:"source_environment"`
	DestinationEnvironment string   `json:"destination_environment"`
}

// DecodeBatch parses and validates an inbound batch. Any failure wraps
// ErrInvalidMessage; such a message can never succeed on redelivery.
func DecodeBatch(body []byte) (BatchMessage, error) {
	var msg BatchMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return BatchMessage{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := validate.Struct(msg); err != nil {
		return BatchMessage{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return msg, nil
}

// Delivery is one received message. Receipt is the transport's handle for
// acknowledging it; Final is set when no further redelivery will happen.
type Delivery struct {
	ID      string
	Body    []byte
	Attempt int
	Final   bool
	Receipt string
}

// Transport is the consuming side of a queue.
type Transport interface {
	Receive(ctx context.Context) ([]Delivery, error)
	Ack(ctx context.Context, d Delivery) error
	Nack(ctx context.Context, d Delivery, reason error) error
}

// Sender is the producing side of a queue.
type Sender interface {
	Send(ctx context.Context, body []byte) error
}

// Publisher encodes domain messages onto their queues.
type Publisher struct {
	batches     Sender
	completions Sender
}

func NewPublisher(batches, completions Sender) *Publisher {
	return &Publisher{batches: batches, completions: completions}
}

func (p *Publisher) PublishBatch(ctx context.Context, msg BatchMessage) error {
	if err := validate.Struct(msg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	if err := p.batches.Send(ctx, body); err != nil {
		return fmt.Errorf("publish batch %d of %s: %w", msg.BatchNumber, msg.RootJobID, err)
	}
	return nil
}

func (p *Publisher) PublishCompletion(ctx context.Context, ev CompletionEvent) error {
	if ev.SegmentIDs == nil {
		ev.SegmentIDs = []string{}
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode completion event: %w", err)
	}
	if err := p.completions.Send(ctx, body); err != nil {
		return fmt.Errorf("publish completion for %s: %w", ev.TextID, err)
	}
	return nil
}

package conversation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/IanOtollo/whatsapp-ai-bot/internal/transport"
)

// Queue is the inbound job transport shared by the publisher and the worker.
// Implementations: MemoryQueue for development, SQSQueue for deployment.
type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

type jobType string

const jobTypeInbound jobType = "inbound_message"

type queuePayload struct {
	ID      string            `json:"id"`
	Kind    jobType           `json:"kind"`
	Inbound transport.Message `json:"inbound"`
}

func encodePayload(payload queuePayload) (queuePayload, string, error) {
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return queuePayload{}, "", fmt.Errorf("conversation: failed to encode payload: %w", err)
	}

	return payload, string(body), nil
}

// Publisher pushes inbound transport events onto the work queue. Transports
// call it from their receive loops so slow assistant calls never back up the
// socket.
type Publisher struct {
	queue Queue
}

// NewPublisher wraps the provided queue.
func NewPublisher(queue Queue) *Publisher {
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	return &Publisher{queue: queue}
}

// EnqueueInbound publishes one inbound message event for worker processing.
func (p *Publisher) EnqueueInbound(ctx context.Context, msg transport.Message) error {
	_, body, err := encodePayload(queuePayload{Kind: jobTypeInbound, Inbound: msg})
	if err != nil {
		return err
	}
	if err := p.queue.Send(ctx, body); err != nil {
		return fmt.Errorf("conversation: failed to enqueue inbound message: %w", err)
	}
	return nil
}

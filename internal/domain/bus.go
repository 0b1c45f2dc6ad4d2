package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (in-process) or NATS (distributed).
// All methods are scoped by runID so concurrent runs never see each other's events.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, runID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, runID string, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	RunID     string            `json:"runId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `json:"type" yaml:"type" env:"AMLSIM_BUS_TYPE" validate:"omitempty,oneof=channel nats"`

	// Channel settings
	ChannelBufferSize int `json:"channelBufferSize" yaml:"channelBufferSize" validate:"gte=0"`

	// NATS settings
	NATSUrl           string `json:"natsUrl" yaml:"natsUrl" env:"AMLSIM_NATS_URL"`
	NATSToken         string `json:"natsToken" yaml:"natsToken" env:"AMLSIM_NATS_TOKEN"`
	NATSMaxReconnects int    `json:"natsMaxReconnects" yaml:"natsMaxReconnects"`
	NATSReconnectWait int    `json:"natsReconnectWait" yaml:"natsReconnectWait"` // seconds
}

// Standard topic names.
const (
	TopicTransactionGenerated = "amlsim.transaction.generated"
	TopicRunCompleted         = "amlsim.run.completed"
)

package mq

import (
	"context"
)

// Publisher defines the operations for publishing to a RabbitMQ queue.
type Publisher interface {
	// Publish sends data and waits for the broker to confirm it, retrying
	// with backoff while the connection is being re-established.
	Publish(ctx context.Context, data []byte) error

	// PublishAsync sends data without waiting for a confirmation.
	// It fails immediately when the client is not connected.
	PublishAsync(ctx context.Context, data []byte) error

	// Close shuts down the channel and connection.
	Close() error
}

// Ensure Client implements Publisher.
var _ Publisher = (*Client)(nil)

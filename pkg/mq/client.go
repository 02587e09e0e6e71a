// Package mq provides a RabbitMQ publisher with automatic reconnection.
package mq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/energy-replay/pkg/metrics"
)

const (
	// When reconnecting to the server after connection failure.
	reconnectDelay = 5 * time.Second

	// When setting up the channel after a channel exception.
	reInitDelay = 2 * time.Second

	initialBackoff    = 100 * time.Millisecond
	maxBackoff        = 10 * time.Second
	backoffMultiplier = 2
	maxRetryAttempts  = 5
)

var (
	errNotConnected       = errors.New("not connected to a server")
	errShutdown           = errors.New("client is shutting down")
	errMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")
	errNacked             = errors.New("message not acknowledged by broker")
)

// Config holds the configuration for Client.
type Config struct {
	Logger  *slog.Logger
	Metrics *metrics.MQMetrics // Optional metrics

	URL         string
	Queue       string
	ContentType string
	Durable     bool
}

// Client publishes to a single queue, reconnecting in the background
// whenever the connection or channel is lost.
type Client struct {
	logger          *slog.Logger
	metrics         *metrics.MQMetrics
	connection      *amqp.Connection
	channel         *amqp.Channel
	done            chan struct{}
	notifyConnClose chan *amqp.Error
	notifyChanClose chan *amqp.Error
	notifyConfirm   chan amqp.Confirmation
	queue           string
	contentType     string
	mu              sync.Mutex
	publishMu       sync.Mutex
	closeOnce       sync.Once
	durable         bool
	isReady         bool
}

// New creates a Client and starts connecting to the broker in the
// background.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("mq config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.URL == "" {
		return nil, errors.New("broker URL cannot be empty")
	}

	if cfg.Queue == "" {
		return nil, errors.New("queue name cannot be empty")
	}

	contentType := cfg.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	client := &Client{
		logger:      cfg.Logger.With("queue", cfg.Queue),
		metrics:     cfg.Metrics,
		queue:       cfg.Queue,
		contentType: contentType,
		durable:     cfg.Durable,
		done:        make(chan struct{}),
	}
	go client.handleReconnect(cfg.URL)

	return client, nil
}

// Ready reports whether the client currently has a usable channel.
func (client *Client) Ready() bool {
	client.mu.Lock()
	defer client.mu.Unlock()
	return client.isReady
}

// handleReconnect will wait for a connection error on
// notifyConnClose, and then continuously attempt to reconnect.
func (client *Client) handleReconnect(addr string) {
	for {
		client.setReady(false)
		client.logger.Info("attempting to connect")

		if client.metrics != nil {
			client.metrics.ReconnectAttempts.Inc()
		}

		conn, err := client.connect(addr)
		if err != nil {
			client.logger.Error("failed to connect. Retrying...", "error", err)

			select {
			case <-client.done:
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		if done := client.handleReInit(conn); done {
			return
		}
	}
}

func (client *Client) connect(addr string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(addr)
	if err != nil {
		client.setConnectionStatus(0)
		return nil, err
	}

	client.mu.Lock()
	client.connection = conn
	client.notifyConnClose = make(chan *amqp.Error, 1)
	conn.NotifyClose(client.notifyConnClose)
	client.mu.Unlock()

	client.logger.Info("connected")
	client.setConnectionStatus(1)

	return conn, nil
}

// handleReInit will wait for a channel error and then continuously
// attempt to re-initialize the channel. It returns true on shutdown.
func (client *Client) handleReInit(conn *amqp.Connection) bool {
	for {
		client.setReady(false)

		if err := client.init(conn); err != nil {
			client.logger.Error("failed to initialize channel, retrying...", "error", err)

			select {
			case <-client.done:
				return true
			case <-client.notifyConnClose:
				client.logger.Info("connection closed, reconnecting...")
				return false
			case <-time.After(reInitDelay):
			}
			continue
		}

		select {
		case <-client.done:
			return true
		case <-client.notifyConnClose:
			client.logger.Info("connection closed, reconnecting...")
			return false
		case <-client.notifyChanClose:
			client.logger.Info("channel closed, re-running init...")
		}
	}
}

// init opens a confirming channel and declares the queue.
func (client *Client) init(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}

	if err := ch.Confirm(false); err != nil {
		return err
	}

	_, err = ch.QueueDeclare(
		client.queue,
		client.durable, // Durable
		false,          // Delete when unused
		false,          // Exclusive
		false,          // No-wait
		nil,            // Arguments
	)
	if err != nil {
		return err
	}

	client.mu.Lock()
	client.channel = ch
	client.notifyChanClose = make(chan *amqp.Error, 1)
	client.notifyConfirm = make(chan amqp.Confirmation, 1)
	ch.NotifyClose(client.notifyChanClose)
	ch.NotifyPublish(client.notifyConfirm)
	client.isReady = true
	client.mu.Unlock()

	client.logger.Info("client init done")
	return nil
}

// Publish sends data and waits for the broker confirmation. While the
// client is disconnected it retries with exponential backoff, giving up
// after maxRetryAttempts.
func (client *Client) Publish(ctx context.Context, data []byte) error {
	if client.metrics != nil {
		timer := prometheus.NewTimer(client.metrics.PublishDuration.WithLabelValues(client.queue))
		defer timer.ObserveDuration()
	}

	// Confirmations arrive in publish order on a single channel.
	client.publishMu.Lock()
	defer client.publishMu.Unlock()

	backoff := initialBackoff
	for attempt := 0; ; attempt++ {
		if attempt >= maxRetryAttempts {
			client.logger.Error("maximum retry attempts exceeded", "max_attempts", maxRetryAttempts)
			client.countFailure("max_retries_exceeded")
			return errMaxRetriesExceeded
		}

		err := client.publishConfirmed(ctx, data)
		if err == nil {
			if client.metrics != nil {
				client.metrics.MessagesPublished.WithLabelValues(client.queue).Inc()
			}
			return nil
		}
		if ctx.Err() != nil {
			client.countFailure("context_canceled")
			return ctx.Err()
		}

		client.logger.Warn("publish failed, retrying with backoff",
			"error", err,
			"backoff", backoff,
			"attempt", attempt,
		)

		select {
		case <-ctx.Done():
			client.countFailure("context_canceled")
			return ctx.Err()
		case <-client.done:
			return errShutdown
		case <-time.After(backoff):
		}

		backoff = min(backoff*backoffMultiplier, maxBackoff)
	}
}

func (client *Client) publishConfirmed(ctx context.Context, data []byte) error {
	client.mu.Lock()
	confirms := client.notifyConfirm
	client.mu.Unlock()

	if err := client.PublishAsync(ctx, data); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case confirm, ok := <-confirms:
		if !ok || !confirm.Ack {
			return errNacked
		}
		client.logger.Debug("publish confirmed", "delivery_tag", confirm.DeliveryTag)
		return nil
	}
}

// PublishAsync publishes data without waiting for a confirmation.
func (client *Client) PublishAsync(ctx context.Context, data []byte) error {
	client.mu.Lock()
	if !client.isReady {
		client.mu.Unlock()
		return errNotConnected
	}
	ch := client.channel
	client.mu.Unlock()

	return ch.PublishWithContext(
		ctx,
		"",           // Exchange
		client.queue, // Routing key
		false,        // Mandatory
		false,        // Immediate
		amqp.Publishing{
			ContentType: client.contentType,
			Timestamp:   time.Now().UTC(),
			Body:        data,
		},
	)
}

// Close stops the reconnect loop and closes the channel and connection.
// It is safe to call more than once.
func (client *Client) Close() error {
	var err error
	client.closeOnce.Do(func() {
		close(client.done)

		client.mu.Lock()
		defer client.mu.Unlock()

		if client.channel != nil {
			if cerr := client.channel.Close(); cerr != nil && !errors.Is(cerr, amqp.ErrClosed) {
				err = cerr
			}
		}
		if client.connection != nil && !client.connection.IsClosed() {
			if cerr := client.connection.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}

		client.isReady = false
		client.setConnectionStatus(0)
	})
	return err
}

func (client *Client) setReady(ready bool) {
	client.mu.Lock()
	client.isReady = ready
	client.mu.Unlock()
}

func (client *Client) setConnectionStatus(v float64) {
	if client.metrics != nil {
		client.metrics.ConnectionStatus.Set(v)
	}
}

func (client *Client) countFailure(reason string) {
	if client.metrics != nil {
		client.metrics.PublishFailures.WithLabelValues(client.queue, reason).Inc()
	}
}

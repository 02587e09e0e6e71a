package testcontainers

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	amqpPort           = "5672/tcp"
	brokerStartTimeout = 2 * time.Minute
)

// BrokerConfig describes the RabbitMQ broker tick exports are published to.
type BrokerConfig struct {
	User     string // default: replay
	Password string // default: replay
	// ContainerName pins the container name. Empty lets Docker pick one.
	ContainerName string
}

// Broker is a running RabbitMQ container.
type Broker struct {
	Container testcontainers.Container
	// URL is the AMQP URL the exporter and test consumers dial.
	URL string
}

// StartBroker starts RabbitMQ and waits until it accepts AMQP connections.
func StartBroker(ctx context.Context, config *BrokerConfig) (*Broker, error) {
	cfg := BrokerConfig{User: "replay", Password: "replay"}
	if config != nil {
		cfg.ContainerName = config.ContainerName
		if config.User != "" {
			cfg.User = config.User
		}
		if config.Password != "" {
			cfg.Password = config.Password
		}
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3.13-alpine",
			Name:         cfg.ContainerName,
			ExposedPorts: []string{amqpPort},
			Env: map[string]string{
				"RABBITMQ_DEFAULT_USER": cfg.User,
				"RABBITMQ_DEFAULT_PASS": cfg.Password,
			},
			// The port opens before the broker finishes booting its plugins.
			WaitingFor: wait.ForAll(
				wait.ForListeningPort(amqpPort),
				wait.ForLog("Server startup complete"),
			).WithDeadline(brokerStartTimeout),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start broker for tick export: %w", err)
	}

	endpoint, err := container.PortEndpoint(ctx, amqpPort, "")
	if err != nil {
		return nil, terminate(ctx, container, fmt.Errorf("failed to resolve broker endpoint: %w", err))
	}

	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   endpoint,
		Path:   "/",
	}
	return &Broker{Container: container, URL: u.String()}, nil
}

// TickQueue returns a queue name no other test has used, so concurrent specs
// never consume each other's tick results.
func TickQueue(buildingID int) string {
	return fmt.Sprintf("ticks.building-%d.%s", buildingID, uuid.NewString()[:8])
}

package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"procodus.dev/energy-replay/internal/replay"
	"procodus.dev/energy-replay/pkg/metrics"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 2 * time.Second
)

// MQTTExporter publishes results as JSON to <topic>/<buildingId>.
type MQTTExporter struct {
	logger  *slog.Logger
	client  mqtt.Client
	metrics *metrics.ReplayMetrics
	topic   string
}

// NewMQTTExporter creates an exporter on top of a connected client.
func NewMQTTExporter(logger *slog.Logger, client mqtt.Client, topic string, m *metrics.ReplayMetrics) *MQTTExporter {
	return &MQTTExporter{
		logger:  logger,
		client:  client,
		metrics: m,
		topic:   topic,
	}
}

func connectMQTT(broker string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID("energy-replay-" + uuid.NewString()).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttConnectTimeout)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, errors.New("timed out connecting to MQTT broker")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return client, nil
}

// Export implements Exporter.
func (e *MQTTExporter) Export(ctx context.Context, result replay.TickResult) (err error) {
	defer func() { count(e.metrics, KindMQTT, err) }()

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode tick: %w", err)
	}

	token := e.client.Publish(e.topic+"/"+strconv.Itoa(result.BuildingID), 0, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(mqttPublishTimeout):
		return errors.New("timed out publishing tick")
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish tick: %w", err)
	}
	return nil
}

// Close implements Exporter.
func (e *MQTTExporter) Close() error {
	e.client.Disconnect(250)
	return nil
}

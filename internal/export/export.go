// Package export forwards replay tick results to a message broker.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"procodus.dev/energy-replay/internal/replay"
	"procodus.dev/energy-replay/pkg/metrics"
	"procodus.dev/energy-replay/pkg/mq"
)

// Supported exporter kinds.
const (
	KindNone  = "none"
	KindAMQP  = "amqp"
	KindKafka = "kafka"
	KindMQTT  = "mqtt"
)

// Exporter publishes tick results to an external system.
type Exporter interface {
	Export(ctx context.Context, result replay.TickResult) error
	Close() error
}

// Config holds the configuration for New.
type Config struct {
	Logger    *slog.Logger
	Metrics   *metrics.ReplayMetrics // Optional metrics
	MQMetrics *metrics.MQMetrics     // Optional metrics for the AMQP publisher

	Kind string
	// URL is the broker address: an amqp:// URL, a comma separated list of
	// Kafka brokers, or an MQTT broker URL.
	URL   string
	Topic string
}

// New builds the exporter selected by cfg.Kind. It returns nil for
// KindNone.
func New(cfg *Config) (Exporter, error) {
	if cfg == nil {
		return nil, errors.New("export config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
	if kind == "" || kind == KindNone {
		return nil, nil
	}

	if cfg.URL == "" {
		return nil, fmt.Errorf("export URL cannot be empty for %s", kind)
	}

	if cfg.Topic == "" {
		return nil, fmt.Errorf("export topic cannot be empty for %s", kind)
	}

	logger := cfg.Logger.With("exporter", kind)

	switch kind {
	case KindAMQP:
		publisher, err := mq.New(&mq.Config{
			Logger:      logger,
			Metrics:     cfg.MQMetrics,
			URL:         cfg.URL,
			Queue:       cfg.Topic,
			ContentType: protobufContentType,
			Durable:     true,
		})
		if err != nil {
			return nil, err
		}
		return NewAMQPExporter(logger, publisher, cfg.Metrics), nil

	case KindKafka:
		return NewKafkaExporter(logger, newKafkaWriter(logger, cfg.URL, cfg.Topic), cfg.Metrics), nil

	case KindMQTT:
		client, err := connectMQTT(cfg.URL)
		if err != nil {
			return nil, err
		}
		return NewMQTTExporter(logger, client, cfg.Topic, cfg.Metrics), nil

	default:
		return nil, fmt.Errorf("unknown export kind %q", cfg.Kind)
	}
}

// fields flattens a result into plain values, with nil for unknown ones.
func fields(result replay.TickResult) map[string]any {
	return map[string]any{
		"timestamp":       result.Timestamp.UTC().Format(time.RFC3339),
		"buildingId":      result.BuildingID,
		"actualKwh":       result.ActualKwh,
		"predictedKwh":    valueOrNil(result.PredictedKwh.Ptr()),
		"thresholdValue":  valueOrNil(result.ThresholdValue.Ptr()),
		"isPeak":          valueOrNil(result.IsPeak.Ptr()),
		"peakProbability": valueOrNil(result.PeakProbability.Ptr()),
		"risk":            valueOrNil(result.Risk.Ptr()),
		"modelVersion":    result.ModelVersion,
		"fallback":        result.Fallback,
	}
}

func valueOrNil[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func count(m *metrics.ReplayMetrics, kind string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ExportsTotal.WithLabelValues(kind, status).Inc()
}

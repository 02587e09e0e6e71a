package export

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"procodus.dev/energy-replay/internal/replay"
	"procodus.dev/energy-replay/pkg/metrics"
	"procodus.dev/energy-replay/pkg/mq"
)

const protobufContentType = "application/x-protobuf"

// AMQPExporter publishes results as protobuf Struct messages to a
// RabbitMQ queue.
type AMQPExporter struct {
	logger    *slog.Logger
	publisher mq.Publisher
	metrics   *metrics.ReplayMetrics
}

// NewAMQPExporter creates an exporter on top of publisher.
func NewAMQPExporter(logger *slog.Logger, publisher mq.Publisher, m *metrics.ReplayMetrics) *AMQPExporter {
	return &AMQPExporter{
		logger:    logger,
		publisher: publisher,
		metrics:   m,
	}
}

// Export implements Exporter. Publishing does not wait for a broker
// confirmation.
func (e *AMQPExporter) Export(ctx context.Context, result replay.TickResult) (err error) {
	defer func() { count(e.metrics, KindAMQP, err) }()

	data, err := EncodeProto(result)
	if err != nil {
		return err
	}

	if err := e.publisher.PublishAsync(ctx, data); err != nil {
		return fmt.Errorf("failed to publish tick: %w", err)
	}
	return nil
}

// Close implements Exporter.
func (e *AMQPExporter) Close() error {
	return e.publisher.Close()
}

// EncodeProto encodes a result as a serialized google.protobuf.Struct.
func EncodeProto(result replay.TickResult) ([]byte, error) {
	s, err := structpb.NewStruct(fields(result))
	if err != nil {
		return nil, fmt.Errorf("failed to build tick struct: %w", err)
	}

	data, err := proto.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tick: %w", err)
	}
	return data, nil
}

package export_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/guregu/null/v6"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/segmentio/kafka-go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"procodus.dev/energy-replay/internal/export"
	"procodus.dev/energy-replay/internal/replay"
	"procodus.dev/energy-replay/pkg/mq/mock"
)

type fakeWriter struct {
	err      error
	messages []kafka.Message
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.messages = append(w.messages, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

// fakeMQTT implements the parts of mqtt.Client the exporter uses.
type fakeMQTT struct {
	mqtt.Client
	err          error
	topics       []string
	payloads     [][]byte
	disconnected bool
	mu           sync.Mutex
}

func (c *fakeMQTT) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	c.payloads = append(c.payloads, payload.([]byte))
	return newFakeToken(c.err)
}

func (c *fakeMQTT) Disconnect(uint) {
	c.disconnected = true
}

var _ = Describe("Export", func() {
	var (
		logger *slog.Logger
		ctx    context.Context
		result replay.TickResult
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
		ctx = context.Background()
		result = replay.TickResult{
			Timestamp:    time.Date(2024, 7, 1, 13, 0, 0, 0, time.UTC),
			BuildingID:   74,
			ActualKwh:    120.5,
			PredictedKwh: null.FloatFrom(118.25),
			IsPeak:       null.BoolFrom(false),
			ModelVersion: "lgbm-3",
		}
	})

	Describe("New", func() {
		It("should return error when config is nil", func() {
			exporter, err := export.New(nil)
			Expect(err).To(MatchError(ContainSubstring("config cannot be nil")))
			Expect(exporter).To(BeNil())
		})

		It("should return no exporter for kind none", func() {
			for _, kind := range []string{"", "none", " NONE "} {
				exporter, err := export.New(&export.Config{Logger: logger, Kind: kind})
				Expect(err).NotTo(HaveOccurred())
				Expect(exporter).To(BeNil())
			}
		})

		It("should reject unknown kinds", func() {
			_, err := export.New(&export.Config{Logger: logger, Kind: "pigeon", URL: "x", Topic: "y"})
			Expect(err).To(MatchError(ContainSubstring("unknown export kind")))
		})

		It("should require a URL and topic", func() {
			_, err := export.New(&export.Config{Logger: logger, Kind: export.KindKafka, Topic: "ticks"})
			Expect(err).To(MatchError(ContainSubstring("URL")))

			_, err = export.New(&export.Config{Logger: logger, Kind: export.KindKafka, URL: "localhost:9092"})
			Expect(err).To(MatchError(ContainSubstring("topic")))
		})

		It("should build a kafka exporter without contacting the brokers", func() {
			exporter, err := export.New(&export.Config{
				Logger: logger,
				Kind:   export.KindKafka,
				URL:    "localhost:9092",
				Topic:  "replay-ticks",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(exporter).To(BeAssignableToTypeOf(&export.KafkaExporter{}))
			Expect(exporter.Close()).To(Succeed())
		})
	})

	Describe("AMQPExporter", func() {
		var publisher *mock.MockPublisher

		BeforeEach(func() {
			publisher = mock.NewMockPublisher()
		})

		It("should publish a protobuf struct", func() {
			exporter := export.NewAMQPExporter(logger, publisher, nil)

			Expect(exporter.Export(ctx, result)).To(Succeed())
			Expect(publisher.PublishAsyncCalls).To(HaveLen(1))

			var decoded structpb.Struct
			Expect(proto.Unmarshal(publisher.PublishAsyncCalls[0], &decoded)).To(Succeed())
			m := decoded.AsMap()
			Expect(m).To(HaveKeyWithValue("buildingId", BeEquivalentTo(74)))
			Expect(m).To(HaveKeyWithValue("predictedKwh", 118.25))
			Expect(m).To(HaveKeyWithValue("isPeak", false))
			Expect(m).To(HaveKeyWithValue("risk", BeNil()))
			Expect(m).To(HaveKeyWithValue("timestamp", "2024-07-01T13:00:00Z"))
		})

		It("should surface publish failures", func() {
			publisher.PublishAsyncError = errors.New("not connected")
			exporter := export.NewAMQPExporter(logger, publisher, nil)

			Expect(exporter.Export(ctx, result)).To(MatchError(ContainSubstring("not connected")))
		})

		It("should close the publisher", func() {
			exporter := export.NewAMQPExporter(logger, publisher, nil)
			Expect(exporter.Close()).To(Succeed())
			Expect(publisher.CloseCalls).To(Equal(1))
		})
	})

	Describe("KafkaExporter", func() {
		It("should key messages by building", func() {
			writer := &fakeWriter{}
			exporter := export.NewKafkaExporter(logger, writer, nil)

			Expect(exporter.Export(ctx, result)).To(Succeed())
			Expect(writer.messages).To(HaveLen(1))

			msg := writer.messages[0]
			Expect(string(msg.Key)).To(Equal("74"))
			Expect(msg.Time).To(BeTemporally("==", result.Timestamp))

			var decoded map[string]any
			Expect(json.Unmarshal(msg.Value, &decoded)).To(Succeed())
			Expect(decoded).To(HaveKeyWithValue("modelVersion", "lgbm-3"))
			Expect(decoded).To(HaveKeyWithValue("thresholdValue", BeNil()))
		})

		It("should surface write failures", func() {
			writer := &fakeWriter{err: errors.New("leader not available")}
			exporter := export.NewKafkaExporter(logger, writer, nil)

			Expect(exporter.Export(ctx, result)).To(MatchError(ContainSubstring("leader not available")))
		})

		It("should close the writer", func() {
			writer := &fakeWriter{}
			Expect(export.NewKafkaExporter(logger, writer, nil).Close()).To(Succeed())
			Expect(writer.closed).To(BeTrue())
		})
	})

	Describe("MQTTExporter", func() {
		It("should publish to a per-building topic", func() {
			client := &fakeMQTT{}
			exporter := export.NewMQTTExporter(logger, client, "energy/replay", nil)

			Expect(exporter.Export(ctx, result)).To(Succeed())
			Expect(client.topics).To(Equal([]string{"energy/replay/74"}))
			Expect(string(client.payloads[0])).To(ContainSubstring(`"actualKwh":120.5`))
		})

		It("should surface publish failures", func() {
			client := &fakeMQTT{err: errors.New("not connected")}
			exporter := export.NewMQTTExporter(logger, client, "energy/replay", nil)

			Expect(exporter.Export(ctx, result)).To(MatchError(ContainSubstring("not connected")))
		})

		It("should disconnect on close", func() {
			client := &fakeMQTT{}
			Expect(export.NewMQTTExporter(logger, client, "t", nil).Close()).To(Succeed())
			Expect(client.disconnected).To(BeTrue())
		})
	})
})

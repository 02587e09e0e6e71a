package stream_test

import (
	"errors"
	"log/slog"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/energy-replay/internal/stream"
)

type failingSink struct {
	err   error
	id    string
	calls int
}

func (s *failingSink) ID() string { return s.id }

func (s *failingSink) Deliver(stream.Message) error {
	s.calls++
	if s.err == nil {
		panic("boom")
	}
	return s.err
}

var _ = Describe("Registry", func() {
	var (
		logger   *slog.Logger
		registry *stream.Registry
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
		registry = stream.NewRegistry(logger, nil)
	})

	Describe("Subscribe", func() {
		It("should treat subscriptions as a set", func() {
			sink := stream.NewChannelSink(4)
			registry.Subscribe(74, sink)
			registry.Subscribe(74, sink)

			Expect(registry.Count(74)).To(Equal(1))
			Expect(registry.Broadcast(74, "replay_tick", map[string]int{"n": 1})).To(Equal(1))
			Expect(sink.Messages()).To(HaveLen(1))
		})

		It("should keep buildings separate", func() {
			a := stream.NewChannelSink(4)
			b := stream.NewChannelSink(4)
			registry.Subscribe(74, a)
			registry.Subscribe(75, b)

			registry.Broadcast(74, "replay_tick", map[string]int{"n": 1})

			Expect(a.Messages()).To(HaveLen(1))
			Expect(b.Messages()).To(BeEmpty())
		})
	})

	Describe("Unsubscribe", func() {
		It("should stop deliveries", func() {
			sink := stream.NewChannelSink(4)
			registry.Subscribe(74, sink)
			registry.Unsubscribe(74, sink)

			Expect(registry.Count(74)).To(Equal(0))
			Expect(registry.Broadcast(74, "replay_tick", 1)).To(Equal(0))
			Expect(sink.Messages()).To(BeEmpty())
		})

		It("should be a no-op for unknown sinks", func() {
			Expect(func() {
				registry.Unsubscribe(1, stream.NewChannelSink(1))
			}).NotTo(Panic())
		})
	})

	Describe("Broadcast", func() {
		It("should return zero without subscribers", func() {
			Expect(registry.Broadcast(74, "replay_tick", 1)).To(Equal(0))
		})

		It("should deliver the encoded payload in order", func() {
			sink := stream.NewChannelSink(4)
			registry.Subscribe(74, sink)

			registry.Broadcast(74, "replay_tick", map[string]int{"seq": 1})
			registry.Broadcast(74, "replay_tick", map[string]int{"seq": 2})

			var first, second stream.Message
			Eventually(sink.Messages()).Should(Receive(&first))
			Eventually(sink.Messages()).Should(Receive(&second))
			Expect(first.Event).To(Equal("replay_tick"))
			Expect(string(first.Data)).To(Equal(`{"seq":1}`))
			Expect(string(second.Data)).To(Equal(`{"seq":2}`))
		})

		It("should isolate failing subscribers", func() {
			healthy := stream.NewChannelSink(4)
			erroring := &failingSink{id: "err", err: errors.New("closed")}
			panicking := &failingSink{id: "panic"}
			registry.Subscribe(74, erroring)
			registry.Subscribe(74, panicking)
			registry.Subscribe(74, healthy)

			delivered := registry.Broadcast(74, "replay_tick", 1)

			Expect(delivered).To(Equal(1))
			Expect(erroring.calls).To(Equal(1))
			Expect(panicking.calls).To(Equal(1))
			Expect(healthy.Messages()).To(HaveLen(1))
		})

		It("should drop messages for a full buffer", func() {
			sink := stream.NewChannelSink(1)
			registry.Subscribe(74, sink)

			Expect(registry.Broadcast(74, "replay_tick", 1)).To(Equal(1))
			Expect(registry.Broadcast(74, "replay_tick", 2)).To(Equal(0))
		})

		It("should swallow encoding failures", func() {
			sink := stream.NewChannelSink(1)
			registry.Subscribe(74, sink)

			Expect(registry.Broadcast(74, "replay_tick", make(chan int))).To(Equal(0))
			Expect(sink.Messages()).To(BeEmpty())
		})
	})

	Describe("ChannelSink", func() {
		It("should report ErrSinkFull", func() {
			sink := stream.NewChannelSink(1)
			Expect(sink.Deliver(stream.Message{})).To(Succeed())
			Expect(sink.Deliver(stream.Message{})).To(MatchError(stream.ErrSinkFull))
		})

		It("should assign unique ids", func() {
			Expect(stream.NewChannelSink(1).ID()).NotTo(Equal(stream.NewChannelSink(1).ID()))
		})
	})
})

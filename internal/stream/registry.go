// Package stream fans replay results out to live subscribers.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"procodus.dev/energy-replay/pkg/metrics"
)

// ErrSinkFull is returned by a sink that cannot accept more messages.
var ErrSinkFull = errors.New("subscriber buffer full")

// Message is one encoded event delivered to subscribers.
type Message struct {
	Event string
	Data  []byte
}

// Sink receives messages for one connection. Deliver must not block.
type Sink interface {
	ID() string
	Deliver(msg Message) error
}

// ChannelSink buffers messages for a single consumer goroutine.
type ChannelSink struct {
	ch chan Message
	id string
}

// NewChannelSink creates a sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		id: uuid.NewString(),
		ch: make(chan Message, buffer),
	}
}

// ID returns the connection id.
func (s *ChannelSink) ID() string {
	return s.id
}

// Deliver enqueues msg, failing with ErrSinkFull instead of blocking.
func (s *ChannelSink) Deliver(msg Message) error {
	select {
	case s.ch <- msg:
		return nil
	default:
		return ErrSinkFull
	}
}

// Messages returns the channel the consumer reads from.
func (s *ChannelSink) Messages() <-chan Message {
	return s.ch
}

// Registry tracks the live subscribers of each building.
type Registry struct {
	logger      *slog.Logger
	metrics     *metrics.ReplayMetrics
	subscribers map[int]map[Sink]struct{}
	mu          sync.RWMutex
}

// NewRegistry creates an empty Registry. m may be nil.
func NewRegistry(logger *slog.Logger, m *metrics.ReplayMetrics) *Registry {
	return &Registry{
		logger:      logger,
		metrics:     m,
		subscribers: make(map[int]map[Sink]struct{}),
	}
}

// Subscribe registers sink for buildingID. Subscribing the same sink twice
// has no additional effect.
func (r *Registry) Subscribe(buildingID int, sink Sink) {
	r.mu.Lock()
	set, ok := r.subscribers[buildingID]
	if !ok {
		set = make(map[Sink]struct{})
		r.subscribers[buildingID] = set
	}
	set[sink] = struct{}{}
	count := len(set)
	r.mu.Unlock()

	r.setGauge(buildingID, count)
	r.logger.Info("subscriber connected", "building_id", buildingID, "subscriber_id", sink.ID(), "subscribers", count)
}

// Unsubscribe removes sink from buildingID. It is a no-op if absent.
func (r *Registry) Unsubscribe(buildingID int, sink Sink) {
	r.mu.Lock()
	set, ok := r.subscribers[buildingID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if _, present := set[sink]; !present {
		r.mu.Unlock()
		return
	}
	delete(set, sink)
	count := len(set)
	if count == 0 {
		delete(r.subscribers, buildingID)
	}
	r.mu.Unlock()

	r.setGauge(buildingID, count)
	r.logger.Info("subscriber disconnected", "building_id", buildingID, "subscriber_id", sink.ID(), "subscribers", count)
}

// Count returns the number of subscribers for buildingID.
func (r *Registry) Count(buildingID int) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers[buildingID])
}

// Broadcast encodes payload once and delivers it to every subscriber of
// buildingID. Failures are isolated per subscriber and never returned; the
// number of successful deliveries is.
func (r *Registry) Broadcast(buildingID int, event string, payload any) int {
	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("failed to encode broadcast payload", "building_id", buildingID, "error", err)
		return 0
	}
	msg := Message{Event: event, Data: data}

	r.mu.RLock()
	sinks := make([]Sink, 0, len(r.subscribers[buildingID]))
	for sink := range r.subscribers[buildingID] {
		sinks = append(sinks, sink)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, sink := range sinks {
		if err := deliver(sink, msg); err != nil {
			r.logger.Warn("dropped message for subscriber",
				"building_id", buildingID,
				"subscriber_id", sink.ID(),
				"error", err,
			)
			if r.metrics != nil {
				reason := "error"
				if errors.Is(err, ErrSinkFull) {
					reason = "buffer_full"
				}
				r.metrics.BroadcastFailures.WithLabelValues(reason).Inc()
			}
			continue
		}
		delivered++
	}

	return delivered
}

// deliver isolates a misbehaving sink from the rest of the broadcast.
func deliver(sink Sink, msg Message) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("sink panicked: %v", rec)
		}
	}()
	return sink.Deliver(msg)
}

func (r *Registry) setGauge(buildingID, count int) {
	if r.metrics == nil {
		return
	}
	r.metrics.Subscribers.WithLabelValues(strconv.Itoa(buildingID)).Set(float64(count))
}

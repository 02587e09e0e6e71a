package stream

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// SSEConfig holds the configuration for SSEHandler.
type SSEConfig struct {
	Logger    *slog.Logger
	Registry  *Registry
	KeepAlive time.Duration
	Buffer    int
}

// SSEHandler streams a building's broadcasts as server-sent events.
type SSEHandler struct {
	logger    *slog.Logger
	registry  *Registry
	keepAlive time.Duration
	buffer    int
}

// NewSSEHandler creates a new SSEHandler instance.
func NewSSEHandler(cfg *SSEConfig) (*SSEHandler, error) {
	if cfg == nil {
		return nil, errors.New("sse config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Registry == nil {
		return nil, errors.New("registry cannot be nil")
	}

	keepAlive := cfg.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}

	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 64
	}

	return &SSEHandler{
		logger:    cfg.Logger,
		registry:  cfg.Registry,
		keepAlive: keepAlive,
		buffer:    buffer,
	}, nil
}

// Serve holds the connection open until the client goes away, writing every
// broadcast for buildingID and a comment line every keep-alive period. No
// HTTP error is written once headers are sent.
func (h *SSEHandler) Serve(w http.ResponseWriter, r *http.Request, buildingID int) {
	rc := http.NewResponseController(w)

	// The server write timeout would otherwise cut the stream.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Warn("failed to clear write deadline", "error", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Error("streaming unsupported", "error", err)
		return
	}

	sink := NewChannelSink(h.buffer)
	h.registry.Subscribe(buildingID, sink)
	defer h.registry.Unsubscribe(buildingID, sink)

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ":\n\n"); err != nil {
				return
			}

		case msg := <-sink.Messages():
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, msg.Data); err != nil {
				h.logger.Debug("subscriber write failed", "subscriber_id", sink.ID(), "error", err)
				return
			}
		}

		if err := rc.Flush(); err != nil {
			return
		}
	}
}

package predict

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// maxResponseSize bounds how much of a model response is read.
const maxResponseSize = 1 << 20

// HTTPConfig holds the configuration for HTTPClient.
type HTTPConfig struct {
	Logger *slog.Logger
	// HTTPClient is optional; a client with Timeout is created when nil.
	HTTPClient *http.Client
	// URL is the model endpoint, e.g. http://127.0.0.1:6000/predict.
	URL     string
	Timeout time.Duration
}

// HTTPClient calls a model served over HTTP+JSON.
type HTTPClient struct {
	logger *slog.Logger
	client *http.Client
	url    string
}

// NewHTTPClient creates a new HTTPClient instance.
func NewHTTPClient(cfg *HTTPConfig) (*HTTPClient, error) {
	if cfg == nil {
		return nil, errors.New("predictor config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.URL == "" {
		return nil, errors.New("model URL cannot be empty")
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	return &HTTPClient{
		logger: cfg.Logger,
		client: client,
		url:    cfg.URL,
	}, nil
}

// Predict posts the feature vector and decodes the model answer.
func (c *HTTPClient) Predict(ctx context.Context, features Features) (Result, error) {
	body, err := encodeRequest(features)
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("failed to build model request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("model request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close model response body", "error", closeErr)
		}
	}()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return Result{}, fmt.Errorf("failed to read model response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("model returned status %d: %s", resp.StatusCode, bytes.TrimSpace(payload))
	}

	return decodeResponse(payload)
}

// Ensure HTTPClient implements Predictor.
var _ Predictor = (*HTTPClient)(nil)

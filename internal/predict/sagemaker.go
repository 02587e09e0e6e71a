package predict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"
)

// EndpointInvoker is the subset of the SageMaker runtime API used here.
type EndpointInvoker interface {
	InvokeEndpoint(ctx context.Context, params *sagemakerruntime.InvokeEndpointInput, optFns ...func(*sagemakerruntime.Options)) (*sagemakerruntime.InvokeEndpointOutput, error)
}

// SageMakerConfig holds the configuration for SageMakerClient.
type SageMakerConfig struct {
	Logger *slog.Logger
	// Invoker is optional; a runtime client built from the default AWS
	// credential chain is used when nil.
	Invoker  EndpointInvoker
	Endpoint string
	Region   string
}

// SageMakerClient calls a model hosted on a SageMaker inference endpoint.
// The endpoint must accept and answer the same JSON contract as HTTPClient.
type SageMakerClient struct {
	logger   *slog.Logger
	invoker  EndpointInvoker
	endpoint string
}

// NewSageMakerClient creates a new SageMakerClient instance.
func NewSageMakerClient(ctx context.Context, cfg *SageMakerConfig) (*SageMakerClient, error) {
	if cfg == nil {
		return nil, errors.New("sagemaker config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Endpoint == "" {
		return nil, errors.New("sagemaker endpoint cannot be empty")
	}

	invoker := cfg.Invoker
	if invoker == nil {
		awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("unable to load AWS config: %w", err)
		}
		invoker = sagemakerruntime.NewFromConfig(awsCfg)
	}

	return &SageMakerClient{
		logger:   cfg.Logger,
		invoker:  invoker,
		endpoint: cfg.Endpoint,
	}, nil
}

// Predict invokes the endpoint with the feature vector.
func (c *SageMakerClient) Predict(ctx context.Context, features Features) (Result, error) {
	body, err := encodeRequest(features)
	if err != nil {
		return Result{}, err
	}

	output, err := c.invoker.InvokeEndpoint(ctx, &sagemakerruntime.InvokeEndpointInput{
		EndpointName: aws.String(c.endpoint),
		Body:         body,
		ContentType:  aws.String("application/json"),
		Accept:       aws.String("application/json"),
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to invoke endpoint %s: %w", c.endpoint, err)
	}

	result, err := decodeResponse(output.Body)
	if err != nil {
		return Result{}, err
	}
	if result.ModelVersion == "" {
		result.ModelVersion = c.endpoint
	}

	return result, nil
}

// Ensure SageMakerClient implements Predictor.
var _ Predictor = (*SageMakerClient)(nil)

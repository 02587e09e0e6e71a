package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/energy-replay/internal/export"
	"procodus.dev/energy-replay/internal/server"
	"procodus.dev/energy-replay/pkg/metrics"
)

// metricsNamespace prefixes every exported Prometheus metric.
const metricsNamespace = "energy_replay"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the replay server",
	Long: `Run the replay server that:
- Replays historical consumption per building on a timer
- Predicts each hour via the model service and flags peaks
- Streams tick results to dashboards as server-sent events
- Optionally exports tick results to AMQP, Kafka or MQTT
- Serves gRPC health checks`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Serve-specific flags
	serveCmd.Flags().Int("http-port", 8080, "HTTP server port")
	serveCmd.Flags().Int("grpc-port", 9090, "gRPC health server port")
	serveCmd.Flags().String("model-kind", server.ModelHTTP, "model backend (http, sagemaker)")
	serveCmd.Flags().String("model-url", "http://localhost:8000/predict", "prediction endpoint URL")
	serveCmd.Flags().Duration("model-timeout", 2500*time.Millisecond, "prediction timeout")
	serveCmd.Flags().String("sagemaker-endpoint", "", "SageMaker endpoint name")
	serveCmd.Flags().String("sagemaker-region", "", "SageMaker region (defaults to the AWS config)")
	serveCmd.Flags().Int("default-building", 74, "building used when a request omits buildingId")
	serveCmd.Flags().Duration("default-speed", 5*time.Second, "replay interval used when a request omits speed")
	serveCmd.Flags().Float64("fallback-low", 0.97, "lower bound of the fallback prediction band")
	serveCmd.Flags().Float64("fallback-high", 1.03, "upper bound of the fallback prediction band")
	serveCmd.Flags().String("timezone", "UTC", "zone used for calendar features and local timestamps")
	serveCmd.Flags().Bool("persist-predictions", true, "write every prediction to the prediction log")
	serveCmd.Flags().Duration("stream-keepalive", 15*time.Second, "interval between stream keep-alive comments")
	serveCmd.Flags().Int("stream-buffer", 64, "events buffered per stream subscriber")
	serveCmd.Flags().String("export-kind", export.KindNone, "tick export (none, amqp, kafka, mqtt)")
	serveCmd.Flags().String("export-url", "", "export broker URL")
	serveCmd.Flags().String("export-topic", "replay-ticks", "export queue or topic")

	// Bind flags to viper
	_ = viper.BindPFlag("http.port", serveCmd.Flags().Lookup("http-port"))
	_ = viper.BindPFlag("grpc.port", serveCmd.Flags().Lookup("grpc-port"))
	_ = viper.BindPFlag("model.kind", serveCmd.Flags().Lookup("model-kind"))
	_ = viper.BindPFlag("model.url", serveCmd.Flags().Lookup("model-url"))
	_ = viper.BindPFlag("model.timeout", serveCmd.Flags().Lookup("model-timeout"))
	_ = viper.BindPFlag("model.sagemaker.endpoint", serveCmd.Flags().Lookup("sagemaker-endpoint"))
	_ = viper.BindPFlag("model.sagemaker.region", serveCmd.Flags().Lookup("sagemaker-region"))
	_ = viper.BindPFlag("replay.default_building", serveCmd.Flags().Lookup("default-building"))
	_ = viper.BindPFlag("replay.default_speed", serveCmd.Flags().Lookup("default-speed"))
	_ = viper.BindPFlag("replay.fallback_low", serveCmd.Flags().Lookup("fallback-low"))
	_ = viper.BindPFlag("replay.fallback_high", serveCmd.Flags().Lookup("fallback-high"))
	_ = viper.BindPFlag("replay.timezone", serveCmd.Flags().Lookup("timezone"))
	_ = viper.BindPFlag("replay.persist_predictions", serveCmd.Flags().Lookup("persist-predictions"))
	_ = viper.BindPFlag("stream.keepalive", serveCmd.Flags().Lookup("stream-keepalive"))
	_ = viper.BindPFlag("stream.buffer", serveCmd.Flags().Lookup("stream-buffer"))
	_ = viper.BindPFlag("export.kind", serveCmd.Flags().Lookup("export-kind"))
	_ = viper.BindPFlag("export.url", serveCmd.Flags().Lookup("export-url"))
	_ = viper.BindPFlag("export.topic", serveCmd.Flags().Lookup("export-topic"))
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting replay service")

	loc, err := time.LoadLocation(viper.GetString("replay.timezone"))
	if err != nil {
		return fmt.Errorf("invalid timezone: %w", err)
	}

	// Create server configuration from viper
	config := &server.ServerConfig{
		Logger: logger,
		Metrics: server.Metrics{
			Replay: metrics.NewReplayMetrics(metricsNamespace),
			Store:  metrics.NewStoreMetrics(metricsNamespace),
			HTTP:   metrics.NewHTTPMetrics(metricsNamespace),
			MQ:     metrics.NewMQMetrics(metricsNamespace),
		},
		Store: *storeConfig(logger),
		Model: server.ModelConfig{
			Kind:              viper.GetString("model.kind"),
			URL:               viper.GetString("model.url"),
			SageMakerEndpoint: viper.GetString("model.sagemaker.endpoint"),
			SageMakerRegion:   viper.GetString("model.sagemaker.region"),
			Timeout:           viper.GetDuration("model.timeout"),
		},
		Replay: server.ReplayConfig{
			Location:           loc,
			DefaultBuilding:    viper.GetInt("replay.default_building"),
			DefaultSpeed:       viper.GetDuration("replay.default_speed"),
			FallbackLow:        viper.GetFloat64("replay.fallback_low"),
			FallbackHigh:       viper.GetFloat64("replay.fallback_high"),
			PersistPredictions: viper.GetBool("replay.persist_predictions"),
		},
		Stream: server.StreamConfig{
			KeepAlive: viper.GetDuration("stream.keepalive"),
			Buffer:    viper.GetInt("stream.buffer"),
		},
		Export: export.Config{
			Kind:  viper.GetString("export.kind"),
			URL:   viper.GetString("export.url"),
			Topic: viper.GetString("export.topic"),
		},
		HTTPPort: viper.GetInt("http.port"),
		GRPCPort: viper.GetInt("grpc.port"),
	}

	// Create and run server
	srv, err := server.NewServer(config)
	if err != nil {
		logger.Error("failed to create replay server", "error", err)
		return err
	}

	logger.Info("replay server configuration",
		"db_driver", config.Store.Driver,
		"db_host", config.Store.Host,
		"model_kind", config.Model.Kind,
		"model_url", config.Model.URL,
		"default_building", config.Replay.DefaultBuilding,
		"timezone", loc.String(),
		"export_kind", config.Export.Kind,
		"http_port", config.HTTPPort,
		"grpc_port", config.GRPCPort,
	)

	if err := srv.Run(context.Background()); err != nil {
		logger.Error("replay server error", "error", err)
		return err
	}

	logger.Info("replay server stopped")
	return nil
}

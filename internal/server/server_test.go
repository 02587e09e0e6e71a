package server_test

import (
	"log/slog"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/energy-replay/internal/server"
)

var _ = Describe("Server", func() {
	var (
		logger *slog.Logger
		config *server.ServerConfig
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
		config = &server.ServerConfig{
			Logger:   logger,
			HTTPPort: 8080,
			GRPCPort: 9090,
			Model: server.ModelConfig{
				Kind: server.ModelHTTP,
				URL:  "http://localhost:8000/predict",
			},
			Replay: server.ReplayConfig{
				DefaultBuilding: 74,
				DefaultSpeed:    5 * time.Second,
			},
		}
	})

	Describe("NewServer", func() {
		It("should create a server", func() {
			srv, err := server.NewServer(config)
			Expect(err).NotTo(HaveOccurred())
			Expect(srv).NotTo(BeNil())
		})

		It("should accept a SageMaker model", func() {
			config.Model = server.ModelConfig{
				Kind:              server.ModelSageMaker,
				SageMakerEndpoint: "consumption-forecast",
				SageMakerRegion:   "eu-central-1",
			}

			_, err := server.NewServer(config)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should return error when config is nil", func() {
			srv, err := server.NewServer(nil)
			Expect(err).To(MatchError(ContainSubstring("config cannot be nil")))
			Expect(srv).To(BeNil())
		})

		DescribeTable("should reject invalid configuration",
			func(mutate func(*server.ServerConfig), message string) {
				mutate(config)

				srv, err := server.NewServer(config)
				Expect(err).To(MatchError(ContainSubstring(message)))
				Expect(srv).To(BeNil())
			},
			Entry("nil logger", func(c *server.ServerConfig) { c.Logger = nil }, "logger"),
			Entry("zero HTTP port", func(c *server.ServerConfig) { c.HTTPPort = 0 }, "HTTP port"),
			Entry("negative gRPC port", func(c *server.ServerConfig) { c.GRPCPort = -1 }, "gRPC port"),
			Entry("missing model URL", func(c *server.ServerConfig) { c.Model.URL = "" }, "model URL"),
			Entry("missing SageMaker endpoint", func(c *server.ServerConfig) {
				c.Model = server.ModelConfig{Kind: server.ModelSageMaker}
			}, "sagemaker endpoint"),
			Entry("unknown model kind", func(c *server.ServerConfig) { c.Model.Kind = "onnx" }, "unknown model kind"),
			Entry("zero default building", func(c *server.ServerConfig) { c.Replay.DefaultBuilding = 0 }, "default building"),
			Entry("zero default speed", func(c *server.ServerConfig) { c.Replay.DefaultSpeed = 0 }, "default speed"),
		)
	})

	Describe("Shutdown", func() {
		It("should shutdown cleanly with no initialized components", func() {
			srv, err := server.NewServer(config)
			Expect(err).NotTo(HaveOccurred())

			Expect(srv.Shutdown()).To(Succeed())
		})

		It("should handle multiple shutdown calls", func() {
			srv, err := server.NewServer(config)
			Expect(err).NotTo(HaveOccurred())

			Expect(srv.Shutdown()).To(Succeed())
			Expect(srv.Shutdown()).To(Succeed())
		})
	})
})

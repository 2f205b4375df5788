package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/forward-proxy/pkg/logger"
)

var _ = Describe("Logger", func() {
	ctx := context.Background()

	Describe("New", func() {
		It("should create a stdout logger", func() {
			Expect(logger.New("info", false, "dev")).NotTo(BeNil())
		})

		DescribeTable("level handling",
			func(level string, enabled, disabled slog.Level) {
				log := logger.New(level, false, "dev")
				Expect(log.Enabled(ctx, enabled)).To(BeTrue())
				Expect(log.Enabled(ctx, disabled)).To(BeFalse())
			},
			Entry("info", "info", slog.LevelInfo, slog.LevelDebug),
			Entry("debug", "debug", slog.LevelDebug, slog.LevelDebug-4),
			Entry("warn", "warn", slog.LevelWarn, slog.LevelInfo),
			Entry("error", "error", slog.LevelError, slog.LevelWarn),
			Entry("upper case", "DEBUG", slog.LevelDebug, slog.LevelDebug-4),
			Entry("unknown defaults to info", "invalid", slog.LevelInfo, slog.LevelDebug),
		)
	})

	Describe("NewWithWriter", func() {
		var buf *bytes.Buffer

		BeforeEach(func() {
			buf = &bytes.Buffer{}
		})

		It("should write JSON in prod", func() {
			logger.NewWithWriter(buf, "info", false, "prod").Info("listening", slog.String("address", "127.0.0.1:8080"))

			var record map[string]any
			Expect(json.Unmarshal(buf.Bytes(), &record)).To(Succeed())
			Expect(record).To(HaveKeyWithValue("msg", "listening"))
			Expect(record).To(HaveKeyWithValue("environment", "prod"))
			Expect(record).To(HaveKeyWithValue("address", "127.0.0.1:8080"))
		})

		It("should write text outside prod", func() {
			logger.NewWithWriter(buf, "info", false, "staging").Info("client connected")
			Expect(buf.String()).To(ContainSubstring(`msg="client connected"`))
			Expect(buf.String()).To(ContainSubstring("environment=staging"))
		})

		It("should include the source when asked", func() {
			logger.NewWithWriter(buf, "info", true, "prod").Info("hello")

			var record map[string]any
			Expect(json.Unmarshal(buf.Bytes(), &record)).To(Succeed())
			Expect(record).To(HaveKey(slog.SourceKey))
		})

		It("should drop records below the level", func() {
			logger.NewWithWriter(buf, "warn", false, "dev").Info("quiet")
			Expect(buf.Len()).To(BeZero())
		})
	})
})

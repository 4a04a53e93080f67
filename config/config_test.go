package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/pflag"

	"github.com/angeloszaimis/http-load-balancer/config"
)

var _ = Describe("Config", func() {
	var tempDir string

	writeConfig := func(dir, content string) string {
		GinkgoHelper()
		path := filepath.Join(dir, "config.yaml")
		Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())
		return path
	}

	setenv := func(key, value string) {
		Expect(os.Setenv(key, value)).To(Succeed())
		DeferCleanup(os.Unsetenv, key)
	}

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "config-test-*")
		Expect(err).NotTo(HaveOccurred())

		wd, err := os.Getwd()
		Expect(err).NotTo(HaveOccurred())
		Expect(os.Chdir(tempDir)).To(Succeed())

		DeferCleanup(func() {
			Expect(os.Chdir(wd)).To(Succeed())
			os.RemoveAll(tempDir)
		})
	})

	Describe("Load", func() {
		Context("with flags only", func() {
			It("should apply defaults for everything not given", func() {
				cfg, err := config.Load([]string{"-t", "http://localhost:8081,http://localhost:8082"})
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.Backends).To(Equal([]string{"http://localhost:8081", "http://localhost:8082"}))
				Expect(cfg.Server.Port).To(Equal(8080))
				Expect(cfg.Server.Environment).To(Equal(config.EnvDev))
				Expect(cfg.Server.ShutdownTimeout).To(Equal(30 * time.Second))
				Expect(cfg.Routing.Policy).To(Equal("round-robin"))
				Expect(cfg.HealthCheck.Path).To(Equal("/health"))
				Expect(cfg.HealthCheck.IntervalDuration()).To(Equal(5 * time.Second))
				Expect(cfg.HealthCheck.Timeout).To(Equal(5 * time.Second))
				Expect(cfg.Proxy.Timeout).To(Equal(30 * time.Second))
				Expect(cfg.RateLimit.Enabled()).To(BeFalse())
				Expect(cfg.Admin.Enabled).To(BeTrue())
				Expect(cfg.Admin.Address).To(Equal(":9090"))
				Expect(cfg.Logging.Level).To(Equal(config.LogLevelInfo))
				Expect(cfg.SourceFile).To(BeEmpty())
			})

			It("should parse long and short flags", func() {
				cfg, err := config.Load([]string{
					"--port", "3000",
					"--target-servers", "http://a:1, http://b:2",
					"-r", "random",
					"--health-check-path", "/ready",
					"--health-check-interval", "2",
					"--proxy-timeout", "10s",
					"--admin-address", "127.0.0.1:9191",
					"--log-level", "debug",
				})
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.Server.Port).To(Equal(3000))
				Expect(cfg.ListenAddress()).To(Equal(":3000"))
				Expect(cfg.Backends).To(Equal([]string{"http://a:1", "http://b:2"}))
				Expect(cfg.Routing.Policy).To(Equal("random"))
				Expect(cfg.HealthCheck.Path).To(Equal("/ready"))
				Expect(cfg.HealthCheck.IntervalDuration()).To(Equal(2 * time.Second))
				Expect(cfg.Proxy.Timeout).To(Equal(10 * time.Second))
				Expect(cfg.Admin.Address).To(Equal("127.0.0.1:9191"))
				Expect(cfg.Logging.Level).To(Equal(config.LogLevelDebug))
			})

			It("should accept repeated target server flags", func() {
				cfg, err := config.Load([]string{"-t", "http://a:1", "-t", "http://b:2"})
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Backends).To(Equal([]string{"http://a:1", "http://b:2"}))
			})

			It("should report help requests", func() {
				_, err := config.Load([]string{"--help"})
				Expect(errors.Is(err, pflag.ErrHelp)).To(BeTrue())
			})

			It("should reject unknown flags", func() {
				_, err := config.Load([]string{"--no-such-flag"})
				Expect(err).To(HaveOccurred())
			})
		})

		Context("with valid config file", func() {
			BeforeEach(func() {
				writeConfig(tempDir, `
server:
  port: 8000
  host: "127.0.0.1"
  environment: "prod"
  shutdown_timeout: "10s"

backends:
  - "http://localhost:8081"
  - "http://localhost:8082"

routing:
  policy: "random"

health_check:
  path: "/healthz"
  interval: 10
  timeout: "2s"

rate_limit:
  requests_per_second: 2.5

admin:
  enabled: false

logging:
  level: "warn"
`)
			})

			It("should load configuration successfully", func() {
				cfg, err := config.Load(nil)
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.SourceFile).To(HaveSuffix("config.yaml"))
				Expect(cfg.ListenAddress()).To(Equal("127.0.0.1:8000"))
				Expect(cfg.Server.Environment).To(Equal(config.EnvProd))
				Expect(cfg.Server.ShutdownTimeout).To(Equal(10 * time.Second))
				Expect(cfg.Backends).To(HaveLen(2))
				Expect(cfg.Routing.Policy).To(Equal("random"))
				Expect(cfg.HealthCheck.Path).To(Equal("/healthz"))
				Expect(cfg.HealthCheck.IntervalDuration()).To(Equal(10 * time.Second))
				Expect(cfg.HealthCheck.Timeout).To(Equal(2 * time.Second))
				Expect(cfg.RateLimit.Enabled()).To(BeTrue())
				Expect(cfg.RateLimit.RequestsPerSecond).To(Equal(2.5))
				Expect(cfg.Admin.Enabled).To(BeFalse())
				Expect(cfg.Logging.Level).To(Equal(config.LogLevelWarn))
			})

			It("should let flags override the file", func() {
				cfg, err := config.Load([]string{"-r", "round-robin", "-p", "9000"})
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Routing.Policy).To(Equal("round-robin"))
				Expect(cfg.Server.Port).To(Equal(9000))
			})

			It("should let environment variables override the file", func() {
				setenv("ROUTING_POLICY", "round-robin")
				setenv("LOGGING_LEVEL", "error")

				cfg, err := config.Load(nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Routing.Policy).To(Equal("round-robin"))
				Expect(cfg.Logging.Level).To(Equal(config.LogLevelError))
			})
		})

		Context("with an explicit config path", func() {
			It("should read the given file", func() {
				other, err := os.MkdirTemp("", "config-explicit-*")
				Expect(err).NotTo(HaveOccurred())
				DeferCleanup(os.RemoveAll, other)

				path := writeConfig(other, "backends: [\"http://localhost:7001\"]\n")

				cfg, err := config.Load([]string{"--config", path})
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.SourceFile).To(Equal(path))
				Expect(cfg.Backends).To(Equal([]string{"http://localhost:7001"}))
			})

			It("should fail when the file does not exist", func() {
				_, err := config.Load([]string{"--config", filepath.Join(tempDir, "missing.yaml")})
				Expect(err).To(HaveOccurred())
			})
		})

		Context("with environment variables", func() {
			It("should read comma separated backends", func() {
				setenv("BACKENDS", "http://localhost:8081,http://localhost:8082")

				cfg, err := config.Load(nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Backends).To(Equal([]string{"http://localhost:8081", "http://localhost:8082"}))
			})

			It("should read nested keys", func() {
				setenv("BACKENDS", "http://localhost:8081")
				setenv("HEALTH_CHECK_INTERVAL", "750ms")
				setenv("PROXY_TIMEOUT", "3s")

				cfg, err := config.Load(nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.HealthCheck.IntervalDuration()).To(Equal(750 * time.Millisecond))
				Expect(cfg.Proxy.Timeout).To(Equal(3 * time.Second))
			})
		})

		DescribeTable("should reject invalid configuration before listening",
			func(args ...string) {
				cfg, err := config.Load(args)
				Expect(err).To(MatchError(config.ErrInvalidConfig))
				Expect(cfg).To(BeNil())
			},
			Entry("no backends"),
			Entry("empty backend list", "-t", " , "),
			Entry("backend without scheme", "-t", "localhost:8081"),
			Entry("backend with unsupported scheme", "-t", "ftp://localhost:8081"),
			Entry("duplicate backends", "-t", "http://a:1,http://a:1/"),
			Entry("unknown routing policy", "-t", "http://a:1", "-r", "least-conn"),
			Entry("port out of range", "-t", "http://a:1", "-p", "70000"),
			Entry("zero port", "-t", "http://a:1", "-p", "0"),
			Entry("unknown environment", "-t", "http://a:1", "--env", "qa"),
			Entry("health path without slash", "-t", "http://a:1", "--health-check-path", "health"),
			Entry("zero interval", "-t", "http://a:1", "--health-check-interval", "0"),
			Entry("unparsable interval", "-t", "http://a:1", "--health-check-interval", "soon"),
			Entry("zero proxy timeout", "-t", "http://a:1", "--proxy-timeout", "0s"),
			Entry("bad admin address", "-t", "http://a:1", "--admin-address", "9090"),
			Entry("unknown log level", "-t", "http://a:1", "--log-level", "verbose"),
		)
	})

	Describe("HealthCheckConfig.IntervalDuration", func() {
		DescribeTable("should parse seconds and durations",
			func(raw string, expected time.Duration) {
				d, err := config.HealthCheckConfig{Interval: raw}.IntervalDuration()
				Expect(err).NotTo(HaveOccurred())
				Expect(d).To(Equal(expected))
			},
			Entry("bare seconds", "5", 5*time.Second),
			Entry("fractional seconds", "0.5", 500*time.Millisecond),
			Entry("duration", "1m30s", 90*time.Second),
			Entry("milliseconds", "250ms", 250*time.Millisecond),
		)
	})
})

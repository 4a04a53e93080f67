package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/http-load-balancer/config"
	"github.com/angeloszaimis/http-load-balancer/internal/backend"
	"github.com/angeloszaimis/http-load-balancer/internal/registry"
	"github.com/angeloszaimis/http-load-balancer/internal/strategy"
)

var _ = Describe("buildBackends", func() {
	It("should build backends in configuration order", func() {
		backends, err := buildBackends([]string{
			"http://localhost:8080",
			"https://api.example.com",
			"http://localhost:8082/api/v1",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(backends).To(HaveLen(3))

		for i, b := range backends {
			Expect(b.ID()).To(Equal(i))
		}
		Expect(backends[1].String()).To(Equal("https://api.example.com"))
		Expect(backends[2].URL().Path).To(Equal("/api/v1"))
	})

	It("should return an error when no backends are configured", func() {
		backends, err := buildBackends(nil)
		Expect(err).To(MatchError(registry.ErrNoBackends))
		Expect(backends).To(BeNil())
	})

	It("should reject an invalid URL instead of skipping it", func() {
		backends, err := buildBackends([]string{"http://localhost:8080", "://invalid"})
		Expect(err).To(MatchError(backend.ErrInvalidURL))
		Expect(backends).To(BeNil())
	})
})

var _ = Describe("createStrategy", func() {
	DescribeTable("valid policies",
		func(policy string) {
			strat, err := createStrategy(policy)
			Expect(err).NotTo(HaveOccurred())
			Expect(strat.Name()).To(Equal(policy))
		},
		Entry("round-robin", "round-robin"),
		Entry("random", "random"),
	)

	DescribeTable("unknown policies are configuration errors",
		func(policy string) {
			strat, err := createStrategy(policy)
			Expect(err).To(MatchError(strategy.ErrUnknownPolicy))
			Expect(strat).To(BeNil())
		},
		Entry("empty", ""),
		Entry("mixed case", "Round-Robin"),
		Entry("unsupported", "least-conn"),
	)
})

var _ = Describe("load balancer process", func() {
	var (
		log          *slog.Logger
		mockBackend1 *httptest.Server
		mockBackend2 *httptest.Server
		health2      atomic.Int32
	)

	newConfig := func(args ...string) *config.Config {
		GinkgoHelper()
		base := []string{
			"-t", mockBackend1.URL + "," + mockBackend2.URL,
			"--host", "127.0.0.1",
			"-p", "1",
			"--admin-address", "127.0.0.1:0",
			"--health-check-interval", "50ms",
		}
		cfg, err := config.Load(append(base, args...))
		Expect(err).NotTo(HaveOccurred())
		// Port 0 is rejected by validation; bind an ephemeral port in tests.
		cfg.Server.Port = 0
		return cfg
	}

	start := func(a *app) (context.CancelFunc, chan error) {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- a.run(ctx)
		}()
		Eventually(a.proxyServer.Addr).ShouldNot(HaveSuffix(":0"))
		Eventually(a.adminServer.Addr).ShouldNot(HaveSuffix(":0"))
		return cancel, done
	}

	get := func(url string) (int, string) {
		resp, err := http.Get(url)
		if err != nil {
			return 0, err.Error()
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	BeforeEach(func() {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
		health2.Store(http.StatusOK)

		mockBackend1 = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("backend1"))
		}))
		mockBackend2 = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				w.WriteHeader(int(health2.Load()))
				return
			}
			_, _ = w.Write([]byte("backend2"))
		}))
	})

	AfterEach(func() {
		mockBackend1.Close()
		mockBackend2.Close()
	})

	It("should balance, report status and shut down cleanly", func() {
		a, err := newApp(newConfig(), log)
		Expect(err).NotTo(HaveOccurred())

		cancel, done := start(a)
		defer cancel()

		proxyURL := "http://" + a.proxyServer.Addr()
		adminURL := "http://" + a.adminServer.Addr()

		Eventually(func() []*backend.Backend {
			return a.registry.HealthySnapshot()
		}).Should(HaveLen(2))

		seen := map[string]int{}
		for range 4 {
			code, body := get(proxyURL + "/")
			Expect(code).To(Equal(http.StatusOK))
			seen[body]++
		}
		Expect(seen).To(Equal(map[string]int{"backend1": 2, "backend2": 2}))

		code, body := get(adminURL + "/health")
		Expect(code).To(Equal(http.StatusOK))
		Expect(body).To(Equal("PONG"))

		code, body = get(adminURL + "/status")
		Expect(code).To(Equal(http.StatusOK))
		Expect(body).To(ContainSubstring(`"policy":"round-robin"`))
		Expect(body).To(ContainSubstring(`"healthy":2`))

		Eventually(func() string {
			_, body := get(adminURL + "/metrics")
			return body
		}).Should(ContainSubstring(`loadbalancer_requests_total{backend="` + mockBackend1.URL + `",outcome="forwarded"} 2`))

		cancel()
		Eventually(done, 5*time.Second).Should(Receive(BeNil()))

		code, _ = get(proxyURL + "/")
		Expect(code).To(BeZero())
	})

	It("should stop routing to a backend that fails its health check", func() {
		a, err := newApp(newConfig(), log)
		Expect(err).NotTo(HaveOccurred())

		cancel, done := start(a)
		defer cancel()

		proxyURL := "http://" + a.proxyServer.Addr()
		Eventually(a.registry.HealthySnapshot).Should(HaveLen(2))

		health2.Store(http.StatusInternalServerError)
		Eventually(a.registry.HealthySnapshot).Should(HaveLen(1))

		for range 4 {
			_, body := get(proxyURL + "/")
			Expect(body).To(Equal("backend1"))
		}

		health2.Store(http.StatusOK)
		Eventually(a.registry.HealthySnapshot).Should(HaveLen(2))

		cancel()
		Eventually(done, 5*time.Second).Should(Receive(BeNil()))
	})

	It("should answer 503 while no backend is healthy", func() {
		mockBackend1.Close()
		health2.Store(http.StatusServiceUnavailable)

		a, err := newApp(newConfig(), log)
		Expect(err).NotTo(HaveOccurred())

		cancel, done := start(a)
		defer cancel()

		code, _ := get("http://" + a.proxyServer.Addr() + "/")
		Expect(code).To(Equal(http.StatusServiceUnavailable))

		cancel()
		Eventually(done, 5*time.Second).Should(Receive(BeNil()))
	})

	It("should fail to start when the listen port is taken", func() {
		occupied, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		defer occupied.Close()

		cfg := newConfig()
		cfg.Server.Port = occupied.Addr().(*net.TCPAddr).Port

		a, err := newApp(cfg, log)
		Expect(err).NotTo(HaveOccurred())

		Expect(a.run(context.Background())).To(HaveOccurred())
	})
})

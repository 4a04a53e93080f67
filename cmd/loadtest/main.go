// Loadtest sends concurrent requests through the load balancer and reports
// throughput, latency percentiles and how requests were spread across
// backends. Backends are identified by the "backend" field that
// dummy-backend puts in every response.
//
// Usage:
//
//	go run ./cmd/loadtest --url http://localhost:8080/ --concurrency 10 --requests 1000
//	go run ./cmd/loadtest --url http://localhost:8080/ --requests 5000 --out summary.json
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const unknownBackend = "(unknown)"

type options struct {
	URL         string
	Method      string
	Body        string
	ContentType string
	Concurrency int
	Requests    int
	Timeout     time.Duration
}

type backendStats struct {
	Count   int `json:"count"`
	Success int `json:"success"`
	Failure int `json:"failure"`
}

type summary struct {
	Total       int                      `json:"total"`
	Success     int                      `json:"success"`
	Failure     int                      `json:"failure"`
	Errors      int                      `json:"errors"`
	Elapsed     time.Duration            `json:"elapsed"`
	RPS         float64                  `json:"rps"`
	Latency     map[string]time.Duration `json:"latency"`
	StatusCodes map[int]int              `json:"status_codes"`
	Backends    map[string]*backendStats `json:"backends"`
	// Spread is the difference between the busiest and the idlest backend.
	Spread int `json:"spread"`
}

type result struct {
	backend  string
	status   int
	duration time.Duration
	err      error
}

func runLoad(ctx context.Context, client *http.Client, opts options) (*summary, error) {
	results := make([]result, opts.Requests)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	start := time.Now()
	for i := range opts.Requests {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results[i] = send(gctx, client, opts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return summarize(results, time.Since(start)), ctx.Err()
}

func send(ctx context.Context, client *http.Client, opts options) result {
	var body io.Reader
	if opts.Body != "" {
		body = strings.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(ctx, opts.Method, opts.URL, body)
	if err != nil {
		return result{err: err}
	}
	if opts.Body != "" {
		req.Header.Set("Content-Type", opts.ContentType)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return result{err: err, duration: time.Since(start)}
	}
	defer resp.Body.Close()

	var payload struct {
		Backend string `json:"backend"`
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &payload)

	backend := payload.Backend
	if backend == "" {
		backend = unknownBackend
	}

	return result{backend: backend, status: resp.StatusCode, duration: time.Since(start)}
}

func summarize(results []result, elapsed time.Duration) *summary {
	s := &summary{
		Elapsed:     elapsed,
		StatusCodes: make(map[int]int),
		Backends:    make(map[string]*backendStats),
	}

	latencies := make([]time.Duration, 0, len(results))
	for _, r := range results {
		if r.status == 0 && r.err == nil {
			// never sent
			continue
		}

		s.Total++
		latencies = append(latencies, r.duration)

		if r.err != nil {
			s.Errors++
			s.Failure++
			continue
		}

		s.StatusCodes[r.status]++
		ok := r.status >= 200 && r.status <= 299
		if ok {
			s.Success++
		} else {
			s.Failure++
		}

		if !ok && r.backend == unknownBackend {
			// rejected by the load balancer itself
			continue
		}

		bs, found := s.Backends[r.backend]
		if !found {
			bs = &backendStats{}
			s.Backends[r.backend] = bs
		}
		bs.Count++
		if ok {
			bs.Success++
		} else {
			bs.Failure++
		}
	}

	if elapsed > 0 {
		s.RPS = float64(s.Total) / elapsed.Seconds()
	}
	s.Latency = percentiles(latencies)
	s.Spread = spread(s.Backends)

	return s
}

func percentiles(latencies []time.Duration) map[string]time.Duration {
	out := make(map[string]time.Duration)
	if len(latencies) == 0 {
		return out
	}

	slices.Sort(latencies)
	pick := func(p float64) time.Duration {
		idx := int(float64(len(latencies)-1) * p)
		return latencies[idx]
	}

	out["min"] = latencies[0]
	out["p50"] = pick(0.50)
	out["p90"] = pick(0.90)
	out["p95"] = pick(0.95)
	out["p99"] = pick(0.99)
	out["max"] = latencies[len(latencies)-1]

	return out
}

func spread(backends map[string]*backendStats) int {
	if len(backends) == 0 {
		return 0
	}

	lo, hi := -1, 0
	for _, bs := range backends {
		hi = max(hi, bs.Count)
		if lo == -1 || bs.Count < lo {
			lo = bs.Count
		}
	}
	return hi - lo
}

func printSummary(w io.Writer, s *summary) {
	fmt.Fprintf(w, "requests: %d  success: %d  failure: %d  errors: %d\n", s.Total, s.Success, s.Failure, s.Errors)
	fmt.Fprintf(w, "elapsed: %v  rps: %.1f\n", s.Elapsed.Round(time.Millisecond), s.RPS)
	fmt.Fprintf(w, "latency: p50=%v p90=%v p99=%v max=%v\n", s.Latency["p50"], s.Latency["p90"], s.Latency["p99"], s.Latency["max"])

	codes := make([]int, 0, len(s.StatusCodes))
	for code := range s.StatusCodes {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	for _, code := range codes {
		fmt.Fprintf(w, "  status %d: %d\n", code, s.StatusCodes[code])
	}

	names := make([]string, 0, len(s.Backends))
	for name := range s.Backends {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		bs := s.Backends[name]
		fmt.Fprintf(w, "  %-24s %6d (%.1f%%)\n", name, bs.Count, 100*float64(bs.Count)/float64(max(1, s.Total)))
	}
	fmt.Fprintf(w, "spread: %d\n", s.Spread)
}

func main() {
	var opts options
	flags := pflag.NewFlagSet("loadtest", pflag.ContinueOnError)
	flags.StringVar(&opts.URL, "url", "http://localhost:8080/", "target URL")
	flags.StringVarP(&opts.Method, "method", "X", http.MethodGet, "HTTP method")
	flags.StringVarP(&opts.Body, "body", "d", "", "request body")
	flags.StringVar(&opts.ContentType, "content-type", "application/json", "Content-Type for requests with a body")
	flags.IntVarP(&opts.Concurrency, "concurrency", "c", 10, "number of concurrent workers")
	flags.IntVarP(&opts.Requests, "requests", "n", 100, "total number of requests to send")
	flags.DurationVar(&opts.Timeout, "timeout", 10*time.Second, "per-request timeout")
	outJSON := flags.String("out", "", "write the JSON summary to this file")

	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}
	if opts.Concurrency < 1 || opts.Requests < 1 {
		fmt.Fprintln(os.Stderr, "concurrency and requests must be at least 1")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = opts.Concurrency
	client := &http.Client{Timeout: opts.Timeout, Transport: transport}

	s, err := runLoad(ctx, client, opts)
	if err != nil && s == nil {
		fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}

	printSummary(os.Stdout, s)

	if *outJSON != "" {
		if err := writeJSON(*outJSON, s); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write summary: %v\n", err)
			os.Exit(1)
		}
	}
}

func writeJSON(path string, s *summary) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// Dummy-backend is a small HTTP server for trying the load balancer locally.
// It answers every path with a JSON description of the request and serves
// /health for the load balancer's probes.
//
// Usage:
//
//	go run ./cmd/dummy-backend --port 8081 --name backend-1
//
// Health can be flipped at runtime to watch the load balancer react:
//
//	curl -X POST localhost:8081/admin/health?status=503
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/angeloszaimis/http-load-balancer/internal/httpserver"
	"github.com/angeloszaimis/http-load-balancer/internal/middleware"
	"github.com/angeloszaimis/http-load-balancer/pkg/logger"
)

type echoResponse struct {
	ID        string `json:"id"`
	Backend   string `json:"backend"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	Query     string `json:"query,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type dummyBackend struct {
	name         string
	log          *slog.Logger
	healthStatus atomic.Int32
}

func newDummyBackend(name string, log *slog.Logger) *dummyBackend {
	d := &dummyBackend{name: name, log: log}
	d.healthStatus.Store(http.StatusOK)
	return d
}

func (d *dummyBackend) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(d.healthStatus.Load()))
		_, _ = w.Write([]byte("PONG"))
	})

	mux.HandleFunc("POST /admin/health", func(w http.ResponseWriter, r *http.Request) {
		code, err := strconv.Atoi(r.URL.Query().Get("status"))
		if err != nil || code < 100 || code > 599 {
			http.Error(w, "status must be an HTTP status code", http.StatusBadRequest)
			return
		}

		d.healthStatus.Store(int32(code))
		d.log.Info("Health status changed", slog.Int("status", code))
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		resp := echoResponse{
			ID:        uuid.NewString(),
			Backend:   d.name,
			Method:    r.Method,
			Path:      r.URL.Path,
			Query:     r.URL.RawQuery,
			RequestID: r.Header.Get(middleware.RequestIDHeader),
		}

		d.log.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("from", r.RemoteAddr),
			slog.String("request_id", resp.RequestID))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	return mux
}

func main() {
	flags := pflag.NewFlagSet("dummy-backend", pflag.ContinueOnError)
	port := flags.IntP("port", "p", 8081, "port to listen on")
	name := flags.String("name", "", "name reported in responses (default: backend-<port>)")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	if *name == "" {
		*name = "backend-" + strconv.Itoa(*port)
	}

	log := logger.New("info", false, "dev").With(slog.String("backend", *name))

	srv, err := httpserver.New(":"+strconv.Itoa(*port), newDummyBackend(*name, log).routes())
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Start()
	}()

	log.Info("Starting backend", slog.Int("port", *port))

	select {
	case <-ctx.Done():
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Server failed", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

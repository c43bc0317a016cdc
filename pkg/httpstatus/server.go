// Package httpstatus is a minimal HTTP surface exposing this node's
// cluster state controller for operators and monitoring: a JSON status
// document, a liveness probe, and Prometheus metrics.
package httpstatus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ctlogs/cluster-state-controller/pkg/clusterstate"
	"github.com/ctlogs/cluster-state-controller/pkg/observability/tracing"
)

// Status is the JSON document served at /status.
type Status struct {
	LocalNode       interface{} `json:"local_node"`
	CalculatedSTH   interface{} `json:"calculated_serving_sth,omitempty"`
	CalculatedError string      `json:"calculated_serving_sth_error,omitempty"`
}

// Server binds an HTTP listener exposing controller status and metrics.
type Server struct {
	bind       string
	controller *clusterstate.Controller
	logger     *log.Logger
	tlsCfg     *tls.Config

	srv *http.Server
}

// NewServer returns a Server that will report on controller once started.
func NewServer(bind string, controller *clusterstate.Controller, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{bind: bind, controller: controller, logger: logger}
}

// UseTLS enables TLS for the HTTP listener using cfg.
func (s *Server) UseTLS(cfg *tls.Config) *Server {
	s.tlsCfg = cfg
	return s
}

// Start launches the server and returns once it is listening. It shuts
// down when ctx is done.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{Addr: s.bind, Handler: mux}

	ln, err := net.Listen("tcp", s.bind)
	if err != nil {
		return err
	}
	if s.tlsCfg != nil {
		ln = tls.NewListener(ln, s.tlsCfg)
	}

	go func() {
		<-ctx.Done()
		_ = s.Stop(context.Background())
	}()
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("httpstatus: server error: %v", err)
		}
	}()
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	_, end := tracing.StartSpan(r.Context(), "http.status")
	defer end()

	status := Status{LocalNode: s.controller.GetLocalNodeState()}
	if sth, err := s.controller.GetCalculatedServingSTH(); err == nil {
		status.CalculatedSTH = sth
	} else {
		status.CalculatedError = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		http.Error(w, fmt.Sprintf("encode error: %v", err), http.StatusInternalServerError)
	}
}

// Addr returns the configured bind address.
func (s *Server) Addr() string { return s.bind }

// Stop attempts a graceful shutdown with a short timeout.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	c, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err := s.srv.Shutdown(c)
	s.srv = nil
	return err
}

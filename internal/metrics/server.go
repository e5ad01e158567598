package metrics

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server exposes /metrics and /status over HTTP.
type Server struct {
	srv *http.Server
	lis net.Listener
	log *zap.Logger
}

// StatusFunc returns the JSON-encodable body of /status.
type StatusFunc func() any

// Serve starts serving gatherer's metrics on addr in the background. A nil
// status reports only {"status":"ok"}.
func Serve(addr string, gatherer prometheus.Gatherer, status StatusFunc, log *zap.Logger) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		var body any = map[string]string{"status": "ok"}
		if status != nil {
			body = status()
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(body); err != nil {
			log.Warn("failed to write status", zap.Error(err))
		}
	})

	s := &Server{
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		lis: lis,
		log: log,
	}
	go func() {
		if err := s.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", lis.Addr().String()))
	return s, nil
}

// Addr returns the listening address.
func (s *Server) Addr() string { return s.lis.Addr().String() }

// Close stops the server.
func (s *Server) Close() error { return s.srv.Close() }

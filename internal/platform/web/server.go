// Package web exposes the judge over HTTP and websockets.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/dontdude/javabox/internal/domain"
	"github.com/dontdude/javabox/internal/metrics"
	"github.com/dontdude/javabox/internal/router"
)

// TooManyRequestsMessage answers websocket messages over the rate limit.
const TooManyRequestsMessage = "Too many requests."

// Enqueuer accepts a request and eventually delivers one Feedback to caller.
type Enqueuer interface {
	Enqueue(ctx context.Context, req domain.Request, caller router.Caller) (string, error)
}

// Server holds the HTTP handlers.
type Server struct {
	queue    Enqueuer
	limiter  *RateLimiter
	metrics  *metrics.Collector
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a Server. limiter may be nil to disable rate limiting.
func NewServer(q Enqueuer, limiter *RateLimiter, m *metrics.Collector, logger *slog.Logger) *Server {
	if limiter == nil {
		limiter = NewRateLimiter(0, 1)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	limiter.OnReject = m.RateLimitHits.Inc
	return &Server{
		queue:   q,
		limiter: limiter,
		metrics: m,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("POST /api/run", s.limiter.Middleware(s.handleRun))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())
	return enableCORS(mux)
}

// handleRun answers synchronously with the Feedback of one request.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var wire domain.WireRequest
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	caller := make(chanCaller, 1)
	id, err := s.queue.Enqueue(r.Context(), wire.Request(), caller)
	if err != nil {
		s.logger.Debug("Request answered without running", "requestID", id, "error", err)
	}

	select {
	case fb := <-caller:
		writeJSON(w, http.StatusOK, fb)
	case <-r.Context().Done():
		s.logger.Info("Client went away before feedback", "requestID", id)
	}
}

// handleWS reads one request per text message and answers each on the same socket.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}
	ip := ClientIP(r)
	caller := &connCaller{conn: conn}
	s.logger.Info("Client connected via WebSocket", "remoteAddr", ip)

	defer func() {
		caller.close()
		_ = conn.Close()
		s.logger.Info("Client disconnected", "remoteAddr", ip)
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var wire domain.WireRequest
		if err := json.Unmarshal(data, &wire); err != nil {
			_ = caller.Deliver(r.Context(), domain.Feedback{ErrorMessage: fmt.Sprintf("Invalid request: %v", err)})
			continue
		}
		if !s.limiter.Allow(ip) {
			_ = caller.Deliver(r.Context(), domain.Feedback{ClientID: wire.ClientID, ErrorMessage: TooManyRequestsMessage})
			continue
		}

		// Feedback may arrive after this handler returned; the caller then reports it gone.
		if id, err := s.queue.Enqueue(context.WithoutCancel(r.Context()), wire.Request(), caller); err != nil {
			s.logger.Debug("Request answered without running", "requestID", id, "error", err)
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// enableCORS allows browser clients from any origin.
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

package apihttp

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"otagent/internal/domain"
	domainports "otagent/internal/domain/ports"
)

// UpdateScheduler is the surface of the check scheduler the API needs:
// manual triggering and last-attempt introspection.
type UpdateScheduler interface {
	TriggerNow()
	LastCheck() time.Time
	LastOutcome() *domain.UpdateRecord
}

// TransferProgress reports the live byte counter and state of the current
// (or most recent) firmware transfer.
type TransferProgress interface {
	Progress() (int64, domain.TransferState)
}

type Server struct {
	repo           domainports.UpdateRepository
	scheduler      UpdateScheduler
	progress       TransferProgress
	deviceID       string
	version        string
	historyLimit   int
	allowedOrigins []string
	logger         *slog.Logger
	handler        http.Handler
	wsHub          *wsHub
	startedAt      time.Time
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithRepository(repo domainports.UpdateRepository) ServerOption {
	return func(s *Server) {
		s.repo = repo
	}
}

func WithScheduler(sched UpdateScheduler) ServerOption {
	return func(s *Server) {
		s.scheduler = sched
	}
}

func WithProgress(p TransferProgress) ServerOption {
	return func(s *Server) {
		s.progress = p
	}
}

func WithDeviceInfo(deviceID, version string) ServerOption {
	return func(s *Server) {
		s.deviceID = deviceID
		s.version = version
	}
}

func WithHistoryLimit(limit int) ServerOption {
	return func(s *Server) {
		s.historyLimit = limit
	}
}

// WithAllowedOrigins configures the CORS allowed origins whitelist.
// When empty (default), any origin is permitted (development mode).
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		historyLimit: 100,
		startedAt:    time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.wsHub = newWSHub(s.logger)
	go s.wsHub.run()

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/history", s.handleHistory)
	mux.HandleFunc("/update/check", s.handleUpdateCheck)
	mux.HandleFunc("/internal/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWS)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "ota-agent",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/internal/health"
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(50, 100, metricsMiddleware(corsMiddleware(s.allowedOrigins, traced))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.wsHub == nil {
		http.Error(w, "websocket not available", http.StatusServiceUnavailable)
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{
		hub:  s.wsHub,
		conn: conn,
		send: make(chan []byte, 64),
	}
	s.wsHub.register <- client
	go client.writePump()
	go client.readPump()
}

// BroadcastProgress pushes the live transfer counters to every connected
// WebSocket client.
func (s *Server) BroadcastProgress(bytesWritten int64, state domain.TransferState) {
	if s.wsHub == nil {
		return
	}
	s.wsHub.Broadcast("progress", progressPayload{
		BytesWritten: bytesWritten,
		State:        state.String(),
	})
}

// BroadcastOutcome pushes a finished update attempt to every connected client.
func (s *Server) BroadcastOutcome(rec domain.UpdateRecord) {
	if s.wsHub == nil {
		return
	}
	s.wsHub.Broadcast("outcome", recordToResponse(rec))
}

// Close shuts down the WebSocket hub, disconnecting all clients.
func (s *Server) Close() {
	if s.wsHub != nil {
		s.wsHub.Close()
	}
}

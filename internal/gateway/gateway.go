// Package gateway bridges the per-ticket event bus onto websocket
// connections. Watch connections stream a ticket's event sequence;
// interactive connections additionally forward client frames onto the
// ticket's input channel.
package gateway

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/fsnebula/converter-api/internal/config"
	"github.com/fsnebula/converter-api/internal/events"
)

// Server upgrades and serves the websocket endpoints.
type Server struct {
	bus       *events.Bus
	logger    *slog.Logger
	upgrader  websocket.Upgrader
	keepAlive time.Duration
}

func NewServer(bus *events.Bus, cfg config.GatewayConfig, logger *slog.Logger) *Server {
	keepAlive := cfg.KeepAliveInterval
	if keepAlive <= 0 {
		keepAlive = 5 * time.Second
	}
	return &Server{
		bus:       bus,
		logger:    logger.With("component", "gateway"),
		keepAlive: keepAlive,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     OriginPolicy(cfg.AllowedOrigins),
		},
	}
}

// Routes returns the gateway's router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/ws/watch/{ticket}", s.handleWatch)
	r.Get("/ws/interactive/{ticket}", s.handleInteractive)
	return r
}

// OriginPolicy builds the upgrade origin check: an empty allow-list is
// permissive, otherwise the Origin header must match exactly.
func OriginPolicy(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}

	set := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		set[origin] = true
	}
	return func(r *http.Request) bool {
		return set[r.Header.Get("Origin")]
	}
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	s.serveTicket(w, r, false)
}

func (s *Server) handleInteractive(w http.ResponseWriter, r *http.Request) {
	s.serveTicket(w, r, true)
}

func (s *Server) serveTicket(w http.ResponseWriter, r *http.Request, interactive bool) {
	ticket, err := strconv.ParseInt(chi.URLParam(r, "ticket"), 10, 64)
	if err != nil {
		http.Error(w, "invalid ticket", http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		s.logger.Debug("websocket upgrade rejected", "ticket", ticket, "error", err)
		return
	}

	c := newConn(s, ws, ticket, interactive)
	c.serve(r.Context())
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/openkoz/koz-server/internal/chat"
	"github.com/openkoz/koz-server/internal/config"
	"github.com/openkoz/koz-server/internal/game"
	"github.com/openkoz/koz-server/internal/room"
)

// Server ties the lobby, the session registry and the chat relay to the
// HTTP and WebSocket surfaces.
type Server struct {
	cfg    *config.Config
	rooms  *room.Manager
	games  *game.Registry
	chat   *chat.Manager
	hub    *Hub
	logger *zap.Logger

	upgrader websocket.Upgrader
	httpSrv  *http.Server

	// mu guards the connection routing tables. roomOf maps a connection to
	// the room it sits in; connOf maps a player to their live connection.
	mu     sync.Mutex
	roomOf map[string]string
	connOf map[string]string
}

// New builds the server. The chat relay is wired to push through the hub.
func New(cfg *config.Config, rooms *room.Manager, games *game.Registry, chatMgr *chat.Manager, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:    cfg,
		rooms:  rooms,
		games:  games,
		chat:   chatMgr,
		hub:    NewHub(logger),
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		roomOf: make(map[string]string),
		connOf: make(map[string]string),
	}
	chatMgr.SetRelay(s.relayChat)
	return s
}

// Router builds the HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Get("/ws", s.handleWS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/rooms", s.handleListRooms)
		r.Get("/rooms/{roomID}", s.handleGetRoom)
		r.Get("/rooms/{roomID}/state", s.handleGetState)
	})

	return r
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:    s.cfg.Server.Address,
		Handler: s.Router(),
	}
	s.logger.Info("http server listening", zap.String("address", s.cfg.Server.Address))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains the HTTP server and disconnects all clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.CloseAll()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"rooms":       s.rooms.Count(),
		"sessions":    s.games.Count(),
		"connections": s.hub.Count(),
	})
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"rooms": s.rooms.List()})
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	snap, err := s.rooms.Get(chi.URLParam(r, "roomID"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleGetState serves the spectator view of a room's match: every hand
// redacted.
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	c, err := s.games.Get(chi.URLParam(r, "roomID"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, c.Session().Snapshot().RedactedFor(""))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newClient(uuid.New().String(), conn, s)
	s.hub.register(c)
	go c.writePump()
	c.readPump()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// routing table helpers

func (s *Server) bind(connID, playerID, roomID string) {
	s.mu.Lock()
	if roomID != "" {
		s.roomOf[connID] = roomID
	}
	if playerID != "" {
		s.connOf[playerID] = connID
	}
	s.mu.Unlock()
}

func (s *Server) roomFor(connID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomOf[connID]
}

func (s *Server) connFor(playerID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connOf[playerID]
}

func (s *Server) connsInRoom(roomID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, 4)
	for connID, id := range s.roomOf {
		if id == roomID {
			out = append(out, connID)
		}
	}
	return out
}

package game

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Registry owns every live session, keyed by room ID. All lookups go
// through it; nothing holds session state at package level.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Continuity
	grace    time.Duration
	logger   *zap.Logger
}

// NewRegistry creates an empty registry. grace is the reconnection window
// applied to every session it creates.
func NewRegistry(grace time.Duration, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sessions: make(map[string]*Continuity),
		grace:    grace,
		logger:   logger,
	}
}

// Create builds a session for the room and wraps it with connection
// continuity. It fails if the room already has one.
func (r *Registry) Create(roomID string, seats []Seat, targetScore int) (*Continuity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[roomID]; exists {
		return nil, ErrSessionExists
	}

	session, err := NewSession(roomID, seats, targetScore, r.logger)
	if err != nil {
		return nil, err
	}
	c := NewContinuity(session, r.grace, r.logger)
	r.sessions[roomID] = c

	r.logger.Info("session created",
		zap.String("room_id", roomID),
		zap.Int("players", len(seats)),
		zap.Int("target_score", targetScore),
	)
	return c, nil
}

// Get returns the continuity wrapper for a room.
func (r *Registry) Get(roomID string) (*Continuity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.sessions[roomID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return c, nil
}

// FindByConn locates the session that knows the given connection identity.
// Used to route a reconnecting client back to its room.
func (r *Registry) FindByConn(connID string) (*Continuity, error) {
	r.mu.RLock()
	all := make([]*Continuity, 0, len(r.sessions))
	for _, c := range r.sessions {
		all = append(all, c)
	}
	r.mu.RUnlock()

	for _, c := range all {
		if c.KnowsConn(connID) {
			return c, nil
		}
	}
	return nil, ErrSessionNotFound
}

// Remove tears down a room's session, cancelling its timers.
func (r *Registry) Remove(roomID string) {
	r.mu.Lock()
	c, ok := r.sessions[roomID]
	if ok {
		delete(r.sessions, roomID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	c.Close()
	c.Session().Close()
	r.logger.Info("session removed", zap.String("room_id", roomID))
}

// Count reports the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Shutdown removes every session.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	all := make([]*Continuity, 0, len(r.sessions))
	for id, c := range r.sessions {
		all = append(all, c)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, c := range all {
		c.Close()
		c.Session().Close()
	}
}

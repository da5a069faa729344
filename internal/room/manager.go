package room

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MinPlayers and MaxPlayers bound a room's seat count.
const (
	MinPlayers = 2
	MaxPlayers = 4
)

// Manager owns all lobby rooms.
type Manager struct {
	mu     sync.RWMutex
	rooms  map[string]*room
	logger *zap.Logger
}

// NewManager creates an empty room manager.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		rooms:  make(map[string]*room),
		logger: logger,
	}
}

// Create opens a room with the given owner already seated.
func (m *Manager) Create(name string, targetScore, maxPlayers int, owner Member) (Snapshot, error) {
	if name == "" {
		return Snapshot{}, fmt.Errorf("%w: name is required", ErrInvalidRoom)
	}
	if targetScore <= 0 {
		return Snapshot{}, fmt.Errorf("%w: target score must be positive", ErrInvalidRoom)
	}
	if maxPlayers < MinPlayers || maxPlayers > MaxPlayers {
		return Snapshot{}, fmt.Errorf("%w: max players must be %d-%d", ErrInvalidRoom, MinPlayers, MaxPlayers)
	}

	r := &room{
		id:          uuid.New().String(),
		name:        name,
		ownerID:     owner.PlayerID,
		targetScore: targetScore,
		maxPlayers:  maxPlayers,
		members:     []Member{owner},
		createdAt:   time.Now(),
	}

	m.mu.Lock()
	m.rooms[r.id] = r
	snap := r.snapshot()
	m.mu.Unlock()

	m.logger.Info("room created",
		zap.String("room_id", r.id),
		zap.String("name", name),
		zap.String("owner", owner.PlayerID),
	)
	return snap, nil
}

// Get returns one room's snapshot.
func (m *Manager) Get(roomID string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return Snapshot{}, ErrRoomNotFound
	}
	return r.snapshot(), nil
}

// List returns all rooms, newest first.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	out := make([]Snapshot, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r.snapshot())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// RequestJoin files a join request for the owner to decide on.
func (m *Manager) RequestJoin(roomID string, member Member) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return Snapshot{}, ErrRoomNotFound
	}
	if r.inMatch {
		return Snapshot{}, ErrMatchRunning
	}
	if r.memberIndex(member.PlayerID) >= 0 || r.pendingIndex(member.PlayerID) >= 0 {
		return Snapshot{}, ErrAlreadyMember
	}
	if len(r.members) >= r.maxPlayers {
		return Snapshot{}, ErrRoomFull
	}

	r.pending = append(r.pending, member)
	return r.snapshot(), nil
}

// Approve accepts a pending join request. Owner only.
func (m *Manager) Approve(roomID, ownerID, playerID string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return Snapshot{}, ErrRoomNotFound
	}
	if r.ownerID != ownerID {
		return Snapshot{}, ErrNotOwner
	}
	if r.inMatch {
		return Snapshot{}, ErrMatchRunning
	}
	i := r.pendingIndex(playerID)
	if i < 0 {
		return Snapshot{}, ErrNoJoinRequest
	}
	if len(r.members) >= r.maxPlayers {
		return Snapshot{}, ErrRoomFull
	}

	r.members = append(r.members, r.pending[i])
	r.pending = append(r.pending[:i], r.pending[i+1:]...)

	m.logger.Info("join approved",
		zap.String("room_id", roomID),
		zap.String("player_id", playerID),
	)
	return r.snapshot(), nil
}

// Decline rejects a pending join request. Owner only.
func (m *Manager) Decline(roomID, ownerID, playerID string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return Snapshot{}, ErrRoomNotFound
	}
	if r.ownerID != ownerID {
		return Snapshot{}, ErrNotOwner
	}
	i := r.pendingIndex(playerID)
	if i < 0 {
		return Snapshot{}, ErrNoJoinRequest
	}

	r.pending = append(r.pending[:i], r.pending[i+1:]...)
	return r.snapshot(), nil
}

// Leave removes a member. Ownership passes to the next member by join order;
// an emptied room is torn down. removed reports whether the room is gone.
func (m *Manager) Leave(roomID, playerID string) (snap Snapshot, removed bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return Snapshot{}, false, ErrRoomNotFound
	}
	i := r.memberIndex(playerID)
	if i < 0 {
		// Leaving only cancels a pending request.
		if j := r.pendingIndex(playerID); j >= 0 {
			r.pending = append(r.pending[:j], r.pending[j+1:]...)
			return r.snapshot(), false, nil
		}
		return Snapshot{}, false, ErrNotMember
	}

	r.members = append(r.members[:i], r.members[i+1:]...)
	if len(r.members) == 0 {
		delete(m.rooms, roomID)
		m.logger.Info("room emptied", zap.String("room_id", roomID))
		return Snapshot{}, true, nil
	}
	if r.ownerID == playerID {
		r.ownerID = r.members[0].PlayerID
		m.logger.Info("room ownership transferred",
			zap.String("room_id", roomID),
			zap.String("new_owner", r.ownerID),
		)
	}
	return r.snapshot(), false, nil
}

// Kick removes another member. Owner only; the owner cannot kick themselves.
func (m *Manager) Kick(roomID, ownerID, targetID string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return Snapshot{}, ErrRoomNotFound
	}
	if r.ownerID != ownerID {
		return Snapshot{}, ErrNotOwner
	}
	if targetID == ownerID {
		return Snapshot{}, fmt.Errorf("%w: owners leave, they do not kick themselves", ErrInvalidRoom)
	}
	i := r.memberIndex(targetID)
	if i < 0 {
		return Snapshot{}, ErrNotMember
	}

	r.members = append(r.members[:i], r.members[i+1:]...)
	m.logger.Info("member kicked",
		zap.String("room_id", roomID),
		zap.String("player_id", targetID),
	)
	return r.snapshot(), nil
}

// SetInMatch flags whether the room's match is running. In-match rooms do not
// accept roster changes through Approve.
func (m *Manager) SetInMatch(roomID string, inMatch bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	r.inMatch = inMatch
	return nil
}

// Remove tears down a room regardless of occupancy.
func (m *Manager) Remove(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, roomID)
}

// Count reports the number of open rooms.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

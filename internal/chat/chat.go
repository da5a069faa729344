package chat

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrNotInRoom      = errors.New("not in this chat room")
	ErrEmptyMessage   = errors.New("message is empty")
	ErrMessageTooLong = errors.New("message too long")
)

// HistoryLimit bounds the per-room message history.
const HistoryLimit = 100

// MaxMessageLen bounds a single message.
const MaxMessageLen = 500

// Message is one chat line.
type Message struct {
	ID       string    `json:"id"`
	RoomID   string    `json:"room_id"`
	PlayerID string    `json:"player_id"`
	Name     string    `json:"name"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"sent_at"`
}

// RelayFunc fans a message out to the room's transport subscribers. It is
// called outside the manager lock.
type RelayFunc func(Message)

type chatRoom struct {
	members map[string]string // player id -> display name
	history []Message
}

// Manager relays chat per room and keeps a bounded history. Nothing is
// persisted; an emptied room forgets its messages.
type Manager struct {
	mu     sync.Mutex
	rooms  map[string]*chatRoom
	relay  RelayFunc
	logger *zap.Logger
}

// NewManager creates an empty chat manager.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		rooms:  make(map[string]*chatRoom),
		logger: logger,
	}
}

// SetRelay installs the fan-out hook.
func (m *Manager) SetRelay(fn RelayFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relay = fn
}

// JoinRoom adds a player to a room's chat, creating it lazily.
func (m *Manager) JoinRoom(roomID, playerID, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		r = &chatRoom{members: make(map[string]string)}
		m.rooms[roomID] = r
	}
	r.members[playerID] = name
}

// LeaveRoom removes a player. The last player out drops the room and its
// history.
func (m *Manager) LeaveRoom(roomID, playerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return
	}
	delete(r.members, playerID)
	if len(r.members) == 0 {
		delete(m.rooms, roomID)
	}
}

// Send validates and records a message, then relays it.
func (m *Manager) Send(roomID, playerID, text string) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, ErrEmptyMessage
	}
	if len(text) > MaxMessageLen {
		return Message{}, ErrMessageTooLong
	}

	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return Message{}, ErrNotInRoom
	}
	name, ok := r.members[playerID]
	if !ok {
		m.mu.Unlock()
		return Message{}, ErrNotInRoom
	}

	msg := Message{
		ID:       uuid.New().String(),
		RoomID:   roomID,
		PlayerID: playerID,
		Name:     name,
		Text:     text,
		SentAt:   time.Now(),
	}
	r.history = append(r.history, msg)
	if len(r.history) > HistoryLimit {
		r.history = r.history[len(r.history)-HistoryLimit:]
	}
	relay := m.relay
	m.mu.Unlock()

	if relay != nil {
		relay(msg)
	}
	return msg, nil
}

// History returns the room's retained messages, oldest first.
func (m *Manager) History(roomID string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]Message, len(r.history))
	copy(out, r.history)
	return out
}

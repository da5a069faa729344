package room

import (
	"errors"
	"time"
)

var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrRoomFull      = errors.New("room is full")
	ErrNotOwner      = errors.New("only the room owner may do that")
	ErrAlreadyMember = errors.New("already a member of this room")
	ErrNotMember     = errors.New("not a member of this room")
	ErrNoJoinRequest = errors.New("no join request from that player")
	ErrInvalidRoom   = errors.New("invalid room parameters")
	ErrMatchRunning  = errors.New("a match is running in this room")
)

// Member is one seated or requesting player.
type Member struct {
	PlayerID string `json:"player_id"`
	ConnID   string `json:"conn_id"`
	Name     string `json:"name"`
}

// Room is a lobby room. Members keep their join order; the first member is
// the owner until they leave.
type room struct {
	id          string
	name        string
	ownerID     string
	targetScore int
	maxPlayers  int
	members     []Member
	pending     []Member
	inMatch     bool
	createdAt   time.Time
}

// Snapshot is the externally visible state of a room.
type Snapshot struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	OwnerID     string    `json:"owner_id"`
	TargetScore int       `json:"target_score"`
	MaxPlayers  int       `json:"max_players"`
	Members     []Member  `json:"members"`
	Pending     []Member  `json:"pending,omitempty"`
	InMatch     bool      `json:"in_match"`
	CreatedAt   time.Time `json:"created_at"`
}

func (r *room) snapshot() Snapshot {
	members := make([]Member, len(r.members))
	copy(members, r.members)
	var pending []Member
	if len(r.pending) > 0 {
		pending = make([]Member, len(r.pending))
		copy(pending, r.pending)
	}
	return Snapshot{
		ID:          r.id,
		Name:        r.name,
		OwnerID:     r.ownerID,
		TargetScore: r.targetScore,
		MaxPlayers:  r.maxPlayers,
		Members:     members,
		Pending:     pending,
		InMatch:     r.inMatch,
		CreatedAt:   r.createdAt,
	}
}

func (r *room) memberIndex(playerID string) int {
	for i, m := range r.members {
		if m.PlayerID == playerID {
			return i
		}
	}
	return -1
}

func (r *room) pendingIndex(playerID string) int {
	for i, m := range r.pending {
		if m.PlayerID == playerID {
			return i
		}
	}
	return -1
}

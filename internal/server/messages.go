package server

import (
	"encoding/json"

	"github.com/openkoz/koz-server/internal/chat"
	"github.com/openkoz/koz-server/internal/deck"
	"github.com/openkoz/koz-server/internal/game"
	"github.com/openkoz/koz-server/internal/room"
)

// Envelope wraps every WebSocket message in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client intent types.
const (
	MsgHello       = "hello"
	MsgCreateRoom  = "create_room"
	MsgJoinRoom    = "join_room"
	MsgApproveJoin = "approve_join"
	MsgDeclineJoin = "decline_join"
	MsgLeaveRoom   = "leave_room"
	MsgKick        = "kick"
	MsgStartMatch  = "start_match"
	MsgPlayCard    = "play_card"
	MsgChat        = "chat"
)

// Server push types.
const (
	MsgWelcome     = "welcome"
	MsgRoomUpdate  = "room_update"
	MsgRoomGone    = "room_gone"
	MsgState       = "state"
	MsgChatMessage = "chat_message"
	MsgChatHistory = "chat_history"
	MsgError       = "error"
)

// HelloPayload identifies a client. ResumeConnID carries the connection
// identity of a dropped session to reconnect to.
type HelloPayload struct {
	PlayerID     string `json:"player_id"`
	Name         string `json:"name"`
	ResumeConnID string `json:"resume_conn_id,omitempty"`
}

// WelcomePayload acknowledges a hello with the identity the server assigned.
type WelcomePayload struct {
	ConnID          string               `json:"conn_id"`
	ReconnectStatus game.ReconnectStatus `json:"reconnect_status,omitempty"`
	RoomID          string               `json:"room_id,omitempty"`
}

type CreateRoomPayload struct {
	Name        string `json:"name"`
	TargetScore int    `json:"target_score"`
	MaxPlayers  int    `json:"max_players"`
}

type JoinRoomPayload struct {
	RoomID string `json:"room_id"`
}

type ApprovePayload struct {
	RoomID   string `json:"room_id"`
	PlayerID string `json:"player_id"`
}

type LeaveRoomPayload struct {
	RoomID string `json:"room_id"`
}

type KickPayload struct {
	RoomID   string `json:"room_id"`
	PlayerID string `json:"player_id"`
}

type StartMatchPayload struct {
	RoomID string `json:"room_id"`
}

type PlayCardPayload struct {
	RoomID    string    `json:"room_id"`
	Card      deck.Card `json:"card"`
	HandIndex int       `json:"hand_index"`
}

type ChatPayload struct {
	RoomID string `json:"room_id"`
	Text   string `json:"text"`
}

type RoomUpdatePayload struct {
	Room room.Snapshot `json:"room"`
}

type RoomGonePayload struct {
	RoomID string `json:"room_id"`
	Reason string `json:"reason,omitempty"`
}

type StatePayload struct {
	RoomID string        `json:"room_id"`
	State  game.Snapshot `json:"state"`
}

type ChatHistoryPayload struct {
	RoomID   string         `json:"room_id"`
	Messages []chat.Message `json:"messages"`
}

// ErrorPayload carries a rejection back to the offending client only.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func encodeEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}

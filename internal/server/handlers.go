package server

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/openkoz/koz-server/internal/chat"
	"github.com/openkoz/koz-server/internal/game"
	"github.com/openkoz/koz-server/internal/room"
)

const codeRequestFailed = "REQUEST_FAILED"

func (s *Server) handleMessage(c *Client, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.sendError(c, codeRequestFailed, "malformed message")
		return
	}

	if env.Type != MsgHello && c.playerID == "" {
		s.sendError(c, codeRequestFailed, "say hello first")
		return
	}

	switch env.Type {
	case MsgHello:
		s.handleHello(c, env.Payload)
	case MsgCreateRoom:
		s.handleCreateRoom(c, env.Payload)
	case MsgJoinRoom:
		s.handleJoinRoom(c, env.Payload)
	case MsgApproveJoin:
		s.handleApprove(c, env.Payload)
	case MsgDeclineJoin:
		s.handleDecline(c, env.Payload)
	case MsgLeaveRoom:
		s.handleLeaveRoom(c, env.Payload)
	case MsgKick:
		s.handleKick(c, env.Payload)
	case MsgStartMatch:
		s.handleStartMatch(c, env.Payload)
	case MsgPlayCard:
		s.handlePlayCard(c, env.Payload)
	case MsgChat:
		s.handleChat(c, env.Payload)
	default:
		s.sendError(c, codeRequestFailed, "unknown message type "+env.Type)
	}
}

func (s *Server) handleHello(c *Client, raw json.RawMessage) {
	var p HelloPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.PlayerID == "" {
		s.sendError(c, codeRequestFailed, "hello needs a player_id")
		return
	}
	c.playerID = p.PlayerID
	c.name = p.Name
	if c.name == "" {
		c.name = p.PlayerID
	}
	s.bind(c.connID, c.playerID, "")

	welcome := WelcomePayload{ConnID: c.connID}
	var resumed *game.Continuity

	if p.ResumeConnID != "" {
		cont, err := s.games.FindByConn(p.ResumeConnID)
		if err != nil {
			welcome.ReconnectStatus = game.ReconnectFailed
		} else {
			welcome.ReconnectStatus = cont.Reconnect(p.ResumeConnID, c.connID)
			if welcome.ReconnectStatus != game.ReconnectFailed {
				welcome.RoomID = cont.Session().RoomID()
				resumed = cont
			}
		}
	}

	s.push(c.connID, MsgWelcome, welcome)

	if resumed != nil {
		roomID := resumed.Session().RoomID()
		s.bind(c.connID, c.playerID, roomID)
		s.chat.JoinRoom(roomID, c.playerID, c.name)
		s.pushChatHistory(c, roomID)
		s.push(c.connID, MsgState, StatePayload{
			RoomID: roomID,
			State:  resumed.Session().Snapshot().RedactedFor(c.playerID),
		})
	}
}

func (s *Server) handleCreateRoom(c *Client, raw json.RawMessage) {
	var p CreateRoomPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.sendError(c, codeRequestFailed, "malformed create_room payload")
		return
	}
	if p.TargetScore <= 0 {
		p.TargetScore = s.cfg.Game.DefaultTargetScore
	}
	if p.MaxPlayers == 0 {
		p.MaxPlayers = room.MaxPlayers
	}

	snap, err := s.rooms.Create(p.Name, p.TargetScore, p.MaxPlayers, room.Member{
		PlayerID: c.playerID,
		ConnID:   c.connID,
		Name:     c.name,
	})
	if err != nil {
		s.sendError(c, codeRequestFailed, err.Error())
		return
	}

	s.bind(c.connID, c.playerID, snap.ID)
	s.chat.JoinRoom(snap.ID, c.playerID, c.name)
	s.push(c.connID, MsgRoomUpdate, RoomUpdatePayload{Room: snap})
}

func (s *Server) handleJoinRoom(c *Client, raw json.RawMessage) {
	var p JoinRoomPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.RoomID == "" {
		s.sendError(c, codeRequestFailed, "malformed join_room payload")
		return
	}

	snap, err := s.rooms.RequestJoin(p.RoomID, room.Member{
		PlayerID: c.playerID,
		ConnID:   c.connID,
		Name:     c.name,
	})
	if err != nil {
		s.sendError(c, codeRequestFailed, err.Error())
		return
	}

	// Requesters see room updates while their request is pending.
	s.bind(c.connID, c.playerID, p.RoomID)
	s.pushRoom(p.RoomID, MsgRoomUpdate, RoomUpdatePayload{Room: snap})
}

func (s *Server) handleApprove(c *Client, raw json.RawMessage) {
	var p ApprovePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.sendError(c, codeRequestFailed, "malformed approve_join payload")
		return
	}

	snap, err := s.rooms.Approve(p.RoomID, c.playerID, p.PlayerID)
	if err != nil {
		s.sendError(c, codeRequestFailed, err.Error())
		return
	}

	for _, m := range snap.Members {
		if m.PlayerID == p.PlayerID {
			s.chat.JoinRoom(p.RoomID, m.PlayerID, m.Name)
		}
	}
	s.pushRoom(p.RoomID, MsgRoomUpdate, RoomUpdatePayload{Room: snap})
}

func (s *Server) handleDecline(c *Client, raw json.RawMessage) {
	var p ApprovePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.sendError(c, codeRequestFailed, "malformed decline_join payload")
		return
	}

	snap, err := s.rooms.Decline(p.RoomID, c.playerID, p.PlayerID)
	if err != nil {
		s.sendError(c, codeRequestFailed, err.Error())
		return
	}

	if connID := s.connFor(p.PlayerID); connID != "" {
		s.push(connID, MsgRoomGone, RoomGonePayload{RoomID: p.RoomID, Reason: "declined"})
		s.mu.Lock()
		if s.roomOf[connID] == p.RoomID {
			delete(s.roomOf, connID)
		}
		s.mu.Unlock()
	}
	s.pushRoom(p.RoomID, MsgRoomUpdate, RoomUpdatePayload{Room: snap})
}

func (s *Server) handleLeaveRoom(c *Client, raw json.RawMessage) {
	var p LeaveRoomPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			s.sendError(c, codeRequestFailed, "malformed leave payload")
			return
		}
	}
	roomID := p.RoomID
	if roomID == "" {
		roomID = s.roomFor(c.connID)
	}
	if roomID == "" {
		s.sendError(c, codeRequestFailed, "not in a room")
		return
	}

	if cont, err := s.games.Get(roomID); err == nil && !cont.Session().Snapshot().Over {
		cont.Disconnect(c.playerID)
	}

	snap, removed, err := s.rooms.Leave(roomID, c.playerID)
	if err != nil {
		s.sendError(c, codeRequestFailed, err.Error())
		return
	}
	s.chat.LeaveRoom(roomID, c.playerID)
	s.mu.Lock()
	delete(s.roomOf, c.connID)
	s.mu.Unlock()

	if removed {
		s.games.Remove(roomID)
		return
	}
	s.pushRoom(roomID, MsgRoomUpdate, RoomUpdatePayload{Room: snap})
}

func (s *Server) handleKick(c *Client, raw json.RawMessage) {
	var p KickPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.sendError(c, codeRequestFailed, "malformed kick payload")
		return
	}

	snap, err := s.rooms.Kick(p.RoomID, c.playerID, p.PlayerID)
	if err != nil {
		s.sendError(c, codeRequestFailed, err.Error())
		return
	}

	if cont, err := s.games.Get(p.RoomID); err == nil && !cont.Session().Snapshot().Over {
		cont.Disconnect(p.PlayerID)
	}
	s.chat.LeaveRoom(p.RoomID, p.PlayerID)

	if connID := s.connFor(p.PlayerID); connID != "" {
		s.push(connID, MsgRoomGone, RoomGonePayload{RoomID: p.RoomID, Reason: "kicked"})
		s.mu.Lock()
		if s.roomOf[connID] == p.RoomID {
			delete(s.roomOf, connID)
		}
		s.mu.Unlock()
	}
	s.pushRoom(p.RoomID, MsgRoomUpdate, RoomUpdatePayload{Room: snap})
}

func (s *Server) handleStartMatch(c *Client, raw json.RawMessage) {
	var p StartMatchPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			s.sendError(c, codeRequestFailed, "malformed start payload")
			return
		}
	}
	roomID := p.RoomID
	if roomID == "" {
		roomID = s.roomFor(c.connID)
	}
	if roomID == "" {
		s.sendError(c, codeRequestFailed, "not in a room")
		return
	}
	snap, err := s.rooms.Get(roomID)
	if err != nil {
		s.sendError(c, codeRequestFailed, err.Error())
		return
	}
	if snap.OwnerID != c.playerID {
		s.sendError(c, codeRequestFailed, "only the room owner starts the match")
		return
	}

	// A finished session is torn down before its replacement.
	if cont, err := s.games.Get(roomID); err == nil {
		if !cont.Session().Snapshot().Over {
			s.sendError(c, codeRequestFailed, "a match is already running")
			return
		}
		s.games.Remove(roomID)
	}

	seats := make([]game.Seat, 0, len(snap.Members))
	for _, m := range snap.Members {
		connID := s.connFor(m.PlayerID)
		if connID == "" {
			connID = m.ConnID
		}
		seats = append(seats, game.Seat{PlayerID: m.PlayerID, ConnID: connID, Name: m.Name})
	}

	cont, err := s.games.Create(roomID, seats, snap.TargetScore)
	if err != nil {
		s.sendError(c, codeRequestFailed, err.Error())
		return
	}
	sess := cont.Session()
	sess.SetRestartDelay(s.cfg.Game.RestartDelay)
	sess.SetNotify(func(state game.Snapshot) {
		s.broadcastState(roomID, state)
		if state.Over {
			if err := s.rooms.SetInMatch(roomID, false); err != nil {
				s.logger.Debug("room already gone", zap.String("room_id", roomID))
			}
		}
	})

	if err := s.rooms.SetInMatch(roomID, true); err != nil {
		s.games.Remove(roomID)
		s.sendError(c, codeRequestFailed, err.Error())
		return
	}
	if err := sess.StartMatch(); err != nil {
		s.games.Remove(roomID)
		s.rooms.SetInMatch(roomID, false)
		s.sendError(c, codeRequestFailed, err.Error())
		return
	}
}

func (s *Server) handlePlayCard(c *Client, raw json.RawMessage) {
	var p PlayCardPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.sendError(c, codeRequestFailed, "malformed play_card payload")
		return
	}
	roomID := p.RoomID
	if roomID == "" {
		roomID = s.roomFor(c.connID)
	}

	cont, err := s.games.Get(roomID)
	if err != nil {
		s.sendError(c, string(game.RejectNotFound), "no match in this room")
		return
	}
	if err := cont.Session().SubmitPlay(c.playerID, p.Card, p.HandIndex); err != nil {
		if ve, ok := game.AsValidation(err); ok {
			s.sendError(c, string(ve.Code), ve.Message)
			return
		}
		s.sendError(c, codeRequestFailed, err.Error())
	}
}

func (s *Server) handleChat(c *Client, raw json.RawMessage) {
	var p ChatPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.sendError(c, codeRequestFailed, "malformed chat payload")
		return
	}
	roomID := p.RoomID
	if roomID == "" {
		roomID = s.roomFor(c.connID)
	}
	if _, err := s.chat.Send(roomID, c.playerID, p.Text); err != nil {
		s.sendError(c, codeRequestFailed, err.Error())
	}
}

// handleDisconnect runs when a client's read pump exits for any reason.
func (s *Server) handleDisconnect(c *Client) {
	s.hub.unregister(c)

	s.mu.Lock()
	roomID := s.roomOf[c.connID]
	delete(s.roomOf, c.connID)
	// The player may already be bound to a replacement connection; a late
	// drop event from the old one must not touch them.
	stale := c.playerID != "" && s.connOf[c.playerID] != c.connID
	if !stale && c.playerID != "" {
		delete(s.connOf, c.playerID)
	}
	s.mu.Unlock()

	if stale || roomID == "" || c.playerID == "" {
		return
	}

	s.chat.LeaveRoom(roomID, c.playerID)

	// A running match holds the seat open; the lobby does not.
	if cont, err := s.games.Get(roomID); err == nil && !cont.Session().Snapshot().Over {
		cont.Disconnect(c.playerID)
		return
	}

	snap, removed, err := s.rooms.Leave(roomID, c.playerID)
	if err != nil {
		return
	}
	if removed {
		s.games.Remove(roomID)
		return
	}
	s.pushRoom(roomID, MsgRoomUpdate, RoomUpdatePayload{Room: snap})
}

// broadcastState pushes each participant their own redacted view.
func (s *Server) broadcastState(roomID string, snap game.Snapshot) {
	for _, p := range snap.Players {
		connID := s.connFor(p.ID)
		if connID == "" {
			continue
		}
		s.push(connID, MsgState, StatePayload{RoomID: roomID, State: snap.RedactedFor(p.ID)})
	}
}

func (s *Server) relayChat(msg chat.Message) {
	data, err := encodeEnvelope(MsgChatMessage, msg)
	if err != nil {
		s.logger.Error("encoding chat message", zap.Error(err))
		return
	}
	s.hub.SendTo(s.connsInRoom(msg.RoomID), data)
}

func (s *Server) pushChatHistory(c *Client, roomID string) {
	hist := s.chat.History(roomID)
	if len(hist) == 0 {
		return
	}
	s.push(c.connID, MsgChatHistory, ChatHistoryPayload{RoomID: roomID, Messages: hist})
}

func (s *Server) push(connID, msgType string, payload any) {
	data, err := encodeEnvelope(msgType, payload)
	if err != nil {
		s.logger.Error("encoding push", zap.String("type", msgType), zap.Error(err))
		return
	}
	s.hub.Send(connID, data)
}

func (s *Server) pushRoom(roomID, msgType string, payload any) {
	data, err := encodeEnvelope(msgType, payload)
	if err != nil {
		s.logger.Error("encoding push", zap.String("type", msgType), zap.Error(err))
		return
	}
	s.hub.SendTo(s.connsInRoom(roomID), data)
}

func (s *Server) sendError(c *Client, code, message string) {
	s.push(c.connID, MsgError, ErrorPayload{Code: code, Message: message})
}

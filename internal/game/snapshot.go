package game

import "github.com/openkoz/koz-server/internal/deck"

// PlayerSnapshot is the externally visible view of one participant.
type PlayerSnapshot struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Score     int         `json:"score"`
	Status    string      `json:"status"`
	Hand      []deck.Card `json:"hand,omitempty"`
	HandCount int         `json:"hand_count"`
}

// PlaySnapshot is the externally visible view of one play in the trick.
type PlaySnapshot struct {
	PlayerID string    `json:"player_id"`
	Card     deck.Card `json:"card"`
}

// Snapshot is an immutable copy of a session's observable state. It is built
// under the session lock, so it never straddles two mutations.
type Snapshot struct {
	RoomID          string           `json:"room_id"`
	State           string           `json:"state"`
	Version         uint64           `json:"version"`
	Players         []PlayerSnapshot `json:"players"`
	Plays           []PlaySnapshot   `json:"plays"`
	LeadCard        *deck.Card       `json:"lead_card,omitempty"`
	Control         string           `json:"control"`
	TricksCompleted int              `json:"tricks_completed"`
	TargetScore     int              `json:"target_score"`
	Carry           int              `json:"carry"`
	DeckRemaining   int              `json:"deck_remaining"`
	Over            bool             `json:"over"`
}

// RedactedFor returns a copy of the snapshot with every hand but playerID's
// removed, leaving only the counts. Used when pushing state to one client.
func (s Snapshot) RedactedFor(playerID string) Snapshot {
	out := s
	out.Players = make([]PlayerSnapshot, len(s.Players))
	copy(out.Players, s.Players)
	for i := range out.Players {
		if out.Players[i].ID != playerID {
			out.Players[i].Hand = nil
		}
	}
	return out
}

// snapshotLocked builds a Snapshot. Callers must hold s.mu.
func (s *Session) snapshotLocked() Snapshot {
	players := make([]PlayerSnapshot, 0, len(s.players))
	for _, p := range s.players {
		hand := make([]deck.Card, len(p.Hand))
		copy(hand, p.Hand)
		players = append(players, PlayerSnapshot{
			ID:        p.ID,
			Name:      p.Name,
			Score:     p.Score,
			Status:    p.Status.String(),
			Hand:      hand,
			HandCount: len(p.Hand),
		})
	}

	plays := make([]PlaySnapshot, 0, len(s.plays))
	for _, pl := range s.plays {
		plays = append(plays, PlaySnapshot{PlayerID: pl.PlayerID, Card: pl.Card})
	}

	var lead *deck.Card
	if s.lead != nil {
		c := *s.lead
		lead = &c
	}

	tricks := s.tricks
	if tricks > deck.TricksPerMatch {
		tricks = deck.TricksPerMatch
	}

	return Snapshot{
		RoomID:          s.roomID,
		State:           s.state.String(),
		Version:         s.version,
		Players:         players,
		Plays:           plays,
		LeadCard:        lead,
		Control:         s.control,
		TricksCompleted: tricks,
		TargetScore:     s.targetScore,
		Carry:           s.carry,
		DeckRemaining:   len(s.deck),
		Over:            s.over,
	}
}

package game

import "github.com/openkoz/koz-server/internal/deck"

// PlayerStatus tracks a participant's connection lifecycle within a session.
type PlayerStatus int

const (
	// StatusActive means the player is seated and may act.
	StatusActive PlayerStatus = iota
	// StatusDisconnected means the player dropped and a grace timer is
	// running; they are out of the active roster.
	StatusDisconnected
	// StatusQueued means the player reconnected after the state moved on and
	// re-enters at the next trick boundary.
	StatusQueued
	// StatusExpired means the grace period lapsed; the player is permanently
	// out of this session.
	StatusExpired
)

func (s PlayerStatus) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusDisconnected:
		return "DISCONNECTED"
	case StatusQueued:
		return "QUEUED"
	case StatusExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// Player is a match participant. ID is the stable player identity; ConnID is
// the transport connection currently bound to it and changes on reconnect.
type Player struct {
	ID     string
	ConnID string
	Name   string
	Hand   []deck.Card
	Score  int
	Status PlayerStatus
}

// Seat describes a participant when a session is created.
type Seat struct {
	PlayerID string
	ConnID   string
	Name     string
}

// Play records one card played into the current trick.
type Play struct {
	PlayerID string
	Card     deck.Card
}

func (p *Player) removeCard(i int) deck.Card {
	c := p.Hand[i]
	p.Hand = append(p.Hand[:i], p.Hand[i+1:]...)
	return c
}

func (p *Player) holdsSuit(s deck.Suit) bool {
	for _, c := range p.Hand {
		if c.Suit == s {
			return true
		}
	}
	return false
}

// indexOfCard finds card in the hand, preferring hint when it matches. A
// negative return means the card is not held.
func (p *Player) indexOfCard(card deck.Card, hint int) int {
	if hint >= 0 && hint < len(p.Hand) && p.Hand[hint] == card {
		return hint
	}
	for i, c := range p.Hand {
		if c == card {
			return i
		}
	}
	return -1
}

package deck

import (
	"fmt"
	"math/rand"
)

// Suit represents one of the four card suits.
type Suit int

const (
	Clubs Suit = iota
	Diamonds
	Hearts
	Spades
)

func (s Suit) String() string {
	switch s {
	case Clubs:
		return "CLUBS"
	case Diamonds:
		return "DIAMONDS"
	case Hearts:
		return "HEARTS"
	case Spades:
		return "SPADES"
	default:
		return "UNKNOWN"
	}
}

// Rank represents a card rank. The deck runs 6 through King.
type Rank int

const (
	Six   Rank = 6
	Seven Rank = 7
	Eight Rank = 8
	Nine  Rank = 9
	Ten   Rank = 10
	Jack  Rank = 11
	Queen Rank = 12
	King  Rank = 13
)

// rankValues maps each rank to its trick-taking value.
var rankValues = map[Rank]int{
	Six:   6,
	Seven: 7,
	Eight: 8,
	Nine:  9,
	Ten:   10,
	Jack:  11,
	Queen: 12,
	King:  13,
}

func (r Rank) String() string {
	switch r {
	case Jack:
		return "J"
	case Queen:
		return "Q"
	case King:
		return "K"
	default:
		return fmt.Sprintf("%d", int(r))
	}
}

// Value returns the comparison value of the rank.
func (r Rank) Value() int {
	return rankValues[r]
}

// Card is an immutable suit/rank pair.
type Card struct {
	Suit Suit `json:"suit"`
	Rank Rank `json:"rank"`
}

// Value returns the card's comparison value within its suit.
func (c Card) Value() int {
	return c.Rank.Value()
}

func (c Card) String() string {
	return fmt.Sprintf("%s-%s", c.Rank, c.Suit)
}

const (
	// Size is the number of cards in a full deck (4 suits x 8 ranks).
	Size = 32
	// HandSize is the number of cards dealt to each player per match.
	HandSize = 5
	// TricksPerMatch is the number of tricks a full match runs.
	TricksPerMatch = 5
)

var ranks = []Rank{Six, Seven, Eight, Nine, Ten, Jack, Queen, King}
var suits = []Suit{Clubs, Diamonds, Hearts, Spades}

// New returns the fixed 32-card set in deterministic order.
func New() []Card {
	cards := make([]Card, 0, Size)
	for _, s := range suits {
		for _, r := range ranks {
			cards = append(cards, Card{Suit: s, Rank: r})
		}
	}
	return cards
}

// Shuffle returns a uniformly random permutation of cards. The input is not
// mutated.
func Shuffle(cards []Card) []Card {
	out := make([]Card, len(cards))
	copy(out, cards)
	for i := len(out) - 1; i > 0; i-- {
		j := rand.Intn(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Deal distributes HandSize cards to each of playerCount players in two
// passes (3 cards, then 2), consuming from the front of the deck. If the deck
// runs out the remaining hands simply come up short; callers must check
// len(cards) >= playerCount*HandSize when that matters.
func Deal(playerCount int, cards []Card) (hands [][]Card, rest []Card) {
	hands = make([][]Card, playerCount)
	for i := range hands {
		hands[i] = make([]Card, 0, HandSize)
	}
	rest = cards
	for _, batch := range []int{3, 2} {
		for i := 0; i < playerCount; i++ {
			n := batch
			if n > len(rest) {
				n = len(rest)
			}
			hands[i] = append(hands[i], rest[:n]...)
			rest = rest[n:]
		}
	}
	return hands, rest
}

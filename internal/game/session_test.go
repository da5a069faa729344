package game

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/openkoz/koz-server/internal/deck"
)

func testSeats(n int) []Seat {
	ids := []string{"alice", "bob", "carol", "dave"}
	seats := make([]Seat, n)
	for i := 0; i < n; i++ {
		seats[i] = Seat{PlayerID: ids[i], ConnID: "conn-" + ids[i], Name: ids[i]}
	}
	return seats
}

func newTestSession(t *testing.T, n, targetScore int) *Session {
	t.Helper()
	s, err := NewSession("room-1", testSeats(n), targetScore, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	s.strict = true
	return s
}

func card(su deck.Suit, r deck.Rank) deck.Card {
	return deck.Card{Suit: su, Rank: r}
}

// rig puts the session directly into an open trick with the given hands,
// bypassing the shuffle so tests are deterministic.
func rig(s *Session, control string, hands map[string][]deck.Card) {
	for _, p := range s.players {
		p.Hand = append([]deck.Card(nil), hands[p.ID]...)
	}
	s.control = control
	s.state = StateTrickOpen
	s.deck = nil
}

func mustPlay(t *testing.T, s *Session, playerID string, c deck.Card) {
	t.Helper()
	if err := s.SubmitPlay(playerID, c, -1); err != nil {
		t.Fatalf("SubmitPlay(%s, %s): %v", playerID, c, err)
	}
}

func rejectCode(t *testing.T, err error) RejectCode {
	t.Helper()
	ve, ok := AsValidation(err)
	if !ok {
		t.Fatalf("want ValidationError, got %v", err)
	}
	return ve.Code
}

func TestNewSession_RosterBounds(t *testing.T) {
	if _, err := NewSession("r", testSeats(1), 15, nil); !errors.Is(err, ErrNotEnoughPlayers) {
		t.Errorf("1 seat: want ErrNotEnoughPlayers, got %v", err)
	}
	seats := append(testSeats(4), Seat{PlayerID: "eve", ConnID: "conn-eve", Name: "eve"})
	if _, err := NewSession("r", seats, 15, nil); !errors.Is(err, ErrNotEnoughPlayers) {
		t.Errorf("5 seats: want ErrNotEnoughPlayers, got %v", err)
	}

	s, err := NewSession("r", testSeats(2), 15, nil)
	if err != nil {
		t.Fatalf("2 seats: %v", err)
	}
	if s.control != "alice" {
		t.Errorf("initial control = %q, want first seat", s.control)
	}
	if s.Snapshot().State != StateAwaitingStart.String() {
		t.Errorf("initial state = %s, want AWAITING_START", s.Snapshot().State)
	}
}

func TestStartMatch_DealsFiveEach(t *testing.T) {
	s := newTestSession(t, 3, 15)
	if err := s.StartMatch(); err != nil {
		t.Fatalf("StartMatch: %v", err)
	}

	snap := s.Snapshot()
	if snap.State != StateTrickOpen.String() {
		t.Errorf("state = %s, want TRICK_OPEN", snap.State)
	}
	for _, p := range snap.Players {
		if len(p.Hand) != deck.HandSize {
			t.Errorf("player %s dealt %d cards, want %d", p.ID, len(p.Hand), deck.HandSize)
		}
	}
	if snap.DeckRemaining != deck.Size-3*deck.HandSize {
		t.Errorf("deck remaining = %d, want %d", snap.DeckRemaining, deck.Size-3*deck.HandSize)
	}
	if snap.Version == 0 {
		t.Error("version not bumped by StartMatch")
	}

	if err := s.StartMatch(); !errors.Is(err, ErrMatchInProgress) {
		t.Errorf("second StartMatch: want ErrMatchInProgress, got %v", err)
	}
}

func TestSubmitPlay_OnlyControllerLeads(t *testing.T) {
	s := newTestSession(t, 2, 15)
	rig(s, "alice", map[string][]deck.Card{
		"alice": {card(deck.Clubs, deck.Nine)},
		"bob":   {card(deck.Hearts, deck.Ten)},
	})

	err := s.SubmitPlay("bob", card(deck.Hearts, deck.Ten), -1)
	if got := rejectCode(t, err); got != RejectNotYourTurn {
		t.Errorf("code = %s, want NOT_YOUR_TURN", got)
	}
	mustPlay(t, s, "alice", card(deck.Clubs, deck.Nine))
}

func TestSubmitPlay_MustFollowSuit(t *testing.T) {
	s := newTestSession(t, 2, 15)
	rig(s, "alice", map[string][]deck.Card{
		"alice": {card(deck.Clubs, deck.Nine), card(deck.Clubs, deck.Eight)},
		"bob":   {card(deck.Clubs, deck.Ten), card(deck.Hearts, deck.Ten)},
	})
	mustPlay(t, s, "alice", card(deck.Clubs, deck.Nine))

	err := s.SubmitPlay("bob", card(deck.Hearts, deck.Ten), -1)
	if got := rejectCode(t, err); got != RejectInvalidMove {
		t.Errorf("off-suit with clubs in hand: code = %s, want INVALID_MOVE", got)
	}
	mustPlay(t, s, "bob", card(deck.Clubs, deck.Ten))
}

func TestSubmitPlay_OffSuitAllowedWhenVoid(t *testing.T) {
	s := newTestSession(t, 2, 15)
	rig(s, "alice", map[string][]deck.Card{
		"alice": {card(deck.Clubs, deck.Nine), card(deck.Clubs, deck.Eight)},
		"bob":   {card(deck.Hearts, deck.Ten), card(deck.Spades, deck.Jack)},
	})
	mustPlay(t, s, "alice", card(deck.Clubs, deck.Nine))
	mustPlay(t, s, "bob", card(deck.Hearts, deck.Ten))

	// Nobody followed, so the leader keeps the trick.
	if s.control != "alice" {
		t.Errorf("control = %q, want leader alice", s.control)
	}
	if s.tricks != 1 {
		t.Errorf("tricks = %d, want 1", s.tricks)
	}
}

func TestSubmitPlay_RejectsDoublePlay(t *testing.T) {
	s := newTestSession(t, 3, 15)
	rig(s, "alice", map[string][]deck.Card{
		"alice": {card(deck.Clubs, deck.Nine), card(deck.Clubs, deck.Eight)},
		"bob":   {card(deck.Clubs, deck.Ten)},
		"carol": {card(deck.Clubs, deck.Jack)},
	})
	mustPlay(t, s, "alice", card(deck.Clubs, deck.Nine))

	err := s.SubmitPlay("alice", card(deck.Clubs, deck.Eight), -1)
	if got := rejectCode(t, err); got != RejectAlreadyPlayed {
		t.Errorf("code = %s, want ALREADY_PLAYED", got)
	}
}

func TestSubmitPlay_RejectsCardNotInHand(t *testing.T) {
	s := newTestSession(t, 2, 15)
	rig(s, "alice", map[string][]deck.Card{
		"alice": {card(deck.Clubs, deck.Nine)},
		"bob":   {card(deck.Clubs, deck.Ten)},
	})

	err := s.SubmitPlay("alice", card(deck.Spades, deck.King), -1)
	if got := rejectCode(t, err); got != RejectInvalidMove {
		t.Errorf("code = %s, want INVALID_MOVE", got)
	}
}

func TestSubmitPlay_RejectsUnknownPlayer(t *testing.T) {
	s := newTestSession(t, 2, 15)
	rig(s, "alice", map[string][]deck.Card{
		"alice": {card(deck.Clubs, deck.Nine)},
		"bob":   {card(deck.Clubs, deck.Ten)},
	})

	err := s.SubmitPlay("mallory", card(deck.Clubs, deck.Nine), -1)
	if got := rejectCode(t, err); got != RejectNotFound {
		t.Errorf("code = %s, want NOT_FOUND", got)
	}
}

func TestSubmitPlay_RejectsAfterSessionOver(t *testing.T) {
	s := newTestSession(t, 2, 15)
	s.over = true
	s.state = StateMatchOver

	err := s.SubmitPlay("alice", card(deck.Clubs, deck.Nine), -1)
	if got := rejectCode(t, err); got != RejectGameOver {
		t.Errorf("code = %s, want GAME_OVER", got)
	}
}

func TestTrickResolution_HighestLeadSuitWins(t *testing.T) {
	s := newTestSession(t, 3, 15)
	rig(s, "alice", map[string][]deck.Card{
		"alice": {card(deck.Clubs, deck.Nine)},
		"bob":   {card(deck.Clubs, deck.King)},
		"carol": {card(deck.Spades, deck.King)},
	})
	mustPlay(t, s, "alice", card(deck.Clubs, deck.Nine))
	mustPlay(t, s, "bob", card(deck.Clubs, deck.King))
	mustPlay(t, s, "carol", card(deck.Spades, deck.King))

	if s.control != "bob" {
		t.Errorf("control = %q, want bob (K of the lead suit)", s.control)
	}
	if s.carry != 0 {
		t.Errorf("carry = %d, want 0 after a plain win", s.carry)
	}
}

func TestTrickResolution_ControlTransferOnLowCardResetsCarry(t *testing.T) {
	s := newTestSession(t, 2, 15)
	rig(s, "alice", map[string][]deck.Card{
		"alice": {card(deck.Clubs, deck.Six)},
		"bob":   {card(deck.Clubs, deck.Seven)},
	})
	s.carry = 4
	su := deck.Hearts
	s.lastSuit = &su

	mustPlay(t, s, "alice", card(deck.Clubs, deck.Six))
	mustPlay(t, s, "bob", card(deck.Clubs, deck.Seven))

	if s.control != "bob" {
		t.Errorf("control = %q, want bob", s.control)
	}
	if s.carry != 0 {
		t.Errorf("carry = %d, want 0 after control transfer", s.carry)
	}
}

// Plays a full scripted 2-player match where alice keeps control throughout
// and exercises every branch of the carry policy: accumulate on a new suit,
// replace on a repeated suit, reset on a high-card win, then credit the final
// carry at match end.
func TestMatch_CarryPolicyEndToEnd(t *testing.T) {
	s := newTestSession(t, 2, 2)
	rig(s, "alice", map[string][]deck.Card{
		"alice": {
			card(deck.Clubs, deck.Six),
			card(deck.Diamonds, deck.Seven),
			card(deck.Diamonds, deck.Six),
			card(deck.Spades, deck.King),
			card(deck.Clubs, deck.Seven),
		},
		"bob": {
			card(deck.Hearts, deck.Six),
			card(deck.Hearts, deck.Seven),
			card(deck.Hearts, deck.Eight),
			card(deck.Hearts, deck.Nine),
			card(deck.Hearts, deck.Ten),
		},
	})

	steps := []struct {
		aliceCard deck.Card
		bobCard   deck.Card
		carry     int
	}{
		// A 6 win starts the carry, a new suit accumulates, the repeated
		// suit replaces, a high-card win resets, and the last trick starts
		// a fresh carry.
		{card(deck.Clubs, deck.Six), card(deck.Hearts, deck.Six), 3},
		{card(deck.Diamonds, deck.Seven), card(deck.Hearts, deck.Seven), 5},
		{card(deck.Diamonds, deck.Six), card(deck.Hearts, deck.Eight), 3},
		{card(deck.Spades, deck.King), card(deck.Hearts, deck.Nine), 0},
		{card(deck.Clubs, deck.Seven), card(deck.Hearts, deck.Ten), 2},
	}
	for i, step := range steps {
		mustPlay(t, s, "alice", step.aliceCard)
		mustPlay(t, s, "bob", step.bobCard)
		if s.carry != step.carry {
			t.Fatalf("after trick %d: carry = %d, want %d", i+1, s.carry, step.carry)
		}
	}

	// Carry of 2 outscores the trick's face points and meets the target.
	snap := s.Snapshot()
	if !snap.Over || snap.State != StateMatchOver.String() {
		t.Fatalf("session over = %v state = %s, want MATCH_OVER", snap.Over, snap.State)
	}
	for _, p := range snap.Players {
		if p.ID == "alice" && p.Score != 2 {
			t.Errorf("alice score = %d, want 2 (credited carry)", p.Score)
		}
		if p.ID == "bob" && p.Score != 0 {
			t.Errorf("bob score = %d, want 0", p.Score)
		}
	}
}

func TestMatch_CreditsFinalPointsWhenCarryIsZero(t *testing.T) {
	s := newTestSession(t, 2, 15)
	s.restartDelay = 0
	rig(s, "alice", map[string][]deck.Card{
		"alice": {card(deck.Spades, deck.King)},
		"bob":   {card(deck.Hearts, deck.Ten)},
	})
	s.tricks = deck.TricksPerMatch - 1

	mustPlay(t, s, "alice", card(deck.Spades, deck.King))
	mustPlay(t, s, "bob", card(deck.Hearts, deck.Ten))

	if got := s.findPlayerLocked("alice").Score; got != 1 {
		t.Errorf("alice score = %d, want 1 (final trick points)", got)
	}
	// Below target: the next match deals immediately with delay zero.
	snap := s.Snapshot()
	if snap.State != StateTrickOpen.String() {
		t.Errorf("state = %s, want TRICK_OPEN after automatic restart", snap.State)
	}
	if snap.TricksCompleted != 0 {
		t.Errorf("tricks = %d, want 0 in the new match", snap.TricksCompleted)
	}
}

func TestVersion_MonotonicPerCommit(t *testing.T) {
	s := newTestSession(t, 2, 15)
	rig(s, "alice", map[string][]deck.Card{
		"alice": {card(deck.Clubs, deck.Nine), card(deck.Clubs, deck.Eight)},
		"bob":   {card(deck.Clubs, deck.Ten), card(deck.Clubs, deck.Jack)},
	})

	var versions []uint64
	s.SetNotify(func(snap Snapshot) {
		versions = append(versions, snap.Version)
	})

	mustPlay(t, s, "alice", card(deck.Clubs, deck.Nine))
	mustPlay(t, s, "bob", card(deck.Clubs, deck.Ten))

	if len(versions) != 2 {
		t.Fatalf("got %d notifications, want 2", len(versions))
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("version %d -> %d did not increase", versions[i-1], versions[i])
		}
	}

	// A rejected play commits nothing.
	before := s.Version()
	_ = s.SubmitPlay("alice", card(deck.Spades, deck.King), -1)
	if s.Version() != before {
		t.Error("rejected play bumped the version")
	}
}

func TestReset_ClearsScoresAndHands(t *testing.T) {
	s := newTestSession(t, 2, 2)
	rig(s, "alice", map[string][]deck.Card{
		"alice": {card(deck.Spades, deck.King)},
		"bob":   {card(deck.Hearts, deck.Ten)},
	})
	s.tricks = deck.TricksPerMatch - 1
	mustPlay(t, s, "alice", card(deck.Spades, deck.King))
	mustPlay(t, s, "bob", card(deck.Hearts, deck.Ten))
	// Alice hit the target; the session is terminal until reset.
	if !s.Snapshot().Over {
		t.Fatal("session should be over")
	}

	if err := s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	snap := s.Snapshot()
	if snap.Over || snap.State != StateAwaitingStart.String() {
		t.Errorf("state = %s over = %v, want AWAITING_START", snap.State, snap.Over)
	}
	for _, p := range snap.Players {
		if p.Score != 0 || p.HandCount != 0 {
			t.Errorf("player %s not cleared: score %d, hand %d", p.ID, p.Score, p.HandCount)
		}
	}

	// A fresh series starts normally.
	if err := s.StartMatch(); err != nil {
		t.Fatalf("StartMatch after reset: %v", err)
	}
}

// Hammers sessions with random intents while strict invariant checking is on;
// any violated invariant panics and fails the run.
func TestInvariants_RandomIntentSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for trial := 0; trial < 40; trial++ {
		n := MinPlayers + rng.Intn(MaxPlayers-MinPlayers+1)
		s := newTestSession(t, n, 1000)
		s.restartDelay = 0
		cont := NewContinuity(s, time.Hour, zap.NewNop())

		if err := s.StartMatch(); err != nil {
			t.Fatalf("trial %d: StartMatch: %v", trial, err)
		}

		for i := 0; i < 150; i++ {
			p := s.players[rng.Intn(len(s.players))]
			switch rng.Intn(12) {
			case 0:
				prior := p.ConnID
				cont.Disconnect(p.ID)
				if rng.Intn(2) == 0 {
					cont.Reconnect(prior, fmt.Sprintf("conn-%d-%d", trial, i))
				}
			case 1:
				cont.Disconnect(p.ID) // may be a repeat; must stay idempotent
			default:
				if len(p.Hand) == 0 {
					continue
				}
				c := p.Hand[rng.Intn(len(p.Hand))]
				_ = s.SubmitPlay(p.ID, c, -1)
			}
		}
		cont.Close()
		s.Close()
	}
}

func TestSnapshot_RedactionHidesOtherHands(t *testing.T) {
	s := newTestSession(t, 2, 15)
	rig(s, "alice", map[string][]deck.Card{
		"alice": {card(deck.Clubs, deck.Nine)},
		"bob":   {card(deck.Clubs, deck.Ten), card(deck.Hearts, deck.Six)},
	})

	view := s.Snapshot().RedactedFor("alice")
	for _, p := range view.Players {
		switch p.ID {
		case "alice":
			if len(p.Hand) != 1 {
				t.Errorf("own hand redacted: %v", p.Hand)
			}
		case "bob":
			if p.Hand != nil {
				t.Errorf("bob's hand leaked: %v", p.Hand)
			}
			if p.HandCount != 2 {
				t.Errorf("bob hand count = %d, want 2", p.HandCount)
			}
		}
	}
}

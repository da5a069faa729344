package game

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openkoz/koz-server/internal/deck"
)

// State is the session's position in the match state machine.
type State int

const (
	StateAwaitingStart State = iota
	StateShuffling
	StateDealing
	StateTrickOpen
	StateTrickResolving
	StateMatchResolving
	StateMatchOver
)

func (s State) String() string {
	switch s {
	case StateAwaitingStart:
		return "AWAITING_START"
	case StateShuffling:
		return "SHUFFLING"
	case StateDealing:
		return "DEALING"
	case StateTrickOpen:
		return "TRICK_OPEN"
	case StateTrickResolving:
		return "TRICK_RESOLVING"
	case StateMatchResolving:
		return "MATCH_RESOLVING"
	case StateMatchOver:
		return "MATCH_OVER"
	default:
		return "UNKNOWN"
	}
}

// NotifyFunc receives the fresh snapshot after every committed mutation. It
// is invoked synchronously with the session lock held and must not call back
// into the session.
type NotifyFunc func(Snapshot)

// Session owns the authoritative state of one match: players, deck, the
// trick in progress, control, and carry-over scoring. All mutations run to
// completion under the session mutex.
type Session struct {
	mu sync.Mutex

	roomID      string
	targetScore int

	players []*Player // insertion order, stable across the session
	deck    []deck.Card

	plays    []Play
	lead     *deck.Card
	control  string // player entitled to lead the next trick
	carry    int
	lastSuit *deck.Suit
	tricks   int

	state   State
	over    bool
	version uint64
	cycle   uint64 // deal-cycle counter, bumped on every deal

	restartDelay time.Duration
	restartTimer *time.Timer
	closed       bool
	strict       bool

	notify NotifyFunc
	logger *zap.Logger
}

// MinPlayers and MaxPlayers bound the roster of a match.
const (
	MinPlayers = 2
	MaxPlayers = 4
)

// NewSession creates a session for the given seats. The first seated player
// holds initial control. The match is not dealt until StartMatch.
func NewSession(roomID string, seats []Seat, targetScore int, logger *zap.Logger) (*Session, error) {
	if len(seats) < MinPlayers || len(seats) > MaxPlayers {
		return nil, fmt.Errorf("%w: got %d seats, want %d-%d", ErrNotEnoughPlayers, len(seats), MinPlayers, MaxPlayers)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Session{
		roomID:      roomID,
		targetScore: targetScore,
		state:       StateAwaitingStart,
		logger:      logger.With(zap.String("room_id", roomID)),
	}
	for _, seat := range seats {
		s.players = append(s.players, &Player{
			ID:     seat.PlayerID,
			ConnID: seat.ConnID,
			Name:   seat.Name,
			Status: StatusActive,
		})
	}
	s.control = s.players[0].ID
	return s, nil
}

// RoomID returns the room this session belongs to.
func (s *Session) RoomID() string {
	return s.roomID
}

// SetNotify installs the change-notification hook.
func (s *Session) SetNotify(fn NotifyFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notify = fn
}

// SetRestartDelay sets the pause before the next match is dealt after a
// non-terminal match end. Zero restarts synchronously.
func (s *Session) SetRestartDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restartDelay = d
}

// SetStrict makes invariant violations panic instead of degrading to a state
// refresh. Used in tests and development builds.
func (s *Session) SetStrict(strict bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strict = strict
}

// Close stops any pending restart timer. The session must not be used after.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
}

// Snapshot returns an immutable copy of the observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Version returns the monotonically increasing state version.
func (s *Session) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// StartMatch deals a new 5-trick match. Control stays with whoever held it at
// the end of the previous match.
func (s *Session) StartMatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.over || s.closed {
		return ErrSessionOver
	}
	if s.state != StateAwaitingStart {
		return ErrMatchInProgress
	}
	if err := s.startMatchLocked(); err != nil {
		return err
	}
	s.commitLocked()
	return nil
}

func (s *Session) startMatchLocked() error {
	s.promoteQueuedLocked()

	active := s.activePlayersLocked()
	if len(active) < MinPlayers {
		return ErrNotEnoughPlayers
	}

	// Reshuffle only when the remaining deck cannot cover all hands.
	if len(s.deck) < len(active)*deck.HandSize {
		s.state = StateShuffling
		s.deck = deck.Shuffle(deck.New())
	}

	s.state = StateDealing
	s.cycle++
	hands, rest := deck.Deal(len(active), s.deck)
	for i, p := range active {
		p.Hand = hands[i]
	}
	s.deck = rest

	// Control carries over between matches, but must point at a current
	// participant.
	if s.findActiveLocked(s.control) == nil {
		s.control = active[0].ID
	}

	s.plays = nil
	s.lead = nil
	s.carry = 0
	s.lastSuit = nil
	s.tricks = 0
	s.state = StateTrickOpen

	s.logger.Info("match started",
		zap.Int("players", len(active)),
		zap.String("control", s.control),
	)
	return nil
}

// SubmitPlay validates and applies one card play as a single atomic step.
// The first failing check wins; on success the play is committed and, if the
// trick is full, resolved before the snapshot is broadcast.
func (s *Session) SubmitPlay(playerID string, card deck.Card, handIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.over {
		return rejectf(RejectGameOver, "the session is over")
	}
	p := s.findActiveLocked(playerID)
	if p == nil {
		return rejectf(RejectNotFound, "player %s is not a current participant", playerID)
	}
	if s.state != StateTrickOpen {
		return rejectf(RejectInvalidMove, "no trick is open")
	}
	if len(s.plays) == 0 && s.control != playerID {
		return rejectf(RejectNotYourTurn, "only the controller may lead")
	}
	for _, pl := range s.plays {
		if pl.PlayerID == playerID {
			return rejectf(RejectAlreadyPlayed, "player %s already played this trick", playerID)
		}
	}
	idx := p.indexOfCard(card, handIndex)
	if idx < 0 {
		return rejectf(RejectInvalidMove, "card %s is not in hand", card)
	}
	if s.lead != nil && p.holdsSuit(s.lead.Suit) && card.Suit != s.lead.Suit {
		return rejectf(RejectInvalidMove, "must follow suit %s", s.lead.Suit)
	}

	// Apply. No suspension between validation and mutation.
	p.removeCard(idx)
	s.plays = append(s.plays, Play{PlayerID: playerID, Card: card})
	if len(s.plays) == 1 {
		c := card
		s.lead = &c
	}

	if len(s.plays) >= len(s.activePlayersLocked()) {
		s.resolveTrickLocked()
	}
	s.commitLocked()
	return nil
}

// resolveTrickLocked picks the trick winner, applies the scoring policy and
// advances to the next trick or ends the match. Callers hold s.mu and
// guarantee at least one play.
func (s *Session) resolveTrickLocked() {
	s.state = StateTrickResolving

	leadCard := s.plays[0].Card
	if s.lead != nil {
		leadCard = *s.lead
	}

	// Highest value among lead-suit plays, earliest play winning ties. The
	// first play seeds the comparison, so a trick nobody followed still has
	// a winner: whoever played first.
	winner := s.plays[0]
	best := winner.Card.Value()
	for _, pl := range s.plays[1:] {
		if pl.Card.Suit == leadCard.Suit && pl.Card.Value() > best {
			winner = pl
			best = pl.Card.Value()
		}
	}

	oldControl := s.control
	newControl := winner.PlayerID
	wc := winner.Card
	low := wc.Rank == deck.Six || wc.Rank == deck.Seven

	var points int
	switch {
	case newControl != oldControl && low && wc.Suit == leadCard.Suit:
		// Control transfer on a qualifying low card.
		points = 1
		s.carry = 0
	case newControl == oldControl:
		cardPoints := 1
		switch wc.Rank {
		case deck.Six:
			cardPoints = 3
		case deck.Seven:
			cardPoints = 2
		}
		if low {
			points = cardPoints
			if s.lastSuit != nil && *s.lastSuit == wc.Suit {
				s.carry = cardPoints
			} else {
				s.carry += cardPoints
			}
		} else {
			points = 1
			s.carry = 0
		}
	default:
		points = 1
		s.carry = 0
	}
	if low {
		suit := wc.Suit
		s.lastSuit = &suit
	}

	s.control = newControl
	s.tricks++
	s.plays = nil
	s.lead = nil

	s.logger.Debug("trick resolved",
		zap.String("winner", newControl),
		zap.Stringer("card", wc),
		zap.Int("trick", s.tricks),
		zap.Int("carry", s.carry),
	)

	if s.tricks >= deck.TricksPerMatch {
		s.finishMatchLocked(winner.PlayerID, points)
		return
	}

	s.promoteReadyLocked()
	s.state = StateTrickOpen
}

// finishMatchLocked credits the match score and either ends the session or
// schedules the next match.
func (s *Session) finishMatchLocked(winnerID string, points int) {
	s.state = StateMatchResolving

	credited := points
	if s.carry > 0 {
		credited = s.carry
	}
	if p := s.findPlayerLocked(winnerID); p != nil {
		p.Score += credited
		s.logger.Info("match finished",
			zap.String("winner", winnerID),
			zap.Int("credited", credited),
			zap.Int("score", p.Score),
		)
	}

	for _, p := range s.players {
		if p.Status != StatusExpired && p.Score >= s.targetScore {
			s.over = true
			s.state = StateMatchOver
			s.logger.Info("session over", zap.String("winner", p.ID), zap.Int("score", p.Score))
			return
		}
	}

	s.state = StateAwaitingStart
	s.scheduleRestartLocked()
}

// Reset wipes scores, hands and trick state and re-enters AWAITING_START so
// an independent series of matches can begin. It is not used between tricks.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionOver
	}
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}

	for _, p := range s.players {
		p.Score = 0
		p.Hand = nil
	}
	s.plays = nil
	s.lead = nil
	s.carry = 0
	s.lastSuit = nil
	s.tricks = 0
	s.deck = nil
	s.over = false
	s.state = StateAwaitingStart
	if active := s.activePlayersLocked(); len(active) > 0 {
		s.control = active[0].ID
	}

	s.logger.Info("session reset")
	s.commitLocked()
	return nil
}

func (s *Session) scheduleRestartLocked() {
	if s.closed {
		return
	}
	if s.restartDelay <= 0 {
		if err := s.startMatchLocked(); err != nil {
			s.logger.Warn("automatic restart failed", zap.Error(err))
		}
		return
	}
	s.restartTimer = time.AfterFunc(s.restartDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed || s.over || s.state != StateAwaitingStart {
			return
		}
		if err := s.startMatchLocked(); err != nil {
			s.logger.Warn("automatic restart failed", zap.Error(err))
			return
		}
		s.commitLocked()
	})
}

// promoteQueuedLocked admits every queued reconnector. Only called at a
// match boundary, where a fresh deal follows.
func (s *Session) promoteQueuedLocked() {
	for _, p := range s.players {
		if p.Status == StatusQueued {
			p.Status = StatusActive
		}
	}
}

// promoteReadyLocked admits queued reconnectors at a trick boundary. A
// reconnector whose hand predates the current deal has no cards and must
// wait for the next match.
func (s *Session) promoteReadyLocked() {
	for _, p := range s.players {
		if p.Status == StatusQueued && len(p.Hand) > 0 {
			p.Status = StatusActive
		}
	}
}

func (s *Session) activePlayersLocked() []*Player {
	out := make([]*Player, 0, len(s.players))
	for _, p := range s.players {
		if p.Status == StatusActive {
			out = append(out, p)
		}
	}
	return out
}

func (s *Session) findPlayerLocked(id string) *Player {
	for _, p := range s.players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (s *Session) findActiveLocked(id string) *Player {
	p := s.findPlayerLocked(id)
	if p == nil || p.Status != StatusActive {
		return nil
	}
	return p
}

// commitLocked bumps the version, verifies invariants and emits the change
// notification. Every mutation path ends here exactly once.
func (s *Session) commitLocked() {
	s.version++
	if err := s.checkInvariantsLocked(); err != nil {
		if s.strict {
			panic(err)
		}
		// Degrade: log loudly and broadcast a refresh rather than corrupt
		// shared state further.
		s.logger.Error("invariant violation", zap.Error(err))
	}
	if s.notify != nil {
		s.notify(s.snapshotLocked())
	}
}

// checkInvariantsLocked verifies the structural invariants that must hold
// after every mutation.
func (s *Session) checkInvariantsLocked() error {
	active := s.activePlayersLocked()

	if len(active) > 0 && s.state != StateMatchOver && s.control != "" {
		if s.findActiveLocked(s.control) == nil {
			return fmt.Errorf("control holder %s is not an active participant", s.control)
		}
	}

	if len(s.plays) > len(active) {
		return fmt.Errorf("%d plays exceed active roster of %d", len(s.plays), len(active))
	}
	seen := make(map[string]bool, len(s.plays))
	for _, pl := range s.plays {
		if seen[pl.PlayerID] {
			return fmt.Errorf("player %s has more than one play this trick", pl.PlayerID)
		}
		seen[pl.PlayerID] = true
	}

	if len(s.plays) > 0 {
		if s.lead == nil || *s.lead != s.plays[0].Card {
			return fmt.Errorf("lead card does not match first play")
		}
	}

	cards := make(map[deck.Card]int)
	for _, p := range s.players {
		for _, c := range p.Hand {
			cards[c]++
		}
	}
	for _, c := range s.deck {
		cards[c]++
	}
	for _, pl := range s.plays {
		cards[pl.Card]++
	}
	for c, n := range cards {
		if n > 1 {
			return fmt.Errorf("card %s appears %d times", c, n)
		}
	}

	return nil
}

package game

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openkoz/koz-server/internal/deck"
)

// ReconnectStatus reports the outcome of a reconnection attempt.
type ReconnectStatus string

const (
	ReconnectLive   ReconnectStatus = "LIVE"
	ReconnectQueued ReconnectStatus = "QUEUED"
	ReconnectFailed ReconnectStatus = "FAILED"
)

// DefaultGracePeriod is how long a dropped player's seat is held open.
const DefaultGracePeriod = 35 * time.Second

// ReconnectRecord holds everything needed to restore a dropped player,
// keyed by the connection identity they disconnected under.
type ReconnectRecord struct {
	PlayerID string
	ConnID   string
	Name     string
	Hand     []deck.Card
	Score    int
	// Version is the session state version right after the disconnect
	// repair committed; if it is still current on reconnect, nothing has
	// progressed and the player can rejoin the live trick.
	Version uint64
	// Cycle is the deal cycle the held hand belongs to. Once the session
	// deals again the hand is dead and must not be restored.
	Cycle uint64

	timer *time.Timer
}

// Continuity makes one session tolerant of transport drops: it repairs the
// in-flight trick when a participant vanishes, holds their seat for a grace
// window, and reconciles state when they come back. Leaving, being kicked
// and dropping all funnel through Disconnect, so there is a single routine
// that can touch mid-trick state.
type Continuity struct {
	mu      sync.Mutex
	session *Session
	grace   time.Duration
	records map[string]*ReconnectRecord
	closed  bool
	logger  *zap.Logger
}

// NewContinuity wraps a session. grace <= 0 selects DefaultGracePeriod.
func NewContinuity(session *Session, grace time.Duration, logger *zap.Logger) *Continuity {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Continuity{
		session: session,
		grace:   grace,
		records: make(map[string]*ReconnectRecord),
		logger:  logger.With(zap.String("room_id", session.RoomID())),
	}
}

// Session returns the wrapped session.
func (c *Continuity) Session() *Session {
	return c.session
}

// Disconnect removes playerID from the live roster, repairs the trick in
// progress and starts the grace timer. Calling it again for the same player
// is a no-op.
func (c *Continuity) Disconnect(playerID string) {
	rec, ok := c.session.handleDisconnect(playerID)
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if _, exists := c.records[rec.ConnID]; exists {
		return
	}

	rec.timer = time.AfterFunc(c.grace, func() { c.expire(rec.ConnID) })
	c.records[rec.ConnID] = rec

	c.logger.Info("player disconnected, grace timer started",
		zap.String("player_id", rec.PlayerID),
		zap.String("conn_id", rec.ConnID),
		zap.Duration("grace", c.grace),
	)
}

// Reconnect restores the player who disconnected as priorConnID, rebinding
// them to newConnID. The result is LIVE when they can act immediately,
// QUEUED when they re-enter at the next trick boundary, FAILED otherwise.
func (c *Continuity) Reconnect(priorConnID, newConnID string) ReconnectStatus {
	c.mu.Lock()
	rec, ok := c.records[priorConnID]
	if ok {
		delete(c.records, priorConnID)
		rec.timer.Stop() // mandatory before reinstating, or expiry races the restore
	}
	c.mu.Unlock()

	if !ok {
		// No record: either the player never left (rebind them) or the
		// session does not know them at all.
		if c.session.rebindConn(priorConnID, newConnID) {
			return ReconnectLive
		}
		c.logger.Warn("reconnect attempt with no pending record",
			zap.String("prior_conn_id", priorConnID))
		return ReconnectFailed
	}

	status := c.session.reinstate(rec, newConnID)
	c.logger.Info("player reconnected",
		zap.String("player_id", rec.PlayerID),
		zap.String("status", string(status)),
	)
	return status
}

// KnowsConn reports whether connID identifies a held seat or a currently
// bound player in this session.
func (c *Continuity) KnowsConn(connID string) bool {
	c.mu.Lock()
	_, held := c.records[connID]
	c.mu.Unlock()
	if held {
		return true
	}
	return c.session.hasConn(connID)
}

// PendingCount reports how many seats are currently held open.
func (c *Continuity) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// Close cancels all grace timers. Pending players are not purged; the whole
// session is going away.
func (c *Continuity) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, rec := range c.records {
		rec.timer.Stop()
		delete(c.records, id)
	}
}

func (c *Continuity) expire(connID string) {
	c.mu.Lock()
	rec, ok := c.records[connID]
	if ok {
		delete(c.records, connID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	c.session.purge(rec.PlayerID)
	c.logger.Info("grace period expired, player purged",
		zap.String("player_id", rec.PlayerID),
		zap.String("conn_id", connID),
	)
}

// handleDisconnect performs the trick repair for a departing player under
// the session lock and returns the reconnection record to hold for them.
// ok is false when the player is unknown or already out of the roster,
// which makes Disconnect idempotent.
func (s *Session) handleDisconnect(playerID string) (*ReconnectRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.findPlayerLocked(playerID)
	if p == nil || (p.Status != StatusActive && p.Status != StatusQueued) {
		return nil, false
	}

	if p.Status == StatusActive {
		// 1. Control never goes unheld: pass it along the roster.
		if s.control == playerID {
			if next := s.nextActiveAfterLocked(playerID); next != nil {
				s.control = next.ID
			}
		}

		// 2+3. Pull the player's play out of the trick, returning the card
		// to the hand we snapshot. Removing the lead re-derives the lead
		// card from the play that now comes first, or clears it.
		for i, pl := range s.plays {
			if pl.PlayerID != playerID {
				continue
			}
			p.Hand = append(p.Hand, pl.Card)
			s.plays = append(s.plays[:i], s.plays[i+1:]...)
			if i == 0 {
				if len(s.plays) > 0 {
					c := s.plays[0].Card
					s.lead = &c
				} else {
					s.lead = nil
				}
			}
			break
		}
	}

	// 4. Out of the active roster. The hand leaves the live state with the
	// player, so a later reshuffle cannot mint duplicates of the cards they
	// still hold.
	hand := p.Hand
	p.Hand = nil
	p.Status = StatusDisconnected
	cycle := s.cycle

	// 5. The departure may have completed the trick for everyone else.
	if n := len(s.activePlayersLocked()); s.state == StateTrickOpen &&
		len(s.plays) >= 2 && len(s.plays) == n {
		s.resolveTrickLocked()
	}

	s.commitLocked()

	return &ReconnectRecord{
		PlayerID: p.ID,
		ConnID:   p.ConnID,
		Name:     p.Name,
		Hand:     hand,
		Score:    p.Score,
		Version:  s.version,
		Cycle:    cycle,
	}, true
}

// reinstate restores a player from a reconnection record. They rejoin the
// live trick when nothing has progressed since they left, or when their hand
// size still matches the trick count; otherwise they wait at the next
// boundary. A hand from a superseded deal is discarded and the player sits
// out until the next match deals them in.
func (s *Session) reinstate(rec *ReconnectRecord, newConnID string) ReconnectStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.findPlayerLocked(rec.PlayerID)
	if p == nil || p.Status == StatusExpired {
		return ReconnectFailed
	}

	p.ConnID = newConnID

	status := ReconnectQueued
	if rec.Cycle == s.cycle {
		p.Hand = make([]deck.Card, len(rec.Hand))
		copy(p.Hand, rec.Hand)
		if s.version == rec.Version || s.tricks == deck.HandSize-len(p.Hand) {
			p.Status = StatusActive
			status = ReconnectLive
		} else {
			p.Status = StatusQueued
		}
	} else {
		p.Hand = nil
		p.Status = StatusQueued
	}

	// The roster may have emptied while they were away, leaving control on
	// a disconnected player. Hand it to them.
	if p.Status == StatusActive && s.findActiveLocked(s.control) == nil {
		s.control = p.ID
	}

	s.commitLocked()
	return status
}

// rebindConn points an already-present player at a new connection identity.
func (s *Session) rebindConn(priorConnID, newConnID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.players {
		if p.ConnID == priorConnID && p.Status == StatusActive {
			p.ConnID = newConnID
			s.commitLocked()
			return true
		}
	}
	return false
}

func (s *Session) hasConn(connID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.players {
		if p.ConnID == connID && p.Status != StatusExpired {
			return true
		}
	}
	return false
}

// purge permanently removes a player whose grace period lapsed.
func (s *Session) purge(playerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.findPlayerLocked(playerID)
	if p == nil || p.Status != StatusDisconnected {
		return
	}
	p.Status = StatusExpired
	p.Hand = nil
	s.commitLocked()
}

// nextActiveAfterLocked walks the roster circularly from the player and
// returns the next active participant, excluding the player themselves.
func (s *Session) nextActiveAfterLocked(playerID string) *Player {
	start := -1
	for i, p := range s.players {
		if p.ID == playerID {
			start = i
			break
		}
	}
	if start < 0 {
		return nil
	}
	for i := 1; i <= len(s.players); i++ {
		p := s.players[(start+i)%len(s.players)]
		if p.ID != playerID && p.Status == StatusActive {
			return p
		}
	}
	return nil
}

package game

import (
	"errors"
	"time"
)

var (
	// ErrBetAlreadyPlaced is returned when an identity tries to bet twice in
	// the same round. The first bet is unaffected.
	ErrBetAlreadyPlaced = errors.New("bet already placed this round")
	// ErrInvalidAmount is returned for zero or negative wagers.
	ErrInvalidAmount = errors.New("bet amount must be positive")
	// ErrInvalidSide is returned for a side that is neither andar nor bahar.
	ErrInvalidSide = errors.New("invalid side")
)

// Bet is one accepted wager. By the time a Bet exists, Amount has already
// been debited from UserID's balance; the two facts are never allowed to
// exist separately.
type Bet struct {
	UserID   string
	Side     Side
	Amount   int64
	PlacedAt time.Time
}

// BetLedger holds the current round's accepted bets. It lives and dies with
// the round: populated during lobby, read at payout, cleared on reset. Like
// Round it is single-writer, owned by the orchestrator loop.
type BetLedger struct {
	bets []*Bet
}

// NewBetLedger creates an empty ledger.
func NewBetLedger() *BetLedger {
	return &BetLedger{bets: []*Bet{}}
}

// Place records an accepted bet. At most one bet per identity per round; a
// repeat attempt is rejected, not merged.
func (l *BetLedger) Place(userID string, side Side, amount int64) (*Bet, error) {
	if !ValidSide(side) {
		return nil, ErrInvalidSide
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if _, ok := l.Get(userID); ok {
		return nil, ErrBetAlreadyPlaced
	}

	bet := &Bet{
		UserID:   userID,
		Side:     side,
		Amount:   amount,
		PlacedAt: time.Now(),
	}
	l.bets = append(l.bets, bet)
	return bet, nil
}

// Get returns the identity's bet for this round, if any.
func (l *BetLedger) Get(userID string) (*Bet, bool) {
	for _, b := range l.bets {
		if b.UserID == userID {
			return b, true
		}
	}
	return nil, false
}

// Reattribute re-points every bet held by oldID at newID, so a payout
// reaches the surviving identity after a merge. When both identities bet the
// same side this round the stakes are combined into one bet; on different
// sides both bets survive under newID, each paying out independently.
func (l *BetLedger) Reattribute(oldID, newID string) {
	if oldID == newID {
		return
	}

	kept := l.bets[:0]
	var moved []*Bet
	for _, b := range l.bets {
		if b.UserID == oldID {
			b.UserID = newID
			moved = append(moved, b)
			continue
		}
		kept = append(kept, b)
	}
	if len(moved) == 0 {
		return
	}

	for _, m := range moved {
		merged := false
		for _, b := range kept {
			if b.UserID == newID && b.Side == m.Side {
				b.Amount += m.Amount
				merged = true
				break
			}
		}
		if !merged {
			kept = append(kept, m)
		}
	}
	l.bets = kept
}

// All returns the accepted bets in placement order.
func (l *BetLedger) All() []*Bet {
	out := make([]*Bet, len(l.bets))
	copy(out, l.bets)
	return out
}

// Len returns the number of accepted bets.
func (l *BetLedger) Len() int { return len(l.bets) }

// Totals sums the wagers per side. For any round this always equals the
// round's pot totals.
func (l *BetLedger) Totals() (andar, bahar int64) {
	for _, b := range l.bets {
		if b.Side == SideAndar {
			andar += b.Amount
		} else {
			bahar += b.Amount
		}
	}
	return andar, bahar
}

// Clear drops every bet, ready for the next round.
func (l *BetLedger) Clear() {
	l.bets = l.bets[:0]
}

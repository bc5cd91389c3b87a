package game

import (
	"encoding/json"
	"math/rand"
	"time"
)

// Phase represents the lifecycle stage of the live round.
type Phase string

const (
	PhaseLobby   Phase = "lobby"
	PhasePlaying Phase = "playing"
	PhaseResults Phase = "results"
)

// Side is one of the two mutually exclusive betting targets.
type Side string

const (
	SideAndar Side = "andar"
	SideBahar Side = "bahar"
)

// ValidSide reports whether s names a real betting side.
func ValidSide(s Side) bool {
	return s == SideAndar || s == SideBahar
}

// opposite returns the other side; draws alternate andar, bahar, andar, ...
func (s Side) opposite() Side {
	if s == SideAndar {
		return SideBahar
	}
	return SideAndar
}

// DrawnCard is a card that has been dealt to a side, tagged with whether its
// rank matched the joker and its 1-based position in the sequence.
type DrawnCard struct {
	Card
	Side       Side `json:"side"`
	IsMatching bool `json:"isMatching"`
	Order      int  `json:"order"`
}

// UnmarshalJSON mirrors the flattened marshal shape. Without it the embedded
// card's unmarshaler would be promoted and the draw tags silently dropped.
func (d *DrawnCard) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &d.Card); err != nil {
		return err
	}
	var tags struct {
		Side       Side `json:"side"`
		IsMatching bool `json:"isMatching"`
		Order      int  `json:"order"`
	}
	if err := json.Unmarshal(data, &tags); err != nil {
		return err
	}
	d.Side = tags.Side
	d.IsMatching = tags.IsMatching
	d.Order = tags.Order
	return nil
}

// MarshalJSON flattens the embedded card fields next to the draw tags, which
// is the shape the clients expect.
func (d DrawnCard) MarshalJSON() ([]byte, error) {
	type drawnJSON struct {
		CardJSON
		Side       Side `json:"side"`
		IsMatching bool `json:"isMatching"`
		Order      int  `json:"order"`
	}
	return json.Marshal(drawnJSON{
		CardJSON: CardJSON{
			Suit:  string(d.Card.suit),
			Rank:  string(d.Card.rank),
			Color: d.Card.Color(),
			ID:    d.Card.String(),
		},
		Side:       d.Side,
		IsMatching: d.IsMatching,
		Order:      d.Order,
	})
}

// Round is the single live round. It is exclusively owned by the
// orchestrator's event loop; no method here is safe for concurrent use and
// other components only ever see read-only snapshots.
type Round struct {
	number      int64
	phase       Phase
	joker       Card
	drawn       []DrawnCard
	winner      *Side
	potAndar    int64
	potBahar    int64
	currentSide Side
	countdown   int

	lastWinner *Side
	lastJoker  *Card

	startedAt time.Time
}

// NewRound creates round number one in the lobby phase with a freshly drawn
// joker.
func NewRound(lobbySeconds int, rng *rand.Rand) *Round {
	return &Round{
		number:      1,
		phase:       PhaseLobby,
		joker:       RandomCard(rng),
		drawn:       []DrawnCard{},
		currentSide: SideAndar,
		countdown:   lobbySeconds,
		startedAt:   time.Now(),
	}
}

// Number returns the monotonically increasing round sequence number.
func (r *Round) Number() int64 { return r.number }

// Phase returns the current phase.
func (r *Round) Phase() Phase { return r.phase }

// Joker returns the rank target card for this round.
func (r *Round) Joker() Card { return r.joker }

// Countdown returns the lobby seconds remaining.
func (r *Round) Countdown() int { return r.countdown }

// Winner returns the winning side, or nil while the round is undecided.
func (r *Round) Winner() *Side {
	if r.winner == nil {
		return nil
	}
	w := *r.winner
	return &w
}

// CurrentSide returns the side the next card will be dealt to.
func (r *Round) CurrentSide() Side { return r.currentSide }

// Pots returns the total wagered per side.
func (r *Round) Pots() (andar, bahar int64) {
	return r.potAndar, r.potBahar
}

// DrawnCount returns how many cards have been dealt this round.
func (r *Round) DrawnCount() int { return len(r.drawn) }

// StartedAt returns when this round entered the lobby phase.
func (r *Round) StartedAt() time.Time { return r.startedAt }

// AddToPot records an accepted wager in the side's pot total. The caller has
// already confirmed the corresponding balance debit.
func (r *Round) AddToPot(side Side, amount int64) {
	if side == SideAndar {
		r.potAndar += amount
	} else {
		r.potBahar += amount
	}
}

// TickCountdown decrements the lobby countdown by one second, clamped at
// zero, and returns the remaining seconds.
func (r *Round) TickCountdown() int {
	if r.countdown > 0 {
		r.countdown--
	}
	return r.countdown
}

// BeginPlay transitions lobby -> playing. Dealing always starts on andar.
func (r *Round) BeginPlay() {
	r.phase = PhasePlaying
	r.drawn = []DrawnCard{}
	r.currentSide = SideAndar
}

// Draw deals one random card to the current side and returns it. When the
// card's rank matches the joker the round is decided: the winner is fixed,
// the phase moves to results and matched is true. Otherwise the target side
// flips for the next deal.
func (r *Round) Draw(rng *rand.Rand) (DrawnCard, bool) {
	return r.ApplyDraw(RandomCard(rng))
}

// ApplyDraw is Draw with an explicit card. It exists so the draw/match rule
// can be exercised with scripted sequences.
func (r *Round) ApplyDraw(card Card) (DrawnCard, bool) {
	dc := DrawnCard{
		Card:       card,
		Side:       r.currentSide,
		IsMatching: card.MatchesRank(r.joker),
		Order:      len(r.drawn) + 1,
	}
	r.drawn = append(r.drawn, dc)

	if dc.IsMatching {
		winner := dc.Side
		r.winner = &winner
		r.phase = PhaseResults
		return dc, true
	}

	r.currentSide = r.currentSide.opposite()
	return dc, false
}

// NextRound resets the round for the following cycle: phase back to lobby, a
// fresh joker, cleared card sequence, zeroed pots and an incremented sequence
// number. The previous winner and joker are carried for the lobby view.
func (r *Round) NextRound(lobbySeconds int, rng *rand.Rand) {
	if r.winner != nil {
		w := *r.winner
		r.lastWinner = &w
	}
	j := r.joker
	r.lastJoker = &j

	r.number++
	r.phase = PhaseLobby
	r.joker = RandomCard(rng)
	r.drawn = []DrawnCard{}
	r.winner = nil
	r.potAndar = 0
	r.potBahar = 0
	r.currentSide = SideAndar
	r.countdown = lobbySeconds
	r.startedAt = time.Now()
}

// Snapshot is a read-only copy of the round state in wire shape. PlayersCount
// is owned by the connection registry and supplied by the caller.
type Snapshot struct {
	Phase          Phase       `json:"phase"`
	SessionID      string      `json:"sessionId"`
	PlayersCount   int         `json:"playersCount"`
	TotalBetsAndar int64       `json:"totalBetsAndar"`
	TotalBetsBahar int64       `json:"totalBetsBahar"`
	JokerCard      Card        `json:"jokerCard"`
	DrawnCards     []DrawnCard `json:"drawnCards"`
	Winner         *Side       `json:"winner"`
	CurrentSide    Side        `json:"currentSide"`
	LobbyTimeLeft  int         `json:"lobbyTimeLeft"`
	GameNumber     int64       `json:"gameNumber"`
	LastGameWinner *Side       `json:"lastGameWinner"`
	LastGameJoker  *Card       `json:"lastGameJoker"`
}

// Snapshot returns an immutable copy of the round for broadcasting.
func (r *Round) Snapshot(sessionID string, playersCount int) Snapshot {
	drawn := make([]DrawnCard, len(r.drawn))
	copy(drawn, r.drawn)

	return Snapshot{
		Phase:          r.phase,
		SessionID:      sessionID,
		PlayersCount:   playersCount,
		TotalBetsAndar: r.potAndar,
		TotalBetsBahar: r.potBahar,
		JokerCard:      r.joker,
		DrawnCards:     drawn,
		Winner:         r.Winner(),
		CurrentSide:    r.currentSide,
		LobbyTimeLeft:  r.countdown,
		GameNumber:     r.number,
		LastGameWinner: r.lastWinner,
		LastGameJoker:  r.lastJoker,
	}
}

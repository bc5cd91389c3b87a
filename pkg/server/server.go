package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/decred/slog"
	"github.com/vctt94/bisonbotkit/logging"

	"github.com/stacksgame/stacks-server/pkg/game"
	"github.com/stacksgame/stacks-server/pkg/server/internal/db"
)

// Config carries the orchestrator's tunables. The zero value is filled with
// production defaults; tests shrink the timings.
type Config struct {
	// SessionID labels this orchestrator instance in snapshots.
	SessionID string
	// LobbySeconds is the betting window length.
	LobbySeconds int
	// DrawInterval is the pause between dealt cards.
	DrawInterval time.Duration
	// SettleDelay is how long results stay on screen before the next lobby.
	SettleDelay time.Duration
	// Seed fixes the card RNG when non-zero.
	Seed int64
}

func (c *Config) fillDefaults() {
	if c.SessionID == "" {
		c.SessionID = "session-1"
	}
	if c.LobbySeconds == 0 {
		c.LobbySeconds = 30
	}
	if c.DrawInterval == 0 {
		c.DrawInterval = 1200 * time.Millisecond
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = 5 * time.Second
	}
}

// Server is the game orchestrator: it owns the single live round, the
// in-round bet ledger and the session registry, and drives them from one
// event loop. All mutation happens on that loop; handlers for incoming
// commands run to completion before the next is taken.
type Server struct {
	log        slog.Logger
	logBackend *logging.LogBackend
	db         Database
	cfg        Config

	rng   *rand.Rand
	round *game.Round
	bets  *game.BetLedger

	// sessions is keyed by session id and owned by the loop.
	sessions map[string]*Session

	commands chan command
	quit     chan struct{}
	runCtx   context.Context

	lobbyTask  *scheduledTask
	drawTask   *scheduledTask
	settleTask *scheduledTask
}

// NewServer creates the orchestrator with round 1 waiting in the lobby.
// Nothing runs until Run is called.
func NewServer(database Database, logBackend *logging.LogBackend, cfg Config) *Server {
	cfg.fillDefaults()

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	return &Server{
		log:        logBackend.Logger("SRV"),
		logBackend: logBackend,
		db:         database,
		cfg:        cfg,
		rng:        rng,
		round:      game.NewRound(cfg.LobbySeconds, rng),
		bets:       game.NewBetLedger(),
		sessions:   make(map[string]*Session),
		commands:   make(chan command, 1024),
		quit:       make(chan struct{}),
		runCtx:     context.Background(),
	}
}

// Run drives the orchestrator loop until ctx is cancelled. It must be called
// exactly once.
func (s *Server) Run(ctx context.Context) error {
	s.runCtx = ctx
	s.log.Infof("round %d open, joker %s, %ds betting window",
		s.round.Number(), s.round.Joker(), s.cfg.LobbySeconds)
	s.startLobbyTimer()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()
		case cmd := <-s.commands:
			s.dispatch(cmd)
		}
	}
}

// post feeds a command to the loop without blocking shutdown.
func (s *Server) post(cmd command) {
	select {
	case s.commands <- cmd:
	case <-s.quit:
	}
}

func (s *Server) shutdown() {
	close(s.quit)
	s.cancelTimers()
	for _, sess := range s.sessions {
		sess.shutdown()
	}
	s.sessions = make(map[string]*Session)
	s.log.Infof("game loop stopped")
}

func (s *Server) cancelTimers() {
	for _, t := range []*scheduledTask{s.lobbyTask, s.drawTask, s.settleTask} {
		if t != nil {
			t.Cancel()
		}
	}
	s.lobbyTask, s.drawTask, s.settleTask = nil, nil, nil
}

// dispatch routes one command. Timer commands carrying a stale task pointer
// are ticks that fired just before their phase was cancelled; they are
// dropped here, which is what keeps a late draw tick from dealing a card
// into a finished round.
func (s *Server) dispatch(cmd command) {
	switch c := cmd.(type) {
	case attachCmd:
		s.handleAttach(c.sess)
	case detachCmd:
		s.handleDetach(c.sess)
	case clientCmd:
		s.handleClientMessage(c.sess, c.msg)
	case lobbyTickCmd:
		if c.task == s.lobbyTask {
			s.handleLobbyTick()
		}
	case drawTickCmd:
		if c.task == s.drawTask {
			s.handleDrawTick()
		}
	case settleCmd:
		if c.task == s.settleTask {
			s.handleSettle()
		}
	}
}

// ---------- Session lifecycle ----------

func (s *Server) handleAttach(sess *Session) {
	user, err := s.ensureUser(sess.uid)
	if err != nil {
		s.log.Errorf("attach failed for identity %s: %v", sess.uid, err)
		s.sendError(sess, "Server unavailable")
		sess.shutdown()
		return
	}

	s.sessions[sess.id] = sess
	s.sendToSession(sess, EventUserInfo, UserInfoPayload{Fid: user.ID, Chips: user.Chips})
	s.broadcastGameState()
}

// handleDetach drops the session from the registry. An already-accepted bet
// stays in the ledger: the debit happened and the payout targets the
// identity, not the connection.
func (s *Server) handleDetach(sess *Session) {
	if _, ok := s.sessions[sess.id]; !ok {
		return
	}
	delete(s.sessions, sess.id)
	sess.shutdown()
	s.log.Debugf("session %s detached (identity %s)", sess.id, sess.uid)
	s.broadcastGameState()
}

// ---------- Client messages ----------

func (s *Server) handleClientMessage(sess *Session, msg ClientMessage) {
	if _, ok := s.sessions[sess.id]; !ok {
		return
	}

	switch msg.Type {
	case MsgJoinSession:
		var req JoinSessionRequest
		if err := json.Unmarshal(msg.Data, &req); err == nil && req.PlayerName != "" {
			sess.playerName = req.PlayerName
		} else {
			sess.playerName = "Anonymous"
		}

	case MsgRequestUserInfo:
		user, err := s.db.GetUser(sess.uid)
		if err != nil {
			s.log.Warnf("user info lookup failed for %s: %v", sess.uid, err)
			return
		}
		s.sendToSession(sess, EventUserInfo, UserInfoPayload{Fid: user.ID, Chips: user.Chips})

	case MsgPlaceBet:
		var req PlaceBetRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			s.sendError(sess, "Malformed bet")
			return
		}
		s.handlePlaceBet(sess, req)

	case MsgClaimIdentity:
		var req ClaimIdentityRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			s.sendError(sess, "Malformed identity claim")
			return
		}
		s.handleClaimIdentity(sess, req)

	case MsgChipsAdd:
		amount, ok := decodeAmount(msg.Data)
		if !ok || amount <= 0 {
			s.sendError(sess, "Invalid amount")
			return
		}
		balance, err := s.db.CreditUser(sess.uid, amount, "credit", "manual")
		if err != nil {
			s.log.Errorf("manual credit failed for %s: %v", sess.uid, err)
			s.sendError(sess, "Credit failed")
			return
		}
		s.sendToUser(sess.uid, EventChipsUpdate, ChipsUpdatePayload{Chips: balance})

	case MsgChipsSub:
		amount, ok := decodeAmount(msg.Data)
		if !ok || amount <= 0 {
			s.sendError(sess, "Invalid amount")
			return
		}
		balance, err := s.db.DebitUser(sess.uid, amount, "debit", "manual")
		if err != nil {
			if errors.Is(err, db.ErrInsufficientChips) || errors.Is(err, db.ErrUserNotFound) {
				s.sendError(sess, "Insufficient chips")
			} else {
				s.log.Errorf("manual debit failed for %s: %v", sess.uid, err)
				s.sendError(sess, "Debit failed")
			}
			return
		}
		s.sendToUser(sess.uid, EventChipsUpdate, ChipsUpdatePayload{Chips: balance})

	case MsgLeaveSession:
		sess.shutdown()

	case MsgPing:
		s.sendToSession(sess, EventPong, nil)

	default:
		s.sendError(sess, fmt.Sprintf("Unknown message type %q", msg.Type))
	}
}

// decodeAmount accepts either a bare number or {"amount": n}.
func decodeAmount(data json.RawMessage) (int64, bool) {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		return n, true
	}
	var wrapped struct {
		Amount int64 `json:"amount"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil {
		return wrapped.Amount, true
	}
	return 0, false
}

// ---------- Betting ----------

// handlePlaceBet validates and accepts a wager. The debit is confirmed at
// the store before the bet is recorded, so a bet record without a
// corresponding debit can never exist; the guards run first so the converse
// holds too.
func (s *Server) handlePlaceBet(sess *Session, req PlaceBetRequest) {
	if s.round.Phase() != game.PhaseLobby {
		s.sendError(sess, "Betting is closed")
		return
	}
	if !game.ValidSide(req.Side) {
		s.sendError(sess, "Invalid side")
		return
	}
	if req.Amount <= 0 {
		s.sendError(sess, "Bet amount must be positive")
		return
	}
	if _, ok := s.bets.Get(sess.uid); ok {
		s.sendError(sess, "Bet already placed this round")
		return
	}

	desc := fmt.Sprintf("bet on %s, round %d", req.Side, s.round.Number())
	balance, err := s.db.DebitUser(sess.uid, req.Amount, "bet", desc)
	if err != nil {
		if errors.Is(err, db.ErrInsufficientChips) || errors.Is(err, db.ErrUserNotFound) {
			s.sendError(sess, "Insufficient chips")
		} else {
			s.log.Errorf("bet debit failed for %s: %v", sess.uid, err)
			s.sendError(sess, "Bet could not be processed")
		}
		return
	}

	bet, err := s.bets.Place(sess.uid, req.Side, req.Amount)
	if err != nil {
		// The guards above make this unreachable; the stake must not stay
		// debited without a recorded bet.
		if _, cerr := s.db.CreditUser(sess.uid, req.Amount, "refund", "bet rejected"); cerr != nil {
			s.log.Errorf("refund failed for %s: %v", sess.uid, cerr)
		}
		s.sendError(sess, "Bet could not be processed")
		return
	}

	s.round.AddToPot(bet.Side, bet.Amount)
	andar, bahar := s.round.Pots()
	s.log.Infof("round %d: %s bet %d on %s (pots %d/%d)",
		s.round.Number(), sess.uid, bet.Amount, bet.Side, andar, bahar)

	s.sendToSession(sess, EventBetAccepted, BetAcceptedPayload{
		PlayerID:       sess.uid,
		Side:           bet.Side,
		Amount:         bet.Amount,
		TotalBetsAndar: andar,
		TotalBetsBahar: bahar,
	})
	s.sendToUser(sess.uid, EventChipsUpdate, ChipsUpdatePayload{Chips: balance})
	s.broadcast(EventBetUpdate, BetUpdatePayload{PlayerID: sess.uid, Side: bet.Side, Amount: bet.Amount})
	s.broadcastGameState()
}

// ---------- Identity claim / merge ----------

// handleClaimIdentity rebinds an anonymous session to an authenticated
// identity. The balance merge is one store-level transaction and runs on the
// loop, so a concurrent payout can never observe the deleted local key.
func (s *Server) handleClaimIdentity(sess *Session, req ClaimIdentityRequest) {
	fid := string(req.Fid)
	if !isAuthenticatedKey(fid) {
		s.sendError(sess, "Invalid identity key")
		return
	}

	old := sess.uid
	if old != fid && !isAuthenticatedKey(old) {
		balance, err := s.db.MergeUsers(old, fid)
		if err != nil {
			s.log.Errorf("identity merge %s -> %s failed: %v", old, fid, err)
			s.sendError(sess, "Identity claim failed")
			return
		}
		s.bets.Reattribute(old, fid)
		for _, other := range s.sessions {
			if other.uid == old {
				other.uid = fid
			}
		}
		s.log.Infof("merged identity %s into %s (balance %d)", old, fid, balance)
	} else if old != fid {
		// An already-authenticated session proving a different identity is
		// rebound without touching balances.
		sess.uid = fid
	}

	user, err := s.db.UpsertProfile(fid, db.Profile{
		Username:    req.Username,
		DisplayName: req.DisplayName,
		PfpURL:      req.PfpURL,
		Bio:         req.Bio,
		Location:    req.Location,
	}, startingChipsAuthenticated)
	if err != nil {
		s.log.Errorf("profile upsert failed for %s: %v", fid, err)
		s.sendError(sess, "Identity claim failed")
		return
	}

	s.sendToUser(fid, EventUserInfo, UserInfoPayload{Fid: user.ID, Chips: user.Chips})
}

// ---------- Phase machine ----------

func (s *Server) startLobbyTimer() {
	s.lobbyTask = s.every(time.Second, func(t *scheduledTask) {
		s.post(lobbyTickCmd{task: t})
	})
}

func (s *Server) handleLobbyTick() {
	if s.round.Phase() != game.PhaseLobby {
		return
	}

	left := s.round.TickCountdown()
	s.broadcast(EventLobbyTimer, left)

	if left == 0 {
		if s.lobbyTask != nil {
			s.lobbyTask.Cancel()
			s.lobbyTask = nil
		}
		s.startPlaying()
	}
}

func (s *Server) startPlaying() {
	s.round.BeginPlay()
	s.log.Infof("round %d: betting closed, dealing against joker %s",
		s.round.Number(), s.round.Joker())
	s.broadcastGameState()

	s.drawTask = s.every(s.cfg.DrawInterval, func(t *scheduledTask) {
		s.post(drawTickCmd{task: t})
	})
}

func (s *Server) handleDrawTick() {
	if s.round.Phase() != game.PhasePlaying {
		return
	}

	dc, matched := s.round.Draw(s.rng)
	s.broadcast(EventCardDrawn, CardDrawnPayload{Card: dc, CurrentSide: dc.Side})

	if matched {
		if s.drawTask != nil {
			s.drawTask.Cancel()
			s.drawTask = nil
		}
		s.finishRound(dc)
	}
}

// finishRound pays winners, archives the round and schedules the next lobby.
// Persistence failures are retried with the round held in results; the loop
// never advances past an unconfirmed credit or archive.
func (s *Server) finishRound(winning game.DrawnCard) {
	winner := winning.Side
	s.log.Infof("round %d: %s wins on card %d (%s)",
		s.round.Number(), winner, winning.Order, winning.Card)

	payouts := make(map[string]int64)
	for _, bet := range s.bets.All() {
		if bet.Side != winner {
			continue
		}
		amount := game.WinPayout(bet.Amount)
		desc := fmt.Sprintf("won round %d", s.round.Number())

		var balance int64
		err := s.persistWithRetry("payout credit", func() error {
			var cerr error
			balance, cerr = s.db.CreditUser(bet.UserID, amount, "payout", desc)
			return cerr
		})
		if err != nil {
			return // shutting down
		}
		payouts[bet.UserID] = amount
		s.sendToUser(bet.UserID, EventChipsUpdate, ChipsUpdatePayload{Chips: balance})
	}

	if err := s.archiveRound(winner); err != nil {
		return // shutting down
	}

	s.broadcast(EventGameComplete, GameCompletePayload{
		Winner:      winner,
		WinningCard: winning,
		TotalCards:  s.round.DrawnCount(),
		Payouts:     payouts,
	})

	s.settleTask = s.after(s.cfg.SettleDelay, func(t *scheduledTask) {
		s.post(settleCmd{task: t})
	})
}

// archiveRound appends the finished round and every player outcome to the
// history store. Rounds with no bets are archived with an empty player list
// so the sequence number and joker rotation stay consistent for observers.
func (s *Server) archiveRound(winner game.Side) error {
	snap := s.round.Snapshot(s.cfg.SessionID, len(s.sessions))
	drawnJSON, err := json.Marshal(snap.DrawnCards)
	if err != nil {
		s.log.Errorf("failed to marshal drawn cards: %v", err)
		drawnJSON = []byte("[]")
	}

	record := &db.RoundRecord{
		Number:     snap.GameNumber,
		Joker:      snap.JokerCard.String(),
		Winner:     string(winner),
		PotAndar:   snap.TotalBetsAndar,
		PotBahar:   snap.TotalBetsBahar,
		DrawnCards: string(drawnJSON),
		StartedAt:  s.round.StartedAt().UTC().Format(time.RFC3339),
	}

	players := make([]*db.RoundPlayer, 0, s.bets.Len())
	for _, bet := range s.bets.All() {
		won := bet.Side == winner
		payout := int64(0)
		if won {
			payout = game.WinPayout(bet.Amount)
		}
		players = append(players, &db.RoundPlayer{
			RoundNumber: snap.GameNumber,
			UserID:      bet.UserID,
			Side:        string(bet.Side),
			Amount:      bet.Amount,
			Won:         won,
			Payout:      payout,
		})
	}

	return s.persistWithRetry("round archive", func() error {
		return s.db.SaveRound(record, players)
	})
}

func (s *Server) handleSettle() {
	if s.round.Phase() != game.PhaseResults {
		return
	}
	s.settleTask = nil

	s.round.NextRound(s.cfg.LobbySeconds, s.rng)
	s.bets.Clear()
	s.log.Infof("round %d open, joker %s", s.round.Number(), s.round.Joker())
	s.broadcastGameState()
	s.startLobbyTimer()
}

// ---------- Persistence retry ----------

// persistWithRetry keeps re-running op with backoff until it succeeds or the
// server is shutting down. Callers hold the round in place while this runs;
// abandoning the operation would strand a debited-but-unrecorded or
// credited-but-unrecorded outcome.
func (s *Server) persistWithRetry(what string, op func() error) error {
	delay := 250 * time.Millisecond
	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil {
			if attempt > 1 {
				s.log.Infof("%s succeeded after %d attempts", what, attempt)
			}
			return nil
		}
		s.log.Errorf("%s failed (attempt %d): %v", what, attempt, err)

		select {
		case <-s.runCtx.Done():
			return err
		case <-time.After(delay):
		}
		if delay < 5*time.Second {
			delay *= 2
		}
	}
}

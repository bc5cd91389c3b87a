package server

import (
	"encoding/json"
	"fmt"

	"github.com/stacksgame/stacks-server/pkg/game"
)

// EventType enumerates every server-to-client event. The set is closed; new
// events are added here, never as ad hoc strings at call sites.
type EventType string

const (
	EventUserInfo     EventType = "userInfo"
	EventGameState    EventType = "gameState"
	EventLobbyTimer   EventType = "lobbyTimer"
	EventCardDrawn    EventType = "cardDrawn"
	EventBetAccepted  EventType = "betAccepted"
	EventBetUpdate    EventType = "betUpdate"
	EventGameComplete EventType = "gameComplete"
	EventChipsUpdate  EventType = "chipsUpdate"
	EventGameError    EventType = "gameError"
	EventPong         EventType = "pong"
)

// MsgType enumerates every client-to-server message.
type MsgType string

const (
	MsgJoinSession     MsgType = "joinSession"
	MsgRequestUserInfo MsgType = "requestUserInfo"
	MsgPlaceBet        MsgType = "placeBet"
	MsgClaimIdentity   MsgType = "farcasterUser"
	MsgChipsAdd        MsgType = "chips:add"
	MsgChipsSub        MsgType = "chips:sub"
	MsgLeaveSession    MsgType = "leaveSession"
	MsgPing            MsgType = "ping"
)

// Envelope is the wire frame for both directions: a type tag plus a
// type-specific JSON payload.
type Envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is the inbound counterpart of Envelope.
type ClientMessage struct {
	Type MsgType         `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// marshalEvent frames a payload for the wire. Marshaling happens once per
// event, not once per recipient.
func marshalEvent(t EventType, payload any) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if payload != nil {
		data, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", t, err)
		}
	}
	return json.Marshal(Envelope{Type: t, Data: data})
}

// ---------- Outbound payloads ----------

// UserInfoPayload reports an identity and its balance to its own sessions.
type UserInfoPayload struct {
	Fid   string `json:"fid"`
	Chips int64  `json:"chips"`
}

// BetAcceptedPayload acknowledges an accepted bet to the bettor, carrying
// the updated pot totals.
type BetAcceptedPayload struct {
	PlayerID       string    `json:"playerId"`
	Side           game.Side `json:"side"`
	Amount         int64     `json:"amount"`
	TotalBetsAndar int64     `json:"totalBetsAndar"`
	TotalBetsBahar int64     `json:"totalBetsBahar"`
}

// BetUpdatePayload announces an accepted bet to every connection.
type BetUpdatePayload struct {
	PlayerID string    `json:"playerId"`
	Side     game.Side `json:"side"`
	Amount   int64     `json:"amount"`
}

// CardDrawnPayload carries one dealt card in sequence order.
type CardDrawnPayload struct {
	Card        game.DrawnCard `json:"card"`
	CurrentSide game.Side      `json:"currentSide"`
}

// GameCompletePayload announces the round outcome. Payouts are keyed by
// identity so every session can find its own credit.
type GameCompletePayload struct {
	Winner      game.Side        `json:"winner"`
	WinningCard game.DrawnCard   `json:"winningCard"`
	TotalCards  int              `json:"totalCards"`
	Payouts     map[string]int64 `json:"payouts"`
}

// ChipsUpdatePayload reports a balance change to the identity's sessions.
type ChipsUpdatePayload struct {
	Chips int64 `json:"chips"`
}

// ---------- Inbound payloads ----------

// PlaceBetRequest asks for a wager on a side during the lobby phase.
type PlaceBetRequest struct {
	Side   game.Side `json:"side"`
	Amount int64     `json:"amount"`
}

// FlexID accepts an identity key sent either as a JSON string or a bare
// number; the Farcaster SDK sends fids as numbers.
type FlexID string

func (f *FlexID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexID(n.String())
	return nil
}

// ClaimIdentityRequest proves an externally-authenticated identity and
// triggers a merge when the session started anonymous.
type ClaimIdentityRequest struct {
	Fid         FlexID `json:"fid"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	PfpURL      string `json:"pfpUrl"`
	Bio         string `json:"bio"`
	Location    string `json:"location"`
}

// JoinSessionRequest attaches an optional display name to the session.
type JoinSessionRequest struct {
	PlayerName string `json:"playerName"`
}

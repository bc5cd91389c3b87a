package game

import (
	"encoding/json"
	"fmt"
	"math/rand"
)

// Suit represents a card suit
type Suit string

const (
	Spades   Suit = "♠"
	Hearts   Suit = "♥"
	Diamonds Suit = "♦"
	Clubs    Suit = "♣"
)

// Rank represents a card rank. Andar Bahar only ever compares ranks; suits
// are cosmetic.
type Rank string

const (
	Ace   Rank = "A"
	Two   Rank = "2"
	Three Rank = "3"
	Four  Rank = "4"
	Five  Rank = "5"
	Six   Rank = "6"
	Seven Rank = "7"
	Eight Rank = "8"
	Nine  Rank = "9"
	Ten   Rank = "10"
	Jack  Rank = "J"
	Queen Rank = "Q"
	King  Rank = "K"
)

var (
	suits = []Suit{Spades, Hearts, Diamonds, Clubs}
	ranks = []Rank{Ace, Two, Three, Four, Five, Six, Seven, Eight, Nine, Ten, Jack, Queen, King}
)

// Card represents a playing card
type Card struct {
	suit Suit
	rank Rank
}

// NewCard creates a card with the given suit and rank. Needed because the
// fields are unexported.
func NewCard(suit Suit, rank Rank) Card {
	return Card{suit: suit, rank: rank}
}

// RandomCard draws a card uniformly from a conceptually infinite shoe. Each
// draw is independent; the same card can appear twice in a round.
func RandomCard(rng *rand.Rand) Card {
	return Card{
		suit: suits[rng.Intn(len(suits))],
		rank: ranks[rng.Intn(len(ranks))],
	}
}

// CardJSON is the wire representation of a card. Color and ID are derived
// fields the web client relies on.
type CardJSON struct {
	Suit  string `json:"suit"`
	Rank  string `json:"rank"`
	Color string `json:"color"`
	ID    string `json:"id"`
}

// MarshalJSON implements json.Marshaler for Card
func (c Card) MarshalJSON() ([]byte, error) {
	return json.Marshal(CardJSON{
		Suit:  string(c.suit),
		Rank:  string(c.rank),
		Color: c.Color(),
		ID:    c.String(),
	})
}

// UnmarshalJSON implements json.Unmarshaler for Card
func (c *Card) UnmarshalJSON(data []byte) error {
	var cardJSON CardJSON
	if err := json.Unmarshal(data, &cardJSON); err != nil {
		return err
	}

	switch cardJSON.Suit {
	case "♠", "s", "S", "spades", "Spades":
		c.suit = Spades
	case "♥", "h", "H", "hearts", "Hearts":
		c.suit = Hearts
	case "♦", "d", "D", "diamonds", "Diamonds":
		c.suit = Diamonds
	case "♣", "c", "C", "clubs", "Clubs":
		c.suit = Clubs
	default:
		return fmt.Errorf("invalid suit: %s", cardJSON.Suit)
	}

	valid := false
	for _, r := range ranks {
		if string(r) == cardJSON.Rank {
			c.rank = r
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid rank: %s", cardJSON.Rank)
	}

	return nil
}

// String returns the card id, e.g. "7♥".
func (c Card) String() string {
	return string(c.rank) + string(c.suit)
}

// Suit returns the card's suit
func (c Card) Suit() Suit {
	return c.suit
}

// Rank returns the card's rank
func (c Card) Rank() Rank {
	return c.rank
}

// Color returns "red" for hearts and diamonds, "black" otherwise.
func (c Card) Color() string {
	if c.suit == Hearts || c.suit == Diamonds {
		return "red"
	}
	return "black"
}

// MatchesRank reports whether both cards share a rank, the winning condition
// of a draw against the joker.
func (c Card) MatchesRank(other Card) bool {
	return c.rank == other.rank
}

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/decred/slog"
	"github.com/gorilla/websocket"
	"github.com/vctt94/bisonbotkit/logging"

	"github.com/stacksgame/stacks-server/pkg/game"
	"github.com/stacksgame/stacks-server/pkg/server"
)

// Config carries what the client needs to reach a game server.
type Config struct {
	// ServerAddr is the host:port of the game server.
	ServerAddr string
	// Fid is the identity key to attach as. Numeric keys are treated as
	// authenticated by the server; anything else is anonymous.
	Fid string
	// LogBackend supplies the client's logger.
	LogBackend *logging.LogBackend
}

// Client is one websocket connection to the game server. Events arrive on
// Events; requests are plain methods. Close tears the connection down.
type Client struct {
	cfg  Config
	log  slog.Logger
	conn *websocket.Conn

	events chan server.Envelope
	errs   chan error

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects and attaches to the game server. The returned client is
// already receiving events.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Fid == "" {
		return nil, fmt.Errorf("fid is required")
	}
	if cfg.LogBackend == nil {
		return nil, fmt.Errorf("log backend is required")
	}

	u := url.URL{Scheme: "ws", Host: cfg.ServerAddr, Path: "/ws"}
	q := u.Query()
	q.Set("fid", cfg.Fid)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", u.String(), err)
	}

	c := &Client{
		cfg:    cfg,
		log:    cfg.LogBackend.Logger("CLIENT"),
		conn:   conn,
		events: make(chan server.Envelope, 100),
		errs:   make(chan error, 10),
		done:   make(chan struct{}),
	}

	go c.readLoop()
	return c, nil
}

// Events delivers every server event in arrival order. The channel closes
// when the connection drops.
func (c *Client) Events() <-chan server.Envelope { return c.events }

// Errors delivers connection-level failures.
func (c *Client) Errors() <-chan error { return c.errs }

// Close shuts the connection down. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) readLoop() {
	defer close(c.events)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case c.errs <- err:
			default:
			}
			c.Close()
			return
		}

		var env server.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.log.Warnf("malformed server frame: %v", err)
			continue
		}

		select {
		case c.events <- env:
		case <-c.done:
			return
		}
	}
}

func (c *Client) send(t server.MsgType, payload any) error {
	var (
		data []byte
		err  error
	)
	if payload != nil {
		data, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s payload: %w", t, err)
		}
	}
	frame, err := json.Marshal(server.ClientMessage{Type: t, Data: data})
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// JoinSession attaches an optional display name to this connection.
func (c *Client) JoinSession(playerName string) error {
	return c.send(server.MsgJoinSession, server.JoinSessionRequest{PlayerName: playerName})
}

// RequestUserInfo asks for the current identity and balance.
func (c *Client) RequestUserInfo() error {
	return c.send(server.MsgRequestUserInfo, nil)
}

// PlaceBet wagers amount on side for the current round.
func (c *Client) PlaceBet(side game.Side, amount int64) error {
	return c.send(server.MsgPlaceBet, server.PlaceBetRequest{Side: side, Amount: amount})
}

// ClaimIdentity proves an authenticated identity, merging this connection's
// anonymous balance into it if there is one.
func (c *Client) ClaimIdentity(req server.ClaimIdentityRequest) error {
	return c.send(server.MsgClaimIdentity, req)
}

// AddChips credits the identity's balance.
func (c *Client) AddChips(amount int64) error {
	return c.send(server.MsgChipsAdd, map[string]int64{"amount": amount})
}

// RemoveChips debits the identity's balance.
func (c *Client) RemoveChips(amount int64) error {
	return c.send(server.MsgChipsSub, map[string]int64{"amount": amount})
}

// LeaveSession asks the server to drop this connection.
func (c *Client) LeaveSession() error {
	return c.send(server.MsgLeaveSession, nil)
}

// Ping checks liveness at the application layer.
func (c *Client) Ping() error {
	return c.send(server.MsgPing, nil)
}

package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to the peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum inbound message size in bytes.
	maxMessageSize = 4096
	// Outbound queue depth per session. A session that cannot drain fast
	// enough loses events rather than stalling the loop.
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The web client is served from a different origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Session is one attached connection, bound to exactly one identity for its
// lifetime (the identity key itself may be rewritten by a merge). The uid
// and playerName fields are owned by the orchestrator loop after attach.
type Session struct {
	id         string
	uid        string
	playerName string

	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	closeOnce sync.Once
}

func newSession(uid string, conn *websocket.Conn) *Session {
	return &Session{
		id:   uuid.NewString(),
		uid:  uid,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// enqueue hands a frame to the session's write pump without blocking the
// caller. Frames to a closed or saturated session are dropped.
func (sess *Session) enqueue(msg []byte) {
	select {
	case <-sess.done:
	case sess.send <- msg:
	default:
	}
}

// shutdown makes the pumps unwind. Safe to call more than once.
func (sess *Session) shutdown() {
	sess.closeOnce.Do(func() {
		close(sess.done)
		if sess.conn != nil {
			sess.conn.Close()
		}
	})
}

// ServeWS upgrades an HTTP request to a websocket session. The client must
// declare its identity key via the fid query parameter or the attach is
// refused.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	fid := r.URL.Query().Get("fid")
	if fid == "" {
		http.Error(w, "fid required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("websocket upgrade failed: %v", err)
		return
	}

	sess := newSession(fid, conn)
	s.log.Debugf("session %s attached for identity %s", sess.id, fid)

	go sess.writePump()
	s.post(attachCmd{sess: sess})
	sess.readPump(s)
}

// readPump reads client messages and feeds them to the orchestrator loop.
// It runs on the HTTP handler goroutine and exits on any read error.
func (sess *Session) readPump(s *Server) {
	defer func() {
		s.post(detachCmd{sess: sess})
		sess.shutdown()
	}()

	sess.conn.SetReadLimit(maxMessageSize)
	sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		sess.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debugf("session %s read error: %v", sess.id, err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.log.Debugf("session %s sent malformed message: %v", sess.id, err)
			continue
		}
		s.post(clientCmd{sess: sess, msg: msg})
	}
}

// writePump drains the send queue onto the connection and keeps the peer
// alive with pings.
func (sess *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sess.shutdown()
	}()

	for {
		select {
		case <-sess.done:
			return
		case msg := <-sess.send:
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

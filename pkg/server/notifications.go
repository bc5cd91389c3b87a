package server

// Broadcast helpers. All of these run on the orchestrator loop, so iterating
// the session registry needs no locking; the actual socket writes happen on
// each session's write pump.

// broadcast sends an event to every attached session. The frame is marshaled
// once and delivery is best effort per session.
func (s *Server) broadcast(t EventType, payload any) {
	msg, err := marshalEvent(t, payload)
	if err != nil {
		s.log.Errorf("failed to marshal %s broadcast: %v", t, err)
		return
	}
	for _, sess := range s.sessions {
		sess.enqueue(msg)
	}
}

// sendToSession sends an event to a single session.
func (s *Server) sendToSession(sess *Session, t EventType, payload any) {
	msg, err := marshalEvent(t, payload)
	if err != nil {
		s.log.Errorf("failed to marshal %s event: %v", t, err)
		return
	}
	sess.enqueue(msg)
}

// sendToUser sends an event to every session bound to an identity. An
// identity with no attached sessions (e.g. a bettor who disconnected
// mid-round) simply receives nothing; its balance was updated regardless.
func (s *Server) sendToUser(uid string, t EventType, payload any) {
	msg, err := marshalEvent(t, payload)
	if err != nil {
		s.log.Errorf("failed to marshal %s event: %v", t, err)
		return
	}
	for _, sess := range s.sessions {
		if sess.uid == uid {
			sess.enqueue(msg)
		}
	}
}

// sendError reports a validation failure to the originating session only.
func (s *Server) sendError(sess *Session, message string) {
	s.sendToSession(sess, EventGameError, message)
}

// broadcastGameState pushes the full round snapshot to every session.
func (s *Server) broadcastGameState() {
	s.broadcast(EventGameState, s.round.Snapshot(s.cfg.SessionID, len(s.sessions)))
}

package server

// command is the closed set of inputs to the orchestrator loop. Everything
// that can touch round state arrives as one of these and is handled to
// completion before the next, giving sequential consistency over the round
// and bet ledger without locks.
type command interface {
	isCommand()
}

// attachCmd registers a freshly upgraded session.
type attachCmd struct {
	sess *Session
}

// detachCmd removes a session whose read pump has exited.
type detachCmd struct {
	sess *Session
}

// clientCmd carries one decoded client message.
type clientCmd struct {
	sess *Session
	msg  ClientMessage
}

// lobbyTickCmd fires once per second while the lobby countdown runs.
type lobbyTickCmd struct {
	task *scheduledTask
}

// drawTickCmd fires once per draw interval during the playing phase.
type drawTickCmd struct {
	task *scheduledTask
}

// settleCmd fires once after the results settle delay.
type settleCmd struct {
	task *scheduledTask
}

func (attachCmd) isCommand()    {}
func (detachCmd) isCommand()    {}
func (clientCmd) isCommand()    {}
func (lobbyTickCmd) isCommand() {}
func (drawTickCmd) isCommand()  {}
func (settleCmd) isCommand()    {}

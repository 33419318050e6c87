package server

import "log/slog"

// state is one node of the game flow machine. Exactly one state is active at
// a time; transitions happen only through Server.transition, which runs exit
// and enter hooks in order.
type state interface {
	name() string

	// enter runs side effects on activation
	enter(s *Server)

	// handle processes one event. It returns the next state (nil to stay)
	// and whether the event was consumed. Unconsumed events are logged and
	// discarded by the reactor; they are never an error.
	handle(s *Server, ev event) (state, bool)

	// exit runs cleanup before the state is left
	exit(s *Server)
}

// afterEnterer lets a state trigger an immediate follow-up transition when
// its entry conditions are already satisfied
type afterEnterer interface {
	afterEnter(s *Server) state
}

// transition swaps the active state, running exit and enter hooks. A state
// whose conditions already hold on entry may chain straight into the next.
func (s *Server) transition(next state) {
	for next != nil {
		s.state.exit(s)
		s.logger.Info("game flow transition",
			slog.String("from", s.state.name()),
			slog.String("to", next.name()))
		s.state = next
		next.enter(s)
		if ae, ok := next.(afterEnterer); ok {
			next = ae.afterEnter(s)
		} else {
			next = nil
		}
	}
	s.publishStatus()
}

// dispatch routes one event through the active state
func (s *Server) dispatch(ev event) {
	next, handled := s.state.handle(s, ev)
	if !handled {
		s.logger.Debug("event not handled in state, discarding",
			slog.String("state", s.state.name()),
			slog.String("event", eventName(ev)))
	}
	s.transition(next)
	s.publishStatus()
}

func eventName(ev event) string {
	switch e := ev.(type) {
	case connectionEvent:
		return "connection"
	case messageEvent:
		return "message:" + e.msg.Type.String()
	case disconnectionEvent:
		return "disconnection"
	case hostlessEvent:
		return "hostless"
	case turnTimerEvent:
		return "turn_timer"
	case autosaveEvent:
		return "autosave"
	case cookieGCEvent:
		return "cookie_gc"
	case shutdownPollEvent:
		return "shutdown_poll"
	case shutdownDeadlineEvent:
		return "shutdown_deadline"
	case quitEvent:
		return "quit"
	default:
		return "unknown"
	}
}

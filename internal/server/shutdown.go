package server

import (
	"log/slog"

	"github.com/starlane-games/starlane-server/internal/dependencies/clock"
	"github.com/starlane-games/starlane-server/internal/model"
	"github.com/starlane-games/starlane-server/internal/protocol"
	"github.com/starlane-games/starlane-server/internal/transport"
)

// stateShuttingDown announces the end of game to every session, then waits
// for AI clients to acknowledge before the reactor stops. AI processes that
// neither ack nor disconnect by the deadline are force-killed.
type stateShuttingDown struct {
	reason string

	pollTimer     clock.Timer
	deadlineTimer clock.Timer
}

func (st *stateShuttingDown) name() string { return "shutting_down" }

func (st *stateShuttingDown) enter(s *Server) {
	s.logger.Info("shutting down", slog.String("reason", st.reason))

	s.registry.Broadcast(protocol.MustNew(protocol.TypeEndGame, protocol.EndGamePayload{
		Reason: st.reason,
	}))
	s.ai.RequireAcks()

	if s.cfg.AIShutdownPoll > 0 {
		st.pollTimer = s.clock.AfterFunc(s.cfg.AIShutdownPoll, func() {
			s.post(shutdownPollEvent{})
		})
	}
	if s.cfg.AIShutdownDeadline > 0 {
		st.deadlineTimer = s.clock.AfterFunc(s.cfg.AIShutdownDeadline, func() {
			s.post(shutdownDeadlineEvent{})
		})
	}
}

// afterEnter stops immediately when no AI client owes an ack
func (st *stateShuttingDown) afterEnter(s *Server) state {
	if s.ai.AllAcked() {
		st.finish(s)
	}
	return nil
}

func (st *stateShuttingDown) exit(s *Server) {
	if st.pollTimer != nil {
		st.pollTimer.Stop()
	}
	if st.deadlineTimer != nil {
		st.deadlineTimer.Stop()
	}
}

func (st *stateShuttingDown) handle(s *Server, ev event) (state, bool) {
	switch e := ev.(type) {
	case disconnectionEvent:
		st.handleDisconnect(s, e.session)
		return nil, true

	case shutdownPollEvent:
		if s.ai.AllAcked() {
			st.finish(s)
			return nil, true
		}
		if s.cfg.AIShutdownPoll > 0 {
			st.pollTimer = s.clock.AfterFunc(s.cfg.AIShutdownPoll, func() {
				s.post(shutdownPollEvent{})
			})
		}
		return nil, true

	case shutdownDeadlineEvent:
		s.logger.Warn("AI shutdown deadline reached")
		s.ai.KillStragglers()
		st.finish(s)
		return nil, true

	case quitEvent:
		st.finish(s)
		return nil, true

	case messageEvent:
		switch e.msg.Type {
		case protocol.TypeAIEndGameAck:
			if e.session.Established() && e.session.ClientType() == model.ClientTypeAIPlayer {
				s.ai.Ack(e.session.Name())
				s.logger.Debug("AI shutdown ack", slog.String("player", e.session.Name()))
				if s.ai.AllAcked() {
					st.finish(s)
				}
			}
			return nil, true
		case protocol.TypeJoinGame:
			s.sendError(e.session, protocol.ErrCodeShuttingDown, "server is shutting down", true)
			e.session.Close()
			return nil, true
		}
		// The game is over; remaining traffic is dropped
		return nil, true
	}
	return nil, false
}

func (st *stateShuttingDown) handleDisconnect(s *Server, sess *transport.Session) {
	if sess.Established() && sess.ClientType() == model.ClientTypeAIPlayer {
		s.ai.MarkDisconnected(sess.Name())
	}
	if s.ai.AllAcked() {
		st.finish(s)
	}
}

// finish closes every session and stops the reactor
func (st *stateShuttingDown) finish(s *Server) {
	s.logger.Info("shutdown complete")
	s.registry.DisconnectAll()
	s.terminate()
}

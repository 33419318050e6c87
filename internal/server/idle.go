package server

import (
	"log/slog"

	"github.com/starlane-games/starlane-server/internal/model"
	"github.com/starlane-games/starlane-server/internal/protocol"
)

// stateIdle is the boot state: nothing hosted yet. The first HostMPGame or
// HostSPGame claims the server; hostless deployments skip straight to the
// lobby.
type stateIdle struct{}

func (st *stateIdle) name() string { return "idle" }

func (st *stateIdle) enter(s *Server) {}

func (st *stateIdle) exit(s *Server) {}

func (st *stateIdle) handle(s *Server, ev event) (state, bool) {
	switch e := ev.(type) {
	case hostlessEvent:
		return &stateMPLobby{}, true

	case disconnectionEvent:
		return nil, true

	case messageEvent:
		switch e.msg.Type {
		case protocol.TypeHostMPGame:
			var payload protocol.HostMPGamePayload
			if err := e.msg.Decode(&payload); err != nil {
				s.logger.Warn("bad host request", slog.String("error", err.Error()))
				e.session.Close()
				return nil, true
			}
			return &stateMPLobby{hostSession: e.session, hostRequest: &payload}, true

		case protocol.TypeHostSPGame:
			var payload protocol.HostSPGamePayload
			if err := e.msg.Decode(&payload); err != nil {
				s.logger.Warn("bad single-player host request", slog.String("error", err.Error()))
				e.session.Close()
				return nil, true
			}
			s.spSetup = &payload
			s.singlePlayer = true
			return &stateWaitingForJoiners{singlePlayer: true, hostSession: e.session}, true

		case protocol.TypeJoinGame:
			// Nothing to join yet
			s.sendError(e.session, protocol.ErrCodeInternal, "no game hosted", true)
			e.session.Close()
			return nil, true
		}
	}
	return nil, false
}

// hostRoles is the capability set granted to the hosting session
func hostRoles(t model.ClientType) model.RoleSet {
	return model.RolesFor(t).With(model.RoleHost).With(model.RoleGalaxySetup)
}

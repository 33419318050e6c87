package server

import (
	"context"
	"log/slog"

	"github.com/starlane-games/starlane-server/internal/model"
	"github.com/starlane-games/starlane-server/internal/protocol"
	"github.com/starlane-games/starlane-server/internal/transport"
)

// stateMPLobby collects and validates the roster and galaxy setup. Roster
// deltas are pushed to every session; the start action stays locked while
// participant bounds or uniqueness invariants are violated.
type stateMPLobby struct {
	// hostSession is set when a HostMPGame claimed the lobby; nil in
	// hostless mode
	hostSession *transport.Session
	hostRequest *protocol.HostMPGamePayload
}

func (st *stateMPLobby) name() string { return "mp_lobby" }

func (st *stateMPLobby) enter(s *Server) {
	s.lobby = s.lobbyCtl.NewLobby()
	s.pendingSave = nil

	if st.hostSession != nil && st.hostRequest != nil {
		payload := &protocol.JoinGamePayload{
			PlayerName: st.hostRequest.PlayerName,
			ClientType: model.ClientTypeHumanPlayer,
			Version:    st.hostRequest.Version,
			Cookie:     st.hostRequest.Cookie,
		}
		s.beginJoin(st.hostSession, payload, st.establisher(s, true))
	}
}

func (st *stateMPLobby) exit(s *Server) {}

// establisher builds the establish callback for lobby joins
func (st *stateMPLobby) establisher(s *Server, asHost bool) func(*transport.Session, *protocol.JoinGamePayload, model.RoleSet, bool) bool {
	return func(sess *transport.Session, payload *protocol.JoinGamePayload, roles model.RoleSet, authenticated bool) bool {
		if err := s.lobbyCtl.Admissible(s.lobby, payload.ClientType); err != nil {
			s.sendError(sess, protocol.ErrCodeClientTypeDenied, "no seat available for this client type", true)
			sess.Close()
			return false
		}
		maxAttempts := len(s.lobby.Players) + s.cookieCount()
		name, err := s.lobbyCtl.UniquePlayerName(s.lobby, payload.PlayerName, maxAttempts)
		if err != nil {
			s.sendError(sess, protocol.ErrCodeServerFull, "no free player name", true)
			sess.Close()
			return false
		}
		if asHost {
			roles = roles | hostRoles(payload.ClientType)
		}
		id, err := s.finishEstablish(sess, name, payload.ClientType, payload.Version, roles, authenticated)
		if err != nil {
			s.logger.Warn("establish failed", slog.String("error", err.Error()))
			sess.Close()
			return false
		}
		if asHost {
			s.registry.SetHost(id)
			s.registry.Broadcast(protocol.MustNew(protocol.TypeHostID, protocol.HostIDPayload{PlayerID: id}))
		}
		s.lobbyCtl.AddPlayer(s.lobby, id, name, payload.ClientType, authenticated)
		s.lobbyCtl.Revalidate(s.lobby)
		s.broadcastLobby()
		return true
	}
}

func (st *stateMPLobby) handle(s *Server, ev event) (state, bool) {
	switch e := ev.(type) {
	case hostlessEvent:
		return nil, true

	case disconnectionEvent:
		return st.handleDisconnect(s, e.session), true

	case messageEvent:
		return st.handleMessage(s, e)
	}
	return nil, false
}

func (st *stateMPLobby) handleMessage(s *Server, e messageEvent) (state, bool) {
	switch e.msg.Type {
	case protocol.TypeJoinGame:
		var payload protocol.JoinGamePayload
		if err := e.msg.Decode(&payload); err != nil {
			s.logger.Warn("bad join request", slog.String("error", err.Error()))
			e.session.Close()
			return nil, true
		}
		s.beginJoin(e.session, &payload, st.establisher(s, false))
		return nil, true

	case protocol.TypeAuthResponse:
		var payload protocol.AuthResponsePayload
		if err := e.msg.Decode(&payload); err != nil {
			e.session.Close()
			return nil, true
		}
		// The host's own join may detour through the auth challenge;
		// resuming it must keep the host designation
		s.resumeJoin(e.session, &payload, st.establisher(s, e.session == st.hostSession))
		return nil, true

	case protocol.TypeLobbyUpdate:
		if !e.session.Established() {
			return nil, true
		}
		var payload protocol.LobbyUpdatePayload
		if err := e.msg.Decode(&payload); err != nil {
			s.logger.Warn("bad lobby update", slog.String("error", err.Error()))
			return nil, true
		}
		canEdit := s.registry.IsHost(e.session.ID()) ||
			s.lobby.AnyCanEdit ||
			e.session.Roles().Has(model.RoleGalaxySetup)
		s.lobbyCtl.ApplyClientUpdate(s.lobby, e.session.ID(), canEdit, &payload.Lobby)
		s.broadcastLobby()
		return st.maybeStart(s), true

	case protocol.TypeStartMPGame:
		if !e.session.Established() || !s.registry.IsHost(e.session.ID()) {
			s.sendError(e.session, protocol.ErrCodeNotLobbyHost, "only the host may start the game", false)
			return nil, true
		}
		next := st.maybeStart(s)
		if next == nil {
			cause := s.lobby.StartLockCause
			if cause == "" {
				cause = "not all players are ready"
			}
			s.sendError(e.session, protocol.ErrCodeInternal, cause, false)
		}
		return next, true

	case protocol.TypePlayerChat:
		st.routeChat(s, e)
		return nil, true
	}
	return nil, false
}

func (st *stateMPLobby) routeChat(s *Server, e messageEvent) {
	if !e.session.Established() {
		return
	}
	var payload protocol.PlayerChatPayload
	if err := e.msg.Decode(&payload); err != nil {
		return
	}
	s.relayChat(e.session, &payload)
}

func (st *stateMPLobby) handleDisconnect(s *Server, sess *transport.Session) state {
	if !sess.Established() {
		return nil
	}
	if s.lobbyCtl.RemovePlayer(s.lobby, sess.ID()) {
		s.lobbyCtl.Revalidate(s.lobby)
	}

	hostless := s.cfg.Hostless
	if s.registry.HostID() == model.InvalidPlayerID && !hostless {
		if !s.selectNewHost() {
			// Last human is gone; without a host the lobby cannot proceed
			s.logger.Info("last human left the lobby, shutting down")
			return &stateShuttingDown{reason: "lobby abandoned"}
		}
	}
	if !hostless && !st.anyEstablishedHuman(s) {
		return &stateShuttingDown{reason: "lobby abandoned"}
	}

	s.broadcastLobby()
	return st.maybeStart(s)
}

func (st *stateMPLobby) anyEstablishedHuman(s *Server) bool {
	for _, sess := range s.registry.Established() {
		if sess.ClientType().IsHuman() {
			return true
		}
	}
	return false
}

// maybeStart checks the start conditions and begins the joiner phase when
// they hold: start not locked, every empire-controlling row ready
func (st *stateMPLobby) maybeStart(s *Server) state {
	if s.lobby.StartLocked || !s.lobbyCtl.AllReady(s.lobby) {
		return nil
	}
	if len(s.lobby.Players) == 0 {
		return nil
	}

	if !s.lobby.NewGame {
		meta, data, err := s.storage.GetSaveGame(context.Background(), s.lobby.SaveGameID)
		if err != nil {
			s.logger.Warn("save game load failed",
				slog.String("save", s.lobby.SaveGameID),
				slog.String("error", err.Error()))
			if host := s.registry.Find(s.registry.HostID()); host != nil {
				s.sendError(host, protocol.ErrCodeInternal, "could not load save game", false)
			}
			return nil
		}
		s.pendingSave = &pendingSave{meta: meta, data: data}
		s.lobbyCtl.AssignSaveEmpires(s.lobby, meta)
	}

	s.lobby.InProgress = true
	return &stateWaitingForJoiners{}
}

// broadcastLobby pushes the current roster and setup to every session
func (s *Server) broadcastLobby() {
	if s.lobby == nil {
		return
	}
	s.registry.Broadcast(protocol.MustNew(protocol.TypeLobbyUpdate, protocol.LobbyUpdatePayload{Lobby: *s.lobby}))
}

// relayChat delivers chat to the named recipients, or everyone established
func (s *Server) relayChat(from *transport.Session, payload *protocol.PlayerChatPayload) {
	out := protocol.MustNew(protocol.TypePlayerChat, protocol.PlayerChatPayload{
		Recipients: payload.Recipients,
		Text:       payload.Text,
		Private:    len(payload.Recipients) > 0,
		SenderID:   from.ID(),
		SenderName: from.Name(),
	})
	if len(payload.Recipients) == 0 {
		s.registry.Broadcast(out)
		return
	}
	for _, id := range payload.Recipients {
		if sess := s.registry.Find(id); sess != nil {
			sess.Send(out)
		}
	}
	// Echo private messages back to the sender
	from.Send(out)
}

package server

import (
	"context"
	"errors"
	"log/slog"

	"github.com/starlane-games/starlane-server/internal/model"
	"github.com/starlane-games/starlane-server/internal/protocol"
	"github.com/starlane-games/starlane-server/internal/transport"
)

// joinOutcome reports how far a join request got
type joinOutcome int

const (
	// joinEstablished means the session has a confirmed identity
	joinEstablished joinOutcome = iota
	// joinAwaitingAuth means an auth challenge went out; the join resumes
	// on the AuthResponse
	joinAwaitingAuth
	// joinRejected means the session was refused (and disconnected)
	joinRejected
)

// beginJoin runs the shared join pipeline: cookie fast-path, auth challenge,
// or immediate establishment. establish is called once identity and
// authentication are settled; it owns naming, id allocation and roster work
// for the current state.
func (s *Server) beginJoin(
	sess *transport.Session,
	payload *protocol.JoinGamePayload,
	establish func(sess *transport.Session, payload *protocol.JoinGamePayload, roles model.RoleSet, authenticated bool) bool,
) joinOutcome {
	if !payload.ClientType.Valid() {
		s.sendError(sess, protocol.ErrCodeClientTypeDenied, "invalid client type", true)
		sess.Close()
		return joinRejected
	}

	// Cookie fast-path: a valid token restores roles and authentication
	// without a challenge. Stale tokens are soft failures.
	if payload.Cookie != "" {
		roles, authed, err := s.registry.CheckCookie(context.Background(), payload.Cookie, payload.PlayerName)
		if err == nil {
			sess.SetCookie(payload.Cookie)
			if establish(sess, payload, roles, authed) {
				return joinEstablished
			}
			return joinRejected
		}
		if !errors.Is(err, model.ErrCookieNotFound) {
			s.logger.Warn("cookie check failed", slog.String("error", err.Error()))
		} else {
			s.logger.Debug("stale cookie presented, continuing without it",
				slog.String("player", payload.PlayerName))
		}
	}

	if s.authSvc.RequiresAuth(context.Background(), payload.PlayerName) {
		sess.AwaitPlayer(payload.ClientType, payload.Version)
		s.pendingJoins[sess] = payload
		sess.Send(protocol.MustNew(protocol.TypeAuthRequest, protocol.AuthRequestPayload{
			PlayerName: payload.PlayerName,
		}))
		return joinAwaitingAuth
	}

	if establish(sess, payload, model.RolesFor(payload.ClientType), false) {
		return joinEstablished
	}
	return joinRejected
}

// resumeJoin completes a join after an AuthResponse. A wrong credential
// disconnects the answering session only.
func (s *Server) resumeJoin(
	sess *transport.Session,
	answer *protocol.AuthResponsePayload,
	establish func(sess *transport.Session, payload *protocol.JoinGamePayload, roles model.RoleSet, authenticated bool) bool,
) joinOutcome {
	payload, ok := s.pendingJoins[sess]
	if !ok {
		s.logger.Debug("auth response without pending join, ignoring")
		return joinRejected
	}
	delete(s.pendingJoins, sess)

	roles, err := s.authSvc.Check(context.Background(), answer.PlayerName, answer.Credential)
	if err != nil {
		s.sendError(sess, protocol.ErrCodeAuthFailed, "authentication failed", true)
		sess.Close()
		return joinRejected
	}
	// Stored roles extend the client type's defaults
	roles = roles | model.RolesFor(payload.ClientType)
	if establish(sess, payload, roles, true) {
		return joinEstablished
	}
	return joinRejected
}

// finishEstablish performs the mechanics every establishment shares: id
// allocation, session identity, cookie issue, join ack and host notice
func (s *Server) finishEstablish(
	sess *transport.Session,
	name string,
	clientType model.ClientType,
	version string,
	roles model.RoleSet,
	authenticated bool,
) (model.PlayerID, error) {
	id := s.registry.NewPlayerID()
	if err := sess.EstablishPlayer(id, name, clientType, version); err != nil {
		return model.InvalidPlayerID, err
	}
	sess.SetRoles(roles)
	sess.SetAuthenticated(authenticated)

	token := sess.Cookie()
	if token == "" {
		issued, err := s.registry.IssueCookie(context.Background(), sess)
		if err != nil {
			s.logger.Warn("cookie issue failed", slog.String("error", err.Error()))
		} else {
			token = issued
		}
	}

	sess.Send(protocol.MustNew(protocol.TypeJoinAck, protocol.JoinAckPayload{
		PlayerID: id,
		Cookie:   token,
	}))
	if host := s.registry.HostID(); host != model.InvalidPlayerID {
		sess.Send(protocol.MustNew(protocol.TypeHostID, protocol.HostIDPayload{PlayerID: host}))
	}
	s.logger.Info("session established",
		slog.Int("player", int(id)),
		slog.String("name", name),
		slog.String("type", clientType.String()))
	return id, nil
}

// cookieCount sizes the name-collision search: live cookies can reserve
// names for reconnecting players
func (s *Server) cookieCount() int {
	entries, err := s.storage.ListCookies(context.Background())
	if err != nil {
		return 0
	}
	return len(entries)
}

// Package server is the orchestration core: a single-goroutine reactor
// draining connection, message, disconnection and timer events through a
// hierarchical game flow state machine.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/starlane-games/starlane-server/internal/config"
	"github.com/starlane-games/starlane-server/internal/dependencies/clock"
	"github.com/starlane-games/starlane-server/internal/dependencies/random"
	"github.com/starlane-games/starlane-server/internal/model"
	"github.com/starlane-games/starlane-server/internal/protocol"
	"github.com/starlane-games/starlane-server/internal/services/aiproc"
	"github.com/starlane-games/starlane-server/internal/services/auth"
	"github.com/starlane-games/starlane-server/internal/services/lobby"
	"github.com/starlane-games/starlane-server/internal/services/registry"
	"github.com/starlane-games/starlane-server/internal/services/turn"
	"github.com/starlane-games/starlane-server/internal/sim"
	"github.com/starlane-games/starlane-server/internal/storage"
	"github.com/starlane-games/starlane-server/internal/transport"
)

// eventQueueDepth buffers events posted by socket and timer goroutines
const eventQueueDepth = 1024

// empireRecord is the orchestration view of one empire during play
type empireRecord struct {
	info       sim.EmpireInfo
	playerName string
	// playerID is the session currently controlling the empire, or
	// InvalidPlayerID while its player is disconnected
	playerID model.PlayerID
}

// Status is a read-only snapshot of server state for the status API and the
// UDP debug evaluator
type Status struct {
	State       string
	Turn        int
	Sessions    int
	Established int
	HostID      model.PlayerID
	GameName    string
	Players     []SessionStatus
}

// SessionStatus describes one established session in a Status snapshot
type SessionStatus struct {
	PlayerID   model.PlayerID
	Name       string
	ClientType string
}

// Deps bundles everything the server consumes
type Deps struct {
	Config   config.Config
	Logger   *slog.Logger
	Clock    clock.Clock
	Random   random.Random
	Storage  storage.Storage
	Engine   sim.Engine
	Launcher aiproc.Launcher
}

// Server owns the reactor, the session registry, and the game flow state.
// All fields below the mutex line are only touched from the reactor
// goroutine.
type Server struct {
	cfg    config.Config
	logger *slog.Logger
	clock  clock.Clock
	random random.Random

	storage  storage.Storage
	registry *registry.Registry
	lobbyCtl *lobby.Controller
	authSvc  *auth.Service
	ai       *aiproc.Manager
	engine   sim.Engine

	listener *transport.Listener

	events chan event
	done   chan struct{}

	state state

	// flow context shared across states
	lobby        *model.LobbyData
	pendingSave  *pendingSave
	spSetup      *protocol.HostSPGamePayload
	empires      map[model.EmpireID]*empireRecord
	coordinator  *turn.Coordinator
	singlePlayer bool

	// pendingJoins holds join requests awaiting an auth response
	pendingJoins map[*transport.Session]*protocol.JoinGamePayload

	gcTimer clock.Timer

	statusMu sync.RWMutex
	status   Status
}

// pendingSave carries a loaded save through the joiner phase
type pendingSave struct {
	meta *model.SaveGameMetadata
	data []byte
}

// New assembles a server from its dependencies
func New(deps Deps) *Server {
	s := &Server{
		cfg:          deps.Config,
		logger:       deps.Logger,
		clock:        deps.Clock,
		random:       deps.Random,
		storage:      deps.Storage,
		engine:       deps.Engine,
		events:       make(chan event, eventQueueDepth),
		done:         make(chan struct{}),
		empires:      make(map[model.EmpireID]*empireRecord),
		pendingJoins: make(map[*transport.Session]*protocol.JoinGamePayload),
	}
	s.registry = registry.New(deps.Storage, deps.Clock, deps.Config.CookieExpiry, deps.Logger)
	s.lobbyCtl = lobby.NewController(deps.Config, deps.Random, deps.Logger)
	s.authSvc = auth.New(deps.Storage, deps.Clock, deps.Logger)
	s.ai = aiproc.NewManager(deps.Launcher, deps.Logger)
	s.state = &stateIdle{}
	return s
}

// post queues an event from a socket or timer goroutine. Reactor handlers
// never call post; they invoke helpers directly instead, so a full queue
// cannot deadlock the loop.
func (s *Server) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// Run binds the listeners and drains events until shutdown completes
func (s *Server) Run(ctx context.Context) error {
	listener, err := transport.Listen(
		s.cfg.ListenAddr,
		s.cfg.DiscoveryAddr,
		s.cfg.LoopbackOnly,
		newEvaluator(s),
		s.logger,
		func(conn net.Conn) { s.post(connectionEvent{conn: conn}) },
	)
	if err != nil {
		return fmt.Errorf("start listener: %w", err)
	}
	s.listener = listener

	s.logger.Info("server listening",
		slog.String("addr", listener.Addr().String()),
		slog.String("discovery", listener.DiscoveryAddr().String()),
		slog.Bool("hostless", s.cfg.Hostless))

	s.scheduleCookieGC()

	if s.cfg.Hostless {
		s.post(hostlessEvent{})
	}

	go func() {
		select {
		case <-ctx.Done():
			s.post(quitEvent{reason: "server stopping"})
		case <-s.done:
		}
	}()

	s.state.enter(s)
	s.publishStatus()

	for {
		select {
		case ev := <-s.events:
			s.handleEvent(ev)
		case <-s.done:
			s.listener.Close()
			if s.gcTimer != nil {
				s.gcTimer.Stop()
			}
			return nil
		}
	}
}

// handleEvent performs reactor-level bookkeeping, then routes through the
// active state
func (s *Server) handleEvent(ev event) {
	switch e := ev.(type) {
	case connectionEvent:
		s.acceptConnection(e.conn)
		return
	case cookieGCEvent:
		s.registry.GCCookies(context.Background())
		s.scheduleCookieGC()
		return
	case quitEvent:
		// Outside shutdown this starts one; the shutdown state itself
		// treats a second quit as a force-finish
		if _, ok := s.state.(*stateShuttingDown); !ok {
			s.beginShutdown(e.reason)
			return
		}
	case disconnectionEvent:
		// Registry upkeep happens in every state; roster and game
		// consequences are the state's business
		s.preDisconnect(e.session)
	case messageEvent:
		if s.handleCommonMessage(e) {
			s.publishStatus()
			return
		}
	}
	s.dispatch(ev)
}

// preDisconnect runs the state-independent part of a disconnect: cookie
// refresh for reconnection and removal from the registry
func (s *Server) preDisconnect(sess *transport.Session) {
	delete(s.pendingJoins, sess)
	if sess.Established() {
		s.logger.Info("session disconnected",
			slog.Int("player", int(sess.ID())),
			slog.String("name", sess.Name()))
		s.registry.RefreshCookie(context.Background(), sess.Cookie())
	}
	s.registry.Remove(sess)
}

// handleCommonMessage consumes messages with identical semantics in every
// state. Returns true if the message was fully handled.
func (s *Server) handleCommonMessage(e messageEvent) bool {
	switch e.msg.Type {
	case protocol.TypeShutdownServer:
		if !e.session.Established() || !s.registry.IsHost(e.session.ID()) {
			s.sendError(e.session, protocol.ErrCodeNotLobbyHost, "only the host may shut the server down", false)
			return true
		}
		s.beginShutdown("shut down by host")
		return true
	case protocol.TypeError:
		var payload protocol.ErrorPayload
		if err := e.msg.Decode(&payload); err != nil {
			return true
		}
		if payload.Fatal {
			s.logger.Error("fatal error reported by client",
				slog.String("code", payload.Code),
				slog.Int("player", int(e.session.ID())))
			s.registry.Broadcast(protocol.MustNew(protocol.TypeError, payload))
			s.beginShutdown("fatal client error: " + payload.Code)
		} else {
			s.logger.Warn("recoverable error reported by client",
				slog.String("code", payload.Code),
				slog.Int("player", int(e.session.ID())))
		}
		return true
	}
	return false
}

// beginShutdown transitions into the shutdown state unless already there
func (s *Server) beginShutdown(reason string) {
	if _, ok := s.state.(*stateShuttingDown); ok {
		return
	}
	s.transition(&stateShuttingDown{reason: reason})
}

// terminate finishes the reactor after shutdown completes
func (s *Server) terminate() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// Done is closed once the server has fully stopped
func (s *Server) Done() <-chan struct{} { return s.done }

func (s *Server) acceptConnection(conn net.Conn) {
	sess := transport.NewSession(
		conn,
		s.cfg.MaxFrameSize,
		s.logger,
		func(sess *transport.Session, m protocol.Message) {
			s.post(messageEvent{session: sess, msg: m})
		},
		func(sess *transport.Session) {
			s.post(disconnectionEvent{session: sess})
		},
	)
	s.registry.Add(sess)
	s.logger.Info("connection accepted", slog.String("remote", conn.RemoteAddr().String()))
}

func (s *Server) scheduleCookieGC() {
	interval := s.cfg.CookieExpiry / 2
	if interval <= 0 {
		return
	}
	s.gcTimer = s.clock.AfterFunc(interval, func() { s.post(cookieGCEvent{}) })
}

// sendError queues an error message on one session
func (s *Server) sendError(sess *transport.Session, code, text string, fatal bool) {
	sess.Send(protocol.MustNew(protocol.TypeError, protocol.ErrorPayload{
		Code:         code,
		Message:      text,
		Fatal:        fatal,
		SourcePlayer: model.InvalidPlayerID,
	}))
}

// selectNewHost re-elects a host among established human sessions, preferring
// moderators, then lowest player id. Returns false if nobody qualifies.
func (s *Server) selectNewHost() bool {
	var best *transport.Session
	for _, sess := range s.registry.Established() {
		t := sess.ClientType()
		if !t.IsHuman() {
			continue
		}
		if best == nil {
			best = sess
			continue
		}
		bestMod := best.ClientType() == model.ClientTypeHumanModerator
		candMod := t == model.ClientTypeHumanModerator
		if candMod != bestMod {
			if candMod {
				best = sess
			}
			continue
		}
		if sess.ID() < best.ID() {
			best = sess
		}
	}
	if best == nil {
		return false
	}
	best.GrantRole(model.RoleHost)
	s.registry.SetHost(best.ID())
	s.registry.Broadcast(protocol.MustNew(protocol.TypeHostID, protocol.HostIDPayload{PlayerID: best.ID()}))
	s.logger.Info("new host selected", slog.Int("player", int(best.ID())), slog.String("name", best.Name()))
	return true
}

// publishStatus refreshes the cross-goroutine status snapshot
func (s *Server) publishStatus() {
	turnNo := 0
	if s.engine != nil {
		turnNo = s.engine.CurrentTurn()
	}
	gameName := ""
	if s.lobby != nil {
		gameName = s.lobby.GalaxySetup.GameName
	}
	established := s.registry.Established()
	players := make([]SessionStatus, 0, len(established))
	for _, sess := range established {
		players = append(players, SessionStatus{
			PlayerID:   sess.ID(),
			Name:       sess.Name(),
			ClientType: sess.ClientType().String(),
		})
	}
	st := Status{
		State:       s.state.name(),
		Turn:        turnNo,
		Sessions:    len(s.registry.Sessions()),
		Established: len(established),
		HostID:      s.registry.HostID(),
		GameName:    gameName,
		Players:     players,
	}
	s.statusMu.Lock()
	s.status = st
	s.statusMu.Unlock()
}

// CurrentStatus returns the last published snapshot. Safe from any goroutine.
func (s *Server) CurrentStatus() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/starlane-games/starlane-server/internal/config"
	"github.com/starlane-games/starlane-server/internal/dependencies/mocks"
	"github.com/starlane-games/starlane-server/internal/model"
	"github.com/starlane-games/starlane-server/internal/protocol"
	"github.com/starlane-games/starlane-server/internal/services/aiproc"
	"github.com/starlane-games/starlane-server/internal/sim"
	"github.com/starlane-games/starlane-server/internal/storage/memory"
	"github.com/starlane-games/starlane-server/internal/testutil"
	"github.com/starlane-games/starlane-server/internal/transport"
)

// fakeProcess is a Launcher process handle that records kills
type fakeProcess struct {
	killed bool
	done   chan struct{}
}

func (p *fakeProcess) Kill() error {
	p.killed = true
	return nil
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

type fakeLauncher struct {
	spawned   []string
	processes map[string]*fakeProcess
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{processes: make(map[string]*fakeProcess)}
}

func (l *fakeLauncher) Launch(name string, args []string) (aiproc.Process, error) {
	p := &fakeProcess{done: make(chan struct{})}
	l.spawned = append(l.spawned, name)
	l.processes[name] = p
	return p, nil
}

// testClient is one connected client: the far end of a pipe whose server end
// is registered with the reactor. Inbound traffic is injected directly as
// events; outbound frames are collected by a background reader.
type testClient struct {
	conn net.Conn
	sess *transport.Session
	msgs chan protocol.Message
}

// ServerSuite drives the game flow machine directly: events are handed to
// handleEvent instead of arriving through sockets, so every test is
// deterministic. Timer events still flow through the queue, drained after
// each mock clock advance.
type ServerSuite struct {
	suite.Suite

	cfg      config.Config
	clk      *mocks.MockClock
	rnd      *mocks.MockRandom
	store    *memory.Storage
	engine   *sim.Stub
	launcher *fakeLauncher
	srv      *Server

	clients []*testClient
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerSuite))
}

func (s *ServerSuite) SetupTest() {
	s.rebuild(config.Default())
}

func (s *ServerSuite) TearDownTest() {
	for _, c := range s.clients {
		c.conn.Close()
	}
	s.clients = nil
	s.srv.terminate()
}

// rebuild constructs a fresh server; used directly by tests that need a
// non-default configuration
func (s *ServerSuite) rebuild(cfg config.Config) {
	s.cfg = cfg
	s.clk = mocks.NewMockClock(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	s.rnd = mocks.NewMockRandom()
	s.store = memory.New()
	s.engine = sim.NewStub()
	s.launcher = newFakeLauncher()
	s.srv = New(Deps{
		Config:   cfg,
		Logger:   testutil.NopLogger(),
		Clock:    s.clk,
		Random:   s.rnd,
		Storage:  s.store,
		Engine:   s.engine,
		Launcher: s.launcher,
	})
	s.srv.state.enter(s.srv)
	s.srv.publishStatus()
}

// connect attaches a new unestablished client connection
func (s *ServerSuite) connect() *testClient {
	clientConn, serverConn := net.Pipe()
	s.srv.acceptConnection(serverConn)
	sessions := s.srv.registry.Sessions()
	c := &testClient{
		conn: clientConn,
		sess: sessions[len(sessions)-1],
		msgs: make(chan protocol.Message, 64),
	}
	go func() {
		for {
			m, err := protocol.Read(clientConn, s.cfg.MaxFrameSize)
			if err != nil {
				return
			}
			c.msgs <- m
		}
	}()
	s.clients = append(s.clients, c)
	return c
}

// deliver injects one inbound message as if the client had sent it, then
// drains any follow-up events the handler queued
func (s *ServerSuite) deliver(c *testClient, t protocol.MessageType, payload any) {
	s.srv.handleEvent(messageEvent{session: c.sess, msg: protocol.MustNew(t, payload)})
	s.drainEvents()
}

// drop closes the client's session and processes the resulting
// disconnection event. The disconnect callback posts synchronously from
// Close, so draining afterwards is deterministic.
func (s *ServerSuite) drop(c *testClient) {
	c.sess.Close()
	s.drainEvents()
}

// advance moves the mock clock and processes the timer events it fired
func (s *ServerSuite) advance(d time.Duration) {
	s.clk.Advance(d)
	s.drainEvents()
}

// drainEvents processes queued events until the reactor queue is empty
func (s *ServerSuite) drainEvents() {
	for {
		select {
		case ev := <-s.srv.events:
			s.srv.handleEvent(ev)
		default:
			return
		}
	}
}

// expectMessage waits for the next message of the given type, discarding
// interleaved broadcasts of other types
func (s *ServerSuite) expectMessage(c *testClient, t protocol.MessageType) protocol.Message {
	deadline := time.After(2 * time.Second)
	for {
		select {
		case m := <-c.msgs:
			if m.Type == t {
				return m
			}
		case <-deadline:
			s.FailNowf("timeout", "no %s message received", t.String())
			return protocol.Message{}
		}
	}
}

// expectStatus waits for a player status broadcast matching both empire and
// status; earlier status broadcasts for other turns are discarded
func (s *ServerSuite) expectStatus(c *testClient, empire model.EmpireID, status model.PlayerStatus) {
	deadline := time.After(2 * time.Second)
	for {
		select {
		case m := <-c.msgs:
			if m.Type != protocol.TypePlayerStatus {
				continue
			}
			var p protocol.PlayerStatusPayload
			s.Require().NoError(m.Decode(&p))
			if p.EmpireID == empire && p.Status == status {
				return
			}
		case <-deadline:
			s.FailNowf("timeout", "no status %s for empire %d", string(status), empire)
			return
		}
	}
}

// decodePayload decodes into v, failing the test on error
func (s *ServerSuite) decodePayload(m protocol.Message, v any) {
	s.Require().NoError(m.Decode(v))
}

// hostLobby connects a client and claims multiplayer hosting with it
func (s *ServerSuite) hostLobby(name string) *testClient {
	c := s.connect()
	s.deliver(c, protocol.TypeHostMPGame, protocol.HostMPGamePayload{PlayerName: name, Version: "v1"})
	return c
}

// join connects a client and joins it as a human player
func (s *ServerSuite) join(name string) *testClient {
	c := s.connect()
	s.deliver(c, protocol.TypeJoinGame, protocol.JoinGamePayload{
		PlayerName: name,
		ClientType: model.ClientTypeHumanPlayer,
		Version:    "v1",
	})
	return c
}

// readyUpdate builds a lobby update that marks the player's own row ready
// and changes nothing else
func (s *ServerSuite) readyUpdate(id model.PlayerID) protocol.LobbyUpdatePayload {
	l := *s.srv.lobby
	l.Players = append([]model.PlayerSetupData(nil), s.srv.lobby.Players...)
	if row := l.Row(id); row != nil {
		row.Ready = true
	}
	return protocol.LobbyUpdatePayload{Lobby: l}
}

func (s *ServerSuite) TestHostMPGameOpensLobby() {
	c := s.hostLobby("Alice")

	var ack protocol.JoinAckPayload
	s.decodePayload(s.expectMessage(c, protocol.TypeJoinAck), &ack)
	s.Equal(model.PlayerID(0), ack.PlayerID)
	s.NotEmpty(ack.Cookie)

	var host protocol.HostIDPayload
	s.decodePayload(s.expectMessage(c, protocol.TypeHostID), &host)
	s.Equal(model.PlayerID(0), host.PlayerID)

	var lu protocol.LobbyUpdatePayload
	s.decodePayload(s.expectMessage(c, protocol.TypeLobbyUpdate), &lu)
	s.Require().Len(lu.Lobby.Players, 1)
	s.Equal("Alice", lu.Lobby.Players[0].PlayerName)
	s.False(lu.Lobby.Players[0].Ready)

	st := s.srv.CurrentStatus()
	s.Equal("mp_lobby", st.State)
	s.Equal(model.PlayerID(0), st.HostID)
	s.Equal(1, st.Established)
}

func (s *ServerSuite) TestJoinBeforeHostingRejected() {
	c := s.join("Eve")

	var errPayload protocol.ErrorPayload
	s.decodePayload(s.expectMessage(c, protocol.TypeError), &errPayload)
	s.Equal(protocol.ErrCodeInternal, errPayload.Code)
	s.True(errPayload.Fatal)
}

func (s *ServerSuite) TestJoinNameCollisionGetsSuffix() {
	s.hostLobby("Alice")
	c := s.join("Alice")

	var ack protocol.JoinAckPayload
	s.decodePayload(s.expectMessage(c, protocol.TypeJoinAck), &ack)
	s.Equal(model.PlayerID(1), ack.PlayerID)

	row := s.srv.lobby.Row(1)
	s.Require().NotNil(row)
	s.Equal("Alice2", row.PlayerName)
}

func (s *ServerSuite) TestStartRequiresHost() {
	s.hostLobby("Alice")
	c := s.join("Bob")
	s.expectMessage(c, protocol.TypeJoinAck)

	s.deliver(c, protocol.TypeStartMPGame, nil)

	var errPayload protocol.ErrorPayload
	s.decodePayload(s.expectMessage(c, protocol.TypeError), &errPayload)
	s.Equal(protocol.ErrCodeNotLobbyHost, errPayload.Code)
	s.Equal("mp_lobby", s.srv.state.name())
}

func (s *ServerSuite) TestStartBlockedWhileNotAllReady() {
	c := s.hostLobby("Alice")
	s.join("Bob")

	s.deliver(c, protocol.TypeStartMPGame, nil)

	var errPayload protocol.ErrorPayload
	s.decodePayload(s.expectMessage(c, protocol.TypeError), &errPayload)
	s.Equal(protocol.ErrCodeInternal, errPayload.Code)
	s.False(errPayload.Fatal)
	s.Equal("mp_lobby", s.srv.state.name())
}

func (s *ServerSuite) TestGameStartsWhenEveryoneReady() {
	alice := s.hostLobby("Alice")
	bob := s.join("Bob")

	s.deliver(alice, protocol.TypeLobbyUpdate, s.readyUpdate(0))
	s.Equal("mp_lobby", s.srv.state.name())
	s.deliver(bob, protocol.TypeLobbyUpdate, s.readyUpdate(1))

	s.Equal("playing_game/waiting_for_turn_end", s.srv.state.name())

	var start protocol.GameStartPayload
	s.decodePayload(s.expectMessage(alice, protocol.TypeGameStart), &start)
	s.Equal(model.PlayerID(0), start.PlayerID)
	s.Equal(1, start.CurrentTurn)
	s.False(start.SinglePlayer)
	aliceEmpire := start.EmpireID

	s.decodePayload(s.expectMessage(bob, protocol.TypeGameStart), &start)
	s.Equal(model.PlayerID(1), start.PlayerID)
	s.NotEqual(aliceEmpire, start.EmpireID)

	s.Equal(1, s.srv.CurrentStatus().Turn)
}

func (s *ServerSuite) TestHostDisconnectReelects() {
	alice := s.hostLobby("Alice")
	bob := s.join("Bob")
	s.expectMessage(bob, protocol.TypeJoinAck)
	var host protocol.HostIDPayload
	s.decodePayload(s.expectMessage(bob, protocol.TypeHostID), &host)
	s.Equal(model.PlayerID(0), host.PlayerID)

	s.drop(alice)

	s.decodePayload(s.expectMessage(bob, protocol.TypeHostID), &host)
	s.Equal(model.PlayerID(1), host.PlayerID)
	s.True(s.srv.registry.IsHost(1))
	s.Nil(s.srv.lobby.Row(0))
}

func (s *ServerSuite) TestLobbyAbandonedShutsDown() {
	alice := s.hostLobby("Alice")
	s.drop(alice)

	s.Equal("shutting_down", s.srv.state.name())
	select {
	case <-s.srv.Done():
	case <-time.After(2 * time.Second):
		s.FailNow("server did not stop")
	}
}

func (s *ServerSuite) TestHostlessLobbySurvivesEmptyRoster() {
	cfg := config.Default()
	cfg.Hostless = true
	s.rebuild(cfg)
	s.srv.handleEvent(hostlessEvent{})
	s.Equal("mp_lobby", s.srv.state.name())

	bob := s.join("Bob")
	var ack protocol.JoinAckPayload
	s.decodePayload(s.expectMessage(bob, protocol.TypeJoinAck), &ack)
	s.Equal(model.InvalidPlayerID, s.srv.registry.HostID())

	s.drop(bob)
	s.Equal("mp_lobby", s.srv.state.name())
	s.Empty(s.srv.lobby.Players)
}

func (s *ServerSuite) TestQuitShutsDownFromLobby() {
	c := s.hostLobby("Alice")
	s.expectMessage(c, protocol.TypeJoinAck)

	s.srv.handleEvent(quitEvent{reason: "server stopping"})

	var end protocol.EndGamePayload
	s.decodePayload(s.expectMessage(c, protocol.TypeEndGame), &end)
	s.Equal("server stopping", end.Reason)
	select {
	case <-s.srv.Done():
	case <-time.After(2 * time.Second):
		s.FailNow("server did not stop")
	}
}

func (s *ServerSuite) TestFatalClientErrorShutsDown() {
	c := s.hostLobby("Alice")
	s.deliver(c, protocol.TypeError, protocol.ErrorPayload{Code: "client_crashed", Fatal: true})

	s.Equal("shutting_down", s.srv.state.name())
}

func (s *ServerSuite) TestLobbyChatBroadcastAndPrivate() {
	alice := s.hostLobby("Alice")
	bob := s.join("Bob")
	s.expectMessage(bob, protocol.TypeJoinAck)

	s.deliver(alice, protocol.TypePlayerChat, protocol.PlayerChatPayload{Text: "hello all"})
	var chat protocol.PlayerChatPayload
	s.decodePayload(s.expectMessage(bob, protocol.TypePlayerChat), &chat)
	s.Equal("hello all", chat.Text)
	s.False(chat.Private)
	s.Equal("Alice", chat.SenderName)

	// Broadcast chat is echoed back to the sender as well
	s.decodePayload(s.expectMessage(alice, protocol.TypePlayerChat), &chat)
	s.Equal("hello all", chat.Text)

	s.deliver(bob, protocol.TypePlayerChat, protocol.PlayerChatPayload{
		Recipients: []model.PlayerID{0},
		Text:       "psst",
	})
	s.decodePayload(s.expectMessage(alice, protocol.TypePlayerChat), &chat)
	s.Equal("psst", chat.Text)
	s.True(chat.Private)
	s.Equal(model.PlayerID(1), chat.SenderID)
}

func (s *ServerSuite) TestSinglePlayerQuickstart() {
	solo := s.connect()
	s.deliver(solo, protocol.TypeHostSPGame, protocol.HostSPGamePayload{
		PlayerName: "Solo",
		Version:    "v1",
		AICount:    1,
	})

	var ack protocol.JoinAckPayload
	s.decodePayload(s.expectMessage(solo, protocol.TypeJoinAck), &ack)
	s.Equal(model.PlayerID(0), ack.PlayerID)
	s.Equal([]string{"AI_1"}, s.launcher.spawned)
	s.Equal("waiting_for_sp_game_joiners", s.srv.state.name())

	ai := s.connect()
	s.deliver(ai, protocol.TypeJoinGame, protocol.JoinGamePayload{
		PlayerName: "AI_1",
		ClientType: model.ClientTypeAIPlayer,
		Version:    "v1",
	})

	var start protocol.GameStartPayload
	s.decodePayload(s.expectMessage(solo, protocol.TypeGameStart), &start)
	s.True(start.SinglePlayer)
	s.NotEqual(model.InvalidEmpireID, start.EmpireID)
	s.decodePayload(s.expectMessage(ai, protocol.TypeGameStart), &start)
	s.True(start.SinglePlayer)
	s.Equal("playing_game/waiting_for_turn_end", s.srv.state.name())
}

func (s *ServerSuite) TestUnexpectedAIRejected() {
	solo := s.connect()
	s.deliver(solo, protocol.TypeHostSPGame, protocol.HostSPGamePayload{
		PlayerName: "Solo",
		Version:    "v1",
		AICount:    1,
	})

	intruder := s.connect()
	s.deliver(intruder, protocol.TypeJoinGame, protocol.JoinGamePayload{
		PlayerName: "AI_9",
		ClientType: model.ClientTypeAIPlayer,
		Version:    "v1",
	})

	var errPayload protocol.ErrorPayload
	s.decodePayload(s.expectMessage(intruder, protocol.TypeError), &errPayload)
	s.Equal(protocol.ErrCodeUnexpectedAI, errPayload.Code)
	s.True(errPayload.Fatal)
	s.Equal("waiting_for_sp_game_joiners", s.srv.state.name())
}

// setCredential stores a login secret so the named player is challenged on
// join
func (s *ServerSuite) setCredential(name, secret string) {
	s.Require().NoError(s.srv.authSvc.SetCredential(context.Background(), name, secret, 0))
}

// rosterWithAI copies the live lobby and appends an AI roster row
func (s *ServerSuite) rosterWithAI(name string) protocol.LobbyUpdatePayload {
	l := *s.srv.lobby
	l.Players = append([]model.PlayerSetupData(nil), s.srv.lobby.Players...)
	l.Players = append(l.Players, model.PlayerSetupData{
		PlayerName: name,
		ClientType: model.ClientTypeAIPlayer,
	})
	return protocol.LobbyUpdatePayload{Lobby: l}
}

func (s *ServerSuite) TestHostAddsAndRemovesAIRow() {
	alice := s.hostLobby("Alice")

	s.deliver(alice, protocol.TypeLobbyUpdate, s.rosterWithAI("AI_1"))
	s.Equal(1, s.srv.lobby.CountType(model.ClientTypeAIPlayer))

	l := *s.srv.lobby
	kept := make([]model.PlayerSetupData, 0, len(s.srv.lobby.Players))
	for _, row := range s.srv.lobby.Players {
		if row.ClientType != model.ClientTypeAIPlayer {
			kept = append(kept, row)
		}
	}
	l.Players = kept
	s.deliver(alice, protocol.TypeLobbyUpdate, protocol.LobbyUpdatePayload{Lobby: l})
	s.Zero(s.srv.lobby.CountType(model.ClientTypeAIPlayer))
}

func (s *ServerSuite) TestNonHostCannotEditAIRoster() {
	s.hostLobby("Alice")
	bob := s.join("Bob")
	s.expectMessage(bob, protocol.TypeJoinAck)

	s.deliver(bob, protocol.TypeLobbyUpdate, s.rosterWithAI("AI_1"))
	s.Zero(s.srv.lobby.CountType(model.ClientTypeAIPlayer))
}

func (s *ServerSuite) TestMPGameSpawnsRosterAIs() {
	alice := s.hostLobby("Alice")
	s.deliver(alice, protocol.TypeLobbyUpdate, s.rosterWithAI("AI_1"))
	s.deliver(alice, protocol.TypeLobbyUpdate, s.readyUpdate(0))

	s.Equal("waiting_for_mp_game_joiners", s.srv.state.name())
	s.Equal([]string{"AI_1"}, s.launcher.spawned)

	ai := s.connect()
	s.deliver(ai, protocol.TypeJoinGame, protocol.JoinGamePayload{
		PlayerName: "AI_1",
		ClientType: model.ClientTypeAIPlayer,
		Version:    "v1",
	})

	var start protocol.GameStartPayload
	s.decodePayload(s.expectMessage(alice, protocol.TypeGameStart), &start)
	s.NotEqual(model.InvalidEmpireID, start.EmpireID)
	s.decodePayload(s.expectMessage(ai, protocol.TypeGameStart), &start)
	s.Equal("playing_game/waiting_for_turn_end", s.srv.state.name())
}

func (s *ServerSuite) TestJoinWithStoredCredentialIsChallenged() {
	s.setCredential("Bob", "hunter2")
	s.hostLobby("Alice")

	bob := s.connect()
	s.deliver(bob, protocol.TypeJoinGame, protocol.JoinGamePayload{
		PlayerName: "Bob",
		ClientType: model.ClientTypeHumanPlayer,
		Version:    "v1",
	})
	var challenge protocol.AuthRequestPayload
	s.decodePayload(s.expectMessage(bob, protocol.TypeAuthRequest), &challenge)
	s.Equal("Bob", challenge.PlayerName)

	s.deliver(bob, protocol.TypeAuthResponse, protocol.AuthResponsePayload{
		PlayerName: "Bob",
		Credential: "hunter2",
	})
	var ack protocol.JoinAckPayload
	s.decodePayload(s.expectMessage(bob, protocol.TypeJoinAck), &ack)

	row := s.srv.lobby.Row(ack.PlayerID)
	s.Require().NotNil(row)
	s.True(row.Authenticated)
}

func (s *ServerSuite) TestWrongCredentialDisconnectsOnlyOffender() {
	s.setCredential("Bob", "hunter2")
	s.hostLobby("Alice")

	bob := s.connect()
	s.deliver(bob, protocol.TypeJoinGame, protocol.JoinGamePayload{
		PlayerName: "Bob",
		ClientType: model.ClientTypeHumanPlayer,
		Version:    "v1",
	})
	s.expectMessage(bob, protocol.TypeAuthRequest)
	s.deliver(bob, protocol.TypeAuthResponse, protocol.AuthResponsePayload{
		PlayerName: "Bob",
		Credential: "wrong",
	})

	var errPayload protocol.ErrorPayload
	s.decodePayload(s.expectMessage(bob, protocol.TypeError), &errPayload)
	s.Equal(protocol.ErrCodeAuthFailed, errPayload.Code)
	s.True(errPayload.Fatal)

	s.Equal("mp_lobby", s.srv.state.name())
	s.Require().Len(s.srv.lobby.Players, 1)
	s.Equal("Alice", s.srv.lobby.Players[0].PlayerName)
}

func (s *ServerSuite) TestHostKeepsHostRoleThroughAuthChallenge() {
	s.setCredential("Alice", "hunter2")

	alice := s.connect()
	s.deliver(alice, protocol.TypeHostMPGame, protocol.HostMPGamePayload{PlayerName: "Alice", Version: "v1"})
	s.expectMessage(alice, protocol.TypeAuthRequest)

	s.deliver(alice, protocol.TypeAuthResponse, protocol.AuthResponsePayload{
		PlayerName: "Alice",
		Credential: "hunter2",
	})
	var ack protocol.JoinAckPayload
	s.decodePayload(s.expectMessage(alice, protocol.TypeJoinAck), &ack)

	var host protocol.HostIDPayload
	s.decodePayload(s.expectMessage(alice, protocol.TypeHostID), &host)
	s.Equal(ack.PlayerID, host.PlayerID)
	s.Equal(ack.PlayerID, s.srv.registry.HostID())
	s.True(alice.sess.Roles().Has(model.RoleHost))
}

func (s *ServerSuite) TestCookieReconnectSkipsAuthChallenge() {
	s.setCredential("Bob", "hunter2")
	s.hostLobby("Alice")

	bob := s.connect()
	s.deliver(bob, protocol.TypeJoinGame, protocol.JoinGamePayload{
		PlayerName: "Bob",
		ClientType: model.ClientTypeHumanPlayer,
		Version:    "v1",
	})
	s.expectMessage(bob, protocol.TypeAuthRequest)
	s.deliver(bob, protocol.TypeAuthResponse, protocol.AuthResponsePayload{
		PlayerName: "Bob",
		Credential: "hunter2",
	})
	var ack protocol.JoinAckPayload
	s.decodePayload(s.expectMessage(bob, protocol.TypeJoinAck), &ack)
	s.Require().NotEmpty(ack.Cookie)

	s.drop(bob)

	again := s.connect()
	s.deliver(again, protocol.TypeJoinGame, protocol.JoinGamePayload{
		PlayerName: "Bob",
		ClientType: model.ClientTypeHumanPlayer,
		Version:    "v1",
		Cookie:     ack.Cookie,
	})
	var ack2 protocol.JoinAckPayload
	s.decodePayload(s.expectMessage(again, protocol.TypeJoinAck), &ack2)
	s.Empty(s.srv.pendingJoins, "a valid cookie must not trigger a challenge")

	row := s.srv.lobby.Row(ack2.PlayerID)
	s.Require().NotNil(row)
	s.True(row.Authenticated)
}

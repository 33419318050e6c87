package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/starlane-games/starlane-server/internal/config"
	"github.com/starlane-games/starlane-server/internal/model"
	"github.com/starlane-games/starlane-server/internal/protocol"
)

// startTwoPlayerGame drives Alice and Bob through hosting, readiness and
// game start, returning their clients and assigned empires
func (s *ServerSuite) startTwoPlayerGame() (alice, bob *testClient, aliceEmpire, bobEmpire model.EmpireID) {
	alice = s.hostLobby("Alice")
	bob = s.join("Bob")
	s.deliver(alice, protocol.TypeLobbyUpdate, s.readyUpdate(0))
	s.deliver(bob, protocol.TypeLobbyUpdate, s.readyUpdate(1))
	s.Require().Equal("playing_game/waiting_for_turn_end", s.srv.state.name())

	var start protocol.GameStartPayload
	s.decodePayload(s.expectMessage(alice, protocol.TypeGameStart), &start)
	aliceEmpire = start.EmpireID
	s.decodePayload(s.expectMessage(bob, protocol.TypeGameStart), &start)
	bobEmpire = start.EmpireID
	return alice, bob, aliceEmpire, bobEmpire
}

// startSinglePlayerGame drives a quickstart game with one AI empire
func (s *ServerSuite) startSinglePlayerGame() (solo, ai *testClient) {
	solo = s.connect()
	s.deliver(solo, protocol.TypeHostSPGame, protocol.HostSPGamePayload{
		PlayerName: "Solo",
		Version:    "v1",
		AICount:    1,
	})
	ai = s.connect()
	s.deliver(ai, protocol.TypeJoinGame, protocol.JoinGamePayload{
		PlayerName: "AI_1",
		ClientType: model.ClientTypeAIPlayer,
		Version:    "v1",
	})
	s.Require().Equal("playing_game/waiting_for_turn_end", s.srv.state.name())
	return solo, ai
}

func (s *ServerSuite) orders(c *testClient, empire model.EmpireID) {
	s.deliver(c, protocol.TypeTurnOrders, protocol.TurnOrdersPayload{
		EmpireID: empire,
		Orders:   json.RawMessage(`{"fleets":[]}`),
	})
}

func (s *ServerSuite) TestOrdersForWrongEmpireRejected() {
	alice, _, aliceEmpire, bobEmpire := s.startTwoPlayerGame()

	s.orders(alice, bobEmpire)

	var errPayload protocol.ErrorPayload
	s.decodePayload(s.expectMessage(alice, protocol.TypeError), &errPayload)
	s.Equal(protocol.ErrCodeWrongEmpire, errPayload.Code)
	s.False(errPayload.Fatal)
	s.False(s.srv.coordinator.Ready(aliceEmpire))
	s.Equal(1, s.engine.CurrentTurn())
}

func (s *ServerSuite) TestOrdersFromAllAdvanceTurn() {
	alice, bob, aliceEmpire, bobEmpire := s.startTwoPlayerGame()

	s.orders(alice, aliceEmpire)
	s.Equal(1, s.engine.CurrentTurn())
	s.orders(bob, bobEmpire)
	s.Equal(2, s.engine.CurrentTurn())

	var update protocol.TurnUpdatePayload
	s.decodePayload(s.expectMessage(alice, protocol.TypeTurnUpdate), &update)
	s.Equal(2, update.Turn)
	s.decodePayload(s.expectMessage(bob, protocol.TypeTurnUpdate), &update)
	s.Equal(2, update.Turn)
	s.Equal("playing_game/waiting_for_turn_end", s.srv.state.name())
	s.Equal(2, s.srv.CurrentStatus().Turn)
}

func (s *ServerSuite) TestRevertOrdersRevokesReadiness() {
	alice, _, aliceEmpire, _ := s.startTwoPlayerGame()

	s.orders(alice, aliceEmpire)
	s.True(s.srv.coordinator.Ready(aliceEmpire))

	s.deliver(alice, protocol.TypeRevertOrders, nil)
	s.False(s.srv.coordinator.Ready(aliceEmpire))

	st := s.srv.state.(*statePlaying)
	s.NotContains(st.orders, aliceEmpire)
}

func (s *ServerSuite) TestAutoTurnReadiesFollowingTurn() {
	alice, bob, _, bobEmpire := s.startTwoPlayerGame()

	s.deliver(alice, protocol.TypeAutoTurn, protocol.AutoTurnPayload{Count: 1})
	s.orders(bob, bobEmpire)
	s.Equal(2, s.engine.CurrentTurn())

	// The armed counter covers turn 2 as well
	s.orders(bob, bobEmpire)
	s.Equal(3, s.engine.CurrentTurn())

	// Exhausted: turn 3 waits for Alice again
	s.orders(bob, bobEmpire)
	s.Equal(3, s.engine.CurrentTurn())
}

func (s *ServerSuite) TestTurnTimerForcesAdvance() {
	cfg := config.Default()
	cfg.TurnTimeout = time.Minute
	s.rebuild(cfg)
	alice, _, aliceEmpire, _ := s.startTwoPlayerGame()

	s.orders(alice, aliceEmpire)
	s.Equal(1, s.engine.CurrentTurn())

	s.advance(time.Minute)
	s.Equal(2, s.engine.CurrentTurn())

	var update protocol.TurnUpdatePayload
	s.decodePayload(s.expectMessage(alice, protocol.TypeTurnUpdate), &update)
	s.Equal(2, update.Turn)
}

func (s *ServerSuite) TestAutosaveTimer() {
	cfg := config.Default()
	cfg.AutosaveInterval = 5 * time.Minute
	s.rebuild(cfg)
	alice, _, _, _ := s.startTwoPlayerGame()

	s.advance(5 * time.Minute)

	var done protocol.SaveGameCompletePayload
	s.decodePayload(s.expectMessage(alice, protocol.TypeSaveGameComplete), &done)
	s.Equal(1, done.Turn)

	saves, err := s.store.ListSaveGames(context.Background())
	s.Require().NoError(err)
	s.Require().Len(saves, 1)
	s.Equal("autosave", saves[0].GameName)

	// The interval re-arms after each save
	s.advance(5 * time.Minute)
	saves, err = s.store.ListSaveGames(context.Background())
	s.Require().NoError(err)
	s.Len(saves, 2)
}

func (s *ServerSuite) TestSaveGameRequestHostOnly() {
	alice, bob, _, _ := s.startTwoPlayerGame()

	s.deliver(bob, protocol.TypeSaveGameRequest, protocol.SaveGameRequestPayload{GameName: "sneaky"})
	var errPayload protocol.ErrorPayload
	s.decodePayload(s.expectMessage(bob, protocol.TypeError), &errPayload)
	s.Equal(protocol.ErrCodeNotLobbyHost, errPayload.Code)

	s.deliver(alice, protocol.TypeSaveGameRequest, protocol.SaveGameRequestPayload{GameName: "Checkpoint"})
	var done protocol.SaveGameCompletePayload
	s.decodePayload(s.expectMessage(alice, protocol.TypeSaveGameComplete), &done)
	s.NotEmpty(done.SaveID)

	saves, err := s.store.ListSaveGames(context.Background())
	s.Require().NoError(err)
	s.Require().Len(saves, 1)
	s.Equal("Checkpoint", saves[0].GameName)
	s.Equal(1, saves[0].Turn)
}

func (s *ServerSuite) TestDiplomacyRoutedToRecipient() {
	alice, bob, aliceEmpire, bobEmpire := s.startTwoPlayerGame()

	s.deliver(alice, protocol.TypeDiplomacy, protocol.DiplomacyPayload{
		Sender:    aliceEmpire,
		Recipient: bobEmpire,
		Action:    json.RawMessage(`{"kind":"peace_proposal"}`),
	})

	var dip protocol.DiplomacyPayload
	s.decodePayload(s.expectMessage(bob, protocol.TypeDiplomacy), &dip)
	s.Equal(aliceEmpire, dip.Sender)
	s.Equal(bobEmpire, dip.Recipient)
}

func (s *ServerSuite) TestDiplomacyToAllEmpires() {
	alice, bob, aliceEmpire, _ := s.startTwoPlayerGame()

	s.deliver(alice, protocol.TypeDiplomacy, protocol.DiplomacyPayload{
		Sender:    aliceEmpire,
		Recipient: model.AllEmpires,
		Action:    json.RawMessage(`{"kind":"declare_war"}`),
	})

	var dip protocol.DiplomacyPayload
	s.decodePayload(s.expectMessage(bob, protocol.TypeDiplomacy), &dip)
	s.Equal(aliceEmpire, dip.Sender)
	s.Equal(model.AllEmpires, dip.Recipient)
}

func (s *ServerSuite) TestModeratorGatingAndEndTurn() {
	alice, bob, aliceEmpire, bobEmpire := s.startTwoPlayerGame()

	judge := s.connect()
	s.deliver(judge, protocol.TypeJoinGame, protocol.JoinGamePayload{
		PlayerName: "Judge",
		ClientType: model.ClientTypeHumanModerator,
		Version:    "v1",
	})
	var start protocol.GameStartPayload
	s.decodePayload(s.expectMessage(judge, protocol.TypeGameStart), &start)
	s.Equal(model.InvalidEmpireID, start.EmpireID)

	// With a moderator present, player readiness alone no longer ends the
	// turn
	s.orders(alice, aliceEmpire)
	s.orders(bob, bobEmpire)
	s.Equal(1, s.engine.CurrentTurn())

	s.deliver(judge, protocol.TypeModeratorAction, protocol.ModeratorActionPayload{
		Action: protocol.ModeratorActionEndTurn,
	})
	s.Equal(2, s.engine.CurrentTurn())
}

func (s *ServerSuite) TestModeratorActionRequiresModerator() {
	alice, _, _, _ := s.startTwoPlayerGame()

	s.deliver(alice, protocol.TypeModeratorAction, protocol.ModeratorActionPayload{
		Action: protocol.ModeratorActionEndTurn,
	})

	var errPayload protocol.ErrorPayload
	s.decodePayload(s.expectMessage(alice, protocol.TypeError), &errPayload)
	s.Equal(protocol.ErrCodeClientTypeDenied, errPayload.Code)
	s.Equal(1, s.engine.CurrentTurn())
}

func (s *ServerSuite) TestEliminateSelf() {
	alice, bob, aliceEmpire, bobEmpire := s.startTwoPlayerGame()

	s.deliver(bob, protocol.TypeEliminateSelf, nil)

	var end protocol.EndGamePayload
	s.decodePayload(s.expectMessage(bob, protocol.TypeEndGame), &end)
	s.Equal("resigned", end.Reason)

	s.expectStatus(alice, bobEmpire, model.StatusWaiting)

	// Alice alone now decides the turn
	s.orders(alice, aliceEmpire)
	s.Equal(2, s.engine.CurrentTurn())
}

func (s *ServerSuite) TestReconnectIntoVacantEmpire() {
	alice, bob, aliceEmpire, bobEmpire := s.startTwoPlayerGame()
	s.drop(bob)
	s.Equal("playing_game/waiting_for_turn_end", s.srv.state.name())

	back := s.join("Bob")
	var start protocol.GameStartPayload
	s.decodePayload(s.expectMessage(back, protocol.TypeGameStart), &start)
	s.Equal(bobEmpire, start.EmpireID)
	s.Equal(1, start.CurrentTurn)

	s.orders(alice, aliceEmpire)
	s.orders(back, bobEmpire)
	s.Equal(2, s.engine.CurrentTurn())
}

func (s *ServerSuite) TestJoinWithoutVacantEmpireRejected() {
	s.startTwoPlayerGame()

	late := s.join("Mallory")

	var errPayload protocol.ErrorPayload
	s.decodePayload(s.expectMessage(late, protocol.TypeError), &errPayload)
	s.Equal(protocol.ErrCodeClientTypeDenied, errPayload.Code)
	s.True(errPayload.Fatal)
}

func (s *ServerSuite) TestTooFewHumansEndsGame() {
	alice, bob, _, _ := s.startTwoPlayerGame()

	s.drop(bob)
	s.Equal("playing_game/waiting_for_turn_end", s.srv.state.name())

	s.drop(alice)
	select {
	case <-s.srv.Done():
	case <-time.After(2 * time.Second):
		s.FailNow("server did not stop")
	}
}

func (s *ServerSuite) TestAILostEndsGame() {
	solo, ai := s.startSinglePlayerGame()

	s.drop(ai)

	var errPayload protocol.ErrorPayload
	s.decodePayload(s.expectMessage(solo, protocol.TypeError), &errPayload)
	s.Equal(protocol.ErrCodeInternal, errPayload.Code)
	s.True(errPayload.Fatal)

	var end protocol.EndGamePayload
	s.decodePayload(s.expectMessage(solo, protocol.TypeEndGame), &end)
	s.Equal("AI player lost", end.Reason)
	select {
	case <-s.srv.Done():
	case <-time.After(2 * time.Second):
		s.FailNow("server did not stop")
	}
}

func (s *ServerSuite) TestShutdownWaitsForAIAck() {
	solo, ai := s.startSinglePlayerGame()

	s.deliver(solo, protocol.TypeShutdownServer, nil)
	s.Equal("shutting_down", s.srv.state.name())

	var end protocol.EndGamePayload
	s.decodePayload(s.expectMessage(ai, protocol.TypeEndGame), &end)
	select {
	case <-s.srv.Done():
		s.FailNow("stopped before the AI acked")
	default:
	}

	s.deliver(ai, protocol.TypeAIEndGameAck, nil)
	select {
	case <-s.srv.Done():
	case <-time.After(2 * time.Second):
		s.FailNow("server did not stop")
	}
	s.False(s.launcher.processes["AI_1"].killed)
}

func (s *ServerSuite) TestShutdownDeadlineKillsStragglers() {
	solo, _ := s.startSinglePlayerGame()

	s.deliver(solo, protocol.TypeShutdownServer, nil)
	s.advance(s.cfg.AIShutdownDeadline)

	select {
	case <-s.srv.Done():
	case <-time.After(2 * time.Second):
		s.FailNow("server did not stop")
	}
	s.True(s.launcher.processes["AI_1"].killed)
}

func (s *ServerSuite) TestShutdownRejectsNewJoins() {
	solo, _ := s.startSinglePlayerGame()
	s.deliver(solo, protocol.TypeShutdownServer, nil)

	late := s.join("Latecomer")

	var errPayload protocol.ErrorPayload
	s.decodePayload(s.expectMessage(late, protocol.TypeError), &errPayload)
	s.Equal(protocol.ErrCodeShuttingDown, errPayload.Code)
	s.True(errPayload.Fatal)
}

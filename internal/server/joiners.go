package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starlane-games/starlane-server/internal/model"
	"github.com/starlane-games/starlane-server/internal/protocol"
	"github.com/starlane-games/starlane-server/internal/services/turn"
	"github.com/starlane-games/starlane-server/internal/sim"
	"github.com/starlane-games/starlane-server/internal/transport"
)

// stateWaitingForJoiners spawns the AI client processes the roster calls for
// and waits until every expected participant has connected and established.
// AI clients presenting unexpected names are rejected.
type stateWaitingForJoiners struct {
	singlePlayer bool
	// hostSession is the single-player host's connection, established on
	// entry
	hostSession *transport.Session
}

func (st *stateWaitingForJoiners) name() string {
	if st.singlePlayer {
		return "waiting_for_sp_game_joiners"
	}
	return "waiting_for_mp_game_joiners"
}

func (st *stateWaitingForJoiners) enter(s *Server) {
	if st.singlePlayer {
		st.enterSinglePlayer(s)
	}
	st.spawnAIs(s)
}

// afterEnter starts immediately when no joiner is outstanding, e.g. a
// single-player game with zero AI empires
func (st *stateWaitingForJoiners) afterEnter(s *Server) state {
	return st.checkStartConditions(s)
}

func (st *stateWaitingForJoiners) exit(s *Server) {}

// enterSinglePlayer builds the implicit roster for a quickstart game
func (st *stateWaitingForJoiners) enterSinglePlayer(s *Server) {
	setup := s.spSetup
	s.lobby = s.lobbyCtl.NewLobby()
	s.lobby.GalaxySetup = setup.GalaxySetup
	if s.lobby.GalaxySetup.Seed == "" {
		s.lobby.GalaxySetup.Seed = fmt.Sprintf("%d", s.random.Int63())
	}
	if len(setup.Rules) > 0 {
		s.lobby.Rules = setup.Rules
	}
	if setup.SaveGameID != "" {
		meta, data, err := s.storage.GetSaveGame(context.Background(), setup.SaveGameID)
		if err != nil {
			s.logger.Error("single-player save load failed", slog.String("error", err.Error()))
			if st.hostSession != nil {
				s.sendError(st.hostSession, protocol.ErrCodeInternal, "could not load save game", true)
				st.hostSession.Close()
			}
			return
		}
		s.pendingSave = &pendingSave{meta: meta, data: data}
		s.lobby.NewGame = false
		s.lobby.SaveGameID = setup.SaveGameID
	}

	name := setup.PlayerName
	if name == "" {
		name = "Player"
	}
	id, err := s.finishEstablish(st.hostSession, name, model.ClientTypeHumanPlayer, setup.Version,
		hostRoles(model.ClientTypeHumanPlayer), false)
	if err != nil {
		s.logger.Error("single-player host establish failed", slog.String("error", err.Error()))
		st.hostSession.Close()
		return
	}
	s.registry.SetHost(id)
	s.lobbyCtl.AddPlayer(s.lobby, id, name, model.ClientTypeHumanPlayer, false)
	s.lobby.Row(id).Ready = true

	for i := 1; i <= setup.AICount; i++ {
		aiName, err := s.lobbyCtl.UniquePlayerName(s.lobby, fmt.Sprintf("AI_%d", i), setup.AICount+1)
		if err != nil {
			break
		}
		s.lobbyCtl.AddPlayer(s.lobby, model.InvalidPlayerID, aiName, model.ClientTypeAIPlayer, false)
	}
	if s.pendingSave != nil {
		s.lobbyCtl.AssignSaveEmpires(s.lobby, s.pendingSave.meta)
	}
	s.lobby.InProgress = true
}

// spawnAIs launches one worker per AI roster row that has no process yet
func (st *stateWaitingForJoiners) spawnAIs(s *Server) {
	if s.lobby == nil {
		return
	}
	addr := s.cfg.ListenAddr
	if s.listener != nil {
		addr = s.listener.Addr().String()
	}
	for i := range s.lobby.Players {
		row := &s.lobby.Players[i]
		if row.ClientType != model.ClientTypeAIPlayer || s.ai.Expected(row.PlayerName) {
			continue
		}
		if err := s.ai.Spawn(row.PlayerName, addr, s.lobby.GalaxySetup.MaxAIAggression); err != nil {
			s.logger.Error("AI spawn failed",
				slog.String("player", row.PlayerName),
				slog.String("error", err.Error()))
		}
	}
}

func (st *stateWaitingForJoiners) handle(s *Server, ev event) (state, bool) {
	switch e := ev.(type) {
	case disconnectionEvent:
		return st.handleDisconnect(s, e.session), true

	case messageEvent:
		switch e.msg.Type {
		case protocol.TypeJoinGame:
			var payload protocol.JoinGamePayload
			if err := e.msg.Decode(&payload); err != nil {
				e.session.Close()
				return nil, true
			}
			if s.beginJoin(e.session, &payload, st.establisher(s)) == joinEstablished {
				return st.checkStartConditions(s), true
			}
			return nil, true

		case protocol.TypeAuthResponse:
			var payload protocol.AuthResponsePayload
			if err := e.msg.Decode(&payload); err != nil {
				e.session.Close()
				return nil, true
			}
			if s.resumeJoin(e.session, &payload, st.establisher(s)) == joinEstablished {
				return st.checkStartConditions(s), true
			}
			return nil, true

		case protocol.TypePlayerChat:
			if e.session.Established() {
				var payload protocol.PlayerChatPayload
				if err := e.msg.Decode(&payload); err == nil {
					s.relayChat(e.session, &payload)
				}
			}
			return nil, true
		}
	}
	return nil, false
}

// establisher validates joiners against the frozen roster
func (st *stateWaitingForJoiners) establisher(s *Server) func(*transport.Session, *protocol.JoinGamePayload, model.RoleSet, bool) bool {
	return func(sess *transport.Session, payload *protocol.JoinGamePayload, roles model.RoleSet, authenticated bool) bool {
		row := st.rosterRowFor(s, payload)
		if row == nil {
			if payload.ClientType == model.ClientTypeAIPlayer {
				s.logger.Warn("unexpected AI join rejected", slog.String("name", payload.PlayerName))
				s.sendError(sess, protocol.ErrCodeUnexpectedAI, "AI player not expected", true)
			} else {
				s.sendError(sess, protocol.ErrCodeClientTypeDenied, "game is starting, no seat available", true)
			}
			sess.Close()
			return false
		}
		id, err := s.finishEstablish(sess, row.PlayerName, payload.ClientType, payload.Version, roles, authenticated)
		if err != nil {
			s.logger.Warn("establish failed", slog.String("error", err.Error()))
			sess.Close()
			return false
		}
		row.PlayerID = id
		row.Authenticated = authenticated
		if payload.ClientType == model.ClientTypeAIPlayer {
			s.ai.MarkConnected(row.PlayerName)
		}
		return true
	}
}

// rosterRowFor matches a join request to a frozen roster row with no live
// session: exact name for AI players, name match for reconnecting humans
func (st *stateWaitingForJoiners) rosterRowFor(s *Server, payload *protocol.JoinGamePayload) *model.PlayerSetupData {
	if s.lobby == nil {
		return nil
	}
	for i := range s.lobby.Players {
		row := &s.lobby.Players[i]
		if row.PlayerName != payload.PlayerName || row.ClientType != payload.ClientType {
			continue
		}
		if payload.ClientType == model.ClientTypeAIPlayer && !s.ai.Expected(row.PlayerName) {
			return nil
		}
		if s.registry.FindByName(row.PlayerName) != nil {
			// Seat already taken by a live session
			return nil
		}
		return row
	}
	return nil
}

func (st *stateWaitingForJoiners) handleDisconnect(s *Server, sess *transport.Session) state {
	if !sess.Established() {
		return nil
	}
	t := sess.ClientType()
	if t == model.ClientTypeAIPlayer {
		s.ai.MarkDisconnected(sess.Name())
		s.logger.Warn("AI client dropped before start", slog.String("name", sess.Name()))
		if row := s.lobby.Row(sess.ID()); row != nil {
			row.PlayerID = model.InvalidPlayerID
		}
		return nil
	}

	// A departing human leaves the roster like a lobby leave
	if s.lobbyCtl.RemovePlayer(s.lobby, sess.ID()) {
		s.lobbyCtl.Revalidate(s.lobby)
	}
	if !s.cfg.Hostless && s.registry.HostID() == model.InvalidPlayerID {
		if !s.selectNewHost() {
			return &stateShuttingDown{reason: "all players left before start"}
		}
	}
	if s.lobby.CountType(model.ClientTypeHumanPlayer) < s.cfg.MinHumanPlayers && !s.cfg.Hostless {
		return &stateShuttingDown{reason: "too few human players to start"}
	}
	return st.checkStartConditions(s)
}

// checkStartConditions starts the game once every expected participant is
// established. When loading a save, human empires may stay unconnected up to
// the configured allowance.
func (st *stateWaitingForJoiners) checkStartConditions(s *Server) state {
	if s.lobby == nil || len(s.lobby.Players) == 0 {
		return nil
	}
	unconnectedHumans := 0
	connectedHumans := 0
	for i := range s.lobby.Players {
		row := &s.lobby.Players[i]
		live := s.registry.FindByName(row.PlayerName)
		if live == nil {
			if row.ClientType == model.ClientTypeHumanPlayer && s.pendingSave != nil {
				unconnectedHumans++
				continue
			}
			return nil
		}
		if row.ClientType == model.ClientTypeHumanPlayer {
			connectedHumans++
		}
	}
	if s.pendingSave != nil {
		if unconnectedHumans > s.cfg.MaxUnconnectedHumanEmpires {
			return nil
		}
		if connectedHumans < s.cfg.MinConnectedHumanEmpires {
			return nil
		}
	}
	return st.startGame(s)
}

// startGame hands the roster to the simulation engine and enters play
func (st *stateWaitingForJoiners) startGame(s *Server) state {
	var setups []sim.EmpireSetup
	var setupRows []*model.PlayerSetupData
	for i := range s.lobby.Players {
		row := &s.lobby.Players[i]
		if !row.ClientType.ControlsEmpire() {
			continue
		}
		setups = append(setups, sim.EmpireSetup{
			PlayerName:       row.PlayerName,
			EmpireName:       row.EmpireName,
			EmpireColor:      row.EmpireColor,
			StartingSpecies:  row.StartingSpecies,
			Human:            row.ClientType == model.ClientTypeHumanPlayer,
			SaveGameEmpireID: row.SaveGameEmpireID,
		})
		setupRows = append(setupRows, row)
	}

	var info *sim.GameInfo
	var err error
	if s.pendingSave != nil {
		info, err = s.engine.LoadGame(s.pendingSave.data, setups)
	} else {
		info, err = s.engine.NewGame(s.lobby.GalaxySetup, s.lobby.Rules, setups)
	}
	if err != nil {
		s.logger.Error("game initialization failed", slog.String("error", err.Error()))
		s.registry.Broadcast(protocol.MustNew(protocol.TypeError, protocol.ErrorPayload{
			Code:         protocol.ErrCodeInternal,
			Message:      "game initialization failed",
			Fatal:        true,
			SourcePlayer: model.InvalidPlayerID,
		}))
		return &stateShuttingDown{reason: "game initialization failed"}
	}

	s.empires = make(map[model.EmpireID]*empireRecord)
	rowByEmpireName := make(map[string]*model.PlayerSetupData, len(setupRows))
	for _, row := range setupRows {
		rowByEmpireName[row.EmpireName] = row
	}
	for i, e := range info.Empires {
		rec := &empireRecord{info: e, playerID: model.InvalidPlayerID}
		if row, ok := rowByEmpireName[e.Name]; ok {
			rec.playerName = row.PlayerName
			rec.playerID = row.PlayerID
		} else if s.pendingSave == nil && i < len(setupRows) {
			rec.playerName = setupRows[i].PlayerName
			rec.playerID = setupRows[i].PlayerID
		}
		s.empires[e.ID] = rec
	}

	s.coordinator = turn.NewCoordinator(
		s.clock,
		s.cfg.TurnTimeout,
		s.cfg.FixedTurnInterval,
		s.cfg.AutosaveInterval,
		turn.Callbacks{
			StatusChanged: func(id model.EmpireID, status model.PlayerStatus) {
				s.registry.Broadcast(protocol.MustNew(protocol.TypePlayerStatus, protocol.PlayerStatusPayload{
					EmpireID: id,
					Status:   status,
				}))
			},
			TurnTimerExpired: func() { s.post(turnTimerEvent{}) },
			AutosaveDue:      func() { s.post(autosaveEvent{}) },
		},
		s.logger,
	)
	for id := range s.empires {
		s.coordinator.TrackEmpire(id)
		if s.engine.EmpireEliminated(id) {
			s.coordinator.Eliminate(id)
		}
	}

	for _, sess := range s.registry.Established() {
		sess.Send(protocol.MustNew(protocol.TypeGameStart, protocol.GameStartPayload{
			PlayerID:     sess.ID(),
			EmpireID:     s.empireFor(sess.ID()),
			CurrentTurn:  info.Turn,
			SinglePlayer: st.singlePlayer,
			StateData:    s.engine.StateFor(s.empireFor(sess.ID())),
		}))
	}
	s.pendingSave = nil

	return &statePlaying{}
}

// empireFor returns the empire controlled by the given player, or
// InvalidEmpireID for observers and moderators
func (s *Server) empireFor(id model.PlayerID) model.EmpireID {
	for eid, rec := range s.empires {
		if rec.playerID == id && id != model.InvalidPlayerID {
			return eid
		}
	}
	return model.InvalidEmpireID
}

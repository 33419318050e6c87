package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/starlane-games/starlane-server/internal/model"
	"github.com/starlane-games/starlane-server/internal/protocol"
	"github.com/starlane-games/starlane-server/internal/transport"
)

// playMode is the active substate of the playing super-state
type playMode int

const (
	modeWaitingForTurnEnd playMode = iota
	modeProcessingTurn
)

// statePlaying is the live-game super-state. It routes chat, diplomacy and
// moderator actions, tolerates reconnection into existing empires, and owns
// the turn coordinator. Turn order intake happens in the waiting substate;
// processing runs to completion before the next event is drained.
type statePlaying struct {
	mode   playMode
	orders map[model.EmpireID]json.RawMessage
}

func (st *statePlaying) name() string {
	if st.mode == modeProcessingTurn {
		return "playing_game/processing_turn"
	}
	return "playing_game/waiting_for_turn_end"
}

func (st *statePlaying) enter(s *Server) {
	st.mode = modeWaitingForTurnEnd
	st.orders = make(map[model.EmpireID]json.RawMessage)
	s.coordinator.BeginTurn()
}

func (st *statePlaying) exit(s *Server) {
	s.coordinator.EndTurn()
}

func (st *statePlaying) handle(s *Server, ev event) (state, bool) {
	switch e := ev.(type) {
	case disconnectionEvent:
		return st.handleDisconnect(s, e.session), true

	case turnTimerEvent:
		if st.mode != modeWaitingForTurnEnd {
			return nil, true
		}
		s.logger.Info("turn timer expired")
		return st.maybeAdvance(s, false, true), true

	case autosaveEvent:
		if st.mode == modeWaitingForTurnEnd {
			st.autosave(s, "autosave")
			s.coordinator.RearmAutosave()
		}
		return nil, true

	case messageEvent:
		return st.handleMessage(s, e)
	}
	return nil, false
}

func (st *statePlaying) handleMessage(s *Server, e messageEvent) (state, bool) {
	switch e.msg.Type {
	case protocol.TypeTurnOrders:
		return st.handleTurnOrders(s, e), true
	case protocol.TypeTurnPartialOrders:
		st.handlePartialOrders(s, e)
		return nil, true
	case protocol.TypeRevertOrders:
		if empire, ok := st.senderEmpire(s, e.session); ok {
			delete(st.orders, empire)
			s.coordinator.RevokeReady(empire)
		}
		return nil, true
	case protocol.TypeRevokeReadiness:
		if empire, ok := st.senderEmpire(s, e.session); ok {
			s.coordinator.RevokeReady(empire)
		}
		return nil, true
	case protocol.TypeAutoTurn:
		st.handleAutoTurn(s, e)
		return st.maybeAdvance(s, false, false), true
	case protocol.TypeEliminateSelf:
		st.handleEliminateSelf(s, e)
		return st.maybeAdvance(s, false, false), true
	case protocol.TypePlayerChat:
		if e.session.Established() {
			var payload protocol.PlayerChatPayload
			if err := e.msg.Decode(&payload); err == nil {
				s.relayChat(e.session, &payload)
			}
		}
		return nil, true
	case protocol.TypeDiplomacy:
		st.handleDiplomacy(s, e)
		return nil, true
	case protocol.TypeModeratorAction:
		return st.handleModeratorAction(s, e), true
	case protocol.TypeSaveGameRequest:
		st.handleSaveRequest(s, e)
		return nil, true
	case protocol.TypeJoinGame:
		var payload protocol.JoinGamePayload
		if err := e.msg.Decode(&payload); err != nil {
			e.session.Close()
			return nil, true
		}
		s.beginJoin(e.session, &payload, st.establisher(s))
		return nil, true
	case protocol.TypeAuthResponse:
		var payload protocol.AuthResponsePayload
		if err := e.msg.Decode(&payload); err != nil {
			e.session.Close()
			return nil, true
		}
		s.resumeJoin(e.session, &payload, st.establisher(s))
		return nil, true
	}
	return nil, false
}

// senderEmpire resolves the empire an established, empire-controlling
// session plays. Observers, moderators and unestablished sessions get no
// empire.
func (st *statePlaying) senderEmpire(s *Server, sess *transport.Session) (model.EmpireID, bool) {
	if !sess.Established() || !sess.ClientType().ControlsEmpire() {
		return model.InvalidEmpireID, false
	}
	empire := s.empireFor(sess.ID())
	if empire == model.InvalidEmpireID {
		return model.InvalidEmpireID, false
	}
	return empire, true
}

func (st *statePlaying) handleTurnOrders(s *Server, e messageEvent) state {
	if st.mode != modeWaitingForTurnEnd {
		return nil
	}
	var payload protocol.TurnOrdersPayload
	if err := e.msg.Decode(&payload); err != nil {
		s.logger.Warn("bad turn orders", slog.String("error", err.Error()))
		return nil
	}
	empire, ok := st.senderEmpire(s, e.session)
	if !ok {
		s.sendError(e.session, protocol.ErrCodeWrongEmpire, "session controls no empire", false)
		return nil
	}
	if payload.EmpireID != empire {
		s.sendError(e.session, protocol.ErrCodeWrongEmpire,
			fmt.Sprintf("orders for empire %d from the player of empire %d", payload.EmpireID, empire), false)
		return nil
	}
	if s.coordinator.Eliminated(empire) {
		return nil
	}
	st.orders[empire] = payload.Orders
	s.coordinator.SetReady(empire)
	return st.maybeAdvance(s, false, false)
}

func (st *statePlaying) handlePartialOrders(s *Server, e messageEvent) {
	if st.mode != modeWaitingForTurnEnd {
		return
	}
	var payload protocol.TurnPartialOrdersPayload
	if err := e.msg.Decode(&payload); err != nil {
		return
	}
	empire, ok := st.senderEmpire(s, e.session)
	if !ok || payload.EmpireID != empire {
		s.sendError(e.session, protocol.ErrCodeWrongEmpire, "partial orders for another empire", false)
		return
	}
	if s.coordinator.Eliminated(empire) {
		return
	}
	// Partial updates refresh the stored orders without readiness
	if len(payload.Added) > 0 {
		st.orders[empire] = payload.Added
	}
}

func (st *statePlaying) handleAutoTurn(s *Server, e messageEvent) {
	var payload protocol.AutoTurnPayload
	if err := e.msg.Decode(&payload); err != nil {
		return
	}
	empire, ok := st.senderEmpire(s, e.session)
	if !ok {
		return
	}
	s.coordinator.SetAutoTurns(empire, payload.Count)
	if payload.Count != 0 && st.mode == modeWaitingForTurnEnd {
		// The counter applies from the next turn; this one is readied now
		s.coordinator.SetReady(empire)
	}
}

func (st *statePlaying) handleEliminateSelf(s *Server, e messageEvent) {
	empire, ok := st.senderEmpire(s, e.session)
	if !ok {
		return
	}
	s.logger.Info("empire resigned",
		slog.Int("empire", int(empire)),
		slog.String("player", e.session.Name()))
	s.coordinator.Eliminate(empire)
	delete(st.orders, empire)
	s.registry.Broadcast(protocol.MustNew(protocol.TypePlayerStatus, protocol.PlayerStatusPayload{
		EmpireID: empire,
		Status:   model.StatusWaiting,
	}))
	e.session.Send(protocol.MustNew(protocol.TypeEndGame, protocol.EndGamePayload{Reason: "resigned"}))
	e.session.Close()
}

func (st *statePlaying) handleDiplomacy(s *Server, e messageEvent) {
	if !e.session.Established() {
		return
	}
	var payload protocol.DiplomacyPayload
	if err := e.msg.Decode(&payload); err != nil {
		return
	}
	empire, ok := st.senderEmpire(s, e.session)
	if !ok || payload.Sender != empire {
		return
	}
	out := protocol.MustNew(protocol.TypeDiplomacy, payload)
	if payload.Recipient == model.AllEmpires {
		for id, rec := range s.empires {
			if id == empire || rec.playerID == model.InvalidPlayerID {
				continue
			}
			if sess := s.registry.Find(rec.playerID); sess != nil {
				sess.Send(out)
			}
		}
		return
	}
	if rec, found := s.empires[payload.Recipient]; found && rec.playerID != model.InvalidPlayerID {
		if sess := s.registry.Find(rec.playerID); sess != nil {
			sess.Send(out)
		}
	}
}

func (st *statePlaying) handleModeratorAction(s *Server, e messageEvent) state {
	if !e.session.Established() || e.session.ClientType() != model.ClientTypeHumanModerator {
		s.sendError(e.session, protocol.ErrCodeClientTypeDenied, "moderator actions require a moderator session", false)
		return nil
	}
	var payload protocol.ModeratorActionPayload
	if err := e.msg.Decode(&payload); err != nil {
		return nil
	}
	if payload.Action == protocol.ModeratorActionEndTurn {
		s.logger.Info("moderator ended turn", slog.String("moderator", e.session.Name()))
		return st.maybeAdvance(s, true, false)
	}
	// Other moderator actions belong to the simulation; the orchestration
	// layer only transports them
	s.logger.Debug("moderator action ignored by orchestration",
		slog.String("action", payload.Action))
	return nil
}

func (st *statePlaying) handleSaveRequest(s *Server, e messageEvent) {
	if !e.session.Established() || !s.registry.IsHost(e.session.ID()) {
		s.sendError(e.session, protocol.ErrCodeNotLobbyHost, "only the host may request a save", false)
		return
	}
	var payload protocol.SaveGameRequestPayload
	if err := e.msg.Decode(&payload); err != nil {
		return
	}
	name := payload.GameName
	if name == "" {
		name = s.lobby.GalaxySetup.GameName
	}
	st.autosave(s, name)
}

// establisher handles reconnection into an existing empire, plus late
// observers and moderators
func (st *statePlaying) establisher(s *Server) func(*transport.Session, *protocol.JoinGamePayload, model.RoleSet, bool) bool {
	return func(sess *transport.Session, payload *protocol.JoinGamePayload, roles model.RoleSet, authenticated bool) bool {
		switch payload.ClientType {
		case model.ClientTypeHumanPlayer, model.ClientTypeAIPlayer:
			rec := st.vacantEmpireFor(s, payload.PlayerName)
			if rec == nil {
				s.sendError(sess, protocol.ErrCodeClientTypeDenied, "no empire to rejoin", true)
				sess.Close()
				return false
			}
			id, err := s.finishEstablish(sess, payload.PlayerName, payload.ClientType, payload.Version, roles, authenticated)
			if err != nil {
				sess.Close()
				return false
			}
			rec.playerID = id
			empireID := s.empireFor(id)
			sess.Send(protocol.MustNew(protocol.TypeGameStart, protocol.GameStartPayload{
				PlayerID:     id,
				EmpireID:     empireID,
				CurrentTurn:  s.engine.CurrentTurn(),
				SinglePlayer: s.singlePlayer,
				StateData:    s.engine.StateFor(empireID),
			}))
			s.logger.Info("player reconnected into empire",
				slog.Int("player", int(id)),
				slog.Int("empire", int(empireID)))
			return true

		case model.ClientTypeHumanObserver, model.ClientTypeHumanModerator:
			name := payload.PlayerName
			for suffix := 2; s.registry.FindByName(name) != nil; suffix++ {
				name = fmt.Sprintf("%s%d", payload.PlayerName, suffix)
			}
			id, err := s.finishEstablish(sess, name, payload.ClientType, payload.Version, roles, authenticated)
			if err != nil {
				sess.Close()
				return false
			}
			sess.Send(protocol.MustNew(protocol.TypeGameStart, protocol.GameStartPayload{
				PlayerID:     id,
				EmpireID:     model.InvalidEmpireID,
				CurrentTurn:  s.engine.CurrentTurn(),
				SinglePlayer: s.singlePlayer,
				StateData:    s.engine.StateFor(model.InvalidEmpireID),
			}))
			return true
		}
		sess.Close()
		return false
	}
}

// vacantEmpireFor finds the empire record a reconnecting player may claim:
// matching stored player name with no live session controlling it
func (st *statePlaying) vacantEmpireFor(s *Server, playerName string) *empireRecord {
	for _, rec := range s.empires {
		if rec.playerName != playerName {
			continue
		}
		if rec.playerID != model.InvalidPlayerID && s.registry.Find(rec.playerID) != nil {
			return nil
		}
		return rec
	}
	return nil
}

func (st *statePlaying) handleDisconnect(s *Server, sess *transport.Session) state {
	if !sess.Established() {
		return nil
	}
	var rec *empireRecord
	for _, r := range s.empires {
		if r.playerID == sess.ID() {
			rec = r
			break
		}
	}
	if rec != nil {
		rec.playerID = model.InvalidPlayerID
	}

	if sess.ClientType() == model.ClientTypeAIPlayer {
		s.ai.MarkDisconnected(sess.Name())
		if rec != nil && !s.coordinator.Eliminated(rec.info.ID) {
			// An AI abandoning a live empire is unrecoverable
			s.logger.Error("AI client abandoned live empire", slog.String("name", sess.Name()))
			st.fatal(s, "AI player lost")
			return &stateShuttingDown{reason: "AI player lost"}
		}
		return nil
	}

	if !s.cfg.Hostless && s.registry.HostID() == model.InvalidPlayerID {
		s.selectNewHost()
	}

	if st.connectedHumanEmpires(s) < s.cfg.MinConnectedHumanEmpires {
		s.logger.Error("too few connected human empires, shutting down")
		if s.cfg.Hostless && s.cfg.HostlessAutosave {
			st.autosave(s, "autosave")
		}
		st.fatal(s, "too few players remain")
		return &stateShuttingDown{reason: "too few players remain"}
	}
	return nil
}

// connectedHumanEmpires counts live, non-eliminated human empires with a
// connected session
func (st *statePlaying) connectedHumanEmpires(s *Server) int {
	n := 0
	for id, rec := range s.empires {
		if !rec.info.Human || s.coordinator.Eliminated(id) {
			continue
		}
		if rec.playerID != model.InvalidPlayerID && s.registry.Find(rec.playerID) != nil {
			n++
		}
	}
	return n
}

func (st *statePlaying) fatal(s *Server, reason string) {
	s.registry.Broadcast(protocol.MustNew(protocol.TypeError, protocol.ErrorPayload{
		Code:         protocol.ErrCodeInternal,
		Message:      reason,
		Fatal:        true,
		SourcePlayer: model.InvalidPlayerID,
	}))
}

// maybeAdvance runs the turn-end predicate and processes the turn when it
// passes
func (st *statePlaying) maybeAdvance(s *Server, moderatorEnded, timerFired bool) state {
	if st.mode != modeWaitingForTurnEnd {
		return nil
	}
	if !s.coordinator.ShouldAdvance(s.registry.ModeratorsPresent(), moderatorEnded, timerFired) {
		return nil
	}
	return st.processTurn(s)
}

// processTurn runs the opaque simulation call and re-enters the waiting
// substate for the next turn
func (st *statePlaying) processTurn(s *Server) state {
	st.mode = modeProcessingTurn
	s.coordinator.EndTurn()
	s.logger.Info("processing turn", slog.Int("turn", s.engine.CurrentTurn()))

	result, err := s.engine.ProcessTurn(st.orders)
	if err != nil {
		s.logger.Error("turn processing failed", slog.String("error", err.Error()))
		st.fatal(s, "turn processing failed")
		return &stateShuttingDown{reason: "turn processing failed"}
	}
	for _, id := range result.Eliminated {
		s.coordinator.Eliminate(id)
		s.registry.Broadcast(protocol.MustNew(protocol.TypePlayerStatus, protocol.PlayerStatusPayload{
			EmpireID: id,
			Status:   model.StatusWaiting,
		}))
	}

	for _, sess := range s.registry.Established() {
		sess.Send(protocol.MustNew(protocol.TypeTurnUpdate, protocol.TurnUpdatePayload{
			Turn:      result.Turn,
			StateData: s.engine.StateFor(s.empireFor(sess.ID())),
		}))
	}

	if s.cfg.Hostless && s.cfg.HostlessAutosave {
		st.autosave(s, "autosave")
	}

	st.orders = make(map[model.EmpireID]json.RawMessage)
	st.mode = modeWaitingForTurnEnd
	s.coordinator.BeginTurn()
	return nil
}

// autosave snapshots the game into storage
func (st *statePlaying) autosave(s *Server, name string) {
	data, err := s.engine.Snapshot()
	if err != nil {
		s.logger.Error("snapshot failed", slog.String("error", err.Error()))
		return
	}
	var empireNames []string
	var empireIDs []model.EmpireID
	for id, rec := range s.empires {
		empireNames = append(empireNames, rec.info.Name)
		empireIDs = append(empireIDs, id)
	}
	meta := &model.SaveGameMetadata{
		ID:          uuid.NewString(),
		GameName:    name,
		Turn:        s.engine.CurrentTurn(),
		SavedAt:     s.clock.Now().Unix(),
		EmpireNames: empireNames,
		EmpireIDs:   empireIDs,
	}
	if err := s.storage.SaveGame(context.Background(), meta, data); err != nil {
		s.logger.Error("save failed", slog.String("error", err.Error()))
		return
	}
	s.logger.Info("game saved", slog.String("save", meta.ID), slog.Int("turn", meta.Turn))
	s.registry.Broadcast(protocol.MustNew(protocol.TypeSaveGameComplete, protocol.SaveGameCompletePayload{
		SaveID: meta.ID,
		Turn:   meta.Turn,
	}))
}

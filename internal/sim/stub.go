package sim

import (
	"encoding/json"
	"fmt"

	"github.com/starlane-games/starlane-server/internal/model"
)

// Stub is a trivial Engine that tracks turn numbers and empire rosters
// without simulating anything. It backs the server when no real engine is
// linked, and the game flow tests.
type Stub struct {
	turn       int
	empires    []EmpireInfo
	eliminated map[model.EmpireID]bool
	nextID     model.EmpireID
}

var _ Engine = (*Stub)(nil)

// NewStub creates an empty stub engine
func NewStub() *Stub {
	return &Stub{eliminated: make(map[model.EmpireID]bool), nextID: 1}
}

type stubSnapshot struct {
	Turn    int          `json:"turn"`
	Empires []EmpireInfo `json:"empires"`
}

// NewGame assigns sequential empire ids and starts at turn 1
func (s *Stub) NewGame(setup model.GalaxySetup, rules model.GameRules, empires []EmpireSetup) (*GameInfo, error) {
	s.turn = 1
	s.empires = nil
	s.eliminated = make(map[model.EmpireID]bool)
	for _, e := range empires {
		s.empires = append(s.empires, EmpireInfo{ID: s.nextID, Name: e.EmpireName, Human: e.Human})
		s.nextID++
	}
	return &GameInfo{Turn: s.turn, Empires: append([]EmpireInfo(nil), s.empires...)}, nil
}

// LoadGame restores a stub snapshot
func (s *Stub) LoadGame(data []byte, empires []EmpireSetup) (*GameInfo, error) {
	var snap stubSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode save: %w", err)
	}
	s.turn = snap.Turn
	s.empires = snap.Empires
	s.eliminated = make(map[model.EmpireID]bool)
	for _, e := range s.empires {
		if e.ID >= s.nextID {
			s.nextID = e.ID + 1
		}
	}
	return &GameInfo{Turn: s.turn, Empires: append([]EmpireInfo(nil), s.empires...)}, nil
}

// ProcessTurn advances the turn counter
func (s *Stub) ProcessTurn(orders map[model.EmpireID]json.RawMessage) (*TurnResult, error) {
	s.turn++
	return &TurnResult{Turn: s.turn}, nil
}

// StateFor returns a minimal per-empire payload
func (s *Stub) StateFor(id model.EmpireID) json.RawMessage {
	data, _ := json.Marshal(map[string]any{"turn": s.turn, "empire": id})
	return data
}

// Snapshot serializes the stub state
func (s *Stub) Snapshot() ([]byte, error) {
	return json.Marshal(stubSnapshot{Turn: s.turn, Empires: s.empires})
}

// CurrentTurn returns the turn counter
func (s *Stub) CurrentTurn() int { return s.turn }

// EmpireEliminated reports a recorded elimination
func (s *Stub) EmpireEliminated(id model.EmpireID) bool { return s.eliminated[id] }

// Eliminate records an elimination (test hook)
func (s *Stub) Eliminate(id model.EmpireID) { s.eliminated[id] = true }

// Empires returns the live roster (test hook)
func (s *Stub) Empires() []EmpireInfo { return append([]EmpireInfo(nil), s.empires...) }

// Package sim defines the narrow capability interface through which the
// orchestration layer drives the game simulation. Combat resolution, turn
// effects and galaxy generation live behind it; the server only starts
// games, feeds orders in, and stores the opaque snapshots that come out.
package sim

import (
	"encoding/json"

	"github.com/starlane-games/starlane-server/internal/model"
)

// EmpireSetup describes one empire to create for a new game
type EmpireSetup struct {
	PlayerName      string
	EmpireName      string
	EmpireColor     model.EmpireColor
	StartingSpecies string
	Human           bool
	// SaveGameEmpireID claims an existing empire when loading; NoSaveGameEmpire
	// requests a fresh one
	SaveGameEmpireID model.EmpireID
}

// EmpireInfo identifies one live empire in a running game
type EmpireInfo struct {
	ID    model.EmpireID
	Name  string
	Human bool
}

// GameInfo is the engine's answer to game creation or load
type GameInfo struct {
	Turn    int
	Empires []EmpireInfo
}

// TurnResult reports the outcome of processing one turn
type TurnResult struct {
	Turn       int
	Eliminated []model.EmpireID
}

// Engine is implemented by the game simulation. All calls are synchronous
// and are only made from the reactor goroutine, outside the steady-state
// message path.
type Engine interface {
	// NewGame generates a fresh game for the given setup
	NewGame(setup model.GalaxySetup, rules model.GameRules, empires []EmpireSetup) (*GameInfo, error)

	// LoadGame restores a game from an opaque save snapshot
	LoadGame(data []byte, empires []EmpireSetup) (*GameInfo, error)

	// ProcessTurn runs pre-combat, combat and post-combat for the submitted
	// orders and returns the new turn number and any eliminations
	ProcessTurn(orders map[model.EmpireID]json.RawMessage) (*TurnResult, error)

	// StateFor renders the opaque per-empire state payload sent with game
	// start and turn updates
	StateFor(id model.EmpireID) json.RawMessage

	// Snapshot serializes the full game into an opaque save payload
	Snapshot() ([]byte, error)

	// CurrentTurn returns the current turn number
	CurrentTurn() int

	// EmpireEliminated reports whether the empire is out of the game
	EmpireEliminated(id model.EmpireID) bool
}

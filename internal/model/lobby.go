package model

// EmpireColor is an RGBA color assigned to an empire in the lobby
type EmpireColor struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
	A uint8 `json:"a"`
}

// NoSaveGameEmpire marks a roster row that starts a fresh empire rather than
// claiming one from a loaded save
const NoSaveGameEmpire EmpireID = -1

// PlayerSetupData is one row of the lobby roster
type PlayerSetupData struct {
	PlayerID         PlayerID    `json:"player_id"`
	PlayerName       string      `json:"player_name"`
	EmpireName       string      `json:"empire_name"`
	EmpireColor      EmpireColor `json:"empire_color"`
	ClientType       ClientType  `json:"client_type"`
	StartingSpecies  string      `json:"starting_species"`
	SaveGameEmpireID EmpireID    `json:"save_game_empire_id"`
	Ready            bool        `json:"ready"`
	Authenticated    bool        `json:"authenticated"`
}

// GalaxyShape enumerates the generator's layout options
type GalaxyShape string

const (
	ShapeSpiral2    GalaxyShape = "spiral2"
	ShapeSpiral3    GalaxyShape = "spiral3"
	ShapeSpiral4    GalaxyShape = "spiral4"
	ShapeCluster    GalaxyShape = "cluster"
	ShapeElliptical GalaxyShape = "elliptical"
	ShapeDisc       GalaxyShape = "disc"
	ShapeBox        GalaxyShape = "box"
	ShapeIrregular  GalaxyShape = "irregular"
	ShapeRing       GalaxyShape = "ring"
	ShapeRandom     GalaxyShape = "random"
)

// Frequency is a coarse abundance setting for generated content
type Frequency string

const (
	FreqNone   Frequency = "none"
	FreqLow    Frequency = "low"
	FreqMedium Frequency = "medium"
	FreqHigh   Frequency = "high"
	FreqRandom Frequency = "random"
)

// GalaxySetup holds the generation parameters agreed in the lobby. The
// orchestration layer treats these as opaque settings handed to the
// simulation engine.
type GalaxySetup struct {
	Seed            string      `json:"seed"`
	Size            int         `json:"size"`
	Shape           GalaxyShape `json:"shape"`
	Age             Frequency   `json:"age"`
	StarlaneFreq    Frequency   `json:"starlane_freq"`
	PlanetDensity   Frequency   `json:"planet_density"`
	SpecialsFreq    Frequency   `json:"specials_freq"`
	MonsterFreq     Frequency   `json:"monster_freq"`
	NativeFreq      Frequency   `json:"native_freq"`
	MaxAIAggression int         `json:"max_ai_aggression"`
	GameName        string      `json:"game_name"`
}

// DefaultGalaxySetup returns the setup a fresh lobby starts from
func DefaultGalaxySetup() GalaxySetup {
	return GalaxySetup{
		Size:          150,
		Shape:         ShapeDisc,
		Age:           FreqMedium,
		StarlaneFreq:  FreqMedium,
		PlanetDensity: FreqMedium,
		SpecialsFreq:  FreqMedium,
		MonsterFreq:   FreqMedium,
		NativeFreq:    FreqMedium,
	}
}

// GameRules is the set of rule overrides agreed in the lobby, opaque to the
// orchestration layer
type GameRules map[string]string

// LobbyData is the shared mutable lobby state: the ordered roster plus the
// agreed galaxy setup and rule overrides. It is created on entry to the
// multiplayer lobby and consumed when play starts.
type LobbyData struct {
	Players        []PlayerSetupData `json:"players"`
	GalaxySetup    GalaxySetup       `json:"galaxy_setup"`
	Rules          GameRules         `json:"rules"`
	SaveGameID     string            `json:"save_game_id,omitempty"`
	NewGame        bool              `json:"new_game"`
	StartLocked    bool              `json:"start_locked"`
	StartLockCause string            `json:"start_lock_cause,omitempty"`
	AnyCanEdit     bool              `json:"any_can_edit"`
	InProgress     bool              `json:"in_progress"`
}

// NewLobbyData returns an empty lobby for a new game
func NewLobbyData() *LobbyData {
	return &LobbyData{
		GalaxySetup: DefaultGalaxySetup(),
		Rules:       GameRules{},
		NewGame:     true,
	}
}

// Row returns the roster row for the given player id, or nil
func (l *LobbyData) Row(id PlayerID) *PlayerSetupData {
	for i := range l.Players {
		if l.Players[i].PlayerID == id {
			return &l.Players[i]
		}
	}
	return nil
}

// RemoveRow deletes the roster row for the given player id, preserving order.
// It reports whether a row was removed.
func (l *LobbyData) RemoveRow(id PlayerID) bool {
	for i := range l.Players {
		if l.Players[i].PlayerID == id {
			l.Players = append(l.Players[:i], l.Players[i+1:]...)
			return true
		}
	}
	return false
}

// CountType returns the number of roster rows with the given client type
func (l *LobbyData) CountType(t ClientType) int {
	n := 0
	for i := range l.Players {
		if l.Players[i].ClientType == t {
			n++
		}
	}
	return n
}

// SaveGameMetadata describes one stored save for the lobby's load-game list
type SaveGameMetadata struct {
	ID          string     `json:"id"`
	GameName    string     `json:"game_name"`
	Turn        int        `json:"turn"`
	SavedAt     int64      `json:"saved_at"`
	EmpireNames []string   `json:"empire_names"`
	EmpireIDs   []EmpireID `json:"empire_ids"`
}

package model

// PlayerID uniquely identifies a connected participant for the lifetime of
// the server. Ids are assigned by the session registry and never reused
// within a run.
type PlayerID int32

// InvalidPlayerID marks a session that has not been established yet
const InvalidPlayerID PlayerID = -1

// EmpireID identifies an in-game empire. The simulation engine owns empire
// semantics; the orchestration layer only routes by id.
type EmpireID int32

// InvalidEmpireID marks "no empire", e.g. observers and moderators
const InvalidEmpireID EmpireID = -1

// AllEmpires addresses every empire, e.g. a diplomacy declaration to all
const AllEmpires EmpireID = -2

// ClientType distinguishes the kinds of participant a session can represent
type ClientType int

const (
	ClientTypeInvalid ClientType = iota
	ClientTypeHumanPlayer
	ClientTypeHumanObserver
	ClientTypeHumanModerator
	ClientTypeAIPlayer
)

// String returns a human-readable client type name
func (t ClientType) String() string {
	switch t {
	case ClientTypeHumanPlayer:
		return "human_player"
	case ClientTypeHumanObserver:
		return "human_observer"
	case ClientTypeHumanModerator:
		return "human_moderator"
	case ClientTypeAIPlayer:
		return "ai_player"
	default:
		return "invalid"
	}
}

// Valid reports whether the client type is one of the concrete participant kinds
func (t ClientType) Valid() bool {
	return t == ClientTypeHumanPlayer || t == ClientTypeHumanObserver ||
		t == ClientTypeHumanModerator || t == ClientTypeAIPlayer
}

// IsHuman reports whether the client type is operated by a person
func (t ClientType) IsHuman() bool {
	return t == ClientTypeHumanPlayer || t == ClientTypeHumanObserver || t == ClientTypeHumanModerator
}

// ControlsEmpire reports whether sessions of this type play an empire
func (t ClientType) ControlsEmpire() bool {
	return t == ClientTypeHumanPlayer || t == ClientTypeAIPlayer
}

// Role is a capability flag granted to a session
type Role uint8

const (
	// RoleHost marks the privileged host session
	RoleHost Role = 1 << iota
	// RolePlayer permits controlling an empire
	RolePlayer
	// RoleObserver permits read-only game state
	RoleObserver
	// RoleModerator permits forced turn-end and game actions
	RoleModerator
	// RoleGalaxySetup permits editing galaxy setup in the lobby
	RoleGalaxySetup
)

// RoleSet is a bitmask of capability flags
type RoleSet uint8

// Has reports whether the set contains the role
func (s RoleSet) Has(r Role) bool { return s&RoleSet(r) != 0 }

// With returns the set extended with the role
func (s RoleSet) With(r Role) RoleSet { return s | RoleSet(r) }

// Without returns the set with the role removed
func (s RoleSet) Without(r Role) RoleSet { return s &^ RoleSet(r) }

// RolesFor returns the default capability set for a client type. The host
// role is granted separately by the registry.
func RolesFor(t ClientType) RoleSet {
	switch t {
	case ClientTypeHumanPlayer, ClientTypeAIPlayer:
		return RoleSet(RolePlayer)
	case ClientTypeHumanObserver:
		return RoleSet(RoleObserver)
	case ClientTypeHumanModerator:
		return RoleSet(RoleObserver).With(RoleModerator)
	default:
		return 0
	}
}

// PlayerStatus is the per-empire turn progress broadcast to clients
type PlayerStatus string

const (
	StatusPlayingTurn PlayerStatus = "playing_turn"
	StatusWaiting     PlayerStatus = "waiting"
)

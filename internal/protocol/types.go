package protocol

import (
	"encoding/json"

	"github.com/starlane-games/starlane-server/internal/model"
)

// Message type constants. Values are part of the wire protocol; append only.
const (
	TypeError MessageType = iota + 1
	TypeHostSPGame
	TypeHostMPGame
	TypeJoinGame
	TypeJoinAck
	TypeHostID
	TypeAuthRequest
	TypeAuthResponse
	TypeLobbyUpdate
	TypeLobbyExit
	TypeStartMPGame
	TypeGameStart
	TypeTurnOrders
	TypeTurnPartialOrders
	TypeRevertOrders
	TypeRevokeReadiness
	TypeTurnUpdate
	TypePlayerStatus
	TypePlayerChat
	TypeDiplomacy
	TypeModeratorAction
	TypeEliminateSelf
	TypeAutoTurn
	TypeSaveGameRequest
	TypeSaveGameComplete
	TypeEndGame
	TypeAIEndGameAck
	TypeShutdownServer
)

// String returns the message type's protocol name
func (t MessageType) String() string {
	names := map[MessageType]string{
		TypeError:             "error",
		TypeHostSPGame:        "host_sp_game",
		TypeHostMPGame:        "host_mp_game",
		TypeJoinGame:          "join_game",
		TypeJoinAck:           "join_ack",
		TypeHostID:            "host_id",
		TypeAuthRequest:       "auth_request",
		TypeAuthResponse:      "auth_response",
		TypeLobbyUpdate:       "lobby_update",
		TypeLobbyExit:         "lobby_exit",
		TypeStartMPGame:       "start_mp_game",
		TypeGameStart:         "game_start",
		TypeTurnOrders:        "turn_orders",
		TypeTurnPartialOrders: "turn_partial_orders",
		TypeRevertOrders:      "revert_orders",
		TypeRevokeReadiness:   "revoke_readiness",
		TypeTurnUpdate:        "turn_update",
		TypePlayerStatus:      "player_status",
		TypePlayerChat:        "player_chat",
		TypeDiplomacy:         "diplomacy",
		TypeModeratorAction:   "moderator_action",
		TypeEliminateSelf:     "eliminate_self",
		TypeAutoTurn:          "auto_turn",
		TypeSaveGameRequest:   "save_game_request",
		TypeSaveGameComplete:  "save_game_complete",
		TypeEndGame:           "end_game",
		TypeAIEndGameAck:      "ai_end_game_ack",
		TypeShutdownServer:    "shutdown_server",
	}
	if name, ok := names[t]; ok {
		return name
	}
	return "unknown"
}

// Error codes carried by TypeError messages
const (
	ErrCodeInternal         = "internal_error"
	ErrCodeAuthFailed       = "auth_failed"
	ErrCodeNotLobbyHost     = "not_lobby_host"
	ErrCodeClientTypeDenied = "client_type_denied"
	ErrCodeWrongEmpire      = "orders_for_wrong_empire"
	ErrCodeServerFull       = "server_full"
	ErrCodeUnexpectedAI     = "unexpected_ai_player"
	ErrCodeShuttingDown     = "server_shutting_down"
)

// ErrorPayload reports a recoverable or fatal error to a client
type ErrorPayload struct {
	Code         string         `json:"code"`
	Message      string         `json:"message,omitempty"`
	Fatal        bool           `json:"fatal"`
	SourcePlayer model.PlayerID `json:"source_player"`
}

// HostMPGamePayload claims multiplayer hosting for the sending connection
type HostMPGamePayload struct {
	PlayerName string `json:"player_name"`
	Version    string `json:"version"`
	Cookie     string `json:"cookie,omitempty"`
}

// HostSPGamePayload starts a single-player game: the host plus AI empires,
// skipping lobby negotiation
type HostSPGamePayload struct {
	PlayerName  string            `json:"player_name"`
	Version     string            `json:"version"`
	GalaxySetup model.GalaxySetup `json:"galaxy_setup"`
	Rules       model.GameRules   `json:"rules,omitempty"`
	AICount     int               `json:"ai_count"`
	SaveGameID  string            `json:"save_game_id,omitempty"`
}

// JoinGamePayload is a client's request to join the game or lobby
type JoinGamePayload struct {
	PlayerName   string           `json:"player_name"`
	ClientType   model.ClientType `json:"client_type"`
	Version      string           `json:"version"`
	Dependencies []string         `json:"dependencies,omitempty"`
	Cookie       string           `json:"cookie,omitempty"`
}

// JoinAckPayload confirms a join, carrying the assigned id and the
// reconnection cookie the client should present next time
type JoinAckPayload struct {
	PlayerID model.PlayerID `json:"player_id"`
	Cookie   string         `json:"cookie"`
}

// HostIDPayload announces the current host player
type HostIDPayload struct {
	PlayerID model.PlayerID `json:"player_id"`
}

// AuthRequestPayload challenges a joining client for a credential
type AuthRequestPayload struct {
	PlayerName string `json:"player_name"`
}

// AuthResponsePayload answers an auth challenge
type AuthResponsePayload struct {
	PlayerName string `json:"player_name"`
	Credential string `json:"credential"`
}

// LobbyUpdatePayload carries roster and setup deltas in both directions
type LobbyUpdatePayload struct {
	Lobby model.LobbyData `json:"lobby"`
}

// GameStartPayload hands each client its identity and the opaque initial
// state produced by the simulation engine
type GameStartPayload struct {
	PlayerID     model.PlayerID  `json:"player_id"`
	EmpireID     model.EmpireID  `json:"empire_id"`
	CurrentTurn  int             `json:"current_turn"`
	SinglePlayer bool            `json:"single_player"`
	StateData    json.RawMessage `json:"state_data,omitempty"`
}

// TurnOrdersPayload submits a full order set for an empire
type TurnOrdersPayload struct {
	EmpireID model.EmpireID  `json:"empire_id"`
	Orders   json.RawMessage `json:"orders"`
	UIState  json.RawMessage `json:"ui_state,omitempty"`
}

// TurnPartialOrdersPayload submits an incremental order update without
// marking the empire ready
type TurnPartialOrdersPayload struct {
	EmpireID   model.EmpireID  `json:"empire_id"`
	Added      json.RawMessage `json:"added,omitempty"`
	DeletedIDs []int           `json:"deleted_ids,omitempty"`
}

// TurnUpdatePayload distributes the post-processing state for a new turn
type TurnUpdatePayload struct {
	Turn      int             `json:"turn"`
	StateData json.RawMessage `json:"state_data,omitempty"`
}

// PlayerStatusPayload broadcasts one empire's turn progress
type PlayerStatusPayload struct {
	EmpireID model.EmpireID     `json:"empire_id"`
	Status   model.PlayerStatus `json:"status"`
}

// PlayerChatPayload routes chat text; empty Recipients means everyone.
// SenderID and SenderName are filled by the server on relay.
type PlayerChatPayload struct {
	Recipients []model.PlayerID `json:"recipients,omitempty"`
	Text       string           `json:"text"`
	Private    bool             `json:"private,omitempty"`
	SenderID   model.PlayerID   `json:"sender_id,omitempty"`
	SenderName string           `json:"sender_name,omitempty"`
}

// DiplomacyPayload relays a diplomatic action to another empire, or to all
// of them when the recipient is AllEmpires; content is opaque to the
// orchestration layer
type DiplomacyPayload struct {
	Sender    model.EmpireID  `json:"sender"`
	Recipient model.EmpireID  `json:"recipient"`
	Action    json.RawMessage `json:"action"`
}

// ModeratorActionPayload carries a privileged game action; content beyond
// end-turn is forwarded to the simulation engine
type ModeratorActionPayload struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// ModeratorActionEndTurn forces immediate turn processing
const ModeratorActionEndTurn = "end_turn"

// AutoTurnPayload arms auto-submission of empty orders for N turns; a
// negative count means until cancelled
type AutoTurnPayload struct {
	Count int `json:"count"`
}

// SaveGameRequestPayload asks the server to snapshot the game (host only)
type SaveGameRequestPayload struct {
	GameName string `json:"game_name,omitempty"`
}

// SaveGameCompletePayload reports a finished save
type SaveGameCompletePayload struct {
	SaveID string `json:"save_id"`
	Turn   int    `json:"turn"`
}

// EndGamePayload tells clients the game is over
type EndGamePayload struct {
	Reason string `json:"reason,omitempty"`
}

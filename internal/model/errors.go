package model

import "errors"

// Common errors used across the application
var (
	// Session errors
	ErrSessionEstablished = errors.New("session is already established")
	ErrSessionNotFound    = errors.New("session not found")
	ErrInvalidIdentity    = errors.New("invalid session identity")
	ErrFrameTooLarge      = errors.New("declared frame size exceeds limit")
	ErrSessionClosed      = errors.New("session is closed")
	ErrQueueOverflow      = errors.New("outgoing queue overflow")

	// Auth errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrCookieNotFound     = errors.New("cookie not found or expired")

	// Lobby errors
	ErrNotInLobby       = errors.New("player is not in the lobby")
	ErrClientTypeDenied = errors.New("client type not permitted")
	ErrNameExhausted    = errors.New("could not find a free player name")
	ErrEmpireMismatch   = errors.New("orders submitted for another player's empire")

	// Storage errors
	ErrCredentialNotFound = errors.New("player credential not found")
	ErrSaveGameNotFound   = errors.New("save game not found")
)

package storage

import (
	"context"

	"github.com/starlane-games/starlane-server/internal/model"
)

// Storage defines the interface for data persistence. Save-game payloads are
// opaque blobs produced by the simulation engine; the orchestration layer
// only stores and indexes them.
type Storage interface {
	// Cookie operations
	SaveCookie(ctx context.Context, entry *model.CookieEntry) error
	GetCookie(ctx context.Context, token string) (*model.CookieEntry, error)
	DeleteCookie(ctx context.Context, token string) error
	ListCookies(ctx context.Context) ([]*model.CookieEntry, error)

	// Credential operations
	SaveCredential(ctx context.Context, cred *model.PlayerCredential) error
	GetCredential(ctx context.Context, playerName string) (*model.PlayerCredential, error)

	// Save-game operations
	SaveGame(ctx context.Context, meta *model.SaveGameMetadata, data []byte) error
	GetSaveGame(ctx context.Context, id string) (*model.SaveGameMetadata, []byte, error)
	ListSaveGames(ctx context.Context) ([]*model.SaveGameMetadata, error)

	// Close releases any held connections
	Close() error
}

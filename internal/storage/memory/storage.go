package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/starlane-games/starlane-server/internal/model"
	"github.com/starlane-games/starlane-server/internal/storage"
)

// Storage is an in-memory implementation of the storage interface. Suitable
// for single-process deployments and tests.
type Storage struct {
	mu sync.RWMutex

	cookies     map[string]*model.CookieEntry
	credentials map[string]*model.PlayerCredential
	saveMeta    map[string]*model.SaveGameMetadata
	saveData    map[string][]byte
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// New creates a new in-memory storage
func New() *Storage {
	return &Storage{
		cookies:     make(map[string]*model.CookieEntry),
		credentials: make(map[string]*model.PlayerCredential),
		saveMeta:    make(map[string]*model.SaveGameMetadata),
		saveData:    make(map[string][]byte),
	}
}

// Close is a no-op for memory storage
func (s *Storage) Close() error {
	return nil
}

// Cookie operations

func (s *Storage) SaveCookie(ctx context.Context, entry *model.CookieEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *entry
	s.cookies[entry.Token] = &copied
	return nil
}

func (s *Storage) GetCookie(ctx context.Context, token string) (*model.CookieEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.cookies[token]
	if !ok {
		return nil, model.ErrCookieNotFound
	}
	copied := *entry
	return &copied, nil
}

func (s *Storage) DeleteCookie(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cookies, token)
	return nil
}

func (s *Storage) ListCookies(ctx context.Context) ([]*model.CookieEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]*model.CookieEntry, 0, len(s.cookies))
	for _, entry := range s.cookies {
		copied := *entry
		entries = append(entries, &copied)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Token < entries[j].Token })
	return entries, nil
}

// Credential operations

func (s *Storage) SaveCredential(ctx context.Context, cred *model.PlayerCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *cred
	s.credentials[cred.PlayerName] = &copied
	return nil
}

func (s *Storage) GetCredential(ctx context.Context, playerName string) (*model.PlayerCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.credentials[playerName]
	if !ok {
		return nil, model.ErrCredentialNotFound
	}
	copied := *cred
	return &copied, nil
}

// Save-game operations

func (s *Storage) SaveGame(ctx context.Context, meta *model.SaveGameMetadata, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *meta
	s.saveMeta[meta.ID] = &copied
	s.saveData[meta.ID] = append([]byte(nil), data...)
	return nil
}

func (s *Storage) GetSaveGame(ctx context.Context, id string) (*model.SaveGameMetadata, []byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.saveMeta[id]
	if !ok {
		return nil, nil, model.ErrSaveGameNotFound
	}
	copied := *meta
	return &copied, append([]byte(nil), s.saveData[id]...), nil
}

func (s *Storage) ListSaveGames(ctx context.Context) ([]*model.SaveGameMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	metas := make([]*model.SaveGameMetadata, 0, len(s.saveMeta))
	for _, meta := range s.saveMeta {
		copied := *meta
		metas = append(metas, &copied)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].SavedAt > metas[j].SavedAt })
	return metas, nil
}

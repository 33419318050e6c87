package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/starlane-games/starlane-server/internal/model"
	"github.com/starlane-games/starlane-server/internal/storage"
)

// Storage is a Redis-backed implementation of the storage interface
type Storage struct {
	client *redis.Client
	cfg    Config
}

// New creates a new Redis storage instance
func New(cfg Config) (*Storage, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &Storage{client: client, cfg: cfg}, nil
}

// NewWithClient creates a Redis storage with an existing client (for testing)
func NewWithClient(client *redis.Client, cfg Config) *Storage {
	return &Storage{client: client, cfg: cfg}
}

// Close closes the Redis connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// Cookie operations

func (s *Storage) SaveCookie(ctx context.Context, entry *model.CookieEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, cookieKey(entry.Token), data, s.cfg.CookieTTL)
	pipe.SAdd(ctx, cookieIndexKey(), entry.Token)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Storage) GetCookie(ctx context.Context, token string) (*model.CookieEntry, error) {
	data, err := s.client.Get(ctx, cookieKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrCookieNotFound
		}
		return nil, err
	}
	var entry model.CookieEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Storage) DeleteCookie(ctx context.Context, token string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, cookieKey(token))
	pipe.SRem(ctx, cookieIndexKey(), token)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Storage) ListCookies(ctx context.Context) ([]*model.CookieEntry, error) {
	tokens, err := s.client.SMembers(ctx, cookieIndexKey()).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]*model.CookieEntry, 0, len(tokens))
	for _, token := range tokens {
		entry, err := s.GetCookie(ctx, token)
		if err != nil {
			if errors.Is(err, model.ErrCookieNotFound) {
				// TTL beat the index; clean up the stale member
				_ = s.client.SRem(ctx, cookieIndexKey(), token).Err()
				continue
			}
			return nil, err
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Token < entries[j].Token })
	return entries, nil
}

// Credential operations

func (s *Storage) SaveCredential(ctx context.Context, cred *model.PlayerCredential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, credentialKey(cred.PlayerName), data, 0).Err()
}

func (s *Storage) GetCredential(ctx context.Context, playerName string) (*model.PlayerCredential, error) {
	data, err := s.client.Get(ctx, credentialKey(playerName)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrCredentialNotFound
		}
		return nil, err
	}
	var cred model.PlayerCredential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, err
	}
	return &cred, nil
}

// Save-game operations

func (s *Storage) SaveGame(ctx context.Context, meta *model.SaveGameMetadata, data []byte) error {
	metaData, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, saveMetaKey(meta.ID), metaData, s.cfg.SaveGameTTL)
	pipe.Set(ctx, saveDataKey(meta.ID), data, s.cfg.SaveGameTTL)
	pipe.SAdd(ctx, saveIndexKey(), meta.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Storage) GetSaveGame(ctx context.Context, id string) (*model.SaveGameMetadata, []byte, error) {
	metaData, err := s.client.Get(ctx, saveMetaKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil, model.ErrSaveGameNotFound
		}
		return nil, nil, err
	}
	var meta model.SaveGameMetadata
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return nil, nil, err
	}
	data, err := s.client.Get(ctx, saveDataKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil, model.ErrSaveGameNotFound
		}
		return nil, nil, err
	}
	return &meta, data, nil
}

func (s *Storage) ListSaveGames(ctx context.Context) ([]*model.SaveGameMetadata, error) {
	ids, err := s.client.SMembers(ctx, saveIndexKey()).Result()
	if err != nil {
		return nil, err
	}
	metas := make([]*model.SaveGameMetadata, 0, len(ids))
	for _, id := range ids {
		metaData, err := s.client.Get(ctx, saveMetaKey(id)).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				_ = s.client.SRem(ctx, saveIndexKey(), id).Err()
				continue
			}
			return nil, err
		}
		var meta model.SaveGameMetadata
		if err := json.Unmarshal(metaData, &meta); err != nil {
			return nil, err
		}
		metas = append(metas, &meta)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].SavedAt > metas[j].SavedAt })
	return metas, nil
}

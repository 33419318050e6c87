// Package auth verifies player credentials during the join challenge.
// Players without a stored credential are exempt from authentication.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/starlane-games/starlane-server/internal/dependencies/clock"
	"github.com/starlane-games/starlane-server/internal/model"
	"github.com/starlane-games/starlane-server/internal/storage"
)

// Service handles credential storage and verification
type Service struct {
	storage storage.Storage
	clock   clock.Clock
	logger  *slog.Logger
}

// New creates a new auth service
func New(st storage.Storage, clk clock.Clock, logger *slog.Logger) *Service {
	return &Service{storage: st, clock: clk, logger: logger}
}

// RequiresAuth reports whether the named player has a stored credential and
// must therefore answer an auth challenge
func (s *Service) RequiresAuth(ctx context.Context, playerName string) bool {
	_, err := s.storage.GetCredential(ctx, playerName)
	if err != nil {
		if !errors.Is(err, model.ErrCredentialNotFound) {
			s.logger.Warn("credential lookup failed",
				slog.String("player", playerName),
				slog.String("error", err.Error()))
		}
		return false
	}
	return true
}

// Check verifies a credential and returns the stored capability set on
// success
func (s *Service) Check(ctx context.Context, playerName, credential string) (model.RoleSet, error) {
	cred, err := s.storage.GetCredential(ctx, playerName)
	if err != nil {
		if errors.Is(err, model.ErrCredentialNotFound) {
			return 0, model.ErrInvalidCredentials
		}
		return 0, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.CredentialHash), []byte(credential)); err != nil {
		return 0, model.ErrInvalidCredentials
	}
	return cred.Roles, nil
}

// SetCredential stores a bcrypt-hashed credential for the named player
func (s *Service) SetCredential(ctx context.Context, playerName, secret string, roles model.RoleSet) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash credential: %w", err)
	}
	now := s.clock.Now()
	existing, err := s.storage.GetCredential(ctx, playerName)
	created := now
	if err == nil {
		created = existing.CreatedAt
	} else if !errors.Is(err, model.ErrCredentialNotFound) {
		return err
	}
	return s.storage.SaveCredential(ctx, &model.PlayerCredential{
		PlayerName:     playerName,
		CredentialHash: string(hash),
		Roles:          roles,
		CreatedAt:      created,
		UpdatedAt:      now,
	})
}

// Package registry owns the live session set: enumeration, broadcast, player
// id allocation, host designation, and the reconnection cookie table.
package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/starlane-games/starlane-server/internal/dependencies/clock"
	"github.com/starlane-games/starlane-server/internal/model"
	"github.com/starlane-games/starlane-server/internal/protocol"
	"github.com/starlane-games/starlane-server/internal/storage"
	"github.com/starlane-games/starlane-server/internal/transport"
)

// Registry tracks every live session. All methods are called from the server
// reactor goroutine; the session list needs no locking of its own.
type Registry struct {
	logger  *slog.Logger
	clock   clock.Clock
	storage storage.Storage

	cookieExpiry time.Duration

	sessions []*transport.Session
	hostID   model.PlayerID
}

// New creates an empty registry
func New(st storage.Storage, clk clock.Clock, cookieExpiry time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		logger:       logger,
		clock:        clk,
		storage:      st,
		cookieExpiry: cookieExpiry,
		hostID:       model.InvalidPlayerID,
	}
}

// Add inserts a newly accepted session
func (r *Registry) Add(s *transport.Session) {
	r.sessions = append(r.sessions, s)
}

// Remove drops a session from the set. If it was the host, the host
// designation is cleared; re-election is the orchestration layer's call.
func (r *Registry) Remove(s *transport.Session) {
	for i, existing := range r.sessions {
		if existing == s {
			r.sessions = append(r.sessions[:i], r.sessions[i+1:]...)
			break
		}
	}
	if s.Established() && s.ID() == r.hostID {
		r.hostID = model.InvalidPlayerID
	}
}

// Sessions returns every live session, established or not
func (r *Registry) Sessions() []*transport.Session {
	return append([]*transport.Session(nil), r.sessions...)
}

// Established returns only the sessions with confirmed identity
func (r *Registry) Established() []*transport.Session {
	var out []*transport.Session
	for _, s := range r.sessions {
		if s.Established() {
			out = append(out, s)
		}
	}
	return out
}

// Find returns the established session with the given player id, or nil
func (r *Registry) Find(id model.PlayerID) *transport.Session {
	for _, s := range r.sessions {
		if s.Established() && s.ID() == id {
			return s
		}
	}
	return nil
}

// FindByName returns the established session with the given player name, or nil
func (r *Registry) FindByName(name string) *transport.Session {
	for _, s := range r.sessions {
		if s.Established() && s.Name() == name {
			return s
		}
	}
	return nil
}

// Broadcast queues a message on every established session
func (r *Registry) Broadcast(m protocol.Message) {
	for _, s := range r.sessions {
		if s.Established() {
			s.Send(m)
		}
	}
}

// Disconnect closes the session with the given player id, if present
func (r *Registry) Disconnect(id model.PlayerID) {
	if s := r.Find(id); s != nil {
		s.Close()
	}
}

// DisconnectAll closes every session
func (r *Registry) DisconnectAll() {
	for _, s := range r.Sessions() {
		s.Close()
	}
}

// NewPlayerID returns an id strictly greater than any currently assigned
func (r *Registry) NewPlayerID() model.PlayerID {
	max := model.PlayerID(0)
	for _, s := range r.sessions {
		if s.Established() && s.ID() >= max {
			max = s.ID() + 1
		}
	}
	return max
}

// SetHost designates the host player
func (r *Registry) SetHost(id model.PlayerID) {
	r.hostID = id
}

// HostID returns the current host player id, or InvalidPlayerID
func (r *Registry) HostID() model.PlayerID {
	return r.hostID
}

// IsHost reports whether the given player is the designated host
func (r *Registry) IsHost(id model.PlayerID) bool {
	return id != model.InvalidPlayerID && id == r.hostID
}

// ModeratorsPresent reports whether any established moderator session exists
func (r *Registry) ModeratorsPresent() bool {
	for _, s := range r.sessions {
		if s.Established() && s.ClientType() == model.ClientTypeHumanModerator {
			return true
		}
	}
	return false
}

// CountEstablished returns the number of established sessions of the given type
func (r *Registry) CountEstablished(t model.ClientType) int {
	n := 0
	for _, s := range r.sessions {
		if s.Established() && s.ClientType() == t {
			n++
		}
	}
	return n
}

// cookieInUse reports whether any live session holds the token
func (r *Registry) cookieInUse(token string) bool {
	for _, s := range r.sessions {
		if s.Cookie() == token {
			return true
		}
	}
	return false
}

// IssueCookie creates a cookie entry for the session's current identity,
// stores it, and attaches the token to the session
func (r *Registry) IssueCookie(ctx context.Context, s *transport.Session) (string, error) {
	token := newToken()
	entry := &model.CookieEntry{
		Token:         token,
		PlayerName:    s.Name(),
		Roles:         s.Roles(),
		Authenticated: s.Authenticated(),
		Expiry:        r.clock.Now().Add(r.cookieExpiry),
	}
	if err := r.storage.SaveCookie(ctx, entry); err != nil {
		return "", err
	}
	s.SetCookie(token)
	return token, nil
}

// CheckCookie looks up a reconnection token. It succeeds only when the token
// exists, the stored name matches, and the entry has not expired; on success
// the stored roles and authentication flag are returned.
func (r *Registry) CheckCookie(ctx context.Context, token, playerName string) (model.RoleSet, bool, error) {
	if token == "" {
		return 0, false, model.ErrCookieNotFound
	}
	entry, err := r.storage.GetCookie(ctx, token)
	if err != nil {
		return 0, false, err
	}
	if entry.PlayerName != playerName || entry.Expired(r.clock.Now()) {
		return 0, false, model.ErrCookieNotFound
	}
	return entry.Roles, entry.Authenticated, nil
}

// RefreshCookie extends a cookie's expiry by the full configured duration.
// Called when its holder disconnects so a reconnect window opens from now.
func (r *Registry) RefreshCookie(ctx context.Context, token string) {
	if token == "" {
		return
	}
	entry, err := r.storage.GetCookie(ctx, token)
	if err != nil {
		return
	}
	entry.Expiry = r.clock.Now().Add(r.cookieExpiry)
	if err := r.storage.SaveCookie(ctx, entry); err != nil {
		r.logger.Warn("cookie refresh failed", slog.String("error", err.Error()))
	}
}

// GCCookies removes expired cookies that no live session still holds
func (r *Registry) GCCookies(ctx context.Context) {
	entries, err := r.storage.ListCookies(ctx)
	if err != nil {
		r.logger.Warn("cookie gc list failed", slog.String("error", err.Error()))
		return
	}
	now := r.clock.Now()
	for _, entry := range entries {
		if entry.Expired(now) && !r.cookieInUse(entry.Token) {
			if err := r.storage.DeleteCookie(ctx, entry.Token); err != nil {
				r.logger.Warn("cookie gc delete failed", slog.String("error", err.Error()))
			}
		}
	}
}

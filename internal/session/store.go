// Package session is the single source of truth for "who is logged in and
// what can they do". It owns the identity record and both bearer credentials,
// mirrors them into an expiring vault for cross-restart survival, and exposes
// the guard predicates route gating is built on. It has no network concerns;
// the gateway package drives all state transitions.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"biztreck.org/internal/vault"
)

// Vault slot keys. Access and refresh live in expiring slots with distinct
// lifetimes; the identity record is durable.
const (
	slotAccess   = "accessToken"
	slotRefresh  = "refreshToken"
	slotIdentity = "session"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// Snapshot is the read-only view consumed by route and component gating.
type Snapshot struct {
	User            *User
	IsAuthenticated bool
	IsLoading       bool
}

// Store holds the current session. All mutations are atomic with respect to
// the snapshot; predicates never observe a half-replaced session.
type Store struct {
	mu            sync.RWMutex
	user          *User
	accessToken   string
	refreshToken  string
	authenticated bool
	loading       bool

	vault      vault.Vault
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithTokenTTLs overrides the persisted lifetimes of the two token slots.
func WithTokenTTLs(access, refresh time.Duration) Option {
	return func(s *Store) {
		if access > 0 {
			s.accessTTL = access
		}
		if refresh > 0 {
			s.refreshTTL = refresh
		}
	}
}

// New constructs a Store backed by v and rehydrates any surviving session.
func New(ctx context.Context, v vault.Vault, opts ...Option) (*Store, error) {
	if v == nil {
		return nil, errors.New("session: vault is required")
	}
	s := &Store{
		vault:      v,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.rehydrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// identityRecord is the durable slice of session state.
type identityRecord struct {
	User          *User `json:"user"`
	Authenticated bool  `json:"isAuthenticated"`
}

// rehydrate restores state from the vault. The identity record survives as
// long as a live refresh token exists: an expired access slot alone does not
// log the user out, it only forces a renewal on the next request.
func (s *Store) rehydrate(ctx context.Context) error {
	raw, ok, err := s.vault.Get(ctx, slotIdentity)
	if err != nil {
		return fmt.Errorf("session: read identity: %w", err)
	}
	if !ok {
		return nil
	}
	var rec identityRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return fmt.Errorf("session: decode identity: %w", err)
	}

	refresh, haveRefresh, err := s.vault.Get(ctx, slotRefresh)
	if err != nil {
		return fmt.Errorf("session: read refresh token: %w", err)
	}
	if !haveRefresh || rec.User == nil {
		// Refresh expired while the process was down: nothing left to renew
		// with, so drop the stale identity record.
		return s.purgeVault(ctx)
	}
	access, _, err := s.vault.Get(ctx, slotAccess)
	if err != nil {
		return fmt.Errorf("session: read access token: %w", err)
	}

	s.mu.Lock()
	s.user = rec.User
	s.authenticated = rec.Authenticated
	s.accessToken = access
	s.refreshToken = refresh
	s.mu.Unlock()
	return nil
}

// SetAuth replaces the full session atomically and persists both tokens with
// their distinct lifetimes. In-memory state is updated even when persistence
// fails; the error reports the vault problem.
func (s *Store) SetAuth(ctx context.Context, user User, accessToken, refreshToken string) error {
	s.mu.Lock()
	u := cloneUser(&user)
	s.user = u
	s.accessToken = accessToken
	s.refreshToken = refreshToken
	s.authenticated = true
	s.loading = false
	s.mu.Unlock()

	return errors.Join(
		s.vault.Set(ctx, slotAccess, accessToken, s.accessTTL),
		s.vault.Set(ctx, slotRefresh, refreshToken, s.refreshTTL),
		s.persistIdentity(ctx, u, true),
	)
}

// SetUser replaces only the identity record, leaving tokens untouched. With
// no active session this is a no-op: a late profile response must not
// resurrect a session that was already cleared.
func (s *Store) SetUser(ctx context.Context, user User) error {
	s.mu.Lock()
	if s.user == nil {
		s.mu.Unlock()
		return nil
	}
	u := cloneUser(&user)
	s.user = u
	authenticated := s.authenticated
	s.mu.Unlock()

	return s.persistIdentity(ctx, u, authenticated)
}

// SetAccessToken replaces the access token and its persisted copy only.
func (s *Store) SetAccessToken(ctx context.Context, token string) error {
	s.mu.Lock()
	s.accessToken = token
	s.mu.Unlock()
	return s.vault.Set(ctx, slotAccess, token, s.accessTTL)
}

// ClearAuth purges persisted tokens and resets every field. Idempotent.
func (s *Store) ClearAuth(ctx context.Context) error {
	s.mu.Lock()
	s.user = nil
	s.accessToken = ""
	s.refreshToken = ""
	s.authenticated = false
	s.loading = false
	s.mu.Unlock()
	return s.purgeVault(ctx)
}

// SetLoading flips the transient in-flight flag. No effect on auth state.
func (s *Store) SetLoading(loading bool) {
	s.mu.Lock()
	s.loading = loading
	s.mu.Unlock()
}

// Snapshot returns the current reactive view.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		User:            cloneUser(s.user),
		IsAuthenticated: s.authenticated,
		IsLoading:       s.loading,
	}
}

// AccessToken returns the current access token, empty when absent.
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// RefreshToken returns the current refresh token, empty when absent.
func (s *Store) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshToken
}

// HasPermission reports whether the current user may perform the capability.
// super_admin passes unconditionally; everyone else needs the key in their
// role baseline or their server-issued custom permissions.
func (s *Store) HasPermission(permission string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return false
	}
	if s.user.Role == RoleSuperAdmin {
		return true
	}
	for _, p := range rolePermissions[s.user.Role] {
		if p == permission {
			return true
		}
	}
	for _, p := range s.user.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// HasRole reports whether the current user's role is one of the given roles.
func (s *Store) HasRole(roles ...string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return false
	}
	for _, r := range roles {
		if Role(strings.TrimSpace(strings.ToLower(r))) == s.user.Role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the current role is admin or super_admin.
func (s *Store) IsAdmin() bool {
	return s.HasRole(string(RoleAdmin), string(RoleSuperAdmin))
}

// IsSuperAdmin reports whether the current role is super_admin.
func (s *Store) IsSuperAdmin() bool {
	return s.HasRole(string(RoleSuperAdmin))
}

func (s *Store) persistIdentity(ctx context.Context, user *User, authenticated bool) error {
	raw, err := json.Marshal(identityRecord{User: user, Authenticated: authenticated})
	if err != nil {
		return fmt.Errorf("session: encode identity: %w", err)
	}
	return s.vault.Set(ctx, slotIdentity, string(raw), 0)
}

func (s *Store) purgeVault(ctx context.Context) error {
	return errors.Join(
		s.vault.Delete(ctx, slotAccess),
		s.vault.Delete(ctx, slotRefresh),
		s.vault.Delete(ctx, slotIdentity),
	)
}

func cloneUser(u *User) *User {
	if u == nil {
		return nil
	}
	out := *u
	if u.Permissions != nil {
		out.Permissions = make([]string, len(u.Permissions))
		copy(out.Permissions, u.Permissions)
	}
	if u.Organization != nil {
		org := *u.Organization
		out.Organization = &org
	}
	if u.Profile.Address != nil {
		addr := *u.Profile.Address
		out.Profile.Address = &addr
	}
	if u.LastLogin != nil {
		t := *u.LastLogin
		out.LastLogin = &t
	}
	return &out
}

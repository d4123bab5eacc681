package session

import (
	"context"
	"testing"
	"time"

	"biztreck.org/internal/vault"
)

func newTestStore(t *testing.T, opts ...Option) (*Store, *vault.Memory) {
	t.Helper()
	v := vault.NewMemory()
	s, err := New(context.Background(), v, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, v
}

func developerUser() User {
	return User{
		ID:          "u-1",
		Email:       "dev@biztreck.example",
		Role:        RoleDeveloper,
		Profile:     Profile{FirstName: "Dana", LastName: "Developer"},
		Permissions: []string{"analytics.read"},
		IsActive:    true,
	}
}

func TestSetAuthEstablishesSession(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	s.SetLoading(true)

	if err := s.SetAuth(ctx, developerUser(), "at-1", "rt-1"); err != nil {
		t.Fatalf("SetAuth: %v", err)
	}

	snap := s.Snapshot()
	if !snap.IsAuthenticated {
		t.Fatal("expected authenticated session")
	}
	if snap.IsLoading {
		t.Fatal("SetAuth must clear the loading flag")
	}
	if snap.User == nil || snap.User.Email != "dev@biztreck.example" {
		t.Fatalf("unexpected user: %+v", snap.User)
	}
	if s.AccessToken() != "at-1" || s.RefreshToken() != "rt-1" {
		t.Fatalf("tokens not stored: %q %q", s.AccessToken(), s.RefreshToken())
	}
}

func TestClearAuthIsIdempotentAndAtomic(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	if err := s.SetAuth(ctx, developerUser(), "at-1", "rt-1"); err != nil {
		t.Fatalf("SetAuth: %v", err)
	}

	if err := s.ClearAuth(ctx); err != nil {
		t.Fatalf("ClearAuth: %v", err)
	}
	first := s.Snapshot()
	if err := s.ClearAuth(ctx); err != nil {
		t.Fatalf("second ClearAuth: %v", err)
	}
	second := s.Snapshot()

	for _, snap := range []Snapshot{first, second} {
		if snap.User != nil || snap.IsAuthenticated || snap.IsLoading {
			t.Fatalf("expected empty session, got %+v", snap)
		}
	}
	if s.AccessToken() != "" || s.RefreshToken() != "" {
		t.Fatal("tokens survived clear")
	}
}

func TestClearAuthLeavesNoPersistedResidue(t *testing.T) {
	ctx := context.Background()
	s, v := newTestStore(t)
	if err := s.SetAuth(ctx, developerUser(), "at-1", "rt-1"); err != nil {
		t.Fatalf("SetAuth: %v", err)
	}
	if err := s.ClearAuth(ctx); err != nil {
		t.Fatalf("ClearAuth: %v", err)
	}

	for _, slot := range []string{"accessToken", "refreshToken", "session"} {
		if _, ok, _ := v.Get(ctx, slot); ok {
			t.Fatalf("slot %q still present after clear", slot)
		}
	}
}

func TestSetUserWithoutSessionIsNoOp(t *testing.T) {
	ctx := context.Background()
	s, v := newTestStore(t)

	if err := s.SetUser(ctx, developerUser()); err != nil {
		t.Fatalf("SetUser: %v", err)
	}
	if snap := s.Snapshot(); snap.User != nil || snap.IsAuthenticated {
		t.Fatalf("late profile write resurrected a cleared session: %+v", snap)
	}
	if _, ok, _ := v.Get(ctx, "session"); ok {
		t.Fatal("identity record written without an active session")
	}
}

func TestSetUserReplacesIdentityOnly(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	if err := s.SetAuth(ctx, developerUser(), "at-1", "rt-1"); err != nil {
		t.Fatalf("SetAuth: %v", err)
	}

	updated := developerUser()
	updated.Profile.FirstName = "X"
	if err := s.SetUser(ctx, updated); err != nil {
		t.Fatalf("SetUser: %v", err)
	}

	if got := s.Snapshot().User.Profile.FirstName; got != "X" {
		t.Fatalf("profile not replaced: %q", got)
	}
	if s.AccessToken() != "at-1" || s.RefreshToken() != "rt-1" {
		t.Fatal("SetUser must leave tokens untouched")
	}
}

func TestSetAccessTokenLeavesRefreshAndUser(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	if err := s.SetAuth(ctx, developerUser(), "at-1", "rt-1"); err != nil {
		t.Fatalf("SetAuth: %v", err)
	}
	if err := s.SetAccessToken(ctx, "at-2"); err != nil {
		t.Fatalf("SetAccessToken: %v", err)
	}
	if s.AccessToken() != "at-2" {
		t.Fatalf("access token not replaced: %q", s.AccessToken())
	}
	if s.RefreshToken() != "rt-1" {
		t.Fatal("refresh token must be untouched")
	}
	if s.Snapshot().User == nil {
		t.Fatal("user must be untouched")
	}
}

func TestRehydrateRestoresSurvivingSession(t *testing.T) {
	ctx := context.Background()
	v := vault.NewMemory()
	first, err := New(ctx, v)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := first.SetAuth(ctx, developerUser(), "at-1", "rt-1"); err != nil {
		t.Fatalf("SetAuth: %v", err)
	}

	// New process, same vault.
	second, err := New(ctx, v)
	if err != nil {
		t.Fatalf("New (rehydrate): %v", err)
	}
	snap := second.Snapshot()
	if !snap.IsAuthenticated || snap.User == nil || snap.User.ID != "u-1" {
		t.Fatalf("rehydration lost the session: %+v", snap)
	}
	if second.AccessToken() != "at-1" || second.RefreshToken() != "rt-1" {
		t.Fatal("rehydration lost the tokens")
	}
}

func TestRehydrateWithExpiredAccessKeepsRefresh(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	v := vault.NewMemory(vault.WithClock(func() time.Time { return now }))
	first, err := New(ctx, v)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := first.SetAuth(ctx, developerUser(), "at-1", "rt-1"); err != nil {
		t.Fatalf("SetAuth: %v", err)
	}

	// Past the access TTL, inside the refresh TTL.
	now = now.Add(time.Hour)
	second, err := New(ctx, v)
	if err != nil {
		t.Fatalf("New (rehydrate): %v", err)
	}
	if second.AccessToken() != "" {
		t.Fatal("expired access token must resolve absent")
	}
	if second.RefreshToken() != "rt-1" {
		t.Fatal("refresh token must survive for a renewal attempt")
	}
	if !second.Snapshot().IsAuthenticated {
		t.Fatal("session should remain authenticated pending renewal")
	}
}

func TestRehydrateWithExpiredRefreshDropsSession(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	v := vault.NewMemory(vault.WithClock(func() time.Time { return now }))
	first, err := New(ctx, v)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := first.SetAuth(ctx, developerUser(), "at-1", "rt-1"); err != nil {
		t.Fatalf("SetAuth: %v", err)
	}

	now = now.Add(8 * 24 * time.Hour)
	second, err := New(ctx, v)
	if err != nil {
		t.Fatalf("New (rehydrate): %v", err)
	}
	if snap := second.Snapshot(); snap.IsAuthenticated || snap.User != nil {
		t.Fatalf("stale identity survived refresh expiry: %+v", snap)
	}
	if _, ok, _ := v.Get(ctx, "session"); ok {
		t.Fatal("stale identity record not purged")
	}
}

func TestSharedVaultLastWriterWins(t *testing.T) {
	// Two stores over one vault model two tabs refreshing concurrently.
	ctx := context.Background()
	v := vault.NewMemory()
	a, err := New(ctx, v)
	if err != nil {
		t.Fatalf("New a: %v", err)
	}
	b, err := New(ctx, v)
	if err != nil {
		t.Fatalf("New b: %v", err)
	}

	if err := a.SetAuth(ctx, developerUser(), "at-a", "rt-a"); err != nil {
		t.Fatalf("SetAuth a: %v", err)
	}
	if err := b.SetAuth(ctx, developerUser(), "at-b", "rt-b"); err != nil {
		t.Fatalf("SetAuth b: %v", err)
	}

	got, ok, _ := v.Get(ctx, "refreshToken")
	if !ok || got != "rt-b" {
		t.Fatalf("expected last writer to win, got (%q, %v)", got, ok)
	}
}

func TestLoadingFlagIndependentOfAuthState(t *testing.T) {
	s, _ := newTestStore(t)
	s.SetLoading(true)
	snap := s.Snapshot()
	if !snap.IsLoading {
		t.Fatal("loading flag not set")
	}
	if snap.IsAuthenticated {
		t.Fatal("loading flag must not imply authentication")
	}
	s.SetLoading(false)
	if s.Snapshot().IsLoading {
		t.Fatal("loading flag not cleared")
	}
}

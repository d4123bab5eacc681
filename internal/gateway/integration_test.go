package gateway

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"biztreck.org/internal/config"
	"biztreck.org/internal/httpapi"
	"biztreck.org/internal/session"
	"biztreck.org/internal/vault"
)

// Drives the full client stack against the development backend: login, access
// token expiry, transparent renewal with refresh rotation, and logout.
func TestEndToEndTransparentRenewal(t *testing.T) {
	var (
		mu  sync.Mutex
		now = time.Now()
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	backend, err := httpapi.New(
		config.MockConfig{TokenSecret: "integration-secret", LoginRateBurst: 100, LoginRatePerMin: 6000},
		config.TokenConfig{AccessTTL: 15 * time.Minute, RefreshTTL: 7 * 24 * time.Hour},
		httpapi.WithClock(clock),
	)
	if err != nil {
		t.Fatalf("httpapi.New: %v", err)
	}
	if _, err := backend.Seed("a@b.com", "Secret123!", session.Profile{FirstName: "Ada", LastName: "B"}, session.RoleAdmin); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	srv := httptest.NewServer(backend.Handler())
	defer srv.Close()

	store, err := session.New(context.Background(), vault.NewMemory())
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	rec := &recorderNotifier{}
	g, err := New(srv.URL+"/api", store, WithNotifier(rec))
	if err != nil {
		t.Fatalf("gateway.New: %v", err)
	}

	user, err := g.Login(context.Background(), Credentials{Email: "a@b.com", Password: "Secret123!"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if user.Role != session.RoleAdmin || !store.Snapshot().IsAuthenticated {
		t.Fatalf("session not established: %+v", store.Snapshot())
	}
	accessBefore := store.AccessToken()
	refreshBefore := store.RefreshToken()

	// Let the access token lapse on the server, then make an authenticated
	// call. It must succeed through renewal without surfacing anything.
	advance(16 * time.Minute)

	got, err := g.CurrentUser(context.Background())
	if err != nil {
		t.Fatalf("CurrentUser after expiry: %v", err)
	}
	if got.Email != "a@b.com" {
		t.Fatalf("unexpected user: %+v", got)
	}
	if store.AccessToken() == accessBefore {
		t.Fatal("access token must be renewed")
	}
	if store.RefreshToken() == refreshBefore {
		t.Fatal("refresh token must rotate during renewal")
	}
	if !store.Snapshot().IsAuthenticated {
		t.Fatal("session must survive renewal")
	}
	if rec.navigations != 0 {
		t.Fatalf("renewal must be invisible, got %d navigations", rec.navigations)
	}

	// The pre-renewal refresh token was consumed server-side; a client that
	// somehow kept it cannot use it again.
	if err := g.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if snap := store.Snapshot(); snap.IsAuthenticated || snap.User != nil {
		t.Fatalf("logout must clear the session: %+v", snap)
	}
}

func TestEndToEndRevokedRefreshEndsSession(t *testing.T) {
	var (
		mu  sync.Mutex
		now = time.Now()
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	backend, err := httpapi.New(
		config.MockConfig{TokenSecret: "integration-secret", LoginRateBurst: 100, LoginRatePerMin: 6000},
		config.TokenConfig{AccessTTL: 15 * time.Minute, RefreshTTL: 7 * 24 * time.Hour},
		httpapi.WithClock(clock),
	)
	if err != nil {
		t.Fatalf("httpapi.New: %v", err)
	}
	if _, err := backend.Seed("a@b.com", "Secret123!", session.Profile{FirstName: "Ada", LastName: "B"}, session.RoleClient); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	srv := httptest.NewServer(backend.Handler())
	defer srv.Close()

	store, err := session.New(context.Background(), vault.NewMemory())
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	rec := &recorderNotifier{}
	g, err := New(srv.URL+"/api", store, WithNotifier(rec))
	if err != nil {
		t.Fatalf("gateway.New: %v", err)
	}
	if _, err := g.Login(context.Background(), Credentials{Email: "a@b.com", Password: "Secret123!"}); err != nil {
		t.Fatalf("Login: %v", err)
	}

	// Kill every server-side session, then expire the access token. Renewal
	// has nothing to stand on and must end the local session.
	if err := g.LogoutAll(context.Background()); err != nil {
		t.Fatalf("LogoutAll: %v", err)
	}
	if store.Snapshot().IsAuthenticated {
		t.Fatal("logout-all must clear locally")
	}
}

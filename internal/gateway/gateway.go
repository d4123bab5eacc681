// Package gateway mediates every network-facing identity operation: login,
// registration, logout, the password flows, profile reconciliation, and the
// transparent access token renewal the session store depends on.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"biztreck.org/internal/audit"
	"biztreck.org/internal/obs"
	"biztreck.org/internal/session"
)

// Credentials is the login request body.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration is the sign-up request body.
type Registration struct {
	Email    string          `json:"email"`
	Password string          `json:"password"`
	Profile  session.Profile `json:"profile"`
	Role     string          `json:"role,omitempty"`
}

// PasswordReset consumes a one-time reset token. Validity is server-side.
type PasswordReset struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// PasswordChange is the authenticated password change body.
type PasswordChange struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// ProfileUpdate is the partial profile submission. The server's canonical
// user record, not this partial, ends up in the session store.
type ProfileUpdate struct {
	Profile *session.Profile `json:"profile,omitempty"`
	Email   string           `json:"email,omitempty"`
}

type authPayload struct {
	User         session.User `json:"user"`
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
}

type userPayload struct {
	User session.User `json:"user"`
}

// Gateway drives the auth lifecycle against the backend and writes the
// results into the session store.
type Gateway struct {
	baseURL  *url.URL
	client   *http.Client
	store    *session.Store
	notifier Notifier
	timeout  time.Duration
}

// Option configures a Gateway.
type Option func(*Gateway) error

// WithNotifier wires the UI signal port.
func WithNotifier(n Notifier) Option {
	return func(g *Gateway) error {
		if n != nil {
			g.notifier = n
		}
		return nil
	}
}

// WithTimeout overrides the per-request client timeout.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) error {
		if d > 0 {
			g.timeout = d
		}
		return nil
	}
}

// WithHTTPClient replaces the whole HTTP client, including the renewal
// transport. Callers keeping renewal must wrap their transport themselves.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) error {
		if c != nil {
			g.client = c
		}
		return nil
	}
}

// New constructs a Gateway for the API rooted at baseURL (e.g.
// "https://api.biztreck.example/api").
func New(baseURL string, store *session.Store, opts ...Option) (*Gateway, error) {
	if store == nil {
		return nil, errors.New("gateway: session store is required")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("gateway: invalid base URL %q", baseURL)
	}
	g := &Gateway{
		baseURL:  u,
		store:    store,
		notifier: NopNotifier{},
		timeout:  10 * time.Second,
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	if g.client == nil {
		g.client = &http.Client{
			Timeout:   g.timeout,
			Transport: NewTransport(store, u.String()+"/auth/refresh", WithTransportNotifier(g.notifier)),
		}
	}
	return g, nil
}

// Store exposes the session store for guard predicates and snapshots.
func (g *Gateway) Store() *session.Store { return g.store }

// Login authenticates credentials and establishes the session.
func (g *Gateway) Login(ctx context.Context, creds Credentials) (session.User, error) {
	g.store.SetLoading(true)
	defer g.store.SetLoading(false)

	env, err := g.do(ctx, http.MethodPost, "/auth/login", creds, true)
	if err != nil {
		g.notifier.Error(messageOf(err, "Login failed. Please try again."))
		obs.ObserveAuthOperation("login", "failure")
		return session.User{}, err
	}
	var data authPayload
	if err := json.Unmarshal(env.Data, &data); err != nil {
		obs.ObserveAuthOperation("login", "failure")
		return session.User{}, fmt.Errorf("gateway: decode login payload: %w", err)
	}
	if err := g.store.SetAuth(ctx, data.User, data.AccessToken, data.RefreshToken); err != nil {
		obs.LogError("session.persist", err, nil)
	}
	g.notifier.Success(orDefault(env.Message, "Login successful!"))
	obs.ObserveAuthOperation("login", "success")
	_ = audit.LogEvent(ctx, "auth.login", map[string]any{"user_id": data.User.ID, "role": string(data.User.Role)})
	return data.User, nil
}

// Register creates an account and establishes the session, mirroring Login.
func (g *Gateway) Register(ctx context.Context, reg Registration) (session.User, error) {
	g.store.SetLoading(true)
	defer g.store.SetLoading(false)

	env, err := g.do(ctx, http.MethodPost, "/auth/register", reg, true)
	if err != nil {
		g.notifier.Error(messageOf(err, "Registration failed. Please try again."))
		obs.ObserveAuthOperation("register", "failure")
		return session.User{}, err
	}
	var data authPayload
	if err := json.Unmarshal(env.Data, &data); err != nil {
		obs.ObserveAuthOperation("register", "failure")
		return session.User{}, fmt.Errorf("gateway: decode register payload: %w", err)
	}
	if err := g.store.SetAuth(ctx, data.User, data.AccessToken, data.RefreshToken); err != nil {
		obs.LogError("session.persist", err, nil)
	}
	g.notifier.Success(orDefault(env.Message, "Registration successful!"))
	obs.ObserveAuthOperation("register", "success")
	_ = audit.LogEvent(ctx, "auth.register", map[string]any{"user_id": data.User.ID, "role": string(data.User.Role)})
	return data.User, nil
}

// Logout invalidates the current device's session server-side. The local
// session is cleared unconditionally: logout must never be blocked by server
// reachability.
func (g *Gateway) Logout(ctx context.Context) error {
	return g.logout(ctx, "/auth/logout", "Logged out successfully")
}

// LogoutAll invalidates every active session for the user, with the same
// unconditional local-clear guarantee as Logout.
func (g *Gateway) LogoutAll(ctx context.Context) error {
	return g.logout(ctx, "/auth/logout-all", "Logged out from all devices")
}

func (g *Gateway) logout(ctx context.Context, path, successMsg string) error {
	body := map[string]string{}
	if path == "/auth/logout" {
		if rt := g.store.RefreshToken(); rt != "" {
			body["refreshToken"] = rt
		}
	}
	_, err := g.do(ctx, http.MethodPost, path, body, true)

	clearErr := g.store.ClearAuth(ctx)
	g.notifier.SessionCleared()
	g.notifier.NavigateLogin()
	if err != nil {
		obs.LogError("auth.logout", err, map[string]any{"path": path})
		obs.ObserveAuthOperation("logout", "server_failure")
	} else {
		g.notifier.Success(successMsg)
		obs.ObserveAuthOperation("logout", "success")
	}
	_ = audit.LogEvent(ctx, "auth.logout", map[string]any{"path": path})
	return clearErr
}

// ForgotPassword triggers the reset-email dispatch. No state change.
func (g *Gateway) ForgotPassword(ctx context.Context, email string) error {
	env, err := g.do(ctx, http.MethodPost, "/auth/forgot-password", map[string]string{"email": email}, true)
	if err != nil {
		g.notifier.Error(messageOf(err, "Failed to send reset email. Please try again."))
		return err
	}
	g.notifier.Success(orDefault(env.Message, "Password reset email sent!"))
	return nil
}

// ResetPassword consumes a one-time reset token. On success the caller is
// signalled to navigate to the login entry point.
func (g *Gateway) ResetPassword(ctx context.Context, reset PasswordReset) error {
	env, err := g.do(ctx, http.MethodPost, "/auth/reset-password", reset, true)
	if err != nil {
		g.notifier.Error(messageOf(err, "Failed to reset password. Please try again."))
		return err
	}
	g.notifier.Success(orDefault(env.Message, "Password reset successful!"))
	g.notifier.NavigateLogin()
	return nil
}

// ChangePassword rotates the password of the authenticated user. Session
// state is untouched; a server-side invalidation would surface later as 401.
func (g *Gateway) ChangePassword(ctx context.Context, change PasswordChange) error {
	env, err := g.do(ctx, http.MethodPost, "/auth/change-password", change, true)
	if err != nil {
		g.notifier.Error(messageOf(err, "Failed to change password. Please try again."))
		return err
	}
	g.notifier.Success(orDefault(env.Message, "Password changed successfully!"))
	return nil
}

// UpdateProfile submits a partial profile and stores the server's canonical
// updated user record.
func (g *Gateway) UpdateProfile(ctx context.Context, update ProfileUpdate) (session.User, error) {
	env, err := g.do(ctx, http.MethodPost, "/users/profile", update, false)
	if err != nil {
		return session.User{}, err
	}
	var data userPayload
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return session.User{}, fmt.Errorf("gateway: decode profile payload: %w", err)
	}
	if err := g.store.SetUser(ctx, data.User); err != nil {
		obs.LogError("session.persist", err, nil)
	}
	g.notifier.Success(orDefault(env.Message, "Profile updated successfully!"))
	return data.User, nil
}

// VerifyToken asks the server whether the current access token is valid. Any
// failure clears the session: an unverifiable token is never left ambiguous.
func (g *Gateway) VerifyToken(ctx context.Context) error {
	if !g.store.Snapshot().IsAuthenticated {
		return nil
	}
	if _, err := g.do(ctx, http.MethodGet, "/auth/verify-token", nil, true); err != nil {
		if clearErr := g.store.ClearAuth(ctx); clearErr != nil {
			obs.LogError("session.clear", clearErr, nil)
		}
		g.notifier.SessionCleared()
		return err
	}
	return nil
}

// CurrentUser fetches the canonical identity record and reconciles the
// session with it. Failure clears the session, like VerifyToken.
func (g *Gateway) CurrentUser(ctx context.Context) (session.User, error) {
	env, err := g.do(ctx, http.MethodGet, "/auth/me", nil, true)
	if err != nil {
		if clearErr := g.store.ClearAuth(ctx); clearErr != nil {
			obs.LogError("session.clear", clearErr, nil)
		}
		g.notifier.SessionCleared()
		return session.User{}, err
	}
	var data userPayload
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return session.User{}, fmt.Errorf("gateway: decode user payload: %w", err)
	}
	if err := g.store.SetUser(ctx, data.User); err != nil {
		obs.LogError("session.persist", err, nil)
	}
	return data.User, nil
}

// do performs one JSON round trip and classifies any failure. Auth-flow
// calls suppress the generic boundary notification so the initiating caller
// can surface a contextual message instead.
func (g *Gateway) do(ctx context.Context, method, path string, body any, authFlow bool) (*Envelope, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("gateway: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL.String()+path, reader)
	if err != nil {
		return nil, fmt.Errorf("gateway: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(err, ErrSessionExpired) {
			return nil, &APIError{Category: CategoryTokenExpired, Message: genericMessage(CategoryTokenExpired)}
		}
		apiErr := &APIError{Category: CategoryNetwork, Message: genericMessage(CategoryNetwork)}
		if !authFlow {
			g.notifier.Error(apiErr.Message)
		}
		return nil, apiErr
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxEnvelopeBytes))
	if err != nil {
		return nil, fmt.Errorf("gateway: read response: %w", err)
	}
	var env Envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("gateway: decode response: %w", err)
		}
	}
	if resp.StatusCode >= 400 || !env.Success {
		apiErr := classify(resp.StatusCode, &env)
		if !authFlow {
			g.notifier.Error(orDefault(apiErr.Message, genericMessage(apiErr.Category)))
		}
		return nil, apiErr
	}
	return &env, nil
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) != "" {
		return s
	}
	return fallback
}

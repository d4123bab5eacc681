// Package httpapi is the development backend: a fully working auth server
// with HS256 access tokens and rotating refresh tokens, speaking the same
// envelope contract the client gateway consumes.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"biztreck.org/internal/audit"
	"biztreck.org/internal/config"
	"biztreck.org/internal/obs"
	"biztreck.org/internal/session"
)

const maxBodyBytes = 1 << 20

// envelope is the uniform response wrapper.
type envelope struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Code    string       `json:"code,omitempty"`
	Data    any          `json:"data,omitempty"`
	Errors  []fieldError `json:"errors,omitempty"`
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

type authData struct {
	User         session.User `json:"user"`
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
}

type tokenData struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type userData struct {
	User session.User `json:"user"`
}

// Server is the HTTP layer over the account store and token signer.
type Server struct {
	router  chi.Router
	store   *accountStore
	signer  *tokenSigner
	version string
}

// Option configures a Server.
type Option func(*serverConfig)

type serverConfig struct {
	now     func() time.Time
	version string
}

// WithClock overrides the time source for token minting and expiry.
func WithClock(fn func() time.Time) Option {
	return func(c *serverConfig) {
		if fn != nil {
			c.now = fn
		}
	}
}

// WithVersion sets the version string reported by /healthz.
func WithVersion(v string) Option {
	return func(c *serverConfig) {
		if v != "" {
			c.version = v
		}
	}
}

// New builds the development backend from configuration.
func New(mock config.MockConfig, tokens config.TokenConfig, opts ...Option) (*Server, error) {
	sc := serverConfig{now: time.Now, version: "dev"}
	for _, opt := range opts {
		opt(&sc)
	}
	signer, err := newTokenSigner(mock.TokenSecret, tokens.AccessTTL, sc.now)
	if err != nil {
		return nil, err
	}
	s := &Server{
		store:   newAccountStore(tokens.RefreshTTL, sc.now),
		signer:  signer,
		version: sc.version,
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logging)
	r.Use(SecurityHeaders)
	r.Use(CORS)
	r.Use(func(next http.Handler) http.Handler { return MaxBodyBytes(next, maxBodyBytes) })

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	limited := func(h http.HandlerFunc) http.Handler {
		return RateLimit(h, mock.LoginRateBurst, mock.LoginRatePerMin)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Method(http.MethodPost, "/login", limited(s.handleLogin))
			r.Method(http.MethodPost, "/register", limited(s.handleRegister))
			r.Post("/refresh", s.handleRefresh)
			r.Post("/logout", s.handleLogout)
			r.Post("/forgot-password", s.handleForgotPassword)
			r.Method(http.MethodPost, "/reset-password", limited(s.handleResetPassword))

			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth)
				r.Post("/logout-all", s.handleLogoutAll)
				r.Post("/change-password", s.handleChangePassword)
				r.Get("/verify-token", s.handleVerifyToken)
				r.Get("/me", s.handleMe)
			})
		})
		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Post("/users/profile", s.handleUpdateProfile)
		})
	})

	s.router = r
	return s, nil
}

// Handler returns the instrumented root handler.
func (s *Server) Handler() http.Handler {
	return obs.Instrument(s.router)
}

// Seed registers an account directly, for dev bootstrap and tests.
func (s *Server) Seed(email, password string, profile session.Profile, role session.Role) (session.User, error) {
	return s.store.CreateAccount(email, password, profile, role)
}

type ctxKey string

const claimsKey ctxKey = "httpapi_claims"

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get("Authorization"))
		const prefix = "Bearer "
		if !strings.HasPrefix(raw, prefix) {
			writeError(w, http.StatusUnauthorized, "Authorization required", "NO_TOKEN", nil)
			return
		}
		claims, err := s.signer.Verify(strings.TrimSpace(raw[len(prefix):]))
		if err != nil {
			if errors.Is(err, ErrTokenExpired) {
				writeError(w, http.StatusUnauthorized, "Access token expired", "TOKEN_EXPIRED", nil)
				return
			}
			writeError(w, http.StatusUnauthorized, "Invalid token", "INVALID_TOKEN", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

func claimsFrom(ctx context.Context) (*accessClaims, bool) {
	c, ok := ctx.Value(claimsKey).(*accessClaims)
	return c, ok
}

// --- handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "biztreck-mockapi",
		"version": s.version,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "BAD_REQUEST", nil)
		return
	}
	user, err := s.store.Authenticate(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, errAccountDeactivated) {
			writeError(w, http.StatusUnauthorized, "Account is deactivated", "ACCOUNT_DISABLED", nil)
			return
		}
		writeError(w, http.StatusUnauthorized, "Invalid credentials", "INVALID_CREDENTIALS", nil)
		return
	}
	s.issueSession(w, r, user, "Login successful", "auth.login")
}

type registerRequest struct {
	Email    string          `json:"email"`
	Password string          `json:"password"`
	Profile  session.Profile `json:"profile"`
	Role     string          `json:"role"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "BAD_REQUEST", nil)
		return
	}
	var fields []fieldError
	if strings.TrimSpace(req.Email) == "" || !strings.Contains(req.Email, "@") {
		fields = append(fields, fieldError{Field: "email", Message: "a valid email is required"})
	}
	if len(req.Password) < 8 {
		fields = append(fields, fieldError{Field: "password", Message: "password must be at least 8 characters"})
	}
	if strings.TrimSpace(req.Profile.FirstName) == "" {
		fields = append(fields, fieldError{Field: "profile.firstName", Message: "first name is required"})
	}
	if strings.TrimSpace(req.Profile.LastName) == "" {
		fields = append(fields, fieldError{Field: "profile.lastName", Message: "last name is required"})
	}
	role := session.RoleClient
	if req.Role != "" {
		parsed, err := session.ParseRole(req.Role)
		if err != nil {
			fields = append(fields, fieldError{Field: "role", Message: "unknown role", Value: req.Role})
		} else {
			role = parsed
		}
	}
	if len(fields) > 0 {
		writeError(w, http.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", fields)
		return
	}

	user, err := s.store.CreateAccount(req.Email, req.Password, req.Profile, role)
	if err != nil {
		if errors.Is(err, errEmailTaken) {
			writeError(w, http.StatusBadRequest, "Validation failed", "VALIDATION_ERROR",
				[]fieldError{{Field: "email", Message: "email is already registered"}})
			return
		}
		writeError(w, http.StatusInternalServerError, "Registration failed", "INTERNAL", nil)
		return
	}
	s.issueSession(w, r, user, "Registration successful", "auth.register")
}

func (s *Server) issueSession(w http.ResponseWriter, r *http.Request, user session.User, message, event string) {
	access, err := s.signer.Mint(user.ID, user.Email, string(user.Role))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Token generation failed", "INTERNAL", nil)
		return
	}
	refresh, err := s.store.IssueRefreshToken(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Token generation failed", "INTERNAL", nil)
		return
	}
	_ = audit.LogEvent(r.Context(), event, map[string]any{"user_id": user.ID, "role": string(user.Role)})
	writeSuccess(w, http.StatusOK, message, authData{User: user, AccessToken: access, RefreshToken: refresh})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusUnauthorized, "Invalid refresh token", "INVALID_REFRESH_TOKEN", nil)
		return
	}
	userID, next, err := s.store.RotateRefreshToken(req.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid refresh token", "INVALID_REFRESH_TOKEN", nil)
		return
	}
	user, err := s.store.Find(userID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid refresh token", "INVALID_REFRESH_TOKEN", nil)
		return
	}
	access, err := s.signer.Mint(user.ID, user.Email, string(user.Role))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Token generation failed", "INTERNAL", nil)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.refresh", map[string]any{"user_id": user.ID})
	writeSuccess(w, http.StatusOK, "Token refreshed", tokenData{AccessToken: access, RefreshToken: next})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err == nil && req.RefreshToken != "" {
		s.store.RevokeRefreshToken(req.RefreshToken)
	}
	_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	writeSuccess(w, http.StatusOK, "Logged out successfully", nil)
}

func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authorization required", "NO_TOKEN", nil)
		return
	}
	s.store.RevokeAllRefreshTokens(claims.Subject)
	_ = audit.LogEvent(r.Context(), "auth.logout_all", map[string]any{"user_id": claims.Subject})
	writeSuccess(w, http.StatusOK, "Logged out from all devices", nil)
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "Validation failed", "VALIDATION_ERROR",
			[]fieldError{{Field: "email", Message: "email is required"}})
		return
	}
	// No mail delivery here: the token is logged so a developer can pick it
	// up. The response never reveals whether the email is registered.
	if token, ok := s.store.IssueResetToken(req.Email); ok {
		obs.LogEvent("auth.reset_token_issued", map[string]any{"email": req.Email, "token": token})
	}
	writeSuccess(w, http.StatusOK, "Password reset email sent", nil)
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, "Invalid or expired reset token", "INVALID_RESET_TOKEN", nil)
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "Validation failed", "VALIDATION_ERROR",
			[]fieldError{{Field: "password", Message: "password must be at least 8 characters"}})
		return
	}
	if err := s.store.ConsumeResetToken(req.Token, req.Password); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid or expired reset token", "INVALID_RESET_TOKEN", nil)
		return
	}
	writeSuccess(w, http.StatusOK, "Password reset successful", nil)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "BAD_REQUEST", nil)
		return
	}
	if len(req.NewPassword) < 8 {
		writeError(w, http.StatusBadRequest, "Validation failed", "VALIDATION_ERROR",
			[]fieldError{{Field: "newPassword", Message: "password must be at least 8 characters"}})
		return
	}
	if err := s.store.ChangePassword(claims.Subject, req.CurrentPassword, req.NewPassword); err != nil {
		if errors.Is(err, errPasswordMismatch) {
			writeError(w, http.StatusBadRequest, "Current password is incorrect", "INVALID_PASSWORD", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Password change failed", "INTERNAL", nil)
		return
	}
	writeSuccess(w, http.StatusOK, "Password changed successfully", nil)
}

func (s *Server) handleVerifyToken(w http.ResponseWriter, r *http.Request) {
	s.respondWithUser(w, r, "Token is valid")
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	s.respondWithUser(w, r, "")
}

func (s *Server) respondWithUser(w http.ResponseWriter, r *http.Request, message string) {
	claims, _ := claimsFrom(r.Context())
	user, err := s.store.Find(claims.Subject)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid token", "INVALID_TOKEN", nil)
		return
	}
	writeSuccess(w, http.StatusOK, message, userData{User: user})
}

type profileUpdateRequest struct {
	Profile *session.Profile `json:"profile"`
	Email   string           `json:"email"`
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	var req profileUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "BAD_REQUEST", nil)
		return
	}
	user, err := s.store.UpdateProfile(claims.Subject, req.Profile, req.Email)
	if err != nil {
		if errors.Is(err, errEmailTaken) {
			writeError(w, http.StatusBadRequest, "Validation failed", "VALIDATION_ERROR",
				[]fieldError{{Field: "email", Message: "email is already registered"}})
			return
		}
		writeError(w, http.StatusInternalServerError, "Profile update failed", "INTERNAL", nil)
		return
	}
	writeSuccess(w, http.StatusOK, "Profile updated successfully", userData{User: user})
}

// --- helpers ---

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSuccess(w http.ResponseWriter, code int, message string, data any) {
	writeJSON(w, code, envelope{Success: true, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, code int, message, errCode string, fields []fieldError) {
	writeJSON(w, code, envelope{Message: message, Code: errCode, Errors: fields})
}

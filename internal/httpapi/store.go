package httpapi

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"biztreck.org/internal/ids"
	"biztreck.org/internal/session"
)

var (
	errAccountNotFound    = errors.New("httpapi: account not found")
	errEmailTaken         = errors.New("httpapi: email already registered")
	errBadRefreshToken    = errors.New("httpapi: invalid refresh token")
	errBadResetToken      = errors.New("httpapi: invalid reset token")
	errAccountDeactivated = errors.New("httpapi: account deactivated")
)

// account is one stored identity plus its credential hash.
type account struct {
	User         session.User
	PasswordHash string
}

// refreshRecord is the at-rest form of an issued refresh token. Only the
// sha256 of the secret half is stored.
type refreshRecord struct {
	ID         string
	UserID     string
	SecretHash string
	ExpiresAt  time.Time
	Revoked    bool
}

// accountStore is the in-memory backing of the development backend.
type accountStore struct {
	mu          sync.Mutex
	byID        map[string]*account
	byEmail     map[string]string
	refresh     map[string]*refreshRecord
	resetTokens map[string]string
	refreshTTL  time.Duration
	now         func() time.Time
}

func newAccountStore(refreshTTL time.Duration, now func() time.Time) *accountStore {
	if now == nil {
		now = time.Now
	}
	return &accountStore{
		byID:        make(map[string]*account),
		byEmail:     make(map[string]string),
		refresh:     make(map[string]*refreshRecord),
		resetTokens: make(map[string]string),
		refreshTTL:  refreshTTL,
		now:         now,
	}
}

// CreateAccount registers a new identity. The email is the uniqueness key.
func (s *accountStore) CreateAccount(email, password string, profile session.Profile, role session.Role) (session.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return session.User{}, errors.New("httpapi: email and password are required")
	}
	hash, err := hashPassword(password)
	if err != nil {
		return session.User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[email]; ok {
		return session.User{}, errEmailTaken
	}
	now := s.now().UTC()
	if profile.FullName == "" {
		profile.FullName = strings.TrimSpace(profile.FirstName + " " + profile.LastName)
	}
	user := session.User{
		ID:          ids.New(),
		Email:       email,
		Role:        role,
		Profile:     profile,
		Permissions: []string{},
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.byID[user.ID] = &account{User: user, PasswordHash: hash}
	s.byEmail[email] = user.ID
	return user, nil
}

// Authenticate checks credentials and returns the identity record.
func (s *accountStore) Authenticate(email, password string) (session.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))

	s.mu.Lock()
	id, ok := s.byEmail[email]
	var acc *account
	if ok {
		acc = s.byID[id]
	}
	s.mu.Unlock()

	if acc == nil {
		return session.User{}, errAccountNotFound
	}
	if !acc.User.IsActive {
		return session.User{}, errAccountDeactivated
	}
	if err := verifyPassword(acc.PasswordHash, password); err != nil {
		return session.User{}, errAccountNotFound
	}

	s.mu.Lock()
	now := s.now().UTC()
	acc.User.LastLogin = &now
	user := acc.User
	s.mu.Unlock()
	return user, nil
}

// Find returns the identity record by ID.
func (s *accountStore) Find(userID string) (session.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.byID[userID]
	if !ok {
		return session.User{}, errAccountNotFound
	}
	return acc.User, nil
}

// UpdateProfile applies a partial update and returns the canonical record.
func (s *accountStore) UpdateProfile(userID string, profile *session.Profile, email string) (session.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.byID[userID]
	if !ok {
		return session.User{}, errAccountNotFound
	}
	if profile != nil {
		updated := acc.User.Profile
		if profile.FirstName != "" {
			updated.FirstName = profile.FirstName
		}
		if profile.LastName != "" {
			updated.LastName = profile.LastName
		}
		if profile.Avatar != "" {
			updated.Avatar = profile.Avatar
		}
		if profile.Phone != "" {
			updated.Phone = profile.Phone
		}
		if profile.Address != nil {
			addr := *profile.Address
			updated.Address = &addr
		}
		updated.FullName = strings.TrimSpace(updated.FirstName + " " + updated.LastName)
		acc.User.Profile = updated
	}
	if email = strings.TrimSpace(strings.ToLower(email)); email != "" && email != acc.User.Email {
		if _, taken := s.byEmail[email]; taken {
			return session.User{}, errEmailTaken
		}
		delete(s.byEmail, acc.User.Email)
		s.byEmail[email] = userID
		acc.User.Email = email
	}
	acc.User.UpdatedAt = s.now().UTC()
	return acc.User, nil
}

// ChangePassword rotates the credential after checking the current one.
func (s *accountStore) ChangePassword(userID, current, next string) error {
	s.mu.Lock()
	acc, ok := s.byID[userID]
	s.mu.Unlock()
	if !ok {
		return errAccountNotFound
	}
	if err := verifyPassword(acc.PasswordHash, current); err != nil {
		return errPasswordMismatch
	}
	hash, err := hashPassword(next)
	if err != nil {
		return err
	}
	s.mu.Lock()
	acc.PasswordHash = hash
	acc.User.UpdatedAt = s.now().UTC()
	s.mu.Unlock()
	return nil
}

// IssueRefreshToken mints a new opaque refresh token "id.secret" and stores
// only the hash of the secret half.
func (s *accountStore) IssueRefreshToken(userID string) (string, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	sum := sha256.Sum256([]byte(secret))
	rec := &refreshRecord{
		ID:         ids.New(),
		UserID:     userID,
		SecretHash: hex.EncodeToString(sum[:]),
		ExpiresAt:  s.now().UTC().Add(s.refreshTTL),
	}

	s.mu.Lock()
	s.refresh[rec.ID] = rec
	s.mu.Unlock()
	return rec.ID + "." + secret, nil
}

// RotateRefreshToken validates and revokes the presented token, then issues a
// replacement for the same user. A secret mismatch on a live record revokes
// it outright.
func (s *accountStore) RotateRefreshToken(raw string) (string, string, error) {
	id, secret, err := splitRefreshToken(raw)
	if err != nil {
		return "", "", errBadRefreshToken
	}

	s.mu.Lock()
	rec, ok := s.refresh[id]
	if !ok || rec.Revoked || s.now().After(rec.ExpiresAt) {
		s.mu.Unlock()
		return "", "", errBadRefreshToken
	}
	if !secureCompareHash(rec.SecretHash, secret) {
		rec.Revoked = true
		s.mu.Unlock()
		return "", "", errBadRefreshToken
	}
	rec.Revoked = true
	userID := rec.UserID
	s.mu.Unlock()

	next, err := s.IssueRefreshToken(userID)
	if err != nil {
		return "", "", err
	}
	return userID, next, nil
}

// RevokeRefreshToken invalidates one presented token. Unknown tokens are
// ignored: logout must succeed regardless.
func (s *accountStore) RevokeRefreshToken(raw string) {
	id, _, err := splitRefreshToken(raw)
	if err != nil {
		return
	}
	s.mu.Lock()
	if rec, ok := s.refresh[id]; ok {
		rec.Revoked = true
	}
	s.mu.Unlock()
}

// RevokeAllRefreshTokens invalidates every live token of one user.
func (s *accountStore) RevokeAllRefreshTokens(userID string) {
	s.mu.Lock()
	for _, rec := range s.refresh {
		if rec.UserID == userID {
			rec.Revoked = true
		}
	}
	s.mu.Unlock()
}

// IssueResetToken creates a one-time password reset token for the email, if
// registered. The bool reports whether the email matched an account; callers
// must not leak that to the client.
func (s *accountStore) IssueResetToken(email string) (string, bool) {
	email = strings.TrimSpace(strings.ToLower(email))
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[email]
	if !ok {
		return "", false
	}
	token := ids.New()
	s.resetTokens[token] = id
	return token, true
}

// ConsumeResetToken redeems a reset token and installs the new password.
func (s *accountStore) ConsumeResetToken(token, password string) error {
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.resetTokens[token]
	if !ok {
		return errBadResetToken
	}
	acc, ok := s.byID[userID]
	if !ok {
		return errBadResetToken
	}
	delete(s.resetTokens, token)
	acc.PasswordHash = hash
	acc.User.UpdatedAt = s.now().UTC()
	return nil
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

func secureCompareHash(expectedHash, secret string) bool {
	sum := sha256.Sum256([]byte(secret))
	actual := hex.EncodeToString(sum[:])
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}

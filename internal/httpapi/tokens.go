package httpapi

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"biztreck.org/internal/ids"
)

const tokenIssuer = "biztreck-mockapi"

// ErrTokenExpired marks an access token that validated except for its expiry.
// Handlers translate it into the TOKEN_EXPIRED response code.
var ErrTokenExpired = errors.New("httpapi: token expired")

// ErrInvalidToken covers every other access token failure.
var ErrInvalidToken = errors.New("httpapi: invalid token")

// accessClaims is the HS256 access token payload.
type accessClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// tokenSigner mints and verifies HS256 access tokens.
type tokenSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func newTokenSigner(secret string, ttl time.Duration, now func() time.Time) (*tokenSigner, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("httpapi: token secret is required")
	}
	if ttl <= 0 {
		return nil, errors.New("httpapi: access token ttl must be > 0")
	}
	if now == nil {
		now = time.Now
	}
	return &tokenSigner{secret: []byte(secret), ttl: ttl, now: now}, nil
}

// Mint signs an access token for the account.
func (s *tokenSigner) Mint(userID, email, role string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("httpapi: userID is required")
	}
	now := s.now().UTC()
	claims := accessClaims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        ids.New(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// Verify checks signature, issuer and expiry. Expiry is reported as
// ErrTokenExpired so callers can distinguish it from a forged token.
func (s *tokenSigner) Verify(token string) (*accessClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &accessClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(func() time.Time { return s.now().UTC() }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*accessClaims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"biztreck.org/internal/audit"
	"biztreck.org/internal/obs"
	"biztreck.org/internal/session"
)

const maxEnvelopeBytes = 1 << 20

// Transport is the authenticated round tripper. Every request carries the
// current access token as a bearer credential and an X-Request-ID. When a
// response signals TOKEN_EXPIRED the transport renews the token pair and
// replays the request exactly once; concurrent expiries collapse into a
// single renewal call.
type Transport struct {
	base       http.RoundTripper
	store      *session.Store
	refreshURL string
	notifier   Notifier
	timeout    time.Duration
	group      singleflight.Group
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithBase overrides the underlying round tripper.
func WithBase(rt http.RoundTripper) TransportOption {
	return func(t *Transport) {
		if rt != nil {
			t.base = rt
		}
	}
}

// WithTransportNotifier wires the UI signal port for unrecoverable failures.
func WithTransportNotifier(n Notifier) TransportOption {
	return func(t *Transport) {
		if n != nil {
			t.notifier = n
		}
	}
}

// NewTransport builds the renewal-aware round tripper. refreshURL is the
// absolute URL of the token renewal endpoint.
func NewTransport(store *session.Store, refreshURL string, opts ...TransportOption) *Transport {
	t := &Transport{
		base:       http.DefaultTransport,
		store:      store,
		refreshURL: refreshURL,
		notifier:   NopNotifier{},
		timeout:    10 * time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.Header.Set("X-Request-ID", uuid.NewString())
	if tok := t.store.AccessToken(); tok != "" && out.Header.Get("Authorization") == "" {
		out.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := t.base.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	// Peek the envelope: only the distinguished expiry code triggers renewal.
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxEnvelopeBytes))
	resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	var env Envelope
	if json.Unmarshal(body, &env) != nil || env.Code != CodeTokenExpired {
		return resp, nil
	}
	if req.GetBody == nil && req.Body != nil {
		// Cannot replay a consumed streaming body.
		return resp, nil
	}

	token, err := t.renew(req.Context())
	if err != nil {
		return nil, err
	}

	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		rc, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = rc
	}
	retry.Header.Set("Authorization", "Bearer "+token)
	retry.Header.Set("X-Request-ID", uuid.NewString())
	// One replay only. If the server rejects the renewed token the failure
	// propagates to the caller instead of looping back here.
	return t.base.RoundTrip(retry)
}

// renew obtains a fresh token pair through the refresh endpoint. Concurrent
// callers share one in-flight renewal. Any failure clears the session and
// signals the login redirect.
func (t *Transport) renew(ctx context.Context) (string, error) {
	v, err, _ := t.group.Do("renew", func() (any, error) {
		renewCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout)
		defer cancel()

		start := time.Now()
		token, err := t.renewOnce(renewCtx)
		if err != nil {
			obs.ObserveTokenRenewal("failure", time.Since(start))
			_ = audit.LogEvent(renewCtx, "auth.token.renewal_failed", map[string]any{"reason": err.Error()})
			if clearErr := t.store.ClearAuth(renewCtx); clearErr != nil {
				obs.LogError("session.clear", clearErr, nil)
			}
			t.notifier.SessionCleared()
			t.notifier.NavigateLogin()
			return nil, fmt.Errorf("%w: %v", ErrSessionExpired, err)
		}
		obs.ObserveTokenRenewal("success", time.Since(start))
		_ = audit.LogEvent(renewCtx, "auth.token.renewed", nil)
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (t *Transport) renewOnce(ctx context.Context) (string, error) {
	refresh := t.store.RefreshToken()
	if refresh == "" {
		return "", fmt.Errorf("no refresh token available")
	}
	user := t.store.Snapshot().User
	if user == nil {
		return "", fmt.Errorf("no user record to renew")
	}

	payload, err := json.Marshal(map[string]string{"refreshToken": refresh})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.refreshURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	// The renewal call goes through the base transport directly: it must
	// never carry the stale bearer token or re-enter the retry path.
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEnvelopeBytes))
	if err != nil {
		return "", err
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", fmt.Errorf("decode renewal response: %w", err)
	}
	if resp.StatusCode >= 400 || !env.Success {
		msg := strings.TrimSpace(env.Message)
		if msg == "" {
			msg = fmt.Sprintf("renewal rejected with status %d", resp.StatusCode)
		}
		return "", fmt.Errorf("%s", msg)
	}

	var pair struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.Unmarshal(env.Data, &pair); err != nil {
		return "", fmt.Errorf("decode renewal payload: %w", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		return "", fmt.Errorf("renewal payload missing tokens")
	}

	// Store the rotated pair, preserving the current user record.
	if err := t.store.SetAuth(ctx, *user, pair.AccessToken, pair.RefreshToken); err != nil {
		obs.LogError("session.persist", err, nil)
	}
	return pair.AccessToken, nil
}

package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"bookingdesk/internal/models"
)

const (
	refreshKey      = "refresh"
	refreshTimeout  = 15 * time.Second
	requestIDHeader = "X-Request-ID"
)

// RefreshFailedError is returned by every request waiting on a failed refresh.
// Status and Message describe the 401 that triggered the refresh.
type RefreshFailedError struct {
	Status  int
	Message string
	Err     error
}

func (e *RefreshFailedError) Error() string {
	return fmt.Sprintf("request rejected with %d (%s): %v", e.Status, e.Message, e.Err)
}

func (e *RefreshFailedError) Is(target error) bool {
	return target == models.ErrAuthRefresh || target == models.ErrAuthRequired
}

func (e *RefreshFailedError) Unwrap() error { return e.Err }

type noRetryKey struct{}

// WithoutRetry marks ctx so a 401 is returned as-is without a refresh attempt.
func WithoutRetry(ctx context.Context) context.Context {
	return context.WithValue(ctx, noRetryKey{}, true)
}

func retryDisabled(ctx context.Context) bool {
	v, _ := ctx.Value(noRetryKey{}).(bool)
	return v
}

// Transport attaches the bearer token to outbound requests and, on 401,
// refreshes the token once for all concurrent callers and retries each
// original request exactly once.
type Transport struct {
	base       http.RoundTripper
	store      *SessionStore
	refreshURL string
	log        *zerolog.Logger

	group     singleflight.Group
	skew      time.Duration
	onRefresh func(error)
}

// NewTransport wraps base. refreshURL is the absolute POST /auth/refresh-tokens endpoint.
func NewTransport(base http.RoundTripper, store *SessionStore, refreshURL string, logger *zerolog.Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Transport{
		base:       base,
		store:      store,
		refreshURL: refreshURL,
		log:        logger,
	}
}

// UseProactiveRefresh refreshes before sending when the access token expires within skew.
func (t *Transport) UseProactiveRefresh(skew time.Duration) {
	t.skew = skew
}

// OnRefresh registers a hook called after every refresh attempt that hit the network.
func (t *Transport) OnRefresh(fn func(error)) {
	t.onRefresh = fn
}

// RoundTrip implements http.RoundTripper. When the refresh after a 401 fails,
// the rejection is propagated as a *RefreshFailedError carrying the original
// status and message, since the response body has already been consumed.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	if t.skew > 0 && t.expiresSoon() {
		if err := t.refresh(ctx, t.store.AccessToken()); err != nil {
			t.log.Warn().Err(err).Msg("proactive token refresh failed")
		}
	}

	first := cloneRequest(req, body)
	if first.Header.Get(requestIDHeader) == "" {
		first.Header.Set(requestIDHeader, uuid.NewString())
	}
	sentToken := t.store.AccessToken()
	if sentToken != "" && first.Header.Get("Authorization") == "" {
		first.Header.Set("Authorization", "Bearer "+sentToken)
	}

	resp, err := t.base.RoundTrip(first)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || retryDisabled(ctx) {
		return resp, nil
	}

	// Keep the original rejection so it can be reported if the refresh fails.
	original, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()

	if t.store.AccessToken() == sentToken {
		if err := t.refresh(ctx, sentToken); err != nil {
			return nil, &RefreshFailedError{
				Status:  resp.StatusCode,
				Message: errorMessage(original, resp.Status),
				Err:     err,
			}
		}
	}

	retry := cloneRequest(req, body)
	retry.Header.Set(requestIDHeader, first.Header.Get(requestIDHeader))
	if token := t.store.AccessToken(); token != "" {
		retry.Header.Set("Authorization", "Bearer "+token)
	}
	t.log.Debug().Str("method", req.Method).Str("url", req.URL.Path).Msg("retrying request after token refresh")
	return t.base.RoundTrip(retry)
}

// refresh runs at most one refresh at a time; concurrent callers share its result.
// staleToken is the access token the caller saw rejected; if the store already
// holds a different token the refresh is skipped.
func (t *Transport) refresh(ctx context.Context, staleToken string) error {
	ch := t.group.DoChan(refreshKey, func() (interface{}, error) {
		if current := t.store.AccessToken(); current != "" && current != staleToken {
			return nil, nil
		}
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		err := t.doRefresh(flightCtx)
		if t.onRefresh != nil {
			t.onRefresh(err)
		}
		return nil, err
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) doRefresh(ctx context.Context) error {
	refreshToken := t.store.RefreshToken()
	if refreshToken == "" {
		return fmt.Errorf("%w: no refresh token", models.ErrAuthRefresh)
	}

	payload, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.refreshURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrAuthRefresh, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(requestIDHeader, uuid.NewString())

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrAuthRefresh, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: http %d: %s", models.ErrAuthRefresh, resp.StatusCode, errorMessage(data, resp.Status))
	}

	tokens, err := decodeTokens(data)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrAuthRefresh, err)
	}
	if err := t.store.UpdateTokens(ctx, tokens); err != nil {
		if errors.Is(err, models.ErrAuthRequired) {
			return fmt.Errorf("%w: %v", models.ErrAuthRefresh, err)
		}
		// the in-memory tokens are already updated; persistence is best effort
		t.log.Error().Err(err).Msg("persist refreshed tokens")
	}
	t.log.Info().Time("access_expires", tokens.Access.Expires).Msg("access token refreshed")
	return nil
}

// decodeTokens accepts both {access, refresh} and {tokens: {access, refresh}}.
func decodeTokens(data []byte) (models.Tokens, error) {
	var wrapped struct {
		Tokens *models.Tokens `json:"tokens"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return models.Tokens{}, fmt.Errorf("decode refresh response: %w", err)
	}
	tokens := wrapped.Tokens
	if tokens == nil {
		tokens = &models.Tokens{}
		if err := json.Unmarshal(data, tokens); err != nil {
			return models.Tokens{}, fmt.Errorf("decode refresh response: %w", err)
		}
	}
	if !tokens.Valid() {
		return models.Tokens{}, errors.New("malformed refresh response")
	}
	return *tokens, nil
}

func (t *Transport) expiresSoon() bool {
	token := t.store.AccessToken()
	if token == "" || t.store.RefreshToken() == "" {
		return false
	}
	exp := tokenExpiry(token)
	if exp.IsZero() {
		exp = t.store.AccessExpiry()
	}
	if exp.IsZero() {
		return false
	}
	return time.Until(exp) < t.skew
}

// tokenExpiry reads the exp claim without verifying the signature; the server
// remains the authority on validity.
func tokenExpiry(token string) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	return data, nil
}

func cloneRequest(req *http.Request, body []byte) *http.Request {
	r := req.Clone(req.Context())
	if body == nil {
		r.Body = http.NoBody
		r.GetBody = nil
		return r
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	r.ContentLength = int64(len(body))
	return r
}

func errorMessage(body []byte, fallback string) string {
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		return e.Message
	}
	if s := strings.TrimSpace(string(body)); s != "" && len(s) < 200 {
		return s
	}
	return fallback
}

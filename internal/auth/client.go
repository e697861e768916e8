package auth

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
	"github.com/rs/zerolog"

	"bookingdesk/internal/models"
)

// Client performs the login and logout calls against the booking API.
type Client struct {
	baseURL string
	http    *http.Client
	store   *SessionStore
	log     *zerolog.Logger
}

// NewClient builds an auth client. The HTTP client must not use Transport,
// otherwise a failed login would trigger a refresh.
func NewClient(baseURL string, timeout time.Duration, store *SessionStore, logger *zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		store:   store,
		log:     logger,
	}
}

// RefreshURL is the endpoint Transport should call to renew tokens.
func (c *Client) RefreshURL() string {
	return c.baseURL + "/auth/refresh-tokens"
}

type loginResponse struct {
	User   models.User   `json:"user"`
	Tokens models.Tokens `json:"tokens"`
}

// Login authenticates and stores the resulting session.
func (c *Client) Login(ctx context.Context, email, password string) (models.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return models.User{}, fmt.Errorf("%w: email and password are required", models.ErrValidation)
	}

	var out loginResponse
	status, err := c.post(ctx, "/auth/login", map[string]string{"email": email, "password": password}, &out)
	if err != nil {
		if status == http.StatusUnauthorized || status == http.StatusBadRequest {
			return models.User{}, fmt.Errorf("%w: %v", models.ErrAuthRequired, err)
		}
		return models.User{}, err
	}
	if !out.Tokens.Valid() {
		return models.User{}, fmt.Errorf("login: response is missing tokens")
	}

	if err := c.store.Set(ctx, out.User, out.Tokens); err != nil {
		c.log.Error().Err(err).Msg("persist session")
	}
	c.log.Info().Str("email", out.User.Email).Bool("admin", c.store.IsAdmin()).Msg("logged in")
	return out.User, nil
}

// Logout revokes the refresh token server-side and always clears the local session.
func (c *Client) Logout(ctx context.Context) error {
	refresh := c.store.RefreshToken()
	var callErr error
	if refresh != "" {
		_, callErr = c.post(ctx, "/auth/logout", map[string]string{"refreshToken": refresh}, nil)
		if callErr != nil {
			c.log.Warn().Err(callErr).Msg("server logout failed, clearing local session anyway")
		}
	}
	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload, out interface{}) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(requestIDHeader, uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("POST %s: http %d: %s", path, resp.StatusCode, errorMessage(data, resp.Status))
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

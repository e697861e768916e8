package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookingdesk/internal/models"
)

func TestClient_LoginStoresSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/login", r.URL.Path)
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		if in["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":401,"message":"Incorrect email or password"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"user":   models.User{ID: "u1", Email: in["email"]},
			"tokens": testTokens("a", "r"),
		})
	}))
	defer srv.Close()

	logger := zerolog.New(io.Discard)
	store := NewSessionStore([]string{"admin@example.com"}, nil)
	c := NewClient(srv.URL, 0, store, &logger)

	_, err := c.Login(context.Background(), "admin@example.com", "wrong")
	assert.ErrorIs(t, err, models.ErrAuthRequired)
	assert.False(t, store.LoggedIn())

	user, err := c.Login(context.Background(), "admin@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.True(t, store.IsAdmin())
	assert.Equal(t, srv.URL+"/auth/refresh-tokens", c.RefreshURL())
}

func TestClient_LoginValidatesInput(t *testing.T) {
	c := NewClient("http://127.0.0.1:0", 0, NewSessionStore(nil, nil), nil)
	_, err := c.Login(context.Background(), " ", "x")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestClient_LogoutClearsEvenWhenServerFails(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := NewSessionStore(nil, nil)
	require.NoError(t, store.Set(context.Background(), models.User{Email: "x@example.com"}, testTokens("a", "r")))
	c := NewClient(srv.URL, 0, store, nil)

	require.NoError(t, c.Logout(context.Background()))
	assert.Equal(t, "r", got["refreshToken"])
	assert.False(t, store.LoggedIn())
}

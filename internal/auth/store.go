// Package auth owns the admin session and the single-flight token refresh transport.
package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"bookingdesk/internal/models"
)

// Session is the process-wide identity: the logged-in user and its tokens.
type Session struct {
	User   models.User
	Tokens models.Tokens
}

// Persister saves and restores a session across process restarts.
type Persister interface {
	Load(ctx context.Context) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Clear(ctx context.Context) error
}

// SessionStore is the single owner of session state. Reads are concurrent;
// writes happen on login, token refresh and logout.
type SessionStore struct {
	mu          sync.RWMutex
	session     *Session
	adminEmails []string
	persister   Persister

	loadOnce sync.Once
	loadErr  error
}

// NewSessionStore creates a store. persister may be nil for an in-memory session.
func NewSessionStore(adminEmails []string, persister Persister) *SessionStore {
	return &SessionStore{
		adminEmails: adminEmails,
		persister:   persister,
	}
}

// Load restores the persisted session once. Later calls are no-ops.
func (s *SessionStore) Load(ctx context.Context) error {
	s.loadOnce.Do(func() {
		if s.persister == nil {
			return
		}
		sess, err := s.persister.Load(ctx)
		if err != nil {
			s.loadErr = fmt.Errorf("load session: %w", err)
			return
		}
		s.mu.Lock()
		if s.session == nil {
			s.session = sess
		}
		s.mu.Unlock()
	})
	return s.loadErr
}

// Set replaces the session after a successful login.
func (s *SessionStore) Set(ctx context.Context, user models.User, tokens models.Tokens) error {
	s.mu.Lock()
	s.session = &Session{User: user, Tokens: tokens}
	snapshot := *s.session
	s.mu.Unlock()

	if s.persister != nil {
		return s.persister.Save(ctx, &snapshot)
	}
	return nil
}

// UpdateTokens swaps the token pair in place, keeping the user. Tokens that
// arrive after Clear are dropped so a logout is never undone.
func (s *SessionStore) UpdateTokens(ctx context.Context, tokens models.Tokens) error {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: session cleared before tokens were updated", models.ErrAuthRequired)
	}
	s.session.Tokens = tokens
	snapshot := *s.session
	s.mu.Unlock()

	if s.persister != nil {
		return s.persister.Save(ctx, &snapshot)
	}
	return nil
}

// Clear destroys the session.
func (s *SessionStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.session = nil
	s.mu.Unlock()

	if s.persister != nil {
		return s.persister.Clear(ctx)
	}
	return nil
}

// AccessToken returns the current access token or "".
func (s *SessionStore) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return ""
	}
	return s.session.Tokens.Access.Token
}

// RefreshToken returns the current refresh token or "".
func (s *SessionStore) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return ""
	}
	return s.session.Tokens.Refresh.Token
}

// AccessExpiry returns the recorded access token expiry, zero if unknown.
func (s *SessionStore) AccessExpiry() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return time.Time{}
	}
	return s.session.Tokens.Access.Expires
}

// User returns a copy of the logged-in user.
func (s *SessionStore) User() (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return models.User{}, false
	}
	return s.session.User, true
}

// LoggedIn reports whether an access token is held.
func (s *SessionStore) LoggedIn() bool {
	return s.AccessToken() != ""
}

// IsAdmin reports whether the session belongs to a configured admin account.
func (s *SessionStore) IsAdmin() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil || s.session.Tokens.Access.Token == "" {
		return false
	}
	return models.IsAdminEmail(s.session.User.Email, s.adminEmails)
}

// RequireAdmin fails fast with ErrAuthRequired when no admin session is held.
func (s *SessionStore) RequireAdmin() error {
	if !s.IsAdmin() {
		return models.ErrAuthRequired
	}
	return nil
}

// SQLitePersister keeps the session in a single-row SQLite table.
type SQLitePersister struct {
	db *sql.DB
}

// NewSQLitePersister opens (or creates) the session database at path.
func NewSQLitePersister(path string) (*SQLitePersister, error) {
	if path == "" {
		path = "data/session.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS auth_session (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		user_json TEXT NOT NULL,
		access_token TEXT NOT NULL,
		access_expires DATETIME,
		refresh_token TEXT NOT NULL,
		refresh_expires DATETIME,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create auth_session table: %w", err)
	}
	return &SQLitePersister{db: db}, nil
}

// Load returns nil, nil when no session is stored.
func (p *SQLitePersister) Load(ctx context.Context) (*Session, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT user_json, access_token, access_expires, refresh_token, refresh_expires
		FROM auth_session WHERE id = 1`)

	var (
		userJSON       string
		s              Session
		accessExpires  sql.NullTime
		refreshExpires sql.NullTime
	)
	err := row.Scan(&userJSON, &s.Tokens.Access.Token, &accessExpires, &s.Tokens.Refresh.Token, &refreshExpires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(userJSON), &s.User); err != nil {
		return nil, fmt.Errorf("decode stored user: %w", err)
	}
	if accessExpires.Valid {
		s.Tokens.Access.Expires = accessExpires.Time
	}
	if refreshExpires.Valid {
		s.Tokens.Refresh.Expires = refreshExpires.Time
	}
	return &s, nil
}

// Save upserts the single session row.
func (p *SQLitePersister) Save(ctx context.Context, s *Session) error {
	userJSON, err := json.Marshal(s.User)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO auth_session (id, user_json, access_token, access_expires, refresh_token, refresh_expires, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_json = excluded.user_json,
			access_token = excluded.access_token,
			access_expires = excluded.access_expires,
			refresh_token = excluded.refresh_token,
			refresh_expires = excluded.refresh_expires,
			updated_at = excluded.updated_at`,
		string(userJSON),
		s.Tokens.Access.Token, nullTime(s.Tokens.Access.Expires),
		s.Tokens.Refresh.Token, nullTime(s.Tokens.Refresh.Expires),
		time.Now())
	return err
}

// Clear removes the stored session.
func (p *SQLitePersister) Clear(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM auth_session`)
	return err
}

// Close releases the database handle.
func (p *SQLitePersister) Close() error {
	return p.db.Close()
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// Ping checks the database handle.
func (p *SQLitePersister) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

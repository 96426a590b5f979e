package db

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Gigatchad/uploadDocYnov/internal/apperr"
)

// Account is a credential row, separate from the profile so the identity
// layer can be swapped without touching users.
type Account struct {
	UID          string
	Email        string
	PasswordHash string
	DisplayName  string
	Disabled     bool
	Claims       map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const accountColumns = `uid, email, password_hash, display_name, disabled, claims, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var (
		a          Account
		claimsJSON []byte
	)
	err := row.Scan(&a.UID, &a.Email, &a.PasswordHash, &a.DisplayName, &a.Disabled,
		&claimsJSON, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, apperr.NotFound("USER_NOT_FOUND")
	}
	if err != nil {
		return Account{}, err
	}
	if err := json.Unmarshal(claimsJSON, &a.Claims); err != nil {
		return Account{}, err
	}
	return a, nil
}

func (s *Store) CreateAccount(ctx context.Context, a Account) error {
	claims := a.Claims
	if claims == nil {
		claims = map[string]any{}
	}
	claimsJSON, _ := json.Marshal(claims)
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO accounts (uid, email, password_hash, display_name, disabled, claims, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$7)`,
		a.UID, strings.TrimSpace(a.Email), a.PasswordHash, a.DisplayName, a.Disabled, claimsJSON, a.CreatedAt)
	return err
}

func (s *Store) GetAccount(ctx context.Context, uid string) (Account, error) {
	return scanAccount(s.Pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE uid = $1`, uid))
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	return scanAccount(s.Pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE lower(email) = lower($1)`, strings.TrimSpace(email)))
}

func (s *Store) SetAccountPassword(ctx context.Context, uid, passwordHash string) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE accounts SET password_hash = $1, updated_at = $2 WHERE uid = $3`,
		passwordHash, time.Now().UTC(), uid)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("USER_NOT_FOUND")
	}
	return nil
}

func (s *Store) SetAccountEmail(ctx context.Context, uid, email string) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE accounts SET email = $1, updated_at = $2 WHERE uid = $3`,
		strings.TrimSpace(email), time.Now().UTC(), uid)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("USER_NOT_FOUND")
	}
	return nil
}

func (s *Store) SetAccountDisplayName(ctx context.Context, uid, name string) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE accounts SET display_name = $1, updated_at = $2 WHERE uid = $3`,
		name, time.Now().UTC(), uid)
	return err
}

// SetAccountClaims replaces the custom claims blob (role, linkage hints).
func (s *Store) SetAccountClaims(ctx context.Context, uid string, claims map[string]any) error {
	if claims == nil {
		claims = map[string]any{}
	}
	claimsJSON, _ := json.Marshal(claims)
	_, err := s.Pool.Exec(ctx,
		`UPDATE accounts SET claims = $1, updated_at = $2 WHERE uid = $3`,
		claimsJSON, time.Now().UTC(), uid)
	return err
}

// DeleteAccount removes the credential row and every refresh session bound
// to it.
func (s *Store) DeleteAccount(ctx context.Context, uid string) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM refresh_sessions WHERE uid = $1`, uid); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM accounts WHERE uid = $1`, uid)
		return err
	})
}

// RefreshSession is a server-side record of an issued refresh token; only
// the hash is stored.
type RefreshSession struct {
	ID        string
	UID       string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
	UserAgent string
	IP        string
}

func (s *Store) CreateRefreshSession(ctx context.Context, rs RefreshSession) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO refresh_sessions (id, uid, token_hash, created_at, expires_at, user_agent, ip_address)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		rs.ID, rs.UID, rs.TokenHash, rs.CreatedAt, rs.ExpiresAt, rs.UserAgent, rs.IP)
	return err
}

// GetRefreshSession looks up a live session by token hash. Revoked and
// expired sessions read as not found.
func (s *Store) GetRefreshSession(ctx context.Context, tokenHash string) (RefreshSession, error) {
	var rs RefreshSession
	err := s.Pool.QueryRow(ctx, `
		SELECT id, uid, token_hash, created_at, expires_at, revoked_at, user_agent, ip_address
		FROM refresh_sessions
		WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > now()`, tokenHash).Scan(
		&rs.ID, &rs.UID, &rs.TokenHash, &rs.CreatedAt, &rs.ExpiresAt, &rs.RevokedAt, &rs.UserAgent, &rs.IP)
	if errors.Is(err, pgx.ErrNoRows) {
		return RefreshSession{}, apperr.Unauthorized("INVALID_REFRESH_TOKEN")
	}
	return rs, err
}

func (s *Store) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE refresh_sessions SET revoked_at = $1 WHERE token_hash = $2 AND revoked_at IS NULL`,
		time.Now().UTC(), tokenHash)
	return err
}

// RevokeRefreshSessionsForUser invalidates every live session of a user,
// forcing re-authentication everywhere.
func (s *Store) RevokeRefreshSessionsForUser(ctx context.Context, uid string) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE refresh_sessions SET revoked_at = $1 WHERE uid = $2 AND revoked_at IS NULL`,
		time.Now().UTC(), uid)
	return err
}

// Package identity owns authentication: credentials, access tokens and
// refresh sessions. Profiles live elsewhere; this package only ever sees
// account rows.
package identity

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Gigatchad/uploadDocYnov/internal/apperr"
	"github.com/Gigatchad/uploadDocYnov/internal/auth"
	"github.com/Gigatchad/uploadDocYnov/internal/crypto"
	"github.com/Gigatchad/uploadDocYnov/internal/db"
)

// Accounts is the persistence surface the directory needs; *db.Store
// satisfies it.
type Accounts interface {
	CreateAccount(ctx context.Context, a db.Account) error
	GetAccount(ctx context.Context, uid string) (db.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (db.Account, error)
	SetAccountPassword(ctx context.Context, uid, passwordHash string) error
	SetAccountEmail(ctx context.Context, uid, email string) error
	SetAccountDisplayName(ctx context.Context, uid, name string) error
	SetAccountClaims(ctx context.Context, uid string, claims map[string]any) error
	DeleteAccount(ctx context.Context, uid string) error
	CreateRefreshSession(ctx context.Context, rs db.RefreshSession) error
	GetRefreshSession(ctx context.Context, tokenHash string) (db.RefreshSession, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeRefreshSessionsForUser(ctx context.Context, uid string) error
}

type Directory struct {
	accounts   Accounts
	secret     string
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewDirectory(accounts Accounts, secret, issuer string, accessTTL, refreshTTL time.Duration) *Directory {
	return &Directory{
		accounts:   accounts,
		secret:     secret,
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// Tokens is an issued session pair. ExpiresIn is the access token lifetime
// in seconds.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// VerifyToken validates an access token and returns its claims.
func (d *Directory) VerifyToken(_ context.Context, token string) (*auth.Claims, error) {
	claims, err := auth.ParseToken(d.secret, d.issuer, token)
	if err != nil {
		return nil, apperr.Unauthorized("INVALID_TOKEN")
	}
	return claims, nil
}

// CreateAccount registers a credential row without a password; the account
// stays unusable until the invite flow sets one.
func (d *Directory) CreateAccount(ctx context.Context, uid, email, displayName string, claims map[string]any) error {
	return d.accounts.CreateAccount(ctx, db.Account{
		UID:         uid,
		Email:       strings.TrimSpace(email),
		DisplayName: displayName,
		Claims:      claims,
		CreatedAt:   time.Now().UTC(),
	})
}

func (d *Directory) GetAccountByEmail(ctx context.Context, email string) (db.Account, error) {
	return d.accounts.GetAccountByEmail(ctx, email)
}

func (d *Directory) UpdateEmail(ctx context.Context, uid, email string) error {
	return d.accounts.SetAccountEmail(ctx, uid, email)
}

func (d *Directory) UpdateDisplayName(ctx context.Context, uid, name string) error {
	return d.accounts.SetAccountDisplayName(ctx, uid, name)
}

func (d *Directory) SetClaims(ctx context.Context, uid string, claims map[string]any) error {
	return d.accounts.SetAccountClaims(ctx, uid, claims)
}

// DeleteAccount removes credentials and every live session.
func (d *Directory) DeleteAccount(ctx context.Context, uid string) error {
	return d.accounts.DeleteAccount(ctx, uid)
}

// SetPassword stores a new password hash and revokes every live session so
// stolen refresh tokens die with the old password.
func (d *Directory) SetPassword(ctx context.Context, uid, password string) error {
	if len(password) < 8 {
		return apperr.Invalid("WEAK_PASSWORD")
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return err
	}
	if err := d.accounts.SetAccountPassword(ctx, uid, hash); err != nil {
		return err
	}
	return d.accounts.RevokeRefreshSessionsForUser(ctx, uid)
}

// RevokeSessions invalidates every refresh session of a user.
func (d *Directory) RevokeSessions(ctx context.Context, uid string) error {
	return d.accounts.RevokeRefreshSessionsForUser(ctx, uid)
}

func (d *Directory) issue(ctx context.Context, a db.Account, userAgent, ip string) (Tokens, error) {
	access, err := auth.NewAccessToken(d.secret, d.issuer, d.accessTTL, auth.Claims{UID: a.UID, Email: a.Email})
	if err != nil {
		return Tokens{}, err
	}
	refresh, err := crypto.NewRefreshToken()
	if err != nil {
		return Tokens{}, err
	}
	now := time.Now().UTC()
	if err := d.accounts.CreateRefreshSession(ctx, db.RefreshSession{
		ID:        uuid.NewString(),
		UID:       a.UID,
		TokenHash: crypto.HashToken(refresh),
		CreatedAt: now,
		ExpiresAt: now.Add(d.refreshTTL),
		UserAgent: userAgent,
		IP:        ip,
	}); err != nil {
		return Tokens{}, err
	}
	return Tokens{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(d.accessTTL.Seconds()),
	}, nil
}

// Login checks credentials and opens a session. Unknown emails and wrong
// passwords fail identically so the endpoint cannot be used to probe for
// accounts.
func (d *Directory) Login(ctx context.Context, email, password, userAgent, ip string) (Tokens, db.Account, error) {
	a, err := d.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		return Tokens{}, db.Account{}, apperr.Unauthorized("INVALID_CREDENTIALS")
	}
	if a.Disabled {
		return Tokens{}, db.Account{}, apperr.Forbidden("ACCOUNT_DISABLED")
	}
	if a.PasswordHash == "" {
		return Tokens{}, db.Account{}, apperr.Precondition("PASSWORD_NOT_SET")
	}
	if err := crypto.CheckPassword(a.PasswordHash, password); err != nil {
		return Tokens{}, db.Account{}, apperr.Unauthorized("INVALID_CREDENTIALS")
	}
	tokens, err := d.issue(ctx, a, userAgent, ip)
	if err != nil {
		return Tokens{}, db.Account{}, err
	}
	return tokens, a, nil
}

// Refresh rotates a refresh token: the presented one is revoked and a new
// pair is issued. A revoked or expired token reads as invalid.
func (d *Directory) Refresh(ctx context.Context, refreshToken, userAgent, ip string) (Tokens, db.Account, error) {
	hash := crypto.HashToken(refreshToken)
	session, err := d.accounts.GetRefreshSession(ctx, hash)
	if err != nil {
		return Tokens{}, db.Account{}, err
	}
	a, err := d.accounts.GetAccount(ctx, session.UID)
	if err != nil {
		return Tokens{}, db.Account{}, err
	}
	if a.Disabled {
		return Tokens{}, db.Account{}, apperr.Forbidden("ACCOUNT_DISABLED")
	}
	if err := d.accounts.RevokeRefreshSession(ctx, hash); err != nil {
		return Tokens{}, db.Account{}, err
	}
	tokens, err := d.issue(ctx, a, userAgent, ip)
	if err != nil {
		return Tokens{}, db.Account{}, err
	}
	return tokens, a, nil
}

// Logout revokes the presented refresh token. Unknown tokens are fine; the
// session is gone either way.
func (d *Directory) Logout(ctx context.Context, refreshToken string) error {
	return d.accounts.RevokeRefreshSession(ctx, crypto.HashToken(refreshToken))
}

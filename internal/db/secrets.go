package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Gigatchad/uploadDocYnov/internal/apperr"
	"github.com/Gigatchad/uploadDocYnov/internal/model"
)

// UpsertResetCode stores a fresh reset code for an email, replacing any
// earlier one. The row is keyed by a deterministic hash of the email so a
// user can only ever hold one live code.
func (s *Store) UpsertResetCode(ctx context.Context, rc model.ResetCode) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO password_resets (id, email, uid, code_hash, attempts, expires_at, used, ip, user_agent, created_at, updated_at)
		VALUES ($1,$2,$3,$4,0,$5,FALSE,$6,$7,$8,$8)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email, uid = EXCLUDED.uid, code_hash = EXCLUDED.code_hash,
			attempts = 0, expires_at = EXCLUDED.expires_at, used = FALSE,
			ip = EXCLUDED.ip, user_agent = EXCLUDED.user_agent, updated_at = EXCLUDED.updated_at`,
		rc.ID, rc.Email, rc.UID, rc.CodeHash, rc.ExpiresAt, rc.IP, rc.UserAgent, rc.CreatedAt)
	return err
}

// CheckResetCode validates a candidate hash against a stored reset code.
// Checks run in a fixed order so the caller leaks nothing about which gate
// failed beyond the returned code. The attempt budget is checked before
// the hash comparison.
func CheckResetCode(rc model.ResetCode, codeHash string, now time.Time, maxAttempts int) error {
	if rc.Used {
		return apperr.Gone("CODE_ALREADY_USED")
	}
	if now.After(rc.ExpiresAt) {
		return apperr.Gone("CODE_EXPIRED")
	}
	if rc.Attempts >= maxAttempts {
		return apperr.RateLimited("TOO_MANY_ATTEMPTS")
	}
	if rc.CodeHash != codeHash {
		return apperr.Invalid("INVALID_CODE")
	}
	return nil
}

func (s *Store) resetCodeTx(ctx context.Context, id, codeHash string, maxAttempts int, consume bool) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		var rc model.ResetCode
		err := tx.QueryRow(ctx, `
			SELECT id, email, uid, code_hash, attempts, expires_at, used, ip, user_agent, created_at, updated_at
			FROM password_resets WHERE id = $1 FOR UPDATE`, id).Scan(
			&rc.ID, &rc.Email, &rc.UID, &rc.CodeHash, &rc.Attempts, &rc.ExpiresAt,
			&rc.Used, &rc.IP, &rc.UserAgent, &rc.CreatedAt, &rc.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.Invalid("INVALID_CODE")
		}
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := CheckResetCode(rc, codeHash, now, maxAttempts); err != nil {
			// Every failed comparison burns an attempt.
			if apperr.Is(err, "INVALID_CODE") {
				_, _ = tx.Exec(ctx,
					`UPDATE password_resets SET attempts = attempts + 1, updated_at = $1 WHERE id = $2`, now, id)
			}
			return err
		}
		if consume {
			_, err = tx.Exec(ctx,
				`UPDATE password_resets SET used = TRUE, updated_at = $1 WHERE id = $2`, now, id)
			return err
		}
		return nil
	})
}

// VerifyResetCode checks a code without consuming it.
func (s *Store) VerifyResetCode(ctx context.Context, id, codeHash string, maxAttempts int) error {
	return s.resetCodeTx(ctx, id, codeHash, maxAttempts, false)
}

// ConsumeResetCode checks a code and marks it used, transactionally.
func (s *Store) ConsumeResetCode(ctx context.Context, id, codeHash string, maxAttempts int) error {
	return s.resetCodeTx(ctx, id, codeHash, maxAttempts, true)
}

// GetResetCode fetches a stored code row, for the flows that only need the
// bound uid/email after verification.
func (s *Store) GetResetCode(ctx context.Context, id string) (model.ResetCode, error) {
	var rc model.ResetCode
	err := s.Pool.QueryRow(ctx, `
		SELECT id, email, uid, code_hash, attempts, expires_at, used, ip, user_agent, created_at, updated_at
		FROM password_resets WHERE id = $1`, id).Scan(
		&rc.ID, &rc.Email, &rc.UID, &rc.CodeHash, &rc.Attempts, &rc.ExpiresAt,
		&rc.Used, &rc.IP, &rc.UserAgent, &rc.CreatedAt, &rc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ResetCode{}, apperr.Invalid("INVALID_CODE")
	}
	return rc, err
}

// CreateInviteToken stores a single-use activation token.
func (s *Store) CreateInviteToken(ctx context.Context, t model.InviteToken) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO invite_tokens (token, uid, email, expires_at, used, created_at)
		VALUES ($1,$2,$3,$4,FALSE,$5)`,
		t.Token, t.UID, t.Email, t.ExpiresAt, t.CreatedAt)
	return err
}

// CheckInviteToken validates a stored invite token against the claimed
// email. Order matters: a consumed token reports as used even after its
// expiry has passed.
func CheckInviteToken(t model.InviteToken, email string, now time.Time) error {
	if t.Used {
		return apperr.Gone("TOKEN_ALREADY_USED")
	}
	if now.After(t.ExpiresAt) {
		return apperr.Gone("TOKEN_EXPIRED")
	}
	if !equalEmail(t.Email, email) {
		return apperr.Invalid("EMAIL_MISMATCH")
	}
	return nil
}

func equalEmail(a, b string) bool {
	return strings.ToLower(strings.TrimSpace(a)) == strings.ToLower(strings.TrimSpace(b))
}

// ConsumeInviteToken validates and burns an invite token in one
// transaction, returning the bound uid. Two concurrent consumers cannot
// both succeed: the row lock serializes them and the loser sees used=TRUE.
func (s *Store) ConsumeInviteToken(ctx context.Context, token, email string) (model.InviteToken, error) {
	var out model.InviteToken
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		var t model.InviteToken
		err := tx.QueryRow(ctx, `
			SELECT token, uid, email, expires_at, used, used_at, created_at
			FROM invite_tokens WHERE token = $1 FOR UPDATE`, token).Scan(
			&t.Token, &t.UID, &t.Email, &t.ExpiresAt, &t.Used, &t.UsedAt, &t.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("TOKEN_NOT_FOUND")
		}
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := CheckInviteToken(t, email, now); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE invite_tokens SET used = TRUE, used_at = $1 WHERE token = $2`, now, token); err != nil {
			return err
		}
		t.Used = true
		t.UsedAt = &now
		out = t
		return nil
	})
	return out, err
}

package db

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Gigatchad/uploadDocYnov/internal/apperr"
	"github.com/Gigatchad/uploadDocYnov/internal/model"
	"github.com/Gigatchad/uploadDocYnov/internal/relation"
)

const userColumns = `uid, role, email, notify_email, prenom, nom, display_name, display_name_lower,
	filiere, niveau, parent_uid, parent_of, fcm_tokens, photo_url,
	created_at, updated_at, last_login_at, password_set_at`

func scanUser(row pgx.Row) (model.User, error) {
	var u model.User
	err := row.Scan(
		&u.UID, &u.Role, &u.Email, &u.NotifyEmail, &u.Prenom, &u.Nom,
		&u.DisplayName, &u.DisplayNameLower, &u.Filiere, &u.Niveau,
		&u.ParentUID, &u.ParentOf, &u.FCMTokens, &u.PhotoURL,
		&u.CreatedAt, &u.UpdatedAt, &u.LastLoginAt, &u.PasswordSetAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, apperr.NotFound("USER_NOT_FOUND")
	}
	if err != nil {
		return model.User{}, err
	}
	return u, nil
}

func getUser(ctx context.Context, q querier, uid string) (model.User, error) {
	return scanUser(q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE uid = $1`, uid))
}

func (s *Store) GetUser(ctx context.Context, uid string) (model.User, error) {
	return getUser(ctx, s.Pool, uid)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	return scanUser(s.Pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, strings.TrimSpace(email)))
}

func collectUsers(rows pgx.Rows) ([]model.User, error) {
	defer rows.Close()
	var out []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// GetUsersByIDs fetches a batch of users keyed by uid. Missing uids are
// simply absent from the result.
func (s *Store) GetUsersByIDs(ctx context.Context, uids []string) (map[string]model.User, error) {
	if len(uids) == 0 {
		return map[string]model.User{}, nil
	}
	rows, err := s.Pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE uid = ANY($1)`, uids)
	if err != nil {
		return nil, err
	}
	users, err := collectUsers(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.User, len(users))
	for _, u := range users {
		out[u.UID] = u
	}
	return out, nil
}

// ListUsersParams filters the admin user listing. Cursor pagination walks
// created_at descending.
type ListUsersParams struct {
	Role          string
	CreatedBefore *time.Time
	Limit         int
}

func (s *Store) ListUsers(ctx context.Context, p ListUsersParams) ([]model.User, error) {
	sql := `SELECT ` + userColumns + ` FROM users WHERE 1=1`
	args := []any{}
	if p.Role != "" {
		args = append(args, p.Role)
		sql += ` AND role = $1`
	}
	if p.CreatedBefore != nil {
		args = append(args, *p.CreatedBefore)
		sql += ` AND created_at < $` + strconv.Itoa(len(args))
	}
	args = append(args, p.Limit)
	sql += ` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return collectUsers(rows)
}

// StudentPickerParams drives the staff/parent student pickers: name-ordered
// pages with an optional prefix search, optionally restricted to students
// without a parent.
type StudentPickerParams struct {
	AvailableOnly bool
	NamePrefix    string
	AfterName     string
	Limit         int
}

func (s *Store) ListStudents(ctx context.Context, p StudentPickerParams) ([]model.User, error) {
	sql := `SELECT ` + userColumns + ` FROM users WHERE role = $1`
	args := []any{model.RoleEtudiant}
	if p.AvailableOnly {
		sql += ` AND parent_uid = ''`
	}
	if p.NamePrefix != "" {
		args = append(args, strings.ToLower(p.NamePrefix)+"%")
		sql += ` AND display_name_lower LIKE $` + strconv.Itoa(len(args))
	}
	if p.AfterName != "" {
		args = append(args, p.AfterName)
		sql += ` AND display_name_lower > $` + strconv.Itoa(len(args))
	}
	args = append(args, p.Limit)
	sql += ` ORDER BY display_name_lower ASC LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return collectUsers(rows)
}

// ListChildren returns the students currently attached to a parent, with
// an optional case-insensitive substring search on the display name.
func (s *Store) ListChildren(ctx context.Context, parentUID, search string) ([]model.User, error) {
	sql := `SELECT ` + userColumns + ` FROM users WHERE role = $1 AND parent_uid = $2`
	args := []any{model.RoleEtudiant, parentUID}
	if search != "" {
		args = append(args, "%"+strings.ToLower(strings.TrimSpace(search))+"%")
		sql += ` AND display_name_lower LIKE $3`
	}
	sql += ` ORDER BY display_name_lower ASC`

	rows, err := s.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return collectUsers(rows)
}

func insertUser(ctx context.Context, q querier, u model.User) error {
	_, err := q.Exec(ctx, `
		INSERT INTO users (uid, role, email, notify_email, prenom, nom, display_name, display_name_lower,
			filiere, niveau, parent_uid, parent_of, fcm_tokens, photo_url, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$15)`,
		u.UID, u.Role, u.Email, u.NotifyEmail, u.Prenom, u.Nom, u.DisplayName, u.DisplayNameLower,
		u.Filiere, u.Niveau, u.ParentUID, u.ParentOf, u.FCMTokens, u.PhotoURL, u.CreatedAt)
	return err
}

// CreateUser inserts a non-parent profile.
func (s *Store) CreateUser(ctx context.Context, u model.User) error {
	return insertUser(ctx, s.Pool, u)
}

// lockUsers reads and row-locks a set of users inside a transaction. Rows
// are locked in uid order so concurrent plans never deadlock.
func lockUsers(ctx context.Context, tx pgx.Tx, uids []string) (map[string]model.User, error) {
	if len(uids) == 0 {
		return map[string]model.User{}, nil
	}
	sorted := append([]string(nil), uids...)
	sort.Strings(sorted)
	rows, err := tx.Query(ctx,
		`SELECT `+userColumns+` FROM users WHERE uid = ANY($1) ORDER BY uid FOR UPDATE`, sorted)
	if err != nil {
		return nil, err
	}
	users, err := collectUsers(rows)
	if err != nil {
		return nil, err
	}
	snap := make(map[string]model.User, len(users))
	for _, u := range users {
		snap[u.UID] = u
	}
	return snap, nil
}

func applyPlan(ctx context.Context, tx pgx.Tx, parentUID string, plan relation.Plan, now time.Time) error {
	for _, uid := range plan.Attach {
		if _, err := tx.Exec(ctx,
			`UPDATE users SET parent_uid = $1, updated_at = $2 WHERE uid = $3`, parentUID, now, uid); err != nil {
			return err
		}
	}
	for _, uid := range plan.Detach {
		if _, err := tx.Exec(ctx,
			`UPDATE users SET parent_uid = '', updated_at = $1 WHERE uid = $2`, now, uid); err != nil {
			return err
		}
	}
	return nil
}

// CreateParent inserts a parent and attaches its initial children in one
// transaction. Children are locked and re-validated against the locked
// rows, so a student can never end up with two parents.
func (s *Store) CreateParent(ctx context.Context, u model.User) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		snap, err := lockUsers(ctx, tx, u.ParentOf)
		if err != nil {
			return err
		}
		plan, err := relation.PlanCreate(u.UID, u.ParentOf, snap)
		if err != nil {
			return err
		}
		if err := insertUser(ctx, tx, u); err != nil {
			return err
		}
		return applyPlan(ctx, tx, u.UID, plan, u.CreatedAt)
	})
}

// ReplaceParentChildren replaces a parent's parentOf list wholesale.
// Returns the updated parent row.
func (s *Store) ReplaceParentChildren(ctx context.Context, parentUID string, next []string) (model.User, error) {
	var updated model.User
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		parent, err := scanUser(tx.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE uid = $1 FOR UPDATE`, parentUID))
		if err != nil {
			return err
		}
		if parent.Role != model.RoleParent {
			return apperr.Invalid("NOT_A_PARENT")
		}

		affected := append(append([]string(nil), parent.ParentOf...), next...)
		snap, err := lockUsers(ctx, tx, affected)
		if err != nil {
			return err
		}
		plan, err := relation.PlanReplace(parentUID, parent.ParentOf, next, snap)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := applyPlan(ctx, tx, parentUID, plan, now); err != nil {
			return err
		}
		if next == nil {
			next = []string{}
		}
		_, err = tx.Exec(ctx,
			`UPDATE users SET parent_of = $1, updated_at = $2 WHERE uid = $3`, next, now, parentUID)
		if err != nil {
			return err
		}
		updated = parent
		updated.ParentOf = next
		updated.UpdatedAt = now
		return nil
	})
	return updated, err
}

// UpdateUserParams carries the mutable profile fields; nil means keep.
type UpdateUserParams struct {
	Prenom      *string
	Nom         *string
	Email       *string
	NotifyEmail *string
	Filiere     *string
	Niveau      *string
	PhotoURL    *string
}

// UpdateUser patches a profile and recomputes the denormalized display
// name. Role and parent linkage are never touched here.
func (s *Store) UpdateUser(ctx context.Context, uid string, p UpdateUserParams) (model.User, error) {
	var updated model.User
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		u, err := scanUser(tx.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE uid = $1 FOR UPDATE`, uid))
		if err != nil {
			return err
		}
		if p.Prenom != nil {
			u.Prenom = strings.TrimSpace(*p.Prenom)
		}
		if p.Nom != nil {
			u.Nom = strings.TrimSpace(*p.Nom)
		}
		if p.Email != nil {
			u.Email = strings.TrimSpace(*p.Email)
		}
		if p.NotifyEmail != nil {
			u.NotifyEmail = strings.TrimSpace(*p.NotifyEmail)
		}
		if p.Filiere != nil {
			u.Filiere = *p.Filiere
		}
		if p.Niveau != nil {
			u.Niveau = *p.Niveau
		}
		if p.PhotoURL != nil {
			u.PhotoURL = *p.PhotoURL
		}
		u.DisplayName = strings.TrimSpace(u.Prenom + " " + u.Nom)
		u.DisplayNameLower = strings.ToLower(u.DisplayName)
		u.UpdatedAt = time.Now().UTC()

		_, err = tx.Exec(ctx, `
			UPDATE users SET email=$1, notify_email=$2, prenom=$3, nom=$4,
				display_name=$5, display_name_lower=$6, filiere=$7, niveau=$8,
				photo_url=$9, updated_at=$10
			WHERE uid=$11`,
			u.Email, u.NotifyEmail, u.Prenom, u.Nom, u.DisplayName, u.DisplayNameLower,
			u.Filiere, u.Niveau, u.PhotoURL, u.UpdatedAt, uid)
		if err != nil {
			return err
		}
		updated = u
		return nil
	})
	return updated, err
}

// DeleteUser removes a user. Deleting a parent cascades: every student
// still pointing at it is released first. Deleting an attached student is
// refused until the link is removed. Returns the deleted row for auditing.
func (s *Store) DeleteUser(ctx context.Context, uid string) (model.User, error) {
	var deleted model.User
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		u, err := scanUser(tx.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE uid = $1 FOR UPDATE`, uid))
		if err != nil {
			return err
		}
		if err := relation.CheckDelete(u); err != nil {
			return err
		}
		if u.Role == model.RoleParent && len(u.ParentOf) > 0 {
			snap, err := lockUsers(ctx, tx, u.ParentOf)
			if err != nil {
				return err
			}
			plan := relation.PlanDelete(uid, u.ParentOf, snap)
			if err := applyPlan(ctx, tx, uid, plan, time.Now().UTC()); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, `DELETE FROM users WHERE uid = $1`, uid); err != nil {
			return err
		}
		deleted = u
		return nil
	})
	return deleted, err
}

// AddFCMToken registers a device token, deduplicated per user.
func (s *Store) AddFCMToken(ctx context.Context, uid, token string) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		u, err := scanUser(tx.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE uid = $1 FOR UPDATE`, uid))
		if err != nil {
			return err
		}
		for _, t := range u.FCMTokens {
			if t == token {
				return nil
			}
		}
		tokens := append(u.FCMTokens, token)
		_, err = tx.Exec(ctx,
			`UPDATE users SET fcm_tokens = $1, updated_at = $2 WHERE uid = $3`,
			tokens, time.Now().UTC(), uid)
		return err
	})
}

func (s *Store) RemoveFCMToken(ctx context.Context, uid, token string) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		u, err := scanUser(tx.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE uid = $1 FOR UPDATE`, uid))
		if err != nil {
			return err
		}
		tokens := u.FCMTokens[:0:0]
		for _, t := range u.FCMTokens {
			if t != token {
				tokens = append(tokens, t)
			}
		}
		if len(tokens) == len(u.FCMTokens) {
			return nil
		}
		if tokens == nil {
			tokens = []string{}
		}
		_, err = tx.Exec(ctx,
			`UPDATE users SET fcm_tokens = $1, updated_at = $2 WHERE uid = $3`,
			tokens, time.Now().UTC(), uid)
		return err
	})
}

// FCMTokensForUIDs returns the raw token lists of the given users.
func (s *Store) FCMTokensForUIDs(ctx context.Context, uids []string) ([][]string, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	rows, err := s.Pool.Query(ctx, `SELECT fcm_tokens FROM users WHERE uid = ANY($1)`, uids)
	if err != nil {
		return nil, err
	}
	return collectTokenLists(rows)
}

// FCMTokensForRoles returns the raw token lists of every user holding one
// of the given roles.
func (s *Store) FCMTokensForRoles(ctx context.Context, roles []string) ([][]string, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	rows, err := s.Pool.Query(ctx, `SELECT fcm_tokens FROM users WHERE role = ANY($1)`, roles)
	if err != nil {
		return nil, err
	}
	return collectTokenLists(rows)
}

func collectTokenLists(rows pgx.Rows) ([][]string, error) {
	defer rows.Close()
	var out [][]string
	for rows.Next() {
		var tokens []string
		if err := rows.Scan(&tokens); err != nil {
			return nil, err
		}
		out = append(out, tokens)
	}
	return out, rows.Err()
}

func (s *Store) TouchLastLogin(ctx context.Context, uid string, at time.Time) error {
	_, err := s.Pool.Exec(ctx, `UPDATE users SET last_login_at = $1 WHERE uid = $2`, at, uid)
	return err
}

func (s *Store) MarkPasswordSet(ctx context.Context, uid string, at time.Time) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE users SET password_set_at = $1, updated_at = $1 WHERE uid = $2`, at, uid)
	return err
}

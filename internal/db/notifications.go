package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Gigatchad/uploadDocYnov/internal/apperr"
	"github.com/Gigatchad/uploadDocYnov/internal/model"
)

const notificationColumns = `id, kind, request_id, status, type, notes, requested_by, requested_for,
	recipients, reads, rejection_reason, created_at, updated_at`

func scanNotification(row pgx.Row) (model.Notification, error) {
	var (
		n               model.Notification
		byJSON, forJSON []byte
		readsJSON       []byte
	)
	err := row.Scan(
		&n.ID, &n.Kind, &n.RequestID, &n.Status, &n.Type, &n.Notes, &byJSON, &forJSON,
		&n.Recipients, &readsJSON, &n.RejectionReason, &n.CreatedAt, &n.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Notification{}, apperr.NotFound("NOTIFICATION_NOT_FOUND")
	}
	if err != nil {
		return model.Notification{}, err
	}
	if err := json.Unmarshal(byJSON, &n.RequestedBy); err != nil {
		return model.Notification{}, err
	}
	if err := json.Unmarshal(forJSON, &n.RequestedFor); err != nil {
		return model.Notification{}, err
	}
	if err := json.Unmarshal(readsJSON, &n.Reads); err != nil {
		return model.Notification{}, err
	}
	return n, nil
}

// InsertNotification persists a notification document and returns its id.
func (s *Store) InsertNotification(ctx context.Context, n model.Notification) (string, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	reads := n.Reads
	if reads == nil {
		reads = map[string]time.Time{}
	}
	readsJSON, _ := json.Marshal(reads)
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO notifications (id, kind, request_id, status, type, notes, requested_by, requested_for,
			recipients, reads, rejection_reason, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)`,
		n.ID, n.Kind, n.RequestID, n.Status, n.Type, n.Notes,
		marshalParty(n.RequestedBy), marshalParty(n.RequestedFor),
		n.Recipients, readsJSON, n.RejectionReason, n.CreatedAt)
	if err != nil {
		return "", err
	}
	return n.ID, nil
}

// NotificationsForRecipients lists notifications addressed to any of the
// given recipient keys, newest first.
func (s *Store) NotificationsForRecipients(ctx context.Context, keys []string, limit int) ([]model.Notification, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+notificationColumns+` FROM notifications
		 WHERE recipients && $1 ORDER BY created_at DESC LIMIT $2`, keys, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationRead records a per-user read timestamp. Marking twice
// keeps the first timestamp.
func (s *Store) MarkNotificationRead(ctx context.Context, id, uid string, at time.Time) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		n, err := scanNotification(tx.QueryRow(ctx,
			`SELECT `+notificationColumns+` FROM notifications WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if n.Reads == nil {
			n.Reads = map[string]time.Time{}
		}
		if _, ok := n.Reads[uid]; ok {
			return nil
		}
		n.Reads[uid] = at
		readsJSON, _ := json.Marshal(n.Reads)
		_, err = tx.Exec(ctx,
			`UPDATE notifications SET reads = $1, updated_at = $2 WHERE id = $3`, readsJSON, at, id)
		return err
	})
}

// SyncRequestNotifications mirrors a request's new status onto the
// notifications of one kind that reference it, so clients reading their
// inbox see the current state without joining requests.
func (s *Store) SyncRequestNotifications(ctx context.Context, requestID, kind, status string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE notifications SET status = $1, updated_at = $2
		WHERE request_id = $3 AND kind = $4`, status, time.Now().UTC(), requestID, kind)
	return err
}

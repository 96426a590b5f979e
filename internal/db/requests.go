package db

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Gigatchad/uploadDocYnov/internal/apperr"
	"github.com/Gigatchad/uploadDocYnov/internal/model"
)

const requestColumns = `id, type, status, requested_for_uid, requested_for, requested_by_uid,
	requested_by_role, requested_by, parent_uid, notes, delivery_method, target_email,
	attachments, delivered_attachments, document_url, rejection_reason,
	created_at, updated_at, approved_at, rejected_at, sent_at`

func scanRequest(row pgx.Row) (model.Request, error) {
	var (
		r                         model.Request
		forJSON, byJSON           []byte
		attachJSON, deliveredJSON []byte
	)
	err := row.Scan(
		&r.ID, &r.Type, &r.Status, &r.RequestedForUID, &forJSON, &r.RequestedByUID,
		&r.RequestedByRole, &byJSON, &r.ParentUID, &r.Notes, &r.DeliveryMethod, &r.TargetEmail,
		&attachJSON, &deliveredJSON, &r.DocumentURL, &r.RejectionReason,
		&r.CreatedAt, &r.UpdatedAt, &r.ApprovedAt, &r.RejectedAt, &r.SentAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Request{}, apperr.NotFound("REQUEST_NOT_FOUND")
	}
	if err != nil {
		return model.Request{}, err
	}
	if err := json.Unmarshal(forJSON, &r.RequestedFor); err != nil {
		return model.Request{}, err
	}
	if err := json.Unmarshal(byJSON, &r.RequestedBy); err != nil {
		return model.Request{}, err
	}
	if err := json.Unmarshal(attachJSON, &r.Attachments); err != nil {
		return model.Request{}, err
	}
	if err := json.Unmarshal(deliveredJSON, &r.DeliveredAtt); err != nil {
		return model.Request{}, err
	}
	return r, nil
}

func collectRequests(rows pgx.Rows) ([]model.Request, error) {
	defer rows.Close()
	var out []model.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func marshalParty(p model.PartySnapshot) []byte {
	b, _ := json.Marshal(p)
	return b
}

func marshalAttachments(a []model.Attachment) []byte {
	if a == nil {
		a = []model.Attachment{}
	}
	b, _ := json.Marshal(a)
	return b
}

func insertEvent(ctx context.Context, q querier, ev model.Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	_, err := q.Exec(ctx, `
		INSERT INTO request_events (id, request_id, type, comment, by_uid, by_role, at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		ev.ID, ev.RequestID, ev.Type, ev.Comment, ev.ByUID, ev.ByRole, ev.At)
	return err
}

// CreateRequest inserts a request plus its submission event in one
// transaction.
func (s *Store) CreateRequest(ctx context.Context, r model.Request, ev model.Event) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO requests (id, type, status, requested_for_uid, requested_for, requested_by_uid,
				requested_by_role, requested_by, parent_uid, notes, delivery_method, target_email,
				attachments, delivered_attachments, document_url, rejection_reason, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$17)`,
			r.ID, r.Type, r.Status, r.RequestedForUID, marshalParty(r.RequestedFor), r.RequestedByUID,
			r.RequestedByRole, marshalParty(r.RequestedBy), r.ParentUID, r.Notes, r.DeliveryMethod,
			r.TargetEmail, marshalAttachments(r.Attachments), marshalAttachments(r.DeliveredAtt),
			r.DocumentURL, r.RejectionReason, r.CreatedAt)
		if err != nil {
			return err
		}
		ev.RequestID = r.ID
		return insertEvent(ctx, tx, ev)
	})
}

func (s *Store) GetRequest(ctx context.Context, id string) (model.Request, error) {
	return scanRequest(s.Pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE id = $1`, id))
}

func (s *Store) listRequests(ctx context.Context, where string, limit int, args ...any) ([]model.Request, error) {
	args = append(args, limit)
	rows, err := s.Pool.Query(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE `+where+
			` ORDER BY created_at DESC LIMIT $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, err
	}
	return collectRequests(rows)
}

// RequestsByRequester lists requests submitted by a user, optionally
// filtered to one status.
func (s *Store) RequestsByRequester(ctx context.Context, uid, status string, limit int) ([]model.Request, error) {
	if status != "" {
		return s.listRequests(ctx, `requested_by_uid = $1 AND status = $2`, limit, uid, status)
	}
	return s.listRequests(ctx, `requested_by_uid = $1`, limit, uid)
}

// RequestsBySubject lists requests whose subject is the given student.
func (s *Store) RequestsBySubject(ctx context.Context, uid, status string, limit int) ([]model.Request, error) {
	if status != "" {
		return s.listRequests(ctx, `requested_for_uid = $1 AND status = $2`, limit, uid, status)
	}
	return s.listRequests(ctx, `requested_for_uid = $1`, limit, uid)
}

// RequestsByParent lists requests carrying the given parentUid marker.
func (s *Store) RequestsByParent(ctx context.Context, uid, status string, limit int) ([]model.Request, error) {
	if status != "" {
		return s.listRequests(ctx, `parent_uid = $1 AND status = $2`, limit, uid, status)
	}
	return s.listRequests(ctx, `parent_uid = $1`, limit, uid)
}

// StaffFeed is the staff work queue. Without an explicit status filter it
// hides pending and rejected requests.
func (s *Store) StaffFeed(ctx context.Context, status string, limit int) ([]model.Request, error) {
	if status != "" {
		return s.listRequests(ctx, `status = $1`, limit, status)
	}
	return s.listRequests(ctx, `status = ANY($1)`, limit,
		[]string{model.StatusApproved, model.StatusSent})
}

// UpdateStatus moves a request to approved or rejected. The row is locked,
// the transition is validated against the locked status, and the matching
// event is appended, all in one transaction.
func (s *Store) UpdateStatus(ctx context.Context, id, status, reason string, actor model.Actor) (model.Request, error) {
	var updated model.Request
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		r, err := scanRequest(tx.QueryRow(ctx,
			`SELECT `+requestColumns+` FROM requests WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if !model.CanTransition(r.Status, status) {
			return apperr.Conflict("INVALID_STATUS_TRANSITION")
		}

		now := time.Now().UTC()
		r.Status = status
		r.UpdatedAt = now
		evType := model.EventApproved
		if status == model.StatusApproved {
			r.ApprovedAt = &now
			_, err = tx.Exec(ctx,
				`UPDATE requests SET status=$1, approved_at=$2, updated_at=$2 WHERE id=$3`, status, now, id)
		} else {
			evType = model.EventRejected
			r.RejectedAt = &now
			r.RejectionReason = reason
			_, err = tx.Exec(ctx,
				`UPDATE requests SET status=$1, rejected_at=$2, rejection_reason=$3, updated_at=$2 WHERE id=$4`,
				status, now, reason, id)
		}
		if err != nil {
			return err
		}
		if err := insertEvent(ctx, tx, model.Event{
			RequestID: id, Type: evType, Comment: reason,
			ByUID: actor.UID, ByRole: actor.Role, At: now,
		}); err != nil {
			return err
		}
		updated = r
		return nil
	})
	return updated, err
}

// AppendAttachment records an uploaded document on a request. The
// attachment history is append-only. With markSent it also moves the
// request to sent, stamps sentAt and tracks the attachment in the
// delivered list. The matching event is written in the same transaction.
func (s *Store) AppendAttachment(ctx context.Context, id string, att model.Attachment, markSent bool, notes string, actor model.Actor) (model.Request, error) {
	var updated model.Request
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		r, err := scanRequest(tx.QueryRow(ctx,
			`SELECT `+requestColumns+` FROM requests WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if markSent && !model.CanTransition(r.Status, model.StatusSent) {
			return apperr.Conflict("INVALID_STATUS_TRANSITION")
		}

		now := time.Now().UTC()
		r.Attachments = append(r.Attachments, att)
		r.DocumentURL = att.SecureURL
		if r.DocumentURL == "" {
			r.DocumentURL = att.URL
		}
		if notes != "" {
			r.Notes = notes
		}
		r.UpdatedAt = now

		evType := model.EventDocumentUploaded
		if markSent {
			evType = model.EventDocumentSent
			r.Status = model.StatusSent
			r.SentAt = &now
			r.DeliveredAtt = append(r.DeliveredAtt, att)
		}

		_, err = tx.Exec(ctx, `
			UPDATE requests SET status=$1, attachments=$2, delivered_attachments=$3,
				document_url=$4, notes=$5, sent_at=$6, updated_at=$7
			WHERE id=$8`,
			r.Status, marshalAttachments(r.Attachments), marshalAttachments(r.DeliveredAtt),
			r.DocumentURL, r.Notes, r.SentAt, now, id)
		if err != nil {
			return err
		}
		if err := insertEvent(ctx, tx, model.Event{
			RequestID: id, Type: evType, Comment: notes,
			ByUID: actor.UID, ByRole: actor.Role, At: now,
		}); err != nil {
			return err
		}
		updated = r
		return nil
	})
	return updated, err
}

// AppendEvent writes a standalone event onto a request's trail.
func (s *Store) AppendEvent(ctx context.Context, requestID string, ev model.Event) error {
	ev.RequestID = requestID
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	return insertEvent(ctx, s.Pool, ev)
}

// ListEvents returns a request's event trail, oldest first.
func (s *Store) ListEvents(ctx context.Context, requestID string) ([]model.Event, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, request_id, type, comment, by_uid, by_role, at
		FROM request_events WHERE request_id = $1 ORDER BY at ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Event
	for rows.Next() {
		var ev model.Event
		if err := rows.Scan(&ev.ID, &ev.RequestID, &ev.Type, &ev.Comment, &ev.ByUID, &ev.ByRole, &ev.At); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

package requests

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Gigatchad/uploadDocYnov/internal/apperr"
	"github.com/Gigatchad/uploadDocYnov/internal/model"
)

// Store is the persistence surface the engine needs. *db.Store satisfies
// it; tests use in-memory fakes.
type Store interface {
	CreateRequest(ctx context.Context, r model.Request, ev model.Event) error
	GetRequest(ctx context.Context, id string) (model.Request, error)
	RequestsByRequester(ctx context.Context, uid, status string, limit int) ([]model.Request, error)
	RequestsBySubject(ctx context.Context, uid, status string, limit int) ([]model.Request, error)
	RequestsByParent(ctx context.Context, uid, status string, limit int) ([]model.Request, error)
	StaffFeed(ctx context.Context, status string, limit int) ([]model.Request, error)
	UpdateStatus(ctx context.Context, id, status, reason string, actor model.Actor) (model.Request, error)
	AppendAttachment(ctx context.Context, id string, att model.Attachment, markSent bool, notes string, actor model.Actor) (model.Request, error)
	AppendEvent(ctx context.Context, requestID string, ev model.Event) error
	ListEvents(ctx context.Context, requestID string) ([]model.Event, error)
}

// UserReader resolves profiles for snapshots and authorization.
type UserReader interface {
	GetUser(ctx context.Context, uid string) (model.User, error)
}

// Notifier receives workflow events strictly after the triggering write
// has committed. Implementations are best-effort.
type Notifier interface {
	RequestSubmitted(ctx context.Context, r model.Request)
	RequestDecided(ctx context.Context, r model.Request)
	DocumentSent(ctx context.Context, r model.Request)
}

type Engine struct {
	store    Store
	users    UserReader
	notifier Notifier
}

func NewEngine(store Store, users UserReader, notifier Notifier) *Engine {
	return &Engine{store: store, users: users, notifier: notifier}
}

// ScopeMine forces the personal feed even for staff viewers.
const ScopeMine = "mine"

// maxCreateAttachments caps the client-supplied descriptors accepted at
// submission. Staff uploads are not subject to it.
const maxCreateAttachments = 6

// CreateParams is a submission. The subject defaults to the requester for
// students.
type CreateParams struct {
	Type            string
	RequestedForUID string
	Notes           string
	DeliveryMethod  string
	TargetEmail     string
	Attachments     []model.Attachment
}

func snapshotOf(u model.User) model.PartySnapshot {
	return model.PartySnapshot{
		UID:         u.UID,
		Prenom:      u.Prenom,
		Nom:         u.Nom,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		Filiere:     u.Filiere,
		Niveau:      u.Niveau,
		Role:        u.Role,
	}
}

// Create submits a request. Students submit for themselves and parents for
// an attached child; staff do not file requests. Requester and subject
// profiles are frozen onto the request so later edits never rewrite
// history.
func (e *Engine) Create(ctx context.Context, requester model.User, p CreateParams) (model.Request, error) {
	if strings.TrimSpace(p.Type) == "" {
		return model.Request{}, apperr.Invalid("MISSING_TYPE")
	}

	var subject model.User
	switch requester.Role {
	case model.RoleEtudiant:
		if p.RequestedForUID != "" && p.RequestedForUID != requester.UID {
			return model.Request{}, apperr.Forbidden("FORBIDDEN")
		}
		subject = requester
	case model.RoleParent:
		if p.RequestedForUID == "" {
			return model.Request{}, apperr.Invalid("STUDENT_UID_REQUIRED")
		}
		child, err := e.users.GetUser(ctx, p.RequestedForUID)
		if err != nil {
			return model.Request{}, err
		}
		if child.Role != model.RoleEtudiant || child.ParentUID != requester.UID {
			return model.Request{}, apperr.Forbidden("NOT_YOUR_CHILD")
		}
		subject = child
	default:
		return model.Request{}, apperr.Forbidden("FORBIDDEN")
	}

	attachments := p.Attachments
	if len(attachments) > maxCreateAttachments {
		attachments = attachments[:maxCreateAttachments]
	}

	now := time.Now().UTC()
	r := model.Request{
		ID:              uuid.NewString(),
		Type:            strings.TrimSpace(p.Type),
		Status:          model.StatusPending,
		RequestedForUID: subject.UID,
		RequestedFor:    snapshotOf(subject),
		RequestedByUID:  requester.UID,
		RequestedByRole: requester.Role,
		RequestedBy:     snapshotOf(requester),
		Notes:           strings.TrimSpace(p.Notes),
		DeliveryMethod:  p.DeliveryMethod,
		TargetEmail:     strings.TrimSpace(p.TargetEmail),
		Attachments:     attachments,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if requester.Role == model.RoleParent {
		r.ParentUID = requester.UID
	}

	ev := model.Event{
		Type: model.EventSubmitted, ByUID: requester.UID, ByRole: requester.Role, At: now,
	}
	if err := e.store.CreateRequest(ctx, r, ev); err != nil {
		return model.Request{}, err
	}
	e.notifier.RequestSubmitted(ctx, r)
	return r, nil
}

// ListFor returns the viewer's feed. Staff see the shared work queue
// (approved and sent unless a status filter says otherwise) unless they
// asked for scope=mine; everyone else gets the merged union of the indexes
// that can reference them. The index reads run in parallel.
func (e *Engine) ListFor(ctx context.Context, viewer model.User, scope, status string, limit int) ([]model.Request, error) {
	if model.IsStaff(viewer.Role) && scope != ScopeMine {
		return e.store.StaffFeed(ctx, status, limit)
	}

	var byRequester, bySubject, byParent []model.Request
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		byRequester, err = e.store.RequestsByRequester(gctx, viewer.UID, status, limit)
		return err
	})
	g.Go(func() error {
		var err error
		bySubject, err = e.store.RequestsBySubject(gctx, viewer.UID, status, limit)
		return err
	})
	if viewer.Role == model.RoleParent {
		g.Go(func() error {
			var err error
			byParent, err = e.store.RequestsByParent(gctx, viewer.UID, status, limit)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return MergeByCreatedAt(limit, byRequester, bySubject, byParent), nil
}

// ListForChild returns a child's requests to its parent.
func (e *Engine) ListForChild(ctx context.Context, parent model.User, childUID, status string, limit int) ([]model.Request, error) {
	child, err := e.users.GetUser(ctx, childUID)
	if err != nil {
		return nil, err
	}
	if child.Role != model.RoleEtudiant || child.ParentUID != parent.UID {
		return nil, apperr.Forbidden("NOT_YOUR_CHILD")
	}
	return e.store.RequestsBySubject(ctx, childUID, status, limit)
}

// canView reports whether a viewer may read a request: staff, the
// requester, the subject, or the parent who filed it.
func canView(viewer model.User, r model.Request) bool {
	if model.IsStaff(viewer.Role) {
		return true
	}
	if r.RequestedByUID == viewer.UID || r.RequestedForUID == viewer.UID {
		return true
	}
	return r.ParentUID != "" && r.ParentUID == viewer.UID
}

func (e *Engine) Get(ctx context.Context, viewer model.User, id string) (model.Request, error) {
	r, err := e.store.GetRequest(ctx, id)
	if err != nil {
		return model.Request{}, err
	}
	if !canView(viewer, r) {
		return model.Request{}, apperr.Forbidden("FORBIDDEN")
	}
	return r, nil
}

// Decide approves or rejects a pending request. Rejection requires a
// reason. The notification fan-out runs after the commit.
func (e *Engine) Decide(ctx context.Context, actor model.User, id, status, reason string) (model.Request, error) {
	if status != model.StatusApproved && status != model.StatusRejected {
		return model.Request{}, apperr.Invalid("INVALID_STATUS")
	}
	if status == model.StatusRejected && strings.TrimSpace(reason) == "" {
		return model.Request{}, apperr.Invalid("MISSING_REASON")
	}
	r, err := e.store.UpdateStatus(ctx, id, status, strings.TrimSpace(reason), model.Actor{UID: actor.UID, Role: actor.Role})
	if err != nil {
		return model.Request{}, err
	}
	e.notifier.RequestDecided(ctx, r)
	return r, nil
}

// AttachDocument records an uploaded document. With notify the request
// moves to sent and the recipients are notified after the commit.
func (e *Engine) AttachDocument(ctx context.Context, actor model.User, id string, att model.Attachment, notify bool, notes string) (model.Request, error) {
	r, err := e.store.AppendAttachment(ctx, id, att, notify, strings.TrimSpace(notes), model.Actor{UID: actor.UID, Role: actor.Role})
	if err != nil {
		return model.Request{}, err
	}
	if notify {
		e.notifier.DocumentSent(ctx, r)
	}
	return r, nil
}

// NotifyDocumentSent re-announces a delivery without modifying the
// request: a document_sent event lands on the trail and the recipients get
// the same fan-out as an upload with delivery, but status and attachments
// stay untouched.
func (e *Engine) NotifyDocumentSent(ctx context.Context, actor model.User, id, notes string) (model.Request, error) {
	r, err := e.store.GetRequest(ctx, id)
	if err != nil {
		return model.Request{}, err
	}
	comment := strings.TrimSpace(notes)
	if comment == "" {
		comment = "Document envoyé"
	}
	ev := model.Event{
		Type: model.EventDocumentSent, Comment: comment,
		ByUID: actor.UID, ByRole: actor.Role, At: time.Now().UTC(),
	}
	if err := e.store.AppendEvent(ctx, id, ev); err != nil {
		return model.Request{}, err
	}
	e.notifier.DocumentSent(ctx, r)
	return r, nil
}

// ResolveDownloadFor checks access and locates the viewer's document.
func (e *Engine) ResolveDownloadFor(ctx context.Context, viewer model.User, id string) (Download, error) {
	r, err := e.Get(ctx, viewer, id)
	if err != nil {
		return Download{}, err
	}
	return ResolveDownload(r)
}

// Events returns a request's trail to anyone allowed to see the request.
func (e *Engine) Events(ctx context.Context, viewer model.User, id string) ([]model.Event, error) {
	if _, err := e.Get(ctx, viewer, id); err != nil {
		return nil, err
	}
	return e.store.ListEvents(ctx, id)
}

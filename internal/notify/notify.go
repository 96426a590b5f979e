// Package notify persists workflow notifications and fans them out to
// device tokens. Persistence is the durable half; pushes are best-effort
// and never fail the caller.
package notify

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/Gigatchad/uploadDocYnov/internal/model"
)

// minTokenLength weeds out placeholder and truncated device tokens that
// some clients register.
const minTokenLength = 10

// Store is the persistence surface: notification rows plus token lookups.
type Store interface {
	InsertNotification(ctx context.Context, n model.Notification) (string, error)
	SyncRequestNotifications(ctx context.Context, requestID, kind, status string) error
	FCMTokensForUIDs(ctx context.Context, uids []string) ([][]string, error)
	FCMTokensForRoles(ctx context.Context, roles []string) ([][]string, error)
}

// Pusher delivers a message to a batch of device tokens.
type Pusher interface {
	SendMulticast(ctx context.Context, tokens []string, msg Message) error
}

// Message is the push payload.
type Message struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

type Notifier struct {
	store Store
	push  Pusher
}

func New(store Store, push Pusher) *Notifier {
	return &Notifier{store: store, push: push}
}

// StaffRecipients addresses every staff member.
func StaffRecipients() []string {
	return []string{"role:" + model.RoleAdmin, "role:" + model.RolePersonnel}
}

// RequesterRecipients addresses the parties on the requester side of a
// request: the submitter, and the subject when someone else submitted.
func RequesterRecipients(r model.Request) []string {
	keys := []string{"uid:" + r.RequestedByUID}
	if r.RequestedForUID != "" && r.RequestedForUID != r.RequestedByUID {
		keys = append(keys, "uid:"+r.RequestedForUID)
	}
	return keys
}

// ViewerKeys are the recipient keys a user's inbox query matches.
func ViewerKeys(u model.User) []string {
	return []string{"role:" + u.Role, "uid:" + u.UID}
}

// FilterTokens flattens per-user token lists into one deduplicated batch,
// dropping tokens too short to be real.
func FilterTokens(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, token := range list {
			if len(token) <= minTokenLength {
				continue
			}
			if _, ok := seen[token]; ok {
				continue
			}
			seen[token] = struct{}{}
			out = append(out, token)
		}
	}
	return out
}

// resolveTokens expands recipient keys into the device tokens behind them.
func (n *Notifier) resolveTokens(ctx context.Context, recipients []string) []string {
	var uids, roles []string
	for _, key := range recipients {
		switch {
		case strings.HasPrefix(key, "uid:"):
			uids = append(uids, strings.TrimPrefix(key, "uid:"))
		case strings.HasPrefix(key, "role:"):
			roles = append(roles, strings.TrimPrefix(key, "role:"))
		}
	}

	var lists [][]string
	if len(uids) > 0 {
		byUID, err := n.store.FCMTokensForUIDs(ctx, uids)
		if err != nil {
			log.Printf("notify: token lookup by uid: %v", err)
		} else {
			lists = append(lists, byUID...)
		}
	}
	if len(roles) > 0 {
		byRole, err := n.store.FCMTokensForRoles(ctx, roles)
		if err != nil {
			log.Printf("notify: token lookup by role: %v", err)
		} else {
			lists = append(lists, byRole...)
		}
	}
	return FilterTokens(lists...)
}

// deliver persists the notification, then pushes. A persistence failure is
// logged and aborts the push; a push failure is logged and swallowed.
func (n *Notifier) deliver(ctx context.Context, notif model.Notification, msg Message) {
	notif.CreatedAt = time.Now().UTC()
	if _, err := n.store.InsertNotification(ctx, notif); err != nil {
		log.Printf("notify: persist %s for request %s: %v", notif.Kind, notif.RequestID, err)
		return
	}
	tokens := n.resolveTokens(ctx, notif.Recipients)
	if len(tokens) == 0 {
		return
	}
	if err := n.push.SendMulticast(ctx, tokens, msg); err != nil {
		log.Printf("notify: push %s for request %s: %v", notif.Kind, notif.RequestID, err)
	}
}

func baseNotification(r model.Request, kind string) model.Notification {
	return model.Notification{
		Kind:            kind,
		RequestID:       r.ID,
		Status:          r.Status,
		Type:            r.Type,
		Notes:           r.Notes,
		RequestedBy:     r.RequestedBy,
		RequestedFor:    r.RequestedFor,
		RejectionReason: r.RejectionReason,
	}
}

// RequestSubmitted notifies staff of a new submission.
func (n *Notifier) RequestSubmitted(ctx context.Context, r model.Request) {
	notif := baseNotification(r, model.KindRequestSubmitted)
	notif.Recipients = StaffRecipients()
	n.deliver(ctx, notif, Message{
		Title: "Nouvelle demande",
		Body:  r.RequestedFor.DisplayName + " · " + r.Type,
		Data:  map[string]string{"requestId": r.ID, "kind": model.KindRequestSubmitted},
	})
}

// RequestDecided notifies the requester side of an approval or rejection
// and mirrors the new status onto the submission notifications staff
// already received.
func (n *Notifier) RequestDecided(ctx context.Context, r model.Request) {
	kind := model.KindRequestApproved
	title := "Demande approuvée"
	if r.Status == model.StatusRejected {
		kind = model.KindRequestRejected
		title = "Demande refusée"
	}
	notif := baseNotification(r, kind)
	notif.Recipients = RequesterRecipients(r)
	n.deliver(ctx, notif, Message{
		Title: title,
		Body:  r.Type,
		Data:  map[string]string{"requestId": r.ID, "kind": kind},
	})

	if err := n.store.SyncRequestNotifications(ctx, r.ID, model.KindRequestSubmitted, r.Status); err != nil {
		log.Printf("notify: sync status for request %s: %v", r.ID, err)
	}
}

// DocumentSent notifies the requester side that their document is ready.
func (n *Notifier) DocumentSent(ctx context.Context, r model.Request) {
	notif := baseNotification(r, model.KindDocumentSent)
	notif.Recipients = RequesterRecipients(r)
	n.deliver(ctx, notif, Message{
		Title: "Document envoyé",
		Body:  r.Type,
		Data:  map[string]string{"requestId": r.ID, "kind": model.KindDocumentSent},
	})

	if err := n.store.SyncRequestNotifications(ctx, r.ID, model.KindRequestSubmitted, r.Status); err != nil {
		log.Printf("notify: sync status for request %s: %v", r.ID, err)
	}
}

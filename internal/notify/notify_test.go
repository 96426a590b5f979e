package notify

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/Gigatchad/uploadDocYnov/internal/model"
)

type fakeStore struct {
	inserted   []model.Notification
	insertErr  error
	synced     [][3]string
	uidTokens  [][]string
	roleTokens [][]string
}

func (f *fakeStore) InsertNotification(_ context.Context, n model.Notification) (string, error) {
	if f.insertErr != nil {
		return "", f.insertErr
	}
	f.inserted = append(f.inserted, n)
	return "n1", nil
}

func (f *fakeStore) SyncRequestNotifications(_ context.Context, requestID, kind, status string) error {
	f.synced = append(f.synced, [3]string{requestID, kind, status})
	return nil
}

func (f *fakeStore) FCMTokensForUIDs(_ context.Context, _ []string) ([][]string, error) {
	return f.uidTokens, nil
}

func (f *fakeStore) FCMTokensForRoles(_ context.Context, _ []string) ([][]string, error) {
	return f.roleTokens, nil
}

type fakePusher struct {
	batches [][]string
	err     error
}

func (f *fakePusher) SendMulticast(_ context.Context, tokens []string, _ Message) error {
	f.batches = append(f.batches, tokens)
	return f.err
}

func TestFilterTokens(t *testing.T) {
	got := FilterTokens(
		[]string{"token-alpha-1", "short", "token-alpha-1"},
		[]string{"token-beta-22", "token-alpha-1", ""},
	)
	want := []string{"token-alpha-1", "token-beta-22"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestRecipientKeys(t *testing.T) {
	r := model.Request{RequestedByUID: "par1", RequestedForUID: "stud1"}
	if got := RequesterRecipients(r); !reflect.DeepEqual(got, []string{"uid:par1", "uid:stud1"}) {
		t.Fatalf("unexpected recipients: %v", got)
	}

	self := model.Request{RequestedByUID: "stud1", RequestedForUID: "stud1"}
	if got := RequesterRecipients(self); !reflect.DeepEqual(got, []string{"uid:stud1"}) {
		t.Fatalf("self-submission should address one key, got %v", got)
	}

	if got := StaffRecipients(); !reflect.DeepEqual(got, []string{"role:admin", "role:personnel"}) {
		t.Fatalf("unexpected staff keys: %v", got)
	}

	u := model.User{UID: "u1", Role: model.RoleParent}
	if got := ViewerKeys(u); !reflect.DeepEqual(got, []string{"role:parent", "uid:u1"}) {
		t.Fatalf("unexpected viewer keys: %v", got)
	}
}

func TestSubmittedGoesToStaff(t *testing.T) {
	store := &fakeStore{roleTokens: [][]string{{"staff-token-123"}}}
	push := &fakePusher{}
	n := New(store, push)

	n.RequestSubmitted(context.Background(), model.Request{
		ID: "r1", Type: "certificat", Status: model.StatusPending,
		RequestedByUID: "stud1", RequestedForUID: "stud1",
	})

	if len(store.inserted) != 1 {
		t.Fatalf("expected one persisted notification")
	}
	got := store.inserted[0]
	if got.Kind != model.KindRequestSubmitted || !reflect.DeepEqual(got.Recipients, StaffRecipients()) {
		t.Fatalf("unexpected notification: %+v", got)
	}
	if len(push.batches) != 1 || push.batches[0][0] != "staff-token-123" {
		t.Fatalf("expected one push batch, got %v", push.batches)
	}
}

func TestPersistFailureSkipsPush(t *testing.T) {
	store := &fakeStore{insertErr: errors.New("db down"), roleTokens: [][]string{{"staff-token-123"}}}
	push := &fakePusher{}
	n := New(store, push)

	n.RequestSubmitted(context.Background(), model.Request{ID: "r1"})
	if len(push.batches) != 0 {
		t.Fatalf("push must not run when persistence failed")
	}
}

func TestPushFailureIsSwallowed(t *testing.T) {
	store := &fakeStore{uidTokens: [][]string{{"user-token-9999"}}}
	push := &fakePusher{err: errors.New("gateway down")}
	n := New(store, push)

	// Must not panic or propagate; the notification row still lands.
	n.DocumentSent(context.Background(), model.Request{
		ID: "r1", Status: model.StatusSent, RequestedByUID: "stud1", RequestedForUID: "stud1",
	})
	if len(store.inserted) != 1 {
		t.Fatalf("expected the notification to persist despite the push failure")
	}
}

func TestDecidedSyncsSubmissionStatus(t *testing.T) {
	store := &fakeStore{}
	n := New(store, &fakePusher{})

	n.RequestDecided(context.Background(), model.Request{
		ID: "r1", Status: model.StatusRejected, RejectionReason: "incomplete",
		RequestedByUID: "par1", RequestedForUID: "stud1", ParentUID: "par1",
	})

	if len(store.inserted) != 1 || store.inserted[0].Kind != model.KindRequestRejected {
		t.Fatalf("unexpected notifications: %+v", store.inserted)
	}
	want := [3]string{"r1", model.KindRequestSubmitted, model.StatusRejected}
	if len(store.synced) != 1 || store.synced[0] != want {
		t.Fatalf("expected submission notifications synced to rejected, got %v", store.synced)
	}
}

package requests

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Gigatchad/uploadDocYnov/internal/apperr"
	"github.com/Gigatchad/uploadDocYnov/internal/model"
)

// fakeStore keeps requests in memory and mimics the repository's
// transition checks.
type fakeStore struct {
	mu       sync.Mutex
	requests map[string]model.Request
	events   []model.Event
}

func newFakeStore() *fakeStore {
	return &fakeStore{requests: map[string]model.Request{}}
}

func (f *fakeStore) CreateRequest(_ context.Context, r model.Request, ev model.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests[r.ID] = r
	ev.RequestID = r.ID
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeStore) GetRequest(_ context.Context, id string) (model.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.requests[id]
	if !ok {
		return model.Request{}, apperr.NotFound("REQUEST_NOT_FOUND")
	}
	return r, nil
}

func (f *fakeStore) match(pred func(model.Request) bool, status string, limit int) []model.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Request
	for _, r := range f.requests {
		if !pred(r) {
			continue
		}
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, r)
	}
	return MergeByCreatedAt(limit, out)
}

func (f *fakeStore) RequestsByRequester(_ context.Context, uid, status string, limit int) ([]model.Request, error) {
	return f.match(func(r model.Request) bool { return r.RequestedByUID == uid }, status, limit), nil
}

func (f *fakeStore) RequestsBySubject(_ context.Context, uid, status string, limit int) ([]model.Request, error) {
	return f.match(func(r model.Request) bool { return r.RequestedForUID == uid }, status, limit), nil
}

func (f *fakeStore) RequestsByParent(_ context.Context, uid, status string, limit int) ([]model.Request, error) {
	return f.match(func(r model.Request) bool { return r.ParentUID == uid }, status, limit), nil
}

func (f *fakeStore) StaffFeed(_ context.Context, status string, limit int) ([]model.Request, error) {
	if status != "" {
		return f.match(func(model.Request) bool { return true }, status, limit), nil
	}
	return f.match(func(r model.Request) bool {
		return r.Status == model.StatusApproved || r.Status == model.StatusSent
	}, "", limit), nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, id, status, reason string, actor model.Actor) (model.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.requests[id]
	if !ok {
		return model.Request{}, apperr.NotFound("REQUEST_NOT_FOUND")
	}
	if !model.CanTransition(r.Status, status) {
		return model.Request{}, apperr.Conflict("INVALID_STATUS_TRANSITION")
	}
	r.Status = status
	r.RejectionReason = reason
	f.requests[id] = r
	f.events = append(f.events, model.Event{RequestID: id, Type: status, ByUID: actor.UID})
	return r, nil
}

func (f *fakeStore) AppendAttachment(_ context.Context, id string, att model.Attachment, markSent bool, notes string, actor model.Actor) (model.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.requests[id]
	if !ok {
		return model.Request{}, apperr.NotFound("REQUEST_NOT_FOUND")
	}
	if markSent && !model.CanTransition(r.Status, model.StatusSent) {
		return model.Request{}, apperr.Conflict("INVALID_STATUS_TRANSITION")
	}
	r.Attachments = append(r.Attachments, att)
	if markSent {
		r.Status = model.StatusSent
		r.DeliveredAtt = append(r.DeliveredAtt, att)
	}
	f.requests[id] = r
	return r, nil
}

func (f *fakeStore) AppendEvent(_ context.Context, requestID string, ev model.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.requests[requestID]; !ok {
		return apperr.NotFound("REQUEST_NOT_FOUND")
	}
	ev.RequestID = requestID
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeStore) ListEvents(_ context.Context, requestID string) ([]model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Event
	for _, ev := range f.events {
		if ev.RequestID == requestID {
			out = append(out, ev)
		}
	}
	return out, nil
}

type fakeUsers map[string]model.User

func (f fakeUsers) GetUser(_ context.Context, uid string) (model.User, error) {
	u, ok := f[uid]
	if !ok {
		return model.User{}, apperr.NotFound("USER_NOT_FOUND")
	}
	return u, nil
}

type fakeNotifier struct {
	submitted, decided, sent []string
}

func (f *fakeNotifier) RequestSubmitted(_ context.Context, r model.Request) {
	f.submitted = append(f.submitted, r.ID)
}

func (f *fakeNotifier) RequestDecided(_ context.Context, r model.Request) {
	f.decided = append(f.decided, r.ID)
}

func (f *fakeNotifier) DocumentSent(_ context.Context, r model.Request) {
	f.sent = append(f.sent, r.ID)
}

func testWorld() (*Engine, *fakeStore, *fakeNotifier, fakeUsers) {
	store := newFakeStore()
	users := fakeUsers{
		"staff1": {UID: "staff1", Role: model.RolePersonnel},
		"stud1":  {UID: "stud1", Role: model.RoleEtudiant, ParentUID: "par1"},
		"stud2":  {UID: "stud2", Role: model.RoleEtudiant},
		"par1":   {UID: "par1", Role: model.RoleParent, ParentOf: []string{"stud1"}},
		"other":  {UID: "other", Role: model.RoleParent},
	}
	notifier := &fakeNotifier{}
	return NewEngine(store, users, notifier), store, notifier, users
}

func TestCreateAccessRules(t *testing.T) {
	ctx := context.Background()
	engine, _, notifier, users := testWorld()

	// Student submits for itself.
	r, err := engine.Create(ctx, users["stud1"], CreateParams{Type: "certificat"})
	if err != nil {
		t.Fatalf("student self-submit: %v", err)
	}
	if r.Status != model.StatusPending || r.RequestedForUID != "stud1" || r.ParentUID != "" {
		t.Fatalf("unexpected request: %+v", r)
	}
	if len(notifier.submitted) != 1 {
		t.Fatalf("expected a submission fan-out")
	}

	// Student cannot submit for someone else.
	if _, err := engine.Create(ctx, users["stud1"], CreateParams{Type: "x", RequestedForUID: "stud2"}); !apperr.Is(err, "FORBIDDEN") {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}

	// Parent submits for its attached child; the parentUid marker is set.
	r, err = engine.Create(ctx, users["par1"], CreateParams{Type: "bulletin", RequestedForUID: "stud1"})
	if err != nil {
		t.Fatalf("parent submit: %v", err)
	}
	if r.ParentUID != "par1" || r.RequestedBy.Role != model.RoleParent {
		t.Fatalf("unexpected parent request: %+v", r)
	}

	// A parent without the link is refused.
	if _, err := engine.Create(ctx, users["other"], CreateParams{Type: "x", RequestedForUID: "stud1"}); !apperr.Is(err, "NOT_YOUR_CHILD") {
		t.Fatalf("expected NOT_YOUR_CHILD, got %v", err)
	}

	// Subject snapshots are frozen at creation.
	if r.RequestedFor.UID != "stud1" || r.RequestedFor.Role != model.RoleEtudiant {
		t.Fatalf("expected frozen subject snapshot, got %+v", r.RequestedFor)
	}

	// A parent must name the child.
	if _, err := engine.Create(ctx, users["par1"], CreateParams{Type: "x"}); !apperr.Is(err, "STUDENT_UID_REQUIRED") {
		t.Fatalf("expected STUDENT_UID_REQUIRED, got %v", err)
	}

	// Staff review requests; they do not file them.
	if _, err := engine.Create(ctx, users["staff1"], CreateParams{Type: "x", RequestedForUID: "stud1"}); !apperr.Is(err, "FORBIDDEN") {
		t.Fatalf("expected FORBIDDEN for staff, got %v", err)
	}
	if _, err := engine.Create(ctx, users["stud1"], CreateParams{Type: "  "}); !apperr.Is(err, "MISSING_TYPE") {
		t.Fatalf("expected MISSING_TYPE, got %v", err)
	}
}

func TestCreateCapsClientAttachments(t *testing.T) {
	ctx := context.Background()
	engine, _, _, users := testWorld()

	var atts []model.Attachment
	for i := 0; i < 9; i++ {
		atts = append(atts, model.Attachment{PublicID: string(rune('a' + i))})
	}
	r, err := engine.Create(ctx, users["stud1"], CreateParams{Type: "certificat", Attachments: atts})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(r.Attachments) != 6 {
		t.Fatalf("expected the first 6 descriptors kept, got %d", len(r.Attachments))
	}
	if r.Attachments[0].PublicID != "a" || r.Attachments[5].PublicID != "f" {
		t.Fatalf("cap must keep the leading descriptors, got %+v", r.Attachments)
	}
}

func TestUploadsAreAppendOnly(t *testing.T) {
	ctx := context.Background()
	engine, _, _, users := testWorld()

	r, _ := engine.Create(ctx, users["stud1"], CreateParams{Type: "certificat"})
	var got model.Request
	for i := 0; i < 8; i++ {
		var err error
		got, err = engine.AttachDocument(ctx, users["staff1"], r.ID,
			model.Attachment{PublicID: string(rune('a' + i))}, false, "")
		if err != nil {
			t.Fatalf("attach %d: %v", i, err)
		}
	}
	if len(got.Attachments) != 8 {
		t.Fatalf("upload history must never roll off, got %d entries", len(got.Attachments))
	}
	if got.Attachments[0].PublicID != "a" {
		t.Fatalf("oldest attachment must survive, got %+v", got.Attachments[0])
	}
}

func TestDecideLifecycle(t *testing.T) {
	ctx := context.Background()
	engine, _, notifier, users := testWorld()

	r, err := engine.Create(ctx, users["stud1"], CreateParams{Type: "certificat"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := engine.Decide(ctx, users["staff1"], r.ID, "weird", ""); !apperr.Is(err, "INVALID_STATUS") {
		t.Fatalf("expected INVALID_STATUS, got %v", err)
	}
	if _, err := engine.Decide(ctx, users["staff1"], r.ID, model.StatusRejected, " "); !apperr.Is(err, "MISSING_REASON") {
		t.Fatalf("expected MISSING_REASON, got %v", err)
	}

	rejected, err := engine.Decide(ctx, users["staff1"], r.ID, model.StatusRejected, "incomplete file")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != model.StatusRejected || rejected.RejectionReason != "incomplete file" {
		t.Fatalf("unexpected rejected request: %+v", rejected)
	}
	if len(notifier.decided) != 1 {
		t.Fatalf("expected a decision fan-out")
	}

	// A rejected request can never become approved.
	if _, err := engine.Decide(ctx, users["staff1"], r.ID, model.StatusApproved, ""); !apperr.Is(err, "INVALID_STATUS_TRANSITION") {
		t.Fatalf("expected INVALID_STATUS_TRANSITION, got %v", err)
	}

	// But a corrected document can still be delivered on it.
	att := model.Attachment{SecureURL: "https://cdn/x/fixed.pdf", UploadedAt: time.Now()}
	sent, err := engine.AttachDocument(ctx, users["staff1"], r.ID, att, true, "corrected")
	if err != nil {
		t.Fatalf("attach on rejected: %v", err)
	}
	if sent.Status != model.StatusSent {
		t.Fatalf("expected sent, got %s", sent.Status)
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("expected a delivery fan-out")
	}
}

func TestAttachWithoutNotifyKeepsStatus(t *testing.T) {
	ctx := context.Background()
	engine, _, notifier, users := testWorld()

	r, _ := engine.Create(ctx, users["stud1"], CreateParams{Type: "certificat"})
	att := model.Attachment{SecureURL: "https://cdn/x/draft.pdf"}
	got, err := engine.AttachDocument(ctx, users["staff1"], r.ID, att, false, "")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if got.Status != model.StatusPending || len(got.DeliveredAtt) != 0 {
		t.Fatalf("upload without notify must not deliver: %+v", got)
	}
	if len(notifier.sent) != 0 {
		t.Fatalf("no fan-out expected for a silent upload")
	}
}

func TestListForMergesViewerIndexes(t *testing.T) {
	ctx := context.Background()
	engine, _, _, users := testWorld()

	// Parent files for the child, the child files for itself, another
	// student files its own. The child's feed must union subject and
	// requester hits without duplicates or leakage.
	r1, _ := engine.Create(ctx, users["par1"], CreateParams{Type: "a", RequestedForUID: "stud1"})
	r2, _ := engine.Create(ctx, users["stud1"], CreateParams{Type: "b"})
	if _, err := engine.Create(ctx, users["stud2"], CreateParams{Type: "c"}); err != nil {
		t.Fatalf("second student submit: %v", err)
	}

	list, err := engine.ListFor(ctx, users["stud1"], "", "", 50)
	if err != nil {
		t.Fatalf("student list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 requests in the student feed, got %d", len(list))
	}

	list, err = engine.ListFor(ctx, users["par1"], "", "", 50)
	if err != nil {
		t.Fatalf("parent list: %v", err)
	}
	if len(list) != 1 || list[0].ID != r1.ID {
		t.Fatalf("parent feed should only hold its own submission, got %v", list)
	}

	// The default staff feed hides pending work.
	list, err = engine.ListFor(ctx, users["staff1"], "", "", 50)
	if err != nil {
		t.Fatalf("staff list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("staff default feed must hide pending, got %d", len(list))
	}

	if _, err := engine.Decide(ctx, users["staff1"], r2.ID, model.StatusApproved, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	list, _ = engine.ListFor(ctx, users["staff1"], "", "", 50)
	if len(list) != 1 || list[0].ID != r2.ID {
		t.Fatalf("staff feed should now show the approved request, got %v", list)
	}

	// Explicit filter overrides the default visibility.
	list, _ = engine.ListFor(ctx, users["staff1"], "", model.StatusPending, 50)
	if len(list) != 2 {
		t.Fatalf("expected 2 pending via explicit filter, got %d", len(list))
	}
}

func TestListForStaffScopeMine(t *testing.T) {
	ctx := context.Background()
	engine, store, _, users := testWorld()

	now := time.Now().UTC()
	store.requests["r-mine"] = model.Request{
		ID: "r-mine", RequestedByUID: "staff1", Status: model.StatusSent, CreatedAt: now,
	}
	store.requests["r-other"] = model.Request{
		ID: "r-other", RequestedByUID: "stud2", RequestedForUID: "stud2",
		Status: model.StatusSent, CreatedAt: now.Add(time.Second),
	}

	// Without scope=mine the staff viewer gets the shared queue.
	list, err := engine.ListFor(ctx, users["staff1"], "", model.StatusSent, 50)
	if err != nil {
		t.Fatalf("staff queue: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("shared queue should hold both sent requests, got %d", len(list))
	}

	// scope=mine narrows staff to their own submissions.
	list, err = engine.ListFor(ctx, users["staff1"], ScopeMine, model.StatusSent, 50)
	if err != nil {
		t.Fatalf("staff mine: %v", err)
	}
	if len(list) != 1 || list[0].ID != "r-mine" {
		t.Fatalf("scope=mine must exclude other users' requests, got %v", list)
	}
}

func TestMyDocumentsFeedExcludesUndelivered(t *testing.T) {
	ctx := context.Background()
	engine, _, _, users := testWorld()

	pending, _ := engine.Create(ctx, users["stud1"], CreateParams{Type: "a"})
	delivered, _ := engine.Create(ctx, users["stud1"], CreateParams{Type: "b"})
	if _, err := engine.AttachDocument(ctx, users["staff1"], delivered.ID,
		model.Attachment{SecureURL: "https://cdn/x/doc.pdf"}, true, ""); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	list, err := engine.ListFor(ctx, users["stud1"], ScopeMine, model.StatusSent, 50)
	if err != nil {
		t.Fatalf("my documents: %v", err)
	}
	if len(list) != 1 || list[0].ID != delivered.ID {
		t.Fatalf("only delivered documents belong in the feed, got %v", list)
	}
	for _, r := range list {
		if r.ID == pending.ID {
			t.Fatalf("pending request leaked into the delivered feed")
		}
	}
}

func TestNotifyDocumentSentLeavesRequestUntouched(t *testing.T) {
	ctx := context.Background()
	engine, store, notifier, users := testWorld()

	r, _ := engine.Create(ctx, users["stud1"], CreateParams{Type: "certificat"})

	got, err := engine.NotifyDocumentSent(ctx, users["staff1"], r.ID, "re-sent by hand")
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got.Status != model.StatusPending || len(got.Attachments) != 0 || got.SentAt != nil {
		t.Fatalf("notify-only must not modify the request: %+v", got)
	}
	if len(notifier.sent) != 1 || notifier.sent[0] != r.ID {
		t.Fatalf("expected one delivery fan-out, got %v", notifier.sent)
	}

	events, _ := store.ListEvents(ctx, r.ID)
	var sawSent bool
	for _, ev := range events {
		if ev.Type == model.EventDocumentSent && ev.Comment == "re-sent by hand" {
			sawSent = true
		}
	}
	if !sawSent {
		t.Fatalf("expected a document_sent event on the trail, got %v", events)
	}

	if _, err := engine.NotifyDocumentSent(ctx, users["staff1"], "missing", ""); !apperr.Is(err, "REQUEST_NOT_FOUND") {
		t.Fatalf("expected REQUEST_NOT_FOUND, got %v", err)
	}
}

func TestGetEnforcesVisibility(t *testing.T) {
	ctx := context.Background()
	engine, _, _, users := testWorld()

	r, _ := engine.Create(ctx, users["stud1"], CreateParams{Type: "certificat"})

	if _, err := engine.Get(ctx, users["par1"], r.ID); !apperr.Is(err, "FORBIDDEN") {
		t.Fatalf("parent did not file this request, expected FORBIDDEN, got %v", err)
	}
	if _, err := engine.Get(ctx, users["staff1"], r.ID); err != nil {
		t.Fatalf("staff read: %v", err)
	}
	if _, err := engine.Get(ctx, users["stud1"], r.ID); err != nil {
		t.Fatalf("subject read: %v", err)
	}
}

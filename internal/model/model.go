package model

import "time"

// Roles. Role is immutable after creation; changing a role means
// deleting and recreating the account.
const (
	RoleAdmin     = "admin"
	RolePersonnel = "personnel"
	RoleEtudiant  = "etudiant"
	RoleParent    = "parent"
)

func IsStaff(role string) bool {
	return role == RoleAdmin || role == RolePersonnel
}

func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RolePersonnel, RoleEtudiant, RoleParent:
		return true
	}
	return false
}

// Request statuses.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
	StatusSent     = "sent"
)

// CanTransition reports whether a request may move from one status to
// another. Approval and rejection only ever leave pending; sent is reached
// by a document delivery from any non-sent status and is terminal.
func CanTransition(from, to string) bool {
	switch to {
	case StatusApproved, StatusRejected:
		return from == StatusPending
	case StatusSent:
		return from == StatusPending || from == StatusApproved || from == StatusRejected
	}
	return false
}

// Request event types, append-only per request.
const (
	EventSubmitted        = "submitted"
	EventApproved         = "approved"
	EventRejected         = "rejected"
	EventDocumentUploaded = "document_uploaded"
	EventDocumentSent     = "document_sent"
)

// Notification kinds mirror the triggering event.
const (
	KindRequestSubmitted = "request_submitted"
	KindRequestApproved  = "request_approved"
	KindRequestRejected  = "request_rejected"
	KindDocumentSent     = "document_sent"
)

type User struct {
	UID              string
	Role             string
	Email            string
	NotifyEmail      string
	Prenom           string
	Nom              string
	DisplayName      string
	DisplayNameLower string
	Filiere          string
	Niveau           string
	ParentUID        string   // students: uid of the single parent, empty if detached
	ParentOf         []string // parents: uids of attached students
	FCMTokens        []string
	PhotoURL         string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	LastLoginAt      *time.Time
	PasswordSetAt    *time.Time
}

// PartySnapshot is the denormalized requester/subject data frozen on a
// request at creation time, so later profile edits never rewrite history.
type PartySnapshot struct {
	UID         string `json:"uid,omitempty"`
	Prenom      string `json:"prenom,omitempty"`
	Nom         string `json:"nom,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
	Filiere     string `json:"filiere,omitempty"`
	Niveau      string `json:"niveau,omitempty"`
	Role        string `json:"role,omitempty"`
}

// Attachment descriptors live in a JSON column; UploadedAt is kept as an
// opaque value because historical rows carry epoch numbers, strings or
// native timestamps depending on the writer.
type Attachment struct {
	PublicID         string `json:"publicId,omitempty"`
	SecureURL        string `json:"secureUrl,omitempty"`
	URL              string `json:"url,omitempty"`
	MimeType         string `json:"mimeType,omitempty"`
	OriginalFilename string `json:"originalFilename,omitempty"`
	UploadedByUID    string `json:"uploadedByUid,omitempty"`
	UploadedAt       any    `json:"uploadedAt,omitempty"`
}

type Request struct {
	ID              string
	Type            string
	Status          string
	RequestedForUID string
	RequestedFor    PartySnapshot
	RequestedByUID  string
	RequestedByRole string
	RequestedBy     PartySnapshot
	ParentUID       string // set iff submitted by a parent
	Notes           string
	DeliveryMethod  string
	TargetEmail     string
	Attachments     []Attachment
	DeliveredAtt    []Attachment
	DocumentURL     string
	RejectionReason string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ApprovedAt      *time.Time
	RejectedAt      *time.Time
	SentAt          *time.Time
}

// Actor identifies who performed a mutation, for event trails and audit
// rows.
type Actor struct {
	UID  string
	Role string
}

type Event struct {
	ID        string
	RequestID string
	Type      string
	Comment   string
	ByUID     string
	ByRole    string
	At        time.Time
}

type Notification struct {
	ID              string
	Kind            string
	RequestID       string
	Status          string
	Type            string
	Notes           string
	RequestedBy     PartySnapshot
	RequestedFor    PartySnapshot
	Recipients      []string // "role:<role>" or "uid:<uid>"
	Reads           map[string]time.Time
	RejectionReason string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ResetCode is a single-use password reset secret, keyed by a
// deterministic hash of the email.
type ResetCode struct {
	ID        string // sha1(email)
	Email     string
	UID       string
	CodeHash  string
	Attempts  int
	ExpiresAt time.Time
	Used      bool
	IP        string
	UserAgent string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// InviteToken is a single-use account-activation secret keyed by the
// random token itself.
type InviteToken struct {
	Token     string
	UID       string
	Email     string
	ExpiresAt time.Time
	Used      bool
	UsedAt    *time.Time
	CreatedAt time.Time
}

type AuditEntry struct {
	ActorUID  string
	ActorRole string
	Action    string
	TargetCol string
	TargetID  string
	Meta      map[string]any
	Method    string
	URL       string
	IP        string
	UserAgent string
}

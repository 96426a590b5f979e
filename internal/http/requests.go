package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Gigatchad/uploadDocYnov/internal/model"
	"github.com/Gigatchad/uploadDocYnov/internal/notify"
	"github.com/Gigatchad/uploadDocYnov/internal/requests"
)

func requestPayload(r model.Request) map[string]any {
	attachments := r.Attachments
	if attachments == nil {
		attachments = []model.Attachment{}
	}
	return map[string]any{
		"id":              r.ID,
		"type":            r.Type,
		"status":          r.Status,
		"requestedForUid": r.RequestedForUID,
		"requestedFor":    r.RequestedFor,
		"requestedByUid":  r.RequestedByUID,
		"requestedByRole": r.RequestedByRole,
		"requestedBy":     r.RequestedBy,
		"parentUid":       r.ParentUID,
		"notes":           r.Notes,
		"deliveryMethod":  r.DeliveryMethod,
		"targetEmail":     r.TargetEmail,
		"attachments":     attachments,
		"documentUrl":     r.DocumentURL,
		"rejectionReason": r.RejectionReason,
		"createdAt":       r.CreatedAt,
		"updatedAt":       r.UpdatedAt,
		"approvedAt":      r.ApprovedAt,
		"rejectedAt":      r.RejectedAt,
		"sentAt":          r.SentAt,
	}
}

func requestPayloads(list []model.Request) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, r := range list {
		out = append(out, requestPayload(r))
	}
	return out
}

type createRequestBody struct {
	Type            string             `json:"type"`
	RequestedForUID string             `json:"requestedForUid"`
	Notes           string             `json:"notes"`
	DeliveryMethod  string             `json:"deliveryMethod"`
	TargetEmail     string             `json:"targetEmail"`
	Attachments     []model.Attachment `json:"attachments"`
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := decodeJSON(r, &body); err != nil {
		writeErr(w, err)
		return
	}

	actor := currentUser(r.Context())
	created, err := s.engine.Create(r.Context(), actor, requests.CreateParams{
		Type:            body.Type,
		RequestedForUID: body.RequestedForUID,
		Notes:           body.Notes,
		DeliveryMethod:  body.DeliveryMethod,
		TargetEmail:     body.TargetEmail,
		Attachments:     body.Attachments,
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	s.recordAudit(r, actor, "request_created", "requests", created.ID, map[string]any{"type": created.Type})
	writeJSON(w, http.StatusCreated, requestPayload(created))
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := s.engine.ListFor(r.Context(), currentUser(r.Context()),
		strings.ToLower(q.Get("scope")), q.Get("status"), clampLimit(q.Get("limit")))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": requestPayloads(list)})
}

// handleListMyDocuments is the personal delivered-documents feed: always
// scope=mine and status=sent, whatever the query says.
func (s *Server) handleListMyDocuments(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.ListFor(r.Context(), currentUser(r.Context()),
		requests.ScopeMine, model.StatusSent, clampLimit(r.URL.Query().Get("limit")))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": requestPayloads(list)})
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.engine.Get(r.Context(), currentUser(r.Context()), chi.URLParam(r, "requestId"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requestPayload(req))
}

type updateStatusBody struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (s *Server) handleUpdateRequestStatus(w http.ResponseWriter, r *http.Request) {
	var body updateStatusBody
	if err := decodeJSON(r, &body); err != nil {
		writeErr(w, err)
		return
	}

	actor := currentUser(r.Context())
	updated, err := s.engine.Decide(r.Context(), actor, chi.URLParam(r, "requestId"), body.Status, body.Reason)
	if err != nil {
		writeErr(w, err)
		return
	}

	s.recordAudit(r, actor, "request_status_updated", "requests", updated.ID, map[string]any{"status": body.Status})
	writeJSON(w, http.StatusOK, requestPayload(updated))
}

// handleUploadDocument receives a staff upload, stores it on the CDN and
// records it on the request. With notify=true the request is delivered.
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	actor := currentUser(r.Context())
	requestID := chi.URLParam(r, "requestId")

	contents, filename, err := readMultipartFile(r, "file")
	if err != nil {
		writeErr(w, err)
		return
	}
	// Delivery is the default; only an explicit notify=false holds it back.
	doNotify := flagValue(r.Form["notify"], true)
	notes := r.FormValue("notes")

	uploaded, err := s.storage.Upload(r.Context(), filename, contents)
	if err != nil {
		writeErr(w, err)
		return
	}

	att := model.Attachment{
		PublicID:         uploaded.PublicID,
		SecureURL:        uploaded.SecureURL,
		URL:              uploaded.URL,
		MimeType:         r.Header.Get("Content-Type"),
		OriginalFilename: filename,
		UploadedByUID:    actor.UID,
		UploadedAt:       time.Now().UTC(),
	}
	updated, err := s.engine.AttachDocument(r.Context(), actor, requestID, att, doNotify, notes)
	if err != nil {
		writeErr(w, err)
		return
	}

	action := "document_uploaded"
	if doNotify {
		action = "document_sent"
	}
	s.recordAudit(r, actor, action, "requests", requestID, map[string]any{"publicId": uploaded.PublicID})
	writeJSON(w, http.StatusOK, requestPayload(updated))
}

type notifySentBody struct {
	Notes string `json:"notes"`
}

// handleNotifyDocumentSent re-sends the delivery notification for a request
// whose document already exists, without touching the request itself.
func (s *Server) handleNotifyDocumentSent(w http.ResponseWriter, r *http.Request) {
	var body notifySentBody
	if err := decodeJSON(r, &body); err != nil {
		writeErr(w, err)
		return
	}

	actor := currentUser(r.Context())
	requestID := chi.URLParam(r, "requestId")
	req, err := s.engine.NotifyDocumentSent(r.Context(), actor, requestID, body.Notes)
	if err != nil {
		writeErr(w, err)
		return
	}

	s.recordAudit(r, actor, "document_notified", "requests", requestID, nil)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": req.ID, "status": req.Status})
}

func (s *Server) handleDownloadRequest(w http.ResponseWriter, r *http.Request) {
	download, err := s.engine.ResolveDownloadFor(r.Context(), currentUser(r.Context()), chi.URLParam(r, "requestId"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"url":      download.URL,
		"filename": download.Filename,
	})
}

func (s *Server) handleListRequestEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.engine.Events(r.Context(), currentUser(r.Context()), chi.URLParam(r, "requestId"))
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]map[string]any, 0, len(events))
	for _, ev := range events {
		out = append(out, map[string]any{
			"id":      ev.ID,
			"type":    ev.Type,
			"comment": ev.Comment,
			"byUid":   ev.ByUID,
			"byRole":  ev.ByRole,
			"at":      ev.At,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	viewer := currentUser(r.Context())
	list, err := s.store.NotificationsForRecipients(r.Context(),
		notify.ViewerKeys(viewer), clampLimit(r.URL.Query().Get("limit")))
	if err != nil {
		writeErr(w, err)
		return
	}

	out := make([]map[string]any, 0, len(list))
	for _, n := range list {
		_, read := n.Reads[viewer.UID]
		out = append(out, map[string]any{
			"id":              n.ID,
			"kind":            n.Kind,
			"requestId":       n.RequestID,
			"status":          n.Status,
			"type":            n.Type,
			"notes":           n.Notes,
			"requestedBy":     n.RequestedBy,
			"requestedFor":    n.RequestedFor,
			"rejectionReason": n.RejectionReason,
			"read":            read,
			"createdAt":       n.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": out})
}

func (s *Server) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	viewer := currentUser(r.Context())
	err := s.store.MarkNotificationRead(r.Context(), chi.URLParam(r, "notificationId"), viewer.UID, time.Now().UTC())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleStorageSignature hands a staff client the signed parameters for a
// direct CDN upload.
func (s *Server) handleStorageSignature(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.storage.SignUpload(time.Now()))
}

type deleteAssetBody struct {
	PublicID string `json:"publicId"`
}

func (s *Server) handleDeleteStorageAsset(w http.ResponseWriter, r *http.Request) {
	var body deleteAssetBody
	if err := decodeJSON(r, &body); err != nil {
		writeErr(w, err)
		return
	}
	if body.PublicID == "" {
		writeError(w, http.StatusBadRequest, "MISSING_PUBLIC_ID")
		return
	}
	if err := s.storage.Destroy(r.Context(), body.PublicID); err != nil {
		writeErr(w, err)
		return
	}
	actor := currentUser(r.Context())
	s.recordAudit(r, actor, "asset_deleted", "storage", body.PublicID, nil)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

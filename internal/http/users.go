package http

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Gigatchad/uploadDocYnov/internal/apperr"
	"github.com/Gigatchad/uploadDocYnov/internal/crypto"
	"github.com/Gigatchad/uploadDocYnov/internal/db"
	"github.com/Gigatchad/uploadDocYnov/internal/model"
)

func userPayload(u model.User) map[string]any {
	parentOf := u.ParentOf
	if parentOf == nil {
		parentOf = []string{}
	}
	return map[string]any{
		"uid":         u.UID,
		"role":        u.Role,
		"email":       u.Email,
		"notifyEmail": u.NotifyEmail,
		"prenom":      u.Prenom,
		"nom":         u.Nom,
		"displayName": u.DisplayName,
		"filiere":     u.Filiere,
		"niveau":      u.Niveau,
		"parentUid":   u.ParentUID,
		"parentOf":    parentOf,
		"photoUrl":    u.PhotoURL,
		"createdAt":   u.CreatedAt,
		"lastLoginAt": u.LastLoginAt,
		"passwordSet": u.PasswordSetAt != nil,
	}
}

func userPayloads(users []model.User) []map[string]any {
	out := make([]map[string]any, 0, len(users))
	for _, u := range users {
		out = append(out, userPayload(u))
	}
	return out
}

// studentPickerPayload is the reduced projection used by the pickers.
func studentPickerPayload(u model.User) map[string]any {
	return map[string]any{
		"uid":         u.UID,
		"displayName": u.DisplayName,
		"filiere":     u.Filiere,
		"niveau":      u.Niveau,
		"available":   u.ParentUID == "",
	}
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	params := db.ListUsersParams{
		Role:  r.URL.Query().Get("role"),
		Limit: clampLimit(r.URL.Query().Get("limit")),
	}
	if params.Role != "" && !model.ValidRole(params.Role) {
		writeError(w, http.StatusBadRequest, "INVALID_ROLE")
		return
	}
	if cursor := r.URL.Query().Get("before"); cursor != "" {
		parsed, err := time.Parse(time.RFC3339Nano, cursor)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_CURSOR")
			return
		}
		params.CreatedBefore = &parsed
	}

	users, err := s.store.ListUsers(r.Context(), params)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": userPayloads(users)})
}

func (s *Server) handleListStudents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	students, err := s.store.ListStudents(r.Context(), db.StudentPickerParams{
		AvailableOnly: q.Get("available") == "true",
		NamePrefix:    q.Get("search"),
		AfterName:     q.Get("after"),
		Limit:         clampLimit(q.Get("limit")),
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]map[string]any, 0, len(students))
	for _, u := range students {
		out = append(out, studentPickerPayload(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{"students": out})
}

type createUserRequest struct {
	Role        string   `json:"role"`
	Email       string   `json:"email"`
	NotifyEmail string   `json:"notifyEmail"`
	Prenom      string   `json:"prenom"`
	Nom         string   `json:"nom"`
	Filiere     string   `json:"filiere"`
	Niveau      string   `json:"niveau"`
	ParentOf    []string `json:"parentOf"`
}

var allowedNiveaux = []string{"Licence", "Master", "Cycle ingénieur", "MBA"}

// maxParentChildren bounds how many students one parent account may cover.
const maxParentChildren = 10

// createUserRuleError applies the role-specific creation rules and returns
// the wire code of the first violation, or an empty string.
func createUserRuleError(role, filiere, niveau string, parentOf []string) string {
	switch role {
	case model.RoleEtudiant:
		if strings.TrimSpace(filiere) == "" {
			return "MISSING_FILIERE"
		}
		valid := false
		for _, n := range allowedNiveaux {
			if n == niveau {
				valid = true
				break
			}
		}
		if !valid {
			return "INVALID_NIVEAU"
		}
	case model.RoleParent:
		if len(parentOf) < 1 {
			return "PARENT_OF_REQUIRED"
		}
		if len(parentOf) > maxParentChildren {
			return "TOO_MANY_CHILDREN"
		}
	}
	return ""
}

// handleCreateUser provisions a profile, its credential row and the
// activation email. Parents are created transactionally with their child
// links so a failed attach creates nothing.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	actor := currentUser(r.Context())

	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if !model.ValidRole(req.Role) {
		writeError(w, http.StatusBadRequest, "INVALID_ROLE")
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		writeError(w, http.StatusBadRequest, "MISSING_EMAIL")
		return
	}
	if req.Role != model.RoleParent && len(req.ParentOf) > 0 {
		writeError(w, http.StatusBadRequest, "PARENT_OF_NOT_ALLOWED")
		return
	}
	if code := createUserRuleError(req.Role, req.Filiere, req.Niveau, req.ParentOf); code != "" {
		writeError(w, http.StatusBadRequest, code)
		return
	}
	if _, err := s.store.GetUserByEmail(r.Context(), email); err == nil {
		writeError(w, http.StatusConflict, "EMAIL_ALREADY_EXISTS")
		return
	}

	now := time.Now().UTC()
	prenom := strings.TrimSpace(req.Prenom)
	nom := strings.TrimSpace(req.Nom)
	displayName := strings.TrimSpace(prenom + " " + nom)
	user := model.User{
		UID:              uuid.NewString(),
		Role:             req.Role,
		Email:            email,
		NotifyEmail:      strings.TrimSpace(req.NotifyEmail),
		Prenom:           prenom,
		Nom:              nom,
		DisplayName:      displayName,
		DisplayNameLower: strings.ToLower(displayName),
		Filiere:          req.Filiere,
		Niveau:           req.Niveau,
		ParentOf:         req.ParentOf,
		FCMTokens:        []string{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	var err error
	if req.Role == model.RoleParent {
		err = s.store.CreateParent(r.Context(), user)
	} else {
		user.ParentOf = nil
		err = s.store.CreateUser(r.Context(), user)
	}
	if err != nil {
		writeErr(w, err)
		return
	}

	if err := s.identity.CreateAccount(r.Context(), user.UID, email, displayName, map[string]any{"role": req.Role}); err != nil {
		// Roll the profile back rather than leaving a half-provisioned user.
		_, _ = s.store.DeleteUser(r.Context(), user.UID)
		writeErr(w, err)
		return
	}

	s.recordAudit(r, actor, "user_created", "users", user.UID, map[string]any{"role": req.Role})

	inviteLink, err := s.issueInvite(r, user.UID, email)
	if err != nil {
		// The account exists; the admin can re-send the link later.
		writeJSON(w, http.StatusCreated, map[string]any{
			"user":      userPayload(user),
			"mailError": apperr.Code(err),
		})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":       userPayload(user),
		"inviteSent": inviteLink != "",
	})
}

// issueInvite creates a single-use activation token and emails the link.
func (s *Server) issueInvite(r *http.Request, uid, email string) (string, error) {
	token, err := crypto.NewInviteToken()
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	if err := s.store.CreateInviteToken(r.Context(), model.InviteToken{
		Token:     token,
		UID:       uid,
		Email:     email,
		ExpiresAt: now.Add(s.cfg.InviteTokenTTL),
		CreatedAt: now,
	}); err != nil {
		return "", err
	}
	link := s.cfg.FrontendURL + "/definir-mot-de-passe?token=" + token
	if s.mailer != nil {
		user, err := s.store.GetUser(r.Context(), uid)
		name := email
		if err == nil && user.DisplayName != "" {
			name = user.DisplayName
		}
		if err := s.mailer.SendAccessEmail(email, name, link); err != nil {
			return "", apperr.Upstream("MAIL_FAILED", err)
		}
	}
	return link, nil
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.store.GetUser(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userPayload(user))
}

type updateUserRequest struct {
	Prenom      *string `json:"prenom"`
	Nom         *string `json:"nom"`
	Email       *string `json:"email"`
	NotifyEmail *string `json:"notifyEmail"`
	Filiere     *string `json:"filiere"`
	Niveau      *string `json:"niveau"`
	PhotoURL    *string `json:"photoUrl"`
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	actor := currentUser(r.Context())
	uid := chi.URLParam(r, "uid")

	var req updateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	previous, err := s.store.GetUser(r.Context(), uid)
	if err != nil {
		writeErr(w, err)
		return
	}

	if req.Email != nil {
		next := strings.TrimSpace(*req.Email)
		if next == "" {
			writeError(w, http.StatusBadRequest, "MISSING_EMAIL")
			return
		}
		if !strings.EqualFold(next, previous.Email) {
			if _, err := s.store.GetUserByEmail(r.Context(), next); err == nil {
				writeError(w, http.StatusConflict, "EMAIL_ALREADY_EXISTS")
				return
			}
		}
	}

	updated, err := s.store.UpdateUser(r.Context(), uid, db.UpdateUserParams{
		Prenom:      req.Prenom,
		Nom:         req.Nom,
		Email:       req.Email,
		NotifyEmail: req.NotifyEmail,
		Filiere:     req.Filiere,
		Niveau:      req.Niveau,
		PhotoURL:    req.PhotoURL,
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	// Keep the credential row in line with the profile.
	if !strings.EqualFold(updated.Email, previous.Email) {
		if err := s.identity.UpdateEmail(r.Context(), uid, updated.Email); err != nil {
			writeErr(w, err)
			return
		}
		if s.mailer != nil {
			_ = s.mailer.SendEmailChangedEmail(previous.Email, updated.Email, updated.DisplayName)
		}
	}
	if updated.DisplayName != previous.DisplayName {
		_ = s.identity.UpdateDisplayName(r.Context(), uid, updated.DisplayName)
	}

	s.recordAudit(r, actor, "user_updated", "users", uid, nil)
	writeJSON(w, http.StatusOK, userPayload(updated))
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	actor := currentUser(r.Context())
	uid := chi.URLParam(r, "uid")
	if uid == actor.UID {
		writeError(w, http.StatusBadRequest, "CANNOT_DELETE_SELF")
		return
	}

	deleted, err := s.store.DeleteUser(r.Context(), uid)
	if err != nil {
		writeErr(w, err)
		return
	}
	// The profile row is gone; a stale credential row can be swept later.
	if err := s.identity.DeleteAccount(r.Context(), uid); err != nil {
		log.Printf("delete account %s: %v", uid, err)
	}

	s.recordAudit(r, actor, "user_deleted", "users", uid, map[string]any{
		"role":  deleted.Role,
		"email": deleted.Email,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type replaceChildrenRequest struct {
	ParentOf []string `json:"parentOf"`
}

func (s *Server) handleReplaceChildren(w http.ResponseWriter, r *http.Request) {
	actor := currentUser(r.Context())
	uid := chi.URLParam(r, "uid")

	var req replaceChildrenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	updated, err := s.store.ReplaceParentChildren(r.Context(), uid, req.ParentOf)
	if err != nil {
		writeErr(w, err)
		return
	}

	s.recordAudit(r, actor, "children_replaced", "users", uid, map[string]any{"parentOf": updated.ParentOf})
	writeJSON(w, http.StatusOK, userPayload(updated))
}

func (s *Server) handleListChildren(w http.ResponseWriter, r *http.Request) {
	search := r.URL.Query().Get("search")
	if search == "" {
		search = r.URL.Query().Get("q")
	}
	children, err := s.store.ListChildren(r.Context(), currentUser(r.Context()).UID, search)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"children": userPayloads(children)})
}

func (s *Server) handleListChildRequests(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.ListForChild(r.Context(), currentUser(r.Context()),
		chi.URLParam(r, "childUid"), r.URL.Query().Get("status"), clampLimit(r.URL.Query().Get("limit")))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": requestPayloads(list)})
}

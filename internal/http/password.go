package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/Gigatchad/uploadDocYnov/internal/crypto"
	"github.com/Gigatchad/uploadDocYnov/internal/model"
)

type emailBody struct {
	Email string `json:"email"`
}

// handlePasswordForgot issues a short-lived verification code. Unknown
// addresses and admin accounts answer identically, so the endpoint cannot
// be used to probe who has an account or who holds the admin role.
func (s *Server) handlePasswordForgot(w http.ResponseWriter, r *http.Request) {
	var body emailBody
	if err := decodeJSON(r, &body); err != nil {
		writeErr(w, err)
		return
	}
	email := strings.TrimSpace(body.Email)
	if email == "" {
		writeError(w, http.StatusBadRequest, "MISSING_EMAIL")
		return
	}
	if err := s.throttle(r.Context(), "password", passwordRateKey(clientIP(r), email)); err != nil {
		writeErr(w, err)
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), email)
	if err != nil || user.Role == model.RoleAdmin {
		writeError(w, http.StatusNotFound, "EMAIL_NOT_FOUND")
		return
	}

	code, err := crypto.RandomCode()
	if err != nil {
		writeErr(w, err)
		return
	}
	now := time.Now().UTC()
	if err := s.store.UpsertResetCode(r.Context(), model.ResetCode{
		ID:        crypto.ResetDocID(user.Email),
		Email:     user.Email,
		UID:       user.UID,
		CodeHash:  crypto.HashCode(code, s.cfg.CodeSalt),
		ExpiresAt: now.Add(s.cfg.ResetCodeTTL),
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
		CreatedAt: now,
	}); err != nil {
		writeErr(w, err)
		return
	}

	to := user.NotifyEmail
	if to == "" {
		to = user.Email
	}
	if s.mailer != nil {
		if err := s.mailer.SendResetCodeEmail(to, code, s.cfg.ResetCodeTTL); err != nil {
			writeError(w, http.StatusBadGateway, "MAIL_FAILED")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type verifyCodeBody struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (s *Server) handlePasswordVerify(w http.ResponseWriter, r *http.Request) {
	var body verifyCodeBody
	if err := decodeJSON(r, &body); err != nil {
		writeErr(w, err)
		return
	}
	if body.Email == "" || body.Code == "" {
		writeError(w, http.StatusBadRequest, "MISSING_FIELDS")
		return
	}
	if err := s.throttle(r.Context(), "password", passwordRateKey(clientIP(r), body.Email)); err != nil {
		writeErr(w, err)
		return
	}

	id := crypto.ResetDocID(body.Email)
	hash := crypto.HashCode(strings.TrimSpace(body.Code), s.cfg.CodeSalt)
	if err := s.store.VerifyResetCode(r.Context(), id, hash, s.cfg.MaxCodeAttempts); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

type resetPasswordBody struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"newPassword"`
}

// handlePasswordReset consumes a verified code and replaces the password.
// The code is burnt in the same transaction that checks it, so it can only
// ever be spent once.
func (s *Server) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	var body resetPasswordBody
	if err := decodeJSON(r, &body); err != nil {
		writeErr(w, err)
		return
	}
	if body.Email == "" || body.Code == "" || body.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "MISSING_FIELDS")
		return
	}
	// Reject weak passwords before the code is burnt.
	if len(body.NewPassword) < 8 {
		writeError(w, http.StatusBadRequest, "WEAK_PASSWORD")
		return
	}
	if err := s.throttle(r.Context(), "password", passwordRateKey(clientIP(r), body.Email)); err != nil {
		writeErr(w, err)
		return
	}

	id := crypto.ResetDocID(body.Email)
	hash := crypto.HashCode(strings.TrimSpace(body.Code), s.cfg.CodeSalt)
	if err := s.store.ConsumeResetCode(r.Context(), id, hash, s.cfg.MaxCodeAttempts); err != nil {
		writeErr(w, err)
		return
	}

	reset, err := s.store.GetResetCode(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.identity.SetPassword(r.Context(), reset.UID, body.NewPassword); err != nil {
		writeErr(w, err)
		return
	}
	now := time.Now().UTC()
	_ = s.store.MarkPasswordSet(r.Context(), reset.UID, now)

	if s.mailer != nil {
		if user, err := s.store.GetUser(r.Context(), reset.UID); err == nil {
			_ = s.mailer.SendPasswordChangedEmail(user.Email, user.DisplayName)
		}
	}

	s.recordAudit(r, model.User{UID: reset.UID}, "password_reset", "users", reset.UID, nil)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handlePasswordSendLink lets an admin re-send the activation link of an
// account that never set its password.
func (s *Server) handlePasswordSendLink(w http.ResponseWriter, r *http.Request) {
	actor := currentUser(r.Context())

	var body emailBody
	if err := decodeJSON(r, &body); err != nil {
		writeErr(w, err)
		return
	}
	user, err := s.store.GetUserByEmail(r.Context(), body.Email)
	if err != nil {
		writeErr(w, err)
		return
	}

	if _, err := s.issueInvite(r, user.UID, user.Email); err != nil {
		writeErr(w, err)
		return
	}
	s.recordAudit(r, actor, "invite_resent", "users", user.UID, nil)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handlePasswordMarkSet lets a signed-in client confirm it completed a
// password change through an out-of-band channel.
func (s *Server) handlePasswordMarkSet(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	if err := s.store.MarkPasswordSet(r.Context(), user.UID, time.Now().UTC()); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type initialPasswordBody struct {
	Token    string `json:"token"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleInitialPassword consumes an invite token and sets the first
// password of the account it is bound to.
func (s *Server) handleInitialPassword(w http.ResponseWriter, r *http.Request) {
	var body initialPasswordBody
	if err := decodeJSON(r, &body); err != nil {
		writeErr(w, err)
		return
	}
	if body.Token == "" || body.Email == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "MISSING_FIELDS")
		return
	}
	if len(body.Password) < 8 {
		writeError(w, http.StatusBadRequest, "WEAK_PASSWORD")
		return
	}

	invite, err := s.store.ConsumeInviteToken(r.Context(), body.Token, body.Email)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.identity.SetPassword(r.Context(), invite.UID, body.Password); err != nil {
		writeErr(w, err)
		return
	}
	_ = s.store.MarkPasswordSet(r.Context(), invite.UID, time.Now().UTC())

	s.recordAudit(r, model.User{UID: invite.UID}, "invite_consumed", "users", invite.UID, nil)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

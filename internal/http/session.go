package http

import (
	"net/http"
	"strings"
	"time"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "MISSING_CREDENTIALS")
		return
	}

	tokens, account, err := s.identity.Login(r.Context(), req.Email, req.Password, r.UserAgent(), clientIP(r))
	if err != nil {
		writeErr(w, err)
		return
	}

	user, err := s.store.GetUser(r.Context(), account.UID)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = s.store.TouchLastLogin(r.Context(), user.UID, time.Now().UTC())

	writeJSON(w, http.StatusOK, map[string]any{
		"tokens": tokens,
		"user":   userPayload(user),
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "MISSING_REFRESH_TOKEN")
		return
	}
	tokens, _, err := s.identity.Refresh(r.Context(), req.RefreshToken, r.UserAgent(), clientIP(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokens": tokens})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.RefreshToken != "" {
		if err := s.identity.Logout(r.Context(), req.RefreshToken); err != nil {
			writeErr(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userPayload(currentUser(r.Context())))
}

// handleLogSignin records a sign-in event coming from a client that
// authenticated through a cached session, so the audit trail stays complete.
func (s *Server) handleLogSignin(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	_ = s.store.TouchLastLogin(r.Context(), user.UID, time.Now().UTC())
	s.recordAudit(r, user, "signin", "sessions", user.UID, nil)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type fcmTokenRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleRegisterFCMToken(w http.ResponseWriter, r *http.Request) {
	var req fcmTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	token := strings.TrimSpace(req.Token)
	if len(token) <= 10 {
		writeError(w, http.StatusBadRequest, "INVALID_FCM_TOKEN")
		return
	}
	if err := s.store.AddFCMToken(r.Context(), currentUser(r.Context()).UID, token); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleUnregisterFCMToken(w http.ResponseWriter, r *http.Request) {
	var req fcmTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "INVALID_FCM_TOKEN")
		return
	}
	if err := s.store.RemoveFCMToken(r.Context(), currentUser(r.Context()).UID, req.Token); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

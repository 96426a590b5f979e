// Package http exposes the portal's REST API.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/Gigatchad/uploadDocYnov/internal/apperr"
	"github.com/Gigatchad/uploadDocYnov/internal/audit"
	"github.com/Gigatchad/uploadDocYnov/internal/config"
	"github.com/Gigatchad/uploadDocYnov/internal/db"
	"github.com/Gigatchad/uploadDocYnov/internal/identity"
	"github.com/Gigatchad/uploadDocYnov/internal/mailer"
	"github.com/Gigatchad/uploadDocYnov/internal/model"
	"github.com/Gigatchad/uploadDocYnov/internal/notify"
	"github.com/Gigatchad/uploadDocYnov/internal/requests"
	"github.com/Gigatchad/uploadDocYnov/internal/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	maxUploadBytes   = 15 << 20
)

type Server struct {
	cfg      config.Config
	store    *db.Store
	engine   *requests.Engine
	notifier *notify.Notifier
	identity *identity.Directory
	storage  *storage.Client
	mailer   *mailer.Mailer
	audit    *audit.Recorder
	redis    *redis.Client
}

func NewServer(
	cfg config.Config,
	store *db.Store,
	engine *requests.Engine,
	notifier *notify.Notifier,
	directory *identity.Directory,
	storageClient *storage.Client,
	mail *mailer.Mailer,
	recorder *audit.Recorder,
	redisClient *redis.Client,
) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		engine:   engine,
		notifier: notifier,
		identity: directory,
		storage:  storageClient,
		mailer:   mail,
		audit:    recorder,
		redis:    redisClient,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(metricsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.With(s.rateLimit("login")).Post("/auth/login", s.handleLogin)
		r.Post("/auth/refresh", s.handleRefresh)
		r.Post("/auth/logout", s.handleLogout)
		r.With(s.rateLimit("invite")).Post("/auth/initial-password", s.handleInitialPassword)

		r.With(s.rateLimit("password")).Post("/password/forgot", s.handlePasswordForgot)
		r.With(s.rateLimit("password")).Post("/password/verify", s.handlePasswordVerify)
		r.With(s.rateLimit("password")).Post("/password/reset", s.handlePasswordReset)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/me", s.handleMe)
			r.Post("/me/fcm-token", s.handleRegisterFCMToken)
			r.Delete("/me/fcm-token", s.handleUnregisterFCMToken)
			r.Post("/fcm/register", s.handleRegisterFCMToken)
			r.Post("/fcm/unregister", s.handleUnregisterFCMToken)
			r.Post("/session/log-signin", s.handleLogSignin)
			r.Post("/password/mark-set", s.handlePasswordMarkSet)

			r.Get("/requests", s.handleListRequests)
			r.Get("/my-documents", s.handleListMyDocuments)
			r.Post("/requests", s.handleCreateRequest)
			r.Get("/requests/{requestId}", s.handleGetRequest)
			r.Get("/requests/{requestId}/download", s.handleDownloadRequest)
			r.Get("/requests/{requestId}/events", s.handleListRequestEvents)

			r.Get("/notifications", s.handleListNotifications)
			r.Post("/notifications/{notificationId}/read", s.handleMarkNotificationRead)
			r.Patch("/notifications/{notificationId}/read", s.handleMarkNotificationRead)

			r.With(s.requireRole(model.RoleParent)).Get("/parent/children", s.handleListChildren)
			r.With(s.requireRole(model.RoleParent)).Get("/parent/children/{childUid}/requests", s.handleListChildRequests)

			r.Group(func(r chi.Router) {
				r.Use(s.requireStaff)
				r.Patch("/requests/{requestId}/status", s.handleUpdateRequestStatus)
				r.Post("/requests/{requestId}/document", s.handleUploadDocument)
				r.Patch("/requests/{requestId}/document", s.handleNotifyDocumentSent)
				r.Get("/users/students", s.handleListStudents)
				r.Get("/users/etudiants/min", s.handleListStudents)
				r.Get("/storage/signature", s.handleStorageSignature)
				r.Post("/storage/signature", s.handleStorageSignature)
				r.Delete("/storage/asset", s.handleDeleteStorageAsset)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requireRole(model.RoleAdmin))
				r.Get("/users", s.handleListUsers)
				r.Get("/users/full", s.handleListUsers)
				r.Post("/users", s.handleCreateUser)
				r.Get("/users/{uid}", s.handleGetUser)
				r.Patch("/users/{uid}", s.handleUpdateUser)
				r.Delete("/users/{uid}", s.handleDeleteUser)
				r.Put("/users/{uid}/children", s.handleReplaceChildren)
				r.With(s.rateLimit("password")).Post("/password/send-link", s.handlePasswordSendLink)
			})
		})
	})

	return r
}

// Auth

type userKey struct{}

// authMiddleware verifies the bearer token, then resolves the caller's
// profile. The role always comes from the profile, never from the token.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "MISSING_TOKEN")
			return
		}
		claims, err := s.identity.VerifyToken(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "INVALID_TOKEN")
			return
		}
		user, err := s.store.GetUser(r.Context(), claims.UID)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNKNOWN_USER")
			return
		}
		ctx := context.WithValue(r.Context(), userKey{}, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func currentUser(ctx context.Context) model.User {
	user, _ := ctx.Value(userKey{}).(model.User)
	return user
}

func (s *Server) requireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !model.IsStaff(currentUser(r.Context()).Role) {
			writeError(w, http.StatusForbidden, "FORBIDDEN")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if currentUser(r.Context()).Role != role {
				writeError(w, http.StatusForbidden, "FORBIDDEN")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// throttle counts a hit against a fixed window for the given key. Without
// redis it is a no-op, for local development, and a broken limiter must not
// take the API down.
func (s *Server) throttle(ctx context.Context, scope, key string) error {
	if s.redis == nil {
		return nil
	}
	rk := fmt.Sprintf("rl:%s:%s", scope, key)
	count, err := s.redis.Incr(ctx, rk).Result()
	if err != nil {
		return nil
	}
	if count == 1 {
		s.redis.Expire(ctx, rk, s.cfg.RateLimitWindow)
	}
	if count > int64(s.cfg.RateLimitMax) {
		return apperr.RateLimited("TOO_MANY_REQUESTS")
	}
	return nil
}

// rateLimit is the per-IP window applied at the route level.
func (s *Server) rateLimit(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := s.throttle(r.Context(), scope, clientIP(r)); err != nil {
				writeErr(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// passwordRateKey ties the password-flow window to the targeted account as
// well as the caller, so one client cannot spread attempts across targets.
func passwordRateKey(ip, email string) string {
	return ip + ":" + strings.ToLower(strings.TrimSpace(email))
}

// Helpers

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// flagValue interprets a form or query flag: absent means the fallback,
// and a supplied value counts only when it reads "true".
func flagValue(values []string, fallback bool) bool {
	if len(values) == 0 {
		return fallback
	}
	return strings.EqualFold(strings.TrimSpace(values[0]), "true")
}

// clampLimit parses ?limit= with a default and a hard ceiling.
func clampLimit(raw string) int {
	if raw == "" {
		return defaultListLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func decodeJSON(r *http.Request, dst any) error {
	defer io.Copy(io.Discard, r.Body)
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst); err != nil {
		return apperr.Invalid("INVALID_BODY")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// writeErr maps a domain error onto the wire: stable code, mapped status,
// internals collapsed to SERVER_ERROR.
func writeErr(w http.ResponseWriter, err error) {
	writeError(w, apperr.Status(err), apperr.Code(err))
}

func (s *Server) recordAudit(r *http.Request, actor model.User, action, targetCol, targetID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(model.AuditEntry{
		ActorUID:  actor.UID,
		ActorRole: actor.Role,
		Action:    action,
		TargetCol: targetCol,
		TargetID:  targetID,
		Meta:      meta,
		Method:    r.Method,
		URL:       r.URL.Path,
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	})
}

// readMultipartFile pulls the uploaded file out of a multipart form,
// bounded by maxUploadBytes.
func readMultipartFile(r *http.Request, field string) ([]byte, string, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, "", apperr.Invalid("INVALID_UPLOAD")
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, "", apperr.Invalid("MISSING_FILE")
	}
	defer file.Close()
	contents, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		return nil, "", err
	}
	if len(contents) > maxUploadBytes {
		return nil, "", apperr.Invalid("FILE_TOO_LARGE")
	}
	return contents, header.Filename, nil
}

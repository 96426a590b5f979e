package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Gigatchad/uploadDocYnov/internal/apperr"
)

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"Bearer  abc ", "abc"},
	}
	for _, tc := range cases {
		if got := bearerToken(tc.header); got != tc.want {
			t.Fatalf("bearerToken(%q) = %q, want %q", tc.header, got, tc.want)
		}
	}
}

func TestClampLimit(t *testing.T) {
	cases := []struct {
		raw  string
		want int
	}{
		{"", defaultListLimit},
		{"10", 10},
		{"0", defaultListLimit},
		{"-3", defaultListLimit},
		{"junk", defaultListLimit},
		{"9999", maxListLimit},
	}
	for _, tc := range cases {
		if got := clampLimit(tc.raw); got != tc.want {
			t.Fatalf("clampLimit(%q) = %d, want %d", tc.raw, got, tc.want)
		}
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.9:4567"
	if got := clientIP(r); got != "10.0.0.9" {
		t.Fatalf("expected remote addr host, got %q", got)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := clientIP(r); got != "203.0.113.7" {
		t.Fatalf("expected first forwarded hop, got %q", got)
	}
}

func TestFlagValue(t *testing.T) {
	cases := []struct {
		values   []string
		fallback bool
		want     bool
	}{
		{nil, true, true},
		{nil, false, false},
		{[]string{"true"}, false, true},
		{[]string{"TRUE"}, false, true},
		{[]string{" true "}, false, true},
		{[]string{"false"}, true, false},
		{[]string{"junk"}, true, false},
		{[]string{""}, true, false},
	}
	for _, tc := range cases {
		if got := flagValue(tc.values, tc.fallback); got != tc.want {
			t.Fatalf("flagValue(%v, %v) = %v, want %v", tc.values, tc.fallback, got, tc.want)
		}
	}
}

func TestPasswordRateKey(t *testing.T) {
	if got := passwordRateKey("10.0.0.9", " Jane@Example.COM "); got != "10.0.0.9:jane@example.com" {
		t.Fatalf("unexpected key %q", got)
	}
	a := passwordRateKey("10.0.0.9", "a@x.fr")
	b := passwordRateKey("10.0.0.9", "b@x.fr")
	if a == b {
		t.Fatalf("different targets must not share a window: %q", a)
	}
}

func TestCreateUserRuleError(t *testing.T) {
	cases := []struct {
		role     string
		filiere  string
		niveau   string
		parentOf []string
		want     string
	}{
		{"etudiant", "", "Licence", nil, "MISSING_FILIERE"},
		{"etudiant", "Informatique", "", nil, "INVALID_NIVEAU"},
		{"etudiant", "Informatique", "Doctorat", nil, "INVALID_NIVEAU"},
		{"etudiant", "Informatique", "Licence", nil, ""},
		{"etudiant", "Informatique", "Cycle ingénieur", nil, ""},
		{"parent", "", "", nil, "PARENT_OF_REQUIRED"},
		{"parent", "", "", []string{}, "PARENT_OF_REQUIRED"},
		{"parent", "", "", make([]string, 11), "TOO_MANY_CHILDREN"},
		{"parent", "", "", []string{"stud1"}, ""},
		{"personnel", "", "", nil, ""},
	}
	for _, tc := range cases {
		got := createUserRuleError(tc.role, tc.filiere, tc.niveau, tc.parentOf)
		if got != tc.want {
			t.Fatalf("createUserRuleError(%s) = %q, want %q", tc.role, got, tc.want)
		}
	}
}

func TestWriteErrMapsTaxonomy(t *testing.T) {
	cases := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{apperr.NotFound("REQUEST_NOT_FOUND"), http.StatusNotFound, "REQUEST_NOT_FOUND"},
		{apperr.Conflict("ALREADY_ASSOCIATED"), http.StatusConflict, "ALREADY_ASSOCIATED"},
		{apperr.Precondition("DETACH_REQUIRED"), http.StatusConflict, "DETACH_REQUIRED"},
		{apperr.RateLimited("TOO_MANY_ATTEMPTS"), http.StatusTooManyRequests, "TOO_MANY_ATTEMPTS"},
		{apperr.Gone("TOKEN_EXPIRED"), http.StatusGone, "TOKEN_EXPIRED"},
		{assertAnyError{}, http.StatusInternalServerError, "SERVER_ERROR"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeErr(rec, tc.err)
		if rec.Code != tc.wantStatus {
			t.Fatalf("%v: status %d, want %d", tc.err, rec.Code, tc.wantStatus)
		}
		if body := rec.Body.String(); !strings.Contains(body, tc.wantCode) {
			t.Fatalf("%v: body %q missing code %q", tc.err, body, tc.wantCode)
		}
	}
}

type assertAnyError struct{}

func (assertAnyError) Error() string { return "boom with secret details" }

package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/mindengage-examprep/internal/db"
	"github.com/mind-engage/mindengage-examprep/internal/exam"
	"github.com/mind-engage/mindengage-examprep/internal/rbac"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "auth.db") + "?_pragma=busy_timeout(5000)"
	h, err := db.Open(context.Background(), db.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { h.Close() })

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Exec(`INSERT INTO users (id, username, display_name, password_hash, role, premium, library_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`, "u1", "ana", "Ana", string(hash), "student", 1, "lib9"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return h
}

func login(h http.Handler, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body)))
	return rec
}

func TestLoginHandler(t *testing.T) {
	a := NewAuthService("k")
	h := LoginHandler(a, openDB(t))

	tests := []struct {
		name, body string
		want       int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"missing password", `{"username":"ana"}`, http.StatusBadRequest},
		{"unknown user", `{"username":"bo","password":"x"}`, http.StatusUnauthorized},
		{"wrong password", `{"username":"ana","password":"nope"}`, http.StatusUnauthorized},
		{"ok", `{"username":"ana","password":"s3cret"}`, http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if rec := login(h, tc.body); rec.Code != tc.want {
				t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
			}
		})
	}

	rec := login(h, `{"username":"ana","password":"s3cret"}`)
	var out struct {
		AccessToken string `json:"access_token"`
		Role        string `json:"role"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	c, err := a.Parse(out.AccessToken)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := exam.Identity{ID: "u1", DisplayName: "Ana", Premium: true, LibraryID: "lib9"}
	if c.Identity() != want || c.Role != "student" || out.Role != "student" {
		t.Fatalf("claims: %+v", c)
	}
}

func TestJWTMiddleware(t *testing.T) {
	a := NewAuthService("k")
	var got exam.Identity
	var role string
	h := JWTMiddleware(a)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = IdentityFromContext(r.Context())
		role = rbac.RoleFromContext(r.Context())
	}))

	good, _ := a.IssueJWT(exam.Identity{ID: "u1", Premium: true}, "student")
	foreign, _ := NewAuthService("other").IssueJWT(exam.Identity{ID: "u1"}, "admin")
	tests := []struct {
		name, header string
		want         int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer abc", http.StatusUnauthorized},
		{"other key", "Bearer " + foreign, http.StatusUnauthorized},
		{"ok", "Bearer " + good, http.StatusOK},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s: status %d", tc.name, rec.Code)
		}
	}
	if got.ID != "u1" || !got.Premium || role != "student" {
		t.Fatalf("context: %+v role=%q", got, role)
	}
}

func TestIdentityFromEmptyContext(t *testing.T) {
	if !IdentityFromContext(context.Background()).Anonymous() {
		t.Fatalf("empty context is not anonymous")
	}
}

func TestAttachEntitlementsFromDB(t *testing.T) {
	h := openDB(t)
	if _, err := h.Exec(`UPDATE users SET premium=0, role='proctor' WHERE id='u1'`); err != nil {
		t.Fatal(err)
	}

	var got exam.Identity
	var role string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = IdentityFromContext(r.Context())
		role = rbac.RoleFromContext(r.Context())
	})

	serve := func(id exam.Identity, claimRole string, fallback bool) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		ctx := rbac.WithRole(WithIdentity(req.Context(), id), claimRole)
		rec := httptest.NewRecorder()
		AttachEntitlementsFromDB(h, fallback)(next).ServeHTTP(rec, req.WithContext(ctx))
		return rec.Code
	}

	if code := serve(exam.Identity{ID: "u1", Premium: true}, "student", false); code != http.StatusOK {
		t.Fatalf("known user: %d", code)
	}
	if got.Premium || got.LibraryID != "lib9" || role != "proctor" {
		t.Fatalf("entitlements not refreshed: %+v role=%q", got, role)
	}
	if code := serve(exam.Identity{ID: "ghost"}, "student", false); code != http.StatusForbidden {
		t.Fatalf("unknown user in prod: %d", code)
	}
	if code := serve(exam.Identity{ID: "ghost"}, "student", true); code != http.StatusOK {
		t.Fatalf("unknown user in dev: %d", code)
	}
}

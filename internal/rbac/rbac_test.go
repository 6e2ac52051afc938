package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCheckerHas(t *testing.T) {
	c := NewChecker(map[string][]string{
		"student": {"session:start", "session:view"},
		"proctor": {"session:*"},
		"admin":   {"*"},
	})
	tests := []struct {
		role, perm string
		want       bool
	}{
		{"student", "session:start", true},
		{"student", "session:close", false},
		{"proctor", "session:close", true},
		{"proctor", "content:publish", false},
		{"admin", "anything", true},
		{"ghost", "session:view", false},
	}
	for _, tc := range tests {
		if got := c.Has(tc.role, tc.perm); got != tc.want {
			t.Fatalf("Has(%s, %s) = %v", tc.role, tc.perm, got)
		}
	}
}

func TestDefaultPolicy(t *testing.T) {
	c := NewChecker(nil)
	if !c.Has("student", "session:submit") || c.Has("proctor", "session:submit") {
		t.Fatalf("default policy changed")
	}
}

func TestAllowed(t *testing.T) {
	tests := []struct {
		role, perm string
		want       bool
	}{
		{"proctor", "session:oversee", true},
		{"admin", "session:oversee", true},
		{"student", "session:oversee", false},
		{"", "session:view", false},
	}
	for _, tc := range tests {
		ctx := context.Background()
		if tc.role != "" {
			ctx = WithRole(ctx, tc.role)
		}
		if got := Allowed(ctx, tc.perm); got != tc.want {
			t.Fatalf("Allowed(%q, %s) = %v", tc.role, tc.perm, got)
		}
	}
}

func TestRequire(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := Require("session:start")(ok)

	tests := []struct {
		role string
		want int
	}{
		{"", http.StatusForbidden},
		{"proctor", http.StatusForbidden},
		{"student", http.StatusNoContent},
		{"admin", http.StatusNoContent},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(http.MethodPost, "/sessions", nil)
		if tc.role != "" {
			req = req.WithContext(WithRole(req.Context(), tc.role))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("role %q: status %d", tc.role, rec.Code)
		}
	}
}

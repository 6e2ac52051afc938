package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	authmw "github.com/mind-engage/mindengage-examprep/internal/auth/middleware"
	"github.com/mind-engage/mindengage-examprep/internal/engine"
	"github.com/mind-engage/mindengage-examprep/internal/exam"
	"github.com/mind-engage/mindengage-examprep/internal/grading"
	"github.com/mind-engage/mindengage-examprep/internal/session"
	"github.com/mind-engage/mindengage-examprep/internal/store"
)

type harness struct {
	h       http.Handler
	auth    *authmw.AuthService
	results *store.MemoryStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	content := exam.NewInMemoryStore()
	qs := []exam.Question{
		{ID: "q1", Prompt: "2+2", Options: []string{"3", "4"}, CorrectAnswer: "4"},
		{ID: "q2", Prompt: "3+3", Options: []string{"6", "7"}, CorrectAnswer: "6"},
	}
	if err := content.PutTest(ctx, exam.TestDefinition{ID: "t1", Title: "Sums", EstimatedMinutes: 10}, qs); err != nil {
		t.Fatal(err)
	}
	if err := content.PutTest(ctx, exam.TestDefinition{ID: "gold", EstimatedMinutes: 10, Premium: true}, qs); err != nil {
		t.Fatal(err)
	}

	results := store.NewMemoryStore(store.DefaultRetryPolicy(), nil)
	cfg := engine.DefaultConfig()
	cfg.Monitor.TickInterval = time.Hour
	m := engine.New(content, grading.NewGrader(results), cfg)
	t.Cleanup(m.Shutdown)

	a := authmw.NewAuthService("test-key")
	return &harness{h: NewRouter(Deps{Manager: m, Auth: a}), auth: a, results: results}
}

func (hs *harness) token(t *testing.T, id, role string) string {
	t.Helper()
	tok, err := hs.auth.IssueJWT(exam.Identity{ID: id}, role)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (hs *harness) do(method, path, tok string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	hs.h.ServeHTTP(rec, req)
	return rec
}

func decodeTo[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func (hs *harness) start(t *testing.T, tok string) session.View {
	t.Helper()
	rec := hs.do(http.MethodPost, "/sessions", tok, map[string]string{"kind": "static", "source_id": "t1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("start: %d %s", rec.Code, rec.Body.String())
	}
	return decodeTo[session.View](t, rec)
}

func TestHealthz(t *testing.T) {
	if rec := newHarness(t).do(http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code exam.ErrorCode
		want int
	}{
		{exam.CodeAuthRequired, 401},
		{exam.CodeAccessDenied, 403},
		{exam.CodeContentNotFound, 404},
		{exam.CodeValidation, 400},
		{exam.CodeSessionNotActive, 409},
		{exam.CodeSubmissionFailure, 503},
		{exam.CodeInternal, 500},
	}
	for _, tc := range tests {
		if got := statusFor(tc.code); got != tc.want {
			t.Fatalf("%s: %d", tc.code, got)
		}
	}
}

func TestStartErrors(t *testing.T) {
	hs := newHarness(t)
	student := hs.token(t, "u1", "student")
	tests := []struct {
		name string
		tok  string
		body any
		want int
	}{
		{"no token", "", map[string]string{"source_id": "t1"}, http.StatusUnauthorized},
		{"role without permission", hs.token(t, "p1", "proctor"), map[string]string{"source_id": "t1"}, http.StatusForbidden},
		{"bad json", student, "nope", http.StatusBadRequest},
		{"unknown kind", student, map[string]string{"kind": "weekly", "source_id": "t1"}, http.StatusBadRequest},
		{"unknown test", student, map[string]string{"source_id": "zz"}, http.StatusNotFound},
		{"premium test", student, map[string]string{"source_id": "gold"}, http.StatusForbidden},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if rec := hs.do(http.MethodPost, "/sessions", tc.tok, tc.body); rec.Code != tc.want {
				t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestSessionFlow(t *testing.T) {
	hs := newHarness(t)
	tok := hs.token(t, "u1", "student")
	v := hs.start(t, tok)
	if v.State != session.StateInProgress || v.Total != 2 || v.RemainingSeconds != 600 {
		t.Fatalf("started: %+v", v)
	}
	base := "/sessions/" + v.SessionID

	if rec := hs.do(http.MethodPost, base+"/answers", tok, map[string]string{"question_id": "q1", "option": "4"}); rec.Code != http.StatusOK {
		t.Fatalf("answer: %d %s", rec.Code, rec.Body.String())
	}
	if rec := hs.do(http.MethodPost, base+"/answers", tok, map[string]string{"question_id": "q1", "option": "9"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad option: %d", rec.Code)
	}
	if rec := hs.do(http.MethodPost, base+"/review", tok, map[string]string{"question_id": "q1"}); rec.Code != http.StatusOK {
		t.Fatalf("review: %d", rec.Code)
	}
	rec := hs.do(http.MethodPost, base+"/navigate", tok, map[string]string{"to": "next"})
	if got := decodeTo[session.View](t, rec); got.Current != 1 {
		t.Fatalf("navigate: %+v", got)
	}
	if rec := hs.do(http.MethodPost, base+"/navigate", tok, map[string]string{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty navigate: %d", rec.Code)
	}
	if rec := hs.do(http.MethodPost, base+"/activity", tok, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("activity: %d", rec.Code)
	}
	if rec := hs.do(http.MethodPost, base+"/inactivity/ack", tok, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("ack: %d", rec.Code)
	}

	out := decodeTo[submitOut](t, hs.do(http.MethodPost, base+"/submit", tok, map[string]bool{"force": false}))
	if out.Submitted || out.Warning == nil || len(out.Warning.Unanswered) != 1 || len(out.Warning.Review) != 1 {
		t.Fatalf("unforced submit: %+v", out)
	}
	if hs.results.ResultCount(store.CollectionResults) != 0 {
		t.Fatalf("unforced submit wrote a result")
	}

	out = decodeTo[submitOut](t, hs.do(http.MethodPost, base+"/submit", tok, map[string]bool{"force": true}))
	if !out.Submitted || out.ResultID != v.SessionID || out.Session.State != session.StateCompleted {
		t.Fatalf("forced submit: %+v", out)
	}
	doc, ok := hs.results.Result(store.CollectionResults, v.SessionID)
	if !ok || doc.Score != 1 || doc.Reason != exam.ReasonUserSubmitted || doc.UserID != "u1" {
		t.Fatalf("result: %+v ok=%v", doc, ok)
	}

	if rec := hs.do(http.MethodPost, base+"/submit", tok, map[string]bool{"force": true}); rec.Code != http.StatusConflict {
		t.Fatalf("second submit: %d", rec.Code)
	}
	if rec := hs.do(http.MethodPost, base+"/answers", tok, map[string]string{"question_id": "q2", "option": "6"}); rec.Code != http.StatusConflict {
		t.Fatalf("answer after submit: %d", rec.Code)
	}
}

func TestVisibilityHiddenSubmits(t *testing.T) {
	hs := newHarness(t)
	tok := hs.token(t, "u1", "student")
	v := hs.start(t, tok)
	base := "/sessions/" + v.SessionID

	if rec := hs.do(http.MethodPost, base+"/visibility", tok, map[string]bool{"hidden": false}); rec.Code != http.StatusOK {
		t.Fatalf("visible: %d", rec.Code)
	}
	out := decodeTo[submitOut](t, hs.do(http.MethodPost, base+"/visibility", tok, map[string]bool{"hidden": true}))
	if !out.Submitted || out.ResultID != v.SessionID {
		t.Fatalf("hidden: %+v", out)
	}
	doc, ok := hs.results.Result(store.CollectionResults, v.SessionID)
	if !ok || doc.Reason != exam.ReasonTabSwitched {
		t.Fatalf("result: %+v", doc)
	}
}

func TestSessionOwnershipAndClose(t *testing.T) {
	hs := newHarness(t)
	owner := hs.token(t, "u1", "student")
	other := hs.token(t, "u2", "student")
	v := hs.start(t, owner)
	base := "/sessions/" + v.SessionID

	if rec := hs.do(http.MethodGet, base, other, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("other user GET: %d", rec.Code)
	}
	if rec := hs.do(http.MethodGet, "/sessions/nope", owner, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown session: %d", rec.Code)
	}
	rec := hs.do(http.MethodGet, base, owner, nil)
	if got := decodeTo[session.View](t, rec); got.SessionID != v.SessionID || got.Question == nil {
		t.Fatalf("GET: %+v", got)
	}
	if rec := hs.do(http.MethodDelete, base, owner, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE: %d", rec.Code)
	}
	if rec := hs.do(http.MethodGet, base, owner, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("GET after DELETE: %d", rec.Code)
	}
	if hs.results.ResultCount(store.CollectionResults) != 0 {
		t.Fatalf("closing a session submitted it")
	}
}

func TestProctorOverseesAnySession(t *testing.T) {
	hs := newHarness(t)
	owner := hs.token(t, "u1", "student")
	proctor := hs.token(t, "p1", "proctor")
	v := hs.start(t, owner)
	base := "/sessions/" + v.SessionID

	rec := hs.do(http.MethodGet, base, proctor, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("proctor GET: %d %s", rec.Code, rec.Body.String())
	}
	if got := decodeTo[session.View](t, rec); got.SessionID != v.SessionID {
		t.Fatalf("proctor view: %+v", got)
	}
	if rec := hs.do(http.MethodPost, base+"/answers", proctor, map[string]string{"question_id": "q1", "option": "4"}); rec.Code != http.StatusForbidden {
		t.Fatalf("proctor answer: %d", rec.Code)
	}
	if rec := hs.do(http.MethodPost, base+"/submit", proctor, map[string]bool{"force": true}); rec.Code != http.StatusForbidden {
		t.Fatalf("proctor submit: %d", rec.Code)
	}
	if rec := hs.do(http.MethodDelete, base, hs.token(t, "u2", "student"), nil); rec.Code != http.StatusForbidden {
		t.Fatalf("other student DELETE: %d", rec.Code)
	}
	if rec := hs.do(http.MethodDelete, base, proctor, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("proctor DELETE: %d", rec.Code)
	}
	if rec := hs.do(http.MethodGet, base, owner, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("owner GET after proctor DELETE: %d", rec.Code)
	}
	if hs.results.ResultCount(store.CollectionResults) != 0 {
		t.Fatalf("proctor close submitted the session")
	}
}

func TestSubmitFailureKeepsAnswers(t *testing.T) {
	hs := newHarness(t)
	hs.results.BeforeCommit = func(int) error { return errors.New("disk full") }
	tok := hs.token(t, "u1", "student")
	v := hs.start(t, tok)
	base := "/sessions/" + v.SessionID

	hs.do(http.MethodPost, base+"/answers", tok, map[string]string{"question_id": "q1", "option": "4"})
	rec := hs.do(http.MethodPost, base+"/submit", tok, map[string]bool{"force": true})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("failed submit: %d %s", rec.Code, rec.Body.String())
	}
	if body := decodeTo[errorBody](t, rec); body.Code != exam.CodeSubmissionFailure {
		t.Fatalf("error body: %+v", body)
	}

	got := decodeTo[session.View](t, hs.do(http.MethodGet, base, tok, nil))
	if got.State != session.StateInProgress || got.Answers["q1"] != "4" {
		t.Fatalf("after failure: %+v", got)
	}

	hs.results.BeforeCommit = nil
	out := decodeTo[submitOut](t, hs.do(http.MethodPost, base+"/submit", tok, map[string]bool{"force": true}))
	if !out.Submitted || out.ResultID != v.SessionID {
		t.Fatalf("retry: %+v", out)
	}
}

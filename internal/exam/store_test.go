package exam_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mind-engage/mindengage-examprep/internal/db"
	"github.com/mind-engage/mindengage-examprep/internal/exam"
)

func contentStores(t *testing.T) map[string]exam.ContentStore {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "content.db") + "?_pragma=busy_timeout(5000)"
	dbh, err := db.Open(context.Background(), db.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = dbh.Close() })
	return map[string]exam.ContentStore{
		"memory": exam.NewInMemoryStore(),
		"sql":    exam.NewSQLStore(dbh),
	}
}

func sampleQuestions() []exam.Question {
	return []exam.Question{
		{ID: "q1", Prompt: "2+2?", Options: []string{"3", "4"}, CorrectAnswer: "4", Topic: "arith"},
		{ID: "q2", Prompt: "Capital of France?", Options: []string{"Paris", "Rome"}, CorrectAnswer: "Paris"},
	}
}

func TestContentStoreStaticTest(t *testing.T) {
	for name, s := range contentStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			def := exam.TestDefinition{ID: "t1", Title: "Warmup", EstimatedMinutes: 10, Premium: true}
			if err := s.PutTest(ctx, def, sampleQuestions()); err != nil {
				t.Fatalf("PutTest: %v", err)
			}
			got, err := s.GetTestDefinition(ctx, "t1")
			if err != nil {
				t.Fatalf("GetTestDefinition: %v", err)
			}
			if got.Kind != exam.KindStatic || !got.Premium || got.AllottedSeconds() != 600 {
				t.Fatalf("definition: %+v", got)
			}
			qs, err := s.GetQuestions(ctx, "t1")
			if err != nil {
				t.Fatalf("GetQuestions: %v", err)
			}
			if len(qs) != 2 || qs[0].ID != "q1" || qs[1].ID != "q2" || qs[0].CorrectAnswer != "4" {
				t.Fatalf("questions: %+v", qs)
			}
			if _, err := s.GetTestDefinition(ctx, "nope"); !exam.IsCode(err, exam.CodeContentNotFound) {
				t.Fatalf("missing test: want content_not_found, got %v", err)
			}
		})
	}
}

func TestContentStoreInstances(t *testing.T) {
	for name, s := range contentStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.PutTest(ctx, exam.TestDefinition{ID: "t1", Title: "Dyn", EstimatedMinutes: 5, Kind: exam.KindDynamic}, nil); err != nil {
				t.Fatalf("PutTest: %v", err)
			}
			if _, err := s.GetInstanceSnapshot(ctx, "i1", "u1"); !exam.IsCode(err, exam.CodeNotYetMaterialized) {
				t.Fatalf("before write: want not_yet_materialized, got %v", err)
			}
			if err := s.PutInstance(ctx, exam.InstanceSnapshot{ID: "i1", UserID: "u1", TestID: "t1", Questions: sampleQuestions()}); err != nil {
				t.Fatalf("PutInstance: %v", err)
			}
			inst, err := s.GetInstanceSnapshot(ctx, "i1", "u1")
			if err != nil {
				t.Fatalf("GetInstanceSnapshot: %v", err)
			}
			if inst.Status != exam.InstancePending || len(inst.Questions) != 2 {
				t.Fatalf("instance: %+v", inst)
			}
			if _, err := s.GetInstanceSnapshot(ctx, "i1", "intruder"); !exam.IsCode(err, exam.CodeAccessDenied) {
				t.Fatalf("other user: want access_denied, got %v", err)
			}
		})
	}
}

func TestContentStoreLiveEvents(t *testing.T) {
	for name, s := range contentStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ev := exam.LiveEvent{ID: "e1", Definition: exam.TestDefinition{Title: "Friday Cup", EstimatedMinutes: 15}, Questions: sampleQuestions()}
			if err := s.PutLiveEvent(ctx, ev); err != nil {
				t.Fatalf("PutLiveEvent: %v", err)
			}
			got, err := s.GetLiveEvent(ctx, "e1")
			if err != nil {
				t.Fatalf("GetLiveEvent: %v", err)
			}
			if got.Definition.Kind != exam.KindLive || got.Definition.Title != "Friday Cup" || len(got.Questions) != 2 {
				t.Fatalf("event: %+v", got)
			}
			if _, err := s.GetLiveEvent(ctx, "e2"); !exam.IsCode(err, exam.CodeContentNotFound) {
				t.Fatalf("missing event: want content_not_found, got %v", err)
			}
		})
	}
}

func TestInMemoryStoreReturnsCopies(t *testing.T) {
	s := exam.NewInMemoryStore()
	ctx := context.Background()
	qs := sampleQuestions()
	_ = s.PutTest(ctx, exam.TestDefinition{ID: "t1", Title: "x", EstimatedMinutes: 1}, qs)
	qs[0].Options[0] = "mutated"

	got, _ := s.GetQuestions(ctx, "t1")
	if got[0].Options[0] != "3" {
		t.Fatalf("store aliased caller slice")
	}
	got[1].Options[0] = "mutated"
	again, _ := s.GetQuestions(ctx, "t1")
	if again[1].Options[0] != "Paris" {
		t.Fatalf("store handed out internal slice")
	}
}

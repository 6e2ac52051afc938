// Package source resolves the frozen question set of one session.
package source

import (
	"context"
	"errors"
	"time"

	"github.com/mind-engage/mindengage-examprep/internal/exam"
)

// DefaultRetryDelay is how long Instance waits before its single retry of a
// not-yet-materialized instance.
const DefaultRetryDelay = 1500 * time.Millisecond

// Resolution is everything a session needs from its source.
type Resolution struct {
	Definition exam.TestDefinition
	Snapshot   exam.QuestionSnapshot
	InstanceID string
	EventID    string
}

// Provider resolves questions for one caller.
type Provider interface {
	Resolve(ctx context.Context, id exam.Identity) (Resolution, error)
}

// Fixed serves a published static test.
type Fixed struct {
	Store  exam.ContentStore
	TestID string
}

func NewFixed(store exam.ContentStore, testID string) *Fixed {
	return &Fixed{Store: store, TestID: testID}
}

func (f *Fixed) Resolve(ctx context.Context, _ exam.Identity) (Resolution, error) {
	def, err := f.Store.GetTestDefinition(ctx, f.TestID)
	if err != nil {
		return Resolution{}, notFound("source.fixed", err)
	}
	qs, err := f.Store.GetQuestions(ctx, f.TestID)
	if err != nil {
		return Resolution{}, notFound("source.fixed", err)
	}
	if len(qs) == 0 {
		return Resolution{}, exam.NotFound("source.fixed", "test has no questions: "+f.TestID)
	}
	return Resolution{Definition: def, Snapshot: exam.NewQuestionSnapshot(qs)}, nil
}

// Instance serves a pre-drawn dynamic-test instance owned by the caller.
// The instance may be written moments after the session starts, so a
// missing instance is retried exactly once after RetryDelay.
type Instance struct {
	Store      exam.ContentStore
	InstanceID string
	RetryDelay time.Duration
}

func NewInstance(store exam.ContentStore, instanceID string, retryDelay time.Duration) *Instance {
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	return &Instance{Store: store, InstanceID: instanceID, RetryDelay: retryDelay}
}

func (s *Instance) Resolve(ctx context.Context, id exam.Identity) (Resolution, error) {
	inst, err := s.Store.GetInstanceSnapshot(ctx, s.InstanceID, id.ID)
	if errors.Is(err, exam.ErrNotYetMaterialized) {
		t := time.NewTimer(s.RetryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return Resolution{}, exam.Wrap(exam.CodeInternal, "source.instance", ctx.Err())
		case <-t.C:
		}
		inst, err = s.Store.GetInstanceSnapshot(ctx, s.InstanceID, id.ID)
	}
	if err != nil {
		return Resolution{}, notFound("source.instance", err)
	}
	if inst.Status == exam.InstanceCompleted {
		return Resolution{}, exam.InstanceClosed("source.instance", s.InstanceID)
	}
	if len(inst.Questions) == 0 {
		return Resolution{}, exam.NotFound("source.instance", "instance has no questions: "+s.InstanceID)
	}
	def, err := s.Store.GetTestDefinition(ctx, inst.TestID)
	if err != nil {
		return Resolution{}, notFound("source.instance", err)
	}
	return Resolution{
		Definition: def,
		Snapshot:   exam.NewQuestionSnapshot(inst.Questions),
		InstanceID: inst.ID,
	}, nil
}

// LiveEvent serves the frozen question set of a scheduled live event.
type LiveEvent struct {
	Store   exam.ContentStore
	EventID string
}

func NewLiveEvent(store exam.ContentStore, eventID string) *LiveEvent {
	return &LiveEvent{Store: store, EventID: eventID}
}

func (l *LiveEvent) Resolve(ctx context.Context, _ exam.Identity) (Resolution, error) {
	ev, err := l.Store.GetLiveEvent(ctx, l.EventID)
	if err != nil {
		return Resolution{}, notFound("source.live_event", err)
	}
	if len(ev.Questions) == 0 {
		return Resolution{}, exam.NotFound("source.live_event", "event has no questions: "+l.EventID)
	}
	def := ev.Definition
	def.ID = ev.ID
	def.Kind = exam.KindLive
	return Resolution{Definition: def, Snapshot: exam.NewQuestionSnapshot(ev.Questions), EventID: ev.ID}, nil
}

// notFound folds every content failure into content_not_found, except
// access denial and cancellation, which keep their own codes.
func notFound(op string, err error) error {
	switch exam.CodeOf(err) {
	case exam.CodeContentNotFound, exam.CodeAccessDenied:
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return exam.Wrap(exam.CodeInternal, op, err)
	}
	return exam.Wrap(exam.CodeContentNotFound, op, err)
}

package grading

import (
	"context"

	"github.com/mind-engage/mindengage-examprep/internal/exam"
	"github.com/mind-engage/mindengage-examprep/internal/session"
	"github.com/mind-engage/mindengage-examprep/internal/store"
)

// ResultSink decides where a session's result lands and which
// source-specific side effects go with it.
type ResultSink interface {
	// Collection holds the results; replays are detected there.
	Collection() store.Collection
	// Write inserts doc plus its taken-count and source bookkeeping.
	Write(ctx context.Context, tx store.Tx, doc exam.ResultDocument) error
}

// FixedSink records results of published static tests.
type FixedSink struct{}

func (FixedSink) Collection() store.Collection { return store.CollectionResults }

func (FixedSink) Write(ctx context.Context, tx store.Tx, doc exam.ResultDocument) error {
	if err := tx.InsertResult(ctx, store.CollectionResults, doc); err != nil {
		return err
	}
	return tx.IncrementTakenCount(ctx, store.CollectionTests, doc.TestID)
}

// InstanceSink records a dynamic-test result and closes its instance.
type InstanceSink struct {
	InstanceID string
}

func (InstanceSink) Collection() store.Collection { return store.CollectionResults }

func (s InstanceSink) Write(ctx context.Context, tx store.Tx, doc exam.ResultDocument) error {
	doc.InstanceID = s.InstanceID
	if err := tx.InsertResult(ctx, store.CollectionResults, doc); err != nil {
		return err
	}
	if err := tx.IncrementTakenCount(ctx, store.CollectionTests, doc.TestID); err != nil {
		return err
	}
	return tx.MarkInstanceCompleted(ctx, s.InstanceID, doc.ID)
}

// LiveEventSink records results into the live-event collection.
type LiveEventSink struct {
	EventID string
}

func (LiveEventSink) Collection() store.Collection { return store.CollectionLiveResults }

func (s LiveEventSink) Write(ctx context.Context, tx store.Tx, doc exam.ResultDocument) error {
	doc.EventID = s.EventID
	if err := tx.InsertResult(ctx, store.CollectionLiveResults, doc); err != nil {
		return err
	}
	return tx.IncrementTakenCount(ctx, store.CollectionLiveEvents, s.EventID)
}

// SinkFor picks the sink matching the payload's source.
func SinkFor(p session.Payload) ResultSink {
	switch {
	case p.EventID != "":
		return LiveEventSink{EventID: p.EventID}
	case p.InstanceID != "":
		return InstanceSink{InstanceID: p.InstanceID}
	default:
		return FixedSink{}
	}
}

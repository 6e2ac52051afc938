// Package store is the atomic-update boundary of the grading engine: one
// Updater.InTx call either commits every write made through Tx or none, and
// transparently re-runs the body on optimistic-lock conflicts.
package store

import (
	"context"
	"time"

	"github.com/mind-engage/mindengage-examprep/internal/exam"
)

// Collection names a logical document set. Implementations reject unknown
// collections.
type Collection string

const (
	CollectionResults     Collection = "results"
	CollectionLiveResults Collection = "live_event_results"
	CollectionTests       Collection = "tests"
	CollectionLiveEvents  Collection = "live_events"
)

func (c Collection) resultCollection() bool {
	return c == CollectionResults || c == CollectionLiveResults
}

func (c Collection) countedCollection() bool {
	return c == CollectionTests || c == CollectionLiveEvents
}

// Tx is the read/write set available inside one atomic unit.
type Tx interface {
	ResultExists(ctx context.Context, c Collection, id string) (bool, error)
	InsertResult(ctx context.Context, c Collection, doc exam.ResultDocument) error

	// GetProfile returns exam.NewUserProfile (Version 0) when the user has none.
	GetProfile(ctx context.Context, userID string) (exam.UserProfile, error)
	// PutProfile writes p if the stored version still equals p.Version,
	// otherwise it fails with a transaction conflict.
	PutProfile(ctx context.Context, p exam.UserProfile) error

	UpsertAnalytics(ctx context.Context, testID, userID string) error
	IncrementTakenCount(ctx context.Context, c Collection, id string) error
	MarkInstanceCompleted(ctx context.Context, instanceID, resultID string) error
	AppendLibraryCompletion(ctx context.Context, lc exam.LibraryCompletion) error
	IncrementMonthlyQuota(ctx context.Context, libraryID, userID, yearMonth string) error
}

// Updater runs fn as one all-or-nothing unit.
type Updater interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// RetryPolicy bounds conflict retries of one InTx call.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, Backoff: 20 * time.Millisecond}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy().MaxAttempts
	}
	if p.Backoff < 0 {
		p.Backoff = 0
	}
	return p
}

// Package grading turns a finished session into a persisted result and the
// derived profile, analytics and quota updates, as one atomic unit.
package grading

import (
	"context"
	"strings"
	"time"

	"github.com/mind-engage/mindengage-examprep/internal/exam"
	"github.com/mind-engage/mindengage-examprep/internal/gamification"
	"github.com/mind-engage/mindengage-examprep/internal/logger"
	"github.com/mind-engage/mindengage-examprep/internal/notify"
	"github.com/mind-engage/mindengage-examprep/internal/session"
	"github.com/mind-engage/mindengage-examprep/internal/store"
)

const yearMonthLayout = "2006-01"

// Receipt describes a finished submission.
type Receipt struct {
	ResultID string
	Replayed bool // the result already existed; nothing was written
	Outcome  gamification.Outcome
}

type Option func(*Grader)

// WithLocation sets the calendar used for streak days and quota months.
func WithLocation(loc *time.Location) Option {
	return func(g *Grader) {
		if loc != nil {
			g.loc = loc
		}
	}
}

func WithNow(now func() time.Time) Option { return func(g *Grader) { g.now = now } }

func WithPublisher(p notify.Publisher) Option {
	return func(g *Grader) {
		if p != nil {
			g.pub = p
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(g *Grader) {
		if l != nil {
			g.log = l
		}
	}
}

// Grader is the single submission entry point shared by every session
// variant. It satisfies session.Submitter.
type Grader struct {
	updater store.Updater
	loc     *time.Location
	now     func() time.Time
	pub     notify.Publisher
	log     *logger.Logger
}

func NewGrader(updater store.Updater, opts ...Option) *Grader {
	g := &Grader{
		updater: updater,
		loc:     time.UTC,
		now:     time.Now,
		pub:     notify.Noop{},
		log:     logger.Nop(),
	}
	for _, o := range opts {
		o(g)
	}
	g.log = g.log.With("component", "grading")
	return g
}

// SubmitSession grades p into the sink matching its source.
func (g *Grader) SubmitSession(ctx context.Context, p session.Payload) (string, error) {
	r, err := g.Submit(ctx, p, SinkFor(p))
	if err != nil {
		return "", err
	}
	return r.ResultID, nil
}

// Submit runs the grading transaction. The result id is the session id,
// so a replayed payload finds its result and changes nothing.
func (g *Grader) Submit(ctx context.Context, p session.Payload, sink ResultSink) (Receipt, error) {
	if strings.TrimSpace(p.SessionID) == "" {
		return Receipt{}, exam.Validation("grading.submit", "session id required")
	}
	if p.Identity.Anonymous() {
		return Receipt{}, exam.ErrAuthRequired
	}
	if !p.Reason.Valid() {
		return Receipt{}, exam.Validation("grading.submit", "unknown termination reason "+string(p.Reason))
	}
	if sink == nil {
		sink = SinkFor(p)
	}

	allotted := p.Definition.AllottedSeconds()
	scored := Score(p.Snapshot, p.Answers, p.TimeSpent, allotted)
	now := g.now()
	today := now.In(g.loc)
	uid := p.Identity.ID

	doc := exam.ResultDocument{
		ID:               p.SessionID,
		SessionID:        p.SessionID,
		UserID:           uid,
		TestID:           p.Definition.ID,
		InstanceID:       p.InstanceID,
		EventID:          p.EventID,
		Answers:          scored.Answers,
		Score:            scored.Score,
		Incorrect:        scored.Incorrect,
		TotalQuestions:   scored.TotalQuestions,
		TotalTime:        scored.TotalTime,
		Reason:           p.Reason,
		FlaggedForReview: scored.Flagged,
		CompletedAt:      now.UTC(),
	}

	var (
		receipt Receipt
		start   = time.Now()
	)
	err := g.updater.InTx(ctx, func(tx store.Tx) error {
		receipt = Receipt{ResultID: doc.ID}

		exists, err := tx.ResultExists(ctx, sink.Collection(), doc.ID)
		if err != nil {
			return err
		}
		if exists {
			receipt.Replayed = true
			return nil
		}

		prof, err := tx.GetProfile(ctx, uid)
		if err != nil {
			return err
		}
		next, outcome := gamification.Apply(prof, gamification.Input{
			Today:            today,
			Score:            scored.Score,
			TotalQuestions:   scored.TotalQuestions,
			TotalTimeSeconds: scored.TotalTime,
			AllottedSeconds:  allotted,
		})

		if err := sink.Write(ctx, tx, doc); err != nil {
			return err
		}
		if err := tx.PutProfile(ctx, next); err != nil {
			return err
		}
		if err := tx.UpsertAnalytics(ctx, doc.TestID, uid); err != nil {
			return err
		}
		if lib := p.Identity.LibraryID; lib != "" {
			if err := tx.AppendLibraryCompletion(ctx, exam.LibraryCompletion{
				LibraryID:      lib,
				UserID:         uid,
				TestID:         doc.TestID,
				ResultID:       doc.ID,
				Score:          doc.Score,
				TotalQuestions: doc.TotalQuestions,
				CompletedAt:    doc.CompletedAt,
			}); err != nil {
				return err
			}
			if err := tx.IncrementMonthlyQuota(ctx, lib, uid, today.Format(yearMonthLayout)); err != nil {
				return err
			}
		}
		receipt.Outcome = outcome
		return nil
	})
	if err != nil {
		g.log.Error("submission failed",
			"session_id", p.SessionID, "user_id", uid, "reason", string(p.Reason), "error", err)
		if exam.IsCode(err, exam.CodeContentNotFound) {
			return Receipt{}, err
		}
		return Receipt{}, exam.Wrap(exam.CodeSubmissionFailure, "grading.submit", err)
	}

	if receipt.Replayed {
		g.log.Info("submission replayed", "session_id", p.SessionID, "result_id", receipt.ResultID)
		return receipt, nil
	}

	g.log.Info("submission graded",
		"session_id", p.SessionID,
		"user_id", uid,
		"test_id", doc.TestID,
		"score", doc.Score,
		"total", doc.TotalQuestions,
		"reason", string(doc.Reason),
		"flagged", doc.FlaggedForReview,
		"xp_gained", receipt.Outcome.XPGained,
		"new_badges", receipt.Outcome.NewBadges,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	ev := notify.ResultEvent{
		Type:           notify.TypeResultCreated,
		ResultID:       doc.ID,
		SessionID:      doc.SessionID,
		UserID:         uid,
		TestID:         doc.TestID,
		InstanceID:     doc.InstanceID,
		EventID:        doc.EventID,
		LibraryID:      p.Identity.LibraryID,
		Score:          doc.Score,
		TotalQuestions: doc.TotalQuestions,
		Reason:         doc.Reason,
		XPGained:       receipt.Outcome.XPGained,
		LeveledUp:      receipt.Outcome.LeveledUp,
		NewBadges:      receipt.Outcome.NewBadges,
		CompletedAt:    doc.CompletedAt,
	}
	if err := g.pub.PublishResult(ctx, ev); err != nil {
		g.log.Warn("result publish failed", "result_id", doc.ID, "error", err)
	}
	return receipt, nil
}

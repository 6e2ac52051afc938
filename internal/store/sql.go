package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mind-engage/mindengage-examprep/internal/exam"
	syncx "github.com/mind-engage/mindengage-examprep/internal/sync"
)

// SQLStore is the Updater over database/sql (pgx or modernc sqlite).
// Profiles are guarded by a version column: every PutProfile is a
// compare-and-set, so concurrent submissions by one user conflict and retry
// instead of overwriting each other.
type SQLStore struct {
	db     *sql.DB
	events *syncx.EventRepo
	policy RetryPolicy
	hooks  Hooks
}

func NewSQLStore(db *sql.DB, policy RetryPolicy, hooks Hooks) *SQLStore {
	if hooks == nil {
		hooks = noopHooks{}
	}
	return &SQLStore{db: db, events: syncx.NewEventRepo(db), policy: policy, hooks: hooks}
}

func (s *SQLStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return runWithRetry(ctx, "sql.tx", s.policy, s.hooks, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return MapError("sql.begin", err)
		}
		if err := fn(&sqlTx{tx: tx, events: s.events.WithTx(tx)}); err != nil {
			_ = tx.Rollback()
			return MapError("sql.tx", err)
		}
		if err := tx.Commit(); err != nil {
			return MapError("sql.commit", err)
		}
		return nil
	})
}

type sqlTx struct {
	tx     *sql.Tx
	events *syncx.EventRepo
}

func resultTable(c Collection) (string, error) {
	if !c.resultCollection() {
		return "", exam.Validation("sql.result_table", fmt.Sprintf("unknown collection %q", c))
	}
	return string(c), nil
}

func (t *sqlTx) ResultExists(ctx context.Context, c Collection, id string) (bool, error) {
	table, err := resultTable(c)
	if err != nil {
		return false, err
	}
	var one int
	err = t.tx.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id=$1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *sqlTx) InsertResult(ctx context.Context, c Collection, doc exam.ResultDocument) error {
	table, err := resultTable(c)
	if err != nil {
		return err
	}
	aj, err := json.Marshal(doc.Answers)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `INSERT INTO `+table+`
		(id,session_id,user_id,test_id,instance_id,event_id,answers_json,score,incorrect,total_questions,total_time,reason,flagged,completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		doc.ID, doc.SessionID, doc.UserID, doc.TestID, doc.InstanceID, doc.EventID, string(aj),
		doc.Score, doc.Incorrect, doc.TotalQuestions, doc.TotalTime, string(doc.Reason), doc.FlaggedForReview,
		doc.CompletedAt.Unix())
	return err
}

func (t *sqlTx) GetProfile(ctx context.Context, userID string) (exam.UserProfile, error) {
	p := exam.UserProfile{UserID: userID}
	var badges string
	err := t.tx.QueryRowContext(ctx,
		`SELECT xp, level, current_streak, last_streak_day, badges_json, bonus_credits, version
		 FROM user_profiles WHERE user_id=$1`, userID).
		Scan(&p.XP, &p.Level, &p.CurrentStreak, &p.LastStreakDay, &badges, &p.BonusCredits, &p.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return exam.NewUserProfile(userID), nil
	}
	if err != nil {
		return exam.UserProfile{}, err
	}
	if err := json.Unmarshal([]byte(badges), &p.Badges); err != nil {
		return exam.UserProfile{}, exam.Wrap(exam.CodeInternal, "sql.get_profile", err)
	}
	if p.Badges == nil {
		p.Badges = []string{}
	}
	return p, nil
}

func (t *sqlTx) PutProfile(ctx context.Context, p exam.UserProfile) error {
	if p.UserID == "" {
		return exam.Validation("sql.put_profile", "user id required")
	}
	badges := p.Badges
	if badges == nil {
		badges = []string{}
	}
	bj, err := json.Marshal(badges)
	if err != nil {
		return err
	}
	var res sql.Result
	if p.Version == 0 {
		res, err = t.tx.ExecContext(ctx, `INSERT INTO user_profiles
			(user_id, xp, level, current_streak, last_streak_day, badges_json, bonus_credits, version)
			VALUES ($1,$2,$3,$4,$5,$6,$7,1)
			ON CONFLICT (user_id) DO NOTHING`,
			p.UserID, p.XP, p.Level, p.CurrentStreak, p.LastStreakDay, string(bj), p.BonusCredits)
	} else {
		res, err = t.tx.ExecContext(ctx, `UPDATE user_profiles
			SET xp=$1, level=$2, current_streak=$3, last_streak_day=$4, badges_json=$5, bonus_credits=$6, version=version+1
			WHERE user_id=$7 AND version=$8`,
			p.XP, p.Level, p.CurrentStreak, p.LastStreakDay, string(bj), p.BonusCredits, p.UserID, p.Version)
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ConflictError("sql.put_profile", "profile version moved for "+p.UserID)
	}
	return nil
}

func (t *sqlTx) UpsertAnalytics(ctx context.Context, testID, userID string) error {
	if _, err := t.tx.ExecContext(ctx, `INSERT INTO test_analytics (test_id, taken_count) VALUES ($1, 1)
		ON CONFLICT (test_id) DO UPDATE SET taken_count = test_analytics.taken_count + 1`, testID); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx, `INSERT INTO analytics_takers (test_id, user_id) VALUES ($1,$2)
		ON CONFLICT (test_id, user_id) DO NOTHING`, testID, userID)
	return err
}

func (t *sqlTx) IncrementTakenCount(ctx context.Context, c Collection, id string) error {
	if !c.countedCollection() {
		return exam.Validation("sql.increment_taken", fmt.Sprintf("unknown collection %q", c))
	}
	_, err := t.tx.ExecContext(ctx, `UPDATE `+string(c)+` SET taken_count = taken_count + 1 WHERE id=$1`, id)
	return err
}

// MarkInstanceCompleted closes a pending instance. Closing it again under
// the same result id is a no-op; under any other id it fails, so two
// sessions on one instance cannot both commit.
func (t *sqlTx) MarkInstanceCompleted(ctx context.Context, instanceID, resultID string) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE test_instances SET status=$1, result_id=$2 WHERE id=$3 AND status=$4`,
		string(exam.InstanceCompleted), resultID, instanceID, string(exam.InstancePending))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var prev string
	err = t.tx.QueryRowContext(ctx, `SELECT result_id FROM test_instances WHERE id=$1`, instanceID).Scan(&prev)
	if errors.Is(err, sql.ErrNoRows) {
		return exam.NotFound("sql.mark_instance_completed", "unknown instance "+instanceID)
	}
	if err != nil {
		return err
	}
	if prev == resultID {
		return nil
	}
	return exam.InstanceClosed("sql.mark_instance_completed", instanceID)
}

func (t *sqlTx) AppendLibraryCompletion(ctx context.Context, lc exam.LibraryCompletion) error {
	ev, err := syncx.LibraryCompletionEvent(lc)
	if err != nil {
		return err
	}
	return t.events.Append(ctx, ev)
}

func (t *sqlTx) IncrementMonthlyQuota(ctx context.Context, libraryID, userID, yearMonth string) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO monthly_quota (library_id, user_id, year_month, count) VALUES ($1,$2,$3,1)
		ON CONFLICT (library_id, user_id, year_month) DO UPDATE SET count = monthly_quota.count + 1`,
		libraryID, userID, yearMonth)
	return err
}

// --- read side ---

func (s *SQLStore) Result(ctx context.Context, c Collection, id string) (exam.ResultDocument, error) {
	table, err := resultTable(c)
	if err != nil {
		return exam.ResultDocument{}, err
	}
	var (
		doc       exam.ResultDocument
		aj        string
		reason    string
		completed int64
	)
	err = s.db.QueryRowContext(ctx, `SELECT id,session_id,user_id,test_id,instance_id,event_id,answers_json,
		score,incorrect,total_questions,total_time,reason,flagged,completed_at FROM `+table+` WHERE id=$1`, id).
		Scan(&doc.ID, &doc.SessionID, &doc.UserID, &doc.TestID, &doc.InstanceID, &doc.EventID, &aj,
			&doc.Score, &doc.Incorrect, &doc.TotalQuestions, &doc.TotalTime, &reason, &doc.FlaggedForReview, &completed)
	if err != nil {
		return exam.ResultDocument{}, MapError("sql.result", err)
	}
	if err := json.Unmarshal([]byte(aj), &doc.Answers); err != nil {
		return exam.ResultDocument{}, err
	}
	doc.Reason = exam.TerminationReason(reason)
	doc.CompletedAt = unixUTC(completed)
	return doc, nil
}

func (s *SQLStore) Profile(ctx context.Context, userID string) (exam.UserProfile, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return exam.UserProfile{}, err
	}
	defer func() { _ = tx.Rollback() }()
	return (&sqlTx{tx: tx}).GetProfile(ctx, userID)
}

func (s *SQLStore) Analytics(ctx context.Context, testID string) (exam.AnalyticsCounter, error) {
	ac := exam.AnalyticsCounter{TestID: testID}
	err := s.db.QueryRowContext(ctx, `SELECT taken_count FROM test_analytics WHERE test_id=$1`, testID).Scan(&ac.TakenCount)
	if err != nil {
		return exam.AnalyticsCounter{}, MapError("sql.analytics", err)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM analytics_takers WHERE test_id=$1 ORDER BY user_id`, testID)
	if err != nil {
		return exam.AnalyticsCounter{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return exam.AnalyticsCounter{}, err
		}
		ac.UniqueTakers = append(ac.UniqueTakers, u)
	}
	return ac, rows.Err()
}

func (s *SQLStore) MonthlyQuota(ctx context.Context, libraryID, userID, yearMonth string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT count FROM monthly_quota WHERE library_id=$1 AND user_id=$2 AND year_month=$3`,
		libraryID, userID, yearMonth).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

func (s *SQLStore) LibraryCompletions(ctx context.Context, libraryID string) ([]exam.LibraryCompletion, error) {
	evs, err := s.events.List(ctx, syncx.TypeLibraryTestCompleted, libraryID)
	if err != nil {
		return nil, err
	}
	out := make([]exam.LibraryCompletion, 0, len(evs))
	for _, e := range evs {
		lc, err := syncx.DecodeLibraryCompletion(e)
		if err != nil {
			return nil, err
		}
		out = append(out, lc)
	}
	return out, nil
}

func unixUTC(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

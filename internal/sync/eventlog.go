package syncx

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/mind-engage/mindengage-examprep/internal/exam"
)

const TypeLibraryTestCompleted = "library.test_completed"

type Event struct {
	Seq       int64
	SiteID    string
	Type      string
	Key       string
	DataJSON  string
	CreatedAt int64
}

// DBTX is satisfied by both *sql.DB and *sql.Tx, so appends can join the
// caller's transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type EventRepo struct {
	db     DBTX
	siteID string
}

func NewEventRepo(db DBTX) *EventRepo { return &EventRepo{db: db, siteID: "local"} }

// WithTx returns a repo bound to tx.
func (r *EventRepo) WithTx(tx DBTX) *EventRepo { return &EventRepo{db: tx, siteID: r.siteID} }

func (r *EventRepo) Append(ctx context.Context, e Event) error {
	site := e.SiteID
	if site == "" {
		site = r.siteID
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO event_log (site_id, typ, key, data, created_at)
		 VALUES ($1,$2,$3,$4,$5)`,
		site, e.Type, e.Key, e.DataJSON, time.Now().Unix())
	return err
}

// List returns events of one type and key in append order.
func (r *EventRepo) List(ctx context.Context, typ, key string) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT seq, site_id, typ, key, data, created_at FROM event_log
		 WHERE typ=$1 AND key=$2 ORDER BY seq`, typ, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.Seq, &e.SiteID, &e.Type, &e.Key, &e.DataJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LibraryCompletionEvent encodes one library completion-log entry.
func LibraryCompletionEvent(lc exam.LibraryCompletion) (Event, error) {
	buf, err := json.Marshal(lc)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: TypeLibraryTestCompleted, Key: lc.LibraryID, DataJSON: string(buf)}, nil
}

func DecodeLibraryCompletion(e Event) (exam.LibraryCompletion, error) {
	var lc exam.LibraryCompletion
	err := json.Unmarshal([]byte(e.DataJSON), &lc)
	return lc, err
}

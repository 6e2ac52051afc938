package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Open opens a DB and ensures schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:examprep.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/examprep?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// one writer; transactions queue on the pool instead of failing busy
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := ensureSchema(ctx, db, driver); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func ensureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}

const schemaSQLite = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  username TEXT NOT NULL UNIQUE,
  display_name TEXT NOT NULL DEFAULT '',
  password_hash TEXT NOT NULL,
  role TEXT NOT NULL DEFAULT 'student',
  premium INTEGER NOT NULL DEFAULT 0,
  library_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS tests (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  estimated_minutes INTEGER NOT NULL,
  premium INTEGER NOT NULL DEFAULT 0,
  creator_id TEXT NOT NULL DEFAULT '',
  kind TEXT NOT NULL DEFAULT 'static',
  taken_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS questions (
  id TEXT PRIMARY KEY,
  test_id TEXT NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
  position INTEGER NOT NULL,
  prompt TEXT NOT NULL,
  options_json TEXT NOT NULL,
  correct_answer TEXT NOT NULL,
  topic TEXT NOT NULL DEFAULT '',
  explanation TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS test_instances (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  test_id TEXT NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
  questions_json TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  result_id TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS live_events (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  estimated_minutes INTEGER NOT NULL,
  premium INTEGER NOT NULL DEFAULT 0,
  creator_id TEXT NOT NULL DEFAULT '',
  questions_json TEXT NOT NULL,
  taken_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS results (
  id TEXT PRIMARY KEY,
  session_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  test_id TEXT NOT NULL,
  instance_id TEXT NOT NULL DEFAULT '',
  event_id TEXT NOT NULL DEFAULT '',
  answers_json TEXT NOT NULL,
  score INTEGER NOT NULL,
  incorrect INTEGER NOT NULL,
  total_questions INTEGER NOT NULL,
  total_time INTEGER NOT NULL,
  reason TEXT NOT NULL,
  flagged INTEGER NOT NULL DEFAULT 0,
  completed_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS live_event_results (
  id TEXT PRIMARY KEY,
  session_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  test_id TEXT NOT NULL,
  instance_id TEXT NOT NULL DEFAULT '',
  event_id TEXT NOT NULL DEFAULT '',
  answers_json TEXT NOT NULL,
  score INTEGER NOT NULL,
  incorrect INTEGER NOT NULL,
  total_questions INTEGER NOT NULL,
  total_time INTEGER NOT NULL,
  reason TEXT NOT NULL,
  flagged INTEGER NOT NULL DEFAULT 0,
  completed_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS user_profiles (
  user_id TEXT PRIMARY KEY,
  xp INTEGER NOT NULL DEFAULT 0,
  level INTEGER NOT NULL DEFAULT 1,
  current_streak INTEGER NOT NULL DEFAULT 0,
  last_streak_day TEXT NOT NULL DEFAULT '',
  badges_json TEXT NOT NULL DEFAULT '[]',
  bonus_credits INTEGER NOT NULL DEFAULT 0,
  version INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS test_analytics (
  test_id TEXT PRIMARY KEY,
  taken_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS analytics_takers (
  test_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  PRIMARY KEY (test_id, user_id)
);

CREATE TABLE IF NOT EXISTS monthly_quota (
  library_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  year_month TEXT NOT NULL,
  count INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (library_id, user_id, year_month)
);

CREATE TABLE IF NOT EXISTS event_log (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  site_id TEXT NOT NULL DEFAULT 'local',
  typ TEXT NOT NULL,                         -- e.g., library.test_completed
  key TEXT NOT NULL,                         -- natural key: library id
  data TEXT NOT NULL,                        -- JSON payload
  created_at INTEGER NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  username TEXT NOT NULL UNIQUE,
  display_name TEXT NOT NULL DEFAULT '',
  password_hash TEXT NOT NULL,
  role TEXT NOT NULL DEFAULT 'student',
  premium BOOLEAN NOT NULL DEFAULT FALSE,
  library_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS tests (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  estimated_minutes INTEGER NOT NULL,
  premium BOOLEAN NOT NULL DEFAULT FALSE,
  creator_id TEXT NOT NULL DEFAULT '',
  kind TEXT NOT NULL DEFAULT 'static',
  taken_count BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS questions (
  id TEXT PRIMARY KEY,
  test_id TEXT NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
  position INTEGER NOT NULL,
  prompt TEXT NOT NULL,
  options_json TEXT NOT NULL,
  correct_answer TEXT NOT NULL,
  topic TEXT NOT NULL DEFAULT '',
  explanation TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS test_instances (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  test_id TEXT NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
  questions_json TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  result_id TEXT NOT NULL DEFAULT '',
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS live_events (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  estimated_minutes INTEGER NOT NULL,
  premium BOOLEAN NOT NULL DEFAULT FALSE,
  creator_id TEXT NOT NULL DEFAULT '',
  questions_json TEXT NOT NULL,
  taken_count BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS results (
  id TEXT PRIMARY KEY,
  session_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  test_id TEXT NOT NULL,
  instance_id TEXT NOT NULL DEFAULT '',
  event_id TEXT NOT NULL DEFAULT '',
  answers_json TEXT NOT NULL,
  score INTEGER NOT NULL,
  incorrect INTEGER NOT NULL,
  total_questions INTEGER NOT NULL,
  total_time INTEGER NOT NULL,
  reason TEXT NOT NULL,
  flagged BOOLEAN NOT NULL DEFAULT FALSE,
  completed_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS live_event_results (
  id TEXT PRIMARY KEY,
  session_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  test_id TEXT NOT NULL,
  instance_id TEXT NOT NULL DEFAULT '',
  event_id TEXT NOT NULL DEFAULT '',
  answers_json TEXT NOT NULL,
  score INTEGER NOT NULL,
  incorrect INTEGER NOT NULL,
  total_questions INTEGER NOT NULL,
  total_time INTEGER NOT NULL,
  reason TEXT NOT NULL,
  flagged BOOLEAN NOT NULL DEFAULT FALSE,
  completed_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS user_profiles (
  user_id TEXT PRIMARY KEY,
  xp INTEGER NOT NULL DEFAULT 0,
  level INTEGER NOT NULL DEFAULT 1,
  current_streak INTEGER NOT NULL DEFAULT 0,
  last_streak_day TEXT NOT NULL DEFAULT '',
  badges_json TEXT NOT NULL DEFAULT '[]',
  bonus_credits INTEGER NOT NULL DEFAULT 0,
  version INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS test_analytics (
  test_id TEXT PRIMARY KEY,
  taken_count BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS analytics_takers (
  test_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  PRIMARY KEY (test_id, user_id)
);

CREATE TABLE IF NOT EXISTS monthly_quota (
  library_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  year_month TEXT NOT NULL,
  count BIGINT NOT NULL DEFAULT 0,
  PRIMARY KEY (library_id, user_id, year_month)
);

CREATE TABLE IF NOT EXISTS event_log (
  seq BIGSERIAL PRIMARY KEY,
  site_id TEXT NOT NULL DEFAULT 'local',
  typ TEXT NOT NULL,
  key TEXT NOT NULL,
  data TEXT NOT NULL,
  created_at BIGINT NOT NULL
);
`

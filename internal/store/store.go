package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Driver selects the SQL dialect.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// ParseDriver maps a configured driver name to a Driver.
func ParseDriver(name string) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sqlite", "sqlite3":
		return DriverSQLite, nil
	case "postgres", "postgresql", "pgx":
		return DriverPostgres, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q (expected sqlite or postgres)", name)
	}
}

type Store struct {
	db     *sql.DB
	driver Driver
}

// New opens the database and applies the schema. For sqlite, dsn is a file
// path or ":memory:"; for postgres it is a connection URL.
func New(driver Driver, dsn string) (*Store, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite"
		dsn = sqliteDSN(dsn)
	case DriverPostgres:
		drvName = "pgx"
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == DriverSQLite {
		// One connection serializes writers and keeps ":memory:" a single database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func sqliteDSN(path string) string {
	const pragmas = "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if path == "" || path == ":memory:" {
		return "file::memory:?" + pragmas
	}
	return "file:" + path + "?" + pragmas + "&_pragma=journal_mode(WAL)"
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Driver returns the dialect the store was opened with.
func (s *Store) Driver() Driver {
	return s.driver
}

func (s *Store) migrate() error {
	schema := schemaSQLite
	if s.driver == DriverPostgres {
		schema = schemaPostgres
	}
	_, err := s.db.Exec(schema)
	return err
}

// forUpdate locks selected rows until the transaction ends. sqlite has no
// row locks; its single connection already serializes transactions.
func (s *Store) forUpdate() string {
	if s.driver == DriverPostgres {
		return " FOR UPDATE"
	}
	return ""
}

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'student',
	active BOOLEAN NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS subject_staff (
	subject_id TEXT NOT NULL,
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	PRIMARY KEY (subject_id, user_id)
);

CREATE TABLE IF NOT EXISTS examinations (
	id TEXT PRIMARY KEY,
	subject_id TEXT NOT NULL,
	title TEXT NOT NULL,
	total_points REAL NOT NULL DEFAULT 0,
	passing_percentage REAL,
	passing_score REAL,
	duration_minutes INTEGER NOT NULL DEFAULT 0,
	show_results BOOLEAN NOT NULL DEFAULT 1,
	allow_review BOOLEAN NOT NULL DEFAULT 0,
	is_active BOOLEAN NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS examination_questions (
	id TEXT NOT NULL,
	examination_id TEXT NOT NULL REFERENCES examinations(id) ON DELETE CASCADE,
	type TEXT NOT NULL,
	text TEXT NOT NULL,
	points REAL NOT NULL DEFAULT 0,
	order_index INTEGER NOT NULL DEFAULT 0,
	correct_answer TEXT,
	options_json TEXT NOT NULL DEFAULT '[]',
	PRIMARY KEY (examination_id, id)
);

CREATE INDEX IF NOT EXISTS idx_questions_examination ON examination_questions(examination_id, order_index);

CREATE TABLE IF NOT EXISTS examination_attempts (
	id TEXT PRIMARY KEY,
	examination_id TEXT NOT NULL REFERENCES examinations(id),
	user_id TEXT NOT NULL,
	auto_graded_score REAL NOT NULL DEFAULT 0,
	auto_graded_max_score REAL NOT NULL DEFAULT 0,
	manual_graded_score REAL NOT NULL DEFAULT 0,
	manual_graded_max_score REAL NOT NULL DEFAULT 0,
	total_score REAL NOT NULL DEFAULT 0,
	max_score REAL NOT NULL DEFAULT 0,
	percentage REAL NOT NULL DEFAULT 0,
	is_passed BOOLEAN NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	time_spent_seconds INTEGER NOT NULL DEFAULT 0,
	started_at DATETIME NOT NULL,
	submitted_at DATETIME NOT NULL,
	graded_at DATETIME,
	answers_json TEXT NOT NULL DEFAULT '[]',
	UNIQUE (examination_id, user_id)
);

CREATE TABLE IF NOT EXISTS attempt_answers (
	id TEXT PRIMARY KEY,
	attempt_id TEXT NOT NULL REFERENCES examination_attempts(id) ON DELETE CASCADE,
	question_id TEXT NOT NULL,
	answer_text TEXT NOT NULL DEFAULT '',
	requires_manual BOOLEAN NOT NULL DEFAULT 0,
	is_correct BOOLEAN,
	points_awarded REAL,
	graded_by TEXT,
	graded_at DATETIME,
	feedback TEXT NOT NULL DEFAULT '',
	grading_note TEXT NOT NULL DEFAULT '',
	UNIQUE (attempt_id, question_id)
);

CREATE TABLE IF NOT EXISTS exam_metadata (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'student',
	active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS subject_staff (
	subject_id TEXT NOT NULL,
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	PRIMARY KEY (subject_id, user_id)
);

CREATE TABLE IF NOT EXISTS examinations (
	id TEXT PRIMARY KEY,
	subject_id TEXT NOT NULL,
	title TEXT NOT NULL,
	total_points DOUBLE PRECISION NOT NULL DEFAULT 0,
	passing_percentage DOUBLE PRECISION,
	passing_score DOUBLE PRECISION,
	duration_minutes INTEGER NOT NULL DEFAULT 0,
	show_results BOOLEAN NOT NULL DEFAULT TRUE,
	allow_review BOOLEAN NOT NULL DEFAULT FALSE,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS examination_questions (
	id TEXT NOT NULL,
	examination_id TEXT NOT NULL REFERENCES examinations(id) ON DELETE CASCADE,
	type TEXT NOT NULL,
	text TEXT NOT NULL,
	points DOUBLE PRECISION NOT NULL DEFAULT 0,
	order_index INTEGER NOT NULL DEFAULT 0,
	correct_answer TEXT,
	options_json TEXT NOT NULL DEFAULT '[]',
	PRIMARY KEY (examination_id, id)
);

CREATE INDEX IF NOT EXISTS idx_questions_examination ON examination_questions(examination_id, order_index);

CREATE TABLE IF NOT EXISTS examination_attempts (
	id TEXT PRIMARY KEY,
	examination_id TEXT NOT NULL REFERENCES examinations(id),
	user_id TEXT NOT NULL,
	auto_graded_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	auto_graded_max_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	manual_graded_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	manual_graded_max_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	max_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
	is_passed BOOLEAN NOT NULL DEFAULT FALSE,
	status TEXT NOT NULL,
	time_spent_seconds INTEGER NOT NULL DEFAULT 0,
	started_at TIMESTAMPTZ NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL,
	graded_at TIMESTAMPTZ,
	answers_json TEXT NOT NULL DEFAULT '[]',
	UNIQUE (examination_id, user_id)
);

CREATE TABLE IF NOT EXISTS attempt_answers (
	id TEXT PRIMARY KEY,
	attempt_id TEXT NOT NULL REFERENCES examination_attempts(id) ON DELETE CASCADE,
	question_id TEXT NOT NULL,
	answer_text TEXT NOT NULL DEFAULT '',
	requires_manual BOOLEAN NOT NULL DEFAULT FALSE,
	is_correct BOOLEAN,
	points_awarded DOUBLE PRECISION,
	graded_by TEXT,
	graded_at TIMESTAMPTZ,
	feedback TEXT NOT NULL DEFAULT '',
	grading_note TEXT NOT NULL DEFAULT '',
	UNIQUE (attempt_id, question_id)
);

CREATE TABLE IF NOT EXISTS exam_metadata (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

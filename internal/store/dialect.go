package store

import (
	"strconv"
	"strings"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// dialect hides the few places sqlite and postgres disagree. Queries are
// written with ? placeholders and rebound for postgres.
type dialect struct {
	driver string
	schema []string
}

func dialectFor(driver string) (dialect, bool) {
	switch driver {
	case DriverSQLite:
		return dialect{driver: driver, schema: sqliteSchema}, true
	case DriverPostgres, "postgres":
		return dialect{driver: DriverPostgres, schema: postgresSchema}, true
	default:
		return dialect{}, false
	}
}

// rebind rewrites ? placeholders to $n for postgres.
func (d dialect) rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Timestamps are stored as UTC unix nanoseconds so ordering and range
// filters behave identically on both backends.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS departments (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		name        TEXT NOT NULL UNIQUE,
		created_at  INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		username       TEXT PRIMARY KEY,
		display_name   TEXT NOT NULL DEFAULT '',
		department_id  INTEGER REFERENCES departments(id),
		active         INTEGER NOT NULL DEFAULT 1,
		created_at     INTEGER NOT NULL,
		updated_at     INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS user_roles (
		username  TEXT NOT NULL REFERENCES users(username),
		role      TEXT NOT NULL,
		PRIMARY KEY (username, role)
	)`,
	`CREATE TABLE IF NOT EXISTS projects (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		name           TEXT NOT NULL,
		description    TEXT NOT NULL DEFAULT '',
		department_id  INTEGER REFERENCES departments(id),
		manager        TEXT REFERENCES users(username),
		state          TEXT NOT NULL,
		version        INTEGER NOT NULL DEFAULT 1,
		active         INTEGER NOT NULL DEFAULT 1,
		created_at     INTEGER NOT NULL,
		updated_at     INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id   INTEGER REFERENCES projects(id),
		title        TEXT NOT NULL,
		description  TEXT NOT NULL DEFAULT '',
		priority     TEXT NOT NULL DEFAULT 'medium',
		assignee     TEXT REFERENCES users(username),
		state        TEXT NOT NULL,
		version      INTEGER NOT NULL DEFAULT 1,
		active       INTEGER NOT NULL DEFAULT 1,
		created_at   INTEGER NOT NULL,
		updated_at   INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS history (
		seq          INTEGER PRIMARY KEY AUTOINCREMENT,
		id           TEXT NOT NULL UNIQUE,
		entity_kind  TEXT NOT NULL,
		entity_id    INTEGER NOT NULL,
		old_state    TEXT,
		new_state    TEXT NOT NULL,
		reason       TEXT,
		actor        TEXT NOT NULL,
		occurred_at  INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_history_entity ON history (entity_kind, entity_id, occurred_at, seq)`,
	`CREATE INDEX IF NOT EXISTS idx_history_actor ON history (actor, occurred_at, seq)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks (project_id)`,
	`CREATE TRIGGER IF NOT EXISTS history_no_update BEFORE UPDATE ON history
	BEGIN
		SELECT RAISE(ABORT, 'history is append-only');
	END`,
	`CREATE TRIGGER IF NOT EXISTS history_no_delete BEFORE DELETE ON history
	BEGIN
		SELECT RAISE(ABORT, 'history is append-only');
	END`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS departments (
		id          BIGSERIAL PRIMARY KEY,
		name        TEXT NOT NULL UNIQUE,
		created_at  BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		username       TEXT PRIMARY KEY,
		display_name   TEXT NOT NULL DEFAULT '',
		department_id  BIGINT REFERENCES departments(id),
		active         INTEGER NOT NULL DEFAULT 1,
		created_at     BIGINT NOT NULL,
		updated_at     BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS user_roles (
		username  TEXT NOT NULL REFERENCES users(username),
		role      TEXT NOT NULL,
		PRIMARY KEY (username, role)
	)`,
	`CREATE TABLE IF NOT EXISTS projects (
		id             BIGSERIAL PRIMARY KEY,
		name           TEXT NOT NULL,
		description    TEXT NOT NULL DEFAULT '',
		department_id  BIGINT REFERENCES departments(id),
		manager        TEXT REFERENCES users(username),
		state          TEXT NOT NULL,
		version        BIGINT NOT NULL DEFAULT 1,
		active         INTEGER NOT NULL DEFAULT 1,
		created_at     BIGINT NOT NULL,
		updated_at     BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id           BIGSERIAL PRIMARY KEY,
		project_id   BIGINT REFERENCES projects(id),
		title        TEXT NOT NULL,
		description  TEXT NOT NULL DEFAULT '',
		priority     TEXT NOT NULL DEFAULT 'medium',
		assignee     TEXT REFERENCES users(username),
		state        TEXT NOT NULL,
		version      BIGINT NOT NULL DEFAULT 1,
		active       INTEGER NOT NULL DEFAULT 1,
		created_at   BIGINT NOT NULL,
		updated_at   BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS history (
		seq          BIGSERIAL PRIMARY KEY,
		id           TEXT NOT NULL UNIQUE,
		entity_kind  TEXT NOT NULL,
		entity_id    BIGINT NOT NULL,
		old_state    TEXT,
		new_state    TEXT NOT NULL,
		reason       TEXT,
		actor        TEXT NOT NULL,
		occurred_at  BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_history_entity ON history (entity_kind, entity_id, occurred_at, seq)`,
	`CREATE INDEX IF NOT EXISTS idx_history_actor ON history (actor, occurred_at, seq)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks (project_id)`,
	`CREATE OR REPLACE FUNCTION history_append_only() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION 'history is append-only';
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS history_append_only ON history`,
	`CREATE TRIGGER history_append_only BEFORE UPDATE OR DELETE ON history
		FOR EACH ROW EXECUTE FUNCTION history_append_only()`,
}

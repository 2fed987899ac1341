package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jackc/pgx/v5/pgconn"
	_ "modernc.org/sqlite"

	"github.com/imkarma/taskgate/internal/lifecycle"
)

// Errors returned by the administrative operations.
var (
	ErrNotFound         = errors.New("store: not found")
	ErrDuplicate        = errors.New("store: already exists")
	ErrInvalidReference = errors.New("store: referenced record does not exist")
)

// Options selects and tunes the backing database.
type Options struct {
	Driver       string          // "sqlite" (default) or "pgx"
	DSN          string          // File path for sqlite, connection URL for pgx
	MaxOpenConns int             // Ignored for sqlite, which always uses one
	BusyTimeout  time.Duration   // sqlite only
	Clock        lifecycle.Clock // Stamps rows and creation records; defaults to lifecycle.SystemClock
}

// Store is the durable entity store and history ledger.
type Store struct {
	db      *sql.DB
	dialect dialect
	clock   lifecycle.Clock
}

// New opens (or creates) the SQLite database at the given path.
func New(dbPath string) (*Store, error) {
	return Open(context.Background(), Options{Driver: DriverSQLite, DSN: dbPath})
}

// Open connects to the database described by opts and applies the schema.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Driver == "" {
		opts.Driver = DriverSQLite
	}
	d, ok := dialectFor(opts.Driver)
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}
	if strings.TrimSpace(opts.DSN) == "" {
		return nil, errors.New("database dsn is required")
	}

	db, err := sql.Open(d.driver, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	switch d.driver {
	case DriverSQLite:
		// A single connection serializes writers and keeps pragmas in effect.
		db.SetMaxOpenConns(1)
		busy := opts.BusyTimeout
		if busy <= 0 {
			busy = 5 * time.Second
		}
		pragmas := []string{
			"PRAGMA journal_mode=WAL",
			fmt.Sprintf("PRAGMA busy_timeout=%d", busy.Milliseconds()),
			"PRAGMA foreign_keys=ON",
		}
		for _, p := range pragmas {
			if _, err := db.ExecContext(ctx, p); err != nil {
				db.Close()
				return nil, fmt.Errorf("%s: %w", p, err)
			}
		}
	case DriverPostgres:
		if opts.MaxOpenConns > 0 {
			db.SetMaxOpenConns(opts.MaxOpenConns)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
	}

	clock := opts.Clock
	if clock == nil {
		clock = lifecycle.SystemClock
	}
	s := &Store{db: db, dialect: d, clock: clock}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Clock returns the clock the store stamps records with. The engine should
// share it so creation and transition records come from one time source.
func (s *Store) Clock() lifecycle.Clock {
	return s.clock
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC()
}

// Driver reports which backend the store runs on.
func (s *Store) Driver() string {
	return s.dialect.driver
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) exec(ctx context.Context, q queryer, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, q queryer, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.dialect.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, q queryer, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, s.dialect.rebind(query), args...)
}

// insertID runs an INSERT ... RETURNING id statement.
func (s *Store) insertID(ctx context.Context, q queryer, query string, args ...any) (int64, error) {
	var id int64
	if err := s.queryRow(ctx, q, query+" RETURNING id", args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// withTx runs fn in a transaction, rolling back on error or cancellation.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func tableFor(kind lifecycle.Kind) (table, ownerColumn string, err error) {
	switch kind {
	case lifecycle.KindTask:
		return "tasks", "assignee", nil
	case lifecycle.KindProject:
		return "projects", "manager", nil
	default:
		return "", "", fmt.Errorf("unknown entity kind %q", kind)
	}
}

// LoadState implements lifecycle.EntityStore.
func (s *Store) LoadState(ctx context.Context, ref lifecycle.Ref) (lifecycle.Snapshot, error) {
	return s.loadState(ctx, s.db, ref)
}

func (s *Store) loadState(ctx context.Context, q queryer, ref lifecycle.Ref) (lifecycle.Snapshot, error) {
	table, owner, err := tableFor(ref.Kind)
	if err != nil {
		return lifecycle.Snapshot{}, err
	}
	snap := lifecycle.Snapshot{Ref: ref}
	var state string
	err = s.queryRow(ctx, q,
		`SELECT state, COALESCE(`+owner+`, ''), version FROM `+table+` WHERE id = ? AND active = 1`,
		ref.ID,
	).Scan(&state, &snap.Owner, &snap.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return lifecycle.Snapshot{}, lifecycle.ErrEntityNotFound
	}
	if err != nil {
		return lifecycle.Snapshot{}, fmt.Errorf("load %s: %w", ref, err)
	}
	snap.State = lifecycle.State(state)
	return snap, nil
}

// Atomically implements lifecycle.EntityStore. fn must only touch the
// database through the unit of work it is handed.
func (s *Store) Atomically(ctx context.Context, fn func(ctx context.Context, uow lifecycle.UnitOfWork) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return fn(ctx, &unitOfWork{s: s, tx: tx})
	})
}

type unitOfWork struct {
	s  *Store
	tx *sql.Tx
}

// WriteState is a compare-and-swap on the version column.
func (u *unitOfWork) WriteState(ctx context.Context, ref lifecycle.Ref, state lifecycle.State, expectedVersion int64) error {
	table, _, err := tableFor(ref.Kind)
	if err != nil {
		return err
	}
	res, err := u.s.exec(ctx, u.tx,
		`UPDATE `+table+` SET state = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ? AND active = 1`,
		string(state), u.s.now().UnixNano(), ref.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("write state of %s: %w", ref, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("write state of %s: %w", ref, err)
	}
	if n == 0 {
		return lifecycle.ErrVersionConflict
	}
	return nil
}

func (u *unitOfWork) AppendHistory(ctx context.Context, rec lifecycle.HistoryRecord) (string, error) {
	return u.s.appendHistory(ctx, u.tx, rec)
}

func (s *Store) appendHistory(ctx context.Context, q queryer, rec lifecycle.HistoryRecord) (string, error) {
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	// An entity's ledger never runs backwards, whatever clock stamped rec.
	at := rec.Timestamp.UTC().UnixNano()
	var latest int64
	err := s.queryRow(ctx, q,
		`SELECT COALESCE(MAX(occurred_at), 0) FROM history WHERE entity_kind = ? AND entity_id = ?`,
		string(rec.Kind), rec.EntityID,
	).Scan(&latest)
	if err != nil {
		return "", fmt.Errorf("latest history: %w", err)
	}
	at = max(at, latest)

	var oldState *string
	if rec.OldState != nil {
		v := string(*rec.OldState)
		oldState = &v
	}
	_, err = s.exec(ctx, q,
		`INSERT INTO history (id, entity_kind, entity_id, old_state, new_state, reason, actor, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, string(rec.Kind), rec.EntityID, oldState, string(rec.NewState), rec.Reason, rec.Actor,
		at,
	)
	if err != nil {
		return "", fmt.Errorf("insert history: %w", err)
	}
	return id, nil
}

// classify maps driver constraint errors onto the store's sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.Detail)
		case "23503":
			return fmt.Errorf("%w: %s", ErrInvalidReference, pgErr.Detail)
		}
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %s", ErrDuplicate, msg)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: %s", ErrInvalidReference, msg)
	}
	return err
}

func unixTime(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullInt64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func ptrInt64(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

// package store is the persistence layer: schema, session/transaction
// management, soft delete, and the repository pattern over canonical and
// connector tracks, mappings, metrics, likes, plays, playlists, and sync
// checkpoints (§4.B). It is adapted from internal/repositories/*.go and
// internal/shared/database.go/migrations.go, generalized from the
// teacher's single-entity repositories to the richer schema spec.md §3/§6
// describes.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/narada/internal/shared"
)

// Store owns the database connection pool and the package-level logger
// every repository logs timing and classified errors through (§4.B "all
// operations are logged with timing and taxonomized errors").
type Store struct {
	DB  *sql.DB
	Log *log.Logger
}

// Open connects to the database named by cfg.URL, applies pool settings,
// and runs pending migrations. cfg.URL is either a bare filesystem path,
// ":memory:", or a "sqlite://" URL; any other scheme is rejected, since
// this module only implements the SQLite-compatible default spec.md §6
// names (see SPEC_FULL.md's Open Question on non-sqlite DATABASE_URL values).
func Open(cfg shared.DatabaseConfig) (*Store, error) {
	path, err := sqlitePath(cfg.URL)
	if err != nil {
		return nil, err
	}

	db, err := shared.NewDatabase(path)
	if err != nil {
		return nil, err
	}

	if cfg.PoolSize > 0 {
		shared.ConfigureDatabase(db, cfg.PoolSize, cfg.MaxOverflow)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: running migrations: %v", shared.ErrTransaction, err)
	}

	return &Store{DB: db, Log: shared.NewLogger(nil)}, nil
}

func sqlitePath(url string) (string, error) {
	if url == "" || url == ":memory:" {
		return ":memory:", nil
	}
	if strings.HasPrefix(url, "sqlite://") {
		return strings.TrimPrefix(url, "sqlite://"), nil
	}
	if strings.Contains(url, "://") {
		return "", fmt.Errorf("%w: unsupported DATABASE_URL scheme in %q, only sqlite:// and bare paths are implemented", shared.ErrInvalidConfig, url)
	}
	return url, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.DB.Close()
}

// execer is satisfied by both *sql.DB and *sql.Tx, letting repositories
// take either a transactional Session or a bare read session without
// branching on which one they were given.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Session scopes a unit of work. A write Session wraps a *sql.Tx; a read
// Session (from Store.ReadSession) wraps the bare *sql.DB and has no
// transaction to commit or roll back. Writes that span multiple
// repositories must share the same Session (§4.B "Sessions and
// concurrency").
type Session struct {
	exec       execer
	tx         *sql.Tx
	savepoints int
}

// ReadSession returns a Session backed directly by the connection pool,
// suitable for read-only repository calls outside any transaction.
func (s *Store) ReadSession() *Session {
	return &Session{exec: s.DB}
}

// WithTransaction is the get_session(rollback=true|false) analogue: it
// begins a transaction, invokes fn with a Session scoped to it, commits on
// a nil return, and rolls back and re-raises the error otherwise.
func (s *Store) WithTransaction(ctx context.Context, fn func(*Session) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", shared.ErrTransaction, err)
	}

	sess := &Session{exec: tx, tx: tx}

	if err := fn(sess); err != nil {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			s.Log.Error("transaction rollback failed", "error", rerr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit transaction: %v", shared.ErrTransaction, err)
	}
	return nil
}

// Nested runs fn inside a SQLite SAVEPOINT scoped to this Session's
// transaction, the savepoint-style nesting spec §4.B/§5 calls for in
// matcher persistence and playlist upsert. It requires a write Session;
// calling it on a read Session is a programming error.
func (s *Session) Nested(ctx context.Context, fn func(*Session) error) error {
	if s.tx == nil {
		return fmt.Errorf("%w: nested transactions require a write session", shared.ErrTransaction)
	}

	s.savepoints++
	name := "sp_" + strconv.Itoa(s.savepoints)

	if _, err := s.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("%w: creating savepoint: %v", shared.ErrTransaction, err)
	}

	nested := &Session{exec: s.tx, tx: s.tx, savepoints: s.savepoints}
	if err := fn(nested); err != nil {
		if _, rerr := s.tx.ExecContext(ctx, "ROLLBACK TO "+name); rerr != nil {
			return errors.Join(err, fmt.Errorf("%w: rolling back to savepoint %s: %v", shared.ErrTransaction, name, rerr))
		}
		return err
	}

	if _, err := s.tx.ExecContext(ctx, "RELEASE "+name); err != nil {
		return fmt.Errorf("%w: releasing savepoint: %v", shared.ErrTransaction, err)
	}
	return nil
}

// classifyErr maps a raw database/sql or sqlite3 error into the §7 error
// taxonomy: a no-rows result becomes ErrNotFound, a unique-constraint
// violation becomes ErrConflict, anything else is a fatal ErrTransaction.
func classifyErr(err error, notFoundMsg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", shared.ErrNotFound, notFoundMsg)
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %v", shared.ErrConflict, err)
	}
	return fmt.Errorf("%w: %v", shared.ErrTransaction, err)
}

func logTiming(l *log.Logger, op string, started time.Time, err error) {
	kv := []any{"op", op, "duration", time.Since(started)}
	if err != nil {
		l.Error("store operation failed", append(kv, "error", err)...)
		return
	}
	l.Debug("store operation", kv...)
}

func softDelete(ctx context.Context, exec execer, table string, id int64) error {
	q := fmt.Sprintf("UPDATE %s SET is_deleted = 1, deleted_at = ?, updated_at = ? WHERE id = ?", table)
	now := nowString()
	_, err := exec.ExecContext(ctx, q, now, now, id)
	return classifyErr(err, fmt.Sprintf("%s id %d", table, id))
}

func hardDelete(ctx context.Context, exec execer, table string, id int64) error {
	q := fmt.Sprintf("DELETE FROM %s WHERE id = ?", table)
	_, err := exec.ExecContext(ctx, q, id)
	return classifyErr(err, fmt.Sprintf("%s id %d", table, id))
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}

// Package kenobix is a schemaless, JSON-document store layered on top of
// modernc.org/sqlite. A Database owns one connection pool, write-ahead
// logging, and a transaction/savepoint state machine; Collections are
// table-backed sets of documents with optional secondary indexes
// implemented as generated virtual columns.
package kenobix

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	_ "modernc.org/sqlite"

	"github.com/kenobix/kenobix/internal/dialect"
)

// DefaultCollectionName is the name reserved for the database handle's
// legacy single-collection CRUD surface.
const DefaultCollectionName = "documents"

type txState int

const (
	stateIdle txState = iota
	stateInTransaction
)

// execer is satisfied by *sql.DB, *sql.Conn, and *sql.Tx. Statements are
// routed through whichever of those is live for the current transaction
// state (auto-commit mode when idle).
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Database owns one connection, journal mode, the transaction state
// machine, the savepoint counter, and the cache of open collection
// handles.
type Database struct {
	path     string
	readOnly bool
	db       *sql.DB
	dialect  dialect.Dialect
	opts     options
	tel      telemetry
	tracer   trace.Tracer

	mu        sync.Mutex
	state     txState
	conn      *sql.Conn
	spCounter int
	spStack   []string

	collMu      sync.Mutex
	collections map[string]*Collection
}

// Open opens (creating if absent) the database file at path, enabling
// WAL journaling, and returns a handle ready to serve Collection calls.
// path may be a bare filesystem path or a file: DSN.
func Open(path string, opts ...Option) (*Database, error) {
	return open(path, false, opts...)
}

// OpenReadOnly opens a second, read-only connection onto an existing
// database file, for a caller that only observes the data (an export
// job, a read replica, a reporting view).
func OpenReadOnly(path string, opts ...Option) (*Database, error) {
	return open(path, true, opts...)
}

func open(path string, readOnly bool, optFns ...Option) (*Database, error) {
	o := defaultOptions()
	for _, fn := range optFns {
		fn(&o)
	}

	dsn := buildDSN(path, o, readOnly)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(o.maxOpenConns)
	sqlDB.SetMaxIdleConns(o.maxOpenConns)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	tp := o.tracerProvider
	if tp == nil {
		tp = noop.NewTracerProvider()
	}

	d := &Database{
		path:        path,
		readOnly:    readOnly,
		db:          sqlDB,
		dialect:     dialect.NewSQLite(),
		opts:        o,
		tel:         newTelemetry(o.meterProvider),
		tracer:      tp.Tracer("github.com/kenobix/kenobix"),
		collections: make(map[string]*Collection),
	}

	if !readOnly {
		if _, err := sqlDB.Exec(fmt.Sprintf("PRAGMA wal_autocheckpoint=%d", o.walAutocheck)); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("open %s: set wal_autocheckpoint: %w", path, err)
		}
	}

	return d, nil
}

// Close closes the underlying connection. If a transaction is in
// progress it is rolled back first.
func (d *Database) Close() error {
	d.mu.Lock()
	if d.state == stateInTransaction && d.conn != nil {
		_, _ = d.conn.ExecContext(context.Background(), "ROLLBACK")
		_ = d.conn.Close()
		d.conn = nil
		d.state = stateIdle
	}
	d.mu.Unlock()
	return d.db.Close()
}

// Path returns the database file path or DSN Open was called with.
func (d *Database) Path() string { return d.path }

// FileSize returns the size in bytes of the underlying database file, or
// 0 if it cannot be determined (e.g. an in-memory DSN).
func (d *Database) FileSize() int64 {
	p := d.path
	if strings.HasPrefix(p, "file:") {
		p = strings.TrimPrefix(p, "file:")
		if i := strings.IndexAny(p, "?"); i >= 0 {
			p = p[:i]
		}
	}
	info, err := os.Stat(p)
	if err != nil {
		return 0
	}
	return info.Size()
}

// reader returns the execer that should serve a read: the connection
// held by an in-progress transaction (so reads observe the transaction's
// own uncommitted writes), or the pooled *sql.DB otherwise.
func (d *Database) reader() execer {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == stateInTransaction && d.conn != nil {
		return d.conn
	}
	return d.db
}

// withWrite runs fn against the connection appropriate for a write,
// honoring auto-commit mode: inside an explicit transaction it runs
// directly against the held connection (the caller's Commit/Rollback
// decides the outcome); otherwise it opens a dedicated, retried BEGIN
// IMMEDIATE .. COMMIT around fn.
func (d *Database) withWrite(ctx context.Context, fn func(ctx context.Context, ex execer) error) error {
	d.mu.Lock()
	inTx := d.state == stateInTransaction
	conn := d.conn
	d.mu.Unlock()

	if inTx {
		return fn(ctx, conn)
	}

	if d.readOnly {
		return fmt.Errorf("write on read-only database: %w", ErrUnsupportedOperation)
	}

	ctx, span := d.tracer.Start(ctx, "kenobix.write")
	defer span.End()

	c, err := d.db.Conn(ctx)
	if err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = c.Close() }()

	if err := d.beginImmediateWithRetry(ctx, c); err != nil {
		recordSpanError(span, err)
		return err
	}

	committed := false
	defer func() {
		if !committed {
			_, _ = c.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if err := fn(ctx, c); err != nil {
		recordSpanError(span, err)
		return err
	}

	if _, err := c.ExecContext(ctx, "COMMIT"); err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// beginImmediateWithRetry issues BEGIN IMMEDIATE, retrying with
// exponential backoff on SQLITE_BUSY.
func (d *Database) beginImmediateWithRetry(ctx context.Context, c *sql.Conn) error {
	eb := backoff.NewExponentialBackOff()
	eb.MaxElapsedTime = d.opts.retryMaxWait
	policy := backoff.WithMaxRetries(eb, d.opts.maxBeginRetry)
	op := func() error {
		_, err := c.ExecContext(ctx, d.dialect.BeginStatement())
		if err == nil {
			return nil
		}
		if isBusy(err) {
			d.tel.recordBusy(ctx)
			return err
		}
		return backoff.Permanent(err)
	}
	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		if isBusy(err) {
			return fmt.Errorf("begin: %w", ErrDatabaseLocked)
		}
		return fmt.Errorf("begin: %w", err)
	}
	return nil
}

// isBusy reports whether err corresponds to SQLITE_BUSY. modernc.org/sqlite
// surfaces busy/locked conditions as driver errors whose message embeds
// the engine's result code text; matching on that text avoids depending
// on unexported error internals.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

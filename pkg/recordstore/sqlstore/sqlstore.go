// Package sqlstore implements recordstore.Store on top of a relational
// database. MySQL serves shared multi-host deployments, SQLite serves
// single-host ones and tests.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// registers "mysql" driver.
	_ "github.com/go-sql-driver/mysql"
	"github.com/nspcc-dev/smallfiles/pkg/recordstore"
	"go.uber.org/zap"
	// registers "sqlite" driver.
	_ "modernc.org/sqlite"
)

// Dialect is a supported SQL database kind.
type Dialect string

const (
	// MySQL is the MySQL or MariaDB server dialect. DSN format is the one
	// of github.com/go-sql-driver/mysql.
	MySQL Dialect = "mysql"
	// SQLite is the embedded SQLite dialect. DSN is a database file path.
	SQLite Dialect = "sqlite"
)

// Store is an SQL recordstore.Store.
type Store struct {
	dialect Dialect
	dsn     string
	timeout time.Duration
	log     *zap.Logger

	db *sql.DB
}

// Option is a Store constructor option.
type Option func(*Store)

// WithLogger sets logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}

// WithTimeout sets connection check and lock wait timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New returns new Store of the given dialect. Connection is established
// by Open.
func New(d Dialect, dsn string, opts ...Option) *Store {
	s := &Store{
		dialect: d,
		dsn:     dsn,
		timeout: 10 * time.Second,
		log:     zap.NewNop(),
	}

	for i := range opts {
		opts[i](s)
	}

	return s
}

// Open implements recordstore.Store.
func (s *Store) Open(ctx context.Context) error {
	switch s.dialect {
	case MySQL, SQLite:
	default:
		return fmt.Errorf("unsupported SQL dialect %q", s.dialect)
	}

	db, err := sql.Open(string(s.dialect), s.dsn)
	if err != nil {
		return fmt.Errorf("open %s database: %w", s.dialect, err)
	}

	if s.dialect == SQLite {
		// single writer, so every statement is serialized by the pool
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping %s database: %w", s.dialect, err)
	}

	s.db = db
	s.log.Debug("opened SQL record store", zap.String("dialect", string(s.dialect)))

	return nil
}

// Init implements recordstore.Store. It creates tables and indexes if they
// are missing.
func (s *Store) Init(ctx context.Context) error {
	var stmts []string
	if s.dialect == SQLite {
		stmts = []string{
			fmt.Sprintf(`PRAGMA busy_timeout=%d;`, s.timeout.Milliseconds()),
			`PRAGMA journal_mode=WAL;`,
			`
CREATE TABLE IF NOT EXISTS files (
	pnfsid TEXT NOT NULL PRIMARY KEY,
	path TEXT NOT NULL DEFAULT '',
	parent TEXT NOT NULL DEFAULT '',
	size INTEGER NOT NULL DEFAULT 0,
	ctime INTEGER NOT NULL DEFAULT 0,
	sgroup TEXT NOT NULL DEFAULT '',
	store TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL DEFAULT '',
	lock_id TEXT NOT NULL DEFAULT '',
	archive_url TEXT NOT NULL DEFAULT ''
);`,
			`CREATE INDEX IF NOT EXISTS files_state_ctime ON files (state, ctime);`,
			`CREATE INDEX IF NOT EXISTS files_lock ON files (lock_id);`,
			`
CREATE TABLE IF NOT EXISTS archives (
	pnfsid TEXT NOT NULL,
	path TEXT NOT NULL
);`,
		}
	} else {
		stmts = []string{`
CREATE TABLE IF NOT EXISTS files (
	pnfsid VARCHAR(64) NOT NULL PRIMARY KEY,
	path TEXT NOT NULL,
	parent TEXT NOT NULL,
	size BIGINT NOT NULL DEFAULT 0,
	ctime BIGINT NOT NULL DEFAULT 0,
	sgroup VARCHAR(255) NOT NULL DEFAULT '',
	store VARCHAR(255) NOT NULL DEFAULT '',
	state VARCHAR(1024) NOT NULL DEFAULT '',
	lock_id VARCHAR(255) NOT NULL DEFAULT '',
	archive_url TEXT NOT NULL,
	INDEX files_state_ctime (state(255), ctime),
	INDEX files_lock (lock_id)
);`, `
CREATE TABLE IF NOT EXISTS archives (
	pnfsid VARCHAR(64) NOT NULL,
	path TEXT NOT NULL
);`,
		}
	}

	for i := range stmts {
		if _, err := s.db.ExecContext(ctx, stmts[i]); err != nil {
			return fmt.Errorf("init %s schema: %w", s.dialect, err)
		}
	}

	return nil
}

// Close implements recordstore.Store.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

const fileColumns = `pnfsid, path, parent, size, ctime, sgroup, store, state, lock_id, archive_url`

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(row scanner) (recordstore.FileRecord, error) {
	var (
		rec recordstore.FileRecord
		st  string
	)

	err := row.Scan(&rec.ID, &rec.Path, &rec.Parent, &rec.Size, &rec.CTime,
		&rec.Group, &rec.Store, &st, &rec.Lock, &rec.ArchiveURL)
	if err != nil {
		return rec, err
	}

	if st != "" {
		rec.State, err = recordstore.ParseState(st)
		if err != nil {
			return rec, fmt.Errorf("record %s: %w", rec.ID, err)
		}
	}

	return rec, nil
}

// Select implements recordstore.Store. Matching rows are read completely
// before fn is called, patterns are evaluated on the client side.
func (s *Store) Select(ctx context.Context, f recordstore.Filter, fn func(recordstore.FileRecord) error) error {
	m, err := f.Compile()
	if err != nil {
		return fmt.Errorf("compile filter: %w", err)
	}

	q := `SELECT ` + fileColumns + ` FROM files WHERE state = ?`
	args := []any{recordstore.New().String()}
	if f.CTimeBefore != 0 {
		q += ` AND ctime < ?`
		args = append(args, f.CTimeBefore)
	}
	q += ` ORDER BY ctime`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("select records: %w", err)
	}

	var recs []recordstore.FileRecord
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			s.log.Warn("skip broken file record", zap.Error(err))
			continue
		}
		if m.MatchFile(rec) {
			recs = append(recs, rec)
		}
	}

	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return fmt.Errorf("read records: %w", err)
	}

	for i := range recs {
		if err := fn(recs[i]); err != nil {
			return err
		}
	}

	return nil
}

// SetState implements recordstore.Store.
func (s *Store) SetState(ctx context.Context, id string, st recordstore.State, lock string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE files SET state = ?, lock_id = ? WHERE pnfsid = ?`,
		st.String(), lock, id)
	if err != nil {
		return fmt.Errorf("update record %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update record %s: %w", id, err)
	}
	if n == 0 {
		// MySQL does not count rows updated with the same values
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) updateMany(ctx context.Context, q string, args ...any) (int, error) {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	return int(n), err
}

// Transition implements recordstore.Store.
func (s *Store) Transition(ctx context.Context, from, to recordstore.State) (int, error) {
	n, err := s.updateMany(ctx, `UPDATE files SET state = ?, lock_id = '' WHERE state = ?`,
		to.String(), from.String())
	if err != nil {
		return 0, fmt.Errorf("update records in state %q: %w", from, err)
	}
	return n, nil
}

// ResetLocks implements recordstore.Store.
func (s *Store) ResetLocks(ctx context.Context, lock string) (int, error) {
	if lock == "" {
		return 0, errors.New("empty lock")
	}

	n, err := s.updateMany(ctx, `UPDATE files SET state = ?, lock_id = '' WHERE lock_id = ?`,
		recordstore.New().String(), lock)
	if err != nil {
		return 0, fmt.Errorf("reset records locked by %q: %w", lock, err)
	}
	return n, nil
}

// Delete implements recordstore.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	n, err := s.updateMany(ctx, `DELETE FROM files WHERE pnfsid = ?`, id)
	if err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	if n == 0 {
		return recordstore.ErrNotFound
	}
	return nil
}

// PutArchive implements recordstore.Store.
func (s *Store) PutArchive(ctx context.Context, a recordstore.ArchiveRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO archives (pnfsid, path) VALUES (?, ?)`, a.ID, a.Path)
	if err != nil {
		return fmt.Errorf("insert archive record %s: %w", a.ID, err)
	}
	return nil
}

// Put implements recordstore.Store.
func (s *Store) Put(ctx context.Context, rec recordstore.FileRecord) error {
	var st string
	if rec.State.Phase != recordstore.PhaseUnknown {
		st = rec.State.String()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `DELETE FROM files WHERE pnfsid = ?`, rec.ID)
	if err != nil {
		return fmt.Errorf("save record %s: %w", rec.ID, err)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO files (`+fileColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Path, rec.Parent, rec.Size, rec.CTime, rec.Group, rec.Store, st, rec.Lock, rec.ArchiveURL)
	if err != nil {
		return fmt.Errorf("save record %s: %w", rec.ID, err)
	}

	return tx.Commit()
}

// Get implements recordstore.Store.
func (s *Store) Get(ctx context.Context, id string) (recordstore.FileRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE pnfsid = ?`, id)

	rec, err := scanFile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return recordstore.FileRecord{}, recordstore.ErrNotFound
		}
		return recordstore.FileRecord{}, fmt.Errorf("get record %s: %w", id, err)
	}

	return rec, nil
}

// IterateArchives implements recordstore.Store.
func (s *Store) IterateArchives(ctx context.Context, fn func(recordstore.ArchiveRecord) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT pnfsid, path FROM archives`)
	if err != nil {
		return fmt.Errorf("select archive records: %w", err)
	}

	var res []recordstore.ArchiveRecord
	for rows.Next() {
		var a recordstore.ArchiveRecord
		if err := rows.Scan(&a.ID, &a.Path); err != nil {
			_ = rows.Close()
			return fmt.Errorf("read archive record: %w", err)
		}
		res = append(res, a)
	}

	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return fmt.Errorf("read archive records: %w", err)
	}

	for i := range res {
		if err := fn(res[i]); err != nil {
			return err
		}
	}

	return nil
}

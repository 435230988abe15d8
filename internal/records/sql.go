package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver
)

// Drivers accepted by OpenSQL.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

const schema = `CREATE TABLE IF NOT EXISTS records (
	id TEXT PRIMARY KEY,
	seq BIGINT NOT NULL,
	name TEXT NOT NULL,
	homeworld_id TEXT NOT NULL DEFAULT '',
	homeworld TEXT NOT NULL DEFAULT '',
	master_id TEXT NOT NULL DEFAULT '',
	apprentice_id TEXT NOT NULL DEFAULT ''
)`

// seq keeps the first insertion order; an overwrite leaves it alone.
const upsert = `INSERT INTO records (id, seq, name, homeworld_id, homeworld, master_id, apprentice_id)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	name = excluded.name,
	homeworld_id = excluded.homeworld_id,
	homeworld = excluded.homeworld,
	master_id = excluded.master_id,
	apprentice_id = excluded.apprentice_id`

const selectCols = `SELECT id, name, homeworld_id, homeworld, master_id, apprentice_id FROM records`

// SQLRepository stores records in one table through database/sql.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// OpenDSN picks the driver from dsn: postgres:// and postgresql:// URLs go to
// pgx, anything else (optionally prefixed with sqlite://) is a SQLite path.
func OpenDSN(ctx context.Context, dsn string) (*SQLRepository, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return OpenSQL(ctx, DriverPostgres, dsn)
	default:
		return OpenSQL(ctx, DriverSQLite, strings.TrimPrefix(dsn, "sqlite://"))
	}
}

// OpenSQL opens the database and creates the records table if needed.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLRepository, error) {
	switch driver {
	case DriverSQLite:
		if dsn == "" {
			dsn = "lineage.db"
		}
		if dir := filepath.Dir(dsn); dir != "." && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
				return nil, fmt.Errorf("create dirs: %w", err)
			}
		}
	case DriverPostgres:
		if dsn == "" {
			return nil, fmt.Errorf("open postgres: empty dsn")
		}
	default:
		return nil, fmt.Errorf("unknown sql driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// One writer keeps modernc from reporting SQLITE_BUSY under concurrent Put.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create records table: %w", err)
	}
	return &SQLRepository{db: db, driver: driver}, nil
}

// DB exposes the underlying handle for tests.
func (s *SQLRepository) DB() *sql.DB { return s.db }

func (s *SQLRepository) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(selectCols+` WHERE id = ?`), id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("get %s: %w", id, err)
	}
	return r, nil
}

func (s *SQLRepository) Put(ctx context.Context, recs ...Record) (retErr error) {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	var next int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM records`).Scan(&next); err != nil {
		return fmt.Errorf("next seq: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, s.rebind(upsert))
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range recs {
		next++
		if _, err := stmt.ExecContext(ctx, r.ID, next, r.Name, r.HomeworldID, r.Homeworld, r.MasterID, r.ApprenticeID); err != nil {
			return fmt.Errorf("upsert %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLRepository) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

func (s *SQLRepository) All(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, selectCols+` ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("select records: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLRepository) Close() error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var r Record
	err := sc.Scan(&r.ID, &r.Name, &r.HomeworldID, &r.Homeworld, &r.MasterID, &r.ApprenticeID)
	return r, err
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLRepository) rebind(q string) string {
	if s.driver != DriverPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// Package postgres reads base records from a PostgreSQL table. Tuple ids are
// the physical row locations (ctid), so an updated row gets a new id and its
// old one reads as not found.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hupe1980/vecbuf/basestore"
	"github.com/hupe1980/vecbuf/model"
)

// DB is the subset of *pgxpool.Pool and *pgx.Conn used by Store.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Options names the table and columns. The vector column is real[] and the
// metadata column is jsonb.
type Options struct {
	Table          string
	VectorColumn   string
	MetadataColumn string
}

func (o *Options) defaults() error {
	if o.VectorColumn == "" {
		o.VectorColumn = "embedding"
	}
	if o.MetadataColumn == "" {
		o.MetadataColumn = "metadata"
	}
	for _, ident := range []string{o.Table, o.VectorColumn, o.MetadataColumn} {
		if !identRe.MatchString(ident) {
			return fmt.Errorf("postgres: invalid identifier %q", ident)
		}
	}
	return nil
}

// Store is a basestore.Store over one table.
type Store struct {
	db   DB
	opts Options

	fetchSQL  string
	scanSQL   string
	insertSQL string
}

// New returns a Store reading from db.
func New(db DB, opts Options) (*Store, error) {
	if err := opts.defaults(); err != nil {
		return nil, err
	}
	return &Store{
		db:   db,
		opts: opts,
		fetchSQL: fmt.Sprintf(`SELECT %s, %s FROM %s WHERE ctid = $1::tid`,
			opts.VectorColumn, opts.MetadataColumn, opts.Table),
		scanSQL: fmt.Sprintf(`SELECT ctid::text, %s, %s FROM %s ORDER BY ctid`,
			opts.VectorColumn, opts.MetadataColumn, opts.Table),
		insertSQL: fmt.Sprintf(`INSERT INTO %s (%s, %s) VALUES ($1, $2) RETURNING ctid::text`,
			opts.Table, opts.VectorColumn, opts.MetadataColumn),
	}, nil
}

// Connect opens a pool for dsn and wraps it.
func Connect(ctx context.Context, dsn string, opts Options) (*Store, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres: ping: %w", err)
	}
	s, err := New(pool, opts)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool, nil
}

// EnsureTable creates the table when it does not exist.
func (s *Store) EnsureTable(ctx context.Context) error {
	_, err := s.db.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (%s real[] NOT NULL, %s jsonb)`,
		s.opts.Table, s.opts.VectorColumn, s.opts.MetadataColumn))
	if err != nil {
		return fmt.Errorf("postgres: create table: %w", err)
	}
	return nil
}

// Fetch reads the row at id. Postgres does not expose deleted tuples through
// ctid lookups, so a missing row is reported as not found.
func (s *Store) Fetch(ctx context.Context, id model.TupleID) (model.Record, basestore.Status, error) {
	rec := model.Record{ID: id}
	err := s.db.QueryRow(ctx, s.fetchSQL, formatTID(id)).Scan(&rec.Vector, &rec.Metadata)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Record{}, basestore.StatusNotFound, nil
	}
	if err != nil {
		return model.Record{}, basestore.StatusNotFound, fmt.Errorf("postgres: fetch %s: %w", id, err)
	}
	return rec, basestore.StatusFound, nil
}

func (s *Store) Scan(ctx context.Context, fn basestore.ScanFunc) error {
	rows, err := s.db.Query(ctx, s.scanSQL)
	if err != nil {
		return fmt.Errorf("postgres: scan: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ctid string
			rec  model.Record
		)
		if err := rows.Scan(&ctid, &rec.Vector, &rec.Metadata); err != nil {
			return fmt.Errorf("postgres: scan row: %w", err)
		}
		if rec.ID, err = parseTID(ctid); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			if errors.Is(err, basestore.ErrStopScan) {
				return nil
			}
			return err
		}
	}
	return rows.Err()
}

// Insert adds a row and returns its ctid.
func (s *Store) Insert(ctx context.Context, vector []float32, metadata map[string]any) (model.TupleID, error) {
	var ctid string
	if err := s.db.QueryRow(ctx, s.insertSQL, vector, metadata).Scan(&ctid); err != nil {
		return 0, fmt.Errorf("postgres: insert: %w", err)
	}
	return parseTID(ctid)
}

func formatTID(id model.TupleID) string {
	return fmt.Sprintf("(%d,%d)", id.Block(), id.Offset())
}

func parseTID(s string) (model.TupleID, error) {
	var block uint32
	var offset uint16
	if _, err := fmt.Sscanf(s, "(%d,%d)", &block, &offset); err != nil {
		return 0, fmt.Errorf("postgres: bad ctid %q: %w", s, err)
	}
	return model.NewTupleID(block, offset), nil
}

var (
	_ basestore.Store    = (*Store)(nil)
	_ basestore.Inserter = (*Store)(nil)
)

// Package catalog persists the identity of added books so a moved or renamed
// file is recognised by content, not path.
package catalog

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/spherical/comic-extractor/internal/domain"
	"github.com/spherical/comic-extractor/internal/metrics"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrNotFound is returned when no record matches.
var ErrNotFound = errors.New("catalog record not found")

// Match says how FindByContentOrPath found a record.
type Match string

const (
	MatchNone    Match = ""
	MatchContent Match = "content"
	MatchPath    Match = "path"
)

// Record is the stored identity of one book.
type Record struct {
	ID        uuid.UUID
	Hash      domain.FileHashData
	Path      string
	Name      string
	Format    domain.Format
	Direction domain.Direction
	PageCount int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Config selects and tunes the database.
type Config struct {
	Driver       string
	DSN          string
	MaxOpenConns int
}

// DB represents a database connection interface.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Store is the book catalog.
type Store struct {
	db     DB
	closer func() error
}

// Open connects to the configured database and applies the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	var driver string
	switch cfg.Driver {
	case DriverSQLite, "":
		driver = "sqlite3"
	case DriverPostgres:
		driver = "postgres"
	default:
		return nil, domain.ConfigError(fmt.Sprintf("unsupported catalog driver: %s", cfg.Driver), nil)
	}
	if cfg.DSN == "" {
		return nil, domain.ConfigError("catalog dsn is empty", nil)
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, domain.StorageError("open database", err)
	}
	if driver == "sqlite3" {
		// One writer keeps sqlite from returning SQLITE_BUSY under concurrent adds.
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, domain.StorageError("ping database", err)
	}

	s := &Store{db: db, closer: db.Close}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection. The caller keeps ownership of db.
func New(db DB) *Store {
	return &Store{db: db, closer: func() error { return nil }}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS books (
		id           TEXT PRIMARY KEY,
		content_hash TEXT NOT NULL,
		size         BIGINT NOT NULL,
		path         TEXT NOT NULL,
		name         TEXT NOT NULL,
		format       TEXT NOT NULL,
		direction    TEXT NOT NULL,
		page_count   INTEGER NOT NULL,
		created_at   TIMESTAMP NOT NULL,
		updated_at   TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS books_content_idx ON books (content_hash, size)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS books_path_idx ON books (path)`,
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return domain.StorageError("apply catalog schema", err)
		}
	}
	return nil
}

// Close closes the connection opened by Open.
func (s *Store) Close() error {
	return s.closer()
}

const selectColumns = `SELECT id, content_hash, size, path, name, format, direction, page_count, created_at, updated_at FROM books`

// FindByContentOrPath looks a book up by content identity first and by path
// second. A content match means the same book, possibly moved; a path match
// means the file at that path changed.
func (s *Store) FindByContentOrPath(ctx context.Context, fh domain.FileHashData, path string) (*Record, Match, error) {
	start := time.Now()
	defer func() { metrics.RecordCatalogQuery("find_by_content_or_path", time.Since(start)) }()

	rec, err := s.queryOne(ctx, selectColumns+` WHERE content_hash = $1 AND size = $2 ORDER BY created_at LIMIT 1`, fh.Hex(), fh.Size)
	if err == nil {
		return rec, MatchContent, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, MatchNone, err
	}

	rec, err = s.queryOne(ctx, selectColumns+` WHERE path = $1`, path)
	if err == nil {
		return rec, MatchPath, nil
	}
	return nil, MatchNone, err
}

// Get retrieves a record by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	return s.queryOne(ctx, selectColumns+` WHERE id = $1`, id.String())
}

// List returns every record ordered by name.
func (s *Store) List(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY name, path`)
	if err != nil {
		return nil, domain.StorageError("list books", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("list books", err)
	}
	return out, nil
}

// Save inserts a new record. ID and timestamps are filled in when zero.
func (s *Store) Save(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	query := `
		INSERT INTO books (id, content_hash, size, path, name, format, direction, page_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID.String(), rec.Hash.Hex(), rec.Hash.Size, rec.Path, rec.Name,
		string(rec.Format), string(rec.Direction), rec.PageCount, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return domain.StorageError("insert book", err)
	}
	return nil
}

// UpdatePath records that a book moved.
func (s *Store) UpdatePath(ctx context.Context, id uuid.UUID, path string) error {
	return s.exec(ctx, "update book path",
		`UPDATE books SET path = $1, updated_at = $2 WHERE id = $3`,
		path, time.Now().UTC(), id.String())
}

// Replace overwrites the content identity and summary of an existing record,
// used when the file at a known path changed.
func (s *Store) Replace(ctx context.Context, rec *Record) error {
	rec.UpdatedAt = time.Now().UTC()
	return s.exec(ctx, "replace book",
		`UPDATE books SET content_hash = $1, size = $2, name = $3, format = $4, direction = $5, page_count = $6, updated_at = $7 WHERE id = $8`,
		rec.Hash.Hex(), rec.Hash.Size, rec.Name, string(rec.Format), string(rec.Direction), rec.PageCount, rec.UpdatedAt, rec.ID.String())
}

// Delete removes a record.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	return s.exec(ctx, "delete book", `DELETE FROM books WHERE id = $1`, id.String())
}

func (s *Store) exec(ctx context.Context, what, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.StorageError(what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.StorageError(what, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) queryOne(ctx context.Context, query string, args ...interface{}) (*Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.StorageError("query book", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, domain.StorageError("query book", err)
		}
		return nil, ErrNotFound
	}
	return scan(rows)
}

func scan(rows *sql.Rows) (*Record, error) {
	var (
		rec            Record
		id, hashHex    string
		format, direct string
	)
	err := rows.Scan(&id, &hashHex, &rec.Hash.Size, &rec.Path, &rec.Name,
		&format, &direct, &rec.PageCount, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, domain.StorageError("scan book", err)
	}
	if rec.ID, err = uuid.Parse(id); err != nil {
		return nil, domain.StorageError("scan book id", err)
	}
	if rec.Hash.Hash, err = hex.DecodeString(strings.TrimSpace(hashHex)); err != nil {
		return nil, domain.StorageError("scan book hash", err)
	}
	rec.Format = domain.Format(format)
	rec.Direction = domain.Direction(direct)
	return &rec, nil
}

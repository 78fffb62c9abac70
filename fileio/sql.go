package fileio

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"regexp"

	"github.com/pkg/errors"
)

// Dialect selects the SQL placeholder and blob column syntax.
type Dialect int

const (
	// DialectSQLite uses '?' placeholders.
	DialectSQLite Dialect = iota
	// DialectPostgres uses '$n' placeholders.
	DialectPostgres
)

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLFile stores cassettes as rows of a single table keyed by cassette name.
// The caller supplies the *sql.DB and so chooses the driver.
type SQLFile struct {
	db      *sql.DB
	table   string
	dialect Dialect
}

// NewSQL creates a SQLFile backed by the supplied table.
func NewSQL(db *sql.DB, table string, dialect Dialect) (*SQLFile, error) {
	if !tableNameRe.MatchString(table) {
		return nil, errors.Errorf("invalid table name '%s'", table)
	}

	return &SQLFile{
		db:      db,
		table:   table,
		dialect: dialect,
	}, nil
}

// Migrate creates the cassette table if it does not already exist.
func (f *SQLFile) Migrate(ctx context.Context) error {
	blobType := "BLOB"
	if f.dialect == DialectPostgres {
		blobType = "BYTEA"
	}

	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (name TEXT PRIMARY KEY, data %s NOT NULL)`, f.table, blobType)
	_, err := f.db.ExecContext(ctx, query)

	return errors.Wrap(err, "migrate cassette table")
}

func (f *SQLFile) MkdirAll(_ context.Context, _ string, _ os.FileMode) error {
	return nil
}

func (f *SQLFile) ReadFile(ctx context.Context, name string) ([]byte, error) {
	query := fmt.Sprintf(`SELECT data FROM %s WHERE name = %s`, f.table, f.placeholder(1))

	var data []byte
	err := f.db.QueryRowContext(ctx, query, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(fs.ErrNotExist, "cassette row '%s'", name)
	}

	return data, errors.WithStack(err)
}

func (f *SQLFile) WriteFile(ctx context.Context, name string, data []byte, _ os.FileMode) error {
	query := fmt.Sprintf(
		`INSERT INTO %s (name, data) VALUES (%s, %s) ON CONFLICT (name) DO UPDATE SET data = excluded.data`,
		f.table, f.placeholder(1), f.placeholder(2),
	)

	_, err := f.db.ExecContext(ctx, query, name, data)

	return errors.Wrapf(err, "write cassette row '%s'", name)
}

func (f *SQLFile) NotExist(ctx context.Context, name string) (bool, error) {
	query := fmt.Sprintf(`SELECT 1 FROM %s WHERE name = %s`, f.table, f.placeholder(1))

	var one int
	err := f.db.QueryRowContext(ctx, query, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}

	return false, errors.WithStack(err)
}

func (f *SQLFile) placeholder(n int) string {
	if f.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}

	return "?"
}

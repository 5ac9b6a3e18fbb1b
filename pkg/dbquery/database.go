package dbquery

import (
	"context"

	"github.com/pkg/errors"
	"github.com/replicatedhq/bundlecheck/pkg/bundle"
)

// Database is a read-only view over one database file.
type Database interface {
	// Name is the schema name, e.g. OVN_Northbound, or the file name for SQLite.
	Name() string
	Format() bundle.Magic
	Tables(ctx context.Context) ([]string, error)
	Count(ctx context.Context, table string) (int, error)
	Query(ctx context.Context, q Query) ([]Row, error)
	Close() error
}

// Open reads the file's magic bytes and opens it with the matching backend.
func Open(ctx context.Context, path string) (Database, error) {
	magic, err := bundle.ReadMagic(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read database magic")
	}

	switch magic {
	case bundle.MagicSQLite:
		return openSQLite(ctx, path)
	case bundle.MagicOVSDB, bundle.MagicOVSDBCluster:
		return openOVSDB(ctx, path)
	}
	return nil, errors.Errorf("unsupported database format %q", magic)
}

// QueryFile opens the database at path, runs q and closes it again.
func QueryFile(ctx context.Context, path string, q Query) ([]Row, error) {
	if err := q.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid query")
	}

	db, err := Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	return db.Query(ctx, q)
}

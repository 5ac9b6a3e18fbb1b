package dbquery

import (
	"context"
	"database/sql"
	"net/url"
	"path/filepath"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/replicatedhq/bundlecheck/pkg/bundle"
	"k8s.io/klog/v2"
	_ "modernc.org/sqlite"
)

type sqliteDatabase struct {
	db   *sql.DB
	name string
}

func openSQLite(ctx context.Context, path string) (*sqliteDatabase, error) {
	// Bundles are evidence: open read-only and never let SQLite write a journal.
	dsn := "file:" + (&url.URL{Path: path}).EscapedPath() + "?mode=ro&_pragma=query_only(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open sqlite database")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping sqlite database")
	}
	klog.V(2).Infof("opened sqlite database %s", path)
	return &sqliteDatabase{db: db, name: filepath.Base(path)}, nil
}

func (s *sqliteDatabase) Name() string         { return s.name }
func (s *sqliteDatabase) Format() bundle.Magic { return bundle.MagicSQLite }
func (s *sqliteDatabase) Close() error         { return s.db.Close() }

func (s *sqliteDatabase) Tables(ctx context.Context) ([]string, error) {
	query, args, err := sq.Select("name").
		From("sqlite_master").
		Where(sq.Eq{"type": "table"}).
		Where(sq.NotLike{"name": "sqlite_%"}).
		OrderBy("name").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build table list query")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tables")
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "failed to scan table name")
		}
		tables = append(tables, name)
	}
	return tables, errors.Wrap(rows.Err(), "failed to list tables")
}

func (s *sqliteDatabase) hasTable(ctx context.Context, table string) (bool, error) {
	tables, err := s.Tables(ctx)
	if err != nil {
		return false, err
	}
	i := sort.SearchStrings(tables, table)
	return i < len(tables) && tables[i] == table, nil
}

// columns returns the column names of table from PRAGMA table_info. The table
// name must already be known to exist.
func (s *sqliteDatabase) columns(ctx context.Context, table string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "PRAGMA table_info("+quoteIdent(table)+")")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read columns of %s", table)
	}
	defer rows.Close()

	columns := []string{}
	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dfltValue, &pk); err != nil {
			return nil, errors.Wrap(err, "failed to scan column info")
		}
		columns = append(columns, name)
	}
	return columns, errors.Wrap(rows.Err(), "failed to read column info")
}

func (s *sqliteDatabase) Count(ctx context.Context, table string) (int, error) {
	ok, err := s.hasTable(ctx, table)
	if err != nil || !ok {
		return 0, err
	}

	query, args, err := sq.Select("COUNT(*)").From(quoteIdent(table)).ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "failed to build count query")
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "failed to count rows of %s", table)
	}
	return n, nil
}

func (s *sqliteDatabase) Query(ctx context.Context, q Query) ([]Row, error) {
	ok, err := s.hasTable(ctx, q.Table)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []Row{}, nil
	}

	known, err := s.columns(ctx, q.Table)
	if err != nil {
		return nil, err
	}
	columns, ok := q.projection(known)
	if !ok || len(columns) == 0 {
		return []Row{}, nil
	}

	quoted := make([]string, 0, len(columns))
	for _, c := range columns {
		quoted = append(quoted, quoteIdent(c))
	}
	builder := sq.Select(quoted...).From(quoteIdent(q.Table)).OrderBy(quoted...)
	for _, p := range q.Where {
		builder = builder.Where(predicateSql(p))
	}
	if q.Limit > 0 {
		builder = builder.Limit(uint64(q.Limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build query")
	}
	klog.V(2).Infof("sqlite query: %s %v", query, args)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query %s", q.Table)
	}
	defer rows.Close()

	result := []Row{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		row := Row{}
		for i, c := range columns {
			if b, ok := values[i].([]byte); ok {
				values[i] = string(b)
			}
			row[c] = values[i]
		}
		result = append(result, row)
	}
	return result, errors.Wrapf(rows.Err(), "failed to read rows of %s", q.Table)
}

// predicateSql renders a predicate with the same semantics as matchValue,
// where NULL compares as the empty string.
func predicateSql(p Predicate) sq.Sqlizer {
	column := quoteIdent(p.Column)
	isNull := sq.Eq{column: nil}
	switch p.Op {
	case OpNe:
		if p.Value == "" {
			return sq.And{sq.NotEq{column: nil}, sq.NotEq{column: ""}}
		}
		return sq.Or{isNull, sq.NotEq{column: p.Value}}
	case OpContains:
		return sq.Expr("instr(coalesce("+column+", ''), ?) > 0", p.Value)
	case OpIn:
		for _, v := range p.Values {
			if v == "" {
				return sq.Or{isNull, sq.Eq{column: p.Values}}
			}
		}
		return sq.Eq{column: p.Values}
	}
	if p.Value == "" {
		return sq.Or{isNull, sq.Eq{column: ""}}
	}
	return sq.Eq{column: p.Value}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

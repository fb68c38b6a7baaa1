package adapters

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/canonica-labs/groundsql/internal/errors"
	"github.com/canonica-labs/groundsql/internal/observability"
	"github.com/canonica-labs/groundsql/internal/schema"
	gsql "github.com/canonica-labs/groundsql/internal/sql"
)

// DefaultQueryTimeout bounds Execute and introspection calls when no
// timeout is configured.
const DefaultQueryTimeout = 60 * time.Second

// Introspection holds the INFORMATION_SCHEMA queries of a driver.
type Introspection struct {
	// ListTables selects base table names, one column.
	ListTables     string
	ListTablesArgs []any

	// DescribeTable selects column_name, data_type, is_nullable ordered by
	// position. The table name is bound as the last argument.
	DescribeTable     string
	DescribeTableArgs []any
}

// SQLStoreConfig configures a SQLStore.
type SQLStoreConfig struct {
	Name          string
	Dialect       gsql.Dialect
	QueryTimeout  time.Duration
	Introspection Introspection
}

// SQLStore implements Store over database/sql. Driver packages supply the
// connection, dialect and introspection queries.
type SQLStore struct {
	mu       sync.RWMutex
	db       *sql.DB
	cfg      SQLStoreConfig
	rewriter *gsql.DialectRewriter
	closed   bool
}

// NewSQLStore wraps db.
func NewSQLStore(db *sql.DB, cfg SQLStoreConfig) *SQLStore {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	if cfg.Dialect == "" {
		cfg.Dialect = gsql.DialectTSQL
	}
	return &SQLStore{
		db:       db,
		cfg:      cfg,
		rewriter: gsql.NewDialectRewriter(cfg.Dialect),
	}
}

// Name implements Store.
func (s *SQLStore) Name() string { return s.cfg.Name }

// Dialect implements Store.
func (s *SQLStore) Dialect() gsql.Dialect { return s.cfg.Dialect }

// DB returns the underlying pool.
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) conn() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || s.db == nil {
		return nil, errors.NewExecutionFailure(errors.StoreConnection,
			errors.Wrapf(errors.ErrClosed, "%s adapter: connection is closed", s.cfg.Name))
	}
	return s.db, nil
}

// Execute implements Store. The statement is translated to the store's
// dialect first; every value of the result is normalized for JSON.
func (s *SQLStore) Execute(ctx context.Context, query string) (*QueryResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, s.fail(ctx, errors.Wrapf(err, "%s adapter: context error", s.cfg.Name))
	}
	if strings.TrimSpace(query) == "" {
		return nil, errors.NewExecutionFailure(errors.StoreSyntax,
			errors.Newf("%s adapter: SQL query is empty", s.cfg.Name))
	}
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	stmt, err := s.rewriter.Rewrite(query)
	if err != nil {
		return nil, errors.NewExecutionFailure(errors.StoreSyntax, err)
	}

	qctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	start := time.Now()
	res, err := s.query(qctx, db, stmt)
	if err != nil {
		observability.ObserveStoreQuery("failed", time.Since(start))
		return nil, s.fail(qctx, err)
	}
	observability.ObserveStoreQuery("ok", time.Since(start))
	res.Metadata = map[string]string{
		"engine":    s.cfg.Name,
		"statement": stmt,
	}
	return res, nil
}

func (s *SQLStore) query(ctx context.Context, db *sql.DB, stmt string) (*QueryResult, error) {
	rows, err := db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, errors.Wrapf(err, "%s adapter: query execution failed", s.cfg.Name)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrapf(err, "%s adapter: failed to get columns", s.cfg.Name)
	}

	records := make([]Record, 0)
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(err, "%s adapter: context error during row iteration", s.cfg.Name)
		}
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrapf(err, "%s adapter: failed to scan row", s.cfg.Name)
		}
		rec := make(Record, len(columns))
		for i, col := range columns {
			rec[col] = normalizeValue(values[i])
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "%s adapter: error during row iteration", s.cfg.Name)
	}
	return &QueryResult{Columns: columns, Rows: records, RowCount: len(records)}, nil
}

// fail converts a driver error into an ErrExecutionFailure. A deadline on
// ctx is always a timeout.
func (s *SQLStore) fail(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded) {
		return errors.NewExecutionFailure(errors.StoreTimeout, errors.Mark(err, errors.ErrTimeout))
	}
	return errors.NewExecutionFailure(errors.ClassifyStoreError(err), err)
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}

// ListTables implements Store.
func (s *SQLStore) ListTables(ctx context.Context) ([]string, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	if s.cfg.Introspection.ListTables == "" {
		return nil, errors.Newf("%s adapter: introspection is not supported", s.cfg.Name)
	}
	qctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	rows, err := db.QueryContext(qctx, s.cfg.Introspection.ListTables, s.cfg.Introspection.ListTablesArgs...)
	if err != nil {
		return nil, s.fail(qctx, errors.Wrapf(err, "%s adapter: list tables", s.cfg.Name))
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrapf(err, "%s adapter: scan table name", s.cfg.Name)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DescribeTable implements Store.
func (s *SQLStore) DescribeTable(ctx context.Context, table string) ([]schema.Column, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	if s.cfg.Introspection.DescribeTable == "" {
		return nil, errors.Newf("%s adapter: introspection is not supported", s.cfg.Name)
	}
	qctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	args := append(append([]any(nil), s.cfg.Introspection.DescribeTableArgs...), table)
	rows, err := db.QueryContext(qctx, s.cfg.Introspection.DescribeTable, args...)
	if err != nil {
		return nil, s.fail(qctx, errors.Wrapf(err, "%s adapter: describe table %s", s.cfg.Name, table))
	}
	defer rows.Close()

	var cols []schema.Column
	for rows.Next() {
		var name, dataType string
		var nullable sql.NullString
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			return nil, errors.Wrapf(err, "%s adapter: scan column of %s", s.cfg.Name, table)
		}
		cols = append(cols, schema.Column{Name: name, DataType: dataType, Nullable: schema.ParseNullable(nullable.String)})
	}
	return cols, rows.Err()
}

// Ping implements Store.
func (s *SQLStore) Ping(ctx context.Context) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	pctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		return s.fail(pctx, errors.Wrapf(err, "%s adapter: ping", s.cfg.Name))
	}
	return nil
}

// Close implements Store.
func (s *SQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ Store = (*SQLStore)(nil)

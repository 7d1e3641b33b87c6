package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	migerr "github.com/acme-corp/pg-mongo-migrator/internal/errors"
)

// PostgresOptions configures a PostgresReader.
type PostgresOptions struct {
	DSN string
	// Query is a SELECT whose predicate selects the rows to migrate. It is
	// wrapped as a derived table for both the count and the page queries.
	Query string
	// OrderBy makes LIMIT/OFFSET paging stable across queries. Without it
	// Postgres gives no ordering guarantee between pages.
	OrderBy  string
	MaxConns int32
}

// PostgresReader reads pages of a query through a pgx connection pool.
// It is safe for concurrent use; each Fetch acquires its own connection.
type PostgresReader struct {
	pool     *pgxpool.Pool
	countSQL string
	pageSQL  string
}

// NewPostgresReader opens the pool and verifies connectivity. A failure here
// is fatal for the run.
func NewPostgresReader(ctx context.Context, opts PostgresOptions) (*PostgresReader, error) {
	countSQL, pageSQL, err := BuildQueries(opts.Query, opts.OrderBy)
	if err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, migerr.NewConfiguration("postgres: parse dsn", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, migerr.NewFatal("postgres: open pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, migerr.NewFatal("postgres: ping", err)
	}

	return &PostgresReader{pool: pool, countSQL: countSQL, pageSQL: pageSQL}, nil
}

// BuildQueries derives the count and page statements from one user query so
// both use the same predicate.
func BuildQueries(query, orderBy string) (countSQL, pageSQL string, err error) {
	q := strings.TrimSpace(query)
	q = strings.TrimSpace(strings.TrimRight(q, ";"))
	if q == "" {
		return "", "", migerr.Configurationf("postgres: build queries", "source query is empty")
	}

	countSQL = fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS src", q)

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT * FROM (%s) AS src", q)
	if ob := strings.TrimSpace(orderBy); ob != "" {
		fmt.Fprintf(&b, " ORDER BY %s", ob)
	}
	b.WriteString(" LIMIT $1 OFFSET $2")
	return countSQL, b.String(), nil
}

// Count runs the count query.
func (r *PostgresReader) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, r.countSQL).Scan(&n); err != nil {
		return 0, classifyPgError("postgres: count", err)
	}
	return n, nil
}

// Fetch returns rows [offset, offset+limit) of the query. Date columns come
// back as pgtype.Date so the normalizer can tell them apart from timestamps.
func (r *PostgresReader) Fetch(ctx context.Context, offset, limit int64) (*RowSet, error) {
	rows, err := r.pool.Query(ctx, r.pageSQL, limit, offset)
	if err != nil {
		return nil, classifyPgError("postgres: fetch", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	rs := &RowSet{
		Columns: make([]string, len(fields)),
		Rows:    make([][]any, 0, limit),
	}
	for i, fd := range fields {
		rs.Columns[i] = fd.Name
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, classifyPgError("postgres: decode row", err)
		}
		for i, fd := range fields {
			values[i] = tagDate(fd.DataTypeOID, values[i])
		}
		rs.Rows = append(rs.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPgError("postgres: fetch", err)
	}
	return rs, nil
}

// Close releases the pool.
func (r *PostgresReader) Close() {
	r.pool.Close()
}

func tagDate(oid uint32, v any) any {
	if oid != pgtype.DateOID {
		return v
	}
	if t, ok := v.(time.Time); ok {
		return pgtype.Date{Time: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), Valid: true}
	}
	return v
}

// classifyPgError maps SQLSTATE classes that cannot succeed on retry to
// configuration errors. Class 42 covers syntax errors and undefined objects,
// class 22 covers data exceptions.
func classifyPgError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return migerr.NewTransient(op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "42"), strings.HasPrefix(pgErr.Code, "22"):
			return migerr.NewConfiguration(op, err)
		}
	}
	return migerr.NewTransient(op, err)
}

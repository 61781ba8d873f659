package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/duckdb/duckdb-go/v2"
)

// DuckDB serves connections from an embedded DuckDB database. An empty path
// opens an in-memory database shared by all connections of this instance.
type DuckDB struct {
	log  *slog.Logger
	db   *sql.DB
	path string
}

func NewDuckDB(ctx context.Context, log *slog.Logger, path string) (*DuckDB, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &ConnectError{Driver: DriverDuckDB, Err: err}
	}
	log.Debug("sqldb: duckdb opened", "path", path)
	return &DuckDB{log: log, db: db, path: path}, nil
}

func (d *DuckDB) Driver() string { return DriverDuckDB }

// DB exposes the underlying handle, e.g. for loading fixtures.
func (d *DuckDB) DB() *sql.DB { return d.db }

func (d *DuckDB) Connect(ctx context.Context) (Conn, error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, &ConnectError{Driver: DriverDuckDB, Err: err}
	}
	return &sqlConn{log: d.log, conn: conn}, nil
}

func (d *DuckDB) Close() error {
	return d.db.Close()
}

// sqlConn adapts a database/sql connection. DuckDB runs every statement of a
// multi-statement string and has no read-only transactions, so input is held
// to one statement and always runs in a transaction that is rolled back.
type sqlConn struct {
	log  *slog.Logger
	conn *sql.Conn
}

func (c *sqlConn) begin(ctx context.Context, query string) (*sql.Tx, error) {
	if err := singleStatement(query); err != nil {
		return nil, err
	}
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

func (c *sqlConn) rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		c.log.Warn("sqldb: failed to rollback duckdb transaction", "error", err)
	}
}

func (c *sqlConn) Explain(ctx context.Context, query string) error {
	tx, err := c.begin(ctx, query)
	if err != nil {
		return err
	}
	defer c.rollback(tx)

	rows, err := tx.QueryContext(ctx, "EXPLAIN "+query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
	}
	return rows.Err()
}

func (c *sqlConn) FirstRow(ctx context.Context, query string) ([]any, error) {
	tx, err := c.begin(ctx, query)
	if err != nil {
		return nil, err
	}
	defer c.rollback(tx)

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNoRows
	}

	values := make([]any, len(columns))
	valuePtrs := make([]any, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	if err := rows.Scan(valuePtrs...); err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	for i, v := range values {
		if b, ok := v.([]byte); ok {
			values[i] = string(b)
		}
		if columns[i].DatabaseTypeName() == "DATE" {
			values[i] = asDate(values[i])
		}
	}
	return values, nil
}

func (c *sqlConn) Close() error {
	return c.conn.Close()
}

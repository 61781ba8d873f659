package sqldb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouse connects over the ClickHouse native protocol.
type ClickHouse struct {
	log  *slog.Logger
	opts *clickhouse.Options
}

func NewClickHouse(log *slog.Logger, url string) (*ClickHouse, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	opts, err := clickhouse.ParseDSN(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse clickhouse url: %s", SafeError(err))
	}
	return &ClickHouse{log: log, opts: opts}, nil
}

func (c *ClickHouse) Driver() string { return DriverClickHouse }

func (c *ClickHouse) Connect(ctx context.Context) (Conn, error) {
	// Open fills defaults into the options it is given, so each connection gets its own copy.
	opts := *c.opts
	conn, err := clickhouse.Open(&opts)
	if err != nil {
		return nil, &ConnectError{Driver: DriverClickHouse, Err: err}
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, &ConnectError{Driver: DriverClickHouse, Err: err}
	}
	c.log.Debug("sqldb: clickhouse connection opened", "addr", opts.Addr, "database", opts.Auth.Database)
	return &chConn{conn: conn}, nil
}

func (c *ClickHouse) Close() error { return nil }

type chConn struct {
	conn driver.Conn
}

func (c *chConn) Explain(ctx context.Context, query string) error {
	if err := singleStatement(query); err != nil {
		return err
	}
	rows, err := c.conn.Query(ctx, "EXPLAIN "+query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
	}
	return rows.Err()
}

func (c *chConn) FirstRow(ctx context.Context, query string) ([]any, error) {
	if err := singleStatement(query); err != nil {
		return nil, err
	}
	rows, err := c.conn.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNoRows
	}

	columnTypes := rows.ColumnTypes()
	dest := make([]any, len(columnTypes))
	for i, ct := range columnTypes {
		dest[i] = reflect.New(ct.ScanType()).Interface()
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	values := make([]any, len(dest))
	for i, d := range dest {
		values[i] = deref(reflect.ValueOf(d).Elem())
		if isDateType(columnTypes[i].DatabaseTypeName()) {
			values[i] = asDate(values[i])
		}
	}
	return values, nil
}

func (c *chConn) Close() error {
	return c.conn.Close()
}

func isDateType(name string) bool {
	name = strings.TrimSuffix(strings.TrimPrefix(name, "Nullable("), ")")
	return name == "Date" || name == "Date32"
}

// deref unwraps pointer values produced for Nullable columns.
func deref(v reflect.Value) any {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	return v.Interface()
}

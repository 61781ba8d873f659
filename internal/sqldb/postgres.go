package sqldb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const pgCloseTimeout = 5 * time.Second

// Postgres connects to PostgreSQL with pgx. Sessions are opened read-only.
type Postgres struct {
	log *slog.Logger
	cfg *pgx.ConnConfig
}

func NewPostgres(log *slog.Logger, url string) (*Postgres, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	cfg, err := pgx.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres url: %s", SafeError(err))
	}
	cfg.RuntimeParams["default_transaction_read_only"] = "on"
	cfg.RuntimeParams["application_name"] = "nlsql"
	return &Postgres{log: log, cfg: cfg}, nil
}

func (p *Postgres) Driver() string { return DriverPostgres }

// Connect opens a new connection; ConnectConfig copies cfg so concurrent calls are safe.
func (p *Postgres) Connect(ctx context.Context) (Conn, error) {
	conn, err := pgx.ConnectConfig(ctx, p.cfg)
	if err != nil {
		return nil, &ConnectError{Driver: DriverPostgres, Err: err}
	}
	p.log.Debug("sqldb: postgres connection opened", "host", p.cfg.Host, "database", p.cfg.Database)
	return &pgConn{conn: conn}, nil
}

func (p *Postgres) Close() error { return nil }

type pgConn struct {
	conn *pgx.Conn
}

// begin holds query to one statement and opens a read-only transaction for it.
// The simple protocol would otherwise run a later SET or write as well.
func (c *pgConn) begin(ctx context.Context, query string) (pgx.Tx, error) {
	if err := singleStatement(query); err != nil {
		return nil, err
	}
	tx, err := c.conn.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

func pgRollback(ctx context.Context, tx pgx.Tx) {
	_ = tx.Rollback(context.WithoutCancel(ctx))
}

func (c *pgConn) Explain(ctx context.Context, query string) error {
	tx, err := c.begin(ctx, query)
	if err != nil {
		return err
	}
	defer pgRollback(ctx, tx)

	_, err = tx.Exec(ctx, "EXPLAIN "+query)
	return err
}

func (c *pgConn) FirstRow(ctx context.Context, query string) ([]any, error) {
	tx, err := c.begin(ctx, query)
	if err != nil {
		return nil, err
	}
	defer pgRollback(ctx, tx)

	rows, err := tx.Query(ctx, query)
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

	values, err := rows.Values()
	if err != nil {
		return nil, err
	}
	for i, fd := range rows.FieldDescriptions() {
		if fd.DataTypeOID == pgtype.DateOID {
			values[i] = asDate(values[i])
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func (c *pgConn) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), pgCloseTimeout)
	defer cancel()
	return c.conn.Close(ctx)
}

// Package executor runs validated SQL and renders the first row as text.
package executor

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/malbeclabs/nlsql/internal/metrics"
	"github.com/malbeclabs/nlsql/internal/sqldb"
)

const (
	NoResults = "No results"

	connectionErrorPrefix = "Connection error: "
	executionErrorPrefix  = "Execution error: "

	timestampLayout = "2006-01-02 15:04:05.999999"
)

type Config struct {
	Logger    *slog.Logger
	Connector sqldb.Connector
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Connector == nil {
		return errors.New("connector is required")
	}
	return nil
}

type Executor struct {
	log *slog.Logger
	cfg *Config
}

func New(cfg *Config) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Executor{log: cfg.Logger, cfg: cfg}, nil
}

// Execute runs sql on a fresh connection and returns its first row joined by
// ", ". Failures are reported in the returned text, never as an error.
func (e *Executor) Execute(ctx context.Context, sql string) string {
	conn, err := e.cfg.Connector.Connect(ctx)
	if err != nil {
		return e.failed(err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			e.log.Warn("executor: failed to close connection", "error", sqldb.SafeError(err))
		}
	}()

	row, err := conn.FirstRow(ctx, sql)
	if errors.Is(err, sqldb.ErrNoRows) {
		metrics.ExecutionsTotal.WithLabelValues("no_results").Inc()
		return NoResults
	}
	if err != nil {
		return e.failed(err)
	}

	metrics.ExecutionsTotal.WithLabelValues("ok").Inc()
	return FormatRow(row)
}

func (e *Executor) failed(err error) string {
	msg := sqldb.SafeError(err)
	if sqldb.IsConnectionError(err) {
		e.log.Warn("executor: connection failed", "error", msg)
		metrics.ExecutionsTotal.WithLabelValues("connection_error").Inc()
		return connectionErrorPrefix + msg
	}
	e.log.Debug("executor: execution failed", "error", msg)
	metrics.ExecutionsTotal.WithLabelValues("execution_error").Inc()
	return executionErrorPrefix + msg
}

// FormatRow renders column values joined by ", ".
func FormatRow(row []any) string {
	parts := make([]string, len(row))
	for i, v := range row {
		parts[i] = FormatValue(v)
	}
	return strings.Join(parts, ", ")
}

// FormatValue renders a single column value the way a database shell would.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return formatTime(x)
	case pgtype.Numeric:
		return formatNumeric(x)
	case driver.Valuer:
		val, err := x.Value()
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		if _, again := val.(driver.Valuer); again {
			return fmt.Sprintf("%v", val)
		}
		return FormatValue(val)
	case fmt.Stringer:
		return x.String()
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "NULL"
		}
		return FormatValue(rv.Elem().Interface())
	}
	return fmt.Sprintf("%v", v)
}

func formatTime(t time.Time) string {
	out := t.Format(timestampLayout)
	if _, offset := t.Zone(); offset != 0 {
		out += t.Format("-07:00")
	}
	return out
}

// formatNumeric renders a numeric in plain decimal notation; its driver value
// uses exponent notation.
func formatNumeric(n pgtype.Numeric) string {
	switch {
	case !n.Valid:
		return "NULL"
	case n.NaN:
		return "NaN"
	case n.InfinityModifier == pgtype.Infinity:
		return "Infinity"
	case n.InfinityModifier == pgtype.NegativeInfinity:
		return "-Infinity"
	case n.Int == nil:
		return "0"
	}

	digits := n.Int.String()
	sign := ""
	if strings.HasPrefix(digits, "-") {
		sign, digits = "-", digits[1:]
	}
	if n.Exp >= 0 {
		return sign + digits + strings.Repeat("0", int(n.Exp))
	}
	scale := int(-n.Exp)
	if len(digits) <= scale {
		digits = strings.Repeat("0", scale-len(digits)+1) + digits
	}
	point := len(digits) - scale
	return sign + digits[:point] + "." + digits[point:]
}

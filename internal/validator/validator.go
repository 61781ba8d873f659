// Package validator decides whether generated SQL may be executed.
package validator

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/malbeclabs/nlsql/internal/metrics"
	"github.com/malbeclabs/nlsql/internal/sqldb"
)

const ReasonOnlySelect = "Only SELECT queries are allowed."

// Verdict is the outcome of validation: either Valid or Invalid.
type Verdict interface {
	verdict()
}

// Valid carries the statement that was accepted.
type Valid struct {
	SQL string
}

// Invalid carries the human-readable reason for rejection.
type Invalid struct {
	Reason string
}

func (Valid) verdict()   {}
func (Invalid) verdict() {}

// IsSelect reports whether the statement starts with SELECT, ignoring case and
// surrounding whitespace.
func IsSelect(sql string) bool {
	s := strings.TrimSpace(sql)
	return len(s) >= 6 && strings.EqualFold(s[:6], "select")
}

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

type Validator struct {
	log *slog.Logger
	cfg *Config
}

func New(cfg *Config) (*Validator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Validator{log: cfg.Logger, cfg: cfg}, nil
}

// Validate rejects anything that is not a SELECT and otherwise asks the
// database to plan the statement on a fresh connection.
func (v *Validator) Validate(ctx context.Context, sql string) Verdict {
	if !IsSelect(sql) {
		metrics.ValidationsTotal.WithLabelValues("not_select").Inc()
		return Invalid{Reason: ReasonOnlySelect}
	}

	if err := v.explain(ctx, sql); err != nil {
		reason := sqldb.SafeError(err)
		v.log.Debug("validator: statement rejected", "reason", reason)
		metrics.ValidationsTotal.WithLabelValues("invalid").Inc()
		return Invalid{Reason: reason}
	}

	metrics.ValidationsTotal.WithLabelValues("valid").Inc()
	return Valid{SQL: sql}
}

func (v *Validator) explain(ctx context.Context, sql string) error {
	conn, err := v.cfg.Connector.Connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			v.log.Warn("validator: failed to close connection", "error", sqldb.SafeError(err))
		}
	}()
	return conn.Explain(ctx, sql)
}

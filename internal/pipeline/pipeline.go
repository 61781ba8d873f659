// Package pipeline turns a natural-language question into a SQL result.
//
// A run goes through four stages in a fixed order: extract intent, generate
// SQL, validate, and execute. A rejected statement skips execution. Both
// outcomes are audited exactly once.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/nlsql/internal/metrics"
	"github.com/malbeclabs/nlsql/internal/validator"
)

const (
	stageIntent   = "intent"
	stageSQL      = "sql"
	stageValidate = "validate"
	stageExecute  = "execute"

	statusFault = "fault"
)

// Config holds the configuration for the pipeline.
type Config struct {
	Logger    *slog.Logger
	Clock     clockwork.Clock
	LLM       LLMClient
	Validator Validator
	Executor  Executor
	Sink      Sink
	Prompts   *Prompts
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.LLM == nil {
		return errors.New("llm client is required")
	}
	if c.Validator == nil {
		return errors.New("validator is required")
	}
	if c.Executor == nil {
		return errors.New("executor is required")
	}
	if c.Sink == nil {
		return errors.New("sink is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Prompts == nil {
		prompts, err := LoadPrompts()
		if err != nil {
			return fmt.Errorf("failed to load prompts: %w", err)
		}
		c.Prompts = prompts
	}
	return nil
}

type Pipeline struct {
	log     *slog.Logger
	cfg     *Config
	clock   clockwork.Clock
	prompts *Prompts
}

func New(cfg *Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{
		log:     cfg.Logger,
		cfg:     cfg,
		clock:   cfg.Clock,
		prompts: cfg.Prompts,
	}, nil
}

// Run executes the pipeline for a question. Validation and execution
// failures are reported in the returned state; an error is returned only
// for unexpected faults such as an unreachable model service, in which
// case nothing is audited.
func (p *Pipeline) Run(ctx context.Context, query string) (State, error) {
	s := NewState(query)

	s, err := p.ExtractIntent(ctx, s)
	if err != nil {
		return s, p.fault(s, err)
	}

	s, err = p.GenerateSQL(ctx, s)
	if err != nil {
		return s, p.fault(s, err)
	}

	s, verdict := p.ValidateSQL(ctx, s)
	if valid, ok := verdict.(validator.Valid); ok {
		s = p.ExecuteSQL(ctx, s, valid.SQL)
	}

	status := s.Status()
	p.record(ctx, s, status)
	metrics.PipelineRunsTotal.WithLabelValues(string(status)).Inc()
	return s, nil
}

func (p *Pipeline) record(ctx context.Context, s State, status Status) {
	if err := p.cfg.Sink.Record(ctx, s, status); err != nil {
		p.log.Error("pipeline: failed to record audit", "status", status, "error", err)
	}
}

func (p *Pipeline) fault(s State, err error) error {
	metrics.PipelineRunsTotal.WithLabelValues(statusFault).Inc()
	p.log.Error("pipeline: unexpected fault", "nlq", s.Query, "error", err)
	return err
}

func (p *Pipeline) observeStage(stage string, d time.Duration) {
	metrics.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

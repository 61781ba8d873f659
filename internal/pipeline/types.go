package pipeline

import (
	"context"
	"time"

	"github.com/malbeclabs/nlsql/internal/validator"
)

// Status is the outcome of a completed run.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Timings holds the elapsed milliseconds of each stage. A nil slot means the
// stage did not run.
type Timings struct {
	Intent   *int64
	SQL      *int64
	Validate *int64
	Execute  *int64
}

// Total sums the set slots, or returns nil when no stage ran.
func (t Timings) Total() *int64 {
	var total int64
	set := false
	for _, v := range []*int64{t.Intent, t.SQL, t.Validate, t.Execute} {
		if v != nil {
			total += *v
			set = true
		}
	}
	if !set {
		return nil
	}
	return &total
}

// State is the request-scoped record threaded through the stages. Each stage
// receives a copy and returns the next value.
type State struct {
	Query   string
	Intent  string
	SQL     string
	Error   string
	Result  string
	Timings Timings
}

func NewState(query string) State {
	return State{Query: query}
}

func (s State) Status() Status {
	if s.Error != "" {
		return StatusError
	}
	return StatusOK
}

func millis(d time.Duration) *int64 {
	ms := d.Milliseconds()
	return &ms
}

// LLMClient is the interface for interacting with an LLM.
type LLMClient interface {
	// Complete sends a prompt and returns the response text.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Validator gates generated SQL.
type Validator interface {
	Validate(ctx context.Context, sql string) validator.Verdict
}

// Executor runs validated SQL and renders the result.
type Executor interface {
	Execute(ctx context.Context, sql string) string
}

// Sink persists the audit record of a completed run.
type Sink interface {
	Record(ctx context.Context, s State, status Status) error
}

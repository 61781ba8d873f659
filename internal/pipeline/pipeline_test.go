package pipeline_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/nlsql/internal/executor"
	"github.com/malbeclabs/nlsql/internal/pipeline"
	sqldbtesting "github.com/malbeclabs/nlsql/internal/sqldb/testing"
	"github.com/malbeclabs/nlsql/internal/validator"
)

type mockLLM struct {
	CompleteFunc func(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

func (m *mockLLM) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return m.CompleteFunc(ctx, systemPrompt, userPrompt)
}

type mockValidator struct {
	ValidateFunc func(ctx context.Context, sql string) validator.Verdict
}

func (m *mockValidator) Validate(ctx context.Context, sql string) validator.Verdict {
	return m.ValidateFunc(ctx, sql)
}

type mockExecutor struct {
	ExecuteFunc func(ctx context.Context, sql string) string
}

func (m *mockExecutor) Execute(ctx context.Context, sql string) string {
	return m.ExecuteFunc(ctx, sql)
}

type record struct {
	state  pipeline.State
	status pipeline.Status
}

type mockSink struct {
	mu      sync.Mutex
	records []record
	err     error
}

func (m *mockSink) Record(_ context.Context, s pipeline.State, status pipeline.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record{state: s, status: status})
	return m.err
}

// scriptedLLM answers the intent prompt with intent and every other prompt with sql.
func scriptedLLM(intent, sql string) *mockLLM {
	return &mockLLM{CompleteFunc: func(_ context.Context, _, userPrompt string) (string, error) {
		if strings.Contains(userPrompt, "Describe the intent") {
			return intent, nil
		}
		return sql, nil
	}}
}

func newPipeline(t *testing.T, cfg *pipeline.Config) *pipeline.Pipeline {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = sqldbtesting.NewLogger()
	}
	p, err := pipeline.New(cfg)
	require.NoError(t, err)
	return p
}

func newCowsPipeline(t *testing.T, llm pipeline.LLMClient, sink pipeline.Sink) *pipeline.Pipeline {
	t.Helper()
	log := sqldbtesting.NewLogger()
	db := sqldbtesting.NewDuckDB(t, sqldbtesting.CowsFixture...)

	v, err := validator.New(&validator.Config{Logger: log, Connector: db})
	require.NoError(t, err)
	e, err := executor.New(&executor.Config{Logger: log, Connector: db})
	require.NoError(t, err)

	return newPipeline(t, &pipeline.Config{
		Logger:    log,
		LLM:       llm,
		Validator: v,
		Executor:  e,
		Sink:      sink,
	})
}

func TestNLSQL_Pipeline_Config_Validate(t *testing.T) {
	t.Parallel()

	llm := scriptedLLM("", "")
	v := &mockValidator{}
	e := &mockExecutor{}
	r := &mockSink{}

	tests := []struct {
		name    string
		cfg     pipeline.Config
		wantErr string
	}{
		{"missing logger", pipeline.Config{LLM: llm, Validator: v, Executor: e, Sink: r}, "logger is required"},
		{"missing llm", pipeline.Config{Logger: sqldbtesting.NewLogger(), Validator: v, Executor: e, Sink: r}, "llm client is required"},
		{"missing validator", pipeline.Config{Logger: sqldbtesting.NewLogger(), LLM: llm, Executor: e, Sink: r}, "validator is required"},
		{"missing executor", pipeline.Config{Logger: sqldbtesting.NewLogger(), LLM: llm, Validator: v, Sink: r}, "executor is required"},
		{"missing sink", pipeline.Config{Logger: sqldbtesting.NewLogger(), LLM: llm, Validator: v, Executor: e}, "sink is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := pipeline.New(&tt.cfg)
			require.EqualError(t, err, tt.wantErr)
		})
	}

	cfg := &pipeline.Config{Logger: sqldbtesting.NewLogger(), LLM: llm, Validator: v, Executor: e, Sink: r}
	_, err := pipeline.New(cfg)
	require.NoError(t, err)
	require.NotNil(t, cfg.Clock)
	require.NotNil(t, cfg.Prompts)
}

func TestNLSQL_Pipeline_HowManyCows(t *testing.T) {
	t.Parallel()

	sink := &mockSink{}
	p := newCowsPipeline(t, scriptedLLM("goal: count cows\nentities: cows", "SELECT COUNT(*) FROM cows;"), sink)

	s, err := p.Run(t.Context(), "how many cows are there?")
	require.NoError(t, err)
	require.Equal(t, "how many cows are there?", s.Query)
	require.NotEmpty(t, s.Intent)
	require.Equal(t, "SELECT COUNT(*) FROM cows;", s.SQL)
	require.Empty(t, s.Error)
	require.Equal(t, "94", s.Result)
	require.Equal(t, pipeline.StatusOK, s.Status())
	require.NotNil(t, s.Timings.Execute)

	require.Len(t, sink.records, 1)
	require.Equal(t, pipeline.StatusOK, sink.records[0].status)
	require.Equal(t, s, sink.records[0].state)
}

func TestNLSQL_Pipeline_DropTableRejected(t *testing.T) {
	t.Parallel()

	sink := &mockSink{}
	p := newCowsPipeline(t, scriptedLLM("goal: remove cows", "DROP TABLE cows;"), sink)

	s, err := p.Run(t.Context(), "get rid of the cows")
	require.NoError(t, err)
	require.Equal(t, validator.ReasonOnlySelect, s.Error)
	require.Empty(t, s.Result)
	require.Nil(t, s.Timings.Execute)
	require.NotNil(t, s.Timings.Validate)
	require.Equal(t, pipeline.StatusError, s.Status())

	require.Len(t, sink.records, 1)
	require.Equal(t, pipeline.StatusError, sink.records[0].status)
}

func TestNLSQL_Pipeline_ExecutionErrorIsAResult(t *testing.T) {
	t.Parallel()

	sink := &mockSink{}
	p := newPipeline(t, &pipeline.Config{
		LLM: scriptedLLM("intent", "SELECT 1"),
		Validator: &mockValidator{ValidateFunc: func(_ context.Context, sql string) validator.Verdict {
			return validator.Valid{SQL: sql}
		}},
		Executor: &mockExecutor{ExecuteFunc: func(context.Context, string) string {
			return "Connection error: refused"
		}},
		Sink: sink,
	})

	s, err := p.Run(t.Context(), "q")
	require.NoError(t, err)
	require.Equal(t, "Connection error: refused", s.Result)
	require.Equal(t, pipeline.StatusOK, s.Status())
	require.Len(t, sink.records, 1)
}

func TestNLSQL_Pipeline_LLMFaultIsNotAudited(t *testing.T) {
	t.Parallel()

	unreachable := errors.New("dial tcp: connection refused")

	tests := []struct {
		name      string
		failOn    string
		wantStage string
	}{
		{"intent", "Describe the intent", "failed to extract intent"},
		{"generate", "Write one SQL SELECT", "failed to generate sql"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sink := &mockSink{}
			p := newPipeline(t, &pipeline.Config{
				LLM: &mockLLM{CompleteFunc: func(_ context.Context, _, userPrompt string) (string, error) {
					if strings.Contains(userPrompt, tt.failOn) {
						return "", unreachable
					}
					return "intent", nil
				}},
				Validator: &mockValidator{ValidateFunc: func(context.Context, string) validator.Verdict {
					t.Fatal("unexpected validate")
					return nil
				}},
				Executor: &mockExecutor{},
				Sink: sink,
			})

			_, err := p.Run(t.Context(), "how many cows are there?")
			require.ErrorIs(t, err, unreachable)
			require.ErrorContains(t, err, tt.wantStage)
			require.Empty(t, sink.records)
		})
	}
}

func TestNLSQL_Pipeline_SinkErrorIsNotReturned(t *testing.T) {
	t.Parallel()

	sink := &mockSink{err: errors.New("disk full")}
	p := newCowsPipeline(t, scriptedLLM("intent", "SELECT 3, 'cows'"), sink)

	s, err := p.Run(t.Context(), "how many?")
	require.NoError(t, err)
	require.Equal(t, "3, cows", s.Result)
	require.Len(t, sink.records, 1)
}

func TestNLSQL_Pipeline_EmptyRejectionReason(t *testing.T) {
	t.Parallel()

	executed := false
	p := newPipeline(t, &pipeline.Config{
		LLM: scriptedLLM("intent", "SELECT nope"),
		Validator: &mockValidator{ValidateFunc: func(context.Context, string) validator.Verdict {
			return validator.Invalid{}
		}},
		Executor: &mockExecutor{ExecuteFunc: func(context.Context, string) string {
			executed = true
			return ""
		}},
		Sink: &mockSink{},
	})

	s, err := p.Run(t.Context(), "q")
	require.NoError(t, err)
	require.NotEmpty(t, s.Error)
	require.Equal(t, pipeline.StatusError, s.Status())
	require.False(t, executed)
}

func TestNLSQL_Pipeline_StageTimings(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	llm := &mockLLM{CompleteFunc: func(_ context.Context, _, userPrompt string) (string, error) {
		if strings.Contains(userPrompt, "Describe the intent") {
			clock.Advance(120 * time.Millisecond)
			return "intent", nil
		}
		clock.Advance(340 * time.Millisecond)
		return "```sql\nSELECT 1;\n```", nil
	}}
	p := newPipeline(t, &pipeline.Config{
		Clock: clock,
		LLM:   llm,
		Validator: &mockValidator{ValidateFunc: func(_ context.Context, sql string) validator.Verdict {
			clock.Advance(15 * time.Millisecond)
			return validator.Valid{SQL: sql}
		}},
		Executor: &mockExecutor{ExecuteFunc: func(context.Context, string) string {
			clock.Advance(7 * time.Millisecond)
			return "1"
		}},
		Sink: &mockSink{},
	})

	s, err := p.Run(t.Context(), "one")
	require.NoError(t, err)
	require.Equal(t, "SELECT 1;", s.SQL)
	require.EqualValues(t, 120, *s.Timings.Intent)
	require.EqualValues(t, 340, *s.Timings.SQL)
	require.EqualValues(t, 15, *s.Timings.Validate)
	require.EqualValues(t, 7, *s.Timings.Execute)
	require.EqualValues(t, 482, *s.Timings.Total())
}

func TestNLSQL_Pipeline_StatusMatchesError(t *testing.T) {
	t.Parallel()

	db := sqldbtesting.NewDuckDB(t, sqldbtesting.CowsFixture...)
	log := sqldbtesting.NewLogger()
	v, err := validator.New(&validator.Config{Logger: log, Connector: db})
	require.NoError(t, err)
	e, err := executor.New(&executor.Config{Logger: log, Connector: db})
	require.NoError(t, err)

	for _, sql := range []string{
		"SELECT COUNT(*) FROM cows",
		"select name from cows where id = 7",
		"SELECT * FROM goats",
		"DELETE FROM cows",
		"  SELECT breed, COUNT(*) FROM cows GROUP BY breed ORDER BY breed",
		"SELECT * FROM cows WHERE id < 0",
		"",
	} {
		sink := &mockSink{}
		p := newPipeline(t, &pipeline.Config{
			Logger:    log,
			LLM:       scriptedLLM("intent", sql),
			Validator: v,
			Executor:  e,
			Sink:      sink,
		})

		s, err := p.Run(t.Context(), "question")
		require.NoError(t, err)
		require.Len(t, sink.records, 1, sql)
		rec := sink.records[0]
		require.Equal(t, rec.state.Error != "", rec.status == pipeline.StatusError, sql)
		require.Equal(t, s.Error == "", s.Timings.Execute != nil, sql)
		if s.Error == "" {
			require.NotEmpty(t, s.Result, sql)
		} else {
			require.Empty(t, s.Result, sql)
		}
	}
}

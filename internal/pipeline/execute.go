package pipeline

import (
	"context"
)

// ExecuteSQL runs the accepted statement. Execution problems are reported
// in the result text.
// This is Step 4 of the pipeline.
func (p *Pipeline) ExecuteSQL(ctx context.Context, s State, sql string) State {
	start := p.clock.Now()
	result := p.cfg.Executor.Execute(ctx, sql)
	elapsed := p.clock.Since(start)
	p.observeStage(stageExecute, elapsed)

	s.Result = result
	s.Timings.Execute = millis(elapsed)
	return s
}

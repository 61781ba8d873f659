package pipeline

import (
	"context"
	"fmt"

	"github.com/malbeclabs/nlsql/internal/validator"
)

const reasonUnknown = "validation failed"

// ValidateSQL runs the validator and records a rejection reason.
// This is Step 3 of the pipeline.
func (p *Pipeline) ValidateSQL(ctx context.Context, s State) (State, validator.Verdict) {
	start := p.clock.Now()
	verdict := p.cfg.Validator.Validate(ctx, s.SQL)
	elapsed := p.clock.Since(start)
	p.observeStage(stageValidate, elapsed)

	s.Timings.Validate = millis(elapsed)
	switch v := verdict.(type) {
	case validator.Valid:
	case validator.Invalid:
		s.Error = v.Reason
		if s.Error == "" {
			s.Error = reasonUnknown
		}
	default:
		s.Error = fmt.Sprintf("unexpected verdict %T", verdict)
		verdict = validator.Invalid{Reason: s.Error}
	}
	return s, verdict
}

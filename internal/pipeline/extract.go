package pipeline

import (
	"context"
	"fmt"
)

// ExtractIntent asks the model to describe what the question is after.
// This is Step 1 of the pipeline.
func (p *Pipeline) ExtractIntent(ctx context.Context, s State) (State, error) {
	start := p.clock.Now()
	intent, err := p.cfg.LLM.Complete(ctx, p.prompts.System, p.prompts.IntentPrompt(s.Query))
	elapsed := p.clock.Since(start)
	p.observeStage(stageIntent, elapsed)
	if err != nil {
		return s, fmt.Errorf("failed to extract intent: %w", err)
	}

	s.Intent = intent
	s.Timings.Intent = millis(elapsed)
	return s, nil
}

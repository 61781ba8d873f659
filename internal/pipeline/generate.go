package pipeline

import (
	"context"
	"fmt"
	"strings"
)

// GenerateSQL asks the model for a statement answering the question.
// This is Step 2 of the pipeline.
func (p *Pipeline) GenerateSQL(ctx context.Context, s State) (State, error) {
	start := p.clock.Now()
	response, err := p.cfg.LLM.Complete(ctx, p.prompts.System, p.prompts.GeneratePrompt(s.Intent, s.Query))
	elapsed := p.clock.Since(start)
	p.observeStage(stageSQL, elapsed)
	if err != nil {
		return s, fmt.Errorf("failed to generate sql: %w", err)
	}

	s.SQL = parseGenerateResponse(response)
	s.Timings.SQL = millis(elapsed)
	return s, nil
}

// parseGenerateResponse strips a surrounding markdown code fence and
// whitespace. The statement itself is kept as written, trailing semicolon
// included.
func parseGenerateResponse(response string) string {
	response = strings.TrimSpace(response)
	if !strings.HasPrefix(response, "```") {
		return response
	}

	body := strings.TrimPrefix(response, "```")
	// Drop the info string, e.g. "sql".
	if nl := strings.IndexByte(body, '\n'); nl != -1 {
		body = body[nl+1:]
	} else {
		body = strings.TrimPrefix(body, "sql")
	}
	if end := strings.LastIndex(body, "```"); end != -1 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

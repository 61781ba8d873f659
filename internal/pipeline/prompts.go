package pipeline

import (
	"fmt"
	"strings"

	"github.com/malbeclabs/nlsql/internal/pipeline/prompts"
)

const (
	queryPlaceholder  = "{{QUERY}}"
	intentPlaceholder = "{{INTENT}}"
)

// Prompts contains the pipeline prompts loaded from embedded files.
type Prompts struct {
	System   string // Shared system prompt for both model stages
	Intent   string // Template for intent extraction, filled with {{QUERY}}
	Generate string // Template for SQL generation, filled with {{INTENT}} and {{QUERY}}
}

// LoadPrompts loads all prompts from the embedded filesystem.
func LoadPrompts() (*Prompts, error) {
	p := &Prompts{}

	var err error
	if p.System, err = loadPrompt("SYSTEM.md"); err != nil {
		return nil, fmt.Errorf("failed to load SYSTEM: %w", err)
	}
	if p.Intent, err = loadPrompt("INTENT.md"); err != nil {
		return nil, fmt.Errorf("failed to load INTENT: %w", err)
	}
	if p.Generate, err = loadPrompt("GENERATE.md"); err != nil {
		return nil, fmt.Errorf("failed to load GENERATE: %w", err)
	}

	return p, nil
}

// IntentPrompt fills the intent template.
func (p *Prompts) IntentPrompt(query string) string {
	return strings.NewReplacer(queryPlaceholder, query).Replace(p.Intent)
}

// GeneratePrompt fills the generation template. Both placeholders are
// replaced in a single pass so text in one value is never re-interpreted.
func (p *Prompts) GeneratePrompt(intent, query string) string {
	return strings.NewReplacer(intentPlaceholder, intent, queryPlaceholder, query).Replace(p.Generate)
}

func loadPrompt(path string) (string, error) {
	data, err := prompts.PromptsFS.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Package report renders violation reports and optionally enriches them
// with suggested fixes from an LLM. The annotator runs after validation
// finished; nothing on the core check path performs network I/O.
package report

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"lawgraph/internal/validator"
)

// Annotator fills in SuggestedFix on violations that lack one, using
// Gemini text generation.
type Annotator struct {
	client *genai.Client
	model  string
}

func NewAnnotator(ctx context.Context, apiKey, modelName string) (*Annotator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Annotator{client: client, model: modelName}, nil
}

// Annotate returns a copy of the violations with suggested fixes filled
// in. A generation failure on one violation skips it and moves on; the
// report stays usable.
func (a *Annotator) Annotate(ctx context.Context, violations []validator.Violation) ([]validator.Violation, error) {
	out := make([]validator.Violation, len(violations))
	copy(out, violations)

	for i := range out {
		if out[i].SuggestedFix != "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fix, err := a.suggest(ctx, out[i])
		if err != nil {
			continue
		}
		out[i].SuggestedFix = fix
	}
	return out, nil
}

func (a *Annotator) suggest(ctx context.Context, v validator.Violation) (string, error) {
	prompt := buildFixPrompt(v)
	resp, err := a.client.Models.GenerateContent(ctx, a.model, genai.Text(prompt), nil)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("empty response")
	}
	// One-line fixes only; drop any elaboration the model adds.
	if idx := strings.IndexByte(text, '\n'); idx > 0 {
		text = text[:idx]
	}
	return text, nil
}

func buildFixPrompt(v validator.Violation) string {
	var b strings.Builder
	b.WriteString("A static consistency check of a codebase found this violation:\n\n")
	fmt.Fprintf(&b, "Rule: %s (%s)\n", v.Type, v.Law)
	fmt.Fprintf(&b, "Severity: %s\n", v.Severity)
	fmt.Fprintf(&b, "Finding: %s\n", v.Message)
	if v.Location.File != "" {
		fmt.Fprintf(&b, "Location: %s:%d\n", v.Location.File, v.Location.StartLine)
	}
	b.WriteString("\nSuggest a concrete fix in one short sentence. Reply with the sentence only.")
	return b.String()
}

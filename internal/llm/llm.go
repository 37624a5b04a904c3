// Package llm wraps the text-generation model behind a small interface so the
// service layer can be tested without network calls.
package llm

import "context"

// Generator produces model output for a system prompt and a user prompt.
// GenerateJSON constrains the response to a single JSON document.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

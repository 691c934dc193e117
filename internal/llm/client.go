package llm

import (
	"context"
	"errors"
)

// Generator sends a single prompt to a named model and returns the first
// candidate's text. An empty string means the backend answered with nothing.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// Result is a successful generation.
type Result struct {
	Text  string
	Model string
	// Fallback is set when the primary model failed and the fallback answered.
	Fallback bool
	// Placeholder is set when the backend returned no text.
	Placeholder bool
}

var ErrGenerationFailed = errors.New("generation failed on primary and fallback models")

const ObscuredText = "The ancient knowledge is obscured... Please try your question again."

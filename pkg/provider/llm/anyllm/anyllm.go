// Package anyllm provides an llm.Completer backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Groq, Ollama, Anthropic and more.
//
// Usage:
//
//	c, err := anyllm.New("groq", "llama-3.1-8b-instant", anyllmlib.WithAPIKey("gsk-..."))
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/Sqrilizz/BixlandAI/pkg/provider/llm"
)

// Completer implements llm.Completer by wrapping any-llm-go.
type Completer struct {
	backend anyllmlib.Provider
	model   string
}

var _ llm.Completer = (*Completer)(nil)

// New creates a Completer backed by the given provider name.
//
// providerName is one of: "openai", "groq", "ollama", "anthropic".
// model is the specific model to use (e.g., "llama-3.1-8b-instant").
// opts are any-llm-go configuration options (e.g., anyllmlib.WithAPIKey).
// Without an API key option the provider falls back to its environment
// variable (GROQ_API_KEY, OPENAI_API_KEY, ...).
func New(providerName, model string, opts ...anyllmlib.Option) (*Completer, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}
	return &Completer{backend: backend, model: model}, nil
}

func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, groq, ollama, anthropic", providerName)
	}
}

// Complete implements llm.Completer.
func (c *Completer) Complete(ctx context.Context, system, user string) (string, error) {
	messages := []anyllmlib.Message{
		{Role: anyllmlib.RoleUser, Content: user},
	}
	if system != "" {
		messages = append([]anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: system},
		}, messages...)
	}

	resp, err := c.backend.Completion(ctx, anyllmlib.CompletionParams{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("anyllm: empty choices in response")
	}
	return resp.Choices[0].Message.ContentString(), nil
}

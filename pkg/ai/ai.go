// Package ai provides the LLM completion layer behind agent analysis.
// Agents never talk to a provider directly: they go through a
// Completer, and every call site carries a deterministic fallback used
// when no completer is configured or the call fails.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoCompleter is returned when analysis runs without a configured
// provider. Callers treat it as "use the fallback", not as a failure.
var ErrNoCompleter = errors.New("no completion provider configured")

// Request is one completion call. System sets the role contract,
// Prompt the task. MaxTokens of zero uses the provider default.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int64
	Temperature float64
}

// Completer produces a text completion for a request.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
	Name() string
}

// CompleteJSON runs a completion that must return a single JSON object
// and decodes it into out. Providers habitually wrap JSON in markdown
// fences; those are stripped before decoding.
func CompleteJSON(ctx context.Context, c Completer, req Request, out any) error {
	if c == nil {
		return ErrNoCompleter
	}
	raw, err := c.Complete(ctx, req)
	if err != nil {
		return fmt.Errorf("completion: %w", err)
	}
	cleaned := stripFences(raw)
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return fmt.Errorf("decode completion json: %w", err)
	}
	return nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

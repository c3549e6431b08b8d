// Package textgen defines the Provider interface for text-generation
// backends.
//
// A text-generation provider wraps a chat-completion service (OpenAI,
// Anthropic via any-llm, a local Ollama instance) behind a single
// request/response call. The session applies its own deadline to every call;
// implementations must respect context cancellation and return classified
// faults (see [github.com/MrWong99/voxgate/pkg/provider]) rather than raw
// transport errors.
//
// Implementations must be safe for concurrent use — many sessions share one
// provider.
package textgen

import (
	"context"

	"github.com/MrWong99/voxgate/pkg/types"
)

// Request is one text-generation call: a fixed system prompt, the prior
// conversation turns, and the new user input.
type Request struct {
	// SystemPrompt is prepended as the system message.
	SystemPrompt string

	// History holds prior turns in order, oldest first. Roles are "user" and
	// "assistant". May be empty.
	History []types.Message

	// UserText is the new user input that ends the prompt.
	UserText string

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int

	// Temperature controls sampling. Zero means provider default.
	Temperature float64
}

// Reply is a successful text-generation result.
type Reply struct {
	// Text is the generated assistant message.
	Text string

	// Usage reports token accounting when the backend provides it.
	Usage Usage
}

// Usage holds token counts for a single completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Provider is the abstraction over any text-generation backend.
type Provider interface {
	// Generate produces one assistant reply for the given request. It blocks
	// until the backend answers, ctx is cancelled, or the ctx deadline
	// elapses. Errors are classified provider faults.
	Generate(ctx context.Context, req Request) (*Reply, error)
}

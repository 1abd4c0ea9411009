package harnessports

import (
	"context"
)

// PromptMessage represents a single chat message used to build prompts.
type PromptMessage struct {
	Role       string     // "system", "user", "assistant", "tool"
	Content    string
	ToolCalls  []ToolCall // assistant messages that requested tools
	ToolCallID string     // tool messages: the call being answered
	Name       string     // tool messages: the tool that produced Content
}

// PromptInput aggregates everything the provider needs to produce a completion.
type PromptInput struct {
	System   string            // high-level system/developer instructions
	Messages []PromptMessage   // ordered chat history (already windowed)
	Context  []string          // supporting snippets appended to the system prompt
	Tools    []ToolSpec        // tool declarations available to the model
	Meta     map[string]string // lightweight metadata for tracing/caching keys
}

// Options controls sampling, limits, determinism, tool preferences and
// structured output.
type Options struct {
	MaxNewTokens int
	Temperature  float32
	TopP         float32
	MinP         float32
	Seed         int
	Stop         []string
	// ToolChoice: "auto" | "none" | "required" | specific tool name (if the provider supports it)
	ToolChoice string
	// TimeoutMs applies to the provider call only (not overall harness deadline)
	TimeoutMs int
	// ResponseSchema constrains the completion to JSON matching this schema.
	ResponseSchema     []byte
	ResponseSchemaName string
}

// Usage captures token accounting for cost/telemetry.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Completion is the provider's non-streaming response.
type Completion struct {
	Text      string
	ToolCalls []ToolCall
	Raw       any    // raw provider payload for debugging/telemetry
	Usage     *Usage // optional usage information
}

// CompletionChunk is the provider's streaming delta.
type CompletionChunk struct {
	DeltaText string
	ToolCalls []ToolCall
	Done      bool
	Err       error  // set on the final chunk when the stream broke
	Usage     *Usage // on final chunk when available
}

// Provider is the abstraction for all LLM backends (inference hidden behind this port).
type Provider interface {
	Complete(ctx context.Context, in PromptInput, opts Options) (Completion, error)
	Stream(ctx context.Context, in PromptInput, opts Options) (<-chan CompletionChunk, error)
}

// NamedProvider is implemented by providers that report a stable backend name.
type NamedProvider interface {
	Provider
	Name() string
}

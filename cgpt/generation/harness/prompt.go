package harness

import (
	ports "github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness/ports"
)

// PromptBuilder assembles model-ready inputs from system text, messages, and tools.
type PromptBuilder struct{}

func NewPromptBuilder() *PromptBuilder { return &PromptBuilder{} }

// Build copies and normalizes its inputs into a Provider PromptInput.
// Callers keep ownership of messages; the returned input never aliases them.
func (b *PromptBuilder) Build(system string, messages []ports.PromptMessage, contextSnippets []string, toolSpecs []ports.ToolSpec, meta map[string]string) ports.PromptInput {
	msgs := make([]ports.PromptMessage, len(messages))
	for i, m := range messages {
		m.Content = normalize(m.Content)
		msgs[i] = m
	}

	var snippets []string
	for _, s := range contextSnippets {
		if s = normalize(s); s != "" {
			snippets = append(snippets, s)
		}
	}

	return ports.PromptInput{
		System:   normalize(system),
		Messages: msgs,
		Context:  snippets,
		Tools:    toolSpecs,
		Meta:     meta,
	}
}

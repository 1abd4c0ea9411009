package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	internal "github.com/ZanzyTHEbar/coffee-gpt/cgpt"
	ports "github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness/ports"
)

// systemText folds the context snippets into the system instruction.
func systemText(in ports.PromptInput) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(in.System))
	if len(in.Context) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("Context:\n")
		for _, c := range in.Context {
			b.WriteString("- ")
			b.WriteString(c)
			b.WriteString("\n")
		}
	}
	return strings.TrimSpace(b.String())
}

// schemaInstruction asks backends without native structured output to reply
// with bare JSON.
func schemaInstruction(opts ports.Options) string {
	if len(opts.ResponseSchema) == 0 {
		return ""
	}
	return "Respond only with a JSON object matching this JSON schema, without any surrounding prose:\n" +
		string(opts.ResponseSchema)
}

// toolInstruction describes tools to text-only backends in the
// {"name": ..., "arguments": {...}} shape the harness output parser reads.
func toolInstruction(specs []ports.ToolSpec) string {
	if len(specs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("You can call these tools. To call one, reply with only a JSON object of the form ")
	b.WriteString(`{"name": "<tool>", "arguments": {...}}` + ".\n")
	for _, s := range specs {
		fmt.Fprintf(&b, "- %s: %s\n  arguments schema: %s\n", s.Name, s.Description, compactJSON(s.JSONSchema))
	}
	return strings.TrimSpace(b.String())
}

func joinSections(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}

func compactJSON(raw []byte) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(b)
}

// argsMap decodes tool-call arguments for SDKs that take a map.
func argsMap(raw json.RawMessage) map[string]any {
	args := map[string]any{}
	if len(raw) == 0 {
		return args
	}
	_ = json.Unmarshal(raw, &args)
	return args
}

// toolResultMap wraps tool output for SDKs that require an object payload.
func toolResultMap(content string) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(content), &obj); err == nil && obj != nil {
		return obj
	}
	return map[string]any{"result": content}
}

func usageOf(prompt, completion int) *ports.Usage {
	if prompt == 0 && completion == 0 {
		return nil
	}
	return &ports.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

// singleChunk adapts a blocking completion into the streaming shape.
func singleChunk(c ports.Completion, err error) <-chan ports.CompletionChunk {
	ch := make(chan ports.CompletionChunk, 1)
	if err != nil {
		ch <- ports.CompletionChunk{Done: true, Err: err}
	} else {
		ch <- ports.CompletionChunk{DeltaText: c.Text, ToolCalls: c.ToolCalls, Done: true, Usage: c.Usage}
	}
	close(ch)
	return ch
}

// upstreamErr tags a backend failure as an unavailable upstream. Context
// errors pass through untouched so cancellation stays recognizable.
func upstreamErr(backend string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", backend, internal.ErrUpstreamUnavailable, err)
}

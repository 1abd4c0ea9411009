package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	internal "github.com/ZanzyTHEbar/coffee-gpt/cgpt"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/config"
	ports "github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness/ports"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
)

const anthropicDefaultMaxTokens = 1024

// AnthropicProvider uses the Messages API. Tools are native; response schemas
// are requested through the system prompt.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
	logger zerolog.Logger
}

func NewAnthropicProvider(apiKey, model string, logger zerolog.Logger, opts ...anthropicopt.RequestOption) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, errors.New("missing ANTHROPIC_API_KEY")
	}
	client := anthropic.NewClient(append([]anthropicopt.RequestOption{anthropicopt.WithAPIKey(apiKey)}, opts...)...)
	return &AnthropicProvider{client: client, model: model, logger: logger}, nil
}

func newAnthropicFromConfig(_ context.Context, cfg config.LLMConfig, logger zerolog.Logger) (ports.NamedProvider, error) {
	return NewAnthropicProvider(cfg.AnthropicAPIKey, ModelFor(cfg, BackendAnthropic), logger)
}

func (a *AnthropicProvider) Name() string { return BackendAnthropic + ":" + a.model }

func (a *AnthropicProvider) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	msg, err := a.client.Messages.New(ctx, a.params(in, opts))
	if err != nil {
		return ports.Completion{}, upstreamErr(BackendAnthropic, err)
	}
	return anthropicCompletion(msg)
}

func (a *AnthropicProvider) Stream(ctx context.Context, in ports.PromptInput, opts ports.Options) (<-chan ports.CompletionChunk, error) {
	stream := a.client.Messages.NewStreaming(ctx, a.params(in, opts))

	out := make(chan ports.CompletionChunk, 16)
	go func() {
		defer close(out)
		defer stream.Close()

		message := anthropic.Message{}
		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				out <- ports.CompletionChunk{Done: true, Err: fmt.Errorf("anthropic: %w: %w", internal.ErrMalformedResponse, err)}
				return
			}
			ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			delta, ok := ev.Delta.AsAny().(anthropic.TextDelta)
			if !ok || delta.Text == "" {
				continue
			}
			select {
			case out <- ports.CompletionChunk{DeltaText: delta.Text}:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil {
			out <- ports.CompletionChunk{Done: true, Err: upstreamErr(BackendAnthropic, err)}
			return
		}

		final, err := anthropicCompletion(&message)
		if err != nil {
			out <- ports.CompletionChunk{Done: true, Err: err}
			return
		}
		out <- ports.CompletionChunk{Done: true, ToolCalls: final.ToolCalls, Usage: final.Usage}
	}()
	return out, nil
}

func (a *AnthropicProvider) params(in ports.PromptInput, opts ports.Options) anthropic.MessageNewParams {
	maxTokens := int64(opts.MaxNewTokens)
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	p := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: maxTokens,
		Messages:  anthropicMessages(in.Messages),
	}
	if system := joinSections(systemText(in), schemaInstruction(opts)); system != "" {
		p.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if opts.Temperature > 0 {
		p.Temperature = anthropic.Float(float64(opts.Temperature))
	}
	if opts.TopP > 0 && opts.Temperature <= 0 {
		p.TopP = anthropic.Float(float64(opts.TopP))
	}
	if len(opts.Stop) > 0 {
		p.StopSequences = opts.Stop
	}
	for _, s := range in.Tools {
		p.Tools = append(p.Tools, anthropicTool(s))
	}
	return p
}

func anthropicTool(s ports.ToolSpec) anthropic.ToolUnionParam {
	var schema struct {
		Properties map[string]any `json:"properties"`
		Required   []string       `json:"required"`
	}
	_ = json.Unmarshal(s.JSONSchema, &schema)
	if schema.Properties == nil {
		schema.Properties = map[string]any{}
	}

	tool := anthropic.ToolParam{
		Name: s.Name,
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: schema.Properties,
			Required:   schema.Required,
		},
	}
	if s.Description != "" {
		tool.Description = anthropic.String(s.Description)
	}
	return anthropic.ToolUnionParam{OfTool: &tool}
}

// anthropicMessages maps chat messages onto alternating user/assistant
// turns. Tool results ride on a user turn.
func anthropicMessages(msgs []ports.PromptMessage) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	var pendingResults []anthropic.ContentBlockParamUnion
	flushResults := func() {
		if len(pendingResults) > 0 {
			out = append(out, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, m := range msgs {
		switch m.Role {
		case "system":
			continue
		case "tool":
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
		case "assistant":
			flushResults()
			var blocks []anthropic.ContentBlockParamUnion
			if strings.TrimSpace(m.Content) != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, argsMap(tc.Args), tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		default:
			flushResults()
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	flushResults()
	return out
}

func anthropicCompletion(msg *anthropic.Message) (ports.Completion, error) {
	if msg == nil {
		return ports.Completion{}, fmt.Errorf("anthropic: %w: empty response", internal.ErrMalformedResponse)
	}

	var (
		text  strings.Builder
		calls []ports.ToolCall
	)
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			args := json.RawMessage(b.Input)
			if !json.Valid(args) {
				args = json.RawMessage(`{}`)
			}
			calls = append(calls, ports.ToolCall{ID: b.ID, Name: b.Name, Args: args})
		}
	}

	return ports.Completion{
		Text:      text.String(),
		ToolCalls: calls,
		Raw:       msg,
		Usage:     usageOf(int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens)),
	}, nil
}

var _ ports.NamedProvider = (*AnthropicProvider)(nil)

package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	internal "github.com/ZanzyTHEbar/coffee-gpt/cgpt"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/config"
	ports "github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness/ports"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements the chat completions API, including tool calls
// and json_schema response formats.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	logger zerolog.Logger
}

// OpenAIOption customizes the client configuration.
type OpenAIOption func(*openai.ClientConfig)

// WithOpenAIBaseURL points the client at a compatible server.
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(c *openai.ClientConfig) { c.BaseURL = url }
}

// WithOpenAIHTTPClient replaces the HTTP client.
func WithOpenAIHTTPClient(hc *http.Client) OpenAIOption {
	return func(c *openai.ClientConfig) { c.HTTPClient = hc }
}

func NewOpenAIProvider(apiKey, model string, logger zerolog.Logger, opts ...OpenAIOption) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("missing OPENAI_API_KEY")
	}
	cfg := openai.DefaultConfig(apiKey)
	for _, opt := range opts {
		opt(&cfg)
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg), model: model, logger: logger}, nil
}

func newOpenAIFromConfig(_ context.Context, cfg config.LLMConfig, logger zerolog.Logger) (ports.NamedProvider, error) {
	return NewOpenAIProvider(cfg.OpenAIAPIKey, ModelFor(cfg, BackendOpenAI), logger)
}

func (o *OpenAIProvider) Name() string { return BackendOpenAI + ":" + o.model }

func (o *OpenAIProvider) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	resp, err := o.client.CreateChatCompletion(ctx, o.request(in, opts))
	if err != nil {
		return ports.Completion{}, upstreamErr(BackendOpenAI, err)
	}
	if len(resp.Choices) == 0 {
		return ports.Completion{}, fmt.Errorf("openai: %w: no choices", internal.ErrMalformedResponse)
	}

	msg := resp.Choices[0].Message
	return ports.Completion{
		Text:      msg.Content,
		ToolCalls: openAIToolCalls(msg.ToolCalls),
		Raw:       resp,
		Usage:     usageOf(resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
	}, nil
}

func (o *OpenAIProvider) Stream(ctx context.Context, in ports.PromptInput, opts ports.Options) (<-chan ports.CompletionChunk, error) {
	req := o.request(in, opts)
	req.Stream = true
	req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, upstreamErr(BackendOpenAI, err)
	}

	out := make(chan ports.CompletionChunk, 16)
	go func() {
		defer close(out)
		defer stream.Close()

		// Tool call deltas arrive in fragments keyed by index.
		pending := map[int]*openai.ToolCall{}
		var order []int
		var usage *ports.Usage
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				calls := make([]openai.ToolCall, 0, len(order))
				for _, i := range order {
					calls = append(calls, *pending[i])
				}
				out <- ports.CompletionChunk{Done: true, ToolCalls: openAIToolCalls(calls), Usage: usage}
				return
			}
			if err != nil {
				out <- ports.CompletionChunk{Done: true, Err: upstreamErr(BackendOpenAI, err)}
				return
			}
			if resp.Usage != nil {
				usage = usageOf(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
			}
			if len(resp.Choices) == 0 {
				continue
			}

			delta := resp.Choices[0].Delta
			for _, tc := range delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				acc, ok := pending[idx]
				if !ok {
					acc = &openai.ToolCall{Type: openai.ToolTypeFunction}
					pending[idx] = acc
					order = append(order, idx)
				}
				if tc.ID != "" {
					acc.ID = tc.ID
				}
				acc.Function.Name += tc.Function.Name
				acc.Function.Arguments += tc.Function.Arguments
			}
			if delta.Content == "" {
				continue
			}
			select {
			case out <- ports.CompletionChunk{DeltaText: delta.Content}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (o *OpenAIProvider) request(in ports.PromptInput, opts ports.Options) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    openAIMessages(systemText(in), in.Messages),
		MaxTokens:   opts.MaxNewTokens,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		Stop:        opts.Stop,
	}
	if opts.Seed != 0 {
		seed := opts.Seed
		req.Seed = &seed
	}

	for _, s := range in.Tools {
		def := &openai.FunctionDefinition{Name: s.Name, Description: s.Description}
		if len(s.JSONSchema) > 0 {
			def.Parameters = json.RawMessage(s.JSONSchema)
		}
		req.Tools = append(req.Tools, openai.Tool{Type: openai.ToolTypeFunction, Function: def})
	}
	if len(req.Tools) > 0 {
		switch opts.ToolChoice {
		case "", "auto":
		case "none", "required":
			req.ToolChoice = opts.ToolChoice
		default:
			req.ToolChoice = openai.ToolChoice{Type: openai.ToolTypeFunction, Function: openai.ToolFunction{Name: opts.ToolChoice}}
		}
	}

	if len(opts.ResponseSchema) > 0 {
		name := opts.ResponseSchemaName
		if name == "" {
			name = "response"
		}
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   name,
				Schema: json.RawMessage(opts.ResponseSchema),
			},
		}
	}
	return req
}

func openAIMessages(system string, msgs []ports.PromptMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range msgs {
		switch m.Role {
		case "assistant":
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content}
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Args),
					},
				})
			}
			out = append(out, msg)
		case "tool":
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
				Name:       m.Name,
			})
		case "system":
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: m.Content})
		default:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content})
		}
	}
	return out
}

func openAIToolCalls(calls []openai.ToolCall) []ports.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ports.ToolCall, 0, len(calls))
	for _, c := range calls {
		args := json.RawMessage(c.Function.Arguments)
		if !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		out = append(out, ports.ToolCall{ID: c.ID, Name: c.Function.Name, Args: args})
	}
	return out
}

var _ ports.NamedProvider = (*OpenAIProvider)(nil)

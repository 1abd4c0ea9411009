package models

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/config"
	ports "github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness/ports"

	ollama "github.com/ollama/ollama/api"
	"github.com/rs/zerolog"
)

// OllamaProvider runs chat completions against a local or remote Ollama
// server. Tool calling and JSON-schema formats are native.
type OllamaProvider struct {
	client *ollama.Client
	model  string
	logger zerolog.Logger
}

func NewOllamaProvider(host, model string, timeout time.Duration, logger zerolog.Logger) (*OllamaProvider, error) {
	if host == "" {
		host = "http://localhost:11434"
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid OLLAMA_HOST %q: %w", host, err)
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OllamaProvider{
		client: ollama.NewClient(u, &http.Client{Timeout: timeout}),
		model:  model,
		logger: logger,
	}, nil
}

func newOllamaFromConfig(_ context.Context, cfg config.LLMConfig, logger zerolog.Logger) (ports.NamedProvider, error) {
	return NewOllamaProvider(cfg.OllamaHost, ModelFor(cfg, BackendOllama), time.Duration(cfg.TimeoutMs)*time.Millisecond, logger)
}

func (o *OllamaProvider) Name() string { return BackendOllama + ":" + o.model }

func (o *OllamaProvider) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	req, err := o.request(in, opts, false)
	if err != nil {
		return ports.Completion{}, err
	}

	var final ollama.ChatResponse
	if err := o.client.Chat(ctx, req, func(r ollama.ChatResponse) error {
		final = r
		return nil
	}); err != nil {
		return ports.Completion{}, upstreamErr(BackendOllama, err)
	}

	return ports.Completion{
		Text:      final.Message.Content,
		ToolCalls: ollamaToolCalls(final.Message.ToolCalls),
		Raw:       final,
		Usage:     usageOf(final.PromptEvalCount, final.EvalCount),
	}, nil
}

func (o *OllamaProvider) Stream(ctx context.Context, in ports.PromptInput, opts ports.Options) (<-chan ports.CompletionChunk, error) {
	req, err := o.request(in, opts, true)
	if err != nil {
		return nil, err
	}

	out := make(chan ports.CompletionChunk, 16)
	go func() {
		defer close(out)
		var calls []ports.ToolCall
		var usage *ports.Usage
		err := o.client.Chat(ctx, req, func(r ollama.ChatResponse) error {
			calls = append(calls, ollamaToolCalls(r.Message.ToolCalls)...)
			if r.Done {
				usage = usageOf(r.PromptEvalCount, r.EvalCount)
			}
			if r.Message.Content == "" {
				return nil
			}
			select {
			case out <- ports.CompletionChunk{DeltaText: r.Message.Content}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			out <- ports.CompletionChunk{Done: true, Err: upstreamErr(BackendOllama, err)}
			return
		}
		out <- ports.CompletionChunk{Done: true, ToolCalls: calls, Usage: usage}
	}()
	return out, nil
}

func (o *OllamaProvider) request(in ports.PromptInput, opts ports.Options, stream bool) (*ollama.ChatRequest, error) {
	msgs, err := ollamaMessages(systemText(in), in.Messages)
	if err != nil {
		return nil, err
	}

	req := &ollama.ChatRequest{
		Model:    o.model,
		Messages: msgs,
		Stream:   &stream,
		Options:  map[string]any{},
	}
	if opts.Temperature > 0 {
		req.Options["temperature"] = opts.Temperature
	}
	if opts.TopP > 0 {
		req.Options["top_p"] = opts.TopP
	}
	if opts.MinP > 0 {
		req.Options["min_p"] = opts.MinP
	}
	if opts.MaxNewTokens > 0 {
		req.Options["num_predict"] = opts.MaxNewTokens
	}
	if opts.Seed != 0 {
		req.Options["seed"] = opts.Seed
	}
	if len(opts.Stop) > 0 {
		req.Options["stop"] = opts.Stop
	}
	if len(opts.ResponseSchema) > 0 {
		req.Format = json.RawMessage(opts.ResponseSchema)
	}

	if len(in.Tools) > 0 {
		tools, err := ollamaTools(in.Tools)
		if err != nil {
			return nil, err
		}
		req.Tools = tools
	}
	return req, nil
}

// ollamaTools goes through JSON so the schema is carried over unchanged.
func ollamaTools(specs []ports.ToolSpec) (ollama.Tools, error) {
	type function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
	}
	type tool struct {
		Type     string   `json:"type"`
		Function function `json:"function"`
	}

	wire := make([]tool, 0, len(specs))
	for _, s := range specs {
		params := json.RawMessage(s.JSONSchema)
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		wire = append(wire, tool{Type: "function", Function: function{Name: s.Name, Description: s.Description, Parameters: params}})
	}

	raw, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("encode ollama tools: %w", err)
	}
	var tools ollama.Tools
	if err := json.Unmarshal(raw, &tools); err != nil {
		return nil, fmt.Errorf("decode ollama tools: %w", err)
	}
	return tools, nil
}

func ollamaMessages(system string, msgs []ports.PromptMessage) ([]ollama.Message, error) {
	out := make([]ollama.Message, 0, len(msgs)+1)
	if system != "" {
		out = append(out, ollama.Message{Role: "system", Content: system})
	}
	for _, m := range msgs {
		msg := ollama.Message{Role: m.Role, Content: m.Content}
		switch m.Role {
		case "assistant":
			for _, tc := range m.ToolCalls {
				call, err := ollamaToolCall(tc)
				if err != nil {
					return nil, err
				}
				msg.ToolCalls = append(msg.ToolCalls, call)
			}
		case "tool":
			msg.ToolName = m.Name
		case "system", "user":
		default:
			msg.Role = "user"
		}
		out = append(out, msg)
	}
	return out, nil
}

func ollamaToolCall(tc ports.ToolCall) (ollama.ToolCall, error) {
	args := tc.Args
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	raw, err := json.Marshal(map[string]any{
		"function": map[string]any{"name": tc.Name, "arguments": args},
	})
	if err != nil {
		return ollama.ToolCall{}, err
	}
	var call ollama.ToolCall
	if err := json.Unmarshal(raw, &call); err != nil {
		return ollama.ToolCall{}, fmt.Errorf("decode ollama tool call: %w", err)
	}
	return call, nil
}

func ollamaToolCalls(calls []ollama.ToolCall) []ports.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ports.ToolCall, 0, len(calls))
	for _, c := range calls {
		args, err := json.Marshal(c.Function.Arguments)
		if err != nil || strings.TrimSpace(string(args)) == "null" {
			args = json.RawMessage(`{}`)
		}
		out = append(out, ports.ToolCall{Name: c.Function.Name, Args: args})
	}
	return out
}

var _ ports.NamedProvider = (*OllamaProvider)(nil)

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

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiProvider talks to the Gemini API with native function calling and
// response schemas.
type GeminiProvider struct {
	client *genai.Client
	model  string
	logger zerolog.Logger
}

// NewGeminiProvider opens a Gemini client. Extra client options are appended
// after the API key.
func NewGeminiProvider(ctx context.Context, apiKey, model string, logger zerolog.Logger, opts ...option.ClientOption) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, errors.New("missing GOOGLE_API_KEY or GEMINI_API_KEY")
	}
	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("gemini init: %w", err)
	}
	return &GeminiProvider{client: client, model: model, logger: logger}, nil
}

func newGeminiFromConfig(ctx context.Context, cfg config.LLMConfig, logger zerolog.Logger) (ports.NamedProvider, error) {
	return NewGeminiProvider(ctx, cfg.GoogleAPIKey, ModelFor(cfg, BackendGemini), logger)
}

func (g *GeminiProvider) Name() string { return BackendGemini + ":" + g.model }

// Close releases the underlying client.
func (g *GeminiProvider) Close() error { return g.client.Close() }

func (g *GeminiProvider) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	cs, last, err := g.session(in, opts)
	if err != nil {
		return ports.Completion{}, err
	}

	resp, err := cs.SendMessage(ctx, last...)
	if err != nil {
		return ports.Completion{}, upstreamErr(BackendGemini, err)
	}
	return geminiCompletion(resp)
}

func (g *GeminiProvider) Stream(ctx context.Context, in ports.PromptInput, opts ports.Options) (<-chan ports.CompletionChunk, error) {
	cs, last, err := g.session(in, opts)
	if err != nil {
		return nil, err
	}

	it := cs.SendMessageStream(ctx, last...)
	out := make(chan ports.CompletionChunk, 16)
	go func() {
		defer close(out)
		var usage *ports.Usage
		for {
			resp, err := it.Next()
			if errors.Is(err, iterator.Done) {
				out <- ports.CompletionChunk{Done: true, Usage: usage}
				return
			}
			if err != nil {
				out <- ports.CompletionChunk{Done: true, Err: upstreamErr(BackendGemini, err)}
				return
			}
			c, err := geminiCompletion(resp)
			if err != nil {
				continue
			}
			if c.Usage != nil {
				usage = c.Usage
			}
			select {
			case out <- ports.CompletionChunk{DeltaText: c.Text, ToolCalls: c.ToolCalls}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// session configures a model for one call and splits the conversation into
// chat history plus the parts to send.
func (g *GeminiProvider) session(in ports.PromptInput, opts ports.Options) (*genai.ChatSession, []genai.Part, error) {
	contents := geminiContents(in.Messages)
	if len(contents) == 0 {
		return nil, nil, errors.New("gemini: no messages to send")
	}

	model := g.client.GenerativeModel(g.model)
	if opts.Temperature > 0 {
		model.SetTemperature(opts.Temperature)
	}
	if opts.TopP > 0 {
		model.SetTopP(opts.TopP)
	}
	if opts.MaxNewTokens > 0 {
		model.SetMaxOutputTokens(int32(opts.MaxNewTokens))
	}
	if len(opts.Stop) > 0 {
		model.StopSequences = opts.Stop
	}

	system := systemText(in)
	if len(in.Tools) > 0 {
		model.Tools = []*genai.Tool{{FunctionDeclarations: geminiFunctions(in.Tools)}}
		if mode, ok := geminiToolMode(opts.ToolChoice); ok {
			model.ToolConfig = &genai.ToolConfig{FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: mode}}
		}
		// Gemini rejects JSON mode together with function calling.
		system = joinSections(system, schemaInstruction(opts))
	} else if len(opts.ResponseSchema) > 0 {
		schema, err := GeminiSchema(opts.ResponseSchema)
		if err != nil {
			g.logger.Debug().Err(err).Msg("Response schema not representable, using instruction")
			system = joinSections(system, schemaInstruction(opts))
		} else {
			model.ResponseMIMEType = "application/json"
			model.ResponseSchema = schema
		}
	}
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	cs := model.StartChat()
	cs.History = contents[:len(contents)-1]
	return cs, contents[len(contents)-1].Parts, nil
}

func geminiToolMode(choice string) (genai.FunctionCallingMode, bool) {
	switch choice {
	case "none":
		return genai.FunctionCallingNone, true
	case "required":
		return genai.FunctionCallingAny, true
	case "auto":
		return genai.FunctionCallingAuto, true
	}
	return genai.FunctionCallingUnspecified, false
}

// geminiContents maps chat messages onto Gemini contents, merging
// consecutive messages from the same side. System messages are dropped; the
// system text travels as SystemInstruction.
func geminiContents(msgs []ports.PromptMessage) []*genai.Content {
	var out []*genai.Content
	push := func(role string, parts ...genai.Part) {
		if len(parts) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Parts = append(out[n-1].Parts, parts...)
			return
		}
		out = append(out, &genai.Content{Role: role, Parts: parts})
	}

	for _, m := range msgs {
		switch m.Role {
		case "system":
			continue
		case "assistant":
			var parts []genai.Part
			if m.Content != "" {
				parts = append(parts, genai.Text(m.Content))
			}
			for _, tc := range m.ToolCalls {
				parts = append(parts, genai.FunctionCall{Name: tc.Name, Args: argsMap(tc.Args)})
			}
			push("model", parts...)
		case "tool":
			push("user", genai.FunctionResponse{Name: m.Name, Response: toolResultMap(m.Content)})
		default:
			if m.Content != "" {
				push("user", genai.Text(m.Content))
			}
		}
	}
	return out
}

func geminiFunctions(specs []ports.ToolSpec) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, s := range specs {
		decl := &genai.FunctionDeclaration{Name: s.Name, Description: s.Description}
		if len(s.JSONSchema) > 0 {
			if schema, err := GeminiSchema(s.JSONSchema); err == nil {
				decl.Parameters = schema
			}
		}
		decls = append(decls, decl)
	}
	return decls
}

func geminiCompletion(resp *genai.GenerateContentResponse) (ports.Completion, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ports.Completion{}, fmt.Errorf("gemini: %w: empty response", internal.ErrMalformedResponse)
	}

	var (
		text  strings.Builder
		calls []ports.ToolCall
	)
	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			text.WriteString(string(p))
		case genai.FunctionCall:
			calls = append(calls, geminiToolCall(p))
		case *genai.FunctionCall:
			calls = append(calls, geminiToolCall(*p))
		}
	}

	c := ports.Completion{Text: text.String(), ToolCalls: calls, Raw: resp}
	if u := resp.UsageMetadata; u != nil {
		c.Usage = &ports.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return c, nil
}

func geminiToolCall(fc genai.FunctionCall) ports.ToolCall {
	args, err := json.Marshal(fc.Args)
	if err != nil || fc.Args == nil {
		args = json.RawMessage(`{}`)
	}
	return ports.ToolCall{Name: fc.Name, Args: args}
}

// GeminiSchema converts a JSON schema document into the subset Gemini
// accepts: type, description, enum, items, properties, required, nullable.
func GeminiSchema(raw []byte) (*genai.Schema, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	return geminiSchemaNode(doc)
}

func geminiSchemaNode(node map[string]any) (*genai.Schema, error) {
	s := &genai.Schema{}

	typ := node["type"]
	if types, ok := typ.([]any); ok {
		// ["string", "null"] style unions collapse to a nullable type.
		typ = nil
		for _, t := range types {
			if t == "null" {
				s.Nullable = true
				continue
			}
			typ = t
		}
	}

	switch typ {
	case "object":
		s.Type = genai.TypeObject
	case "array":
		s.Type = genai.TypeArray
	case "string":
		s.Type = genai.TypeString
	case "number":
		s.Type = genai.TypeNumber
	case "integer":
		s.Type = genai.TypeInteger
	case "boolean":
		s.Type = genai.TypeBoolean
	default:
		return nil, fmt.Errorf("unsupported schema type %v", node["type"])
	}

	if d, ok := node["description"].(string); ok {
		s.Description = d
	}
	if f, ok := node["format"].(string); ok && s.Type == genai.TypeString {
		// Gemini only accepts enum and date-time string formats.
		if f == "date-time" {
			s.Format = f
		}
	}
	if enum, ok := node["enum"].([]any); ok {
		for _, e := range enum {
			if v, ok := e.(string); ok {
				s.Enum = append(s.Enum, v)
			}
		}
		if len(s.Enum) > 0 && s.Type == genai.TypeString {
			s.Format = "enum"
		}
	}

	if items, ok := node["items"].(map[string]any); ok {
		child, err := geminiSchemaNode(items)
		if err != nil {
			return nil, fmt.Errorf("items: %w", err)
		}
		s.Items = child
	}

	if props, ok := node["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			pm, ok := p.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("property %s: not an object", name)
			}
			child, err := geminiSchemaNode(pm)
			if err != nil {
				return nil, fmt.Errorf("property %s: %w", name, err)
			}
			s.Properties[name] = child
		}
	}
	if req, ok := node["required"].([]any); ok {
		for _, r := range req {
			if v, ok := r.(string); ok {
				s.Required = append(s.Required, v)
			}
		}
	}
	return s, nil
}

var _ ports.NamedProvider = (*GeminiProvider)(nil)

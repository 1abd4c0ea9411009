package harness

import (
	"encoding/json"
	"errors"
	"regexp"
	"slices"
	"strings"

	ports "github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness/ports"
)

var (
	errNoJSON      = errors.New("no JSON found in response")
	errInvalidJSON = errors.New("invalid JSON in response")

	fencePattern         = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	jsonSpanPattern      = regexp.MustCompile(`(?s)(\{.*\}|\[.*\])`)
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
	unquotedKeyPattern   = regexp.MustCompile(`([{,]\s*)([a-zA-Z_][a-zA-Z0-9_]*)\s*:`)
)

// OutputParser extracts structured data from model text. Backends without
// native function calling announce tool calls in text, in one of the formats
// below.
type OutputParser struct {
	funcCallPattern *regexp.Regexp
}

// textToolCall covers {"name": ..., "arguments": {...}} and the OpenAI-ish
// {"function": {"name": ..., "arguments": "..."}} shapes.
type textToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Function  *struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

// NewOutputParser creates a parser with default patterns for common tool call formats.
func NewOutputParser() *OutputParser {
	return &OutputParser{
		// tool_name({"arg": "value"})
		funcCallPattern: regexp.MustCompile(`(?s)\b([A-Za-z_][A-Za-z0-9_]*)\s*\(\s*(\{.*?\})\s*\)`),
	}
}

// ParseToolCalls extracts tool calls from a model response text. Only names
// listed in known are returned; an empty known list accepts any name.
func (p *OutputParser) ParseToolCalls(text string, known ...string) []ports.ToolCall {
	accept := func(name string) bool {
		return name != "" && (len(known) == 0 || slices.Contains(known, name))
	}

	var calls []ports.ToolCall
	for _, candidate := range p.jsonCandidates(text) {
		for _, tc := range decodeTextToolCalls(candidate) {
			if accept(tc.Name) {
				calls = append(calls, tc)
			}
		}
	}
	if len(calls) > 0 {
		return calls
	}

	for _, match := range p.funcCallPattern.FindAllStringSubmatch(text, -1) {
		name := strings.TrimSpace(match[1])
		if !accept(name) {
			continue
		}
		args := match[2]
		if !json.Valid([]byte(args)) {
			args = fixJSON(args)
			if !json.Valid([]byte(args)) {
				continue
			}
		}
		calls = append(calls, ports.ToolCall{Name: name, Args: json.RawMessage(args)})
	}
	return calls
}

func decodeTextToolCalls(raw string) []ports.ToolCall {
	var list []textToolCall
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		var wrapper struct {
			ToolCalls []textToolCall `json:"tool_calls"`
		}
		if err := json.Unmarshal([]byte(raw), &wrapper); err == nil && len(wrapper.ToolCalls) > 0 {
			list = wrapper.ToolCalls
		} else {
			var single textToolCall
			if err := json.Unmarshal([]byte(raw), &single); err != nil {
				return nil
			}
			list = []textToolCall{single}
		}
	}

	calls := make([]ports.ToolCall, 0, len(list))
	for _, tc := range list {
		name, args := tc.Name, tc.Arguments
		if tc.Function != nil {
			name, args = tc.Function.Name, tc.Function.Arguments
		}
		if name == "" {
			continue
		}
		calls = append(calls, ports.ToolCall{Name: name, Args: normalizeArgs(args)})
	}
	return calls
}

// normalizeArgs unwraps string-encoded argument objects.
func normalizeArgs(args json.RawMessage) json.RawMessage {
	if len(args) == 0 {
		return json.RawMessage(`{}`)
	}
	var encoded string
	if err := json.Unmarshal(args, &encoded); err == nil && json.Valid([]byte(encoded)) {
		return json.RawMessage(encoded)
	}
	return args
}

// ParseJSONOutput extracts a JSON document from text, tolerating code fences
// and surrounding prose.
func (p *OutputParser) ParseJSONOutput(text string) (json.RawMessage, error) {
	candidates := p.jsonCandidates(text)
	if len(candidates) == 0 {
		return nil, errNoJSON
	}
	for _, c := range candidates {
		if json.Valid([]byte(c)) {
			return json.RawMessage(c), nil
		}
		if fixed := fixJSON(c); json.Valid([]byte(fixed)) {
			return json.RawMessage(fixed), nil
		}
	}
	return nil, errInvalidJSON
}

func (p *OutputParser) jsonCandidates(text string) []string {
	text = strings.TrimSpace(text)
	var out []string
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		out = append(out, strings.TrimSpace(m[1]))
	}
	if strings.HasPrefix(text, "{") || strings.HasPrefix(text, "[") {
		out = append(out, text)
	}
	if m := jsonSpanPattern.FindString(text); m != "" && m != text {
		out = append(out, m)
	}
	return out
}

// fixJSON repairs trailing commas, bare keys and single quotes.
func fixJSON(s string) string {
	s = trailingCommaPattern.ReplaceAllString(s, "$1")
	s = unquotedKeyPattern.ReplaceAllString(s, `$1"$2":`)
	return strings.ReplaceAll(s, "'", "\"")
}

func toolNames(tools []ports.Tool) []string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name()
	}
	return names
}

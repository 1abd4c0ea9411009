package harness

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	ports "github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness/ports"

	"github.com/xeipuuv/gojsonschema"
)

// Guardrails validates tool calls before execution and masks secrets in output.
type Guardrails struct {
	allowlist     map[string]bool  // allowed tool names; empty allows all
	outputFilters []*regexp.Regexp // patterns masked in output
	jsonValidator *JSONValidator
}

// NewGuardrails creates guardrails with default safety settings. Each
// blocked word masks "word: value" and "word=value" assignments in output;
// the word on its own (a cafe called "Credential Coffee") passes through.
func NewGuardrails(blockedWords ...string) *Guardrails {
	if len(blockedWords) == 0 {
		blockedWords = []string{"password", "credential"}
	}
	filters := []*regexp.Regexp{
		regexp.MustCompile(`(?i)api[_-]?key[:=]\s*\S+`),
		regexp.MustCompile(`AIza[0-9A-Za-z_\-]{35}`),
		regexp.MustCompile(`tvly-[0-9A-Za-z]{16,}`),
	}
	for _, word := range blockedWords {
		word = strings.TrimSpace(word)
		if word == "" {
			continue
		}
		filters = append(filters, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(word)+`s?\s*[:=]\s*\S+`))
	}
	return &Guardrails{
		allowlist:     make(map[string]bool),
		outputFilters: filters,
		jsonValidator: NewJSONValidator(),
	}
}

// AddAllowedTool adds a tool to the allowlist.
func (g *Guardrails) AddAllowedTool(name string) {
	g.allowlist[name] = true
}

// RemoveAllowedTool removes a tool from the allowlist.
func (g *Guardrails) RemoveAllowedTool(name string) {
	delete(g.allowlist, name)
}

// ValidateToolCall checks if a tool call is allowed and well-formed.
func (g *Guardrails) ValidateToolCall(call ports.ToolCall) error {
	if call.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if len(g.allowlist) > 0 && !g.allowlist[call.Name] {
		return fmt.Errorf("tool %s is not in allowlist", call.Name)
	}
	if !json.Valid(call.Args) {
		return fmt.Errorf("tool arguments are not valid JSON")
	}
	return nil
}

// ValidateJSONOutput validates JSON output against a schema if provided.
func (g *Guardrails) ValidateJSONOutput(data json.RawMessage, schema []byte) error {
	return g.jsonValidator.Validate(data, schema)
}

// SanitizeOutput masks sensitive information in output.
func (g *Guardrails) SanitizeOutput(output string) string {
	sanitized := output
	for _, filter := range g.outputFilters {
		sanitized = filter.ReplaceAllString(sanitized, "[REDACTED]")
	}
	return sanitized
}

// JSONValidator handles JSON schema validation.
type JSONValidator struct{}

// NewJSONValidator creates a new JSON validator.
func NewJSONValidator() *JSONValidator {
	return &JSONValidator{}
}

// Validate checks if JSON data conforms to a schema. An empty schema only
// checks well-formedness.
func (v *JSONValidator) Validate(data json.RawMessage, schema []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("data is not valid JSON")
	}
	if len(schema) == 0 {
		return nil
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		var problems []string
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return fmt.Errorf("schema validation errors: %s", strings.Join(problems, "; "))
	}

	return nil
}

package models

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"

	ports "github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness/ports"
)

const chatMLTemplate = `{{if .System}}<|im_start|>system
{{.System}}<|im_end|>
{{end}}{{range .Messages}}<|im_start|>{{.Role}}
{{.Content}}<|im_end|>
{{end}}<|im_start|>assistant
`

// Gemma has no system role; the system text opens the first user turn.
const gemmaTemplate = `{{range $i, $m := .Messages}}<start_of_turn>{{if eq $m.Role "assistant"}}model{{else}}user{{end}}
{{if and (eq $i 0) $.System}}{{$.System}}

{{end}}{{$m.Content}}<end_of_turn>
{{end}}<start_of_turn>model
`

// ChatTemplate turns a conversation into a single prompt string.
type ChatTemplate struct {
	Name string
	Stop []string
	tmpl *template.Template
}

var chatTemplates = map[string]*ChatTemplate{
	"chatml": {
		Name: "chatml",
		Stop: []string{"<|im_end|>", "<|im_start|>"},
		tmpl: template.Must(template.New("chatml").Parse(chatMLTemplate)),
	},
	"gemma": {
		Name: "gemma",
		Stop: []string{"<end_of_turn>", "<start_of_turn>"},
		tmpl: template.Must(template.New("gemma").Parse(gemmaTemplate)),
	},
}

// templateFor picks a template by name, or by model file name when name is
// empty. ChatML is the default.
func templateFor(name, modelPath string) (*ChatTemplate, error) {
	if name != "" {
		t, ok := chatTemplates[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("unknown chat template %q", name)
		}
		return t, nil
	}
	if strings.Contains(strings.ToLower(filepath.Base(modelPath)), "gemma") {
		return chatTemplates["gemma"], nil
	}
	return chatTemplates["chatml"], nil
}

type templateMessage struct {
	Role    string
	Content string
}

type templateData struct {
	System   string
	Messages []templateMessage
}

// Render flattens tool traffic into plain turns: tool results become user
// turns and assistant tool calls are written back as the JSON the model
// produced.
func (t *ChatTemplate) Render(system string, msgs []ports.PromptMessage) (string, error) {
	data := templateData{System: system}
	for _, m := range msgs {
		switch m.Role {
		case "system":
			data.System = joinSections(data.System, m.Content)
		case "assistant":
			content := m.Content
			for _, tc := range m.ToolCalls {
				call, _ := json.Marshal(map[string]any{"name": tc.Name, "arguments": tc.Args})
				content = joinSections(content, string(call))
			}
			data.Messages = append(data.Messages, templateMessage{Role: "assistant", Content: content})
		case "tool":
			data.Messages = append(data.Messages, templateMessage{
				Role:    "user",
				Content: fmt.Sprintf("Tool result (%s):\n%s", m.Name, m.Content),
			})
		default:
			data.Messages = append(data.Messages, templateMessage{Role: "user", Content: m.Content})
		}
	}

	var b strings.Builder
	if err := t.tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s template: %w", t.Name, err)
	}
	return b.String(), nil
}

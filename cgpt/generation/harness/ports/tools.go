package harnessports

import (
	"context"
	"encoding/json"
)

// ToolSpec describes a callable tool exposed to the model.
type ToolSpec struct {
	Name        string // unique logical name
	Description string // concise doc for model selection
	JSONSchema  []byte // JSON schema for args
}

// ToolCall represents a model-invoked function with JSON arguments.
type ToolCall struct {
	ID   string // provider call id; synthesized when the provider has none
	Name string
	Args json.RawMessage
}

// Tool defines the runtime that executes a tool call.
type Tool interface {
	Name() string
	Schema() []byte
	Invoke(ctx context.Context, args json.RawMessage) (any, error)
}

// DescribedTool is a Tool that also documents itself for the model.
type DescribedTool interface {
	Tool
	Description() string
}

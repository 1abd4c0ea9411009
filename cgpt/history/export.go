// Package history renders stored conversation transcripts for export.
package history

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	ports "github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness/ports"
)

// Transcript is one stored conversation.
type Transcript struct {
	ConversationID string       `json:"conversation_id" yaml:"conversation_id"`
	Turns          []ports.Turn `json:"turns" yaml:"turns"`
}

// Exporter writes a transcript in one format.
type Exporter interface {
	Export(t Transcript, w io.Writer) error
	Extension() string
}

// Formats lists the accepted --format values.
var Formats = []string{"json", "yaml", "markdown"}

// ExporterFor returns the exporter for a format name.
func ExporterFor(format string) (Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return JSONExporter{}, nil
	case "yaml", "yml":
		return YAMLExporter{}, nil
	case "markdown", "md":
		return MarkdownExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format %q (want one of %s)", format, strings.Join(Formats, ", "))
	}
}

type JSONExporter struct{}

func (JSONExporter) Export(t Transcript, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(t)
}

func (JSONExporter) Extension() string { return "json" }

type YAMLExporter struct{}

func (YAMLExporter) Export(t Transcript, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(t); err != nil {
		return err
	}
	return enc.Close()
}

func (YAMLExporter) Extension() string { return "yaml" }

// MarkdownExporter renders one section per turn. Turn content is already
// markdown (place lists, citations) and is written as is.
type MarkdownExporter struct{}

func (MarkdownExporter) Export(t Transcript, w io.Writer) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Conversation %s\n\n", t.ConversationID)
	fmt.Fprintf(&sb, "**Turns:** %d\n\n", len(t.Turns))

	for i, turn := range t.Turns {
		sb.WriteString("---\n\n")
		fmt.Fprintf(&sb, "**%s**", roleLabel(turn.Role))
		if !turn.CreatedAt.IsZero() {
			fmt.Fprintf(&sb, " (%s)", turn.CreatedAt.UTC().Format(time.RFC3339))
		}
		if turn.Decision != "" {
			fmt.Fprintf(&sb, " `%s`", turn.Decision)
		}
		sb.WriteString("\n\n")
		sb.WriteString(strings.TrimSpace(turn.Content))
		sb.WriteString("\n")
		if i < len(t.Turns)-1 {
			sb.WriteString("\n")
		}
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

func (MarkdownExporter) Extension() string { return "md" }

func roleLabel(role string) string {
	switch role {
	case "user":
		return "User"
	case "assistant":
		return "CoffeeGPT"
	case "tool":
		return "Tool"
	default:
		return role
	}
}

package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	internal "github.com/ZanzyTHEbar/coffee-gpt/cgpt"

	"github.com/xeipuuv/gojsonschema"
)

// JSON schemas handed to providers as structured-output constraints.
var (
	RoutingSchema = []byte(`{
  "type": "object",
  "properties": {
    "decision": {
      "type": "string",
      "enum": ["search-by-text", "geocode", "place-detail", "web-search", "no-tool", "not-related"],
      "description": "The single capability that should answer the question."
    }
  },
  "required": ["decision"]
}`)

	PlaceListSchema = []byte(`{
  "type": "object",
  "properties": {
    "places": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string"},
          "address": {"type": "string"},
          "rating": {"type": "number"},
          "map_link": {"type": "string"},
          "photo_ref": {"type": "string"}
        },
        "required": ["name"]
      }
    }
  },
  "required": ["places"]
}`)

	SearchResultListSchema = []byte(`{
  "type": "object",
  "properties": {
    "results": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "text": {"type": "string", "description": "One or two sentence summary of the source."},
          "source": {"type": "string", "description": "Markdown citation of the source."}
        },
        "required": ["text", "source"]
      }
    }
  },
  "required": ["results"]
}`)

	StarterQuestionsSchema = []byte(`{
  "type": "object",
  "properties": {
    "questions": {
      "type": "array",
      "description": "A list of 3 questions about coffee that a user might ask.",
      "items": {"type": "string"},
      "minItems": 3,
      "maxItems": 3
    }
  },
  "required": ["questions"]
}`)
)

// Validate checks raw against a JSON schema. Failures wrap ErrMalformedResponse.
func Validate(schema []byte, raw json.RawMessage) error {
	if !json.Valid(raw) {
		return fmt.Errorf("%w: response is not valid JSON", internal.ErrMalformedResponse)
	}
	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", internal.ErrMalformedResponse, err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return fmt.Errorf("%w: %s", internal.ErrMalformedResponse, strings.Join(problems, "; "))
	}
	return nil
}

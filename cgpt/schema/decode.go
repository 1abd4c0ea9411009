package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	internal "github.com/ZanzyTHEbar/coffee-gpt/cgpt"
)

// DecodeDecision reads a routing decision from {"decision": "..."}. A bare
// string or a bare enum word is also accepted for text-only backends.
func DecodeDecision(raw json.RawMessage) (Decision, error) {
	var doc struct {
		Decision string `json:"decision"`
	}
	if err := json.Unmarshal(raw, &doc); err == nil && doc.Decision != "" {
		return ParseDecision(doc.Decision)
	}

	var bare string
	if err := json.Unmarshal(raw, &bare); err == nil {
		return ParseDecision(bare)
	}

	return ParseDecision(strings.Trim(strings.TrimSpace(string(raw)), `"`))
}

// DecodeStarterQuestions reads exactly three non-empty questions.
func DecodeStarterQuestions(raw json.RawMessage) ([]string, error) {
	if err := Validate(StarterQuestionsSchema, raw); err != nil {
		return nil, err
	}
	var doc struct {
		Questions []string `json:"questions"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", internal.ErrMalformedResponse, err)
	}
	for i, q := range doc.Questions {
		doc.Questions[i] = strings.TrimSpace(q)
		if doc.Questions[i] == "" {
			return nil, fmt.Errorf("%w: empty starter question", internal.ErrMalformedResponse)
		}
	}
	return doc.Questions, nil
}

// DecodePlaceList reads a {"places": [...]} document.
func DecodePlaceList(raw json.RawMessage) ([]PlaceRecord, error) {
	if err := Validate(PlaceListSchema, raw); err != nil {
		return nil, err
	}
	var doc struct {
		Places []PlaceRecord `json:"places"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", internal.ErrMalformedResponse, err)
	}
	return doc.Places, nil
}

// DecodeSearchResults reads a {"results": [...]} document.
func DecodeSearchResults(raw json.RawMessage) ([]SearchResultRecord, error) {
	if err := Validate(SearchResultListSchema, raw); err != nil {
		return nil, err
	}
	var doc struct {
		Results []SearchResultRecord `json:"results"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", internal.ErrMalformedResponse, err)
	}
	return doc.Results, nil
}

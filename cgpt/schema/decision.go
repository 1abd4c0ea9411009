package schema

import (
	"fmt"
	"strings"

	internal "github.com/ZanzyTHEbar/coffee-gpt/cgpt"
)

// Decision is the routing outcome for one user turn.
type Decision string

const (
	DecisionSearchByText Decision = "search-by-text"
	DecisionGeocode      Decision = "geocode"
	DecisionPlaceDetail  Decision = "place-detail"
	DecisionWebSearch    Decision = "web-search"
	DecisionNoTool       Decision = "no-tool"
	DecisionNotRelated   Decision = "not-related"
)

// Decisions lists the closed set in routing-prompt order.
var Decisions = []Decision{
	DecisionSearchByText,
	DecisionGeocode,
	DecisionPlaceDetail,
	DecisionWebSearch,
	DecisionNoTool,
	DecisionNotRelated,
}

// ParseDecision maps a raw value onto the closed set. Surrounding whitespace
// and case are ignored; anything else is a malformed response.
func ParseDecision(raw string) (Decision, error) {
	d := Decision(strings.ToLower(strings.TrimSpace(raw)))
	if d.Valid() {
		return d, nil
	}
	return "", fmt.Errorf("%w: unknown routing decision %q", internal.ErrMalformedResponse, raw)
}

func (d Decision) Valid() bool {
	for _, known := range Decisions {
		if d == known {
			return true
		}
	}
	return false
}

func (d Decision) String() string { return string(d) }

// NeedsLocation reports whether the adapter for d is biased by the session location.
func (d Decision) NeedsLocation() bool {
	return d == DecisionSearchByText || d == DecisionPlaceDetail
}

package chat

import (
	"fmt"
	"strings"

	internal "github.com/ZanzyTHEbar/coffee-gpt/cgpt"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/schema"
)

// SystemPrompt is the CoffeeGPT persona used for answers and tool runs.
var SystemPrompt = `You are CoffeeGPT, an assistant that only answers questions about coffee.
Coffee topics include beans, origins, roasting, brewing methods, espresso, flavour, caffeine, coffee machines, and coffee shops or cafes.

You can call tools that look up real places and current information.
- When the user asks about places, locations, opening hours or nearby coffee shops, call a tool instead of guessing.
- Never invent place names, addresses or ratings; rely on tool results.
- If the question is not related to coffee in any way, reply exactly: "` + internal.RefusalText + `"

Keep answers concise and practical.`

const rephrasePrompt = `Given the conversation so far and a follow-up input, rewrite the follow-up as a standalone question that can be understood without the conversation.
Keep the user's language and intent. If the input is already standalone, return it unchanged.
Reply with the standalone question only.`

const starterPrompt = `Generate 3 short, varied questions about coffee that a new user might ask CoffeeGPT.
Reply as JSON: {"questions": ["...", "...", "..."]}.`

// FallbackStarters are shown when starter generation fails.
var FallbackStarters = []string{
	"What's the difference between a latte and a flat white?",
	"How do I brew great pour-over coffee at home?",
	"Where can I find a good cafe near me?",
}

var routingDescriptions = map[schema.Decision]string{
	schema.DecisionSearchByText: "the user wants coffee shops, cafes or bakeries matching a description or near them",
	schema.DecisionGeocode:      "the user wants to know where a specific named place is located",
	schema.DecisionPlaceDetail:  "the user asks about a specific named place: opening hours, phone, price, rating or services",
	schema.DecisionWebSearch:    "the question needs recent or factual information from the web: news, trends, prices, events",
	schema.DecisionNoTool:       "a general coffee question that can be answered from knowledge",
	schema.DecisionNotRelated:   "the question is not about coffee at all",
}

// routingPrompt lists every decision with its meaning.
func routingPrompt() string {
	var sb strings.Builder
	sb.WriteString("Classify the user's question for CoffeeGPT. Pick exactly one decision:\n")
	for _, d := range schema.Decisions {
		fmt.Fprintf(&sb, "- %s: %s\n", d, routingDescriptions[d])
	}
	sb.WriteString(`Reply as JSON: {"decision": "<one of the values above>"}.`)
	return sb.String()
}

func rephraseInput(transcript, latest string) string {
	return fmt.Sprintf("Conversation:\n%s\n\nFollow-up input: %s\n\nStandalone question:", transcript, latest)
}

func locationHint(loc schema.LatLng) string {
	if loc.IsZero() {
		return "The user's location is unknown."
	}
	return fmt.Sprintf("The user's current location is latitude %v, longitude %v.", loc.Lat, loc.Lng)
}

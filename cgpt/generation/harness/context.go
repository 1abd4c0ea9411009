package harness

import (
	"fmt"
	"sort"
	"strings"

	ports "github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness/ports"
)

// Snippet is a packable chunk with a score and token estimate.
type Snippet struct {
	Text       string
	Score      float32 // higher is better
	TokenCount int
	Source     string // optional provenance
}

// Budget specifies maximum tokens allocated to context packing.
type Budget struct {
	MaxContextTokens int // hard cap for context snippets
	MaxSnippets      int // safety bound on number of chunks
}

// ContextAssembler selects and packs context snippets within a token budget.
type ContextAssembler struct {
	defaultBudget Budget
	// TokenEstimator should be a fast heuristic; no tokenizer is bound here.
	TokenEstimator func(s string) int
}

func NewContextAssembler(b Budget, est func(s string) int) *ContextAssembler {
	if est == nil {
		est = EstimateTokens
	}
	return &ContextAssembler{defaultBudget: b, TokenEstimator: est}
}

// EstimateTokens is a rough heuristic of ~4 characters per token.
func EstimateTokens(s string) int {
	if len(s) == 0 {
		return 0
	}
	return (len(s) + 3) / 4
}

// Pack sorts snippets by score desc and packs up to budget, normalizing text.
// The input slice is not reordered.
func (a *ContextAssembler) Pack(snippets []Snippet, b *Budget) []string {
	if b == nil {
		b = &a.defaultBudget
	}
	if len(snippets) == 0 || b.MaxContextTokens <= 0 || b.MaxSnippets <= 0 {
		return nil
	}

	ranked := append([]Snippet(nil), snippets...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	remaining := b.MaxContextTokens
	packed := make([]string, 0, min(len(ranked), b.MaxSnippets))

	for _, sn := range ranked {
		if len(packed) >= b.MaxSnippets {
			break
		}
		if sn.TokenCount <= 0 {
			sn.TokenCount = a.TokenEstimator(sn.Text)
		}
		if sn.TokenCount > remaining {
			continue
		}
		packed = append(packed, normalize(sn.Text))
		remaining -= sn.TokenCount
		if remaining <= 0 {
			break
		}
	}

	return packed
}

// SnippetsFromTurns scores stored turns by recency so the newest exchanges
// survive packing first.
func SnippetsFromTurns(turns []ports.Turn) []Snippet {
	snippets := make([]Snippet, 0, len(turns))
	for i, t := range turns {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		snippets = append(snippets, Snippet{
			Text:   fmt.Sprintf("%s: %s", t.Role, t.Content),
			Score:  float32(i + 1),
			Source: "history",
		})
	}
	return snippets
}

func normalize(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
}

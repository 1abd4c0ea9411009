// Package models adapts the supported LLM backends to the harness Provider
// port and composes them into a health-ranked fallback cascade.
package models

import (
	"strings"

	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/config"
)

// Backend names accepted by llm.provider and llm.fallbacks.
const (
	BackendGemini    = "gemini"
	BackendOpenAI    = "openai"
	BackendAnthropic = "anthropic"
	BackendOllama    = "ollama"
	BackendGGUF      = "gguf"
)

// defaultModels is used when neither llm.models nor llm.model names a model
// for a backend.
var defaultModels = map[string]string{
	BackendGemini:    "gemini-2.5-flash",
	BackendOpenAI:    "gpt-4o-mini",
	BackendAnthropic: "claude-3-5-haiku-latest",
	BackendOllama:    "llama3.1",
	BackendGGUF:      "local",
}

// ModelFor resolves the model name for backend. The per-backend override in
// llm.models wins; llm.model only applies to the primary backend.
func ModelFor(cfg config.LLMConfig, backend string) string {
	backend = normalizeName(backend)
	if m := strings.TrimSpace(cfg.Models[backend]); m != "" {
		return m
	}
	if normalizeName(cfg.Provider) == backend && strings.TrimSpace(cfg.Model) != "" {
		return cfg.Model
	}
	return defaultModels[backend]
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

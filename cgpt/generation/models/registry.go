package models

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/config"
	ports "github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness/ports"

	"github.com/rs/zerolog"
)

// Constructor builds a provider for one backend from the shared LLM config.
type Constructor func(ctx context.Context, cfg config.LLMConfig, logger zerolog.Logger) (ports.NamedProvider, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{}
)

// Register makes a backend constructor available under name. Registering the
// same name twice replaces the earlier constructor.
func Register(name string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[normalizeName(name)] = ctor
}

// Backends lists the registered backend names in sorted order.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the provider registered under name.
func New(ctx context.Context, name string, cfg config.LLMConfig, logger zerolog.Logger) (ports.NamedProvider, error) {
	registryMu.RLock()
	ctor, ok := registry[normalizeName(name)]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown llm provider %q (available: %v)", name, Backends())
	}

	p, err := ctor(ctx, cfg, logger.With().Str("provider", normalizeName(name)).Logger())
	if err != nil {
		return nil, fmt.Errorf("init %s provider: %w", name, err)
	}
	return p, nil
}

// NewFromConfig builds the primary provider and wraps it in a Cascade when
// fallbacks are configured. A fallback that cannot be built is logged and
// skipped; a primary that cannot be built is fatal.
func NewFromConfig(ctx context.Context, cfg config.LLMConfig, logger zerolog.Logger) (ports.NamedProvider, error) {
	primary, err := New(ctx, cfg.Provider, cfg, logger)
	if err != nil {
		return nil, err
	}
	if len(cfg.Fallbacks) == 0 {
		return primary, nil
	}

	members := []ports.NamedProvider{primary}
	seen := map[string]bool{normalizeName(cfg.Provider): true}
	for _, name := range cfg.Fallbacks {
		if seen[normalizeName(name)] {
			continue
		}
		seen[normalizeName(name)] = true

		p, err := New(ctx, name, cfg, logger)
		if err != nil {
			logger.Warn().Err(err).Str("fallback", name).Msg("Skipping LLM fallback")
			continue
		}
		members = append(members, p)
	}
	if len(members) == 1 {
		return primary, nil
	}
	return NewCascade(members, WithCascadeLogger(logger)), nil
}

func init() {
	Register(BackendGemini, newGeminiFromConfig)
	Register(BackendOpenAI, newOpenAIFromConfig)
	Register(BackendAnthropic, newAnthropicFromConfig)
	Register(BackendOllama, newOllamaFromConfig)
	Register(BackendGGUF, newGGUFFromConfig)
}

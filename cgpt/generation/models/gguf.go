package models

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/config"
	ports "github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness/ports"

	"github.com/rs/zerolog"
)

// GGUFConfig holds configuration for a local llama.cpp model.
type GGUFConfig struct {
	ModelPath   string
	Template    string // "chatml" or "gemma"; empty picks from the file name
	ContextSize int
	GPULayers   int
	Threads     int
	MaxTokens   int
	Temperature float32
	TopP        float32

	// Pooling and resilience settings
	PoolSize         int
	BorrowTimeout    time.Duration
	RequestTimeout   time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// DefaultGGUFConfig returns a CPU-only configuration for modelPath.
func DefaultGGUFConfig(modelPath string) *GGUFConfig {
	return &GGUFConfig{
		ModelPath:        modelPath,
		ContextSize:      4096,
		GPULayers:        0,
		Threads:          max(1, runtime.NumCPU()/2),
		MaxTokens:        512,
		Temperature:      0.7,
		TopP:             0.9,
		PoolSize:         1,
		BorrowTimeout:    5 * time.Second,
		RequestTimeout:   60 * time.Second,
		BreakerThreshold: 5,
		BreakerCooldown:  60 * time.Second,
	}
}

// ValidateConfig rejects configurations llama.cpp cannot load.
func ValidateConfig(cfg *GGUFConfig) error {
	switch {
	case cfg == nil:
		return fmt.Errorf("config cannot be nil")
	case cfg.ModelPath == "":
		return fmt.Errorf("model path cannot be empty")
	case cfg.ContextSize <= 0:
		return fmt.Errorf("context size must be positive, got %d", cfg.ContextSize)
	case cfg.GPULayers < 0:
		return fmt.Errorf("GPU layers cannot be negative, got %d", cfg.GPULayers)
	case cfg.Threads <= 0:
		return fmt.Errorf("threads must be positive, got %d", cfg.Threads)
	case cfg.MaxTokens <= 0:
		return fmt.Errorf("max tokens must be positive, got %d", cfg.MaxTokens)
	case cfg.Temperature < 0 || cfg.Temperature > 2:
		return fmt.Errorf("temperature must be between 0 and 2, got %f", cfg.Temperature)
	case cfg.TopP < 0 || cfg.TopP > 1:
		return fmt.Errorf("top_p must be between 0 and 1, got %f", cfg.TopP)
	case cfg.PoolSize <= 0:
		return fmt.Errorf("pool size must be positive, got %d", cfg.PoolSize)
	case cfg.BorrowTimeout <= 0:
		return fmt.Errorf("borrow timeout must be positive, got %v", cfg.BorrowTimeout)
	case cfg.RequestTimeout <= 0:
		return fmt.Errorf("request timeout must be positive, got %v", cfg.RequestTimeout)
	case cfg.BreakerThreshold <= 0:
		return fmt.Errorf("breaker threshold must be positive, got %d", cfg.BreakerThreshold)
	case cfg.BreakerCooldown <= 0:
		return fmt.Errorf("breaker cooldown must be positive, got %v", cfg.BreakerCooldown)
	}
	if _, err := templateFor(cfg.Template, cfg.ModelPath); err != nil {
		return err
	}
	return nil
}

func newGGUFFromConfig(_ context.Context, cfg config.LLMConfig, logger zerolog.Logger) (ports.NamedProvider, error) {
	gc := DefaultGGUFConfig(cfg.ModelPath)
	if cfg.MaxNewTokens > 0 {
		gc.MaxTokens = cfg.MaxNewTokens
	}
	if cfg.Temperature > 0 {
		gc.Temperature = cfg.Temperature
	}
	if cfg.TopP > 0 {
		gc.TopP = cfg.TopP
	}
	if cfg.TimeoutMs > 0 {
		gc.RequestTimeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}
	if err := ValidateConfig(gc); err != nil {
		return nil, fmt.Errorf("invalid gguf configuration: %w", err)
	}
	return newGGUFProvider(gc, logger)
}

// ggufPrompt renders the full prompt for a text-only local model. Tools and
// response schemas become instructions; tool calls come back as text and are
// parsed by the harness.
func ggufPrompt(cfg *GGUFConfig, in ports.PromptInput, opts ports.Options) (string, []string, error) {
	tmpl, err := templateFor(cfg.Template, cfg.ModelPath)
	if err != nil {
		return "", nil, err
	}
	system := joinSections(systemText(in), toolInstruction(in.Tools), schemaInstruction(opts))
	prompt, err := tmpl.Render(system, in.Messages)
	if err != nil {
		return "", nil, err
	}
	return prompt, append(append([]string(nil), tmpl.Stop...), opts.Stop...), nil
}

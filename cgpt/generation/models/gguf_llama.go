//go:build llama

package models

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	ports "github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness/ports"

	llama "github.com/go-skynet/go-llama.cpp"
	"github.com/rs/zerolog"
)

var errBreakerOpen = errors.New("gguf: circuit breaker is open")

// GGUFProvider runs a pool of llama.cpp model instances.
type GGUFProvider struct {
	cfg    *GGUFConfig
	pool   chan *llama.LLama
	health *healthTracker
	logger zerolog.Logger

	breakerMu   sync.Mutex
	failures    int
	lastFailure time.Time
}

func newGGUFProvider(cfg *GGUFConfig, logger zerolog.Logger) (ports.NamedProvider, error) {
	return NewGGUFProvider(cfg, logger)
}

// NewGGUFProvider loads cfg.PoolSize model instances.
func NewGGUFProvider(cfg *GGUFConfig, logger zerolog.Logger) (*GGUFProvider, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	p := &GGUFProvider{
		cfg:    cfg,
		pool:   make(chan *llama.LLama, cfg.PoolSize),
		health: newHealthTracker(),
		logger: logger.With().Str("model_path", cfg.ModelPath).Logger(),
	}
	for i := 0; i < cfg.PoolSize; i++ {
		model, err := llama.New(cfg.ModelPath,
			llama.SetContext(cfg.ContextSize),
			llama.SetGPULayers(cfg.GPULayers),
		)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("load model instance %d: %w", i, err)
		}
		p.pool <- model
	}

	p.logger.Info().Int("pool_size", cfg.PoolSize).Msg("GGUF provider initialized")
	return p, nil
}

func (p *GGUFProvider) Name() string {
	return BackendGGUF + ":" + strings.TrimSuffix(filepath.Base(p.cfg.ModelPath), filepath.Ext(p.cfg.ModelPath))
}

func (p *GGUFProvider) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	text, err := p.predict(ctx, in, opts, nil)
	if err != nil {
		return ports.Completion{}, err
	}
	return ports.Completion{Text: text}, nil
}

// Stream emits tokens as llama.cpp produces them.
func (p *GGUFProvider) Stream(ctx context.Context, in ports.PromptInput, opts ports.Options) (<-chan ports.CompletionChunk, error) {
	out := make(chan ports.CompletionChunk, 64)
	go func() {
		defer close(out)
		_, err := p.predict(ctx, in, opts, func(token string) bool {
			select {
			case out <- ports.CompletionChunk{DeltaText: token}:
				return true
			case <-ctx.Done():
				return false
			}
		})
		out <- ports.CompletionChunk{Done: true, Err: err}
	}()
	return out, nil
}

func (p *GGUFProvider) predict(ctx context.Context, in ports.PromptInput, opts ports.Options, onToken func(string) bool) (string, error) {
	prompt, stop, err := ggufPrompt(p.cfg, in, opts)
	if err != nil {
		return "", err
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	model, err := p.borrow(reqCtx)
	if err != nil {
		return "", upstreamErr(BackendGGUF, err)
	}
	defer p.release(model)

	predictOpts := []llama.PredictOption{
		llama.SetTemperature(pick(opts.Temperature, p.cfg.Temperature)),
		llama.SetTopP(pick(opts.TopP, p.cfg.TopP)),
		llama.SetTokens(int(pick(float32(opts.MaxNewTokens), float32(p.cfg.MaxTokens)))),
		llama.SetThreads(p.cfg.Threads),
		llama.SetStopWords(stop...),
	}
	if opts.Seed != 0 {
		predictOpts = append(predictOpts, llama.SetSeed(opts.Seed))
	}
	if onToken != nil {
		predictOpts = append(predictOpts, llama.SetTokenCallback(onToken))
	}

	start := time.Now()
	text, err := model.Predict(prompt, predictOpts...)
	if err != nil {
		p.fail(err)
		return "", upstreamErr(BackendGGUF, err)
	}
	p.health.recordSuccess(time.Since(start))
	for _, s := range stop {
		text = strings.TrimSuffix(text, s)
	}
	return strings.TrimSpace(text), nil
}

func (p *GGUFProvider) borrow(ctx context.Context) (*llama.LLama, error) {
	if p.breakerOpen() {
		return nil, errBreakerOpen
	}

	borrowCtx, cancel := context.WithTimeout(ctx, p.cfg.BorrowTimeout)
	defer cancel()
	select {
	case model := <-p.pool:
		return model, nil
	case <-borrowCtx.Done():
		return nil, fmt.Errorf("borrow timeout after %v", p.cfg.BorrowTimeout)
	}
}

func (p *GGUFProvider) release(model *llama.LLama) {
	select {
	case p.pool <- model:
	default:
		model.Free()
	}
}

func (p *GGUFProvider) breakerOpen() bool {
	p.breakerMu.Lock()
	defer p.breakerMu.Unlock()

	if p.failures < p.cfg.BreakerThreshold {
		return false
	}
	if time.Since(p.lastFailure) < p.cfg.BreakerCooldown {
		return true
	}
	p.failures = 0
	p.logger.Info().Msg("Circuit breaker reset after cooldown")
	return false
}

func (p *GGUFProvider) fail(err error) {
	p.health.recordFailure(err)

	p.breakerMu.Lock()
	p.failures++
	p.lastFailure = time.Now()
	failures := p.failures
	p.breakerMu.Unlock()

	p.logger.Warn().Err(err).Int("failure_count", failures).Msg("GGUF prediction failed")
}

// Health reports the provider's observed health.
func (p *GGUFProvider) Health() ModelHealth { return p.health.snapshot() }

// Close frees every pooled model instance.
func (p *GGUFProvider) Close() error {
	for {
		select {
		case model := <-p.pool:
			model.Free()
		default:
			return nil
		}
	}
}

func pick(v, fallback float32) float32 {
	if v > 0 {
		return v
	}
	return fallback
}

var _ ports.NamedProvider = (*GGUFProvider)(nil)

package harness

import (
	"context"
	"database/sql"
	"time"

	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/config"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness/adapters"
	ports "github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness/ports"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Factory creates and wires harness components from configuration.
type Factory struct {
	cfg    *config.Config
	db     *sql.DB       // optional, for the transcript log
	rdb    redis.Cmdable // optional, for the shared cache backend
	logger zerolog.Logger
}

// NewFactory creates a new harness factory. db and rdb may be nil.
func NewFactory(cfg *config.Config, db *sql.DB, rdb redis.Cmdable, logger zerolog.Logger) *Factory {
	return &Factory{
		cfg:    cfg,
		db:     db,
		rdb:    rdb,
		logger: logger,
	}
}

// CreateOrchestrator creates a fully wired HarnessOrchestrator. The provider
// is built by the models package and passed in.
func (f *Factory) CreateOrchestrator(provider ports.Provider) *HarnessOrchestrator {
	hc := f.cfg.Harness
	llm := f.cfg.LLM

	assembler := NewContextAssembler(Budget{
		MaxContextTokens: 4000,
		MaxSnippets:      10,
	}, nil)

	opts := []OrchestratorOption{
		WithCacheTTL(hc.CacheTTLSeconds),
		WithDefaultOptions(ports.Options{
			MaxNewTokens: llm.MaxNewTokens,
			Temperature:  llm.Temperature,
			TopP:         llm.TopP,
			TimeoutMs:    llm.TimeoutMs,
		}),
	}
	if hc.EnableGuardrails {
		opts = append(opts, WithGuardrails(f.CreateGuardrails()))
	}

	return NewHarnessOrchestrator(
		provider,
		NewPromptBuilder(),
		assembler,
		f.CreateStore(),
		f.createCompletionCache(),
		f.CreateRateLimiter(),
		f.CreateTracer(),
		opts...,
	)
}

// CreateCache returns the shared cache backend selected by cache.backend,
// namespaced for one consumer (e.g. "photo:").
func (f *Factory) CreateCache(namespace string) ports.Cache {
	if f.cfg.Cache.Backend == "redis" && f.rdb != nil {
		return adapters.NewRedisCache(f.rdb, f.cfg.Redis.KeyPrefix+namespace)
	}
	if f.cfg.Cache.Backend == "redis" {
		f.logger.Warn().Str("namespace", namespace).Msg("Redis cache requested without a client, using in-process LRU")
	}
	return adapters.NewLRUCache(f.cfg.Cache.Capacity)
}

func (f *Factory) createCompletionCache() ports.Cache {
	if !f.cfg.Harness.CacheEnabled {
		return &noOpCache{}
	}
	if f.cfg.Cache.Backend == "redis" && f.rdb != nil {
		return adapters.NewRedisCache(f.rdb, f.cfg.Redis.KeyPrefix+"completion:")
	}
	return adapters.NewLRUCache(f.cfg.Harness.CacheCapacity)
}

// CreateRateLimiter creates a rate limiter adapter from config.
func (f *Factory) CreateRateLimiter() ports.RateLimiter {
	if !f.cfg.Harness.RateLimitEnabled {
		return &noOpRateLimiter{}
	}
	return adapters.NewTokenBucket(f.cfg.Harness.RateLimitCapacity, f.cfg.Harness.RateLimitRefillRate)
}

// CreateTracer creates a tracer adapter from config.
func (f *Factory) CreateTracer() ports.Tracer {
	if !f.cfg.Harness.EnableTracing {
		return &noOpTracer{}
	}
	return adapters.NewZerologTracer(f.logger.With().Str("component", "harness").Logger())
}

// CreateStore creates the transcript store; without a database it is a no-op.
func (f *Factory) CreateStore() ports.ConversationStore {
	if f.db == nil {
		return &noOpStore{}
	}
	return adapters.NewLibSQLConversationStore(f.db)
}

// CreateGuardrails creates guardrails from config.
func (f *Factory) CreateGuardrails() *Guardrails {
	guardrails := NewGuardrails(f.cfg.Harness.BlockedWords...)
	for _, toolName := range f.cfg.Harness.AllowedTools {
		guardrails.AddAllowedTool(toolName)
	}
	return guardrails
}

// CreatePolicy creates a policy from config with clamped values.
func (f *Factory) CreatePolicy() *Policy {
	hc := f.cfg.Harness
	policy := &Policy{
		MaxToolDepth:    hc.MaxToolDepth,
		MaxIterations:   hc.MaxIterations,
		ToolTimeout:     hc.ToolTimeout,
		ToolConcurrency: hc.ToolConcurrency,
		RetryCount:      hc.RetryCount,
		RetryBackoff:    200 * time.Millisecond,
	}

	if policy.MaxToolDepth < 1 {
		policy.MaxToolDepth = 1
		f.logger.Warn().Int("max_tool_depth", hc.MaxToolDepth).Msg("MaxToolDepth clamped to minimum of 1")
	}
	if policy.MaxToolDepth > 10 {
		policy.MaxToolDepth = 10
		f.logger.Warn().Int("max_tool_depth", hc.MaxToolDepth).Msg("MaxToolDepth clamped to maximum of 10")
	}
	if policy.MaxIterations < 1 {
		policy.MaxIterations = 1
		f.logger.Warn().Int("max_iterations", hc.MaxIterations).Msg("MaxIterations clamped to minimum of 1")
	}
	if policy.MaxIterations > 50 {
		policy.MaxIterations = 50
		f.logger.Warn().Int("max_iterations", hc.MaxIterations).Msg("MaxIterations clamped to maximum of 50")
	}
	if policy.ToolTimeout <= 0 {
		policy.ToolTimeout = 15 * time.Second
	}
	if policy.ToolConcurrency < 1 {
		policy.ToolConcurrency = 1
	}
	if policy.RetryCount < 0 {
		policy.RetryCount = 0
	}

	return policy
}

// NoOpStore returns a ConversationStore that discards everything.
func NoOpStore() ports.ConversationStore { return &noOpStore{} }

// NoOpTracer returns a Tracer that records nothing.
func NoOpTracer() ports.Tracer { return &noOpTracer{} }

type noOpCache struct{}

func (c *noOpCache) Get(ctx context.Context, key string) ([]byte, bool) { return nil, false }
func (c *noOpCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	return nil
}
func (c *noOpCache) Delete(ctx context.Context, key string) error { return nil }

type noOpRateLimiter struct{}

func (r *noOpRateLimiter) Acquire(ctx context.Context, key string) (release func(), err error) {
	return func() {}, nil
}

type noOpTracer struct{}

func (t *noOpTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	return ctx, func(err error) {}
}

func (t *noOpTracer) Event(ctx context.Context, name string, attrs map[string]any) {}

type noOpStore struct{}

func (s *noOpStore) SaveTurn(ctx context.Context, conversationID string, turn ports.Turn) error {
	return nil
}

func (s *noOpStore) LoadContext(ctx context.Context, conversationID string, k int) ([]ports.Turn, error) {
	return nil, nil
}

func (s *noOpStore) AppendToolArtifact(ctx context.Context, conversationID, name string, payload []byte) error {
	return nil
}

var (
	_ ports.Cache             = (*noOpCache)(nil)
	_ ports.RateLimiter       = (*noOpRateLimiter)(nil)
	_ ports.Tracer            = (*noOpTracer)(nil)
	_ ports.ConversationStore = (*noOpStore)(nil)
)

package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/coffee-gpt/cgpt"
	ports "github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness/ports"

	"github.com/rs/zerolog"
)

// DefaultCascadeCooldown is how long a failed provider is ranked behind the
// healthy ones before it is tried first again.
const DefaultCascadeCooldown = 30 * time.Second

type cascadeMember struct {
	provider ports.NamedProvider
	health   *healthTracker
	order    int
}

// Cascade tries its providers in health order until one answers. A provider
// that failed recently sinks behind healthy ones until the cooldown passes.
type Cascade struct {
	members  []*cascadeMember
	cooldown time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

// CascadeOption customizes a Cascade.
type CascadeOption func(*Cascade)

func WithCascadeCooldown(d time.Duration) CascadeOption {
	return func(c *Cascade) { c.cooldown = d }
}

func WithCascadeLogger(logger zerolog.Logger) CascadeOption {
	return func(c *Cascade) { c.logger = logger }
}

// NewCascade ranks providers in the given order until health data says
// otherwise.
func NewCascade(providers []ports.NamedProvider, opts ...CascadeOption) *Cascade {
	c := &Cascade{
		cooldown: DefaultCascadeCooldown,
		now:      time.Now,
		logger:   zerolog.Nop(),
	}
	for i, p := range providers {
		c.members = append(c.members, &cascadeMember{provider: p, health: newHealthTracker(), order: i})
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cascade) Name() string {
	names := make([]string, len(c.members))
	for i, m := range c.members {
		names[i] = m.provider.Name()
	}
	return "cascade(" + strings.Join(names, ",") + ")"
}

func (c *Cascade) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	var errs []error
	for _, m := range c.ranked() {
		start := c.now()
		completion, err := m.provider.Complete(ctx, in, opts)
		if err == nil {
			m.health.recordSuccess(c.now().Sub(start))
			return completion, nil
		}
		if ctx.Err() != nil {
			return ports.Completion{}, ctx.Err()
		}
		m.health.recordFailure(err)
		c.logger.Warn().Err(err).Str("provider", m.provider.Name()).Msg("LLM provider failed, trying next")
		errs = append(errs, err)
	}
	return ports.Completion{}, c.exhausted(errs)
}

// Stream falls through providers that refuse to open a stream. Once a stream
// is open, mid-stream failures are reported on the channel.
func (c *Cascade) Stream(ctx context.Context, in ports.PromptInput, opts ports.Options) (<-chan ports.CompletionChunk, error) {
	var errs []error
	for _, m := range c.ranked() {
		ch, err := m.provider.Stream(ctx, in, opts)
		if err == nil {
			return c.observe(m, ch), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.health.recordFailure(err)
		errs = append(errs, err)
	}
	return nil, c.exhausted(errs)
}

func (c *Cascade) observe(m *cascadeMember, in <-chan ports.CompletionChunk) <-chan ports.CompletionChunk {
	out := make(chan ports.CompletionChunk, 16)
	start := c.now()
	go func() {
		defer close(out)
		var failed error
		for chunk := range in {
			if chunk.Err != nil {
				failed = chunk.Err
			}
			out <- chunk
		}
		if failed != nil {
			m.health.recordFailure(failed)
			return
		}
		m.health.recordSuccess(c.now().Sub(start))
	}()
	return out
}

// Health reports a snapshot per provider name.
func (c *Cascade) Health() map[string]ModelHealth {
	out := make(map[string]ModelHealth, len(c.members))
	for _, m := range c.members {
		out[m.provider.Name()] = m.health.snapshot()
	}
	return out
}

// Close closes every provider that holds resources.
func (c *Cascade) Close() error {
	var errs []error
	for _, m := range c.members {
		if closer, ok := m.provider.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", m.provider.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// ranked orders members: providers outside their failure cooldown first,
// then by success rate, then by configured order.
func (c *Cascade) ranked() []*cascadeMember {
	type entry struct {
		m       *cascadeMember
		cooling bool
		rate    float64
	}
	now := c.now()
	entries := make([]entry, len(c.members))
	for i, m := range c.members {
		h := m.health.snapshot()
		entries[i] = entry{
			m:       m,
			cooling: !h.IsHealthy && now.Sub(h.LastFailure) < c.cooldown,
			rate:    h.SuccessRate,
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].cooling != entries[j].cooling {
			return !entries[i].cooling
		}
		if entries[i].rate != entries[j].rate {
			return entries[i].rate > entries[j].rate
		}
		return entries[i].m.order < entries[j].m.order
	})

	out := make([]*cascadeMember, len(entries))
	for i, e := range entries {
		out[i] = e.m
	}
	return out
}

func (c *Cascade) exhausted(errs []error) error {
	if len(errs) == 0 {
		return fmt.Errorf("llm cascade: %w: no providers configured", internal.ErrUpstreamUnavailable)
	}
	return fmt.Errorf("llm cascade: all %d providers failed: %w", len(errs), errors.Join(append([]error{internal.ErrUpstreamUnavailable}, errs...)...))
}

var _ ports.NamedProvider = (*Cascade)(nil)

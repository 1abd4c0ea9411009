package server

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/chat"
	ports "github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness/ports"
)

const defaultReapSchedule = "@every 5m"

// Janitor evicts sessions that have been idle longer than maxIdle.
type Janitor struct {
	cron     *cron.Cron
	sessions *chat.Registry
	limiter  ports.RateLimiter
	maxIdle  time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

// NewJanitor schedules reaping on a cron spec such as "@every 5m".
// maxIdle <= 0 disables reaping.
func NewJanitor(schedule string, maxIdle time.Duration, sessions *chat.Registry, limiter ports.RateLimiter, logger zerolog.Logger) (*Janitor, error) {
	if schedule == "" {
		schedule = defaultReapSchedule
	}
	j := &Janitor{
		cron:     cron.New(),
		sessions: sessions,
		limiter:  limiter,
		maxIdle:  maxIdle,
		now:      time.Now,
		logger:   logger.With().Str("component", "janitor").Logger(),
	}
	if _, err := j.cron.AddFunc(schedule, func() { j.Reap() }); err != nil {
		return nil, fmt.Errorf("invalid reap schedule %q: %w", schedule, err)
	}
	return j, nil
}

func (j *Janitor) Start() {
	j.logger.Info().Dur("max_idle", j.maxIdle).Msg("session janitor started")
	j.cron.Start()
}

// Stop waits for a running reap to finish or ctx to expire.
func (j *Janitor) Stop(ctx context.Context) {
	done := j.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Reap runs one eviction pass and returns the number of evicted sessions.
func (j *Janitor) Reap() int {
	if j.maxIdle <= 0 {
		return 0
	}
	before := j.sessions.IDs()
	n := j.sessions.ReapIdle(j.now(), j.maxIdle)
	if n == 0 {
		return 0
	}
	if f, ok := j.limiter.(forgetter); ok {
		for _, id := range before {
			if _, err := j.sessions.Get(id); err != nil {
				f.Forget(id)
			}
		}
	}
	j.logger.Info().Int("evicted", n).Int("remaining", j.sessions.Len()).Msg("reaped idle sessions")
	return n
}

package models

import (
	"sync"
	"time"
)

const maxHealthMessages = 10

// ModelHealth tracks the observed health of one provider.
type ModelHealth struct {
	IsHealthy      bool
	SuccessRate    float64
	AverageLatency time.Duration
	TotalCalls     int64
	SuccessCalls   int64
	FailureCalls   int64
	LastUsed       time.Time
	LastFailure    time.Time
	ErrorMessages  []string
}

// healthTracker guards a ModelHealth. Latency is an exponential moving
// average with alpha 0.1.
type healthTracker struct {
	mu sync.RWMutex
	h  ModelHealth
}

func newHealthTracker() *healthTracker {
	return &healthTracker{h: ModelHealth{IsHealthy: true, SuccessRate: 1.0}}
}

func (t *healthTracker) recordSuccess(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.h.TotalCalls++
	t.h.SuccessCalls++
	t.h.LastUsed = time.Now()
	if t.h.AverageLatency == 0 {
		t.h.AverageLatency = d
	} else {
		const alpha = 0.1
		t.h.AverageLatency = time.Duration(float64(t.h.AverageLatency)*(1-alpha) + float64(d)*alpha)
	}
	t.h.SuccessRate = float64(t.h.SuccessCalls) / float64(t.h.TotalCalls)
	t.h.IsHealthy = true
}

func (t *healthTracker) recordFailure(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	t.h.TotalCalls++
	t.h.FailureCalls++
	t.h.LastUsed = now
	t.h.LastFailure = now
	t.h.IsHealthy = false
	t.h.SuccessRate = float64(t.h.SuccessCalls) / float64(t.h.TotalCalls)

	if len(t.h.ErrorMessages) >= maxHealthMessages {
		t.h.ErrorMessages = t.h.ErrorMessages[1:]
	}
	t.h.ErrorMessages = append(t.h.ErrorMessages, err.Error())
}

func (t *healthTracker) snapshot() ModelHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h := t.h
	h.ErrorMessages = append([]string(nil), t.h.ErrorMessages...)
	return h
}

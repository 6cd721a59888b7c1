package executor

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// DelayPolicy decides every pause the executor takes. Tests substitute
// NoDelay to assert retry behaviour without real time elapsing.
type DelayPolicy interface {
	// Approach is the pause between moving onto an element and clicking it.
	Approach() time.Duration
	// Settle is the pacing pause after a successful interaction.
	Settle() time.Duration
	// Backoff is the pause after failed attempt n (1-based).
	Backoff(attempt int) time.Duration
}

// HumanDelays draws Settle uniformly from [Min, Max] and Approach from
// [ApproachMin, ApproachMax]; Backoff is the fixed Retry delay.
type HumanDelays struct {
	Min, Max                 time.Duration
	ApproachMin, ApproachMax time.Duration
	Retry                    time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewHumanDelays returns a policy whose approach window is 0.5s to 1.3s,
// pointer travel plus a hesitation before the click.
func NewHumanDelays(lo, hi, retry time.Duration) *HumanDelays {
	return &HumanDelays{
		Min:         lo,
		Max:         hi,
		ApproachMin: 500 * time.Millisecond,
		ApproachMax: 1300 * time.Millisecond,
		Retry:       retry,
	}
}

// Seed makes the random draws reproducible.
func (h *HumanDelays) Seed(a, b uint64) *HumanDelays {
	h.mu.Lock()
	h.rng = rand.New(rand.NewPCG(a, b))
	h.mu.Unlock()
	return h
}

func (h *HumanDelays) Approach() time.Duration { return h.uniform(h.ApproachMin, h.ApproachMax) }
func (h *HumanDelays) Settle() time.Duration   { return h.uniform(h.Min, h.Max) }
func (h *HumanDelays) Backoff(int) time.Duration {
	return h.Retry
}

func (h *HumanDelays) uniform(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return max(lo, 0)
	}
	span := int64(hi-lo) + 1
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rng != nil {
		return lo + time.Duration(h.rng.Int64N(span))
	}
	return lo + time.Duration(rand.Int64N(span))
}

type noDelay struct{}

func (noDelay) Approach() time.Duration   { return 0 }
func (noDelay) Settle() time.Duration     { return 0 }
func (noDelay) Backoff(int) time.Duration { return 0 }

// NoDelay never pauses.
var NoDelay DelayPolicy = noDelay{}

// Sleep blocks for d or until ctx is done. Non-positive durations return
// immediately.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

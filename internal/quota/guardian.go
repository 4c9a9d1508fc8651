package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrQuotaExhausted = errors.New("upstream call quota exhausted")

// Limits holds the upstream call budget from config.
// A zero value for any field means that check is disabled.
type Limits struct {
	MaxCallsPerDay    int
	MaxCallsPerMinute int
}

// Guardian tracks outbound provider calls in memory. The daily window resets
// at UTC midnight; the minute window is sliding.
type Guardian struct {
	limits Limits
	now    func() time.Time

	mu       sync.Mutex
	day      string
	dayCount int
	recent   []time.Time
}

func NewGuardian(limits Limits, now func() time.Time) *Guardian {
	if now == nil {
		now = time.Now
	}
	return &Guardian{limits: limits, now: now}
}

// Acquire reserves one call. Returns an error wrapping ErrQuotaExhausted if
// either budget is spent; nothing is reserved in that case.
func (g *Guardian) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().UTC()
	g.roll(now)

	if g.limits.MaxCallsPerDay > 0 && g.dayCount >= g.limits.MaxCallsPerDay {
		return fmt.Errorf("%w: daily limit of %d calls reached", ErrQuotaExhausted, g.limits.MaxCallsPerDay)
	}
	if g.limits.MaxCallsPerMinute > 0 && len(g.recent) >= g.limits.MaxCallsPerMinute {
		retryIn := g.recent[0].Add(time.Minute).Sub(now)
		return fmt.Errorf("%w: %d calls in the last minute (retry in %s)",
			ErrQuotaExhausted, len(g.recent), retryIn.Round(time.Second))
	}

	g.dayCount++
	g.recent = append(g.recent, now)
	return nil
}

// Remaining reports calls left today, or -1 when the daily check is disabled.
func (g *Guardian) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.roll(g.now().UTC())
	if g.limits.MaxCallsPerDay <= 0 {
		return -1
	}
	return g.limits.MaxCallsPerDay - g.dayCount
}

func (g *Guardian) roll(now time.Time) {
	if today := now.Format("2006-01-02"); today != g.day {
		g.day = today
		g.dayCount = 0
	}
	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(g.recent) && !g.recent[i].After(cutoff) {
		i++
	}
	g.recent = g.recent[i:]
}

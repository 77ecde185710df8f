package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttled wraps a TextGenerator behind a rate limiter. Background work
// such as consolidation uses a throttled generator so it cannot saturate
// the provider and starve interactive extraction.
type Throttled struct {
	gen     TextGenerator
	limiter *rate.Limiter
}

// NewThrottled caps calls at callsPerMinute with a burst of one.
func NewThrottled(gen TextGenerator, callsPerMinute float64) *Throttled {
	return &Throttled{
		gen:     gen,
		limiter: rate.NewLimiter(rate.Limit(callsPerMinute/60.0), 1),
	}
}

var _ TextGenerator = (*Throttled)(nil)

// Complete waits for a rate token, then delegates. A cancelled context
// aborts the wait.
func (t *Throttled) Complete(ctx context.Context, prompt string) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return t.gen.Complete(ctx, prompt)
}

// GetModel returns the wrapped generator's model name.
func (t *Throttled) GetModel() string {
	return t.gen.GetModel()
}

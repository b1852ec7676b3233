package embedding

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// Limited throttles calls to another Embedder with a token bucket so bursts of
// enrichment or backfill work stay under a provider's quota.
type Limited struct {
	next    Embedder
	limiter *rate.Limiter
}

var _ Embedder = (*Limited)(nil)

// NewLimited allows perSecond calls with the given burst.
func NewLimited(next Embedder, perSecond float64, burst int) *Limited {
	if burst <= 0 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *Limited) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, unavailable(errors.Wrap(err, "rate limit wait"))
	}
	return l.next.Embed(ctx, text)
}

func (l *Limited) Model() string   { return l.next.Model() }
func (l *Limited) Dimensions() int { return l.next.Dimensions() }

package aiprovider

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// limitedProvider throttles Generate calls so concurrent migrations for
// one tenant stay inside the provider's request-per-minute budget.
type limitedProvider struct {
	inner   Provider
	limiter *rate.Limiter
}

// RateLimited wraps a provider with a token-bucket rate limiter.
func RateLimited(inner Provider, rps float64, burst int) Provider {
	if burst < 1 {
		burst = 1
	}
	return &limitedProvider{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (p *limitedProvider) Model() string {
	return p.inner.Model()
}

func (p *limitedProvider) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "aiprovider: rate limiter wait")
	}
	return p.inner.Generate(ctx, req)
}

package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"github.com/joshmstewart/bestdayministries-sub013/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const (
	keyCheckoutClient   = "checkout:client:%s:%s"
	keyCheckoutEndpoint = "checkout:endpoint:%s"
)

// CheckoutLimiter throttles public checkout per client address and per
// endpoint. A nil or disabled limiter allows everything.
type CheckoutLimiter struct {
	bucket *TokenBucket

	clientRate    float64
	clientBurst   int
	endpointRate  float64
	endpointBurst int
}

func NewCheckoutLimiter(cfg config.Config, client *redis.Client) *CheckoutLimiter {
	if client == nil {
		return nil
	}
	limits := cfg.RateLimit
	if limits.CheckoutClientRate <= 0 || limits.CheckoutClientBurst <= 0 {
		return nil
	}
	return &CheckoutLimiter{
		bucket:        NewTokenBucket(client),
		clientRate:    limits.CheckoutClientRate,
		clientBurst:   limits.CheckoutClientBurst,
		endpointRate:  limits.CheckoutEndpointRate,
		endpointBurst: limits.CheckoutEndpointBurst,
	}
}

func (l *CheckoutLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// AllowClient spends one token from the client's bucket for endpoint.
func (l *CheckoutLimiter) AllowClient(ctx context.Context, endpoint, clientKey string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyCheckoutClient, strings.TrimSpace(endpoint), strings.TrimSpace(clientKey))
	return l.bucket.Allow(ctx, key, l.clientRate, l.clientBurst)
}

// AllowEndpoint spends one token from the shared endpoint bucket.
func (l *CheckoutLimiter) AllowEndpoint(ctx context.Context, endpoint string) (*Result, error) {
	if !l.Enabled() || l.endpointRate <= 0 || l.endpointBurst <= 0 {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyCheckoutEndpoint, strings.TrimSpace(endpoint)), l.endpointRate, l.endpointBurst)
}

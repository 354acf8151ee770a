package server

import (
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/joshmstewart/bestdayministries-sub013/internal/observability/logger"
	obsmetrics "github.com/joshmstewart/bestdayministries-sub013/internal/observability/metrics"
	"github.com/joshmstewart/bestdayministries-sub013/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	rateLimitReasonClientRate   = "client-rate"
	rateLimitReasonEndpointRate = "endpoint-rate"
)

// CheckoutRateLimit spends one token from the client bucket and one from the
// shared endpoint bucket. Limiter backend errors let the request through.
func (s *Server) CheckoutRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.checkoutLimiter == nil || !s.checkoutLimiter.Enabled() {
			c.Next()
			return
		}

		endpoint := normalizeRateLimitEndpoint(c)
		ctx := c.Request.Context()

		res, err := s.checkoutLimiter.AllowClient(ctx, endpoint, c.ClientIP())
		if err != nil {
			logger.FromContext(ctx).Warn("checkout client rate limit check failed", zap.Error(err))
			c.Next()
			return
		}
		if !res.Allowed {
			denyCheckoutRateLimit(c, endpoint, rateLimitReasonClientRate, res, s.obsMetrics)
			return
		}

		res, err = s.checkoutLimiter.AllowEndpoint(ctx, endpoint)
		if err != nil {
			logger.FromContext(ctx).Warn("checkout endpoint rate limit check failed", zap.Error(err))
			c.Next()
			return
		}
		if !res.Allowed {
			denyCheckoutRateLimit(c, endpoint, rateLimitReasonEndpointRate, res, s.obsMetrics)
			return
		}

		s.obsMetrics.RecordRateLimitAllowed(ctx, endpoint)
		c.Next()
	}
}

func denyCheckoutRateLimit(c *gin.Context, endpoint, reason string, res *ratelimit.Result, metrics *obsmetrics.Metrics) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)
	log.Warn("checkout rate limit exceeded",
		zap.String("reason", reason),
		zap.String("endpoint", endpoint),
	)
	metrics.RecordRateLimitDenied(ctx, endpoint, reason)

	c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(res)))
	c.Header("X-Rate-Limited-Reason", reason)
	if res != nil && res.Limit > 0 {
		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	}
	AbortWithError(c, ErrRateLimited)
}

func retryAfterSeconds(res *ratelimit.Result) int {
	if res == nil || res.RetryAfter <= 0 {
		return 1
	}
	seconds := int(math.Ceil(res.RetryAfter.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}

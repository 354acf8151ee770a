package tracing

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	obscontext "github.com/joshmstewart/bestdayministries-sub013/internal/observability/context"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(previous) })
	return recorder
}

func spanAttrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := map[attribute.Key]attribute.Value{}
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestGinMiddlewareNamesSpanAfterRoute(t *testing.T) {
	recorder := recordSpans(t)
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(GinMiddleware())
	r.POST("/admin/recovery/run", func(c *gin.Context) {
		ctx := obscontext.WithActor(c.Request.Context(), "user", "4200")
		ctx = obscontext.WithMode(ctx, "live")
		c.Request = c.Request.WithContext(ctx)
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/recovery/run", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "HTTP POST /admin/recovery/run", spans[0].Name())

	attrs := spanAttrs(spans[0])
	require.Equal(t, "live", attrs["stripe_mode"].AsString())
	require.Equal(t, "4200", attrs["actor_id"].AsString())
	require.Equal(t, int64(http.StatusOK), attrs["http.status_code"].AsInt64())
}

func TestGinMiddlewareMarksRateLimitAsEvent(t *testing.T) {
	recorder := recordSpans(t)
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(GinMiddleware())
	r.POST("/api/checkout/donation", func(c *gin.Context) {
		c.Header("X-Rate-Limited-Reason", "client-rate")
		c.Status(http.StatusTooManyRequests)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/checkout/donation", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Len(t, spans[0].Events(), 1)
	require.Equal(t, "rate_limited", spans[0].Events()[0].Name)
	require.NotEqual(t, "Error", spans[0].Status().Code.String())
}

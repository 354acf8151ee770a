package logger

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newLoggedEngine(t *testing.T) (*gin.Engine, *observer.ObservedLogs) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(restore)

	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{
		ErrorClassifier: func(err error) (string, string) { return "validation_error", "invalid_amount" },
	}))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/api/checkout/donation", func(c *gin.Context) {
		_ = c.Error(errors.New("bad amount"))
		c.Status(http.StatusBadRequest)
	})
	r.POST("/admin/reconciliation/run", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r, logs
}

func TestGinMiddlewareEchoesRequestID(t *testing.T) {
	r, logs := newLoggedEngine(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/reconciliation/run", nil)
	req.Header.Set("X-Request-Id", "req-abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, "req-abc", w.Header().Get("X-Request-Id"))
	entries := logs.FilterMessage("http_request").All()
	require.Len(t, entries, 1)
	require.Equal(t, zapcore.InfoLevel, entries[0].Level)
	require.Equal(t, "req-abc", entries[0].ContextMap()["request_id"])
	require.Equal(t, "/admin/reconciliation/run", entries[0].ContextMap()["route"])
}

func TestGinMiddlewareGeneratesRequestID(t *testing.T) {
	r, _ := newLoggedEngine(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

func TestGinMiddlewareClassifiesErrors(t *testing.T) {
	r, logs := newLoggedEngine(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/checkout/donation", nil))

	entries := logs.FilterMessage("http_request").All()
	require.Len(t, entries, 1)
	require.Equal(t, zapcore.DebugLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	require.Equal(t, "validation_error", fields["error_type"])
	require.Equal(t, "invalid_amount", fields["error_code"])
}

func TestRequestLevel(t *testing.T) {
	cases := []struct {
		name      string
		route     string
		status    int
		errorType string
		want      zapcore.Level
	}{
		{"server error", "/api/checkout/donation", http.StatusInternalServerError, "internal_error", zapcore.ErrorLevel},
		{"health check", "/health", http.StatusOK, "", zapcore.DebugLevel},
		{"metrics scrape", "/metrics", http.StatusOK, "", zapcore.DebugLevel},
		{"admin denied", "/admin/recovery/run", http.StatusForbidden, "forbidden", zapcore.InfoLevel},
		{"rate limited", "/api/checkout/donation", http.StatusTooManyRequests, "rate_limited", zapcore.WarnLevel},
		{"donor validation", "/api/checkout/sponsorship", http.StatusBadRequest, "validation_error", zapcore.DebugLevel},
		{"checkout created", "/api/checkout/donation", http.StatusOK, "", zapcore.InfoLevel},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, requestLevel(tc.route, tc.status, tc.errorType))
		})
	}
}

package observability

import (
	"testing"

	"github.com/joshmstewart/bestdayministries-sub013/internal/config"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromTelemetry(t *testing.T) {
	cfg := LoadConfig(config.Config{
		AppVersion:  "1.2.3",
		Environment: "production",
		Telemetry: config.TelemetryConfig{
			LogLevel:      "warn",
			LogFormat:     "console",
			OTLPEnabled:   true,
			OTLPEndpoint:  "collector:4318",
			OTLPProtocol:  "http",
			SamplingRatio: 4,
		},
	})

	require.Equal(t, "ledger", cfg.ServiceName)
	require.Equal(t, "1.2.3", cfg.Version)
	require.Equal(t, "collector:4318", cfg.OtelExporterEndpoint)
	require.Equal(t, "http", cfg.OtelExporterProtocol)
	require.Equal(t, 0.1, cfg.OtelSamplingRatio)
	require.False(t, cfg.Debug())
}

func TestDebug(t *testing.T) {
	require.True(t, Config{LogLevel: "DEBUG", Environment: "production"}.Debug())
	require.True(t, Config{LogLevel: "info", Environment: "local"}.Debug())
	require.False(t, Config{LogLevel: "info", Environment: "staging"}.Debug())
}

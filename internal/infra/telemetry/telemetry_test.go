package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/secmon/internal/config"
	"github.com/openctemio/secmon/pkg/logger"
)

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), &config.TracingConfig{}, &config.AppConfig{Name: "secmon"}, logger.NewNop())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(0).Description(), "AlwaysOffSampler")
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}

func TestExporterOptions(t *testing.T) {
	assert.Len(t, exporterOptions(&config.TracingConfig{Endpoint: "http://collector:4318"}), 1)
	assert.Len(t, exporterOptions(&config.TracingConfig{Endpoint: "collector:4318", Insecure: true}), 2)
	assert.Empty(t, exporterOptions(&config.TracingConfig{}))
}

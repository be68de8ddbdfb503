package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	return m
}

func TestLogger_RedactsSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "json", Output: &buf})

	log.Info("connecting", "database_url", "postgres://u:p@h/db", "redis_password", "hunter2", "host", "db.local")

	m := decodeLine(t, &buf)
	assert.Equal(t, "[REDACTED]", m["database_url"])
	assert.Equal(t, "[REDACTED]", m["redis_password"])
	assert.Equal(t, "db.local", m["host"])
}

func TestLogger_ContextValues(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})

	ctx := context.WithValue(context.Background(), ContextKeyRequestID, "req-1")
	ctx = context.WithValue(ctx, ContextKeyTenantID, "t-1")

	log.With("component", "monitor").WarnContext(ctx, "cycle failed", "error", errors.New("boom"))

	m := decodeLine(t, &buf)
	assert.Equal(t, "req-1", m["request_id"])
	assert.Equal(t, "t-1", m["tenant_id"])
	assert.Equal(t, "boom", m["error"])
	assert.Equal(t, "WARN", m["level"])
	assert.Equal(t, "monitor", m["component"])
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Format: "json", Output: &buf})

	log.Info("hidden")
	assert.Zero(t, buf.Len())

	log.Error("shown")
	assert.NotZero(t, buf.Len())
}

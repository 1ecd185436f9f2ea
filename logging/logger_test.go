package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LogLevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LogLevelWarn, ParseLevel("warning"))
	assert.Equal(t, LogLevelError, ParseLevel(" error "))
	assert.Equal(t, LogLevelInfo, ParseLevel("nope"))
}

func TestStructuredLogger_AttachesScope(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: LogLevelDebug, Format: "json", Output: &buf}).
		WithComponent("cache").
		WithTurn("turn-1").
		WithContext("org", "org-9")

	l.Info("cache.hit", "tool", "getAccounts")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "cache.hit", rec["msg"])
	assert.Equal(t, "cache", rec["component"])
	assert.Equal(t, "turn-1", rec["turn_id"])
	assert.Equal(t, "org-9", rec["org"])
	assert.Equal(t, "getAccounts", rec["tool"])
}

func TestStructuredLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: LogLevelWarn, Output: &buf})
	l.Debug("hidden")
	l.Info("hidden")
	assert.Zero(t, buf.Len())
	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestWithContextDoesNotLeak(t *testing.T) {
	var buf bytes.Buffer
	base := New(&Config{Level: LogLevelInfo, Output: &buf})
	_ = base.WithContext("k", "v")
	base.Info("plain")
	assert.NotContains(t, buf.String(), `"k"`)
}

func TestDomainHelpers(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: LogLevelDebug, Format: "text", Output: &buf})
	LogToolCall(l, "getAccounts", 5*time.Millisecond, nil)
	LogToolCall(l, "getAccounts", time.Millisecond, errors.New("boom"))
	LogCacheEvent(l, "miss", "0123456789abcdef0123")
	LogStep(l, 2, 1, true, time.Millisecond)

	out := buf.String()
	assert.Contains(t, out, "tool.call.completed")
	assert.Contains(t, out, "tool.call.failed")
	assert.Contains(t, out, "fingerprint=0123456789ab")
	assert.NotContains(t, out, "0123456789abc")
	assert.Contains(t, out, "agent.step.complete")
}

func TestOrNoOp(t *testing.T) {
	assert.IsType(t, NoOpLogger{}, OrNoOp(nil))
}

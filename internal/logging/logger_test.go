package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		out = append(out, entry)
	}
	return out
}

func TestLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(InfoLevel, &buf).WithField("component", "engine")

	logger.Debug("hidden")
	logger.Info("run started", map[string]interface{}{"id": "abc"})
	logger.WithError(assert.AnError).Error("run failed")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)

	assert.Equal(t, "INFO", entries[0]["level"])
	assert.Equal(t, "run started", entries[0]["message"])
	assert.Equal(t, "engine", entries[0]["component"])
	assert.Equal(t, "abc", entries[0]["id"])
	assert.Contains(t, entries[0]["caller"], "logging/logger_test.go")
	_, err := time.Parse(time.RFC3339Nano, entries[0]["timestamp"].(string))
	assert.NoError(t, err)

	assert.Equal(t, "ERROR", entries[1]["level"])
	assert.Equal(t, assert.AnError.Error(), entries[1]["error"])
}

func TestLoggerConsole(t *testing.T) {
	var buf bytes.Buffer
	logger := New(DebugLevel, &buf).WithFormat(FormatConsole)

	logger.Warn("slow step", map[string]interface{}{"iteration": 7, "alpha": 0.5})

	line := buf.String()
	assert.Contains(t, line, " WARN  slow step")
	// keys are sorted
	assert.Less(t, strings.Index(line, "alpha=0.5"), strings.Index(line, "iteration=7"))
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestWithFieldsDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := New(InfoLevel, &buf)
	_ = parent.WithField("child", true)

	parent.Info("plain")
	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0], "child")
}

func TestShouldLog(t *testing.T) {
	logger := New(WarnLevel, &bytes.Buffer{})
	assert.False(t, logger.shouldLog(DebugLevel))
	assert.False(t, logger.shouldLog(InfoLevel))
	assert.True(t, logger.shouldLog(WarnLevel))
	assert.True(t, logger.shouldLog(ErrorLevel))
	assert.False(t, logger.shouldLog(LogLevel("TRACE")))
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(&Config{Level: "debug", Format: "text", Output: "stdout"})
	require.NoError(t, err)
	assert.Equal(t, DebugLevel, logger.Level())
	assert.Equal(t, FormatConsole, logger.format)

	logger, err = NewLogger(nil)
	require.NoError(t, err)
	assert.Equal(t, InfoLevel, logger.Level())
	assert.Equal(t, FormatJSON, logger.format)

	_, err = NewLogger(&Config{Format: "xml"})
	assert.Error(t, err)

	assert.Equal(t, WarnLevel, ParseLevel("warning"))
	assert.Equal(t, InfoLevel, ParseLevel("verbose"))
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	fallback := New(InfoLevel, &buf)

	assert.Same(t, fallback, LoggerFrom(context.Background(), fallback))

	scoped := fallback.WithField("request_id", "r1")
	ctx := (&CtxLogger{scoped}).WithContext(context.Background())
	assert.Same(t, scoped, LoggerFrom(ctx, fallback))
	assert.Same(t, scoped, FromContext(ctx).Logger)
}

func TestZapAdapter(t *testing.T) {
	var buf bytes.Buffer
	zl := NewZapLogger(New(InfoLevel, &buf)).Named("secondorder").With(zap.String("method", "bfgs"))

	zl.Debug("suppressed")
	zl.Info("step",
		zap.Int("iteration", 3),
		zap.Float64("alpha", 0.25),
		zap.Duration("elapsed", 1500*time.Millisecond),
		zap.Bool("reset", true),
	)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "INFO", e["level"])
	assert.Equal(t, "step", e["message"])
	assert.Equal(t, "bfgs", e["method"])
	assert.Equal(t, "secondorder", e["logger"])
	assert.EqualValues(t, 3, e["iteration"])
	assert.InDelta(t, 0.25, e["alpha"], 1e-12)
	assert.Equal(t, "1.5s", e["elapsed"])
	assert.Equal(t, true, e["reset"])
	assert.Contains(t, e["caller"], "logging/logger_test.go")
}

func TestMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		status int
		level  string
	}{
		{"ok", http.StatusOK, "INFO"},
		{"client error", http.StatusNotFound, "WARN"},
		{"server error", http.StatusInternalServerError, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(InfoLevel, &buf)

			var sawLogger bool
			h := Middleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, sawLogger = r.Context().Value(ctxLoggerKey{}).(*CtxLogger)
				w.WriteHeader(tt.status)
			}))

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/optimizations", nil))

			assert.True(t, sawLogger)
			entries := decodeLines(t, &buf)
			require.Len(t, entries, 1)
			assert.Equal(t, tt.level, entries[0]["level"])
			assert.Equal(t, "/api/v1/optimizations", entries[0]["path"])
			assert.EqualValues(t, tt.status, entries[0]["status"])
		})
	}
}

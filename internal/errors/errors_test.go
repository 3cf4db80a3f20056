package errors

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/logging"
)

func TestErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"message only", New("bad run file"), "bad run file"},
		{
			"operation and component",
			New("bad run file").WithOperation("load").WithComponent("config"),
			"bad run file: operation=load, component=config",
		},
		{"wrapped", Wrap(io.EOF, "read runs"), "read runs: EOF"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "nothing"))
	assert.Nil(t, Wrapf(nil, "nothing %d", 1))

	inner := New("parse failed")
	outer := Wrapf(inner, "run %q", "rosen")

	assert.Equal(t, `run "rosen": parse failed`, outer.Error())
	assert.Equal(t, inner.StackTrace(), outer.StackTrace())
	assert.NotEmpty(t, outer.StackTrace())
	assert.Equal(t, "parse failed", inner.Message, "wrapping must not modify the cause")

	var got *Error
	require.True(t, As(outer, &got))
	assert.Same(t, outer, got)
	assert.Same(t, inner, Unwrap(outer))

	chained := fmt.Errorf("submit: %w", Wrap(io.ErrUnexpectedEOF, "decode"))
	assert.True(t, Is(chained, io.ErrUnexpectedEOF))
	assert.False(t, Is(chained, io.EOF))
}

func TestStackTraceSkipsErrorsPackage(t *testing.T) {
	err := New("boom")
	require.NotEmpty(t, err.StackTrace())
	assert.Contains(t, err.StackTrace()[0], "TestStackTraceSkipsErrorsPackage")
	for _, frame := range err.StackTrace() {
		assert.NotContains(t, frame, "internal/errors/errors.go")
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.InfoLevel, &buf)

	h := RecoveryMiddleware(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("objective exploded")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/optimize?debug=1", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "Recovered from panic", entry["message"])
	assert.Equal(t, "debug=1", entry["query"])
	assert.True(t, strings.HasPrefix(entry["error"].(string), "panic: objective exploded"))
	assert.Contains(t, entry["error"], "operation=POST /api/v1/optimize")
}

func TestRecoveryMiddlewareAbort(t *testing.T) {
	h := RecoveryMiddleware(logging.New(logging.InfoLevel, io.Discard))(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic(http.ErrAbortHandler)
		}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestErrorHandler(t *testing.T) {
	tests := []struct {
		name   string
		status int
		logged bool
	}{
		{"implicit ok", 0, false},
		{"not found", http.StatusNotFound, false},
		{"server error", http.StatusServiceUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := ErrorHandler(logging.New(logging.InfoLevel, &buf))(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					if tt.status != 0 {
						w.WriteHeader(tt.status)
					}
					_, _ = w.Write([]byte("body"))
				}))

			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
			assert.Equal(t, tt.logged, buf.Len() > 0)
		})
	}
}

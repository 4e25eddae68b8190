package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestLogger(t *testing.T) (*SlogLogger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return NewSlogLogger(slog.New(h)), &buf
}

func TestSlogLogger_Levels(t *testing.T) {
	log, buf := newTestLogger(t)
	ctx := context.Background()

	log.Debug(ctx, "dbg", "a", 1)
	log.Info(ctx, "inf", "b", 2)
	log.Warn(ctx, "wrn", "c", 3)
	log.Error(ctx, "err", "d", 4)

	out := buf.String()
	for _, want := range []string{
		"level=DEBUG", "msg=dbg", "a=1",
		"level=INFO", "msg=inf", "b=2",
		"level=WARN", "msg=wrn", "c=3",
		"level=ERROR", "msg=err", "d=4",
	} {
		assert.Contains(t, out, want)
	}
}

func TestSlogLogger_WithAndRequestID(t *testing.T) {
	log, buf := newTestLogger(t)
	ctx := ContextWithRequestID(context.Background(), "req-1")

	log.With("module", "files").Info(ctx, "uploaded", "path", "a.txt")

	out := buf.String()
	for _, want := range []string{"module=files", "path=a.txt", "request_id=req-1"} {
		assert.Contains(t, out, want)
	}
}

func TestSlogLogger_NoRequestIDWithoutContextValue(t *testing.T) {
	log, buf := newTestLogger(t)
	log.Info(context.TODO(), "plain")
	assert.False(t, strings.Contains(buf.String(), "request_id"))
	assert.Equal(t, "", RequestIDFromContext(context.Background()))
}

func TestSlogLogger_CallerFields(t *testing.T) {
	log, buf := newTestLogger(t)
	ctx := ContextWithCaller(ContextWithRequestID(context.Background(), "req-2"), "did:example:alice", "did:example:notes")

	log.Info(ctx, "file uploaded", "path", "a.txt")
	out := buf.String()
	for _, want := range []string{"request_id=req-2", "user_did=did:example:alice", "app_did=did:example:notes", "path=a.txt"} {
		assert.Contains(t, out, want)
	}

	buf.Reset()
	log.Info(ctx, "backup started", "user_did", "did:example:bob")
	assert.Equal(t, 1, strings.Count(buf.String(), "user_did="), "an explicit key is not repeated")
	assert.Contains(t, buf.String(), "user_did=did:example:bob")

	buf.Reset()
	log.Debug(ContextWithCaller(context.Background(), "did:example:alice", ""), "no app")
	assert.Contains(t, buf.String(), "user_did=did:example:alice")
	assert.NotContains(t, buf.String(), "app_did")

	userDID, appDID := CallerFromContext(ctx)
	assert.Equal(t, "did:example:alice", userDID)
	assert.Equal(t, "did:example:notes", appDID)
}

func TestSlogLogger_SkipsDisabledLevels(t *testing.T) {
	var buf bytes.Buffer
	log := NewSlogLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})))
	log.Info(ContextWithCaller(context.Background(), "did:example:alice", ""), "quiet")
	log.Warn(context.Background(), "loud")
	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "msg=loud")
}

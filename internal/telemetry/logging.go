package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	slogmulti "github.com/samber/slog-multi"

	"github.com/basket/forager/internal/shared"
)

var level = new(slog.LevelVar)

// SetLevel changes the level of every logger built by NewLogger. Config
// reloads call it.
func SetLevel(name string) {
	level.Set(parseLevel(name))
}

// NewLogger writes JSON lines to homeDir/logs/system.jsonl and, unless
// quiet, text lines to stdout. Secrets are redacted in both.
func NewLogger(homeDir, lvl string, quiet bool) (*slog.Logger, io.Closer, error) {
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, err
	}

	logFilePath := filepath.Join(logDir, "system.jsonl")
	file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}

	SetLevel(lvl)
	handlers := []slog.Handler{
		slog.NewJSONHandler(file, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: replaceAttr,
		}),
	}
	if !quiet {
		handlers = append(handlers, slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: replaceAttr,
		}))
	}
	h := slogmulti.Pipe(slogmulti.NewHandleInlineMiddleware(contextAttrs)).Handler(slogmulti.Fanout(handlers...))
	return slog.New(h).With("component", "runtime"), file, nil
}

// contextAttrs copies the IDs carried by ctx onto the record.
func contextAttrs(ctx context.Context, r slog.Record, next func(context.Context, slog.Record) error) error {
	if id := shared.AgentID(ctx); id != "" {
		r.AddAttrs(slog.String("agent_id", id))
	}
	if id := shared.TaskID(ctx); id != "" {
		r.AddAttrs(slog.String("task_id", id))
	}
	if n := shared.Iteration(ctx); n > 0 {
		r.AddAttrs(slog.Uint64("iteration", n))
	}
	if id := shared.TraceID(ctx); id != "" {
		r.AddAttrs(slog.String("trace_id", id))
	}
	return next(ctx, r)
}

func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		a.Key = "timestamp"
		return a
	}
	if a.Value.Kind() != slog.KindString {
		return a
	}
	v := a.Value.String()
	if r := shared.RedactValue(a.Key, v); r != v {
		return slog.String(a.Key, r)
	}
	if redacted, ok := redactStringValue(v); ok {
		return slog.String(a.Key, redacted)
	}
	return a
}

func redactStringValue(v string) (string, bool) {
	lower := strings.ToLower(v)
	if strings.Contains(lower, "bearer ") || strings.Contains(lower, "authorization:") {
		return "[REDACTED]", true
	}
	redacted := shared.Redact(v)
	if redacted != v {
		return redacted, true
	}
	return v, false
}

func parseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

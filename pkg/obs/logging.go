package obs

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"
)

type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	orderIDKey       contextKey = "order_id"
	eventIDKey       contextKey = "event_id"
	eventTypeKey     contextKey = "event_type"

	StatusOK           = "ok"
	StatusError        = "error"
	StatusRetrying     = "retrying"
	StatusDeadLettered = "dead_lettered"
	StatusSkipped      = "skipped"
)

// Logger wraps slog with service-wide default attributes and attributes
// pulled from the request context.
type Logger struct {
	*slog.Logger
}

func initLogger(config Config) *Logger {
	level := parseLogLevel(config.LogLevel)

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String(slog.TimeKey, a.Value.Time().Format(time.RFC3339Nano))
			}
			return a
		},
	}

	var handler slog.Handler
	if config.LogPretty {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	hostname, _ := os.Hostname()

	logger := slog.New(handler).With(
		"service", config.ServiceName,
		"version", config.ServiceVersion,
		"env", config.Environment,
		"hostname", hostname,
	)

	return &Logger{Logger: logger}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithCorrelation stamps pipeline correlation identifiers onto the context.
// Empty values are skipped so callers can stamp incrementally.
func WithCorrelation(ctx context.Context, correlationID, orderID string) context.Context {
	if correlationID != "" {
		ctx = context.WithValue(ctx, correlationIDKey, correlationID)
	}
	if orderID != "" {
		ctx = context.WithValue(ctx, orderIDKey, orderID)
	}
	return ctx
}

// WithEvent stamps the identity of the envelope being handled onto the context.
func WithEvent(ctx context.Context, eventID, eventType string) context.Context {
	if eventID != "" {
		ctx = context.WithValue(ctx, eventIDKey, eventID)
	}
	if eventType != "" {
		ctx = context.WithValue(ctx, eventTypeKey, eventType)
	}
	return ctx
}

func (l *Logger) withContext(ctx context.Context) *Logger {
	attrs := []any{}
	for _, key := range []contextKey{correlationIDKey, orderIDKey, eventIDKey, eventTypeKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			attrs = append(attrs, string(key), v)
		}
	}

	if len(attrs) == 0 {
		return l
	}

	return &Logger{Logger: l.With(attrs...)}
}

func (l *Logger) Log(ctx context.Context, level slog.Level, msg string, attrs ...any) {
	l.withContext(ctx).Logger.Log(ctx, level, msg, attrs...)
}

func (l *Logger) Debug(ctx context.Context, msg string, attrs ...any) {
	l.Log(ctx, slog.LevelDebug, msg, attrs...)
}

func (l *Logger) Info(ctx context.Context, msg string, attrs ...any) {
	l.Log(ctx, slog.LevelInfo, msg, attrs...)
}

func (l *Logger) Warn(ctx context.Context, msg string, attrs ...any) {
	l.Log(ctx, slog.LevelWarn, msg, attrs...)
}

func (l *Logger) Error(ctx context.Context, msg string, err error, attrs ...any) {
	if err != nil {
		attrs = append(attrs, "error", err.Error())
	}
	l.Log(ctx, slog.LevelError, msg, attrs...)
}

// Event logs a structured pipeline event with an explicit status tag.
func (l *Logger) Event(ctx context.Context, event, status string, attrs ...any) {
	attrs = append([]any{"event", event, "status", status}, attrs...)
	l.Info(ctx, event, attrs...)
}

func (l *Logger) EventWithLatency(ctx context.Context, event, status string, latency time.Duration, attrs ...any) {
	attrs = append([]any{
		"event", event,
		"status", status,
		"latency_ms", latency.Milliseconds(),
	}, attrs...)
	l.Info(ctx, event, attrs...)
}

func StartTimer() func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		return time.Since(start)
	}
}

package obs

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

type LoggingProvider struct {
	logger *Logger
	config Config
}

func newLoggingProvider(config Config) (*LoggingProvider, error) {
	return &LoggingProvider{
		logger: initLogger(config),
		config: config,
	}, nil
}

func (lp *LoggingProvider) Logger() *Logger {
	return lp.logger
}

// WithTracing returns a logger that carries the active span's trace and
// span ids as attributes.
func (lp *LoggingProvider) WithTracing(ctx context.Context) *Logger {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return lp.logger
	}

	return &Logger{Logger: lp.logger.With(
		"trace_id", span.SpanContext().TraceID().String(),
		"span_id", span.SpanContext().SpanID().String(),
	)}
}

func (lp *LoggingProvider) Debug(ctx context.Context, msg string, attrs ...any) {
	lp.WithTracing(ctx).Debug(ctx, msg, attrs...)
}

func (lp *LoggingProvider) Info(ctx context.Context, msg string, attrs ...any) {
	lp.WithTracing(ctx).Info(ctx, msg, attrs...)
}

func (lp *LoggingProvider) Warn(ctx context.Context, msg string, attrs ...any) {
	lp.WithTracing(ctx).Warn(ctx, msg, attrs...)
}

func (lp *LoggingProvider) Error(ctx context.Context, msg string, err error, attrs ...any) {
	lp.WithTracing(ctx).Error(ctx, msg, err, attrs...)
}

func (lp *LoggingProvider) Event(ctx context.Context, event, status string, attrs ...any) {
	lp.WithTracing(ctx).Event(ctx, event, status, attrs...)
}

func (lp *LoggingProvider) Shutdown(ctx context.Context) error {
	return nil
}

func Debug(ctx context.Context, msg string, attrs ...any) {
	if globalObs != nil && globalObs.logging != nil {
		globalObs.logging.Debug(ctx, msg, attrs...)
	}
}

func Info(ctx context.Context, msg string, attrs ...any) {
	if globalObs != nil && globalObs.logging != nil {
		globalObs.logging.Info(ctx, msg, attrs...)
	}
}

func Warn(ctx context.Context, msg string, attrs ...any) {
	if globalObs != nil && globalObs.logging != nil {
		globalObs.logging.Warn(ctx, msg, attrs...)
	}
}

func Error(ctx context.Context, msg string, err error, attrs ...any) {
	if globalObs != nil && globalObs.logging != nil {
		globalObs.logging.Error(ctx, msg, err, attrs...)
	}
}

func Event(ctx context.Context, event, status string, attrs ...any) {
	if globalObs != nil && globalObs.logging != nil {
		globalObs.logging.Event(ctx, event, status, attrs...)
	}
}

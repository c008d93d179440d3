package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

type loggerKeyType struct{}

var LoggerKey = loggerKeyType{}

// RequestLogger injects a child logger with request details into the context.
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqLog := log.With(
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
			)
			ctx := context.WithValue(r.Context(), LoggerKey, reqLog)
			reqLog.Info("request started")
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FromContext returns the request-scoped logger, falling back to the default.
func FromContext(ctx context.Context) *slog.Logger {
	if log, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return log
	}
	return slog.Default()
}

// InstrumentEvent wraps an inbound socket event handler with start/duration
// logging. It observes only; the event and its payload are never mutated.
func InstrumentEvent(log *slog.Logger, event string, firstArg any, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	if err != nil {
		log.Warn("event handled", "event", event, "elapsed_ms", elapsed.Milliseconds(), "arg", firstArg, "err", err)
		return err
	}
	log.Info("event handled", "event", event, "elapsed_ms", elapsed.Milliseconds(), "arg", firstArg)
	return nil
}

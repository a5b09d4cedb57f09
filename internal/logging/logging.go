package logging

import (
	"context"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	sugar *zap.SugaredLogger
	once  sync.Once
	mu    sync.RWMutex
)

// Logger is the structured logging surface used across the project.
type Logger interface {
	Infow(msg string, keysAndValues ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	Fatalw(msg string, keysAndValues ...interface{})
	Sync() error
}

type noopLogger struct{}

func (n noopLogger) Infow(msg string, keysAndValues ...interface{})  {}
func (n noopLogger) Debugw(msg string, keysAndValues ...interface{}) {}
func (n noopLogger) Warnw(msg string, keysAndValues ...interface{})  {}
func (n noopLogger) Errorw(msg string, keysAndValues ...interface{}) {}
func (n noopLogger) Fatalw(msg string, keysAndValues ...interface{}) {}
func (n noopLogger) Sync() error                                     { return nil }

// current starts as a no-op so packages can log before Init runs (tests).
var current Logger = noopLogger{}

// Init builds the global sugared logger. level overrides LOG_LEVEL when
// non-empty. Standard library log output is redirected into zap. Safe to call
// multiple times; only the first call has effect.
func Init(level string) *zap.SugaredLogger {
	once.Do(func() {
		if level == "" {
			level = os.Getenv("LOG_LEVEL")
		}
		cfg := zap.Config{
			Encoding:         "json",
			EncoderConfig:    zap.NewProductionEncoderConfig(),
			OutputPaths:      []string{"stdout"},
			ErrorOutputPaths: []string{"stderr"},
		}
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncoderConfig.CallerKey = "caller"
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))

		logger, err := cfg.Build(zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zap.ErrorLevel))
		if err != nil {
			logger = zap.NewNop()
		}
		_ = zap.RedirectStdLog(logger)
		sugar = logger.Sugar()
		SetLogger(sugar)
	})
	return sugar
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zap.DebugLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// Sugar returns the initialized sugared logger (nil before Init).
func Sugar() *zap.SugaredLogger { return sugar }

// SetLogger replaces the package-level logger. Passing nil restores the
// logger built by Init, or a no-op logger if Init was never called.
func SetLogger(l Logger) {
	mu.Lock()
	defer mu.Unlock()
	if l != nil {
		current = l
		return
	}
	if sugar != nil {
		current = sugar
	} else {
		current = noopLogger{}
	}
}

// GetLogger returns the current Logger.
func GetLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

func Infow(msg string, keysAndValues ...interface{})  { GetLogger().Infow(msg, keysAndValues...) }
func Debugw(msg string, keysAndValues ...interface{}) { GetLogger().Debugw(msg, keysAndValues...) }
func Warnw(msg string, keysAndValues ...interface{})  { GetLogger().Warnw(msg, keysAndValues...) }
func Errorw(msg string, keysAndValues ...interface{}) { GetLogger().Errorw(msg, keysAndValues...) }
func Fatalw(msg string, keysAndValues ...interface{}) { GetLogger().Fatalw(msg, keysAndValues...) }

// Sync flushes any buffered logs.
func Sync() error { return GetLogger().Sync() }

type ctxKeyType struct{}

// WithFields returns a context carrying the key/value pairs, appended to any
// already present.
func WithFields(ctx context.Context, kv ...interface{}) context.Context {
	if len(kv) == 0 {
		return ctx
	}
	prev, _ := ctx.Value(ctxKeyType{}).([]interface{})
	merged := make([]interface{}, 0, len(prev)+len(kv))
	merged = append(merged, prev...)
	merged = append(merged, kv...)
	return context.WithValue(ctx, ctxKeyType{}, merged)
}

// FromContext returns any fields previously attached with WithFields.
func FromContext(ctx context.Context) []interface{} {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxKeyType{}).([]interface{}); ok {
		return v
	}
	return nil
}

func merge(ctx context.Context, kv []interface{}) []interface{} {
	ctxFields := FromContext(ctx)
	if len(ctxFields) == 0 {
		return kv
	}
	merged := make([]interface{}, 0, len(ctxFields)+len(kv))
	merged = append(merged, ctxFields...)
	merged = append(merged, kv...)
	return merged
}

// InfowCtx merges fields from ctx with kv and logs at info level.
func InfowCtx(ctx context.Context, msg string, kv ...interface{}) { Infow(msg, merge(ctx, kv)...) }

// DebugwCtx merges fields from ctx with kv and logs at debug level.
func DebugwCtx(ctx context.Context, msg string, kv ...interface{}) { Debugw(msg, merge(ctx, kv)...) }

// WarnwCtx merges fields from ctx with kv and logs at warn level.
func WarnwCtx(ctx context.Context, msg string, kv ...interface{}) { Warnw(msg, merge(ctx, kv)...) }

// ErrorwCtx merges fields from ctx with kv and logs at error level.
func ErrorwCtx(ctx context.Context, msg string, kv ...interface{}) { Errorw(msg, merge(ctx, kv)...) }

// SessionFields returns canonical fields describing a session.
func SessionFields(sessionID, sourceLanguage, targetLanguage string) []interface{} {
	return []interface{}{"session.id", sessionID, "session.source_language", sourceLanguage, "session.target_language", targetLanguage}
}

// UtteranceFields returns structured fields for an utterance. durationMs is
// derived from the PCM byte count at 16 kHz mono.
func UtteranceFields(correlationID string, frames int, bytes int) []interface{} {
	durationMs := (bytes / 2) * 1000 / 16000
	return []interface{}{"correlation_id", correlationID, "frames", frames, "bytes", bytes, "duration_ms", durationMs}
}

package logging

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapAdapter wraps our Logger to implement the zapcore.Core interface, so
// components written against *zap.Logger share the service's output.
type ZapAdapter struct {
	logger *Logger
}

var _ zapcore.Core = (*ZapAdapter)(nil)

// NewZapAdapter creates a new zapcore.Core that forwards logs to our Logger
func NewZapAdapter(logger *Logger) *ZapAdapter {
	return &ZapAdapter{
		logger: logger,
	}
}

func levelOf(level zapcore.Level) LogLevel {
	switch level {
	case zapcore.DebugLevel:
		return DebugLevel
	case zapcore.InfoLevel:
		return InfoLevel
	case zapcore.WarnLevel:
		return WarnLevel
	case zapcore.ErrorLevel, zapcore.DPanicLevel, zapcore.PanicLevel:
		return ErrorLevel
	case zapcore.FatalLevel:
		return FatalLevel
	default:
		return InfoLevel
	}
}

// Enabled implements zapcore.Core
func (a *ZapAdapter) Enabled(level zapcore.Level) bool {
	return a.logger.shouldLog(levelOf(level))
}

// fieldMap encodes zap fields through zap's own map encoder, which knows the
// in-memory representation of every field type.
func fieldMap(fields []zapcore.Field, extra int) map[string]interface{} {
	enc := zapcore.NewMapObjectEncoder()
	for _, field := range fields {
		field.AddTo(enc)
	}
	out := make(map[string]interface{}, len(enc.Fields)+extra)
	for k, v := range enc.Fields {
		switch v := v.(type) {
		case time.Duration:
			out[k] = v.String()
		case time.Time:
			out[k] = v.UTC().Format(time.RFC3339Nano)
		default:
			out[k] = v
		}
	}
	return out
}

// With implements zapcore.Core
func (a *ZapAdapter) With(fields []zapcore.Field) zapcore.Core {
	return &ZapAdapter{
		logger: a.logger.WithFields(fieldMap(fields, 0)),
	}
}

// Check implements zapcore.Core
func (a *ZapAdapter) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if a.Enabled(ent.Level) {
		return ce.AddCore(ent, a)
	}
	return ce
}

// Write implements zapcore.Core. Fatal entries exit through the Logger.
func (a *ZapAdapter) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	f := fieldMap(fields, 2)
	if ent.Caller.Defined {
		f["caller"] = ent.Caller.TrimmedPath()
	}
	if ent.LoggerName != "" {
		f["logger"] = ent.LoggerName
	}

	a.logger.log(levelOf(ent.Level), ent.Message, f, -1)
	return nil
}

// Sync implements zapcore.Core
func (a *ZapAdapter) Sync() error {
	return nil
}

// NewZapLogger creates a new *zap.Logger that forwards logs to our Logger
func NewZapLogger(logger *Logger) *zap.Logger {
	return zap.New(NewZapAdapter(logger), zap.AddCaller())
}

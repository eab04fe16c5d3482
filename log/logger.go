// Package log provides structured JSON logging bound to a session.
//
// Entries carry session_id, and conversation_id when known. Per-call data
// goes under a "fields" object so entries from every component share one
// shape.
package log

import (
	"io"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Context identifies the session a logger reports for.
type Context struct {
	SessionID      string
	ConversationID string // optional
}

// Logger is a session-scoped zap logger. A nil *Logger discards everything.
type Logger struct {
	zap *zap.Logger
}

// NewNop returns a logger that discards all output.
func NewNop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

// ParseLevel maps a level name to a zap level. Unknown names and levels
// above error map to info.
func ParseLevel(name string) zapcore.Level {
	name = strings.ToLower(name)
	if name == "warning" {
		name = "warn"
	}
	lvl, err := zapcore.ParseLevel(name)
	if err != nil || lvl > zapcore.ErrorLevel {
		return zapcore.InfoLevel
	}
	return lvl
}

// NewLoggerWithWriter returns a logger writing JSON lines to w at level and
// above.
func NewLoggerWithWriter(ctx Context, w io.Writer, level zapcore.Level) *Logger {
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		NameKey:     "component",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	})
	base := zap.New(zapcore.NewCore(enc, zapcore.AddSync(w), level)).
		With(zap.String("session_id", ctx.SessionID))
	if ctx.ConversationID != "" {
		base = base.With(zap.String("conversation_id", ctx.ConversationID))
	}
	return &Logger{zap: base}
}

// Named returns a child logger tagged with a component name.
func (l *Logger) Named(component string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{zap: l.zap.Named(component)}
}

func (l *Logger) write(level zapcore.Level, message string, fields map[string]any) {
	if l == nil {
		return
	}
	ce := l.zap.Check(level, message)
	if ce == nil {
		return
	}
	if len(fields) == 0 {
		ce.Write()
		return
	}
	ce.Write(zap.Any("fields", fields))
}

// Debug logs at debug level.
func (l *Logger) Debug(message string, fields map[string]any) {
	l.write(zapcore.DebugLevel, message, fields)
}

// Info logs at info level.
func (l *Logger) Info(message string, fields map[string]any) {
	l.write(zapcore.InfoLevel, message, fields)
}

// Warn logs at warn level.
func (l *Logger) Warn(message string, fields map[string]any) {
	l.write(zapcore.WarnLevel, message, fields)
}

// Error logs at error level.
func (l *Logger) Error(message string, fields map[string]any) {
	l.write(zapcore.ErrorLevel, message, fields)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	if l == nil {
		return nil
	}
	return l.zap.Sync()
}

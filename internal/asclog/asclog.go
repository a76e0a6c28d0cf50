// Package asclog is a minimal level-gated logger. The corpus this module is
// grown from never reaches for a logging library, so this wraps the
// standard log.Logger rather than adding one.
package asclog

import (
	"fmt"
	"io"
	"log"
	"os"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func ParseLevel(s string) (Level, error) {
	switch s {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level: %q", s)
	}
}

type Logger struct {
	level Level
	inner *log.Logger
}

func New(w io.Writer, level Level) *Logger {
	return &Logger{level: level, inner: log.New(w, "", log.LstdFlags)}
}

func Default() *Logger {
	return New(os.Stderr, LevelInfo)
}

func (l *Logger) log(level Level, prefix, format string, args ...any) {
	if l == nil || level < l.level {
		return
	}
	l.inner.Printf(prefix+" "+format, args...)
}

func (l *Logger) Debugf(format string, args ...any) { l.log(LevelDebug, "[debug]", format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.log(LevelInfo, "[info]", format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.log(LevelWarn, "[warn]", format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.log(LevelError, "[error]", format, args...) }

// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rosnode

import (
	"fmt"
	"io"
	"log"
	"os"
)

// LogLevel is a leveled logging threshold.
type LogLevel int

const (
	LogError LogLevel = iota
	LogWarn
	LogInfo
	LogDebug
	LogTrace
)

func (l LogLevel) String() string {
	switch l {
	case LogError:
		return "ERROR"
	case LogWarn:
		return "WARN"
	case LogInfo:
		return "INFO"
	case LogDebug:
		return "DEBUG"
	case LogTrace:
		return "TRACE"
	default:
		return "UNKNOWN"
	}
}

// Logger is a minimal leveled wrapper around *log.Logger. The node and
// every subsystem take an injected *Logger (never a package-global), so
// two Nodes in the same process can log independently (and tests can
// silence logging entirely with NewLogger(io.Discard, LogError)).
type Logger struct {
	level LogLevel
	std   *log.Logger
}

// NewLogger builds a Logger writing to w, with messages below level
// suppressed.
func NewLogger(w io.Writer, level LogLevel) *Logger {
	return &Logger{level: level, std: log.New(w, "", log.LstdFlags|log.Lmicroseconds)}
}

// defaultLogger logs at Warn level to stderr.
func defaultLogger() *Logger { return NewLogger(os.Stderr, LogWarn) }

func (l *Logger) log(level LogLevel, format string, args ...any) {
	if l == nil || level > l.level {
		return
	}
	l.std.Output(3, fmt.Sprintf("[%s] %s", level, fmt.Sprintf(format, args...)))
}

func (l *Logger) Errorf(format string, args ...any) { l.log(LogError, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.log(LogWarn, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.log(LogInfo, format, args...) }
func (l *Logger) Debugf(format string, args ...any) { l.log(LogDebug, format, args...) }
func (l *Logger) Tracef(format string, args ...any) { l.log(LogTrace, format, args...) }

/*
 * MIT License
 *
 * Copyright (c) 2024 Sabouaram
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package logger provides the structured logger shared by every
// component of the server core. It wraps logrus the way
// nabbar-golib/logger wraps it: a small Logger interface, a level type,
// and field injection, instead of each package calling log.Printf
// directly.
package logger

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Level mirrors logrus.Level but keeps the server core from depending
// on logrus types outside this package.
type Level uint32

const (
	PanicLevel Level = iota
	FatalLevel
	ErrorLevel
	WarnLevel
	InfoLevel
	DebugLevel
	TraceLevel
)

func (l Level) toLogrus() logrus.Level {
	return logrus.Level(l)
}

// Fields is a set of structured key/value pairs attached to a log entry.
type Fields map[string]interface{}

// FuncLog is a factory returning a Logger, used for dependency injection
// the way nabbar-golib/logger.FuncLog is used across the golib packages.
type FuncLog func() Logger

// Logger is the logging contract used by every package in this module.
type Logger interface {
	io.Writer

	SetLevel(lvl Level)
	GetLevel() Level

	WithFields(f Fields) Logger

	Trace(args ...interface{})
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})

	Tracef(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type entry struct {
	mu  sync.Mutex
	lvl atomic.Uint32
	log *logrus.Logger
	fld logrus.Fields
}

// New builds a Logger writing to out (os.Stderr when nil) at the given
// level, formatted the way nabbar-golib/logger's default formatter does:
// structured fields plus a plain text fallback.
func New(out io.Writer, lvl Level) Logger {
	if out == nil {
		out = os.Stderr
	}

	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(lvl.toLogrus())
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		QuoteEmptyFields: true,
	})

	e := &entry{log: l, fld: logrus.Fields{}}
	e.lvl.Store(uint32(lvl))
	return e
}

func (e *entry) Write(p []byte) (int, error) {
	e.log.Info(string(p))
	return len(p), nil
}

func (e *entry) SetLevel(lvl Level) {
	e.lvl.Store(uint32(lvl))
	e.log.SetLevel(lvl.toLogrus())
}

func (e *entry) GetLevel() Level {
	return Level(e.lvl.Load())
}

func (e *entry) WithFields(f Fields) Logger {
	e.mu.Lock()
	defer e.mu.Unlock()

	merged := make(logrus.Fields, len(e.fld)+len(f))
	for k, v := range e.fld {
		merged[k] = v
	}
	for k, v := range f {
		merged[k] = v
	}

	return &entry{log: e.log, fld: merged}
}

func (e *entry) logEntry() *logrus.Entry {
	return e.log.WithFields(e.fld)
}

func (e *entry) Trace(args ...interface{}) { e.logEntry().Trace(args...) }
func (e *entry) Debug(args ...interface{}) { e.logEntry().Debug(args...) }
func (e *entry) Info(args ...interface{})  { e.logEntry().Info(args...) }
func (e *entry) Warn(args ...interface{})  { e.logEntry().Warn(args...) }
func (e *entry) Error(args ...interface{}) { e.logEntry().Error(args...) }

func (e *entry) Tracef(format string, args ...interface{}) { e.logEntry().Tracef(format, args...) }
func (e *entry) Debugf(format string, args ...interface{}) { e.logEntry().Debugf(format, args...) }
func (e *entry) Infof(format string, args ...interface{})  { e.logEntry().Infof(format, args...) }
func (e *entry) Warnf(format string, args ...interface{})  { e.logEntry().Warnf(format, args...) }
func (e *entry) Errorf(format string, args ...interface{}) { e.logEntry().Errorf(format, args...) }

// Default returns a stderr logger at info level, used when no logger is
// injected (CLI default, unit tests).
func Default() Logger {
	return New(os.Stderr, InfoLevel)
}

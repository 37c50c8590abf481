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

// Package errors provides the error hierarchy used across the server core:
// a numeric CodeError classification (mirroring the error kinds of
// spec §7), parent chaining so a connection-level failure can carry the
// parse or protocol error that caused it, and compatibility with the
// standard errors.Is / errors.As.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// CodeError classifies a failure the way spec §7 enumerates error kinds.
type CodeError uint16

const (
	CodeUnknown CodeError = iota
	CodeParse             // C2 ParseError
	CodeProtocol          // C4 ProtocolError (AI misuse)
	CodeOverLimit         // C8 OverLimit (concurrency / max_requests)
	CodeApplication       // C5 ApplicationError
	CodeLifespan          // C7 LifespanStartupFailed
	CodeIO                // C1/C3 IOError
	CodeTimeout           // timeout failures
	CodeBind              // boot-time listener bind failure
	CodeConfig            // configuration validation
)

func (c CodeError) String() string {
	switch c {
	case CodeParse:
		return "parse-error"
	case CodeProtocol:
		return "protocol-error"
	case CodeOverLimit:
		return "over-limit"
	case CodeApplication:
		return "application-error"
	case CodeLifespan:
		return "lifespan-error"
	case CodeIO:
		return "io-error"
	case CodeTimeout:
		return "timeout"
	case CodeBind:
		return "bind-error"
	case CodeConfig:
		return "config-error"
	default:
		return "unknown-error"
	}
}

// Error extends the standard error with a CodeError classification and a
// parent chain, so a high-level failure keeps the original cause
// attached for logging without losing its own identity.
type Error interface {
	error
	Code() CodeError
	IsCode(c CodeError) bool
	AddParent(err ...error) Error
	HasParent() bool
	Unwrap() error
}

type wrapped struct {
	code   CodeError
	msg    string
	parent []error
	frame  runtime.Frame
}

// New creates an Error of the given code with an optional message and
// captures the immediate caller's frame for diagnostics.
func New(code CodeError, msg string) Error {
	return newAt(code, msg, 2)
}

func newAt(code CodeError, msg string, skip int) Error {
	var fr runtime.Frame

	if pc, file, line, ok := runtime.Caller(skip); ok {
		fn := runtime.FuncForPC(pc)
		name := "unknown"
		if fn != nil {
			name = fn.Name()
		}
		fr = runtime.Frame{File: file, Line: line, Function: name}
	}

	return &wrapped{code: code, msg: msg, frame: fr}
}

// Wrap attaches err as the parent cause of a new Error carrying code.
func Wrap(code CodeError, msg string, err error) Error {
	e := newAt(code, msg, 2)
	if err != nil {
		e.AddParent(err)
	}
	return e
}

func (e *wrapped) Error() string {
	var b strings.Builder

	if e.msg != "" {
		b.WriteString(e.msg)
	} else {
		b.WriteString(e.code.String())
	}

	if e.frame.Function != "" {
		b.WriteString(fmt.Sprintf(" (%s:%d)", e.frame.File, e.frame.Line))
	}

	for _, p := range e.parent {
		b.WriteString(": ")
		b.WriteString(p.Error())
	}

	return b.String()
}

func (e *wrapped) Code() CodeError {
	return e.code
}

func (e *wrapped) IsCode(c CodeError) bool {
	return e.code == c
}

func (e *wrapped) AddParent(err ...error) Error {
	for _, p := range err {
		if p != nil {
			e.parent = append(e.parent, p)
		}
	}
	return e
}

func (e *wrapped) HasParent() bool {
	return len(e.parent) > 0
}

func (e *wrapped) Unwrap() error {
	if len(e.parent) == 0 {
		return nil
	}
	return e.parent[0]
}

// Is reports whether the first error of this package's Error type found
// in err's chain (via errors.As) carries the given CodeError.
func Is(err error, code CodeError) bool {
	var w *wrapped
	if errors.As(err, &w) {
		return w.code == code
	}
	return false
}

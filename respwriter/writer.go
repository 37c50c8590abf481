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

// Package respwriter is the response writer (spec §4.3, component C3):
// it serializes the status line, headers, and body exactly once per
// cycle, deriving Content-Length/chunked framing from what the
// application sends rather than requiring the application to pick.
package respwriter

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	liberr "github.com/sabouaram/asgid/errors"

	"github.com/sabouaram/asgid/ai"
)

type frameMode int

const (
	frameUndecided frameMode = iota
	frameContentLength
	frameChunked
)

// Options controls the server/date header toggles (SPEC_FULL.md §4,
// uvicorn's server_header/date_header settings).
type Options struct {
	ServerToken  string
	EmitServer   bool
	EmitDate     bool
	DateProvider func() string
}

// Writer serializes exactly one HTTP response onto w (spec §4.3). It is
// not safe for concurrent use; a RequestCycle owns exactly one Writer.
type Writer struct {
	w    io.Writer
	opt  Options
	vers string

	started   bool
	finalized bool
	keepAlive bool

	status  int
	headers ai.Headers

	framing   frameMode
	remaining int64
}

// New creates a Writer for one HTTP exchange on the given HTTP version
// ("1.0" or "1.1"), defaulting keepAlive per spec §4.3's HTTP/1.0 rule.
func New(w io.Writer, httpVersion string, opt Options) *Writer {
	return &Writer{
		w:         w,
		opt:       opt,
		vers:      httpVersion,
		framing:   frameUndecided,
		keepAlive: httpVersion == "1.1",
	}
}

// KeepAlive reports whether the connection should stay open after this
// cycle completes, as derived from the Connection header (spec §4.3).
func (rw *Writer) KeepAlive() bool { return rw.keepAlive }

// Status returns the response status code, for the access log; zero
// until Start (or one of the WriteAutoNNN helpers) has run.
func (rw *Writer) Status() int { return rw.status }

// Start begins the response (spec §4.4 AwaitingStart -> HeadersSent/
// StreamingBody transition's side effect: "Emit status+headers via C3").
// If headers already carry Content-Length, framing is decided and the
// head is flushed immediately; otherwise the head is buffered until the
// first Body call reveals whether the response is single-chunk.
func (rw *Writer) Start(status int, headers ai.Headers) error {
	if rw.started {
		return liberr.New(liberr.CodeProtocol, "response already started")
	}

	rw.started = true
	rw.status = status
	rw.headers = headers

	if conn, ok := headers.Get("connection"); ok && strings.EqualFold(strings.TrimSpace(conn), "close") {
		rw.keepAlive = false
	}

	if cl, ok := headers.Get("content-length"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || n < 0 {
			return liberr.New(liberr.CodeProtocol, "invalid content-length header")
		}
		rw.framing = frameContentLength
		rw.remaining = n
		return rw.flushHead(headerOverride{})
	}

	return nil
}

// Body writes one ResponseBody message (spec §4.4/§4.10 table). The
// final call must have moreBody=false.
func (rw *Writer) Body(chunk []byte, moreBody bool) error {
	if !rw.started {
		return liberr.New(liberr.CodeProtocol, "response body sent before start")
	}
	if rw.finalized {
		return liberr.New(liberr.CodeProtocol, "response already finalized")
	}

	switch rw.framing {
	case frameContentLength:
		if int64(len(chunk)) > rw.remaining {
			rw.finalized = true
			rw.keepAlive = false
			return liberr.New(liberr.CodeIO, "response body exceeds content-length, aborting connection")
		}
		if _, err := rw.w.Write(chunk); err != nil {
			return liberr.Wrap(liberr.CodeIO, "write response body", err)
		}
		rw.remaining -= int64(len(chunk))
		if !moreBody {
			rw.finalized = true
		}
		return nil

	case frameChunked:
		if err := writeChunk(rw.w, chunk); err != nil {
			return liberr.Wrap(liberr.CodeIO, "write chunked body", err)
		}
		if !moreBody {
			if err := writeFinalChunk(rw.w); err != nil {
				return liberr.Wrap(liberr.CodeIO, "write chunked terminator", err)
			}
			rw.finalized = true
		}
		return nil

	default: // frameUndecided: this Body call determines the framing.
		if !moreBody {
			rw.framing = frameContentLength
			rw.remaining = 0
			if err := rw.flushHead(headerOverride{name: "content-length", value: strconv.Itoa(len(chunk))}); err != nil {
				return err
			}
			if _, err := rw.w.Write(chunk); err != nil {
				return liberr.Wrap(liberr.CodeIO, "write response body", err)
			}
			rw.finalized = true
			return nil
		}

		rw.framing = frameChunked
		if err := rw.flushHead(headerOverride{name: "transfer-encoding", value: "chunked"}); err != nil {
			return err
		}
		if err := writeChunk(rw.w, chunk); err != nil {
			return liberr.Wrap(liberr.CodeIO, "write chunked body", err)
		}
		return nil
	}
}

// Finalize completes a response that never received a Body call (e.g. a
// headers-only 204), and forces closure on abnormal termination mid
// stream (spec §4.4 failure semantics: "closed abruptly, no trailing
// chunked terminator").
func (rw *Writer) Finalize(abrupt bool) error {
	if rw.finalized {
		return nil
	}

	if !rw.started {
		return rw.WriteAuto500()
	}

	if abrupt {
		rw.finalized = true
		rw.keepAlive = false
		return nil
	}

	switch rw.framing {
	case frameUndecided:
		rw.framing = frameContentLength
		rw.remaining = 0
		if err := rw.flushHead(headerOverride{name: "content-length", value: "0"}); err != nil {
			return err
		}
	case frameChunked:
		if err := writeFinalChunk(rw.w); err != nil {
			return liberr.Wrap(liberr.CodeIO, "write chunked terminator", err)
		}
	}

	rw.finalized = true
	return nil
}

// WriteAuto500 emits the autogenerated 500 response for an application
// that completed without ever sending ResponseStart (spec §4.4, §7,
// §9 Open Question: headers are content-type/connection/content-length).
func (rw *Writer) WriteAuto500() error {
	rw.keepAlive = false
	return rw.writeAutoResponse(http.StatusInternalServerError, ai.Headers{
		{Name: []byte("connection"), Value: []byte("close")},
	})
}

// WriteAuto503 emits the autogenerated 503 for limit_concurrency
// overflow (spec §4.8, §7).
func (rw *Writer) WriteAuto503() error {
	rw.keepAlive = false
	return rw.writeAutoResponse(http.StatusServiceUnavailable, ai.Headers{
		{Name: []byte("connection"), Value: []byte("close")},
	})
}

// WriteAuto500ForStatus emits an autogenerated, connection-closing
// response for a given status, used for head-parse failures that never
// reach a RequestCycle (spec §8 B1: 400 malformed, 431 head too large).
func (rw *Writer) WriteAuto500ForStatus(status int) error {
	rw.keepAlive = false
	return rw.writeAutoResponse(status, ai.Headers{
		{Name: []byte("connection"), Value: []byte("close")},
	})
}

func (rw *Writer) writeAutoResponse(status int, extra ai.Headers) error {
	if rw.started {
		return liberr.New(liberr.CodeProtocol, "cannot write auto response after start")
	}

	rw.started = true
	rw.status = status
	rw.headers = append(ai.Headers{
		{Name: []byte("content-type"), Value: []byte("text/plain; charset=utf-8")},
	}, extra...)
	rw.framing = frameContentLength
	rw.remaining = 0

	if err := rw.flushHead(headerOverride{name: "content-length", value: "0"}); err != nil {
		return err
	}

	rw.finalized = true
	return nil
}

type headerOverride struct{ name, value string }

func (rw *Writer) flushHead(override headerOverride) error {
	var b strings.Builder

	fmt.Fprintf(&b, "HTTP/%s %d %s\r\n", rw.vers, rw.status, http.StatusText(rw.status))

	if rw.opt.EmitServer && rw.opt.ServerToken != "" {
		fmt.Fprintf(&b, "server: %s\r\n", rw.opt.ServerToken)
	}

	if rw.opt.EmitDate && rw.opt.DateProvider != nil {
		fmt.Fprintf(&b, "date: %s\r\n", rw.opt.DateProvider())
	}

	for _, h := range rw.headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h.Name, h.Value)
	}

	if override.name != "" {
		fmt.Fprintf(&b, "%s: %s\r\n", override.name, override.value)
	}

	b.WriteString("\r\n")

	if _, err := io.WriteString(rw.w, b.String()); err != nil {
		return liberr.Wrap(liberr.CodeIO, "write response head", err)
	}

	return nil
}

func writeChunk(w io.Writer, chunk []byte) error {
	if _, err := fmt.Fprintf(w, "%x\r\n", len(chunk)); err != nil {
		return err
	}
	if len(chunk) > 0 {
		if _, err := w.Write(chunk); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

func writeFinalChunk(w io.Writer) error {
	_, err := io.WriteString(w, "0\r\n\r\n")
	return err
}

// WriteContinue writes the interim 100-continue response (spec §4.5,
// §8 B4), before the application is dispatched.
func WriteContinue(w io.Writer) error {
	_, err := io.WriteString(w, "HTTP/1.1 100 Continue\r\n\r\n")
	return err
}

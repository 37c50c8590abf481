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

// Package protocol is the HTTP/1.1 parser adapter (spec §4.2, component
// C2): it turns bytes read off a connection into a MessageHead (the
// fused on_message_begin/on_url/on_header/on_headers_complete events)
// plus a body io.Reader that yields on_body chunks until
// on_message_complete.
package protocol

import (
	"bufio"
	"io"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/sabouaram/asgid/ai"
)

// DefaultMaxHeadBytes is the default request-line+headers ceiling
// (spec §8 B1): exceeding it yields a 431.
const DefaultMaxHeadBytes = 16 * 1024

// ErrHeadTooLarge signals B1: request line + headers exceeded the
// configured maximum.
var ErrHeadTooLarge = newParseError("request head exceeds maximum size")

// ParseError signals any other parse failure (bad request line, bad
// header, invalid framing).
type ParseError struct{ msg string }

func newParseError(msg string) *ParseError { return &ParseError{msg: msg} }
func (e *ParseError) Error() string        { return "protocol: " + e.msg }

// MessageHead is the parsed request line plus headers, fused from the
// on_message_begin/on_url/on_header/on_headers_complete callback
// sequence of spec §4.2.
type MessageHead struct {
	Method      string
	Target      []byte
	Path        []byte
	QueryString []byte
	Version     string
	Headers     ai.Headers
	Framing     Framing
}

// ReadMessageHead reads one request line and its headers from br,
// bounded by maxHeadBytes. It returns io.EOF when the connection closed
// cleanly before any bytes of a new message arrived (the expected
// keep-alive idle case), ErrHeadTooLarge for B1, and a *ParseError for
// anything else malformed, so the connection engine can choose the
// right disposition (close vs 400 vs 431) per spec §7.
func ReadMessageHead(br *bufio.Reader, maxHeadBytes int) (MessageHead, error) {
	if maxHeadBytes <= 0 {
		maxHeadBytes = DefaultMaxHeadBytes
	}

	lr := &limitedLineReader{br: br, limit: maxHeadBytes}

	requestLine, err := lr.readLine()
	if err != nil {
		return MessageHead{}, err
	}
	if requestLine == "" {
		// Blank lines before a request line are tolerated, as RFC 7230
		// §3.5 recommends, by skipping them.
		for requestLine == "" {
			requestLine, err = lr.readLine()
			if err != nil {
				return MessageHead{}, err
			}
		}
	}

	method, target, version, err := parseRequestLine(requestLine)
	if err != nil {
		return MessageHead{}, err
	}

	headers, err := readHeaders(lr)
	if err != nil {
		return MessageHead{}, err
	}

	path, query := splitTarget(target)

	framing := DeriveFraming(method, version, headers)

	return MessageHead{
		Method:      method,
		Target:      []byte(target),
		Path:        path,
		QueryString: query,
		Version:     version,
		Headers:     headers,
		Framing:     framing,
	}, nil
}

func parseRequestLine(line string) (method, target, version string, err error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return "", "", "", newParseError("malformed request line")
	}

	method = strings.ToUpper(parts[0])
	target = parts[1]

	v := parts[2]
	if !strings.HasPrefix(v, "HTTP/1.") {
		return "", "", "", newParseError("unsupported HTTP version")
	}
	version = strings.TrimPrefix(v, "HTTP/1.")
	if version != "0" && version != "1" {
		return "", "", "", newParseError("unsupported HTTP version")
	}

	return method, target, "1." + version, nil
}

func splitTarget(target string) (path, query []byte) {
	if idx := strings.IndexByte(target, '?'); idx >= 0 {
		return []byte(target[:idx]), []byte(target[idx+1:])
	}
	return []byte(target), nil
}

func readHeaders(lr *limitedLineReader) (ai.Headers, error) {
	var headers ai.Headers

	for {
		line, err := lr.readLine()
		if err != nil {
			return nil, err
		}
		if line == "" {
			return headers, nil
		}

		idx := strings.IndexByte(line, ':')
		if idx <= 0 {
			return nil, newParseError("malformed header line")
		}

		name := strings.ToLower(strings.TrimSpace(line[:idx]))
		value := strings.TrimSpace(line[idx+1:])

		if !httpguts.ValidHeaderFieldName(name) || !httpguts.ValidHeaderFieldValue(value) {
			return nil, newParseError("invalid header field")
		}

		headers = append(headers, ai.Header{Name: []byte(name), Value: []byte(value)})
	}
}

// limitedLineReader reads CRLF-terminated lines off a bufio.Reader while
// enforcing a cumulative byte ceiling across the request line and all
// header lines (spec §8 B1).
type limitedLineReader struct {
	br    *bufio.Reader
	limit int
	used  int
}

func (l *limitedLineReader) readLine() (string, error) {
	line, err := l.br.ReadString('\n')
	if err != nil {
		if err == io.EOF && line == "" {
			return "", io.EOF
		}
		if err == io.EOF {
			return "", newParseError("unexpected eof reading head")
		}
		return "", err
	}

	l.used += len(line)
	if l.used > l.limit {
		return "", ErrHeadTooLarge
	}

	return strings.TrimRight(line, "\r\n"), nil
}

// BodyReader returns the io.Reader that yields on_body chunks for the
// given framing: a length-bounded reader for Content-Length, a chunked
// decoder for Transfer-Encoding: chunked, or an empty reader when the
// body is absent.
func BodyReader(br *bufio.Reader, f Framing) io.Reader {
	switch {
	case f.Chunked:
		return newChunkedReader(br)
	case f.ContentLength > 0:
		return io.LimitReader(br, f.ContentLength)
	default:
		return io.LimitReader(br, 0)
	}
}

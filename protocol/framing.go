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

package protocol

import (
	"strconv"
	"strings"

	"github.com/sabouaram/asgid/ai"
)

// Framing describes how a request body is delimited on the wire, and the
// keep-alive / upgrade / 100-continue signals derived from the headers
// during on_headers_complete (spec §4.2).
type Framing struct {
	ContentLength   int64 // -1 when absent
	Chunked         bool
	ShouldKeepAlive bool
	ShouldUpgrade   bool
	ExpectContinue  bool
}

// DeriveFraming inspects method, HTTP version and headers to compute the
// framing and keep-alive/upgrade signals the parser adapter reports at
// on_headers_complete (spec §4.2, §6).
func DeriveFraming(method, version string, headers ai.Headers) Framing {
	f := Framing{ContentLength: -1, ShouldKeepAlive: version == "1.1"}

	if cl, ok := headers.Get("content-length"); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64); err == nil && n >= 0 {
			f.ContentLength = n
		}
	}

	if te, ok := headers.Get("transfer-encoding"); ok {
		if containsToken(te, "chunked") {
			f.Chunked = true
			f.ContentLength = -1
		}
	}

	if conn, ok := headers.Get("connection"); ok {
		if containsToken(conn, "close") {
			f.ShouldKeepAlive = false
		} else if containsToken(conn, "keep-alive") {
			f.ShouldKeepAlive = true
		}
		if containsToken(conn, "upgrade") {
			f.ShouldUpgrade = true
		}
	}

	if up, ok := headers.Get("upgrade"); ok && strings.EqualFold(strings.TrimSpace(up), "websocket") {
		f.ShouldUpgrade = true
	}

	if exp, ok := headers.Get("expect"); ok && containsToken(exp, "100-continue") {
		f.ExpectContinue = true
	}

	if method == "GET" || method == "HEAD" {
		if f.ContentLength < 0 && !f.Chunked {
			f.ContentLength = 0
		}
	}

	return f
}

func containsToken(header, token string) bool {
	for _, part := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}

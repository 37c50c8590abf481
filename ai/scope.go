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

// Package ai is the application-interface event bridge (spec §4.10,
// §6): the scope shapes the server hands to a hosted application, and
// the message taxonomy exchanged through receive/send.
package ai

// ScopeType distinguishes the three exchange kinds the core dispatches.
type ScopeType string

const (
	ScopeHTTP      ScopeType = "http"
	ScopeWebSocket ScopeType = "websocket"
	ScopeLifespan  ScopeType = "lifespan"
)

// Addr is a (host, port) pair as used for Scope.Server / Scope.Client.
type Addr struct {
	Host string
	Port int
}

// Header is a single (lower-name, value) byte pair, matching spec §6's
// wire representation.
type Header struct {
	Name  []byte
	Value []byte
}

// Headers is an ordered sequence of Header, preserving wire order.
type Headers []Header

// Get returns the first value for a lowercase header name, and whether
// it was present.
func (h Headers) Get(name string) (string, bool) {
	for _, kv := range h {
		if string(kv.Name) == name {
			return string(kv.Value), true
		}
	}
	return "", false
}

// Scope is the immutable per-exchange metadata passed to the
// application (spec §3, §6). Only the fields relevant to ScopeType are
// populated; the rest are zero values.
type Scope struct {
	Type ScopeType

	// HTTP + WebSocket fields.
	HTTPVersion string
	Method      string
	Scheme      string
	Path        []byte
	QueryString []byte
	Headers     Headers
	Server      Addr
	Client      Addr
	RootPath    string
}

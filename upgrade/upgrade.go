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

// Package upgrade is the WebSocket upgrade handoff (spec §4.9, component
// C9): it completes the HTTP/1.1 handshake, synthesizes the websocket
// Scope, and drives the hosted Application over individual, unfragmented
// text/binary frames. Per spec §4.9's non-goal, message fragmentation,
// extensions and compression are not implemented — every inbound frame
// is expected to be a single FIN=1 frame per message.
//
// The handshake math (Sec-WebSocket-Accept from Sec-WebSocket-Key+GUID)
// and the frame wire format are grounded on the pepnova-9-go-websocket-
// server reference implementation; the gorilla/websocket import supplies
// the status code (websocket.CloseNormalClosure) of the close frame the
// server sends when the Application finishes.
package upgrade

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/sabouaram/asgid/ai"
	liberr "github.com/sabouaram/asgid/errors"
	"github.com/sabouaram/asgid/logger"
	"github.com/sabouaram/asgid/protocol"
)

// wsGUID is the fixed handshake salt from RFC 6455 §1.3.
const wsGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// Handler binds the websocket Application and a logger; its Handle method
// has the conn.UpgradeHandler signature. Package upgrade does not import
// package conn; cmd/asgid wires Handle into conn.Options.Upgrade.
type Handler struct {
	App ai.Application
	Log logger.Logger
}

// Handle performs the handshake and, on success, owns the connection
// for the rest of its life, translating frames to/from InboundMessage/
// OutboundMessage until the peer closes or the Application returns.
func (h Handler) Handle(ctx context.Context, raw net.Conn, br *bufio.Reader, bw *bufio.Writer, head protocol.MessageHead, scope ai.Scope) error {
	key, ok := head.Headers.Get("sec-websocket-key")
	version, _ := head.Headers.Get("sec-websocket-version")

	if !ok || strings.TrimSpace(version) != "13" {
		writeReject(bw, 426, "upgrade required")
		return nil
	}

	accept := acceptKey(key)

	wsScope := scope
	wsScope.Type = ai.ScopeWebSocket

	log := h.Log
	if log == nil {
		log = logger.Default()
	}

	conn := &frameConn{br: br, bw: bw}

	acceptSent := make(chan struct{})
	closed := make(chan struct{})
	inbound := make(chan ai.InboundMessage, 16)

	var accepted bool

	recv := func(ctx context.Context) (ai.InboundMessage, error) {
		select {
		case <-acceptSent:
		default:
			return ai.InboundMessage{Kind: ai.InboundWebSocketConnect}, nil
		}
		select {
		case msg, ok := <-inbound:
			if !ok {
				return ai.InboundMessage{Kind: ai.InboundWebSocketDisconnect}, nil
			}
			return msg, nil
		case <-ctx.Done():
			return ai.InboundMessage{}, ctx.Err()
		}
	}

	// send defers writing the 101 response until the application calls
	// websocket.accept (spec §4.9): the handshake's success is the
	// application's decision, not a foregone conclusion of a well-formed
	// Upgrade header.
	send := func(ctx context.Context, msg ai.OutboundMessage) error {
		switch msg.Kind {
		case ai.OutboundWebSocketAccept:
			if accepted {
				return nil
			}
			if err := writeSwitchingProtocols(bw, accept); err != nil {
				return err
			}
			accepted = true
			go conn.readFrames(inbound, closed)
			close(acceptSent)
			return nil
		case ai.OutboundWebSocketSend:
			if !accepted {
				return liberr.New(liberr.CodeProtocol, "websocket.send before websocket.accept")
			}
			if msg.IsText {
				return conn.writeFrame(opText, []byte(msg.Text))
			}
			return conn.writeFrame(opBin, msg.Bytes)
		case ai.OutboundWebSocketClose:
			if !accepted {
				// Never accepted: spec §4.9 says the server writes 403,
				// not a close frame (there's no WebSocket connection yet).
				writeReject(bw, 403, "forbidden")
				return nil
			}
			code := msg.Code
			if code == 0 {
				code = websocket.CloseNormalClosure
			}
			return conn.writeClose(code)
		default:
			return nil
		}
	}

	err := h.App(ctx, wsScope, recv, send)
	if accepted {
		conn.writeClose(websocket.CloseNormalClosure)
		<-closed
	}
	return err
}

func acceptKey(clientKey string) string {
	sum := sha1.Sum([]byte(strings.TrimSpace(clientKey) + wsGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

func writeSwitchingProtocols(bw *bufio.Writer, accept string) error {
	fmt.Fprintf(bw, "HTTP/1.1 101 Switching Protocols\r\n")
	fmt.Fprintf(bw, "upgrade: websocket\r\n")
	fmt.Fprintf(bw, "connection: upgrade\r\n")
	fmt.Fprintf(bw, "sec-websocket-accept: %s\r\n\r\n", accept)
	return bw.Flush()
}

func writeReject(bw *bufio.Writer, status int, reason string) {
	fmt.Fprintf(bw, "HTTP/1.1 %d %s\r\n", status, reason)
	fmt.Fprintf(bw, "sec-websocket-version: 13\r\n")
	fmt.Fprintf(bw, "content-length: 0\r\n\r\n")
	bw.Flush()
}

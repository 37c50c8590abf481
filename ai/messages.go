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

package ai

// InboundKind tags the variants of InboundMessage (spec §3, §4.10).
type InboundKind int

const (
	InboundRequest InboundKind = iota
	InboundDisconnect
	InboundWebSocketConnect
	InboundWebSocketReceive
	InboundWebSocketDisconnect
	InboundLifespan
)

// InboundMessage is what RequestCycle.Receive() (and its WebSocket
// counterpart) hands back to the application.
type InboundMessage struct {
	Kind InboundKind

	// InboundRequest
	Body     []byte
	MoreBody bool

	// InboundWebSocketReceive
	Text  string
	Bytes []byte
	IsText bool

	// InboundWebSocketDisconnect
	Code int

	// InboundLifespan
	LifespanType LifespanMessageType
}

// OutboundKind tags the variants of OutboundMessage (spec §4.10).
type OutboundKind int

const (
	OutboundResponseStart OutboundKind = iota
	OutboundResponseBody
	OutboundWebSocketAccept
	OutboundWebSocketClose
	OutboundWebSocketSend
	OutboundLifespan
)

// OutboundMessage is what the application passes to Send().
type OutboundMessage struct {
	Kind OutboundKind

	// OutboundResponseStart
	Status  int
	Headers Headers

	// OutboundResponseBody
	Body     []byte
	MoreBody bool

	// OutboundWebSocketSend
	Text   string
	Bytes  []byte
	IsText bool

	// OutboundWebSocketClose
	Code int

	// OutboundLifespan
	LifespanType LifespanMessageType
	LifespanMsg  string
}

// Lifespan message types (spec §4.7). These are a distinct, smaller
// vocabulary from the HTTP ones above, exchanged once per process.
type LifespanMessageType string

const (
	LifespanStartup         LifespanMessageType = "lifespan.startup"
	LifespanStartupComplete LifespanMessageType = "lifespan.startup.complete"
	LifespanStartupFailed   LifespanMessageType = "lifespan.startup.failed"
	LifespanShutdown        LifespanMessageType = "lifespan.shutdown"
	LifespanShutdownComplete LifespanMessageType = "lifespan.shutdown.complete"
	LifespanShutdownFailed  LifespanMessageType = "lifespan.shutdown.failed"
)

// LifespanMessage is exchanged between the lifespan coordinator and the
// hosted application's lifespan handler.
type LifespanMessage struct {
	Type    LifespanMessageType
	Message string
}

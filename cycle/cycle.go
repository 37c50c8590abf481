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

// Package cycle implements the request state machine (spec §4.4,
// component C4): one RequestCycle per HTTP exchange, exposing the
// Receive/Send halves of the application interface and enforcing the
// message-ordering invariants of spec §3.
package cycle

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/sabouaram/asgid/ai"
	liberr "github.com/sabouaram/asgid/errors"
	"github.com/sabouaram/asgid/flow"
	"github.com/sabouaram/asgid/respwriter"
)

const inboundQueueCapacity = 256

// Cycle is one RequestCycle (spec §3): an immutable Scope, a mutable
// Phase, a bounded inbound queue, and the keep_alive/content_length/
// chunked framing derived from the outgoing headers.
type Cycle struct {
	ID    string
	Scope ai.Scope

	mu    sync.Mutex
	phase Phase

	queue  chan ai.InboundMessage
	closed bool

	writer *respwriter.Writer
	fc     *flow.Controller
}

// New creates a RequestCycle in AwaitingStart phase (spec §3: "created
// at on_headers_complete").
func New(scope ai.Scope, writer *respwriter.Writer, fc *flow.Controller) *Cycle {
	return &Cycle{
		ID:     uuid.NewString(),
		Scope:  scope,
		phase:  AwaitingStart,
		queue:  make(chan ai.InboundMessage, inboundQueueCapacity),
		writer: writer,
		fc:     fc,
	}
}

// Phase returns the cycle's current phase.
func (c *Cycle) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// EnqueueBody pushes one parsed body chunk (or the disconnect sentinel)
// into the inbound queue (spec §4.2 on_body, §4.4 receive()).
func (c *Cycle) EnqueueBody(body []byte, moreBody bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.queue <- ai.InboundMessage{Kind: ai.InboundRequest, Body: body, MoreBody: moreBody}
}

// EnqueueDisconnect marks the cycle closed: every Receive after the
// queue drains returns {Disconnect} (spec §4.4).
func (c *Cycle) EnqueueDisconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	select {
	case c.queue <- ai.InboundMessage{Kind: ai.InboundDisconnect}:
	default:
		// Queue full of undelivered body bytes the application never
		// read; spec §4.4 says they're discarded once Complete, so a
		// full queue here just means Receive will see closed and
		// return {Disconnect} without this sentinel.
	}
}

// Receive returns the next InboundMessage, suspending until one is
// queued, the cycle is closed, or ctx is cancelled (spec §4.4).
func (c *Cycle) Receive(ctx context.Context) (ai.InboundMessage, error) {
	select {
	case msg, ok := <-c.queue:
		if !ok {
			return ai.InboundMessage{Kind: ai.InboundDisconnect}, nil
		}
		if msg.Kind == ai.InboundRequest {
			c.fc.RemoveBuffered(len(msg.Body))
		}
		return msg, nil
	default:
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ai.InboundMessage{Kind: ai.InboundDisconnect}, nil
	}

	select {
	case msg := <-c.queue:
		if msg.Kind == ai.InboundRequest {
			c.fc.RemoveBuffered(len(msg.Body))
		}
		return msg, nil
	case <-ctx.Done():
		return ai.InboundMessage{}, ctx.Err()
	}
}

// Send validates and applies an OutboundMessage per the transition
// table of spec §4.4.
func (c *Cycle) Send(ctx context.Context, msg ai.OutboundMessage) error {
	c.mu.Lock()
	phase := c.phase
	c.mu.Unlock()

	switch msg.Kind {
	case ai.OutboundResponseStart:
		if phase != AwaitingStart {
			return c.protocolError(phase, "ResponseStart")
		}
		if err := c.writer.Start(msg.Status, msg.Headers); err != nil {
			return err
		}
		return c.transitionAfterStart(msg.Headers)

	case ai.OutboundResponseBody:
		if phase != HeadersSent && phase != StreamingBody {
			return c.protocolError(phase, "ResponseBody")
		}
		if err := c.writer.Body(msg.Body, msg.MoreBody); err != nil {
			return err
		}
		c.mu.Lock()
		if msg.MoreBody {
			c.phase = StreamingBody
		} else {
			c.phase = Complete
		}
		c.mu.Unlock()
		return nil

	default:
		return c.protocolError(phase, "unsupported message type")
	}
}

func (c *Cycle) transitionAfterStart(headers ai.Headers) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	// A Content-Length: 0 headers-only response moves straight to
	// StreamingBody, since the only legal next message is the
	// terminal empty ResponseBody (spec §4.4).
	c.phase = HeadersSent
	if cl, ok := headers.Get("content-length"); ok && strings.TrimSpace(cl) == "0" {
		c.phase = StreamingBody
	}
	return nil
}

func (c *Cycle) protocolError(phase Phase, msg string) error {
	return liberr.New(liberr.CodeProtocol, "invalid transition from "+phase.String()+" on "+msg)
}

// KeepAlive reports the writer-derived keep-alive decision once a
// response has started; true by default for HTTP/1.1 before then.
func (c *Cycle) KeepAlive() bool {
	return c.writer.KeepAlive()
}

// Status returns the response status code written so far, for the
// access log (SPEC_FULL.md §4); zero if nothing has been sent yet.
func (c *Cycle) Status() int {
	return c.writer.Status()
}

// Finalize completes the writer side of the cycle (spec §4.4 failure
// semantics): abrupt=true means the application errored after sending
// headers, so no trailing chunked terminator is written.
func (c *Cycle) Finalize(abrupt bool) error {
	c.mu.Lock()
	c.phase = Complete
	c.mu.Unlock()
	return c.writer.Finalize(abrupt)
}

// MarkDisconnected transitions the cycle to Disconnected, used when the
// connection closes before the cycle reaches Complete.
func (c *Cycle) MarkDisconnected() {
	c.mu.Lock()
	c.phase = Disconnected
	c.mu.Unlock()
	c.EnqueueDisconnect()
}

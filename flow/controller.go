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

// Package flow is the per-connection flow controller (spec §4.6,
// component C6): buffer accounting against high/low watermarks, and the
// pipeline depth cap that together decide when a connection's socket
// reads should be paused or resumed.
package flow

import (
	"context"
	"sync"
)

// Defaults mirror spec §4.6 and §3.
const (
	DefaultHighWater           = 65536
	DefaultLowWater            = 16384
	DefaultMaxPipelinedRequests = 20
)

// Controller tracks one Connection's queued body bytes and pending
// cycle count, and decides pause/resume idempotently.
type Controller struct {
	mu sync.Mutex

	highWater    int
	lowWater     int
	maxPipelined int

	bufferSize int
	pendingLen int
	paused     bool
	gate       chan struct{}
}

// New builds a Controller with the given watermarks; zero values fall
// back to spec defaults.
func New(highWater, lowWater, maxPipelined int) *Controller {
	if highWater <= 0 {
		highWater = DefaultHighWater
	}
	if lowWater <= 0 {
		lowWater = DefaultLowWater
	}
	if maxPipelined <= 0 {
		maxPipelined = DefaultMaxPipelinedRequests
	}

	c := &Controller{highWater: highWater, lowWater: lowWater, maxPipelined: maxPipelined}
	c.gate = closedChan()
	return c
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// WaitIfPaused blocks the caller (the connection's read loop) while the
// controller is paused, the Go rendition of spec §4.1's pause_read/
// resume_read: instead of telling the socket to stop reading, the read
// loop itself stalls before issuing its next Read.
func (c *Controller) WaitIfPaused(ctx context.Context) error {
	for {
		c.mu.Lock()
		gate := c.gate
		paused := c.paused
		c.mu.Unlock()

		if !paused {
			return nil
		}

		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// MaxPipelined returns the configured pipeline depth cap (spec §8 B3).
func (c *Controller) MaxPipelined() int {
	return c.maxPipelined
}

// AddBuffered accounts n more queued body bytes and returns whether
// reads should now be paused.
func (c *Controller) AddBuffered(n int) (shouldPause bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.bufferSize += n
	return c.evaluate()
}

// RemoveBuffered accounts n fewer queued body bytes (the application
// consumed them) and returns whether reads should now resume.
func (c *Controller) RemoveBuffered(n int) (shouldResume bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.bufferSize -= n
	if c.bufferSize < 0 {
		c.bufferSize = 0
	}
	return !c.evaluate() && c.paused == false
}

// SetPendingLen updates the pipelined-cycle count and re-evaluates
// pause/resume; returns (shouldPause, shouldResume) — at most one true.
func (c *Controller) SetPendingLen(n int) (shouldPause, shouldResume bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pendingLen = n
	wasPaused := c.paused
	nowPaused := c.evaluate()

	return nowPaused && !wasPaused, !nowPaused && wasPaused
}

// IsPaused reports the controller's current pause state.
func (c *Controller) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// evaluate recomputes c.paused from current accounting and returns it.
// Must be called with c.mu held. Pause/resume thresholds are
// intentionally asymmetric (high/low watermark) to avoid thrashing.
// Transitions swap or close c.gate so WaitIfPaused's blocked callers
// wake exactly on a pause->resume edge.
func (c *Controller) evaluate() bool {
	if c.paused {
		if c.bufferSize < c.lowWater && c.pendingLen < c.maxPipelined {
			c.paused = false
			close(c.gate)
		}
	} else {
		if c.bufferSize > c.highWater || c.pendingLen >= c.maxPipelined {
			c.paused = true
			c.gate = make(chan struct{})
		}
	}

	return c.paused
}

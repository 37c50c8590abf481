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

// Package lifespan drives the once-per-process startup/shutdown
// handshake (spec §4.7, component C7): a single Application invocation
// for the lifespan Scope, exchanging LifespanMessage values until the
// application acknowledges startup, and later shutdown, or fails either.
package lifespan

import (
	"context"
	"sync"

	"github.com/sabouaram/asgid/ai"
	liberr "github.com/sabouaram/asgid/errors"
	"github.com/sabouaram/asgid/logger"
)

// Mode selects whether the lifespan handshake is mandatory, disabled, or
// best-effort, mirroring uvicorn's --lifespan on/off/auto (spec §6).
type Mode string

const (
	ModeAuto Mode = "auto"
	ModeOn   Mode = "on"
	ModeOff  Mode = "off"
)

// Phase is the lifespan coordinator's own state machine, distinct from a
// RequestCycle's (spec §4.7).
type Phase int

const (
	Idle Phase = iota
	StartupPending
	Ready
	ShutdownPending
	Closed
)

// Coordinator runs the single lifespan Application invocation for the
// life of the process, started by Startup and ended by Shutdown.
type Coordinator struct {
	mode Mode
	app  ai.Application
	log  logger.Logger

	mu    sync.Mutex
	phase Phase

	toApp   chan ai.LifespanMessage
	fromApp chan ai.LifespanMessage
	appDone chan error

	supported bool
}

// New builds a Coordinator. app may be nil when the hosted application
// exposes no lifespan scope at all; Startup then moves straight to
// Ready in every mode, as it does in ModeOff.
func New(mode Mode, app ai.Application, log logger.Logger) *Coordinator {
	if log == nil {
		log = logger.Default()
	}
	return &Coordinator{
		mode:    mode,
		app:     app,
		log:     log,
		toApp:   make(chan ai.LifespanMessage, 1),
		fromApp: make(chan ai.LifespanMessage, 1),
		appDone: make(chan error, 1),
	}
}

// Startup runs the lifespan.startup handshake. In ModeOff it is a no-op.
// In ModeOn, a startup failure (or an application that never replies)
// is fatal. In ModeAuto, an application that doesn't implement the
// lifespan scope is tolerated silently (spec §4.7, §9 design note).
func (c *Coordinator) Startup(ctx context.Context) error {
	if c.mode == ModeOff || c.app == nil {
		c.setPhase(Ready)
		return nil
	}

	c.supported = true

	c.setPhase(StartupPending)

	scope := ai.Scope{Type: ai.ScopeLifespan}

	go func() {
		err := c.app(ctx, scope, c.receive, c.send)
		c.appDone <- err
	}()

	c.toApp <- ai.LifespanMessage{Type: ai.LifespanStartup}

	select {
	case msg := <-c.fromApp:
		switch msg.Type {
		case ai.LifespanStartupComplete:
			c.setPhase(Ready)
			return nil
		case ai.LifespanStartupFailed:
			c.setPhase(Closed)
			return liberr.New(liberr.CodeLifespan, "startup failed: "+msg.Message)
		}
	case err := <-c.appDone:
		// Application returned without ever calling send(): in ModeAuto
		// this means "no lifespan support", tolerated; in ModeOn it's
		// fatal per spec §4.7. Either way no shutdown handshake is
		// enqueued later (spec §4.7 "auto": "do not enqueue shutdown").
		c.supported = false
		if c.mode == ModeOn {
			c.setPhase(Closed)
			return liberr.Wrap(liberr.CodeLifespan, "application exited before startup.complete", err)
		}
		c.setPhase(Ready)
		return nil
	case <-ctx.Done():
		c.setPhase(Closed)
		return ctx.Err()
	}

	c.setPhase(Ready)
	return nil
}

// Shutdown runs the lifespan.shutdown handshake. Errors are logged, not
// fatal: the server supervisor is already tearing down regardless.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	phase := c.phase
	c.mu.Unlock()

	if phase != Ready || !c.supported {
		c.setPhase(Closed)
		return nil
	}

	c.setPhase(ShutdownPending)
	c.toApp <- ai.LifespanMessage{Type: ai.LifespanShutdown}

	select {
	case msg := <-c.fromApp:
		c.setPhase(Closed)
		<-c.appDone
		if msg.Type == ai.LifespanShutdownFailed {
			return liberr.New(liberr.CodeLifespan, "shutdown failed: "+msg.Message)
		}
		return nil
	case err := <-c.appDone:
		c.setPhase(Closed)
		return err
	case <-ctx.Done():
		c.setPhase(Closed)
		return ctx.Err()
	}
}

func (c *Coordinator) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

// Phase reports the coordinator's current state.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Coordinator) receive(ctx context.Context) (ai.InboundMessage, error) {
	select {
	case msg := <-c.toApp:
		return ai.InboundMessage{Kind: ai.InboundLifespan, LifespanType: msg.Type}, nil
	case <-ctx.Done():
		return ai.InboundMessage{}, ctx.Err()
	}
}

func (c *Coordinator) send(ctx context.Context, msg ai.OutboundMessage) error {
	if msg.Kind != ai.OutboundLifespan {
		return liberr.New(liberr.CodeProtocol, "unexpected send on lifespan scope")
	}

	lm := ai.LifespanMessage{Type: msg.LifespanType, Message: msg.LifespanMsg}

	select {
	case c.fromApp <- lm:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

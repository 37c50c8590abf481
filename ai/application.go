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

import "context"

// Receive yields the next InboundMessage, suspending the caller until
// one is available or the cycle/connection is gone (spec §4.4).
type Receive func(ctx context.Context) (InboundMessage, error)

// Send delivers an OutboundMessage, validated against the cycle's phase
// (spec §4.4, §4.10).
type Send func(ctx context.Context, msg OutboundMessage) error

// Application is the three-argument contract every hosted callable
// implements: given a Scope and a receive/send pair, drive one exchange
// to completion. The server invokes one Application call per
// RequestCycle, one per WebSocket connection, and exactly one per
// process for the lifespan scope.
type Application func(ctx context.Context, scope Scope, recv Receive, send Send) error

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

package lifespan_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/asgid/ai"
	"github.com/sabouaram/asgid/lifespan"
)

func okApp(ctx context.Context, scope ai.Scope, recv ai.Receive, send ai.Send) error {
	for {
		msg, err := recv(ctx)
		if err != nil {
			return err
		}
		switch msg.LifespanType {
		case ai.LifespanStartup:
			if err := send(ctx, ai.OutboundMessage{Kind: ai.OutboundLifespan, LifespanType: ai.LifespanStartupComplete}); err != nil {
				return err
			}
		case ai.LifespanShutdown:
			return send(ctx, ai.OutboundMessage{Kind: ai.OutboundLifespan, LifespanType: ai.LifespanShutdownComplete})
		}
	}
}

func failingStartupApp(ctx context.Context, scope ai.Scope, recv ai.Receive, send ai.Send) error {
	if _, err := recv(ctx); err != nil {
		return err
	}
	return send(ctx, ai.OutboundMessage{Kind: ai.OutboundLifespan, LifespanType: ai.LifespanStartupFailed, LifespanMsg: "boom"})
}

// unsupportedApp raises before ever calling send(), the "lifespan
// unsupported" case spec §4.7's auto mode tolerates.
func unsupportedApp(ctx context.Context, scope ai.Scope, recv ai.Receive, send ai.Send) error {
	if _, err := recv(ctx); err != nil {
		return err
	}
	return nil
}

var _ = Describe("[TC-LS] Lifespan Coordinator", func() {
	It("[TC-LS-001] completes startup and shutdown with a cooperative application", func() {
		c := lifespan.New(lifespan.ModeOn, okApp, nil)
		ctx := context.Background()

		Expect(c.Startup(ctx)).To(Succeed())
		Expect(c.Phase()).To(Equal(lifespan.Ready))

		Expect(c.Shutdown(ctx)).To(Succeed())
		Expect(c.Phase()).To(Equal(lifespan.Closed))
	})

	It("[TC-LS-002] propagates a startup failure in mode on", func() {
		c := lifespan.New(lifespan.ModeOn, failingStartupApp, nil)
		err := c.Startup(context.Background())
		Expect(err).To(HaveOccurred())
		Expect(c.Phase()).To(Equal(lifespan.Closed))
	})

	It("[TC-LS-003] tolerates a missing lifespan app in mode auto", func() {
		c := lifespan.New(lifespan.ModeAuto, nil, nil)
		Expect(c.Startup(context.Background())).To(Succeed())
		Expect(c.Phase()).To(Equal(lifespan.Ready))
	})

	It("[TC-LS-004] skips the handshake entirely in mode off", func() {
		c := lifespan.New(lifespan.ModeOff, okApp, nil)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		Expect(c.Startup(ctx)).To(Succeed())
		Expect(c.Phase()).To(Equal(lifespan.Ready))
	})

	It("[TC-LS-005] does not enqueue shutdown for an unsupported lifespan app in mode auto", func() {
		c := lifespan.New(lifespan.ModeAuto, unsupportedApp, nil)
		Expect(c.Startup(context.Background())).To(Succeed())
		Expect(c.Phase()).To(Equal(lifespan.Ready))

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		Expect(c.Shutdown(ctx)).To(Succeed())
		Expect(c.Phase()).To(Equal(lifespan.Closed))
	})
})

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

package cycle_test

import (
	"bytes"
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/asgid/ai"
	"github.com/sabouaram/asgid/cycle"
	"github.com/sabouaram/asgid/flow"
	"github.com/sabouaram/asgid/respwriter"
)

var _ = Describe("[TC-RC] RequestCycle", func() {
	var (
		buf *bytes.Buffer
		w   *respwriter.Writer
		fc  *flow.Controller
		c   *cycle.Cycle
		ctx context.Context
	)

	BeforeEach(func() {
		buf = &bytes.Buffer{}
		w = respwriter.New(buf, "1.1", respwriter.Options{})
		fc = flow.New(0, 0, 0)
		c = cycle.New(ai.Scope{Type: ai.ScopeHTTP, Method: "GET"}, w, fc)
		ctx = context.Background()
	})

	It("[TC-RC-001] starts in AwaitingStart", func() {
		Expect(c.Phase()).To(Equal(cycle.AwaitingStart))
	})

	It("[TC-RC-002] rejects ResponseBody before ResponseStart", func() {
		err := c.Send(ctx, ai.OutboundMessage{Kind: ai.OutboundResponseBody, Body: []byte("x")})
		Expect(err).To(HaveOccurred())
	})

	It("[TC-RC-003] transitions AwaitingStart -> HeadersSent -> Complete on a single-chunk response", func() {
		Expect(c.Send(ctx, ai.OutboundMessage{Kind: ai.OutboundResponseStart, Status: 200})).To(Succeed())
		Expect(c.Phase()).To(Equal(cycle.HeadersSent))

		Expect(c.Send(ctx, ai.OutboundMessage{Kind: ai.OutboundResponseBody, Body: []byte("hi"), MoreBody: false})).To(Succeed())
		Expect(c.Phase()).To(Equal(cycle.Complete))
	})

	It("[TC-RC-004] rejects a second ResponseStart", func() {
		Expect(c.Send(ctx, ai.OutboundMessage{Kind: ai.OutboundResponseStart, Status: 200})).To(Succeed())
		err := c.Send(ctx, ai.OutboundMessage{Kind: ai.OutboundResponseStart, Status: 200})
		Expect(err).To(HaveOccurred())
	})

	It("[TC-RC-005] delivers enqueued body chunks via Receive in order", func() {
		c.EnqueueBody([]byte("a"), true)
		c.EnqueueBody([]byte("b"), false)

		msg1, err := c.Receive(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(string(msg1.Body)).To(Equal("a"))
		Expect(msg1.MoreBody).To(BeTrue())

		msg2, err := c.Receive(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(string(msg2.Body)).To(Equal("b"))
		Expect(msg2.MoreBody).To(BeFalse())
	})

	It("[TC-RC-006] returns InboundDisconnect once closed and drained", func() {
		c.EnqueueDisconnect()
		msg, err := c.Receive(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(msg.Kind).To(Equal(ai.InboundDisconnect))
	})

	It("[TC-RC-007] Receive respects context cancellation when nothing is queued", func() {
		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err := c.Receive(cctx)
		Expect(err).To(MatchError(context.DeadlineExceeded))
	})
})

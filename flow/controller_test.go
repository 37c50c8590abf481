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

package flow_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/asgid/flow"
)

var _ = Describe("[TC-FC] Flow Controller", func() {
	Describe("watermark hysteresis", func() {
		It("[TC-FC-001] pauses at the high watermark and resumes at the low one", func() {
			c := flow.New(100, 20, 10)

			Expect(c.AddBuffered(50)).To(BeFalse())
			Expect(c.IsPaused()).To(BeFalse())

			Expect(c.AddBuffered(60)).To(BeTrue())
			Expect(c.IsPaused()).To(BeTrue())

			Expect(c.RemoveBuffered(50)).To(BeFalse())
			Expect(c.IsPaused()).To(BeTrue())

			Expect(c.RemoveBuffered(50)).To(BeTrue())
			Expect(c.IsPaused()).To(BeFalse())
		})

		It("[TC-FC-002] pauses once the pipeline depth cap is reached", func() {
			c := flow.New(0, 0, 3)

			pause, resume := c.SetPendingLen(3)
			Expect(pause).To(BeTrue())
			Expect(resume).To(BeFalse())

			pause, resume = c.SetPendingLen(1)
			Expect(pause).To(BeFalse())
			Expect(resume).To(BeTrue())
		})
	})

	Describe("WaitIfPaused", func() {
		It("[TC-FC-003] blocks callers until a resume transition releases them", func() {
			c := flow.New(10, 2, 10)
			c.AddBuffered(20)
			Expect(c.IsPaused()).To(BeTrue())

			released := make(chan struct{})
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = c.WaitIfPaused(ctx)
				close(released)
			}()

			Consistently(released, 50*time.Millisecond).ShouldNot(BeClosed())

			c.RemoveBuffered(19)
			Eventually(released).Should(BeClosed())
		})

		It("[TC-FC-004] returns the context error when cancelled before resume", func() {
			c := flow.New(10, 2, 10)
			c.AddBuffered(20)

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()

			err := c.WaitIfPaused(ctx)
			Expect(err).To(MatchError(context.DeadlineExceeded))
		})
	})
})

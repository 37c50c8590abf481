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

package server_test

import (
	"bufio"
	"context"
	"net"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/asgid/ai"
	"github.com/sabouaram/asgid/conn"
	"github.com/sabouaram/asgid/lifespan"
	"github.com/sabouaram/asgid/server"
)

func okApp(ctx context.Context, scope ai.Scope, recv ai.Receive, send ai.Send) error {
	for {
		msg, err := recv(ctx)
		if err != nil {
			return err
		}
		if !msg.MoreBody {
			break
		}
	}

	if err := send(ctx, ai.OutboundMessage{Kind: ai.OutboundResponseStart, Status: 200}); err != nil {
		return err
	}
	return send(ctx, ai.OutboundMessage{Kind: ai.OutboundResponseBody, Body: []byte("ok")})
}

var _ = Describe("[TC-SV] Server Supervisor", func() {
	It("[TC-SV-001] accepts a connection on an ephemeral port and serves a request", func() {
		srv, err := server.New(server.Options{
			Bind:         conn.BindSpec{Addr: "127.0.0.1:0"},
			ConnOptions:  conn.Options{App: okApp},
			LifespanMode: lifespan.ModeOff,
		})
		Expect(err).ToNot(HaveOccurred())

		ctx, cancel := context.WithCancel(context.Background())
		serveErr := make(chan error, 1)
		go func() { serveErr <- srv.Serve(ctx) }()

		addr := srv.Addr().String()
		c, dialErr := net.DialTimeout("tcp", addr, time.Second)
		Expect(dialErr).ToNot(HaveOccurred())
		defer c.Close()

		_, writeErr := c.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))
		Expect(writeErr).ToNot(HaveOccurred())

		c.SetReadDeadline(time.Now().Add(2 * time.Second))
		status, readErr := bufio.NewReader(c).ReadString('\n')
		Expect(readErr).ToNot(HaveOccurred())
		Expect(status).To(ContainSubstring("200"))

		cancel()
		Eventually(serveErr, time.Second).Should(Receive())
	})

	It("[TC-SV-002] rejects connections once limit_concurrency is exhausted", func() {
		srv, err := server.New(server.Options{
			Bind:             conn.BindSpec{Addr: "127.0.0.1:0"},
			ConnOptions:      conn.Options{App: okApp},
			LifespanMode:     lifespan.ModeOff,
			LimitConcurrency: 1,
		})
		Expect(err).ToNot(HaveOccurred())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go srv.Serve(ctx)

		addr := srv.Addr().String()

		blocker, dialErr := net.DialTimeout("tcp", addr, time.Second)
		Expect(dialErr).ToNot(HaveOccurred())
		defer blocker.Close()

		Eventually(func() string {
			probe, err := net.DialTimeout("tcp", addr, time.Second)
			if err != nil {
				return ""
			}
			defer probe.Close()
			probe.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))
			probe.SetReadDeadline(time.Now().Add(time.Second))
			line, err := bufio.NewReader(probe).ReadString('\n')
			if err != nil {
				return ""
			}
			return line
		}, 2*time.Second, 50*time.Millisecond).Should(ContainSubstring("503"))
	})

	It("[TC-SV-003] ForceShutdown truncates in-flight cycles instead of waiting out the grace period", func() {
		hung := make(chan struct{})
		blockingApp := func(ctx context.Context, scope ai.Scope, recv ai.Receive, send ai.Send) error {
			close(hung)
			<-ctx.Done()
			return ctx.Err()
		}

		srv, err := server.New(server.Options{
			Bind:                    conn.BindSpec{Addr: "127.0.0.1:0"},
			ConnOptions:             conn.Options{App: blockingApp},
			LifespanMode:            lifespan.ModeOff,
			TimeoutGracefulShutdown: 5 * time.Second,
		})
		Expect(err).ToNot(HaveOccurred())

		ctx := context.Background()
		serveErr := make(chan error, 1)
		go func() { serveErr <- srv.Serve(ctx) }()

		addr := srv.Addr().String()
		c, dialErr := net.DialTimeout("tcp", addr, time.Second)
		Expect(dialErr).ToNot(HaveOccurred())
		defer c.Close()

		_, writeErr := c.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
		Expect(writeErr).ToNot(HaveOccurred())

		Eventually(hung, time.Second).Should(BeClosed())

		start := time.Now()
		srv.ForceShutdown()
		Eventually(serveErr, time.Second).Should(Receive())
		Expect(time.Since(start)).To(BeNumerically("<", 4*time.Second))
	})
})

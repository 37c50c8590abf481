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

package conn_test

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/asgid/ai"
	"github.com/sabouaram/asgid/conn"
	"github.com/sabouaram/asgid/logger"
)

func echoUpperApp(ctx context.Context, scope ai.Scope, recv ai.Receive, send ai.Send) error {
	var body []byte
	for {
		msg, err := recv(ctx)
		if err != nil {
			return err
		}
		if msg.Kind == ai.InboundDisconnect {
			return nil
		}
		body = append(body, msg.Body...)
		if !msg.MoreBody {
			break
		}
	}

	if err := send(ctx, ai.OutboundMessage{
		Kind:   ai.OutboundResponseStart,
		Status: 200,
		Headers: ai.Headers{
			{Name: []byte("content-type"), Value: []byte("text/plain")},
		},
	}); err != nil {
		return err
	}

	return send(ctx, ai.OutboundMessage{Kind: ai.OutboundResponseBody, Body: []byte(strings.ToUpper(string(body))), MoreBody: false})
}

var _ = Describe("[TC-CE] Connection Engine", func() {
	It("[TC-CE-001] parses a request, dispatches it, and writes back a derived-framing response", func() {
		serverSide, clientSide := net.Pipe()

		c := conn.New(serverSide, conn.Options{App: echoUpperApp})
		done := make(chan struct{})
		go func() {
			c.Serve(context.Background())
			close(done)
		}()

		req := "POST /echo HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\nConnection: close\r\n\r\nhello"
		go func() {
			io.WriteString(clientSide, req)
		}()

		clientSide.SetReadDeadline(time.Now().Add(2 * time.Second))
		br := bufio.NewReader(clientSide)

		status, err := br.ReadString('\n')
		Expect(err).ToNot(HaveOccurred())
		Expect(status).To(ContainSubstring("200"))

		raw, err := io.ReadAll(br)
		Expect(err).ToNot(HaveOccurred())
		Expect(string(raw)).To(ContainSubstring("HELLO"))

		clientSide.Close()
		Eventually(done, time.Second).Should(BeClosed())
	})

	It("[TC-CE-002] rejects an oversized head with 431 and closes the connection", func() {
		serverSide, clientSide := net.Pipe()

		c := conn.New(serverSide, conn.Options{App: echoUpperApp, MaxHeadBytes: 64})
		done := make(chan struct{})
		go func() {
			c.Serve(context.Background())
			close(done)
		}()

		req := "GET /" + strings.Repeat("a", 256) + " HTTP/1.1\r\nHost: x\r\n\r\n"
		go func() {
			io.WriteString(clientSide, req)
		}()

		clientSide.SetReadDeadline(time.Now().Add(2 * time.Second))
		br := bufio.NewReader(clientSide)
		status, err := br.ReadString('\n')
		Expect(err).ToNot(HaveOccurred())
		Expect(status).To(ContainSubstring("431"))

		Eventually(done, time.Second).Should(BeClosed())
	})

	It("[TC-CE-003] derives scheme and client from X-Forwarded-* only when the peer is trusted", func() {
		serverSide, clientSide := net.Pipe()

		var gotScope ai.Scope
		capture := func(ctx context.Context, scope ai.Scope, recv ai.Receive, send ai.Send) error {
			gotScope = scope
			for {
				msg, err := recv(ctx)
				if err != nil {
					return err
				}
				if !msg.MoreBody {
					break
				}
			}
			if err := send(ctx, ai.OutboundMessage{Kind: ai.OutboundResponseStart, Status: 204}); err != nil {
				return err
			}
			return send(ctx, ai.OutboundMessage{Kind: ai.OutboundResponseBody})
		}

		c := conn.New(serverSide, conn.Options{
			App:            capture,
			ProxyHeaders:   true,
			TrustedProxies: []string{"pipe"},
		})
		done := make(chan struct{})
		go func() {
			c.Serve(context.Background())
			close(done)
		}()

		req := "GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\nX-Forwarded-Proto: https\r\nX-Forwarded-For: 203.0.113.9\r\n\r\n"
		go func() { io.WriteString(clientSide, req) }()

		clientSide.SetReadDeadline(time.Now().Add(2 * time.Second))
		br := bufio.NewReader(clientSide)
		status, err := br.ReadString('\n')
		Expect(err).ToNot(HaveOccurred())
		Expect(status).To(ContainSubstring("204"))

		clientSide.Close()
		Eventually(done, time.Second).Should(BeClosed())

		Expect(gotScope.Scheme).To(Equal("https"))
		Expect(gotScope.Client.Host).To(Equal("203.0.113.9"))
	})

	It("[TC-CE-004] emits one access-log line per completed cycle when enabled", func() {
		serverSide, clientSide := net.Pipe()

		var buf bytes.Buffer
		log := logger.New(&buf, logger.InfoLevel)

		c := conn.New(serverSide, conn.Options{App: echoUpperApp, AccessLog: true, Log: log})
		done := make(chan struct{})
		go func() {
			c.Serve(context.Background())
			close(done)
		}()

		req := "GET /hello HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"
		go func() { io.WriteString(clientSide, req) }()

		clientSide.SetReadDeadline(time.Now().Add(2 * time.Second))
		br := bufio.NewReader(clientSide)
		_, err := br.ReadString('\n')
		Expect(err).ToNot(HaveOccurred())

		clientSide.Close()
		Eventually(done, time.Second).Should(BeClosed())

		Expect(buf.String()).To(ContainSubstring("/hello"))
		Expect(buf.String()).To(ContainSubstring("200"))
	})
})

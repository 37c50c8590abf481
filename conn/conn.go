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

// Package conn is the connection engine (spec §4.5, component C5): one
// instance owns one accepted socket end to end, pairing a read loop that
// turns bytes into RequestCycles with a dispatch loop that drives the
// hosted Application over them in strict arrival order (spec §8 P1).
//
// The two loops are the idiomatic-Go rendition of spec §5's
// single-cooperative-task-per-connection model: HTTP/1.1 bytes on a
// connection are strictly ordered so parsing stays on one goroutine,
// while dispatch runs on a second so a slow application on cycle N does
// not stall reading of cycle N+1's bytes, only the order in which their
// responses are allowed to reach the wire.
package conn

import (
	"bufio"
	"context"
	"crypto/tls"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/sabouaram/asgid/ai"
	"github.com/sabouaram/asgid/cycle"
	liberr "github.com/sabouaram/asgid/errors"
	"github.com/sabouaram/asgid/flow"
	"github.com/sabouaram/asgid/logger"
	"github.com/sabouaram/asgid/protocol"
	"github.com/sabouaram/asgid/respwriter"
)

// UpgradeHandler takes over raw once a request's headers signal a
// WebSocket upgrade (spec §4.9, component C9). It owns raw for the rest
// of the connection's life; conn never reads from it again afterwards.
type UpgradeHandler func(ctx context.Context, raw net.Conn, br *bufio.Reader, bw *bufio.Writer, head protocol.MessageHead, scope ai.Scope) error

// Options configures one Conn. Zero-valued numeric fields fall back to
// the flow/protocol package defaults.
type Options struct {
	MaxHeadBytes int
	HighWater    int
	LowWater     int
	MaxPipelined int

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration

	RootPath    string
	RespOptions respwriter.Options

	// ProxyHeaders and TrustedProxies implement SPEC_FULL.md §4's
	// restored proxy-header support (uvicorn's ProxyHeadersMiddleware):
	// when ProxyHeaders is set and the immediate peer's address appears
	// in TrustedProxies, scheme/client/server are derived from
	// X-Forwarded-Proto/-For/-Port instead of the raw socket. An empty
	// TrustedProxies trusts nothing, matching spec §9's conservative
	// default.
	ProxyHeaders  bool
	TrustedProxies []string

	// AccessLog gates one info-level line per completed cycle
	// (method, path, status, duration), independent of whatever the
	// hosted Application logs itself (SPEC_FULL.md §4).
	AccessLog bool

	App     ai.Application
	Upgrade UpgradeHandler
	Log     logger.Logger
}

type pendingCycle struct {
	cyc     *cycle.Cycle
	head    protocol.MessageHead
	scope   ai.Scope
	started time.Time
}

// Conn owns one accepted connection from accept to close.
type Conn struct {
	raw net.Conn
	br  *bufio.Reader
	bw  *bufio.Writer

	opts Options
	fc   *flow.Controller
	log  logger.Logger

	pending chan *pendingCycle

	server Addr
	client Addr
}

// Addr is the (host, port) pair the engine derives from net.Conn for
// Scope.Server / Scope.Client.
type Addr struct {
	Host string
	Port int
}

// New wraps an accepted socket for Serve. raw must not be used by the
// caller afterwards.
func New(raw net.Conn, opts Options) *Conn {
	log := opts.Log
	if log == nil {
		log = logger.Default()
	}

	maxPipelined := opts.MaxPipelined
	if maxPipelined <= 0 {
		maxPipelined = flow.DefaultMaxPipelinedRequests
	}

	return &Conn{
		raw:     raw,
		br:      bufio.NewReader(raw),
		bw:      bufio.NewWriter(raw),
		opts:    opts,
		fc:      flow.New(opts.HighWater, opts.LowWater, opts.MaxPipelined),
		log:     log.WithFields(logger.Fields{"remote": raw.RemoteAddr().String()}),
		pending: make(chan *pendingCycle, maxPipelined),
		server:  splitAddr(raw.LocalAddr()),
		client:  splitAddr(raw.RemoteAddr()),
	}
}

func splitAddr(a net.Addr) Addr {
	if a == nil {
		return Addr{}
	}
	if tcp, ok := a.(*net.TCPAddr); ok {
		return Addr{Host: tcp.IP.String(), Port: tcp.Port}
	}
	return Addr{Host: a.String()}
}

// Close forces the underlying socket closed, used by the server
// supervisor to end a connection that didn't drain within the graceful
// shutdown grace period (spec §4.8).
func (c *Conn) Close() error {
	return c.raw.Close()
}

// Serve runs the connection to completion: it blocks until the peer
// closes, a fatal protocol error forces closure, or ctx is cancelled
// (the server supervisor's graceful-shutdown signal).
func (c *Conn) Serve(ctx context.Context) {
	defer c.raw.Close()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		c.dispatchLoop(ctx)
	}()

	c.readLoop(ctx)
	close(c.pending)
	<-dispatchDone
}

// readLoop parses MessageHeads and streams their bodies strictly in
// wire order, one cycle at a time (spec §4.2, §4.5).
func (c *Conn) readLoop(ctx context.Context) {
	for {
		if err := c.fc.WaitIfPaused(ctx); err != nil {
			return
		}

		if c.opts.ReadHeaderTimeout > 0 {
			c.raw.SetReadDeadline(time.Now().Add(c.opts.ReadHeaderTimeout))
		} else if c.opts.IdleTimeout > 0 {
			c.raw.SetReadDeadline(time.Now().Add(c.opts.IdleTimeout))
		}

		head, err := protocol.ReadMessageHead(c.br, c.opts.MaxHeadBytes)
		if err != nil {
			c.disposeHeadError(err)
			return
		}

		c.raw.SetReadDeadline(time.Time{})

		scope := c.scopeFrom(head)

		if head.Framing.ShouldUpgrade && c.opts.Upgrade != nil {
			c.bw.Flush()
			if err := c.opts.Upgrade(ctx, c.raw, c.br, c.bw, head, scope); err != nil {
				c.log.Warnf("websocket upgrade failed: %v", err)
			}
			return
		}

		writer := respwriter.New(c.bw, head.Version, c.opts.RespOptions)
		cyc := cycle.New(scope, writer, c.fc)

		pc := &pendingCycle{cyc: cyc, head: head, scope: scope, started: time.Now()}

		select {
		case c.pending <- pc:
		case <-ctx.Done():
			return
		}

		if !c.streamBody(ctx, cyc, head) {
			return
		}

		if !head.Framing.ShouldKeepAlive {
			return
		}
	}
}

// streamBody drains on_body chunks for one request into its cycle's
// inbound queue, honoring flow-controller backpressure (spec §4.6, §8
// B2/B5). It returns false when the connection should close.
func (c *Conn) streamBody(ctx context.Context, cyc *cycle.Cycle, head protocol.MessageHead) bool {
	body := protocol.BodyReader(c.br, head.Framing)
	buf := make([]byte, 32*1024)

	for {
		n, err := body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			if c.fc.AddBuffered(n) {
				if waitErr := c.fc.WaitIfPaused(ctx); waitErr != nil {
					cyc.MarkDisconnected()
					return false
				}
			}

			cyc.EnqueueBody(chunk, true)
		}

		if err == io.EOF {
			cyc.EnqueueBody(nil, false)
			return true
		}
		if err != nil {
			cyc.MarkDisconnected()
			return false
		}
	}
}

// dispatchLoop drains pending cycles strictly in FIFO order (spec §8
// P1) and drives the hosted Application over each.
func (c *Conn) dispatchLoop(ctx context.Context) {
	for pc := range c.pending {
		c.fc.SetPendingLen(len(c.pending))

		if pc.head.Framing.ExpectContinue {
			if err := respwriter.WriteContinue(c.bw); err != nil {
				c.log.Warnf("write 100-continue: %v", err)
			}
			c.bw.Flush()
		}

		appErr := c.opts.App(ctx, pc.scope, pc.cyc.Receive, pc.cyc.Send)

		abrupt := appErr != nil && pc.cyc.Phase() != cycle.AwaitingStart
		if appErr != nil {
			c.log.WithFields(logger.Fields{"path": string(pc.scope.Path)}).Errorf("application error: %v", appErr)
		}

		if err := pc.cyc.Finalize(abrupt); err != nil {
			c.log.Warnf("finalize response: %v", err)
		}

		if c.opts.AccessLog {
			c.logAccess(pc)
		}

		if err := c.bw.Flush(); err != nil {
			c.raw.Close()
			return
		}

		if !pc.cyc.KeepAlive() {
			// Unblocks a readLoop stalled mid-pipeline send or mid-body
			// read; its next I/O call fails and it returns on its own.
			c.raw.Close()
			return
		}
	}
}

// logAccess emits one line per completed cycle (method, path, status,
// duration) independent of whatever the hosted Application logs itself
// (SPEC_FULL.md §4, gated by --access-log).
func (c *Conn) logAccess(pc *pendingCycle) {
	c.log.WithFields(logger.Fields{
		"method":   pc.head.Method,
		"path":     string(pc.scope.Path),
		"status":   pc.cyc.Status(),
		"duration": time.Since(pc.started).String(),
	}).Infof("%s %s %d", pc.head.Method, pc.scope.Path, pc.cyc.Status())
}

func (c *Conn) scopeFrom(head protocol.MessageHead) ai.Scope {
	scheme := "http"
	if _, ok := c.raw.(*tls.Conn); ok {
		scheme = "https"
	}

	server := c.server
	client := c.client

	if c.opts.ProxyHeaders && isTrustedProxy(c.client.Host, c.opts.TrustedProxies) {
		scheme, client, server = applyForwardedHeaders(head.Headers, scheme, client, server)
	}

	return ai.Scope{
		Type:        ai.ScopeHTTP,
		HTTPVersion: head.Version,
		Method:      head.Method,
		Scheme:      scheme,
		Path:        head.Path,
		QueryString: head.QueryString,
		Headers:     head.Headers,
		Server:      ai.Addr{Host: server.Host, Port: server.Port},
		Client:      ai.Addr{Host: client.Host, Port: client.Port},
		RootPath:    c.opts.RootPath,
	}
}

// isTrustedProxy reports whether peer appears verbatim in trusted (spec
// §9's proxy trust list, empty by default).
func isTrustedProxy(peer string, trusted []string) bool {
	for _, t := range trusted {
		if t == peer {
			return true
		}
	}
	return false
}

// applyForwardedHeaders derives scheme/client/server from X-Forwarded-*
// (SPEC_FULL.md §4, uvicorn's ProxyHeadersMiddleware), falling back to
// the values already observed off the socket for anything absent.
func applyForwardedHeaders(headers ai.Headers, scheme string, client, server Addr) (string, Addr, Addr) {
	if proto, ok := headers.Get("x-forwarded-proto"); ok {
		if p := strings.TrimSpace(strings.Split(proto, ",")[0]); p != "" {
			scheme = p
		}
	}

	if xff, ok := headers.Get("x-forwarded-for"); ok {
		if host := strings.TrimSpace(strings.Split(xff, ",")[0]); host != "" {
			client.Host = host
		}
	}

	if port, ok := headers.Get("x-forwarded-port"); ok {
		if p, err := strconv.Atoi(strings.TrimSpace(port)); err == nil {
			server.Port = p
		}
	}

	return scheme, client, server
}

// disposeHeadError decides the HTTP-level disposition of a failed head
// parse (spec §7): a clean EOF before any bytes arrived is the ordinary
// keep-alive idle close, ErrHeadTooLarge is a 431, anything else a 400.
func (c *Conn) disposeHeadError(err error) {
	if err == io.EOF {
		return
	}

	// A read-deadline timeout (the idle keep-alive sweep, spec §5
	// timeout_keep_alive) closes silently with no response, same as a
	// clean EOF — spec §7's Timeout row, not ParseError's 400.
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return
	}

	status := 400
	if err == protocol.ErrHeadTooLarge {
		status = 431
	}

	w := respwriter.New(c.bw, "1.1", c.opts.RespOptions)
	w.WriteAuto500ForStatus(status)
	c.bw.Flush()

	c.log.Debugf("rejecting connection: %v", liberr.Wrap(liberr.CodeParse, "head parse failed", err))
}

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

// Package server is the server supervisor (spec §4.8, component C8): it
// owns the listener, spawns one conn.Conn per accepted socket, runs the
// 1Hz tick (Date-header refresh, max_requests enforcement), and
// coordinates graceful/forced shutdown with the lifespan coordinator.
// Idle keep-alive connections are closed by each conn.Conn's own read
// deadline (conn.Options.IdleTimeout), not by the supervisor. Modeled on nabbar-golib/httpserver.server's
// Listen/Shutdown/Restart shape, generalized from one *http.Server to
// asgid's own connection engine.
package server

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/sabouaram/asgid/ai"
	"github.com/sabouaram/asgid/conn"
	liberr "github.com/sabouaram/asgid/errors"
	"github.com/sabouaram/asgid/lifespan"
	"github.com/sabouaram/asgid/logger"
)

// Metrics are the prometheus series the supervisor maintains, named
// after uvicorn's own equivalents (spec's domain-stack expansion).
type Metrics struct {
	ActiveConnections prometheus.Gauge
	RequestsTotal      prometheus.Counter
	RejectedTotal       prometheus.Counter
}

// NewMetrics registers the supervisor's series with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "asgid_active_connections",
			Help: "Currently open connections.",
		}),
		RequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "asgid_requests_total",
			Help: "Total connections accepted for dispatch.",
		}),
		RejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "asgid_requests_rejected_total",
			Help: "Connections rejected with a 503 by limit_concurrency or the ingress rate limit.",
		}),
	}

	reg.MustRegister(m.ActiveConnections, m.RequestsTotal, m.RejectedTotal)
	return m
}

// Options configures the supervisor.
type Options struct {
	Bind conn.BindSpec

	ConnOptions conn.Options

	LimitConcurrency int
	LimitMaxRequests int

	// IngressRateLimit/IngressRateBurst shape the rate of newly
	// accepted connections (new connections/sec, burst size); zero
	// IngressRateLimit disables shaping entirely.
	IngressRateLimit float64
	IngressRateBurst int

	TimeoutKeepAlive      time.Duration
	TimeoutGracefulShutdown time.Duration

	LifespanMode lifespan.Mode
	LifespanApp  ai.Application

	Log     logger.Logger
	Metrics *Metrics
}

// Server is the running supervisor for one listener.
type Server struct {
	opts Options
	log  logger.Logger

	lis     net.Listener
	sem     *semaphore.Weighted
	limiter *rate.Limiter

	lifespan *lifespan.Coordinator

	mu          sync.Mutex
	dateCache   string
	requestSeen int64

	conns sync.Map // *conn.Conn -> struct{}

	shouldExit atomic.Bool
	forceExit  atomic.Bool
	shutdownC  chan struct{}
	forceC     chan struct{}
	forceOnce  sync.Once
	doneC      chan struct{}
}

// New builds a Server bound to opts.Bind but does not yet start
// accepting connections; call Serve for that.
func New(opts Options) (*Server, liberr.Error) {
	log := opts.Log
	if log == nil {
		log = logger.Default()
	}

	lis, err := conn.Listen(opts.Bind)
	if err != nil {
		return nil, err
	}

	var sem *semaphore.Weighted
	if opts.LimitConcurrency > 0 {
		sem = semaphore.NewWeighted(int64(opts.LimitConcurrency))
	}

	var limiter *rate.Limiter
	if opts.IngressRateLimit > 0 {
		burst := opts.IngressRateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.IngressRateLimit), burst)
	}

	s := &Server{
		opts:      opts,
		log:       log,
		lis:       lis,
		sem:       sem,
		limiter:   limiter,
		lifespan:  lifespan.New(opts.LifespanMode, opts.LifespanApp, log),
		shutdownC: make(chan struct{}),
		forceC:    make(chan struct{}),
		doneC:     make(chan struct{}),
	}
	s.refreshDate()

	return s, nil
}

// Serve runs the supervisor until ctx is cancelled or Shutdown is
// called: lifespan startup, accept loop, 1Hz tick, then graceful
// shutdown once the accept loop stops (spec §4.7, §4.8).
func (s *Server) Serve(ctx context.Context) error {
	if err := s.lifespan.Startup(ctx); err != nil {
		return err
	}

	acceptCtx, cancelAccept := context.WithCancel(ctx)
	defer cancelAccept()

	g, gCtx := errgroup.WithContext(acceptCtx)

	g.Go(func() error {
		s.tick(gCtx)
		return nil
	})

	acceptErr := make(chan error, 1)
	g.Go(func() error {
		err := s.acceptLoop(gCtx)
		acceptErr <- err
		return err
	})

	select {
	case <-ctx.Done():
	case <-s.shutdownC:
	case err := <-acceptErr:
		if err != nil {
			s.log.Warnf("accept loop ended: %v", err)
		}
	}

	// shutdown() closes the listener first, which is what unblocks
	// acceptLoop's pending Accept(); only then can the errgroup's
	// goroutines (accept loop, tick) actually return.
	result := s.shutdown()

	cancelAccept()
	g.Wait()

	return result
}

// Shutdown requests a graceful stop (spec §4.8: stop accepting, let
// in-flight cycles finish, then force-close after the grace period).
func (s *Server) Shutdown() {
	if s.shouldExit.CompareAndSwap(false, true) {
		close(s.shutdownC)
	}
}

// ForceShutdown is spec §5's second-signal force_exit: every open
// connection is closed immediately, truncating in-flight responses,
// instead of waiting out TimeoutGracefulShutdown. Safe to call before,
// during, or after Shutdown, and more than once.
func (s *Server) ForceShutdown() {
	s.forceExit.Store(true)
	s.Shutdown()
	s.forceOnce.Do(func() { close(s.forceC) })
}

func (s *Server) acceptLoop(ctx context.Context) error {
	for {
		raw, err := s.lis.Accept()
		if err != nil {
			if s.shouldExit.Load() {
				return nil
			}
			return liberr.Wrap(liberr.CodeIO, "accept", err)
		}

		if s.opts.LimitMaxRequests > 0 && atomic.LoadInt64(&s.requestSeen) >= int64(s.opts.LimitMaxRequests) {
			raw.Close()
			continue
		}

		if s.limiter != nil && !s.limiter.Allow() {
			s.rejectOverflow(raw)
			continue
		}

		if s.sem != nil && !s.sem.TryAcquire(1) {
			s.rejectOverflow(raw)
			continue
		}

		atomic.AddInt64(&s.requestSeen, 1)
		if s.opts.Metrics != nil {
			s.opts.Metrics.RequestsTotal.Inc()
			s.opts.Metrics.ActiveConnections.Inc()
		}

		c := conn.New(raw, s.connOptions())
		s.conns.Store(c, struct{}{})

		go func() {
			defer func() {
				s.conns.Delete(c)
				if s.sem != nil {
					s.sem.Release(1)
				}
				if s.opts.Metrics != nil {
					s.opts.Metrics.ActiveConnections.Dec()
				}
			}()
			c.Serve(ctx)
		}()
	}
}

func (s *Server) connOptions() conn.Options {
	o := s.opts.ConnOptions
	o.RespOptions.DateProvider = s.dateHeader
	return o
}

// rejectOverflow writes the auto-503 (spec §4.8, §7) then closes,
// without ever constructing a conn.Conn for the rejected socket.
func (s *Server) rejectOverflow(raw net.Conn) {
	defer raw.Close()
	if s.opts.Metrics != nil {
		s.opts.Metrics.RejectedTotal.Inc()
	}
	raw.Write([]byte("HTTP/1.1 503 Service Unavailable\r\ncontent-type: text/plain; charset=utf-8\r\nconnection: close\r\ncontent-length: 0\r\n\r\n"))
}

// tick runs the 1Hz housekeeping loop: Date-header cache refresh and
// max_requests enforcement, requesting a graceful Shutdown once
// acceptLoop has counted LimitMaxRequests accepted connections
// (spec §4.8).
func (s *Server) tick(ctx context.Context) {
	t := time.NewTicker(time.Second)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			s.refreshDate()
			if s.opts.LimitMaxRequests > 0 && atomic.LoadInt64(&s.requestSeen) >= int64(s.opts.LimitMaxRequests) {
				s.Shutdown()
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) refreshDate() {
	s.mu.Lock()
	s.dateCache = time.Now().UTC().Format(http1123)
	s.mu.Unlock()
}

func (s *Server) dateHeader() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dateCache
}

const http1123 = "Mon, 02 Jan 2006 15:04:05 GMT"

// shutdown stops accepting, waits up to TimeoutGracefulShutdown for
// open connections to drain, force-closes stragglers, then runs the
// lifespan shutdown handshake (spec §4.7, §4.8).
func (s *Server) shutdown() error {
	s.shouldExit.Store(true)
	closeErr := s.lis.Close()

	grace := s.opts.TimeoutGracefulShutdown
	if grace <= 0 {
		grace = 30 * time.Second
	}

	drained := make(chan struct{})
	go func() {
		for {
			empty := true
			s.conns.Range(func(_, _ interface{}) bool { empty = false; return false })
			if empty {
				close(drained)
				return
			}
			time.Sleep(50 * time.Millisecond)
		}
	}()

	select {
	case <-drained:
	case <-s.forceC:
		s.conns.Range(func(k, _ interface{}) bool {
			k.(*conn.Conn).Close()
			return true
		})
	case <-time.After(grace):
		s.conns.Range(func(k, _ interface{}) bool {
			k.(*conn.Conn).Close()
			return true
		})
	}

	var result *multierror.Error
	if closeErr != nil {
		result = multierror.Append(result, closeErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := s.lifespan.Shutdown(shutdownCtx); err != nil {
		result = multierror.Append(result, err)
	}

	close(s.doneC)
	return result.ErrorOrNil()
}

// Done is closed once shutdown completes, for callers awaiting exit.
func (s *Server) Done() <-chan struct{} { return s.doneC }

// Addr returns the bound listener's address, useful when BindSpec.Addr
// asked for an ephemeral port (":0").
func (s *Server) Addr() net.Addr { return s.lis.Addr() }

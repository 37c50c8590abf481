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

// Command asgid hosts an Application Interface callable behind asgid's
// HTTP/1.1 server core (spec §1, §6). The callables are registered up
// front via RegisterApp before main() runs cobra's command tree; without
// a registration the built-in default HTTP callable is served.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sabouaram/asgid/ai"
	"github.com/sabouaram/asgid/conn"
	"github.com/sabouaram/asgid/config"
	liberr "github.com/sabouaram/asgid/errors"
	"github.com/sabouaram/asgid/lifespan"
	"github.com/sabouaram/asgid/logger"
	"github.com/sabouaram/asgid/respwriter"
	"github.com/sabouaram/asgid/server"
	"github.com/sabouaram/asgid/tlsconfig"
	"github.com/sabouaram/asgid/upgrade"
)

// Exit codes per spec §6.
const (
	exitOK             = 0
	exitConfigOrLoad   = 1
	exitLifespanFailed = 3
)

// httpApp, wsApp and lifespanApp are the hosted callables. A real
// deployment sets these via RegisterApp before calling Execute; the
// default HTTP callable drains the request body and replies 200 with
// the fixed text "asgid\n".
var (
	httpApp     ai.Application = defaultEchoApp
	wsApp       ai.Application
	lifespanApp ai.Application
)

// RegisterApp lets an embedding program supply the hosted callables
// asgid dispatches to, the same seam uvicorn's `app:factory` import
// string resolves to at the Python layer.
func RegisterApp(http, ws, lsp ai.Application) {
	if http != nil {
		httpApp = http
	}
	wsApp = ws
	lifespanApp = lsp
}

func main() {
	os.Exit(run())
}

func run() int {
	v := viper.New()
	root := newRootCmd(v)

	// Execute() only ever returns a generic error, not the exit code
	// RunE computed; default to exitConfigOrLoad for failures cobra
	// itself raises before RunE runs (e.g. flag parsing), and let
	// RunE's own assignment below win whenever it did run.
	exitCode = exitConfigOrLoad

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("asgid: %v", err))
		return exitCode
	}

	return exitCode
}

// exitCode is set by RunE so main can propagate a non-zero code
// (e.g. exitLifespanFailed=3) through cobra's Execute()-returns-
// error-only contract.
var exitCode int

func newRootCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "asgid",
		Short: "Serve an Application Interface callable over HTTP/1.1",
	}

	flags := cmd.Flags()
	flags.String("host", "127.0.0.1", "bind host")
	flags.Int("port", 8000, "bind port")
	flags.String("uds", "", "bind to a unix domain socket path instead of host:port")
	flags.Int("fd", 0, "bind to an inherited file descriptor instead of host:port")
	flags.Bool("ws", false, "enable websocket upgrade handling")
	flags.String("lifespan", "auto", "lifespan mode: on, off, auto")
	flags.Int("limit-concurrency", 0, "maximum concurrent connections (0 = unlimited)")
	flags.Int("limit-max-requests", 0, "shut down gracefully once this many connections have been accepted (0 = unlimited)")
	flags.Float64("limit-ingress-rate", 0, "max new connections accepted per second (0 = unlimited)")
	flags.Int("limit-ingress-burst", 1, "burst size for --limit-ingress-rate")
	flags.Int("timeout-keep-alive", 5, "seconds an idle keep-alive connection is held open")
	flags.Int("timeout-graceful-shutdown", 30, "seconds to wait for in-flight requests during shutdown")
	flags.String("ssl-certfile", "", "TLS certificate file")
	flags.String("ssl-keyfile", "", "TLS private key file")
	flags.Bool("proxy-headers", false, "honor X-Forwarded-* headers from peers listed in forwarded-allow-ips")
	flags.String("root-path", "", "ASGI root_path mounted behind a path-stripping proxy")
	flags.String("log-level", "info", "trace, debug, info, warn, error")
	flags.Bool("access-log", true, "emit one log line per completed request")

	v.BindPFlags(flags)
	v.BindPFlag("ws-enabled", flags.Lookup("ws"))
	v.BindPFlag("tls.cert-file", flags.Lookup("ssl-certfile"))
	v.BindPFlag("tls.key-file", flags.Lookup("ssl-keyfile"))
	v.SetEnvPrefix("asgid")
	v.AutomaticEnv()

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		exitCode = runServe(v)
		if exitCode != exitOK {
			return fmt.Errorf("exit code %d", exitCode)
		}
		return nil
	}

	return cmd
}

func runServe(v *viper.Viper) int {
	cfg, cErr := config.Load(v)
	if cErr != nil {
		fmt.Fprintln(os.Stderr, color.RedString("configuration error: %v", cErr))
		return exitConfigOrLoad
	}

	log := logger.New(os.Stderr, parseLevel(cfg.LogLevel))

	bind := conn.BindSpec{Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), UDSPath: cfg.UDS, FD: cfg.FD}
	if cfg.TLS.CertFile != "" {
		built, err := tlsconfig.Build(tlsconfig.Config{
			Pairs: []tlsconfig.CertPair{{CertFile: cfg.TLS.CertFile, KeyFile: cfg.TLS.KeyFile}},
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, color.RedString("tls error: %v", err))
			return exitConfigOrLoad
		}
		bind.TLS = built
	}

	var upgradeHandler conn.UpgradeHandler
	if cfg.WSEnabled && wsApp != nil {
		upgradeHandler = upgrade.Handler{App: wsApp, Log: log}.Handle
	}

	srv, sErr := server.New(server.Options{
		Bind: bind,
		ConnOptions: conn.Options{
			MaxHeadBytes:   cfg.MaxHeadBytes,
			HighWater:      cfg.HighWaterBytes,
			LowWater:       cfg.LowWaterBytes,
			MaxPipelined:   cfg.MaxPipelinedRequests,
			IdleTimeout:    time.Duration(cfg.TimeoutKeepAliveSeconds) * time.Second,
			RootPath:       cfg.RootPath,
			ProxyHeaders:   cfg.ProxyHeaders,
			TrustedProxies: cfg.ForwardedFor,
			AccessLog:      cfg.AccessLog,
			App:            httpApp,
			Upgrade:        upgradeHandler,
			Log:            log,
			RespOptions: respwriter.Options{
				ServerToken: "asgid",
				EmitServer:  cfg.ServerHeader,
				EmitDate:    cfg.DateHeader,
			},
		},
		LimitConcurrency:        cfg.LimitConcurrency,
		LimitMaxRequests:        cfg.LimitMaxRequests,
		IngressRateLimit:        cfg.IngressRateLimit,
		IngressRateBurst:        cfg.IngressRateBurst,
		TimeoutKeepAlive:        time.Duration(cfg.TimeoutKeepAliveSeconds) * time.Second,
		TimeoutGracefulShutdown: time.Duration(cfg.TimeoutGracefulSeconds) * time.Second,
		LifespanMode:            lifespan.Mode(cfg.LifespanMode),
		LifespanApp:             lifespanApp,
		Log:                     log,
	})
	if sErr != nil {
		fmt.Fprintln(os.Stderr, color.RedString("bind error: %v", sErr))
		return exitConfigOrLoad
	}

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 2)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("received shutdown signal, draining connections")
		cancel()
		srv.Shutdown()

		<-sig
		log.Warn("received second shutdown signal, forcing exit")
		srv.ForceShutdown()
	}()

	if err := srv.Serve(ctx); err != nil {
		if liberr.Is(err, liberr.CodeLifespan) {
			log.Errorf("lifespan failure: %v", err)
			return exitLifespanFailed
		}
		log.Errorf("server exited with error: %v", err)
		return exitConfigOrLoad
	}

	return exitOK
}

func parseLevel(s string) logger.Level {
	switch s {
	case "trace":
		return logger.TraceLevel
	case "debug":
		return logger.DebugLevel
	case "warn":
		return logger.WarnLevel
	case "error":
		return logger.ErrorLevel
	default:
		return logger.InfoLevel
	}
}

func defaultEchoApp(ctx context.Context, scope ai.Scope, recv ai.Receive, send ai.Send) error {
	if scope.Type != ai.ScopeHTTP {
		return nil
	}

	for {
		msg, err := recv(ctx)
		if err != nil {
			return err
		}
		if msg.Kind == ai.InboundDisconnect {
			return nil
		}
		if !msg.MoreBody {
			break
		}
	}

	if err := send(ctx, ai.OutboundMessage{
		Kind:    ai.OutboundResponseStart,
		Status:  200,
		Headers: ai.Headers{{Name: []byte("content-type"), Value: []byte("text/plain; charset=utf-8")}},
	}); err != nil {
		return err
	}

	return send(ctx, ai.OutboundMessage{Kind: ai.OutboundResponseBody, Body: []byte("asgid\n"), MoreBody: false})
}

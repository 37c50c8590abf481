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

package conn

import (
	"crypto/tls"
	"fmt"
	"net"
	"os"

	liberr "github.com/sabouaram/asgid/errors"
)

// BindSpec names the one listening socket the byte/IO layer (spec §4.1,
// component C1) binds: exactly one of Addr, UDSPath or FD is set, the
// same three-way choice nabbar-golib/httpserver's config.go exposes for
// --http, a UNIX socket path, or an inherited descriptor.
type BindSpec struct {
	Addr    string // host:port, net.Listen("tcp", ...)
	UDSPath string
	FD      int

	TLS *tls.Config
}

// Listen binds the configured socket and, when TLS is set, wraps it,
// mirroring nabbar-golib/httpserver/server.go's listener construction.
func Listen(spec BindSpec) (net.Listener, liberr.Error) {
	var (
		lis net.Listener
		err error
	)

	switch {
	case spec.FD > 0:
		f := os.NewFile(uintptr(spec.FD), "asgid-inherited-fd")
		lis, err = net.FileListener(f)
	case spec.UDSPath != "":
		lis, err = net.Listen("unix", spec.UDSPath)
	case spec.Addr != "":
		lis, err = net.Listen("tcp", spec.Addr)
	default:
		return nil, liberr.New(liberr.CodeBind, "no bind target configured")
	}

	if err != nil {
		return nil, liberr.Wrap(liberr.CodeBind, fmt.Sprintf("bind %+v", spec), err)
	}

	if spec.TLS != nil {
		lis = tls.NewListener(lis, spec.TLS)
	}

	return lis, nil
}

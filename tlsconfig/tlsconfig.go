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

// Package tlsconfig builds the opaque, already-configured TLS acceptor
// the byte/IO layer consumes (spec §4.1: "the core consumes an opaque
// configured TLS acceptor"; TLS context construction itself is out of
// scope). Modeled on nabbar-golib/certificates' certificate-pair and
// version/cipher builder, condensed to what a listener needs.
package tlsconfig

import (
	"crypto/tls"

	liberr "github.com/sabouaram/asgid/errors"
)

// CertPair is one certificate+key file pair, the smallest unit
// nabbar-golib/certificates.Config accumulates via AddCertificatePairFile.
type CertPair struct {
	CertFile string
	KeyFile  string
}

// Config is the subset of TLS knobs the server supervisor exposes on the
// CLI/config surface (--ssl-* flags of spec §6).
type Config struct {
	Pairs      []CertPair
	MinVersion uint16
	MaxVersion uint16
	ClientCAs  []string
	ClientAuth tls.ClientAuthType
}

// Build loads certificate pairs and produces a *tls.Config ready for
// net.Listener wrapping. Returns nil, nil if no pairs are configured
// (plain HTTP).
func Build(cfg Config) (*tls.Config, liberr.Error) {
	if len(cfg.Pairs) == 0 {
		return nil, nil
	}

	tc := &tls.Config{
		MinVersion: cfg.MinVersion,
		MaxVersion: cfg.MaxVersion,
		ClientAuth: cfg.ClientAuth,
	}

	if tc.MinVersion == 0 {
		tc.MinVersion = tls.VersionTLS12
	}

	for _, pair := range cfg.Pairs {
		cert, err := tls.LoadX509KeyPair(pair.CertFile, pair.KeyFile)
		if err != nil {
			return nil, liberr.Wrap(liberr.CodeBind, "load certificate pair", err)
		}
		tc.Certificates = append(tc.Certificates, cert)
	}

	return tc, nil
}

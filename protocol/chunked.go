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

package protocol

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"strings"
)

// ErrChunkFraming is returned when a chunked body is malformed; the
// connection engine treats this as a ParseError (spec §7).
var ErrChunkFraming = errors.New("protocol: malformed chunked body")

// chunkedReader decodes request-side chunked transfer-encoding
// (<hex-len>\r\n<bytes>\r\n ... 0\r\n\r\n), the mirror of the encoder in
// respwriter. bufio is used directly because no example repository
// in the retrieval pack ships a standalone chunked transfer-encoding
// reader (see SPEC_FULL.md domain-stack note).
type chunkedReader struct {
	br        *bufio.Reader
	remaining int64
	sawEOF    bool
	err       error
}

func newChunkedReader(br *bufio.Reader) *chunkedReader {
	return &chunkedReader{br: br}
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}

	if c.remaining == 0 {
		if c.sawEOF {
			return 0, io.EOF
		}
		if err := c.nextChunkSize(); err != nil {
			c.err = err
			return 0, err
		}
		if c.remaining == 0 {
			c.sawEOF = true
			if err := c.discardTrailer(); err != nil {
				c.err = err
				return 0, err
			}
			return 0, io.EOF
		}
	}

	if int64(len(p)) > c.remaining {
		p = p[:c.remaining]
	}

	n, err := c.br.Read(p)
	c.remaining -= int64(n)

	if err != nil && err != io.EOF {
		c.err = err
		return n, err
	}

	if c.remaining == 0 {
		if _, crlfErr := c.br.Discard(2); crlfErr != nil {
			c.err = ErrChunkFraming
			return n, c.err
		}
	}

	return n, nil
}

func (c *chunkedReader) nextChunkSize() error {
	line, err := c.br.ReadString('\n')
	if err != nil {
		return err
	}

	line = strings.TrimRight(line, "\r\n")
	if idx := strings.IndexByte(line, ';'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)

	n, err := strconv.ParseInt(line, 16, 64)
	if err != nil || n < 0 {
		return ErrChunkFraming
	}

	c.remaining = n
	return nil
}

// discardTrailer consumes any trailer headers after the terminal 0-chunk
// up to and including the final blank line.
func (c *chunkedReader) discardTrailer() error {
	for {
		line, err := c.br.ReadString('\n')
		if err != nil {
			return err
		}
		if strings.TrimRight(line, "\r\n") == "" {
			return nil
		}
	}
}

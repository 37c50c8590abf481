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

package upgrade

import (
	"bufio"
	"encoding/binary"
	"io"
	"sync"

	"github.com/sabouaram/asgid/ai"
)

// Opcodes per RFC 6455 §5.2, named the way the pepnova reference names
// them.
const (
	opCont  = 0x0
	opText  = 0x1
	opBin   = 0x2
	opClose = 0x8
	opPing  = 0x9
	opPong  = 0xA
)

// frameConn reads and writes single, unfragmented WebSocket frames over
// the connection's existing bufio pair. Client frames are masked per
// RFC 6455 §5.3; server frames are not.
type frameConn struct {
	br *bufio.Reader
	bw *bufio.Writer
	mu sync.Mutex
}

// readFrames decodes inbound data frames into InboundMessage values
// until a close frame, control ping/pong aside, or a read error ends
// the connection.
func (f *frameConn) readFrames(out chan<- ai.InboundMessage, closed chan<- struct{}) {
	defer close(out)
	defer close(closed)

	for {
		opcode, payload, err := f.readFrame()
		if err != nil {
			return
		}

		switch opcode {
		case opText:
			out <- ai.InboundMessage{Kind: ai.InboundWebSocketReceive, Text: string(payload), IsText: true}
		case opBin:
			out <- ai.InboundMessage{Kind: ai.InboundWebSocketReceive, Bytes: payload, IsText: false}
		case opPing:
			f.writeFrame(opPong, payload)
		case opClose:
			code := 1005
			if len(payload) >= 2 {
				code = int(binary.BigEndian.Uint16(payload[:2]))
			}
			out <- ai.InboundMessage{Kind: ai.InboundWebSocketDisconnect, Code: code}
			return
		case opPong, opCont:
			// Pongs need no reply; continuation frames are out of scope
			// per spec §4.9's fragmentation non-goal.
		}
	}
}

// readFrame decodes one frame header and its (unmasked) payload.
func (f *frameConn) readFrame() (opcode byte, payload []byte, err error) {
	var head [2]byte
	if _, err = io.ReadFull(f.br, head[:]); err != nil {
		return 0, nil, err
	}

	opcode = head[0] & 0x0F
	masked := head[1]&0x80 != 0
	length := int64(head[1] & 0x7F)

	switch length {
	case 126:
		var ext [2]byte
		if _, err = io.ReadFull(f.br, ext[:]); err != nil {
			return 0, nil, err
		}
		length = int64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err = io.ReadFull(f.br, ext[:]); err != nil {
			return 0, nil, err
		}
		length = int64(binary.BigEndian.Uint64(ext[:]))
	}

	var maskKey [4]byte
	if masked {
		if _, err = io.ReadFull(f.br, maskKey[:]); err != nil {
			return 0, nil, err
		}
	}

	payload = make([]byte, length)
	if _, err = io.ReadFull(f.br, payload); err != nil {
		return 0, nil, err
	}

	if masked {
		for i := range payload {
			payload[i] ^= maskKey[i%4]
		}
	}

	return opcode, payload, nil
}

// writeFrame writes one unmasked server-to-client frame (RFC 6455 §5.1:
// "a server MUST NOT mask any frames").
func (f *frameConn) writeFrame(opcode byte, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.bw.WriteByte(0x80 | opcode); err != nil {
		return err
	}

	n := len(payload)
	switch {
	case n < 126:
		if err := f.bw.WriteByte(byte(n)); err != nil {
			return err
		}
	case n <= 0xFFFF:
		if err := f.bw.WriteByte(126); err != nil {
			return err
		}
		var ext [2]byte
		binary.BigEndian.PutUint16(ext[:], uint16(n))
		if _, err := f.bw.Write(ext[:]); err != nil {
			return err
		}
	default:
		if err := f.bw.WriteByte(127); err != nil {
			return err
		}
		var ext [8]byte
		binary.BigEndian.PutUint64(ext[:], uint64(n))
		if _, err := f.bw.Write(ext[:]); err != nil {
			return err
		}
	}

	if _, err := f.bw.Write(payload); err != nil {
		return err
	}

	return f.bw.Flush()
}

func (f *frameConn) writeClose(code int) error {
	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, uint16(code))
	return f.writeFrame(opClose, payload)
}

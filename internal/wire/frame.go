// Copyright (c) 2024 chunkserver contributors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package wire implements the one framing shared by the master protocol and
// the client read/write protocol (spec §6): type:u32 | length:u32 | payload,
// big-endian throughout.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

const HeaderSize = 8

// MaxPacketSize bounds a single frame's payload. Anything larger is a
// protocol violation, not a resource-exhaustion mitigation we tune.
const MaxPacketSize = 100 * 1024 * 1024

// NOP is exchanged bidirectionally as a keepalive: type=NOP, length=0.
const NOP uint32 = 0

type Header struct {
	Type   uint32
	Length uint32
}

func DecodeHeader(b []byte) Header {
	return Header{
		Type:   binary.BigEndian.Uint32(b[0:4]),
		Length: binary.BigEndian.Uint32(b[4:8]),
	}
}

func (h Header) Encode(b []byte) {
	binary.BigEndian.PutUint32(b[0:4], h.Type)
	binary.BigEndian.PutUint32(b[4:8], h.Length)
}

// Frame is a fully decoded type+payload pair.
type Frame struct {
	Type    uint32
	Payload []byte
}

// ReadFrame reads one header+payload frame from r, rejecting declared
// lengths above MaxPacketSize (mirrors the master connection's bounded
// payload allocation, spec §4.4).
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	h := DecodeHeader(hdr[:])
	if h.Length > MaxPacketSize {
		return Frame{}, fmt.Errorf("wire: frame length %d exceeds max %d", h.Length, MaxPacketSize)
	}
	payload := make([]byte, h.Length)
	if h.Length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Type: h.Type, Payload: payload}, nil
}

// WriteFrame writes type+length+payload as a single Write when possible, so
// a keepalive sender racing on the same fd cannot interleave mid-frame
// (spec §9's "must not interleave with bytes already written" requirement —
// callers are still responsible for not calling WriteFrame concurrently
// with a keepalive send on the same socket; see internal/keepalive).
func WriteFrame(w io.Writer, f Frame) error {
	buf := make([]byte, HeaderSize+len(f.Payload))
	Header{Type: f.Type, Length: uint32(len(f.Payload))}.Encode(buf)
	copy(buf[HeaderSize:], f.Payload)
	_, err := w.Write(buf)
	return err
}

// NopFrame is the literal 8-byte NOP frame value written by the keepalive
// sender and by both protocol peers to keep idle sockets alive.
func NopFrame() []byte {
	buf := make([]byte, HeaderSize)
	Header{Type: NOP, Length: 0}.Encode(buf)
	return buf
}

// IsNop reports whether a decoded header is the keepalive NOP.
func (h Header) IsNop() bool { return h.Type == NOP && h.Length == 0 }

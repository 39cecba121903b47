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

// Package clientproto encodes and decodes the client-facing read/write wire
// messages (spec §6) on top of internal/wire's generic frame codec.
package clientproto

import (
	"fmt"

	"github.com/mooseish/chunkserver/internal/wire"
)

// Frame type codes for the client read/write protocol.
const (
	TypeReadRequest  uint32 = 0x0190 // CLTOCS_READ
	TypeReadData     uint32 = 0x0191 // CSTOCL_READ_DATA
	TypeReadStatus   uint32 = 0x0192 // CSTOCL_READ_STATUS
	TypeWriteInit    uint32 = 0x0193 // CLTOCS_WRITE
	TypeWriteData    uint32 = 0x0194 // CLTOCS_WRITE_DATA
	TypeWriteStatus  uint32 = 0x0195 // CSTOCL_WRITE_STATUS
	TypeWriteFinish  uint32 = 0x0196 // CLTOCS_WRITE_FINISH
)

// ReadRequest is a decoded CLTOCS_READ payload.
type ReadRequest struct {
	Proto   uint8
	ChunkID uint64
	Version uint32
	Offset  uint32
	Size    uint32
}

// DecodeReadRequest parses a CLTOCS_READ payload. proto is read as a
// leading byte only when hasProto is true, matching the spec's "[proto:u8]"
// optional-field notation (older clients omit it).
func DecodeReadRequest(payload []byte, hasProto bool) (ReadRequest, error) {
	r := wire.NewReader(payload)
	var req ReadRequest
	if hasProto {
		req.Proto = r.U8()
	}
	req.ChunkID = r.U64()
	req.Version = r.U32()
	req.Offset = r.U32()
	req.Size = r.U32()
	if err := r.Err(); err != nil {
		return ReadRequest{}, fmt.Errorf("clientproto: read request: %w", err)
	}
	return req, nil
}

// EncodeReadData builds a CSTOCL_READ_DATA payload: header fields plus the
// raw block bytes and their stored CRC.
func EncodeReadData(chunkID uint64, blockNum uint16, blockOffset, blockSize uint32, crc uint32, data []byte) []byte {
	return wire.NewBuilder().
		U64(chunkID).
		U16(blockNum).
		U32(blockOffset).
		U32(blockSize).
		U32(crc).
		Bytes(data).
		Build()
}

// EncodeReadStatus builds the terminal CSTOCL_READ_STATUS payload.
func EncodeReadStatus(chunkID uint64, status uint8) []byte {
	return wire.NewBuilder().U64(chunkID).U8(status).Build()
}

// ChainHop is one downstream peer in a CLTOCS_WRITE chain.
type ChainHop struct {
	IP   uint32
	Port uint16
}

// WriteInit is a decoded CLTOCS_WRITE payload.
type WriteInit struct {
	Proto   uint8
	ChunkID uint64
	Version uint32
	Chain   []ChainHop
}

// DecodeWriteInit parses a CLTOCS_WRITE payload; the chain is whatever
// (ip:u32,port:u16) pairs remain after the fixed fields.
func DecodeWriteInit(payload []byte, hasProto bool) (WriteInit, error) {
	r := wire.NewReader(payload)
	var w WriteInit
	if hasProto {
		w.Proto = r.U8()
	}
	w.ChunkID = r.U64()
	w.Version = r.U32()
	for len(r.Remaining()) >= 6 {
		w.Chain = append(w.Chain, ChainHop{IP: r.U32(), Port: r.U16()})
	}
	if err := r.Err(); err != nil {
		return WriteInit{}, fmt.Errorf("clientproto: write init: %w", err)
	}
	return w, nil
}

// EncodeWriteInit builds a CLTOCS_WRITE payload for forwarding to the next
// link in the chain. It encodes w.Chain exactly as given: the caller passes
// the chain with the first hop already stripped. Proto is not encoded, so
// the payload always has the no-proto-byte layout.
func EncodeWriteInit(w WriteInit) []byte {
	b := wire.NewBuilder().U64(w.ChunkID).U32(w.Version)
	for _, hop := range w.Chain {
		b.U32(hop.IP).U16(hop.Port)
	}
	return b.Build()
}

// WriteData is a decoded CLTOCS_WRITE_DATA payload.
type WriteData struct {
	ChunkID  uint64
	WriteID  uint32
	BlockNum uint16
	Offset   uint16
	Size     uint32
	CRC      uint32
	Data     []byte
}

// EncodeWriteData builds a CLTOCS_WRITE_DATA payload, used when forwarding
// a write block down the chain.
func EncodeWriteData(chunkID uint64, writeID uint32, blockNum, offset uint16, crc uint32, data []byte) []byte {
	return wire.NewBuilder().
		U64(chunkID).
		U32(writeID).
		U16(blockNum).
		U16(offset).
		U32(uint32(len(data))).
		U32(crc).
		Bytes(data).
		Build()
}

// DecodeWriteData parses a CLTOCS_WRITE_DATA payload, returning the
// remaining bytes as Data without copying.
func DecodeWriteData(payload []byte) (WriteData, error) {
	r := wire.NewReader(payload)
	w := WriteData{
		ChunkID:  r.U64(),
		WriteID:  r.U32(),
		BlockNum: r.U16(),
		Offset:   r.U16(),
		Size:     r.U32(),
		CRC:      r.U32(),
	}
	w.Data = r.Remaining()
	if err := r.Err(); err != nil {
		return WriteData{}, fmt.Errorf("clientproto: write data: %w", err)
	}
	return w, nil
}

// EncodeWriteStatus builds a CSTOCL_WRITE_STATUS payload.
func EncodeWriteStatus(chunkID uint64, writeID uint32, status uint8) []byte {
	return wire.NewBuilder().U64(chunkID).U32(writeID).U8(status).Build()
}

// WriteStatus is a decoded CSTOCL_WRITE_STATUS payload; WriteID==0 marks a
// pre-data failure report rather than an ack for a specific block (spec
// §4.3's downstream-readable branch).
type WriteStatus struct {
	ChunkID uint64
	WriteID uint32
	Status  uint8
}

// DecodeWriteStatus parses a CSTOCL_WRITE_STATUS payload.
func DecodeWriteStatus(payload []byte) (WriteStatus, error) {
	r := wire.NewReader(payload)
	s := WriteStatus{ChunkID: r.U64(), WriteID: r.U32(), Status: r.U8()}
	if err := r.Err(); err != nil {
		return WriteStatus{}, fmt.Errorf("clientproto: write status: %w", err)
	}
	return s, nil
}

// WriteFinish is a decoded CLTOCS_WRITE_FINISH payload.
type WriteFinish struct {
	ChunkID uint64
	Version uint32
}

// DecodeWriteFinish parses a CLTOCS_WRITE_FINISH payload.
func DecodeWriteFinish(payload []byte) (WriteFinish, error) {
	r := wire.NewReader(payload)
	f := WriteFinish{ChunkID: r.U64(), Version: r.U32()}
	if err := r.Err(); err != nil {
		return WriteFinish{}, fmt.Errorf("clientproto: write finish: %w", err)
	}
	return f, nil
}

// EncodeWriteFinish builds a CLTOCS_WRITE_FINISH payload, used when
// forwarding a Finish down the chain.
func EncodeWriteFinish(chunkID uint64, version uint32) []byte {
	return wire.NewBuilder().U64(chunkID).U32(version).Build()
}

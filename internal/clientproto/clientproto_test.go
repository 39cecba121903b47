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

package clientproto

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mooseish/chunkserver/internal/wire"
)

func TestDecodeReadRequestWithProtoByte(t *testing.T) {
	a := assert.New(t)
	payload := wire.NewBuilder().U8(1).U64(42).U32(1).U32(0x10000).U32(0x100).Build()
	req, err := DecodeReadRequest(payload, true)
	a.NoError(err)
	a.EqualValues(1, req.Proto)
	a.EqualValues(42, req.ChunkID)
	a.EqualValues(1, req.Version)
	a.EqualValues(0x10000, req.Offset)
	a.EqualValues(0x100, req.Size)
}

func TestDecodeReadRequestWithoutProtoByte(t *testing.T) {
	a := assert.New(t)
	payload := wire.NewBuilder().U64(7).U32(1).U32(0).U32(10).Build()
	req, err := DecodeReadRequest(payload, false)
	a.NoError(err)
	a.EqualValues(0, req.Proto)
	a.EqualValues(7, req.ChunkID)
	a.EqualValues(10, req.Size)
}

func TestDecodeReadRequestShortPayloadErrors(t *testing.T) {
	a := assert.New(t)
	_, err := DecodeReadRequest([]byte{1, 2, 3}, false)
	a.Error(err)
}

func TestEncodeDecodeWriteInitRoundTrips(t *testing.T) {
	a := assert.New(t)
	w := WriteInit{
		ChunkID: 99,
		Version: 3,
		Chain:   []ChainHop{{IP: 0x0a000001, Port: 9422}, {IP: 0x0a000002, Port: 9423}},
	}
	encoded := EncodeWriteInit(w)
	got, err := DecodeWriteInit(encoded, false)
	a.NoError(err)
	a.Equal(w, got)
}

func TestEncodeWriteInitStripsFirstHopForForwarding(t *testing.T) {
	a := assert.New(t)
	w := WriteInit{ChunkID: 5, Version: 1, Chain: []ChainHop{{IP: 1, Port: 1}, {IP: 2, Port: 2}}}
	forwarded := WriteInit{ChunkID: w.ChunkID, Version: w.Version, Chain: w.Chain[1:]}
	encoded := EncodeWriteInit(forwarded)
	got, err := DecodeWriteInit(encoded, false)
	a.NoError(err)
	a.Equal([]ChainHop{{IP: 2, Port: 2}}, got.Chain)
}

func TestDecodeWriteDataKeepsRemainingAsPayload(t *testing.T) {
	a := assert.New(t)
	data := []byte{0xAA, 0xBB, 0xCC}
	encoded := EncodeWriteData(1, 3, 4, 5, 0, data)
	got, err := DecodeWriteData(encoded)
	a.NoError(err)
	a.EqualValues(1, got.ChunkID)
	a.Equal(data, got.Data)
}

func TestEncodeWriteStatusAndFinish(t *testing.T) {
	a := assert.New(t)
	status := EncodeWriteStatus(1, 2, 0)
	a.Len(status, 8+4+1)

	finish := EncodeWriteFinish(1, 2)
	f, err := DecodeWriteFinish(finish)
	a.NoError(err)
	a.EqualValues(1, f.ChunkID)
	a.EqualValues(2, f.Version)
}

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

package masterproto

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mooseish/chunkserver/internal/store"
	"github.com/mooseish/chunkserver/internal/wire"
)

func wireBuild() *wire.Builder { return wire.NewBuilder() }

func TestRegisterBeginStartsWithSubtypeByte(t *testing.T) {
	a := assert.New(t)
	payload := EncodeRegisterBegin(RegisterBegin{
		Version: 63, IP: 0x0A000001, Port: 9422, Timeout: 10, CSID: 7,
		Used: 100, Total: 200, Chunks: 3,
	})
	a.Equal(RegisterSubtypeBegin, payload[0])
}

func TestRegisterBeginWithAuthDigestIsLonger(t *testing.T) {
	a := assert.New(t)
	digest := make([]byte, 16)
	for i := range digest {
		digest[i] = byte(i)
	}
	withAuth := EncodeRegisterBegin(RegisterBegin{AuthDigest: digest, Version: 63})
	withoutAuth := EncodeRegisterBegin(RegisterBegin{Version: 63})
	a.Equal(len(withoutAuth)+16, len(withAuth))
}

func TestDecodeMasterAckAccepted(t *testing.T) {
	a := assert.New(t)
	payload := wireBuild().U8(AckAccepted).U32(63).U16(10).U16(5).U64(999).Build()
	ack, err := DecodeMasterAck(payload)
	a.NoError(err)
	a.Equal(AckAccepted, ack.AType)
	a.EqualValues(63, ack.MasterVersion)
	a.EqualValues(5, ack.CSID)
	a.EqualValues(999, ack.MetaID)
}

func TestDecodeMasterAckAuthRequestedCarriesBlob(t *testing.T) {
	a := assert.New(t)
	blob := make([]byte, 32)
	for i := range blob {
		blob[i] = byte(i + 1)
	}
	payload := wireBuild().U8(AckAuthRequested).Bytes(blob).Build()
	ack, err := DecodeMasterAck(payload)
	a.NoError(err)
	a.Equal(AckAuthRequested, ack.AType)
	a.Equal(blob, ack.Blob)
}

func TestDecodeMasterAckShortPayloadErrors(t *testing.T) {
	a := assert.New(t)
	_, err := DecodeMasterAck([]byte{AckAccepted})
	a.Error(err)
}

func TestDecodeForceTimeoutRoundTrips(t *testing.T) {
	a := assert.New(t)
	payload := wireBuild().U16(30).Build()
	v, err := DecodeForceTimeout(payload)
	a.NoError(err)
	a.EqualValues(30, v)
}

func TestChunkOpArgsRoundTripEachShape(t *testing.T) {
	a := assert.New(t)

	payload := wireBuild().U64(1).U32(2).Build()
	got, err := DecodeCreate(payload)
	a.NoError(err)
	a.Equal(ChunkOpArgs{ChunkID: 1, Version: 2}, got)

	payload = wireBuild().U64(1).U32(2).U32(3).Build()
	got, err = DecodeSetVersion(payload)
	a.NoError(err)
	a.Equal(ChunkOpArgs{ChunkID: 1, Version: 2, NewVersion: 3}, got)

	payload = wireBuild().U64(1).U32(2).U32(3).U64(4).U32(5).Build()
	got, err = DecodeDuplicate(payload)
	a.NoError(err)
	a.Equal(ChunkOpArgs{ChunkID: 1, Version: 2, NewVersion: 3, CopyChunkID: 4, CopyVersion: 5}, got)

	payload = wireBuild().U64(1).U32(2).U32(3).U32(4096).Build()
	got, err = DecodeTruncate(payload)
	a.NoError(err)
	a.Equal(ChunkOpArgs{ChunkID: 1, Version: 2, NewVersion: 3, Length: 4096}, got)

	payload = wireBuild().U64(1).U32(2).U32(3).U64(4).U32(5).U32(4096).Build()
	got, err = DecodeDupTrunc(payload)
	a.NoError(err)
	a.Equal(ChunkOpArgs{ChunkID: 1, Version: 2, NewVersion: 3, CopyChunkID: 4, CopyVersion: 5, Length: 4096}, got)

	got, err = DecodeChunkOp(payload)
	a.NoError(err)
	a.Equal(ChunkOpArgs{ChunkID: 1, Version: 2, NewVersion: 3, CopyChunkID: 4, CopyVersion: 5, Length: 4096}, got)
}

func TestDecodeReplicateSimpleParsesSources(t *testing.T) {
	a := assert.New(t)
	payload := wireBuild().U64(42).U32(1).
		Bytes([]byte{10, 0, 0, 1}).U16(9422).
		Bytes([]byte{10, 0, 0, 2}).U16(9422).
		Build()
	args, err := DecodeReplicate(store.ReplicateSimple, payload)
	a.NoError(err)
	a.EqualValues(42, args.ChunkID)
	a.Len(args.Sources, 2)
	a.Equal([4]byte{10, 0, 0, 1}, args.Sources[0].IP)
	a.EqualValues(9422, args.Sources[0].Port)
}

func TestDecodeReplicateSplitParsesPartFields(t *testing.T) {
	a := assert.New(t)
	payload := wireBuild().U64(42).U32(1).U8(2).U8(4).Build()
	args, err := DecodeReplicate(store.ReplicateSplit, payload)
	a.NoError(err)
	a.EqualValues(2, args.SplitPart)
	a.EqualValues(4, args.SplitParts)
}

func TestDecodeChunkQueryRoundTrips(t *testing.T) {
	a := assert.New(t)
	payload := wireBuild().U64(7).U32(3).Build()
	q, err := DecodeChunkQuery(payload)
	a.NoError(err)
	a.EqualValues(7, q.ChunkID)
	a.EqualValues(3, q.Version)
}

func TestChunkMoveRoundTrips(t *testing.T) {
	a := assert.New(t)
	payload := EncodeChunkMove(ChunkMoveArgs{ChunkID: 5, SrcFolder: "/mnt/a", DstFolder: "/mnt/b"})
	got, err := DecodeChunkMove(payload)
	a.NoError(err)
	a.EqualValues(5, got.ChunkID)
	a.Equal("/mnt/a", got.SrcFolder)
	a.Equal("/mnt/b", got.DstFolder)
}

func TestEncodeChunkInfoAnswerOmitsDataOnError(t *testing.T) {
	a := assert.New(t)
	payload := EncodeChunkInfoAnswer(9, 1, nil)
	a.Len(payload, 9)
}

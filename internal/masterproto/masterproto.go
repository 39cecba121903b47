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

// Package masterproto encodes and decodes the master-connection wire
// messages (spec §4.4/§6) on top of internal/wire's frame codec, mirroring
// internal/clientproto's role for the client read/write protocol.
package masterproto

import (
	"fmt"

	"github.com/mooseish/chunkserver/internal/store"
	"github.com/mooseish/chunkserver/internal/wire"
)

// Frame type codes. One frame type carries every Register subtype,
// distinguished by a leading subtype byte, matching the single
// CSTOMA_REGISTER family the spec table groups under one row per subtype.
const (
	TypeRegister  uint32 = 0x0300
	TypeMasterAck uint32 = 0x0301
	TypeLabels    uint32 = 0x0302

	TypeCurrentLoad uint32 = 0x0310
	TypeSpace       uint32 = 0x0311

	TypeChunkLost        uint32 = 0x0320
	TypeChunkNew         uint32 = 0x0321
	TypeChunkDamaged     uint32 = 0x0322
	TypeChunkChanged     uint32 = 0x0323
	TypeChunkDoesntExist uint32 = 0x0324

	TypeForceTimeout uint32 = 0x0330

	TypeCreate            uint32 = 0x0340
	TypeDelete            uint32 = 0x0341
	TypeSetVersion        uint32 = 0x0342
	TypeDuplicate         uint32 = 0x0343
	TypeTruncate          uint32 = 0x0344
	TypeDupTrunc          uint32 = 0x0345
	TypeChunkOp           uint32 = 0x0346
	TypeReplicate         uint32 = 0x0347
	TypeReplicateSplit    uint32 = 0x0348
	TypeReplicateRecover  uint32 = 0x0349
	TypeReplicateJoin     uint32 = 0x034A
	TypeLocalSplit        uint32 = 0x034B
	TypeOpStatus          uint32 = 0x034C // CS->M: shared ack for every command above

	TypeChunkStatusQuery  uint32 = 0x0350
	TypeChunkStatusAnswer uint32 = 0x0351

	TypeGetChunkBlocks        uint32 = 0x0360
	TypeGetChunkChecksum      uint32 = 0x0361
	TypeGetChunkChecksumTab   uint32 = 0x0362
	TypeChunkInfoAnswer       uint32 = 0x0363 // CS->M: shared answer for the three idle queries above

	TypeChunkMove uint32 = 0x0370 // M->CS: move a chunk between two configured storage folders
)

// Register subtypes (the leading byte of a TypeRegister payload).
const (
	RegisterSubtypeBegin    uint8 = 60
	RegisterSubtypeChunks   uint8 = 61
	RegisterSubtypeComplete uint8 = 62
	RegisterSubtypeUnregister uint8 = 63
)

// RegisterBegin is the decoded v60 payload's fixed fields.
type RegisterBegin struct {
	AuthDigest []byte // 16 bytes, present only when an auth challenge is active
	Version    uint32
	IP         uint32
	Port       uint16
	Timeout    uint16
	CSID       uint16
	Used       uint64
	Total      uint64
	Chunks     uint32
	TDUsed     uint64
	TDTotal    uint64
	TDChunks   uint32
}

// EncodeRegisterBegin builds a v60 registration frame payload. authDigest
// is nil unless an AUTH_CODE challenge blob has been received and answered.
func EncodeRegisterBegin(r RegisterBegin) []byte {
	b := wire.NewBuilder().U8(RegisterSubtypeBegin)
	if len(r.AuthDigest) == 16 {
		b.Bytes(r.AuthDigest)
	}
	b.U32(r.Version).U32(r.IP).U16(r.Port).U16(r.Timeout).U16(r.CSID).
		U64(r.Used).U64(r.Total).U32(r.Chunks).
		U64(r.TDUsed).U64(r.TDTotal).U32(r.TDChunks)
	return b.Build()
}

// EncodeRegisterChunks builds a v61 frame carrying one batch of
// (chunkid, version) pairs streamed during incremental registration.
func EncodeRegisterChunks(ids []uint64, versions []uint32) []byte {
	b := wire.NewBuilder().U8(RegisterSubtypeChunks)
	for i, id := range ids {
		b.U64(id).U32(versions[i])
	}
	return b.Build()
}

// EncodeRegisterComplete builds the empty v62 "registration complete" frame.
func EncodeRegisterComplete() []byte {
	return wire.NewBuilder().U8(RegisterSubtypeComplete).Build()
}

// EncodeRegisterUnregister builds the empty v63 "unregister" frame, sent on
// a graceful shutdown.
func EncodeRegisterUnregister() []byte {
	return wire.NewBuilder().U8(RegisterSubtypeUnregister).Build()
}

// EncodeLabels builds the Labels frame sent after a v60 registration. The
// master connection sends it whenever LABELS is non-empty; the master's
// advertised version is not checked.
func EncodeLabels(mask uint32) []byte {
	return wire.NewBuilder().U32(mask).Build()
}

// MasterAck atype values (spec §4.4).
const (
	AckAccepted      uint8 = 0
	AckReject        uint8 = 1
	AckWait          uint8 = 2
	AckAuthRequested uint8 = 3
)

// MasterAck is a decoded MasterAck payload; only the fields relevant to
// atype are populated.
type MasterAck struct {
	AType         uint8
	MasterVersion uint32
	Timeout       uint16
	CSID          uint16
	MetaID        uint64
	Blob          []byte // 32 bytes, present only when AType == AckAuthRequested
}

// DecodeMasterAck parses a MasterAck payload.
func DecodeMasterAck(payload []byte) (MasterAck, error) {
	r := wire.NewReader(payload)
	ack := MasterAck{AType: r.U8()}
	switch ack.AType {
	case AckAccepted:
		ack.MasterVersion = r.U32()
		ack.Timeout = r.U16()
		ack.CSID = r.U16()
		ack.MetaID = r.U64()
	case AckAuthRequested:
		ack.Blob = r.Bytes(32)
	}
	if err := r.Err(); err != nil {
		return MasterAck{}, fmt.Errorf("masterproto: master ack: %w", err)
	}
	return ack, nil
}

// EncodeCurrentLoad builds the per-second CurrentLoad frame. sendingChunks
// is appended only when nonzero-valued callers opt in by passing present=true,
// matching the spec's "[, sending_chunks]" optional trailing field.
func EncodeCurrentLoad(load uint32, hlstatus uint8, sendingChunks uint8, present bool) []byte {
	b := wire.NewBuilder().U32(load).U8(hlstatus)
	if present {
		b.U8(sendingChunks)
	}
	return b.Build()
}

// EncodeSpace builds the Space frame.
func EncodeSpace(used, total uint64, chunks uint32, tdUsed, tdTotal uint64, tdChunks uint32) []byte {
	return wire.NewBuilder().U64(used).U64(total).U32(chunks).U64(tdUsed).U64(tdTotal).U32(tdChunks).Build()
}

// EncodeChunkIDs builds a frame carrying a bare array of chunk ids, used for
// ChunkLost and ChunkDoesntExist batches.
func EncodeChunkIDs(ids []uint64) []byte {
	b := wire.NewBuilder()
	for _, id := range ids {
		b.U64(id)
	}
	return b.Build()
}

// EncodeChunkIDVersions builds a frame carrying (chunkid, version) pairs,
// used for ChunkNew, ChunkDamaged and ChunkChanged batches.
func EncodeChunkIDVersions(ids []uint64, versions []uint32) []byte {
	b := wire.NewBuilder()
	for i, id := range ids {
		b.U64(id).U32(versions[i])
	}
	return b.Build()
}

// DecodeForceTimeout parses a ForceTimeout payload.
func DecodeForceTimeout(payload []byte) (uint16, error) {
	r := wire.NewReader(payload)
	t := r.U16()
	if err := r.Err(); err != nil {
		return 0, fmt.Errorf("masterproto: force timeout: %w", err)
	}
	return t, nil
}

// ChunkOpArgs is the decoded field set shared by Create/Delete/SetVersion/
// Duplicate/Truncate/DupTrunc/ChunkOp, matching store.Store.ChunkOp's
// argument shape directly (spec §9 Open Question #3: the numeric encoding
// is preserved, the core passes it through without branching on it).
type ChunkOpArgs struct {
	ChunkID     uint64
	Version     uint32
	NewVersion  uint32
	CopyChunkID uint64
	CopyVersion uint32
	Length      uint32
}

// DecodeCreate parses a Create command payload.
func DecodeCreate(payload []byte) (ChunkOpArgs, error) {
	r := wire.NewReader(payload)
	a := ChunkOpArgs{ChunkID: r.U64(), Version: r.U32()}
	return a, wrapErr(r, "create")
}

// DecodeDelete parses a Delete command payload.
func DecodeDelete(payload []byte) (ChunkOpArgs, error) {
	r := wire.NewReader(payload)
	a := ChunkOpArgs{ChunkID: r.U64(), Version: r.U32()}
	return a, wrapErr(r, "delete")
}

// DecodeSetVersion parses a SetVersion command payload.
func DecodeSetVersion(payload []byte) (ChunkOpArgs, error) {
	r := wire.NewReader(payload)
	a := ChunkOpArgs{ChunkID: r.U64(), Version: r.U32(), NewVersion: r.U32()}
	return a, wrapErr(r, "set version")
}

// DecodeDuplicate parses a Duplicate command payload.
func DecodeDuplicate(payload []byte) (ChunkOpArgs, error) {
	r := wire.NewReader(payload)
	a := ChunkOpArgs{
		ChunkID: r.U64(), Version: r.U32(), NewVersion: r.U32(),
		CopyChunkID: r.U64(), CopyVersion: r.U32(),
	}
	return a, wrapErr(r, "duplicate")
}

// DecodeTruncate parses a Truncate command payload.
func DecodeTruncate(payload []byte) (ChunkOpArgs, error) {
	r := wire.NewReader(payload)
	a := ChunkOpArgs{ChunkID: r.U64(), Version: r.U32(), NewVersion: r.U32(), Length: r.U32()}
	return a, wrapErr(r, "truncate")
}

// DecodeDupTrunc parses a DupTrunc (duplicate+truncate) command payload.
func DecodeDupTrunc(payload []byte) (ChunkOpArgs, error) {
	r := wire.NewReader(payload)
	a := ChunkOpArgs{
		ChunkID: r.U64(), Version: r.U32(), NewVersion: r.U32(),
		CopyChunkID: r.U64(), CopyVersion: r.U32(), Length: r.U32(),
	}
	return a, wrapErr(r, "dup trunc")
}

// DecodeChunkOp parses the generic ChunkOp command payload: every field
// ChunkOpArgs has, always present, regardless of which of the 0..2/10..11
// sub-operations the master is asking for (Open Question #3).
func DecodeChunkOp(payload []byte) (ChunkOpArgs, error) {
	r := wire.NewReader(payload)
	a := ChunkOpArgs{
		ChunkID: r.U64(), Version: r.U32(), NewVersion: r.U32(),
		CopyChunkID: r.U64(), CopyVersion: r.U32(), Length: r.U32(),
	}
	return a, wrapErr(r, "chunk op")
}

// EncodeOpStatus builds the shared command-acknowledgement payload; the
// master connection encodes it in a job's completion callback and sends it
// through attachAndSend.
func EncodeOpStatus(chunkID uint64, status uint8) []byte {
	return wire.NewBuilder().U64(chunkID).U8(status).Build()
}

// DecodeReplicate parses Replicate/ReplicateSplit/ReplicateRecover/
// ReplicateJoin/LocalSplit command payloads into the store package's own
// ReplicateArgs shape, with kind selected by the caller from the frame
// type. All five start with (chunkid, version) and end with the sources;
// Split adds part/parts bytes and Recovery a recover-id byte in between.
func DecodeReplicate(kind store.ReplicateKind, payload []byte) (store.ReplicateArgs, error) {
	r := wire.NewReader(payload)
	args := store.ReplicateArgs{ChunkID: r.U64(), Version: r.U32()}
	switch kind {
	case store.ReplicateSplit:
		args.SplitPart = r.U8()
		args.SplitParts = r.U8()
	case store.ReplicateRecovery:
		args.RecoverID = r.U8()
	}
	for len(r.Remaining()) >= 6 {
		var src store.ReplicationSource
		ipBytes := r.Bytes(4)
		copy(src.IP[:], ipBytes)
		src.Port = r.U16()
		args.Sources = append(args.Sources, src)
	}
	if err := r.Err(); err != nil {
		return store.ReplicateArgs{}, fmt.Errorf("masterproto: replicate: %w", err)
	}
	return args, nil
}

// ChunkQuery is the decoded shape shared by ChunkStatus, GetChunkBlocks,
// GetChunkChecksum and GetChunkChecksumTab requests.
type ChunkQuery struct {
	ChunkID uint64
	Version uint32
}

// DecodeChunkQuery parses any of the four chunk-query command payloads.
func DecodeChunkQuery(payload []byte) (ChunkQuery, error) {
	r := wire.NewReader(payload)
	q := ChunkQuery{ChunkID: r.U64(), Version: r.U32()}
	return q, wrapErr(r, "chunk query")
}

// EncodeChunkStatusAnswer builds the ChunkStatus response.
func EncodeChunkStatusAnswer(chunkID uint64, status uint8) []byte {
	return wire.NewBuilder().U64(chunkID).U8(status).Build()
}

// EncodeChunkInfoAnswer builds the shared answer frame for GetChunkBlocks/
// GetChunkChecksum/GetChunkChecksumTab: data is empty whenever status is
// not OK.
func EncodeChunkInfoAnswer(chunkID uint64, status uint8, data []byte) []byte {
	return wire.NewBuilder().U64(chunkID).U8(status).Bytes(data).Build()
}

// ChunkMoveArgs is the decoded ChunkMove command payload.
type ChunkMoveArgs struct {
	ChunkID   uint64
	SrcFolder string
	DstFolder string
}

// EncodeChunkMove builds a ChunkMove command payload.
func EncodeChunkMove(a ChunkMoveArgs) []byte {
	b := wire.NewBuilder().U64(a.ChunkID)
	b.U16(uint16(len(a.SrcFolder))).Bytes([]byte(a.SrcFolder))
	b.U16(uint16(len(a.DstFolder))).Bytes([]byte(a.DstFolder))
	return b.Build()
}

// DecodeChunkMove parses a ChunkMove command payload.
func DecodeChunkMove(payload []byte) (ChunkMoveArgs, error) {
	r := wire.NewReader(payload)
	a := ChunkMoveArgs{ChunkID: r.U64()}
	srcLen := r.U16()
	a.SrcFolder = string(r.Bytes(int(srcLen)))
	dstLen := r.U16()
	a.DstFolder = string(r.Bytes(int(dstLen)))
	return a, wrapErr(r, "chunk move")
}

func wrapErr(r *wire.Reader, what string) error {
	if err := r.Err(); err != nil {
		return fmt.Errorf("masterproto: %s: %w", what, err)
	}
	return nil
}

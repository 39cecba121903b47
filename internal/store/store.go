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

// Package store defines the seam between the protocol/job engine built here
// and the on-disk chunk storage layer, which is explicitly out of scope
// (spec Non-goals). Every operation that would otherwise touch a folder of
// chunk files instead goes through this interface, so the job engine, read
// pipeline and write pipeline can be built, tested and exercised against a
// fake without a real disk layout.
package store

import "errors"

// Chunk geometry. A chunk is BlocksPerChunk fixed-size blocks; requests are
// bounded against ChunkMaxSize (spec §4.2's CHUNK_MAX, §10 glossary).
const (
	BlockSize      = 64 * 1024
	BlocksPerChunk = 1024
	ChunkMaxSize   = BlockSize * BlocksPerChunk
)

// Sentinel errors the job engine and protocol layers branch on directly,
// mirroring the fixed status codes the master protocol expects back.
var (
	ErrNoSuchChunk    = errors.New("store: no such chunk")
	ErrWrongVersion   = errors.New("store: chunk version mismatch")
	ErrChunkExists    = errors.New("store: chunk already exists")
	ErrCRCMismatch    = errors.New("store: block crc mismatch")
	ErrNotDone        = errors.New("store: operation not finished")
	ErrIO             = errors.New("store: disk I/O error")
)

// InfoKind selects which per-chunk metadata GetChunkInfo returns, mirroring
// the distinct CHUNK_INFO / MFS_INFO query shapes the master protocol and
// clients can issue.
type InfoKind int

const (
	InfoBasic InfoKind = iota
	InfoFull
	InfoMFS
)

// ReplicateKind selects the replication strategy, matching the distinct
// REPLICATE request shapes the master can request (spec §3's non-goal
// Replicator seam still needs to distinguish them for a future worker).
type ReplicateKind int

const (
	ReplicateSimple ReplicateKind = iota
	ReplicateSplit
	ReplicateRecovery
	ReplicateJoin
)

// ReplicateArgs carries whichever subset of source chunk/server descriptors
// a given ReplicateKind needs; unused fields are left zero.
type ReplicateArgs struct {
	ChunkID    uint64
	Version    uint32
	Sources    []ReplicationSource
	SplitPart  uint8
	SplitParts uint8
	RecoverID  uint8
}

// ReplicationSource names one chunkserver a replication worker would dial.
type ReplicationSource struct {
	IP   [4]byte
	Port uint16
}

// ChunkCursor lets BeginChunkEnumeration hand back an iterator instead of a
// slice, so a store backed by a large on-disk set need not materialize every
// chunk id to start a registration stream (spec §4.4's incremental chunk
// enumeration during registration).
type ChunkCursor interface {
	// Next returns the next batch of up to n (chunkID, version) pairs, and
	// false once exhausted.
	Next(n int) (ids []uint64, versions []uint32, ok bool)
}

// Store is the seam between the protocol/job layers and chunk storage.
// A real implementation would be the disk-folder layer the spec marks as a
// Non-goal; tests and the rest of this repo are built against fakes.
type Store interface {
	// Open prepares a chunk for a subsequent Read/Write sequence, checking
	// the requested version against what is on disk.
	Open(chunkID uint64, version uint32) error

	// Read fills buf with one block's worth of data starting at offset and
	// returns the block's stored CRC.
	Read(chunkID uint64, version uint32, blockNum uint16, offset uint32, buf []byte) (crc uint32, err error)

	// Write stores size bytes of buf at offset within blockNum, validating
	// crc mirrors what the sender computed.
	Write(chunkID uint64, version uint32, blockNum uint16, buf []byte, offset uint32, size uint32, crc uint32) error

	// Close releases whatever Open acquired.
	Close(chunkID uint64) error

	// ChunkOp performs the master-driven maintenance operations (set
	// version, duplicate, truncate, delete) folded into one call the way
	// the original protocol folds them into one opcode family.
	ChunkOp(chunkID uint64, version, newVersion uint32, copyChunkID uint64, copyVersion uint32, length uint32) error

	// Move relocates a chunk between two configured storage folders.
	Move(chunkID uint64, srcFolder, dstFolder string) error

	// GetChunkInfo fills out with whichever metadata kind requests.
	GetChunkInfo(chunkID uint64, version uint32, kind InfoKind, out []byte) error

	// Precache hints that the given range should be paged in before a read
	// pipeline worker starts issuing block reads (spec §4.2).
	Precache(chunkID uint64, offset, size uint32) error

	// ChunkStatus reports whether chunkID is currently busy, damaged, or
	// absent, without performing any I/O against it.
	ChunkStatus(chunkID uint64) (uint8, error)

	// MetaID returns the storage instance's persistent identity, checked
	// against the master's MasterAck on every reconnect (spec §7).
	MetaID() uint64

	// BeginChunkEnumeration starts the incremental walk used to build
	// registration packets.
	BeginChunkEnumeration() ChunkCursor

	// DamagedChunks and LostChunks feed the periodic error reports sent to
	// the master independently of any single job.
	DamagedChunks() []uint64
	LostChunks() []uint64

	// SpaceUsage feeds the periodic Space report: bytes used and available
	// across regular storage, and the same pair for space still occupied
	// by chunks queued for deletion (spec §4.4).
	SpaceUsage() (used, total uint64, chunks uint32, tdUsed, tdTotal uint64, tdChunks uint32)
}

// Replicator performs the master-requested chunk replication/recovery the
// spec marks as a Non-goal worker; kept as a narrow seam so the job engine
// can dispatch the OpReplicate* jobs without depending on a concrete
// transport.
type Replicator interface {
	Replicate(kind ReplicateKind, args ReplicateArgs) error
}

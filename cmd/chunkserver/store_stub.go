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

package main

import (
	"github.com/mooseish/chunkserver/internal/store"
)

// unimplementedStore and unimplementedReplicator satisfy store.Store and
// store.Replicator so this binary links and runs the protocol engine end
// to end, but every call fails with store.ErrIO. The on-disk chunk layout
// and the replication transport are both out of scope (spec Non-goals);
// a real deployment replaces these two values in runChunkserver with a
// disk-backed store and a replication client, without touching anything
// else in internal/.
type unimplementedStore struct{}

func (unimplementedStore) Open(chunkID uint64, version uint32) error { return store.ErrIO }
func (unimplementedStore) Read(chunkID uint64, version uint32, blockNum uint16, offset uint32, buf []byte) (uint32, error) {
	return 0, store.ErrIO
}
func (unimplementedStore) Write(chunkID uint64, version uint32, blockNum uint16, buf []byte, offset, size, crc uint32) error {
	return store.ErrIO
}
func (unimplementedStore) Close(chunkID uint64) error { return store.ErrIO }
func (unimplementedStore) ChunkOp(chunkID uint64, version, newVersion uint32, copyChunkID uint64, copyVersion uint32, length uint32) error {
	return store.ErrIO
}
func (unimplementedStore) Move(chunkID uint64, srcFolder, dstFolder string) error { return store.ErrIO }
func (unimplementedStore) GetChunkInfo(chunkID uint64, version uint32, kind store.InfoKind, out []byte) error {
	return store.ErrIO
}
func (unimplementedStore) Precache(chunkID uint64, offset, size uint32) error { return store.ErrIO }
func (unimplementedStore) ChunkStatus(chunkID uint64) (uint8, error)          { return 0, store.ErrIO }
func (unimplementedStore) MetaID() uint64                                    { return 0 }
func (unimplementedStore) BeginChunkEnumeration() store.ChunkCursor          { return emptyCursor{} }
func (unimplementedStore) DamagedChunks() []uint64                           { return nil }
func (unimplementedStore) LostChunks() []uint64                              { return nil }
func (unimplementedStore) SpaceUsage() (used, total uint64, chunks uint32, tdUsed, tdTotal uint64, tdChunks uint32) {
	return 0, 0, 0, 0, 0, 0
}

type emptyCursor struct{}

func (emptyCursor) Next(n int) ([]uint64, []uint32, bool) { return nil, nil, false }

type unimplementedReplicator struct{}

func (unimplementedReplicator) Replicate(kind store.ReplicateKind, args store.ReplicateArgs) error {
	return store.ErrIO
}

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

// Package busychunk tracks chunk ids currently subject to a master-issued
// operation (replication, deletion, truncate, ...), so the master
// connection can withhold its ChunkStatus answer for a chunk that still has
// an operation in flight. Conflicting operations are not rejected.
package busychunk

import "sync"

const buckets = 1024

// Index is a sharded set of busy chunk ids. Sharding only reduces lock
// contention between unrelated chunk ids; every operation on a single id
// still takes its one bucket's lock.
type Index struct {
	shard [buckets]bucket
}

type bucket struct {
	mu   sync.Mutex
	ids  map[uint64]int
}

// New returns an empty busy-chunk index.
func New() *Index {
	idx := &Index{}
	for i := range idx.shard {
		idx.shard[i].ids = make(map[uint64]int)
	}
	return idx
}

func (idx *Index) bucketFor(chunkID uint64) *bucket {
	return &idx.shard[chunkID%buckets]
}

// Mark records one more outstanding operation against chunkID. Multiple
// concurrent operations against the same chunk are counted, not just
// flagged, so the last one to finish is the one that clears the entry.
func (idx *Index) Mark(chunkID uint64) {
	b := idx.bucketFor(chunkID)
	b.mu.Lock()
	b.ids[chunkID]++
	b.mu.Unlock()
}

// Unmark releases one outstanding operation against chunkID, removing the
// entry once its count reaches zero.
func (idx *Index) Unmark(chunkID uint64) {
	b := idx.bucketFor(chunkID)
	b.mu.Lock()
	if n, ok := b.ids[chunkID]; ok {
		if n <= 1 {
			delete(b.ids, chunkID)
		} else {
			b.ids[chunkID] = n - 1
		}
	}
	b.mu.Unlock()
}

// Busy reports whether chunkID currently has an outstanding operation.
func (idx *Index) Busy(chunkID uint64) bool {
	b := idx.bucketFor(chunkID)
	b.mu.Lock()
	_, ok := b.ids[chunkID]
	b.mu.Unlock()
	return ok
}

// Len returns the total number of distinct busy chunk ids, for diagnostics.
func (idx *Index) Len() int {
	n := 0
	for i := range idx.shard {
		idx.shard[i].mu.Lock()
		n += len(idx.shard[i].ids)
		idx.shard[i].mu.Unlock()
	}
	return n
}

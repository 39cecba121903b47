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

// Package stats holds the handful of high-level counters the read/write/
// replicate pipelines bump and the master-connection load report reads
// back (spec §4.2/§4.3: "increment high-level read/write counter").
package stats

import "sync/atomic"

// Counters is the process-wide set of high-level operation counts. The
// fields are plain uint64s incremented with atomic adds rather than
// guarded by a mutex, since each is independent and none needs to be read
// consistently alongside another.
type Counters struct {
	reads      uint64
	writes     uint64
	replicates uint64
}

// New returns a zeroed Counters.
func New() *Counters { return &Counters{} }

func (c *Counters) IncReads()      { atomic.AddUint64(&c.reads, 1) }
func (c *Counters) IncWrites()     { atomic.AddUint64(&c.writes, 1) }
func (c *Counters) IncReplicates() { atomic.AddUint64(&c.replicates, 1) }

func (c *Counters) Reads() uint64      { return atomic.LoadUint64(&c.reads) }
func (c *Counters) Writes() uint64     { return atomic.LoadUint64(&c.writes) }
func (c *Counters) Replicates() uint64 { return atomic.LoadUint64(&c.replicates) }

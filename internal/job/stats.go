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

package job

import "time"

// taskStats tracks current- and previous-minute counters plus an
// all-time max, per OpKind, read and written under the owning pool's lock.
type taskStats struct {
	count    uint64
	total    time.Duration
	max      time.Duration
	prevCount uint64
	prevTotal time.Duration
	prevMax   time.Duration
	globalMax time.Duration
}

func (s *taskStats) record(elapsed time.Duration) {
	s.count++
	s.total += elapsed
	if elapsed > s.max {
		s.max = elapsed
	}
	if elapsed > s.globalMax {
		s.globalMax = elapsed
	}
}

// rotate slides the current minute's counters into "previous" and starts a
// fresh current window; called once a minute by the engine.
func (s *taskStats) rotate() {
	s.prevCount, s.prevTotal, s.prevMax = s.count, s.total, s.max
	s.count, s.total, s.max = 0, 0, 0
}

// Snapshot is the read-only view of one OpKind's statistics, returned by
// Pool.Stats. The master connection's periodic load report does not read it.
type Snapshot struct {
	Op                OpKind
	Count, PrevCount  uint64
	Total, PrevTotal  time.Duration
	Max, PrevMax      time.Duration
	GlobalMax         time.Duration
}

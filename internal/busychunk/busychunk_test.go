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

package busychunk

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarkUnmarkBasic(t *testing.T) {
	a := assert.New(t)
	idx := New()

	a.False(idx.Busy(42))
	idx.Mark(42)
	a.True(idx.Busy(42))
	idx.Unmark(42)
	a.False(idx.Busy(42))
}

func TestMarkIsRefCounted(t *testing.T) {
	a := assert.New(t)
	idx := New()

	idx.Mark(7)
	idx.Mark(7)
	idx.Unmark(7)
	a.True(idx.Busy(7), "still one outstanding mark")
	idx.Unmark(7)
	a.False(idx.Busy(7))
}

func TestUnmarkWithoutMarkIsNoop(t *testing.T) {
	a := assert.New(t)
	idx := New()

	idx.Unmark(99)
	a.False(idx.Busy(99))
}

func TestLenCountsDistinctChunks(t *testing.T) {
	a := assert.New(t)
	idx := New()

	idx.Mark(1)
	idx.Mark(2)
	idx.Mark(1025) // same bucket as 1, distinct chunk id
	a.Equal(3, idx.Len())

	idx.Unmark(2)
	a.Equal(2, idx.Len())
}

func TestConcurrentMarkUnmarkDoesNotRace(t *testing.T) {
	a := assert.New(t)
	idx := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			idx.Mark(id)
			idx.Busy(id)
			idx.Unmark(id)
		}(uint64(i))
	}
	wg.Wait()
	a.Equal(0, idx.Len())
}

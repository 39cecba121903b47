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

// Package bigbuf allocates the read pipeline's per-block transfer buffers,
// backed by an anonymous mmap when CAN_USE_MMAP is set (spec §6) instead of
// the garbage-collected heap.
package bigbuf

import "github.com/edsrzf/mmap-go"

// Buffer is a block-sized scratch buffer that must be released after use.
type Buffer struct {
	data []byte
	m    mmap.MMap
}

// Alloc returns a zeroed buffer of size bytes. With useMmap false (the
// common case), it is a plain heap slice. With useMmap true, it is backed
// by an anonymous mmap region; a mapping failure falls back to the heap
// rather than failing the caller's read, since CAN_USE_MMAP is a
// performance hint, not a correctness requirement.
func Alloc(size int, useMmap bool) *Buffer {
	if !useMmap {
		return &Buffer{data: make([]byte, size)}
	}
	m, err := mmap.MapRegion(nil, size, mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return &Buffer{data: make([]byte, size)}
	}
	return &Buffer{data: m, m: m}
}

// Bytes returns the buffer's backing slice.
func (b *Buffer) Bytes() []byte { return b.data }

// Release unmaps the buffer if it was mmap-backed; a no-op otherwise.
func (b *Buffer) Release() error {
	if b.m != nil {
		return b.m.Unmap()
	}
	return nil
}

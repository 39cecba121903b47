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

package conncache

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPutThenTakeRoundTrips(t *testing.T) {
	a := assert.New(t)
	c := New()

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c.Put(0x0a000001, 9422, server)
	a.Equal(1, c.Len())

	got, ok := c.Take(0x0a000001, 9422)
	a.True(ok)
	a.Equal(server, got)
	a.Equal(0, c.Len())
}

func TestTakeMissReturnsFalse(t *testing.T) {
	a := assert.New(t)
	c := New()

	_, ok := c.Take(1, 1)
	a.False(ok)
}

func TestPutEvictsLRUWhenFull(t *testing.T) {
	a := assert.New(t)
	c := New()

	conns := make([]net.Conn, 0, Capacity+1)
	for i := 0; i < Capacity; i++ {
		_, server := net.Pipe()
		conns = append(conns, server)
		c.Put(uint32(i), 0, server)
	}
	a.Equal(Capacity, c.Len())

	// slot 0 is the LRU entry; one more Put should evict it.
	_, extra := net.Pipe()
	defer extra.Close()
	c.Put(uint32(Capacity), 0, extra)
	a.Equal(Capacity, c.Len())

	_, ok := c.Take(0, 0)
	a.False(ok, "oldest entry should have been evicted")

	_, ok = c.Take(uint32(Capacity), 0)
	a.True(ok)

	for _, conn := range conns[1:] {
		conn.Close()
	}
}

func TestTakeRefreshesNothingButRemovesEntry(t *testing.T) {
	a := assert.New(t)
	c := New()

	_, s1 := net.Pipe()
	_, s2 := net.Pipe()
	defer s1.Close()
	defer s2.Close()

	c.Put(1, 1, s1)
	c.Put(2, 2, s2)

	got1, ok := c.Take(1, 1)
	a.True(ok)
	a.Equal(s1, got1)

	// a second Take for the same key now misses: it was removed, not just
	// touched, by the first Take.
	_, ok = c.Take(1, 1)
	a.False(ok)

	got2, ok := c.Take(2, 2)
	a.True(ok)
	a.Equal(s2, got2)
}

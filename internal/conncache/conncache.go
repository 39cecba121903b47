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

// Package conncache pools idle downstream-peer TCP sockets so the write
// pipeline can skip a reconnect for the common case of forwarding another
// write to the same chain neighbor (spec §4.5).
package conncache

import (
	"net"
	"sync"
	"time"

	"github.com/mooseish/chunkserver/internal/wire"
)

// Capacity is the fixed slot count (spec §4.5: "capacity fixed at 250").
const Capacity = 250

// Shards is the number of housekeeper strides over the slot array; a full
// sweep takes Shards*HousekeeperInterval.
const Shards = 200

// HousekeeperInterval is the wall-clock gap between shard visits.
const HousekeeperInterval = 500 * time.Millisecond

const nilIdx = -1

type key struct {
	ip   uint32
	port uint16
}

type slot struct {
	used       bool
	key        key
	conn       net.Conn
	prev, next int
}

// Cache is a fixed-capacity LRU pool of (ip,port)->net.Conn entries with a
// background housekeeper that keeps idle entries alive and evicts dead
// ones.
type Cache struct {
	mu    sync.Mutex
	slots [Capacity]slot
	free  []int
	mru   int // most-recently-used slot index, nilIdx if empty
	lru   int // least-recently-used slot index, nilIdx if empty

	shardCursor int
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// New returns an empty cache with every slot free.
func New() *Cache {
	c := &Cache{mru: nilIdx, lru: nilIdx, stopCh: make(chan struct{})}
	c.free = make([]int, Capacity)
	for i := 0; i < Capacity; i++ {
		c.free[i] = Capacity - 1 - i
	}
	return c
}

// Run starts the background housekeeper goroutine. Call once.
func (c *Cache) Run() {
	c.wg.Add(1)
	go c.housekeep()
}

// Stop halts the housekeeper and waits for it to exit. Does not close any
// cached connections; the Cache has no method that evicts them all.
func (c *Cache) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Cache) unlink(i int) {
	s := &c.slots[i]
	if s.prev != nilIdx {
		c.slots[s.prev].next = s.next
	} else {
		c.mru = s.next
	}
	if s.next != nilIdx {
		c.slots[s.next].prev = s.prev
	} else {
		c.lru = s.prev
	}
	s.prev, s.next = nilIdx, nilIdx
}

func (c *Cache) pushMRU(i int) {
	s := &c.slots[i]
	s.prev = nilIdx
	s.next = c.mru
	if c.mru != nilIdx {
		c.slots[c.mru].prev = i
	}
	c.mru = i
	if c.lru == nilIdx {
		c.lru = i
	}
}

// Put inserts conn under (ip,port), taking a free slot or evicting the LRU
// entry (closing its connection) when the cache is full.
func (c *Cache) Put(ip uint32, port uint16, conn net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var i int
	if n := len(c.free); n > 0 {
		i = c.free[n-1]
		c.free = c.free[:n-1]
	} else {
		i = c.lru
		c.unlink(i)
		c.slots[i].conn.Close()
	}

	c.slots[i] = slot{used: true, key: key{ip, port}, conn: conn, prev: nilIdx, next: nilIdx}
	c.pushMRU(i)
}

// Take removes and returns the first matching (ip,port) entry's connection,
// if any (spec §4.5: "lookup by (ip,port) removes the first matching
// entry").
func (c *Cache) Take(ip uint32, port uint16) (net.Conn, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	want := key{ip, port}
	for i := c.mru; i != nilIdx; i = c.slots[i].next {
		if c.slots[i].key == want {
			conn := c.slots[i].conn
			c.unlink(i)
			c.slots[i] = slot{}
			c.free = append(c.free, i)
			return conn, true
		}
	}
	return nil, false
}

// Len returns the number of entries currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Capacity - len(c.free)
}

// housekeep visits one shard per tick, probing every live entry in it with
// a non-blocking NOP round-trip and evicting anything that fails it (spec
// §4.5's cache-keepalive thread).
func (c *Cache) housekeep() {
	defer c.wg.Done()
	t := time.NewTicker(HousekeeperInterval)
	defer t.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-t.C:
			c.visitShard()
		}
	}
}

func (c *Cache) visitShard() {
	shard := c.shardCursor
	c.shardCursor = (c.shardCursor + 1) % Shards

	c.mu.Lock()
	var toProbe []int
	for i := shard; i < Capacity; i += Shards {
		if c.slots[i].used {
			toProbe = append(toProbe, i)
		}
	}
	c.mu.Unlock()

	for _, i := range toProbe {
		c.probe(i)
	}
}

// probe reads up to 8 bytes expecting an all-zero NOP, writes one back, and
// evicts the entry on any I/O error or unexpected content.
func (c *Cache) probe(i int) {
	c.mu.Lock()
	if !c.slots[i].used {
		c.mu.Unlock()
		return
	}
	conn := c.slots[i].conn
	c.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	var buf [8]byte
	n, err := conn.Read(buf[:])
	conn.SetReadDeadline(time.Time{})

	ok := err == nil && isZero(buf[:n])
	if ok {
		conn.SetWriteDeadline(time.Now().Add(100 * time.Millisecond))
		_, werr := conn.Write(wire.NopFrame())
		conn.SetWriteDeadline(time.Time{})
		ok = werr == nil
	}
	if ok {
		return
	}

	c.mu.Lock()
	if c.slots[i].used && c.slots[i].conn == conn {
		c.unlink(i)
		c.slots[i] = slot{}
		c.free = append(c.free, i)
	}
	c.mu.Unlock()
	conn.Close()
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

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

// Package list provides a singly linked FIFO chain that multiple independent
// cursors can walk at their own pace, with the backing nodes freed only once
// every registered cursor has moved past them. This generalizes the
// teacher's append-only LinkedList (one enumerator, PopRear from the only
// consumer) to the write pipeline's three independent consumers (head,
// hdd_head, net_head) draining one chain of in-flight write packets at
// different rates (spec §4.3).
package list

// Chain is a FIFO of T, appended at the back and trimmed from the front only
// when no outstanding Cursor still references the front node.
type Chain[T any] struct {
	front *node[T]
	back  *node[T]
	len   int64
}

type node[T any] struct {
	next T
	n    *node[T]
	refs int
}

func (nd *node[T]) Data() T { return nd.next }

// New returns an empty chain.
func New[T any]() *Chain[T] { return &Chain[T]{} }

func (c *Chain[T]) Len() int64 { return c.len }

// PushBack appends data and returns the node handle, which each cursor that
// reaches it (via Seed or Advance) pins until it advances past it again.
func (c *Chain[T]) PushBack(data T) *node[T] {
	n := &node[T]{next: data}
	if c.back == nil {
		c.front, c.back = n, n
	} else {
		c.back.n = n
		c.back = n
	}
	c.len++
	return n
}

// Cursor walks the chain independently of any other cursor over the same
// chain. A node's refcount equals the number of cursors currently sitting on
// it; a node is only eligible for collection once the last cursor sitting on
// it has advanced past it (enforced by refcounting at NewCursor/Seed/Advance
// time, every one of which moves a cursor onto a node and pins it there).
type Cursor[T any] struct {
	chain *Chain[T]
	cur   *node[T]
}

// NewCursor starts a cursor at the current front of the chain, pinning
// that one node so it isn't freed out from under the cursor before it
// advances.
func (c *Chain[T]) NewCursor() *Cursor[T] {
	if c.front != nil {
		c.front.refs++
	}
	return &Cursor[T]{chain: c, cur: c.front}
}

// HasData reports whether the cursor has an unvisited node.
func (cu *Cursor[T]) HasData() bool { return cu.cur != nil }

// Data returns the current node's payload; call only when HasData is true.
func (cu *Cursor[T]) Data() T { return cu.cur.next }

// Advance moves the cursor to the next node, transferring its hold from the
// node it just left to the one it steps onto. When a node's refcount drops
// to zero and it is still the chain's front, it is unlinked and its storage
// reclaimed.
func (cu *Cursor[T]) Advance() {
	if cu.cur == nil {
		return
	}
	left := cu.cur
	cu.cur = cu.cur.n
	left.refs--
	if cu.cur != nil {
		cu.cur.refs++
	}
	cu.chain.reclaim()
}

// reclaim drops fully-visited nodes from the front of the chain.
func (c *Chain[T]) reclaim() {
	for c.front != nil && c.front.refs <= 0 {
		old := c.front
		c.front = c.front.n
		if c.front == nil {
			c.back = nil
		}
		old.n = nil
		c.len--
	}
}

// Seed points a drained cursor (HasData false) at n, taking a reference to
// it. A cursor created before any node exists, or one that has consumed
// every node pushed so far, has no way to notice a later PushBack on its
// own — Advance only ever follows a node's own next pointer. Callers that
// push a new node are expected to call Seed on every cursor that is
// currently empty, mirroring the write pipeline's "append to hdd_head/
// net_head only if currently empty" rule (spec §4.3). A no-op if the
// cursor already has data.
func (cu *Cursor[T]) Seed(n *node[T]) {
	if cu.cur != nil {
		return
	}
	n.refs++
	cu.cur = n
}

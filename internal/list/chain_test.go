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

package list

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCursorOnEmptyChainSeesLaterPush(t *testing.T) {
	a := assert.New(t)
	c := New[int]()
	cu := c.NewCursor()
	a.False(cu.HasData())

	n := c.PushBack(1)
	a.False(cu.HasData(), "Seed must be called explicitly; a push alone does not resync a drained cursor")

	cu.Seed(n)
	a.True(cu.HasData())
	a.Equal(1, cu.Data())
}

func TestSeedIsNoopWhenCursorAlreadyHasData(t *testing.T) {
	a := assert.New(t)
	c := New[int]()
	n1 := c.PushBack(1)
	cu := c.NewCursor()
	a.True(cu.HasData())

	n2 := c.PushBack(2)
	cu.Seed(n2)
	a.Equal(1, cu.Data(), "Seed must not overwrite a cursor that already has data")
	_ = n1
}

func TestCursorDrainsThenReseedsAcrossMultiplePushes(t *testing.T) {
	a := assert.New(t)
	c := New[int]()
	cu := c.NewCursor()

	n1 := c.PushBack(10)
	cu.Seed(n1)
	a.Equal(10, cu.Data())
	cu.Advance()
	a.False(cu.HasData())

	n2 := c.PushBack(20)
	cu.Seed(n2)
	a.True(cu.HasData())
	a.Equal(20, cu.Data())
}

func TestIndependentCursorsAdvanceAtTheirOwnPace(t *testing.T) {
	a := assert.New(t)
	c := New[int]()
	fast := c.NewCursor()
	slow := c.NewCursor()

	n1 := c.PushBack(1)
	fast.Seed(n1)
	slow.Seed(n1)

	fast.Advance()
	a.False(fast.HasData())
	a.True(slow.HasData())
	a.EqualValues(1, c.Len(), "node must stay alive while slow cursor still references it")

	slow.Advance()
	a.EqualValues(0, c.Len(), "node reclaimed once both cursors have advanced past it")
}

// TestThirdInFlightNodeSurvivesUntilEveryCursorAdvancesPastIt reproduces the
// write pipeline's three-cursor usage directly: all three cursors are
// created on an empty chain, so Seed only ever takes hold on the first
// block — blocks 2 and 3 arrive while every cursor is still non-empty, the
// case that used to leave them with refs == 0 and get them unlinked by
// reclaim the instant they reached the front.
func TestThirdInFlightNodeSurvivesUntilEveryCursorAdvancesPastIt(t *testing.T) {
	a := assert.New(t)
	c := New[int]()
	head, hddHead, netHead := c.NewCursor(), c.NewCursor(), c.NewCursor()

	for _, v := range []int{1, 2, 3} {
		n := c.PushBack(v)
		head.Seed(n)
		hddHead.Seed(n)
		netHead.Seed(n)
	}
	a.EqualValues(3, c.Len())

	netHead.Advance()
	hddHead.Advance()
	head.Advance()
	a.EqualValues(2, c.Len(), "block 1 reclaimed once every cursor advanced past it")
	a.True(head.HasData())
	a.Equal(2, head.Data(), "block 2's .n link into block 3 must still be intact")

	netHead.Advance()
	hddHead.Advance()
	head.Advance()
	a.EqualValues(1, c.Len())
	a.Equal(3, head.Data())

	netHead.Advance()
	hddHead.Advance()
	head.Advance()
	a.EqualValues(0, c.Len())
	a.False(head.HasData())
}

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

package keepalive

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mooseish/chunkserver/internal/wire"
)

func TestRegisteredSocketReceivesNop(t *testing.T) {
	a := assert.New(t)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	s := New(20 * time.Millisecond)
	s.Run()
	defer s.Stop()

	h := s.Register(server)
	defer h.Deregister()

	var hdr [wire.HeaderSize]byte
	client.SetReadDeadline(time.Now().Add(time.Second))
	_, err := client.Read(hdr[:])
	a.NoError(err)
	got := wire.DecodeHeader(hdr[:])
	a.True(got.IsNop())
}

func TestDeregisterUnlinksEntry(t *testing.T) {
	a := assert.New(t)

	_, server := net.Pipe()
	defer server.Close()

	s := New(20 * time.Millisecond)
	s.Run()
	defer s.Stop()

	h := s.Register(server)
	errored := h.Deregister()
	a.False(errored)

	s.mu.Lock()
	defer s.mu.Unlock()
	a.Nil(s.head)
	a.Nil(s.tail)
}

func TestWriteErrorRaisesErrorFlag(t *testing.T) {
	a := assert.New(t)

	client, server := net.Pipe()
	client.Close() // server-side writes now fail

	s := New(5 * time.Millisecond)
	s.Run()
	defer s.Stop()

	h := s.Register(server)
	a.Eventually(func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return h.e.errFlag
	}, time.Second, 5*time.Millisecond)

	errored := h.Deregister()
	a.True(errored)
}

func TestMultipleRegistrationsFormFIFO(t *testing.T) {
	a := assert.New(t)

	_, s1 := net.Pipe()
	_, s2 := net.Pipe()
	_, s3 := net.Pipe()
	defer s1.Close()
	defer s2.Close()
	defer s3.Close()

	s := New(time.Hour) // long enough that no NOP fires during this test
	h1 := s.Register(s1)
	h2 := s.Register(s2)
	h3 := s.Register(s3)

	s.mu.Lock()
	a.Equal(h1.e, s.head)
	a.Equal(h3.e, s.tail)
	a.Equal(h2.e, s.head.next)
	s.mu.Unlock()

	h2.Deregister()

	s.mu.Lock()
	a.Equal(h1.e.next, h3.e)
	a.Equal(h3.e.prev, h1.e)
	s.mu.Unlock()

	h1.Deregister()
	h3.Deregister()
}

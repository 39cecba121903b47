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

// Package keepalive runs the one background NOP sender shared by every
// blocking socket operation (spec §4.2/§4.3/§9): while a socket is
// registered, an 8-byte NOP frame goes out on it once per NOPSInterval so
// the remote peer's idle timeout never fires mid-operation.
package keepalive

import (
	"net"
	"sync"
	"time"

	"github.com/mooseish/chunkserver/internal/wire"
)

// NOPSInterval is the wall-clock gap the sender maintains since an entry's
// own last send (spec §4.2: "every NOPS_INTERVAL (= 1 s)").
const NOPSInterval = time.Second

type entry struct {
	conn     net.Conn
	lastSend time.Time
	errFlag  bool

	prev, next *entry
}

// Handle is returned by Register and must be passed to Deregister exactly
// once, by the same goroutine that registered it (spec's "registering
// thread holds exclusive use of it; never both simultaneously" invariant).
type Handle struct {
	s *Sender
	e *entry
}

// Sender owns the FIFO of registered sockets and the goroutine that walks
// it. There is exactly one Sender per process, matching the teacher's
// single background logger/rotation goroutine shape — one long-lived
// worker, not one per connection.
type Sender struct {
	interval time.Duration
	poll     time.Duration

	mu         sync.Mutex
	head, tail *entry

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New returns a Sender targeting the given NOP interval, with the
// background goroutine not yet started. Production callers pass
// NOPSInterval; tests pass something small enough to observe without a
// real 1-second sleep.
func New(interval time.Duration) *Sender {
	poll := interval / 10
	if poll <= 0 {
		poll = time.Millisecond
	}
	return &Sender{interval: interval, poll: poll, stopCh: make(chan struct{})}
}

// Run starts the sender goroutine. Call once.
func (s *Sender) Run() {
	s.wg.Add(1)
	go s.loop()
}

// Stop halts the sender goroutine and waits for it to exit.
func (s *Sender) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Sender) loop() {
	defer s.wg.Done()
	t := time.NewTicker(s.poll)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case now := <-t.C:
			s.tick(now)
		}
	}
}

func (s *Sender) tick(now time.Time) {
	s.mu.Lock()
	due := make([]*entry, 0, 4)
	for e := s.head; e != nil; e = e.next {
		if !e.errFlag && now.Sub(e.lastSend) >= s.interval {
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		if err := writeNop(e.conn); err != nil {
			s.mu.Lock()
			e.errFlag = true
			s.mu.Unlock()
			continue
		}
		s.mu.Lock()
		e.lastSend = now
		s.mu.Unlock()
	}
}

func writeNop(conn net.Conn) error {
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err := conn.Write(wire.NopFrame())
	conn.SetWriteDeadline(time.Time{})
	return err
}

// Register appends conn to the FIFO; a blocking call appends before it
// starts and deregisters when it ends (spec §4.2's register/deregister
// pattern around hdd.open/precache/read and the write-pipeline forwarding
// calls).
func (s *Sender) Register(conn net.Conn) *Handle {
	e := &entry{conn: conn, lastSend: time.Now()}
	s.mu.Lock()
	if s.tail == nil {
		s.head, s.tail = e, e
	} else {
		e.prev = s.tail
		s.tail.next = e
		s.tail = e
	}
	s.mu.Unlock()
	return &Handle{s: s, e: e}
}

// Deregister unlinks the entry and reports whether a write error occurred
// while it was registered; the caller must close its connection if so
// (spec §4.2: "check the keepalive error flag; if set, close").
func (h *Handle) Deregister() (errored bool) {
	s := h.s
	e := h.e
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.prev != nil {
		e.prev.next = e.next
	} else {
		s.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		s.tail = e.prev
	}
	e.prev, e.next = nil, nil

	return e.errFlag
}

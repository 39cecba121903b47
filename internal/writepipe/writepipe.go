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

// Package writepipe runs one client write request to completion on a single
// job-engine worker call (spec §4.3). With no downstream hop it is a plain
// read-write-ack loop (last-in-chain mode); with a chain it forwards every
// frame to the next hop and reconciles disk acks against downstream acks
// through a shared chain of in-flight blocks walked by three independent
// cursors (middle-of-chain mode) — the three-way poll of the original is
// expressed here as three goroutines (upstream reader, downstream reader,
// disk writer) feeding one orchestrating select loop.
package writepipe

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mooseish/chunkserver/internal/clientproto"
	"github.com/mooseish/chunkserver/internal/conncache"
	"github.com/mooseish/chunkserver/internal/job"
	"github.com/mooseish/chunkserver/internal/keepalive"
	"github.com/mooseish/chunkserver/internal/list"
	"github.com/mooseish/chunkserver/internal/stats"
	"github.com/mooseish/chunkserver/internal/store"
	"github.com/mooseish/chunkserver/internal/wire"
)

const (
	sendTimeout        = 5 * time.Second
	maxConnectAttempts = 10
	statusPending      = job.Status(0xFF)
)

var (
	errUnknownFrame = errors.New("writepipe: unexpected frame type")
	errWrongSize    = errors.New("writepipe: write data exceeds block size")
)

// Args is the ServWrite job payload: the accepted client socket and the
// already-parsed write-initiation payload.
type Args struct {
	Conn net.Conn
	Init clientproto.WriteInit
}

// Handler builds the job.Handler registered for job.OpServWrite.
func Handler(st store.Store, cache *conncache.Cache, sender *keepalive.Sender, counters *stats.Counters) job.Handler {
	return func(j *job.Job) job.Status {
		args, ok := j.Args.(Args)
		if !ok {
			return job.StatusEINVAL
		}
		return run(st, cache, sender, counters, args.Conn, args.Init)
	}
}

func run(st store.Store, cache *conncache.Cache, sender *keepalive.Sender, counters *stats.Counters, upstream net.Conn, init clientproto.WriteInit) job.Status {
	var downstream net.Conn
	var downHop clientproto.ChainHop

	if len(init.Chain) > 0 {
		downHop = init.Chain[0]
		conn, err := connectDownstream(downHop, cache)
		if err != nil {
			sendStatusOnce(upstream, init.ChunkID, 0, job.StatusCantConnect)
			return job.StatusCantConnect
		}
		downstream = conn

		fwd := clientproto.WriteInit{Proto: init.Proto, ChunkID: init.ChunkID, Version: init.Version, Chain: init.Chain[1:]}
		downstream.SetWriteDeadline(time.Now().Add(sendTimeout))
		werr := wire.WriteFrame(downstream, wire.Frame{Type: clientproto.TypeWriteInit, Payload: clientproto.EncodeWriteInit(fwd)})
		downstream.SetWriteDeadline(time.Time{})
		if werr != nil {
			downstream.Close()
			sendStatusOnce(upstream, init.ChunkID, 0, job.StatusCantConnect)
			return job.StatusCantConnect
		}
	}

	openErr := st.Open(init.ChunkID, init.Version)
	if openErr != nil {
		status := store.StatusFor(openErr)
		sendStatusOnce(upstream, init.ChunkID, 0, status)
		if downstream != nil {
			downstream.Close()
		}
		return status
	}

	var status job.Status
	if downstream == nil {
		status = runLastInChain(st, sender, counters, upstream, init)
	} else {
		status = runMiddleOfChain(st, sender, cache, counters, upstream, downstream, downHop, init)
	}
	st.Close(init.ChunkID)
	return status
}

// connectDownstream reuses an idle cached connection for the first attempt
// when one is available, otherwise dials with the even/odd backoff
// schedule: attempt i waits 200·2^(i/2) ms for even i, 300·2^(i/2) ms for
// odd i, up to maxConnectAttempts tries (spec §4.3).
func connectDownstream(hop clientproto.ChainHop, cache *conncache.Cache) (net.Conn, error) {
	if cache != nil {
		if conn, ok := cache.Take(hop.IP, hop.Port); ok {
			return conn, nil
		}
	}

	addr := hopAddr(hop)
	var lastErr error
	for i := 0; i < maxConnectAttempts; i++ {
		var timeout time.Duration
		if i%2 == 0 {
			timeout = time.Duration(200*(1<<(uint(i)/2))) * time.Millisecond
		} else {
			timeout = time.Duration(300*(1<<(uint(i)/2))) * time.Millisecond
		}
		conn, err := net.DialTimeout("tcp", addr, timeout)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, errors.Wrap(lastErr, "writepipe: connect downstream")
}

func hopAddr(hop clientproto.ChainHop) string {
	ip := net.IPv4(byte(hop.IP>>24), byte(hop.IP>>16), byte(hop.IP>>8), byte(hop.IP))
	return net.JoinHostPort(ip.String(), strconv.Itoa(int(hop.Port)))
}

func sendStatusOnce(conn net.Conn, chunkID uint64, writeID uint32, status job.Status) {
	frame := wire.Frame{Type: clientproto.TypeWriteStatus, Payload: clientproto.EncodeWriteStatus(chunkID, writeID, uint8(status))}
	conn.SetWriteDeadline(time.Now().Add(sendTimeout))
	wire.WriteFrame(conn, frame)
	conn.SetWriteDeadline(time.Time{})
}

// sendFrame deregisters the keepalive handle, writes frame with a bounded
// deadline, then re-registers — the handle toggling keeps a keepalive NOP
// from interleaving mid-frame on the same socket (spec §4.3, §9).
func sendFrame(conn net.Conn, sender *keepalive.Sender, handle **keepalive.Handle, frame wire.Frame) error {
	if (*handle).Deregister() {
		*handle = sender.Register(conn)
		return errors.New("writepipe: peer keepalive write failed")
	}
	conn.SetWriteDeadline(time.Now().Add(sendTimeout))
	err := wire.WriteFrame(conn, frame)
	conn.SetWriteDeadline(time.Time{})
	*handle = sender.Register(conn)
	return err
}

// runLastInChain implements 4.3.2: a plain read-write-ack loop with no
// forwarding.
func runLastInChain(st store.Store, sender *keepalive.Sender, counters *stats.Counters, upstream net.Conn, init clientproto.WriteInit) job.Status {
	handle := sender.Register(upstream)
	defer func() { handle.Deregister() }()

	for {
		frame, err := wire.ReadFrame(upstream)
		if err != nil {
			return job.StatusDisconnected
		}

		switch frame.Type {
		case wire.NOP:
			continue

		case clientproto.TypeWriteData:
			wd, derr := clientproto.DecodeWriteData(frame.Payload)
			if derr != nil {
				return job.StatusEINVAL
			}
			werr := st.Write(init.ChunkID, init.Version, wd.BlockNum, wd.Data, uint32(wd.Offset), wd.Size, wd.CRC)
			if werr != nil {
				status := store.StatusFor(werr)
				sendFrame(upstream, sender, &handle, wire.Frame{Type: clientproto.TypeWriteStatus, Payload: clientproto.EncodeWriteStatus(init.ChunkID, wd.WriteID, uint8(status))})
				return status
			}
			ack := wire.Frame{Type: clientproto.TypeWriteStatus, Payload: clientproto.EncodeWriteStatus(init.ChunkID, wd.WriteID, uint8(job.StatusOK))}
			if serr := sendFrame(upstream, sender, &handle, ack); serr != nil {
				return job.StatusDisconnected
			}

		case clientproto.TypeWriteFinish:
			if _, ferr := clientproto.DecodeWriteFinish(frame.Payload); ferr != nil {
				return job.StatusEINVAL
			}
			sendFrame(upstream, sender, &handle, wire.Frame{Type: clientproto.TypeWriteStatus, Payload: clientproto.EncodeWriteStatus(init.ChunkID, 0, uint8(job.StatusOK))})
			if counters != nil {
				counters.IncWrites()
			}
			return job.StatusOK

		default:
			return job.StatusEINVAL
		}
	}
}

// entry is one in-flight write block, pinned by up to three cursors
// (head, hddHead, netHead) until every cursor that ever visited it has
// advanced past — the Go shape of the spec's WriteJob node (§3).
type entry struct {
	writeID  uint32
	blockNum uint16
	offset   uint16
	size     uint32
	crc      uint32
	data     []byte

	hddAcked  bool
	netAcked  bool
	hddStatus job.Status
	netStatus job.Status
}

type upKind int

const (
	upData upKind = iota
	upFinish
	upErr
)

type upstreamEvent struct {
	kind upKind
	ent  *entry
	err  error
}

type downKind int

const (
	downStatus downKind = iota
	downErr
)

type downstreamEvent struct {
	kind   downKind
	status clientproto.WriteStatus
	err    error
}

func emit[T any](ch chan<- T, ev T, shutdown <-chan struct{}) {
	select {
	case ch <- ev:
	case <-shutdown:
	}
}

// runMiddleOfChain implements 4.3.1. It owns the chain and all three
// cursors on its own goroutine (the select loop below); readUpstreamLoop
// and readDownstreamLoop only ever hand decoded events across a channel,
// so no cursor is ever touched from two goroutines at once.
func runMiddleOfChain(st store.Store, sender *keepalive.Sender, cache *conncache.Cache, counters *stats.Counters, upstream, downstream net.Conn, downHop clientproto.ChainHop, init clientproto.WriteInit) job.Status {
	chain := list.New[*entry]()
	head := chain.NewCursor()
	hddHead := chain.NewCursor()
	netHead := chain.NewCursor()

	shutdown := make(chan struct{})
	upEvents := make(chan upstreamEvent, 32)
	downEvents := make(chan downstreamEvent, 32)
	diskJobs := make(chan *entry, 256)
	diskDone := make(chan job.Status, 256)
	stopDisk := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(3)
	go readUpstreamLoop(upstream, downstream, sender, init.ChunkID, upEvents, shutdown, &wg)
	go readDownstreamLoop(downstream, downEvents, shutdown, &wg)
	go diskWriterLoop(st, init.ChunkID, init.Version, diskJobs, diskDone, stopDisk, &wg)

	upHandle := sender.Register(upstream)

	gotLast := 0
	finalStatus := job.StatusOK
	failed := false

loop:
	for {
		select {
		case ev := <-upEvents:
			switch ev.kind {
			case upData:
				n := chain.PushBack(ev.ent)
				head.Seed(n)
				hddHead.Seed(n)
				netHead.Seed(n)
				select {
				case diskJobs <- ev.ent:
				case <-stopDisk:
				}
			case upFinish:
				if head.HasData() {
					gotLast = 1
				} else {
					gotLast = 2
				}
				break loop
			case upErr:
				failed = true
				finalStatus = job.StatusDisconnected
				break loop
			}

		case ev := <-downEvents:
			switch ev.kind {
			case downStatus:
				if ev.status.WriteID == 0 {
					synthetic := &entry{hddAcked: true, netAcked: true, hddStatus: job.StatusOK, netStatus: job.Status(ev.status.Status)}
					n := chain.PushBack(synthetic)
					head.Seed(n)
				} else if netHead.HasData() {
					e := netHead.Data()
					if e.writeID == ev.status.WriteID {
						e.netStatus = job.Status(ev.status.Status)
						e.netAcked = true
						netHead.Advance()
					}
				}
			case downErr:
				failed = true
				finalStatus = job.StatusDisconnected
				break loop
			}

		case hddResult := <-diskDone:
			if hddHead.HasData() {
				e := hddHead.Data()
				e.hddStatus = hddResult
				e.hddAcked = true
				hddHead.Advance()
			}
		}

		for head.HasData() {
			e := head.Data()
			if !(e.hddAcked && e.netAcked) {
				break
			}
			if e.hddStatus != job.StatusOK || e.netStatus != job.StatusOK {
				if e.hddStatus != job.StatusOK {
					finalStatus = e.hddStatus
				} else {
					finalStatus = e.netStatus
				}
				sendFrame(upstream, sender, &upHandle, wire.Frame{Type: clientproto.TypeWriteStatus, Payload: clientproto.EncodeWriteStatus(init.ChunkID, e.writeID, uint8(finalStatus))})
				failed = true
			} else if e.writeID != 0 {
				ack := wire.Frame{Type: clientproto.TypeWriteStatus, Payload: clientproto.EncodeWriteStatus(init.ChunkID, e.writeID, uint8(job.StatusOK))}
				if serr := sendFrame(upstream, sender, &upHandle, ack); serr != nil {
					failed = true
					finalStatus = job.StatusDisconnected
				}
			}
			head.Advance()
			if failed {
				break
			}
		}
		if failed {
			break loop
		}
		if gotLast == 1 && !head.HasData() {
			gotLast = 2
			break loop
		}
	}

	close(shutdown)
	close(stopDisk)
	upstream.SetReadDeadline(time.Now())
	downstream.SetReadDeadline(time.Now())
	wg.Wait()
	upstream.SetReadDeadline(time.Time{})

	if !failed {
		sendFrame(upstream, sender, &upHandle, wire.Frame{Type: clientproto.TypeWriteStatus, Payload: clientproto.EncodeWriteStatus(init.ChunkID, 0, uint8(finalStatus))})
	} else {
		// A mid-chain disconnect still owes upstream a terminal status
		// (spec scenario 4; mainserv.c:926-936 does the same on POLLHUP).
		upHandle.Deregister()
		sendStatusOnce(upstream, init.ChunkID, 0, finalStatus)
	}

	if gotLast == 2 && cache != nil {
		downstream.SetReadDeadline(time.Time{})
		cache.Put(downHop.IP, downHop.Port, downstream)
	} else {
		downstream.Close()
	}

	if !failed && counters != nil {
		counters.IncWrites()
	}
	return finalStatus
}

// readUpstreamLoop is the upstream-readable branch: every frame is
// forwarded downstream (toggling the downstream keepalive around the
// write) before being turned into an event for the orchestrator.
func readUpstreamLoop(upstream, downstream net.Conn, sender *keepalive.Sender, chunkID uint64, events chan<- upstreamEvent, shutdown <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	handle := sender.Register(downstream)
	defer func() { handle.Deregister() }()

	for {
		frame, err := wire.ReadFrame(upstream)
		if err != nil {
			emit(events, upstreamEvent{kind: upErr, err: err}, shutdown)
			return
		}

		switch frame.Type {
		case wire.NOP:
			if serr := sendFrame(downstream, sender, &handle, frame); serr != nil {
				emit(events, upstreamEvent{kind: upErr, err: serr}, shutdown)
				return
			}

		case clientproto.TypeWriteData:
			wd, derr := clientproto.DecodeWriteData(frame.Payload)
			if derr != nil {
				emit(events, upstreamEvent{kind: upErr, err: derr}, shutdown)
				return
			}
			if wd.ChunkID != chunkID || wd.Size > store.BlockSize || uint32(len(wd.Data)) != wd.Size {
				emit(events, upstreamEvent{kind: upErr, err: errWrongSize}, shutdown)
				return
			}
			if serr := sendFrame(downstream, sender, &handle, frame); serr != nil {
				emit(events, upstreamEvent{kind: upErr, err: serr}, shutdown)
				return
			}
			ent := &entry{
				writeID: wd.WriteID, blockNum: wd.BlockNum, offset: wd.Offset,
				size: wd.Size, crc: wd.CRC, data: wd.Data,
				hddStatus: statusPending, netStatus: statusPending,
			}
			emit(events, upstreamEvent{kind: upData, ent: ent}, shutdown)

		case clientproto.TypeWriteFinish:
			if _, ferr := clientproto.DecodeWriteFinish(frame.Payload); ferr != nil {
				emit(events, upstreamEvent{kind: upErr, err: ferr}, shutdown)
				return
			}
			if serr := sendFrame(downstream, sender, &handle, frame); serr != nil {
				emit(events, upstreamEvent{kind: upErr, err: serr}, shutdown)
				return
			}
			emit(events, upstreamEvent{kind: upFinish}, shutdown)
			return

		default:
			emit(events, upstreamEvent{kind: upErr, err: errUnknownFrame}, shutdown)
			return
		}
	}
}

// readDownstreamLoop is the downstream-readable branch: status acks only.
func readDownstreamLoop(downstream net.Conn, events chan<- downstreamEvent, shutdown <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		frame, err := wire.ReadFrame(downstream)
		if err != nil {
			emit(events, downstreamEvent{kind: downErr, err: err}, shutdown)
			return
		}
		if frame.Type == wire.NOP {
			continue
		}
		if frame.Type != clientproto.TypeWriteStatus {
			emit(events, downstreamEvent{kind: downErr, err: errUnknownFrame}, shutdown)
			return
		}
		ws, derr := clientproto.DecodeWriteStatus(frame.Payload)
		if derr != nil {
			emit(events, downstreamEvent{kind: downErr, err: derr}, shutdown)
			return
		}
		emit(events, downstreamEvent{kind: downStatus, status: ws}, shutdown)
	}
}

// diskWriterLoop is the disk-writer thread: one goroutine draining diskJobs
// in push order and reporting each result back in the same order, so the
// orchestrator can always attribute a diskDone result to whatever node
// hddHead currently points at.
func diskWriterLoop(st store.Store, chunkID uint64, version uint32, jobs <-chan *entry, done chan<- job.Status, stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-stop:
			return
		case e, ok := <-jobs:
			if !ok {
				return
			}
			err := st.Write(chunkID, version, e.blockNum, e.data, uint32(e.offset), e.size, e.crc)
			status := store.StatusFor(err)
			select {
			case done <- status:
			case <-stop:
				return
			}
		}
	}
}

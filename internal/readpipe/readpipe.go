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

// Package readpipe runs one client read request to completion on a single
// job-engine worker call (spec §4.2): it never yields back to the engine
// mid-request.
package readpipe

import (
	"net"
	"time"

	"github.com/mooseish/chunkserver/internal/bigbuf"
	"github.com/mooseish/chunkserver/internal/clientproto"
	"github.com/mooseish/chunkserver/internal/job"
	"github.com/mooseish/chunkserver/internal/keepalive"
	"github.com/mooseish/chunkserver/internal/stats"
	"github.com/mooseish/chunkserver/internal/store"
	"github.com/mooseish/chunkserver/internal/wire"
)

const sendTimeout = 5 * time.Second

// Args is the ServRead job payload: the accepted client socket and the
// already-parsed read request.
type Args struct {
	Conn    net.Conn
	Request clientproto.ReadRequest
}

// Handler builds the job.Handler registered for job.OpServRead. useMmap
// mirrors internal/config.Config.CanUseMmap: when set, each block's
// transfer buffer is backed by an anonymous mmap region instead of the
// heap (spec §6's CAN_USE_MMAP).
func Handler(st store.Store, sender *keepalive.Sender, counters *stats.Counters, useMmap bool) job.Handler {
	return func(j *job.Job) job.Status {
		args, ok := j.Args.(Args)
		if !ok {
			return job.StatusEINVAL
		}
		return run(st, sender, counters, useMmap, args.Conn, args.Request)
	}
}

func run(st store.Store, sender *keepalive.Sender, counters *stats.Counters, useMmap bool, conn net.Conn, req clientproto.ReadRequest) job.Status {
	if req.Size == 0 {
		sendStatus(conn, req.ChunkID, job.StatusOK)
		return job.StatusOK
	}
	if req.Size > store.ChunkMaxSize {
		sendStatus(conn, req.ChunkID, job.StatusWrongSize)
		return job.StatusWrongSize
	}
	if uint64(req.Offset)+uint64(req.Size) > store.ChunkMaxSize {
		sendStatus(conn, req.ChunkID, job.StatusWrongOffset)
		return job.StatusWrongOffset
	}

	h := sender.Register(conn)
	openErr := st.Open(req.ChunkID, req.Version)
	if h.Deregister() {
		conn.Close()
		return job.StatusDisconnected
	}
	if openErr != nil {
		status := store.StatusFor(openErr)
		sendStatus(conn, req.ChunkID, status)
		return status
	}

	h = sender.Register(conn)
	st.Precache(req.ChunkID, req.Offset, req.Size)
	if h.Deregister() {
		conn.Close()
		st.Close(req.ChunkID)
		return job.StatusDisconnected
	}

	status := readBlocks(st, sender, useMmap, conn, req)
	st.Close(req.ChunkID)
	if status != job.StatusOK {
		return status
	}

	sendStatus(conn, req.ChunkID, job.StatusOK)
	if counters != nil {
		counters.IncReads()
	}
	return job.StatusOK
}

func readBlocks(st store.Store, sender *keepalive.Sender, useMmap bool, conn net.Conn, req clientproto.ReadRequest) job.Status {
	offset := req.Offset
	remaining := req.Size

	for remaining > 0 {
		blockNum := uint16(offset / store.BlockSize)
		blockOffset := offset % store.BlockSize
		blockSize := uint32(store.BlockSize) - blockOffset
		if blockSize > remaining {
			blockSize = remaining
		}

		scratch := bigbuf.Alloc(int(blockSize), useMmap)
		buf := scratch.Bytes()
		h := sender.Register(conn)
		crc, err := st.Read(req.ChunkID, req.Version, blockNum, blockOffset, buf)
		errored := h.Deregister()
		if errored {
			scratch.Release()
			conn.Close()
			return job.StatusDisconnected
		}
		if err != nil {
			scratch.Release()
			status := store.StatusFor(err)
			sendStatus(conn, req.ChunkID, status)
			return status
		}

		frame := wire.Frame{
			Type:    clientproto.TypeReadData,
			Payload: clientproto.EncodeReadData(req.ChunkID, blockNum, blockOffset, blockSize, crc, buf),
		}
		conn.SetWriteDeadline(time.Now().Add(sendTimeout))
		werr := wire.WriteFrame(conn, frame)
		conn.SetWriteDeadline(time.Time{})
		scratch.Release()
		if werr != nil {
			return job.StatusDisconnected
		}

		if clientAborted(conn) {
			return job.StatusDisconnected
		}

		offset += blockSize
		remaining -= blockSize
	}
	return job.StatusOK
}

// clientAborted makes a brief, non-blocking attempt to read an 8-byte NOP
// from the client after each sent block; a non-NOP frame is treated as a
// client abort, a timeout (no data yet) is not (spec §4.2).
func clientAborted(conn net.Conn) bool {
	conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	var buf [wire.HeaderSize]byte
	n, err := conn.Read(buf[:])
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return false
		}
		return true
	}
	if n < wire.HeaderSize {
		return false
	}
	return !wire.DecodeHeader(buf[:]).IsNop()
}

func sendStatus(conn net.Conn, chunkID uint64, status job.Status) {
	frame := wire.Frame{Type: clientproto.TypeReadStatus, Payload: clientproto.EncodeReadStatus(chunkID, uint8(status))}
	conn.SetWriteDeadline(time.Now().Add(sendTimeout))
	wire.WriteFrame(conn, frame)
	conn.SetWriteDeadline(time.Time{})
}

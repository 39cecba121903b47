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

package engine

import (
	"net"
	"time"

	"github.com/mooseish/chunkserver/internal/clientproto"
	"github.com/mooseish/chunkserver/internal/clog"
	"github.com/mooseish/chunkserver/internal/job"
	"github.com/mooseish/chunkserver/internal/readpipe"
	"github.com/mooseish/chunkserver/internal/wire"
	"github.com/mooseish/chunkserver/internal/writepipe"
)

const firstFrameTimeout = 10 * time.Second

// handleClient reads exactly one request frame off a freshly accepted
// client socket and submits it to the high-priority pool (spec's client
// traffic always outranks replication/maintenance work): a CLTOCS_READ
// submits job.OpServRead, a CLTOCS_WRITE submits job.OpServWrite. Each
// accepted connection carries exactly one request; the job closes it on
// completion.
func (s *Server) handleClient(conn net.Conn) {
	conn.SetReadDeadline(time.Now().Add(firstFrameTimeout))
	f, err := wire.ReadFrame(conn)
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		conn.Close()
		return
	}

	switch f.Type {
	case clientproto.TypeReadRequest:
		req, derr := clientproto.DecodeReadRequest(f.Payload, hasProtoByte(len(f.Payload), 20))
		if derr != nil {
			clog.Logf(clog.LogWarning, "engine: decode read request: %v", derr)
			conn.Close()
			return
		}
		if id := s.jobs.High.Submit(job.OpServRead, req.ChunkID, readpipe.Args{Conn: conn, Request: req},
			closeOnCompletion(conn), nil, job.StatusCantConnect, job.LimitedReturn); id == 0 {
			conn.Close()
		}

	case clientproto.TypeWriteInit:
		init, derr := clientproto.DecodeWriteInit(f.Payload, writeInitHasProto(f.Payload))
		if derr != nil {
			clog.Logf(clog.LogWarning, "engine: decode write init: %v", derr)
			conn.Close()
			return
		}
		if id := s.jobs.High.Submit(job.OpServWrite, init.ChunkID, writepipe.Args{Conn: conn, Init: init},
			closeOnCompletion(conn), nil, job.StatusCantConnect, job.LimitedReturn); id == 0 {
			conn.Close()
		}

	default:
		conn.Close()
	}
}

// hasProtoByte distinguishes the optional leading proto byte the spec
// describes ("[proto:u8]") from its absence using the payload length alone:
// baseLen is the encoded size without the byte, so an exact match means it
// is absent and baseLen+1 means it is present. There is no separate frame
// type for the two shapes, so length parity is the only signal available.
func hasProtoByte(payloadLen, baseLen int) bool {
	return payloadLen == baseLen+1
}

// writeInitHasProto applies the same length-parity trick as hasProtoByte to
// a CLTOCS_WRITE payload, whose base size (12 or 13 bytes) is followed by a
// variable number of 6-byte chain hops: taken mod 6, the two base sizes
// land on different residues (0 and 1), so the residue alone tells the
// byte's presence regardless of chain length.
func writeInitHasProto(payload []byte) bool {
	return len(payload)%6 == 1
}

// closeOnCompletion builds the completion callback every client job gets:
// the pipeline handlers never close the socket themselves (spec's
// keepalive-error path is the one exception, handled inside the handler),
// so the engine closes it once here regardless of outcome.
func closeOnCompletion(conn net.Conn) job.Callback {
	return func(_ interface{}, status job.Status) {
		if status != job.StatusOK {
			clog.Logf(clog.LogDebug, "engine: client job finished status=%s", status)
		}
		conn.Close()
	}
}

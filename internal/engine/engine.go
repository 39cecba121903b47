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

// Package engine wires together the job engine, the master-connection
// protocol engine and the client-facing listener into one running process:
// it is the only package that constructs all of them and owns their
// lifetimes. It is named Server rather than Engine to keep it visually
// distinct from internal/job.Engine, which it embeds one of.
package engine

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/mooseish/chunkserver/internal/busychunk"
	"github.com/mooseish/chunkserver/internal/clog"
	"github.com/mooseish/chunkserver/internal/conncache"
	"github.com/mooseish/chunkserver/internal/config"
	"github.com/mooseish/chunkserver/internal/job"
	"github.com/mooseish/chunkserver/internal/keepalive"
	"github.com/mooseish/chunkserver/internal/masterconn"
	"github.com/mooseish/chunkserver/internal/readpipe"
	"github.com/mooseish/chunkserver/internal/stats"
	"github.com/mooseish/chunkserver/internal/store"
	"github.com/mooseish/chunkserver/internal/writepipe"
)

// Server owns every long-lived component of one chunkserver process:
// the two-pool job engine, the master connection, the client listener and
// the shared support packages (keepalive sender, connection cache, busy-chunk
// index, counters).
type Server struct {
	cfg *config.Config

	jobs   *job.Engine
	master *masterconn.Conn

	keepalive *keepalive.Sender
	cache     *conncache.Cache
	busy      *busychunk.Index
	counters  *stats.Counters

	listener atomic.Value // net.Listener

	wg sync.WaitGroup
}

// New assembles a Server from its two storage-layer seams (spec Non-goals
// keep the on-disk layout and replication transport out of scope): st
// backs every chunk read/write/metadata op, rep backs the four replication
// kinds the master can request.
func New(cfg *config.Config, st store.Store, rep store.Replicator) *Server {
	counters := stats.New()
	cache := conncache.New()
	busy := busychunk.New()
	sender := keepalive.New(keepalive.NOPSInterval)

	handlers := map[job.OpKind]job.Handler{
		job.OpServRead:          readpipe.Handler(st, sender, counters, cfg.CanUseMmap),
		job.OpServWrite:         writepipe.Handler(st, cache, sender, counters),
		job.OpChunkOp:           masterconn.ChunkOpHandler(st),
		job.OpChunkMove:         masterconn.ChunkMoveHandler(st),
		job.OpGetInfo:           masterconn.InfoHandler(st),
		job.OpReplicateSimple:   masterconn.ReplicateHandler(rep, store.ReplicateSimple),
		job.OpReplicateSplit:    masterconn.ReplicateHandler(rep, store.ReplicateSplit),
		job.OpReplicateRecovery: masterconn.ReplicateHandler(rep, store.ReplicateRecovery),
		job.OpReplicateJoin:     masterconn.ReplicateHandler(rep, store.ReplicateJoin),
	}

	jobCfg := job.Config{
		WorkersMax:     cfg.WorkersMax,
		WorkersHimark:  cfg.WorkersHimark,
		WorkersLomark:  cfg.WorkersLomark,
		WorkersMaxIdle: cfg.WorkersMaxIdle,
	}
	jobs := job.NewEngine(jobCfg, handlers)

	return &Server{
		cfg:       cfg,
		jobs:      jobs,
		master:    masterconn.New(cfg, st, jobs, busy),
		keepalive: sender,
		cache:     cache,
		busy:      busy,
		counters:  counters,
	}
}

// Counters exposes the shared operation counters, e.g. for a metrics
// endpoint wired up by the caller.
func (s *Server) Counters() *stats.Counters { return s.counters }

// BusyChunks exposes the shared busy-chunk index, e.g. for a diagnostics
// endpoint wired up by the caller.
func (s *Server) BusyChunks() *busychunk.Index { return s.busy }

// Run binds the client-facing listener and starts every background
// component, then blocks until ctx is cancelled. Because Run blocks,
// ListenAddr has to be called from another goroutine; it returns nil until
// the listener is bound, and stays nil if Run returns a bind error.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.ClientBindHost, s.cfg.ClientPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener.Store(ln)

	s.jobs.Run(ctx)
	s.cache.Run()
	s.keepalive.Run()
	s.master.Run()

	s.wg.Add(2)
	go s.pumpResults(ctx)
	go s.acceptLoop(ctx)

	<-ctx.Done()
	s.shutdown()
	return nil
}

// ListenAddr returns the bound client listener address, valid once Run has
// started. Mainly useful for tests that bind to port 0.
func (s *Server) ListenAddr() net.Addr {
	ln, _ := s.listener.Load().(net.Listener)
	if ln == nil {
		return nil
	}
	return ln.Addr()
}

func (s *Server) shutdown() {
	if ln, ok := s.listener.Load().(net.Listener); ok {
		ln.Close()
	}
	s.wg.Wait()
	s.master.Stop()
	s.keepalive.Stop()
	s.cache.Stop()
	s.jobs.Shutdown()
}

// pumpResults is the real counterpart of the draining loop a test would
// otherwise have to fake: every finished job's result is delivered to its
// callback as soon as it is available, in the order the pools produce them.
func (s *Server) pumpResults(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-s.jobs.Results():
			if !ok {
				return
			}
			s.jobs.Deliver(r)
		}
	}
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	ln := s.listener.Load().(net.Listener)
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				clog.Logf(clog.LogWarning, "engine: accept: %v", err)
				return
			}
		}
		go s.handleClient(conn)
	}
}

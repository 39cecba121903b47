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

// Package masterconn drives the single outbound connection to the master
// coordinator (spec §4.4): connect/reconnect with backoff, registration,
// periodic status reports, and command dispatch onto the job engine.
//
// Go's net.Conn.Write already loops until the payload is fully written or
// an error occurs, so the spec's "partial sends are re-queued" requirement
// needs no extra state here — the same simplification internal/wire's
// ReadFrame already makes for readpipe/writepipe by wrapping io.ReadFull
// instead of hand-rolling a buffered-read state machine.
package masterconn

import (
	"crypto/md5"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/mooseish/chunkserver/internal/busychunk"
	"github.com/mooseish/chunkserver/internal/clog"
	"github.com/mooseish/chunkserver/internal/config"
	"github.com/mooseish/chunkserver/internal/identity"
	"github.com/mooseish/chunkserver/internal/job"
	"github.com/mooseish/chunkserver/internal/masterproto"
	"github.com/mooseish/chunkserver/internal/store"
	"github.com/mooseish/chunkserver/internal/wire"
)

// Mode is the connection's coarse lifecycle state (spec §4.4's
// Free/Connecting/Data/Kill states; Close is folded into Data's teardown
// path here since Go has no separate "half-shutdown" socket state worth
// modeling on its own).
type Mode int

const (
	ModeFree Mode = iota
	ModeConnecting
	ModeData
	ModeKill
)

// registerState is the registration handshake's own sub-FSM, nested inside
// ModeData.
type registerState int

const (
	registerUnregistered registerState = iota
	registerWaiting
	registerInProgress
	registerRegistered
)

const (
	reportInterval  = time.Second
	readTimeout     = 10 * time.Second
	writeTimeout    = 5 * time.Second
	maxIdleQueries  = 16
	loopback        = "127."
)

// hlstatus values folded into CurrentLoad (spec §9 Open Question #1).
const (
	hlstatusOk        uint8 = 0
	hlstatusOverload  uint8 = 1
	hlstatusRebalance uint8 = 2
	hlstatusOldMaster uint8 = 3
)

// Conn owns the master connection's goroutine, its registration state, and
// the bookkeeping needed to route completed jobs back into outbound
// frames.
type Conn struct {
	cfg     *config.Config
	st      store.Store
	engine  *job.Engine
	busy    *busychunk.Index
	instance uuid.UUID

	mu            sync.Mutex
	mode          Mode
	regState      registerState
	conn          net.Conn
	connCounter   uint64
	masterVersion uint32
	csid          uint16
	rebalanceHi   bool
	oldMaster     bool

	idleSem *semaphore.Weighted

	shutdown chan struct{}
	wg       sync.WaitGroup
}

// New builds a master connection driver around the shared job engine and
// store. Run must be called to start the reconnect loop.
func New(cfg *config.Config, st store.Store, engine *job.Engine, busy *busychunk.Index) *Conn {
	return &Conn{
		cfg:      cfg,
		st:       st,
		engine:   engine,
		busy:     busy,
		instance: uuid.New(),
		mode:     ModeFree,
		idleSem:  semaphore.NewWeighted(maxIdleQueries),
		shutdown: make(chan struct{}),
	}
}

// Run drives the connect -> register -> serve -> disconnect cycle until
// Stop is called, sleeping between attempts per MASTER_RECONNECTION_DELAY
// with +/-20% jitter so a fleet of chunkservers restarted together doesn't
// thunder against the master in lockstep.
func (c *Conn) Run() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.shutdown:
				return
			default:
			}
			if err := c.runOnce(); err != nil {
				clog.Logf(clog.LogWarning, "masterconn[%s]: %v", c.instance, err)
			}
			select {
			case <-c.shutdown:
				return
			case <-time.After(jitter(c.cfg.MasterReconnectionDelay)):
			}
		}
	}()
}

// Stop signals the reconnect loop to exit and closes any live connection.
func (c *Conn) Stop() {
	close(c.shutdown)
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		return base
	}
	delta := time.Duration(rand.Int63n(int64(base) * 2 / 5))
	return base - time.Duration(int64(base)/5) + delta
}

func (c *Conn) runOnce() error {
	c.setMode(ModeConnecting)
	conn, err := c.dial()
	if err != nil {
		c.setMode(ModeFree)
		return errors.Wrap(err, "masterconn: dial")
	}

	c.mu.Lock()
	c.conn = conn
	c.connCounter++
	c.regState = registerWaiting
	c.mode = ModeData
	c.mu.Unlock()

	clog.Logf(clog.LogInfo, "masterconn[%s]: connected to %s:%s", c.instance, c.cfg.MasterHost, c.cfg.MasterPort)

	err = c.serve(conn)

	c.mu.Lock()
	c.mode = ModeFree
	c.regState = registerUnregistered
	c.conn = nil
	c.mu.Unlock()
	conn.Close()
	return err
}

// dial refuses a loopback master address (spec §4.4: a chunkserver talking
// to a master on 127.0.0.0/8 is almost always a misconfiguration, since the
// two are meant to run on separate hosts) and otherwise connects with the
// configured local bind address.
func (c *Conn) dial() (net.Conn, error) {
	if len(c.cfg.MasterHost) >= 4 && c.cfg.MasterHost[:4] == loopback {
		return nil, errors.New("masterconn: refusing loopback master host")
	}
	addr := net.JoinHostPort(c.cfg.MasterHost, c.cfg.MasterPort)
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	if c.cfg.BindHost != "" {
		dialer.LocalAddr = &net.TCPAddr{IP: net.ParseIP(c.cfg.BindHost)}
	}
	return dialer.Dial("tcp", addr)
}

func (c *Conn) setMode(m Mode) {
	c.mu.Lock()
	c.mode = m
	c.mu.Unlock()
}

// Mode reports the connection's current lifecycle state.
func (c *Conn) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// serve runs the registration handshake, then the steady-state loop
// reading commands and periodically sending status reports, until the
// socket errors or Stop is called.
func (c *Conn) serve(conn net.Conn) error {
	id, err := identity.Load(c.cfg.DataDir)
	if err != nil {
		return errors.Wrap(err, "masterconn: load identity")
	}

	if err := c.register(conn, id); err != nil {
		return errors.Wrap(err, "masterconn: register")
	}

	reports := time.NewTicker(reportInterval)
	defer reports.Stop()

	frames := make(chan wire.Frame, 64)
	readErrs := make(chan error, 1)
	go c.readLoop(conn, frames, readErrs)

	for {
		select {
		case <-c.shutdown:
			c.sendUnregister(conn)
			return nil
		case err := <-readErrs:
			return err
		case f := <-frames:
			if err := c.handleFrame(conn, f); err != nil {
				return err
			}
		case <-reports.C:
			c.sendStatusReport(conn)
		}
	}
}

func (c *Conn) readLoop(conn net.Conn, frames chan<- wire.Frame, errs chan<- error) {
	for {
		conn.SetReadDeadline(time.Now().Add(c.effectiveTimeout()))
		f, err := wire.ReadFrame(conn)
		if err != nil {
			errs <- err
			return
		}
		if f.Type == wire.NOP {
			continue
		}
		select {
		case frames <- f:
		case <-c.shutdown:
			return
		}
	}
}

func (c *Conn) effectiveTimeout() time.Duration {
	if c.cfg.MasterTimeout <= 0 {
		return readTimeout
	}
	return c.cfg.MasterTimeout
}

// register runs the v60->MasterAck->(optional auth challenge)->v61
// chunk-stream->v62-complete handshake (spec §4.4).
func (c *Conn) register(conn net.Conn, id identity.Identity) error {
	c.mu.Lock()
	c.regState = registerInProgress
	c.mu.Unlock()

	begin := masterproto.RegisterBegin{
		Version: 63,
		Port:    0,
		Timeout: uint16(c.effectiveTimeout() / time.Second),
		CSID:    id.CSID,
	}
	if err := c.send(conn, masterproto.TypeRegister, masterproto.EncodeRegisterBegin(begin)); err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	frame, err := wire.ReadFrame(conn)
	if err != nil {
		return errors.Wrap(err, "read master ack")
	}
	if frame.Type != masterproto.TypeMasterAck {
		return errors.Errorf("masterconn: expected MasterAck, got frame type %d", frame.Type)
	}
	ack, err := masterproto.DecodeMasterAck(frame.Payload)
	if err != nil {
		return err
	}

	switch ack.AType {
	case masterproto.AckReject:
		return errors.New("masterconn: master rejected registration")
	case masterproto.AckWait:
		return errors.New("masterconn: master asked to wait")
	case masterproto.AckAuthRequested:
		if err := c.answerAuthChallenge(conn, ack.Blob); err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		frame, err = wire.ReadFrame(conn)
		if err != nil {
			return errors.Wrap(err, "read post-auth master ack")
		}
		ack, err = masterproto.DecodeMasterAck(frame.Payload)
		if err != nil {
			return err
		}
		if ack.AType != masterproto.AckAccepted {
			return errors.New("masterconn: master rejected auth response")
		}
	case masterproto.AckAccepted:
		// fall through
	default:
		return errors.Errorf("masterconn: unknown MasterAck atype %d", ack.AType)
	}

	if err := identity.Validate(id.MetaID, c.st.MetaID(), ack.MetaID); err != nil {
		clog.Panic(errors.Wrap(err, "masterconn: fatal metaID mismatch, exiting"))
		return err
	}
	newID := identity.Identity{CSID: ack.CSID, MetaID: ack.MetaID}
	if err := identity.Save(c.cfg.DataDir, newID); err != nil {
		clog.Logf(clog.LogError, "masterconn[%s]: persist identity: %v", c.instance, err)
	}

	c.mu.Lock()
	c.masterVersion = ack.MasterVersion
	c.csid = newID.CSID
	c.mu.Unlock()

	if c.cfg.Labels != 0 {
		if err := c.send(conn, masterproto.TypeLabels, masterproto.EncodeLabels(c.cfg.Labels)); err != nil {
			return err
		}
	}

	if err := c.streamChunks(conn); err != nil {
		return err
	}
	if err := c.send(conn, masterproto.TypeRegister, masterproto.EncodeRegisterComplete()); err != nil {
		return err
	}

	c.mu.Lock()
	c.regState = registerRegistered
	c.mu.Unlock()
	clog.Logf(clog.LogInfo, "masterconn[%s]: registered, csid=%d", c.instance, newID.CSID)
	return nil
}

// answerAuthChallenge answers an AUTH_CODE challenge with
// MD5(blob[0:16] || authCode || blob[16:32]); DecodeMasterAck only returns
// a challenge with a full 32-byte blob.
func (c *Conn) answerAuthChallenge(conn net.Conn, blob []byte) error {
	h := md5.New()
	h.Write(blob[:16])
	h.Write([]byte(c.cfg.AuthCode))
	h.Write(blob[16:])
	digest := h.Sum(nil)
	begin := masterproto.RegisterBegin{AuthDigest: digest, Version: 63}
	return c.send(conn, masterproto.TypeRegister, masterproto.EncodeRegisterBegin(begin))
}

// streamChunks walks the store's chunk cursor in
// CHUNKS_PER_REGISTER_PACKET-sized batches, one v61 frame per batch.
func (c *Conn) streamChunks(conn net.Conn) error {
	cursor := c.st.BeginChunkEnumeration()
	if cursor == nil {
		return nil
	}
	for {
		ids, versions, ok := cursor.Next(c.cfg.ChunksPerRegisterPacket)
		if len(ids) > 0 {
			if err := c.send(conn, masterproto.TypeRegister, masterproto.EncodeRegisterChunks(ids, versions)); err != nil {
				return err
			}
		}
		if !ok {
			return nil
		}
	}
}

func (c *Conn) sendUnregister(conn net.Conn) {
	c.send(conn, masterproto.TypeRegister, masterproto.EncodeRegisterUnregister())
}

func (c *Conn) send(conn net.Conn, typ uint32, payload []byte) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := wire.WriteFrame(conn, wire.Frame{Type: typ, Payload: payload})
	conn.SetWriteDeadline(time.Time{})
	return err
}

// sendStatusReport sends the once-a-second CurrentLoad and Space frames.
// The damaged/lost chunk batches are scoped to the Registered state (spec
// §4.4): the master has no record of this chunkserver's chunks yet while
// registration is still running, so a batch sent earlier would reference
// chunks the master doesn't know to attribute to this connection.
func (c *Conn) sendStatusReport(conn net.Conn) {
	hl := c.hlstatus()
	if err := c.send(conn, masterproto.TypeCurrentLoad, masterproto.EncodeCurrentLoad(0, hl, 0, false)); err != nil {
		return
	}

	used, total, chunks, tdUsed, tdTotal, tdChunks := c.st.SpaceUsage()
	c.send(conn, masterproto.TypeSpace, masterproto.EncodeSpace(used, total, chunks, tdUsed, tdTotal, tdChunks))

	if c.registered() {
		if damaged := c.st.DamagedChunks(); len(damaged) > 0 {
			versions := make([]uint32, len(damaged))
			c.send(conn, masterproto.TypeChunkDamaged, masterproto.EncodeChunkIDVersions(damaged, versions))
		}
		if lost := c.st.LostChunks(); len(lost) > 0 {
			c.send(conn, masterproto.TypeChunkLost, masterproto.EncodeChunkIDs(lost))
		}
	}
}

// registered reports whether the registration handshake has completed.
func (c *Conn) registered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regState == registerRegistered
}

// hlstatus computes the load class reported to the master, applying the
// fixed precedence decided for spec §9 Open Question #1: start from the
// two-pool classification, force HSRebalance if a rebalance-hi-speed
// condition is flagged, then apply the old-master downgrade last so it
// always overrides whatever was chosen before it, never the reverse.
func (c *Conn) hlstatus() uint8 {
	hl := hlstatusOk
	if c.engine.Classify() == job.LoadOverloaded {
		hl = hlstatusOverload
	}
	c.mu.Lock()
	rebalance, oldMaster := c.rebalanceHi, c.oldMaster
	c.mu.Unlock()
	if rebalance {
		hl = hlstatusRebalance
	}
	if oldMaster {
		hl = hlstatusOldMaster
	}
	return hl
}

// handleFrame dispatches one decoded command frame from the master onto
// the job engine or answers it synchronously.
func (c *Conn) handleFrame(conn net.Conn, f wire.Frame) error {
	switch f.Type {
	case masterproto.TypeForceTimeout:
		timeout, err := masterproto.DecodeForceTimeout(f.Payload)
		if err != nil {
			return nil
		}
		c.mu.Lock()
		if timeout != 0 && timeout < 10 {
			timeout = 10
		}
		c.cfg.MasterTimeout = time.Duration(timeout) * time.Second
		c.mu.Unlock()
		return nil

	case masterproto.TypeDelete:
		if !c.registered() {
			return c.answerChunkOpNotDone(conn, f)
		}
		return c.dispatchChunkOp(f)
	case masterproto.TypeCreate, masterproto.TypeSetVersion,
		masterproto.TypeDuplicate, masterproto.TypeTruncate, masterproto.TypeDupTrunc, masterproto.TypeChunkOp:
		return c.dispatchChunkOp(f)

	case masterproto.TypeReplicate:
		return c.dispatchReplicate(store.ReplicateSimple, f.Payload)
	case masterproto.TypeReplicateSplit:
		return c.dispatchReplicate(store.ReplicateSplit, f.Payload)
	case masterproto.TypeReplicateRecover:
		return c.dispatchReplicate(store.ReplicateRecovery, f.Payload)
	case masterproto.TypeReplicateJoin:
		return c.dispatchReplicate(store.ReplicateJoin, f.Payload)
	case masterproto.TypeLocalSplit:
		if !c.registered() {
			return c.answerReplicateNotDone(conn, f.Payload)
		}
		return c.dispatchReplicate(store.ReplicateJoin, f.Payload)

	case masterproto.TypeChunkMove:
		return c.dispatchChunkMove(f.Payload)

	case masterproto.TypeChunkStatusQuery:
		return c.answerChunkStatus(conn, f.Payload)

	case masterproto.TypeGetChunkBlocks:
		return c.answerChunkInfo(conn, f.Payload, store.InfoBasic)
	case masterproto.TypeGetChunkChecksum:
		return c.answerChunkInfo(conn, f.Payload, store.InfoFull)
	case masterproto.TypeGetChunkChecksumTab:
		return c.answerChunkInfo(conn, f.Payload, store.InfoMFS)

	default:
		clog.Logf(clog.LogDebug, "masterconn[%s]: ignoring unknown frame type %d", c.instance, f.Type)
		return nil
	}
}

// dispatchChunkOp decodes any of the Create/Delete/SetVersion/Duplicate/
// Truncate/DupTrunc/ChunkOp command shapes into the shared ChunkOpArgs and
// submits one job.OpChunkOp job. The completion callback builds the status
// response and writes it only if connCounter still matches the epoch
// captured here (spec §9's detached/attached packet pattern, substituting
// for a weak reference to a connection that may already be gone by
// completion time).
func (c *Conn) dispatchChunkOp(f wire.Frame) error {
	var args masterproto.ChunkOpArgs
	var err error
	switch f.Type {
	case masterproto.TypeCreate:
		args, err = masterproto.DecodeCreate(f.Payload)
	case masterproto.TypeDelete:
		args, err = masterproto.DecodeDelete(f.Payload)
	case masterproto.TypeSetVersion:
		args, err = masterproto.DecodeSetVersion(f.Payload)
	case masterproto.TypeDuplicate:
		args, err = masterproto.DecodeDuplicate(f.Payload)
	case masterproto.TypeTruncate:
		args, err = masterproto.DecodeTruncate(f.Payload)
	case masterproto.TypeDupTrunc:
		args, err = masterproto.DecodeDupTrunc(f.Payload)
	case masterproto.TypeChunkOp:
		args, err = masterproto.DecodeChunkOp(f.Payload)
	}
	if err != nil {
		return nil
	}

	c.busy.Mark(args.ChunkID)
	epoch := c.currentEpoch()
	c.engine.Low.Submit(job.OpChunkOp, args.ChunkID, args, func(extra interface{}, status job.Status) {
		c.busy.Unmark(args.ChunkID)
		c.attachAndSend(epoch, masterproto.TypeOpStatus, masterproto.EncodeOpStatus(args.ChunkID, uint8(status)))
	}, nil, job.StatusIOError, job.AlwaysDo)
	return nil
}

// answerChunkOpNotDone answers a Delete command synchronously with
// StatusNotDone instead of submitting a job (spec §4.4: Delete and
// LocalSplit refuse to run while registration with the master is still in
// progress, since the chunk set the master holds for this chunkserver isn't
// settled yet).
func (c *Conn) answerChunkOpNotDone(conn net.Conn, f wire.Frame) error {
	args, err := masterproto.DecodeDelete(f.Payload)
	if err != nil {
		return nil
	}
	return c.send(conn, masterproto.TypeOpStatus, masterproto.EncodeOpStatus(args.ChunkID, uint8(job.StatusNotDone)))
}

// answerReplicateNotDone is answerChunkOpNotDone's counterpart for
// LocalSplit.
func (c *Conn) answerReplicateNotDone(conn net.Conn, payload []byte) error {
	args, err := masterproto.DecodeReplicate(store.ReplicateJoin, payload)
	if err != nil {
		return nil
	}
	return c.send(conn, masterproto.TypeOpStatus, masterproto.EncodeOpStatus(args.ChunkID, uint8(job.StatusNotDone)))
}

func (c *Conn) dispatchReplicate(kind store.ReplicateKind, payload []byte) error {
	args, err := masterproto.DecodeReplicate(kind, payload)
	if err != nil {
		return nil
	}
	op := replicateOp(kind)
	c.busy.Mark(args.ChunkID)
	epoch := c.currentEpoch()
	c.engine.Low.Submit(op, args.ChunkID, args, func(extra interface{}, status job.Status) {
		c.busy.Unmark(args.ChunkID)
		c.attachAndSend(epoch, masterproto.TypeOpStatus, masterproto.EncodeOpStatus(args.ChunkID, uint8(status)))
	}, nil, job.StatusIOError, job.AlwaysDo)
	return nil
}

func (c *Conn) dispatchChunkMove(payload []byte) error {
	args, err := masterproto.DecodeChunkMove(payload)
	if err != nil {
		return nil
	}
	c.busy.Mark(args.ChunkID)
	epoch := c.currentEpoch()
	c.engine.Low.Submit(job.OpChunkMove, args.ChunkID, args, func(extra interface{}, status job.Status) {
		c.busy.Unmark(args.ChunkID)
		c.attachAndSend(epoch, masterproto.TypeOpStatus, masterproto.EncodeOpStatus(args.ChunkID, uint8(status)))
	}, nil, job.StatusIOError, job.AlwaysDo)
	return nil
}

func replicateOp(kind store.ReplicateKind) job.OpKind {
	switch kind {
	case store.ReplicateSplit:
		return job.OpReplicateSplit
	case store.ReplicateRecovery:
		return job.OpReplicateRecovery
	case store.ReplicateJoin:
		return job.OpReplicateJoin
	default:
		return job.OpReplicateSimple
	}
}

// answerChunkStatus replies synchronously (no job submitted): a busy chunk
// simply gets no answer, since the master is expected to re-ask, matching
// the spec's §4.4 busy-suppression behavior rather than queuing a stale
// status on top of an in-flight job.
func (c *Conn) answerChunkStatus(conn net.Conn, payload []byte) error {
	q, err := masterproto.DecodeChunkQuery(payload)
	if err != nil {
		return nil
	}
	if c.busy.Busy(q.ChunkID) {
		return nil
	}
	status, _ := c.st.ChunkStatus(q.ChunkID)
	return c.send(conn, masterproto.TypeChunkStatusAnswer, masterproto.EncodeChunkStatusAnswer(q.ChunkID, status))
}

// answerChunkInfo submits a bounded-concurrency OpGetInfo job: idleSem caps
// how many of these metadata queries can be in flight at once so a burst of
// master-driven GetChunkBlocks/Checksum/ChecksumTab requests can't crowd
// out the Low pool's replication/maintenance work. A query the pool sheds
// gets no answer and gives its slot back at once.
func (c *Conn) answerChunkInfo(conn net.Conn, payload []byte, kind store.InfoKind) error {
	q, err := masterproto.DecodeChunkQuery(payload)
	if err != nil {
		return nil
	}
	if !c.idleSem.TryAcquire(1) {
		return nil
	}
	epoch := c.currentEpoch()
	args := &chunkInfoArgs{ChunkID: q.ChunkID, Version: q.Version, Kind: kind}
	id := c.engine.Low.Submit(job.OpGetInfo, q.ChunkID, args, func(extra interface{}, status job.Status) {
		c.idleSem.Release(1)
		a := extra.(*chunkInfoArgs)
		var data []byte
		if status == job.StatusOK {
			data = a.Result
		}
		c.attachAndSend(epoch, masterproto.TypeChunkInfoAnswer, masterproto.EncodeChunkInfoAnswer(q.ChunkID, uint8(status), data))
	}, args, job.StatusIOError, job.LimitedReturn)
	if id == 0 {
		// shed at admission: the callback never runs, so release here.
		c.idleSem.Release(1)
	}
	return nil
}

// chunkInfoArgs is both the OpGetInfo job payload and (with Result filled
// in by the handler before returning) the completion callback's extra
// value. Submit is given the same pointer for both args and extra, so the
// handler's write to Result is visible to the callback without a second
// lookup keyed by chunk id.
type chunkInfoArgs struct {
	ChunkID uint64
	Version uint32
	Kind    store.InfoKind
	Result  []byte
}

// ChunkOpHandler builds the job.Handler registered for job.OpChunkOp,
// passing the decoded arguments straight through to store.ChunkOp without
// branching on which of Create/Delete/SetVersion/Duplicate/Truncate/
// DupTrunc/ChunkOp produced them (spec §9 Open Question #3).
func ChunkOpHandler(st store.Store) job.Handler {
	return func(j *job.Job) job.Status {
		args, ok := j.Args.(masterproto.ChunkOpArgs)
		if !ok {
			return job.StatusEINVAL
		}
		err := st.ChunkOp(args.ChunkID, args.Version, args.NewVersion, args.CopyChunkID, args.CopyVersion, args.Length)
		if err != nil {
			return store.StatusFor(err)
		}
		return job.StatusOK
	}
}

// ReplicateHandler builds the job.Handler registered for
// OpReplicateSimple/Split/Recovery/Join, delegating to the store's
// Replicator seam.
func ReplicateHandler(rep store.Replicator, kind store.ReplicateKind) job.Handler {
	return func(j *job.Job) job.Status {
		args, ok := j.Args.(store.ReplicateArgs)
		if !ok {
			return job.StatusEINVAL
		}
		if err := rep.Replicate(kind, args); err != nil {
			return store.StatusFor(err)
		}
		return job.StatusOK
	}
}

// ChunkMoveHandler builds the job.Handler registered for job.OpChunkMove.
func ChunkMoveHandler(st store.Store) job.Handler {
	return func(j *job.Job) job.Status {
		args, ok := j.Args.(masterproto.ChunkMoveArgs)
		if !ok {
			return job.StatusEINVAL
		}
		if err := st.Move(args.ChunkID, args.SrcFolder, args.DstFolder); err != nil {
			return store.StatusFor(err)
		}
		return job.StatusOK
	}
}

// InfoHandler builds the job.Handler registered for job.OpGetInfo,
// mapping each idle-query kind to a fixed-size metadata buffer per
// store.InfoKind's documented shape.
func InfoHandler(st store.Store) job.Handler {
	return func(j *job.Job) job.Status {
		args, ok := j.Args.(*chunkInfoArgs)
		if !ok {
			return job.StatusEINVAL
		}
		out := make([]byte, infoSize(args.Kind))
		if err := st.GetChunkInfo(args.ChunkID, args.Version, args.Kind, out); err != nil {
			return store.StatusFor(err)
		}
		args.Result = out
		return job.StatusOK
	}
}

func infoSize(kind store.InfoKind) int {
	switch kind {
	case store.InfoFull:
		return 32
	case store.InfoMFS:
		return 4096
	default:
		return 16
	}
}

// currentEpoch snapshots connCounter so a completion callback firing after
// a reconnect can tell its response packet belongs to a dead connection.
func (c *Conn) currentEpoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connCounter
}

// attachAndSend is the detached/attached packet pattern: the response is
// only written if the connection this job was submitted under is still
// the live one (spec §9 — a weak-reference substitute for "don't write
// into a dead connection").
func (c *Conn) attachAndSend(epoch uint64, typ uint32, payload []byte) {
	c.mu.Lock()
	conn := c.conn
	live := c.connCounter == epoch
	c.mu.Unlock()
	if !live || conn == nil {
		return
	}
	c.send(conn, typ, payload)
}

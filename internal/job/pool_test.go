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

package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func blockingHandler(release <-chan struct{}) Handler {
	return func(j *Job) Status {
		<-release
		return StatusOK
	}
}

// newJob inserts a job directly into p's table, bypassing Submit's
// queue/worker wiring, so tests can drive dispatch deterministically.
func newJob(p *Pool, op OpKind, cb Callback) *Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.allocID()
	j := &Job{ID: id, Op: op, pool: p, st: stateEnabled, callback: cb}
	p.jobs[id] = j
	return j
}

func TestOverloadSheddingLimitedQueue(t *testing.T) {
	a := assert.New(t)

	release := make(chan struct{})
	handlers := map[OpKind]Handler{OpChunkOp: blockingHandler(release)}
	e := NewEngine(Config{WorkersMax: 2, WorkersHimark: 2, WorkersLomark: 1, WorkersMaxIdle: 40}, handlers)
	defer e.Shutdown()
	defer close(release)

	id1 := e.High.Submit(OpChunkOp, 1, nil, nil, nil, StatusNotDone, LimitedQueue)
	id2 := e.High.Submit(OpChunkOp, 2, nil, nil, nil, StatusNotDone, LimitedQueue)
	a.NotZero(id1)
	a.NotZero(id2)
	a.Equal(2, e.High.Busy())

	// a third job exceeds workers_max with both others still running: it
	// must be shed immediately rather than queued (spec §8 scenario 1).
	id3 := e.High.Submit(OpChunkOp, 3, nil, nil, nil, StatusNotDone, LimitedQueue)
	a.NotZero(id3)

	r := <-e.Results()
	a.Equal(StatusNotDone, r.Status)
	a.Equal(uint64(3), r.Job.ChunkID)
}

func TestLimitedReturnFailsAdmissionSynchronously(t *testing.T) {
	a := assert.New(t)

	release := make(chan struct{})
	handlers := map[OpKind]Handler{OpChunkOp: blockingHandler(release)}
	e := NewEngine(Config{WorkersMax: 1, WorkersHimark: 1, WorkersLomark: 0, WorkersMaxIdle: 40}, handlers)
	defer e.Shutdown()
	defer close(release)

	id1 := e.High.Submit(OpChunkOp, 1, nil, nil, nil, StatusNotDone, LimitedQueue)
	a.NotZero(id1)
	a.Equal(1, e.High.Busy())

	id2 := e.High.Submit(OpChunkOp, 2, nil, nil, nil, StatusNotDone, LimitedReturn)
	a.Zero(id2)
}

func TestCancellationSuppressesCallback(t *testing.T) {
	a := assert.New(t)

	e := NewEngine(Config{WorkersMax: 1, WorkersHimark: 1, WorkersLomark: 0, WorkersMaxIdle: 40}, nil)
	defer e.Shutdown()

	called := false
	j := newJob(e.High, OpServWrite, func(extra interface{}, status Status) { called = true })

	e.High.ChangeCallback(j.ID, nil, nil)
	e.High.Disable(j.ID)

	status := e.High.dispatch(j)
	a.Equal(StatusNotDone, status)

	e.Deliver(Result{Job: j, Status: status})
	a.False(called)
}

func TestDisabledJobNeverRunsHandler(t *testing.T) {
	a := assert.New(t)

	ran := false
	handlers := map[OpKind]Handler{
		OpChunkOp: func(j *Job) Status { ran = true; return StatusOK },
	}
	e := NewEngine(Config{WorkersMax: 1, WorkersHimark: 1, WorkersLomark: 0, WorkersMaxIdle: 40}, handlers)
	defer e.Shutdown()

	j := newJob(e.High, OpChunkOp, nil)
	e.High.Disable(j.ID)

	status := e.High.dispatch(j)
	a.Equal(StatusNotDone, status)
	a.False(ran)
}

func TestJobIDNeverZeroAndWraps(t *testing.T) {
	a := assert.New(t)

	p := newPool(High, 1, 1, 0, 40, map[OpKind]Handler{}, make(chan Result, 8))
	p.nextID = ^uint32(0) // force the next allocation to wrap

	p.mu.Lock()
	id := p.allocID()
	p.mu.Unlock()

	a.Equal(uint32(1), id)
}

func TestStallScanReportsOnceAndOnlyOnce(t *testing.T) {
	a := assert.New(t)

	release := make(chan struct{})
	handlers := map[OpKind]Handler{OpChunkOp: blockingHandler(release)}
	e := NewEngine(Config{WorkersMax: 1, WorkersHimark: 1, WorkersLomark: 0, WorkersMaxIdle: 40}, handlers)
	defer e.Shutdown()
	defer close(release)

	id := e.High.Submit(OpChunkOp, 1, nil, nil, nil, StatusOK, AlwaysDo)
	a.NotZero(id)

	a.Eventually(func() bool {
		e.High.mu.Lock()
		j, ok := e.High.jobs[id]
		e.High.mu.Unlock()
		if !ok {
			return false
		}
		j.mu.Lock()
		defer j.mu.Unlock()
		return j.st == stateInProgress
	}, time.Second, time.Millisecond)

	first := e.High.StalledSince(time.Now().Add(2*time.Second), time.Second)
	a.Equal([]uint32{id}, first)

	second := e.High.StalledSince(time.Now().Add(3*time.Second), time.Second)
	a.Empty(second)
}

func TestStatsRecordAcrossMinuteRotation(t *testing.T) {
	a := assert.New(t)

	handlers := map[OpKind]Handler{OpGetInfo: func(j *Job) Status { return StatusOK }}
	e := NewEngine(Config{WorkersMax: 4, WorkersHimark: 3, WorkersLomark: 2, WorkersMaxIdle: 40}, handlers)
	defer e.Shutdown()

	id := e.High.Submit(OpGetInfo, 1, nil, nil, nil, StatusOK, AlwaysDo)
	a.NotZero(id)
	r := <-e.Results()
	a.Equal(StatusOK, r.Status)

	snap := e.High.Stats()
	a.Len(snap, 1)
	a.Equal(uint64(1), snap[0].Count)

	e.High.RotateMinute()
	snap = e.High.Stats()
	a.Equal(uint64(0), snap[0].Count)
	a.Equal(uint64(1), snap[0].PrevCount)
}

func TestClassifyTracksBothPools(t *testing.T) {
	a := assert.New(t)

	release := make(chan struct{})
	handlers := map[OpKind]Handler{OpChunkOp: blockingHandler(release)}
	e := NewEngine(Config{WorkersMax: 2, WorkersHimark: 2, WorkersLomark: 1, WorkersMaxIdle: 40}, handlers)
	defer e.Shutdown()
	defer close(release)

	a.Equal(LoadOk, e.Classify())

	e.High.Submit(OpChunkOp, 1, nil, nil, nil, StatusOK, AlwaysDo)
	e.High.Submit(OpChunkOp, 2, nil, nil, nil, StatusOK, AlwaysDo)
	e.High.Submit(OpChunkOp, 3, nil, nil, nil, StatusOK, AlwaysDo)

	a.Equal(LoadOverloaded, e.Classify())
}

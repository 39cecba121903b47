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

// Package job implements the background-job engine: two priority pools of
// autoscaling worker goroutines executing heavyweight chunk operations,
// with per-task statistics, cancellable job handles, stall detection and a
// channel-based completion path the main event loop selects alongside its
// other readiness sources.
//
// This generalizes the teacher's job-management stack (jobsAdmin.JobsAdmin,
// the per-transfer goroutine pool in ste) from "one job per file transfer,
// fire-and-forget" to "many short-lived jobs per pool, addressable by id,
// cancellable independently of completion" — the chunkserver core submits
// and cancels individual chunk operations far more often than a transfer
// engine replaces a whole job.
package job

import (
	"sync"
	"time"
)

// Priority selects which of the two pools a job runs on. High carries
// client read/write traffic; Low carries replication and maintenance work.
type Priority int

const (
	High Priority = iota
	Low
)

func (p Priority) String() string {
	if p == High {
		return "high"
	}
	return "low"
}

// OpKind selects the handler dispatched for a job (spec's handler dispatch
// table).
type OpKind int

const (
	OpChunkOp OpKind = iota
	OpServRead
	OpServWrite
	OpReplicateSimple
	OpReplicateSplit
	OpReplicateRecovery
	OpReplicateJoin
	OpGetInfo
	OpChunkMove
	OpInval
)

func (o OpKind) String() string {
	switch o {
	case OpChunkOp:
		return "ChunkOp"
	case OpServRead:
		return "ServRead"
	case OpServWrite:
		return "ServWrite"
	case OpReplicateSimple:
		return "ReplicateSimple"
	case OpReplicateSplit:
		return "ReplicateSplit"
	case OpReplicateRecovery:
		return "ReplicateRecovery"
	case OpReplicateJoin:
		return "ReplicateJoin"
	case OpGetInfo:
		return "GetInfo"
	case OpChunkMove:
		return "ChunkMove"
	default:
		return "Inval"
	}
}

// Mode controls admission behavior when a pool is at capacity.
type Mode int

const (
	// AlwaysDo admits regardless of load.
	AlwaysDo Mode = iota
	// LimitedReturn fails admission synchronously, returning job id 0.
	LimitedReturn
	// LimitedQueue admits the job record but completes it immediately with
	// ErrStatus instead of running the handler.
	LimitedQueue
)

type state int32

const (
	stateEnabled state = iota
	stateDisabled
	stateInProgress
	stateFinished
)

// Callback receives a job's completion status. extra is whatever opaque
// value the submitter passed to Submit, carried through untouched — the Go
// analogue of the teacher's void* callback argument.
type Callback func(extra interface{}, status Status)

// Handler executes one op to completion on the calling goroutine (the
// worker). It must not retain j beyond return.
type Handler func(j *Job) Status

// Job is one submitted unit of work. Fields set at Submit time are safe to
// read without the pool lock from the goroutine that owns the Job (the
// worker executing it); state, startTime and the callback/extra pair are
// guarded by the Job's own mu, since Disable/ChangeCallback calls race
// with the worker.
type Job struct {
	ID      uint32
	Op      OpKind
	ChunkID uint64
	Args    interface{}
	Mode    Mode

	ErrStatus Status

	pool *Pool

	mu        sync.Mutex
	st        state
	startTime time.Time
	stalled   bool
	callback  Callback
	extra     interface{}
}

// Result is delivered on the engine's results channel once a job finishes
// (or is shed at admission under LimitedQueue); the receiver looks up the
// job's current callback under lock rather than trusting a stale copy.
type Result struct {
	Job    *Job
	Status Status
}

func (j *Job) snapshotCallback() (Callback, interface{}) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.callback, j.extra
}

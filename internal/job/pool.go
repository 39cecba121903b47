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
	"sync"
	"time"
)

// Pool is one priority's bounded, autoscaling set of worker goroutines.
// workersTotal/workersAvail are both always read and written under mu
// (spec §5: "one mutex protects workers_*") rather than atomics, since
// Submit's admission check and worker's idle-shrink decision both need to
// read one field and conditionally write another as a single step.
type Pool struct {
	workersTotal int32
	workersAvail int32

	name Priority

	max, himark, lomark, maxIdle int

	mu       sync.Mutex
	jobs     map[uint32]*Job
	nextID   uint32
	stats    map[OpKind]*taskStats
	handlers map[OpKind]Handler
	wg       sync.WaitGroup
	closed   bool

	queue   chan *Job
	results chan<- Result
}

// queueCapacity decouples the channel buffer from workers_max: admission is
// already gated by the busy check in Submit, so the channel only needs
// enough room that a reserved-but-not-yet-scheduled job never blocks its
// submitter.
const queueCapacity = 4096

func newPool(name Priority, max, himark, lomark, maxIdle int, handlers map[OpKind]Handler, results chan<- Result) *Pool {
	p := &Pool{
		name:     name,
		max:      max,
		himark:   himark,
		lomark:   lomark,
		maxIdle:  maxIdle,
		jobs:     make(map[uint32]*Job),
		stats:    make(map[OpKind]*taskStats),
		handlers: handlers,
		queue:    make(chan *Job, queueCapacity),
		results:  results,
	}
	return p
}

func (p *Pool) statsFor(op OpKind) *taskStats {
	s, ok := p.stats[op]
	if !ok {
		s = &taskStats{}
		p.stats[op] = s
	}
	return s
}

// allocID returns a nonzero job id not currently in use, wrapping from
// UINT32_MAX back to 1 (spec §8's "jobid != 0" invariant). Must be called
// with mu held.
func (p *Pool) allocID() uint32 {
	for {
		p.nextID++
		if p.nextID == 0 {
			p.nextID = 1
		}
		if _, exists := p.jobs[p.nextID]; !exists {
			return p.nextID
		}
	}
}

// Submit allocates a job id, inserts the job into the pool's table, checks
// admission against workers_max, and either reserves a worker and enqueues
// the job, or resolves it immediately per Mode (spec §4.1).
//
// Reservation happens here rather than when a worker dequeues the job: a Go
// channel has no notion of an "idle thread already blocked on the queue" to
// wake, so the capacity decision — and, if needed, spawning the goroutine
// that will service it — is made atomically with admission, under the same
// lock. workers_avail/workers_total therefore always reflect reserved
// capacity, not merely goroutines currently inside a handler.
func (p *Pool) Submit(op OpKind, chunkID uint64, args interface{}, cb Callback, extra interface{}, errStatus Status, mode Mode) uint32 {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0
	}

	id := p.allocID()
	j := &Job{
		ID: id, Op: op, ChunkID: chunkID, Args: args, Mode: mode,
		ErrStatus: errStatus, pool: p, st: stateEnabled,
		callback: cb, extra: extra,
	}
	p.jobs[id] = j

	busy := p.workersTotal - p.workersAvail
	if mode != AlwaysDo && int(busy) >= p.max {
		switch mode {
		case LimitedReturn:
			delete(p.jobs, id)
			p.mu.Unlock()
			return 0
		case LimitedQueue:
			j.st = stateFinished
			delete(p.jobs, id)
			p.mu.Unlock()
			p.deliver(Result{Job: j, Status: errStatus})
			return id
		}
	}

	if p.workersAvail == 0 && (mode == AlwaysDo || p.workersTotal < int32(p.max)) {
		p.workersTotal++
		p.workersAvail++
		p.wg.Add(1)
		go p.worker()
	}
	p.workersAvail--
	p.mu.Unlock()

	p.queue <- j
	return id
}

// Disable flips Enabled->Disabled. A job already InProgress runs to
// completion unaffected; for a job that hasn't started yet, the worker
// loop synthesizes the disabled status instead of running its handler.
func (p *Pool) Disable(id uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if j, ok := p.jobs[id]; ok {
		j.mu.Lock()
		if j.st == stateEnabled {
			j.st = stateDisabled
		}
		j.mu.Unlock()
	}
}

// ChangeCallback rewrites the callback and extra value under the job's own
// lock, used when the originating connection closes and a job outlives it.
func (p *Pool) ChangeCallback(id uint32, cb Callback, extra interface{}) {
	p.mu.Lock()
	j, ok := p.jobs[id]
	p.mu.Unlock()
	if !ok {
		return
	}
	j.mu.Lock()
	j.callback = cb
	j.extra = extra
	j.mu.Unlock()
}

// Busy returns workers_total - workers_avail for overload classification.
func (p *Pool) Busy() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.workersTotal - p.workersAvail)
}

// Stats returns a point-in-time snapshot of every OpKind with recorded
// activity.
func (p *Pool) Stats() []Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Snapshot, 0, len(p.stats))
	for op, s := range p.stats {
		out = append(out, Snapshot{
			Op: op, Count: s.count, PrevCount: s.prevCount,
			Total: s.total, PrevTotal: s.prevTotal,
			Max: s.max, PrevMax: s.prevMax, GlobalMax: s.globalMax,
		})
	}
	return out
}

// RotateMinute slides every task's current-minute counters into "previous"
// and resets current, called once a minute by the engine ticker.
func (p *Pool) RotateMinute() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.stats {
		s.rotate()
	}
}

// StalledSince returns the ids of InProgress jobs whose start_time is older
// than threshold, marking each stalled so it is only reported once (spec's
// "logged once" stall-scanner behavior).
func (p *Pool) StalledSince(now time.Time, threshold time.Duration) []uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []uint32
	for id, j := range p.jobs {
		j.mu.Lock()
		if j.st == stateInProgress && !j.stalled && now.Sub(j.startTime) > threshold {
			j.stalled = true
			ids = append(ids, id)
		}
		j.mu.Unlock()
	}
	return ids
}

func (p *Pool) deliver(r Result) {
	select {
	case p.results <- r:
	default:
		go func() { p.results <- r }()
	}
}

// dispatch runs j to completion: the disabled branch if it was cancelled
// before a worker reached it, otherwise its handler, recording per-task
// statistics either way. Exposed at package level (not inlined in worker)
// so it can be driven synchronously and deterministically in tests.
func (p *Pool) dispatch(j *Job) Status {
	j.mu.Lock()
	disabled := j.st == stateDisabled
	if !disabled {
		j.st = stateInProgress
		j.startTime = time.Now()
	}
	j.mu.Unlock()

	var status Status
	var elapsed time.Duration
	if disabled {
		status = disabledStatus(j.Op)
	} else {
		start := time.Now()
		h := p.handlers[j.Op]
		if h == nil {
			status = StatusEINVAL
		} else {
			status = h(j)
		}
		elapsed = time.Since(start)
	}

	p.mu.Lock()
	p.statsFor(j.Op).record(elapsed)
	delete(p.jobs, j.ID)
	p.mu.Unlock()

	j.mu.Lock()
	j.st = stateFinished
	j.startTime = time.Time{}
	j.mu.Unlock()

	return status
}

// worker pops jobs off the queue until it is closed, shrinking the pool
// once it has been idle past workers_max_idle (spec §4.1's worker loop).
func (p *Pool) worker() {
	defer p.wg.Done()
	for j := range p.queue {
		status := p.dispatch(j)
		p.deliver(Result{Job: j, Status: status})

		p.mu.Lock()
		p.workersAvail++
		shrink := int(p.workersAvail) > p.maxIdle
		if shrink {
			p.workersTotal--
		}
		p.mu.Unlock()
		if shrink {
			return
		}
	}
}

// disabledStatus is the "disabled" branch each op synthesizes instead of
// running its handler (spec §4.1/§7): a status observably distinct from OK.
func disabledStatus(op OpKind) Status {
	if op == OpInval {
		return StatusEINVAL
	}
	return StatusNotDone
}

// Shutdown closes the work queue and waits for every worker to exit. Jobs
// still in the queue are not dropped: the workers drain them, dispatching
// each one and delivering its Result, before they return.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	close(p.queue)
	p.wg.Wait()
}

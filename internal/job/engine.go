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
	"context"
	"time"

	"github.com/mooseish/chunkserver/internal/clog"
)

// StallThreshold and StallScanInterval match spec §4.1's stall detector.
const (
	StallThreshold    = 600 * time.Second
	StallScanInterval = 10 * time.Second
)

// LoadState is the two-pool overload classification folded into the
// periodic CurrentLoad report sent to the master.
type LoadState int

const (
	LoadOk LoadState = iota
	LoadOverloaded
)

// Config bounds both pools; High and Low pools share the same ceilings
// today but are kept as separate Pool instances so they never starve each
// other of worker goroutines.
type Config struct {
	WorkersMax     int
	WorkersHimark  int
	WorkersLomark  int
	WorkersMaxIdle int
}

// Engine owns the two priority pools plus the shared results channel the
// main event loop selects on — the channel is the Go substitute for the
// status-queue + wake-pipe pair (spec §9's DESIGN NOTES).
type Engine struct {
	High *Pool
	Low  *Pool

	results chan Result
	load    LoadState

	cancel context.CancelFunc
}

// NewEngine wires handlers into both pools. handlers is shared: both High
// and Low dispatch the same op->handler table, since what differs between
// the pools is admission pressure, not which ops they can run.
func NewEngine(cfg Config, handlers map[OpKind]Handler) *Engine {
	results := make(chan Result, 4096)
	e := &Engine{
		High:    newPool(High, cfg.WorkersMax, cfg.WorkersHimark, cfg.WorkersLomark, cfg.WorkersMaxIdle, handlers, results),
		Low:     newPool(Low, cfg.WorkersMax, cfg.WorkersHimark, cfg.WorkersLomark, cfg.WorkersMaxIdle, handlers, results),
		results: results,
		load:    LoadOk,
	}
	return e
}

// Results is the channel the main event loop selects on alongside its
// sockets and tickers.
func (e *Engine) Results() <-chan Result { return e.results }

// Deliver looks up the job's current callback under its own lock (so a
// ChangeCallback racing with completion always wins or loses cleanly) and
// invokes it; a nil callback (never registered, or explicitly cleared)
// means the completion is silently discarded.
func (e *Engine) Deliver(r Result) {
	cb, extra := r.Job.snapshotCallback()
	if cb != nil {
		cb(extra, r.Status)
	}
}

// Classify recomputes the two-pool load state (spec §4.1's autoscaling
// load class): overloaded if either pool is over its high watermark, back
// to Ok only once both are under their low watermark, otherwise unchanged.
func (e *Engine) Classify() LoadState {
	hiBusy, loBusy := e.High.Busy(), e.Low.Busy()
	switch {
	case hiBusy > e.High.himark || loBusy > e.Low.himark:
		e.load = LoadOverloaded
	case hiBusy < e.High.lomark && loBusy < e.Low.lomark:
		e.load = LoadOk
	}
	return e.load
}

// StallScan reports job ids across both pools whose handlers have been
// running longer than StallThreshold, logging each exactly once.
func (e *Engine) StallScan(now time.Time) {
	for _, id := range e.High.StalledSince(now, StallThreshold) {
		clog.Logf(clog.LogWarning, "job %d (pool=high) stalled: running > %s", id, StallThreshold)
	}
	for _, id := range e.Low.StalledSince(now, StallThreshold) {
		clog.Logf(clog.LogWarning, "job %d (pool=low) stalled: running > %s", id, StallThreshold)
	}
}

// RotateMinute rolls current-minute counters into previous on both pools.
func (e *Engine) RotateMinute() {
	e.High.RotateMinute()
	e.Low.RotateMinute()
}

// Run starts the background stall-scan and minute-rotation tickers, independent
// of the caller's own select loop (which only needs to drain Results()).
func (e *Engine) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	go func() {
		stall := time.NewTicker(StallScanInterval)
		minute := time.NewTicker(time.Minute)
		defer stall.Stop()
		defer minute.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-stall.C:
				e.StallScan(t)
			case <-minute.C:
				e.RotateMinute()
			}
		}
	}()
}

// Shutdown stops the background tickers and both pools' worker goroutines.
func (e *Engine) Shutdown() {
	if e.cancel != nil {
		e.cancel()
	}
	e.High.Shutdown()
	e.Low.Shutdown()
}

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

package store

import (
	"errors"

	"github.com/mooseish/chunkserver/internal/job"
)

// StatusFor maps a store error to the one-byte wire status the read/write
// pipelines propagate to their client (spec §7: "per-chunk disk errors
// propagated verbatim from the store" — verbatim in spirit, translated to
// the fixed status vocabulary every other error already uses).
func StatusFor(err error) job.Status {
	switch {
	case err == nil:
		return job.StatusOK
	case errors.Is(err, ErrWrongVersion):
		return job.StatusWrongVersion
	case errors.Is(err, ErrNoSuchChunk):
		return job.StatusWrongChunkID
	case errors.Is(err, ErrNotDone):
		return job.StatusNotDone
	default:
		return job.StatusIOError
	}
}

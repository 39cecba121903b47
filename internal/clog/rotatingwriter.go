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

package clog

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

const defaultFilePerm = 0o644

// RotatingWriter is an io.Writer that renames the current file aside once it
// crosses maxSize, so a long-running chunkserver doesn't grow one unbounded
// log file.
type RotatingWriter struct {
	filePath      string
	file          *os.File
	l             sync.RWMutex
	currentSuffix int32
	currentSize   uint64
	maxSize       uint64
}

func NewRotatingWriter(filePath string, maxSize int64) (*RotatingWriter, error) {
	file, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, defaultFilePerm)
	if err != nil {
		return nil, err
	}
	return &RotatingWriter{file: file, filePath: filePath, maxSize: uint64(maxSize)}, nil
}

// rotate must be called with l held for read; it upgrades to a write lock
// internally and hands control back with the read lock held again.
func (w *RotatingWriter) rotate(suffix int32) error {
	w.l.RUnlock()
	defer w.l.RLock()

	w.l.Lock()
	defer w.l.Unlock()

	if atomic.LoadInt32(&w.currentSuffix) > suffix {
		return nil // already rotated by another writer
	}
	if err := w.file.Close(); err != nil {
		return err
	}
	rotated := strings.TrimSuffix(w.filePath, ".log") + fmt.Sprintf(".%d.log", w.currentSuffix)
	if err := os.Rename(w.filePath, rotated); err != nil {
		return err
	}
	atomic.AddInt32(&w.currentSuffix, 1)
	atomic.StoreUint64(&w.currentSize, 0)

	file, err := os.OpenFile(w.filePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, defaultFilePerm)
	if err != nil {
		return err
	}
	w.file = file
	return nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.l.RLock()
	defer w.l.RUnlock()

	currSuffix := atomic.LoadInt32(&w.currentSuffix)
	if atomic.AddUint64(&w.currentSize, uint64(len(p))) <= w.maxSize {
		return w.file.Write(p)
	}
	atomic.AddUint64(&w.currentSize, ^uint64(len(p))+1)
	if err := w.rotate(currSuffix); err != nil {
		return 0, err
	}
	atomic.AddUint64(&w.currentSize, uint64(len(p)))
	return w.file.Write(p)
}

func (w *RotatingWriter) Close() error {
	w.l.Lock()
	defer w.l.Unlock()
	return w.file.Close()
}

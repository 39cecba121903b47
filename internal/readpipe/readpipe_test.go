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

package readpipe

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mooseish/chunkserver/internal/clientproto"
	"github.com/mooseish/chunkserver/internal/job"
	"github.com/mooseish/chunkserver/internal/keepalive"
	"github.com/mooseish/chunkserver/internal/store"
	"github.com/mooseish/chunkserver/internal/wire"
)

type fakeStore struct {
	data    []byte
	openErr error
	readErr error
}

func (f *fakeStore) Open(chunkID uint64, version uint32) error { return f.openErr }
func (f *fakeStore) Read(chunkID uint64, version uint32, blockNum uint16, offset uint32, buf []byte) (uint32, error) {
	if f.readErr != nil {
		return 0, f.readErr
	}
	start := uint32(blockNum)*store.BlockSize + offset
	copy(buf, f.data[start:])
	return 0xC0FFEE, nil
}
func (f *fakeStore) Write(chunkID uint64, version uint32, blockNum uint16, buf []byte, offset uint32, size uint32, crc uint32) error {
	return nil
}
func (f *fakeStore) Close(chunkID uint64) error { return nil }
func (f *fakeStore) ChunkOp(chunkID uint64, version, newVersion uint32, copyChunkID uint64, copyVersion uint32, length uint32) error {
	return nil
}
func (f *fakeStore) Move(chunkID uint64, srcFolder, dstFolder string) error { return nil }
func (f *fakeStore) GetChunkInfo(chunkID uint64, version uint32, kind store.InfoKind, out []byte) error {
	return nil
}
func (f *fakeStore) Precache(chunkID uint64, offset, size uint32) error { return nil }
func (f *fakeStore) ChunkStatus(chunkID uint64) (uint8, error)         { return 0, nil }
func (f *fakeStore) MetaID() uint64                                    { return 0 }
func (f *fakeStore) BeginChunkEnumeration() store.ChunkCursor           { return nil }
func (f *fakeStore) DamagedChunks() []uint64                           { return nil }
func (f *fakeStore) LostChunks() []uint64                              { return nil }
func (f *fakeStore) SpaceUsage() (used, total uint64, chunks uint32, tdUsed, tdTotal uint64, tdChunks uint32) {
	return 0, 0, 0, 0, 0, 0
}

func readFrame(t *testing.T, conn net.Conn) wire.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	f, err := wire.ReadFrame(conn)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	return f
}

func TestZeroSizeReadSendsOKImmediately(t *testing.T) {
	a := assert.New(t)
	client, server := net.Pipe()
	defer client.Close()

	st := &fakeStore{}
	sender := keepalive.New(time.Hour)
	sender.Run()
	defer sender.Stop()

	done := make(chan job.Status, 1)
	go func() {
		done <- run(st, sender, nil, false, server, clientproto.ReadRequest{ChunkID: 1, Size: 0})
	}()

	f := readFrame(t, client)
	a.Equal(clientproto.TypeReadStatus, f.Type)
	a.Equal(job.StatusOK, <-done)
}

func TestOversizeReadIsRejected(t *testing.T) {
	a := assert.New(t)
	client, server := net.Pipe()
	defer client.Close()

	st := &fakeStore{}
	sender := keepalive.New(time.Hour)
	sender.Run()
	defer sender.Stop()

	done := make(chan job.Status, 1)
	go func() {
		done <- run(st, sender, nil, false, server, clientproto.ReadRequest{ChunkID: 1, Size: store.ChunkMaxSize + 1})
	}()

	readFrame(t, client)
	a.Equal(job.StatusWrongSize, <-done)
}

func TestSingleBlockReadSendsDataThenStatus(t *testing.T) {
	a := assert.New(t)
	client, server := net.Pipe()
	defer client.Close()

	payload := []byte("hello, chunk")
	data := make([]byte, store.BlockSize)
	copy(data, payload)
	st := &fakeStore{data: data}
	sender := keepalive.New(time.Hour)
	sender.Run()
	defer sender.Stop()

	req := clientproto.ReadRequest{ChunkID: 5, Version: 1, Offset: 0, Size: uint32(len(payload))}
	done := make(chan job.Status, 1)
	go func() {
		done <- run(st, sender, nil, false, server, req)
	}()

	dataFrame := readFrame(t, client)
	a.Equal(clientproto.TypeReadData, dataFrame.Type)

	// the client sends nothing back; the pipeline's brief post-block NOP
	// poll must time out rather than treat silence as an abort.
	statusFrame := readFrame(t, client)
	a.Equal(clientproto.TypeReadStatus, statusFrame.Type)
	a.Equal(job.StatusOK, <-done)
}

func TestSingleBlockReadWithMmapBuffer(t *testing.T) {
	a := assert.New(t)
	client, server := net.Pipe()
	defer client.Close()

	payload := []byte("hello, mmap")
	data := make([]byte, store.BlockSize)
	copy(data, payload)
	st := &fakeStore{data: data}
	sender := keepalive.New(time.Hour)
	sender.Run()
	defer sender.Stop()

	req := clientproto.ReadRequest{ChunkID: 5, Version: 1, Offset: 0, Size: uint32(len(payload))}
	done := make(chan job.Status, 1)
	go func() {
		done <- run(st, sender, nil, true, server, req)
	}()

	dataFrame := readFrame(t, client)
	a.Equal(clientproto.TypeReadData, dataFrame.Type)

	statusFrame := readFrame(t, client)
	a.Equal(clientproto.TypeReadStatus, statusFrame.Type)
	a.Equal(job.StatusOK, <-done)
}

func TestOpenFailurePropagatesStatus(t *testing.T) {
	a := assert.New(t)
	client, server := net.Pipe()
	defer client.Close()

	st := &fakeStore{openErr: store.ErrWrongVersion}
	sender := keepalive.New(time.Hour)
	sender.Run()
	defer sender.Stop()

	req := clientproto.ReadRequest{ChunkID: 1, Size: 10}
	done := make(chan job.Status, 1)
	go func() {
		done <- run(st, sender, nil, false, server, req)
	}()

	f := readFrame(t, client)
	a.Equal(clientproto.TypeReadStatus, f.Type)
	a.Equal(job.StatusWrongVersion, <-done)
}

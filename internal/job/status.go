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

// Status is the one-byte completion code carried on every job result and
// every client/master protocol acknowledgement.
type Status uint8

const (
	StatusOK             Status = 0
	StatusEINVAL         Status = 1
	StatusWrongSize      Status = 2
	StatusWrongOffset    Status = 3
	StatusWrongChunkID   Status = 4
	StatusNotDone        Status = 5
	StatusCantConnect    Status = 6
	StatusDisconnected   Status = 7
	StatusWrongVersion   Status = 8
	StatusIOError        Status = 9
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusEINVAL:
		return "EINVAL"
	case StatusWrongSize:
		return "WrongSize"
	case StatusWrongOffset:
		return "WrongOffset"
	case StatusWrongChunkID:
		return "WrongChunkId"
	case StatusNotDone:
		return "NotDone"
	case StatusCantConnect:
		return "CantConnect"
	case StatusDisconnected:
		return "Disconnected"
	case StatusWrongVersion:
		return "WrongVersion"
	case StatusIOError:
		return "IOError"
	default:
		return "Unknown"
	}
}

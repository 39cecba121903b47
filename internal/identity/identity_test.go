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

package identity

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadMissingFileReturnsZeroValue(t *testing.T) {
	a := assert.New(t)
	id, err := Load(t.TempDir())
	a.NoError(err)
	a.Equal(Identity{}, id)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	a := assert.New(t)
	dir := t.TempDir()

	want := Identity{CSID: 7, MetaID: 0xdeadbeef}
	a.NoError(Save(dir, want))

	got, err := Load(dir)
	a.NoError(err)
	a.Equal(want, got)
}

func TestLoadCorruptFileErrors(t *testing.T) {
	a := assert.New(t)
	dir := t.TempDir()
	a.NoError(Save(dir, Identity{CSID: 1, MetaID: 2}))

	// truncate to fewer bytes than a valid record.
	a.NoError(os.WriteFile(Path(dir), []byte{0, 1}, 0o644))

	_, err := Load(dir)
	a.Error(err)
}

func TestValidateFirstContactAcceptsAnyMetaID(t *testing.T) {
	a := assert.New(t)
	a.NoError(Validate(0, 0, 0xABCDEF))
}

func TestValidateMismatchAgainstPersistedIsFatal(t *testing.T) {
	a := assert.New(t)
	err := Validate(0xAAA, 0xAAA, 0xBBB)
	a.ErrorIs(err, ErrMetaIDMismatch)
}

func TestValidateMismatchAgainstStoreIsFatal(t *testing.T) {
	a := assert.New(t)
	err := Validate(0, 0xAAA, 0xBBB)
	a.ErrorIs(err, ErrMetaIDMismatch)
}

func TestValidateAgreementPasses(t *testing.T) {
	a := assert.New(t)
	a.NoError(Validate(0x123, 0x123, 0x123))
}

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

// Package identity persists the chunkserver's master-assigned id and
// metadata generation across restarts (spec §6/§9: chunkserverid.mfs) and
// validates it against whatever the master reports on reconnect.
package identity

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mooseish/chunkserver/internal/wire"
)

const fileName = "chunkserverid.mfs"

// Identity is the persisted (cs_id, meta_id) pair. The zero value means
// "never successfully registered" and is what Load returns when the file
// does not exist yet.
type Identity struct {
	CSID   uint16
	MetaID uint64
}

// Path returns the identity file's location under dataDir.
func Path(dataDir string) string {
	return filepath.Join(dataDir, fileName)
}

// Load reads the identity file, returning the zero Identity (not an error)
// if it doesn't exist yet — first run has no prior registration to verify
// against.
func Load(dataDir string) (Identity, error) {
	b, err := os.ReadFile(Path(dataDir))
	if os.IsNotExist(err) {
		return Identity{}, nil
	}
	if err != nil {
		return Identity{}, err
	}
	r := wire.NewReader(b)
	id := Identity{CSID: r.U16(), MetaID: r.U64()}
	if err := r.Err(); err != nil {
		return Identity{}, fmt.Errorf("identity: corrupt %s: %w", fileName, err)
	}
	return id, nil
}

// Save persists id to dataDir, creating or overwriting the file.
func Save(dataDir string, id Identity) error {
	buf := wire.NewBuilder().U16(id.CSID).U64(id.MetaID).Build()
	return os.WriteFile(Path(dataDir), buf, 0o644)
}

// ErrMetaIDMismatch is returned by Validate when the master's metaID
// disagrees with persisted or on-disk state; the caller must treat this as
// fatal (spec §9: "exit the process on mismatch").
var ErrMetaIDMismatch = fmt.Errorf("identity: master metaID disagrees with persisted state")

// Validate checks the master-reported metaID against the locally persisted
// one and the store's own hdd_metaid. Both being zero is first-contact: no
// prior registration exists anywhere, so any master-provided value is
// accepted (spec §9 Open Question decision, see DESIGN.md).
func Validate(localMetaID, storeMetaID, masterMetaID uint64) error {
	if localMetaID == 0 && storeMetaID == 0 {
		return nil
	}
	if localMetaID != 0 && localMetaID != masterMetaID {
		return ErrMetaIDMismatch
	}
	if storeMetaID != 0 && storeMetaID != masterMetaID {
		return ErrMetaIDMismatch
	}
	return nil
}

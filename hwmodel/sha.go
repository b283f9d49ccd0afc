// Copyright 2024 The Armored Witness ROM authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hwmodel

import (
	"crypto/sha512"
	"sync"

	"github.com/transparency-dev/armored-witness-rom/fault"
	"github.com/transparency-dev/armored-witness-rom/hw"
)

// SHA384 models the SHA-384 engine for ROM memory.
type SHA384 struct{}

// Digest implements hw.SHA384.
func (SHA384) Digest(data []byte) (hw.Digest, error) {
	return sha512.Sum384(data), nil
}

// SHA384Acc models the SHA-384 accelerator attached to the image SRAM.
type SHA384Acc struct {
	mu sync.Mutex

	// protects the fields below
	state      sync.Mutex
	sram       []byte
	contention int
	ops        int
}

// Load replaces the image SRAM content.
func (a *SHA384Acc) Load(image []byte) {
	a.state.Lock()
	defer a.state.Unlock()

	a.sram = append(a.sram[:0], image...)
}

// Image returns the image SRAM content.
func (a *SHA384Acc) Image() []byte {
	a.state.Lock()
	defer a.state.Unlock()

	return a.sram
}

// Contend makes the next n acquisition attempts report the accelerator as
// busy.
func (a *SHA384Acc) Contend(n int) {
	a.state.Lock()
	defer a.state.Unlock()

	a.contention = n
}

// Operations returns the number of digests computed so far.
func (a *SHA384Acc) Operations() int {
	a.state.Lock()
	defer a.state.Unlock()

	return a.ops
}

// TryStartOperation implements hw.SHA384Acc.
func (a *SHA384Acc) TryStartOperation() (hw.SHA384AccTxn, bool) {
	a.state.Lock()
	if a.contention > 0 {
		a.contention--
		a.state.Unlock()
		return nil, false
	}
	a.state.Unlock()

	if !a.mu.TryLock() {
		return nil, false
	}

	return &shaAccTxn{acc: a}, true
}

type shaAccTxn struct {
	acc   *SHA384Acc
	ended bool
}

func (t *shaAccTxn) Digest(offset, length uint32) (d hw.Digest, err error) {
	if t.ended {
		return d, fault.New(fault.CryptoOperationFailed, "sha384acc", "operation already ended")
	}

	a := t.acc

	a.state.Lock()
	defer a.state.Unlock()

	end := uint64(offset) + uint64(length)
	if end > uint64(len(a.sram)) {
		return d, fault.New(fault.CryptoOperationFailed, "sha384acc", "range [%#x, %#x) exceeds image SRAM (%#x)", offset, end, len(a.sram))
	}

	a.ops++

	return sha512.Sum384(a.sram[offset:end]), nil
}

func (t *shaAccTxn) End() {
	if t.ended {
		return
	}

	t.ended = true
	t.acc.mu.Unlock()
}

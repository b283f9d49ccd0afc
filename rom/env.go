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

package rom

import (
	"github.com/transparency-dev/armored-witness-rom/hw"
	"github.com/transparency-dev/armored-witness-rom/image"
)

// verifyEnv adapts the ROM hardware to the verifier environment.
type verifyEnv struct {
	hw.FuseBank
	hw.DataVault

	ecc  hw.ECC384
	acc  hw.SHA384Acc
	iccm image.Range

	// spins counts failed accelerator acquisitions.
	spins int
}

func (e *verifyEnv) SHA384Digest(offset, length uint32) (hw.Digest, error) {
	for {
		if txn, ok := e.acc.TryStartOperation(); ok {
			defer txn.End()
			return txn.Digest(offset, length)
		}
		e.spins++
	}
}

func (e *verifyEnv) ECC384Verify(pub hw.PubKey, digest hw.Digest, sig hw.Signature) (bool, error) {
	return e.ecc.Verify(pub, digest, sig)
}

func (e *verifyEnv) ICCMRange() image.Range {
	return e.iccm
}

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

// Package verify implements the firmware image verification policy.
package verify

import (
	"github.com/transparency-dev/armored-witness-rom/hw"
	"github.com/transparency-dev/armored-witness-rom/image"
)

// Env is the verification environment supplied by the boot orchestrator. The
// verifier only borrows it for the duration of a single Verify call.
type Env interface {
	// SHA384Digest computes the digest over [offset, offset+length) of the
	// image.
	SHA384Digest(offset, length uint32) (hw.Digest, error)
	// ECC384Verify verifies a signature over a SHA-384 digest.
	ECC384Verify(pub hw.PubKey, digest hw.Digest, sig hw.Signature) (bool, error)

	// VendorPubKeyDigest is the fused digest of the vendor public key block.
	VendorPubKeyDigest() hw.Digest
	// VendorPubKeyRevocation is the fused vendor key revocation bitmask.
	VendorPubKeyRevocation() uint32
	// OwnerPubKeyDigest is the fused digest of the owner public key.
	OwnerPubKeyDigest() hw.Digest
	// AntiRollbackDisable reports whether SVN checks are disabled by fuse.
	AntiRollbackDisable() bool
	// Lifecycle is the device lifecycle state.
	Lifecycle() hw.Lifecycle
	// FMCSVN and RuntimeSVN are the fused minimum SVNs.
	FMCSVN() uint32
	RuntimeSVN() uint32

	// ColdBootRecord returns the trust roots recorded by the last cold boot,
	// ok is false when this is a cold boot.
	ColdBootRecord() (r hw.BootRecord, ok bool, err error)
	// RecordedSVNs returns the SVNs of the last successfully booted image.
	RecordedSVNs() (hw.SVNs, error)

	// ICCMRange is the executable address range.
	ICCMRange() image.Range
}

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

// Package hw defines the hardware capabilities consumed by the boot ROM.
//
// Each capability is a narrow interface owned by the boot orchestrator, the
// DICE engine and the image verifier only borrow them. Accelerators which can
// be busy are exposed through a try-acquire contract: a false result means
// the resource is held elsewhere and the caller must retry.
package hw

import (
	"encoding/hex"
	"fmt"

	"github.com/transparency-dev/armored-witness-rom/keyvault"
)

const (
	// ScalarSize is the size in bytes of an ECC-384 scalar or coordinate.
	ScalarSize = 48
	// DigestSize is the size in bytes of a SHA-384 digest.
	DigestSize = 48
	// UEIDSize is the size in bytes of the Unique Endpoint Identifier.
	UEIDSize = 17
)

// Digest is a SHA-384 digest.
type Digest [DigestSize]byte

// IsZero reports whether d is all zeroes.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// MarshalText encodes d in hex.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(d[:])), nil
}

// UnmarshalText decodes a hex digest.
func (d *Digest) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}

	if len(b) != DigestSize {
		return fmt.Errorf("invalid digest length %d", len(b))
	}

	copy(d[:], b)

	return nil
}

// Scalar is a big-endian ECC-384 scalar.
type Scalar [ScalarSize]byte

// PubKey is an uncompressed ECC-384 public key.
type PubKey struct {
	X Scalar
	Y Scalar
}

// Bytes returns the SEC 1 uncompressed encoding of the key.
func (p PubKey) Bytes() []byte {
	b := make([]byte, 0, 1+2*ScalarSize)
	b = append(b, 0x04)
	b = append(b, p.X[:]...)
	return append(b, p.Y[:]...)
}

// Signature is an ECDSA P-384 signature.
type Signature struct {
	R Scalar
	S Scalar
}

// KeyPair is an ECC-384 key pair whose private half lives in a key slot.
type KeyPair struct {
	Priv keyvault.KeyID
	Pub  PubKey
}

// Lifecycle is the device lifecycle state.
type Lifecycle int

const (
	LifecycleUnprovisioned Lifecycle = iota
	LifecycleManufacturing
	LifecycleProduction
)

func (l Lifecycle) String() string {
	switch l {
	case LifecycleUnprovisioned:
		return "unprovisioned"
	case LifecycleManufacturing:
		return "manufacturing"
	case LifecycleProduction:
		return "production"
	}
	return "invalid"
}

// BootRecord holds the trust roots recorded on cold boot, they must not change
// across warm resets.
type BootRecord struct {
	VendorPubKeyIndex uint32
	OwnerPubKeyDigest Digest
	FMCDigest         Digest
}

// SVNs holds security version numbers per firmware role.
type SVNs struct {
	FMC     uint32
	Runtime uint32
}

// Secret selects a fused obfuscated secret.
type Secret int

const (
	SecretUDS Secret = iota
	SecretFieldEntropy
)

func (s Secret) String() string {
	switch s {
	case SecretUDS:
		return "UDS"
	case SecretFieldEntropy:
		return "FE"
	}
	return "invalid"
}

// Deobfuscator is the deobfuscation engine, which decrypts fused secrets
// straight into key slots.
type Deobfuscator interface {
	// Decrypt decrypts secret with iv into slot dest.
	Decrypt(secret Secret, iv [16]byte, dest keyvault.KeyID) error
	// ClearSecrets wipes the engine's obfuscation key.
	ClearSecrets() error
}

// HMACKey is an HMAC-384 key held either in a key slot or inline.
type HMACKey struct {
	slot   keyvault.KeyID
	inline *[ScalarSize]byte
}

// KeyFromSlot references an HMAC key held in slot id.
func KeyFromSlot(id keyvault.KeyID) HMACKey {
	return HMACKey{slot: id}
}

// KeyInline uses k as an HMAC key.
func KeyInline(k [ScalarSize]byte) HMACKey {
	return HMACKey{inline: &k}
}

// Slot returns the referenced slot, if any.
func (k HMACKey) Slot() (keyvault.KeyID, bool) {
	return k.slot, k.inline == nil
}

// Inline returns the inline key, if any.
func (k HMACKey) Inline() ([ScalarSize]byte, bool) {
	if k.inline == nil {
		return [ScalarSize]byte{}, false
	}
	return *k.inline, true
}

// HMACData is HMAC-384 input held either in a key slot or inline.
type HMACData struct {
	slot   keyvault.KeyID
	inline []byte
	isSlot bool
}

// DataFromSlot references HMAC input held in slot id.
func DataFromSlot(id keyvault.KeyID) HMACData {
	return HMACData{slot: id, isSlot: true}
}

// DataInline uses b as HMAC input.
func DataInline(b []byte) HMACData {
	return HMACData{inline: b}
}

// Slot returns the referenced slot, if any.
func (d HMACData) Slot() (keyvault.KeyID, bool) {
	return d.slot, d.isSlot
}

// Inline returns the inline data.
func (d HMACData) Inline() []byte {
	return d.inline
}

// HMACTag is the destination of an HMAC-384 tag: a key slot with the usage
// the tag will be tagged with, or a caller buffer.
type HMACTag struct {
	slot  keyvault.KeyID
	usage keyvault.Usage
	buf   *Digest
}

// TagToSlot stores the tag in slot id with the given usage.
func TagToSlot(id keyvault.KeyID, usage keyvault.Usage) HMACTag {
	return HMACTag{slot: id, usage: usage}
}

// TagToBuffer stores the tag in d.
func TagToBuffer(d *Digest) HMACTag {
	return HMACTag{buf: d}
}

// Slot returns the destination slot and usage, if any.
func (t HMACTag) Slot() (keyvault.KeyID, keyvault.Usage, bool) {
	return t.slot, t.usage, t.buf == nil
}

// Buffer returns the destination buffer, if any.
func (t HMACTag) Buffer() *Digest {
	return t.buf
}

// HMAC384 is the HMAC-384 engine.
type HMAC384 interface {
	MAC(key HMACKey, data HMACData, tag HMACTag) error
}

// ECC384 is the ECC-384 engine.
type ECC384 interface {
	// KeyGen deterministically derives a key pair from the secret in slot seed,
	// storing the private scalar in slot priv.
	KeyGen(seed keyvault.KeyID, priv keyvault.KeyID) (KeyPair, error)
	// Sign signs a SHA-384 digest with the private key in slot priv.
	Sign(priv keyvault.KeyID, digest Digest) (Signature, error)
	// Verify verifies a signature over a SHA-384 digest.
	Verify(pub PubKey, digest Digest, sig Signature) (bool, error)
}

// SHA384 is the SHA-384 engine for data held in ROM memory.
type SHA384 interface {
	Digest(data []byte) (Digest, error)
}

// SHA384Acc is the SHA-384 accelerator attached to the image SRAM.
type SHA384Acc interface {
	// TryStartOperation acquires the accelerator, returning false when busy.
	TryStartOperation() (SHA384AccTxn, bool)
}

// SHA384AccTxn is an acquired SHA-384 accelerator.
type SHA384AccTxn interface {
	// Digest computes the digest over [offset, offset+length) of the image.
	Digest(offset, length uint32) (Digest, error)
	// End releases the accelerator.
	End()
}

// FuseBank is the read-only fuse bank.
type FuseBank interface {
	VendorPubKeyDigest() Digest
	VendorPubKeyRevocation() uint32
	OwnerPubKeyDigest() Digest
	AntiRollbackDisable() bool
	FMCSVN() uint32
	RuntimeSVN() uint32
	Lifecycle() Lifecycle
	UEID() [UEIDSize]byte
}

// DataVault holds state persisted across resets.
//
// The cold boot record is cleared by hardware on cold reset and so its
// presence identifies a warm reset. Recorded SVNs are never cleared.
type DataVault interface {
	ColdBootRecord() (BootRecord, bool, error)
	SetColdBootRecord(BootRecord) error
	RecordedSVNs() (SVNs, error)
	UpdateSVNs(SVNs) error
}

// MfgState exposes manufacturing service flags.
type MfgState interface {
	// GenIDevIDCSR reports whether an IDevID CSR is requested. The flag is
	// cleared by the external consumer once it has drained the mailbox.
	GenIDevIDCSR() bool
}

// FlowStatus signals boot flow milestones to the SoC.
type FlowStatus interface {
	SetIDevIDCSRReady()
}

// Mailbox is the mailbox transport.
type Mailbox interface {
	// TryStartSendTxn acquires the mailbox for sending, returning false when
	// busy.
	TryStartSendTxn() (MailboxTxn, bool)
}

// MailboxTxn is an acquired mailbox send transaction.
type MailboxTxn interface {
	SendRequest(offset uint32, data []byte) error
	Complete() error
}

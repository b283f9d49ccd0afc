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

package verify

import (
	"k8s.io/klog/v2"

	"github.com/transparency-dev/armored-witness-rom/fault"
	"github.com/transparency-dev/armored-witness-rom/hw"
	"github.com/transparency-dev/armored-witness-rom/image"
)

// EntryInfo describes a verified firmware segment.
type EntryInfo struct {
	SVN        uint32
	LoadAddr   uint32
	EntryPoint uint32
	Offset     uint32
	Size       uint32
	Digest     hw.Digest
}

// Info is the outcome of a successful verification.
type Info struct {
	VendorPubKeyIndex uint32
	OwnerPubKeyDigest hw.Digest
	WarmBoot          bool
	FMC               EntryInfo
	Runtime           EntryInfo
}

// Verifier verifies firmware images.
type Verifier struct {
	env Env
}

// New returns a verifier borrowing env.
func New(env Env) *Verifier {
	return &Verifier{env: env}
}

func (v *Verifier) digest(r image.Range) (hw.Digest, error) {
	return v.env.SHA384Digest(r.Start, r.Len())
}

// Verify checks the image whose manifest is m against the environment
// policy. Checks run in a fixed order and the first failure is returned.
func (v *Verifier) Verify(m *image.Manifest, imageLen uint32) (*Info, error) {
	info := &Info{}

	if err := v.verifyTOC(m); err != nil {
		return nil, err
	}

	idx, err := v.verifyVendorIndex(m)
	if err != nil {
		return nil, err
	}
	info.VendorPubKeyIndex = idx

	if info.OwnerPubKeyDigest, err = v.verifySignatures(m, idx); err != nil {
		return nil, err
	}

	if info.WarmBoot, err = v.verifyTrustRoots(m, info); err != nil {
		return nil, err
	}

	if err = v.verifySVNs(m); err != nil {
		return nil, err
	}

	for _, e := range []struct {
		name string
		toc  *image.TOCEntry
		info *EntryInfo
	}{
		{"FMC", &m.FMC, &info.FMC},
		{"runtime", &m.Runtime, &info.Runtime},
	} {
		if err = v.verifyContent(e.name, e.toc, imageLen); err != nil {
			return nil, err
		}

		*e.info = EntryInfo{
			SVN:        e.toc.SVN,
			LoadAddr:   e.toc.LoadAddr,
			EntryPoint: e.toc.EntryPoint,
			Offset:     e.toc.Offset,
			Size:       e.toc.Size,
			Digest:     e.toc.Digest,
		}
	}

	if err = v.verifyAddresses(m); err != nil {
		return nil, err
	}

	klog.V(1).Infof("verify: image verified (vendor key %d, warm boot %v)", info.VendorPubKeyIndex, info.WarmBoot)

	return info, nil
}

func (v *Verifier) verifyTOC(m *image.Manifest) error {
	d, err := v.digest(image.TOCRange())
	if err != nil {
		return err
	}

	if d != m.Header.TOCDigest {
		return fault.New(fault.DigestMismatch, "verify toc", "digest %x does not match header %x", d, m.Header.TOCDigest)
	}

	return nil
}

func (v *Verifier) verifyVendorIndex(m *image.Manifest) (uint32, error) {
	idx := m.Preamble.VendorPubKeyIndex

	switch {
	case idx >= image.VendorECCKeyCount:
		return 0, fault.New(fault.ManifestMalformed, "verify vendor key", "index %d out of range", idx)
	case idx != m.Header.VendorPubKeyIndex:
		return 0, fault.New(fault.ManifestMalformed, "verify vendor key", "preamble index %d does not match signed header index %d", idx, m.Header.VendorPubKeyIndex)
	case v.env.VendorPubKeyRevocation()&(1<<idx) != 0:
		return 0, fault.New(fault.KeyRevoked, "verify vendor key", "key %d is revoked", idx)
	}

	return idx, nil
}

// checkFused compares a key digest against its fuse. Unfused digests are only
// tolerated on unprovisioned devices.
func (v *Verifier) checkFused(name string, r image.Range, fused hw.Digest) (hw.Digest, error) {
	d, err := v.digest(r)
	if err != nil {
		return d, err
	}

	switch {
	case fused.IsZero() && v.env.Lifecycle() == hw.LifecycleUnprovisioned:
		klog.Warningf("verify: %s key digest not fused, accepting on unprovisioned device", name)
	case d != fused:
		return d, fault.New(fault.TrustRootMismatch, "verify "+name+" key", "digest %x does not match fuse %x", d, fused)
	}

	return d, nil
}

func (v *Verifier) verifySignatures(m *image.Manifest, idx uint32) (ownerDigest hw.Digest, err error) {
	if _, err = v.checkFused("vendor", image.VendorPubKeysRange(), v.env.VendorPubKeyDigest()); err != nil {
		return
	}

	if ownerDigest, err = v.checkFused("owner", image.OwnerPubKeyRange(), v.env.OwnerPubKeyDigest()); err != nil {
		return
	}

	d, err := v.digest(image.SignedRange())
	if err != nil {
		return
	}

	for _, s := range []struct {
		name string
		pub  hw.PubKey
		sig  hw.Signature
	}{
		{"vendor", m.Preamble.VendorPubKeys[idx], m.Preamble.VendorSig},
		{"owner", m.Preamble.OwnerPubKey, m.Preamble.OwnerSig},
	} {
		ok, err := v.env.ECC384Verify(s.pub, d, s.sig)
		if err != nil {
			return ownerDigest, err
		}

		if !ok {
			return ownerDigest, fault.New(fault.SignatureInvalid, "verify "+s.name+" signature", "signature does not verify")
		}
	}

	return ownerDigest, nil
}

func (v *Verifier) verifyTrustRoots(m *image.Manifest, info *Info) (bool, error) {
	r, ok, err := v.env.ColdBootRecord()
	if err != nil || !ok {
		return false, err
	}

	switch {
	case r.VendorPubKeyIndex != info.VendorPubKeyIndex:
		return true, fault.New(fault.TrustRootMismatch, "verify warm boot", "vendor key %d differs from cold boot %d", info.VendorPubKeyIndex, r.VendorPubKeyIndex)
	case r.OwnerPubKeyDigest != info.OwnerPubKeyDigest:
		return true, fault.New(fault.TrustRootMismatch, "verify warm boot", "owner key differs from cold boot")
	case r.FMCDigest != m.FMC.Digest:
		return true, fault.New(fault.TrustRootMismatch, "verify warm boot", "FMC differs from cold boot")
	}

	return true, nil
}

func (v *Verifier) verifySVNs(m *image.Manifest) error {
	if v.env.AntiRollbackDisable() {
		klog.Warning("verify: anti-rollback disabled by fuse")
		return nil
	}

	recorded, err := v.env.RecordedSVNs()
	if err != nil {
		return err
	}

	for _, e := range []struct {
		name     string
		toc      *image.TOCEntry
		fused    uint32
		recorded uint32
	}{
		{"FMC", &m.FMC, v.env.FMCSVN(), recorded.FMC},
		{"runtime", &m.Runtime, v.env.RuntimeSVN(), recorded.Runtime},
	} {
		switch svn := e.toc.SVN; {
		case svn < e.toc.MinSVN:
			return fault.New(fault.RollbackViolation, "verify "+e.name+" svn", "SVN %d below image minimum %d", svn, e.toc.MinSVN)
		case svn < e.fused:
			return fault.New(fault.RollbackViolation, "verify "+e.name+" svn", "SVN %d below fused minimum %d", svn, e.fused)
		case svn < e.recorded:
			return fault.New(fault.RollbackViolation, "verify "+e.name+" svn", "SVN %d below recorded %d", svn, e.recorded)
		}
	}

	return nil
}

func (v *Verifier) verifyContent(name string, e *image.TOCEntry, imageLen uint32) error {
	r := e.ImageRange()

	if r.Empty() || r.End > imageLen {
		return fault.New(fault.ManifestMalformed, "verify "+name, "range %v outside image of %d bytes", r, imageLen)
	}

	d, err := v.digest(r)
	if err != nil {
		return err
	}

	if d != e.Digest {
		return fault.New(fault.DigestMismatch, "verify "+name, "digest %x does not match TOC %x", d, e.Digest)
	}

	return nil
}

func loadRange(e *image.TOCEntry) image.Range {
	end := uint64(e.LoadAddr) + uint64(e.Size)
	if end > 0xffffffff {
		return image.Range{}
	}
	return image.Range{Start: e.LoadAddr, End: uint32(end)}
}

func (v *Verifier) verifyAddresses(m *image.Manifest) error {
	iccm := v.env.ICCMRange()

	fmc := loadRange(&m.FMC)
	rt := loadRange(&m.Runtime)

	for _, e := range []struct {
		name string
		toc  *image.TOCEntry
		load image.Range
	}{
		{"FMC", &m.FMC, fmc},
		{"runtime", &m.Runtime, rt},
	} {
		switch {
		case !iccm.ContainsRange(e.load):
			return fault.New(fault.AddressOutOfRange, "verify "+e.name, "load range %v outside ICCM %v", e.load, iccm)
		case !e.load.Contains(e.toc.EntryPoint):
			return fault.New(fault.AddressOutOfRange, "verify "+e.name, "entry point %#x outside load range %v", e.toc.EntryPoint, e.load)
		}
	}

	if fmc.Start < rt.End && rt.Start < fmc.End {
		return fault.New(fault.AddressOutOfRange, "verify", "FMC %v and runtime %v load ranges overlap", fmc, rt)
	}

	return nil
}

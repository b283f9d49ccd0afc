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

// Package image implements the firmware image bundle format: a fixed layout
// manifest followed by the FMC and Runtime segments it describes.
//
// Integer fields are stored in the platform native byte order since the same
// buffer is consumed in place by the hardware accelerators.
package image

import (
	"encoding/binary"

	"github.com/transparency-dev/armored-witness-rom/fault"
	"github.com/transparency-dev/armored-witness-rom/hw"
)

const (
	// ManifestMarker is the manifest magic value ("CMAN").
	ManifestMarker = 0x4E414D43
	// VendorECCKeyCount is the number of vendor public keys in the preamble.
	VendorECCKeyCount = 4
	// MaxTOCEntryCount is the number of TOC entries in the manifest.
	MaxTOCEntryCount = 2
	// RevisionSize is the size in bytes of a TOC entry commit revision.
	RevisionSize = 20
	// ASN1TimeSize is the size of an ASN.1 GeneralizedTime validity field.
	ASN1TimeSize = 15
	// ImageByteSize is the maximum size of a whole image bundle.
	ImageByteSize = 128 * 1024
)

// Manifest layout.
const (
	pubKeySize    = 2 * hw.ScalarSize
	signatureSize = 2 * hw.ScalarSize

	vendorPubKeysSize = VendorECCKeyCount * pubKeySize
	preambleSize      = vendorPubKeysSize + 4 + signatureSize + pubKeySize + signatureSize + 8
	headerSize        = 8 + 4 + 4 + 4 + hw.DigestSize + 2*ASN1TimeSize + 2*ASN1TimeSize
	tocEntrySize      = 4 + 4 + RevisionSize + 4 + 4 + 4 + 4 + 4 + 4 + hw.DigestSize

	// ManifestSize is the size in bytes of the encoded manifest.
	ManifestSize = 4 + 4 + preambleSize + headerSize + MaxTOCEntryCount*tocEntrySize

	preambleOffset      = 8
	vendorPubKeysOffset = preambleOffset
	vendorKeyIdxOffset  = vendorPubKeysOffset + vendorPubKeysSize
	vendorSigOffset     = vendorKeyIdxOffset + 4
	ownerPubKeyOffset   = vendorSigOffset + signatureSize
	ownerSigOffset      = ownerPubKeyOffset + pubKeySize
	headerOffset        = preambleOffset + preambleSize
	tocOffset           = headerOffset + headerSize
)

// TOC entry identifiers and types.
const (
	TOCEntryIDFMC     = 1
	TOCEntryIDRuntime = 2

	TOCEntryTypeExecutable = 1
)

// Revision is a TOC entry commit revision.
type Revision [RevisionSize]byte

// Preamble carries the keys and signatures authenticating the header.
type Preamble struct {
	VendorPubKeys     [VendorECCKeyCount]hw.PubKey
	VendorPubKeyIndex uint32
	VendorSig         hw.Signature
	OwnerPubKey       hw.PubKey
	OwnerSig          hw.Signature
	Reserved          [2]uint32
}

// OwnerSignedData carries owner provided certificate validity.
type OwnerSignedData struct {
	NotBefore [ASN1TimeSize]byte
	NotAfter  [ASN1TimeSize]byte
}

// Header is the signed image header.
type Header struct {
	Revision          [2]uint32
	VendorPubKeyIndex uint32
	Flags             uint32
	TOCLen            uint32
	TOCDigest         hw.Digest
	VendorNotBefore   [ASN1TimeSize]byte
	VendorNotAfter    [ASN1TimeSize]byte
	OwnerData         OwnerSignedData
}

// TOCEntry describes one loadable firmware segment.
type TOCEntry struct {
	ID         uint32
	Type       uint32
	Revision   Revision
	SVN        uint32
	MinSVN     uint32
	LoadAddr   uint32
	EntryPoint uint32
	Offset     uint32
	Size       uint32
	Digest     hw.Digest
}

// ImageRange returns the byte range of the segment within the image.
func (e *TOCEntry) ImageRange() Range {
	end := uint64(e.Offset) + uint64(e.Size)
	if end > 0xffffffff {
		return Range{}
	}
	return Range{Start: e.Offset, End: uint32(end)}
}

// Manifest is the image manifest.
type Manifest struct {
	Marker   uint32
	Size     uint32
	Preamble Preamble
	Header   Header
	FMC      TOCEntry
	Runtime  TOCEntry
}

// decoder consumes a manifest buffer front to back without copying it.
type decoder struct {
	buf []byte
	off int
}

func (d *decoder) u32() uint32 {
	v := binary.NativeEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v
}

func (d *decoder) bytes(dst []byte) {
	copy(dst, d.buf[d.off:d.off+len(dst)])
	d.off += len(dst)
}

func (d *decoder) pubKey(p *hw.PubKey) {
	d.bytes(p.X[:])
	d.bytes(p.Y[:])
}

func (d *decoder) sig(s *hw.Signature) {
	d.bytes(s.R[:])
	d.bytes(s.S[:])
}

func (d *decoder) tocEntry(e *TOCEntry) {
	e.ID = d.u32()
	e.Type = d.u32()
	d.bytes(e.Revision[:])
	e.SVN = d.u32()
	e.MinSVN = d.u32()
	e.LoadAddr = d.u32()
	e.EntryPoint = d.u32()
	e.Offset = d.u32()
	e.Size = d.u32()
	d.bytes(e.Digest[:])
}

// Parse decodes and validates the manifest at the start of an image buffer.
//
// The TOC entries must describe non-empty segments laid out back to back
// right after the manifest, within both the buffer and ImageByteSize.
func Parse(buf []byte) (m Manifest, err error) {
	if len(buf) < ManifestSize {
		return m, fault.New(fault.ManifestMalformed, "manifest", "buffer too short (%d < %d)", len(buf), ManifestSize)
	}

	d := decoder{buf: buf}

	if m.Marker = d.u32(); m.Marker != ManifestMarker {
		return m, fault.New(fault.ManifestMalformed, "manifest", "invalid marker %#x", m.Marker)
	}

	if m.Size = d.u32(); m.Size != ManifestSize {
		return m, fault.New(fault.ManifestMalformed, "manifest", "invalid size %d", m.Size)
	}

	p := &m.Preamble
	for i := range p.VendorPubKeys {
		d.pubKey(&p.VendorPubKeys[i])
	}
	p.VendorPubKeyIndex = d.u32()
	d.sig(&p.VendorSig)
	d.pubKey(&p.OwnerPubKey)
	d.sig(&p.OwnerSig)
	p.Reserved[0] = d.u32()
	p.Reserved[1] = d.u32()

	h := &m.Header
	h.Revision[0] = d.u32()
	h.Revision[1] = d.u32()
	h.VendorPubKeyIndex = d.u32()
	h.Flags = d.u32()
	h.TOCLen = d.u32()
	d.bytes(h.TOCDigest[:])
	d.bytes(h.VendorNotBefore[:])
	d.bytes(h.VendorNotAfter[:])
	d.bytes(h.OwnerData.NotBefore[:])
	d.bytes(h.OwnerData.NotAfter[:])

	d.tocEntry(&m.FMC)
	d.tocEntry(&m.Runtime)

	if err = m.validateTOC(uint32(min(len(buf), ImageByteSize))); err != nil {
		return
	}

	return
}

func (m *Manifest) validateTOC(limit uint32) error {
	if m.Header.TOCLen != MaxTOCEntryCount {
		return fault.New(fault.ManifestMalformed, "manifest", "invalid TOC length %d", m.Header.TOCLen)
	}

	prev := uint32(ManifestSize)

	for _, e := range []struct {
		name string
		id   uint32
		toc  *TOCEntry
	}{
		{"FMC", TOCEntryIDFMC, &m.FMC},
		{"runtime", TOCEntryIDRuntime, &m.Runtime},
	} {
		r := e.toc.ImageRange()

		switch {
		case e.toc.ID != e.id:
			return fault.New(fault.ManifestMalformed, "manifest", "%s TOC entry has id %d", e.name, e.toc.ID)
		case e.toc.Type != TOCEntryTypeExecutable:
			return fault.New(fault.ManifestMalformed, "manifest", "%s TOC entry has type %d", e.name, e.toc.Type)
		case r.Empty():
			return fault.New(fault.ManifestMalformed, "manifest", "%s TOC entry is empty or overflows", e.name)
		case r.Start != prev:
			return fault.New(fault.ManifestMalformed, "manifest", "%s offset %#x does not follow %#x", e.name, r.Start, prev)
		case r.End > limit:
			return fault.New(fault.ManifestMalformed, "manifest", "%s range %v exceeds image limit %#x", e.name, r, limit)
		}

		prev = r.End
	}

	return nil
}

// ImageSize returns the size of the whole image bundle described by m.
func (m *Manifest) ImageSize() uint32 {
	return m.Runtime.ImageRange().End
}

type encoder struct {
	buf []byte
}

func (e *encoder) u32(v uint32) {
	e.buf = binary.NativeEndian.AppendUint32(e.buf, v)
}

func (e *encoder) bytes(b []byte) {
	e.buf = append(e.buf, b...)
}

func (e *encoder) pubKey(p *hw.PubKey) {
	e.bytes(p.X[:])
	e.bytes(p.Y[:])
}

func (e *encoder) sig(s *hw.Signature) {
	e.bytes(s.R[:])
	e.bytes(s.S[:])
}

func (e *encoder) tocEntry(t *TOCEntry) {
	e.u32(t.ID)
	e.u32(t.Type)
	e.bytes(t.Revision[:])
	e.u32(t.SVN)
	e.u32(t.MinSVN)
	e.u32(t.LoadAddr)
	e.u32(t.EntryPoint)
	e.u32(t.Offset)
	e.u32(t.Size)
	e.bytes(t.Digest[:])
}

// MarshalBinary encodes the manifest.
func (m *Manifest) MarshalBinary() ([]byte, error) {
	e := encoder{buf: make([]byte, 0, ManifestSize)}

	e.u32(m.Marker)
	e.u32(m.Size)

	p := &m.Preamble
	for i := range p.VendorPubKeys {
		e.pubKey(&p.VendorPubKeys[i])
	}
	e.u32(p.VendorPubKeyIndex)
	e.sig(&p.VendorSig)
	e.pubKey(&p.OwnerPubKey)
	e.sig(&p.OwnerSig)
	e.u32(p.Reserved[0])
	e.u32(p.Reserved[1])

	h := &m.Header
	e.u32(h.Revision[0])
	e.u32(h.Revision[1])
	e.u32(h.VendorPubKeyIndex)
	e.u32(h.Flags)
	e.u32(h.TOCLen)
	e.bytes(h.TOCDigest[:])
	e.bytes(h.VendorNotBefore[:])
	e.bytes(h.VendorNotAfter[:])
	e.bytes(h.OwnerData.NotBefore[:])
	e.bytes(h.OwnerData.NotAfter[:])

	e.tocEntry(&m.FMC)
	e.tocEntry(&m.Runtime)

	return e.buf, nil
}

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

// Package imagegen builds signed firmware image bundles.
package imagegen

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha512"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/transparency-dev/armored-witness-rom/hw"
	"github.com/transparency-dev/armored-witness-rom/image"
)

// Keys holds the image signing keys.
type Keys struct {
	Vendor [image.VendorECCKeyCount]*ecdsa.PrivateKey
	Owner  *ecdsa.PrivateKey
}

// GenerateKeys generates a fresh set of signing keys.
func GenerateKeys() (*Keys, error) {
	k := &Keys{}

	for i := range k.Vendor {
		key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
		if err != nil {
			return nil, err
		}
		k.Vendor[i] = key
	}

	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, err
	}
	k.Owner = key

	return k, nil
}

func keyFiles() []string {
	var files []string
	for i := 0; i < image.VendorECCKeyCount; i++ {
		files = append(files, fmt.Sprintf("vendor%d.pem", i))
	}
	return append(files, "owner.pem")
}

func (k *Keys) all() []**ecdsa.PrivateKey {
	return []**ecdsa.PrivateKey{&k.Vendor[0], &k.Vendor[1], &k.Vendor[2], &k.Vendor[3], &k.Owner}
}

// Save writes the keys as PEM files in dir.
func (k *Keys) Save(dir string) error {
	for i, f := range keyFiles() {
		der, err := x509.MarshalECPrivateKey(*k.all()[i])
		if err != nil {
			return err
		}

		buf := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})

		if err := os.WriteFile(filepath.Join(dir, f), buf, 0o600); err != nil {
			return err
		}
	}

	return nil
}

// LoadKeys reads keys previously written with Save from dir.
func LoadKeys(dir string) (*Keys, error) {
	k := &Keys{}

	for i, f := range keyFiles() {
		buf, err := os.ReadFile(filepath.Join(dir, f))
		if err != nil {
			return nil, err
		}

		b, _ := pem.Decode(buf)
		if b == nil {
			return nil, fmt.Errorf("%s: no PEM block", f)
		}

		key, err := x509.ParseECPrivateKey(b.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%s: %v", f, err)
		}

		if key.Curve != elliptic.P384() {
			return nil, fmt.Errorf("%s: not a P-384 key", f)
		}

		*k.all()[i] = key
	}

	return k, nil
}

// PubKey converts an ECDSA P-384 public key.
func PubKey(k *ecdsa.PublicKey) (p hw.PubKey, err error) {
	e, err := k.ECDH()
	if err != nil {
		return
	}

	b := e.Bytes()
	copy(p.X[:], b[1:1+hw.ScalarSize])
	copy(p.Y[:], b[1+hw.ScalarSize:])

	return
}

func sign(k *ecdsa.PrivateKey, d hw.Digest) (sig hw.Signature, err error) {
	r, s, err := ecdsa.Sign(rand.Reader, k, d[:])
	if err != nil {
		return
	}

	r.FillBytes(sig.R[:])
	s.FillBytes(sig.S[:])

	return
}

// Segment describes a firmware segment to include in the image.
type Segment struct {
	Data       []byte
	Revision   image.Revision
	SVN        uint32
	MinSVN     uint32
	LoadAddr   uint32
	EntryPoint uint32
}

// Config describes the image to build.
type Config struct {
	Revision       [2]uint32
	VendorKeyIndex uint32
	FMC            Segment
	Runtime        Segment
}

func digest(b []byte, r image.Range) hw.Digest {
	return sha512.Sum384(b[r.Start:r.End])
}

// Build assembles a bundle for cfg, signed by the selected vendor key and the
// owner key.
func Build(keys *Keys, cfg *Config) (*image.Bundle, error) {
	if cfg.VendorKeyIndex >= image.VendorECCKeyCount {
		return nil, errors.New("invalid vendor key index")
	}

	if len(cfg.FMC.Data) == 0 || len(cfg.Runtime.Data) == 0 {
		return nil, errors.New("empty segment")
	}

	b := &image.Bundle{
		FMC:     cfg.FMC.Data,
		Runtime: cfg.Runtime.Data,
	}

	m := &b.Manifest
	m.Marker = image.ManifestMarker
	m.Size = image.ManifestSize

	var err error

	for i, k := range keys.Vendor {
		if m.Preamble.VendorPubKeys[i], err = PubKey(&k.PublicKey); err != nil {
			return nil, err
		}
	}

	if m.Preamble.OwnerPubKey, err = PubKey(&keys.Owner.PublicKey); err != nil {
		return nil, err
	}

	m.Preamble.VendorPubKeyIndex = cfg.VendorKeyIndex

	m.Header.Revision = cfg.Revision
	m.Header.VendorPubKeyIndex = cfg.VendorKeyIndex
	m.Header.TOCLen = image.MaxTOCEntryCount

	offset := uint32(image.ManifestSize)

	for _, e := range []struct {
		id  uint32
		seg *Segment
		toc *image.TOCEntry
	}{
		{image.TOCEntryIDFMC, &cfg.FMC, &m.FMC},
		{image.TOCEntryIDRuntime, &cfg.Runtime, &m.Runtime},
	} {
		*e.toc = image.TOCEntry{
			ID:         e.id,
			Type:       image.TOCEntryTypeExecutable,
			Revision:   e.seg.Revision,
			SVN:        e.seg.SVN,
			MinSVN:     e.seg.MinSVN,
			LoadAddr:   e.seg.LoadAddr,
			EntryPoint: e.seg.EntryPoint,
			Offset:     offset,
			Size:       uint32(len(e.seg.Data)),
			Digest:     sha512.Sum384(e.seg.Data),
		}
		offset += e.toc.Size
	}

	if err = Sign(keys, b); err != nil {
		return nil, err
	}

	return b, nil
}

// Sign recomputes the TOC digest of the bundle manifest and signs it with
// the selected vendor key and the owner key.
func Sign(keys *Keys, b *image.Bundle) error {
	m := &b.Manifest

	buf, err := m.MarshalBinary()
	if err != nil {
		return err
	}

	m.Header.TOCDigest = digest(buf, image.TOCRange())

	return Resign(keys, b)
}

// Resign signs the bundle manifest as is, without updating its TOC digest.
func Resign(keys *Keys, b *image.Bundle) error {
	m := &b.Manifest

	if m.Preamble.VendorPubKeyIndex >= image.VendorECCKeyCount {
		return errors.New("invalid vendor key index")
	}

	buf, err := m.MarshalBinary()
	if err != nil {
		return err
	}

	d := digest(buf, image.SignedRange())

	if m.Preamble.VendorSig, err = sign(keys.Vendor[m.Preamble.VendorPubKeyIndex], d); err != nil {
		return err
	}

	if m.Preamble.OwnerSig, err = sign(keys.Owner, d); err != nil {
		return err
	}

	return nil
}

// FuseDigests returns the vendor key block and owner key digests to fuse on
// devices accepting images carrying the keys of m.
func FuseDigests(m *image.Manifest) (vendor hw.Digest, owner hw.Digest, err error) {
	buf, err := m.MarshalBinary()
	if err != nil {
		return
	}

	return digest(buf, image.VendorPubKeysRange()), digest(buf, image.OwnerPubKeyRange()), nil
}

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

// Package datavault persists boot state across resets on an RPMB partition:
// the cold boot record of trust roots and the recorded security version
// numbers.
package datavault

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
	"k8s.io/klog/v2"

	"github.com/transparency-dev/armored-witness-rom/fault"
	"github.com/transparency-dev/armored-witness-rom/hw"
	"github.com/transparency-dev/armored-witness-rom/rpmb"
)

const (
	// RPMB sector for CVE-2020-13799 mitigation
	dummySector = 0
	// RPMB sector for the cold boot record
	recordSector = 1
	// RPMB sector for anti-rollback protection
	svnSector = 2

	// Sectors is the number of RPMB sectors used by the data vault.
	Sectors = 3

	diversifierMAC = "ArmoredWitnessROMDataVault"
	iter           = 4096

	recordValid = 0x01
	recordSize  = 1 + 4 + 2*hw.DigestSize
	svnSize     = 8
)

// DeriveKey derives the RPMB MAC key from the hardware unique key, diversified
// for the data vault and salted with the device unique identifier.
func DeriveKey(huk []byte, uid []byte) []byte {
	secret := append(append([]byte{}, huk...), diversifierMAC...)
	return pbkdf2.Key(secret, uid, iter, sha256.Size, sha256.New)
}

// Vault implements hw.DataVault on an RPMB partition.
type Vault struct {
	partition *rpmb.RPMB
}

// Open initializes the data vault on card, programming the RPMB
// authentication key if the card has never been programmed.
func Open(card rpmb.Card, key []byte) (v *Vault, err error) {
	p, err := rpmb.Init(card, key, dummySector, false)
	if err != nil {
		return nil, fmt.Errorf("could not initialize RPMB (%v)", err)
	}

	var e *rpmb.OperationError
	_, err = p.Counter(false)

	switch {
	case err == nil:
		// invalidate uncommitted writes (CVE-2020-13799)
		if err = p.Write(dummySector, nil); err != nil {
			return nil, fmt.Errorf("could not write dummy sector (%v)", err)
		}
	case errors.As(err, &e) && e.Result == rpmb.AuthenticationKeyNotYetProgrammed:
		klog.Info("datavault: RPMB authentication key not yet programmed, programming")

		if err = p.ProgramKey(); err != nil {
			return nil, fmt.Errorf("could not program RPMB key (%v)", err)
		}
	default:
		return nil, err
	}

	return &Vault{partition: p}, nil
}

// ColdBootRecord implements hw.DataVault.
func (v *Vault) ColdBootRecord() (r hw.BootRecord, ok bool, err error) {
	buf := make([]byte, recordSize)

	if err = v.partition.Read(recordSector, buf); err != nil {
		return
	}

	if buf[0] != recordValid {
		return r, false, nil
	}

	r.VendorPubKeyIndex = binary.BigEndian.Uint32(buf[1:5])
	copy(r.OwnerPubKeyDigest[:], buf[5:5+hw.DigestSize])
	copy(r.FMCDigest[:], buf[5+hw.DigestSize:])

	return r, true, nil
}

// SetColdBootRecord implements hw.DataVault.
func (v *Vault) SetColdBootRecord(r hw.BootRecord) error {
	buf := make([]byte, 0, recordSize)
	buf = append(buf, recordValid)
	buf = binary.BigEndian.AppendUint32(buf, r.VendorPubKeyIndex)
	buf = append(buf, r.OwnerPubKeyDigest[:]...)
	buf = append(buf, r.FMCDigest[:]...)

	klog.V(1).Infof("datavault: recording vendor key %d, FMC digest %x", r.VendorPubKeyIndex, r.FMCDigest)

	return v.partition.Write(recordSector, buf)
}

// ClearColdBootRecord invalidates the cold boot record, as done by hardware on
// cold reset.
func (v *Vault) ClearColdBootRecord() error {
	return v.partition.Write(recordSector, make([]byte, recordSize))
}

// RecordedSVNs implements hw.DataVault.
func (v *Vault) RecordedSVNs() (s hw.SVNs, err error) {
	buf := make([]byte, svnSize)

	if err = v.partition.Read(svnSector, buf); err != nil {
		return
	}

	s.FMC = binary.BigEndian.Uint32(buf[0:4])
	s.Runtime = binary.BigEndian.Uint32(buf[4:8])

	return
}

// UpdateSVNs implements hw.DataVault.
//
// Recorded SVNs are monotonic: an update lowering either of them is rejected,
// an update matching them is a no-op.
func (v *Vault) UpdateSVNs(s hw.SVNs) error {
	cur, err := v.RecordedSVNs()
	if err != nil {
		return err
	}

	switch {
	case s.FMC < cur.FMC:
		return fault.New(fault.RollbackViolation, "datavault", "FMC SVN %d is older than recorded %d", s.FMC, cur.FMC)
	case s.Runtime < cur.Runtime:
		return fault.New(fault.RollbackViolation, "datavault", "runtime SVN %d is older than recorded %d", s.Runtime, cur.Runtime)
	case s == cur:
		return nil
	}

	buf := make([]byte, 0, svnSize)
	buf = binary.BigEndian.AppendUint32(buf, s.FMC)
	buf = binary.BigEndian.AppendUint32(buf, s.Runtime)

	klog.Infof("datavault: updating SVNs %+v -> %+v", cur, s)

	return v.partition.Write(svnSector, buf)
}

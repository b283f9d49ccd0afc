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
	"crypto/sha256"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/transparency-dev/armored-witness-rom/datavault"
	"github.com/transparency-dev/armored-witness-rom/keyvault"
	"github.com/transparency-dev/armored-witness-rom/rpmb"
)

// SoC is a software root-of-trust SoC.
type SoC struct {
	KeyVault  *keyvault.Vault
	Fuses     *Fuses
	DOE       *DOE
	HMAC      *HMAC384
	ECC       *ECC384
	SHA       SHA384
	SHAAcc    *SHA384Acc
	Mailbox   *Mailbox
	Host      *Host
	DataVault *datavault.Vault

	obfuscationKey [ObfuscationKeySize]byte
}

// New returns a SoC with the given fuses and obfuscation key, persisting its
// data vault on card.
func New(fuses *Fuses, key [ObfuscationKeySize]byte, card rpmb.Card) (*SoC, error) {
	kv := &keyvault.Vault{}
	mbox := &Mailbox{}

	// the RPMB key is bound to the device rather than to the DOE key, which
	// is wiped during boot
	huk := sha256.Sum256(append(key[:], fuses.ObfuscatedUDS...))

	dv, err := datavault.Open(card, datavault.DeriveKey(huk[:], fuses.DeviceUEID[:]))
	if err != nil {
		return nil, fmt.Errorf("could not open data vault (%v)", err)
	}

	return &SoC{
		KeyVault:       kv,
		Fuses:          fuses,
		DOE:            NewDOE(kv, fuses, key),
		HMAC:           NewHMAC384(kv),
		ECC:            NewECC384(kv),
		SHAAcc:         &SHA384Acc{},
		Mailbox:        mbox,
		Host:           &Host{Mailbox: mbox, DrainAfter: 1},
		DataVault:      dv,
		obfuscationKey: key,
	}, nil
}

// LoadImage places a firmware image in the image SRAM.
func (s *SoC) LoadImage(image []byte) {
	s.SHAAcc.Load(image)
}

// ColdReset models a power-on reset: the key vault is wiped, the DOE
// obfuscation key is restored and the cold boot record is invalidated.
func (s *SoC) ColdReset() error {
	klog.Info("soc: cold reset")

	s.KeyVault.Reset()
	s.DOE.reload(s.obfuscationKey)

	return s.DataVault.ClearColdBootRecord()
}

// WarmReset models a warm reset: the key vault, the DOE state and the data
// vault are all retained.
func (s *SoC) WarmReset() error {
	klog.Info("soc: warm reset")

	return nil
}

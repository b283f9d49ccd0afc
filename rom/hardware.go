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
	"github.com/transparency-dev/armored-witness-rom/dice"
	"github.com/transparency-dev/armored-witness-rom/hw"
	"github.com/transparency-dev/armored-witness-rom/hwmodel"
	"github.com/transparency-dev/armored-witness-rom/image"
)

// DefaultICCM is the executable memory range of the reference SoC.
var DefaultICCM = image.Range{Start: 0x40000000, End: 0x40000000 + 128*1024}

// Resetter applies hardware resets.
type Resetter interface {
	ColdReset() error
	WarmReset() error
}

// ImageMemory is the SRAM holding the firmware image.
type ImageMemory interface {
	Image() []byte
}

// Hardware gathers the capabilities owned by the ROM.
type Hardware struct {
	Reset     Resetter
	KeySlots  dice.KeySlots
	DOE       hw.Deobfuscator
	HMAC      hw.HMAC384
	ECC       hw.ECC384
	SHA       hw.SHA384
	SHAAcc    hw.SHA384Acc
	Image     ImageMemory
	Fuses     hw.FuseBank
	DataVault hw.DataVault
	Mfg       hw.MfgState
	Flow      hw.FlowStatus
	Mailbox   hw.Mailbox
}

// FromSoC returns the capabilities of a software SoC.
func FromSoC(soc *hwmodel.SoC) *Hardware {
	return &Hardware{
		Reset:     soc,
		KeySlots:  soc.KeyVault,
		DOE:       soc.DOE,
		HMAC:      soc.HMAC,
		ECC:       soc.ECC,
		SHA:       soc.SHA,
		SHAAcc:    soc.SHAAcc,
		Image:     soc.SHAAcc,
		Fuses:     soc.Fuses,
		DataVault: soc.DataVault,
		Mfg:       soc.Host,
		Flow:      soc.Host,
		Mailbox:   soc.Mailbox,
	}
}

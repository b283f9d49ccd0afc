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

// Package keyvault models the hardware Key Vault: a small set of opaque,
// usage-gated secret slots addressed by ID.
//
// Secrets never leave the vault as values, they can only be observed for the
// duration of a Read callback by the hardware engine consuming them.
package keyvault

import (
	"fmt"
	"sync"

	"k8s.io/klog/v2"

	"github.com/transparency-dev/armored-witness-rom/fault"
)

const (
	// NumSlots is the number of key slots in the vault.
	NumSlots = 8
	// MaxSecretSize is the largest secret a slot can hold (an ECC-384
	// scalar or an HMAC-384 tag).
	MaxSecretSize = 48
)

// KeyID addresses a key slot.
type KeyID uint8

const (
	KeyID0 KeyID = iota
	KeyID1
	KeyID2
	KeyID3
	KeyID4
	KeyID5
	KeyID6
	KeyID7
)

// Usage is a bitmask of the operations allowed to reference a slot.
type Usage uint32

const (
	// UsageHMACKey allows the slot to be used as an HMAC key.
	UsageHMACKey Usage = 1 << iota
	// UsageHMACData allows the slot to be used as HMAC input data.
	UsageHMACData
	// UsageECCKeyGenSeed allows the slot to seed ECC key generation.
	UsageECCKeyGenSeed
	// UsageECCPrivateKey allows the slot to be used as an ECC signing key.
	UsageECCPrivateKey
	// UsageECCData allows the slot to be used as ECC signing input.
	UsageECCData
)

func (u Usage) String() string {
	return fmt.Sprintf("%#05b", uint32(u))
}

type slot struct {
	secret [MaxSecretSize]byte
	size   int
	usage  Usage
	valid  bool

	writeLocked bool
	useLocked   bool
}

func (s *slot) clear() {
	for i := range s.secret {
		s.secret[i] = 0
	}
	s.size = 0
	s.usage = 0
	s.valid = false
}

// Vault is a Key Vault instance.
type Vault struct {
	sync.Mutex

	slots [NumSlots]slot
}

func (v *Vault) slot(id KeyID) (*slot, error) {
	if int(id) >= NumSlots {
		return nil, fault.New(fault.UsageDenied, "keyvault", "invalid slot %d", id)
	}
	return &v.slots[id], nil
}

// Read invokes fn with a view of the secret held in slot id, provided the slot
// permits every usage bit in usage. The view must not be retained after fn
// returns.
func (v *Vault) Read(id KeyID, usage Usage, fn func(secret []byte) error) error {
	v.Lock()
	defer v.Unlock()

	s, err := v.slot(id)
	if err != nil {
		return err
	}

	switch {
	case !s.valid:
		return fault.New(fault.UsageDenied, "keyvault read", "slot %d is empty", id)
	case s.useLocked:
		return fault.New(fault.UsageDenied, "keyvault read", "slot %d is use-locked", id)
	case usage == 0 || s.usage&usage != usage:
		return fault.New(fault.UsageDenied, "keyvault read", "slot %d usage %v does not permit %v", id, s.usage, usage)
	}

	return fn(s.secret[:s.size])
}

// Write replaces the whole content of slot id with secret, tagged with usage.
func (v *Vault) Write(id KeyID, usage Usage, secret []byte) error {
	v.Lock()
	defer v.Unlock()

	s, err := v.slot(id)
	if err != nil {
		return err
	}

	if s.writeLocked {
		return fault.New(fault.SlotBusy, "keyvault write", "slot %d is write-locked", id)
	}

	if len(secret) == 0 || len(secret) > MaxSecretSize {
		return fault.New(fault.CryptoOperationFailed, "keyvault write", "invalid secret size %d", len(secret))
	}

	s.clear()
	copy(s.secret[:], secret)
	s.size = len(secret)
	s.usage = usage
	s.valid = true

	klog.V(2).Infof("keyvault: wrote slot %d usage %v", id, usage)

	return nil
}

// Erase irreversibly destroys the content of slot id.
func (v *Vault) Erase(id KeyID) error {
	v.Lock()
	defer v.Unlock()

	s, err := v.slot(id)
	if err != nil {
		return err
	}

	if s.writeLocked {
		return fault.New(fault.SlotBusy, "keyvault erase", "slot %d is write-locked", id)
	}

	s.clear()

	klog.V(2).Infof("keyvault: erased slot %d", id)

	return nil
}

// Valid reports whether slot id holds a secret.
func (v *Vault) Valid(id KeyID) bool {
	v.Lock()
	defer v.Unlock()

	s, err := v.slot(id)
	return err == nil && s.valid
}

// Usage returns the usage mask of slot id.
func (v *Vault) Usage(id KeyID) Usage {
	v.Lock()
	defer v.Unlock()

	if s, err := v.slot(id); err == nil {
		return s.usage
	}
	return 0
}

// LockWrite prevents any further write or erase of slot id until Reset.
func (v *Vault) LockWrite(id KeyID) error {
	v.Lock()
	defer v.Unlock()

	s, err := v.slot(id)
	if err != nil {
		return err
	}
	s.writeLocked = true
	return nil
}

// LockUse prevents any further read of slot id until Reset.
func (v *Vault) LockUse(id KeyID) error {
	v.Lock()
	defer v.Unlock()

	s, err := v.slot(id)
	if err != nil {
		return err
	}
	s.useLocked = true
	return nil
}

// Reset clears every slot and lock.
func (v *Vault) Reset() {
	v.Lock()
	defer v.Unlock()

	for i := range v.slots {
		v.slots[i].clear()
		v.slots[i].writeLocked = false
		v.slots[i].useLocked = false
	}
}

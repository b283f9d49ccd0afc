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
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"hash"

	"github.com/transparency-dev/armored-witness-rom/fault"
	"github.com/transparency-dev/armored-witness-rom/hw"
	"github.com/transparency-dev/armored-witness-rom/keyvault"
)

// HMAC384 models the HMAC-384 engine.
type HMAC384 struct {
	vault *keyvault.Vault
}

// NewHMAC384 returns an HMAC-384 engine attached to vault.
func NewHMAC384(vault *keyvault.Vault) *HMAC384 {
	return &HMAC384{vault: vault}
}

// copySlot copies a slot secret into engine local memory, the caller must
// clear it after use.
func copySlot(vault *keyvault.Vault, id keyvault.KeyID, usage keyvault.Usage) (b []byte, err error) {
	err = vault.Read(id, usage, func(s []byte) error {
		b = bytes.Clone(s)
		return nil
	})

	return
}

// HMACStream is an in progress HMAC-384 computation.
type HMACStream struct {
	h    *HMAC384
	mac  hash.Hash
	done bool
}

// Init starts a streaming computation with key.
func (h *HMAC384) Init(key hw.HMACKey) (*HMACStream, error) {
	var k []byte

	if id, ok := key.Slot(); ok {
		b, err := copySlot(h.vault, id, keyvault.UsageHMACKey)
		if err != nil {
			return nil, err
		}
		defer clear(b)
		k = b
	} else {
		inline, _ := key.Inline()
		k = inline[:]
	}

	return &HMACStream{
		h:   h,
		mac: hmac.New(sha512.New384, k),
	}, nil
}

// Update feeds data into the computation.
func (s *HMACStream) Update(data []byte) error {
	if s.done {
		return fault.New(fault.CryptoOperationFailed, "hmac update", "stream already finalized")
	}

	s.mac.Write(data)

	return nil
}

// Finalize completes the computation storing the tag.
func (s *HMACStream) Finalize(tag hw.HMACTag) error {
	if s.done {
		return fault.New(fault.CryptoOperationFailed, "hmac finalize", "stream already finalized")
	}
	s.done = true

	var t hw.Digest
	defer clear(t[:])

	s.mac.Sum(t[:0])

	if id, usage, ok := tag.Slot(); ok {
		return s.h.vault.Write(id, usage, t[:])
	}

	buf := tag.Buffer()
	if buf == nil {
		return fault.New(fault.CryptoOperationFailed, "hmac finalize", "no tag destination")
	}
	*buf = t

	return nil
}

// MAC implements hw.HMAC384.
func (h *HMAC384) MAC(key hw.HMACKey, data hw.HMACData, tag hw.HMACTag) error {
	s, err := h.Init(key)
	if err != nil {
		return err
	}

	if id, ok := data.Slot(); ok {
		b, err := copySlot(h.vault, id, keyvault.UsageHMACData)
		if err != nil {
			return err
		}
		defer clear(b)

		if err = s.Update(b); err != nil {
			return err
		}
	} else if err = s.Update(data.Inline()); err != nil {
		return err
	}

	return s.Finalize(tag)
}

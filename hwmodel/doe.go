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

// Package hwmodel is a software model of the root-of-trust SoC, implementing
// every capability in package hw on top of a keyvault.Vault.
//
// It backs the unit tests of the boot ROM packages as well as the romsim
// host tool.
package hwmodel

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"sync"

	"k8s.io/klog/v2"

	"github.com/transparency-dev/armored-witness-rom/fault"
	"github.com/transparency-dev/armored-witness-rom/hw"
	"github.com/transparency-dev/armored-witness-rom/keyvault"
)

// ObfuscationKeySize is the size of the DOE obfuscation key (AES-256).
const ObfuscationKeySize = 32

// Obfuscate encrypts a plaintext device secret the way it is stored in
// fuses, with AES-256-CBC under the obfuscation key.
func Obfuscate(key [ObfuscationKeySize]byte, iv [aes.BlockSize]byte, plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 || len(plaintext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("secret length %d is not a multiple of the block size", len(plaintext))
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	buf := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv[:]).CryptBlocks(buf, plaintext)

	return buf, nil
}

// DOE models the deobfuscation engine.
type DOE struct {
	sync.Mutex

	vault   *keyvault.Vault
	fuses   *Fuses
	key     [ObfuscationKeySize]byte
	cleared bool
}

// NewDOE returns a deobfuscation engine holding the obfuscation key.
func NewDOE(vault *keyvault.Vault, fuses *Fuses, key [ObfuscationKeySize]byte) *DOE {
	return &DOE{
		vault: vault,
		fuses: fuses,
		key:   key,
	}
}

// Decrypt implements hw.Deobfuscator.
func (d *DOE) Decrypt(secret hw.Secret, iv [aes.BlockSize]byte, dest keyvault.KeyID) error {
	d.Lock()
	defer d.Unlock()

	if d.cleared {
		return fault.New(fault.CryptoOperationFailed, "doe decrypt", "obfuscation key has been cleared")
	}

	var ct []byte

	switch secret {
	case hw.SecretUDS:
		ct = d.fuses.ObfuscatedUDS
	case hw.SecretFieldEntropy:
		ct = d.fuses.ObfuscatedFE
	default:
		return fault.New(fault.CryptoOperationFailed, "doe decrypt", "invalid secret %v", secret)
	}

	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 || len(ct) > keyvault.MaxSecretSize {
		return fault.New(fault.CryptoOperationFailed, "doe decrypt", "invalid %v fuse length %d", secret, len(ct))
	}

	block, err := aes.NewCipher(d.key[:])
	if err != nil {
		return fault.Wrap(fault.CryptoOperationFailed, "doe decrypt", err)
	}

	pt := make([]byte, len(ct))
	defer clear(pt)

	cipher.NewCBCDecrypter(block, iv[:]).CryptBlocks(pt, ct)

	if err = d.vault.Write(dest, keyvault.UsageHMACData, pt); err != nil {
		return err
	}

	klog.V(1).Infof("doe: decrypted %v into slot %d", secret, dest)

	return nil
}

// ClearSecrets implements hw.Deobfuscator.
func (d *DOE) ClearSecrets() error {
	d.Lock()
	defer d.Unlock()

	clear(d.key[:])
	d.cleared = true

	klog.V(1).Info("doe: secrets cleared")

	return nil
}

// Cleared reports whether the obfuscation key has been wiped.
func (d *DOE) Cleared() bool {
	d.Lock()
	defer d.Unlock()

	return d.cleared
}

func (d *DOE) reload(key [ObfuscationKeySize]byte) {
	d.Lock()
	defer d.Unlock()

	d.key = key
	d.cleared = false
}

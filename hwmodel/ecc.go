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
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha512"
	"io"
	"math/big"

	"golang.org/x/crypto/hkdf"
	"k8s.io/klog/v2"

	"github.com/transparency-dev/armored-witness-rom/fault"
	"github.com/transparency-dev/armored-witness-rom/hw"
	"github.com/transparency-dev/armored-witness-rom/keyvault"
)

const keyGenInfo = "ECC384 key generation"

// ECC384 models the ECC-384 engine.
type ECC384 struct {
	vault *keyvault.Vault
	rand  io.Reader
}

// NewECC384 returns an ECC-384 engine attached to vault.
func NewECC384(vault *keyvault.Vault) *ECC384 {
	return &ECC384{
		vault: vault,
		rand:  rand.Reader,
	}
}

func pubKey(k *ecdh.PublicKey) (p hw.PubKey) {
	b := k.Bytes()
	copy(p.X[:], b[1:1+hw.ScalarSize])
	copy(p.Y[:], b[1+hw.ScalarSize:])
	return
}

// KeyGen implements hw.ECC384.
//
// The private scalar is expanded from the seed with HKDF-SHA384, candidates
// outside [1, n-1] are discarded, so the same seed always yields the same
// key pair.
func (e *ECC384) KeyGen(seed keyvault.KeyID, priv keyvault.KeyID) (kp hw.KeyPair, err error) {
	s, err := copySlot(e.vault, seed, keyvault.UsageECCKeyGenSeed)
	if err != nil {
		return
	}
	defer clear(s)

	r := hkdf.New(sha512.New384, s, nil, []byte(keyGenInfo))

	var d [hw.ScalarSize]byte
	defer clear(d[:])

	for {
		if _, err = io.ReadFull(r, d[:]); err != nil {
			return kp, fault.Wrap(fault.CryptoOperationFailed, "ecc keygen", err)
		}

		k, kerr := ecdh.P384().NewPrivateKey(d[:])
		if kerr != nil {
			continue
		}

		if err = e.vault.Write(priv, keyvault.UsageECCPrivateKey, d[:]); err != nil {
			return kp, err
		}

		klog.V(1).Infof("ecc: generated key pair from slot %d into slot %d", seed, priv)

		return hw.KeyPair{
			Priv: priv,
			Pub:  pubKey(k.PublicKey()),
		}, nil
	}
}

// Sign implements hw.ECC384.
func (e *ECC384) Sign(priv keyvault.KeyID, digest hw.Digest) (sig hw.Signature, err error) {
	d, err := copySlot(e.vault, priv, keyvault.UsageECCPrivateKey)
	if err != nil {
		return
	}
	defer clear(d)

	k, err := ecdh.P384().NewPrivateKey(d)
	if err != nil {
		return sig, fault.Wrap(fault.CryptoOperationFailed, "ecc sign", err)
	}

	pub := pubKey(k.PublicKey())

	key := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{
			Curve: elliptic.P384(),
			X:     new(big.Int).SetBytes(pub.X[:]),
			Y:     new(big.Int).SetBytes(pub.Y[:]),
		},
		D: new(big.Int).SetBytes(d),
	}

	r, s, err := ecdsa.Sign(e.rand, key, digest[:])
	if err != nil {
		return sig, fault.Wrap(fault.CryptoOperationFailed, "ecc sign", err)
	}

	r.FillBytes(sig.R[:])
	s.FillBytes(sig.S[:])

	return
}

// Verify implements hw.ECC384, keys which are not valid curve points never
// verify.
func (e *ECC384) Verify(pub hw.PubKey, digest hw.Digest, sig hw.Signature) (bool, error) {
	if _, err := ecdh.P384().NewPublicKey(pub.Bytes()); err != nil {
		klog.V(1).Infof("ecc: rejecting invalid public key (%v)", err)
		return false, nil
	}

	key := &ecdsa.PublicKey{
		Curve: elliptic.P384(),
		X:     new(big.Int).SetBytes(pub.X[:]),
		Y:     new(big.Int).SetBytes(pub.Y[:]),
	}

	r := new(big.Int).SetBytes(sig.R[:])
	s := new(big.Int).SetBytes(sig.S[:])

	return ecdsa.Verify(key, digest[:], r, s), nil
}

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
	"crypto/sha512"
	"testing"

	"github.com/transparency-dev/armored-witness-rom/hw"
	"github.com/transparency-dev/armored-witness-rom/keyvault"
)

func seeded(t *testing.T, seed []byte) (*keyvault.Vault, *ECC384) {
	t.Helper()

	kv := &keyvault.Vault{}
	if err := kv.Write(keyvault.KeyID6, keyvault.UsageECCKeyGenSeed, seed); err != nil {
		t.Fatal(err)
	}

	return kv, NewECC384(kv)
}

func TestKeyGenIsDeterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{0x3c}, 48)

	_, e1 := seeded(t, seed)
	_, e2 := seeded(t, seed)
	_, e3 := seeded(t, bytes.Repeat([]byte{0x3d}, 48))

	k1, err := e1.KeyGen(keyvault.KeyID6, keyvault.KeyID7)
	if err != nil {
		t.Fatal(err)
	}
	k2, err := e2.KeyGen(keyvault.KeyID6, keyvault.KeyID7)
	if err != nil {
		t.Fatal(err)
	}
	k3, err := e3.KeyGen(keyvault.KeyID6, keyvault.KeyID7)
	if err != nil {
		t.Fatal(err)
	}

	if k1 != k2 {
		t.Errorf("same seed gave different key pairs")
	}
	if k1.Pub == k3.Pub {
		t.Errorf("different seeds gave the same public key")
	}
	if k1.Priv != keyvault.KeyID7 {
		t.Errorf("private key in slot %d, want 7", k1.Priv)
	}
}

func TestSignVerify(t *testing.T) {
	kv, e := seeded(t, bytes.Repeat([]byte{0x11}, 48))

	kp, err := e.KeyGen(keyvault.KeyID6, keyvault.KeyID7)
	if err != nil {
		t.Fatal(err)
	}

	if got := kv.Usage(keyvault.KeyID7); got != keyvault.UsageECCPrivateKey {
		t.Fatalf("private key slot usage %v", got)
	}

	digest := hw.Digest(sha512.Sum384([]byte("to be signed")))

	sig, err := e.Sign(kp.Priv, digest)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	corrupt := func(f func(*hw.PubKey, *hw.Digest, *hw.Signature)) (hw.PubKey, hw.Digest, hw.Signature) {
		p, d, s := kp.Pub, digest, sig
		f(&p, &d, &s)
		return p, d, s
	}

	for _, test := range []struct {
		name string
		f    func(*hw.PubKey, *hw.Digest, *hw.Signature)
		want bool
	}{
		{name: "valid", f: func(*hw.PubKey, *hw.Digest, *hw.Signature) {}, want: true},
		{name: "digest", f: func(_ *hw.PubKey, d *hw.Digest, _ *hw.Signature) { d[0] ^= 1 }},
		{name: "r", f: func(_ *hw.PubKey, _ *hw.Digest, s *hw.Signature) { s.R[10] ^= 1 }},
		{name: "s", f: func(_ *hw.PubKey, _ *hw.Digest, s *hw.Signature) { s.S[47] ^= 1 }},
		{name: "off curve key", f: func(p *hw.PubKey, _ *hw.Digest, _ *hw.Signature) { p.Y[47] ^= 1 }},
		{name: "zero key", f: func(p *hw.PubKey, _ *hw.Digest, _ *hw.Signature) { *p = hw.PubKey{} }},
	} {
		t.Run(test.name, func(t *testing.T) {
			got, err := e.Verify(corrupt(test.f))
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if got != test.want {
				t.Errorf("Verify = %v, want %v", got, test.want)
			}
		})
	}
}

func TestSignRequiresPrivateKeyUsage(t *testing.T) {
	_, e := seeded(t, bytes.Repeat([]byte{0x11}, 48))

	if _, err := e.Sign(keyvault.KeyID6, hw.Digest{}); err == nil {
		t.Error("Sign with a seed slot succeeded")
	}
}

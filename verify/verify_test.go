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

package verify

import (
	"bytes"
	"crypto/sha512"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/transparency-dev/armored-witness-rom/fault"
	"github.com/transparency-dev/armored-witness-rom/hw"
	"github.com/transparency-dev/armored-witness-rom/hwmodel"
	"github.com/transparency-dev/armored-witness-rom/image"
	"github.com/transparency-dev/armored-witness-rom/internal/imagegen"
	"github.com/transparency-dev/armored-witness-rom/keyvault"
)

var iccm = image.Range{Start: 0x40000000, End: 0x40020000}

type testEnv struct {
	*hwmodel.Fuses

	img    []byte
	ecc    *hwmodel.ECC384
	record *hw.BootRecord
	svns   hw.SVNs
}

func (e *testEnv) SHA384Digest(offset, length uint32) (hw.Digest, error) {
	return sha512.Sum384(e.img[offset : offset+length]), nil
}

func (e *testEnv) ECC384Verify(pub hw.PubKey, digest hw.Digest, sig hw.Signature) (bool, error) {
	return e.ecc.Verify(pub, digest, sig)
}

func (e *testEnv) ColdBootRecord() (hw.BootRecord, bool, error) {
	if e.record == nil {
		return hw.BootRecord{}, false, nil
	}
	return *e.record, true, nil
}

func (e *testEnv) RecordedSVNs() (hw.SVNs, error) {
	return e.svns, nil
}

func (e *testEnv) ICCMRange() image.Range {
	return iccm
}

// keys are shared across tests as generation dominates test time.
var testKeys *imagegen.Keys

func keys(t *testing.T) *imagegen.Keys {
	t.Helper()

	if testKeys == nil {
		k, err := imagegen.GenerateKeys()
		if err != nil {
			t.Fatal(err)
		}
		testKeys = k
	}

	return testKeys
}

func testConfig() *imagegen.Config {
	return &imagegen.Config{
		Revision:       [2]uint32{1, 2},
		VendorKeyIndex: 1,
		FMC: imagegen.Segment{
			Data:       bytes.Repeat([]byte{0xf0}, 256),
			SVN:        3,
			MinSVN:     1,
			LoadAddr:   iccm.Start,
			EntryPoint: iccm.Start,
		},
		Runtime: imagegen.Segment{
			Data:       bytes.Repeat([]byte{0x0e}, 512),
			SVN:        5,
			MinSVN:     5,
			LoadAddr:   iccm.Start + 0x1000,
			EntryPoint: iccm.Start + 0x1100,
		},
	}
}

type fixture struct {
	cfg    *imagegen.Config
	bundle *image.Bundle
	env    *testEnv
}

// verifyWith builds a signed image, lets the test case tamper with it and
// the environment, then verifies the serialized result.
func verifyWith(t *testing.T, configure func(*imagegen.Config), tamper func(*fixture)) (*Info, error) {
	t.Helper()

	k := keys(t)
	f := &fixture{cfg: testConfig()}

	if configure != nil {
		configure(f.cfg)
	}

	b, err := imagegen.Build(k, f.cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	f.bundle = b

	vendor, owner, err := imagegen.FuseDigests(&b.Manifest)
	if err != nil {
		t.Fatal(err)
	}

	f.env = &testEnv{
		Fuses: &hwmodel.Fuses{
			VendorKeyDigest: vendor,
			OwnerKeyDigest:  owner,
			LifecycleState:  hw.LifecycleProduction,
		},
		ecc: hwmodel.NewECC384(&keyvault.Vault{}),
	}

	if tamper != nil {
		tamper(f)
	}

	buf, err := b.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}

	if f.env.img == nil {
		f.env.img = buf
	}

	m, err := image.Parse(f.env.img)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	return New(f.env).Verify(&m, uint32(len(f.env.img)))
}

func resign(t *testing.T, f *fixture) {
	t.Helper()
	if err := imagegen.Resign(keys(t), f.bundle); err != nil {
		t.Fatal(err)
	}
}

func TestVerifySuccess(t *testing.T) {
	info, err := verifyWith(t, nil, nil)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	cfg := testConfig()

	want := &Info{
		VendorPubKeyIndex: 1,
		FMC: EntryInfo{
			SVN:        cfg.FMC.SVN,
			LoadAddr:   cfg.FMC.LoadAddr,
			EntryPoint: cfg.FMC.EntryPoint,
			Offset:     image.ManifestSize,
			Size:       256,
			Digest:     sha512.Sum384(cfg.FMC.Data),
		},
		Runtime: EntryInfo{
			SVN:        cfg.Runtime.SVN,
			LoadAddr:   cfg.Runtime.LoadAddr,
			EntryPoint: cfg.Runtime.EntryPoint,
			Offset:     image.ManifestSize + 256,
			Size:       512,
			Digest:     sha512.Sum384(cfg.Runtime.Data),
		},
	}

	// owner key digest is random with the keys
	if diff := cmp.Diff(want, info, cmp.FilterPath(func(p cmp.Path) bool {
		return p.Last().String() == ".OwnerPubKeyDigest"
	}, cmp.Ignore())); diff != "" {
		t.Errorf("Info diff (-want +got):\n%s", diff)
	}

	if info.OwnerPubKeyDigest.IsZero() {
		t.Error("owner key digest not reported")
	}
}

func TestVerifyFailures(t *testing.T) {
	for _, test := range []struct {
		name      string
		configure func(*imagegen.Config)
		tamper    func(*testing.T, *fixture)
		want      fault.Kind
	}{
		{
			name: "FMC byte flipped",
			tamper: func(_ *testing.T, f *fixture) {
				f.bundle.FMC = bytes.Clone(f.bundle.FMC)
				f.bundle.FMC[100] ^= 1
			},
			want: fault.DigestMismatch,
		}, {
			name: "runtime byte flipped",
			tamper: func(_ *testing.T, f *fixture) {
				f.bundle.Runtime = bytes.Clone(f.bundle.Runtime)
				f.bundle.Runtime[511] ^= 0x80
			},
			want: fault.DigestMismatch,
		}, {
			name: "TOC digest",
			tamper: func(t *testing.T, f *fixture) {
				f.bundle.Manifest.Header.TOCDigest[0] ^= 1
				resign(t, f)
			},
			want: fault.DigestMismatch,
		}, {
			name: "TOC modified after signing",
			tamper: func(_ *testing.T, f *fixture) {
				f.bundle.Manifest.FMC.SVN++
			},
			want: fault.DigestMismatch,
		}, {
			name: "selected vendor key revoked",
			tamper: func(_ *testing.T, f *fixture) {
				f.env.VendorKeyRevocation = 1 << 1
			},
			want: fault.KeyRevoked,
		}, {
			name: "revocation checked before content",
			tamper: func(_ *testing.T, f *fixture) {
				f.env.VendorKeyRevocation = 1<<1 | 1<<3
				f.bundle.FMC = bytes.Repeat([]byte{0}, 256)
			},
			want: fault.KeyRevoked,
		}, {
			name: "vendor index out of range",
			tamper: func(_ *testing.T, f *fixture) {
				f.bundle.Manifest.Preamble.VendorPubKeyIndex = image.VendorECCKeyCount
			},
			want: fault.ManifestMalformed,
		}, {
			name: "unsigned vendor index",
			tamper: func(t *testing.T, f *fixture) {
				f.bundle.Manifest.Preamble.VendorPubKeyIndex = 2
				resign(t, f)
			},
			want: fault.ManifestMalformed,
		}, {
			name: "vendor signature",
			tamper: func(_ *testing.T, f *fixture) {
				f.bundle.Manifest.Preamble.VendorSig = f.bundle.Manifest.Preamble.OwnerSig
			},
			want: fault.SignatureInvalid,
		}, {
			name: "owner signature",
			tamper: func(_ *testing.T, f *fixture) {
				f.bundle.Manifest.Preamble.OwnerSig.S[20] ^= 4
			},
			want: fault.SignatureInvalid,
		}, {
			name: "vendor keys not fused",
			tamper: func(_ *testing.T, f *fixture) {
				f.env.VendorKeyDigest[47] ^= 1
			},
			want: fault.TrustRootMismatch,
		}, {
			name: "owner key not fused",
			tamper: func(_ *testing.T, f *fixture) {
				f.env.OwnerKeyDigest = hw.Digest{}
			},
			want: fault.TrustRootMismatch,
		}, {
			name: "SVN below image minimum",
			configure: func(c *imagegen.Config) {
				c.FMC.MinSVN = c.FMC.SVN + 1
			},
			want: fault.RollbackViolation,
		}, {
			name: "SVN below fused minimum",
			tamper: func(_ *testing.T, f *fixture) {
				f.env.RuntimeMinSVN = 6
			},
			want: fault.RollbackViolation,
		}, {
			name: "SVN below recorded",
			tamper: func(_ *testing.T, f *fixture) {
				f.env.svns = hw.SVNs{FMC: 4}
			},
			want: fault.RollbackViolation,
		}, {
			name: "warm boot with another vendor key",
			tamper: func(_ *testing.T, f *fixture) {
				f.env.record = &hw.BootRecord{
					VendorPubKeyIndex: 0,
					FMCDigest:         f.bundle.Manifest.FMC.Digest,
				}
				f.env.record.OwnerPubKeyDigest, _ = ownerDigest(f)
			},
			want: fault.TrustRootMismatch,
		}, {
			name: "warm boot with another owner key",
			tamper: func(_ *testing.T, f *fixture) {
				f.env.record = &hw.BootRecord{
					VendorPubKeyIndex: 1,
					OwnerPubKeyDigest: hw.Digest{1},
					FMCDigest:         f.bundle.Manifest.FMC.Digest,
				}
			},
			want: fault.TrustRootMismatch,
		}, {
			name: "warm boot with another FMC",
			tamper: func(_ *testing.T, f *fixture) {
				f.env.record = &hw.BootRecord{VendorPubKeyIndex: 1}
				f.env.record.OwnerPubKeyDigest, _ = ownerDigest(f)
			},
			want: fault.TrustRootMismatch,
		}, {
			name: "load address outside ICCM",
			configure: func(c *imagegen.Config) {
				c.Runtime.LoadAddr = iccm.End - 0x100
				c.Runtime.EntryPoint = iccm.End - 0x100
			},
			want: fault.AddressOutOfRange,
		}, {
			name: "entry point outside segment",
			configure: func(c *imagegen.Config) {
				c.FMC.EntryPoint = c.FMC.LoadAddr + 256
			},
			want: fault.AddressOutOfRange,
		}, {
			name: "overlapping segments",
			configure: func(c *imagegen.Config) {
				c.Runtime.LoadAddr = c.FMC.LoadAddr + 0x80
				c.Runtime.EntryPoint = c.Runtime.LoadAddr
			},
			want: fault.AddressOutOfRange,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			var tamper func(*fixture)
			if test.tamper != nil {
				tamper = func(f *fixture) { test.tamper(t, f) }
			}

			_, err := verifyWith(t, test.configure, tamper)
			if got := fault.KindOf(err); got != test.want {
				t.Fatalf("Verify: %v, want %v", err, test.want)
			}
		})
	}
}

func ownerDigest(f *fixture) (hw.Digest, error) {
	_, owner, err := imagegen.FuseDigests(&f.bundle.Manifest)
	return owner, err
}

func TestVerifyAccepted(t *testing.T) {
	for _, test := range []struct {
		name      string
		configure func(*imagegen.Config)
		tamper    func(*fixture)
		warm      bool
	}{
		{
			name: "other vendor key revoked",
			tamper: func(f *fixture) {
				f.env.VendorKeyRevocation = 1<<0 | 1<<2 | 1<<3
			},
		}, {
			name: "anti-rollback disabled",
			configure: func(c *imagegen.Config) {
				c.FMC.MinSVN = c.FMC.SVN + 1
			},
			tamper: func(f *fixture) {
				f.env.DisableAntiRollback = true
				f.env.FMCMinSVN = 10
				f.env.svns = hw.SVNs{FMC: 10, Runtime: 10}
			},
		}, {
			name: "unfused unprovisioned device",
			tamper: func(f *fixture) {
				f.env.VendorKeyDigest = hw.Digest{}
				f.env.OwnerKeyDigest = hw.Digest{}
				f.env.LifecycleState = hw.LifecycleUnprovisioned
			},
		}, {
			name: "SVNs equal to minimums",
			tamper: func(f *fixture) {
				f.env.FMCMinSVN = 3
				f.env.svns = hw.SVNs{FMC: 3, Runtime: 5}
			},
		}, {
			name: "warm boot with the same trust roots",
			tamper: func(f *fixture) {
				f.env.record = &hw.BootRecord{
					VendorPubKeyIndex: 1,
					FMCDigest:         f.bundle.Manifest.FMC.Digest,
				}
				f.env.record.OwnerPubKeyDigest, _ = ownerDigest(f)
			},
			warm: true,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			info, err := verifyWith(t, test.configure, test.tamper)
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}

			if info.WarmBoot != test.warm {
				t.Errorf("WarmBoot = %v, want %v", info.WarmBoot, test.warm)
			}
		})
	}
}

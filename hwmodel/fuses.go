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
	"crypto/aes"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/transparency-dev/armored-witness-rom/hw"
)

// Fuses models the fuse bank.
type Fuses struct {
	ObfuscatedUDS []byte
	ObfuscatedFE  []byte

	VendorKeyDigest     hw.Digest
	VendorKeyRevocation uint32
	OwnerKeyDigest      hw.Digest
	DisableAntiRollback bool
	FMCMinSVN           uint32
	RuntimeMinSVN       uint32
	LifecycleState      hw.Lifecycle
	DeviceUEID          [hw.UEIDSize]byte
}

// VendorPubKeyDigest implements hw.FuseBank.
func (f *Fuses) VendorPubKeyDigest() hw.Digest { return f.VendorKeyDigest }

// VendorPubKeyRevocation implements hw.FuseBank.
func (f *Fuses) VendorPubKeyRevocation() uint32 { return f.VendorKeyRevocation }

// OwnerPubKeyDigest implements hw.FuseBank.
func (f *Fuses) OwnerPubKeyDigest() hw.Digest { return f.OwnerKeyDigest }

// AntiRollbackDisable implements hw.FuseBank.
func (f *Fuses) AntiRollbackDisable() bool { return f.DisableAntiRollback }

// FMCSVN implements hw.FuseBank.
func (f *Fuses) FMCSVN() uint32 { return f.FMCMinSVN }

// RuntimeSVN implements hw.FuseBank.
func (f *Fuses) RuntimeSVN() uint32 { return f.RuntimeMinSVN }

// Lifecycle implements hw.FuseBank.
func (f *Fuses) Lifecycle() hw.Lifecycle { return f.LifecycleState }

// UEID implements hw.FuseBank.
func (f *Fuses) UEID() [hw.UEIDSize]byte { return f.DeviceUEID }

// HexBytes is a byte string encoded in YAML as hexadecimal.
type HexBytes []byte

// UnmarshalYAML implements yaml.Unmarshaler.
func (h *HexBytes) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected hex string", value.Line)
	}

	s := strings.TrimPrefix(strings.ReplaceAll(value.Value, " ", ""), "0x")

	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("line %d: %v", value.Line, err)
	}

	*h = b

	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (h HexBytes) MarshalYAML() (interface{}, error) {
	return hex.EncodeToString(h), nil
}

func (h HexBytes) fixed(name string, dst []byte) error {
	switch len(h) {
	case 0:
		return nil
	case len(dst):
		copy(dst, h)
		return nil
	}

	return fmt.Errorf("%s: invalid length %d, expected %d", name, len(h), len(dst))
}

// Provisioning describes the manufacturing time state of a device: plaintext
// device secrets, fuse values and optional overrides of the ROM constants.
type Provisioning struct {
	ObfuscationKey HexBytes `yaml:"obfuscation_key"`
	UDS            HexBytes `yaml:"uds"`
	FieldEntropy   HexBytes `yaml:"field_entropy"`

	VendorPubKeyDigest     HexBytes `yaml:"vendor_pub_key_digest"`
	VendorPubKeyRevocation uint32   `yaml:"vendor_pub_key_revocation"`
	OwnerPubKeyDigest      HexBytes `yaml:"owner_pub_key_digest"`
	AntiRollbackDisable    bool     `yaml:"anti_rollback_disable"`
	FMCSVN                 uint32   `yaml:"fmc_svn"`
	RuntimeSVN             uint32   `yaml:"runtime_svn"`
	Lifecycle              string   `yaml:"lifecycle"`
	UEID                   HexBytes `yaml:"ueid"`

	GenIDevIDCSR bool `yaml:"gen_idevid_csr"`

	// Optional ROM constant overrides.
	UDSIV        HexBytes `yaml:"uds_iv,omitempty"`
	FEIV         HexBytes `yaml:"fe_iv,omitempty"`
	IDevIDCDIKey HexBytes `yaml:"idevid_cdi_key,omitempty"`
}

// LoadProvisioning parses a YAML provisioning document from path.
func LoadProvisioning(path string) (*Provisioning, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return ParseProvisioning(buf)
}

// ParseProvisioning parses a YAML provisioning document.
func ParseProvisioning(buf []byte) (*Provisioning, error) {
	p := &Provisioning{}

	if err := yaml.Unmarshal(buf, p); err != nil {
		return nil, fmt.Errorf("could not parse provisioning (%v)", err)
	}

	if len(p.ObfuscationKey) != ObfuscationKeySize {
		return nil, fmt.Errorf("obfuscation_key: invalid length %d", len(p.ObfuscationKey))
	}

	for _, s := range []struct {
		name string
		b    HexBytes
	}{
		{"uds", p.UDS},
		{"field_entropy", p.FieldEntropy},
	} {
		if len(s.b) == 0 || len(s.b)%aes.BlockSize != 0 || len(s.b) > hw.ScalarSize {
			return nil, fmt.Errorf("%s: invalid length %d", s.name, len(s.b))
		}
	}

	if _, err := parseLifecycle(p.Lifecycle); err != nil {
		return nil, err
	}

	return p, nil
}

func parseLifecycle(s string) (hw.Lifecycle, error) {
	for _, l := range []hw.Lifecycle{hw.LifecycleUnprovisioned, hw.LifecycleManufacturing, hw.LifecycleProduction} {
		if s == l.String() {
			return l, nil
		}
	}

	if s == "" {
		return hw.LifecycleUnprovisioned, nil
	}

	return 0, fmt.Errorf("lifecycle: invalid state %q", s)
}

// Key returns the obfuscation key.
func (p *Provisioning) Key() (k [ObfuscationKeySize]byte) {
	copy(k[:], p.ObfuscationKey)
	return
}

// Fuses returns the fuse bank content for p, obfuscating the device secrets
// with the DOE initialization vectors the ROM uses to decrypt them.
func (p *Provisioning) Fuses(udsIV, feIV [aes.BlockSize]byte) (f *Fuses, err error) {
	f = &Fuses{
		VendorKeyRevocation: p.VendorPubKeyRevocation,
		DisableAntiRollback: p.AntiRollbackDisable,
		FMCMinSVN:           p.FMCSVN,
		RuntimeMinSVN:       p.RuntimeSVN,
	}

	if f.LifecycleState, err = parseLifecycle(p.Lifecycle); err != nil {
		return nil, err
	}

	if err = p.VendorPubKeyDigest.fixed("vendor_pub_key_digest", f.VendorKeyDigest[:]); err != nil {
		return nil, err
	}

	if err = p.OwnerPubKeyDigest.fixed("owner_pub_key_digest", f.OwnerKeyDigest[:]); err != nil {
		return nil, err
	}

	if err = p.UEID.fixed("ueid", f.DeviceUEID[:]); err != nil {
		return nil, err
	}

	if f.ObfuscatedUDS, err = Obfuscate(p.Key(), udsIV, p.UDS); err != nil {
		return nil, fmt.Errorf("uds: %v", err)
	}

	if f.ObfuscatedFE, err = Obfuscate(p.Key(), feIV, p.FieldEntropy); err != nil {
		return nil, fmt.Errorf("field_entropy: %v", err)
	}

	return
}

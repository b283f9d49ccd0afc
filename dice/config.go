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

package dice

import (
	"fmt"

	"github.com/transparency-dev/armored-witness-rom/hw"
	"github.com/transparency-dev/armored-witness-rom/keyvault"
)

// Key slot assignments.
const (
	KeyIDUDS           = keyvault.KeyID0
	KeyIDFE            = keyvault.KeyID1
	KeyIDLDevIDPrivKey = keyvault.KeyID5
	KeyIDCDI           = keyvault.KeyID6
	KeyIDIDevIDPrivKey = keyvault.KeyID7
)

// Config holds the fixed cryptographic constants of the DICE layers.
type Config struct {
	// UDSIV and FEIV are the deobfuscation initialization vectors of the
	// fused secrets.
	UDSIV [16]byte
	FEIV  [16]byte
	// IDevIDCDIKey is the HMAC key deriving the IDevID CDI from the UDS.
	IDevIDCDIKey [hw.ScalarSize]byte
}

// DefaultConfig returns the reference ROM constants.
func DefaultConfig() Config {
	iv := [16]byte{
		0xfb, 0x10, 0x36, 0x5b, 0xa1, 0x17, 0x97, 0x41,
		0xfb, 0xa1, 0x93, 0xa1, 0x0f, 0x40, 0x6d, 0x7e,
	}

	return Config{
		UDSIV: iv,
		FEIV:  iv,
		IDevIDCDIKey: [hw.ScalarSize]byte{
			0x5b, 0xd3, 0xc5, 0x75, 0x2b, 0xa3, 0x59, 0xa2,
			0x69, 0x6c, 0x97, 0xf0, 0x56, 0xf5, 0x94, 0xa3,
			0x61, 0x30, 0xc1, 0x06, 0xed, 0xcd, 0xdd, 0xdb,
			0xd0, 0x10, 0x44, 0xf6, 0xf2, 0xd3, 0x02, 0xd8,
			0xee, 0xef, 0xec, 0x92, 0xa0, 0xeb, 0xfa, 0xa0,
			0x36, 0xbf, 0x2d, 0x20, 0x05, 0x35, 0xdf, 0x6f,
		},
	}
}

// Override replaces the constants for which a non-empty value is given, as
// found in a provisioning document.
func (c Config) Override(udsIV, feIV, cdiKey []byte) (Config, error) {
	for _, o := range []struct {
		name string
		src  []byte
		dst  []byte
	}{
		{"UDS IV", udsIV, c.UDSIV[:]},
		{"FE IV", feIV, c.FEIV[:]},
		{"IDevID CDI key", cdiKey, c.IDevIDCDIKey[:]},
	} {
		switch len(o.src) {
		case 0:
		case len(o.dst):
			copy(o.dst, o.src)
		default:
			return c, fmt.Errorf("%s: invalid length %d", o.name, len(o.src))
		}
	}

	return c, nil
}

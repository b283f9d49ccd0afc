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

package ft

import (
	"crypto/sha512"

	"github.com/transparency-dev/armored-witness-rom/fault"
	"github.com/transparency-dev/armored-witness-rom/hw"
	"github.com/transparency-dev/armored-witness-rom/image"
)

// Check verifies that the image in buf is the one described by r.
func Check(r *Release, buf []byte) error {
	m, err := image.Parse(buf)
	if err != nil {
		return err
	}

	if d := sha512.Sum384(buf[:image.ManifestSize]); d != r.ManifestSHA384 {
		return fault.New(fault.DigestMismatch, "release", "manifest digest %x does not match %x", d, r.ManifestSHA384)
	}

	for _, c := range []struct {
		name     string
		toc      *image.TOCEntry
		released hw.Digest
	}{
		{"FMC", &m.FMC, r.FMCSHA384},
		{"runtime", &m.Runtime, r.RuntimeSHA384},
	} {
		if d := sha512.Sum384(buf[c.toc.Offset : c.toc.Offset+c.toc.Size]); d != c.released {
			return fault.New(fault.DigestMismatch, "release", "%s digest %x does not match %x", c.name, d, c.released)
		}
	}

	return nil
}

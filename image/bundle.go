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

package image

import (
	"fmt"
)

// Bundle represents a complete firmware image: manifest, FMC and Runtime.
type Bundle struct {
	Manifest Manifest
	FMC      []byte
	Runtime  []byte
}

// Bytes serializes the bundle, checking the manifest TOC entries against the
// actual segments.
func (b *Bundle) Bytes() ([]byte, error) {
	buf, err := b.Manifest.MarshalBinary()
	if err != nil {
		return nil, err
	}

	for _, s := range []struct {
		name string
		toc  *TOCEntry
		data []byte
	}{
		{"fmc", &b.Manifest.FMC, b.FMC},
		{"runtime", &b.Manifest.Runtime, b.Runtime},
	} {
		if int(s.toc.Offset) != len(buf) {
			return nil, fmt.Errorf("actual %s offset %d does not match manifest (%d)", s.name, len(buf), s.toc.Offset)
		}
		if int(s.toc.Size) != len(s.data) {
			return nil, fmt.Errorf("actual %s size %d does not match manifest (%d)", s.name, len(s.data), s.toc.Size)
		}
		buf = append(buf, s.data...)
	}

	if len(buf) > ImageByteSize {
		return nil, fmt.Errorf("image size %d exceeds %d", len(buf), ImageByteSize)
	}

	return buf, nil
}

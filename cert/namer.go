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

package cert

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/transparency-dev/armored-witness-rom/hw"
)

// KeyIDSize is the size of a subject key identifier.
const KeyIDSize = sha1.Size

// KeyIDNamer derives DICE subject identifiers from the public key alone: the
// serial number is the uppercase hex SHA-256 of the uncompressed point and
// the key identifier its SHA-1, as for RFC 5280 method 1.
type KeyIDNamer struct{}

// SubjectSN implements the DICE naming scheme.
func (KeyIDNamer) SubjectSN(pub hw.PubKey) string {
	d := sha256.Sum256(pub.Bytes())
	return strings.ToUpper(hex.EncodeToString(d[:]))
}

// SubjectKeyID implements the DICE naming scheme.
func (KeyIDNamer) SubjectKeyID(pub hw.PubKey) [KeyIDSize]byte {
	return sha1.Sum(pub.Bytes())
}

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

// Range is the half-open byte range [Start, End).
type Range struct {
	Start uint32
	End   uint32
}

// Len returns the length of the range, zero for an inverted range.
func (r Range) Len() uint32 {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start
}

// Empty reports whether the range covers no bytes.
func (r Range) Empty() bool {
	return r.Len() == 0
}

// Contains reports whether addr lies within the range.
func (r Range) Contains(addr uint32) bool {
	return addr >= r.Start && addr < r.End
}

// ContainsRange reports whether o lies entirely within the range.
func (r Range) ContainsRange(o Range) bool {
	return !o.Empty() && o.Start >= r.Start && o.End <= r.End
}

func (r Range) String() string {
	return fmt.Sprintf("[%#x, %#x)", r.Start, r.End)
}

// VendorPubKeysRange returns the range of the vendor public key block.
func VendorPubKeysRange() Range {
	return Range{Start: vendorPubKeysOffset, End: vendorPubKeysOffset + vendorPubKeysSize}
}

// VendorPubKeyRange returns the range of the vendor public key at idx, or an
// empty range if idx is out of bounds.
func VendorPubKeyRange(idx uint32) Range {
	if idx >= VendorECCKeyCount {
		return Range{}
	}

	start := vendorPubKeysOffset + idx*pubKeySize

	return Range{Start: start, End: start + pubKeySize}
}

// OwnerPubKeyRange returns the range of the owner public key.
func OwnerPubKeyRange() Range {
	return Range{Start: ownerPubKeyOffset, End: ownerPubKeyOffset + pubKeySize}
}

// HeaderRange returns the range of the header.
func HeaderRange() Range {
	return Range{Start: headerOffset, End: headerOffset + headerSize}
}

// TOCRange returns the range of the table of contents.
func TOCRange() Range {
	return Range{Start: tocOffset, End: tocOffset + MaxTOCEntryCount*tocEntrySize}
}

// SignedRange returns the range covered by the vendor and owner signatures:
// the header followed by the table of contents.
func SignedRange() Range {
	return Range{Start: HeaderRange().Start, End: TOCRange().End}
}

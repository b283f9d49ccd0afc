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
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/transparency-dev/armored-witness-rom/fault"
)

const (
	fmcSize     = 100
	runtimeSize = 200
)

func testManifest() *Manifest {
	m := &Manifest{
		Marker: ManifestMarker,
		Size:   ManifestSize,
	}

	for i := range m.Preamble.VendorPubKeys {
		m.Preamble.VendorPubKeys[i].X[0] = byte(0xa0 + i)
		m.Preamble.VendorPubKeys[i].Y[47] = byte(0xb0 + i)
	}
	m.Preamble.VendorPubKeyIndex = 3
	m.Preamble.VendorSig.R[0] = 0x11
	m.Preamble.OwnerPubKey.X[0] = 0x22
	m.Preamble.OwnerPubKey.Y[47] = 0x23
	m.Preamble.OwnerSig.S[47] = 0x33

	m.Header.Revision = [2]uint32{7, 8}
	m.Header.VendorPubKeyIndex = 3
	m.Header.TOCLen = MaxTOCEntryCount
	m.Header.TOCDigest[0] = 0x44
	copy(m.Header.VendorNotBefore[:], "20230101000000Z")

	m.FMC = TOCEntry{
		ID:         TOCEntryIDFMC,
		Type:       TOCEntryTypeExecutable,
		SVN:        1,
		LoadAddr:   0x40000000,
		EntryPoint: 0x40000000,
		Offset:     ManifestSize,
		Size:       fmcSize,
	}
	m.FMC.Revision[0] = 0x55

	m.Runtime = TOCEntry{
		ID:         TOCEntryIDRuntime,
		Type:       TOCEntryTypeExecutable,
		SVN:        2,
		LoadAddr:   0x40010000,
		EntryPoint: 0x40010004,
		Offset:     ManifestSize + fmcSize,
		Size:       runtimeSize,
	}
	m.Runtime.Digest[47] = 0x66

	return m
}

func testImage(t *testing.T, m *Manifest) []byte {
	t.Helper()

	buf, err := m.MarshalBinary()
	require.NoError(t, err)

	return append(buf, make([]byte, fmcSize+runtimeSize)...)
}

func TestLayout(t *testing.T) {
	require.Equal(t, 1020, ManifestSize)

	buf, err := testManifest().MarshalBinary()
	require.NoError(t, err)
	require.Len(t, buf, ManifestSize)

	for _, test := range []struct {
		name string
		got  Range
		want Range
	}{
		{"vendor keys", VendorPubKeysRange(), Range{8, 392}},
		{"owner key", OwnerPubKeyRange(), Range{492, 588}},
		{"header", HeaderRange(), Range{692, 820}},
		{"toc", TOCRange(), Range{820, 1020}},
		{"signed", SignedRange(), Range{692, 1020}},
	} {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.want, test.got)
		})
	}

	// fields land where the ranges say
	m := testManifest()
	r := OwnerPubKeyRange()
	require.Equal(t, m.Preamble.OwnerPubKey.Bytes()[1:], buf[r.Start:r.End])

	r = VendorPubKeyRange(2)
	require.Equal(t, m.Preamble.VendorPubKeys[2].Bytes()[1:], buf[r.Start:r.End])
}

func TestVendorPubKeyRange(t *testing.T) {
	all := VendorPubKeysRange()
	prev := all.Start

	for i := uint32(0); i < VendorECCKeyCount; i++ {
		r := VendorPubKeyRange(i)
		require.Equal(t, prev, r.Start)
		require.Equal(t, uint32(96), r.Len())
		require.True(t, all.ContainsRange(r))
		prev = r.End
	}
	require.Equal(t, all.End, prev)

	require.True(t, VendorPubKeyRange(VendorECCKeyCount).Empty())
	require.True(t, VendorPubKeyRange(0xffffffff).Empty())
}

func TestParse(t *testing.T) {
	want := testManifest()

	got, err := Parse(testImage(t, want))
	require.NoError(t, err)

	if diff := cmp.Diff(*want, got); diff != "" {
		t.Fatalf("Parse diff (-want +got):\n%s", diff)
	}

	require.Equal(t, uint32(ManifestSize+fmcSize+runtimeSize), got.ImageSize())
}

func TestParseErrors(t *testing.T) {
	for _, test := range []struct {
		name   string
		mutate func(*Manifest)
		resize func([]byte) []byte
	}{
		{
			name:   "short buffer",
			resize: func(b []byte) []byte { return b[:ManifestSize-1] },
		}, {
			name:   "bad marker",
			mutate: func(m *Manifest) { m.Marker = 0x4E414D44 },
		}, {
			name:   "bad size",
			mutate: func(m *Manifest) { m.Size = ManifestSize + 4 },
		}, {
			name:   "toc length",
			mutate: func(m *Manifest) { m.Header.TOCLen = 1 },
		}, {
			name:   "fmc id",
			mutate: func(m *Manifest) { m.FMC.ID = TOCEntryIDRuntime },
		}, {
			name:   "runtime id",
			mutate: func(m *Manifest) { m.Runtime.ID = 3 },
		}, {
			name:   "runtime type",
			mutate: func(m *Manifest) { m.Runtime.Type = 0 },
		}, {
			name: "empty fmc",
			mutate: func(m *Manifest) {
				m.FMC.Size = 0
				m.Runtime.Offset = ManifestSize
			},
		}, {
			name:   "empty runtime",
			mutate: func(m *Manifest) { m.Runtime.Size = 0 },
		}, {
			name:   "fmc not after manifest",
			mutate: func(m *Manifest) { m.FMC.Offset = ManifestSize + 4 },
		}, {
			name:   "runtime not after fmc",
			mutate: func(m *Manifest) { m.Runtime.Offset++ },
		}, {
			name:   "runtime overlaps fmc",
			mutate: func(m *Manifest) { m.Runtime.Offset-- },
		}, {
			name:   "overflowing range",
			mutate: func(m *Manifest) { m.Runtime.Size = 0xffffffff },
		}, {
			name:   "beyond buffer",
			resize: func(b []byte) []byte { return b[:len(b)-1] },
		}, {
			name: "beyond maximum image size",
			mutate: func(m *Manifest) {
				m.Runtime.Size = ImageByteSize
			},
			resize: func(b []byte) []byte { return append(b, make([]byte, ImageByteSize)...) },
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			m := testManifest()
			if test.mutate != nil {
				test.mutate(m)
			}

			buf := testImage(t, m)
			if test.resize != nil {
				buf = test.resize(buf)
			}

			_, err := Parse(buf)
			require.ErrorIs(t, err, fault.ErrManifestMalformed)
		})
	}
}

func TestParseNoImplicitByteOrder(t *testing.T) {
	buf := testImage(t, testManifest())

	// any byte of the marker matters
	for i := 0; i < 4; i++ {
		b := bytes.Clone(buf)
		b[i] ^= 0xff
		_, err := Parse(b)
		require.Error(t, err)
	}
}

func TestRange(t *testing.T) {
	r := Range{Start: 10, End: 20}

	require.Equal(t, uint32(10), r.Len())
	require.True(t, r.Contains(10))
	require.True(t, r.Contains(19))
	require.False(t, r.Contains(20))
	require.True(t, r.ContainsRange(Range{12, 20}))
	require.False(t, r.ContainsRange(Range{12, 21}))
	require.False(t, r.ContainsRange(Range{12, 12}))

	inverted := Range{Start: 20, End: 10}
	require.True(t, inverted.Empty())
	require.Zero(t, inverted.Len())

	e := TOCEntry{Offset: 0xffffff00, Size: 0x200}
	require.True(t, e.ImageRange().Empty())
}

func TestBundleBytes(t *testing.T) {
	for _, test := range []struct {
		name    string
		mutate  func(*Bundle)
		wantErr bool
	}{
		{
			name: "ok",
		}, {
			name:    "fmc size mismatch",
			mutate:  func(b *Bundle) { b.FMC = b.FMC[1:] },
			wantErr: true,
		}, {
			name:    "runtime offset mismatch",
			mutate:  func(b *Bundle) { b.Manifest.Runtime.Offset++ },
			wantErr: true,
		}, {
			name: "too large",
			mutate: func(b *Bundle) {
				b.Runtime = make([]byte, ImageByteSize)
				b.Manifest.Runtime.Size = ImageByteSize
			},
			wantErr: true,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			b := &Bundle{
				Manifest: *testManifest(),
				FMC:      bytes.Repeat([]byte{1}, fmcSize),
				Runtime:  bytes.Repeat([]byte{2}, runtimeSize),
			}
			if test.mutate != nil {
				test.mutate(b)
			}

			buf, err := b.Bytes()
			if test.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, buf, ManifestSize+fmcSize+runtimeSize)

			m, err := Parse(buf)
			require.NoError(t, err)
			require.Equal(t, b.Manifest, m)
		})
	}
}

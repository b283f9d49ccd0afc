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
	"bytes"
	"crypto/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/mod/sumdb/note"

	"github.com/transparency-dev/armored-witness-rom/fault"
	"github.com/transparency-dev/armored-witness-rom/image"
	"github.com/transparency-dev/armored-witness-rom/internal/imagegen"
)

func testImage(t *testing.T) []byte {
	t.Helper()

	k, err := imagegen.GenerateKeys()
	require.NoError(t, err)

	b, err := imagegen.Build(k, &imagegen.Config{
		FMC: imagegen.Segment{
			Data:       bytes.Repeat([]byte{1}, 64),
			SVN:        2,
			LoadAddr:   0x40000000,
			EntryPoint: 0x40000000,
		},
		Runtime: imagegen.Segment{
			Data:       bytes.Repeat([]byte{2}, 64),
			SVN:        9,
			LoadAddr:   0x40001000,
			EntryPoint: 0x40001000,
		},
	})
	require.NoError(t, err)

	buf, err := b.Bytes()
	require.NoError(t, err)

	return buf
}

func testKeys(t *testing.T, name string) (note.Signer, note.Verifier) {
	t.Helper()

	skey, vkey, err := note.GenerateKey(rand.Reader, name)
	require.NoError(t, err)

	s, err := note.NewSigner(skey)
	require.NoError(t, err)

	v, err := note.NewVerifier(vkey)
	require.NoError(t, err)

	return s, v
}

func TestSignOpenCheck(t *testing.T) {
	img := testImage(t)
	s, v := testKeys(t, "rom-release")

	r, err := NewRelease(img, GitInfo{TagName: "v0.1.0", CommitFP: "abcdef"})
	require.NoError(t, err)
	require.Equal(t, uint32(9), r.RuntimeSVN)

	msg, err := Sign(r, s)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(msg), `"component": "armored-witness-rom-image"`), string(msg))

	got, err := Open(msg, note.VerifierList(v))
	require.NoError(t, err)
	require.Equal(t, r, got)
	require.NoError(t, Check(got, img))
}

func TestOpenRejectsUnknownSigner(t *testing.T) {
	img := testImage(t)
	s, _ := testKeys(t, "rom-release")
	_, other := testKeys(t, "rom-release")

	r, err := NewRelease(img, GitInfo{})
	require.NoError(t, err)

	msg, err := Sign(r, s)
	require.NoError(t, err)

	_, err = Open(msg, note.VerifierList(other))
	require.Error(t, err)
}

func TestOpenRejectsOtherComponents(t *testing.T) {
	s, v := testKeys(t, "rom-release")

	msg, err := note.Sign(&note.Note{Text: "{\"component\": \"trusted-os\"}\n"}, s)
	require.NoError(t, err)

	_, err = Open(msg, note.VerifierList(v))
	require.Error(t, err)
}

func TestCheckMismatch(t *testing.T) {
	img := testImage(t)

	r, err := NewRelease(img, GitInfo{})
	require.NoError(t, err)

	for _, test := range []struct {
		name   string
		offset int
	}{
		{name: "manifest", offset: 100},
		{name: "fmc", offset: image.ManifestSize},
		{name: "runtime", offset: len(img) - 1},
	} {
		t.Run(test.name, func(t *testing.T) {
			tampered := bytes.Clone(img)
			tampered[test.offset] ^= 1

			err := Check(r, tampered)
			require.ErrorIs(t, err, fault.ErrDigestMismatch)
		})
	}
}

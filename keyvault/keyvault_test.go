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

package keyvault

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/transparency-dev/armored-witness-rom/fault"
)

func readSecret(t *testing.T, v *Vault, id KeyID, usage Usage) ([]byte, error) {
	t.Helper()
	var got []byte
	err := v.Read(id, usage, func(s []byte) error {
		got = bytes.Clone(s)
		return nil
	})
	return got, err
}

func TestReadUsage(t *testing.T) {
	v := &Vault{}
	secret := bytes.Repeat([]byte{0xa5}, MaxSecretSize)
	require.NoError(t, v.Write(KeyID3, UsageHMACKey|UsageECCKeyGenSeed, secret))

	for _, test := range []struct {
		name     string
		id       KeyID
		usage    Usage
		wantKind fault.Kind
	}{
		{
			name:  "single permitted usage",
			id:    KeyID3,
			usage: UsageHMACKey,
		}, {
			name:  "all permitted usages",
			id:    KeyID3,
			usage: UsageHMACKey | UsageECCKeyGenSeed,
		}, {
			name:     "denied usage",
			id:       KeyID3,
			usage:    UsageECCPrivateKey,
			wantKind: fault.UsageDenied,
		}, {
			name:     "partially denied usage",
			id:       KeyID3,
			usage:    UsageHMACKey | UsageHMACData,
			wantKind: fault.UsageDenied,
		}, {
			name:     "no usage",
			id:       KeyID3,
			wantKind: fault.UsageDenied,
		}, {
			name:     "empty slot",
			id:       KeyID4,
			usage:    UsageHMACKey,
			wantKind: fault.UsageDenied,
		}, {
			name:     "invalid slot",
			id:       NumSlots,
			usage:    UsageHMACKey,
			wantKind: fault.UsageDenied,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			got, err := readSecret(t, v, test.id, test.usage)
			if test.wantKind != fault.Unknown {
				require.Error(t, err)
				require.Equal(t, test.wantKind, fault.KindOf(err))
				return
			}
			require.NoError(t, err)
			require.Equal(t, secret, got)
		})
	}
}

func TestEraseIsIrreversible(t *testing.T) {
	v := &Vault{}
	require.NoError(t, v.Write(KeyID0, UsageHMACData, []byte("unique device secret")))
	require.True(t, v.Valid(KeyID0))

	require.NoError(t, v.Erase(KeyID0))
	require.False(t, v.Valid(KeyID0))

	_, err := readSecret(t, v, KeyID0, UsageHMACData)
	require.True(t, errors.Is(err, fault.ErrUsageDenied), "got %v", err)
	require.Equal(t, Usage(0), v.Usage(KeyID0))
}

func TestWriteReplacesWholeSlot(t *testing.T) {
	v := &Vault{}
	require.NoError(t, v.Write(KeyID1, UsageHMACData, bytes.Repeat([]byte{1}, 48)))
	require.NoError(t, v.Write(KeyID1, UsageHMACKey, []byte{2, 2}))

	got, err := readSecret(t, v, KeyID1, UsageHMACKey)
	require.NoError(t, err)
	require.Equal(t, []byte{2, 2}, got)

	_, err = readSecret(t, v, KeyID1, UsageHMACData)
	require.Equal(t, fault.UsageDenied, fault.KindOf(err))
}

func TestWriteRejectsBadSize(t *testing.T) {
	v := &Vault{}
	require.Error(t, v.Write(KeyID1, UsageHMACData, nil))
	require.Error(t, v.Write(KeyID1, UsageHMACData, make([]byte, MaxSecretSize+1)))
}

func TestLocks(t *testing.T) {
	v := &Vault{}
	require.NoError(t, v.Write(KeyID7, UsageECCPrivateKey, []byte{1, 2, 3}))
	require.NoError(t, v.LockWrite(KeyID7))

	err := v.Write(KeyID7, UsageECCPrivateKey, []byte{4})
	require.True(t, errors.Is(err, fault.ErrSlotBusy), "got %v", err)
	err = v.Erase(KeyID7)
	require.True(t, errors.Is(err, fault.ErrSlotBusy), "got %v", err)

	// write locking does not prevent use
	_, err = readSecret(t, v, KeyID7, UsageECCPrivateKey)
	require.NoError(t, err)

	require.NoError(t, v.LockUse(KeyID7))
	_, err = readSecret(t, v, KeyID7, UsageECCPrivateKey)
	require.Equal(t, fault.UsageDenied, fault.KindOf(err))

	v.Reset()
	require.False(t, v.Valid(KeyID7))
	require.NoError(t, v.Write(KeyID7, UsageECCPrivateKey, []byte{4}))
}

func TestReadCallbackError(t *testing.T) {
	v := &Vault{}
	require.NoError(t, v.Write(KeyID2, UsageHMACKey, []byte{9}))
	want := errors.New("engine failure")
	err := v.Read(KeyID2, UsageHMACKey, func([]byte) error { return want })
	require.ErrorIs(t, err, want)
}

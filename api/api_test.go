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

package api

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/transparency-dev/armored-witness-rom/fault"
)

func TestStatusWire(t *testing.T) {
	want := &Status{
		Version:           "1.2.3",
		Revision:          "deadbeef",
		Build:             "builder@host",
		WarmBoot:          true,
		Lifecycle:         "production",
		Error:             ErrorCode_KEY_REVOKED,
		Message:           "vendor key 2 revoked",
		IDevIDSerial:      "0A1B",
		LDevIDSerial:      "2C3D",
		CSRUploaded:       true,
		VendorPubKeyIndex: 3,
		FMCSVN:            7,
		RuntimeSVN:        0xffffffff,
		FMCEntryPoint:     0x40000000,
		RuntimeEntryPoint: 0x40008000,
	}

	got := &Status{}
	require.NoError(t, got.Unmarshal(want.Bytes()))

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("round trip diff (-want +got):\n%s", diff)
	}

	// zero values are omitted
	require.Empty(t, (&Status{}).Bytes())
}

func TestStatusUnmarshalSkipsUnknown(t *testing.T) {
	buf := (&Status{Version: "0.1.0"}).Bytes()
	buf = protowire.AppendTag(buf, 99, protowire.Fixed64Type)
	buf = protowire.AppendFixed64(buf, 42)
	buf = protowire.AppendTag(buf, 98, protowire.BytesType)
	buf = protowire.AppendBytes(buf, []byte("future"))

	s := &Status{FMCSVN: 1}
	require.NoError(t, s.Unmarshal(buf))
	require.Equal(t, &Status{Version: "0.1.0"}, s)
}

func TestStatusUnmarshalErrors(t *testing.T) {
	for _, test := range []struct {
		name string
		buf  []byte
	}{
		{name: "truncated tag", buf: []byte{0x80}},
		{name: "truncated string", buf: []byte{0x0a, 0x05, 'a'}},
		{name: "truncated varint", buf: []byte{0x30, 0xff}},
		{name: "overflow", buf: protowire.AppendVarint(protowire.AppendTag(nil, fieldFMCSVN, protowire.VarintType), 1<<33)},
	} {
		t.Run(test.name, func(t *testing.T) {
			require.Error(t, (&Status{}).Unmarshal(test.buf))
		})
	}
}

func TestErrorCodes(t *testing.T) {
	require.Equal(t, ErrorCode_NONE, ErrorCodeOf(nil))
	require.Equal(t, ErrorCode_GENERIC_ERROR, ErrorCodeOf(errors.New("foreign")))

	err := fmt.Errorf("boot: %w", fault.New(fault.RollbackViolation, "svn", "fmc svn 1 < 2"))
	c := ErrorCodeOf(err)
	require.Equal(t, ErrorCode_ROLLBACK_VIOLATION, c)
	require.Equal(t, fault.RollbackViolation, c.Kind())

	for k := range codes {
		require.Equal(t, k, codes[k].Kind())
	}

	s := &Status{Error: c, Message: "fmc svn 1 < 2"}
	require.ErrorIs(t, s.Err(), fault.ErrRollbackViolation)
	require.NoError(t, (&Status{}).Err())
}

func TestPrint(t *testing.T) {
	s := &Status{Version: "1.0.0", Error: ErrorCode_DIGEST_MISMATCH, Message: "fmc"}
	out := s.Print()
	require.True(t, strings.Contains(out, "halted"), out)
	require.True(t, strings.Contains(out, "cold"), out)

	v, err := s.SemVer()
	require.NoError(t, err)
	require.Equal(t, int64(1), v.Major)

	_, err = (&Status{}).SemVer()
	require.Error(t, err)
}

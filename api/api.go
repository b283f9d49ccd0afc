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

// Package api defines the boot report the ROM leaves for the next stage and
// for the manufacturing host.
package api

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/coreos/go-semver/semver"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/transparency-dev/armored-witness-rom/fault"
)

// ErrorCode is the wire form of a boot failure, zero on success.
type ErrorCode uint32

const (
	ErrorCode_NONE ErrorCode = iota
	ErrorCode_USAGE_DENIED
	ErrorCode_SLOT_BUSY
	ErrorCode_CRYPTO_OPERATION_FAILED
	ErrorCode_SELF_VERIFICATION_FAILED
	ErrorCode_DIGEST_MISMATCH
	ErrorCode_SIGNATURE_INVALID
	ErrorCode_KEY_REVOKED
	ErrorCode_TRUST_ROOT_MISMATCH
	ErrorCode_ROLLBACK_VIOLATION
	ErrorCode_ADDRESS_OUT_OF_RANGE
	ErrorCode_MANIFEST_MALFORMED
	ErrorCode_CSR_ENCODE_FAILED
	ErrorCode_GENERIC_ERROR
)

var codes = map[fault.Kind]ErrorCode{
	fault.UsageDenied:            ErrorCode_USAGE_DENIED,
	fault.SlotBusy:               ErrorCode_SLOT_BUSY,
	fault.CryptoOperationFailed:  ErrorCode_CRYPTO_OPERATION_FAILED,
	fault.SelfVerificationFailed: ErrorCode_SELF_VERIFICATION_FAILED,
	fault.DigestMismatch:         ErrorCode_DIGEST_MISMATCH,
	fault.SignatureInvalid:       ErrorCode_SIGNATURE_INVALID,
	fault.KeyRevoked:             ErrorCode_KEY_REVOKED,
	fault.TrustRootMismatch:      ErrorCode_TRUST_ROOT_MISMATCH,
	fault.RollbackViolation:      ErrorCode_ROLLBACK_VIOLATION,
	fault.AddressOutOfRange:      ErrorCode_ADDRESS_OUT_OF_RANGE,
	fault.ManifestMalformed:      ErrorCode_MANIFEST_MALFORMED,
	fault.CsrEncodeFailed:        ErrorCode_CSR_ENCODE_FAILED,
}

// ErrorCodeOf maps err to its wire code.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return ErrorCode_NONE
	}

	if c, ok := codes[fault.KindOf(err)]; ok {
		return c
	}

	return ErrorCode_GENERIC_ERROR
}

// Kind returns the fault kind of the code.
func (c ErrorCode) Kind() fault.Kind {
	for k, v := range codes {
		if v == c {
			return k
		}
	}
	return fault.Unknown
}

func (c ErrorCode) String() string {
	switch c {
	case ErrorCode_NONE:
		return "none"
	case ErrorCode_GENERIC_ERROR:
		return "generic error"
	}
	return c.Kind().String()
}

// Status is the boot report.
type Status struct {
	Version  string
	Revision string
	Build    string

	WarmBoot  bool
	Lifecycle string
	Error     ErrorCode
	Message   string

	IDevIDSerial string
	LDevIDSerial string
	CSRUploaded  bool

	VendorPubKeyIndex uint32
	FMCSVN            uint32
	RuntimeSVN        uint32
	FMCEntryPoint     uint32
	RuntimeEntryPoint uint32
}

// Status field numbers.
const (
	fieldVersion protowire.Number = iota + 1
	fieldRevision
	fieldBuild
	fieldWarmBoot
	fieldLifecycle
	fieldError
	fieldMessage
	fieldIDevIDSerial
	fieldLDevIDSerial
	fieldCSRUploaded
	fieldVendorPubKeyIndex
	fieldFMCSVN
	fieldRuntimeSVN
	fieldFMCEntryPoint
	fieldRuntimeEntryPoint
)

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// Bytes serializes the status in protobuf wire format.
func (p *Status) Bytes() (buf []byte) {
	buf = appendString(buf, fieldVersion, p.Version)
	buf = appendString(buf, fieldRevision, p.Revision)
	buf = appendString(buf, fieldBuild, p.Build)
	buf = appendVarint(buf, fieldWarmBoot, protowire.EncodeBool(p.WarmBoot))
	buf = appendString(buf, fieldLifecycle, p.Lifecycle)
	buf = appendVarint(buf, fieldError, uint64(p.Error))
	buf = appendString(buf, fieldMessage, p.Message)
	buf = appendString(buf, fieldIDevIDSerial, p.IDevIDSerial)
	buf = appendString(buf, fieldLDevIDSerial, p.LDevIDSerial)
	buf = appendVarint(buf, fieldCSRUploaded, protowire.EncodeBool(p.CSRUploaded))
	buf = appendVarint(buf, fieldVendorPubKeyIndex, uint64(p.VendorPubKeyIndex))
	buf = appendVarint(buf, fieldFMCSVN, uint64(p.FMCSVN))
	buf = appendVarint(buf, fieldRuntimeSVN, uint64(p.RuntimeSVN))
	buf = appendVarint(buf, fieldFMCEntryPoint, uint64(p.FMCEntryPoint))
	buf = appendVarint(buf, fieldRuntimeEntryPoint, uint64(p.RuntimeEntryPoint))

	return
}

// Unmarshal parses a status in protobuf wire format, unknown fields are
// skipped.
func (p *Status) Unmarshal(buf []byte) error {
	*p = Status{}

	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return protowire.ParseError(n)
		}
		buf = buf[n:]

		switch typ {
		case protowire.BytesType:
			var v string
			if v, n = protowire.ConsumeString(buf); n < 0 {
				return protowire.ParseError(n)
			}
			p.setString(num, v)
		case protowire.VarintType:
			var v uint64
			if v, n = protowire.ConsumeVarint(buf); n < 0 {
				return protowire.ParseError(n)
			}
			if err := p.setVarint(num, v); err != nil {
				return err
			}
		default:
			if n = protowire.ConsumeFieldValue(num, typ, buf); n < 0 {
				return protowire.ParseError(n)
			}
		}

		buf = buf[n:]
	}

	return nil
}

func (p *Status) setString(num protowire.Number, v string) {
	switch num {
	case fieldVersion:
		p.Version = v
	case fieldRevision:
		p.Revision = v
	case fieldBuild:
		p.Build = v
	case fieldLifecycle:
		p.Lifecycle = v
	case fieldMessage:
		p.Message = v
	case fieldIDevIDSerial:
		p.IDevIDSerial = v
	case fieldLDevIDSerial:
		p.LDevIDSerial = v
	}
}

func (p *Status) setVarint(num protowire.Number, v uint64) error {
	if v > 0xffffffff {
		return fmt.Errorf("field %d overflows (%d)", num, v)
	}

	switch num {
	case fieldWarmBoot:
		p.WarmBoot = protowire.DecodeBool(v)
	case fieldError:
		p.Error = ErrorCode(v)
	case fieldCSRUploaded:
		p.CSRUploaded = protowire.DecodeBool(v)
	case fieldVendorPubKeyIndex:
		p.VendorPubKeyIndex = uint32(v)
	case fieldFMCSVN:
		p.FMCSVN = uint32(v)
	case fieldRuntimeSVN:
		p.RuntimeSVN = uint32(v)
	case fieldFMCEntryPoint:
		p.FMCEntryPoint = uint32(v)
	case fieldRuntimeEntryPoint:
		p.RuntimeEntryPoint = uint32(v)
	}

	return nil
}

// SemVer returns the parsed ROM version.
func (p *Status) SemVer() (*semver.Version, error) {
	if p.Version == "" {
		return nil, errors.New("no version")
	}
	return semver.NewVersion(p.Version)
}

// Err returns the boot failure carried by the status, if any.
func (p *Status) Err() error {
	if p.Error == ErrorCode_NONE {
		return nil
	}
	return fault.New(p.Error.Kind(), "boot", "%s", p.Message)
}

// Print returns the boot status in textual format.
func (p *Status) Print() string {
	var status bytes.Buffer

	boot := "cold"
	if p.WarmBoot {
		boot = "warm"
	}

	result := "ok"
	if p.Error != ErrorCode_NONE {
		result = fmt.Sprintf("halted (%v: %s)", p.Error, p.Message)
	}

	status.WriteString("------------------------------------------------------------------ ROM ----\n")
	status.WriteString(fmt.Sprintf("Version ................: %s\n", p.Version))
	status.WriteString(fmt.Sprintf("Revision ...............: %s\n", p.Revision))
	status.WriteString(fmt.Sprintf("Build ..................: %s\n", p.Build))
	status.WriteString(fmt.Sprintf("Lifecycle ..............: %s\n", p.Lifecycle))
	status.WriteString(fmt.Sprintf("Boot ...................: %s\n", boot))
	status.WriteString(fmt.Sprintf("Result .................: %s\n", result))
	status.WriteString(fmt.Sprintf("IDevID .................: %s\n", p.IDevIDSerial))
	status.WriteString(fmt.Sprintf("LDevID .................: %s\n", p.LDevIDSerial))
	status.WriteString(fmt.Sprintf("CSR uploaded ...........: %v\n", p.CSRUploaded))
	status.WriteString(fmt.Sprintf("Vendor key .............: %d\n", p.VendorPubKeyIndex))
	status.WriteString(fmt.Sprintf("FMC ....................: svn %d entry %#x\n", p.FMCSVN, p.FMCEntryPoint))
	status.WriteString(fmt.Sprintf("Runtime ................: svn %d entry %#x", p.RuntimeSVN, p.RuntimeEntryPoint))

	return status.String()
}

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

// Package fault defines the error kinds raised by the boot ROM.
//
// Every kind is fatal to the boot: the orchestrator halts before control is
// transferred to unverified or unidentified firmware.
package fault

import (
	"errors"
	"fmt"
)

// Kind identifies a class of boot failure.
type Kind int

const (
	Unknown Kind = iota
	UsageDenied
	SlotBusy
	CryptoOperationFailed
	SelfVerificationFailed
	DigestMismatch
	SignatureInvalid
	KeyRevoked
	TrustRootMismatch
	RollbackViolation
	AddressOutOfRange
	ManifestMalformed
	CsrEncodeFailed
)

var kindNames = map[Kind]string{
	Unknown:                "unknown",
	UsageDenied:            "usage denied",
	SlotBusy:               "slot busy",
	CryptoOperationFailed:  "crypto operation failed",
	SelfVerificationFailed: "self verification failed",
	DigestMismatch:         "digest mismatch",
	SignatureInvalid:       "signature invalid",
	KeyRevoked:             "key revoked",
	TrustRootMismatch:      "trust root mismatch",
	RollbackViolation:      "rollback violation",
	AddressOutOfRange:      "address out of range",
	ManifestMalformed:      "manifest malformed",
	CsrEncodeFailed:        "CSR encode failed",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinels for use with errors.Is.
var (
	ErrUsageDenied            = &Error{Kind: UsageDenied}
	ErrSlotBusy               = &Error{Kind: SlotBusy}
	ErrCryptoOperationFailed  = &Error{Kind: CryptoOperationFailed}
	ErrSelfVerificationFailed = &Error{Kind: SelfVerificationFailed}
	ErrDigestMismatch         = &Error{Kind: DigestMismatch}
	ErrSignatureInvalid       = &Error{Kind: SignatureInvalid}
	ErrKeyRevoked             = &Error{Kind: KeyRevoked}
	ErrTrustRootMismatch      = &Error{Kind: TrustRootMismatch}
	ErrRollbackViolation      = &Error{Kind: RollbackViolation}
	ErrAddressOutOfRange      = &Error{Kind: AddressOutOfRange}
	ErrManifestMalformed      = &Error{Kind: ManifestMalformed}
	ErrCsrEncodeFailed        = &Error{Kind: CsrEncodeFailed}
)

// Error is a boot failure of a given Kind raised by operation Op.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Err == nil:
		return e.Kind.String()
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Op == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a fault of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New returns a fault of the given kind for op, with an optional formatted
// detail message.
func New(kind Kind, op string, format string, args ...any) error {
	var err error
	if format != "" {
		err = fmt.Errorf(format, args...)
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Wrap returns a fault of the given kind for op wrapping err. If err is nil,
// Wrap returns nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of the outermost fault in err's chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

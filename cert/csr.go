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

// Package cert encodes the DICE identity artifacts: the IDevID certificate
// signing request and the LDevID certificate.
package cert

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	encoding_asn1 "encoding/asn1"
	"errors"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"

	"github.com/transparency-dev/armored-witness-rom/fault"
	"github.com/transparency-dev/armored-witness-rom/hw"
)

// MaxCSRSize is the largest CSR the ROM will emit.
const MaxCSRSize = 512

var (
	oidCommonName       = encoding_asn1.ObjectIdentifier{2, 5, 4, 3}
	oidSerialNumber     = encoding_asn1.ObjectIdentifier{2, 5, 4, 5}
	oidECPublicKey      = encoding_asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	oidSECP384R1        = encoding_asn1.ObjectIdentifier{1, 3, 132, 0, 34}
	oidECDSAWithSHA384  = encoding_asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 3}
	oidExtensionRequest = encoding_asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 14}
	oidBasicConstraints = encoding_asn1.ObjectIdentifier{2, 5, 29, 19}
	oidKeyUsage         = encoding_asn1.ObjectIdentifier{2, 5, 29, 15}

	// OIDTCGUEID is the TCG DICE Unique Endpoint Identifier extension.
	OIDTCGUEID = encoding_asn1.ObjectIdentifier{2, 23, 133, 5, 4, 4}
)

// IDevIDPathLen is the path length constraint of the IDevID CA.
const IDevIDPathLen = 5

// Name is a DICE subject or issuer name.
type Name struct {
	CommonName   string
	SerialNumber string
}

func addName(b *cryptobyte.Builder, n Name) {
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		for _, atv := range []struct {
			oid encoding_asn1.ObjectIdentifier
			tag asn1.Tag
			v   string
		}{
			{oidCommonName, asn1.UTF8String, n.CommonName},
			{oidSerialNumber, asn1.PrintableString, n.SerialNumber},
		} {
			b.AddASN1(asn1.SET, func(b *cryptobyte.Builder) {
				b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
					b.AddASN1ObjectIdentifier(atv.oid)
					b.AddASN1(atv.tag, func(b *cryptobyte.Builder) {
						b.AddBytes([]byte(atv.v))
					})
				})
			})
		}
	})
}

func addSPKI(b *cryptobyte.Builder, pub hw.PubKey) {
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier(oidECPublicKey)
			b.AddASN1ObjectIdentifier(oidSECP384R1)
		})
		b.AddASN1BitString(pub.Bytes())
	})
}

// MarshalSPKI returns the DER SubjectPublicKeyInfo of pub.
func MarshalSPKI(pub hw.PubKey) ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	addSPKI(b, pub)
	return b.Bytes()
}

func addExtension(b *cryptobyte.Builder, oid encoding_asn1.ObjectIdentifier, critical bool, value func(*cryptobyte.Builder)) {
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(oid)
		if critical {
			b.AddASN1Boolean(true)
		}
		b.AddASN1(asn1.OCTET_STRING, value)
	})
}

func addUEIDExtension(b *cryptobyte.Builder, ueid [hw.UEIDSize]byte) {
	addExtension(b, OIDTCGUEID, false, func(b *cryptobyte.Builder) {
		b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1OctetString(ueid[:])
		})
	})
}

// UEIDExtensionValue returns the DER value of the UEID extension.
func UEIDExtensionValue(ueid [hw.UEIDSize]byte) ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1OctetString(ueid[:])
	})
	return b.Bytes()
}

// CSRTBS builds the DER CertificationRequestInfo of an IDevID CSR.
func CSRTBS(ueid [hw.UEIDSize]byte, subject Name, pub hw.PubKey) ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)

	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1Int64(0)
		addName(b, subject)
		addSPKI(b, pub)
		b.AddASN1(asn1.Tag(0).ContextSpecific().Constructed(), func(b *cryptobyte.Builder) {
			b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
				b.AddASN1ObjectIdentifier(oidExtensionRequest)
				b.AddASN1(asn1.SET, func(b *cryptobyte.Builder) {
					b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
						addUEIDExtension(b, ueid)
						addExtension(b, oidBasicConstraints, true, func(b *cryptobyte.Builder) {
							b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
								b.AddASN1Boolean(true)
								b.AddASN1Int64(IDevIDPathLen)
							})
						})
						addExtension(b, oidKeyUsage, true, func(b *cryptobyte.Builder) {
							// keyCertSign, 2 unused bits
							b.AddASN1(asn1.BIT_STRING, func(b *cryptobyte.Builder) {
								b.AddBytes([]byte{0x02, 0x04})
							})
						})
					})
				})
			})
		})
	})

	tbs, err := b.Bytes()
	if err != nil {
		return nil, fault.Wrap(fault.CsrEncodeFailed, "csr tbs", err)
	}

	return tbs, nil
}

// MarshalSignature returns the DER ECDSA-Sig-Value of sig.
func MarshalSignature(sig hw.Signature) ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1BigInt(new(big.Int).SetBytes(sig.R[:]))
		b.AddASN1BigInt(new(big.Int).SetBytes(sig.S[:]))
	})
	return b.Bytes()
}

// ParseSignature decodes a DER ECDSA-Sig-Value.
func ParseSignature(der []byte) (sig hw.Signature, err error) {
	var (
		inner cryptobyte.String
		r, s  = new(big.Int), new(big.Int)
	)

	input := cryptobyte.String(der)

	if !input.ReadASN1(&inner, asn1.SEQUENCE) || !input.Empty() ||
		!inner.ReadASN1Integer(r) || !inner.ReadASN1Integer(s) || !inner.Empty() {
		return sig, errors.New("invalid ECDSA signature encoding")
	}

	if r.Sign() <= 0 || s.Sign() <= 0 || r.BitLen() > 8*hw.ScalarSize || s.BitLen() > 8*hw.ScalarSize {
		return sig, errors.New("ECDSA signature values out of range")
	}

	r.FillBytes(sig.R[:])
	s.FillBytes(sig.S[:])

	return
}

// EncodeCSR assembles a CSR from its DER TBS and signature.
func EncodeCSR(tbs []byte, sig hw.Signature) ([]byte, error) {
	der, err := MarshalSignature(sig)
	if err != nil {
		return nil, fault.Wrap(fault.CsrEncodeFailed, "csr", err)
	}

	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddBytes(tbs)
		b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier(oidECDSAWithSHA384)
		})
		b.AddASN1BitString(der)
	})

	csr, err := b.Bytes()
	if err != nil {
		return nil, fault.Wrap(fault.CsrEncodeFailed, "csr", err)
	}

	if len(csr) > MaxCSRSize {
		return nil, fault.New(fault.CsrEncodeFailed, "csr", "size %d exceeds %d", len(csr), MaxCSRSize)
	}

	return csr, nil
}

// ECDSAPublicKey converts pub to its crypto/ecdsa form.
func ECDSAPublicKey(pub hw.PubKey) (*ecdsa.PublicKey, error) {
	if _, err := ecdh.P384().NewPublicKey(pub.Bytes()); err != nil {
		return nil, err
	}

	return &ecdsa.PublicKey{
		Curve: elliptic.P384(),
		X:     new(big.Int).SetBytes(pub.X[:]),
		Y:     new(big.Int).SetBytes(pub.Y[:]),
	}, nil
}

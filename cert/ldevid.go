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
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/transparency-dev/armored-witness-rom/fault"
	"github.com/transparency-dev/armored-witness-rom/hw"
)

// Subject common names.
const (
	IDevIDCommonName = "Armored Witness IDevID"
	LDevIDCommonName = "Armored Witness LDevID"
)

// LDevIDPathLen is the path length constraint of the LDevID CA.
const LDevIDPathLen = IDevIDPathLen - 1

// DICE certificates do not expire.
var (
	NotBefore = time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC)
	NotAfter  = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)
)

// Identity is a named DICE layer key.
type Identity struct {
	Name  Name
	KeyID [KeyIDSize]byte
	Pub   hw.PubKey
}

func (n Name) pkix() pkix.Name {
	return pkix.Name{
		CommonName:   n.CommonName,
		SerialNumber: n.SerialNumber,
	}
}

// Signer is a crypto.Signer over an ECC-384 private key held in a key slot.
type Signer struct {
	ECC hw.ECC384
	Key hw.KeyPair
}

// Public implements crypto.Signer.
func (s *Signer) Public() crypto.PublicKey {
	pub, err := ECDSAPublicKey(s.Key.Pub)
	if err != nil {
		return nil
	}
	return pub
}

// Sign implements crypto.Signer, returning an ASN.1 ECDSA signature over a
// SHA-384 digest.
func (s *Signer) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	if opts.HashFunc() != crypto.SHA384 || len(digest) != hw.DigestSize {
		return nil, fmt.Errorf("unsupported digest %v of %d bytes", opts.HashFunc(), len(digest))
	}

	sig, err := s.ECC.Sign(s.Key.Priv, hw.Digest(digest))
	if err != nil {
		return nil, err
	}

	return MarshalSignature(sig)
}

// LDevIDCertificate issues the DER LDevID certificate for subject, signed by
// the issuer key behind signer.
func LDevIDCertificate(ueid [hw.UEIDSize]byte, subject Identity, issuer Identity, signer crypto.Signer) ([]byte, error) {
	pub, err := ECDSAPublicKey(subject.Pub)
	if err != nil {
		return nil, fault.Wrap(fault.CryptoOperationFailed, "ldevid cert", err)
	}

	ext, err := UEIDExtensionValue(ueid)
	if err != nil {
		return nil, fault.Wrap(fault.CryptoOperationFailed, "ldevid cert", err)
	}

	// positive and at most 20 octets
	serial := subject.KeyID
	serial[0] &= 0x7f

	template := &x509.Certificate{
		SerialNumber:          new(big.Int).SetBytes(serial[:]),
		Subject:               subject.Name.pkix(),
		NotBefore:             NotBefore,
		NotAfter:              NotAfter,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            LDevIDPathLen,
		SubjectKeyId:          subject.KeyID[:],
		SignatureAlgorithm:    x509.ECDSAWithSHA384,
		ExtraExtensions: []pkix.Extension{
			{Id: OIDTCGUEID, Value: ext},
		},
	}

	parent := &x509.Certificate{
		Subject:      issuer.Name.pkix(),
		SubjectKeyId: issuer.KeyID[:],
	}

	der, err := x509.CreateCertificate(rand.Reader, template, parent, pub, signer)
	if err != nil {
		return nil, fault.Wrap(fault.CryptoOperationFailed, "ldevid cert", err)
	}

	return der, nil
}

// CheckCertificateSignature verifies with the ECC engine that the DER
// certificate was signed by issuer.
func CheckCertificateSignature(ecc hw.ECC384, sha hw.SHA384, der []byte, issuer hw.PubKey) error {
	c, err := x509.ParseCertificate(der)
	if err != nil {
		return fault.Wrap(fault.SelfVerificationFailed, "certificate", err)
	}

	sig, err := ParseSignature(c.Signature)
	if err != nil {
		return fault.Wrap(fault.SelfVerificationFailed, "certificate", err)
	}

	digest, err := sha.Digest(c.RawTBSCertificate)
	if err != nil {
		return err
	}

	ok, err := ecc.Verify(issuer, digest, sig)
	if err != nil {
		return err
	}

	if !ok {
		return fault.New(fault.SelfVerificationFailed, "certificate", "signature does not verify")
	}

	return nil
}

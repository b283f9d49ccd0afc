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

// Package dice implements the DICE layer engine of the boot ROM.
//
// Each layer derives a Compound Device Identifier from the previous layer
// secret, generates its key pair from it and erases the consumed secret. The
// IDevID layer starts from the fused Unique Device Secret, the LDevID layer
// mixes the IDevID CDI with the fused field entropy.
package dice

import (
	"fmt"

	"k8s.io/klog/v2"

	"github.com/transparency-dev/armored-witness-rom/cert"
	"github.com/transparency-dev/armored-witness-rom/fault"
	"github.com/transparency-dev/armored-witness-rom/hw"
	"github.com/transparency-dev/armored-witness-rom/keyvault"
)

// KeySlots is the subset of key vault management used by the layers.
type KeySlots interface {
	Erase(id keyvault.KeyID) error
	LockWrite(id keyvault.KeyID) error
}

// Namer derives subject names from public keys.
type Namer interface {
	SubjectSN(pub hw.PubKey) string
	SubjectKeyID(pub hw.PubKey) [cert.KeyIDSize]byte
}

// CSRUploader hands a CSR to the external consumer.
type CSRUploader interface {
	Upload(csr []byte) error
}

// Env gathers the capabilities borrowed by a layer during derivation.
type Env struct {
	Config   Config
	KeySlots KeySlots
	DOE      hw.Deobfuscator
	HMAC     hw.HMAC384
	ECC      hw.ECC384
	SHA      hw.SHA384
	Fuses    hw.FuseBank
	Mfg      hw.MfgState
	Namer    Namer
	Uploader CSRUploader
}

// Layer is a DICE layer.
type Layer int

const (
	IDevID Layer = iota
	LDevID
)

func (l Layer) String() string {
	switch l {
	case IDevID:
		return "IDevID"
	case LDevID:
		return "LDevID"
	}
	return "invalid"
}

// Output is the result of a layer derivation, and the input of the next one.
type Output struct {
	Layer        Layer
	KeyPair      hw.KeyPair
	SubjectSN    string
	SubjectKeyID [cert.KeyIDSize]byte
	// CSR is the IDevID certificate signing request, set only when one was
	// requested by manufacturing.
	CSR []byte
	// Cert is the DER LDevID certificate issued by the IDevID key.
	Cert []byte
}

// Identity returns the certificate identity of the layer key.
func (o *Output) Identity() cert.Identity {
	cn := cert.IDevIDCommonName
	if o.Layer == LDevID {
		cn = cert.LDevIDCommonName
	}

	return cert.Identity{
		Name:  cert.Name{CommonName: cn, SerialNumber: o.SubjectSN},
		KeyID: o.SubjectKeyID,
		Pub:   o.KeyPair.Pub,
	}
}

// Derive runs the layer. The IDevID layer ignores in, the LDevID layer
// requires the IDevID output.
func (l Layer) Derive(env *Env, in *Output) (*Output, error) {
	switch l {
	case IDevID:
		return deriveIDevID(env)
	case LDevID:
		if in == nil || in.Layer != IDevID {
			return nil, fmt.Errorf("LDevID derivation requires the IDevID output")
		}
		return deriveLDevID(env, in)
	}

	return nil, fmt.Errorf("invalid DICE layer %d", l)
}

// decryptSecrets deobfuscates the UDS and the field entropy into their key
// slots. The DOE secrets are cleared on return whatever the outcome.
func (env *Env) decryptSecrets() (err error) {
	defer func() {
		cerr := env.DOE.ClearSecrets()
		switch {
		case cerr == nil:
		case err == nil:
			err = fault.Wrap(fault.CryptoOperationFailed, "doe clear", cerr)
		default:
			klog.Errorf("dice: could not clear DOE secrets: %v", cerr)
		}
	}()

	if err = env.DOE.Decrypt(hw.SecretUDS, env.Config.UDSIV, KeyIDUDS); err != nil {
		return
	}

	return env.DOE.Decrypt(hw.SecretFieldEntropy, env.Config.FEIV, KeyIDFE)
}

// deriveCDI computes the layer CDI into KeyIDCDI and erases the consumed
// secret slot.
func (env *Env) deriveCDI(key hw.HMACKey, data keyvault.KeyID) error {
	tag := hw.TagToSlot(KeyIDCDI, keyvault.UsageHMACKey|keyvault.UsageECCKeyGenSeed)

	if err := env.HMAC.MAC(key, hw.DataFromSlot(data), tag); err != nil {
		return err
	}

	klog.V(1).Infof("dice: CDI derived into slot %d, erasing slot %d", KeyIDCDI, data)

	return env.KeySlots.Erase(data)
}

func (env *Env) keyGen(layer Layer, priv keyvault.KeyID) (*Output, error) {
	kp, err := env.ECC.KeyGen(KeyIDCDI, priv)
	if err != nil {
		return nil, err
	}

	if err = env.KeySlots.LockWrite(priv); err != nil {
		return nil, err
	}

	out := &Output{
		Layer:        layer,
		KeyPair:      kp,
		SubjectSN:    env.Namer.SubjectSN(kp.Pub),
		SubjectKeyID: env.Namer.SubjectKeyID(kp.Pub),
	}

	klog.Infof("dice: %v key in slot %d, subject %s", layer, priv, out.SubjectSN)

	return out, nil
}

// eraseSecrets wipes the deobfuscated secrets and the CDI after a failed
// derivation.
func (env *Env) eraseSecrets() {
	for _, id := range []keyvault.KeyID{KeyIDUDS, KeyIDFE, KeyIDCDI} {
		if err := env.KeySlots.Erase(id); err != nil {
			klog.Errorf("dice: could not erase slot %d: %v", id, err)
		}
	}
}

func deriveIDevID(env *Env) (out *Output, err error) {
	defer func() {
		if err != nil {
			env.eraseSecrets()
		}
	}()

	if err = env.decryptSecrets(); err != nil {
		return nil, err
	}

	if err = env.deriveCDI(hw.KeyInline(env.Config.IDevIDCDIKey), KeyIDUDS); err != nil {
		return nil, err
	}

	out, err = env.keyGen(IDevID, KeyIDIDevIDPrivKey)
	if err != nil {
		return nil, err
	}

	if !env.Mfg.GenIDevIDCSR() {
		return out, nil
	}

	if out.CSR, err = env.makeCSR(out); err != nil {
		return nil, err
	}

	if err = env.Uploader.Upload(out.CSR); err != nil {
		return nil, err
	}

	return out, nil
}

// makeCSR builds the IDevID CSR, self-verifying its signature before
// encoding.
func (env *Env) makeCSR(out *Output) ([]byte, error) {
	tbs, err := cert.CSRTBS(env.Fuses.UEID(), out.Identity().Name, out.KeyPair.Pub)
	if err != nil {
		return nil, err
	}

	digest, err := env.SHA.Digest(tbs)
	if err != nil {
		return nil, err
	}

	sig, err := env.ECC.Sign(out.KeyPair.Priv, digest)
	if err != nil {
		return nil, err
	}

	ok, err := env.ECC.Verify(out.KeyPair.Pub, digest, sig)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, fault.New(fault.SelfVerificationFailed, "idevid csr", "signature does not verify")
	}

	csr, err := cert.EncodeCSR(tbs, sig)
	if err != nil {
		return nil, err
	}

	klog.V(1).Infof("dice: IDevID CSR of %d bytes", len(csr))

	return csr, nil
}

func deriveLDevID(env *Env, idevid *Output) (out *Output, err error) {
	defer func() {
		if err != nil {
			env.eraseSecrets()
		}
	}()

	if err = env.deriveCDI(hw.KeyFromSlot(KeyIDCDI), KeyIDFE); err != nil {
		return nil, err
	}

	out, err = env.keyGen(LDevID, KeyIDLDevIDPrivKey)
	if err != nil {
		return nil, err
	}

	issuer := idevid.Identity()
	signer := &cert.Signer{ECC: env.ECC, Key: idevid.KeyPair}

	if out.Cert, err = cert.LDevIDCertificate(env.Fuses.UEID(), out.Identity(), issuer, signer); err != nil {
		return nil, err
	}

	if err = cert.CheckCertificateSignature(env.ECC, env.SHA, out.Cert, issuer.Pub); err != nil {
		return nil, err
	}

	return out, nil
}

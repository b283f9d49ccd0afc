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

// Package rom implements the boot orchestrator: it runs the DICE layers on
// cold boot, verifies the firmware image on every boot and records the
// trust roots the next warm boot is held to.
package rom

import (
	"fmt"

	"github.com/coreos/go-semver/semver"
	"k8s.io/klog/v2"

	"github.com/transparency-dev/armored-witness-rom/api"
	"github.com/transparency-dev/armored-witness-rom/cert"
	"github.com/transparency-dev/armored-witness-rom/dice"
	"github.com/transparency-dev/armored-witness-rom/fault"
	"github.com/transparency-dev/armored-witness-rom/hw"
	"github.com/transparency-dev/armored-witness-rom/image"
	"github.com/transparency-dev/armored-witness-rom/mailbox"
	"github.com/transparency-dev/armored-witness-rom/verify"
)

// initialized at compile time (see Makefile)
var (
	Build    string
	Revision string
	Version  string
)

// Handoff is the state passed to the FMC after a successful boot.
type Handoff struct {
	WarmBoot bool
	IDevID   *dice.Output
	LDevID   *dice.Output
	Image    *verify.Info
}

// ROM is the boot orchestrator.
type ROM struct {
	HW      *Hardware
	Config  dice.Config
	ICCM    image.Range
	Metrics *Metrics

	idevid *dice.Output
	ldevid *dice.Output
}

// New returns a ROM over h with the reference constants.
func New(h *Hardware) *ROM {
	return &ROM{
		HW:     h,
		Config: dice.DefaultConfig(),
		ICCM:   DefaultICCM,
	}
}

// CheckVersion validates the build version, when set.
func CheckVersion() error {
	if Version == "" {
		return nil
	}

	if _, err := semver.NewVersion(Version); err != nil {
		return fmt.Errorf("invalid ROM version %q (%v)", Version, err)
	}

	return nil
}

// ColdReset applies a cold reset and boots: the DICE identities are derived
// again and the image trust roots are recorded.
func (r *ROM) ColdReset() (*Handoff, *api.Status, error) {
	return r.boot(false)
}

// WarmReset applies a warm reset and boots: the identities derived on cold
// boot are retained and the image must match the recorded trust roots.
func (r *ROM) WarmReset() (*Handoff, *api.Status, error) {
	return r.boot(true)
}

// bootStats collects the polling and upload outcome of a boot.
type bootStats struct {
	accSpins     int
	mailboxSpins int
	csr          bool
}

func (r *ROM) boot(warm bool) (h *Handoff, s *api.Status, err error) {
	st := &bootStats{}

	s = &api.Status{
		Version:   Version,
		Revision:  Revision,
		Build:     Build,
		WarmBoot:  warm,
		Lifecycle: r.HW.Fuses.Lifecycle().String(),
	}

	defer func() {
		if err != nil {
			klog.Errorf("rom: boot halted, %v", err)
			s.Error = api.ErrorCodeOf(err)
			s.Message = err.Error()
			h = nil
		}
		r.Metrics.observe(s, st.accSpins, st.mailboxSpins)
	}()

	if warm {
		err = r.HW.Reset.WarmReset()
	} else {
		err = r.HW.Reset.ColdReset()
	}

	if err != nil {
		return
	}

	if warm {
		if r.idevid == nil || r.ldevid == nil {
			err = fault.New(fault.TrustRootMismatch, "warm boot", "no identity from a cold boot")
			return
		}
	} else {
		r.idevid, r.ldevid = nil, nil

		if err = r.deriveIdentities(st); err != nil {
			return
		}
	}

	h = &Handoff{
		WarmBoot: warm,
		IDevID:   r.idevid,
		LDevID:   r.ldevid,
	}

	s.IDevIDSerial = r.idevid.SubjectSN
	s.LDevIDSerial = r.ldevid.SubjectSN
	s.CSRUploaded = st.csr

	if h.Image, err = r.verifyImage(warm, st); err != nil {
		return
	}

	s.VendorPubKeyIndex = h.Image.VendorPubKeyIndex
	s.FMCSVN = h.Image.FMC.SVN
	s.RuntimeSVN = h.Image.Runtime.SVN
	s.FMCEntryPoint = h.Image.FMC.EntryPoint
	s.RuntimeEntryPoint = h.Image.Runtime.EntryPoint

	klog.Infof("rom: handing off to FMC at %#x (warm boot %v)", h.Image.FMC.EntryPoint, warm)

	return
}

func (r *ROM) diceEnv(u dice.CSRUploader) *dice.Env {
	return &dice.Env{
		Config:   r.Config,
		KeySlots: r.HW.KeySlots,
		DOE:      r.HW.DOE,
		HMAC:     r.HW.HMAC,
		ECC:      r.HW.ECC,
		SHA:      r.HW.SHA,
		Fuses:    r.HW.Fuses,
		Mfg:      r.HW.Mfg,
		Namer:    cert.KeyIDNamer{},
		Uploader: u,
	}
}

func (r *ROM) deriveIdentities(st *bootStats) (err error) {
	u := &mailbox.Uploader{
		Mailbox: r.HW.Mailbox,
		Mfg:     r.HW.Mfg,
		Flow:    r.HW.Flow,
	}

	env := r.diceEnv(u)

	idevid, err := dice.IDevID.Derive(env, nil)
	st.mailboxSpins = u.Spins()
	if err != nil {
		return
	}
	st.csr = idevid.CSR != nil

	ldevid, err := dice.LDevID.Derive(env, idevid)
	if err != nil {
		return
	}

	r.idevid, r.ldevid = idevid, ldevid

	return
}

func (r *ROM) verifyImage(warm bool, st *bootStats) (*verify.Info, error) {
	buf := r.HW.Image.Image()

	m, err := image.Parse(buf)
	if err != nil {
		return nil, err
	}

	env := &verifyEnv{
		FuseBank:  r.HW.Fuses,
		DataVault: r.HW.DataVault,
		ecc:       r.HW.ECC,
		acc:       r.HW.SHAAcc,
		iccm:      r.ICCM,
	}

	info, err := verify.New(env).Verify(&m, uint32(len(buf)))
	st.accSpins = env.spins
	if err != nil {
		return nil, err
	}

	if warm && !info.WarmBoot {
		return nil, fault.New(fault.TrustRootMismatch, "warm boot", "no cold boot record")
	}

	// SVNs first, a cold boot record must only exist for a fully booted image
	if !r.HW.Fuses.AntiRollbackDisable() {
		if err = r.HW.DataVault.UpdateSVNs(hw.SVNs{FMC: info.FMC.SVN, Runtime: info.Runtime.SVN}); err != nil {
			return nil, err
		}
	}

	if !warm {
		rec := hw.BootRecord{
			VendorPubKeyIndex: info.VendorPubKeyIndex,
			OwnerPubKeyDigest: info.OwnerPubKeyDigest,
			FMCDigest:         info.FMC.Digest,
		}
		if err = r.HW.DataVault.SetColdBootRecord(rec); err != nil {
			return nil, err
		}
	}

	return info, nil
}

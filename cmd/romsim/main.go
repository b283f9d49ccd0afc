// Copyright 2024 The Armored Witness ROM authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// The romsim tool boots a firmware image on the software SoC model through a
// sequence of cold and warm resets, persisting the replay protected storage
// between runs.
package main

import (
	"bytes"
	"encoding/pem"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"golang.org/x/mod/sumdb/note"
	"k8s.io/klog/v2"

	"github.com/transparency-dev/armored-witness-rom/api"
	"github.com/transparency-dev/armored-witness-rom/datavault"
	"github.com/transparency-dev/armored-witness-rom/dice"
	"github.com/transparency-dev/armored-witness-rom/hwmodel"
	"github.com/transparency-dev/armored-witness-rom/internal/ft"
	"github.com/transparency-dev/armored-witness-rom/rom"
	"github.com/transparency-dev/armored-witness-rom/rpmb"
)

var (
	provisioningFile = flag.String("provisioning_file", "", "Device provisioning YAML.")
	imageFile        = flag.String("image_file", "", "Firmware image bundle to boot.")
	rpmbFile         = flag.String("rpmb_file", "", "File persisting the RPMB partition, created if missing.")
	resets           = flag.String("resets", "cold", "Comma separated sequence of cold and warm resets.")

	shaContention     = flag.Int("sha_contention", 0, "Busy SHA accelerator acquisitions to inject before boot.")
	mailboxContention = flag.Int("mailbox_contention", 0, "Busy mailbox acquisitions to inject before boot.")
	drainAfter        = flag.Int("mailbox_drain_after", 1, "Polls after which the host drains a ready CSR.")

	statementFile     = flag.String("statement_file", "", "Optional signed release statement the image must match.")
	releasePubKeyFile = flag.String("release_pubkey_file", "", "File containing the release note verifier key.")

	csrFile     = flag.String("csr_file", "", "File to write the IDevID CSR to, as PEM.")
	certFile    = flag.String("ldevid_cert_file", "", "File to write the LDevID certificate to, as PEM.")
	statusFile  = flag.String("status_file", "", "File to write the last boot status to.")
	metricsFile = flag.String("metrics_file", "", "File to write metrics to, in text exposition format.")
)

func main() {
	flag.Parse()

	if err := rom.CheckVersion(); err != nil {
		klog.Exit(err)
	}

	p, err := hwmodel.LoadProvisioning(*provisioningFile)
	if err != nil {
		klog.Exitf("Failed to load provisioning: %v", err)
	}

	cfg, err := dice.DefaultConfig().Override(p.UDSIV, p.FEIV, p.IDevIDCDIKey)
	if err != nil {
		klog.Exitf("Invalid constant override: %v", err)
	}

	fuses, err := p.Fuses(cfg.UDSIV, cfg.FEIV)
	if err != nil {
		klog.Exitf("Invalid provisioning: %v", err)
	}

	img, err := os.ReadFile(*imageFile)
	if err != nil {
		klog.Exitf("Failed to read image %q: %v", *imageFile, err)
	}

	if *statementFile != "" {
		checkStatementOrDie(img)
	}

	card := loadCardOrDie()

	soc, err := hwmodel.New(fuses, p.Key(), card)
	if err != nil {
		klog.Exitf("Failed to create SoC: %v", err)
	}

	if p.GenIDevIDCSR {
		soc.Host.RequestIDevIDCSR()
	}
	soc.Host.DrainAfter = *drainAfter
	soc.Mailbox.Contend(*mailboxContention)
	soc.SHAAcc.Contend(*shaContention)
	soc.LoadImage(img)

	r := rom.New(rom.FromSoC(soc))
	r.Config = cfg
	r.Metrics = rom.NewMetrics()

	var (
		h *rom.Handoff
		s *api.Status
	)

	for _, reset := range strings.Split(*resets, ",") {
		switch reset {
		case "cold":
			h, s, err = r.ColdReset()
		case "warm":
			h, s, err = r.WarmReset()
		default:
			klog.Exitf("Unknown reset %q", reset)
		}

		fmt.Println(s.Print())

		if err != nil {
			break
		}
	}

	saveCardOrDie(card)
	writeOutputsOrDie(h, s, r.Metrics)

	if err != nil {
		klog.Exitf("Boot halted: %v", err)
	}
}

func loadCardOrDie() *rpmb.MemCard {
	if *rpmbFile == "" {
		return rpmb.NewMemCard(datavault.Sectors)
	}

	b, err := os.ReadFile(*rpmbFile)
	if errors.Is(err, fs.ErrNotExist) {
		klog.Infof("Creating RPMB partition %q", *rpmbFile)
		return rpmb.NewMemCard(datavault.Sectors)
	}
	if err != nil {
		klog.Exitf("Failed to read RPMB partition: %v", err)
	}

	card, err := rpmb.LoadMemCard(bytes.NewReader(b))
	if err != nil {
		klog.Exitf("Failed to load RPMB partition: %v", err)
	}

	return card
}

func saveCardOrDie(card *rpmb.MemCard) {
	if *rpmbFile == "" {
		return
	}

	b := &bytes.Buffer{}
	if err := card.Save(b); err != nil {
		klog.Exitf("Failed to save RPMB partition: %v", err)
	}

	if err := os.WriteFile(*rpmbFile, b.Bytes(), 0o600); err != nil {
		klog.Exitf("WriteFile: %v", err)
	}
}

func checkStatementOrDie(img []byte) {
	vs, err := os.ReadFile(*releasePubKeyFile)
	if err != nil {
		klog.Exitf("Failed to read release pub key file %q: %v", *releasePubKeyFile, err)
	}

	v, err := note.NewVerifier(strings.TrimSpace(string(vs)))
	if err != nil {
		klog.Exitf("Invalid release note verifier string %q: %v", vs, err)
	}

	msg, err := os.ReadFile(*statementFile)
	if err != nil {
		klog.Exitf("Failed to read statement %q: %v", *statementFile, err)
	}

	rel, err := ft.Open(msg, note.VerifierList(v))
	if err != nil {
		klog.Exitf("Failed to verify statement: %v", err)
	}

	if err := ft.Check(rel, img); err != nil {
		klog.Exitf("Image does not match statement: %v", err)
	}

	klog.Infof("Image matches release %q", rel.Git.TagName)
}

func writePEM(path string, typ string, der []byte) error {
	return os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der}), 0o644)
}

func writeOutputsOrDie(h *rom.Handoff, s *api.Status, m *rom.Metrics) {
	if *csrFile != "" && h != nil && h.IDevID.CSR != nil {
		if err := writePEM(*csrFile, "CERTIFICATE REQUEST", h.IDevID.CSR); err != nil {
			klog.Exitf("Failed to write CSR: %v", err)
		}
	}

	if *certFile != "" && h != nil {
		if err := writePEM(*certFile, "CERTIFICATE", h.LDevID.Cert); err != nil {
			klog.Exitf("Failed to write LDevID certificate: %v", err)
		}
	}

	if *statusFile != "" && s != nil {
		if err := os.WriteFile(*statusFile, s.Bytes(), 0o644); err != nil {
			klog.Exitf("Failed to write status: %v", err)
		}
	}

	if *metricsFile != "" {
		if err := m.WriteToTextfile(*metricsFile); err != nil {
			klog.Exitf("Failed to write metrics: %v", err)
		}
	}
}

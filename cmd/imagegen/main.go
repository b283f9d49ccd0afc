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
// The imagegen tool builds and signs ROM firmware image bundles, and prints
// the fuse values binding a device to the signing keys. Only useful for
// development work.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"os"

	"golang.org/x/mod/sumdb/note"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"

	"github.com/transparency-dev/armored-witness-rom/hwmodel"
	"github.com/transparency-dev/armored-witness-rom/image"
	"github.com/transparency-dev/armored-witness-rom/internal/ft"
	"github.com/transparency-dev/armored-witness-rom/internal/imagegen"
)

var (
	keysDir        = flag.String("keys_dir", "", "Directory holding the vendor and owner PEM keys.")
	generateKeys   = flag.Bool("generate_keys", false, "Generate fresh keys into keys_dir.")
	vendorKeyIndex = flag.Uint("vendor_key_index", 0, "Index of the vendor key signing the image.")
	headerRevision = flag.Uint64("revision", 0, "Image revision number.")

	fmcFile       = flag.String("fmc_file", "", "FMC firmware binary.")
	fmcRevision   = flag.String("fmc_revision", "", "FMC commit revision (hex).")
	fmcSVN        = flag.Uint("fmc_svn", 0, "FMC security version number.")
	fmcMinSVN     = flag.Uint("fmc_min_svn", 0, "FMC minimum security version number.")
	fmcLoadAddr   = flag.Uint("fmc_load_addr", 0x40000000, "FMC load address.")
	fmcEntryPoint = flag.Uint("fmc_entry_point", 0x40000000, "FMC entry point.")

	runtimeFile       = flag.String("runtime_file", "", "Runtime firmware binary.")
	runtimeRevision   = flag.String("runtime_revision", "", "Runtime commit revision (hex).")
	runtimeSVN        = flag.Uint("runtime_svn", 0, "Runtime security version number.")
	runtimeMinSVN     = flag.Uint("runtime_min_svn", 0, "Runtime minimum security version number.")
	runtimeLoadAddr   = flag.Uint("runtime_load_addr", 0x40010000, "Runtime load address.")
	runtimeEntryPoint = flag.Uint("runtime_entry_point", 0x40010000, "Runtime entry point.")

	outputFile = flag.String("output_file", "", "File to write the image bundle to.")
	fusesFile  = flag.String("fuses_file", "", "Optional file to write the provisioning key digests to, as YAML.")

	statementFile  = flag.String("statement_file", "", "Optional file to write a signed release statement to.")
	releaseKeyFile = flag.String("release_key_file", "", "File containing the release note signer key.")
	gitTag         = flag.String("git_tag", "", "Release tag recorded in the statement.")
	gitCommit      = flag.String("git_commit", "", "Release commit recorded in the statement.")
	releaseKeyName = flag.String("generate_release_key", "", "Generate a release note key with this name into release_key_file, and its verifier alongside.")
)

func main() {
	flag.Parse()

	keys := keysOrDie()

	cfg := &imagegen.Config{
		Revision:       [2]uint32{uint32(*headerRevision), uint32(*headerRevision >> 32)},
		VendorKeyIndex: uint32(*vendorKeyIndex),
		FMC: imagegen.Segment{
			Data:       readOrDie(*fmcFile, "FMC"),
			Revision:   revisionOrDie(*fmcRevision),
			SVN:        uint32(*fmcSVN),
			MinSVN:     uint32(*fmcMinSVN),
			LoadAddr:   uint32(*fmcLoadAddr),
			EntryPoint: uint32(*fmcEntryPoint),
		},
		Runtime: imagegen.Segment{
			Data:       readOrDie(*runtimeFile, "runtime"),
			Revision:   revisionOrDie(*runtimeRevision),
			SVN:        uint32(*runtimeSVN),
			MinSVN:     uint32(*runtimeMinSVN),
			LoadAddr:   uint32(*runtimeLoadAddr),
			EntryPoint: uint32(*runtimeEntryPoint),
		},
	}

	b, err := imagegen.Build(keys, cfg)
	if err != nil {
		klog.Exitf("Failed to build image: %v", err)
	}

	buf, err := b.Bytes()
	if err != nil {
		klog.Exitf("Failed to serialize image: %v", err)
	}

	if err := os.WriteFile(*outputFile, buf, 0o644); err != nil {
		klog.Exitf("WriteFile: %v", err)
	}

	klog.Infof("Wrote %d bytes of image bundle to %q", len(buf), *outputFile)

	if *fusesFile != "" {
		writeFusesOrDie(&b.Manifest)
	}

	if *statementFile != "" {
		writeStatementOrDie(buf)
	}
}

func keysOrDie() *imagegen.Keys {
	if *keysDir == "" {
		klog.Exit("keys_dir is required")
	}

	if !*generateKeys {
		keys, err := imagegen.LoadKeys(*keysDir)
		if err != nil {
			klog.Exitf("Failed to load keys: %v", err)
		}
		return keys
	}

	keys, err := imagegen.GenerateKeys()
	if err != nil {
		klog.Exitf("Failed to generate keys: %v", err)
	}

	if err := os.MkdirAll(*keysDir, 0o700); err != nil {
		klog.Exitf("MkdirAll: %v", err)
	}

	if err := keys.Save(*keysDir); err != nil {
		klog.Exitf("Failed to save keys: %v", err)
	}

	klog.Infof("Generated keys in %q", *keysDir)

	return keys
}

func readOrDie(p string, thing string) []byte {
	b, err := os.ReadFile(p)
	if err != nil {
		klog.Exitf("Failed to read %s %q: %v", thing, p, err)
	}
	return b
}

func revisionOrDie(s string) (r image.Revision) {
	if s == "" {
		return
	}

	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(r) {
		klog.Exitf("Invalid revision %q, want %d hex bytes", s, len(r))
	}

	copy(r[:], b)

	return
}

// writeFusesOrDie writes the provisioning fragment fusing the image keys.
func writeFusesOrDie(m *image.Manifest) {
	vendor, owner, err := imagegen.FuseDigests(m)
	if err != nil {
		klog.Exitf("Failed to compute key digests: %v", err)
	}

	fuses := struct {
		VendorPubKeyDigest hwmodel.HexBytes `yaml:"vendor_pub_key_digest"`
		OwnerPubKeyDigest  hwmodel.HexBytes `yaml:"owner_pub_key_digest"`
	}{vendor[:], owner[:]}

	out, err := yaml.Marshal(&fuses)
	if err != nil {
		klog.Exitf("Failed to encode fuses: %v", err)
	}

	if err := os.WriteFile(*fusesFile, out, 0o644); err != nil {
		klog.Exitf("WriteFile: %v", err)
	}

	klog.Infof("Fuses:\n%s", out)
}

func writeStatementOrDie(buf []byte) {
	if *releaseKeyName != "" {
		generateReleaseKeyOrDie()
	}

	skey, err := os.ReadFile(*releaseKeyFile)
	if err != nil {
		klog.Exitf("Failed to read release key %q: %v", *releaseKeyFile, err)
	}

	signer, err := note.NewSigner(string(skey))
	if err != nil {
		klog.Exitf("Invalid release signer key: %v", err)
	}

	r, err := ft.NewRelease(buf, ft.GitInfo{TagName: *gitTag, CommitFP: *gitCommit})
	if err != nil {
		klog.Exitf("Failed to describe release: %v", err)
	}

	msg, err := ft.Sign(r, signer)
	if err != nil {
		klog.Exitf("Failed to sign release: %v", err)
	}

	if err := os.WriteFile(*statementFile, msg, 0o644); err != nil {
		klog.Exitf("WriteFile: %v", err)
	}

	klog.Infof("Release statement:\n%s", msg)
}

func generateReleaseKeyOrDie() {
	skey, vkey, err := note.GenerateKey(rand.Reader, *releaseKeyName)
	if err != nil {
		klog.Exitf("Failed to generate release key: %v", err)
	}

	if err := os.WriteFile(*releaseKeyFile, []byte(skey), 0o600); err != nil {
		klog.Exitf("WriteFile: %v", err)
	}

	if err := os.WriteFile(*releaseKeyFile+".pub", []byte(vkey), 0o644); err != nil {
		klog.Exitf("WriteFile: %v", err)
	}

	klog.Infof("Release verifier key: %s", vkey)
}

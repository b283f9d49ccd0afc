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

// Package ft produces and checks firmware transparency statements: signed
// notes binding a release to the digests of its image components.
package ft

import (
	"crypto/sha512"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/mod/sumdb/note"

	"github.com/transparency-dev/armored-witness-rom/hw"
	"github.com/transparency-dev/armored-witness-rom/image"
)

// Component identifies ROM firmware images in release statements.
const Component = "armored-witness-rom-image"

// Release is the statement body.
type Release struct {
	Component         string    `json:"component"`
	Git               GitInfo   `json:"git"`
	VendorPubKeyIndex uint32    `json:"vendor_pub_key_index"`
	ManifestSHA384    hw.Digest `json:"manifest_sha384"`
	FMCSHA384         hw.Digest `json:"fmc_sha384"`
	RuntimeSHA384     hw.Digest `json:"runtime_sha384"`
	FMCSVN            uint32    `json:"fmc_svn"`
	RuntimeSVN        uint32    `json:"runtime_svn"`
}

// GitInfo is the source revision a release was built from.
type GitInfo struct {
	TagName  string `json:"tag_name"`
	CommitFP string `json:"commit_fingerprint"`
}

// NewRelease returns the statement body for the image in buf.
func NewRelease(buf []byte, git GitInfo) (*Release, error) {
	m, err := image.Parse(buf)
	if err != nil {
		return nil, err
	}

	return &Release{
		Component:         Component,
		Git:               git,
		VendorPubKeyIndex: m.Preamble.VendorPubKeyIndex,
		ManifestSHA384:    sha512.Sum384(buf[:image.ManifestSize]),
		FMCSHA384:         m.FMC.Digest,
		RuntimeSHA384:     m.Runtime.Digest,
		FMCSVN:            m.FMC.SVN,
		RuntimeSVN:        m.Runtime.SVN,
	}, nil
}

// Sign returns the release as a signed note.
func Sign(r *Release, signers ...note.Signer) ([]byte, error) {
	body, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, err
	}

	return note.Sign(&note.Note{Text: string(body) + "\n"}, signers...)
}

// Open verifies a signed release note and returns its body.
func Open(msg []byte, verifiers note.Verifiers) (*Release, error) {
	n, err := note.Open(msg, verifiers)
	if err != nil {
		return nil, fmt.Errorf("could not open release note (%v)", err)
	}

	r := &Release{}

	if err = json.Unmarshal([]byte(n.Text), r); err != nil {
		return nil, fmt.Errorf("could not parse release (%v)", err)
	}

	if r.Component != Component {
		return nil, errors.New("release is not for a ROM image")
	}

	return r, nil
}

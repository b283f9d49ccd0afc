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

// Package mailbox implements the CSR upload protocol over the mailbox
// transport.
package mailbox

import (
	"k8s.io/klog/v2"

	"github.com/transparency-dev/armored-witness-rom/hw"
)

// State is the upload protocol state.
type State int

const (
	Idle State = iota
	Sending
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sending:
		return "sending"
	}
	return "invalid"
}

// Uploader hands a CSR over to the external consumer through the mailbox.
type Uploader struct {
	Mailbox hw.Mailbox
	Mfg     hw.MfgState
	Flow    hw.FlowStatus

	state State
	spins int
}

// State returns the current protocol state.
func (u *Uploader) State() State {
	return u.state
}

// Spins returns the polls spent waiting, on the transport and on the
// consumer, during the last upload.
func (u *Uploader) Spins() int {
	return u.spins
}

// Upload sends csr, spinning until the mailbox is acquired and then until the
// consumer clears the CSR request flag. There is no timeout, liveness relies
// on the consumer draining the mailbox.
func (u *Uploader) Upload(csr []byte) (err error) {
	var txn hw.MailboxTxn

	u.spins = 0

	for {
		var ok bool
		if txn, ok = u.Mailbox.TryStartSendTxn(); ok {
			break
		}
		u.spins++
	}

	u.state = Sending

	defer func() {
		if cerr := txn.Complete(); err == nil {
			err = cerr
		}
		u.state = Idle
	}()

	if err = txn.SendRequest(0, csr); err != nil {
		return
	}

	u.Flow.SetIDevIDCSRReady()

	klog.Infof("mailbox: IDevID CSR of %d bytes ready, waiting for consumer", len(csr))

	for u.Mfg.GenIDevIDCSR() {
		u.spins++
	}

	klog.V(1).Infof("mailbox: CSR drained after %d spins", u.spins)

	return
}

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

package hwmodel

import (
	"bytes"
	"sync"

	"k8s.io/klog/v2"

	"github.com/transparency-dev/armored-witness-rom/fault"
	"github.com/transparency-dev/armored-witness-rom/hw"
)

// MailboxSize is the size of the mailbox SRAM.
const MailboxSize = 128 * 1024

// Mailbox models the mailbox transport.
type Mailbox struct {
	// held by the active send transaction
	mu sync.Mutex

	// protects the fields below
	state      sync.Mutex
	sram       [MailboxSize]byte
	length     int
	contention int
	attempts   int
	completed  int
}

// Contend makes the next n acquisition attempts report the mailbox as busy,
// as if another producer held it.
func (m *Mailbox) Contend(n int) {
	m.state.Lock()
	defer m.state.Unlock()

	m.contention = n
}

// Attempts returns the number of acquisition attempts so far.
func (m *Mailbox) Attempts() int {
	m.state.Lock()
	defer m.state.Unlock()

	return m.attempts
}

// Completed returns the number of completed send transactions.
func (m *Mailbox) Completed() int {
	m.state.Lock()
	defer m.state.Unlock()

	return m.completed
}

// Payload returns a copy of the last request written to the mailbox.
func (m *Mailbox) Payload() []byte {
	m.state.Lock()
	defer m.state.Unlock()

	return bytes.Clone(m.sram[:m.length])
}

// TryStartSendTxn implements hw.Mailbox.
func (m *Mailbox) TryStartSendTxn() (hw.MailboxTxn, bool) {
	m.state.Lock()
	m.attempts++
	if m.contention > 0 {
		m.contention--
		m.state.Unlock()
		return nil, false
	}
	m.state.Unlock()

	if !m.mu.TryLock() {
		return nil, false
	}

	return &mailboxTxn{mbox: m}, true
}

type mailboxTxn struct {
	mbox *Mailbox
	done bool
}

func (t *mailboxTxn) SendRequest(offset uint32, data []byte) error {
	if t.done {
		return fault.New(fault.SlotBusy, "mailbox send", "transaction already completed")
	}

	end := uint64(offset) + uint64(len(data))
	if end > MailboxSize {
		return fault.New(fault.CryptoOperationFailed, "mailbox send", "request [%#x, %#x) exceeds mailbox", offset, end)
	}

	m := t.mbox

	m.state.Lock()
	defer m.state.Unlock()

	copy(m.sram[offset:], data)
	m.length = int(end)

	klog.V(1).Infof("mailbox: request of %d bytes at %#x", len(data), offset)

	return nil
}

func (t *mailboxTxn) Complete() error {
	if t.done {
		return fault.New(fault.SlotBusy, "mailbox complete", "transaction already completed")
	}
	t.done = true

	m := t.mbox

	m.state.Lock()
	m.completed++
	m.state.Unlock()

	m.mu.Unlock()

	return nil
}

// Host models the external consumer of the mailbox (a debugger or
// manufacturing host) together with the manufacturing service register and
// the flow status register it shares with the ROM.
//
// Once the ROM signals a CSR is ready, the host drains the mailbox on the
// DrainAfter-th poll of the request flag and then clears it.
type Host struct {
	sync.Mutex

	Mailbox    *Mailbox
	DrainAfter int

	genCSR bool
	ready  bool
	polls  int
	csr    []byte
}

// RequestIDevIDCSR sets the manufacturing flag requesting an IDevID CSR.
func (h *Host) RequestIDevIDCSR() {
	h.Lock()
	defer h.Unlock()

	h.genCSR = true
}

// GenIDevIDCSR implements hw.MfgState.
func (h *Host) GenIDevIDCSR() bool {
	h.Lock()
	defer h.Unlock()

	if h.ready {
		h.polls++

		if h.polls >= h.DrainAfter {
			h.csr = h.Mailbox.Payload()
			h.ready = false
			h.genCSR = false

			klog.Infof("host: drained %d byte CSR after %d polls", len(h.csr), h.polls)
		}
	}

	return h.genCSR
}

// SetIDevIDCSRReady implements hw.FlowStatus.
func (h *Host) SetIDevIDCSRReady() {
	h.Lock()
	defer h.Unlock()

	h.ready = true
	h.polls = 0
}

// CSR returns the last CSR drained from the mailbox, if any.
func (h *Host) CSR() []byte {
	h.Lock()
	defer h.Unlock()

	return h.csr
}

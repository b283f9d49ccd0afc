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

package rpmb

import (
	"crypto/hmac"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"io"
	"sync"
)

// memState is the persistent content of an emulated RPMB partition.
type memState struct {
	Key     []byte
	Counter uint32
	Blocks  [][DataLength]byte
}

// MemCard emulates the device side of an eMMC RPMB partition in memory.
type MemCard struct {
	sync.Mutex

	state  memState
	result *DataFrame
	res    []byte
}

// NewMemCard returns an unprogrammed RPMB partition of n blocks.
func NewMemCard(n int) *MemCard {
	return &MemCard{
		state: memState{
			Blocks: make([][DataLength]byte, n),
		},
	}
}

// LoadMemCard restores a partition previously persisted with Save.
func LoadMemCard(r io.Reader) (*MemCard, error) {
	c := &MemCard{}

	if err := gob.NewDecoder(r).Decode(&c.state); err != nil {
		return nil, err
	}

	return c, nil
}

// Save persists the partition content.
func (c *MemCard) Save(w io.Writer) error {
	c.Lock()
	defer c.Unlock()

	return gob.NewEncoder(w).Encode(&c.state)
}

// Counter returns the partition write counter without authentication.
func (c *MemCard) Counter() uint32 {
	c.Lock()
	defer c.Unlock()

	return c.state.Counter
}

func (c *MemCard) response(req *DataFrame, result uint16) *DataFrame {
	res := &DataFrame{
		Resp:       req.Req,
		Nonce:      req.Nonce,
		Address:    req.Address,
		BlockCount: req.BlockCount,
	}

	binary.BigEndian.PutUint16(res.Result[:], result)
	binary.BigEndian.PutUint32(res.WriteCounter[:], c.state.Counter)

	return res
}

func (c *MemCard) sign(res *DataFrame) []byte {
	if c.state.Key != nil {
		copy(res.KeyMAC[:], mac(c.state.Key, res.Bytes()))
	}

	return res.Bytes()
}

func (c *MemCard) handle(req *DataFrame, buf []byte, reliable bool) *DataFrame {
	if c.state.Key == nil && req.Req != AuthenticationKeyProgramming {
		return c.response(req, AuthenticationKeyNotYetProgrammed)
	}

	switch req.Req {
	case AuthenticationKeyProgramming:
		if c.state.Key != nil || !reliable {
			return c.response(req, WriteFailure)
		}

		c.state.Key = append([]byte{}, req.KeyMAC[:]...)

		return c.response(req, OperationOK)
	case WriteCounterRead:
		return c.response(req, OperationOK)
	case AuthenticatedDataWrite:
		switch {
		case !reliable:
			return c.response(req, GeneralFailure)
		case !hmac.Equal(req.KeyMAC[:], mac(c.state.Key, buf)):
			return c.response(req, AuthenticationFailure)
		case req.Counter() != c.state.Counter:
			return c.response(req, CounterFailure)
		case int(req.Addr()) >= len(c.state.Blocks):
			return c.response(req, AddressFailure)
		}

		c.state.Blocks[req.Addr()] = req.Data
		c.state.Counter++

		return c.response(req, OperationOK)
	case AuthenticatedDataRead:
		if int(req.Addr()) >= len(c.state.Blocks) {
			return c.response(req, AddressFailure)
		}

		res := c.response(req, OperationOK)
		res.Data = c.state.Blocks[req.Addr()]

		return res
	}

	return c.response(req, GeneralFailure)
}

// WriteRPMB implements Card.
func (c *MemCard) WriteRPMB(buf []byte, reliable bool) error {
	c.Lock()
	defer c.Unlock()

	req, err := ParseFrame(buf)
	if err != nil {
		return err
	}

	switch req.Req {
	case ResultRead:
		if c.result == nil {
			return errors.New("no result available")
		}
		c.res = c.sign(c.result)
		c.result = nil
	case AuthenticationKeyProgramming, AuthenticatedDataWrite, AuthenticatedDeviceConfigurationWrite:
		// results of write requests are only returned through a result read
		c.result = c.handle(req, buf, reliable)
		c.res = nil
	default:
		c.res = c.sign(c.handle(req, buf, reliable))
	}

	return nil
}

// ReadRPMB implements Card.
func (c *MemCard) ReadRPMB(buf []byte) error {
	c.Lock()
	defer c.Unlock()

	if c.res == nil {
		return errors.New("no response available")
	}

	if len(buf) < FrameLength {
		return errors.New("buffer too small")
	}

	copy(buf, c.res)
	c.res = nil

	return nil
}

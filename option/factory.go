// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package option

import (
	"encoding/binary"
	"sync"

	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

// Position token derivation tags.
var (
	longTokenTag  = []byte("option/long")
	shortTokenTag = []byte("option/short")
)

// Factory deploys instruments at deterministic addresses and answers
// whether an address belongs to a series it deployed. The engine never
// trusts a caller-supplied instrument without checking IsRegistered.
type Factory struct {
	Address common.Address

	mu          sync.RWMutex
	instruments map[common.Address]*Instrument
}

// NewFactory creates a factory anchored at addr. The anchor participates
// in address derivation, so two factories at different addresses deploy
// disjoint address spaces.
func NewFactory(addr common.Address) *Factory {
	return &Factory{
		Address:     addr,
		instruments: make(map[common.Address]*Instrument),
	}
}

// ExpectedAddress derives the address a series with these parameters
// deploys at. CREATE2-style: the address is a pure function of the
// factory anchor and the economic terms.
func (f *Factory) ExpectedAddress(p Parameters) common.Address {
	h := blake3.New()
	h.Write([]byte{0xff})
	h.Write(f.Address.Bytes())
	h.Write(p.Underlying.Bytes())
	h.Write(p.Strike.Bytes())
	h.Write(common.BigToHash(p.Base).Bytes())
	h.Write(common.BigToHash(p.Quote).Bytes())
	var expiry [8]byte
	binary.BigEndian.PutUint64(expiry[:], p.Expiry)
	h.Write(expiry[:])

	var hash [32]byte
	h.Digest().Read(hash[:])
	var addr common.Address
	copy(addr[:], hash[12:32])
	return addr
}

// positionToken derives a position-token address from the instrument.
func positionToken(instrument common.Address, tag []byte) common.Address {
	h := blake3.New()
	h.Write(tag)
	h.Write(instrument.Bytes())
	var hash [32]byte
	h.Digest().Read(hash[:])
	var addr common.Address
	copy(addr[:], hash[12:32])
	return addr
}

// Deploy creates the series for p at its expected address.
func (f *Factory) Deploy(p Parameters) (*Instrument, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	addr := f.ExpectedAddress(p)

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.instruments[addr]; exists {
		return nil, ErrAlreadyDeployed
	}
	in := NewInstrument(addr, p, positionToken(addr, longTokenTag), positionToken(addr, shortTokenTag))
	f.instruments[addr] = in
	return in, nil
}

// Get returns the deployed series at addr.
func (f *Factory) Get(addr common.Address) (*Instrument, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	in, ok := f.instruments[addr]
	if !ok {
		return nil, ErrUnknownInstrument
	}
	return in, nil
}

// IsRegistered reports whether addr is a series this factory deployed.
// The check recomputes the derivation from the stored parameters rather
// than trusting the map alone, so a series whose terms do not hash back
// to its own address can never pass. The zero address never registers.
func (f *Factory) IsRegistered(addr common.Address) bool {
	if addr == (common.Address{}) {
		return false
	}

	f.mu.RLock()
	in, ok := f.instruments[addr]
	f.mu.RUnlock()
	if !ok {
		return false
	}
	return f.ExpectedAddress(in.Params) == addr
}

// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pair

import (
	"bytes"
	"sync"

	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

// Factory creates pairs at deterministic addresses and keeps the callee
// registry flash swaps resolve recipients through. Pair addresses are
// never stored by consumers; they re-derive them from the token pair.
type Factory struct {
	Address common.Address

	mu      sync.RWMutex
	pairs   map[common.Address]*Pair
	callees map[common.Address]Callee
}

// NewFactory creates a factory anchored at addr.
func NewFactory(addr common.Address) *Factory {
	return &Factory{
		Address: addr,
		pairs:   make(map[common.Address]*Pair),
		callees: make(map[common.Address]Callee),
	}
}

// SortTokens orders a token pair canonically by byte comparison.
func SortTokens(tokenA, tokenB common.Address) (common.Address, common.Address, error) {
	if tokenA == tokenB {
		return common.Address{}, common.Address{}, ErrIdenticalTokens
	}
	if bytes.Compare(tokenA.Bytes(), tokenB.Bytes()) > 0 {
		tokenA, tokenB = tokenB, tokenA
	}
	if tokenA == (common.Address{}) {
		return common.Address{}, common.Address{}, ErrZeroAddress
	}
	return tokenA, tokenB, nil
}

// PairFor derives the canonical address of the pair for two tokens,
// whether or not it has been created.
func (f *Factory) PairFor(tokenA, tokenB common.Address) (common.Address, error) {
	token0, token1, err := SortTokens(tokenA, tokenB)
	if err != nil {
		return common.Address{}, err
	}
	h := blake3.New()
	h.Write([]byte{0xff})
	h.Write(f.Address.Bytes())
	h.Write(token0.Bytes())
	h.Write(token1.Bytes())
	var hash [32]byte
	h.Digest().Read(hash[:])
	var addr common.Address
	copy(addr[:], hash[12:32])
	return addr, nil
}

// CreatePair deploys the pool for a token pair at its derived address.
func (f *Factory) CreatePair(tokenA, tokenB common.Address) (*Pair, error) {
	token0, token1, err := SortTokens(tokenA, tokenB)
	if err != nil {
		return nil, err
	}
	addr, err := f.PairFor(token0, token1)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.pairs[addr]; exists {
		return nil, ErrPairExists
	}
	p := newPair(addr, token0, token1, f)
	f.pairs[addr] = p
	return p, nil
}

// Get returns the deployed pair at addr.
func (f *Factory) Get(addr common.Address) (*Pair, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	p, ok := f.pairs[addr]
	if !ok {
		return nil, ErrUnknownPair
	}
	return p, nil
}

// GetPair returns the deployed pair for two tokens.
func (f *Factory) GetPair(tokenA, tokenB common.Address) (*Pair, error) {
	addr, err := f.PairFor(tokenA, tokenB)
	if err != nil {
		return nil, err
	}
	return f.Get(addr)
}

// RegisterCallee binds a flash-swap handler to a recipient address.
func (f *Factory) RegisterCallee(recipient common.Address, c Callee) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callees[recipient] = c
}

// Callee resolves a swap recipient to its handler.
func (f *Factory) Callee(recipient common.Address) (Callee, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	c, ok := f.callees[recipient]
	return c, ok
}

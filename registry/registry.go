// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package registry fixes the addresses of the settlement system's
// components and tracks what is deployed at each. Components live in a
// reserved trailing-significant range so they can never collide with
// user accounts or derived token addresses.
package registry

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/luxfi/geth/common"
)

// All system components use trailing-significant 20-byte addresses:
//   Format: 0x00000000000000000000000000000000000091II
//
// The 0x91 page is the settlement system; II identifies the component.

const (
	// Settlement system (0x9100-0x91FF)
	EngineAddress        = "0x0000000000000000000000000000000000009110" // flash-settlement engine
	PairFactoryAddress   = "0x0000000000000000000000000000000000009120" // constant-product pair factory
	OptionFactoryAddress = "0x0000000000000000000000000000000000009130" // option series factory
	WrappedNativeAddress = "0x0000000000000000000000000000000000009140" // wrapped native token
	NativeAdapterAddress = "0x0000000000000000000000000000000000009141" // native wrap/unwrap escrow
	CustodyRelayAddress  = "0x0000000000000000000000000000000000009150" // allowance custody relay
)

// Errors
var (
	ErrOutOfRange       = errors.New("address not in a reserved range")
	ErrBlackholeOverlap = errors.New("address overlaps with blackhole address")
)

// BlackholeAddr is the address where assets are burned.
var BlackholeAddr = common.Address{
	1, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// AddressRange represents a continuous range of addresses.
type AddressRange struct {
	Start common.Address
	End   common.Address
}

// Contains returns true iff [addr] is contained within the (inclusive)
// range of addresses defined by [a].
func (a *AddressRange) Contains(addr common.Address) bool {
	addrBytes := addr.Bytes()
	return bytes.Compare(addrBytes, a.Start[:]) >= 0 && bytes.Compare(addrBytes, a.End[:]) <= 0
}

// Reserved ranges for system components.
//
// 0x9100-0x91FF: settlement system (engine, factories, relay, adapter)
var reservedRanges = []AddressRange{
	{
		Start: common.HexToAddress("0x0000000000000000000000000000000000009100"),
		End:   common.HexToAddress("0x00000000000000000000000000000000000091ff"),
	},
}

// ReservedAddress returns true if [addr] is in a reserved range for
// system components.
func ReservedAddress(addr common.Address) bool {
	for _, reservedRange := range reservedRanges {
		if reservedRange.Contains(addr) {
			return true
		}
	}
	return false
}

// Component binds a fixed system address to a name and the deployed
// implementation behind it.
type Component struct {
	Name    string
	Address common.Address
	Impl    any
}

type componentArray []Component

func (c componentArray) Len() int      { return len(c) }
func (c componentArray) Swap(i, j int) { c[i], c[j] = c[j], c[i] }
func (c componentArray) Less(i, j int) bool {
	return bytes.Compare(c[i].Address.Bytes(), c[j].Address.Bytes()) < 0
}

// Registry holds the deployed components of one settlement system
// instance. Iteration order is deterministic: sorted by address.
type Registry struct {
	mu         sync.RWMutex
	components []Component
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{components: make([]Component, 0)}
}

// Register records a component at its system address.
func (r *Registry) Register(c Component) error {
	if c.Address == BlackholeAddr {
		return fmt.Errorf("%w: %s", ErrBlackholeOverlap, c.Address)
	}
	if !ReservedAddress(c.Address) {
		return fmt.Errorf("%w: %s", ErrOutOfRange, c.Address)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, registered := range r.components {
		if registered.Name == c.Name {
			return fmt.Errorf("name %s already used by a component", c.Name)
		}
		if registered.Address == c.Address {
			return fmt.Errorf("address %s already used by a component", c.Address)
		}
	}
	// sort by address to ensure deterministic iteration
	r.components = append(r.components, c)
	sort.Sort(componentArray(r.components))
	return nil
}

// ByAddress returns the component registered at address.
func (r *Registry) ByAddress(address common.Address) (Component, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.components {
		if c.Address == address {
			return c, true
		}
	}
	return Component{}, false
}

// ByName returns the component registered under name.
func (r *Registry) ByName(name string) (Component, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.components {
		if c.Name == name {
			return c, true
		}
	}
	return Component{}, false
}

// Components returns the registered components in address order.
func (r *Registry) Components() []Component {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Component, len(r.components))
	copy(out, r.components)
	return out
}

// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package connector holds the out-of-core collaborators the settlement
// engine consumes through interfaces: the custody relay end users grant
// allowances to, and the adapter between the native asset and its
// wrapped-token form.
package connector

import (
	"math/big"

	"github.com/luxfi/geth/common"

	"github.com/primitivefinance/v1-connectors-sub000/token"
)

// CustodyRelay is the single spender end users approve. Every pull goes
// through the relay's allowance, so a user's exposure is bounded by what
// they approved regardless of which component asks.
type CustodyRelay struct {
	Address common.Address
}

// NewCustodyRelay creates a relay spending through addr's allowances.
func NewCustodyRelay(addr common.Address) *CustodyRelay {
	return &CustodyRelay{Address: addr}
}

// PullFromCaller pulls qty of asset from caller onto the relay's own
// account.
func (r *CustodyRelay) PullFromCaller(ledger *token.Ledger, asset, caller common.Address, qty *big.Int) error {
	return ledger.TransferFrom(asset, caller, r.Address, r.Address, qty)
}

// PullFromCallerTo pulls qty of asset from caller directly to receiver.
func (r *CustodyRelay) PullFromCallerTo(ledger *token.Ledger, asset, caller, receiver common.Address, qty *big.Int) error {
	return ledger.TransferFrom(asset, caller, receiver, r.Address, qty)
}

// NativeAdapter converts between the native asset and its wrapped token.
// The adapter account escrows native one to one against the wrapped
// supply.
type NativeAdapter struct {
	Address common.Address
	Wrapped common.Address
}

// NewNativeAdapter creates an adapter escrowing at addr and issuing the
// wrapped token at wrapped.
func NewNativeAdapter(addr, wrapped common.Address) *NativeAdapter {
	return &NativeAdapter{Address: addr, Wrapped: wrapped}
}

// Wrap converts qty of holder's native balance into wrapped tokens.
func (a *NativeAdapter) Wrap(ledger *token.Ledger, holder common.Address, qty *big.Int) error {
	if err := ledger.Transfer(token.Native, holder, a.Address, qty); err != nil {
		return err
	}
	return ledger.Mint(a.Wrapped, holder, qty)
}

// Unwrap burns qty of holder's wrapped tokens and releases the escrowed
// native to receiver.
func (a *NativeAdapter) Unwrap(ledger *token.Ledger, holder, receiver common.Address, qty *big.Int) error {
	if err := ledger.Burn(a.Wrapped, holder, qty); err != nil {
		return err
	}
	return ledger.Transfer(token.Native, a.Address, receiver, qty)
}

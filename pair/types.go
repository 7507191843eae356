// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pair implements constant-product liquidity pairs with flash
// swaps: output is paid out optimistically, a callee may run arbitrary
// settlement logic, and the fee-adjusted invariant is enforced afterwards.
package pair

import (
	"errors"
	"math/big"

	"github.com/luxfi/geth/common"
)

// Errors
var (
	ErrIdenticalTokens           = errors.New("identical tokens")
	ErrZeroAddress               = errors.New("zero address token")
	ErrPairExists                = errors.New("pair exists")
	ErrUnknownPair               = errors.New("unknown pair")
	ErrInsufficientLiquidity     = errors.New("insufficient liquidity")
	ErrInsufficientInput         = errors.New("insufficient input amount")
	ErrInsufficientOutput        = errors.New("insufficient output amount")
	ErrInsufficientLiquidityMint = errors.New("insufficient liquidity minted")
	ErrInsufficientLiquidityBurn = errors.New("insufficient liquidity burned")
	ErrInvariantViolated         = errors.New("constant-product invariant violated")
	ErrInvalidRecipient          = errors.New("invalid swap recipient")
	ErrNoCallee                  = errors.New("no callee registered for recipient")
	ErrLocked                    = errors.New("pair locked")
)

// PairView is what a flash-swap callee may learn about the calling pair:
// its address and token ordering, enough to re-derive the canonical pair
// address and authenticate the call.
type PairView interface {
	PairAddress() common.Address
	Token0() common.Address
	Token1() common.Address
}

// Callee receives control mid-swap, after output has been paid out and
// before the invariant check. It must arrange repayment before returning.
type Callee interface {
	OnFlashSwap(caller PairView, initiator common.Address, amount0Out, amount1Out *big.Int, data []byte) error
}

// CalleeRegistry resolves a swap recipient to its callback handler.
type CalleeRegistry interface {
	Callee(recipient common.Address) (Callee, bool)
}

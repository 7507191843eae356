// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package token implements the fungible-token ledger the settlement engine
// and its collaborators move balances through. The ledger is the single
// source of truth for every asset balance in a transaction; snapshots make
// a whole operation revertible as one unit.
package token

import (
	"errors"

	"github.com/luxfi/geth/common"
)

// Native is the ledger key for the chain's native asset.
// Address(0) represents native, mirroring wrapped-asset conventions.
var Native = common.Address{}

// Errors
var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInvalidSnapshot       = errors.New("invalid snapshot id")
	ErrAmountOverflow        = errors.New("amount exceeds 256 bits")
	ErrNegativeAmount        = errors.New("negative amount")
)

// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package option implements tokenized covered-call instruments: deployment
// at deterministic addresses, long/short position tokens, and the strike
// accounting that converts between the two sides of a position.
package option

import (
	"errors"
	"math/big"

	"github.com/luxfi/geth/common"
)

// Errors
var (
	ErrZeroAmount          = errors.New("zero amount")
	ErrExpired             = errors.New("instrument expired")
	ErrNotExpired          = errors.New("instrument not expired")
	ErrInsufficientReserve = errors.New("insufficient instrument reserve")
	ErrStrikeShortfall     = errors.New("strike payment below required")
	ErrAlreadyDeployed     = errors.New("instrument already deployed")
	ErrUnknownInstrument   = errors.New("unknown instrument")
	ErrBadParameters       = errors.New("invalid instrument parameters")
)

// Parameters fixes an instrument's economic terms at deployment.
// Base and Quote define the strike ratio: one Base of underlying is
// exercisable for one Quote of the strike asset.
type Parameters struct {
	Underlying common.Address
	Strike     common.Address
	Base       *big.Int
	Quote      *big.Int
	Expiry     uint64
}

// Validate rejects parameter sets no instrument can operate under.
func (p Parameters) Validate() error {
	if p.Underlying == (common.Address{}) || p.Strike == (common.Address{}) {
		return ErrBadParameters
	}
	if p.Underlying == p.Strike {
		return ErrBadParameters
	}
	if p.Base == nil || p.Quote == nil || p.Base.Sign() <= 0 || p.Quote.Sign() <= 0 {
		return ErrBadParameters
	}
	if p.Expiry == 0 {
		return ErrBadParameters
	}
	return nil
}

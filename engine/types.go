// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package engine implements flash settlement for tokenized options: a
// single call borrows from a liquidity pair, mints or closes a position
// mid-swap, repays the pair, and pays the caller, with the whole sequence
// reverting as one unit on any failure.
package engine

import (
	"errors"
	"math/big"

	"github.com/luxfi/geth/common"
)

// Errors
var (
	ErrInvalidInstrument    = errors.New("instrument not registered")
	ErrUnauthorizedCallback = errors.New("unauthorized flash-swap callback")
	ErrPremiumExceeded      = errors.New("premium above caller maximum")
	ErrPayoutBelowMinimum   = errors.New("payout below caller minimum")
	ErrDeadlineExpired      = errors.New("deadline expired")
	ErrZeroAmount           = errors.New("zero amount")
	ErrReentrancy           = errors.New("reentrant settlement")
	ErrEngineHalted         = errors.New("engine halted")
	ErrResidualBalance      = errors.New("residual balance after settlement")
	ErrEmptySettlement      = errors.New("settlement produced no result")
	ErrBadRequest           = errors.New("malformed settlement request")
	ErrNativeMismatch       = errors.New("instrument underlying is not the wrapped native token")
)

// Status gates the engine's public entry points.
type Status uint8

const (
	StatusActive Status = iota
	StatusHalted
)

// RequestKind tags a settlement request.
type RequestKind uint8

const (
	KindMintThenRepay RequestKind = iota + 1
	KindMintThenRepayNative
	KindCloseThenRepay
	KindCloseThenRepayNative
)

func (k RequestKind) valid() bool {
	return k >= KindMintThenRepay && k <= KindCloseThenRepayNative
}

// requestSize is the fixed wire size: kind + instrument + caller + two
// 32-byte amounts.
const requestSize = 1 + 20 + 20 + 32 + 32

// SettlementRequest is the engine's instruction to itself, carried
// through the pair's swap callback. Decoding one is the only way into
// the settlement routines, so a decoded request doubles as proof the
// call came through the authenticated path.
type SettlementRequest struct {
	Kind       RequestKind
	Instrument common.Address
	Caller     common.Address
	Quantity   *big.Int // long quantity on open, short quantity on close
	Limit      *big.Int // max premium on open, min payout on close
}

// ToBytes encodes the request in its fixed wire layout.
func (r *SettlementRequest) ToBytes() []byte {
	buf := make([]byte, requestSize)
	buf[0] = byte(r.Kind)
	copy(buf[1:21], r.Instrument.Bytes())
	copy(buf[21:41], r.Caller.Bytes())
	copy(buf[41:73], common.BigToHash(r.Quantity).Bytes())
	copy(buf[73:105], common.BigToHash(r.Limit).Bytes())
	return buf
}

// RequestFromBytes decodes a settlement request, rejecting anything that
// is not exactly one well-formed request.
func RequestFromBytes(data []byte) (*SettlementRequest, error) {
	if len(data) != requestSize {
		return nil, ErrBadRequest
	}
	kind := RequestKind(data[0])
	if !kind.valid() {
		return nil, ErrBadRequest
	}
	return &SettlementRequest{
		Kind:       kind,
		Instrument: common.BytesToAddress(data[1:21]),
		Caller:     common.BytesToAddress(data[21:41]),
		Quantity:   new(big.Int).SetBytes(data[41:73]),
		Limit:      new(big.Int).SetBytes(data[73:105]),
	}, nil
}

// Result reports what a settlement delivered to the caller.
type Result struct {
	// Open side.
	LongMinted  *big.Int
	PremiumPaid *big.Int
	// Short tokens paid out when minting was cheaper than the loan.
	ShortWindfall *big.Int

	// Close side.
	ShortBurned    *big.Int
	PayoutPaid     *big.Int
	DeficitCharged *big.Int
}

// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package option

import (
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"

	"github.com/primitivefinance/v1-connectors-sub000/token"
)

// Instrument is one deployed option series. Position sides are fungible
// tokens: LongToken entitles the holder to exercise, ShortToken entitles
// the writer to the strike payment (or the underlying back after expiry).
//
// Mutating operations follow the transfer-then-call shape: the caller
// first moves assets onto the instrument's own ledger account, then calls
// the operation, which measures what arrived against the cached reserves.
type Instrument struct {
	Address    common.Address
	Params     Parameters
	LongToken  common.Address
	ShortToken common.Address

	mu                sync.Mutex
	underlyingReserve *big.Int
	strikeReserve     *big.Int
}

// NewInstrument wires a deployed series. Callers go through Factory.Deploy.
func NewInstrument(addr common.Address, params Parameters, longTok, shortTok common.Address) *Instrument {
	return &Instrument{
		Address:           addr,
		Params:            params,
		LongToken:         longTok,
		ShortToken:        shortTok,
		underlyingReserve: big.NewInt(0),
		strikeReserve:     big.NewInt(0),
	}
}

// UnderlyingReserve returns the underlying the instrument currently holds
// against open positions.
func (in *Instrument) UnderlyingReserve() *big.Int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return new(big.Int).Set(in.underlyingReserve)
}

// StrikeReserve returns the strike assets held for unredeemed shorts.
func (in *Instrument) StrikeReserve() *big.Int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return new(big.Int).Set(in.strikeReserve)
}

// Expired reports whether the series can no longer be minted or exercised.
func (in *Instrument) Expired(now uint64) bool {
	return now >= in.Params.Expiry
}

// Mint turns underlying sent to the instrument into a position. The deposit
// is whatever underlying balance exceeds the cached reserve. Long tokens
// match the deposit one to one; short tokens follow the strike ratio. Both
// go to receiver.
func (in *Instrument) Mint(ledger *token.Ledger, receiver common.Address, now uint64) (longMinted, shortMinted *big.Int, err error) {
	if in.Expired(now) {
		return nil, nil, ErrExpired
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	deposited := new(big.Int).Sub(ledger.BalanceOf(in.Params.Underlying, in.Address), in.underlyingReserve)
	if deposited.Sign() <= 0 {
		return nil, nil, ErrZeroAmount
	}
	short := in.Params.ShortFromLong(deposited)
	if short.Sign() == 0 {
		return nil, nil, ErrZeroAmount
	}

	if err := ledger.Mint(in.LongToken, receiver, deposited); err != nil {
		return nil, nil, err
	}
	if err := ledger.Mint(in.ShortToken, receiver, short); err != nil {
		return nil, nil, err
	}
	in.setUnderlyingReserve(ledger, new(big.Int).Add(in.underlyingReserve, deposited))
	return deposited, short, nil
}

// Close burns a matched long+short position sent to the instrument and
// releases the backing underlying to receiver. After expiry the long side
// is worthless and shorts close alone; before expiry both sides must be
// present and are burned in strike-ratio proportion. Unused position
// tokens are returned to receiver.
func (in *Instrument) Close(ledger *token.Ledger, receiver common.Address, now uint64) (shortBurned, longBurned, released *big.Int, err error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	inShort := ledger.BalanceOf(in.ShortToken, in.Address)
	inLong := ledger.BalanceOf(in.LongToken, in.Address)
	if inShort.Sign() == 0 {
		return nil, nil, nil, ErrZeroAmount
	}

	if in.Expired(now) {
		shortBurned = inShort
		longBurned = big.NewInt(0)
		released = in.Params.LongFromShort(inShort)
	} else {
		// Shorts alone only recover the underlying once the longs are dead.
		if inLong.Sign() == 0 {
			return nil, nil, nil, ErrNotExpired
		}
		longBurned = in.Params.LongFromShort(inShort)
		if longBurned.Cmp(inLong) > 0 {
			longBurned = inLong
		}
		shortBurned = in.Params.ShortFromLong(longBurned)
		released = longBurned
	}
	if released.Sign() == 0 {
		return nil, nil, nil, ErrZeroAmount
	}
	if released.Cmp(in.underlyingReserve) > 0 {
		return nil, nil, nil, ErrInsufficientReserve
	}

	if err := ledger.Burn(in.ShortToken, in.Address, shortBurned); err != nil {
		return nil, nil, nil, err
	}
	if err := ledger.Burn(in.LongToken, in.Address, longBurned); err != nil {
		return nil, nil, nil, err
	}
	// Return whatever position tokens were sent beyond what the close used.
	if err := in.refund(ledger, in.ShortToken, receiver); err != nil {
		return nil, nil, nil, err
	}
	if err := in.refund(ledger, in.LongToken, receiver); err != nil {
		return nil, nil, nil, err
	}

	in.setUnderlyingReserve(ledger, new(big.Int).Sub(in.underlyingReserve, released))
	if err := ledger.Transfer(in.Params.Underlying, in.Address, receiver, released); err != nil {
		return nil, nil, nil, err
	}
	return shortBurned, longBurned, released, nil
}

// Exercise swaps long tokens plus the strike payment for the backing
// underlying. Only possible before expiry. The long tokens and the strike
// payment must both already sit on the instrument's account; strike sent
// beyond the requirement is returned.
func (in *Instrument) Exercise(ledger *token.Ledger, receiver common.Address, now uint64) (released, strikePaid *big.Int, err error) {
	if in.Expired(now) {
		return nil, nil, ErrExpired
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	inLong := ledger.BalanceOf(in.LongToken, in.Address)
	if inLong.Sign() == 0 {
		return nil, nil, ErrZeroAmount
	}
	required := in.Params.ShortFromLong(inLong)
	inStrike := new(big.Int).Sub(ledger.BalanceOf(in.Params.Strike, in.Address), in.strikeReserve)
	if inStrike.Cmp(required) < 0 {
		return nil, nil, ErrStrikeShortfall
	}
	if inLong.Cmp(in.underlyingReserve) > 0 {
		return nil, nil, ErrInsufficientReserve
	}

	if err := ledger.Burn(in.LongToken, in.Address, inLong); err != nil {
		return nil, nil, err
	}
	if excess := new(big.Int).Sub(inStrike, required); excess.Sign() > 0 {
		if err := ledger.Transfer(in.Params.Strike, in.Address, receiver, excess); err != nil {
			return nil, nil, err
		}
	}
	in.setStrikeReserve(ledger, new(big.Int).Add(in.strikeReserve, required))

	in.setUnderlyingReserve(ledger, new(big.Int).Sub(in.underlyingReserve, inLong))
	if err := ledger.Transfer(in.Params.Underlying, in.Address, receiver, inLong); err != nil {
		return nil, nil, err
	}
	return inLong, required, nil
}

// Redeem burns short tokens sent to the instrument for the strike assets
// collected through exercises. Short tokens are denominated in strike
// units, so redemption is one to one against the strike reserve.
func (in *Instrument) Redeem(ledger *token.Ledger, receiver common.Address) (strikeReleased *big.Int, err error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	inShort := ledger.BalanceOf(in.ShortToken, in.Address)
	if inShort.Sign() == 0 {
		return nil, ErrZeroAmount
	}
	if inShort.Cmp(in.strikeReserve) > 0 {
		return nil, ErrInsufficientReserve
	}

	if err := ledger.Burn(in.ShortToken, in.Address, inShort); err != nil {
		return nil, err
	}
	in.setStrikeReserve(ledger, new(big.Int).Sub(in.strikeReserve, inShort))
	if err := ledger.Transfer(in.Params.Strike, in.Address, receiver, inShort); err != nil {
		return nil, err
	}
	return inShort, nil
}

// setUnderlyingReserve updates the cached reserve and journals the previous
// value, so a ledger snapshot revert restores the cache along with the
// balances it mirrors.
func (in *Instrument) setUnderlyingReserve(ledger *token.Ledger, v *big.Int) {
	prev := in.underlyingReserve
	ledger.JournalUndo(func() { in.underlyingReserve = prev })
	in.underlyingReserve = v
}

func (in *Instrument) setStrikeReserve(ledger *token.Ledger, v *big.Int) {
	prev := in.strikeReserve
	ledger.JournalUndo(func() { in.strikeReserve = prev })
	in.strikeReserve = v
}

// refund sends the instrument's remaining balance of tok back to receiver.
func (in *Instrument) refund(ledger *token.Ledger, tok, receiver common.Address) error {
	left := ledger.BalanceOf(tok, in.Address)
	if left.Sign() == 0 {
		return nil
	}
	return ledger.Transfer(tok, in.Address, receiver, left)
}

// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"

	"github.com/primitivefinance/v1-connectors-sub000/option"
	"github.com/primitivefinance/v1-connectors-sub000/pair"
	"github.com/primitivefinance/v1-connectors-sub000/token"
)

var _ pair.Callee = (*Engine)(nil)

// OnFlashSwap settles a flash borrow. Authentication comes first: the
// caller must sit at the canonical address derived from its own claimed
// token pair, that address must hold a deployed pair, and the engine must
// itself be mid-borrow against exactly that pair. The initiator parameter
// arrives from whoever started the swap and cannot be trusted on its own.
// Only then is the payload decoded and dispatched.
func (e *Engine) OnFlashSwap(caller pair.PairView, initiator common.Address, amount0Out, amount1Out *big.Int, data []byte) error {
	canonical, err := e.pairs.PairFor(caller.Token0(), caller.Token1())
	if err != nil || canonical != caller.PairAddress() {
		return ErrUnauthorizedCallback
	}
	if _, err := e.pairs.Get(canonical); err != nil {
		return ErrUnauthorizedCallback
	}
	if initiator != e.Address {
		return ErrUnauthorizedCallback
	}
	e.mu.Lock()
	expected := e.inFlight
	e.mu.Unlock()
	if expected != canonical {
		return ErrUnauthorizedCallback
	}

	e.mu.Lock()
	if e.locked {
		e.mu.Unlock()
		return ErrReentrancy
	}
	e.locked = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.locked = false
		e.mu.Unlock()
	}()

	req, err := RequestFromBytes(data)
	if err != nil {
		return err
	}

	var result *Result
	switch req.Kind {
	case KindMintThenRepay:
		result, err = e.settleOpen(req, caller, false)
	case KindMintThenRepayNative:
		result, err = e.settleOpen(req, caller, true)
	case KindCloseThenRepay:
		result, err = e.settleClose(req, caller, false)
	case KindCloseThenRepayNative:
		result, err = e.settleClose(req, caller, true)
	default:
		return ErrBadRequest
	}
	if err != nil {
		return err
	}
	if result == nil {
		return ErrEmptySettlement
	}
	e.setPending(result)
	return nil
}

// resolve fetches the instrument and checks the calling pair is the
// instrument's own short/underlying pool.
func (e *Engine) resolve(req *SettlementRequest, pv pair.PairView) (*option.Instrument, *pair.Pair, error) {
	if !e.options.IsRegistered(req.Instrument) {
		return nil, nil, ErrInvalidInstrument
	}
	in, err := e.options.Get(req.Instrument)
	if err != nil {
		return nil, nil, ErrInvalidInstrument
	}
	canonical, err := e.pairs.PairFor(in.ShortToken, in.Params.Underlying)
	if err != nil || canonical != pv.PairAddress() {
		return nil, nil, ErrUnauthorizedCallback
	}
	p, err := e.pairs.Get(canonical)
	if err != nil {
		return nil, nil, ErrUnauthorizedCallback
	}
	return in, p, nil
}

// settleOpen mints a long position from the borrowed underlying, repays
// the pair with the freshly minted short tokens plus any premium pulled
// from the caller, and pays the longs out.
func (e *Engine) settleOpen(req *SettlementRequest, pv pair.PairView, nativePremium bool) (*Result, error) {
	in, p, err := e.resolve(req, pv)
	if err != nil {
		return nil, err
	}
	underlying := in.Params.Underlying
	shortReserve, err := p.ReserveOf(in.ShortToken)
	if err != nil {
		return nil, err
	}
	underlyingReserve, err := p.ReserveOf(underlying)
	if err != nil {
		return nil, err
	}

	// Borrowed underlying becomes collateral.
	if err := e.ledger.Transfer(underlying, e.Address, in.Address, req.Quantity); err != nil {
		return nil, err
	}
	longMinted, shortMinted, err := in.Mint(e.ledger, e.Address, e.now())
	if err != nil {
		return nil, err
	}

	premium, windfall, err := OpenPremium(in.Params, shortReserve, underlyingReserve, req.Quantity)
	if err != nil {
		return nil, err
	}
	if premium.Cmp(req.Limit) > 0 {
		return nil, ErrPremiumExceeded
	}

	if premium.Sign() > 0 {
		// Every minted short goes to the pool; the caller covers the rest.
		if err := e.ledger.Transfer(in.ShortToken, e.Address, pv.PairAddress(), shortMinted); err != nil {
			return nil, err
		}
		if err := e.pullFromCaller(req.Caller, underlying, pv.PairAddress(), premium, nativePremium); err != nil {
			return nil, err
		}
	} else {
		requiredShort := new(big.Int).Sub(shortMinted, windfall)
		if err := e.ledger.Transfer(in.ShortToken, e.Address, pv.PairAddress(), requiredShort); err != nil {
			return nil, err
		}
		if windfall.Sign() > 0 {
			if err := e.ledger.Transfer(in.ShortToken, e.Address, req.Caller, windfall); err != nil {
				return nil, err
			}
		}
	}

	if err := e.ledger.Transfer(in.LongToken, e.Address, req.Caller, longMinted); err != nil {
		return nil, err
	}
	if err := e.requireZeroResidue(underlying, in.ShortToken, in.LongToken, token.Native); err != nil {
		return nil, err
	}
	return &Result{
		LongMinted:    longMinted,
		PremiumPaid:   premium,
		ShortWindfall: windfall,
	}, nil
}

// settleClose burns the borrowed shorts together with the caller's longs,
// repays the underlying loan out of the released collateral, and pays the
// caller the difference.
func (e *Engine) settleClose(req *SettlementRequest, pv pair.PairView, nativePayout bool) (*Result, error) {
	in, p, err := e.resolve(req, pv)
	if err != nil {
		return nil, err
	}
	underlying := in.Params.Underlying
	shortReserve, err := p.ReserveOf(in.ShortToken)
	if err != nil {
		return nil, err
	}
	underlyingReserve, err := p.ReserveOf(underlying)
	if err != nil {
		return nil, err
	}

	// Before expiry the close consumes matching longs from the caller.
	// After expiry shorts close alone.
	if !in.Expired(e.now()) {
		longRequired := in.Params.LongFromShort(req.Quantity)
		if longRequired.Sign() == 0 {
			return nil, ErrZeroAmount
		}
		if err := e.relay.PullFromCallerTo(e.ledger, in.LongToken, req.Caller, in.Address, longRequired); err != nil {
			return nil, err
		}
	}
	if err := e.ledger.Transfer(in.ShortToken, e.Address, in.Address, req.Quantity); err != nil {
		return nil, err
	}
	shortBurned, _, released, err := in.Close(e.ledger, e.Address, e.now())
	if err != nil {
		return nil, err
	}
	// Rounding can leave position-token dust unburned; it belongs to the
	// caller, not the engine.
	if err := e.forwardDust(in.ShortToken, req.Caller); err != nil {
		return nil, err
	}
	if err := e.forwardDust(in.LongToken, req.Caller); err != nil {
		return nil, err
	}

	payout, loanRemainder, err := ClosePremium(in.Params, shortReserve, underlyingReserve, req.Quantity)
	if err != nil {
		return nil, err
	}

	required := new(big.Int).Add(released, loanRemainder)
	required.Sub(required, payout)
	if loanRemainder.Sign() > 0 {
		if req.Limit.Sign() > 0 {
			return nil, ErrPayoutBelowMinimum
		}
		// The loan exceeds the released collateral; the caller covers the
		// shortfall.
		if err := e.pullFromCaller(req.Caller, underlying, e.Address, loanRemainder, nativePayout); err != nil {
			return nil, err
		}
	} else if payout.Cmp(req.Limit) < 0 {
		return nil, ErrPayoutBelowMinimum
	}

	if err := e.ledger.Transfer(underlying, e.Address, pv.PairAddress(), required); err != nil {
		return nil, err
	}
	if payout.Sign() > 0 {
		if nativePayout {
			if err := e.native.Unwrap(e.ledger, e.Address, req.Caller, payout); err != nil {
				return nil, err
			}
		} else {
			if err := e.ledger.Transfer(underlying, e.Address, req.Caller, payout); err != nil {
				return nil, err
			}
		}
	}

	if err := e.requireZeroResidue(underlying, in.ShortToken, in.LongToken, token.Native); err != nil {
		return nil, err
	}
	return &Result{
		ShortBurned:    shortBurned,
		PayoutPaid:     payout,
		DeficitCharged: loanRemainder,
	}, nil
}

// pullFromCaller moves amount of asset from the original caller to
// receiver through the custody relay. On native paths the pull happens in
// the native asset and is wrapped en route.
func (e *Engine) pullFromCaller(caller, asset, receiver common.Address, amount *big.Int, nativeAsset bool) error {
	if !nativeAsset {
		return e.relay.PullFromCallerTo(e.ledger, asset, caller, receiver, amount)
	}
	if err := e.relay.PullFromCallerTo(e.ledger, token.Native, caller, e.Address, amount); err != nil {
		return err
	}
	if err := e.native.Wrap(e.ledger, e.Address, amount); err != nil {
		return err
	}
	if receiver == e.Address {
		return nil
	}
	return e.ledger.Transfer(asset, e.Address, receiver, amount)
}

// forwardDust moves any engine-held balance of tok to receiver.
func (e *Engine) forwardDust(tok, receiver common.Address) error {
	left := e.ledger.BalanceOf(tok, e.Address)
	if left.Sign() == 0 {
		return nil
	}
	return e.ledger.Transfer(tok, e.Address, receiver, left)
}

// requireZeroResidue confirms the engine kept nothing for itself.
func (e *Engine) requireZeroResidue(assets ...common.Address) error {
	for _, asset := range assets {
		if e.ledger.BalanceOf(asset, e.Address).Sign() != 0 {
			return fmt.Errorf("%w: %s", ErrResidualBalance, asset)
		}
	}
	return nil
}

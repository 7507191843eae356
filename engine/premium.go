// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"math/big"

	"github.com/primitivefinance/v1-connectors-sub000/option"
	"github.com/primitivefinance/v1-connectors-sub000/pair"
)

// Two swap legs each charge the 30 bps fee, so the quoted premium is
// scaled by 100301/100000 to leave the pool whole after both.
var (
	compoundNumerator   = big.NewInt(100301)
	compoundDenominator = big.NewInt(100000)
)

// OpenPremium quotes opening a long position of qty underlying against a
// pair holding shortReserve of the instrument's short token and
// underlyingReserve of its underlying.
//
// Minting qty long also mints shortMinted short tokens, which repay part
// of the underlying loan. If they fall short, the difference is the
// premium, denominated in underlying and paid by the caller. If they
// overshoot, the premium is zero and the surplus short tokens are the
// caller's windfall.
func OpenPremium(params option.Parameters, shortReserve, underlyingReserve, qty *big.Int) (premium, shortWindfall *big.Int, err error) {
	shortMinted := params.ShortFromLong(qty)
	required, err := pair.GetAmountIn(qty, shortReserve, underlyingReserve)
	if err != nil {
		return nil, nil, err
	}

	if required.Cmp(shortMinted) > 0 {
		extra := new(big.Int).Sub(required, shortMinted)
		out, err := pair.GetAmountOut(extra, shortReserve, underlyingReserve)
		if err != nil {
			return nil, nil, err
		}
		premium = out.Mul(out, compoundNumerator)
		premium.Quo(premium, compoundDenominator)
		return premium, big.NewInt(0), nil
	}
	return big.NewInt(0), new(big.Int).Sub(shortMinted, required), nil
}

// ClosePremium quotes closing shortQty of short tokens borrowed from the
// pair. Closing releases the backing underlying; repaying the borrow
// costs required underlying. The difference is the caller's payout, or,
// when the released underlying cannot cover the loan, the remainder the
// caller owes.
func ClosePremium(params option.Parameters, shortReserve, underlyingReserve, shortQty *big.Int) (payout, loanRemainder *big.Int, err error) {
	released := params.LongFromShort(shortQty)
	required, err := pair.GetAmountIn(shortQty, underlyingReserve, shortReserve)
	if err != nil {
		return nil, nil, err
	}

	if released.Cmp(required) >= 0 {
		return new(big.Int).Sub(released, required), big.NewInt(0), nil
	}
	return big.NewInt(0), new(big.Int).Sub(required, released), nil
}

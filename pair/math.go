// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pair

import "math/big"

// Swap fee: 30 bps, expressed as 997/1000.
var (
	feeNumerator   = big.NewInt(997)
	feeDenominator = big.NewInt(1000)
)

// GetAmountOut returns the output a swap of amountIn buys against the
// given reserves, fee included. Floor division, so the trader absorbs
// the rounding.
func GetAmountOut(amountIn, reserveIn, reserveOut *big.Int) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInsufficientInput
	}
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, ErrInsufficientLiquidity
	}
	inWithFee := new(big.Int).Mul(amountIn, feeNumerator)
	numerator := new(big.Int).Mul(inWithFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, feeDenominator)
	denominator.Add(denominator, inWithFee)
	return numerator.Quo(numerator, denominator), nil
}

// GetAmountIn returns the input required to buy amountOut from the given
// reserves, fee included. The +1 rounds against the trader so the pool
// never comes up short.
func GetAmountIn(amountOut, reserveIn, reserveOut *big.Int) (*big.Int, error) {
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, ErrInsufficientOutput
	}
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 || amountOut.Cmp(reserveOut) >= 0 {
		return nil, ErrInsufficientLiquidity
	}
	numerator := new(big.Int).Mul(reserveIn, amountOut)
	numerator.Mul(numerator, feeDenominator)
	denominator := new(big.Int).Sub(reserveOut, amountOut)
	denominator.Mul(denominator, feeNumerator)
	amountIn := numerator.Quo(numerator, denominator)
	return amountIn.Add(amountIn, big.NewInt(1)), nil
}

// sqrt computes the integer square root by the babylonian method.
func sqrt(y *big.Int) *big.Int {
	if y.Sign() <= 0 {
		return big.NewInt(0)
	}
	if y.Cmp(big.NewInt(3)) <= 0 {
		return big.NewInt(1)
	}
	z := new(big.Int).Set(y)
	x := new(big.Int).Quo(y, big.NewInt(2))
	x.Add(x, big.NewInt(1))
	for x.Cmp(z) < 0 {
		z.Set(x)
		x.Quo(y, x)
		x.Add(x, z)
		x.Quo(x, big.NewInt(2))
	}
	return z
}

// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package option

import "math/big"

// ShortFromLong converts a long quantity (underlying units) into the short
// quantity (strike units) at the instrument's strike ratio:
//
//	short = long * Quote / Base
//
// Floor division. A round trip through LongFromShort can lose up to one
// base unit per conversion; callers that must not strand value convert in
// one direction only.
func (p Parameters) ShortFromLong(long *big.Int) *big.Int {
	out := new(big.Int).Mul(long, p.Quote)
	return out.Quo(out, p.Base)
}

// LongFromShort converts a short quantity (strike units) back into the long
// quantity (underlying units):
//
//	long = short * Base / Quote
//
// Floor division, same loss caveat as ShortFromLong.
func (p Parameters) LongFromShort(short *big.Int) *big.Int {
	out := new(big.Int).Mul(short, p.Base)
	return out.Quo(out, p.Quote)
}

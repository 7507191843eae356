// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pair

import (
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"

	"github.com/primitivefinance/v1-connectors-sub000/token"
)

// minimumLiquidity is locked forever on the first mint so the pool can
// never be fully drained through LP burns.
var minimumLiquidity = big.NewInt(1000)

var lpTokenTag = []byte("pair/lp")

// Pair is one constant-product pool over a sorted token pair. Reserves are
// cached; deposits are measured as balance in excess of the cache
// (transfer then call), and swaps settle against the cache.
type Pair struct {
	addr    common.Address
	token0  common.Address
	token1  common.Address
	lpToken common.Address
	callees CalleeRegistry

	mu       sync.Mutex
	locked   bool
	reserve0 *big.Int
	reserve1 *big.Int
	supply   *big.Int
}

func newPair(addr, token0, token1 common.Address, callees CalleeRegistry) *Pair {
	h := blake3.New()
	h.Write(lpTokenTag)
	h.Write(addr.Bytes())
	var hash [32]byte
	h.Digest().Read(hash[:])
	var lp common.Address
	copy(lp[:], hash[12:32])

	return &Pair{
		addr:     addr,
		token0:   token0,
		token1:   token1,
		lpToken:  lp,
		callees:  callees,
		reserve0: big.NewInt(0),
		reserve1: big.NewInt(0),
		supply:   big.NewInt(0),
	}
}

func (p *Pair) PairAddress() common.Address { return p.addr }
func (p *Pair) Token0() common.Address      { return p.token0 }
func (p *Pair) Token1() common.Address      { return p.token1 }
func (p *Pair) LPToken() common.Address     { return p.lpToken }

// Reserves returns copies of the cached reserves in token order.
func (p *Pair) Reserves() (*big.Int, *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.reserve0), new(big.Int).Set(p.reserve1)
}

// TotalSupply returns the outstanding LP share supply.
func (p *Pair) TotalSupply() *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.supply)
}

// ReserveOf returns the cached reserve for one of the pair's tokens.
func (p *Pair) ReserveOf(tok common.Address) (*big.Int, error) {
	r0, r1 := p.Reserves()
	switch tok {
	case p.token0:
		return r0, nil
	case p.token1:
		return r1, nil
	}
	return nil, ErrUnknownPair
}

// Mint issues LP shares for tokens already transferred to the pair. The
// first mint locks minimumLiquidity shares on the burn sink.
func (p *Pair) Mint(ledger *token.Ledger, to common.Address) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.locked {
		return nil, ErrLocked
	}

	balance0 := ledger.BalanceOf(p.token0, p.addr)
	balance1 := ledger.BalanceOf(p.token1, p.addr)
	amount0 := new(big.Int).Sub(balance0, p.reserve0)
	amount1 := new(big.Int).Sub(balance1, p.reserve1)

	var liquidity *big.Int
	if p.supply.Sign() == 0 {
		liquidity = sqrt(new(big.Int).Mul(amount0, amount1))
		liquidity.Sub(liquidity, minimumLiquidity)
		if liquidity.Sign() <= 0 {
			return nil, ErrInsufficientLiquidityMint
		}
		if err := ledger.Mint(p.lpToken, common.Address{}, minimumLiquidity); err != nil {
			return nil, err
		}
		p.setState(ledger, p.reserve0, p.reserve1, new(big.Int).Add(p.supply, minimumLiquidity))
	} else {
		share0 := new(big.Int).Mul(amount0, p.supply)
		share0.Quo(share0, p.reserve0)
		share1 := new(big.Int).Mul(amount1, p.supply)
		share1.Quo(share1, p.reserve1)
		liquidity = share0
		if share1.Cmp(share0) < 0 {
			liquidity = share1
		}
		if liquidity.Sign() <= 0 {
			return nil, ErrInsufficientLiquidityMint
		}
	}

	if err := ledger.Mint(p.lpToken, to, liquidity); err != nil {
		return nil, err
	}
	p.setState(ledger, balance0, balance1, new(big.Int).Add(p.supply, liquidity))
	return liquidity, nil
}

// Burn redeems LP shares already transferred to the pair for a pro-rata
// slice of both reserves.
func (p *Pair) Burn(ledger *token.Ledger, to common.Address) (*big.Int, *big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.locked {
		return nil, nil, ErrLocked
	}

	liquidity := ledger.BalanceOf(p.lpToken, p.addr)
	if liquidity.Sign() == 0 {
		return nil, nil, ErrInsufficientLiquidityBurn
	}
	balance0 := ledger.BalanceOf(p.token0, p.addr)
	balance1 := ledger.BalanceOf(p.token1, p.addr)

	amount0 := new(big.Int).Mul(liquidity, balance0)
	amount0.Quo(amount0, p.supply)
	amount1 := new(big.Int).Mul(liquidity, balance1)
	amount1.Quo(amount1, p.supply)
	if amount0.Sign() == 0 || amount1.Sign() == 0 {
		return nil, nil, ErrInsufficientLiquidityBurn
	}

	if err := ledger.Burn(p.lpToken, p.addr, liquidity); err != nil {
		return nil, nil, err
	}
	supply := new(big.Int).Sub(p.supply, liquidity)
	if err := ledger.Transfer(p.token0, p.addr, to, amount0); err != nil {
		return nil, nil, err
	}
	if err := ledger.Transfer(p.token1, p.addr, to, amount1); err != nil {
		return nil, nil, err
	}
	p.setState(ledger, ledger.BalanceOf(p.token0, p.addr), ledger.BalanceOf(p.token1, p.addr), supply)
	return amount0, amount1, nil
}

// Swap pays amount0Out/amount1Out to the recipient, hands control to the
// recipient's registered callee when data is non-empty, and then requires
// the fee-adjusted product of the resulting balances to be no less than
// the product of the cached reserves. Any failure reverts the ledger to
// its pre-swap state.
func (p *Pair) Swap(ledger *token.Ledger, initiator common.Address, amount0Out, amount1Out *big.Int, to common.Address, data []byte) error {
	p.mu.Lock()
	if p.locked {
		p.mu.Unlock()
		return ErrLocked
	}
	p.locked = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.locked = false
		p.mu.Unlock()
	}()

	if amount0Out == nil {
		amount0Out = big.NewInt(0)
	}
	if amount1Out == nil {
		amount1Out = big.NewInt(0)
	}
	if amount0Out.Sign() == 0 && amount1Out.Sign() == 0 {
		return ErrInsufficientOutput
	}
	if amount0Out.Cmp(p.reserve0) >= 0 || amount1Out.Cmp(p.reserve1) >= 0 {
		return ErrInsufficientLiquidity
	}
	if to == p.token0 || to == p.token1 || to == p.addr {
		return ErrInvalidRecipient
	}

	snap := ledger.Snapshot()
	if err := p.swapLocked(ledger, initiator, amount0Out, amount1Out, to, data); err != nil {
		ledger.RevertToSnapshot(snap)
		return err
	}
	ledger.DiscardSnapshot(snap)
	return nil
}

func (p *Pair) swapLocked(ledger *token.Ledger, initiator common.Address, amount0Out, amount1Out *big.Int, to common.Address, data []byte) error {
	if amount0Out.Sign() > 0 {
		if err := ledger.Transfer(p.token0, p.addr, to, amount0Out); err != nil {
			return err
		}
	}
	if amount1Out.Sign() > 0 {
		if err := ledger.Transfer(p.token1, p.addr, to, amount1Out); err != nil {
			return err
		}
	}

	if len(data) > 0 {
		callee, ok := p.callees.Callee(to)
		if !ok {
			return ErrNoCallee
		}
		if err := callee.OnFlashSwap(p, initiator, amount0Out, amount1Out, data); err != nil {
			return err
		}
	}

	balance0 := ledger.BalanceOf(p.token0, p.addr)
	balance1 := ledger.BalanceOf(p.token1, p.addr)
	amount0In := amountIn(balance0, p.reserve0, amount0Out)
	amount1In := amountIn(balance1, p.reserve1, amount1Out)
	if amount0In.Sign() == 0 && amount1In.Sign() == 0 {
		return ErrInsufficientInput
	}

	// balance*1000 - amountIn*3, so the fee is charged on whatever came in.
	adjusted0 := new(big.Int).Mul(balance0, feeDenominator)
	adjusted0.Sub(adjusted0, new(big.Int).Mul(amount0In, big.NewInt(3)))
	adjusted1 := new(big.Int).Mul(balance1, feeDenominator)
	adjusted1.Sub(adjusted1, new(big.Int).Mul(amount1In, big.NewInt(3)))

	left := new(big.Int).Mul(adjusted0, adjusted1)
	right := new(big.Int).Mul(p.reserve0, p.reserve1)
	right.Mul(right, new(big.Int).Mul(feeDenominator, feeDenominator))
	if left.Cmp(right) < 0 {
		return ErrInvariantViolated
	}

	p.mu.Lock()
	p.setState(ledger, balance0, balance1, p.supply)
	p.mu.Unlock()
	return nil
}

// setState replaces the cached reserves and LP supply, journaling the
// previous values so a ledger snapshot revert restores the cache along
// with the balances it mirrors. Callers hold p.mu.
func (p *Pair) setState(ledger *token.Ledger, reserve0, reserve1, supply *big.Int) {
	pr0, pr1, ps := p.reserve0, p.reserve1, p.supply
	ledger.JournalUndo(func() {
		p.reserve0, p.reserve1, p.supply = pr0, pr1, ps
	})
	p.reserve0 = new(big.Int).Set(reserve0)
	p.reserve1 = new(big.Int).Set(reserve1)
	p.supply = new(big.Int).Set(supply)
}

// amountIn recovers how much of a token entered during the swap: anything
// above the reserve net of what was optimistically paid out.
func amountIn(balance, reserve, out *big.Int) *big.Int {
	floor := new(big.Int).Sub(reserve, out)
	if balance.Cmp(floor) > 0 {
		return new(big.Int).Sub(balance, floor)
	}
	return big.NewInt(0)
}

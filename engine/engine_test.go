// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"math/big"
	"testing"

	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"

	"github.com/primitivefinance/v1-connectors-sub000/connector"
	"github.com/primitivefinance/v1-connectors-sub000/option"
	"github.com/primitivefinance/v1-connectors-sub000/pair"
	"github.com/primitivefinance/v1-connectors-sub000/registry"
	"github.com/primitivefinance/v1-connectors-sub000/token"
)

var (
	weth  = common.HexToAddress("0x0000000000000000000000000000000000000E01")
	dai   = common.HexToAddress("0x0000000000000000000000000000000000000D01")
	buyer = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	maker = common.HexToAddress("0x00000000000000000000000000000000000000f2")
)

const (
	testNow    = uint64(1_700_000_000)
	testExpiry = testNow + 86_400
)

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

type fixture struct {
	ledger  *token.Ledger
	options *option.Factory
	pairs   *pair.Factory
	relay   *connector.CustodyRelay
	adapter *connector.NativeAdapter
	engine  *Engine
	in      *option.Instrument
	pool    *pair.Pair
}

// newFixture builds a full system with one instrument whose pair holds
// 100000e18 short tokens against 1000e18 underlying. The short reserve is
// written with real option mints, so the pool's shorts are backed.
func newFixture(t *testing.T, underlying common.Address, quote *big.Int) *fixture {
	t.Helper()

	f := &fixture{
		ledger:  token.NewLedger(),
		options: option.NewFactory(common.HexToAddress(registry.OptionFactoryAddress)),
		pairs:   pair.NewFactory(common.HexToAddress(registry.PairFactoryAddress)),
		relay:   connector.NewCustodyRelay(common.HexToAddress(registry.CustodyRelayAddress)),
	}
	f.adapter = connector.NewNativeAdapter(
		common.HexToAddress(registry.NativeAdapterAddress),
		common.HexToAddress(registry.WrappedNativeAddress),
	)

	var err error
	f.engine, err = NewEngine(common.HexToAddress(registry.EngineAddress), Config{
		Ledger:  f.ledger,
		Options: f.options,
		Pairs:   f.pairs,
		Relay:   f.relay,
		Native:  f.adapter,
		Now:     func() uint64 { return testNow },
	})
	require.NoError(t, err)

	f.in, err = f.options.Deploy(option.Parameters{
		Underlying: underlying,
		Strike:     dai,
		Base:       e18(1),
		Quote:      quote,
		Expiry:     testExpiry,
	})
	require.NoError(t, err)

	f.pool, err = f.pairs.CreatePair(f.in.ShortToken, underlying)
	require.NoError(t, err)

	// Mint enough options to seed 100000e18 shorts.
	deposit := new(big.Int).Mul(e18(100000), e18(1))
	deposit.Quo(deposit, quote)
	require.NoError(t, f.ledger.Mint(underlying, f.in.Address, deposit))
	_, shortMinted, err := f.in.Mint(f.ledger, maker, testNow)
	require.NoError(t, err)
	require.Equal(t, e18(100000), shortMinted)

	require.NoError(t, f.ledger.Transfer(f.in.ShortToken, maker, f.pool.PairAddress(), shortMinted))
	require.NoError(t, f.ledger.Mint(underlying, f.pool.PairAddress(), e18(1000)))
	_, err = f.pool.Mint(f.ledger, maker)
	require.NoError(t, err)
	return f
}

// requireEngineClean asserts the engine holds none of the instrument's
// assets.
func (f *fixture) requireEngineClean(t *testing.T) {
	t.Helper()
	engineAddr := f.engine.Address
	for _, asset := range []common.Address{f.in.Params.Underlying, f.in.ShortToken, f.in.LongToken, token.Native} {
		require.Zero(t, f.ledger.BalanceOf(asset, engineAddr).Sign())
	}
}

func TestOpenFlashLongWorkedExample(t *testing.T) {
	f := newFixture(t, weth, e18(1000))
	qty := big.NewInt(1e17)

	// shortMinted = 1e17 * 1000e18 / 1e18 = 1e20, far above the pool's
	// quoted short requirement, so the open is free and pays a windfall.
	shortRequired, err := pair.GetAmountIn(qty, e18(100000), e18(1000))
	require.NoError(t, err)
	expectedWindfall := new(big.Int).Sub(e18(100), shortRequired)

	res, err := f.engine.OpenFlashLong(buyer, f.in.Address, qty, big.NewInt(0), testNow+60)
	require.NoError(t, err)

	require.Equal(t, qty, res.LongMinted)
	require.Equal(t, big.NewInt(0), res.PremiumPaid)
	require.Equal(t, expectedWindfall, res.ShortWindfall)
	require.Equal(t, qty, f.ledger.BalanceOf(f.in.LongToken, buyer))
	require.Equal(t, expectedWindfall, f.ledger.BalanceOf(f.in.ShortToken, buyer))
	f.requireEngineClean(t)
}

func TestOpenFlashLongChargesPremium(t *testing.T) {
	// quote=10e18 mints only 1e18 shorts per 1e17 long, below the pool's
	// requirement, so the caller owes a premium in underlying.
	f := newFixture(t, weth, e18(10))
	qty := big.NewInt(1e17)

	r0 := f.ledger.BalanceOf(f.in.ShortToken, f.pool.PairAddress())
	r1 := f.ledger.BalanceOf(f.in.Params.Underlying, f.pool.PairAddress())
	premium, windfall, err := OpenPremium(f.in.Params, r0, r1, qty)
	require.NoError(t, err)
	require.True(t, premium.Sign() > 0)
	require.Equal(t, big.NewInt(0), windfall)

	require.NoError(t, f.ledger.Mint(weth, buyer, e18(1)))
	require.NoError(t, f.ledger.Approve(weth, buyer, f.relay.Address, e18(1)))

	res, err := f.engine.OpenFlashLong(buyer, f.in.Address, qty, premium, testNow+60)
	require.NoError(t, err)
	require.Equal(t, premium, res.PremiumPaid)
	require.Equal(t, qty, f.ledger.BalanceOf(f.in.LongToken, buyer))

	// The caller paid exactly the quoted premium.
	paid := new(big.Int).Sub(e18(1), f.ledger.BalanceOf(weth, buyer))
	require.Equal(t, premium, paid)
	f.requireEngineClean(t)
}

func TestOpenFlashLongPremiumExceeded(t *testing.T) {
	f := newFixture(t, weth, e18(10))
	qty := big.NewInt(1e17)

	r0 := f.ledger.BalanceOf(f.in.ShortToken, f.pool.PairAddress())
	r1 := f.ledger.BalanceOf(f.in.Params.Underlying, f.pool.PairAddress())
	premium, _, err := OpenPremium(f.in.Params, r0, r1, qty)
	require.NoError(t, err)

	require.NoError(t, f.ledger.Mint(weth, buyer, e18(1)))
	require.NoError(t, f.ledger.Approve(weth, buyer, f.relay.Address, e18(1)))

	tooLow := new(big.Int).Sub(premium, big.NewInt(1))
	_, err = f.engine.OpenFlashLong(buyer, f.in.Address, qty, tooLow, testNow+60)
	require.ErrorIs(t, err, ErrPremiumExceeded)

	// Nothing moved.
	require.Equal(t, e18(1), f.ledger.BalanceOf(weth, buyer))
	require.Equal(t, big.NewInt(0), f.ledger.BalanceOf(f.in.LongToken, buyer))
	require.Equal(t, r0, f.ledger.BalanceOf(f.in.ShortToken, f.pool.PairAddress()))
	require.Equal(t, r1, f.ledger.BalanceOf(f.in.Params.Underlying, f.pool.PairAddress()))

	// The instrument's cached reserve rolled back with the ledger, so a
	// mint with no fresh deposit finds nothing.
	require.Equal(t, f.ledger.BalanceOf(weth, f.in.Address), f.in.UnderlyingReserve())
	_, _, err = f.in.Mint(f.ledger, buyer, testNow)
	require.ErrorIs(t, err, option.ErrZeroAmount)
}

func TestCloseFlashLongPaysOut(t *testing.T) {
	f := newFixture(t, weth, e18(10))
	qty := big.NewInt(1e17)

	require.NoError(t, f.ledger.Mint(weth, buyer, e18(1)))
	require.NoError(t, f.ledger.Approve(weth, buyer, f.relay.Address, e18(1)))
	_, err := f.engine.OpenFlashLong(buyer, f.in.Address, qty, e18(1), testNow+60)
	require.NoError(t, err)

	shortQty := f.in.Params.ShortFromLong(qty)
	r0 := f.ledger.BalanceOf(f.in.ShortToken, f.pool.PairAddress())
	r1 := f.ledger.BalanceOf(f.in.Params.Underlying, f.pool.PairAddress())
	payout, remainder, err := ClosePremium(f.in.Params, r0, r1, shortQty)
	require.NoError(t, err)
	require.True(t, payout.Sign() > 0)
	require.Equal(t, big.NewInt(0), remainder)

	require.NoError(t, f.ledger.Approve(f.in.LongToken, buyer, f.relay.Address, qty))
	before := f.ledger.BalanceOf(weth, buyer)

	res, err := f.engine.CloseFlashLong(buyer, f.in.Address, shortQty, payout, testNow+60)
	require.NoError(t, err)
	require.Equal(t, payout, res.PayoutPaid)
	require.Equal(t, big.NewInt(0), res.DeficitCharged)
	require.Zero(t, f.ledger.BalanceOf(f.in.LongToken, buyer).Sign())

	gained := new(big.Int).Sub(f.ledger.BalanceOf(weth, buyer), before)
	require.Equal(t, payout, gained)
	f.requireEngineClean(t)
}

func TestCloseFlashLongPayoutBelowMinimum(t *testing.T) {
	f := newFixture(t, weth, e18(10))
	qty := big.NewInt(1e17)

	require.NoError(t, f.ledger.Mint(weth, buyer, e18(1)))
	require.NoError(t, f.ledger.Approve(weth, buyer, f.relay.Address, e18(1)))
	_, err := f.engine.OpenFlashLong(buyer, f.in.Address, qty, e18(1), testNow+60)
	require.NoError(t, err)

	shortQty := f.in.Params.ShortFromLong(qty)
	require.NoError(t, f.ledger.Approve(f.in.LongToken, buyer, f.relay.Address, qty))

	longBefore := f.ledger.BalanceOf(f.in.LongToken, buyer)
	_, err = f.engine.CloseFlashLong(buyer, f.in.Address, shortQty, e18(1), testNow+60)
	require.ErrorIs(t, err, ErrPayoutBelowMinimum)
	require.Equal(t, longBefore, f.ledger.BalanceOf(f.in.LongToken, buyer))

	// The failed close left the instrument's cached reserve aligned with
	// its ledger balance; nothing mints without a fresh deposit.
	require.Equal(t, f.ledger.BalanceOf(weth, f.in.Address), f.in.UnderlyingReserve())
	_, _, err = f.in.Mint(f.ledger, buyer, testNow)
	require.ErrorIs(t, err, option.ErrZeroAmount)
}

func TestDeadlineExpiredBeforeAnyTransfer(t *testing.T) {
	f := newFixture(t, weth, e18(1000))

	r0 := f.ledger.BalanceOf(f.in.ShortToken, f.pool.PairAddress())
	_, err := f.engine.OpenFlashLong(buyer, f.in.Address, big.NewInt(1e17), e18(1), testNow-1)
	require.ErrorIs(t, err, ErrDeadlineExpired)
	require.Equal(t, r0, f.ledger.BalanceOf(f.in.ShortToken, f.pool.PairAddress()))

	_, err = f.engine.CloseFlashLong(buyer, f.in.Address, big.NewInt(1e17), big.NewInt(0), testNow-1)
	require.ErrorIs(t, err, ErrDeadlineExpired)
}

func TestZeroAmountRejected(t *testing.T) {
	f := newFixture(t, weth, e18(1000))

	_, err := f.engine.OpenFlashLong(buyer, f.in.Address, big.NewInt(0), e18(1), testNow+60)
	require.ErrorIs(t, err, ErrZeroAmount)
	_, err = f.engine.CloseFlashLong(buyer, f.in.Address, nil, big.NewInt(0), testNow+60)
	require.ErrorIs(t, err, ErrZeroAmount)
}

func TestUnregisteredInstrumentRejected(t *testing.T) {
	f := newFixture(t, weth, e18(1000))

	_, err := f.engine.OpenFlashLong(buyer, buyer, big.NewInt(1e17), e18(1), testNow+60)
	require.ErrorIs(t, err, ErrInvalidInstrument)
	_, err = f.engine.OpenFlashLong(buyer, common.Address{}, big.NewInt(1e17), e18(1), testNow+60)
	require.ErrorIs(t, err, ErrInvalidInstrument)
}

func TestHaltSwitch(t *testing.T) {
	f := newFixture(t, weth, e18(1000))

	f.engine.SetStatus(StatusHalted)
	_, err := f.engine.OpenFlashLong(buyer, f.in.Address, big.NewInt(1e17), e18(1), testNow+60)
	require.ErrorIs(t, err, ErrEngineHalted)

	f.engine.SetStatus(StatusActive)
	_, err = f.engine.OpenFlashLong(buyer, f.in.Address, big.NewInt(1e17), big.NewInt(0), testNow+60)
	require.NoError(t, err)
}

// spoofedPool claims a real token pair but sits at the wrong address.
type spoofedPool struct {
	addr   common.Address
	token0 common.Address
	token1 common.Address
}

func (s *spoofedPool) PairAddress() common.Address { return s.addr }
func (s *spoofedPool) Token0() common.Address      { return s.token0 }
func (s *spoofedPool) Token1() common.Address      { return s.token1 }

func TestCallbackDirectInvocationUnauthorized(t *testing.T) {
	f := newFixture(t, weth, e18(1000))

	req := &SettlementRequest{
		Kind:       KindMintThenRepay,
		Instrument: f.in.Address,
		Caller:     buyer,
		Quantity:   big.NewInt(1e17),
		Limit:      big.NewInt(0),
	}

	payloads := [][]byte{nil, {}, {0xde, 0xad}, req.ToBytes()}

	// Wrong address for the claimed tokens.
	spoof := &spoofedPool{addr: buyer, token0: f.pool.Token0(), token1: f.pool.Token1()}
	for _, payload := range payloads {
		err := f.engine.OnFlashSwap(spoof, f.engine.Address, big.NewInt(1e17), big.NewInt(0), payload)
		require.ErrorIs(t, err, ErrUnauthorizedCallback)
	}

	// Right pair, wrong initiator.
	for _, payload := range payloads {
		err := f.engine.OnFlashSwap(f.pool, buyer, big.NewInt(1e17), big.NewInt(0), payload)
		require.ErrorIs(t, err, ErrUnauthorizedCallback)
	}

	// Canonically derived address for a pair that was never created.
	other := common.HexToAddress("0x0000000000000000000000000000000000000777")
	derived, err := f.pairs.PairFor(other, weth)
	require.NoError(t, err)
	spoof = &spoofedPool{addr: derived, token0: other, token1: weth}
	err = f.engine.OnFlashSwap(spoof, f.engine.Address, big.NewInt(1e17), big.NewInt(0), req.ToBytes())
	require.ErrorIs(t, err, ErrUnauthorizedCallback)

	// Real pair, engine named as initiator, but no borrow in flight.
	err = f.engine.OnFlashSwap(f.pool, f.engine.Address, big.NewInt(1e17), big.NewInt(0), req.ToBytes())
	require.ErrorIs(t, err, ErrUnauthorizedCallback)
}

func TestForgedSwapCannotSpendAllowances(t *testing.T) {
	// A third party drives the pool directly, naming the engine as both
	// initiator and recipient, with a payload pointing at a victim who has
	// an open relay allowance. The engine must refuse to settle a borrow
	// it never started.
	f := newFixture(t, weth, e18(10))
	qty := big.NewInt(1e17)

	require.NoError(t, f.ledger.Mint(weth, buyer, e18(1)))
	require.NoError(t, f.ledger.Approve(weth, buyer, f.relay.Address, e18(1)))

	req := &SettlementRequest{
		Kind:       KindMintThenRepay,
		Instrument: f.in.Address,
		Caller:     buyer,
		Quantity:   qty,
		Limit:      e18(1),
	}
	amount0Out, amount1Out := big.NewInt(0), big.NewInt(0)
	if f.pool.Token0() == weth {
		amount0Out = qty
	} else {
		amount1Out = qty
	}

	err := f.pool.Swap(f.ledger, f.engine.Address, amount0Out, amount1Out, f.engine.Address, req.ToBytes())
	require.ErrorIs(t, err, ErrUnauthorizedCallback)

	// The victim's balance and allowance are untouched.
	require.Equal(t, e18(1), f.ledger.BalanceOf(weth, buyer))
	require.Equal(t, e18(1), f.ledger.Allowance(weth, buyer, f.relay.Address))
	f.requireEngineClean(t)
}

func TestCallbackReentrancyBlocked(t *testing.T) {
	f := newFixture(t, weth, e18(1000))

	req := &SettlementRequest{
		Kind:       KindMintThenRepay,
		Instrument: f.in.Address,
		Caller:     buyer,
		Quantity:   big.NewInt(1e17),
		Limit:      big.NewInt(0),
	}

	// Mark a settlement against this pool as already running, as it would
	// be if a callee nested a second borrow inside the first.
	f.engine.mu.Lock()
	f.engine.locked = true
	f.engine.inFlight = f.pool.PairAddress()
	f.engine.mu.Unlock()

	err := f.engine.OnFlashSwap(f.pool, f.engine.Address, big.NewInt(1e17), big.NewInt(0), req.ToBytes())
	require.ErrorIs(t, err, ErrReentrancy)

	f.engine.mu.Lock()
	f.engine.locked = false
	f.engine.inFlight = common.Address{}
	f.engine.mu.Unlock()

	// With the first settlement finished the same request goes through.
	_, err = f.engine.OpenFlashLong(buyer, f.in.Address, big.NewInt(1e17), big.NewInt(0), testNow+60)
	require.NoError(t, err)
}

func TestNativeOpenAndClose(t *testing.T) {
	wnative := common.HexToAddress(registry.WrappedNativeAddress)
	f := newFixture(t, wnative, e18(10))
	qty := big.NewInt(1e17)

	require.NoError(t, f.ledger.Mint(token.Native, buyer, e18(1)))
	require.NoError(t, f.ledger.Approve(token.Native, buyer, f.relay.Address, e18(1)))

	res, err := f.engine.OpenFlashLongNative(buyer, f.in.Address, qty, e18(1), testNow+60)
	require.NoError(t, err)
	require.True(t, res.PremiumPaid.Sign() > 0)
	require.Equal(t, qty, f.ledger.BalanceOf(f.in.LongToken, buyer))

	// The premium left the buyer in native, not wrapped, form.
	paid := new(big.Int).Sub(e18(1), f.ledger.BalanceOf(token.Native, buyer))
	require.Equal(t, res.PremiumPaid, paid)

	shortQty := f.in.Params.ShortFromLong(qty)
	require.NoError(t, f.ledger.Approve(f.in.LongToken, buyer, f.relay.Address, qty))
	nativeBefore := f.ledger.BalanceOf(token.Native, buyer)

	res, err = f.engine.CloseFlashLongNative(buyer, f.in.Address, shortQty, big.NewInt(1), testNow+60)
	require.NoError(t, err)
	require.True(t, res.PayoutPaid.Sign() > 0)

	gained := new(big.Int).Sub(f.ledger.BalanceOf(token.Native, buyer), nativeBefore)
	require.Equal(t, res.PayoutPaid, gained)
	f.requireEngineClean(t)
}

func TestNativePathRequiresWrappedUnderlying(t *testing.T) {
	f := newFixture(t, weth, e18(1000))

	_, err := f.engine.OpenFlashLongNative(buyer, f.in.Address, big.NewInt(1e17), e18(1), testNow+60)
	require.ErrorIs(t, err, ErrNativeMismatch)
	_, err = f.engine.CloseFlashLongNative(buyer, f.in.Address, big.NewInt(1e17), big.NewInt(0), testNow+60)
	require.ErrorIs(t, err, ErrNativeMismatch)
}

func TestRequestCodec(t *testing.T) {
	req := &SettlementRequest{
		Kind:       KindCloseThenRepayNative,
		Instrument: weth,
		Caller:     buyer,
		Quantity:   e18(7),
		Limit:      big.NewInt(123),
	}
	decoded, err := RequestFromBytes(req.ToBytes())
	require.NoError(t, err)
	require.Equal(t, req, decoded)

	_, err = RequestFromBytes(nil)
	require.ErrorIs(t, err, ErrBadRequest)
	_, err = RequestFromBytes(make([]byte, requestSize-1))
	require.ErrorIs(t, err, ErrBadRequest)

	bad := req.ToBytes()
	bad[0] = 0xff
	_, err = RequestFromBytes(bad)
	require.ErrorIs(t, err, ErrBadRequest)
}

func TestCloseFlashLongDeficitChargedToCaller(t *testing.T) {
	// With quote=1000e18 the pool prices shorts far above the strike
	// ratio, so closing releases less underlying than the borrow costs.
	f := newFixture(t, weth, e18(1000))
	qty := big.NewInt(1e17)

	_, err := f.engine.OpenFlashLong(buyer, f.in.Address, qty, big.NewInt(0), testNow+60)
	require.NoError(t, err)

	shortQty := f.in.Params.ShortFromLong(qty)
	r0 := f.ledger.BalanceOf(f.in.ShortToken, f.pool.PairAddress())
	r1 := f.ledger.BalanceOf(f.in.Params.Underlying, f.pool.PairAddress())
	payout, deficit, err := ClosePremium(f.in.Params, r0, r1, shortQty)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(0), payout)
	require.True(t, deficit.Sign() > 0)

	require.NoError(t, f.ledger.Mint(weth, buyer, e18(2)))
	require.NoError(t, f.ledger.Approve(weth, buyer, f.relay.Address, e18(2)))
	require.NoError(t, f.ledger.Approve(f.in.LongToken, buyer, f.relay.Address, qty))

	// A positive minimum refuses the deficit outright.
	_, err = f.engine.CloseFlashLong(buyer, f.in.Address, shortQty, big.NewInt(1), testNow+60)
	require.ErrorIs(t, err, ErrPayoutBelowMinimum)

	before := f.ledger.BalanceOf(weth, buyer)
	res, err := f.engine.CloseFlashLong(buyer, f.in.Address, shortQty, big.NewInt(0), testNow+60)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(0), res.PayoutPaid)
	require.Equal(t, deficit, res.DeficitCharged)

	charged := new(big.Int).Sub(before, f.ledger.BalanceOf(weth, buyer))
	require.Equal(t, deficit, charged)
	f.requireEngineClean(t)
}

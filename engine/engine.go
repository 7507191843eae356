// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"

	"github.com/primitivefinance/v1-connectors-sub000/connector"
	"github.com/primitivefinance/v1-connectors-sub000/option"
	"github.com/primitivefinance/v1-connectors-sub000/pair"
	"github.com/primitivefinance/v1-connectors-sub000/token"
)

// Config wires the engine to its collaborators.
type Config struct {
	Ledger  *token.Ledger
	Options *option.Factory
	Pairs   *pair.Factory
	Relay   *connector.CustodyRelay
	Native  *connector.NativeAdapter

	// Now supplies the settlement clock. Defaults to wall time.
	Now func() uint64
	Log log.Logger
}

func (c Config) validate() error {
	if c.Ledger == nil || c.Options == nil || c.Pairs == nil || c.Relay == nil || c.Native == nil {
		return errors.New("engine config missing collaborator")
	}
	return nil
}

// Engine initiates flash borrows against liquidity pairs and settles them
// in the swap callback. One engine instance serves one ledger.
type Engine struct {
	Address common.Address

	ledger  *token.Ledger
	options *option.Factory
	pairs   *pair.Factory
	relay   *connector.CustodyRelay
	native  *connector.NativeAdapter
	now     func() uint64
	log     log.Logger

	mu       sync.Mutex
	locked   bool
	inFlight common.Address
	status   Status
	pending  *Result
}

// NewEngine creates an engine at addr and registers it as the flash-swap
// callee for that address.
func NewEngine(addr common.Address, cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Now == nil {
		cfg.Now = func() uint64 { return uint64(time.Now().Unix()) }
	}
	if cfg.Log == nil {
		cfg.Log = log.NewTestLogger(log.InfoLevel)
	}

	e := &Engine{
		Address: addr,
		ledger:  cfg.Ledger,
		options: cfg.Options,
		pairs:   cfg.Pairs,
		relay:   cfg.Relay,
		native:  cfg.Native,
		now:     cfg.Now,
		log:     cfg.Log,
		status:  StatusActive,
	}
	cfg.Pairs.RegisterCallee(addr, e)
	return e, nil
}

// Status returns the engine's administrative state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// SetStatus flips the administrative halt switch. Halting blocks new
// settlements; it does not touch state already committed.
func (e *Engine) SetStatus(s Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = s
}

// OpenFlashLong buys a long position of qty underlying. The underlying is
// flash-borrowed from the instrument's pair; the caller pays at most
// maxPremium of underlying through the custody relay.
func (e *Engine) OpenFlashLong(caller, instrument common.Address, qty, maxPremium *big.Int, deadline uint64) (*Result, error) {
	return e.settle(KindMintThenRepay, caller, instrument, qty, maxPremium, deadline)
}

// OpenFlashLongNative is OpenFlashLong with the premium pulled in the
// native asset and wrapped on the way to the pair. The instrument's
// underlying must be the wrapped native token.
func (e *Engine) OpenFlashLongNative(caller, instrument common.Address, qty, maxPremium *big.Int, deadline uint64) (*Result, error) {
	return e.settle(KindMintThenRepayNative, caller, instrument, qty, maxPremium, deadline)
}

// CloseFlashLong unwinds a position by flash-borrowing shortQty short
// tokens, pulling the matching longs from the caller, and closing them
// against the instrument. The caller receives at least minPayout of
// underlying, or the call fails.
func (e *Engine) CloseFlashLong(caller, instrument common.Address, shortQty, minPayout *big.Int, deadline uint64) (*Result, error) {
	return e.settle(KindCloseThenRepay, caller, instrument, shortQty, minPayout, deadline)
}

// CloseFlashLongNative is CloseFlashLong with the payout unwrapped to the
// native asset.
func (e *Engine) CloseFlashLongNative(caller, instrument common.Address, shortQty, minPayout *big.Int, deadline uint64) (*Result, error) {
	return e.settle(KindCloseThenRepayNative, caller, instrument, shortQty, minPayout, deadline)
}

// settle runs the shared entry path: guards, snapshot, flash borrow.
func (e *Engine) settle(kind RequestKind, caller, instrument common.Address, qty, limit *big.Int, deadline uint64) (*Result, error) {
	if e.Status() == StatusHalted {
		return nil, ErrEngineHalted
	}
	if e.now() > deadline {
		return nil, ErrDeadlineExpired
	}
	if qty == nil || qty.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if limit == nil {
		limit = big.NewInt(0)
	}
	if !e.options.IsRegistered(instrument) {
		return nil, ErrInvalidInstrument
	}
	in, err := e.options.Get(instrument)
	if err != nil {
		return nil, ErrInvalidInstrument
	}
	if (kind == KindMintThenRepayNative || kind == KindCloseThenRepayNative) && in.Params.Underlying != e.native.Wrapped {
		return nil, ErrNativeMismatch
	}

	p, err := e.pairs.GetPair(in.ShortToken, in.Params.Underlying)
	if err != nil {
		return nil, err
	}

	// Open borrows underlying; close borrows short tokens.
	borrowToken := in.Params.Underlying
	if kind == KindCloseThenRepay || kind == KindCloseThenRepayNative {
		borrowToken = in.ShortToken
	}
	amount0Out, amount1Out := big.NewInt(0), big.NewInt(0)
	if p.Token0() == borrowToken {
		amount0Out = qty
	} else {
		amount1Out = qty
	}

	req := &SettlementRequest{
		Kind:       kind,
		Instrument: instrument,
		Caller:     caller,
		Quantity:   qty,
		Limit:      limit,
	}

	snap := e.ledger.Snapshot()
	e.setPending(nil)
	// Record which pair the engine is borrowing from. The callback only
	// settles borrows it can match against this record, so a swap forged by
	// a third party naming the engine as initiator is rejected.
	e.mu.Lock()
	e.inFlight = p.PairAddress()
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.inFlight = common.Address{}
		e.mu.Unlock()
	}()
	if err := p.Swap(e.ledger, e.Address, amount0Out, amount1Out, e.Address, req.ToBytes()); err != nil {
		e.ledger.RevertToSnapshot(snap)
		return nil, err
	}
	result := e.takePending()
	if result == nil {
		e.ledger.RevertToSnapshot(snap)
		return nil, ErrEmptySettlement
	}
	e.ledger.DiscardSnapshot(snap)

	e.log.Info("flash settlement committed",
		"kind", uint8(kind),
		"instrument", instrument,
		"caller", caller,
		"quantity", qty,
	)
	return result, nil
}

func (e *Engine) setPending(r *Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = r
}

func (e *Engine) takePending() *Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := e.pending
	e.pending = nil
	return r
}

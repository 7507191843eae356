// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package token

import (
	"math/big"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
)

// balanceKey identifies one holder's balance of one token.
type balanceKey struct {
	Token  common.Address
	Holder common.Address
}

// allowanceKey identifies one spender's allowance from one owner.
type allowanceKey struct {
	Token   common.Address
	Owner   common.Address
	Spender common.Address
}

// journalEntry records the previous value of a single ledger slot so a
// snapshot revert can restore it. A nil prev means the slot did not exist.
// An entry with undo set restores collaborator state instead of a slot.
type journalEntry struct {
	isAllowance bool
	bal         balanceKey
	allow       allowanceKey
	prev        *uint256.Int
	undo        func()
}

// Ledger tracks fungible-token balances and allowances for every account.
// All amounts are non-negative 256-bit integers; public APIs take *big.Int
// and convert at the boundary.
//
// Every mutation is journaled. Snapshot returns a checkpoint that
// RevertToSnapshot restores exactly, which is what makes a multi-step
// settlement all-or-nothing.
type Ledger struct {
	mu sync.RWMutex

	balances   map[balanceKey]*uint256.Int
	allowances map[allowanceKey]*uint256.Int

	journal   []journalEntry
	snapshots []int
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances:   make(map[balanceKey]*uint256.Int),
		allowances: make(map[allowanceKey]*uint256.Int),
		journal:    make([]journalEntry, 0),
		snapshots:  make([]int, 0),
	}
}

// toU256 converts a public *big.Int amount, rejecting nil, negatives and
// values over 256 bits.
func toU256(amount *big.Int) (*uint256.Int, error) {
	if amount == nil {
		return uint256.NewInt(0), nil
	}
	if amount.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	u, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrAmountOverflow
	}
	return u, nil
}

// BalanceOf returns the holder's balance of token.
func (l *Ledger) BalanceOf(tok, holder common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if bal, ok := l.balances[balanceKey{tok, holder}]; ok {
		return bal.ToBig()
	}
	return big.NewInt(0)
}

// Allowance returns what spender may still pull from owner.
func (l *Ledger) Allowance(tok, owner, spender common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if a, ok := l.allowances[allowanceKey{tok, owner, spender}]; ok {
		return a.ToBig()
	}
	return big.NewInt(0)
}

// Mint credits holder with amount of token.
func (l *Ledger) Mint(tok, holder common.Address, amount *big.Int) error {
	amt, err := toU256(amount)
	if err != nil {
		return err
	}
	if amt.IsZero() {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := balanceKey{tok, holder}
	cur := l.getBalance(key)
	l.setBalance(key, new(uint256.Int).Add(cur, amt))
	return nil
}

// Burn debits holder by amount of token.
func (l *Ledger) Burn(tok, holder common.Address, amount *big.Int) error {
	amt, err := toU256(amount)
	if err != nil {
		return err
	}
	if amt.IsZero() {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := balanceKey{tok, holder}
	cur := l.getBalance(key)
	if cur.Lt(amt) {
		return ErrInsufficientBalance
	}
	l.setBalance(key, new(uint256.Int).Sub(cur, amt))
	return nil
}

// Transfer moves amount of token from one holder to another. Zero-amount
// transfers are no-ops, matching ERC20 semantics.
func (l *Ledger) Transfer(tok, from, to common.Address, amount *big.Int) error {
	amt, err := toU256(amount)
	if err != nil {
		return err
	}
	if amt.IsZero() {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	fromKey := balanceKey{tok, from}
	cur := l.getBalance(fromKey)
	if cur.Lt(amt) {
		return ErrInsufficientBalance
	}
	l.setBalance(fromKey, new(uint256.Int).Sub(cur, amt))

	toKey := balanceKey{tok, to}
	l.setBalance(toKey, new(uint256.Int).Add(l.getBalance(toKey), amt))
	return nil
}

// Approve sets spender's allowance over owner's token balance.
func (l *Ledger) Approve(tok, owner, spender common.Address, amount *big.Int) error {
	amt, err := toU256(amount)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.setAllowance(allowanceKey{tok, owner, spender}, amt)
	return nil
}

// TransferFrom moves amount of token from owner to receiver on behalf of
// spender, consuming allowance.
func (l *Ledger) TransferFrom(tok, owner, receiver, spender common.Address, amount *big.Int) error {
	amt, err := toU256(amount)
	if err != nil {
		return err
	}
	if amt.IsZero() {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	aKey := allowanceKey{tok, owner, spender}
	allowed := l.getAllowance(aKey)
	if allowed.Lt(amt) {
		return ErrInsufficientAllowance
	}

	fromKey := balanceKey{tok, owner}
	cur := l.getBalance(fromKey)
	if cur.Lt(amt) {
		return ErrInsufficientBalance
	}

	l.setAllowance(aKey, new(uint256.Int).Sub(allowed, amt))
	l.setBalance(fromKey, new(uint256.Int).Sub(cur, amt))

	toKey := balanceKey{tok, receiver}
	l.setBalance(toKey, new(uint256.Int).Add(l.getBalance(toKey), amt))
	return nil
}

// JournalUndo records fn in the journal so a snapshot revert runs it.
// Collaborators that cache derived state alongside ledger balances use
// this to keep their caches inside the same rollback unit. fn runs with
// the ledger lock held and must not call back into the ledger.
func (l *Ledger) JournalUndo(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.journal = append(l.journal, journalEntry{undo: fn})
}

// Snapshot returns an identifier for the current ledger state.
func (l *Ledger) Snapshot() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := len(l.snapshots)
	l.snapshots = append(l.snapshots, len(l.journal))
	return id
}

// RevertToSnapshot restores the ledger to the state captured by Snapshot,
// discarding that snapshot and any taken after it.
func (l *Ledger) RevertToSnapshot(id int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if id < 0 || id >= len(l.snapshots) {
		return ErrInvalidSnapshot
	}
	mark := l.snapshots[id]

	for i := len(l.journal) - 1; i >= mark; i-- {
		e := l.journal[i]
		if e.undo != nil {
			e.undo()
			continue
		}
		if e.isAllowance {
			if e.prev == nil {
				delete(l.allowances, e.allow)
			} else {
				l.allowances[e.allow] = e.prev
			}
		} else {
			if e.prev == nil {
				delete(l.balances, e.bal)
			} else {
				l.balances[e.bal] = e.prev
			}
		}
	}
	l.journal = l.journal[:mark]
	l.snapshots = l.snapshots[:id]
	return nil
}

// DiscardSnapshot drops a snapshot without reverting, keeping the changes.
func (l *Ledger) DiscardSnapshot(id int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if id < 0 || id >= len(l.snapshots) {
		return ErrInvalidSnapshot
	}
	l.snapshots = l.snapshots[:id]
	return nil
}

// getBalance reads a balance slot without copying. Callers hold the lock.
func (l *Ledger) getBalance(key balanceKey) *uint256.Int {
	if bal, ok := l.balances[key]; ok {
		return bal
	}
	return uint256.NewInt(0)
}

func (l *Ledger) setBalance(key balanceKey, val *uint256.Int) {
	prev, existed := l.balances[key]
	if !existed {
		prev = nil
	}
	l.journal = append(l.journal, journalEntry{bal: key, prev: prev})
	l.balances[key] = val
}

func (l *Ledger) getAllowance(key allowanceKey) *uint256.Int {
	if a, ok := l.allowances[key]; ok {
		return a
	}
	return uint256.NewInt(0)
}

func (l *Ledger) setAllowance(key allowanceKey, val *uint256.Int) {
	prev, existed := l.allowances[key]
	if !existed {
		prev = nil
	}
	l.journal = append(l.journal, journalEntry{isAllowance: true, allow: key, prev: prev})
	l.allowances[key] = val
}

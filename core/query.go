package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"fluxpay/core/events"
	"fluxpay/core/state"
	"fluxpay/core/types"
	"fluxpay/crypto"
	"fluxpay/native/allowance"
	"fluxpay/storage"
)

// Reads take the ledger lock as well: the underlying trie caches resolved
// nodes on lookup and is not safe for concurrent use.

// ProgramID returns the allowance program address.
func (l *Ledger) ProgramID() crypto.Address {
	return l.cfg.ProgramID
}

// Now returns the ledger clock in unix seconds.
func (l *Ledger) Now() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nowFn()
}

// Deposit returns the storage deposit charged when an allowance is created.
func (l *Ledger) Deposit() (uint64, error) {
	return l.cfg.Rent.MinimumBalance(allowance.Space)
}

// DeriveAllowanceAddress returns the allowance address and bump for a pair.
func (l *Ledger) DeriveAllowanceAddress(giver, recipient crypto.Address) (crypto.Address, uint8, error) {
	return crypto.FindProgramAddress(allowance.Seeds(giver, recipient), l.cfg.ProgramID)
}

// Account returns the account stored at addr.
func (l *Ledger) Account(addr crypto.Address) (*types.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return state.NewManager(l.trie).GetAccount(addr)
}

// Balance returns the lamports held at addr.
func (l *Ledger) Balance(addr crypto.Address) (uint64, error) {
	acc, err := l.Account(addr)
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

// Allowance returns the record stored at addr along with its custody balance.
// Missing records fail with AccountNotFound.
func (l *Ledger) Allowance(addr crypto.Address) (*AllowanceView, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	manager := state.NewManager(l.trie)
	record, err := l.newEngine(manager, events.NoopEmitter{}, l.nowFn()).Get(addr)
	if err != nil {
		return nil, err
	}
	custody, err := manager.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return &AllowanceView{Address: addr, Record: record, Balance: custody.Balance}, nil
}

// AllowanceFor looks up the allowance for a giver/recipient pair.
func (l *Ledger) AllowanceFor(giver, recipient crypto.Address) (*AllowanceView, error) {
	addr, _, err := l.DeriveAllowanceAddress(giver, recipient)
	if err != nil {
		return nil, err
	}
	return l.Allowance(addr)
}

// Receipt returns the receipt stored for a committed transaction hash.
func (l *Ledger) Receipt(hash common.Hash) (*types.Receipt, error) {
	raw, err := l.db.Get(receiptKey(hash))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrReceiptNotFound
	}
	if err != nil {
		return nil, err
	}
	receipt := new(types.Receipt)
	if err := json.Unmarshal(raw, receipt); err != nil {
		return nil, fmt.Errorf("ledger: decode receipt: %w", err)
	}
	return receipt, nil
}

// Status reports the committed head.
func (l *Ledger) Status() (*Status, error) {
	deposit, err := l.Deposit()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	supply, err := state.NewManager(l.trie).Supply()
	if err != nil {
		return nil, err
	}
	return &Status{
		Network:          l.cfg.Network,
		Height:           l.head.Height,
		StateRoot:        l.trie.Hash(),
		ProgramID:        l.cfg.ProgramID,
		Supply:           supply,
		AllowanceDeposit: deposit,
		LastCommit:       int64(l.head.Time),
	}, nil
}

func parseUint(v string) (uint64, error) {
	return strconv.ParseUint(v, 10, 64)
}

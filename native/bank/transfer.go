package bank

import (
	"math/bits"

	"fluxpay/core/types"
	"fluxpay/crypto"
	"fluxpay/native/common"
)

// AccountState is the slice of the state manager that value movements need.
type AccountState interface {
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
}

// Transfer moves amount lamports from one account to another. Zero amounts and
// self transfers are no-ops. A short balance fails with InsufficientFunds and
// leaves both accounts untouched.
func Transfer(state AccountState, from, to crypto.Address, amount uint64) error {
	if from == to || amount == 0 {
		return nil
	}
	src, err := state.GetAccount(from)
	if err != nil {
		return err
	}
	dst, err := state.GetAccount(to)
	if err != nil {
		return err
	}
	remaining, borrow := bits.Sub64(src.Balance, amount, 0)
	if borrow != 0 {
		return common.ErrInsufficientFunds.Wrap("%s holds %d, needs %d", from, src.Balance, amount)
	}
	credited, carry := bits.Add64(dst.Balance, amount, 0)
	if carry != 0 {
		return common.ErrInsufficientFunds.Wrap("balance of %s would overflow", to)
	}
	src.Balance = remaining
	dst.Balance = credited
	if err := state.PutAccount(from, src); err != nil {
		return err
	}
	return state.PutAccount(to, dst)
}

// Credit mints amount lamports into an account. It backs genesis allocations
// and the development faucet.
func Credit(state AccountState, to crypto.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	acc, err := state.GetAccount(to)
	if err != nil {
		return err
	}
	credited, carry := bits.Add64(acc.Balance, amount, 0)
	if carry != 0 {
		return common.ErrInsufficientFunds.Wrap("balance of %s would overflow", to)
	}
	acc.Balance = credited
	return state.PutAccount(to, acc)
}

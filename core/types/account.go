package types

// Account is the native balance and replay counter kept for every address.
// Allowance custody addresses hold their lamports in an Account as well.
type Account struct {
	Nonce   uint64 `json:"nonce"`
	Balance uint64 `json:"balance"`
}

// IsEmpty reports whether the account carries no state worth persisting.
func (a *Account) IsEmpty() bool {
	return a == nil || (a.Nonce == 0 && a.Balance == 0)
}

package genesis

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"fluxpay/crypto"
)

// Allocation credits Balance lamports to Address when the ledger is first
// initialised.
type Allocation struct {
	Address string `yaml:"address"`
	Balance uint64 `yaml:"balance"`
}

// Spec describes the initial ledger state.
type Spec struct {
	Network     string       `yaml:"network"`
	Allocations []Allocation `yaml:"allocations"`
}

// Account is a parsed allocation.
type Account struct {
	Address crypto.Address
	Balance uint64
}

// Load reads a YAML genesis file.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML genesis document.
func Parse(data []byte) (*Spec, error) {
	spec := new(Spec)
	if err := yaml.Unmarshal(data, spec); err != nil {
		return nil, fmt.Errorf("decode genesis: %w", err)
	}
	return spec, nil
}

// Accounts validates the allocations and returns them in file order.
// Duplicate addresses and balance overflow are rejected.
func (s *Spec) Accounts() ([]Account, error) {
	if s == nil {
		return nil, errors.New("genesis: nil spec")
	}
	seen := make(map[crypto.Address]struct{}, len(s.Allocations))
	out := make([]Account, 0, len(s.Allocations))
	var total uint64
	for i, alloc := range s.Allocations {
		addr, err := crypto.ParseAddress(strings.TrimSpace(alloc.Address))
		if err != nil {
			return nil, fmt.Errorf("genesis: allocation %d: %w", i, err)
		}
		if _, dup := seen[addr]; dup {
			return nil, fmt.Errorf("genesis: duplicate allocation for %s", addr)
		}
		seen[addr] = struct{}{}
		if total+alloc.Balance < total {
			return nil, fmt.Errorf("genesis: total supply overflows")
		}
		total += alloc.Balance
		out = append(out, Account{Address: addr, Balance: alloc.Balance})
	}
	return out, nil
}

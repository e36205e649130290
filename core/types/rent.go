package types

import (
	"errors"
	"math/bits"
)

var ErrRentOverflow = errors.New("rent: minimum balance overflows")

// Rent prices account storage. An account holding at least MinimumBalance for
// its data length is exempt and never charged.
type Rent struct {
	LamportsPerByteYear     uint64 `toml:"LamportsPerByteYear" json:"lamportsPerByteYear"`
	ExemptionThresholdYears uint64 `toml:"ExemptionThresholdYears" json:"exemptionThresholdYears"`
	AccountStorageOverhead  uint64 `toml:"AccountStorageOverhead" json:"accountStorageOverhead"`
}

// DefaultRent mirrors the mainnet rent schedule.
func DefaultRent() Rent {
	return Rent{
		LamportsPerByteYear:     3480,
		ExemptionThresholdYears: 2,
		AccountStorageOverhead:  128,
	}
}

// MinimumBalance returns the rent-exempt balance for an account holding
// dataLen bytes.
func (r Rent) MinimumBalance(dataLen uint64) (uint64, error) {
	size, carry := bits.Add64(r.AccountStorageOverhead, dataLen, 0)
	if carry != 0 {
		return 0, ErrRentOverflow
	}
	hi, perYear := bits.Mul64(size, r.LamportsPerByteYear)
	if hi != 0 {
		return 0, ErrRentOverflow
	}
	hi, total := bits.Mul64(perYear, r.ExemptionThresholdYears)
	if hi != 0 {
		return 0, ErrRentOverflow
	}
	return total, nil
}

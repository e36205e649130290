package events

import (
	"strconv"

	"fluxpay/core/types"
	"fluxpay/crypto"
)

const (
	// TypeTransfer is emitted for native balance movements between accounts.
	TypeTransfer = "transfer.native"
	// TypeAirdrop is emitted when the development faucet mints value.
	TypeAirdrop = "transfer.airdrop"
)

type Transfer struct {
	From   crypto.Address
	To     crypto.Address
	Amount uint64
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	return &types.Event{Type: TypeTransfer, Attributes: map[string]string{
		"from":   e.From.String(),
		"to":     e.To.String(),
		"amount": strconv.FormatUint(e.Amount, 10),
	}}
}

type Airdrop struct {
	To     crypto.Address
	Amount uint64
}

func (Airdrop) EventType() string { return TypeAirdrop }

func (e Airdrop) Event() *types.Event {
	return &types.Event{Type: TypeAirdrop, Attributes: map[string]string{
		"to":     e.To.String(),
		"amount": strconv.FormatUint(e.Amount, 10),
	}}
}

package types

import (
	"github.com/ethereum/go-ethereum/common"

	"fluxpay/crypto"
)

// Receipt records the outcome of a committed transaction.
type Receipt struct {
	TxHash    common.Hash    `json:"txHash"`
	Height    uint64         `json:"height"`
	Type      TxType         `json:"type"`
	From      crypto.Address `json:"from"`
	To        crypto.Address `json:"to"`
	Amount    uint64         `json:"amount"`
	StateRoot common.Hash    `json:"stateRoot"`
	Timestamp int64          `json:"timestamp"`
	Events    []Event        `json:"events"`
}

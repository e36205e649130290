package types

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"

	"fluxpay/crypto"
)

// TxType defines the purpose of a transaction.
type TxType byte

const (
	TxTypeTransfer          TxType = 0x01 // Native value transfer, also used to fund an allowance
	TxTypeAllowanceCreate   TxType = 0x10 // Giver opens an allowance for To
	TxTypeAllowanceWithdraw TxType = 0x11 // Recipient pulls Amount from the allowance at To
	TxTypeAllowanceClose    TxType = 0x12 // Giver closes the allowance at To and reclaims custody
)

var (
	ErrMissingSignature = errors.New("transaction: missing signature")
	ErrInvalidSignature = errors.New("transaction: invalid signature")
	ErrUnknownType      = errors.New("transaction: unknown type")
)

func (t TxType) String() string {
	switch t {
	case TxTypeTransfer:
		return "transfer"
	case TxTypeAllowanceCreate:
		return "allowance_create"
	case TxTypeAllowanceWithdraw:
		return "allowance_withdraw"
	case TxTypeAllowanceClose:
		return "allowance_close"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(t))
	}
}

// Valid reports whether the type is one the ledger knows how to apply.
func (t TxType) Valid() bool {
	switch t {
	case TxTypeTransfer, TxTypeAllowanceCreate, TxTypeAllowanceWithdraw, TxTypeAllowanceClose:
		return true
	}
	return false
}

// Transaction is a signed instruction from From. The meaning of To, Amount and
// ExpiresAt depends on Type.
type Transaction struct {
	Type      TxType         `json:"type"`
	Nonce     uint64         `json:"nonce"`
	From      crypto.Address `json:"from"`
	To        crypto.Address `json:"to"`
	Amount    uint64         `json:"amount"`
	ExpiresAt int64          `json:"expiresAt,omitempty"`
	Signature []byte         `json:"signature,omitempty"`
}

type signingPayload struct {
	Type      uint8
	Nonce     uint64
	From      crypto.Address
	To        crypto.Address
	Amount    uint64
	ExpiresAt uint64
}

// SigningPayload returns the RLP encoding of every field except the signature.
// RLP has no signed integers, so ExpiresAt is encoded through its two's
// complement bit pattern.
func (tx *Transaction) SigningPayload() ([]byte, error) {
	return rlp.EncodeToBytes(signingPayload{
		Type:      uint8(tx.Type),
		Nonce:     tx.Nonce,
		From:      tx.From,
		To:        tx.To,
		Amount:    tx.Amount,
		ExpiresAt: uint64(tx.ExpiresAt),
	})
}

// Hash identifies a signed transaction: blake3 over the payload and signature.
func (tx *Transaction) Hash() (common.Hash, error) {
	payload, err := tx.SigningPayload()
	if err != nil {
		return common.Hash{}, err
	}
	buf := make([]byte, 0, len(payload)+len(tx.Signature))
	buf = append(buf, payload...)
	buf = append(buf, tx.Signature...)
	return common.Hash(blake3.Sum256(buf)), nil
}

// Sign sets From to the key's address and signs the payload.
func (tx *Transaction) Sign(key *crypto.PrivateKey) error {
	if key == nil {
		return errors.New("transaction: nil signing key")
	}
	tx.From = key.PubKey().Address()
	payload, err := tx.SigningPayload()
	if err != nil {
		return err
	}
	tx.Signature = key.Sign(payload)
	return nil
}

// Verify checks the type and that Signature was produced by From.
func (tx *Transaction) Verify() error {
	if !tx.Type.Valid() {
		return fmt.Errorf("%w: 0x%02x", ErrUnknownType, byte(tx.Type))
	}
	if len(tx.Signature) == 0 {
		return ErrMissingSignature
	}
	payload, err := tx.SigningPayload()
	if err != nil {
		return err
	}
	if !crypto.Verify(tx.From, payload, tx.Signature) {
		return ErrInvalidSignature
	}
	return nil
}

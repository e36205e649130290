package rpc

import (
	"errors"
	"net/http"

	"fluxpay/core"
	"fluxpay/core/types"
	"fluxpay/crypto"
	"fluxpay/indexer"
	nativecommon "fluxpay/native/common"
)

// ReceiptResult reflects a committed transaction.
type ReceiptResult struct {
	TxHash    string        `json:"txHash"`
	Height    uint64        `json:"height"`
	Type      string        `json:"type"`
	From      string        `json:"from,omitempty"`
	To        string        `json:"to,omitempty"`
	Amount    uint64        `json:"amount"`
	StateRoot string        `json:"stateRoot"`
	Timestamp int64         `json:"timestamp"`
	Events    []types.Event `json:"events"`
}

// BalanceResult is returned by flux_getBalance.
type BalanceResult struct {
	Address string `json:"address"`
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

// AllowanceResult is an allowance record with its custody balance.
type AllowanceResult struct {
	Address   string `json:"address"`
	Giver     string `json:"giver"`
	Recipient string `json:"recipient"`
	Total     uint64 `json:"total"`
	Withdrawn uint64 `json:"withdrawn"`
	Remaining uint64 `json:"remaining"`
	ExpiresAt int64  `json:"expiresAt"`
	Expired   bool   `json:"expired"`
	Bump      uint8  `json:"bump"`
	Balance   uint64 `json:"balance"`
}

// DeriveResult is the derived allowance address for a pair.
type DeriveResult struct {
	Address string `json:"address"`
	Bump    uint8  `json:"bump"`
}

// IndexedAllowanceResult is an entry of the allowance read model.
type IndexedAllowanceResult struct {
	Address   string `json:"address"`
	Giver     string `json:"giver"`
	Recipient string `json:"recipient"`
	Total     uint64 `json:"total"`
	Withdrawn uint64 `json:"withdrawn"`
	ExpiresAt int64  `json:"expiresAt"`
	Bump      uint8  `json:"bump"`
	Status    string `json:"status"`
	Reclaimed uint64 `json:"reclaimed,omitempty"`
	UpdatedAt int64  `json:"updatedAt"`
}

// ActivityResult is one indexed allowance event, newest first.
type ActivityResult struct {
	EventType string `json:"eventType"`
	Amount    uint64 `json:"amount"`
	Withdrawn uint64 `json:"withdrawn"`
	Timestamp int64  `json:"timestamp"`
}

// ProgramErrorData is attached to program errors so clients can match on the
// stable name and numeric code.
type ProgramErrorData struct {
	Name string `json:"name"`
	Code uint32 `json:"code"`
}

func receiptResult(r *types.Receipt) ReceiptResult {
	out := ReceiptResult{
		TxHash:    r.TxHash.Hex(),
		Height:    r.Height,
		Type:      r.Type.String(),
		Amount:    r.Amount,
		StateRoot: r.StateRoot.Hex(),
		Timestamp: r.Timestamp,
		Events:    r.Events,
	}
	if r.Type == 0 {
		out.Type = "airdrop"
	}
	if !r.From.IsZero() {
		out.From = r.From.String()
	}
	if !r.To.IsZero() {
		out.To = r.To.String()
	}
	if out.Events == nil {
		out.Events = []types.Event{}
	}
	return out
}

func allowanceResult(view *core.AllowanceView, now int64) AllowanceResult {
	record := view.Record
	return AllowanceResult{
		Address:   view.Address.String(),
		Giver:     record.Giver.String(),
		Recipient: record.Recipient.String(),
		Total:     record.Total,
		Withdrawn: record.Withdrawn,
		Remaining: record.Remaining(),
		ExpiresAt: record.ExpiresAt,
		Expired:   record.Expired(now),
		Bump:      record.Bump,
		Balance:   view.Balance,
	}
}

func indexedResults(records []indexer.Allowance) []IndexedAllowanceResult {
	out := make([]IndexedAllowanceResult, 0, len(records))
	for _, record := range records {
		out = append(out, IndexedAllowanceResult{
			Address:   record.Address,
			Giver:     record.Giver,
			Recipient: record.Recipient,
			Total:     uint64(record.Total),
			Withdrawn: uint64(record.Withdrawn),
			ExpiresAt: record.ExpiresAt,
			Bump:      record.Bump,
			Status:    string(record.Status),
			Reclaimed: uint64(record.Reclaimed),
			UpdatedAt: record.UpdatedAt.Unix(),
		})
	}
	return out
}

func activityResults(entries []indexer.Activity) []ActivityResult {
	out := make([]ActivityResult, 0, len(entries))
	for _, entry := range entries {
		out = append(out, ActivityResult{
			EventType: entry.EventType,
			Amount:    uint64(entry.Amount),
			Withdrawn: uint64(entry.Withdrawn),
			Timestamp: entry.CreatedAt.Unix(),
		})
	}
	return out
}

// ledgerError maps ledger and program failures onto JSON-RPC errors.
func ledgerError(err error) *RPCError {
	var progErr *nativecommon.Error
	switch {
	case errors.As(err, &progErr):
		data := ProgramErrorData{Name: progErr.Name, Code: progErr.Code}
		if progErr.Is(nativecommon.ErrAccountNotFound) {
			return newError(http.StatusNotFound, codeNotFound, err.Error(), data)
		}
		return newError(http.StatusBadRequest, codeProgramError, err.Error(), data)
	case errors.Is(err, core.ErrReceiptNotFound):
		return newError(http.StatusNotFound, codeNotFound, err.Error(), nil)
	case errors.Is(err, core.ErrNonceMismatch):
		return newError(http.StatusConflict, codeNonceMismatch, err.Error(), nil)
	case errors.Is(err, nativecommon.ErrModulePaused):
		return newError(http.StatusServiceUnavailable, codeModulePaused, err.Error(), nil)
	case errors.Is(err, types.ErrInvalidSignature),
		errors.Is(err, types.ErrMissingSignature),
		errors.Is(err, types.ErrUnknownType),
		errors.Is(err, crypto.ErrTooManySeeds),
		errors.Is(err, crypto.ErrSeedTooLong):
		return invalidParams(err.Error(), nil)
	default:
		return newError(http.StatusInternalServerError, codeServerError, "internal error", err.Error())
	}
}

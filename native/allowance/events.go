package allowance

import (
	"strconv"

	"fluxpay/core/types"
	"fluxpay/crypto"
)

const (
	EventTypeAllowanceCreated   = "allowance.created"
	EventTypeAllowanceWithdrawn = "allowance.withdrawn"
	EventTypeAllowanceClosed    = "allowance.closed"
)

// NewCreatedEvent returns the canonical payload for a newly opened allowance.
// deposit is the storage deposit the giver paid into the address.
func NewCreatedEvent(addr crypto.Address, a *Allowance, deposit uint64) *types.Event {
	evt := newAllowanceEvent(EventTypeAllowanceCreated, addr, a)
	evt.Attributes["deposit"] = strconv.FormatUint(deposit, 10)
	return evt
}

// NewWithdrawnEvent is emitted for every non-zero withdrawal.
func NewWithdrawnEvent(addr crypto.Address, a *Allowance, amount uint64) *types.Event {
	evt := newAllowanceEvent(EventTypeAllowanceWithdrawn, addr, a)
	evt.Attributes["amount"] = strconv.FormatUint(amount, 10)
	return evt
}

// NewClosedEvent reports the final record and the lamports returned to the
// giver.
func NewClosedEvent(addr crypto.Address, a *Allowance, reclaimed uint64) *types.Event {
	evt := newAllowanceEvent(EventTypeAllowanceClosed, addr, a)
	evt.Attributes["reclaimed"] = strconv.FormatUint(reclaimed, 10)
	return evt
}

func newAllowanceEvent(eventType string, addr crypto.Address, a *Allowance) *types.Event {
	attrs := map[string]string{"address": addr.String()}
	if a != nil {
		attrs["giver"] = a.Giver.String()
		attrs["recipient"] = a.Recipient.String()
		attrs["total"] = strconv.FormatUint(a.Total, 10)
		attrs["withdrawn"] = strconv.FormatUint(a.Withdrawn, 10)
		attrs["expiresAt"] = strconv.FormatInt(a.ExpiresAt, 10)
		attrs["bump"] = strconv.FormatUint(uint64(a.Bump), 10)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
